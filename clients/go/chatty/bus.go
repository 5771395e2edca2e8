package chatty

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is an event bus bridge frame.
type Frame struct {
	Type    string          `json:"type"`
	Address string          `json:"address,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// ClientEvent is a relayed chat line.
type ClientEvent struct {
	RoomID      string `json:"roomID"`
	DisplayText string `json:"displayText"`
}

// BusConn is a websocket connection to the event bus bridge.
type BusConn struct {
	ws *websocket.Conn
}

// DialBus connects to the server's event bus bridge.
func (c *Client) DialBus() (*BusConn, error) {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/eventbus"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	return &BusConn{ws: ws}, nil
}

// Close closes the connection.
func (b *BusConn) Close() error {
	return b.ws.Close()
}

func (b *BusConn) publish(address string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.ws.WriteJSON(Frame{Type: "publish", Address: address, Body: body})
}

// Say posts a chat message. An empty roomID posts to the General room.
func (b *BusConn) Say(userID, roomID, text string) error {
	return b.publish("webchat.server", map[string]string{
		"userID": userID,
		"roomID": roomID,
		"text":   text,
	})
}

// Heartbeat marks userID present in roomID.
func (b *BusConn) Heartbeat(userID, roomID string) error {
	return b.publish("webchat.presence", map[string]string{
		"userID": userID,
		"roomID": roomID,
	})
}

// Register starts receiving frames published on address.
func (b *BusConn) Register(address string) error {
	return b.ws.WriteJSON(Frame{Type: "register", Address: address})
}

// Next waits up to timeout for the next frame. A zero timeout waits forever.
// After a timeout the connection is no longer usable.
func (b *BusConn) Next(timeout time.Duration) (*Frame, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := b.ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	var f Frame
	if err := b.ws.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Ping sends a ping frame. The bridge answers with a pong once every
// earlier frame on this connection has been handled.
func (b *BusConn) Ping() error {
	return b.ws.WriteJSON(Frame{Type: "ping"})
}

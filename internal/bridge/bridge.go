// Package bridge exposes part of the event bus to browsers over websockets.
// Clients exchange JSON frames: they send, publish, register and unregister
// on permitted addresses and receive "rec" frames for registered addresses.
package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatty/internal/eventbus"
	"github.com/eldtechnologies/chatty/internal/metrics"
)

// Frame types.
const (
	TypeSend       = "send"
	TypePublish    = "publish"
	TypeRegister   = "register"
	TypeUnregister = "unregister"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeRec        = "rec"
	TypeErr        = "err"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	subBuffer      = 64
)

// DefaultPermitted matches the addresses browsers may use in both directions.
var DefaultPermitted = regexp.MustCompile(`^webchat\.`)

var (
	errNotPermitted = errors.New("address not permitted")
	errUnknownType  = errors.New("unknown frame type")
)

// Frame is the unit exchanged with browsers.
type Frame struct {
	Type    string          `json:"type"`
	Address string          `json:"address,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Options configures a Bridge.
type Options struct {
	AllowedOrigins []string       // "*" allows any origin
	Permitted      *regexp.Regexp // defaults to DefaultPermitted
}

// Bridge upgrades HTTP requests to websocket bus connections.
type Bridge struct {
	bus       *eventbus.Bus
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
	permitted *regexp.Regexp
}

// New creates a bridge over bus.
func New(bus *eventbus.Bus, logger zerolog.Logger, opts Options) *Bridge {
	b := &Bridge{
		bus:       bus,
		logger:    logger.With().Str("component", "bridge").Logger(),
		permitted: opts.Permitted,
	}
	if b.permitted == nil {
		b.permitted = DefaultPermitted
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return b
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browsers whose origin is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeHTTP upgrades the connection and serves frames until it closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		b.logger.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		bridge: b,
		ws:     ws,
		subs:   make(map[string]*eventbus.Subscription),
		done:   make(chan struct{}),
		logger: b.logger.With().Str("remote_addr", r.RemoteAddr).Logger(),
	}

	metrics.BridgeConnections.Inc()
	defer metrics.BridgeConnections.Dec()

	c.logger.Debug().Msg("bridge connection opened")
	c.serve()
	c.logger.Debug().Msg("bridge connection closed")
}

// conn is one browser connection. subs is owned by the read loop.
type conn struct {
	bridge *Bridge
	ws     *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
	subs    map[string]*eventbus.Subscription
	wg      sync.WaitGroup
	done    chan struct{}
}

func (c *conn) serve() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.wg.Add(1)
	go c.keepalive()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("bridge read failed")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.writeError("malformed frame")
			continue
		}
		if err := c.handle(f); err != nil {
			c.writeError(err.Error() + ": " + f.Address)
		}
	}
}

func (c *conn) handle(f Frame) error {
	if f.Type == TypePing {
		return c.write(Frame{Type: TypePong})
	}
	if !c.bridge.permitted.MatchString(f.Address) {
		c.logger.Warn().Str("type", f.Type).Str("address", f.Address).Msg("rejected frame for address")
		return errNotPermitted
	}

	switch f.Type {
	case TypeSend, TypePublish:
		// Browser-reachable addresses are all publish/subscribe.
		c.bridge.bus.Publish(f.Address, inboundBody(f.Body))
	case TypeRegister:
		if _, ok := c.subs[f.Address]; ok {
			return nil
		}
		sub := c.bridge.bus.Subscribe(f.Address, subBuffer)
		c.subs[f.Address] = sub
		c.wg.Add(1)
		go c.forward(sub)
	case TypeUnregister:
		if sub, ok := c.subs[f.Address]; ok {
			sub.Close()
			delete(c.subs, f.Address)
		}
	default:
		return errUnknownType
	}
	return nil
}

// inboundBody unwraps bodies sent as JSON-encoded strings, which is how
// browser clients usually stringify their payloads.
func inboundBody(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}

// outboundBody embeds a bus payload in a frame, quoting non-JSON payloads.
func outboundBody(body []byte) json.RawMessage {
	if json.Valid(body) {
		return body
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func (c *conn) forward(sub *eventbus.Subscription) {
	defer c.wg.Done()
	for d := range sub.C() {
		err := c.write(Frame{Type: TypeRec, Address: d.Address, Body: outboundBody(d.Body)})
		if err != nil {
			return
		}
	}
}

func (c *conn) keepalive() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// write sends a frame guarded by the write mutex and write deadline.
func (c *conn) write(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) writeError(msg string) {
	body, _ := json.Marshal(msg)
	if err := c.write(Frame{Type: TypeErr, Body: body}); err != nil {
		c.logger.Debug().Err(err).Msg("writing error frame failed")
	}
}

func (c *conn) close() {
	close(c.done)
	for addr, sub := range c.subs {
		sub.Close()
		delete(c.subs, addr)
	}
	c.ws.Close()
	c.wg.Wait()
}

package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eldtechnologies/chatty/internal/envelope"
	"github.com/eldtechnologies/chatty/internal/models"
)

// Requester sends a request to an address and waits for the reply.
// *eventbus.Bus satisfies it.
type Requester interface {
	Request(ctx context.Context, address string, body []byte) ([]byte, error)
}

// Client issues typed queries to the data actor. Every call is bounded by
// the client's timeout in addition to the caller's context.
type Client struct {
	bus     Requester
	timeout time.Duration
}

// NewClient returns a client that talks to the actor over bus.
func NewClient(bus Requester, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{bus: bus, timeout: timeout}
}

// FindCreateUserByEmail returns the user for email, creating it if needed.
func (c *Client) FindCreateUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := c.mustFind(ctx, envelope.FindCreateUserByEmail{Email: email}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindCreateRoomByName returns the room named name, creating it if needed.
func (c *Client) FindCreateRoomByName(ctx context.Context, name string) (*models.Room, error) {
	var room models.Room
	if err := c.mustFind(ctx, envelope.FindCreateRoomByName{Name: name}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// FindUserByUUID returns nil, nil when no user has the uuid.
func (c *Client) FindUserByUUID(ctx context.Context, uuid string) (*models.User, error) {
	var user models.User
	found, err := c.do(ctx, envelope.FindUserByUUID{UUID: uuid}, &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

// FindRoomByUUID returns nil, nil when no room has the uuid. An empty uuid
// resolves to the General room.
func (c *Client) FindRoomByUUID(ctx context.Context, uuid string) (*models.Room, error) {
	if uuid == "" {
		general, err := c.GeneralRoomUUID(ctx)
		if err != nil {
			return nil, err
		}
		uuid = general
	}

	var room models.Room
	found, err := c.do(ctx, envelope.FindRoomByUUID{UUID: uuid}, &room)
	if err != nil || !found {
		return nil, err
	}
	return &room, nil
}

// RecordMessage stores a message. user and room must be non-nil and ts
// non-zero; violating this is a programming error and panics.
func (c *Client) RecordMessage(ctx context.Context, user *models.User, text string, ts time.Time, room *models.Room) (*models.Message, error) {
	if user == nil || room == nil || ts.IsZero() {
		panic("actor: RecordMessage requires user, room and timestamp")
	}

	var msg models.Message
	q := envelope.RecordMessage{User: user, MessageText: &text, TimeStamp: &ts, Room: room}
	if err := c.mustFind(ctx, q, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// FetchMessages returns the messages recorded for a room.
func (c *Client) FetchMessages(ctx context.Context, roomUUID string) ([]models.Message, error) {
	var res envelope.MessagesResult
	if err := c.mustFind(ctx, envelope.FetchMessages{RoomUUID: roomUUID}, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// FindRooms returns every room.
func (c *Client) FindRooms(ctx context.Context) ([]models.Room, error) {
	var res envelope.RoomsResult
	if err := c.mustFind(ctx, envelope.FindRooms{}, &res); err != nil {
		return nil, err
	}
	return res.Rooms, nil
}

// GeneralRoomUUID returns the uuid of the General room.
func (c *Client) GeneralRoomUUID(ctx context.Context) (string, error) {
	var res envelope.GeneralRoomResult
	if err := c.mustFind(ctx, envelope.GetGeneralRoomUUID{}, &res); err != nil {
		return "", err
	}
	return res.UUID, nil
}

var errEmptyResult = errors.New("actor: empty result")

func (c *Client) mustFind(ctx context.Context, q envelope.Query, v any) error {
	found, err := c.do(ctx, q, v)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", q.Type(), errEmptyResult)
	}
	return nil
}

func (c *Client) do(ctx context.Context, q envelope.Query, v any) (bool, error) {
	body, err := envelope.MarshalRequest(q)
	if err != nil {
		return false, fmt.Errorf("encoding %s: %w", q.Type(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.bus.Request(ctx, Address, body)
	if err != nil {
		return false, fmt.Errorf("%s: %w", q.Type(), err)
	}

	reply, err := envelope.ParseReply(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", q.Type(), err)
	}
	return reply.Decode(q.Type(), v)
}

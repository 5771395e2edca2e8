// Package actor implements the data actor: the single owner of persistent
// store access, reachable through typed request/reply messages on one bus
// address.
package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatty/internal/envelope"
	"github.com/eldtechnologies/chatty/internal/eventbus"
	"github.com/eldtechnologies/chatty/internal/ids"
	"github.com/eldtechnologies/chatty/internal/metrics"
	"github.com/eldtechnologies/chatty/internal/models"
	"github.com/eldtechnologies/chatty/internal/store"
)

// Address is the bus address the data actor consumes.
const Address = "data-store"

// ErrNotReady is returned when the General room has not been initialized.
var ErrNotReady = errors.New("actor: general room not initialized")

// Options configures an Actor.
type Options struct {
	GeneralRoomName string        // defaults to "General"
	StoreTimeout    time.Duration // per request; defaults to 5s
	Workers         int           // concurrent handlers; defaults to 8
}

func (o Options) withDefaults() Options {
	if o.GeneralRoomName == "" {
		o.GeneralRoomName = "General"
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	return o
}

// Actor dispatches queries against a DataStore.
type Actor struct {
	store  store.DataStore
	logger zerolog.Logger
	opts   Options

	// Written once by New, read-only afterwards.
	generalRoomUUID string

	wg sync.WaitGroup
}

// New initializes an actor. The General room is resolved (and created if
// needed) before New returns; an actor that fails this step is never built.
func New(ctx context.Context, ds store.DataStore, logger zerolog.Logger, opts Options) (*Actor, error) {
	a := &Actor{
		store:  ds,
		logger: logger.With().Str("component", "data-actor").Logger(),
		opts:   opts.withDefaults(),
	}

	initCtx, cancel := context.WithTimeout(ctx, a.opts.StoreTimeout)
	defer cancel()

	room, err := a.findCreateRoomByName(initCtx, a.opts.GeneralRoomName)
	if err != nil {
		return nil, fmt.Errorf("initializing %s room: %w", a.opts.GeneralRoomName, err)
	}
	a.generalRoomUUID = room.UUID

	a.logger.Info().
		Str("room", room.Name).
		Str("uuid", room.UUID).
		Msg("general room ready")
	return a, nil
}

// GeneralRoomUUID returns the cached uuid of the General room.
func (a *Actor) GeneralRoomUUID() string {
	return a.generalRoomUUID
}

// Start registers the actor as the consumer of Address and begins serving
// requests until ctx is done. The address is bound before Start returns.
func (a *Actor) Start(ctx context.Context, bus *eventbus.Bus) error {
	consumer, err := bus.Consume(Address, a.opts.Workers*4)
	if err != nil {
		return fmt.Errorf("binding %s: %w", Address, err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer consumer.Close()
		a.serve(ctx, consumer)
	}()

	a.logger.Info().Int("workers", a.opts.Workers).Msg("data actor consuming")
	return nil
}

// Wait blocks until the serve loop and all in-flight requests finish.
func (a *Actor) Wait() {
	a.wg.Wait()
}

func (a *Actor) serve(ctx context.Context, consumer *eventbus.Consumer) {
	sem := make(chan struct{}, a.opts.Workers)
	for {
		select {
		case <-ctx.Done():
			return
		case <-consumer.Done():
			return
		case d := <-consumer.C():
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				defer func() { <-sem }()
				d.Reply(a.HandleRaw(ctx, d.Body))
			}()
		}
	}
}

// HandleRaw answers a wire request with a wire reply. Malformed requests
// produce a failure reply.
func (a *Actor) HandleRaw(ctx context.Context, body []byte) []byte {
	var reply envelope.Reply
	q, err := envelope.ParseRequest(body)
	if err != nil {
		a.logger.Warn().Err(err).Msg("rejecting malformed request")
		metrics.ActorRequests.WithLabelValues("invalid", "failure").Inc()
		reply = envelope.Fail(err.Error())
	} else {
		reply = a.Handle(ctx, q)
	}

	data, err := json.Marshal(reply)
	if err != nil {
		data, _ = json.Marshal(envelope.Failf("encoding reply: %v", err))
	}
	return data
}

// Handle executes a query and returns its reply.
func (a *Actor) Handle(ctx context.Context, q envelope.Query) envelope.Reply {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.opts.StoreTimeout)
	defer cancel()

	var r envelope.Reply
	switch q := q.(type) {
	case envelope.FindCreateUserByEmail:
		r = reply(a.findCreateUserByEmail(ctx, q.Email))
	case envelope.FindCreateRoomByName:
		r = reply(a.findCreateRoomByName(ctx, q.Name))
	case envelope.FindUserByUUID:
		r = reply(a.store.FindUserByUUID(ctx, q.UUID))
	case envelope.FindRoomByUUID:
		r = reply(a.store.FindRoomByUUID(ctx, q.UUID))
	case envelope.RecordMessage:
		r = reply(a.recordMessage(ctx, q))
	case envelope.FetchMessages:
		r = reply(a.fetchMessages(ctx, q.RoomUUID))
	case envelope.FindRooms:
		r = reply(a.findRooms(ctx))
	case envelope.GetGeneralRoomUUID:
		r = reply(a.getGeneralRoomUUID())
	default:
		panic(fmt.Sprintf("actor: unhandled query %T", q))
	}

	outcome := "result"
	if r.Failure != nil {
		outcome = "failure"
		a.logger.Error().
			Str("type", string(q.Type())).
			Str("cause", r.Failure.Cause).
			Msg("query failed")
	}
	metrics.ActorRequests.WithLabelValues(string(q.Type()), outcome).Inc()
	metrics.ActorLatency.WithLabelValues(string(q.Type())).Observe(time.Since(start).Seconds())
	return r
}

func reply[T any](v T, err error) envelope.Reply {
	if err != nil {
		return envelope.Fail(err.Error())
	}
	r, err := envelope.Succeed(v)
	if err != nil {
		return envelope.Failf("encoding result: %v", err)
	}
	return r
}

// findCreateUserByEmail returns the user with the given email, creating it
// if absent. The store's unique email index settles concurrent creations:
// the losing insert is ignored and the stored user is returned.
func (a *Actor) findCreateUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := a.store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		a.logger.Trace().Str("email", email).Str("uuid", user.UUID).Msg("found user")
		return user, nil
	}

	user, err = a.store.InsertUser(ctx, models.User{UUID: ids.NewUUID(), Email: email})
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("email", email).Str("uuid", user.UUID).Msg("created user")
	return user, nil
}

// findCreateRoomByName returns the room with the given name, creating it if
// absent. Concurrent creations are settled by the unique name index.
func (a *Actor) findCreateRoomByName(ctx context.Context, name string) (*models.Room, error) {
	room, err := a.store.FindRoomByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if room != nil {
		a.logger.Trace().Str("name", name).Str("uuid", room.UUID).Msg("found room")
		return room, nil
	}

	room, err = a.store.InsertRoom(ctx, models.Room{UUID: ids.NewUUID(), Name: name})
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("name", name).Str("uuid", room.UUID).Msg("created room")
	return room, nil
}

// recordMessage stores a message whose author and room are re-read from the
// store, so a message never references an entity that does not exist.
func (a *Actor) recordMessage(ctx context.Context, q envelope.RecordMessage) (*models.Message, error) {
	author, err := a.store.FindUserByUUID(ctx, q.User.UUID)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, fmt.Errorf("no user found for %s", q.User.UUID)
	}
	room, err := a.store.FindRoomByUUID(ctx, q.Room.UUID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("no room found for %s", q.Room.UUID)
	}

	msg := models.Message{
		ID:        ids.NewMessageID(),
		Timestamp: q.TimeStamp.UTC(),
		Author:    *author,
		Room:      *room,
		Text:      *q.MessageText,
	}
	if err := a.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	a.logger.Trace().Str("id", msg.ID).Str("room", msg.Room.UUID).Msg("recorded message")
	return &msg, nil
}

func (a *Actor) fetchMessages(ctx context.Context, roomUUID string) (*envelope.MessagesResult, error) {
	room, err := a.store.FindRoomByUUID(ctx, roomUUID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("no room found for %s", roomUUID)
	}

	messages, err := a.store.ListMessagesByRoom(ctx, room.UUID)
	if err != nil {
		return nil, err
	}
	return &envelope.MessagesResult{Messages: messages}, nil
}

func (a *Actor) findRooms(ctx context.Context) (*envelope.RoomsResult, error) {
	rooms, err := a.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	return &envelope.RoomsResult{Rooms: rooms}, nil
}

func (a *Actor) getGeneralRoomUUID() (*envelope.GeneralRoomResult, error) {
	if a.generalRoomUUID == "" {
		return nil, ErrNotReady
	}
	return &envelope.GeneralRoomResult{UUID: a.generalRoomUUID}, nil
}

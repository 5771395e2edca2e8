// Package relay turns inbound chat events into recorded, broadcast messages.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/chatty/internal/eventbus"
	"github.com/eldtechnologies/chatty/internal/metrics"
	"github.com/eldtechnologies/chatty/internal/models"
)

// Bus addresses used by the relay.
const (
	InboundAddress  = "webchat.server"
	OutboundAddress = "webchat.client"
)

// DisplayTimeLayout renders timestamps as a short date and medium time,
// e.g. "3/9/24, 3:04:05 PM".
const DisplayTimeLayout = "1/2/06, 3:04:05 PM"

const inboundBuffer = 256

var (
	// ErrUnknownUser is returned when a chat event names no stored user.
	ErrUnknownUser = errors.New("relay: no such user")
	// ErrUnknownRoom is returned when a room id resolves to no stored room.
	ErrUnknownRoom = errors.New("relay: no such room")
)

// DataClient is the subset of the data actor client the relay needs.
// *actor.Client satisfies it.
type DataClient interface {
	FindUserByUUID(ctx context.Context, uuid string) (*models.User, error)
	FindRoomByUUID(ctx context.Context, uuid string) (*models.Room, error)
	RecordMessage(ctx context.Context, user *models.User, text string, ts time.Time, room *models.Room) (*models.Message, error)
	FetchMessages(ctx context.Context, roomUUID string) ([]models.Message, error)
}

// ChatEvent is an inbound chat message. An empty RoomID means the General room.
type ChatEvent struct {
	UserID string `json:"userID"`
	RoomID string `json:"roomID"`
	Text   string `json:"text"`
}

// ClientEvent is published on OutboundAddress for every recorded message.
type ClientEvent struct {
	RoomID      string `json:"roomID"`
	DisplayText string `json:"displayText"`
}

// HistoryRow is one formatted history entry: time, author email, text.
type HistoryRow [3]string

// Options configures a Relay.
type Options struct {
	Location *time.Location   // display time zone; defaults to time.Local
	Now      func() time.Time // clock; defaults to time.Now
}

// Relay sanitizes, records and broadcasts chat messages.
type Relay struct {
	data   DataClient
	bus    *eventbus.Bus
	policy *bluemonday.Policy
	logger zerolog.Logger
	loc    *time.Location
	now    func() time.Time
}

// New creates a relay.
func New(data DataClient, bus *eventbus.Bus, logger zerolog.Logger, opts Options) *Relay {
	r := &Relay{
		data:   data,
		bus:    bus,
		policy: NewPolicy(),
		logger: logger.With().Str("component", "relay").Logger(),
		loc:    opts.Location,
		now:    opts.Now,
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Run relays chat events published on InboundAddress until ctx is done.
// Events are handled in arrival order.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.bus.Subscribe(InboundAddress, inboundBuffer)
	defer sub.Close()

	r.logger.Info().Str("address", InboundAddress).Msg("relay running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-sub.C():
			if !ok {
				return eventbus.ErrClosed
			}
			var ev ChatEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				metrics.MessagesAbandoned.WithLabelValues("decode").Inc()
				r.logger.Warn().Err(err).Msg("discarding malformed chat event")
				continue
			}
			if _, err := r.Relay(ctx, ev); err != nil {
				r.logger.Error().Err(err).Str("user", ev.UserID).Str("room", ev.RoomID).Msg("chat message abandoned")
			}
		}
	}
}

// Sanitize strips text down to the allowed markup.
func (r *Relay) Sanitize(text string) string {
	return r.policy.Sanitize(text)
}

// Relay processes one chat event: sanitize, resolve author and room,
// record, then publish the display text. Nothing is published when any
// step fails.
func (r *Relay) Relay(ctx context.Context, ev ChatEvent) (*ClientEvent, error) {
	text := r.Sanitize(ev.Text)

	user, room, err := r.resolve(ctx, ev.UserID, ev.RoomID)
	if err != nil {
		metrics.MessagesAbandoned.WithLabelValues("resolve").Inc()
		return nil, err
	}

	msg, err := r.data.RecordMessage(ctx, user, text, r.now(), room)
	if err != nil {
		metrics.MessagesAbandoned.WithLabelValues("record").Inc()
		return nil, fmt.Errorf("recording message: %w", err)
	}

	out := ClientEvent{RoomID: room.UUID, DisplayText: r.FormatDisplay(*msg)}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	r.bus.Publish(OutboundAddress, body)
	metrics.MessagesRelayed.Inc()

	r.logger.Debug().Str("id", msg.ID).Str("room", room.UUID).Msg("relayed message")
	return &out, nil
}

// resolve looks up the author and the room concurrently.
func (r *Relay) resolve(ctx context.Context, userID, roomID string) (*models.User, *models.Room, error) {
	var (
		user *models.User
		room *models.Room
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := r.data.FindUserByUUID(ctx, userID)
		if err != nil {
			return fmt.Errorf("resolving user %s: %w", userID, err)
		}
		if u == nil {
			return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		rm, err := r.findRoom(ctx, roomID)
		if err != nil {
			return err
		}
		room = rm
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return user, room, nil
}

func (r *Relay) findRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := r.data.FindRoomByUUID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("resolving room %s: %w", roomID, err)
	}
	if room == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	return room, nil
}

// FormatDisplay renders a message for the chat window. The author's address
// is HTML-escaped in angle brackets.
func (r *Relay) FormatDisplay(msg models.Message) string {
	return fmt.Sprintf("%s &lt;%s&gt;: %s", r.formatTime(msg.Timestamp), msg.Author.Email, msg.Text)
}

// FormatPlain renders a message as a transcript line.
func (r *Relay) FormatPlain(msg models.Message) string {
	return fmt.Sprintf("%s <%s>: %s\n", r.formatTime(msg.Timestamp), msg.Author.Email, msg.Text)
}

func (r *Relay) formatTime(ts time.Time) string {
	return ts.In(r.loc).Format(DisplayTimeLayout)
}

// History returns a room's messages ordered by timestamp as display rows.
func (r *Relay) History(ctx context.Context, roomUUID string) ([]HistoryRow, error) {
	messages, err := r.messages(ctx, roomUUID)
	if err != nil {
		return nil, err
	}

	rows := make([]HistoryRow, 0, len(messages))
	for _, m := range messages {
		rows = append(rows, HistoryRow{r.formatTime(m.Timestamp), m.Author.Email, m.Text})
	}
	return rows, nil
}

// Transcript returns a room's messages ordered by timestamp as plain text.
func (r *Relay) Transcript(ctx context.Context, roomUUID string) (string, error) {
	messages, err := r.messages(ctx, roomUUID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, m := range messages {
		b.WriteString(r.FormatPlain(m))
	}
	return b.String(), nil
}

func (r *Relay) messages(ctx context.Context, roomUUID string) ([]models.Message, error) {
	room, err := r.findRoom(ctx, roomUUID)
	if err != nil {
		return nil, err
	}

	messages, err := r.data.FetchMessages(ctx, room.UUID)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	// Store order is not guaranteed to be chronological.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

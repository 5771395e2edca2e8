// Package presence tracks which users are present in which rooms. Presence
// is a TTL key per (user, room); a user stays present while heartbeats keep
// refreshing the key. The tracker periodically republishes full membership
// snapshots and the room directory.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/chatty/internal/eventbus"
	"github.com/eldtechnologies/chatty/internal/metrics"
	"github.com/eldtechnologies/chatty/internal/models"
	"github.com/eldtechnologies/chatty/internal/store"
)

// Bus addresses used by the tracker.
const (
	HeartbeatAddress = "webchat.presence"
	DirectoryAddress = "webchat.rooms"
	MembersPrefix    = "webchat.partakers."
)

// heartbeatBuffer bounds queued heartbeats; excess heartbeats are dropped
// and recovered by the next one from the same client.
const heartbeatBuffer = 256

// ErrInvalidHeartbeat is returned for heartbeats missing a user or room id, or
// whose user id contains the presence key separator.
var ErrInvalidHeartbeat = errors.New("presence: heartbeat requires userID and roomID")

// Cache is the ephemeral key space presence entries live in.
type Cache interface {
	Touch(ctx context.Context, userID, roomID string, ttl time.Duration) error
	LivePresence(ctx context.Context) ([]store.PresenceEntry, error)
}

// RoomLister lists every known room.
type RoomLister interface {
	FindRooms(ctx context.Context) ([]models.Room, error)
}

// Heartbeat is the inbound presence payload. The legacy form wraps the same
// fields as {"type": "update-presence", "params": {...}}.
type Heartbeat struct {
	UserID string     `json:"userID"`
	RoomID string     `json:"roomID"`
	Params *Heartbeat `json:"params,omitempty"`
}

// MembersEvent is published on MembersPrefix+roomID.
type MembersEvent struct {
	Users []string `json:"users"`
}

// DirectoryEvent is published on DirectoryAddress.
type DirectoryEvent struct {
	Rooms []models.Room `json:"rooms"`
}

// Options configures a Tracker.
type Options struct {
	TTL               time.Duration // presence key lifetime; defaults to 2s
	SweepInterval     time.Duration // defaults to 1s
	DirectoryInterval time.Duration // defaults to 1s
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 2 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Second
	}
	if o.DirectoryInterval <= 0 {
		o.DirectoryInterval = time.Second
	}
	return o
}

// Tracker ingests heartbeats and broadcasts membership and room snapshots.
type Tracker struct {
	cache  Cache
	rooms  RoomLister
	bus    *eventbus.Bus
	logger zerolog.Logger
	opts   Options
}

// NewTracker creates a tracker.
func NewTracker(cache Cache, rooms RoomLister, bus *eventbus.Bus, logger zerolog.Logger, opts Options) *Tracker {
	return &Tracker{
		cache:  cache,
		rooms:  rooms,
		bus:    bus,
		logger: logger.With().Str("component", "presence").Logger(),
		opts:   opts.withDefaults(),
	}
}

// Run ingests heartbeats and runs the sweep and directory tickers until ctx
// is done. The three loops are independent; a slow directory lookup never
// delays a sweep.
func (t *Tracker) Run(ctx context.Context) error {
	sub := t.bus.Subscribe(HeartbeatAddress, heartbeatBuffer)
	defer sub.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-sub.C():
				if !ok {
					return eventbus.ErrClosed
				}
				t.handleHeartbeat(ctx, d.Body)
			}
		}
	})
	g.Go(func() error {
		return every(ctx, t.opts.SweepInterval, func(ctx context.Context) {
			if _, err := t.Sweep(ctx); err != nil {
				t.logger.Error().Err(err).Msg("presence sweep failed")
			}
		})
	})
	g.Go(func() error {
		return every(ctx, t.opts.DirectoryInterval, func(ctx context.Context) {
			if err := t.BroadcastRooms(ctx); err != nil {
				t.logger.Error().Err(err).Msg("room directory broadcast failed")
			}
		})
	})

	t.logger.Info().
		Dur("ttl", t.opts.TTL).
		Dur("sweep_interval", t.opts.SweepInterval).
		Dur("directory_interval", t.opts.DirectoryInterval).
		Msg("presence tracker running")
	return g.Wait()
}

// every runs fn once per interval, each run bounded by the interval.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, interval)
			fn(tickCtx)
			cancel()
		}
	}
}

func (t *Tracker) handleHeartbeat(ctx context.Context, body []byte) {
	var hb Heartbeat
	if err := json.Unmarshal(body, &hb); err != nil {
		t.logger.Warn().Err(err).Msg("discarding malformed heartbeat")
		return
	}
	if hb.Params != nil {
		hb = *hb.Params
	}
	if err := t.Ingest(ctx, hb.UserID, hb.RoomID); err != nil {
		t.logger.Warn().Err(err).Str("user", hb.UserID).Str("room", hb.RoomID).Msg("heartbeat not recorded")
	}
}

// Ingest marks userID as present in roomID for the configured TTL.
func (t *Tracker) Ingest(ctx context.Context, userID, roomID string) error {
	if userID == "" || roomID == "" || strings.Contains(userID, ":") {
		return ErrInvalidHeartbeat
	}
	if err := t.cache.Touch(ctx, userID, roomID, t.opts.TTL); err != nil {
		return fmt.Errorf("touching presence key: %w", err)
	}
	metrics.Heartbeats.Inc()
	t.logger.Debug().Str("user", userID).Str("room", roomID).Msg("heartbeat")
	return nil
}

// Sweep recomputes room membership from the live presence keys and publishes
// the full member list of every room with at least one member. Rooms without
// members are not announced. It returns the published snapshot.
func (t *Tracker) Sweep(ctx context.Context) (map[string][]string, error) {
	members, err := t.Snapshot(ctx)
	if err != nil {
		metrics.PresenceSweeps.WithLabelValues("failure").Inc()
		return nil, err
	}

	total := 0
	for roomID, users := range members {
		body, err := json.Marshal(MembersEvent{Users: users})
		if err != nil {
			return nil, err
		}
		channel := MembersPrefix + roomID
		t.bus.Publish(channel, body)
		total += len(users)
		t.logger.Debug().Str("channel", channel).Strs("users", users).Msg("published members")
	}

	metrics.PresenceSweeps.WithLabelValues("success").Inc()
	metrics.PresentMembers.Set(float64(total))
	return members, nil
}

// Snapshot returns the current members of every non-empty room without
// publishing anything.
func (t *Tracker) Snapshot(ctx context.Context) (map[string][]string, error) {
	entries, err := t.cache.LivePresence(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing presence keys: %w", err)
	}
	return Aggregate(entries), nil
}

// Members returns the users currently present in roomID, sorted.
func (t *Tracker) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	users := members[roomID]
	if users == nil {
		users = []string{}
	}
	return users, nil
}

// Aggregate partitions presence entries by room. Each member list is
// deduplicated and sorted.
func Aggregate(entries []store.PresenceEntry) map[string][]string {
	seen := make(map[store.PresenceEntry]struct{}, len(entries))
	members := make(map[string][]string)
	for _, e := range entries {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		members[e.RoomID] = append(members[e.RoomID], e.UserID)
	}
	for _, users := range members {
		sort.Strings(users)
	}
	return members
}

// BroadcastRooms publishes the full room list on DirectoryAddress.
func (t *Tracker) BroadcastRooms(ctx context.Context) error {
	rooms, err := t.rooms.FindRooms(ctx)
	if err != nil {
		metrics.DirectoryBroadcasts.WithLabelValues("failure").Inc()
		return fmt.Errorf("finding rooms: %w", err)
	}
	if rooms == nil {
		rooms = []models.Room{}
	}

	body, err := json.Marshal(DirectoryEvent{Rooms: rooms})
	if err != nil {
		return err
	}
	t.bus.Publish(DirectoryAddress, body)
	metrics.DirectoryBroadcasts.WithLabelValues("success").Inc()
	return nil
}

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatty/internal/eventbus"
	"github.com/eldtechnologies/chatty/internal/models"
	"github.com/eldtechnologies/chatty/internal/store"
)

type stubRooms struct {
	mu    sync.Mutex
	rooms []models.Room
	err   error
}

func (s *stubRooms) FindRooms(ctx context.Context) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms, s.err
}

func (s *stubRooms) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type fixture struct {
	tracker *Tracker
	bus     *eventbus.Bus
	mr      *miniredis.Miniredis
	rooms   *stubRooms
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := store.NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	bus := eventbus.New(zerolog.Nop())
	t.Cleanup(bus.Close)

	rooms := &stubRooms{}
	return &fixture{
		tracker: NewTracker(cache, rooms, bus, zerolog.Nop(), opts),
		bus:     bus,
		mr:      mr,
		rooms:   rooms,
	}
}

func receive(t *testing.T, sub *eventbus.Subscription, v any) {
	t.Helper()
	select {
	case d := <-sub.C():
		require.NoError(t, json.Unmarshal(d.Body, v))
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing published on %s", sub.Address())
	}
}

func assertSilent(t *testing.T, sub *eventbus.Subscription) {
	t.Helper()
	select {
	case d := <-sub.C():
		t.Fatalf("unexpected publication on %s: %s", sub.Address(), d.Body)
	default:
	}
}

func TestPresenceExpiresAfterTTL(t *testing.T) {
	f := newFixture(t, Options{TTL: 200 * time.Millisecond})
	ctx := context.Background()
	sub := f.bus.Subscribe(MembersPrefix+"r1", 4)

	require.NoError(t, f.tracker.Ingest(ctx, "u1", "r1"))

	members, err := f.tracker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"r1": {"u1"}}, members)

	var event MembersEvent
	receive(t, sub, &event)
	assert.Equal(t, []string{"u1"}, event.Users)

	f.mr.FastForward(300 * time.Millisecond)

	members, err = f.tracker.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
	assertSilent(t, sub)
}

func TestSweepPublishesEachRoomSeparately(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	r1 := f.bus.Subscribe(MembersPrefix+"r1", 4)
	r2 := f.bus.Subscribe(MembersPrefix+"r2", 4)

	require.NoError(t, f.tracker.Ingest(ctx, "u2", "r1"))
	require.NoError(t, f.tracker.Ingest(ctx, "u1", "r1"))
	require.NoError(t, f.tracker.Ingest(ctx, "u3", "r2"))
	require.NoError(t, f.tracker.Ingest(ctx, "u1", "r1"))

	_, err := f.tracker.Sweep(ctx)
	require.NoError(t, err)

	var first, second MembersEvent
	receive(t, r1, &first)
	receive(t, r2, &second)
	assert.Equal(t, []string{"u1", "u2"}, first.Users)
	assert.Equal(t, []string{"u3"}, second.Users)
	assertSilent(t, r1)
}

func TestAggregateDeduplicates(t *testing.T) {
	members := Aggregate([]store.PresenceEntry{
		{UserID: "b", RoomID: "x"},
		{UserID: "a", RoomID: "x"},
		{UserID: "b", RoomID: "x"},
		{UserID: "a", RoomID: "y"},
	})
	assert.Equal(t, map[string][]string{
		"x": {"a", "b"},
		"y": {"a"},
	}, members)
}

func TestIngestRejectsIncompleteHeartbeat(t *testing.T) {
	f := newFixture(t, Options{})

	assert.ErrorIs(t, f.tracker.Ingest(context.Background(), "", "r1"), ErrInvalidHeartbeat)
	assert.ErrorIs(t, f.tracker.Ingest(context.Background(), "u1", ""), ErrInvalidHeartbeat)
	assert.ErrorIs(t, f.tracker.Ingest(context.Background(), "a:b", "r1"), ErrInvalidHeartbeat)
	assert.Empty(t, f.mr.Keys())
}

func TestRoomIDWithSeparatorKeepsMembership(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.tracker.Ingest(ctx, "u1", "team:blue"))

	members, err := f.tracker.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"team:blue": {"u1"}}, members)
}

func TestSweepFailsWhenCacheUnreachable(t *testing.T) {
	f := newFixture(t, Options{})
	f.mr.Close()

	_, err := f.tracker.Sweep(context.Background())
	assert.Error(t, err)
}

func TestBroadcastRooms(t *testing.T) {
	f := newFixture(t, Options{})
	sub := f.bus.Subscribe(DirectoryAddress, 4)
	f.rooms.rooms = []models.Room{{UUID: "g", Name: "General"}, {UUID: "k", Name: "kitchen"}}

	require.NoError(t, f.tracker.BroadcastRooms(context.Background()))

	var event DirectoryEvent
	receive(t, sub, &event)
	assert.Equal(t, f.rooms.rooms, event.Rooms)
}

func TestBroadcastRoomsFailureThenRecovery(t *testing.T) {
	f := newFixture(t, Options{})
	sub := f.bus.Subscribe(DirectoryAddress, 4)

	f.rooms.fail(errors.New("store unreachable"))
	assert.Error(t, f.tracker.BroadcastRooms(context.Background()))
	assertSilent(t, sub)

	f.rooms.fail(nil)
	require.NoError(t, f.tracker.BroadcastRooms(context.Background()))

	var event DirectoryEvent
	receive(t, sub, &event)
	assert.NotNil(t, event.Rooms)
}

func TestRunIngestsAndBroadcasts(t *testing.T) {
	f := newFixture(t, Options{
		SweepInterval:     20 * time.Millisecond,
		DirectoryInterval: 20 * time.Millisecond,
	})
	f.rooms.fail(errors.New("not yet"))

	members := f.bus.Subscribe(MembersPrefix+"r1", 16)
	directory := f.bus.Subscribe(DirectoryAddress, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(ctx) }()

	// Wait for the heartbeat subscription before publishing.
	require.Eventually(t, func() bool {
		return f.bus.Publish(HeartbeatAddress, []byte(`{"userID":"u1","roomID":"r1"}`)) > 0
	}, time.Second, 5*time.Millisecond)
	f.bus.Publish(HeartbeatAddress, []byte(`{"type":"update-presence","params":{"userID":"u2","roomID":"r1"}}`))

	require.Eventually(t, func() bool {
		select {
		case d := <-members.C():
			var event MembersEvent
			return json.Unmarshal(d.Body, &event) == nil && len(event.Users) == 2
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// Directory ticks keep running after failed ones.
	f.rooms.fail(nil)
	var event DirectoryEvent
	receive(t, directory, &event)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}
}

func TestMembersDoesNotPublish(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	sub := f.bus.Subscribe(MembersPrefix+"r1", 4)

	require.NoError(t, f.tracker.Ingest(ctx, "u2", "r1"))
	require.NoError(t, f.tracker.Ingest(ctx, "u1", "r1"))

	users, err := f.tracker.Members(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	users, err = f.tracker.Members(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, []string{}, users)

	assertSilent(t, sub)
}

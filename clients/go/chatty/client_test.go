package chatty

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatty/internal/actor"
	"github.com/eldtechnologies/chatty/internal/api"
	"github.com/eldtechnologies/chatty/internal/bridge"
	"github.com/eldtechnologies/chatty/internal/eventbus"
	"github.com/eldtechnologies/chatty/internal/handlers"
	"github.com/eldtechnologies/chatty/internal/presence"
	"github.com/eldtechnologies/chatty/internal/relay"
	"github.com/eldtechnologies/chatty/internal/store"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	logger := zerolog.Nop()

	mr := miniredis.RunT(t)
	rs, err := store.NewRedisStore(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)

	ds := store.NewMemoryStore()
	bus := eventbus.New(logger)
	a, err := actor.New(ctx, ds, logger, actor.Options{})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx, bus))

	data := actor.NewClient(bus, time.Second)
	tracker := presence.NewTracker(rs, data, bus, logger, presence.Options{
		SweepInterval:     20 * time.Millisecond,
		DirectoryInterval: 20 * time.Millisecond,
	})
	rel := relay.New(data, bus, logger, relay.Options{Location: time.UTC})
	go tracker.Run(ctx)
	go rel.Run(ctx)

	// Both loops discard malformed bodies; wait until each is subscribed.
	for _, address := range []string{presence.HeartbeatAddress, relay.InboundAddress} {
		require.Eventually(t, func() bool {
			return bus.Publish(address, []byte("probe")) > 0
		}, time.Second, 5*time.Millisecond)
	}

	srv := httptest.NewServer(api.NewRouter(logger, api.Deps{
		Handler: handlers.NewHandler(data, rel, tracker, ds, rs),
		Bridge:  bridge.New(bus, logger, bridge.Options{}),
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		a.Wait()
		bus.Close()
		rs.Close()
	})

	t.Setenv("CHATTY_CONFIG", t.TempDir())
	return NewClient(srv.URL)
}

func nextRec(t *testing.T, b *BusConn) *Frame {
	t.Helper()
	for {
		f, err := b.Next(2 * time.Second)
		require.NoError(t, err)
		if f.Type == "rec" {
			return f
		}
	}
}

func TestRegisterSavesConfig(t *testing.T) {
	c := newTestClient(t)

	resp, err := c.Register("Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", resp.Email)
	assert.Equal(t, "/who/"+resp.ID, resp.ProfileURL)

	reloaded := NewClient(c.BaseURL)
	assert.Equal(t, resp.ID, reloaded.UserID)
	assert.Equal(t, "alice@example.com", reloaded.Email)

	again, err := c.Register("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, resp.ID, again.ID)
}

func TestRegisterRejectsBadEmail(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Register("not-an-email")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatty error 400")
}

func TestRooms(t *testing.T) {
	c := newTestClient(t)

	general, err := c.GeneralRoom()
	require.NoError(t, err)
	require.NotEmpty(t, general)

	room, err := c.CreateRoom("lounge")
	require.NoError(t, err)
	assert.Equal(t, "lounge", room.Name)

	rooms, err := c.ListRooms()
	require.NoError(t, err)
	assert.Equal(t, 2, rooms.Total)

	hist, err := c.History(room.ID)
	require.NoError(t, err)
	assert.Empty(t, hist.History)
}

func TestSayAndWatch(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Register("bob@example.com")
	require.NoError(t, err)
	general, err := c.GeneralRoom()
	require.NoError(t, err)

	watcher, err := c.DialBus()
	require.NoError(t, err)
	defer watcher.Close()
	require.NoError(t, watcher.Register("webchat.client"))
	require.NoError(t, watcher.Ping())
	f, err := watcher.Next(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", f.Type)

	speaker, err := c.DialBus()
	require.NoError(t, err)
	defer speaker.Close()
	require.NoError(t, speaker.Say(c.UserID, "", "hello <b>all</b>"))

	var ev ClientEvent
	require.NoError(t, json.Unmarshal(nextRec(t, watcher).Body, &ev))
	assert.Equal(t, general, ev.RoomID)
	assert.Contains(t, ev.DisplayText, "&lt;bob@example.com&gt;: hello <b>all</b>")

	hist, err := c.History(general)
	require.NoError(t, err)
	require.Len(t, hist.History, 1)
	assert.Equal(t, "bob@example.com", hist.History[0][1])
}

func TestHeartbeatMembers(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Register("carol@example.com")
	require.NoError(t, err)
	general, err := c.GeneralRoom()
	require.NoError(t, err)

	b, err := c.DialBus()
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Heartbeat(c.UserID, general))

	require.Eventually(t, func() bool {
		m, err := c.Members(general)
		return err == nil && len(m.Users) == 1 && m.Users[0] == c.UserID
	}, 2*time.Second, 20*time.Millisecond)
}

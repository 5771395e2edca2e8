package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatty/internal/actor"
	"github.com/eldtechnologies/chatty/internal/api/middleware"
	"github.com/eldtechnologies/chatty/internal/bridge"
	"github.com/eldtechnologies/chatty/internal/eventbus"
	"github.com/eldtechnologies/chatty/internal/handlers"
	"github.com/eldtechnologies/chatty/internal/presence"
	"github.com/eldtechnologies/chatty/internal/relay"
	"github.com/eldtechnologies/chatty/internal/store"
)

type testServer struct {
	*httptest.Server
	client  *actor.Client
	tracker *presence.Tracker
	relay   *relay.Relay
}

func newTestServer(t *testing.T) *testServer {
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

	client := actor.NewClient(bus, time.Second)
	tracker := presence.NewTracker(rs, client, bus, logger, presence.Options{})
	rel := relay.New(client, bus, logger, relay.Options{Location: time.UTC})

	router := NewRouter(logger, Deps{
		Handler: handlers.NewHandler(client, rel, tracker, ds, rs),
		Bridge:  bridge.New(bus, logger, bridge.Options{}),
		Redis:   rs.Client(),
	})
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		a.Wait()
		bus.Close()
		rs.Close()
	})
	return &testServer{Server: srv, client: client, tracker: tracker, relay: rel}
}

func (s *testServer) get(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func (s *testServer) postJSON(t *testing.T, path, body string, v any) *http.Response {
	t.Helper()
	resp, err := http.Post(s.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	var health handlers.HealthResponse
	resp := s.get(t, "/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health.Status)
	for _, name := range []string{"store", "redis", "actor"} {
		assert.Equal(t, "pass", health.Checks[name].Status, name)
	}
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestRegisterAndWho(t *testing.T) {
	s := newTestServer(t)

	var first, second handlers.RegisterResponse
	s.postJSON(t, "/register", `{"email":"Alice@Example.com"}`, &first)
	s.postJSON(t, "/register", `{"email":"alice@example.com"}`, &second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "/who/"+first.ID, first.ProfileURL)

	var who handlers.WhoResponse
	resp := s.get(t, "/who/"+first.ID, &who)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice@example.com", who.Email)

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/who/not-a-uuid", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, s.get(t, "/who/"+uuid.NewString(), nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/register", `{"email":"nope"}`, nil).StatusCode)
}

func TestCreateAndListRooms(t *testing.T) {
	s := newTestServer(t)

	var created handlers.RoomResponse
	resp := s.postJSON(t, "/rooms", `{"name":"kitchen"}`, &created)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "kitchen", created.Name)

	form, err := http.PostForm(s.URL+"/rooms", url.Values{"roomName": {"kitchen"}})
	require.NoError(t, err)
	var again handlers.RoomResponse
	require.NoError(t, json.NewDecoder(form.Body).Decode(&again))
	form.Body.Close()
	assert.Equal(t, created.ID, again.ID)

	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/rooms", `{"name":"<b>"}`, nil).StatusCode)

	require.NoError(t, s.tracker.Ingest(context.Background(), "u1", created.ID))

	var list handlers.ChannelListResponse
	s.get(t, "/rooms", &list)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "General", list.Channels[0].Name)
	assert.True(t, list.Channels[0].General)
	assert.Equal(t, "kitchen", list.Channels[1].Name)
	assert.Equal(t, 1, list.Channels[1].Present)

	var members handlers.MembersResponse
	s.get(t, "/rooms/"+created.ID+"/members", &members)
	assert.Equal(t, []string{"u1"}, members.Users)

	var stats handlers.StatsResponse
	s.get(t, "/stats", &stats)
	assert.Equal(t, 2, stats.TotalRooms)
	assert.Equal(t, 1, stats.OnlineUsers)
	require.Len(t, stats.BusiestRooms, 1)
	assert.Equal(t, "kitchen", stats.BusiestRooms[0].Name)
}

func TestHistoryAndDownload(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	user, err := s.client.FindCreateUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	general, err := s.client.GeneralRoomUUID(ctx)
	require.NoError(t, err)

	_, err = s.relay.Relay(ctx, relay.ChatEvent{UserID: user.UUID, RoomID: general, Text: "first <script>x</script>"})
	require.NoError(t, err)

	var history handlers.HistoryResponse
	resp := s.get(t, "/history/"+general, &history)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, history.History, 1)
	assert.Equal(t, "bob@example.com", history.History[0][1])
	assert.Equal(t, "first ", history.History[0][2])

	dl, err := http.Get(s.URL + "/download/" + general)
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.True(t, strings.HasPrefix(dl.Header.Get("Content-Type"), "text/plain"))

	assert.Equal(t, http.StatusNotFound, s.get(t, "/history/"+uuid.NewString(), nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/history/general", nil).StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t)
	general, err := s.client.GeneralRoomUUID(context.Background())
	require.NoError(t, err)

	var last int
	for i := 0; i < 11; i++ {
		resp, err := http.Get(s.URL + "/download/" + general)
		require.NoError(t, err)
		resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestEventBusUpgradeThroughMiddleware(t *testing.T) {
	s := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/eventbus"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(bridge.Frame{Type: bridge.TypePing}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f bridge.Frame
	require.NoError(t, ws.ReadJSON(&f))
	assert.Equal(t, bridge.TypePong, f.Type)
}

func TestRouterWithoutRedis(t *testing.T) {
	ds := store.NewMemoryStore()
	router := NewRouter(zerolog.Nop(), Deps{
		Handler:   handlers.NewHandler(nil, nil, nil, ds, nil),
		RateLimit: middleware.RateLimiterConfig{},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

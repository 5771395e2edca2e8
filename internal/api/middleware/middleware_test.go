package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/rooms", "/rooms"},
		{"/rooms/abc/members", "/rooms/:id/members"},
		{"/who/abc", "/who/:id"},
		{"/history/abc", "/history/:id"},
		{"/download/abc", "/download/:id"},
		{"/history/", "/history/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.path), tt.path)
	}
}

func TestValidateRequest(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := ValidateRequest(ok)

	tests := []struct {
		name   string
		method string
		target string
		ctype  string
		body   string
		want   int
	}{
		{"json post", http.MethodPost, "/rooms", "application/json", `{"name":"x"}`, http.StatusNoContent},
		{"form post", http.MethodPost, "/rooms", "application/x-www-form-urlencoded", "roomName=x", http.StatusNoContent},
		{"xml post", http.MethodPost, "/rooms", "application/xml", "<x/>", http.StatusUnsupportedMediaType},
		{"traversal", http.MethodGet, "/history/..%2f", "", "", http.StatusBadRequest},
		{"script in query", http.MethodGet, "/rooms?next=javascript:alert(1)", "", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, zerolog.Nop(), cfg), mr
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 21)
	for i := 0; i < 21; i++ {
		req := httptest.NewRequest(http.MethodPost, "/rooms", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[19])
	assert.Equal(t, http.StatusTooManyRequests, codes[20])

	// Other clients are unaffected.
	req := httptest.NewRequest(http.MethodPost, "/rooms", nil)
	req.RemoteAddr = "192.0.2.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "19", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimiterWhitelist(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{Whitelist: []string{"10.0.0.0/8", "192.0.2.7", "bogus/cidr"}})

	assert.True(t, rl.isWhitelisted("10.1.2.3"))
	assert.True(t, rl.isWhitelisted("192.0.2.7"))
	assert.False(t, rl.isWhitelisted("192.0.2.8"))
}

func TestRateLimiterFindLimitPrefersLongestPattern(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{})

	pattern, limit, ok := rl.findLimit(httptest.NewRequest(http.MethodGet, "/rooms/abc/members", nil))
	require.True(t, ok)
	assert.Equal(t, "GET /rooms", pattern)
	assert.Equal(t, 120, limit.Requests)

	_, _, ok = rl.findLimit(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.False(t, ok)
}

func TestAutoBlock(t *testing.T) {
	rl, mr := newTestLimiter(t, RateLimiterConfig{AutoBlockEnabled: true})
	ctx := context.Background()

	for i := 0; i < autoBlockThreshold; i++ {
		rl.trackViolation(ctx, "198.51.100.1")
	}
	assert.True(t, rl.blocker.IsBlocked(ctx, "198.51.100.1"))
	ttl := mr.TTL("blocked:ip:198.51.100.1")
	assert.Equal(t, 24*time.Hour, ttl)

	rl.blocker.Unblock(ctx, "198.51.100.1")
	assert.False(t, rl.blocker.IsBlocked(ctx, "198.51.100.1"))
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", RealIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", RealIP(req))
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatty/internal/api/middleware"
	"github.com/eldtechnologies/chatty/internal/handlers"
)

// Deps bundles what the router serves.
type Deps struct {
	Handler *handlers.Handler
	Bridge  http.Handler
	// Redis backs rate limiting; nil disables it.
	Redis          *redis.Client
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if deps.Redis != nil {
		limiter := middleware.NewRateLimiter(deps.Redis, logger, deps.RateLimit)
		r.Use(limiter.Middleware)
	}

	allowed := deps.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := deps.Handler

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Post("/register", h.Register)
	r.Get("/who/{id}", h.Who)

	r.Get("/rooms", h.ListChannels)
	r.Post("/rooms", h.CreateRoom)
	r.Get("/rooms/{id}/members", h.RoomMembers)
	r.Get("/history/{id}", h.GetRoomHistory)
	r.Get("/download/{id}", h.DownloadTranscript)

	if deps.Bridge != nil {
		r.Handle("/eventbus", deps.Bridge)
	}

	return r
}

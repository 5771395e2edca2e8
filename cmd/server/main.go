package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/chatty/internal/actor"
	"github.com/eldtechnologies/chatty/internal/api"
	"github.com/eldtechnologies/chatty/internal/api/middleware"
	"github.com/eldtechnologies/chatty/internal/bridge"
	"github.com/eldtechnologies/chatty/internal/config"
	"github.com/eldtechnologies/chatty/internal/eventbus"
	"github.com/eldtechnologies/chatty/internal/handlers"
	"github.com/eldtechnologies/chatty/internal/presence"
	"github.com/eldtechnologies/chatty/internal/relay"
	"github.com/eldtechnologies/chatty/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document store: Postgres when configured, SQLite otherwise
	var dataStore store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		dataStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite open failed")
		}
		dataStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
	}
	defer dataStore.Close()

	// Presence key space
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	bus := eventbus.New(logger)
	defer bus.Close()

	// The data actor must own the General room before anything else runs.
	dataActor, err := actor.New(ctx, dataStore, logger, actor.Options{
		GeneralRoomName: cfg.GeneralRoomName,
		StoreTimeout:    cfg.StoreTimeout,
		Workers:         cfg.ActorWorkers,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("data actor initialization failed")
	}
	// The actor outlives the HTTP server so in-flight requests can finish.
	actorCtx, stopActor := context.WithCancel(context.Background())
	defer stopActor()
	if err := dataActor.Start(actorCtx, bus); err != nil {
		logger.Fatal().Err(err).Msg("data actor failed to start")
	}

	client := actor.NewClient(bus, cfg.QueryTimeout)
	tracker := presence.NewTracker(redisStore, client, bus, logger, presence.Options{
		TTL:               cfg.PresenceTTL,
		SweepInterval:     cfg.SweepInterval,
		DirectoryInterval: cfg.DirectoryInterval,
	})
	chatRelay := relay.New(client, bus, logger, relay.Options{})

	router := api.NewRouter(logger, api.Deps{
		Handler:        handlers.NewHandler(client, chatRelay, tracker, dataStore, redisStore),
		Bridge:         bridge.New(bus, logger, bridge.Options{AllowedOrigins: cfg.AllowedOrigins}),
		Redis:          redisStore.Client(),
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tracker.Run(gctx) })
	g.Go(func() error { return chatRelay.Run(gctx) })
	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chatty server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		// Graceful shutdown with 30 second timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
	}
	stopActor()
	dataActor.Wait()

	logger.Info().Msg("server stopped")
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // Postgres; empty selects SQLite
	SQLitePath  string
	RedisURL    string

	// Presence
	PresenceTTL       time.Duration
	SweepInterval     time.Duration
	DirectoryInterval time.Duration

	// Data actor
	QueryTimeout    time.Duration // caller side, per request
	StoreTimeout    time.Duration // actor side, per store call
	ActorWorkers    int
	GeneralRoomName string

	AllowedOrigins []string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnv("SQLITE_PATH", "./data/chatty.db"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PresenceTTL:       getDuration("PRESENCE_TTL", 2*time.Second),
		SweepInterval:     getDuration("PRESENCE_SWEEP_INTERVAL", time.Second),
		DirectoryInterval: getDuration("ROOM_DIRECTORY_INTERVAL", time.Second),
		QueryTimeout:      getDuration("QUERY_TIMEOUT", 5*time.Second),
		StoreTimeout:      getDuration("STORE_TIMEOUT", 5*time.Second),
		ActorWorkers:      getInt("ACTOR_WORKERS", 8),
		GeneralRoomName:   getEnv("GENERAL_ROOM", "General"),
		AutoBlockEnabled:  getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// Parse allowed websocket origins (comma-separated)
	for _, entry := range strings.Split(getEnv("BRIDGE_ALLOWED_ORIGINS", "*"), ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, entry)
		}
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if os.Getenv("REDIS_URL") == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presencePrefix   = "presence:"
	presenceScanHint = 256
)

// PresenceEntry is a live (user, room) presence key.
type PresenceEntry struct {
	UserID string
	RoomID string
}

// RedisStore holds the ephemeral presence key space.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store. A database index in the URL path
// (redis://host:6379/3) selects that database.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// presenceKey returns the key marking userID as present in roomID. userID
// must not contain ":"; roomID may.
func presenceKey(userID, roomID string) string {
	return fmt.Sprintf("%s%s:%s", presencePrefix, userID, roomID)
}

// Touch creates or refreshes a presence key. The key expires after ttl
// unless touched again.
func (s *RedisStore) Touch(ctx context.Context, userID, roomID string, ttl time.Duration) error {
	return s.client.Set(ctx, presenceKey(userID, roomID), "1", ttl).Err()
}

// LivePresence enumerates every presence key that has not expired.
func (s *RedisStore) LivePresence(ctx context.Context) ([]PresenceEntry, error) {
	var entries []PresenceEntry

	iter := s.client.Scan(ctx, 0, presencePrefix+"*", presenceScanHint).Iterator()
	for iter.Next(ctx) {
		userID, roomID, ok := strings.Cut(strings.TrimPrefix(iter.Val(), presencePrefix), ":")
		if !ok {
			continue
		}
		entries = append(entries, PresenceEntry{UserID: userID, RoomID: roomID})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// Client returns the underlying Redis client for components that share the
// connection, such as the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

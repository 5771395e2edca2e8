package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatty/internal/ids"
	"github.com/eldtechnologies/chatty/internal/models"
)

// runDataStoreSuite exercises the DataStore contract against an implementation.
func runDataStoreSuite(t *testing.T, newStore func(t *testing.T) DataStore) {
	t.Run("missing lookups return nil", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		user, err := s.FindUserByEmail(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, user)

		room, err := s.FindRoomByUUID(ctx, ids.NewUUID())
		require.NoError(t, err)
		assert.Nil(t, room)
	})

	t.Run("insert user is keyed by email", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.InsertUser(ctx, models.User{UUID: ids.NewUUID(), Email: "a@b.com"})
		require.NoError(t, err)

		second, err := s.InsertUser(ctx, models.User{UUID: ids.NewUUID(), Email: "a@b.com"})
		require.NoError(t, err)
		assert.Equal(t, first.UUID, second.UUID, "conflicting insert returns the stored user")

		byUUID, err := s.FindUserByUUID(ctx, first.UUID)
		require.NoError(t, err)
		require.NotNil(t, byUUID)
		assert.Equal(t, "a@b.com", byUUID.Email)
	})

	t.Run("insert room is keyed by name", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		creator, err := s.InsertUser(ctx, models.User{UUID: ids.NewUUID(), Email: "owner@b.com"})
		require.NoError(t, err)

		first, err := s.InsertRoom(ctx, models.Room{UUID: ids.NewUUID(), Name: "lobby", Creator: creator})
		require.NoError(t, err)
		second, err := s.InsertRoom(ctx, models.Room{UUID: ids.NewUUID(), Name: "lobby"})
		require.NoError(t, err)
		assert.Equal(t, first.UUID, second.UUID)
		require.NotNil(t, second.Creator)
		assert.Equal(t, creator.UUID, second.Creator.UUID)

		_, err = s.InsertRoom(ctx, models.Room{UUID: ids.NewUUID(), Name: "other"})
		require.NoError(t, err)

		rooms, err := s.ListRooms(ctx)
		require.NoError(t, err)
		assert.Len(t, rooms, 2)
	})

	t.Run("messages round trip per room", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		user, err := s.InsertUser(ctx, models.User{UUID: ids.NewUUID(), Email: "u@b.com"})
		require.NoError(t, err)
		r1, err := s.InsertRoom(ctx, models.Room{UUID: ids.NewUUID(), Name: "r1"})
		require.NoError(t, err)
		r2, err := s.InsertRoom(ctx, models.Room{UUID: ids.NewUUID(), Name: "r2"})
		require.NoError(t, err)

		ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.InsertMessage(ctx, models.Message{
			ID: ids.NewMessageID(), Timestamp: ts, Author: *user, Room: *r1, Text: "hello",
		}))
		require.NoError(t, s.InsertMessage(ctx, models.Message{
			ID: ids.NewMessageID(), Timestamp: ts, Author: *user, Room: *r2, Text: "elsewhere",
		}))

		messages, err := s.ListMessagesByRoom(ctx, r1.UUID)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "hello", messages[0].Text)
		assert.Equal(t, user.UUID, messages[0].Author.UUID)
		assert.Equal(t, "u@b.com", messages[0].Author.Email)
		assert.Equal(t, r1.UUID, messages[0].Room.UUID)
		assert.True(t, ts.Equal(messages[0].Timestamp))

		empty, err := s.ListMessagesByRoom(ctx, ids.NewUUID())
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("message with unknown author or room is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		user, err := s.InsertUser(ctx, models.User{UUID: ids.NewUUID(), Email: "known@b.com"})
		require.NoError(t, err)
		room, err := s.InsertRoom(ctx, models.Room{UUID: ids.NewUUID(), Name: "known"})
		require.NoError(t, err)
		ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		err = s.InsertMessage(ctx, models.Message{
			ID: ids.NewMessageID(), Timestamp: ts, Author: models.User{UUID: ids.NewUUID()}, Room: *room, Text: "ghost",
		})
		assert.ErrorIs(t, err, ErrUnknownReference)

		err = s.InsertMessage(ctx, models.Message{
			ID: ids.NewMessageID(), Timestamp: ts, Author: *user, Room: models.Room{UUID: ids.NewUUID()}, Text: "nowhere",
		})
		assert.ErrorIs(t, err, ErrUnknownReference)

		messages, err := s.ListMessagesByRoom(ctx, room.UUID)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestMemoryStore(t *testing.T) {
	runDataStoreSuite(t, func(t *testing.T) DataStore {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runDataStoreSuite(t, func(t *testing.T) DataStore {
		s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chatty.db"))
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestSQLiteStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatty.db")
	require.NoError(t, os.WriteFile(path, []byte("not a sqlite database, just text padding the header"), 0600))

	_, err := NewSQLiteStore(context.Background(), path)
	require.Error(t, err)

	// The failed store released the file; a fresh database can take its place.
	require.NoError(t, os.Remove(path))
	s, err := NewSQLiteStore(context.Background(), path)
	require.NoError(t, err)
	s.Close()
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	runDataStoreSuite(t, func(t *testing.T) DataStore {
		ctx := context.Background()
		s, err := NewPostgresStore(ctx, url)
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE messages, rooms, users`)
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestMemoryStoreCountUsers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.InsertUser(ctx, models.User{UUID: ids.NewUUID(), Email: "a@b.com"})
	require.NoError(t, err)
	_, err = s.InsertUser(ctx, models.User{UUID: ids.NewUUID(), Email: "a@b.com"})
	require.NoError(t, err)

	assert.Equal(t, 1, s.CountUsers("a@b.com"))
	assert.Equal(t, 0, s.CountUsers("x@b.com"))
}

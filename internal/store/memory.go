package store

import (
	"context"
	"sync"

	"github.com/eldtechnologies/chatty/internal/models"
)

// MemoryStore implements DataStore with in-memory collections.
// Used for tests and for running without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	users    []models.User
	rooms    []models.Room
	messages []models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// FindUserByEmail retrieves a user by email.
func (m *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userWhere(func(u models.User) bool { return u.Email == email }), nil
}

// FindUserByUUID retrieves a user by uuid.
func (m *MemoryStore) FindUserByUUID(ctx context.Context, uuid string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userWhere(func(u models.User) bool { return u.UUID == uuid }), nil
}

// InsertUser stores a user unless one with the same email exists.
func (m *MemoryStore) InsertUser(ctx context.Context, user models.User) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.userWhere(func(u models.User) bool { return u.Email == user.Email }); existing != nil {
		return existing, nil
	}
	m.users = append(m.users, user)
	return &user, nil
}

// FindRoomByName retrieves a room by name.
func (m *MemoryStore) FindRoomByName(ctx context.Context, name string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomWhere(func(r models.Room) bool { return r.Name == name }), nil
}

// FindRoomByUUID retrieves a room by uuid.
func (m *MemoryStore) FindRoomByUUID(ctx context.Context, uuid string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomWhere(func(r models.Room) bool { return r.UUID == uuid }), nil
}

// InsertRoom stores a room unless one with the same name exists.
func (m *MemoryStore) InsertRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.roomWhere(func(r models.Room) bool { return r.Name == room.Name }); existing != nil {
		return existing, nil
	}
	m.rooms = append(m.rooms, room)
	return &room, nil
}

// ListRooms returns all rooms in insertion order.
func (m *MemoryStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]models.Room, len(m.rooms))
	copy(rooms, m.rooms)
	return rooms, nil
}

// InsertMessage appends a message.
func (m *MemoryStore) InsertMessage(ctx context.Context, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userWhere(func(u models.User) bool { return u.UUID == msg.Author.UUID }) == nil ||
		m.roomWhere(func(r models.Room) bool { return r.UUID == msg.Room.UUID }) == nil {
		return ErrUnknownReference
	}
	m.messages = append(m.messages, msg)
	return nil
}

// ListMessagesByRoom returns a room's messages in insertion order.
func (m *MemoryStore) ListMessagesByRoom(ctx context.Context, roomUUID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := []models.Message{}
	for _, msg := range m.messages {
		if msg.Room.UUID == roomUUID {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// CountUsers returns the number of stored users with the given email.
func (m *MemoryStore) CountUsers(email string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, u := range m.users {
		if u.Email == email {
			n++
		}
	}
	return n
}

func (m *MemoryStore) userWhere(match func(models.User) bool) *models.User {
	for _, u := range m.users {
		if match(u) {
			found := u
			return &found
		}
	}
	return nil
}

func (m *MemoryStore) roomWhere(match func(models.Room) bool) *models.Room {
	for _, r := range m.rooms {
		if match(r) {
			found := r
			return &found
		}
	}
	return nil
}

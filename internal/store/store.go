package store

import (
	"context"
	"errors"

	"github.com/eldtechnologies/chatty/internal/models"
)

// ErrUnknownReference is returned by InsertMessage when the message's author
// or room is not stored.
var ErrUnknownReference = errors.New("store: message references an unknown user or room")

// DataStore defines the document store contract used by the data actor:
// equality lookups and inserts on the users, rooms and messages collections.
// PostgresStore, SQLiteStore and MemoryStore implement this interface.
//
// Lookups return (nil, nil) when nothing matches. Insert operations for users
// and rooms are keyed by their natural key (email, name): inserting a record
// whose natural key already exists leaves the store untouched and returns the
// record that is already stored. Messages may only reference stored users and
// rooms.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByUUID(ctx context.Context, uuid string) (*models.User, error)
	InsertUser(ctx context.Context, user models.User) (*models.User, error)

	// Room operations
	FindRoomByName(ctx context.Context, name string) (*models.Room, error)
	FindRoomByUUID(ctx context.Context, uuid string) (*models.Room, error)
	InsertRoom(ctx context.Context, room models.Room) (*models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)

	// Message operations
	InsertMessage(ctx context.Context, msg models.Message) error
	ListMessagesByRoom(ctx context.Context, roomUUID string) ([]models.Message, error)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/chatty/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatty.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatty.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist. The unique indexes on the
// natural keys back the insert-or-ignore used by InsertUser and InsertRoom.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		uuid TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		uuid TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		creator_uuid TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_uuid TEXT NOT NULL REFERENCES rooms(uuid),
		author_uuid TEXT NOT NULL REFERENCES users(uuid),
		text TEXT NOT NULL,
		ts DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_uuid, ts);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindUserByEmail retrieves a user by email.
func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, `SELECT uuid, email FROM users WHERE email = ?`, email)
}

// FindUserByUUID retrieves a user by uuid.
func (s *SQLiteStore) FindUserByUUID(ctx context.Context, uuid string) (*models.User, error) {
	return s.findUser(ctx, `SELECT uuid, email FROM users WHERE uuid = ?`, uuid)
}

func (s *SQLiteStore) findUser(ctx context.Context, query string, arg string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.UUID, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// InsertUser creates a user record unless the email is already taken.
func (s *SQLiteStore) InsertUser(ctx context.Context, user models.User) (*models.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (uuid, email, created_at) VALUES (?, ?, ?)
	`, user.UUID, user.Email, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.FindUserByEmail(ctx, user.Email)
}

const sqliteRoomColumns = `
	SELECT r.uuid, r.name, c.uuid, c.email
	FROM rooms r LEFT JOIN users c ON c.uuid = r.creator_uuid`

// FindRoomByName retrieves a room by name.
func (s *SQLiteStore) FindRoomByName(ctx context.Context, name string) (*models.Room, error) {
	return s.findRoom(ctx, sqliteRoomColumns+` WHERE r.name = ?`, name)
}

// FindRoomByUUID retrieves a room by uuid.
func (s *SQLiteStore) FindRoomByUUID(ctx context.Context, uuid string) (*models.Room, error) {
	return s.findRoom(ctx, sqliteRoomColumns+` WHERE r.uuid = ?`, uuid)
}

func (s *SQLiteStore) findRoom(ctx context.Context, query string, arg string) (*models.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// InsertRoom creates a room record unless the name is already taken.
func (s *SQLiteStore) InsertRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	var creator *string
	if room.Creator != nil {
		creator = &room.Creator.UUID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rooms (uuid, name, creator_uuid, created_at) VALUES (?, ?, ?, ?)
	`, room.UUID, room.Name, creator, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.FindRoomByName(ctx, room.Name)
}

// ListRooms retrieves all rooms.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, sqliteRoomColumns+` ORDER BY r.created_at, r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

// InsertMessage appends a message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_uuid, author_uuid, text, ts) VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.Room.UUID, msg.Author.UUID, msg.Text, msg.Timestamp.UTC())
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return ErrUnknownReference
	}
	return err
}

// ListMessagesByRoom retrieves all messages recorded in a room.
func (s *SQLiteStore) ListMessagesByRoom(ctx context.Context, roomUUID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.ts, m.text, u.uuid, u.email, r.uuid, r.name
		FROM messages m
		JOIN users u ON u.uuid = m.author_uuid
		JOIN rooms r ON r.uuid = m.room_uuid
		WHERE m.room_uuid = ?
		ORDER BY m.ts
	`, roomUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID,
			&msg.Timestamp,
			&msg.Text,
			&msg.Author.UUID,
			&msg.Author.Email,
			&msg.Room.UUID,
			&msg.Room.Name,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	room := &models.Room{}
	var creatorUUID, creatorEmail *string
	if err := row.Scan(&room.UUID, &room.Name, &creatorUUID, &creatorEmail); err != nil {
		return nil, err
	}
	if creatorUUID != nil && creatorEmail != nil {
		room.Creator = &models.User{UUID: *creatorUUID, Email: *creatorEmail}
	}
	return room, nil
}

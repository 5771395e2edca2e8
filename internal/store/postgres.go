package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatty/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS users (
		uuid TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS rooms (
		uuid TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		creator_uuid TEXT REFERENCES users(uuid),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_uuid TEXT NOT NULL REFERENCES rooms(uuid),
		author_uuid TEXT NOT NULL REFERENCES users(uuid),
		text TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_uuid, ts);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// FindUserByEmail retrieves a user by email.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, `SELECT uuid, email FROM users WHERE email = $1`, email)
}

// FindUserByUUID retrieves a user by uuid.
func (s *PostgresStore) FindUserByUUID(ctx context.Context, uuid string) (*models.User, error) {
	return s.findUser(ctx, `SELECT uuid, email FROM users WHERE uuid = $1`, uuid)
}

func (s *PostgresStore) findUser(ctx context.Context, query string, arg string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, query, arg).Scan(&user.UUID, &user.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// InsertUser creates a user record unless the email is already taken.
func (s *PostgresStore) InsertUser(ctx context.Context, user models.User) (*models.User, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (uuid, email) VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING
	`, user.UUID, user.Email)
	if err != nil {
		return nil, err
	}
	return s.FindUserByEmail(ctx, user.Email)
}

const pgRoomColumns = `
	SELECT r.uuid, r.name, c.uuid, c.email
	FROM rooms r LEFT JOIN users c ON c.uuid = r.creator_uuid`

// FindRoomByName retrieves a room by name.
func (s *PostgresStore) FindRoomByName(ctx context.Context, name string) (*models.Room, error) {
	return s.findRoom(ctx, pgRoomColumns+` WHERE r.name = $1`, name)
}

// FindRoomByUUID retrieves a room by uuid.
func (s *PostgresStore) FindRoomByUUID(ctx context.Context, uuid string) (*models.Room, error) {
	return s.findRoom(ctx, pgRoomColumns+` WHERE r.uuid = $1`, uuid)
}

func (s *PostgresStore) findRoom(ctx context.Context, query string, arg string) (*models.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// InsertRoom creates a room record unless the name is already taken.
func (s *PostgresStore) InsertRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	var creator *string
	if room.Creator != nil {
		creator = &room.Creator.UUID
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (uuid, name, creator_uuid) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`, room.UUID, room.Name, creator)
	if err != nil {
		return nil, err
	}
	return s.FindRoomByName(ctx, room.Name)
}

// ListRooms retrieves all rooms.
func (s *PostgresStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, pgRoomColumns+` ORDER BY r.created_at, r.name`)
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
func (s *PostgresStore) InsertMessage(ctx context.Context, msg models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_uuid, author_uuid, text, ts) VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.Room.UUID, msg.Author.UUID, msg.Text, msg.Timestamp)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return ErrUnknownReference
	}
	return err
}

// foreignKeyViolation is the Postgres SQLSTATE for a failed REFERENCES check.
const foreignKeyViolation = "23503"

// ListMessagesByRoom retrieves all messages recorded in a room.
func (s *PostgresStore) ListMessagesByRoom(ctx context.Context, roomUUID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.ts, m.text, u.uuid, u.email, r.uuid, r.name
		FROM messages m
		JOIN users u ON u.uuid = m.author_uuid
		JOIN rooms r ON r.uuid = m.room_uuid
		WHERE m.room_uuid = $1
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

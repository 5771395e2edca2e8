package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/eldtechnologies/chatty/internal/models"
	"github.com/eldtechnologies/chatty/internal/relay"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// DataClient is the data actor API used by the handlers.
type DataClient interface {
	FindCreateUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByUUID(ctx context.Context, uuid string) (*models.User, error)
	FindCreateRoomByName(ctx context.Context, name string) (*models.Room, error)
	FindRoomByUUID(ctx context.Context, uuid string) (*models.Room, error)
	FindRooms(ctx context.Context) ([]models.Room, error)
	GeneralRoomUUID(ctx context.Context) (string, error)
}

// HistoryReader renders room history.
type HistoryReader interface {
	History(ctx context.Context, roomUUID string) ([]relay.HistoryRow, error)
	Transcript(ctx context.Context, roomUUID string) (string, error)
}

// PresenceReader reports who is currently present.
type PresenceReader interface {
	Snapshot(ctx context.Context) (map[string][]string, error)
	Members(ctx context.Context, roomID string) ([]string, error)
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	data     DataClient
	history  HistoryReader
	presence PresenceReader
	store    Pinger
	redis    Pinger
}

// NewHandler creates a new Handler.
func NewHandler(data DataClient, history HistoryReader, presence PresenceReader, store, redis Pinger) *Handler {
	return &Handler{
		data:     data,
		history:  history,
		presence: presence,
		store:    store,
		redis:    redis,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) == 0 || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatty/internal/ids"
	"github.com/eldtechnologies/chatty/internal/relay"
)

// Room name validation: alphanumeric, spaces, hyphens, underscores, 1-50 chars
var roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9 _-]{1,50}$`)

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// RoomResponse describes a single room.
type RoomResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HistoryResponse carries [time, email, text] rows in timestamp order.
type HistoryResponse struct {
	History []relay.HistoryRow `json:"history"`
}

// MembersResponse lists the users present in a room.
type MembersResponse struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// CreateRoom finds or creates a room by name. Accepts a JSON body or a
// roomName form value.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		req.Name = r.FormValue("roomName")
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if !roomNameRegex.MatchString(req.Name) {
		h.Error(w, http.StatusBadRequest, "name must be 1-50 characters, alphanumeric with spaces, hyphens and underscores only")
		return
	}

	room, err := h.data.FindCreateRoomByName(r.Context(), req.Name)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.JSON(w, http.StatusOK, RoomResponse{ID: room.UUID, Name: room.Name})
}

// GetRoomHistory returns a room's formatted message history.
func (h *Handler) GetRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomParam(w, r)
	if !ok {
		return
	}

	rows, err := h.history.History(r.Context(), roomID)
	if err != nil {
		h.historyError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, HistoryResponse{History: rows})
}

// DownloadTranscript returns a room's full history as plain text.
func (h *Handler) DownloadTranscript(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomParam(w, r)
	if !ok {
		return
	}

	text, err := h.history.Transcript(r.Context(), roomID)
	if err != nil {
		h.historyError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+roomID+`.txt"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

// RoomMembers returns the users currently present in a room.
func (h *Handler) RoomMembers(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomParam(w, r)
	if !ok {
		return
	}

	users, err := h.presence.Members(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "presence unavailable")
		return
	}

	h.JSON(w, http.StatusOK, MembersResponse{Room: roomID, Users: users})
}

func (h *Handler) roomParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	roomID := chi.URLParam(r, "id")
	if !ids.IsUUID(roomID) {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return "", false
	}
	return roomID, true
}

func (h *Handler) historyError(w http.ResponseWriter, err error) {
	if errors.Is(err, relay.ErrUnknownRoom) {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}
	h.Error(w, http.StatusInternalServerError, "database error")
}

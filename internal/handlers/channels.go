package handlers

import (
	"net/http"
	"sort"
	"strconv"
)

// ChannelInfo represents a room in the list response.
type ChannelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	General bool   `json:"general,omitempty"`
	Present int    `json:"present"`
}

// ChannelListResponse represents the rooms list response.
type ChannelListResponse struct {
	Channels []ChannelInfo `json:"channels"`
	Total    int           `json:"total"`
}

// ListChannels lists rooms by name, with their live member counts.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	limit := 20
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	rooms, err := h.data.FindRooms(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	general, err := h.data.GeneralRoomUUID(r.Context())
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "data actor not ready")
		return
	}

	// Presence is best-effort here; counts fall back to zero.
	present := map[string][]string{}
	if h.presence != nil {
		if snapshot, err := h.presence.Snapshot(r.Context()); err == nil {
			present = snapshot
		}
	}

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })

	total := len(rooms)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	channels := make([]ChannelInfo, 0, end-offset)
	for _, room := range rooms[offset:end] {
		channels = append(channels, ChannelInfo{
			ID:      room.UUID,
			Name:    room.Name,
			General: room.UUID == general,
			Present: len(present[room.UUID]),
		})
	}

	h.JSON(w, http.StatusOK, ChannelListResponse{
		Channels: channels,
		Total:    total,
	})
}

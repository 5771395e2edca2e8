package handlers

import (
	"net/http"
	"sort"
)

// RoomStats represents live presence for a single room.
type RoomStats struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Present int    `json:"present"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalRooms   int         `json:"total_rooms"`
	OnlineUsers  int         `json:"online_users"`
	BusiestRooms []RoomStats `json:"busiest_rooms"`
}

const busiestRoomsLimit = 5

// Stats returns room and presence statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rooms, err := h.data.FindRooms(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}

	present, err := h.presence.Snapshot(ctx)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "presence unavailable")
		return
	}

	online := make(map[string]struct{})
	for _, users := range present {
		for _, u := range users {
			online[u] = struct{}{}
		}
	}

	busiest := make([]RoomStats, 0, len(rooms))
	for _, room := range rooms {
		if n := len(present[room.UUID]); n > 0 {
			busiest = append(busiest, RoomStats{ID: room.UUID, Name: room.Name, Present: n})
		}
	}
	sort.Slice(busiest, func(i, j int) bool {
		if busiest[i].Present != busiest[j].Present {
			return busiest[i].Present > busiest[j].Present
		}
		return busiest[i].Name < busiest[j].Name
	})
	if len(busiest) > busiestRoomsLimit {
		busiest = busiest[:busiestRoomsLimit]
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalRooms:   len(rooms),
		OnlineUsers:  len(online),
		BusiestRooms: busiest,
	})
}

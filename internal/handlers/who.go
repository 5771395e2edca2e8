package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatty/internal/ids"
)

// WhoResponse represents the user profile response.
type WhoResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Who handles user profile lookup.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ids.IsUUID(id) {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	user, err := h.data.FindUserByUUID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, WhoResponse{ID: user.UUID, Email: user.Email})
}

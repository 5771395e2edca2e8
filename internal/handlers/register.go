package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Email string `json:"email"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	ProfileURL string `json:"profile_url"`
}

// Register resolves an authenticated email to its user, creating the user
// on first sight. Registration is idempotent.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !isValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}

	user, err := h.data.FindCreateUserByEmail(r.Context(), email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	h.JSON(w, http.StatusOK, RegisterResponse{
		ID:         user.UUID,
		Email:      user.Email,
		ProfileURL: fmt.Sprintf("/who/%s", user.UUID),
	})
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"perepiska/internal/auth"
	"perepiska/internal/membership"
	"perepiska/internal/models"
	"perepiska/internal/ws"
)

type AdminHandler struct {
	authService *auth.AuthService
	members     *membership.Coordinator
	hub         *ws.Hub
}

func NewAdminHandler(authService *auth.AuthService, members *membership.Coordinator, hub *ws.Hub) *AdminHandler {
	return &AdminHandler{authService: authService, members: members, hub: hub}
}

// SessionHandler signs a user in on behalf of the identity provider: the profile is
// mirrored into the store so others can find it, and a bearer token is issued.
func (h *AdminHandler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.authService.StartSession(req)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.members.Register(r.Context(), models.User{
		ID:          resp.UserID,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		AvatarURL:   req.AvatarURL,
	}); err != nil {
		_ = h.authService.Logoff(resp.Token)
		writeError(w, fmt.Errorf("failed to register user: %w", err))
		return
	}
	if h.hub.Connections(resp.UserID) == 0 {
		// Signed in, not connected yet.
		if err := h.members.SetPresence(r.Context(), resp.UserID, models.PresenceOffline); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// DisconnectHandler drops every live connection of the user.
func (h *AdminHandler) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	h.hub.DisconnectUser(userID)

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("User %s disconnected", userID),
	})
}

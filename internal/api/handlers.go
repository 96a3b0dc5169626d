package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"perepiska/internal/auth"
	"perepiska/internal/membership"
	"perepiska/internal/models"
	"perepiska/internal/ws"
)

type userKey struct{}

type API struct {
	auth    *auth.AuthService
	hub     *ws.Hub
	members *membership.Coordinator
}

func New(auth *auth.AuthService, hub *ws.Hub, members *membership.Coordinator) *API {
	return &API{auth: auth, hub: hub, members: members}
}

// RequireAuth resolves the bearer token and passes the session's user down the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.auth.GetUser(ws.Token(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

func userFrom(r *http.Request) models.User {
	user, _ := r.Context().Value(userKey{}).(models.User)
	return user
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := ws.Token(r); token != "" {
		if user, err := a.auth.GetUser(token); err == nil {
			a.hub.DisconnectUser(user.ID)
		}
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

// MeHandler returns the caller's stored record, falling back to the session profile
// before the first connection mirrored it.
func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	stored, err := a.members.User(r.Context(), user.ID)
	switch {
	case err == nil:
		user = stored
	case errors.Is(err, models.ErrNotFound):
	default:
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, models.APIResponse{
		Success: false,
		Message: err.Error(),
	})
}

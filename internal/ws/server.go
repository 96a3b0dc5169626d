package ws

import (
	"log/slog"
	"net/http"

	"perepiska/internal/auth"

	"github.com/gorilla/websocket"
)

type Server struct {
	auth     *auth.AuthService
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(auth *auth.AuthService, hub *Hub) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// Token finds the bearer token in the header, the query string or the cookie.
func Token(r *http.Request) string {
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.GetUser(Token(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("error upgrading to websocket", "user_id", user.ID, "error", err)
		return
	}

	if err := NewConnection(s.hub, conn, user).Handle(r.Context()); err != nil {
		slog.Warn("connection closed", "user_id", user.ID, "error", err)
	}
}

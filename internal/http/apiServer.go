package http

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"

	"perepiska/internal/api"
	"perepiska/internal/auth"
	"perepiska/internal/membership"
	"perepiska/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAPIServer serves the client API. Websocket connections live as long as ctx.
func NewAPIServer(ctx context.Context, authService *auth.AuthService, members *membership.Coordinator, hub *ws.Hub, addr string) *APIServer {
	server := ws.NewServer(authService, hub)
	apiHandlers := api.New(authService, hub, members)

	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("POST /api/logoff", apiHandlers.LogoffHandler)
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))

	// WebSocket endpoint
	mux.HandleFunc("GET /api/chat", server.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

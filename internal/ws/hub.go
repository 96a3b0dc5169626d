package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"perepiska/internal/engine"
	"perepiska/internal/membership"
	"perepiska/internal/models"
	"perepiska/internal/storage"
)

const leaveTimeout = 5 * time.Second

// Session is the per-connection engine as the connection sees it.
type Session interface {
	Events() <-chan models.ServerMessage
	Overflow() <-chan struct{}
	Handle(ctx context.Context, msg models.ClientMessage)
}

type client struct {
	engine *engine.Engine
	kick   context.CancelFunc
}

// Hub starts an engine for every live connection and keeps track of them per user.
type Hub struct {
	store   storage.DocumentStore
	members *membership.Coordinator
	config  engine.Config

	// Map of userID -> engines of that user's connections
	connectedUsers map[string]map[Session]client

	mu   sync.RWMutex
	live sync.WaitGroup

	// lifecycle orders joins and leaves, so whether a leave was the user's last
	// connection cannot change until its presence write is done.
	lifecycle sync.Mutex
}

func NewHub(store storage.DocumentStore, members *membership.Coordinator, config engine.Config) *Hub {
	return &Hub{
		store:          store,
		members:        members,
		config:         config,
		connectedUsers: make(map[string]map[Session]client),
	}
}

// Join starts a session for user. kick is called when the hub wants the connection gone.
func (h *Hub) Join(ctx context.Context, user models.User, kick context.CancelFunc) (Session, error) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	e := engine.New(user, h.store, h.members, h.config)
	if err := e.SessionStarted(ctx); err != nil {
		e.SessionEnded(context.WithoutCancel(ctx), false)
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.connectedUsers[user.ID]
	if !ok {
		sessions = make(map[Session]client)
		h.connectedUsers[user.ID] = sessions
	}
	sessions[e] = client{engine: e, kick: kick}
	h.live.Add(1)
	return e, nil
}

// Leave ends the session. The user goes offline when their last connection leaves,
// even if the connection context is already gone.
func (h *Hub) Leave(s Session) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	var (
		c     client
		found bool
		last  bool
	)
	for userID, sessions := range h.connectedUsers {
		if c, found = sessions[s]; found {
			delete(sessions, s)
			if len(sessions) == 0 {
				delete(h.connectedUsers, userID)
				last = true
			}
			break
		}
	}
	h.mu.Unlock()

	if !found {
		return
	}
	defer h.live.Done()
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	c.engine.SessionEnded(ctx, last)
}

// Wait blocks until every joined session has left.
func (h *Hub) Wait() {
	h.live.Wait()
}

// DisconnectUser drops every connection of the user.
func (h *Hub) DisconnectUser(userID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.connectedUsers[userID] {
		c.kick()
	}
	if n := len(h.connectedUsers[userID]); n > 0 {
		slog.Info("disconnecting user", "user_id", userID, "connections", n)
	}
}

func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connectedUsers[userID])
}

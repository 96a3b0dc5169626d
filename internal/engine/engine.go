// Package engine is the per-client conversation synchronization engine. It owns one
// session's subscriptions, focused conversation and unread counters, and turns them
// into server frames.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"perepiska/internal/membership"
	"perepiska/internal/models"
	"perepiska/internal/session"
	"perepiska/internal/storage"
	"perepiska/internal/subscription"
	"perepiska/internal/unread"
)

const DefaultOutboxSize = 256

type Config struct {
	MessageLimit    int
	ScrollThreshold int
	OutboxSize      int
}

type Engine struct {
	self    models.User
	members *membership.Coordinator
	subs    *subscription.Manager
	tracker *unread.Tracker
	session *session.Session
	logger  *slog.Logger

	out          chan models.ServerMessage
	overflow     chan struct{}
	overflowOnce sync.Once

	mu      sync.Mutex
	started bool
	inCall  bool
}

func New(self models.User, store storage.DocumentStore, members *membership.Coordinator, config Config) *Engine {
	if config.OutboxSize <= 0 {
		config.OutboxSize = DefaultOutboxSize
	}
	if config.MessageLimit <= 0 {
		config.MessageLimit = subscription.DefaultMessageLimit
	}

	e := &Engine{
		self:     self,
		members:  members,
		logger:   slog.Default().With("component", "engine", "user_id", self.ID),
		out:      make(chan models.ServerMessage, config.OutboxSize),
		overflow: make(chan struct{}),
	}
	e.tracker = unread.New(self.ID)
	e.subs = subscription.New(store, e.tracker, e)
	e.subs.SetWatchLimit(config.MessageLimit)
	e.session = session.New(self, store, e.subs, e, session.Config{
		MessageLimit:    config.MessageLimit,
		ScrollThreshold: config.ScrollThreshold,
	})
	return e
}

// Events is the stream of frames for the client.
func (e *Engine) Events() <-chan models.ServerMessage {
	return e.out
}

// Overflow is closed once the client stopped keeping up with its frames.
func (e *Engine) Overflow() <-chan struct{} {
	return e.overflow
}

func (e *Engine) User() models.User {
	return e.self
}

// SessionStarted mirrors the profile into the store and opens the friends, requests
// and groups subscriptions.
func (e *Engine) SessionStarted(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	if err := e.members.Register(ctx, e.self); err != nil {
		return err
	}
	if err := e.subs.OpenFriends(ctx, e.self.ID); err != nil {
		e.subs.CloseAll()
		return err
	}
	if err := e.subs.OpenRequests(ctx, e.self.ID); err != nil {
		e.subs.CloseAll()
		return err
	}
	if err := e.subs.OpenGroups(ctx, e.self.ID); err != nil {
		e.subs.CloseAll()
		return err
	}
	e.started = true
	e.logger.Info("session started")
	return nil
}

// SessionEnded tears down every subscription and waits for sends in flight. The user is
// marked offline only when this was their last session. It is safe to call more than once.
func (e *Engine) SessionEnded(ctx context.Context, lastSession bool) {
	e.mu.Lock()
	started := e.started
	e.started = false
	e.inCall = false
	e.mu.Unlock()

	e.session.Leave()
	e.subs.CloseAll()
	e.session.Wait()

	if !started {
		return
	}
	e.logger.Info("session ended", "last_session", lastSession)
	if !lastSession {
		return
	}
	if err := e.members.SetPresence(ctx, e.self.ID, models.PresenceOffline); err != nil {
		e.logger.Error("failed to set presence on session end", "error", err)
	}
}

func (e *Engine) emit(msg models.ServerMessage) {
	select {
	case <-e.overflow:
		return
	default:
	}
	select {
	case e.out <- msg:
	default:
		e.overflowOnce.Do(func() {
			e.logger.Warn("client is too slow, dropping connection", "frame", msg.Type)
			close(e.overflow)
		})
	}
}

func (e *Engine) ack(requestID string, data any) {
	e.emit(models.ServerMessage{Type: models.ServerMessageTypeAck, RequestID: requestID, Data: data})
}

func (e *Engine) fail(requestID string, err error) {
	e.logger.Debug("operation failed", "request_id", requestID, "error", err)
	e.emit(models.ServerMessage{
		Type:      models.ServerMessageTypeError,
		RequestID: requestID,
		Error:     models.NewErrorPayload(err),
	})
}

// Subscription handler.

func (e *Engine) Friends(friends []models.FriendEdge) {
	e.emit(models.ServerMessage{Type: models.ServerMessageTypeFriends, Data: friends})
}

func (e *Engine) Requests(requests []models.FriendRequest) {
	e.emit(models.ServerMessage{Type: models.ServerMessageTypeRequests, Data: requests})
}

func (e *Engine) Groups(groups []models.Group) {
	e.emit(models.ServerMessage{Type: models.ServerMessageTypeGroups, Data: groups})
}

func (e *Engine) Messages(key string, messages []models.Message) {
	e.session.OnMessages(key, messages)
}

func (e *Engine) Unread(key string, count int) {
	e.emit(models.ServerMessage{Type: models.ServerMessageTypeUnread, Conversation: key, Count: count})
}

func (e *Engine) Fault(slot subscription.Slot, key string, err error) {
	e.emit(models.ServerMessage{
		Type:         models.ServerMessageTypeFault,
		Conversation: key,
		Data:         slot,
		Error:        models.NewErrorPayload(err),
	})
}

// Revoked closes the conversation of a group the user was removed from.
func (e *Engine) Revoked(key string) {
	e.session.Revoke(key)
	e.emit(models.ServerMessage{Type: models.ServerMessageTypeRevoked, Conversation: key})
}

// Session sink.

func (e *Engine) Window(key string, messages []models.Message, scrollToBottom bool) {
	e.emit(models.ServerMessage{
		Type:           models.ServerMessageTypeMessages,
		Conversation:   key,
		Data:           messages,
		ScrollToBottom: scrollToBottom,
	})
}

func (e *Engine) Sent(requestID, key, text string, err error) {
	if err == nil {
		e.emit(models.ServerMessage{Type: models.ServerMessageTypeAck, RequestID: requestID, Conversation: key})
		return
	}
	e.emit(models.ServerMessage{
		Type:         models.ServerMessageTypeDraft,
		RequestID:    requestID,
		Conversation: key,
		Data:         text,
	})
	e.fail(requestID, err)
}

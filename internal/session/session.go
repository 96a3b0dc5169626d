// Package session implements the "client is viewing a conversation" state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"perepiska/internal/content"
	"perepiska/internal/conversation"
	"perepiska/internal/models"
	"perepiska/internal/storage"
)

const DefaultScrollThreshold = 80

type State int

const (
	Unfocused State = iota
	Focused
)

func (s State) String() string {
	if s == Focused {
		return "focused"
	}
	return "unfocused"
}

// Subscriptions is the part of the subscription manager a session drives.
type Subscriptions interface {
	OpenMessages(ctx context.Context, key string, limit int) error
	CloseMessages()
	Focus(key string)
	Blur()
}

// Sink receives what the session wants the client to show.
type Sink interface {
	// Window replaces the visible message window.
	Window(key string, messages []models.Message, scrollToBottom bool)
	// Sent reports the outcome of an asynchronous send. On failure text is the draft
	// to put back into the input.
	Sent(requestID, key, text string, err error)
}

type Config struct {
	MessageLimit    int
	ScrollThreshold int
}

type Session struct {
	self   models.User
	store  storage.DocumentStore
	subs   Subscriptions
	sink   Sink
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	peer     models.Peer
	key      string
	window   []models.Message
	rendered bool
	distance int
	draft    string

	sends sync.WaitGroup
}

func New(self models.User, store storage.DocumentStore, subs Subscriptions, sink Sink, config Config) *Session {
	if config.ScrollThreshold <= 0 {
		config.ScrollThreshold = DefaultScrollThreshold
	}
	return &Session{
		self:   self,
		store:  store,
		subs:   subs,
		sink:   sink,
		config: config,
		logger: slog.Default().With("component", "session", "user_id", self.ID),
	}
}

// Select focuses the conversation with peer. The message window starts empty and is
// filled by the first snapshot, which always scrolls to the bottom.
func (s *Session) Select(ctx context.Context, peer models.Peer) (string, error) {
	if peer.Empty() {
		return "", models.NewValidationError("no conversation selected")
	}
	if !peer.IsGroup() && peer.UserID == s.self.ID {
		return "", models.NewValidationError("cannot open a conversation with yourself")
	}
	key := conversation.Key(s.self.ID, peer)

	s.mu.Lock()
	s.state = Focused
	s.peer = peer
	s.key = key
	s.window = nil
	s.rendered = false
	s.distance = 0
	s.mu.Unlock()

	s.subs.Focus(key)
	if err := s.subs.OpenMessages(ctx, key, s.config.MessageLimit); err != nil {
		s.reset(key)
		s.subs.Blur()
		return "", err
	}
	s.logger.Debug("conversation selected", "conversation", key)
	return key, nil
}

// Leave returns to the unfocused state and closes the message subscription.
func (s *Session) Leave() {
	s.mu.Lock()
	wasFocused := s.state == Focused
	key := s.key
	s.mu.Unlock()

	if !wasFocused {
		return
	}
	s.subs.CloseMessages()
	s.subs.Blur()
	s.reset(key)
	s.logger.Debug("conversation left", "conversation", key)
}

// reset clears the focus if it still belongs to key.
// Revoke drops the focus on key after its message subscription was closed elsewhere.
// It does not call into the subscriptions.
func (s *Session) Revoke(key string) {
	s.reset(key)
	s.logger.Info("conversation revoked", "conversation", key)
}

func (s *Session) reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != key {
		return
	}
	s.state = Unfocused
	s.peer = models.Peer{}
	s.key = ""
	s.window = nil
	s.rendered = false
	s.distance = 0
}

// Scroll records how far the viewport is from the newest message.
func (s *Session) Scroll(distance int) {
	if distance < 0 {
		distance = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distance = distance
}

// OnMessages takes a message snapshot of the focused conversation and replaces the
// window with it. Snapshots of any other conversation are ignored.
func (s *Session) OnMessages(key string, messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Focused || key != s.key {
		return
	}

	window := make([]models.Message, len(messages))
	for i, m := range messages {
		html, err := content.Render(m.Text)
		if err != nil {
			s.logger.Warn("failed to render message", "conversation", key, "message_id", m.ID, "error", err)
			html = content.Escape(m.Text)
		}
		m.HTML = html
		window[i] = m
	}

	scroll := !s.rendered || s.distance <= s.config.ScrollThreshold
	s.rendered = true
	if scroll {
		s.distance = 0
	}
	s.window = window
	s.sink.Window(key, window, scroll)
}

// Send clears the draft and creates the message in the background. Blank text is
// rejected without touching the store. Failures restore the draft and are reported
// through the sink; they are never retried here.
func (s *Session) Send(ctx context.Context, requestID, text string) error {
	if err := content.ValidateMessage(text); err != nil {
		return &models.ValidationError{Reason: err.Error()}
	}

	s.mu.Lock()
	if s.state != Focused {
		s.mu.Unlock()
		return models.NewValidationError("no conversation selected")
	}
	key := s.key
	s.draft = ""
	s.mu.Unlock()

	fields, err := storage.MessageFields(models.Message{
		Text:            text,
		AuthorID:        s.self.ID,
		AuthorName:      s.self.DisplayName,
		AuthorAvatarURL: s.self.AvatarURL,
	})
	if err != nil {
		s.restore(text)
		return fmt.Errorf("failed to encode message: %w", err)
	}

	s.sends.Add(1)
	go func() {
		defer s.sends.Done()

		_, err := s.store.Create(ctx, storage.MessagesCollection(key), fields)
		if err != nil {
			s.logger.Error("failed to send message", "conversation", key, "error", err)
			s.restore(text)
		}
		s.sink.Sent(requestID, key, text, err)
	}()
	return nil
}

func (s *Session) restore(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == "" {
		s.draft = text
	}
}

// DeleteMessage removes one of the user's own messages from the focused conversation.
func (s *Session) DeleteMessage(ctx context.Context, id string) error {
	if id == "" {
		return models.NewValidationError("message id is required")
	}
	key := s.Key()
	if key == "" {
		return models.NewValidationError("no conversation selected")
	}

	ref := storage.DocRef{Collection: storage.MessagesCollection(key), ID: id}
	doc, err := s.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.NotFoundError{What: "message", Key: id}
		}
		return err
	}
	msg, err := storage.MessageFromDoc(key, doc)
	if err != nil {
		return err
	}
	if msg.AuthorID != s.self.ID {
		return models.NewValidationError("only the author can delete a message")
	}
	return s.store.Delete(ctx, ref)
}

// CallRoom describes the call room of the focused conversation.
func (s *Session) CallRoom() (models.CallRoom, error) {
	key := s.Key()
	if key == "" {
		return models.CallRoom{}, models.NewValidationError("no conversation selected")
	}
	return models.CallRoom{
		RoomID:      key,
		UserID:      s.self.ID,
		DisplayName: s.self.DisplayName,
	}, nil
}

// Wait blocks until every send in flight has finished.
func (s *Session) Wait() {
	s.sends.Wait()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *Session) Peer() models.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *Session) Window() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.window...)
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

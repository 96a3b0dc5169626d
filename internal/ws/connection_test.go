package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"perepiska/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientMessage
	writeCh     chan any
	closeCh     chan struct{}
	closeOnce   sync.Once
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientMessage, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.closeOnce.Do(func() { close(m.closeCh) })
	return nil
}

func (m *mockWS) closed() bool {
	select {
	case <-m.closeCh:
		return true
	default:
		return false
	}
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientMessage); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockSession struct {
	events   chan models.ServerMessage
	overflow chan struct{}
	handled  chan models.ClientMessage
}

func (s *mockSession) Events() <-chan models.ServerMessage { return s.events }
func (s *mockSession) Overflow() <-chan struct{}           { return s.overflow }

func (s *mockSession) Handle(_ context.Context, msg models.ClientMessage) {
	s.handled <- msg
}

type mockHub struct {
	joinCh  chan models.User
	leaveCh chan Session
	joinErr error

	session *mockSession
	kick    context.CancelFunc
}

func newMockHub() *mockHub {
	return &mockHub{
		joinCh:  make(chan models.User, 10),
		leaveCh: make(chan Session, 10),
		session: &mockSession{
			events:   make(chan models.ServerMessage, 10),
			overflow: make(chan struct{}),
			handled:  make(chan models.ClientMessage, 10),
		},
	}
}

func (m *mockHub) Join(_ context.Context, user models.User, kick context.CancelFunc) (Session, error) {
	if m.joinErr != nil {
		m.joinCh <- user
		return nil, m.joinErr
	}
	m.kick = kick
	m.joinCh <- user
	return m.session, nil
}

func (m *mockHub) Leave(s Session) {
	m.leaveCh <- s
}

func waitJoined(t *testing.T, hub *mockHub, userID string) {
	t.Helper()
	select {
	case u := <-hub.joinCh:
		if u.ID != userID {
			t.Errorf("Expected Join with %s, got %s", userID, u.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Join not called")
	}
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	user := models.User{ID: "user1", DisplayName: "User"}

	conn := NewConnection(hub, ws, user)
	if conn == nil {
		t.Fatal("NewConnection returned nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()
	waitJoined(t, hub, user.ID)

	// 1. Client -> engine
	clientMsg := models.ClientMessage{
		Type:      models.ClientMessageTypeSend,
		RequestID: "r1",
		Text:      "hello",
	}
	ws.readCh <- clientMsg

	select {
	case received := <-hub.session.handled:
		if received.Text != clientMsg.Text || received.RequestID != "r1" {
			t.Errorf("Session received wrong frame: %v", received)
		}
	case <-time.After(time.Second):
		t.Error("Session did not receive client frame")
	}

	// 2. Engine -> client
	hub.session.events <- models.ServerMessage{
		Type:         models.ServerMessageTypeAck,
		RequestID:    "r1",
		Conversation: "u1_u2",
	}

	select {
	case received := <-ws.writeCh:
		sMsg, ok := received.(models.ServerMessage)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if sMsg.RequestID != "r1" || sMsg.Conversation != "u1_u2" {
			t.Errorf("WS received wrong frame: %v", sMsg)
		}
	case <-time.After(time.Second):
		t.Error("WS did not receive server frame")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after cancel")
	}

	select {
	case s := <-hub.leaveCh:
		if s != Session(hub.session) {
			t.Error("Leave called with a different session")
		}
	default:
		t.Error("Leave not called")
	}

	if !ws.closed() {
		t.Error("WS Close not called")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, models.User{ID: "user2"})

	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return on error")
	}

	if !ws.closed() {
		t.Error("WS Close not called")
	}
}

func TestConnection_JoinError(t *testing.T) {
	hub := newMockHub()
	hub.joinErr = errors.New("store is down")
	ws := newMockWS()

	err := NewConnection(hub, ws, models.User{ID: "user3"}).Handle(context.Background())
	if !errors.Is(err, hub.joinErr) {
		t.Errorf("Expected join error, got %v", err)
	}
	if !ws.closed() {
		t.Error("WS Close not called")
	}
	if len(hub.leaveCh) != 0 {
		t.Error("Leave called for a session that never started")
	}
}

func TestConnection_SlowClient(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	done := make(chan error)
	go func() {
		done <- NewConnection(hub, ws, models.User{ID: "user4"}).Handle(context.Background())
	}()
	waitJoined(t, hub, "user4")

	close(hub.session.overflow)

	select {
	case err := <-done:
		if !errors.Is(err, errSlowClient) {
			t.Errorf("Expected errSlowClient, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return on overflow")
	}
	if len(hub.leaveCh) != 1 {
		t.Error("Leave not called")
	}
}

func TestConnection_Kick(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	done := make(chan error)
	go func() {
		done <- NewConnection(hub, ws, models.User{ID: "user5"}).Handle(context.Background())
	}()
	waitJoined(t, hub, "user5")

	hub.kick()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after kick")
	}
	if !ws.closed() {
		t.Error("WS Close not called")
	}
}

package ws

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"perepiska/internal/engine"
	"perepiska/internal/membership"
	"perepiska/internal/models"
	"perepiska/internal/storage"

	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *storage.BboltStore) {
	t.Helper()
	store, err := storage.NewBboltStore(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(store, membership.New(ctx, store, time.Minute), engine.Config{}), store
}

func presence(t *testing.T, store storage.DocumentStore, userID string) models.Presence {
	t.Helper()
	doc, err := store.Get(context.Background(), storage.DocRef{Collection: storage.CollectionUsers, ID: userID})
	require.NoError(t, err)
	u, err := storage.UserFromDoc(doc)
	require.NoError(t, err)
	return u.Presence
}

func TestHub_Lifecycle(t *testing.T) {
	h, store := newTestHub(t)
	user := models.User{ID: "u1", DisplayName: "Alice", Email: "alice@example.com"}

	kicked := make(chan struct{}, 2)
	kick := func() { kicked <- struct{}{} }

	s1, err := h.Join(context.Background(), user, kick)
	require.NoError(t, err)
	s2, err := h.Join(context.Background(), user, kick)
	require.NoError(t, err)
	require.Equal(t, 2, h.Connections(user.ID))
	require.Equal(t, models.PresenceOnline, presence(t, store, user.ID))

	// Every session gets its own friends snapshot.
	for _, s := range []Session{s1, s2} {
		select {
		case msg := <-s.Events():
			require.Contains(t, []models.ServerMessageType{
				models.ServerMessageTypeFriends,
				models.ServerMessageTypeRequests,
				models.ServerMessageTypeGroups,
			}, msg.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("no initial snapshot")
		}
	}

	h.DisconnectUser(user.ID)
	require.Len(t, kicked, 2)

	h.Leave(s1)
	require.Equal(t, 1, h.Connections(user.ID))
	require.Equal(t, models.PresenceOnline, presence(t, store, user.ID))
	h.Leave(s1)
	require.Equal(t, 1, h.Connections(user.ID))
	require.Equal(t, models.PresenceOnline, presence(t, store, user.ID))

	h.Leave(s2)
	require.Equal(t, 0, h.Connections(user.ID))
	require.Equal(t, models.PresenceOffline, presence(t, store, user.ID))

	h.DisconnectUser(user.ID)
	require.Len(t, kicked, 2)
}

func TestHub_JoinHandlesFrames(t *testing.T) {
	h, _ := newTestHub(t)

	s, err := h.Join(context.Background(), models.User{ID: "u1", DisplayName: "Alice"}, func() {})
	require.NoError(t, err)
	t.Cleanup(func() { h.Leave(s) })

	s.Handle(context.Background(), models.ClientMessage{
		Type:      models.ClientMessageTypeCreateGroup,
		RequestID: "g1",
		Name:      "Book club",
	})

	require.Eventually(t, func() bool {
		for {
			select {
			case msg := <-s.Events():
				if msg.RequestID == "g1" {
					return msg.Type == models.ServerMessageTypeAck
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHub_PresenceAcrossDevices(t *testing.T) {
	h, store := newTestHub(t)
	user := models.User{ID: "u1", DisplayName: "Alice"}

	phone, err := h.Join(context.Background(), user, func() {})
	require.NoError(t, err)
	laptop, err := h.Join(context.Background(), user, func() {})
	require.NoError(t, err)

	// Busy on the laptop survives the phone reconnecting and dropping.
	laptop.Handle(context.Background(), models.ClientMessage{
		Type:      models.ClientMessageTypePresence,
		RequestID: "p1",
		Presence:  models.PresenceBusy,
	})
	require.Eventually(t, func() bool {
		return presence(t, store, user.ID) == models.PresenceBusy
	}, 2*time.Second, 5*time.Millisecond)

	h.Leave(phone)
	phone, err = h.Join(context.Background(), user, func() {})
	require.NoError(t, err)
	require.Equal(t, models.PresenceBusy, presence(t, store, user.ID))

	h.Leave(phone)
	require.Equal(t, models.PresenceBusy, presence(t, store, user.ID))

	h.Leave(laptop)
	require.Equal(t, models.PresenceOffline, presence(t, store, user.ID))
	require.Equal(t, 0, h.Connections(user.ID))
}

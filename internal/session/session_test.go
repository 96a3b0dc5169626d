package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"perepiska/internal/models"
	"perepiska/internal/storage"

	"github.com/stretchr/testify/require"
)

type fakeSubs struct {
	mu      sync.Mutex
	calls   []string
	openErr error
}

func (f *fakeSubs) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSubs) OpenMessages(_ context.Context, key string, _ int) error {
	f.record("open " + key)
	return f.openErr
}

func (f *fakeSubs) CloseMessages()   { f.record("close") }
func (f *fakeSubs) Focus(key string) { f.record("focus " + key) }
func (f *fakeSubs) Blur()            { f.record("blur") }

type window struct {
	key      string
	messages []models.Message
	scroll   bool
}

type sent struct {
	requestID string
	key       string
	text      string
	err       error
}

type fakeSink struct {
	mu      sync.Mutex
	windows []window
	sent    []sent
}

func (f *fakeSink) Window(key string, messages []models.Message, scroll bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, window{key, messages, scroll})
}

func (f *fakeSink) Sent(requestID, key, text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{requestID, key, text, err})
}

func (f *fakeSink) lastWindow(t *testing.T) window {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.windows)
	return f.windows[len(f.windows)-1]
}

type failingCreate struct {
	storage.DocumentStore
}

func (f failingCreate) Create(context.Context, string, storage.Fields) (string, error) {
	return "", &models.TransientStoreError{Op: "create", Err: errors.New("unavailable")}
}

var alice = models.User{ID: "alice", DisplayName: "Alice"}

func newStore(t *testing.T) *storage.BboltStore {
	t.Helper()
	store, err := storage.NewBboltStore(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSession(t *testing.T, store storage.DocumentStore) (*Session, *fakeSubs, *fakeSink) {
	t.Helper()
	subs := &fakeSubs{}
	sink := &fakeSink{}
	return New(alice, store, subs, sink, Config{ScrollThreshold: 50}), subs, sink
}

func messageDocs(t *testing.T, store storage.DocumentStore, key string) []models.Message {
	t.Helper()
	snap, err := store.Query(context.Background(), storage.MessagesQuery(key, 100))
	require.NoError(t, err)
	var out []models.Message
	for _, doc := range snap.Docs {
		m, err := storage.MessageFromDoc(key, doc)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func TestSession_Select(t *testing.T) {
	s, subs, _ := newSession(t, newStore(t))
	ctx := context.Background()

	key, err := s.Select(ctx, models.Peer{UserID: "bob"})
	require.NoError(t, err)
	require.Equal(t, "alice_bob", key)
	require.Equal(t, Focused, s.State())
	require.Equal(t, []string{"focus alice_bob", "open alice_bob"}, subs.calls)

	key, err = s.Select(ctx, models.Peer{GroupID: "g1"})
	require.NoError(t, err)
	require.Equal(t, "g1", key)
	require.Equal(t, models.Peer{GroupID: "g1"}, s.Peer())

	s.Leave()
	require.Equal(t, Unfocused, s.State())
	require.Empty(t, s.Key())
	require.Equal(t, []string{"close", "blur"}, subs.calls[len(subs.calls)-2:])

	// Leaving twice does nothing.
	n := len(subs.calls)
	s.Leave()
	require.Len(t, subs.calls, n)
}

func TestSession_SelectInvalid(t *testing.T) {
	s, subs, _ := newSession(t, newStore(t))
	ctx := context.Background()

	_, err := s.Select(ctx, models.Peer{})
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = s.Select(ctx, models.Peer{UserID: "alice"})
	require.ErrorIs(t, err, models.ErrValidation)

	require.Empty(t, subs.calls)
	require.Equal(t, Unfocused, s.State())
}

func TestSession_SelectOpenFails(t *testing.T) {
	s, subs, _ := newSession(t, newStore(t))
	subs.openErr = errors.New("boom")

	_, err := s.Select(context.Background(), models.Peer{UserID: "bob"})
	require.Error(t, err)
	require.Equal(t, Unfocused, s.State())
	require.Equal(t, "blur", subs.calls[len(subs.calls)-1])
}

func TestSession_ScrollRetention(t *testing.T) {
	s, _, sink := newSession(t, newStore(t))
	_, err := s.Select(context.Background(), models.Peer{UserID: "bob"})
	require.NoError(t, err)

	batch := []models.Message{{ID: "1", Text: "hello **bob**", CreatedAt: 1}}

	// First render always scrolls.
	s.Scroll(500)
	s.OnMessages("alice_bob", batch)
	w := sink.lastWindow(t)
	require.True(t, w.scroll)
	require.Contains(t, w.messages[0].HTML, "<strong>bob</strong>")

	// Reading history far from the bottom keeps the position.
	s.Scroll(500)
	batch = append(batch, models.Message{ID: "2", Text: "hi", CreatedAt: 2})
	s.OnMessages("alice_bob", batch)
	require.False(t, sink.lastWindow(t).scroll)

	// Near the bottom follows new messages.
	s.Scroll(10)
	batch = append(batch, models.Message{ID: "3", Text: "there", CreatedAt: 3})
	s.OnMessages("alice_bob", batch)
	require.True(t, sink.lastWindow(t).scroll)
	require.Len(t, s.Window(), 3)

	// Snapshots of other conversations are ignored.
	s.OnMessages("alice_carol", []models.Message{{ID: "x"}})
	require.Len(t, sink.windows, 3)
	require.Equal(t, "alice_bob", sink.lastWindow(t).key)
}

func TestSession_SendBlank(t *testing.T) {
	store := newStore(t)
	s, _, sink := newSession(t, store)
	ctx := context.Background()
	_, err := s.Select(ctx, models.Peer{UserID: "bob"})
	require.NoError(t, err)
	s.OnMessages("alice_bob", nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		err := s.Send(ctx, "r1", text)
		require.ErrorIs(t, err, models.ErrValidation)
	}
	s.Wait()

	require.Empty(t, messageDocs(t, store, "alice_bob"))
	require.Empty(t, sink.sent)
	require.Equal(t, Focused, s.State())
	require.Equal(t, "alice_bob", s.Key())
	require.Empty(t, s.Window())
}

func TestSession_Send(t *testing.T) {
	store := newStore(t)
	s, _, sink := newSession(t, store)
	ctx := context.Background()

	require.ErrorIs(t, s.Send(ctx, "r0", "hello"), models.ErrValidation)

	_, err := s.Select(ctx, models.Peer{UserID: "bob"})
	require.NoError(t, err)

	require.NoError(t, s.Send(ctx, "r1", "hello"))
	s.Wait()

	msgs := messageDocs(t, store, "alice_bob")
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Text)
	require.Equal(t, "alice", msgs[0].AuthorID)
	require.Equal(t, "Alice", msgs[0].AuthorName)
	require.NotZero(t, msgs[0].CreatedAt)

	require.Equal(t, []sent{{"r1", "alice_bob", "hello", nil}}, sink.sent)
	require.Empty(t, s.Draft())
}

func TestSession_SendFailureRestoresDraft(t *testing.T) {
	s, _, sink := newSession(t, failingCreate{newStore(t)})
	ctx := context.Background()
	_, err := s.Select(ctx, models.Peer{GroupID: "g1"})
	require.NoError(t, err)

	require.NoError(t, s.Send(ctx, "r1", "lost words"))
	s.Wait()

	require.Equal(t, "lost words", s.Draft())
	require.Len(t, sink.sent, 1)
	require.Equal(t, "lost words", sink.sent[0].text)
	require.ErrorIs(t, sink.sent[0].err, models.ErrTransientStore)
}

func TestSession_DeleteMessage(t *testing.T) {
	store := newStore(t)
	s, _, _ := newSession(t, store)
	ctx := context.Background()
	_, err := s.Select(ctx, models.Peer{UserID: "bob"})
	require.NoError(t, err)

	mine, err := storage.MessageFields(models.Message{Text: "mine", AuthorID: "alice"})
	require.NoError(t, err)
	mineID, err := store.Create(ctx, storage.MessagesCollection("alice_bob"), mine)
	require.NoError(t, err)

	theirs, err := storage.MessageFields(models.Message{Text: "theirs", AuthorID: "bob"})
	require.NoError(t, err)
	theirsID, err := store.Create(ctx, storage.MessagesCollection("alice_bob"), theirs)
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteMessage(ctx, theirsID), models.ErrValidation)
	require.ErrorIs(t, s.DeleteMessage(ctx, "missing"), models.ErrNotFound)
	require.NoError(t, s.DeleteMessage(ctx, mineID))

	msgs := messageDocs(t, store, "alice_bob")
	require.Len(t, msgs, 1)
	require.Equal(t, "theirs", msgs[0].Text)
}

func TestSession_CallRoom(t *testing.T) {
	s, _, _ := newSession(t, newStore(t))

	_, err := s.CallRoom()
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = s.Select(context.Background(), models.Peer{UserID: "bob"})
	require.NoError(t, err)

	room, err := s.CallRoom()
	require.NoError(t, err)
	require.Equal(t, models.CallRoom{RoomID: "alice_bob", UserID: "alice", DisplayName: "Alice"}, room)
}

func TestSession_Revoke(t *testing.T) {
	store := newStore(t)
	s, subs, _ := newSession(t, store)
	ctx := context.Background()

	_, err := s.Select(ctx, models.Peer{GroupID: "g1"})
	require.NoError(t, err)

	s.Revoke("other")
	require.Equal(t, "g1", s.Key())

	s.Revoke("g1")
	require.Equal(t, Unfocused, s.State())
	require.Empty(t, s.Key())
	require.Equal(t, []string{"focus g1", "open g1"}, subs.calls)

	err = s.Send(ctx, "r1", "still there?")
	require.ErrorIs(t, err, models.ErrValidation)
	require.Empty(t, messageDocs(t, store, "g1"))
}

// Package subscription owns the live queries that keep one client session in sync.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"perepiska/internal/conversation"
	"perepiska/internal/models"
	"perepiska/internal/storage"
	"perepiska/internal/unread"
)

const DefaultMessageLimit = 200

type Slot string

const (
	SlotFriends  Slot = "friends"
	SlotRequests Slot = "requests"
	SlotGroups   Slot = "groups"
	SlotMessages Slot = "messages"
	// SlotUnread is the family of background watchers feeding the unread tracker.
	SlotUnread Slot = "unread"
)

type State int

const (
	Closed State = iota
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "closed"
	}
}

// Handler receives decoded snapshots. Every list is the complete current result set
// and replaces whatever the handler had before.
// Methods are called with the manager locked: they must not call back into the Manager
// and should hand the data off quickly.
type Handler interface {
	Friends(friends []models.FriendEdge)
	Requests(requests []models.FriendRequest)
	Groups(groups []models.Group)
	Messages(key string, messages []models.Message)
	Unread(key string, count int)
	Fault(slot Slot, key string, err error)
	// Revoked reports that the open message subscription was closed because its
	// group no longer lists the user.
	Revoked(key string)
}

type slot struct {
	name  Slot
	key   string
	state State
	sub   storage.Subscription
	count int
}

// Manager keeps at most one subscription per slot, one message subscription at a time,
// and one background unread watcher per known conversation.
type Manager struct {
	store   storage.DocumentStore
	tracker *unread.Tracker
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	selfID   string
	slots    map[Slot]*slot
	watchers map[string]*slot

	// conversations known from the friend list and the group list, the watcher targets
	friendKeys map[string]struct{}
	groupKeys  map[string]struct{}
	watchCtx   context.Context
	watchLimit int
}

func New(store storage.DocumentStore, tracker *unread.Tracker, handler Handler) *Manager {
	return &Manager{
		store:      store,
		tracker:    tracker,
		handler:    handler,
		logger:     slog.Default().With("component", "subscription"),
		slots:      make(map[Slot]*slot),
		watchers:   make(map[string]*slot),
		friendKeys: make(map[string]struct{}),
		groupKeys:  make(map[string]struct{}),
		watchLimit: DefaultMessageLimit,
	}
}

// SetWatchLimit sets the message window of background unread watchers.
func (m *Manager) SetWatchLimit(limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 {
		m.watchLimit = limit
	}
}

// OpenFriends observes the user's own record and emits its friend set on every change.
// Background unread watchers follow the friend list.
func (m *Manager) OpenFriends(ctx context.Context, selfID string) error {
	q := storage.Query{
		Collection: storage.CollectionUsers,
		Filters:    []storage.Filter{storage.ByID(selfID)},
	}
	return m.open(ctx, selfID, SlotFriends, selfID, q, func(snap storage.Snapshot) error {
		friends := []models.FriendEdge{}
		if len(snap.Docs) > 0 {
			user, err := storage.UserFromDoc(snap.Docs[0])
			if err != nil {
				return err
			}
			if user.Friends != nil {
				friends = user.Friends
			}
		}

		keys := make(map[string]struct{}, len(friends))
		for _, f := range friends {
			keys[conversation.Direct(selfID, f.PeerID)] = struct{}{}
		}
		m.friendKeys = keys
		m.syncWatchersLocked()

		m.handler.Friends(friends)
		return nil
	})
}

// OpenRequests emits the pending friend requests addressed to selfID.
func (m *Manager) OpenRequests(ctx context.Context, selfID string) error {
	q := storage.Query{
		Collection: storage.CollectionFriendRequests,
		Filters: []storage.Filter{
			storage.Eq(storage.FieldTo, selfID),
			storage.Eq(storage.FieldStatus, models.RequestStatusPending),
		},
		Order: storage.Order{Field: storage.FieldCreatedAt},
	}
	return m.open(ctx, selfID, SlotRequests, selfID, q, func(snap storage.Snapshot) error {
		requests := make([]models.FriendRequest, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			r, err := storage.RequestFromDoc(doc)
			if err != nil {
				return err
			}
			requests = append(requests, r)
		}
		m.handler.Requests(requests)
		return nil
	})
}

// OpenGroups emits every group selfID belongs to, each annotated with its unread count
// at the time of emission.
func (m *Manager) OpenGroups(ctx context.Context, selfID string) error {
	q := storage.Query{
		Collection: storage.CollectionGroups,
		Filters:    []storage.Filter{storage.Contains(storage.FieldMembers, selfID)},
		Order:      storage.Order{Field: storage.FieldCreatedAt},
	}
	return m.open(ctx, selfID, SlotGroups, selfID, q, func(snap storage.Snapshot) error {
		groups := make([]models.Group, 0, len(snap.Docs))
		keys := make(map[string]struct{}, len(snap.Docs))
		for _, doc := range snap.Docs {
			g, err := storage.GroupFromDoc(doc)
			if err != nil {
				return err
			}
			keys[g.ID] = struct{}{}
			groups = append(groups, g)
		}
		m.revokeMessagesLocked(keys)
		m.groupKeys = keys
		m.syncWatchersLocked()

		for i := range groups {
			groups[i].Unread = m.tracker.Count(groups[i].ID)
		}
		m.handler.Groups(groups)
		return nil
	})
}

// OpenMessages switches the message slot to the conversation key. The previous message
// subscription is closed first, so nothing from it is delivered afterwards.
func (m *Manager) OpenMessages(ctx context.Context, key string, limit int) error {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	m.mu.Lock()
	selfID := m.selfID
	m.mu.Unlock()

	return m.open(ctx, selfID, SlotMessages, key, storage.MessagesQuery(key, limit), func(snap storage.Snapshot) error {
		messages, err := decodeMessages(key, snap)
		if err != nil {
			return err
		}
		m.handler.Messages(key, messages)
		return nil
	})
}

// CloseMessages closes the message slot if it is open.
func (m *Manager) CloseMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeSlotLocked(SlotMessages)
}

// CloseAll cancels every subscription, background watchers included. It is idempotent.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range m.slots {
		m.closeSlotLocked(name)
	}
	for key := range m.watchers {
		m.closeWatcherLocked(key)
	}
	m.friendKeys = make(map[string]struct{})
	m.groupKeys = make(map[string]struct{})
	m.watchCtx = nil
	m.selfID = ""
}

func (m *Manager) State(name Slot) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[name]; ok {
		return s.state
	}
	return Closed
}

// MessagesKey returns the conversation of the open message slot, or "".
func (m *Manager) MessagesKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[SlotMessages]; ok {
		return s.key
	}
	return ""
}

// Watching returns the conversation keys with a background unread watcher.
func (m *Manager) Watching() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.watchers))
	for k := range m.watchers {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) open(ctx context.Context, selfID string, name Slot, key string, q storage.Query, onSnapshot func(storage.Snapshot) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeSlotLocked(name)
	if selfID != "" {
		m.selfID = selfID
	}
	if name != SlotMessages {
		m.watchCtx = ctx
	}

	s := &slot{name: name, key: key, state: Open}
	m.slots[name] = s

	sub, err := m.store.LiveQuery(ctx, q, func(snap storage.Snapshot, err error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.slots[name] != s || s.state != Open {
			return
		}
		if err == nil {
			err = onSnapshot(snap)
		}
		if err != nil {
			m.logger.Error("subscription fault", "slot", name, "conversation", key, "error", err)
			m.closeSlotLocked(name)
			m.handler.Fault(name, key, err)
		}
	})
	if err != nil {
		delete(m.slots, name)
		return fmt.Errorf("failed to open %s subscription: %w", name, err)
	}
	s.sub = sub
	m.logger.Debug("subscription opened", "slot", name, "conversation", key)
	return nil
}

func (m *Manager) closeSlotLocked(name Slot) {
	s, ok := m.slots[name]
	if !ok {
		return
	}
	s.state = Closing
	if s.sub != nil {
		s.sub.Close()
	}
	s.state = Closed
	delete(m.slots, name)
	m.logger.Debug("subscription closed", "slot", name, "conversation", s.key)
}

// revokeMessagesLocked closes the message slot when it shows a group the user was in
// and is not any more.
func (m *Manager) revokeMessagesLocked(groupKeys map[string]struct{}) {
	s, ok := m.slots[SlotMessages]
	if !ok {
		return
	}
	if _, was := m.groupKeys[s.key]; !was {
		return
	}
	if _, still := groupKeys[s.key]; still {
		return
	}
	m.closeSlotLocked(SlotMessages)
	if m.tracker.Focused() == s.key {
		m.tracker.Blur()
	}
	m.logger.Info("group conversation revoked", "conversation", s.key)
	m.handler.Revoked(s.key)
}

// syncWatchersLocked opens a watcher for every known conversation without one and
// closes watchers of conversations that are gone.
func (m *Manager) syncWatchersLocked() {
	want := make(map[string]struct{}, len(m.friendKeys)+len(m.groupKeys))
	for k := range m.friendKeys {
		want[k] = struct{}{}
	}
	for k := range m.groupKeys {
		want[k] = struct{}{}
	}

	for key := range m.watchers {
		if _, ok := want[key]; !ok {
			m.closeWatcherLocked(key)
		}
	}
	if m.watchCtx == nil {
		return
	}
	for key := range want {
		if _, ok := m.watchers[key]; ok {
			continue
		}
		if err := m.openWatcherLocked(m.watchCtx, key); err != nil {
			m.logger.Error("failed to open unread watcher", "conversation", key, "error", err)
		}
	}
}

func (m *Manager) openWatcherLocked(ctx context.Context, key string) error {
	s := &slot{name: SlotUnread, key: key, state: Open}
	m.watchers[key] = s

	sub, err := m.store.LiveQuery(ctx, storage.MessagesQuery(key, m.watchLimit), func(snap storage.Snapshot, err error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.watchers[key] != s || s.state != Open {
			return
		}
		var messages []models.Message
		if err == nil {
			messages, err = decodeMessages(key, snap)
		}
		if err != nil {
			m.logger.Error("unread watcher fault", "conversation", key, "error", err)
			m.closeWatcherLocked(key)
			m.handler.Fault(SlotUnread, key, err)
			return
		}

		count := m.tracker.OnMessageBatch(key, messages)
		if count != s.count {
			s.count = count
			m.handler.Unread(key, count)
		}
	})
	if err != nil {
		delete(m.watchers, key)
		return err
	}
	s.sub = sub
	return nil
}

func (m *Manager) closeWatcherLocked(key string) {
	s, ok := m.watchers[key]
	if !ok {
		return
	}
	s.state = Closing
	if s.sub != nil {
		s.sub.Close()
	}
	s.state = Closed
	delete(m.watchers, key)
	m.tracker.Forget(key)
}

// Focus marks key as the conversation on screen: its unread count drops to zero and
// stays there until Blur.
func (m *Manager) Focus(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker.Focus(key)
	if s, ok := m.watchers[key]; ok && s.count != 0 {
		s.count = 0
		m.handler.Unread(key, 0)
	}
}

func (m *Manager) Blur() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker.Blur()
}

func decodeMessages(key string, snap storage.Snapshot) ([]models.Message, error) {
	messages := make([]models.Message, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		msg, err := storage.MessageFromDoc(key, doc)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

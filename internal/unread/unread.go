// Package unread keeps per-conversation unread counters for one client session.
package unread

import (
	"sync"

	"perepiska/internal/models"

	"github.com/c-pro/geche"
)

type entry struct {
	count int
	// hwm is the creation time of the newest message already accounted for.
	hwm    int64
	primed bool
}

// Tracker counts messages that arrive in conversations the client is not looking at.
// Live updates redeliver the whole message window, so only messages newer than the
// per-conversation high-water mark are counted. The focused conversation stays at zero.
type Tracker struct {
	selfID  string
	entries *geche.Locker[string, *entry]

	mu      sync.Mutex
	focused string
}

func New(selfID string) *Tracker {
	return &Tracker{
		selfID:  selfID,
		entries: geche.NewLocker[string, *entry](geche.NewMapCache[string, *entry]()),
	}
}

// OnMessageBatch accounts for one live update of a conversation's message window and
// returns the resulting unread count.
// The first batch seen for a conversation only sets the high-water mark: history that
// was there before the client started watching is not unread.
func (t *Tracker) OnMessageBatch(key string, messages []models.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := t.entries.Lock()
	defer tx.Unlock()

	e, err := tx.Get(key)
	if err != nil {
		e = &entry{}
		tx.Set(key, e)
	}

	fresh := 0
	hwm := e.hwm
	for _, m := range messages {
		if m.CreatedAt <= e.hwm {
			continue
		}
		if m.CreatedAt > hwm {
			hwm = m.CreatedAt
		}
		if m.AuthorID != t.selfID {
			fresh++
		}
	}
	e.hwm = hwm

	switch {
	case !e.primed:
		e.primed = true
	case key == t.focused:
		e.count = 0
	default:
		e.count += fresh
	}
	return e.count
}

// MarkRead resets the conversation's counter.
func (t *Tracker) MarkRead(key string) {
	tx := t.entries.Lock()
	defer tx.Unlock()

	if e, err := tx.Get(key); err == nil {
		e.count = 0
	}
}

// Focus marks key as the conversation on screen and resets its counter.
func (t *Tracker) Focus(key string) {
	t.mu.Lock()
	t.focused = key
	t.mu.Unlock()
	t.MarkRead(key)
}

// Blur clears the focused conversation.
func (t *Tracker) Blur() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.focused = ""
}

func (t *Tracker) Focused() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.focused
}

func (t *Tracker) Count(key string) int {
	tx := t.entries.Lock()
	defer tx.Unlock()

	e, err := tx.Get(key)
	if err != nil {
		return 0
	}
	return e.count
}

// Forget drops everything known about a conversation.
func (t *Tracker) Forget(key string) {
	tx := t.entries.Lock()
	defer tx.Unlock()
	_ = tx.Del(key)
}

// Primed reports whether the conversation's first batch has been seen.
func (t *Tracker) Primed(key string) bool {
	tx := t.entries.Lock()
	defer tx.Unlock()

	e, err := tx.Get(key)
	return err == nil && e.primed
}

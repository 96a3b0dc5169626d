package storage

import (
	"context"
	"errors"
	"sync"
)

var ErrStoreClosed = errors.New("store closed")

// watcher re-evaluates its query whenever its collection changes.
// Wake-ups coalesce, and every evaluation reads the latest committed state, so a burst of
// writes produces one snapshot holding all of them. Snapshots with a version not newer
// than the last delivered one are dropped.
type watcher struct {
	store *BboltStore
	query Query
	fn    SnapshotFunc

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	delivered uint64
	started   bool
}

// LiveQuery delivers the current result set of q to fn and then a fresh snapshot after
// every committed change to the collection, until the subscription is closed or ctx ends.
// fn is called from a single goroutine per subscription.
func (s *BboltStore) LiveQuery(ctx context.Context, q Query, fn SnapshotFunc) (Subscription, error) {
	q, err := q.normalized()
	if err != nil {
		return nil, storeErr("live query", err)
	}

	w := &watcher{
		store: s,
		query: q,
		fn:    fn,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, storeErr("live query", ErrStoreClosed)
	}
	set, ok := s.watchers[q.Collection]
	if !ok {
		set = make(map[*watcher]struct{})
		s.watchers[q.Collection] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()

	w.signal()
	go w.run(ctx)

	return w, nil
}

func (s *BboltStore) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers[collection] {
		w.signal()
	}
}

func (s *BboltStore) unregister(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.watchers[w.query.Collection]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(s.watchers, w.query.Collection)
		}
	}
}

func (w *watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.wake:
		}

		snap, err := w.store.evaluate(w.query)
		if w.stopped() {
			return
		}
		if err != nil {
			w.store.logger.Error("live query failed", "collection", w.query.Collection, "error", err)
			w.fn(Snapshot{}, storeErr("live query", err))
			return
		}
		if w.started && snap.Version <= w.delivered {
			continue
		}
		w.started = true
		w.delivered = snap.Version
		w.fn(snap, nil)
	}
}

func (w *watcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *watcher) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Close stops the watcher. A callback already running is allowed to finish.
func (w *watcher) Close() {
	w.stop()
	w.store.unregister(w)
}

func (w *watcher) Done() <-chan struct{} {
	return w.done
}

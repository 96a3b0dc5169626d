package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"perepiska/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketMeta = []byte("meta")
	bucketDocs = []byte("docs")

	keyVersion = []byte("version")
	keyClock   = []byte("clock")
)

var errInvalid = errors.New("invalid request")

// BboltStore is a DocumentStore kept in a single bbolt file.
// Every collection is a nested bucket under "docs"; the "meta" bucket holds the commit
// version used to order snapshots and the server clock.
type BboltStore struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
	closed   bool
}

func NewBboltStore(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketDocs); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStore{
		db:       db,
		logger:   slog.Default().With("component", "storage"),
		now:      time.Now,
		watchers: make(map[string]map[*watcher]struct{}),
	}, nil
}

// Close stops every live query and closes the database.
func (s *BboltStore) Close() error {
	s.mu.Lock()
	s.closed = true
	var all []*watcher
	for _, set := range s.watchers {
		for w := range set {
			all = append(all, w)
		}
	}
	s.watchers = make(map[string]map[*watcher]struct{})
	s.mu.Unlock()

	for _, w := range all {
		w.stop()
	}
	return s.db.Close()
}

// Upsert writes fields under id, either replacing or merging into an existing document.
func (s *BboltStore) Upsert(ctx context.Context, collection, id string, fields Fields, policy MergePolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if collection == "" || id == "" {
		return fmt.Errorf("upsert: empty collection or id: %w", errInvalid)
	}
	err := s.write(collection, func(tx *bbolt.Tx, b *bbolt.Bucket) error {
		doc := Fields{}
		if policy == Merge {
			if data := b.Get([]byte(id)); data != nil {
				existing, err := decodeFields(data)
				if err != nil {
					return err
				}
				doc = existing
			}
		}
		for k, v := range fields {
			resolved, err := s.resolve(tx, v)
			if err != nil {
				return err
			}
			doc[k] = resolved
		}
		return putDoc(b, id, doc)
	})
	return storeErr("upsert", err)
}

// Create stores a new document under a generated id.
func (s *BboltStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if collection == "" {
		return "", storeErr("create", fmt.Errorf("create: empty collection: %w", errInvalid))
	}
	id := uuid.NewString()
	err := s.write(collection, func(tx *bbolt.Tx, b *bbolt.Bucket) error {
		doc := make(Fields, len(fields))
		for k, v := range fields {
			resolved, err := s.resolve(tx, v)
			if err != nil {
				return err
			}
			doc[k] = resolved
		}
		return putDoc(b, id, doc)
	})
	if err != nil {
		return "", storeErr("create", err)
	}
	return id, nil
}

// Update applies field mutations to an existing document.
func (s *BboltStore) Update(ctx context.Context, ref DocRef, mutations ...Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.write(ref.Collection, func(tx *bbolt.Tx, b *bbolt.Bucket) error {
		data := b.Get([]byte(ref.ID))
		if data == nil {
			return &models.NotFoundError{What: ref.Collection, Key: ref.ID}
		}
		doc, err := decodeFields(data)
		if err != nil {
			return err
		}
		for _, m := range mutations {
			if err := s.apply(tx, doc, m); err != nil {
				return err
			}
		}
		return putDoc(b, ref.ID, doc)
	})
	return storeErr("update", err)
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *BboltStore) Delete(ctx context.Context, ref DocRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.write(ref.Collection, func(tx *bbolt.Tx, b *bbolt.Bucket) error {
		return b.Delete([]byte(ref.ID))
	})
	return storeErr("delete", err)
}

func (s *BboltStore) Get(ctx context.Context, ref DocRef) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	var doc Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := collectionBucket(tx, ref.Collection)
		if b == nil {
			return &models.NotFoundError{What: ref.Collection, Key: ref.ID}
		}
		data := b.Get([]byte(ref.ID))
		if data == nil {
			return &models.NotFoundError{What: ref.Collection, Key: ref.ID}
		}
		fields, err := decodeFields(data)
		if err != nil {
			return err
		}
		doc = Document{Collection: ref.Collection, ID: ref.ID, Fields: fields}
		return nil
	})
	return doc, storeErr("get", err)
}

// Query returns a one-shot snapshot of the matching documents.
func (s *BboltStore) Query(ctx context.Context, q Query) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	q, err := q.normalized()
	if err != nil {
		return Snapshot{}, storeErr("query", err)
	}
	snap, err := s.evaluate(q)
	return snap, storeErr("query", err)
}

func (s *BboltStore) evaluate(q Query) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		snap.Version = readUint(tx.Bucket(bucketMeta), keyVersion)
		b := collectionBucket(tx, q.Collection)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if v == nil {
				return nil
			}
			fields, err := decodeFields(v)
			if err != nil {
				return err
			}
			doc := Document{Collection: q.Collection, ID: string(k), Fields: fields}
			if q.matches(doc) {
				snap.Docs = append(snap.Docs, doc)
			}
			return nil
		})
	})
	if err != nil {
		return Snapshot{}, err
	}

	slices.SortStableFunc(snap.Docs, func(a, b Document) int {
		c := compareValues(fieldValue(a, q.Order.Field), fieldValue(b, q.Order.Field))
		if c == 0 {
			c = compareValues(a.ID, b.ID)
		}
		if q.Order.Desc {
			return -c
		}
		return c
	})

	if q.Limit > 0 && len(snap.Docs) > q.Limit {
		if q.LimitToLast {
			snap.Docs = snap.Docs[len(snap.Docs)-q.Limit:]
		} else {
			snap.Docs = snap.Docs[:q.Limit]
		}
	}
	return snap, nil
}

// write runs fn in a read-write transaction on the collection bucket, bumps the commit
// version and wakes up live queries on the collection once the transaction is committed.
func (s *BboltStore) write(collection string, fn func(tx *bbolt.Tx, b *bbolt.Bucket) error) error {
	if collection == "" {
		return fmt.Errorf("empty collection: %w", errInvalid)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketDocs).CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("failed to create collection bucket: %w", err)
		}
		if err := fn(tx, b); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		return putUint(meta, keyVersion, readUint(meta, keyVersion)+1)
	})
	if err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

// resolve swaps the ServerTimestamp placeholder for the store clock.
func (s *BboltStore) resolve(tx *bbolt.Tx, v any) (any, error) {
	if _, ok := v.(serverTimestamp); ok {
		return s.tick(tx)
	}
	return normalize(v)
}

// tick returns a millisecond timestamp strictly greater than every one handed out before.
func (s *BboltStore) tick(tx *bbolt.Tx) (int64, error) {
	meta := tx.Bucket(bucketMeta)
	last := int64(readUint(meta, keyClock))
	ts := s.now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}
	return ts, putUint(meta, keyClock, uint64(ts))
}

func (s *BboltStore) apply(tx *bbolt.Tx, doc Fields, m Mutation) error {
	if m.Field == "" || m.Field == FieldID {
		return fmt.Errorf("mutation on field %q: %w", m.Field, errInvalid)
	}
	value, err := s.resolve(tx, m.Value)
	if err != nil {
		return err
	}

	switch m.Kind {
	case MutationSet:
		doc[m.Field] = value
	case MutationAppendToSet:
		arr, _ := doc[m.Field].([]any)
		for _, e := range arr {
			if equalValues(e, value) {
				return nil
			}
		}
		doc[m.Field] = append(arr, value)
	case MutationRemoveFromSet:
		arr, _ := doc[m.Field].([]any)
		out := make([]any, 0, len(arr))
		for _, e := range arr {
			if !equalValues(e, value) {
				out = append(out, e)
			}
		}
		doc[m.Field] = out
	default:
		return fmt.Errorf("unknown mutation kind %d: %w", m.Kind, errInvalid)
	}
	return nil
}

func (q Query) normalized() (Query, error) {
	if q.Collection == "" {
		return q, fmt.Errorf("query: empty collection: %w", errInvalid)
	}
	if q.Limit < 0 {
		return q, fmt.Errorf("query: negative limit: %w", errInvalid)
	}
	filters := make([]Filter, len(q.Filters))
	for i, f := range q.Filters {
		v, err := normalize(f.Value)
		if err != nil {
			return q, err
		}
		filters[i] = Filter{Field: f.Field, Op: f.Op, Value: v}
	}
	q.Filters = filters
	return q, nil
}

func collectionBucket(tx *bbolt.Tx, collection string) *bbolt.Bucket {
	return tx.Bucket(bucketDocs).Bucket([]byte(collection))
}

func putDoc(b *bbolt.Bucket, id string, doc Fields) error {
	data, err := doc.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return b.Put([]byte(id), data)
}

func readUint(b *bbolt.Bucket, key []byte) uint64 {
	v := b.Get(key)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func putUint(b *bbolt.Bucket, key []byte, n uint64) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, n)
	return b.Put(key, v)
}

// storeErr classifies a failure: caller mistakes and missing documents pass through,
// anything else is the store being unavailable.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, errInvalid),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, models.ErrTransientStore):
		return err
	default:
		return &models.TransientStoreError{Op: op, Err: err}
	}
}

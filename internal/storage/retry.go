package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"perepiska/internal/models"

	"github.com/cenkalti/backoff/v4"
)

type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

// RetryingStore retries idempotent operations that fail with a transient store error.
// Create is passed through untouched: a retried create can produce a duplicate document.
type RetryingStore struct {
	next   DocumentStore
	policy RetryPolicy
	logger *slog.Logger
}

func NewRetryingStore(next DocumentStore, policy RetryPolicy) *RetryingStore {
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 100 * time.Millisecond
	}
	return &RetryingStore{
		next:   next,
		policy: policy,
		logger: slog.Default().With("component", "storage"),
	}
}

func (r *RetryingStore) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(backoff.WithInitialInterval(r.policy.InitialInterval))
	return backoff.WithContext(backoff.WithMaxRetries(b, r.policy.MaxRetries), ctx)
}

func (r *RetryingStore) notify(op string) backoff.Notify {
	return func(err error, next time.Duration) {
		r.logger.Warn("retrying store operation", "op", op, "in", next, "error", err)
	}
}

func retryable[T any](fn func() (T, error)) backoff.OperationWithData[T] {
	return func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, models.ErrTransientStore) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
}

func (r *RetryingStore) do(ctx context.Context, op string, fn func() error) error {
	_, err := backoff.RetryNotifyWithData(retryable(func() (struct{}, error) {
		return struct{}{}, fn()
	}), r.backOff(ctx), r.notify(op))
	return err
}

func (r *RetryingStore) Upsert(ctx context.Context, collection, id string, fields Fields, policy MergePolicy) error {
	return r.do(ctx, "upsert", func() error {
		return r.next.Upsert(ctx, collection, id, fields, policy)
	})
}

func (r *RetryingStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	return r.next.Create(ctx, collection, fields)
}

// Update is retried only when every mutation is idempotent; all mutation kinds are.
func (r *RetryingStore) Update(ctx context.Context, ref DocRef, mutations ...Mutation) error {
	return r.do(ctx, "update", func() error {
		return r.next.Update(ctx, ref, mutations...)
	})
}

func (r *RetryingStore) Delete(ctx context.Context, ref DocRef) error {
	return r.do(ctx, "delete", func() error {
		return r.next.Delete(ctx, ref)
	})
}

func (r *RetryingStore) Get(ctx context.Context, ref DocRef) (Document, error) {
	return backoff.RetryNotifyWithData(retryable(func() (Document, error) {
		return r.next.Get(ctx, ref)
	}), r.backOff(ctx), r.notify("get"))
}

func (r *RetryingStore) Query(ctx context.Context, q Query) (Snapshot, error) {
	return backoff.RetryNotifyWithData(retryable(func() (Snapshot, error) {
		return r.next.Query(ctx, q)
	}), r.backOff(ctx), r.notify("query"))
}

// LiveQuery retries opening the subscription. Faults on an open stream are not retried.
func (r *RetryingStore) LiveQuery(ctx context.Context, q Query, fn SnapshotFunc) (Subscription, error) {
	return backoff.RetryNotifyWithData(retryable(func() (Subscription, error) {
		return r.next.LiveQuery(ctx, q, fn)
	}), r.backOff(ctx), r.notify("live query"))
}

// ABOUTME: Store decorator bounding every adapter call with a deadline
// ABOUTME: Deadline expiry surfaces as the retryable Unavailable kind

package docstore

import (
	"context"
	"time"

	"github.com/juju/errors"

	metaerrors "github.com/nainya/metastore/pkg/errors"
)

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout wraps s so that no call outlives d. A non-positive d returns s
// unchanged. Backends that ignore their context are still abandoned at the
// deadline; their eventual result is discarded.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: d}
}

func bounded[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			var zero T
			return zero, errors.Annotatef(metaerrors.Unavailable, "%s: deadline of %s exceeded", op, d)
		}
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, errors.Annotatef(metaerrors.Unavailable, "%s: deadline of %s exceeded", op, d)
		}
		return zero, errors.Annotatef(metaerrors.Unavailable, "%s: %v", op, ctx.Err())
	}
}

func (t *timeoutStore) CreateUnique(ctx context.Context, key string, attrs map[string]any) error {
	_, err := bounded(ctx, t.timeout, "create", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.CreateUnique(ctx, key, attrs)
	})
	return err
}

func (t *timeoutStore) Get(ctx context.Context, key string) (Record, error) {
	return bounded(ctx, t.timeout, "get", func(ctx context.Context) (Record, error) {
		return t.next.Get(ctx, key)
	})
}

func (t *timeoutStore) UpdateRaw(ctx context.Context, key string, attrs map[string]any) error {
	_, err := bounded(ctx, t.timeout, "update", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.UpdateRaw(ctx, key, attrs)
	})
	return err
}

func (t *timeoutStore) Query(ctx context.Context, p Predicate) ([]Record, error) {
	return bounded(ctx, t.timeout, "query", func(ctx context.Context) ([]Record, error) {
		return t.next.Query(ctx, p)
	})
}

func (t *timeoutStore) CreateFulltextIndex(ctx context.Context, field string) error {
	_, err := bounded(ctx, t.timeout, "create index", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.CreateFulltextIndex(ctx, field)
	})
	return err
}

func (t *timeoutStore) FulltextSearch(ctx context.Context, field, term string) ([]string, error) {
	return bounded(ctx, t.timeout, "fulltext search", func(ctx context.Context) ([]string, error) {
		return t.next.FulltextSearch(ctx, field, term)
	})
}

func (t *timeoutStore) FulltextIndexes(ctx context.Context) ([]string, error) {
	return bounded(ctx, t.timeout, "list indexes", func(ctx context.Context) ([]string, error) {
		return t.next.FulltextIndexes(ctx)
	})
}

func (t *timeoutStore) Close() error {
	return t.next.Close()
}

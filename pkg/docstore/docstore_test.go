// ABOUTME: Tests for the in-memory store, timeout decorator and matcher
// ABOUTME: Runs the shared storetest suite against MemoryStore

package docstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/metastore/pkg/docstore"
	"github.com/nainya/metastore/pkg/docstore/storetest"
	metaerrors "github.com/nainya/metastore/pkg/errors"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		return docstore.NewMemoryStore()
	})
}

func TestMemoryStoreWithTimeout(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		return docstore.WithTimeout(docstore.NewMemoryStore(), time.Second)
	})
}

func TestMemoryStoreClosed(t *testing.T) {
	s := docstore.NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.Unavailable))
}

// slowStore blocks every call until release is closed.
type slowStore struct {
	docstore.Store
	release chan struct{}
}

func (s *slowStore) Get(ctx context.Context, key string) (docstore.Record, error) {
	<-s.release
	return s.Store.Get(ctx, key)
}

func (s *slowStore) Query(ctx context.Context, p docstore.Predicate) ([]docstore.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.release:
	}
	return s.Store.Query(ctx, p)
}

func TestWithTimeoutAbandonsBlockedCall(t *testing.T) {
	slow := &slowStore{Store: docstore.NewMemoryStore(), release: make(chan struct{})}
	defer close(slow.release)
	s := docstore.WithTimeout(slow, 20*time.Millisecond)

	start := time.Now()
	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.Unavailable), "got %v", err)
	assert.True(t, metaerrors.IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second)

	_, err = s.Query(context.Background(), docstore.Predicate{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.Unavailable), "got %v", err)
}

func TestWithTimeoutPassesErrorsThrough(t *testing.T) {
	s := docstore.WithTimeout(docstore.NewMemoryStore(), time.Second)
	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.NotFound))
	assert.False(t, errors.Is(err, metaerrors.Unavailable))
}

func TestWithTimeoutDisabled(t *testing.T) {
	mem := docstore.NewMemoryStore()
	assert.Same(t, docstore.Store(mem), docstore.WithTimeout(mem, 0))
}

func TestLookupFansOutArrays(t *testing.T) {
	attrs := map[string]any{
		"json": map[string]any{
			"mods": map[string]any{
				"name": []any{
					map[string]any{"part": "Ada"},
					map[string]any{"part": []any{"Grace", "Hopper"}},
				},
			},
		},
	}
	assert.Equal(t, []any{"Ada", "Grace", "Hopper"}, docstore.Lookup(attrs, "json.mods.name.part"))
	assert.Empty(t, docstore.Lookup(attrs, "json.mods.missing"))
}

func TestFieldPathRoundTrip(t *testing.T) {
	for _, names := range [][]string{
		{"json", "mods", "title"},
		{"json", "part", "dc.title"},
		{"json", `odd\name`, "a..b"},
	} {
		path := docstore.FieldPath(names...)
		assert.Equal(t, names, docstore.SplitPath(path), path)
	}
	assert.Equal(t, `json.part.dc\.title`, docstore.FieldPath("json", "part", "dc.title"))
	assert.True(t, docstore.Escaped(`json.part.dc\.title`))
	assert.False(t, docstore.Escaped("json.part.title"))

	attrs := map[string]any{"json": map[string]any{"part": map[string]any{"dc.title": "x"}}}
	assert.Equal(t, []any{"x"}, docstore.Lookup(attrs, docstore.FieldPath("json", "part", "dc.title")))
	assert.Empty(t, docstore.Lookup(attrs, "json.part.dc.title"))
}

func TestMatcher(t *testing.T) {
	m := docstore.NewMatcher("STRA")
	assert.True(t, m.Match([]any{"Die Straße"}))
	assert.False(t, m.Match([]any{"Autostrada"}))
	assert.True(t, m.Match([]any{map[string]any{"#text": "strahl"}}))
	assert.False(t, docstore.NewMatcher("  ").Match([]any{"anything"}))
}

func TestPredicateMatches(t *testing.T) {
	p := docstore.Predicate{"kind": "section", "type": "urn:a"}
	assert.True(t, p.Matches(map[string]any{"kind": "section", "type": "urn:a", "x": 1.0}))
	assert.False(t, p.Matches(map[string]any{"kind": "section"}))
	assert.False(t, p.Matches(map[string]any{"kind": "section", "type": 3.0}))
}

// ABOUTME: Behavioural test suite every docstore.Store backend must pass
// ABOUTME: Backends call Run from their own _test.go with a constructor

package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
)

// Run exercises the Store contract against stores produced by newStore.
// Each subtest receives a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) docstore.Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateUniqueConflict", func(t *testing.T) { testCreateConflict(t, newStore(t)) })
	t.Run("ConcurrentCreateUnique", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpdateRawMerges", func(t *testing.T) { testUpdateRaw(t, newStore(t)) })
	t.Run("Query", func(t *testing.T) { testQuery(t, newStore(t)) })
	t.Run("Fulltext", func(t *testing.T) { testFulltext(t, newStore(t)) })
	t.Run("FulltextDottedNames", func(t *testing.T) { testFulltextDottedNames(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	attrs := map[string]any{
		"kind": "section",
		"json": map[string]any{"rec": map[string]any{"title": []any{"a", "b"}}},
	}
	require.NoError(t, s.CreateUnique(ctx, "k1", attrs))

	rec, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", rec.Key)
	assert.Equal(t, "section", rec.String("kind"))
	assert.Equal(t, attrs["json"], rec.Attrs["json"])

	// mutating the returned record must not leak into the store
	rec.Attrs["kind"] = "changed"
	again, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "section", again.String("kind"))
}

func testCreateConflict(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateUnique(ctx, "dup", map[string]any{"v": "1"}))

	err := s.CreateUnique(ctx, "dup", map[string]any{"v": "2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.Conflict), "got %v", err)

	rec, err := s.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "1", rec.String("v"))
}

func testConcurrentCreate(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- s.CreateUnique(ctx, "race", map[string]any{"writer": fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, metaerrors.Conflict), "got %v", err)
	}
	assert.Equal(t, 1, wins)
}

func testGetMissing(t *testing.T, s docstore.Store) {
	_, err := s.Get(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.NotFound), "got %v", err)

	err = s.UpdateRaw(context.Background(), "absent", map[string]any{"a": "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.NotFound), "got %v", err)
}

func testUpdateRaw(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateUnique(ctx, "u", map[string]any{"a": "1", "b": "1"}))
	require.NoError(t, s.UpdateRaw(ctx, "u", map[string]any{
		"b":       "2",
		"history": []any{map[string]any{"xmlData": "<x/>"}},
	}))

	rec, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "1", rec.String("a"))
	assert.Equal(t, "2", rec.String("b"))
	assert.Equal(t, []any{map[string]any{"xmlData": "<x/>"}}, rec.Attrs["history"])
}

func testQuery(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateUnique(ctx, "s2", map[string]any{"kind": "section", "parentId": "p1", "type": "urn:a"}))
	require.NoError(t, s.CreateUnique(ctx, "s1", map[string]any{"kind": "section", "parentId": "p1", "type": "urn:b"}))
	require.NoError(t, s.CreateUnique(ctx, "s3", map[string]any{"kind": "section", "parentId": "p2", "type": "urn:a"}))
	require.NoError(t, s.CreateUnique(ctx, "d1", map[string]any{"kind": "document"}))

	recs, err := s.Query(ctx, docstore.Predicate{"kind": "section", "parentId": "p1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s1", recs[0].Key)
	assert.Equal(t, "s2", recs[1].Key)

	recs, err = s.Query(ctx, docstore.Predicate{"kind": "section", "parentId": "p1", "type": "urn:a"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "s2", recs[0].Key)

	recs, err = s.Query(ctx, docstore.Predicate{"kind": "section", "parentId": "nope"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testFulltext(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateUnique(ctx, "a", map[string]any{
		"json": map[string]any{"rec": map[string]any{"title": []any{"Über Goethe", "Faust"}}},
	}))
	require.NoError(t, s.CreateUnique(ctx, "b", map[string]any{
		"json": map[string]any{"rec": map[string]any{"title": "Schiller's Räuber"}},
	}))

	require.NoError(t, s.CreateFulltextIndex(ctx, "json.rec.title"))
	require.NoError(t, s.CreateFulltextIndex(ctx, "json.rec.title"))
	require.NoError(t, s.CreateFulltextIndex(ctx, "json.rec.author"))

	fields, err := s.FulltextIndexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"json.rec.author", "json.rec.title"}, fields)

	keys, err := s.FulltextSearch(ctx, "json.rec.title", "goe")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)

	keys, err = s.FulltextSearch(ctx, "json.rec.title", "RÄU")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	// prefix of a word only, never a substring
	keys, err = s.FulltextSearch(ctx, "json.rec.title", "oethe")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testFulltextDottedNames(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateUnique(ctx, "d", map[string]any{
		"json": map[string]any{"part": map[string]any{"dc.title": "Zebrafish atlas", "dc": map[string]any{"title": "decoy"}}},
	}))

	field := "json." + docstore.FieldPath("part", "dc.title")
	require.NoError(t, s.CreateFulltextIndex(ctx, field))
	fields, err := s.FulltextIndexes(ctx)
	require.NoError(t, err)
	assert.Contains(t, fields, field)

	keys, err := s.FulltextSearch(ctx, field, "zebra")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, keys)

	keys, err = s.FulltextSearch(ctx, field, "decoy")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

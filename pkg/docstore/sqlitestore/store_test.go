package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/metastore/pkg/docstore"
	"github.com/nainya/metastore/pkg/docstore/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "metastore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		return openTemp(t)
	})
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metastore.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.CreateUnique(ctx, "k", map[string]any{"kind": "document", "xml": "<a/>"}))
	require.NoError(t, s1.CreateFulltextIndex(ctx, "json.a"))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "<a/>", rec.String("xml"))

	fields, err := s2.FulltextIndexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"json.a"}, fields)
}

func TestQuery_StringEqualityIsExact(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.CreateUnique(ctx, "n", map[string]any{"sectionId": 1}))
	require.NoError(t, s.CreateUnique(ctx, "s", map[string]any{"sectionId": "1"}))

	recs, err := s.Query(ctx, docstore.Predicate{"sectionId": "1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "s", recs[0].Key)
}

func TestJSONPathQuoting(t *testing.T) {
	assert.Equal(t, `$."parentId"`, jsonPath("parentId"))
	assert.Equal(t, `$."a\"b"`, jsonPath(`a"b`))
}

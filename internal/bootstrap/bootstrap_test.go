package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/metastore/internal/testfixtures"
	"github.com/nainya/metastore/pkg/docstore"
	"github.com/nainya/metastore/pkg/registry"
)

func writeSchema(t *testing.T, dir, name, fixture string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(testfixtures.Read(fixture)), 0o644))
	return path
}

func TestRegisterFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := registry.New(docstore.NewMemoryStore(), zerolog.Nop())

	files := map[string]string{
		"mods": writeSchema(t, dir, "a.xsd", "mods.xsd"),
		"dc":   writeSchema(t, dir, "b.xsd", "dc.xsd"),
	}
	results, err := RegisterFiles(ctx, reg, files, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "dc", results[0].Prefix)
	assert.Equal(t, testfixtures.DCNamespace, results[0].Namespace)
	assert.Equal(t, registry.Registered, results[1].Outcome)

	results, err = RegisterFiles(ctx, reg, files, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, registry.AlreadyRegistered, results[0].Outcome)

	_, err = RegisterFiles(ctx, reg, map[string]string{"x": filepath.Join(dir, "missing.xsd")}, zerolog.Nop())
	assert.Error(t, err)
}

func TestScanDirSkipsOtherFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := registry.New(docstore.NewMemoryStore(), zerolog.Nop())

	writeSchema(t, dir, "mods.xsd", "mods.xsd")
	writeSchema(t, dir, "notes.txt", "dc.xsd")
	writeSchema(t, dir, ".hidden.xsd", "dc.xsd")

	results, err := ScanDir(ctx, reg, dir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mods", results[0].Prefix)
	assert.NoError(t, results[0].Err)

	prefixes, err := reg.ListPrefixes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mods"}, prefixes)
}

func TestPrefixOf(t *testing.T) {
	p, ok := PrefixOf("/schemas/mods.xsd")
	assert.True(t, ok)
	assert.Equal(t, "mods", p)

	p, ok = PrefixOf("DC.XSD")
	assert.True(t, ok)
	assert.Equal(t, "DC", p)

	for _, name := range []string{"mods.xml", ".xsd", ".mods.xsd", "mods"} {
		_, ok := PrefixOf(name)
		assert.False(t, ok, name)
	}
}

func TestWatcherRegistersNewFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	reg := registry.New(docstore.NewMemoryStore(), zerolog.Nop())

	w, err := NewWatcher(dir, reg, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()
	go w.Run(ctx)

	// Write elsewhere and rename so the watcher only sees complete files.
	staged := writeSchema(t, t.TempDir(), "staged", "partA.xsd")
	require.NoError(t, os.Rename(staged, filepath.Join(dir, "partA.xsd")))

	select {
	case res := <-w.Results():
		require.NoError(t, res.Err)
		assert.Equal(t, "partA", res.Prefix)
		assert.Equal(t, testfixtures.PartANamespace, res.Namespace)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not register the schema")
	}

	ns, err := reg.ResolveNamespace(ctx, "partA")
	require.NoError(t, err)
	assert.Equal(t, testfixtures.PartANamespace, ns)
}

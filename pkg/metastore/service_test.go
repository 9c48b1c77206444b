// ABOUTME: Tests for the metastore service operations over the memory store
// ABOUTME: Covers store, update, section history, listing and fallback search

package metastore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/metastore/internal/testfixtures"
	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
	"github.com/nainya/metastore/pkg/index"
	"github.com/nainya/metastore/pkg/mets"
	"github.com/nainya/metastore/pkg/registry"
	"github.com/nainya/metastore/pkg/search"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, store docstore.Store, cfg Config) *Service {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = testclock.NewClock(epoch)
	}
	s := New(cfg, store, nil, zerolog.Nop())
	require.NoError(t, testfixtures.RegisterAll(context.Background(), s.Registry()))
	return s
}

func TestStoreUpdateSectionAndReadBack(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	s := newService(t, store, Config{})

	res, err := s.StoreDocument(ctx, testfixtures.PartA(), "obj-a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sections)

	got, err := s.GetDocument(ctx, "obj-a", mets.FormatXML)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(testfixtures.PartA()), strings.TrimSpace(got))

	updated := `<a:part xmlns:a="http://example.org/partA" version="2"><a:value>revised</a:value></a:part>`
	sec, err := s.UpdateSection(ctx, updated, "obj-a", "s1")
	require.NoError(t, err)
	assert.Equal(t, updated, sec.XMLData)
	require.Len(t, sec.History, 1)
	assert.Contains(t, sec.History[0].XMLData, "original")
	assert.True(t, epoch.Equal(sec.History[0].ModifiedDate))

	got, err = s.GetDocument(ctx, "obj-a", mets.FormatXML)
	require.NoError(t, err)
	assert.Contains(t, got, updated)
	assert.NotContains(t, got, "original")

	stored, err := s.sections(ctx, docstore.Predicate{mets.AttrParentID: "obj-a"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Len(t, stored[0].History, 1)
	assert.Contains(t, stored[0].History[0].XMLData, "original")
}

func TestStoreWritesOneRecordPerSection(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	s := newService(t, store, Config{})
	before := store.Len()

	res, err := s.StoreDocument(ctx, testfixtures.Book(), "book-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sections)
	assert.Equal(t, before+1+2, store.Len())
}

func TestStoreInvalidSectionWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	s := newService(t, store, Config{})
	before := store.Len()

	xml := strings.Replace(testfixtures.Book(), "<mods:dateIssued>1808</mods:dateIssued>",
		"<mods:dateIssued>soon</mods:dateIssued>", 1)
	_, err := s.StoreDocument(ctx, xml, "book-1")
	assert.True(t, errors.Is(err, metaerrors.SchemaViolation), "got %v", err)
	assert.Equal(t, before, store.Len())

	_, err = s.GetDocument(ctx, "book-1", mets.FormatXML)
	assert.True(t, errors.Is(err, metaerrors.NotFound), "got %v", err)
}

func TestStoreDuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	s := newService(t, store, Config{})

	_, err := s.StoreDocument(ctx, testfixtures.Book(), "book-1")
	require.NoError(t, err)
	count := store.Len()

	_, err = s.StoreDocument(ctx, testfixtures.Book(), "book-1")
	assert.True(t, errors.Is(err, metaerrors.Conflict), "got %v", err)
	assert.Equal(t, count, store.Len())
}

func TestRegisterSchemaTwiceKeepsFirst(t *testing.T) {
	ctx := context.Background()
	s := newService(t, docstore.NewMemoryStore(), Config{})

	ns, outcome, err := s.RegisterSchema(ctx, "partA", testfixtures.Read("partA.xsd"))
	require.NoError(t, err)
	assert.Equal(t, testfixtures.PartANamespace, ns)
	assert.Equal(t, registry.AlreadyRegistered, outcome)

	body, err := s.GetSchema(ctx, "partA")
	require.NoError(t, err)
	assert.Equal(t, testfixtures.Read("partA.xsd"), body)

	prefixes, err := s.ListPrefixes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dc", "mets", "mods", "partA"}, prefixes)

	_, err = s.GetSchema(ctx, "nope")
	assert.True(t, errors.Is(err, metaerrors.NotFound), "got %v", err)
}

func TestUpdateSectionAmbiguousChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	s := newService(t, store, Config{})

	xml := `<mets:mets xmlns:mets="http://www.loc.gov/METS/" xmlns:a="http://example.org/partA">
  <mets:amdSec ID="amd">
    <mets:techMD ID="t1"><mets:mdWrap><mets:xmlData><a:part><a:value>one</a:value></a:part></mets:xmlData></mets:mdWrap></mets:techMD>
    <mets:techMD ID="t2"><mets:mdWrap><mets:xmlData><a:part><a:value>two</a:value></a:part></mets:xmlData></mets:mdWrap></mets:techMD>
  </mets:amdSec>
</mets:mets>`
	_, err := s.StoreDocument(ctx, xml, "twins")
	require.NoError(t, err)
	before, err := s.sections(ctx, docstore.Predicate{mets.AttrParentID: "twins"})
	require.NoError(t, err)

	body := `<a:part xmlns:a="http://example.org/partA"><a:value>three</a:value></a:part>`
	_, err = s.UpdateSection(ctx, body, "twins", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, metaerrors.Conflict), "got %v", err)
	assert.Contains(t, err.Error(), "section id")

	after, err := s.sections(ctx, docstore.Predicate{mets.AttrParentID: "twins"})
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)

	sec, err := s.UpdateSection(ctx, body, "twins", "t2")
	require.NoError(t, err)
	assert.Equal(t, "t2", sec.SectionID)
}

func TestUpdateSectionErrors(t *testing.T) {
	ctx := context.Background()
	s := newService(t, docstore.NewMemoryStore(), Config{})
	_, err := s.StoreDocument(ctx, testfixtures.PartA(), "obj-a")
	require.NoError(t, err)

	_, err = s.UpdateSection(ctx, `<a:part xmlns:a="http://example.org/partA"/>`, "obj-a", "missing")
	assert.True(t, errors.Is(err, metaerrors.NotFound), "got %v", err)

	_, err = s.UpdateSection(ctx, `<a:part`, "obj-a", "s1")
	assert.True(t, errors.Is(err, metaerrors.InvalidDocument), "got %v", err)

	_, err = s.UpdateSection(ctx, `<x:part xmlns:x="urn:unregistered"/>`, "obj-a", "s1")
	assert.True(t, errors.Is(err, metaerrors.NotFound), "got %v", err)
}

func TestUpdateDocumentReconcilesSections(t *testing.T) {
	ctx := context.Background()
	s := newService(t, docstore.NewMemoryStore(), Config{})
	_, err := s.StoreDocument(ctx, testfixtures.Book(), "book-1")
	require.NoError(t, err)

	xml := strings.Replace(testfixtures.Book(), "<dc:subject>Drama</dc:subject>", "<dc:subject>Tragedy</dc:subject>", 1)
	res, err := s.UpdateDocument(ctx, xml, "book-1")
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Updated: 1, Unchanged: 1}, res)

	got, err := s.GetDocument(ctx, "book-1", mets.FormatXML)
	require.NoError(t, err)
	assert.Contains(t, got, "Tragedy")
	assert.NotContains(t, got, "Drama")

	dc, err := s.sections(ctx, docstore.Predicate{mets.AttrParentID: "book-1", docstore.AttrType: testfixtures.DCNamespace})
	require.NoError(t, err)
	require.Len(t, dc, 1)
	require.Len(t, dc[0].History, 1)

	_, err = s.UpdateDocument(ctx, xml, "unknown")
	assert.True(t, errors.Is(err, metaerrors.NotFound), "got %v", err)
}

func TestGetSectionsFormats(t *testing.T) {
	ctx := context.Background()
	s := newService(t, docstore.NewMemoryStore(), Config{})
	_, err := s.StoreDocument(ctx, testfixtures.Book(), "book-1")
	require.NoError(t, err)

	out, err := s.GetSections(ctx, "dc", "book-1", mets.FormatXML)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "<array>\n<dc:record"), out)
	assert.True(t, strings.HasSuffix(out, "</dc:record>\n</array>"), out)
	assert.NotContains(t, out, "mods:mods")

	out, err = s.GetSections(ctx, "", "book-1", mets.FormatJSON)
	require.NoError(t, err)
	var all []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Len(t, all, 2)

	out, err = s.GetSections(ctx, "mets", "book-1", mets.FormatXML)
	require.NoError(t, err)
	assert.Equal(t, "<array>\n</array>", out)

	_, err = s.GetSections(ctx, "dc", "nobody", mets.FormatXML)
	assert.True(t, errors.Is(err, metaerrors.NotFound), "got %v", err)
	_, err = s.GetSections(ctx, "zz", "book-1", mets.FormatXML)
	assert.True(t, errors.Is(err, metaerrors.NotFound), "got %v", err)
}

func TestFallbackSearch(t *testing.T) {
	ctx := context.Background()
	s := newService(t, docstore.NewMemoryStore(), Config{})
	_, err := s.StoreDocument(ctx, testfixtures.Book(), "book-1")
	require.NoError(t, err)
	_, err = s.StoreDocument(ctx, testfixtures.PartA(), "obj-a")
	require.NoError(t, err)

	ids, err := s.SearchIDs(ctx, SearchRequest{Terms: []string{"Goethe faust"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"book-1"}, ids)

	ids, err = s.SearchIDs(ctx, SearchRequest{Terms: []string{"goethe original"}})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.SearchIDs(ctx, SearchRequest{Terms: []string{"goethe original"}, Any: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"book-1", "obj-a"}, ids)

	ids, err = s.SearchIDs(ctx, SearchRequest{Terms: []string{"drama"}, Prefixes: []string{"mods"}})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.SearchIDs(ctx, SearchRequest{Terms: []string{"drama"}, Prefixes: []string{"dc"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"book-1"}, ids)

	_, err = s.SearchIDs(ctx, SearchRequest{Terms: []string{"of"}})
	assert.True(t, errors.Is(err, metaerrors.InvalidDocument), "got %v", err)
}

func TestFallbackSearchFindsDottedElementNames(t *testing.T) {
	ctx := context.Background()
	s := newService(t, docstore.NewMemoryStore(), Config{})

	xml := strings.Replace(testfixtures.PartA(), "<a:value>original</a:value>", "<a:dc.title>zebrafish</a:dc.title>", 1)
	_, err := s.StoreDocument(ctx, xml, "obj-z")
	require.NoError(t, err)

	ids, err := s.SearchIDs(ctx, SearchRequest{Terms: []string{"zebrafish"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"obj-z"}, ids)
}

func TestSearchRendering(t *testing.T) {
	ctx := context.Background()
	s := newService(t, docstore.NewMemoryStore(), Config{})
	_, err := s.StoreDocument(ctx, testfixtures.Book(), "book-1")
	require.NoError(t, err)

	out, err := s.Search(ctx, SearchRequest{Terms: []string{"faust"}, Short: true, Format: mets.FormatXML})
	require.NoError(t, err)
	assert.Equal(t, "<array>\n<digitalObjectId>book-1</digitalObjectId>\n</array>", out)

	out, err = s.Search(ctx, SearchRequest{Terms: []string{"faust"}, Short: true, Format: mets.FormatJSON})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"digitalObjectId":"book-1"}]`, out)

	out, err = s.Search(ctx, SearchRequest{Terms: []string{"faust"}, Format: mets.FormatJSON})
	require.NoError(t, err)
	var docs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0], "mets")

	out, err = s.Search(ctx, SearchRequest{Terms: []string{"faust"}, Format: mets.FormatXML})
	require.NoError(t, err)
	assert.Contains(t, out, "<mods:title>Faust</mods:title>")
	assert.NotContains(t, out, "<?xml")
}

// stubProvider answers every search with fixed ids and records indexing.
type stubProvider struct {
	mu      sync.Mutex
	ids     []string
	indexed []string
	docs    map[string]string
	queries []search.Query
}

func (p *stubProvider) Index(_ context.Context, jsonDoc string, documentID, prefix string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := search.DocumentID(documentID, prefix)
	p.indexed = append(p.indexed, id)
	if p.docs == nil {
		p.docs = make(map[string]string)
	}
	p.docs[id] = jsonDoc
	return true, nil
}

func (p *stubProvider) Search(_ context.Context, q search.Query) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)
	return p.ids, nil
}

func (p *stubProvider) Close() error { return nil }

func TestSearchUsesProvider(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{ids: []string{"book-1", "ghost"}}
	s := New(Config{Clock: testclock.NewClock(epoch)}, docstore.NewMemoryStore(), provider, zerolog.Nop())
	require.NoError(t, testfixtures.RegisterAll(ctx, s.Registry()))

	_, err := s.StoreDocument(ctx, testfixtures.Book(), "book-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"book-1_mods", "book-1_dc"}, provider.indexed)

	out, err := s.Search(ctx, SearchRequest{Terms: []string{"Faust"}, Prefixes: []string{"dc"}, Format: mets.FormatJSON})
	require.NoError(t, err)
	var docs []any
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	assert.Len(t, docs, 1)

	require.Len(t, provider.queries, 1)
	assert.Equal(t, []string{"faust"}, provider.queries[0].Terms)
	assert.Equal(t, []string{"dc"}, provider.queries[0].Prefixes)
	assert.Equal(t, DefaultMaxHits, provider.queries[0].MaxHits)
}

func TestProviderSeesTransformedSections(t *testing.T) {
	ctx := context.Background()
	drop, err := index.NewPathFilter("//mods:originInfo")
	require.NoError(t, err)
	provider := &stubProvider{}
	store := docstore.NewMemoryStore()
	s := New(Config{
		Clock:         testclock.NewClock(epoch),
		Transformers:  map[string]index.Transformer{"mods": drop},
		ExcludedTypes: []string{testfixtures.DCNamespace},
	}, store, provider, zerolog.Nop())
	require.NoError(t, testfixtures.RegisterAll(ctx, s.Registry()))

	_, err = s.StoreDocument(ctx, testfixtures.Book(), "book-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"book-1_mods"}, provider.indexed)
	assert.Contains(t, provider.docs["book-1_mods"], "Faust")
	assert.NotContains(t, provider.docs["book-1_mods"], "1808")

	// stored sections and store indexes keep the full body
	got, err := s.GetDocument(ctx, "book-1", mets.FormatXML)
	require.NoError(t, err)
	assert.Contains(t, got, "<mods:dateIssued>1808</mods:dateIssued>")
	fields, err := store.FulltextIndexes(ctx)
	require.NoError(t, err)
	assert.Contains(t, fields, "json.mods.originInfo.dateIssued")
	assert.Contains(t, fields, "json.record.title")
}

// landingStore reports the first root write as timed out after performing it.
type landingStore struct {
	*docstore.MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *landingStore) CreateUnique(ctx context.Context, key string, attrs map[string]any) error {
	err := s.MemoryStore.CreateUnique(ctx, key, attrs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && attrs[docstore.AttrKind] == docstore.KindDocument && s.failures > 0 {
		s.failures--
		return errors.Annotate(metaerrors.Unavailable, "write timed out")
	}
	return err
}

func TestStoreRetriesTimedOutRootWrite(t *testing.T) {
	ctx := context.Background()
	store := &landingStore{MemoryStore: docstore.NewMemoryStore(), failures: 1}
	s := New(Config{CreateRetries: 2, RetryDelay: time.Millisecond}, store, nil, zerolog.Nop())
	require.NoError(t, testfixtures.RegisterAll(ctx, s.Registry()))

	res, err := s.StoreDocument(ctx, testfixtures.PartA(), "obj-a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sections)

	_, err = s.StoreDocument(ctx, testfixtures.PartA(), "obj-a")
	assert.True(t, errors.Is(err, metaerrors.Conflict), "got %v", err)
}

func TestStoreGivesUpWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	store := &landingStore{MemoryStore: docstore.NewMemoryStore(), failures: 10}
	s := New(Config{RetryDelay: time.Millisecond}, store, nil, zerolog.Nop())
	require.NoError(t, testfixtures.RegisterAll(ctx, s.Registry()))

	_, err := s.StoreDocument(ctx, testfixtures.PartA(), "obj-a")
	assert.True(t, errors.Is(err, metaerrors.Unavailable), "got %v", err)
	assert.True(t, metaerrors.IsRetryable(err))
}

type countingObserver struct {
	stored, updated, failed, searched int
}

func (o *countingObserver) DocumentStored(int)      { o.stored++ }
func (o *countingObserver) SectionUpdated()         { o.updated++ }
func (o *countingObserver) ValidationFailed(string) { o.failed++ }
func (o *countingObserver) SearchCompleted(int)     { o.searched++ }

func TestObserverSeesOutcomes(t *testing.T) {
	ctx := context.Background()
	obs := &countingObserver{}
	s := newService(t, docstore.NewMemoryStore(), Config{Observer: obs})

	_, err := s.StoreDocument(ctx, testfixtures.PartA(), "obj-a")
	require.NoError(t, err)
	_, err = s.UpdateSection(ctx, `<a:part xmlns:a="http://example.org/partA"><a:value>v</a:value></a:part>`, "obj-a", "s1")
	require.NoError(t, err)
	assert.Error(t, s.ValidateDocument(ctx, "<broken"))
	_, err = s.Search(ctx, SearchRequest{Terms: []string{"value"}, Short: true})
	require.NoError(t, err)

	assert.Equal(t, countingObserver{stored: 1, updated: 1, failed: 1, searched: 1}, *obs)
}

func TestDocumentIDsDoNotShadowRegistrations(t *testing.T) {
	ctx := context.Background()
	s := newService(t, docstore.NewMemoryStore(), Config{})
	schemaOf := func(ns string) string {
		return strings.ReplaceAll(testfixtures.Read("partA.xsd"), testfixtures.PartANamespace, ns)
	}

	// documents first, registrations second
	partB := "http://example.org/partB"
	for _, id := range []string{partB, "prefix:partB", "partB"} {
		_, err := s.StoreDocument(ctx, testfixtures.PartA(), id)
		require.NoError(t, err, id)
	}
	ns, outcome, err := s.RegisterSchema(ctx, "partB", schemaOf(partB))
	require.NoError(t, err)
	assert.Equal(t, partB, ns)
	assert.Equal(t, registry.Registered, outcome)
	got, err := s.GetDocument(ctx, partB, mets.FormatXML)
	require.NoError(t, err)
	assert.Contains(t, got, "original")

	// registrations first, documents second
	partC := "http://example.org/partC"
	_, _, err = s.RegisterSchema(ctx, "partC", schemaOf(partC))
	require.NoError(t, err)
	for _, id := range []string{partC, "prefix:partC"} {
		_, err := s.StoreDocument(ctx, testfixtures.PartA(), id)
		require.NoError(t, err, id)
	}
	body, err := s.GetSchema(ctx, "partC")
	require.NoError(t, err)
	assert.Equal(t, schemaOf(partC), body)

	prefixes, err := s.ListPrefixes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dc", "mets", "mods", "partA", "partB", "partC"}, prefixes)
}

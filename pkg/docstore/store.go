// ABOUTME: Document store adapter contract shared by all backends
// ABOUTME: Keyed JSON records with equality queries and word-prefix fulltext search

package docstore

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/juju/errors"
)

// Attribute names shared by every record kind.
const (
	AttrKind = "kind"
	AttrType = "type"
)

// Record kinds held in the single logical collection.
const (
	KindPrefix   = "prefix"
	KindSchema   = "schema"
	KindDocument = "document"
	KindSection  = "section"
)

// Key qualifies contentKey with the kind of record it names. Content keys of
// different kinds share one collection, so the same identifier used as a
// document id and as a namespace still maps to distinct records.
func Key(kind, contentKey string) string {
	return kind + "/" + contentKey
}

// Record is a stored entry. Attrs hold JSON-compatible values only:
// strings, float64, bool, nil, []any and map[string]any.
type Record struct {
	Key   string
	Attrs map[string]any
}

// String returns the string attribute name, or "" when absent or not a string.
func (r Record) String(name string) string {
	s, _ := r.Attrs[name].(string)
	return s
}

// Predicate selects records whose named attributes equal the given strings.
type Predicate map[string]string

// Matches reports whether attrs satisfy every equality in p.
func (p Predicate) Matches(attrs map[string]any) bool {
	for k, want := range p {
		got, ok := attrs[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Store is the key/attribute store the metastore is written against.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateUnique inserts a new record. An existing key yields Conflict.
	CreateUnique(ctx context.Context, key string, attrs map[string]any) error
	// Get returns the record stored under key, or NotFound.
	Get(ctx context.Context, key string) (Record, error)
	// UpdateRaw merges attrs into the top-level attributes of key.
	UpdateRaw(ctx context.Context, key string, attrs map[string]any) error
	// Query returns every record matching p, ordered by key.
	Query(ctx context.Context, p Predicate) ([]Record, error)
	// CreateFulltextIndex declares a dotted attribute path as searchable.
	// Declaring an existing index is a no-op.
	CreateFulltextIndex(ctx context.Context, field string) error
	// FulltextSearch returns the keys of records with a word starting with
	// term at field, compared case-insensitively.
	FulltextSearch(ctx context.Context, field, term string) ([]string, error)
	// FulltextIndexes lists the declared fulltext fields in sorted order.
	FulltextIndexes(ctx context.Context) ([]string, error)
	Close() error
}

// Normalize returns a deep copy of attrs in canonical JSON form, so every
// backend hands out the same value shapes and callers never share state
// with the store.
func Normalize(attrs map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, errors.Annotate(err, "encode attributes")
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Annotate(err, "decode attributes")
	}
	return out, nil
}

// SortRecords orders records by key.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
}

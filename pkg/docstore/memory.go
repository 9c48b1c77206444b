// ABOUTME: In-memory Store implementation guarded by a RWMutex
// ABOUTME: Default backend for tests and single-process deployments

package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/errors"

	metaerrors "github.com/nainya/metastore/pkg/errors"
)

// MemoryStore keeps records in a map. Values are normalized on the way in
// and copied on the way out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]any
	indexes map[string]struct{}
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]any),
		indexes: make(map[string]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateUnique(_ context.Context, key string, attrs map[string]any) error {
	norm, err := Normalize(attrs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, exists := m.records[key]; exists {
		return errors.Annotatef(metaerrors.Conflict, "record %q already exists", key)
	}
	m.records[key] = norm
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return Record{}, err
	}
	attrs, ok := m.records[key]
	if !ok {
		return Record{}, errors.Annotatef(metaerrors.NotFound, "record %q", key)
	}
	return m.copyRecord(key, attrs)
}

func (m *MemoryStore) UpdateRaw(_ context.Context, key string, attrs map[string]any) error {
	norm, err := Normalize(attrs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	existing, ok := m.records[key]
	if !ok {
		return errors.Annotatef(metaerrors.NotFound, "record %q", key)
	}
	for k, v := range norm {
		existing[k] = v
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, p Predicate) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	var out []Record
	for key, attrs := range m.records {
		if !p.Matches(attrs) {
			continue
		}
		rec, err := m.copyRecord(key, attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	SortRecords(out)
	return out, nil
}

func (m *MemoryStore) CreateFulltextIndex(_ context.Context, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.indexes[field] = struct{}{}
	return nil
}

func (m *MemoryStore) FulltextSearch(_ context.Context, field, term string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	matcher := NewMatcher(term)
	var keys []string
	for key, attrs := range m.records {
		if matcher.Match(Lookup(attrs, field)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) FulltextIndexes(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	fields := make([]string, 0, len(m.indexes))
	for f := range m.indexes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) checkOpen() error {
	if m.closed {
		return errors.Annotate(metaerrors.Unavailable, "memory store closed")
	}
	return nil
}

func (m *MemoryStore) copyRecord(key string, attrs map[string]any) (Record, error) {
	cp, err := Normalize(attrs)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Attrs: cp}, nil
}

package server

import (
	"context"
	"time"

	"github.com/nainya/metastore/internal/logger"
	"github.com/nainya/metastore/internal/metrics"
	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
)

// instrumentedStore records every call of the wrapped store
type instrumentedStore struct {
	next    docstore.Store
	metrics *metrics.Metrics
	log     *logger.Logger
}

// InstrumentStore wraps store so each call is timed, counted and logged
func InstrumentStore(store docstore.Store, backend string, m *metrics.Metrics, log *logger.Logger) docstore.Store {
	return &instrumentedStore{next: store, metrics: m, log: log.StoreLogger(backend)}
}

func (s *instrumentedStore) observe(op string, start time.Time, records int, err error) {
	duration := time.Since(start)
	status := "ok"
	if err != nil {
		status = string(metaerrors.Kind(err))
		if status == "" {
			status = "error"
		}
	}
	s.metrics.RecordStoreOperation(op, status, duration)
	s.log.LogStoreOperation(op, duration, records, err)
}

func (s *instrumentedStore) CreateUnique(ctx context.Context, key string, attrs map[string]any) error {
	start := time.Now()
	err := s.next.CreateUnique(ctx, key, attrs)
	s.observe("CreateUnique", start, 1, err)
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, key string) (docstore.Record, error) {
	start := time.Now()
	rec, err := s.next.Get(ctx, key)
	s.observe("Get", start, 1, err)
	return rec, err
}

func (s *instrumentedStore) UpdateRaw(ctx context.Context, key string, attrs map[string]any) error {
	start := time.Now()
	err := s.next.UpdateRaw(ctx, key, attrs)
	s.observe("UpdateRaw", start, 1, err)
	return err
}

func (s *instrumentedStore) Query(ctx context.Context, p docstore.Predicate) ([]docstore.Record, error) {
	start := time.Now()
	recs, err := s.next.Query(ctx, p)
	s.observe("Query", start, len(recs), err)
	return recs, err
}

func (s *instrumentedStore) CreateFulltextIndex(ctx context.Context, field string) error {
	start := time.Now()
	err := s.next.CreateFulltextIndex(ctx, field)
	s.observe("CreateFulltextIndex", start, 0, err)
	return err
}

func (s *instrumentedStore) FulltextSearch(ctx context.Context, field, term string) ([]string, error) {
	start := time.Now()
	keys, err := s.next.FulltextSearch(ctx, field, term)
	s.observe("FulltextSearch", start, len(keys), err)
	return keys, err
}

func (s *instrumentedStore) FulltextIndexes(ctx context.Context) ([]string, error) {
	start := time.Now()
	fields, err := s.next.FulltextIndexes(ctx)
	s.observe("FulltextIndexes", start, len(fields), err)
	return fields, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}

// Package metrics provides Prometheus metrics for the MetaStore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nainya/metastore/pkg/index"
)

// Metrics holds all Prometheus metrics for the MetaStore
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Document metrics
	DocumentsStoredTotal   prometheus.Counter
	SectionsStoredTotal    prometheus.Counter
	SectionsUpdatedTotal   prometheus.Counter
	ValidationFailures     *prometheus.CounterVec
	IndexFieldsRegistered  prometheus.Counter
	IndexErrorsTotal       prometheus.Counter
	ProviderForwardedTotal *prometheus.CounterVec
	SearchQueriesTotal     prometheus.Counter
	SearchResultsTotal     prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.GaugeFunc
	ServerStartTime     time.Time

	registry *prometheus.Registry
}

// NewMetrics creates all metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		ServerStartTime: time.Now(),
		registry:        reg,
	}
	factory := promauto.With(reg)

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metastore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "metastore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastore_store_operations_total",
			Help: "Total number of document store calls",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metastore_store_operation_duration_seconds",
			Help:    "Duration of document store calls in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.DocumentsStoredTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastore_documents_stored_total",
			Help: "Total number of composite documents stored",
		},
	)

	m.SectionsStoredTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastore_sections_stored_total",
			Help: "Total number of section records created by document stores",
		},
	)

	m.SectionsUpdatedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastore_sections_updated_total",
			Help: "Total number of section bodies replaced",
		},
	)

	m.ValidationFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastore_validation_failures_total",
			Help: "Total number of rejected inputs by error kind",
		},
		[]string{"kind"},
	)

	m.IndexFieldsRegistered = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastore_index_fields_registered_total",
			Help: "Total number of fulltext index registrations",
		},
	)

	m.IndexErrorsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastore_index_errors_total",
			Help: "Total number of failed fulltext index registrations",
		},
	)

	m.ProviderForwardedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastore_search_provider_documents_total",
			Help: "Section projections forwarded to the search provider by outcome",
		},
		[]string{"status"},
	)

	m.SearchQueriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastore_search_queries_total",
			Help: "Total number of search queries",
		},
	)

	m.SearchResultsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "metastore_search_results_total",
			Help: "Total number of search results returned",
		},
	)

	m.ServerUptimeSeconds = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "metastore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// Registry is the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStoreOperation records a document store call
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// DocumentStored counts a stored document and its sections
func (m *Metrics) DocumentStored(sections int) {
	m.DocumentsStoredTotal.Inc()
	m.SectionsStoredTotal.Add(float64(sections))
}

// SectionUpdated counts a replaced section body
func (m *Metrics) SectionUpdated() {
	m.SectionsUpdatedTotal.Inc()
}

// ValidationFailed counts a rejected input
func (m *Metrics) ValidationFailed(kind string) {
	m.ValidationFailures.WithLabelValues(kind).Inc()
}

// SearchCompleted counts a search and its hits
func (m *Metrics) SearchCompleted(hits int) {
	m.SearchQueriesTotal.Inc()
	m.SearchResultsTotal.Add(float64(hits))
}

// IndexHooks feeds index maintenance outcomes into the metrics
func (m *Metrics) IndexHooks() index.Hooks {
	return index.Hooks{
		Registered: func(string) { m.IndexFieldsRegistered.Inc() },
		Failed:     func(string, error) { m.IndexErrorsTotal.Inc() },
		Forwarded: func(ok bool) {
			status := "accepted"
			if !ok {
				status = "rejected"
			}
			m.ProviderForwardedTotal.WithLabelValues(status).Inc()
		},
	}
}

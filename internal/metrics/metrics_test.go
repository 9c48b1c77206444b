package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsAreIsolatedPerInstance(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.DocumentStored(3)
	if got := testutil.ToFloat64(a.SectionsStoredTotal); got != 3 {
		t.Errorf("sections stored = %v, want 3", got)
	}
	if got := testutil.ToFloat64(b.DocumentsStoredTotal); got != 0 {
		t.Errorf("second instance saw %v documents", got)
	}
}

func TestObserverMethods(t *testing.T) {
	m := NewMetrics()
	m.SectionUpdated()
	m.ValidationFailed("schema violation")
	m.ValidationFailed("schema violation")
	m.SearchCompleted(4)
	m.RecordGrpcRequest("/metastore.v1.MetaStore/Search", "OK", 10*time.Millisecond)
	m.RecordStoreOperation("Get", "ok", time.Millisecond)

	if got := testutil.ToFloat64(m.SectionsUpdatedTotal); got != 1 {
		t.Errorf("sections updated = %v", got)
	}
	if got := testutil.ToFloat64(m.ValidationFailures.WithLabelValues("schema violation")); got != 2 {
		t.Errorf("validation failures = %v", got)
	}
	if got := testutil.ToFloat64(m.SearchResultsTotal); got != 4 {
		t.Errorf("search results = %v", got)
	}
	if got := testutil.ToFloat64(m.GrpcRequestsTotal.WithLabelValues("/metastore.v1.MetaStore/Search", "OK")); got != 1 {
		t.Errorf("grpc requests = %v", got)
	}
	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("Get", "ok")); got != 1 {
		t.Errorf("store operations = %v", got)
	}
}

func TestIndexHooks(t *testing.T) {
	m := NewMetrics()
	hooks := m.IndexHooks()
	hooks.Registered("json.mods.titleInfo.title")
	hooks.Failed("json.x", errors.New("boom"))
	hooks.Forwarded(true)
	hooks.Forwarded(false)

	if got := testutil.ToFloat64(m.IndexFieldsRegistered); got != 1 {
		t.Errorf("registered = %v", got)
	}
	if got := testutil.ToFloat64(m.IndexErrorsTotal); got != 1 {
		t.Errorf("errors = %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderForwardedTotal.WithLabelValues("rejected")); got != 1 {
		t.Errorf("rejected = %v", got)
	}
}

func TestRegistryGathers(t *testing.T) {
	m := NewMetrics()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "metastore_server_uptime_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("uptime gauge not registered")
	}
}

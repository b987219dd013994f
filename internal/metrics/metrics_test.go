package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveHTTP(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveHTTP("GET /courses/{id}", 200, 250*time.Millisecond)

	families := gather(t, rec, "coursemart_http_requests_total", "coursemart_http_request_duration_seconds")

	counter := findMetric(t, families["coursemart_http_requests_total"], map[string]string{
		"route":       "GET /courses/{id}",
		"status_code": "200",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for http requests")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["coursemart_http_request_duration_seconds"], map[string]string{
		"route": "GET /courses/{id}",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for http latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveCacheOperations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheLookup("course", CacheLookupHit, 10*time.Millisecond)
	rec.ObserveCacheStore("course", CacheStoreStored, 5*time.Millisecond)

	families := gather(t, rec, "coursemart_cache_operations_total", "coursemart_cache_operation_duration_seconds")

	lookupMetric := findMetric(t, families["coursemart_cache_operations_total"], map[string]string{
		"view":      "course",
		"operation": string(CacheOperationLookup),
		"result":    string(CacheLookupHit),
	})
	if lookupMetric.GetCounter() == nil {
		t.Fatalf("expected counter metric for cache lookup")
	}
	if got := lookupMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected lookup counter 1, got %v", got)
	}

	storeMetric := findMetric(t, families["coursemart_cache_operations_total"], map[string]string{
		"view":      "course",
		"operation": string(CacheOperationStore),
		"result":    string(CacheStoreStored),
	})
	if storeMetric.GetCounter() == nil {
		t.Fatalf("expected counter metric for cache store")
	}
	if got := storeMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected store counter 1, got %v", got)
	}

	latencyMetric := findMetric(t, families["coursemart_cache_operation_duration_seconds"], map[string]string{
		"view":      "course",
		"operation": string(CacheOperationStore),
		"result":    string(CacheStoreStored),
	})
	hist := latencyMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for cache store latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.005
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveInvalidation(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveInvalidation("instructor", 2, false)
	rec.ObserveInvalidation("instructor", 0, true)

	families := gather(t, rec, "coursemart_cache_invalidations_total", "coursemart_cache_invalidated_keys_total")

	ok := findMetric(t, families["coursemart_cache_invalidations_total"], map[string]string{
		"target": "instructor",
		"result": "ok",
	})
	if got := ok.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected ok invalidation counter 1, got %v", got)
	}
	failed := findMetric(t, families["coursemart_cache_invalidations_total"], map[string]string{
		"target": "instructor",
		"result": "error",
	})
	if got := failed.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected error invalidation counter 1, got %v", got)
	}
	keys := findMetric(t, families["coursemart_cache_invalidated_keys_total"], map[string]string{
		"target": "instructor",
	})
	if got := keys.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected 2 invalidated keys, got %v", got)
	}
}

func TestRecorderObservePopulate(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObservePopulate("catalog", true, 20*time.Millisecond)

	families := gather(t, rec, "coursemart_cache_populate_duration_seconds")
	metric := findMetric(t, families["coursemart_cache_populate_duration_seconds"], map[string]string{
		"view":   "catalog",
		"result": "error",
	})
	if metric.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one populate sample")
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveHTTP("GET /courses", 200, time.Millisecond)
	rec.ObserveCacheLookup("catalog", CacheLookupHit, time.Millisecond)
	rec.ObserveCacheStore("catalog", CacheStoreStored, time.Millisecond)
	rec.ObservePopulate("catalog", false, time.Millisecond)
	rec.ObserveInvalidation("catalog", 1, false)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

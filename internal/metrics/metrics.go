package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the keystore call being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records read-view lookups.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records writes of freshly populated views.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the view was served from the keystore.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates the view had to be populated.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the keystore failed and the read fell through.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the populated view was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
	// CacheStoreSkipped indicates the view was not stored because the
	// keystore was already known to be failing for this read.
	CacheStoreSkipped CacheStoreOutcome = "skipped"
)

// Recorder publishes Prometheus metrics for cache and HTTP activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	populateLatency *prometheus.HistogramVec

	invalidations   *prometheus.CounterVec
	invalidatedKeys *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursemart",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests served.",
	}, []string{"route", "status_code"})

	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coursemart",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed HTTP requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursemart",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Read-view cache operations executed by the cache-aside service.",
	}, []string{"view", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coursemart",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for read-view cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"view", "operation", "result"})

	populateLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coursemart",
		Subsystem: "cache",
		Name:      "populate_duration_seconds",
		Help:      "Latency distribution for read-model calls made on cache misses.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"view", "result"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursemart",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Invalidation operations issued by write paths.",
	}, []string{"target", "result"})

	invalidatedKeys := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursemart",
		Subsystem: "cache",
		Name:      "invalidated_keys_total",
		Help:      "Keys removed from the keystore by invalidation operations.",
	}, []string{"target"})

	reg.MustRegister(httpRequests, httpLatency, cacheOperations, cacheLatency, populateLatency, invalidations, invalidatedKeys)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		httpRequests:    httpRequests,
		httpLatency:     httpLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		populateLatency: populateLatency,
		invalidations:   invalidations,
		invalidatedKeys: invalidatedKeys,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveHTTP records the status and latency for a completed HTTP request.
func (r *Recorder) ObserveHTTP(route string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	routeLabel := normalizeLabel(route)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.httpRequests.WithLabelValues(routeLabel, statusLabel).Inc()
	r.httpLatency.WithLabelValues(routeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(view string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(view), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(view string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(view), CacheOperationStore, resultLabel, duration)
}

// ObservePopulate records a read-model call made on a miss.
func (r *Recorder) ObservePopulate(view string, failed bool, duration time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	r.populateLatency.WithLabelValues(normalizeLabel(view), result).Observe(duration.Seconds())
}

// ObserveInvalidation records one named invalidation and how many keys it
// removed.
func (r *Recorder) ObserveInvalidation(target string, deleted int64, failed bool) {
	if r == nil {
		return
	}
	targetLabel := normalizeLabel(target)
	result := "ok"
	if failed {
		result = "error"
	}
	r.invalidations.WithLabelValues(targetLabel, result).Inc()
	if deleted > 0 {
		r.invalidatedKeys.WithLabelValues(targetLabel).Add(float64(deleted))
	}
}

func (r *Recorder) observeCache(view string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(view, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(view, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// Package metrics holds the Prometheus collectors for the alerts service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheHits counts query cache hits by backend and instance.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend", "instance"},
	)

	// CacheMisses counts query cache misses by backend and instance.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend", "instance"},
	)

	// CacheErrors counts cache backend failures that were degraded to misses or skipped writes.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Total cache backend errors by operation",
		},
		[]string{"backend", "operation"},
	)

	// CacheInvalidatedKeys counts entries removed by per-owner invalidation.
	CacheInvalidatedKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidated_keys_total",
			Help: "Total cache entries removed by owner invalidation",
		},
		[]string{"backend", "instance"},
	)

	// CacheStalePuts counts page writes dropped because the owner was
	// invalidated while the page was being read from the store.
	CacheStalePuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_stale_puts_total",
			Help: "Total cache writes skipped after a concurrent owner invalidation",
		},
		[]string{"backend", "instance"},
	)

	// StoreOperationDuration tracks alert store latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Alert store operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation", "result"},
	)

	// AlertsWritten counts committed alert writes.
	AlertsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_written_total",
			Help: "Total committed alert writes by operation",
		},
		[]string{"operation"},
	)

	// HTTPRequestsTotal tracks total HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RateLimited counts requests rejected by the per-principal limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(backend, instance string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(backend, instance).Inc()
		return
	}
	CacheMisses.WithLabelValues(backend, instance).Inc()
}

// RecordCacheError records a failed cache operation.
func RecordCacheError(backend, operation string) {
	CacheErrors.WithLabelValues(backend, operation).Inc()
}

// RecordInvalidation records how many entries an owner invalidation removed.
func RecordInvalidation(backend, instance string, removed int) {
	CacheInvalidatedKeys.WithLabelValues(backend, instance).Add(float64(removed))
}

// RecordStalePut records a page write skipped because its generation moved.
func RecordStalePut(backend, instance string) {
	CacheStalePuts.WithLabelValues(backend, instance).Inc()
}

// RecordStoreOperation records a store call's latency and outcome.
func RecordStoreOperation(operation string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperationDuration.WithLabelValues(operation, result).Observe(seconds)
}

// RecordAlertWritten records a committed create or delete.
func RecordAlertWritten(operation string) {
	AlertsWritten.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest records a finished HTTP request.
func RecordHTTPRequest(method, route string, status int, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordRateLimited records a rejected request.
func RecordRateLimited() {
	RateLimited.Inc()
}

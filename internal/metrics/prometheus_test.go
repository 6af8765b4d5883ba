package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheHits.WithLabelValues("memory", "test-metrics"))
	misses := testutil.ToFloat64(CacheMisses.WithLabelValues("memory", "test-metrics"))

	RecordCacheLookup("memory", "test-metrics", true)
	RecordCacheLookup("memory", "test-metrics", false)
	RecordCacheLookup("memory", "test-metrics", false)

	assert.Equal(t, hits+1, testutil.ToFloat64(CacheHits.WithLabelValues("memory", "test-metrics")))
	assert.Equal(t, misses+2, testutil.ToFloat64(CacheMisses.WithLabelValues("memory", "test-metrics")))
}

func TestRecordInvalidation(t *testing.T) {
	before := testutil.ToFloat64(CacheInvalidatedKeys.WithLabelValues("redis", "test-metrics"))
	RecordInvalidation("redis", "test-metrics", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(CacheInvalidatedKeys.WithLabelValues("redis", "test-metrics")))
}

func TestRecordStoreOperation(t *testing.T) {
	// should not panic
	RecordStoreOperation("create", 0.002, nil)
	RecordStoreOperation("query", 0.5, errors.New("boom"))
	RecordHTTPRequest(http.MethodGet, "/alerts", http.StatusOK, 0.01)
	RecordRateLimited()
	RecordAlertWritten("delete")
	RecordCacheError("redis", "get")
}

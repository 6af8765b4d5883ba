package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pricealerts/internal/auth"
	"pricealerts/internal/cache"
	"pricealerts/internal/database"
	"pricealerts/internal/models"
	"pricealerts/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// headerPrincipal stands in for the token middleware in tests.
func headerPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := r.Header.Get("X-Test-Principal"); p != "" {
			r = r.WithContext(auth.WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	c := cache.NewMemoryCache(cache.MemoryConfig{TTL: time.Minute, Instance: "test"})
	t.Cleanup(c.Close)
	svc := service.New(database.NewMemoryStore(), c)

	mux := http.NewServeMux()
	NewHandler(svc, zap.NewNop()).RegisterRoutes(mux, headerPrincipal)
	return Chain(mux, WithRequestID, WithLogging(zap.NewNop()))
}

func do(t *testing.T, h http.Handler, method, path, principal, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if principal != "" {
		req.Header.Set("X-Test-Principal", principal)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type createdResponse struct {
	Message string       `json:"message"`
	Data    models.Alert `json:"data"`
}

func createAlert(t *testing.T, h http.Handler, principal string, price string) models.Alert {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/alerts", principal, `{"target_price":`+price+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp createdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func fetch(t *testing.T, h http.Handler, path, principal string) models.AlertPage {
	t.Helper()
	rec := do(t, h, http.MethodGet, path, principal, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page models.AlertPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	return page
}

func TestCreateAlert(t *testing.T) {
	h := newTestServer(t)

	t.Run("json number", func(t *testing.T) {
		alert := createAlert(t, h, "user-1", "101.25")
		assert.Equal(t, 101.25, alert.TargetPrice)
		assert.Equal(t, models.StatusCreated, alert.Status)
		assert.Equal(t, "user-1", alert.OwnerID)
		assert.NotZero(t, alert.ID)
	})

	t.Run("numeric string", func(t *testing.T) {
		alert := createAlert(t, h, "user-1", `"42.5"`)
		assert.Equal(t, 42.5, alert.TargetPrice)
	})

	t.Run("trailing whitespace", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/alerts", "user-1", "{\"target_price\": 3}\n\t ")
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("legacy path", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/alerts/create/", "user-1", `{"target_price": 7}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), "Alert created successfully")
	})

	invalid := map[string]string{
		"zero":        `{"target_price": 0}`,
		"negative":    `{"target_price": -3}`,
		"missing":     `{}`,
		"null":        `{"target_price": null}`,
		"boolean":     `{"target_price": true}`,
		"non-numeric": `{"target_price": "abc"}`,
		"overflow":    `{"target_price": 1e400}`,
		"malformed":   `{"target_price":`,
		"trailing":    `{"target_price":5}xyz`,
		"two objects": `{"target_price":5} {"target_price":6}`,
	}
	for name, body := range invalid {
		t.Run("rejects "+name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/alerts", "user-2", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	page := fetch(t, h, "/alerts", "user-2")
	assert.Equal(t, 0, page.Pagination.TotalAlerts, "rejected creates persist nothing")
}

func TestUnauthenticated(t *testing.T) {
	h := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/alerts"},
		{http.MethodGet, "/alerts"},
		{http.MethodGet, "/alerts/1"},
		{http.MethodDelete, "/alerts/1"},
		{http.MethodGet, "/alerts/fetch/"},
	} {
		rec := do(t, h, tc.method, tc.path, "", `{"target_price": 1}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestDeleteAlert(t *testing.T) {
	h := newTestServer(t)
	alert := createAlert(t, h, "owner", "10")
	path := fmt.Sprintf("/alerts/%d", alert.ID)

	rec := do(t, h, http.MethodDelete, path, "intruder", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	notTheirs := rec.Body.String()

	rec = do(t, h, http.MethodDelete, "/alerts/999999", "intruder", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, notTheirs, rec.Body.String(), "absence and foreign ownership are indistinguishable")

	rec = do(t, h, http.MethodGet, path, "owner", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, fmt.Sprintf("/alerts/delete/%d/", alert.ID), "owner", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Alert deleted successfully"}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, path, "owner", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/alerts/not-a-number", "owner", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAlert(t *testing.T) {
	h := newTestServer(t)
	alert := createAlert(t, h, "owner", "10")

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/alerts/%d", alert.ID), "owner", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp createdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, alert.ID, resp.Data.ID)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/alerts/%d", alert.ID), "intruder", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFetchAlerts(t *testing.T) {
	h := newTestServer(t)
	for i := 1; i <= 25; i++ {
		createAlert(t, h, "user-1", fmt.Sprint(i))
	}

	page := fetch(t, h, "/alerts?page=1&per_page=10", "user-1")
	assert.Len(t, page.Alerts, 10)
	assert.Equal(t, models.Pagination{TotalPages: 3, CurrentPage: 1, PerPage: 10, TotalAlerts: 25}, page.Pagination)

	page = fetch(t, h, "/alerts/fetch/?page=3&per_page=10", "user-1")
	assert.Len(t, page.Alerts, 5)

	page = fetch(t, h, "/alerts?page=4&per_page=10", "user-1")
	assert.Empty(t, page.Alerts)
	assert.Equal(t, 25, page.Pagination.TotalAlerts)

	t.Run("unparseable paging falls back to defaults", func(t *testing.T) {
		page := fetch(t, h, "/alerts?page=abc&per_page=xyz", "user-1")
		assert.Equal(t, 1, page.Pagination.CurrentPage)
		assert.Equal(t, 10, page.Pagination.PerPage)
	})

	t.Run("empty list renders as array", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/alerts?status=triggered", "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t,
			`{"alerts":[],"pagination":{"total_pages":0,"current_page":1,"per_page":10,"total_alerts":0}}`,
			rec.Body.String())
	})
}

func TestFetchReflectsWrites(t *testing.T) {
	h := newTestServer(t)
	createAlert(t, h, "user-1", "10")

	before := fetch(t, h, "/alerts", "user-1")
	require.Equal(t, 1, before.Pagination.TotalAlerts)

	created := createAlert(t, h, "user-1", "20")
	after := fetch(t, h, "/alerts", "user-1")
	assert.Equal(t, 2, after.Pagination.TotalAlerts)

	var found bool
	for _, a := range after.Alerts {
		found = found || a.ID == created.ID
	}
	assert.True(t, found)
}

func TestRequestID(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/alerts", "user-1", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	req.Header.Set("X-Request-Id", "req-123")
	req.Header.Set("X-Test-Principal", "user-1")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	assert.Equal(t, "req-123", out.Header().Get("X-Request-Id"))
}

type stubService struct {
	AlertService
	err error
}

func (s stubService) FetchAlerts(context.Context, string, service.FetchParams) (*models.AlertPage, error) {
	return nil, s.err
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewStoreUnavailableError("query", errors.New("connection refused")), http.StatusServiceUnavailable},
		{models.NewValidationError("bad"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		mux := http.NewServeMux()
		NewHandler(stubService{err: tt.err}, zap.NewNop()).RegisterRoutes(mux, headerPrincipal)

		rec := do(t, mux, http.MethodGet, "/alerts", "user-1", "")
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		assert.NotContains(t, rec.Body.String(), "connection refused")
	}
}

func TestHealthHandler(t *testing.T) {
	ok := HealthCheck{Name: "store", Check: func(context.Context) error { return nil }}
	down := HealthCheck{Name: "cache", Check: func(context.Context) error { return errors.New("unreachable") }}

	rec := httptest.NewRecorder()
	HealthHandler("gateway-1", ok)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","instance":"gateway-1","checks":{"store":"ok"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HealthHandler("gateway-1", ok, down)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

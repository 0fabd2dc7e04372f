package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobCollectors(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("stats:refresh").End(nil)
	assert.Contains(t, scrape(t, metrics), `counselhub_jobs_total{job="stats:refresh",status="success"} 1`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `counselhub_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `counselhub_http_request_duration_seconds_bucket{route="/test"`)
}

func TestRecordAuthAndJobFailures(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordAuth("password", "locked")
	err := metrics.Jobs().Track("mail:send").End(errors.New("smtp down"))
	require.Error(t, err)

	body := scrape(t, metrics)
	assert.Contains(t, body, `counselhub_auth_events_total{method="password",result="locked"} 1`)
	assert.Contains(t, body, `counselhub_jobs_failures_total{job="mail:send"} 1`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.RecordAuth("sms", "ok")
	assert.Nil(t, metrics.Jobs())
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

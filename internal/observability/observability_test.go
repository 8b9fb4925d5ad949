package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "abc")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMiddlewaresKeepStatus(t *testing.T) {
	route := func(*http.Request) string { return "test_route" }
	h := AccessLogMiddleware(zap.NewNop(), route)(HTTPMetricsMiddleware(route)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }),
	))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRegisterMetricsTwice(t *testing.T) {
	require.NotPanics(t, func() {
		RegisterMetrics()
		RegisterMetrics()
	})
}

func TestRequestIDTooLongIsReplaced(t *testing.T) {
	h := RequestIDMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", strings.Repeat("x", maxRequestIDLen+1))
	h.ServeHTTP(rec, req)
	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)
}

func TestAccessLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, accessLevel("/metrics", http.StatusOK))
	assert.Equal(t, zapcore.WarnLevel, accessLevel("/api/v1/health", http.StatusServiceUnavailable))
	assert.Equal(t, zapcore.InfoLevel, accessLevel("/api/v1/tasks/{id}", http.StatusNotFound))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, OTelConfig{}.sampler().Description(), "AlwaysOnSampler")
	assert.Contains(t, OTelConfig{SampleRatio: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestInitTracingWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), OTelConfig{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

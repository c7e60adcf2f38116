package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager() *MetricsManager {
	return NewMetricsManager(zap.NewNop().Sugar())
}

func TestRecordToolCall(t *testing.T) {
	mm := newTestManager()

	mm.RecordToolCall("time", "get_time", "success", 25*time.Millisecond)
	mm.RecordToolCall("time", "get_time", "success", 30*time.Millisecond)
	mm.RecordToolCall("time", "get_time", "tool_error", 5*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		mm.toolCalls.WithLabelValues("time", "get_time", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		mm.toolCalls.WithLabelValues("time", "get_time", "tool_error")))
}

func TestBackendGauges(t *testing.T) {
	mm := newTestManager()

	mm.SetBackendStats(4, 2, 1)
	assert.Equal(t, float64(4), testutil.ToFloat64(mm.backendsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(mm.backendsRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(mm.backendsOpen))

	mm.SetToolsTotal(17)
	assert.Equal(t, float64(17), testutil.ToFloat64(mm.toolsTotal))
}

func TestBreakerAndLifecycleCounters(t *testing.T) {
	mm := newTestManager()

	mm.RecordBreakerTransition("weather", "closed", "open")
	mm.RecordBreakerTransition("weather", "open", "half_open")
	mm.RecordIdleReap("weather")
	mm.RecordOrphans(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		mm.breakerTransitions.WithLabelValues("weather", "closed", "open")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mm.idleReaps.WithLabelValues("weather")))
	assert.Equal(t, float64(3), testutil.ToFloat64(mm.orphansReclaimed))
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	mm := newTestManager()

	handler := mm.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/call", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		mm.httpRequests.WithLabelValues("GET", "/api/v1/call", http.StatusText(http.StatusNotFound))))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	mm := newTestManager()
	mm.RecordRetrieval("primary", "success")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mm.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcpgateway_retrieval_requests_total")
}

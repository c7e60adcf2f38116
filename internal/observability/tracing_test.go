package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
)

func TestTracingDisabledIsNoOp(t *testing.T) {
	tm, err := NewTracingManager(zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	assert.False(t, tm.IsEnabled())

	ctx, span := tm.TraceToolCall(context.Background(), "time", "get_current_time")
	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	handler := tm.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.NoError(t, tm.Close(context.Background()))
}

func TestTracingNilManagerIsSafe(t *testing.T) {
	var tm *TracingManager
	assert.False(t, tm.IsEnabled())

	_, span := tm.TraceBackendSession(context.Background(), "time", "call_tool")
	span.End()
	tm.SetSpanError(context.Background(), assert.AnError)
	assert.NoError(t, tm.Close(context.Background()))
}

func TestTracingEnabledRecordsSpans(t *testing.T) {
	tm, err := NewTracingManager(zap.NewNop().Sugar(), &config.TracingConfig{
		Enabled:        true,
		ServiceName:    "mcpgateway-test",
		ServiceVersion: "test",
		OTLPEndpoint:   "127.0.0.1:1",
		SampleRate:     1,
	})
	require.NoError(t, err)
	assert.True(t, tm.IsEnabled())

	ctx, span := tm.TraceToolCall(context.Background(), "time", "get_current_time")
	assert.True(t, span.SpanContext().IsValid())
	tm.SetSpanError(ctx, assert.AnError)
	span.End()

	// the middleware injects the trace context into response headers
	handler := tm.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.NotEmpty(t, rec.Header().Get("traceparent"))

	// nothing listens on the endpoint, so shut down without waiting on export
	shutdownCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tm.Close(shutdownCtx)
}

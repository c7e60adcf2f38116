package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/catalog"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Listen = "127.0.0.1:0"
	cfg.Timeouts.Connect = 200 * time.Millisecond
	cfg.Timeouts.Handshake = 200 * time.Millisecond
	cfg.Timeouts.Ready = 500 * time.Millisecond
	cfg.Timeouts.Shutdown = time.Second
	return cfg
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = g.index.Close()
		_ = g.store.Close()
	})
	return g
}

func TestBackendRegistrationRoundTrip(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	err := g.AddBackend(ctx, &config.BackendConfig{
		Name: "time",
		URL:  "http://127.0.0.1:1/mcp",
	})
	require.NoError(t, err)

	infos := g.ListBackends()
	require.Len(t, infos, 1)
	assert.Equal(t, "time", infos[0].Name)
	assert.Equal(t, contracts.BreakerClosed, infos[0].BreakerPhase)

	require.NoError(t, g.RemoveBackend(ctx, "time"))
	assert.Empty(t, g.ListBackends())
}

func TestAddBackendRejectsInvalid(t *testing.T) {
	g := newTestGateway(t)

	err := g.AddBackend(context.Background(), &config.BackendConfig{Name: "bad"})
	require.Error(t, err)
	assert.Equal(t, contracts.KindConfiguration, contracts.KindOf(err))
}

func TestRemoveUnknownBackend(t *testing.T) {
	g := newTestGateway(t)

	err := g.RemoveBackend(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
}

func TestBackendsSurviveRestart(t *testing.T) {
	cfg := testConfig(t)
	logger := zap.NewNop()

	g1, err := New(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, g1.AddBackend(context.Background(), &config.BackendConfig{
		Name: "weather",
		URL:  "http://127.0.0.1:1/mcp",
	}))
	require.NoError(t, g1.index.Close())
	require.NoError(t, g1.store.Close())

	g2, err := New(cfg, logger)
	require.NoError(t, err)
	defer g2.index.Close()
	defer g2.store.Close()

	g2.restoreBackends()
	infos := g2.ListBackends()
	require.Len(t, infos, 1)
	assert.Equal(t, "weather", infos[0].Name)
}

func TestRetrieveFallsBackWithoutPrimary(t *testing.T) {
	g := newTestGateway(t)

	result, err := g.Retrieve(context.Background(), "search the web for news", 3, false)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProvenanceFallback, result.Provenance)
	assert.False(t, result.Degraded)
	assert.Len(t, result.Candidates, 3)
}

func TestSearchToolsThroughIndexSink(t *testing.T) {
	g := newTestGateway(t)

	err := g.catalog.Publish([]*catalog.ToolDescriptor{
		{
			Name:        "time.get_time",
			Backend:     "time",
			Description: "Returns the current time in a timezone",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
	})
	require.NoError(t, err)

	hits, err := g.SearchTools("timezone", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "time.get_time", hits[0].ToolName)
}

func TestHealthReportReflectsBreaker(t *testing.T) {
	g := newTestGateway(t)

	require.NoError(t, g.lifecycle.Register(&config.BackendConfig{
		Name: "time",
		URL:  "http://127.0.0.1:1/mcp",
	}))

	report := g.HealthReport()
	assert.Equal(t, "ok", report.Status)

	for i := 0; i < g.cfg.Breaker.FailureThreshold; i++ {
		g.breakers.RecordFailure("time")
	}
	report = g.HealthReport()
	assert.Equal(t, "degraded", report.Status)
}

func TestReadinessFlag(t *testing.T) {
	g := newTestGateway(t)
	assert.False(t, g.IsReady())
	g.ready.Store(true)
	assert.True(t, g.IsReady())
}

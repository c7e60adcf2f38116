package gateway

import (
	"context"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/index"
)

// httpapi.Controller implementation.

// CallTool invokes a namespaced tool through the broker.
func (g *Gateway) CallTool(ctx context.Context, toolName string, arguments map[string]interface{}) (*contracts.ToolCallResult, error) {
	return g.broker.Call(ctx, toolName, arguments)
}

// Retrieve answers a task description with tool candidates.
func (g *Gateway) Retrieve(ctx context.Context, task string, topK int, officialOnly bool) (*contracts.RetrievalResult, error) {
	if topK <= 0 {
		if g.cfg.Retrieval != nil && g.cfg.Retrieval.TopK > 0 {
			topK = g.cfg.Retrieval.TopK
		} else {
			topK = 5
		}
	}

	result, err := g.retrieval.Retrieve(ctx, task, topK, officialOnly)
	if err != nil {
		g.metrics.RecordRetrieval("none", "failed")
		return nil, err
	}
	status := "success"
	if result.Degraded {
		status = "degraded"
	}
	g.metrics.RecordRetrieval(string(result.Provenance), status)
	return result, nil
}

// ListBackends reports every registered backend with its breaker phase and
// catalog footprint.
func (g *Gateway) ListBackends() []contracts.BackendInfo {
	statuses := g.lifecycle.Statuses()
	infos := make([]contracts.BackendInfo, 0, len(statuses))
	for _, status := range statuses {
		info := contracts.BackendInfo{
			Name:         status.Name,
			State:        status.State,
			BreakerPhase: g.breakers.Snapshot(status.Name).Phase,
			Pinned:       status.Pinned,
			Transport:    status.Transport,
			ToolCount:    g.catalog.CountForBackend(status.Name),
		}
		if !status.LastUsed.IsZero() {
			lastUsed := status.LastUsed
			info.LastUsed = &lastUsed
		}
		infos = append(infos, info)
	}
	return infos
}

// AddBackend registers a backend at runtime and kicks off tool discovery in
// the background.
func (g *Gateway) AddBackend(_ context.Context, backend *config.BackendConfig) error {
	if err := g.lifecycle.Register(backend); err != nil {
		return err
	}

	// Discovery starts the backend, so run it off the request path with its
	// own deadline.
	go g.refreshBackendTools(context.Background(), backend.Name)
	return nil
}

// RemoveBackend stops and deregisters a backend and clears its tools and
// breaker state.
func (g *Gateway) RemoveBackend(ctx context.Context, name string) error {
	if err := g.lifecycle.Deregister(ctx, name); err != nil {
		return err
	}
	g.catalog.RemoveBackend(name)
	g.breakers.Remove(name)
	return nil
}

// HealthReport returns the aggregated component status.
func (g *Gateway) HealthReport() *contracts.HealthReport {
	return g.monitor.Report()
}

// IsReady reports whether the gateway finished booting.
func (g *Gateway) IsReady() bool {
	return g.ready.Load()
}

// SearchTools queries the catalog's full-text index.
func (g *Gateway) SearchTools(query string, limit int) ([]*index.SearchHit, error) {
	return g.index.SearchTools(query, limit)
}

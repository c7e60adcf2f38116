// Package health aggregates component status into one operator-facing
// report: per-backend lifecycle state and breaker phase, retrieval index
// availability, and the orphan count from the last reconciliation pass.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/breaker"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/lifecycle"
)

// Retrieval is the slice of the retrieval facade the monitor needs.
type Retrieval interface {
	PrimaryAvailable() bool
	FallbackAvailable() bool
}

// Monitor computes health reports on demand and reconciles backend state on
// an interval.
type Monitor struct {
	lifecycle *lifecycle.Manager
	breakers  *breaker.Registry
	retrieval Retrieval
	interval  time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	orphanCount int
}

// NewMonitor creates a health monitor. retrieval may be nil.
func NewMonitor(lm *lifecycle.Manager, br *breaker.Registry, retrieval Retrieval,
	interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		lifecycle: lm,
		breakers:  br,
		retrieval: retrieval,
		interval:  interval,
		logger:    logger,
	}
}

// Run reconciles on the configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce runs one reconciliation pass and records the orphan count.
func (m *Monitor) ReconcileOnce(ctx context.Context) {
	orphans := m.lifecycle.Reconcile(ctx)

	m.mu.Lock()
	m.orphanCount = orphans
	m.mu.Unlock()

	if orphans > 0 {
		m.logger.Warn("reconciliation found orphaned backends", zap.Int("count", orphans))
	}
}

// Report builds the current health report. Status is "degraded" when any
// backend is degraded or has an open circuit, "ok" otherwise.
func (m *Monitor) Report() *contracts.HealthReport {
	backends := make(map[string]contracts.BackendHealth)
	status := "ok"

	for _, st := range m.lifecycle.Statuses() {
		phase := m.breakers.Snapshot(st.Name).Phase
		backends[st.Name] = contracts.BackendHealth{
			State:        st.State,
			BreakerPhase: phase,
			Pinned:       st.Pinned,
		}
		if st.State == contracts.BackendDegraded || phase == contracts.BreakerOpen {
			status = "degraded"
		}
	}

	m.mu.Lock()
	orphans := m.orphanCount
	m.mu.Unlock()

	var avail contracts.ProvenanceAvailability
	if m.retrieval != nil {
		avail.Primary = m.retrieval.PrimaryAvailable()
		avail.Fallback = m.retrieval.FallbackAvailable()
	}

	return &contracts.HealthReport{
		Status:      status,
		Backends:    backends,
		Retrieval:   avail,
		OrphanCount: orphans,
		CheckedAt:   time.Now(),
	}
}

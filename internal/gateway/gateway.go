// Package gateway wires the catalog, lifecycle, broker, breaker, retrieval,
// and HTTP layers into one runnable unit.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/breaker"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/broker"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/catalog"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/health"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/httpapi"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/index"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/lifecycle"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/observability"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/retrieval"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/storage"
)

const (
	gaugeRefreshInterval = 15 * time.Second
	toolRefreshTimeout   = 2 * time.Minute
	readHeaderTimeout    = 10 * time.Second
	shutdownDrainTimeout = 30 * time.Second
)

// Gateway owns every long-lived component and implements httpapi.Controller.
type Gateway struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.MetricsManager
	tracing *observability.TracingManager

	store     *storage.Manager
	catalog   *catalog.Catalog
	index     *index.BleveIndex
	breakers  *breaker.Registry
	lifecycle *lifecycle.Manager
	broker    *broker.Broker
	retrieval *retrieval.Facade
	monitor   *health.Monitor

	httpServer *http.Server
	startTime  time.Time
	ready      atomic.Bool
}

// New assembles the gateway from configuration. Nothing is started yet; call
// Run to bring it up.
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	metrics := observability.NewMetricsManager(logger.Sugar())

	tracing, err := observability.NewTracingManager(logger.Sugar(), cfg.Tracing)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewManager(cfg.DataDir, logger.Sugar())
	if err != nil {
		return nil, err
	}

	cat := catalog.New(logger)

	idx, err := index.NewBleveIndex(cfg.DataDir, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	cat.AddSink(idx)

	breakers := breaker.NewRegistry(cfg.Breaker, logger)
	breakers.OnTransition(func(backend string, from, to contracts.BreakerPhase) {
		metrics.RecordBreakerTransition(backend, string(from), string(to))
	})

	dialer := broker.NewMCPDialer(cfg.Timeouts.Invoke, logger)

	// The lifecycle manager probes readiness through the broker, which in
	// turn needs the manager. The closure breaks the cycle; it is never
	// called before Run.
	var brk *broker.Broker
	probe := func(ctx context.Context, transport contracts.TransportConfig) error {
		return brk.Probe(ctx, transport)
	}

	lm := lifecycle.NewManager(cfg.Timeouts, cfg.Lifecycle,
		lifecycle.NewExecLauncher(cfg.Logging, logger), probe, store, logger)
	lm.OnReap(metrics.RecordIdleReap)

	brk = broker.New(cat, lm, breakers, dialer, cfg.Timeouts, logger)
	brk.OnCall(metrics.RecordToolCall)
	brk.SetTracing(tracing)

	var primary *retrieval.Primary
	if cfg.Retrieval != nil && cfg.Retrieval.PrimaryURL != "" {
		primary = retrieval.NewPrimary(cfg.Retrieval, logger)
	}
	facade := retrieval.NewFacade(primary, retrieval.NewFallback(), logger)

	monitor := health.NewMonitor(lm, breakers, facade, cfg.Lifecycle.HealthInterval, logger)

	g := &Gateway{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		tracing:   tracing,
		store:     store,
		catalog:   cat,
		index:     idx,
		breakers:  breakers,
		lifecycle: lm,
		broker:    brk,
		retrieval: facade,
		monitor:   monitor,
		startTime: time.Now(),
	}

	api := httpapi.NewServer(g, logger.Sugar(), metrics, tracing, cfg.APIKey)
	g.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           api,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return g, nil
}

// Run brings the gateway up and blocks until ctx is canceled, then shuts
// everything down in reverse order.
func (g *Gateway) Run(ctx context.Context) error {
	g.restoreBackends()
	g.seedConfiguredBackends()

	g.lifecycle.StartPinned(ctx)
	g.refreshPinnedCatalogs(ctx)

	go g.lifecycle.RunReaper(ctx)
	go g.monitor.Run(ctx)
	go g.refreshGauges(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP API listening", zap.String("addr", g.cfg.Listen))
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	g.ready.Store(true)

	select {
	case err := <-errCh:
		g.ready.Store(false)
		g.shutdown()
		return err
	case <-ctx.Done():
		g.ready.Store(false)
		g.shutdown()
		return nil
	}
}

func (g *Gateway) shutdown() {
	g.logger.Info("Shutting down gateway")

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	if err := g.httpServer.Shutdown(drainCtx); err != nil {
		g.logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), g.cfg.Timeouts.Shutdown)
	defer cancelStop()
	g.lifecycle.StopAll(stopCtx)

	if err := g.index.Close(); err != nil {
		g.logger.Warn("Failed to close search index", zap.Error(err))
	}
	if err := g.store.Close(); err != nil {
		g.logger.Warn("Failed to close storage", zap.Error(err))
	}
	if err := g.tracing.Close(drainCtx); err != nil {
		g.logger.Warn("Failed to shut down tracing", zap.Error(err))
	}
}

// restoreBackends re-registers backends persisted from previous runs.
func (g *Gateway) restoreBackends() {
	backends, err := g.store.ListBackends()
	if err != nil {
		g.logger.Warn("Failed to load persisted backends", zap.Error(err))
		return
	}
	for _, backend := range backends {
		if err := g.lifecycle.Register(backend); err != nil {
			g.logger.Warn("Skipping persisted backend",
				zap.String("backend", backend.Name), zap.Error(err))
		}
	}
	if len(backends) > 0 {
		g.logger.Info("Restored persisted backends", zap.Int("count", len(backends)))
	}
}

// seedConfiguredBackends registers backends from the config file. They win
// over persisted records of the same name.
func (g *Gateway) seedConfiguredBackends() {
	for _, backend := range g.cfg.Backends {
		if err := g.lifecycle.Register(backend); err != nil {
			g.logger.Warn("Skipping configured backend",
				zap.String("backend", backend.Name), zap.Error(err))
		}
	}
}

// refreshPinnedCatalogs discovers tools on pinned backends at boot so the
// catalog is populated before the first call.
func (g *Gateway) refreshPinnedCatalogs(ctx context.Context) {
	for _, status := range g.lifecycle.Statuses() {
		if !status.Pinned {
			continue
		}
		g.refreshBackendTools(ctx, status.Name)
	}
}

// refreshBackendTools lists a backend's tools over a dedicated session and
// publishes them into the catalog (and its index sinks).
func (g *Gateway) refreshBackendTools(ctx context.Context, name string) {
	refreshCtx, cancel := context.WithTimeout(ctx, toolRefreshTimeout)
	defer cancel()

	descriptors, err := g.broker.ListBackendTools(refreshCtx, name)
	if err != nil {
		g.logger.Warn("Tool discovery failed",
			zap.String("backend", name), zap.Error(err))
		return
	}
	if err := g.catalog.Publish(descriptors); err != nil {
		g.logger.Warn("Failed to publish tools",
			zap.String("backend", name), zap.Error(err))
		return
	}
	g.logger.Info("Discovered backend tools",
		zap.String("backend", name), zap.Int("count", len(descriptors)))
}

// refreshGauges keeps slow-moving gauges current.
func (g *Gateway) refreshGauges(ctx context.Context) {
	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.metrics.SetUptime(g.startTime)

			statuses := g.lifecycle.Statuses()
			running, open := 0, 0
			for _, status := range statuses {
				if status.State == contracts.BackendRunning {
					running++
				}
				if g.breakers.Snapshot(status.Name).Phase == contracts.BreakerOpen {
					open++
				}
			}
			g.metrics.SetBackendStats(len(statuses), running, open)
			g.metrics.SetToolsTotal(len(g.catalog.Snapshot()))

			if count, err := g.index.DocCount(); err == nil {
				g.metrics.SetIndexSize(count)
			}
		}
	}
}

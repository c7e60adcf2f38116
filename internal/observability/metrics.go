// Package observability exposes Prometheus metrics and OpenTelemetry
// tracing for the gateway.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	// Core metrics
	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Backend metrics
	backendsTotal   prometheus.Gauge
	backendsRunning prometheus.Gauge
	backendsOpen    prometheus.Gauge
	toolsTotal      prometheus.Gauge
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec

	// Lifecycle metrics
	backendStateChanges *prometheus.CounterVec
	idleReaps           *prometheus.CounterVec
	orphansReclaimed    prometheus.Counter

	// Breaker metrics
	breakerTransitions *prometheus.CounterVec

	// Retrieval metrics
	retrievalRequests *prometheus.CounterVec

	// Index metrics
	indexSize prometheus.Gauge
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

// initMetrics initializes all Prometheus metrics
func (mm *MetricsManager) initMetrics() {
	// System metrics
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_uptime_seconds",
		Help: "Time since the application started",
	})

	// HTTP metrics
	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpgateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Backend metrics
	mm.backendsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_backends_total",
		Help: "Total number of registered backends",
	})

	mm.backendsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_backends_running",
		Help: "Number of backends in the running state",
	})

	mm.backendsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_backends_circuit_open",
		Help: "Number of backends with an open circuit breaker",
	})

	// Tool metrics
	mm.toolsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_tools_total",
		Help: "Total number of tools in the catalog",
	})

	mm.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"backend", "tool", "outcome"},
	)

	mm.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpgateway_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend", "tool", "outcome"},
	)

	// Lifecycle metrics
	mm.backendStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_backend_state_changes_total",
			Help: "Total number of backend state changes",
		},
		[]string{"backend", "from_state", "to_state"},
	)

	mm.idleReaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_idle_reaps_total",
			Help: "Total number of backends stopped by the idle reaper",
		},
		[]string{"backend"},
	)

	mm.orphansReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcpgateway_orphan_processes_total",
		Help: "Total number of orphaned backend processes detected",
	})

	// Breaker metrics
	mm.breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_breaker_transitions_total",
			Help: "Total number of circuit breaker phase transitions",
		},
		[]string{"backend", "from_phase", "to_phase"},
	)

	// Retrieval metrics
	mm.retrievalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_retrieval_requests_total",
			Help: "Total number of tool retrieval requests",
		},
		[]string{"provenance", "status"},
	)

	// Index metrics
	mm.indexSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_index_documents_total",
		Help: "Number of documents in the search index",
	})
}

// registerMetrics registers all metrics with the registry
func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.backendsTotal,
		mm.backendsRunning,
		mm.backendsOpen,
		mm.toolsTotal,
		mm.toolCalls,
		mm.toolDuration,
		mm.backendStateChanges,
		mm.idleReaps,
		mm.orphansReclaimed,
		mm.breakerTransitions,
		mm.retrievalRequests,
		mm.indexSize,
	)

	// Also register Go runtime metrics
	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetBackendStats updates backend-related gauges
func (mm *MetricsManager) SetBackendStats(total, running, circuitOpen int) {
	mm.backendsTotal.Set(float64(total))
	mm.backendsRunning.Set(float64(running))
	mm.backendsOpen.Set(float64(circuitOpen))
}

// SetToolsTotal sets the total number of tools
func (mm *MetricsManager) SetToolsTotal(total int) {
	mm.toolsTotal.Set(float64(total))
}

// RecordToolCall records a tool call
func (mm *MetricsManager) RecordToolCall(backend, tool, outcome string, duration time.Duration) {
	mm.toolCalls.WithLabelValues(backend, tool, outcome).Inc()
	mm.toolDuration.WithLabelValues(backend, tool, outcome).Observe(duration.Seconds())
}

// RecordBackendStateChange records a backend lifecycle state change
func (mm *MetricsManager) RecordBackendStateChange(backend, fromState, toState string) {
	mm.backendStateChanges.WithLabelValues(backend, fromState, toState).Inc()
}

// RecordIdleReap records a backend stopped by the idle reaper
func (mm *MetricsManager) RecordIdleReap(backend string) {
	mm.idleReaps.WithLabelValues(backend).Inc()
}

// RecordOrphans adds detected orphaned processes to the counter
func (mm *MetricsManager) RecordOrphans(count int) {
	mm.orphansReclaimed.Add(float64(count))
}

// RecordBreakerTransition records a circuit breaker phase transition
func (mm *MetricsManager) RecordBreakerTransition(backend, fromPhase, toPhase string) {
	mm.breakerTransitions.WithLabelValues(backend, fromPhase, toPhase).Inc()
}

// RecordRetrieval records a tool retrieval request
func (mm *MetricsManager) RecordRetrieval(provenance, status string) {
	mm.retrievalRequests.WithLabelValues(provenance, status).Inc()
}

// SetIndexSize sets the search index size
func (mm *MetricsManager) SetIndexSize(size uint64) {
	mm.indexSize.Set(float64(size))
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), duration)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Package lifecycle owns backend lifecycles: on-demand starts, readiness
// probing, idle reaping, and the Stopped/Starting/Running/Degraded state
// machine. Backends start when first needed; concurrent demands for the same
// backend collapse into one start attempt.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

// Probe verifies a backend is ready by performing a full protocol handshake
// against its transport. Implemented by the connection broker.
type Probe func(ctx context.Context, transport contracts.TransportConfig) error

// Store persists registrations across restarts. Satisfied by
// storage.Manager; nil disables persistence.
type Store interface {
	SaveBackend(backend *config.BackendConfig) error
	DeleteBackend(name string) error
}

// entry is the live record for one backend. Its mutex serializes lifecycle
// mutations for that backend only; distinct backends never contend.
type entry struct {
	mu sync.Mutex

	name      string
	transport contracts.TransportConfig
	pinned    bool

	state     contracts.BackendState
	lastUsed  time.Time
	lastError string
	process   Process
}

// Manager tracks all registered backends.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	group    singleflight.Group
	launcher Launcher
	probe    Probe
	store    Store

	timeouts  config.TimeoutConfig
	lifecycle config.LifecycleConfig

	logger *zap.Logger
	clock  func() time.Time

	onReap func(backend string)
}

// NewManager creates a lifecycle manager. store may be nil.
func NewManager(timeouts config.TimeoutConfig, lc config.LifecycleConfig,
	launcher Launcher, probe Probe, store Store, logger *zap.Logger) *Manager {
	return &Manager{
		entries:   make(map[string]*entry),
		launcher:  launcher,
		probe:     probe,
		store:     store,
		timeouts:  timeouts,
		lifecycle: lc,
		logger:    logger,
		clock:     time.Now,
	}
}

// OnReap registers a callback fired when the reaper stops an idle backend.
func (m *Manager) OnReap(fn func(backend string)) {
	m.onReap = fn
}

// Register adds a backend in the Stopped state. Re-registering the same name
// updates the transport without disturbing a running instance. Nothing is
// started here.
func (m *Manager) Register(backend *config.BackendConfig) error {
	if err := backend.Validate(); err != nil {
		return contracts.NewError(contracts.KindConfiguration, "invalid backend registration", err)
	}

	m.mu.Lock()
	e, exists := m.entries[backend.Name]
	if !exists {
		e = &entry{
			name:  backend.Name,
			state: contracts.BackendStopped,
		}
		m.entries[backend.Name] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	e.transport = backend.Transport()
	e.pinned = backend.Pinned
	e.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveBackend(backend); err != nil {
			return contracts.NewError(contracts.KindConfiguration,
				"failed to persist backend "+backend.Name, err)
		}
	}

	m.logger.Info("registered backend",
		zap.String("backend", backend.Name),
		zap.Bool("pinned", backend.Pinned),
		zap.Bool("already_known", exists))
	return nil
}

// Deregister stops a backend and forgets it.
func (m *Manager) Deregister(ctx context.Context, name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if ok {
		delete(m.entries, name)
	}
	m.mu.Unlock()

	if !ok {
		return contracts.Errorf(contracts.KindNotFound, "backend %q not registered", name)
	}

	m.stopEntry(ctx, e)

	if m.store != nil {
		if err := m.store.DeleteBackend(name); err != nil {
			m.logger.Warn("failed to remove persisted backend",
				zap.String("backend", name), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) get(name string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, "backend %q not registered", name)
	}
	return e, nil
}

// EnsureRunning brings a backend to the Running state, starting it if
// needed, and returns its transport. Concurrent callers for the same backend
// share a single start attempt.
func (m *Manager) EnsureRunning(ctx context.Context, name string) (contracts.TransportConfig, error) {
	e, err := m.get(name)
	if err != nil {
		return contracts.TransportConfig{}, err
	}

	e.mu.Lock()
	if e.state == contracts.BackendRunning || e.state == contracts.BackendDegraded {
		transport := e.transport
		e.lastUsed = m.clock()
		e.mu.Unlock()
		return transport, nil
	}
	e.mu.Unlock()

	result, err, _ := m.group.Do(name, func() (interface{}, error) {
		return m.start(ctx, e)
	})
	if err != nil {
		return contracts.TransportConfig{}, err
	}
	return result.(contracts.TransportConfig), nil
}

// start performs one start attempt. It runs inside the singleflight group,
// so at most one is in flight per backend.
func (m *Manager) start(ctx context.Context, e *entry) (contracts.TransportConfig, error) {
	e.mu.Lock()
	if e.state == contracts.BackendRunning || e.state == contracts.BackendDegraded {
		transport := e.transport
		e.lastUsed = m.clock()
		e.mu.Unlock()
		return transport, nil
	}
	e.transitionTo(contracts.BackendStarting, m.logger)
	transport := e.transport
	process := e.process
	e.mu.Unlock()

	// launch a child process when the backend has a command and a URL to
	// serve; command-only backends are spawned per session by the transport
	// layer, so readiness there is just a successful probe
	if transport.Command != "" && transport.URL != "" && (process == nil || !process.Alive()) {
		launched, err := m.launcher.Launch(ctx, e.name, transport)
		if err != nil {
			m.failStart(e, err)
			return contracts.TransportConfig{}, contracts.NewError(contracts.KindServiceUnavailable,
				"backend "+e.name+" failed to launch", err)
		}
		e.mu.Lock()
		e.process = launched
		e.mu.Unlock()
	}

	if err := m.awaitReady(ctx, e.name, transport); err != nil {
		m.failStart(e, err)
		m.stopProcess(context.Background(), e)

		kind := contracts.KindServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = contracts.KindTimeout
		}
		return contracts.TransportConfig{}, contracts.NewError(kind,
			"backend "+e.name+" did not become ready", err)
	}

	e.mu.Lock()
	e.transitionTo(contracts.BackendRunning, m.logger)
	e.lastUsed = m.clock()
	e.lastError = ""
	e.mu.Unlock()

	m.logger.Info("backend running", zap.String("backend", e.name))
	return transport, nil
}

// awaitReady probes the backend until it answers a handshake or the ready
// budget runs out.
func (m *Manager) awaitReady(ctx context.Context, name string, transport contracts.TransportConfig) error {
	readyCtx, cancel := context.WithTimeout(ctx, m.timeouts.Ready)
	defer cancel()

	var lastErr error
	for {
		err := m.probe(readyCtx, transport)
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-readyCtx.Done():
			if lastErr != nil {
				return errors.Join(readyCtx.Err(), lastErr)
			}
			return readyCtx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (m *Manager) failStart(e *entry, err error) {
	e.mu.Lock()
	e.transitionTo(contracts.BackendStopped, m.logger)
	e.lastError = err.Error()
	e.mu.Unlock()

	m.logger.Warn("backend start failed",
		zap.String("backend", e.name), zap.Error(err))
}

// Stop transitions a backend to Stopped, terminating its process if one is
// tracked.
func (m *Manager) Stop(ctx context.Context, name string) error {
	e, err := m.get(name)
	if err != nil {
		return err
	}
	m.stopEntry(ctx, e)
	return nil
}

func (m *Manager) stopEntry(ctx context.Context, e *entry) {
	m.stopProcess(ctx, e)

	e.mu.Lock()
	if e.state != contracts.BackendStopped {
		e.transitionTo(contracts.BackendStopped, m.logger)
	}
	e.mu.Unlock()
}

func (m *Manager) stopProcess(ctx context.Context, e *entry) {
	e.mu.Lock()
	process := e.process
	e.process = nil
	e.mu.Unlock()

	if process == nil {
		return
	}

	stopCtx, cancel := context.WithTimeout(ctx, m.timeouts.Shutdown)
	defer cancel()
	if err := process.Stop(stopCtx); err != nil {
		m.logger.Warn("failed to stop backend process",
			zap.String("backend", e.name), zap.Error(err))
	}
}

// Touch records activity on a backend so the reaper spares it.
func (m *Manager) Touch(name string) {
	if e, err := m.get(name); err == nil {
		e.mu.Lock()
		e.lastUsed = m.clock()
		e.mu.Unlock()
	}
}

// StartPinned eagerly starts every pinned backend. Failures are logged, not
// fatal: a pinned backend that cannot start will be retried on first use.
func (m *Manager) StartPinned(ctx context.Context) {
	for _, st := range m.Statuses() {
		if !st.Pinned {
			continue
		}
		if _, err := m.EnsureRunning(ctx, st.Name); err != nil {
			m.logger.Warn("pinned backend failed to start eagerly",
				zap.String("backend", st.Name), zap.Error(err))
		}
	}
}

// StopAll stops every backend, used during shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			m.stopEntry(ctx, e)
		}(e)
	}
	wg.Wait()
}

// Statuses returns a point-in-time view of every backend.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, Status{
			Name:      e.name,
			State:     e.state,
			Pinned:    e.pinned,
			LastUsed:  e.lastUsed,
			LastError: e.lastError,
			Transport: e.transport,
		})
		e.mu.Unlock()
	}
	return out
}

// StatusOf returns one backend's view.
func (m *Manager) StatusOf(name string) (Status, error) {
	e, err := m.get(name)
	if err != nil {
		return Status{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Name:      e.name,
		State:     e.state,
		Pinned:    e.pinned,
		LastUsed:  e.lastUsed,
		LastError: e.lastError,
		Transport: e.transport,
	}, nil
}

// RunReaper periodically stops idle non-pinned backends until ctx is done.
func (m *Manager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(m.lifecycle.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(ctx)
		}
	}
}

// ReapIdle performs one reap pass: any Running or Degraded backend that is
// not pinned and has been idle past the TTL is stopped.
func (m *Manager) ReapIdle(ctx context.Context) int {
	now := m.clock()
	reaped := 0

	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		idle := e.state == contracts.BackendRunning || e.state == contracts.BackendDegraded
		idle = idle && !e.pinned && now.Sub(e.lastUsed) >= m.lifecycle.IdleTTL
		e.mu.Unlock()

		if !idle {
			continue
		}

		m.logger.Info("reaping idle backend", zap.String("backend", e.name))
		m.stopEntry(ctx, e)
		reaped++
		if m.onReap != nil {
			m.onReap(e.name)
		}
	}
	return reaped
}

// Reconcile checks every non-stopped backend against reality: dead tracked
// processes are moved to Stopped and counted as orphans, failed probes mark
// the backend Degraded, successful probes heal Degraded back to Running.
// Orphans are logged, never silently dropped.
func (m *Manager) Reconcile(ctx context.Context) int {
	orphans := 0

	for _, st := range m.Statuses() {
		if st.State != contracts.BackendRunning && st.State != contracts.BackendDegraded {
			continue
		}

		e, err := m.get(st.Name)
		if err != nil {
			continue
		}

		e.mu.Lock()
		process := e.process
		e.mu.Unlock()

		if process != nil && !process.Alive() {
			orphans++
			m.logger.Warn("tracked backend process is gone",
				zap.String("backend", st.Name))
			m.stopEntry(ctx, e)
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.timeouts.Handshake)
		err = m.probe(probeCtx, st.Transport)
		cancel()

		e.mu.Lock()
		switch {
		case err != nil && e.state == contracts.BackendRunning:
			e.transitionTo(contracts.BackendDegraded, m.logger)
			e.lastError = err.Error()
		case err == nil && e.state == contracts.BackendDegraded:
			e.transitionTo(contracts.BackendRunning, m.logger)
			e.lastError = ""
		}
		e.mu.Unlock()

		if err != nil {
			m.logger.Warn("backend failed liveness probe",
				zap.String("backend", st.Name), zap.Error(err))
		}
	}
	return orphans
}

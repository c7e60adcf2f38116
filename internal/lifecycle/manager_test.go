package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

type fakeProcess struct {
	alive   atomic.Bool
	stopped atomic.Int32
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{}
	p.alive.Store(true)
	return p
}

func (p *fakeProcess) Alive() bool { return p.alive.Load() }
func (p *fakeProcess) Stop(context.Context) error {
	p.alive.Store(false)
	p.stopped.Add(1)
	return nil
}

type fakeLauncher struct {
	mu        sync.Mutex
	launches  int
	processes []*fakeProcess
	err       error
}

func (l *fakeLauncher) Launch(_ context.Context, _ string, _ contracts.TransportConfig) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.launches++
	p := newFakeProcess()
	l.processes = append(l.processes, p)
	return p, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func testTimeouts() config.TimeoutConfig {
	return config.TimeoutConfig{
		Connect:   time.Second,
		Handshake: time.Second,
		Invoke:    time.Second,
		Ready:     2 * time.Second,
		Shutdown:  time.Second,
	}
}

func testLifecycle() config.LifecycleConfig {
	return config.LifecycleConfig{
		IdleTTL:        10 * time.Minute,
		ReaperInterval: time.Minute,
		HealthInterval: time.Minute,
	}
}

func okProbe(context.Context, contracts.TransportConfig) error { return nil }

func newTestManager(launcher Launcher, probe Probe) *Manager {
	return NewManager(testTimeouts(), testLifecycle(), launcher, probe, nil, zap.NewNop())
}

func launchedBackend(name string) *config.BackendConfig {
	return &config.BackendConfig{
		Name:    name,
		Command: "fake-server",
		URL:     "http://localhost:9001/mcp",
	}
}

func TestEnsureRunningUnknownBackend(t *testing.T) {
	m := newTestManager(&fakeLauncher{}, okProbe)
	_, err := m.EnsureRunning(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
}

func TestRegisterIsIdempotent(t *testing.T) {
	m := newTestManager(&fakeLauncher{}, okProbe)

	require.NoError(t, m.Register(launchedBackend("time")))
	require.NoError(t, m.Register(launchedBackend("time")))

	statuses := m.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, contracts.BackendStopped, statuses[0].State)
}

func TestRegisterRejectsInvalid(t *testing.T) {
	m := newTestManager(&fakeLauncher{}, okProbe)
	err := m.Register(&config.BackendConfig{Name: "no-transport"})
	require.Error(t, err)
	assert.Equal(t, contracts.KindConfiguration, contracts.KindOf(err))
}

func TestEnsureRunningStartsOnce(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(launcher, okProbe)
	require.NoError(t, m.Register(launchedBackend("time")))

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.EnsureRunning(context.Background(), "time")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, launcher.launchCount(), "concurrent demands must share one start")

	st, err := m.StatusOf("time")
	require.NoError(t, err)
	assert.Equal(t, contracts.BackendRunning, st.State)
}

func TestEnsureRunningAlreadyRunningIsFast(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(launcher, okProbe)
	require.NoError(t, m.Register(launchedBackend("time")))

	_, err := m.EnsureRunning(context.Background(), "time")
	require.NoError(t, err)
	_, err = m.EnsureRunning(context.Background(), "time")
	require.NoError(t, err)

	assert.Equal(t, 1, launcher.launchCount())
}

func TestLaunchFailure(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("exec: not found")}
	m := newTestManager(launcher, okProbe)
	require.NoError(t, m.Register(launchedBackend("time")))

	_, err := m.EnsureRunning(context.Background(), "time")
	require.Error(t, err)
	assert.Equal(t, contracts.KindServiceUnavailable, contracts.KindOf(err))

	st, _ := m.StatusOf("time")
	assert.Equal(t, contracts.BackendStopped, st.State)
	assert.NotEmpty(t, st.LastError)
}

func TestReadinessTimeout(t *testing.T) {
	launcher := &fakeLauncher{}
	failing := func(context.Context, contracts.TransportConfig) error {
		return errors.New("connection refused")
	}
	m := NewManager(config.TimeoutConfig{
		Connect: time.Second, Handshake: time.Second, Invoke: time.Second,
		Ready: 100 * time.Millisecond, Shutdown: time.Second,
	}, testLifecycle(), launcher, failing, nil, zap.NewNop())
	require.NoError(t, m.Register(launchedBackend("slow")))

	_, err := m.EnsureRunning(context.Background(), "slow")
	require.Error(t, err)
	assert.Equal(t, contracts.KindTimeout, contracts.KindOf(err))

	// the half-started process was cleaned up
	require.Len(t, launcher.processes, 1)
	assert.False(t, launcher.processes[0].Alive())
}

func TestStopAndRestartRoundTrip(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(launcher, okProbe)
	require.NoError(t, m.Register(launchedBackend("time")))

	_, err := m.EnsureRunning(context.Background(), "time")
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), "time"))
	st, _ := m.StatusOf("time")
	assert.Equal(t, contracts.BackendStopped, st.State)
	assert.False(t, launcher.processes[0].Alive())

	_, err = m.EnsureRunning(context.Background(), "time")
	require.NoError(t, err)
	assert.Equal(t, 2, launcher.launchCount(), "a stopped backend restarts on demand")
}

func TestReapIdleSparesPinned(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(launcher, okProbe)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return clock }

	pinned := launchedBackend("pinned")
	pinned.Pinned = true
	require.NoError(t, m.Register(pinned))
	require.NoError(t, m.Register(launchedBackend("idle")))
	require.NoError(t, m.Register(launchedBackend("busy")))

	ctx := context.Background()
	for _, name := range []string{"pinned", "idle", "busy"} {
		_, err := m.EnsureRunning(ctx, name)
		require.NoError(t, err)
	}

	// idle and pinned go quiet, busy stays active
	clock = clock.Add(11 * time.Minute)
	m.Touch("busy")

	reaped := m.ReapIdle(ctx)
	assert.Equal(t, 1, reaped)

	states := map[string]contracts.BackendState{}
	for _, st := range m.Statuses() {
		states[st.Name] = st.State
	}
	assert.Equal(t, contracts.BackendRunning, states["pinned"], "pinned backends are never reaped")
	assert.Equal(t, contracts.BackendStopped, states["idle"])
	assert.Equal(t, contracts.BackendRunning, states["busy"])
}

func TestReapedBackendRestartsOnDemand(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(launcher, okProbe)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return clock }

	require.NoError(t, m.Register(launchedBackend("time")))
	ctx := context.Background()
	_, err := m.EnsureRunning(ctx, "time")
	require.NoError(t, err)

	clock = clock.Add(11 * time.Minute)
	require.Equal(t, 1, m.ReapIdle(ctx))

	_, err = m.EnsureRunning(ctx, "time")
	require.NoError(t, err)
	assert.Equal(t, 2, launcher.launchCount())
}

func TestDeregisterStopsAndForgets(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(launcher, okProbe)
	require.NoError(t, m.Register(launchedBackend("time")))

	ctx := context.Background()
	_, err := m.EnsureRunning(ctx, "time")
	require.NoError(t, err)

	require.NoError(t, m.Deregister(ctx, "time"))
	assert.False(t, launcher.processes[0].Alive())

	_, err = m.EnsureRunning(ctx, "time")
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))

	err = m.Deregister(ctx, "time")
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
}

func TestStartPinnedEagerly(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(launcher, okProbe)

	pinned := launchedBackend("pinned")
	pinned.Pinned = true
	require.NoError(t, m.Register(pinned))
	require.NoError(t, m.Register(launchedBackend("lazy")))

	m.StartPinned(context.Background())

	states := map[string]contracts.BackendState{}
	for _, st := range m.Statuses() {
		states[st.Name] = st.State
	}
	assert.Equal(t, contracts.BackendRunning, states["pinned"])
	assert.Equal(t, contracts.BackendStopped, states["lazy"])
}

func TestReconcile(t *testing.T) {
	launcher := &fakeLauncher{}

	var probeMu sync.Mutex
	var probeErr error
	probe := func(context.Context, contracts.TransportConfig) error {
		probeMu.Lock()
		defer probeMu.Unlock()
		return probeErr
	}
	setProbeErr := func(err error) {
		probeMu.Lock()
		defer probeMu.Unlock()
		probeErr = err
	}

	m := newTestManager(launcher, probe)
	require.NoError(t, m.Register(launchedBackend("time")))

	ctx := context.Background()
	_, err := m.EnsureRunning(ctx, "time")
	require.NoError(t, err)

	// probe starts failing: backend degrades but keeps its process
	setProbeErr(errors.New("handshake refused"))
	assert.Equal(t, 0, m.Reconcile(ctx))
	st, _ := m.StatusOf("time")
	assert.Equal(t, contracts.BackendDegraded, st.State)

	// probe heals: backend returns to running
	setProbeErr(nil)
	assert.Equal(t, 0, m.Reconcile(ctx))
	st, _ = m.StatusOf("time")
	assert.Equal(t, contracts.BackendRunning, st.State)

	// process dies behind our back: counted as an orphan and stopped
	launcher.processes[0].alive.Store(false)
	assert.Equal(t, 1, m.Reconcile(ctx))
	st, _ = m.StatusOf("time")
	assert.Equal(t, contracts.BackendStopped, st.State)
}

func TestStopAll(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(launcher, okProbe)

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, m.Register(launchedBackend(name)))
		_, err := m.EnsureRunning(ctx, name)
		require.NoError(t, err)
	}

	m.StopAll(ctx)
	for _, st := range m.Statuses() {
		assert.Equal(t, contracts.BackendStopped, st.State, st.Name)
	}
}

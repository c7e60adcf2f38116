package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/breaker"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/catalog"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/lifecycle"
)

// fakeSession scripts one session's behavior and records teardown.
type fakeSession struct {
	handshakeErr error
	callErr      error
	callFn       func(ctx context.Context) (*ToolResult, error)
	result       *ToolResult
	tools        []ToolInfo

	mu     sync.Mutex
	closed int
}

func (s *fakeSession) Handshake(context.Context) error { return s.handshakeErr }

func (s *fakeSession) CallTool(ctx context.Context, _ string, _ map[string]interface{}) (*ToolResult, error) {
	if s.callFn != nil {
		return s.callFn(ctx)
	}
	if s.callErr != nil {
		return nil, s.callErr
	}
	if s.result != nil {
		return s.result, nil
	}
	return &ToolResult{Content: json.RawMessage(`[{"type":"text","text":"ok"}]`)}, nil
}

func (s *fakeSession) ListTools(context.Context) ([]ToolInfo, error) { return s.tools, nil }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer hands out a fresh scripted session per dial.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	dialErr  error
	sessions []*fakeSession
	script   func() *fakeSession
}

func (d *fakeDialer) Dial(context.Context, contracts.TransportConfig) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	d.dials++
	var s *fakeSession
	if d.script != nil {
		s = d.script()
	} else {
		s = &fakeSession{}
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) allClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		if s.closeCount() == 0 {
			return false
		}
	}
	return true
}

func testTimeouts() config.TimeoutConfig {
	return config.TimeoutConfig{
		Connect:   time.Second,
		Handshake: time.Second,
		Invoke:    time.Second,
		Ready:     time.Second,
		Shutdown:  time.Second,
	}
}

func newTestBroker(t *testing.T, dialer Dialer) (*Broker, *catalog.Catalog, *breaker.Registry) {
	t.Helper()
	logger := zap.NewNop()

	cat := catalog.New(logger)
	breakers := breaker.NewRegistry(config.BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		Cooldown:         30 * time.Second,
		CooldownCap:      5 * time.Minute,
	}, logger)

	okProbe := func(context.Context, contracts.TransportConfig) error { return nil }
	lm := lifecycle.NewManager(testTimeouts(), config.LifecycleConfig{
		IdleTTL:        10 * time.Minute,
		ReaperInterval: time.Minute,
	}, nil, okProbe, nil, logger)

	require.NoError(t, lm.Register(&config.BackendConfig{
		Name: "time",
		URL:  "http://localhost:9001/mcp",
	}))
	require.NoError(t, cat.Publish([]*catalog.ToolDescriptor{
		{Name: "time.get_current_time", Backend: "time", Description: "current time"},
	}))

	return New(cat, lm, breakers, dialer, testTimeouts(), logger), cat, breakers
}

func TestCallUnknownToolNeverDials(t *testing.T) {
	dialer := &fakeDialer{}
	b, _, _ := newTestBroker(t, dialer)

	_, err := b.Call(context.Background(), "ghost.tool", nil)
	require.Error(t, err)
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
	assert.Equal(t, 0, dialer.dialCount())

	_, err = b.Call(context.Background(), "not-namespaced", nil)
	require.Error(t, err)
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
	assert.Equal(t, 0, dialer.dialCount())
}

func TestCallSuccess(t *testing.T) {
	dialer := &fakeDialer{}
	b, _, _ := newTestBroker(t, dialer)

	result, err := b.Call(context.Background(), "time.get_current_time", map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `[{"type":"text","text":"ok"}]`, string(result.Content))
	assert.Equal(t, 1, dialer.dialCount())
	assert.True(t, dialer.allClosed(), "session must be closed after the call")
}

func TestConcurrentCallsGetIndependentSessions(t *testing.T) {
	dialer := &fakeDialer{}
	b, _, _ := newTestBroker(t, dialer)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Call(context.Background(), "time.get_current_time", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, callers, dialer.dialCount(), "one exclusive session per call")
	assert.True(t, dialer.allClosed())
}

func TestToolErrorPassesThroughWithoutBreakerDamage(t *testing.T) {
	dialer := &fakeDialer{script: func() *fakeSession {
		return &fakeSession{result: &ToolResult{
			IsError: true,
			Content: json.RawMessage(`[{"type":"text","text":"no such city"}]`),
		}}
	}}
	b, _, breakers := newTestBroker(t, dialer)

	for i := 0; i < 5; i++ {
		result, err := b.Call(context.Background(), "time.get_current_time", nil)
		require.Error(t, err)
		assert.Equal(t, contracts.KindInvocationError, contracts.KindOf(err))
		require.NotNil(t, result, "tool output is passed through verbatim")
		assert.True(t, result.IsError)
		assert.Contains(t, string(result.Content), "no such city")
	}

	assert.Equal(t, contracts.BreakerClosed, breakers.Snapshot("time").Phase,
		"tool-level errors must not open the circuit")
	assert.True(t, dialer.allClosed())
}

func TestHandshakeFailureCountsAndCloses(t *testing.T) {
	dialer := &fakeDialer{script: func() *fakeSession {
		return &fakeSession{handshakeErr: errors.New("unsupported protocol version")}
	}}
	b, _, breakers := newTestBroker(t, dialer)

	_, err := b.Call(context.Background(), "time.get_current_time", nil)
	require.Error(t, err)
	assert.Equal(t, contracts.KindHandshakeFailure, contracts.KindOf(err))
	assert.True(t, dialer.allClosed(), "failed handshake must still close the session")
	assert.Equal(t, 1, breakers.Snapshot("time").FailureCount)
}

func TestInvokeDeadlineBecomesTimeout(t *testing.T) {
	dialer := &fakeDialer{script: func() *fakeSession {
		return &fakeSession{callErr: context.DeadlineExceeded}
	}}
	b, _, _ := newTestBroker(t, dialer)

	_, err := b.Call(context.Background(), "time.get_current_time", nil)
	require.Error(t, err)
	assert.Equal(t, contracts.KindTimeout, contracts.KindOf(err))
	assert.True(t, dialer.allClosed())
}

func TestCallerCancellationStillClosesSession(t *testing.T) {
	invoking := make(chan struct{})
	dialer := &fakeDialer{script: func() *fakeSession {
		return &fakeSession{callFn: func(ctx context.Context) (*ToolResult, error) {
			close(invoking)
			<-ctx.Done()
			return nil, ctx.Err()
		}}
	}}
	b, _, _ := newTestBroker(t, dialer)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Call(ctx, "time.get_current_time", nil)
		errCh <- err
	}()

	<-invoking
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, 1, dialer.dialCount())
	assert.True(t, dialer.allClosed(), "canceled call must still tear down its session")
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	dialer := &fakeDialer{script: func() *fakeSession {
		return &fakeSession{callErr: context.DeadlineExceeded}
	}}
	b, _, breakers := newTestBroker(t, dialer)

	for i := 0; i < 3; i++ {
		_, err := b.Call(context.Background(), "time.get_current_time", nil)
		require.Error(t, err)
		assert.Equal(t, contracts.KindTimeout, contracts.KindOf(err))
	}
	require.Equal(t, contracts.BreakerOpen, breakers.Snapshot("time").Phase)

	dialsBefore := dialer.dialCount()
	_, err := b.Call(context.Background(), "time.get_current_time", nil)
	require.Error(t, err)
	assert.Equal(t, contracts.KindServiceUnavailable, contracts.KindOf(err))
	assert.Equal(t, dialsBefore, dialer.dialCount(), "open circuit must fail fast without dialing")
}

func TestArgumentMismatchFailsBeforeDialing(t *testing.T) {
	dialer := &fakeDialer{}
	b, cat, breakers := newTestBroker(t, dialer)

	require.NoError(t, cat.Publish([]*catalog.ToolDescriptor{{
		Name:    "time.convert_time",
		Backend: "time",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"timezone": {"type": "string"}},
			"required": ["timezone"]
		}`),
	}}))

	_, err := b.Call(context.Background(), "time.convert_time", map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, contracts.KindConfiguration, contracts.KindOf(err))
	assert.Equal(t, 0, dialer.dialCount())
	assert.Equal(t, 0, breakers.Snapshot("time").FailureCount)
}

func TestListBackendToolsNamespaces(t *testing.T) {
	dialer := &fakeDialer{script: func() *fakeSession {
		return &fakeSession{tools: []ToolInfo{
			{Name: "get_current_time", Description: "current time"},
			{Name: "convert_time", Description: "convert between zones"},
		}}
	}}
	b, _, _ := newTestBroker(t, dialer)

	descriptors, err := b.ListBackendTools(context.Background(), "time")
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, "time.get_current_time", descriptors[0].Name)
	assert.Equal(t, "time", descriptors[0].Backend)
	assert.Equal(t, "time.convert_time", descriptors[1].Name)
	assert.True(t, dialer.allClosed())
}

func TestSuccessfulCallReturnsFreshTimestamp(t *testing.T) {
	dialer := &fakeDialer{script: func() *fakeSession {
		payload, _ := json.Marshal([]map[string]string{{
			"type": "text",
			"text": time.Now().UTC().Format(time.RFC3339),
		}})
		return &fakeSession{result: &ToolResult{Content: payload}}
	}}
	b, _, _ := newTestBroker(t, dialer)

	result, err := b.Call(context.Background(), "time.get_current_time", map[string]interface{}{})
	require.NoError(t, err)

	var content []struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(result.Content, &content))
	require.NotEmpty(t, content)

	reported, err := time.Parse(time.RFC3339, content[0].Text)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), reported, 5*time.Second)
}

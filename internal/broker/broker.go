// Package broker executes tool calls. Each call gets its own exclusive
// session: resolve, breaker gate, ensure the backend runs, connect,
// handshake, invoke, close. The session is torn down on every exit path,
// including caller cancellation.
package broker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/breaker"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/catalog"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/lifecycle"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/observability"
)

// Broker routes tool calls through the catalog, breaker, and lifecycle
// layers to a fresh backend session.
type Broker struct {
	catalog   *catalog.Catalog
	lifecycle *lifecycle.Manager
	breakers  *breaker.Registry
	dialer    Dialer
	timeouts  config.TimeoutConfig
	logger    *zap.Logger
	tracing   *observability.TracingManager

	onCall func(backend, tool, outcome string, elapsed time.Duration)
}

// New creates a broker.
func New(cat *catalog.Catalog, lm *lifecycle.Manager, br *breaker.Registry,
	dialer Dialer, timeouts config.TimeoutConfig, logger *zap.Logger) *Broker {
	return &Broker{
		catalog:   cat,
		lifecycle: lm,
		breakers:  br,
		dialer:    dialer,
		timeouts:  timeouts,
		logger:    logger,
	}
}

// OnCall registers a metrics hook fired after every call attempt.
func (b *Broker) OnCall(fn func(backend, tool, outcome string, elapsed time.Duration)) {
	b.onCall = fn
}

// SetTracing enables span creation around calls and sessions. A nil manager
// leaves tracing off.
func (b *Broker) SetTracing(tm *observability.TracingManager) {
	b.tracing = tm
}

// Call invokes a namespaced tool with an exclusive session.
func (b *Broker) Call(ctx context.Context, toolName string, args map[string]interface{}) (*contracts.ToolCallResult, error) {
	started := time.Now()

	backendName, bareTool, err := catalog.SplitName(toolName)
	if err != nil {
		return nil, err
	}

	desc, err := b.catalog.Resolve(toolName)
	if err != nil {
		return nil, err
	}

	ctx, span := b.tracing.TraceToolCall(ctx, backendName, bareTool)
	defer span.End()

	// schema mismatches fail before any backend work and never feed the
	// breaker
	if err := catalog.ValidateArguments(desc, args); err != nil {
		return nil, err
	}

	if err := b.breakers.Allow(backendName); err != nil {
		b.report(backendName, bareTool, "rejected", started)
		return nil, err
	}

	result, err := b.callWithSession(ctx, backendName, bareTool, args)
	if err != nil {
		kind := contracts.KindOf(err)
		if contracts.CountsAgainstBreaker(kind) {
			b.breakers.RecordFailure(backendName)
		}
		b.tracing.SetSpanError(ctx, err)
		b.report(backendName, bareTool, string(kind), started)
		return nil, err
	}

	// the backend answered, so the circuit heals even when the tool itself
	// reported an error
	b.breakers.RecordSuccess(backendName)
	b.lifecycle.Touch(backendName)

	callResult := &contracts.ToolCallResult{
		ToolName: toolName,
		IsError:  result.IsError,
		Content:  result.Content,
		Duration: time.Since(started),
	}

	if result.IsError {
		b.report(backendName, bareTool, "tool_error", started)
		return callResult, contracts.Errorf(contracts.KindInvocationError,
			"tool %s reported an error", toolName)
	}

	b.report(backendName, bareTool, "ok", started)
	return callResult, nil
}

// callWithSession runs the session portion of a call: ensure, connect,
// handshake, invoke. The deferred close uses a fresh context so caller
// cancellation can never leak the session.
func (b *Broker) callWithSession(ctx context.Context, backendName, bareTool string,
	args map[string]interface{}) (*ToolResult, error) {

	ctx, span := b.tracing.TraceBackendSession(ctx, backendName, "call_tool")
	defer span.End()

	transport, err := b.lifecycle.EnsureRunning(ctx, backendName)
	if err != nil {
		return nil, err
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, b.timeouts.Connect)
	session, err := b.dialer.Dial(connectCtx, transport)
	cancelConnect()
	if err != nil {
		return nil, classify(err, contracts.KindServiceUnavailable,
			"failed to connect to backend "+backendName)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			b.logger.Debug("session close failed",
				zap.String("backend", backendName), zap.Error(cerr))
		}
	}()

	handshakeCtx, cancelHandshake := context.WithTimeout(ctx, b.timeouts.Handshake)
	err = session.Handshake(handshakeCtx)
	cancelHandshake()
	if err != nil {
		return nil, classify(err, contracts.KindHandshakeFailure,
			"handshake with backend "+backendName+" failed")
	}

	invokeCtx, cancelInvoke := context.WithTimeout(ctx, b.timeouts.Invoke)
	result, err := session.CallTool(invokeCtx, bareTool, args)
	cancelInvoke()
	if err != nil {
		return nil, classify(err, contracts.KindServiceUnavailable,
			"invocation on backend "+backendName+" failed")
	}

	return result, nil
}

// Probe satisfies lifecycle.Probe: a full connect-handshake-close round trip
// proves the backend is ready.
func (b *Broker) Probe(ctx context.Context, transport contracts.TransportConfig) error {
	session, err := b.dialer.Dial(ctx, transport)
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Handshake(ctx)
}

// ListBackendTools fetches a backend's advertised tools over a dedicated
// session and returns them as namespaced catalog descriptors.
func (b *Broker) ListBackendTools(ctx context.Context, backendName string) ([]*catalog.ToolDescriptor, error) {
	transport, err := b.lifecycle.EnsureRunning(ctx, backendName)
	if err != nil {
		return nil, err
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, b.timeouts.Connect)
	session, err := b.dialer.Dial(connectCtx, transport)
	cancelConnect()
	if err != nil {
		return nil, classify(err, contracts.KindServiceUnavailable,
			"failed to connect to backend "+backendName)
	}
	defer session.Close()

	handshakeCtx, cancelHandshake := context.WithTimeout(ctx, b.timeouts.Handshake)
	err = session.Handshake(handshakeCtx)
	cancelHandshake()
	if err != nil {
		return nil, classify(err, contracts.KindHandshakeFailure,
			"handshake with backend "+backendName+" failed")
	}

	listCtx, cancelList := context.WithTimeout(ctx, b.timeouts.Invoke)
	tools, err := session.ListTools(listCtx)
	cancelList()
	if err != nil {
		return nil, classify(err, contracts.KindServiceUnavailable,
			"failed to list tools on backend "+backendName)
	}

	descriptors := make([]*catalog.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		descriptors = append(descriptors, &catalog.ToolDescriptor{
			Name:        catalog.QualifiedName(backendName, tool.Name),
			Backend:     backendName,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return descriptors, nil
}

// classify wraps an infrastructure error with a kind, upgrading deadline
// overruns to timeouts.
func classify(err error, kind contracts.ErrorKind, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = contracts.KindTimeout
	}
	return contracts.NewError(kind, message, err)
}

func (b *Broker) report(backend, tool, outcome string, started time.Time) {
	if b.onCall != nil {
		b.onCall(backend, tool, outcome, time.Since(started))
	}
}

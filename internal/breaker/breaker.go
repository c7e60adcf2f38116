// Package breaker isolates failing backends with a per-backend circuit
// breaker. Closed admits calls, Open fails fast until a deadline, HalfOpen
// admits a single trial call that decides between reset and re-open.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

// Snapshot is a point-in-time view of one breaker, used by health reporting.
type Snapshot struct {
	Phase        contracts.BreakerPhase
	FailureCount int
	OpenedAt     time.Time
	RetryAfter   time.Time
}

// breaker holds the state for one backend.
type breaker struct {
	mu sync.Mutex

	phase        contracts.BreakerPhase
	failureCount int
	lastFailure  time.Time
	openedAt     time.Time
	retryAfter   time.Time
	// consecutive Open entries, drives exponential cooldown growth
	openStreak int
	// a HalfOpen trial is in flight
	trialActive bool
}

// Registry keeps one breaker per backend. Breakers are created lazily on
// first use and removed when a backend is deregistered.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*breaker

	cfg    config.BreakerConfig
	logger *zap.Logger
	clock  func() time.Time

	onTransition func(backend string, from, to contracts.BreakerPhase)
}

// NewRegistry creates a breaker registry with the given tuning.
func NewRegistry(cfg config.BreakerConfig, logger *zap.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*breaker),
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
	}
}

// OnTransition registers a callback fired after every phase change, outside
// the breaker lock. Used for metrics.
func (r *Registry) OnTransition(fn func(backend string, from, to contracts.BreakerPhase)) {
	r.onTransition = fn
}

func (r *Registry) get(backend string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[backend]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[backend]; ok {
		return b
	}
	b = &breaker{phase: contracts.BreakerClosed}
	r.breakers[backend] = b
	return b
}

// Remove drops a backend's breaker state.
func (r *Registry) Remove(backend string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, backend)
}

// Allow reports whether a call to the backend may proceed. While Open it
// fails fast with a service_unavailable error carrying the retry deadline.
// When the cooldown has elapsed it admits exactly one trial call and moves
// to HalfOpen.
func (r *Registry) Allow(backend string) error {
	b := r.get(backend)
	now := r.clock()

	b.mu.Lock()
	switch b.phase {
	case contracts.BreakerClosed:
		b.mu.Unlock()
		return nil

	case contracts.BreakerOpen:
		if now.Before(b.retryAfter) {
			retryIn := b.retryAfter.Sub(now).Round(time.Second)
			b.mu.Unlock()
			return contracts.Errorf(contracts.KindServiceUnavailable,
				"backend %q circuit open, retry in %s", backend, retryIn)
		}
		b.phase = contracts.BreakerHalfOpen
		b.trialActive = true
		b.mu.Unlock()
		r.transition(backend, contracts.BreakerOpen, contracts.BreakerHalfOpen)
		return nil

	case contracts.BreakerHalfOpen:
		if b.trialActive {
			b.mu.Unlock()
			return contracts.Errorf(contracts.KindServiceUnavailable,
				"backend %q circuit half-open, trial in flight", backend)
		}
		b.trialActive = true
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return nil
}

// RecordSuccess resets the breaker after a successful call.
func (r *Registry) RecordSuccess(backend string) {
	b := r.get(backend)

	b.mu.Lock()
	from := b.phase
	b.phase = contracts.BreakerClosed
	b.failureCount = 0
	b.openStreak = 0
	b.trialActive = false
	b.mu.Unlock()

	if from != contracts.BreakerClosed {
		r.transition(backend, from, contracts.BreakerClosed)
	}
}

// RecordFailure counts an infrastructure failure against the backend. Once
// the threshold is reached within the rolling window the breaker opens; a
// failed HalfOpen trial re-opens with an exponentially longer cooldown.
func (r *Registry) RecordFailure(backend string) {
	b := r.get(backend)
	now := r.clock()

	b.mu.Lock()
	from := b.phase

	switch b.phase {
	case contracts.BreakerHalfOpen:
		b.trialActive = false
		b.open(now, r.cfg)
	case contracts.BreakerClosed:
		// restart the window after a quiet gap
		if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > r.cfg.FailureWindow {
			b.failureCount = 0
		}
		b.failureCount++
		b.lastFailure = now
		if b.failureCount >= r.cfg.FailureThreshold {
			b.open(now, r.cfg)
		}
	case contracts.BreakerOpen:
		// calls racing the transition; nothing to count
	}

	to := b.phase
	b.mu.Unlock()

	if from != to {
		r.transition(backend, from, to)
	}
}

// open moves to Open and sets the retry deadline. The cooldown doubles per
// consecutive Open entry, capped by config.
func (b *breaker) open(now time.Time, cfg config.BreakerConfig) {
	b.phase = contracts.BreakerOpen
	b.openedAt = now
	b.failureCount = 0

	cooldown := cfg.Cooldown
	for i := 0; i < b.openStreak; i++ {
		cooldown *= 2
		if cooldown >= cfg.CooldownCap {
			cooldown = cfg.CooldownCap
			break
		}
	}
	b.openStreak++
	b.retryAfter = now.Add(cooldown)
}

// Snapshot returns the backend's breaker view, creating nothing.
func (r *Registry) Snapshot(backend string) Snapshot {
	r.mu.RLock()
	b, ok := r.breakers[backend]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{Phase: contracts.BreakerClosed}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Phase:        b.phase,
		FailureCount: b.failureCount,
		OpenedAt:     b.openedAt,
		RetryAfter:   b.retryAfter,
	}
}

func (r *Registry) transition(backend string, from, to contracts.BreakerPhase) {
	r.logger.Info("circuit breaker transition",
		zap.String("backend", backend),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if r.onTransition != nil {
		r.onTransition(backend, from, to)
	}
}

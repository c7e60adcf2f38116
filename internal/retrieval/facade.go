// Package retrieval suggests tools for a task description. The primary
// strategy consults an external semantic index; when it fails or is
// unavailable the facade degrades to a fixed deterministic fallback set for
// that request only.
package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

// Strategy produces candidates for a task description.
type Strategy interface {
	Retrieve(ctx context.Context, task string, topK int, officialOnly bool) ([]contracts.RetrievalCandidate, error)
}

// Facade selects between the primary and fallback strategies per request.
type Facade struct {
	primary  *Primary
	fallback Strategy
	logger   *zap.Logger
}

// NewFacade builds the facade. primary may be nil when no index is
// configured.
func NewFacade(primary *Primary, fallback Strategy, logger *zap.Logger) *Facade {
	return &Facade{primary: primary, fallback: fallback, logger: logger}
}

// Retrieve returns candidates with their provenance. Primary failures are
// absorbed: the caller sees fallback results marked degraded, and the
// failure surfaces through health reporting.
func (f *Facade) Retrieve(ctx context.Context, task string, topK int, officialOnly bool) (*contracts.RetrievalResult, error) {
	if f.primary != nil && f.primary.Available() {
		candidates, err := f.primary.Retrieve(ctx, task, topK, officialOnly)
		if err == nil {
			return &contracts.RetrievalResult{
				Candidates: stamp(candidates, contracts.ProvenancePrimary),
				Provenance: contracts.ProvenancePrimary,
			}, nil
		}
		f.logger.Warn("primary retrieval failed, degrading to fallback", zap.Error(err))
	}

	candidates, err := f.fallback.Retrieve(ctx, task, topK, officialOnly)
	if err != nil {
		return &contracts.RetrievalResult{
			Candidates: []contracts.RetrievalCandidate{},
			Provenance: contracts.ProvenanceFallback,
			Degraded:   true,
		}, contracts.NewError(contracts.KindServiceUnavailable, "all retrieval strategies failed", err)
	}

	return &contracts.RetrievalResult{
		Candidates: stamp(candidates, contracts.ProvenanceFallback),
		Provenance: contracts.ProvenanceFallback,
		Degraded:   f.primary != nil,
	}, nil
}

// stamp marks each candidate with the strategy that produced it.
func stamp(candidates []contracts.RetrievalCandidate, p contracts.RetrievalProvenance) []contracts.RetrievalCandidate {
	for i := range candidates {
		candidates[i].Provenance = p
	}
	return candidates
}

// PrimaryAvailable reports primary health for the health monitor.
func (f *Facade) PrimaryAvailable() bool {
	return f.primary != nil && f.primary.Available()
}

// FallbackAvailable reports fallback readiness. The compiled-in candidate
// set always serves.
func (f *Facade) FallbackAvailable() bool {
	return f.fallback != nil
}

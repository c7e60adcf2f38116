package lifecycle

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

// validTransitions defines the allowed state machine edges.
var validTransitions = map[contracts.BackendState][]contracts.BackendState{
	contracts.BackendStopped:  {contracts.BackendStarting},
	contracts.BackendStarting: {contracts.BackendRunning, contracts.BackendStopped},
	contracts.BackendRunning:  {contracts.BackendStopped, contracts.BackendDegraded},
	contracts.BackendDegraded: {contracts.BackendRunning, contracts.BackendStopped},
}

// validateTransition checks if a state transition is allowed.
func validateTransition(from, to contracts.BackendState) error {
	if from == to {
		return nil
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %s to %s", from, to)
}

// Status is the externally visible view of one backend.
type Status struct {
	Name      string
	State     contracts.BackendState
	Pinned    bool
	LastUsed  time.Time
	LastError string
	Transport contracts.TransportConfig
}

// transitionTo moves an entry to a new state, logging the edge. The caller
// holds the entry lock.
func (e *entry) transitionTo(state contracts.BackendState, logger *zap.Logger) {
	if err := validateTransition(e.state, state); err != nil {
		logger.Warn("forcing invalid state transition",
			zap.String("backend", e.name), zap.Error(err))
	}
	logger.Debug("backend state transition",
		zap.String("backend", e.name),
		zap.String("from", string(e.state)),
		zap.String("to", string(state)))
	e.state = state
}

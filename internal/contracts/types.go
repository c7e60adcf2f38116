// Package contracts defines typed data transfer objects shared by the
// gateway's API surface and its internal components.
package contracts

import (
	"encoding/json"
	"time"
)

// APIResponse is the standard wrapper for all API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError is the wire form of a classified gateway error.
type APIError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewSuccessResponse creates a successful API response with data.
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{Success: true, Data: data}
}

// NewErrorResponse creates a failed API response from a classified error.
func NewErrorResponse(err error) APIResponse {
	return APIResponse{
		Success: false,
		Error:   &APIError{Kind: KindOf(err), Message: err.Error()},
	}
}

// BackendState describes where a backend is in its lifecycle.
type BackendState string

const (
	BackendStopped  BackendState = "stopped"
	BackendStarting BackendState = "starting"
	BackendRunning  BackendState = "running"
	BackendDegraded BackendState = "degraded"
)

// BreakerPhase describes a backend circuit breaker's position.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half_open"
)

// TransportConfig tells the gateway how to reach (and optionally launch) a
// backend. URL-only backends are probed; backends with a command are started
// on demand as child processes.
type TransportConfig struct {
	URL     string            `json:"url,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// RequiredEnv lists credential variables that must be present in the
	// gateway's environment before this backend is usable.
	RequiredEnv []string `json:"required_env,omitempty"`
}

// BackendInfo is the API view of a registered backend.
type BackendInfo struct {
	Name         string          `json:"name"`
	State        BackendState    `json:"state"`
	BreakerPhase BreakerPhase    `json:"breaker_phase"`
	Pinned       bool            `json:"pinned"`
	LastUsed     *time.Time      `json:"last_used,omitempty"`
	Transport    TransportConfig `json:"transport"`
	ToolCount    int             `json:"tool_count"`
}

// ToolCallRequest is the API payload for invoking a namespaced tool.
type ToolCallRequest struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolCallResult carries a successful (or tool-reported-failed) invocation.
type ToolCallResult struct {
	ToolName string          `json:"tool_name"`
	IsError  bool            `json:"is_error"`
	Content  json.RawMessage `json:"content"`
	Duration time.Duration   `json:"duration_ns"`
}

// RetrievalProvenance marks which strategy produced a candidate set.
type RetrievalProvenance string

const (
	ProvenancePrimary  RetrievalProvenance = "primary"
	ProvenanceFallback RetrievalProvenance = "fallback"
)

// RetrievalCandidate is one tool suggestion from the retrieval facade.
type RetrievalCandidate struct {
	ToolName        string              `json:"tool_name"`
	Description     string              `json:"description"`
	SimilarityScore float64             `json:"similarity_score"`
	Provenance      RetrievalProvenance `json:"provenance,omitempty"`
	Backend         *TransportConfig    `json:"backend_config,omitempty"`
	BackendName     string              `json:"backend_name,omitempty"`
}

// RetrievalResult bundles candidates with their provenance.
type RetrievalResult struct {
	Candidates []RetrievalCandidate `json:"tools"`
	Provenance RetrievalProvenance  `json:"provenance"`
	// Degraded is set when the primary strategy failed and the fallback
	// served the request.
	Degraded bool `json:"degraded,omitempty"`
}

// BackendHealth is one backend's entry in the health report.
type BackendHealth struct {
	State        BackendState `json:"state"`
	BreakerPhase BreakerPhase `json:"breaker_phase"`
	Pinned       bool         `json:"pinned"`
}

// ProvenanceAvailability reports which retrieval strategies can currently
// serve requests.
type ProvenanceAvailability struct {
	Primary  bool `json:"primary"`
	Fallback bool `json:"fallback"`
}

// HealthReport is the structured status summary for operators.
type HealthReport struct {
	Status      string                   `json:"status"`
	Backends    map[string]BackendHealth `json:"backends"`
	Retrieval   ProvenanceAvailability   `json:"provenance_available"`
	OrphanCount int                      `json:"orphan_count"`
	CheckedAt   time.Time                `json:"checked_at"`
}

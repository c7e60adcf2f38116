package broker

import (
	"context"
	"encoding/json"
)

// ToolResult is what a backend returned for one invocation. IsError marks a
// tool-level failure reported by the backend itself.
type ToolResult struct {
	IsError bool
	Content json.RawMessage
}

// ToolInfo describes one tool a backend advertises.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Session is one exclusive connection to a backend. It belongs to a single
// call and must be closed on every exit path.
type Session interface {
	// Handshake performs the protocol initialize exchange.
	Handshake(ctx context.Context) error
	// CallTool invokes a tool by its bare (un-namespaced) name.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error)
	// ListTools returns the backend's advertised tools.
	ListTools(ctx context.Context) ([]ToolInfo, error)
	// Close tears the session down. Safe to call more than once.
	Close() error
}

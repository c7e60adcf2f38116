// Package catalog maps fully qualified tool names to their backend and
// schema. The read path is a lock-free snapshot: calls resolve against an
// immutable map while refreshes swap in a new one.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

// Separator splits a qualified tool name into backend and tool halves.
const Separator = "."

// ToolDescriptor is one published tool. Descriptors are immutable; a refresh
// for the same name replaces the whole record.
type ToolDescriptor struct {
	Name        string          `json:"name"` // "<backend>.<tool>"
	Backend     string          `json:"backend"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// SplitName separates a qualified tool name into backend and bare tool name.
func SplitName(qualified string) (backend, tool string, err error) {
	parts := strings.SplitN(qualified, Separator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", contracts.Errorf(contracts.KindNotFound,
			"tool name %q is not in <backend>%s<tool> form", qualified, Separator)
	}
	return parts[0], parts[1], nil
}

// QualifiedName joins a backend and bare tool name.
func QualifiedName(backend, tool string) string {
	return backend + Separator + tool
}

// Sink receives descriptor updates when the catalog changes. The search
// index implements this.
type Sink interface {
	IndexTools(descriptors []*ToolDescriptor) error
	RemoveBackendTools(backend string) error
}

// Catalog is the authoritative name-to-descriptor map.
type Catalog struct {
	snapshot atomic.Pointer[map[string]*ToolDescriptor]

	mu     sync.Mutex // serializes writers only
	sinks  []Sink
	logger *zap.Logger
}

// New creates an empty catalog.
func New(logger *zap.Logger) *Catalog {
	c := &Catalog{logger: logger}
	empty := make(map[string]*ToolDescriptor)
	c.snapshot.Store(&empty)
	return c
}

// AddSink registers an observer for descriptor updates.
func (c *Catalog) AddSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// Resolve returns the descriptor for a qualified tool name.
func (c *Catalog) Resolve(name string) (*ToolDescriptor, error) {
	snap := *c.snapshot.Load()
	desc, ok := snap[name]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, "tool %q not in catalog", name)
	}
	return desc, nil
}

// Publish adds or replaces descriptors. Entries from a later publish
// supersede earlier ones with the same name.
func (c *Catalog) Publish(descriptors []*ToolDescriptor) error {
	if len(descriptors) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.snapshot.Load()
	next := make(map[string]*ToolDescriptor, len(old)+len(descriptors))
	for k, v := range old {
		next[k] = v
	}
	for _, d := range descriptors {
		if d.Name == "" || d.Backend == "" {
			return fmt.Errorf("descriptor missing name or backend")
		}
		next[d.Name] = d
	}
	c.snapshot.Store(&next)

	for _, sink := range c.sinks {
		if err := sink.IndexTools(descriptors); err != nil {
			c.logger.Warn("catalog sink rejected update", zap.Error(err))
		}
	}
	return nil
}

// RemoveBackend drops every descriptor belonging to a backend, used when a
// backend is deregistered.
func (c *Catalog) RemoveBackend(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.snapshot.Load()
	next := make(map[string]*ToolDescriptor, len(old))
	for k, v := range old {
		if v.Backend != backend {
			next[k] = v
		}
	}
	c.snapshot.Store(&next)

	for _, sink := range c.sinks {
		if err := sink.RemoveBackendTools(backend); err != nil {
			c.logger.Warn("catalog sink failed to remove backend tools",
				zap.String("backend", backend), zap.Error(err))
		}
	}
}

// Snapshot returns all descriptors sorted by name.
func (c *Catalog) Snapshot() []*ToolDescriptor {
	snap := *c.snapshot.Load()
	out := make([]*ToolDescriptor, 0, len(snap))
	for _, d := range snap {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CountForBackend returns how many tools a backend has published.
func (c *Catalog) CountForBackend(backend string) int {
	snap := *c.snapshot.Load()
	n := 0
	for _, d := range snap {
		if d.Backend == backend {
			n++
		}
	}
	return n
}

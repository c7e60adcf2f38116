package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for consistency before the gateway
// starts. Backend names double as tool namespaces, so they must be non-empty
// and must not contain the namespace separator.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}

	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if err := b.Validate(); err != nil {
			return err
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("duplicate backend name %q", b.Name)
		}
		seen[b.Name] = struct{}{}
	}

	if c.Timeouts.Connect <= 0 || c.Timeouts.Handshake <= 0 || c.Timeouts.Invoke <= 0 || c.Timeouts.Ready <= 0 {
		return fmt.Errorf("all timeout budgets must be positive")
	}
	if c.Lifecycle.IdleTTL <= 0 || c.Lifecycle.ReaperInterval <= 0 {
		return fmt.Errorf("idle TTL and reaper interval must be positive")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit breaker failure threshold must be at least 1")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("circuit breaker cooldown must be positive")
	}
	if c.Breaker.CooldownCap < c.Breaker.Cooldown {
		return fmt.Errorf("circuit breaker cooldown cap must be >= cooldown")
	}
	if c.Retrieval != nil && c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be at least 1")
	}

	return nil
}

// Validate checks a single backend registration.
func (b *BackendConfig) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("backend name must not be empty")
	}
	if strings.Contains(b.Name, ".") {
		return fmt.Errorf("backend name %q must not contain '.'", b.Name)
	}
	if b.URL == "" && b.Command == "" {
		return fmt.Errorf("backend %q needs a url or a command", b.Name)
	}
	return nil
}

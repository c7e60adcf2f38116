// Package config holds the gateway configuration: listen address, data
// directory, backend registrations, timeout budgets, breaker tuning, and
// retrieval endpoints. Loaded from a JSON file with env/flag overrides.
package config

import (
	"time"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

const (
	defaultListen = "127.0.0.1:8080"
)

// Config represents the main configuration structure
type Config struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	DataDir string `json:"data_dir" mapstructure:"data-dir"`
	APIKey  string `json:"api_key,omitempty" mapstructure:"api-key"`

	// Backends seeded from the config file; more can be registered at runtime.
	Backends []*BackendConfig `json:"backends" mapstructure:"backends"`

	Timeouts  TimeoutConfig    `json:"timeouts" mapstructure:"timeouts"`
	Lifecycle LifecycleConfig  `json:"lifecycle" mapstructure:"lifecycle"`
	Breaker   BreakerConfig    `json:"circuit_breaker" mapstructure:"circuit-breaker"`
	Retrieval *RetrievalConfig `json:"retrieval,omitempty" mapstructure:"retrieval"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	// Tracing configuration
	Tracing *TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`       // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"` // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// TracingConfig controls OpenTelemetry span export over OTLP.
type TracingConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service-name"`
	ServiceVersion string  `json:"service_version" mapstructure:"service-version"`
	OTLPEndpoint   string  `json:"otlp_endpoint" mapstructure:"otlp-endpoint"`
	SampleRate     float64 `json:"sample_rate" mapstructure:"sample-rate"`
}

// BackendConfig describes one tool backend: how to reach it and, when a
// command is given, how to launch it on demand.
type BackendConfig struct {
	Name        string            `json:"name" mapstructure:"name"`
	URL         string            `json:"url,omitempty" mapstructure:"url"`
	Command     string            `json:"command,omitempty" mapstructure:"command"`
	Args        []string          `json:"args,omitempty" mapstructure:"args"`
	Env         map[string]string `json:"env,omitempty" mapstructure:"env"`
	RequiredEnv []string          `json:"required_env,omitempty" mapstructure:"required-env"`
	// Pinned backends start eagerly and are never idle-reaped.
	Pinned  bool      `json:"pinned" mapstructure:"pinned"`
	Created time.Time `json:"created,omitempty" mapstructure:"created"`
}

// Transport converts the registration into the wire-level transport contract.
func (b *BackendConfig) Transport() contracts.TransportConfig {
	return contracts.TransportConfig{
		URL:         b.URL,
		Command:     b.Command,
		Args:        b.Args,
		Env:         b.Env,
		RequiredEnv: b.RequiredEnv,
	}
}

// TimeoutConfig bounds every stage of a call. A stage that overruns its
// budget fails with a timeout error; no stage may block indefinitely.
type TimeoutConfig struct {
	Connect   time.Duration `json:"connect" mapstructure:"connect"`
	Handshake time.Duration `json:"handshake" mapstructure:"handshake"`
	Invoke    time.Duration `json:"invoke" mapstructure:"invoke"`
	Ready     time.Duration `json:"ready" mapstructure:"ready"`
	Shutdown  time.Duration `json:"shutdown" mapstructure:"shutdown"`
}

// LifecycleConfig tunes on-demand starts and idle reaping.
type LifecycleConfig struct {
	IdleTTL        time.Duration `json:"idle_ttl" mapstructure:"idle-ttl"`
	ReaperInterval time.Duration `json:"reaper_interval" mapstructure:"reaper-interval"`
	HealthInterval time.Duration `json:"health_interval" mapstructure:"health-interval"`
}

// BreakerConfig tunes the per-backend circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" mapstructure:"failure-threshold"`
	FailureWindow    time.Duration `json:"failure_window" mapstructure:"failure-window"`
	Cooldown         time.Duration `json:"cooldown" mapstructure:"cooldown"`
	CooldownCap      time.Duration `json:"cooldown_cap" mapstructure:"cooldown-cap"`
}

// RetrievalConfig points at the external semantic tool index and tunes the
// facade's failover behavior.
type RetrievalConfig struct {
	PrimaryURL      string        `json:"primary_url,omitempty" mapstructure:"primary-url"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	RecheckInterval time.Duration `json:"recheck_interval" mapstructure:"recheck-interval"`
	TopK            int           `json:"top_k" mapstructure:"top-k"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: defaultListen,
		Timeouts: TimeoutConfig{
			Connect:   10 * time.Second,
			Handshake: 15 * time.Second,
			Invoke:    60 * time.Second,
			Ready:     30 * time.Second,
			Shutdown:  10 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			IdleTTL:        10 * time.Minute,
			ReaperInterval: 1 * time.Minute,
			HealthInterval: 1 * time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    2 * time.Minute,
			Cooldown:         60 * time.Second,
			CooldownCap:      5 * time.Minute,
		},
		Retrieval: &RetrievalConfig{
			Timeout:         10 * time.Second,
			RecheckInterval: 5 * time.Minute,
			TopK:            5,
		},
		Logging: &LogConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		},
		Tracing: &TracingConfig{
			Enabled:        false,
			ServiceName:    "mcpgateway",
			ServiceVersion: "dev",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     0.1,
		},
	}
}

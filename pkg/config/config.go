package config

import (
	"time"

	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/debt"
	"mercator-hq/gatekeeper/pkg/risk"
	"mercator-hq/gatekeeper/pkg/trust"
	"mercator-hq/gatekeeper/pkg/tuning"
)

// Config is the root configuration structure for gatekeeper. Every table the
// engines consult (tier breakpoints, event deltas, hazard patterns, tuning
// thresholds, override tokens, the debt allow-list) lives here as data.
type Config struct {
	// State configures the persistent state directory and its locking.
	State StateConfig `yaml:"state"`

	// Trust holds the evidence delta table, penalties and tier breakpoints.
	Trust trust.Config `yaml:"trust"`

	// Risk holds the escalation threshold and the hazard pattern table.
	Risk risk.Config `yaml:"risk"`

	// Circuits holds default circuit settings and per-circuit overrides.
	Circuits circuit.Config `yaml:"circuits"`

	// Tuning holds the promotion and demotion thresholds per pattern.
	Tuning tuning.Config `yaml:"tuning"`

	// Debt holds the corrective-action allow-list.
	Debt debt.Config `yaml:"debt"`

	// Policy configures rule loading, override tokens and fail-safe modes.
	Policy PolicyConfig `yaml:"policy"`

	// Gate configures action classification and derived session signals.
	Gate GateConfig `yaml:"gate"`

	// Audit configures the SQLite decision audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Maintenance configures the periodic sweep.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Server configures the daemon HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Telemetry contains logging, metrics, tracing and health settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StateConfig configures the state directory.
type StateConfig struct {
	// Dir holds the JSON documents and ledgers.
	// Default: ".gatekeeper/state"
	Dir string `yaml:"dir"`

	// LockTimeout bounds how long a read-modify-write waits for the
	// document lock.
	// Default: 5s
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// CacheTTL enables the read-through cache in daemon mode. Zero disables
	// it.
	// Default: 2s
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// SessionRetention is how long idle sessions are kept.
	// Default: 168h
	SessionRetention time.Duration `yaml:"session_retention"`
}

// PolicyConfig configures the rule engine and its rule source.
type PolicyConfig struct {
	// RulesPath is a YAML rule file or a directory of them. When empty only
	// the built-in rules are loaded.
	RulesPath string `yaml:"rules_path"`

	// Builtin loads the built-in rule set alongside RulesPath.
	// Default: true
	Builtin *bool `yaml:"builtin"`

	// Watch reloads rules when files under RulesPath change (daemon only).
	Watch bool `yaml:"watch"`

	// DebounceInterval coalesces bursts of file events.
	// Default: 100ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// OverrideTokens lists the accepted override tokens. When empty any
	// non-empty token is accepted.
	OverrideTokens []string `yaml:"override_tokens"`

	// FailSafe maps rule categories to "fail-open" or "fail-closed".
	// Default: safety and quality fail closed
	FailSafe map[string]string `yaml:"fail_safe"`

	// DefaultFailSafe applies to categories missing from FailSafe.
	// Default: "fail-open"
	DefaultFailSafe string `yaml:"default_fail_safe"`

	// MaxRules bounds the size of a loaded rule set.
	// Default: 500
	MaxRules int `yaml:"max_rules"`
}

// BuiltinEnabled reports whether the built-in rules are loaded.
func (p PolicyConfig) BuiltinEnabled() bool {
	return p.Builtin == nil || *p.Builtin
}

// GateConfig configures the request boundary.
type GateConfig struct {
	// ActionsPath is an optional YAML action table replacing the built-in
	// one.
	ActionsPath string `yaml:"actions_path"`

	// ActionCategories tags action names with a rule category.
	ActionCategories map[string]string `yaml:"action_categories"`

	// DefaultCategory tags actions missing from ActionCategories.
	// Default: "workflow"
	DefaultCategory string `yaml:"default_category"`

	// SunkCostAttempts is the attempt count at which an approach is sunk
	// cost.
	// Default: 3
	SunkCostAttempts int `yaml:"sunk_cost_attempts"`

	// ErrorTTL is how long an unresolved error stays relevant.
	// Default: 30m
	ErrorTTL time.Duration `yaml:"error_ttl"`

	// VerifyGap is the number of turns after which verification is stale.
	// Default: 20
	VerifyGap int `yaml:"verify_gap"`

	// RepeatedFailures is the error count at which the repeated_failure
	// penalty applies.
	// Default: 2
	RepeatedFailures int `yaml:"repeated_failures"`
}

// AuditConfig configures the decision audit trail.
type AuditConfig struct {
	// Enabled records every decision.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the SQLite database file. Relative paths resolve against
	// the state directory.
	// Default: "audit.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for the database lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// IsEnabled reports whether decisions are audited.
func (a AuditConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// MaintenanceConfig configures the sweep.
type MaintenanceConfig struct {
	// Schedule is a cron expression for the daemon's periodic sweep. Empty
	// disables the scheduler.
	// Default: "@every 1h"
	Schedule string `yaml:"schedule"`

	// LedgerRetention is how long ledger records are kept.
	// Default: 720h
	LedgerRetention time.Duration `yaml:"ledger_retention"`

	// AuditRetention is how long audit entries are kept.
	// Default: 2160h
	AuditRetention time.Duration `yaml:"audit_retention"`
}

// ServerConfig configures the daemon HTTP server.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	// Default: "127.0.0.1:7420"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 60s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes bounds request bodies.
	// Default: 1MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn" or "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`

	// DisableRedaction stops masking override tokens in logs.
	DisableRedaction bool `yaml:"disable_redaction"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are recorded.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path of the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "gatekeeper"
	Namespace string `yaml:"namespace"`

	// DecisionDurationBuckets are histogram buckets in seconds.
	// Default: 100µs to ~1.6s, exponential
	DecisionDurationBuckets []float64 `yaml:"decision_duration_buckets"`

	// MaxCardinality bounds the distinct rule and pattern label values.
	// Default: 1000
	MaxCardinality int `yaml:"max_cardinality"`
}

// IsEnabled reports whether metrics are recorded.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	// Default: true
	Insecure *bool `yaml:"insecure"`

	// SampleRatio is the fraction of traces sampled.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the service name in traces.
	// Default: "gatekeeper"
	ServiceName string `yaml:"service_name"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// IsInsecure reports whether the exporter skips TLS.
func (t TracingConfig) IsInsecure() bool {
	return t.Insecure == nil || *t.Insecure
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the liveness endpoint path.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness endpoint path.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout bounds each component check.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

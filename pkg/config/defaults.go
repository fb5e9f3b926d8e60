package config

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/debt"
	"mercator-hq/gatekeeper/pkg/policy/engine"
	"mercator-hq/gatekeeper/pkg/risk"
	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/trust"
	"mercator-hq/gatekeeper/pkg/tuning"
)

// Default values for configuration fields.
const (
	// State defaults
	DefaultStateDir         = ".gatekeeper/state"
	DefaultLockTimeout      = 5 * time.Second
	DefaultCacheTTL         = 2 * time.Second
	DefaultSessionRetention = session.DefaultRetention

	// Policy defaults
	DefaultDebounceInterval = 100 * time.Millisecond
	DefaultMaxRules         = 500

	// Gate defaults
	DefaultSunkCostAttempts = 3
	DefaultErrorTTL         = 30 * time.Minute
	DefaultVerifyGap        = 20
	DefaultRepeatedFailures = 2

	// Audit defaults
	DefaultAuditPath        = "audit.db"
	DefaultAuditBusyTimeout = 5 * time.Second

	// Maintenance defaults
	DefaultMaintenanceSchedule = "@every 1h"
	DefaultLedgerRetention     = 30 * 24 * time.Hour
	DefaultAuditRetention      = 90 * 24 * time.Hour

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:7420"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = int64(1 << 20)

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "gatekeeper"
	DefaultMaxCardinality     = 1000
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampleRatio = 1.0
	DefaultServiceName        = "gatekeeper"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultCheckTimeout       = 2 * time.Second
)

// DefaultDecisionDurationBuckets spans 100µs to about 1.6s.
func DefaultDecisionDurationBuckets() []float64 {
	return prometheus.ExponentialBuckets(0.0001, 2, 15)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Trust:    trust.DefaultConfig(),
		Risk:     risk.DefaultConfig(),
		Circuits: circuit.DefaultConfig(),
		Tuning:   tuning.DefaultConfig(),
		Debt:     debt.DefaultConfig(),
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field with its default value. Fields that
// are already set are left alone.
func ApplyDefaults(cfg *Config) {
	applyStateDefaults(&cfg.State)
	applyEngineTableDefaults(cfg)
	applyPolicyDefaults(&cfg.Policy)
	applyGateDefaults(&cfg.Gate)
	applyAuditDefaults(&cfg.Audit)
	applyMaintenanceDefaults(&cfg.Maintenance)
	applyServerDefaults(&cfg.Server)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyStateDefaults(cfg *StateConfig) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultStateDir
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.SessionRetention == 0 {
		cfg.SessionRetention = DefaultSessionRetention
	}
}

func applyEngineTableDefaults(cfg *Config) {
	td := trust.DefaultConfig()
	if cfg.Trust.Tiers == (trust.Tiers{}) {
		cfg.Trust.Tiers = td.Tiers
	}
	if cfg.Trust.Events == nil {
		cfg.Trust.Events = td.Events
	}
	if cfg.Trust.Penalties == nil {
		cfg.Trust.Penalties = td.Penalties
	}
	if cfg.Trust.DiminishFraction == 0 {
		cfg.Trust.DiminishFraction = td.DiminishFraction
	}
	if cfg.Trust.DiminishFloor == 0 {
		cfg.Trust.DiminishFloor = td.DiminishFloor
	}
	if cfg.Trust.StaleContextRatio == 0 {
		cfg.Trust.StaleContextRatio = td.StaleContextRatio
	}

	rd := risk.DefaultConfig()
	if cfg.Risk.Threshold == 0 {
		cfg.Risk.Threshold = rd.Threshold
	}
	if cfg.Risk.DefaultAmount == 0 {
		cfg.Risk.DefaultAmount = rd.DefaultAmount
	}
	if cfg.Risk.Patterns == nil {
		cfg.Risk.Patterns = rd.Patterns
	}

	cd := circuit.DefaultConfig()
	if cfg.Circuits.Default.Threshold == 0 {
		cfg.Circuits.Default.Threshold = cd.Default.Threshold
	}
	if cfg.Circuits.Default.Cooldown == 0 {
		cfg.Circuits.Default.Cooldown = cd.Default.Cooldown
	}
	if cfg.Circuits.Default.FailureTTL == 0 {
		cfg.Circuits.Default.FailureTTL = cd.Default.FailureTTL
	}

	if cfg.Tuning.Default == (tuning.Thresholds{}) {
		cfg.Tuning.Default = tuning.DefaultThresholds()
	}

	if cfg.Debt.AllowList == nil {
		cfg.Debt.AllowList = debt.DefaultConfig().AllowList
	}
	if cfg.Debt.KeepPaid == 0 {
		cfg.Debt.KeepPaid = debt.DefaultConfig().KeepPaid
	}
}

func applyPolicyDefaults(cfg *PolicyConfig) {
	if cfg.FailSafe == nil {
		cfg.FailSafe = map[string]string{
			string(engine.CategorySafety):  string(engine.FailClosed),
			string(engine.CategoryQuality): string(engine.FailClosed),
		}
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.DefaultFailSafe == "" {
		cfg.DefaultFailSafe = string(engine.FailOpen)
	}
	if cfg.MaxRules == 0 {
		cfg.MaxRules = DefaultMaxRules
	}
}

func applyGateDefaults(cfg *GateConfig) {
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = string(engine.CategoryWorkflow)
	}
	if cfg.SunkCostAttempts == 0 {
		cfg.SunkCostAttempts = DefaultSunkCostAttempts
	}
	if cfg.ErrorTTL == 0 {
		cfg.ErrorTTL = DefaultErrorTTL
	}
	if cfg.VerifyGap == 0 {
		cfg.VerifyGap = DefaultVerifyGap
	}
	if cfg.RepeatedFailures == 0 {
		cfg.RepeatedFailures = DefaultRepeatedFailures
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.Path == "" {
		cfg.Path = DefaultAuditPath
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultAuditBusyTimeout
	}
}

func applyMaintenanceDefaults(cfg *MaintenanceConfig) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultMaintenanceSchedule
	}
	if cfg.LedgerRetention == 0 {
		cfg.LedgerRetention = DefaultLedgerRetention
	}
	if cfg.AuditRetention == 0 {
		cfg.AuditRetention = DefaultAuditRetention
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Metrics.DecisionDurationBuckets) == 0 {
		cfg.Metrics.DecisionDurationBuckets = DefaultDecisionDurationBuckets()
	}
	if cfg.Metrics.MaxCardinality == 0 {
		cfg.Metrics.MaxCardinality = DefaultMaxCardinality
	}

	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultServiceName
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}

	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultCheckTimeout
	}
}

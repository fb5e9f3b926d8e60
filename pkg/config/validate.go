package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "state.dir").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Has reports whether field failed validation.
func (e ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All errors are collected and returned
// together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateState(&cfg.State)...)
	errs = append(errs, validateTables(cfg)...)
	errs = append(errs, validatePolicy(cfg)...)
	errs = append(errs, validateGate(cfg)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateMaintenance(&cfg.Maintenance)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateState(cfg *StateConfig) []FieldError {
	var errs []FieldError
	if cfg.Dir == "" {
		errs = append(errs, FieldError{Field: "state.dir", Message: "state directory is required"})
	}
	if cfg.LockTimeout <= 0 {
		errs = append(errs, FieldError{Field: "state.lock_timeout", Message: "lock timeout must be positive"})
	}
	if cfg.CacheTTL < 0 {
		errs = append(errs, FieldError{Field: "state.cache_ttl", Message: "cache ttl must not be negative"})
	}
	if cfg.SessionRetention <= 0 {
		errs = append(errs, FieldError{Field: "state.session_retention", Message: "session retention must be positive"})
	}
	return errs
}

// validateTables delegates to each component's own checks.
func validateTables(cfg *Config) []FieldError {
	var errs []FieldError
	checks := []struct {
		field string
		check func() error
	}{
		{"trust", cfg.Trust.Validate},
		{"risk", cfg.Risk.Validate},
		{"circuits", cfg.Circuits.Validate},
		{"tuning", cfg.Tuning.Validate},
		{"debt", cfg.Debt.Validate},
	}
	for _, c := range checks {
		if err := c.check(); err != nil {
			errs = append(errs, FieldError{Field: c.field, Message: err.Error()})
		}
	}
	return errs
}

func validatePolicy(cfg *Config) []FieldError {
	var errs []FieldError
	if !cfg.Policy.BuiltinEnabled() && cfg.Policy.RulesPath == "" {
		errs = append(errs, FieldError{Field: "policy.rules_path", Message: "rules path is required when built-in rules are disabled"})
	}
	if cfg.Policy.Watch && cfg.Policy.RulesPath == "" {
		errs = append(errs, FieldError{Field: "policy.watch", Message: "watch requires a rules path"})
	}
	if cfg.Policy.DebounceInterval < 0 {
		errs = append(errs, FieldError{Field: "policy.debounce_interval", Message: "debounce interval must not be negative"})
	}
	if err := cfg.EngineConfig().Validate(); err != nil {
		errs = append(errs, FieldError{Field: "policy", Message: err.Error()})
	}
	return errs
}

func validateGate(cfg *Config) []FieldError {
	if err := cfg.GateConfig().Validate(); err != nil {
		return []FieldError{{Field: "gate", Message: err.Error()}}
	}
	return nil
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError
	if cfg.IsEnabled() && cfg.Path == "" {
		errs = append(errs, FieldError{Field: "audit.path", Message: "audit path is required when audit is enabled"})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "audit.busy_timeout", Message: "busy timeout must not be negative"})
	}
	return errs
}

func validateMaintenance(cfg *MaintenanceConfig) []FieldError {
	var errs []FieldError
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{Field: "maintenance.schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	if cfg.LedgerRetention <= 0 {
		errs = append(errs, FieldError{Field: "maintenance.ledger_retention", Message: "ledger retention must be positive"})
	}
	if cfg.AuditRetention <= 0 {
		errs = append(errs, FieldError{Field: "maintenance.audit_retention", Message: "audit retention must be positive"})
	}
	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: fmt.Sprintf("invalid listen address %q", cfg.ListenAddress)})
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server", Message: "timeouts must not be negative"})
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes must be positive"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: err.Error()})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("unknown log format %q", cfg.Logging.Format)})
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}
	if cfg.Metrics.MaxCardinality < 0 {
		errs = append(errs, FieldError{Field: "telemetry.metrics.max_cardinality", Message: "max cardinality must not be negative"})
	}
	for i := 1; i < len(cfg.Metrics.DecisionDurationBuckets); i++ {
		if cfg.Metrics.DecisionDurationBuckets[i] <= cfg.Metrics.DecisionDurationBuckets[i-1] {
			errs = append(errs, FieldError{Field: "telemetry.metrics.decision_duration_buckets", Message: "buckets must be strictly increasing"})
			break
		}
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0 and 1"})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
	}

	if cfg.Health.CheckTimeout <= 0 {
		errs = append(errs, FieldError{Field: "telemetry.health.check_timeout", Message: "check timeout must be positive"})
	}
	return errs
}

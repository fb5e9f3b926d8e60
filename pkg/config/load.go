package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEKEEPER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded over the defaults, so tables it does not mention keep
// their built-in entries. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration over the defaults. Unknown keys are
// rejected. The result is not validated.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration and applies environment
// variable overrides. Environment variables follow the naming convention
// GATEKEEPER_SECTION_FIELD (e.g., GATEKEEPER_STATE_DIR) and always take
// precedence over the file. An empty path starts from the defaults.
//
// The loading sequence is:
// 1. Load YAML from file over the defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if errs := applyEnvOverrides(cfg, os.LookupEnv); len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment override: %w", ValidationError{Errors: errs})
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// envReader applies overrides and collects values that fail to parse.
type envReader struct {
	lookup lookupFunc
	errs   []FieldError
}

func (r *envReader) get(name string) (string, bool) {
	val, ok := r.lookup(EnvPrefix + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (r *envReader) fail(name, msg string) {
	r.errs = append(r.errs, FieldError{Field: EnvPrefix + name, Message: msg})
}

func (r *envReader) str(name string, dst *string) {
	if val, ok := r.get(name); ok {
		*dst = val
	}
}

func (r *envReader) list(name string, dst *[]string) {
	val, ok := r.get(name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (r *envReader) integer(name string, dst *int) {
	if val, ok := r.get(name); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			r.fail(name, fmt.Sprintf("invalid integer %q", val))
			return
		}
		*dst = i
	}
}

func (r *envReader) float(name string, dst *float64) {
	if val, ok := r.get(name); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			r.fail(name, fmt.Sprintf("invalid number %q", val))
			return
		}
		*dst = f
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if val, ok := r.get(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			r.fail(name, fmt.Sprintf("invalid boolean %q", val))
			return
		}
		*dst = b
	}
}

func (r *envReader) optBool(name string, dst **bool) {
	var b bool
	before := len(r.errs)
	if _, ok := r.get(name); !ok {
		return
	}
	r.boolean(name, &b)
	if len(r.errs) == before {
		*dst = &b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if val, ok := r.get(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			r.fail(name, fmt.Sprintf("invalid duration %q", val))
			return
		}
		*dst = d
	}
}

// applyEnvOverrides applies GATEKEEPER_SECTION_FIELD overrides and returns
// the variables that could not be parsed.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) []FieldError {
	r := &envReader{lookup: lookup}

	// State overrides
	r.str("STATE_DIR", &cfg.State.Dir)
	r.duration("STATE_LOCK_TIMEOUT", &cfg.State.LockTimeout)
	r.duration("STATE_CACHE_TTL", &cfg.State.CacheTTL)
	r.duration("STATE_SESSION_RETENTION", &cfg.State.SessionRetention)

	// Engine table overrides
	r.integer("TRUST_INITIAL", &cfg.Trust.Initial)
	r.integer("RISK_THRESHOLD", &cfg.Risk.Threshold)
	r.integer("CIRCUITS_THRESHOLD", &cfg.Circuits.Default.Threshold)
	r.duration("CIRCUITS_COOLDOWN", &cfg.Circuits.Default.Cooldown)

	// Policy overrides
	r.str("POLICY_RULES_PATH", &cfg.Policy.RulesPath)
	r.optBool("POLICY_BUILTIN", &cfg.Policy.Builtin)
	r.boolean("POLICY_WATCH", &cfg.Policy.Watch)
	r.list("POLICY_OVERRIDE_TOKENS", &cfg.Policy.OverrideTokens)
	r.str("POLICY_DEFAULT_FAIL_SAFE", &cfg.Policy.DefaultFailSafe)

	// Gate overrides
	r.str("GATE_ACTIONS_PATH", &cfg.Gate.ActionsPath)
	r.str("GATE_DEFAULT_CATEGORY", &cfg.Gate.DefaultCategory)
	r.duration("GATE_ERROR_TTL", &cfg.Gate.ErrorTTL)

	// Audit overrides
	r.optBool("AUDIT_ENABLED", &cfg.Audit.Enabled)
	r.str("AUDIT_PATH", &cfg.Audit.Path)

	// Maintenance overrides
	r.str("MAINTENANCE_SCHEDULE", &cfg.Maintenance.Schedule)
	r.duration("MAINTENANCE_LEDGER_RETENTION", &cfg.Maintenance.LedgerRetention)
	r.duration("MAINTENANCE_AUDIT_RETENTION", &cfg.Maintenance.AuditRetention)

	// Server overrides
	r.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	r.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Telemetry overrides
	r.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	r.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	r.optBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	r.str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	r.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	r.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	r.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	return r.errs
}

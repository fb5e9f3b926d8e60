package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/policy/engine"
	"mercator-hq/gatekeeper/pkg/trust"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(Default()) error = %v", err)
	}

	if cfg.Trust.Events[trust.KindVerify] != 15 {
		t.Errorf("verify delta = %d, want 15", cfg.Trust.Events[trust.KindVerify])
	}
	if cfg.Risk.Threshold != 60 {
		t.Errorf("risk threshold = %d, want 60", cfg.Risk.Threshold)
	}
	if cfg.Circuits.Default.Cooldown != 5*time.Minute {
		t.Errorf("circuit cooldown = %v, want 5m", cfg.Circuits.Default.Cooldown)
	}
	if cfg.Tuning.Default.Window != 20 {
		t.Errorf("tuning window = %d, want 20", cfg.Tuning.Default.Window)
	}
	if !cfg.Policy.BuiltinEnabled() || !cfg.Audit.IsEnabled() || !cfg.Telemetry.Metrics.IsEnabled() {
		t.Error("built-in rules, audit and metrics should be enabled by default")
	}
}

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() after ApplyDefaults error = %v", err)
	}
	if cfg.EngineConfig().ModeFor(engine.CategorySafety) != engine.FailClosed {
		t.Error("safety should fail closed by default")
	}
	if cfg.EngineConfig().ModeFor(engine.CategoryPerformance) != engine.FailOpen {
		t.Error("performance should fail open by default")
	}
}

func TestApplyDefaults_KeepsSetFields(t *testing.T) {
	cfg := &Config{
		State:  StateConfig{Dir: "/var/lib/gk", LockTimeout: time.Second},
		Server: ServerConfig{ListenAddress: "0.0.0.0:9000"},
	}
	ApplyDefaults(cfg)
	if cfg.State.Dir != "/var/lib/gk" || cfg.State.LockTimeout != time.Second {
		t.Errorf("state overwritten: %+v", cfg.State)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("shutdown timeout = %v, want %v", cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)
	}
}

func TestParse_MergesOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
trust:
  initial: 40
  events:
    inspect: 12
risk:
  threshold: 50
circuits:
  overrides:
    bash:
      threshold: 5
      cooldown: 1m
policy:
  override_tokens: ["let-me-through"]
  fail_safe:
    epistemic: fail-closed
gate:
  action_categories:
    deploy: safety
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Trust.Initial != 40 {
		t.Errorf("initial = %d, want 40", cfg.Trust.Initial)
	}
	if cfg.Trust.Events[trust.KindInspect] != 12 {
		t.Errorf("inspect = %d, want 12", cfg.Trust.Events[trust.KindInspect])
	}
	if cfg.Trust.Events[trust.KindVerify] != 15 {
		t.Errorf("verify = %d, want the default 15", cfg.Trust.Events[trust.KindVerify])
	}
	if cfg.Risk.Threshold != 50 || cfg.Risk.DefaultAmount != 20 {
		t.Errorf("risk = %+v", cfg.Risk)
	}
	if got := cfg.Circuits.Overrides["bash"]; got.Threshold != 5 || got.Cooldown != time.Minute {
		t.Errorf("bash override = %+v", got)
	}

	ec := cfg.EngineConfig()
	if ec.ModeFor(engine.CategoryEpistemic) != engine.FailClosed {
		t.Error("epistemic should fail closed")
	}
	if ec.ModeFor(engine.CategorySafety) != engine.FailClosed {
		t.Error("safety should keep failing closed")
	}
	if len(ec.OverrideTokens) != 1 || ec.OverrideTokens[0] != "let-me-through" {
		t.Errorf("override tokens = %v", ec.OverrideTokens)
	}

	gc := cfg.GateConfig()
	if gc.ActionCategories["deploy"] != engine.CategorySafety {
		t.Errorf("deploy category = %q", gc.ActionCategories["deploy"])
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown key", yaml: "stat:\n  dir: x\n"},
		{name: "bad duration", yaml: "state:\n  lock_timeout: soon\n"},
		{name: "malformed", yaml: "state: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() succeeded, want error")
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.State.Dir != DefaultStateDir {
		t.Errorf("dir = %q, want %q", cfg.State.Dir, DefaultStateDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty state dir", func(c *Config) { c.State.Dir = "" }, "state.dir"},
		{"trust out of range", func(c *Config) { c.Trust.Initial = 101 }, "trust"},
		{"bad risk threshold", func(c *Config) { c.Risk.Threshold = -1 }, "risk"},
		{"safety fails open", func(c *Config) { c.Policy.FailSafe["safety"] = "fail-open" }, "policy"},
		{"unknown fail-safe", func(c *Config) { c.Policy.DefaultFailSafe = "maybe" }, "policy"},
		{"watch without path", func(c *Config) { c.Policy.Watch = true }, "policy.watch"},
		{"no rules at all", func(c *Config) { f := false; c.Policy.Builtin = &f }, "policy.rules_path"},
		{"unknown category", func(c *Config) { c.Gate.DefaultCategory = "vibes" }, "gate"},
		{"bad cron", func(c *Config) { c.Maintenance.Schedule = "every tuesday" }, "maintenance.schedule"},
		{"bad listen address", func(c *Config) { c.Server.ListenAddress = "nope" }, "server.listen_address"},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "loud" }, "telemetry.logging.level"},
		{"bad metrics path", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, "telemetry.metrics.path"},
		{"unsorted buckets", func(c *Config) { c.Telemetry.Metrics.DecisionDurationBuckets = []float64{1, 0.5} }, "telemetry.metrics.decision_duration_buckets"},
		{"bad sample ratio", func(c *Config) { c.Telemetry.Tracing.SampleRatio = 2 }, "telemetry.tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if !verr.Has(tt.field) {
				t.Errorf("Validate() fields = %v, want %s", verr.Errors, tt.field)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.State.Dir = ""
	cfg.Server.ListenAddress = "nope"
	err := Validate(cfg)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(verr.Errors), verr.Errors)
	}
	if !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatekeeper.yaml")
	if err := os.WriteFile(path, []byte("state:\n  dir: /from/file\nrisk:\n  threshold: 70\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GATEKEEPER_STATE_DIR", "/from/env")
	t.Setenv("GATEKEEPER_POLICY_OVERRIDE_TOKENS", "alpha, beta,,")
	t.Setenv("GATEKEEPER_AUDIT_ENABLED", "false")
	t.Setenv("GATEKEEPER_TELEMETRY_TRACING_SAMPLE_RATIO", "0.25")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}
	if cfg.State.Dir != "/from/env" {
		t.Errorf("dir = %q, want /from/env", cfg.State.Dir)
	}
	if cfg.Risk.Threshold != 70 {
		t.Errorf("threshold = %d, want 70", cfg.Risk.Threshold)
	}
	if got := cfg.Policy.OverrideTokens; len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("override tokens = %v", got)
	}
	if cfg.Audit.IsEnabled() {
		t.Error("audit should be disabled by the environment")
	}
	if cfg.Telemetry.Tracing.SampleRatio != 0.25 {
		t.Errorf("sample ratio = %v", cfg.Telemetry.Tracing.SampleRatio)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("GATEKEEPER_RISK_THRESHOLD", "80")
	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides(\"\") error = %v", err)
	}
	if cfg.Risk.Threshold != 80 {
		t.Errorf("threshold = %d, want 80", cfg.Risk.Threshold)
	}
}

func TestLoadConfigWithEnvOverrides_BadValue(t *testing.T) {
	t.Setenv("GATEKEEPER_STATE_LOCK_TIMEOUT", "forever")
	_, err := LoadConfigWithEnvOverrides("")
	var verr ValidationError
	if !errors.As(err, &verr) || !verr.Has("GATEKEEPER_STATE_LOCK_TIMEOUT") {
		t.Errorf("error = %v, want a field error for GATEKEEPER_STATE_LOCK_TIMEOUT", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig() succeeded for a missing file")
	}
}

func TestComponentConfigs(t *testing.T) {
	cfg := Default()
	cfg.State.Dir = "/srv/state"

	if got := cfg.AuditStoreConfig().Path; got != filepath.Join("/srv/state", DefaultAuditPath) {
		t.Errorf("audit path = %q", got)
	}
	cfg.Audit.Path = "/abs/audit.db"
	if got := cfg.AuditStoreConfig().Path; got != "/abs/audit.db" {
		t.Errorf("absolute audit path = %q", got)
	}
	if got := cfg.LedgerDir(); got != filepath.Join("/srv/state", "ledger") {
		t.Errorf("ledger dir = %q", got)
	}
	if got := cfg.SweeperConfig().AuditRetention; got != DefaultAuditRetention {
		t.Errorf("audit retention = %v", got)
	}
	if got := cfg.FileStoreConfig().LockTimeout; got != DefaultLockTimeout {
		t.Errorf("lock timeout = %v", got)
	}
}

func TestLoadConfig_Example(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "examples", "config", "gatekeeper.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := cfg.Circuits.Overrides["deploy"].Threshold; got != 1 {
		t.Errorf("deploy circuit threshold = %d, want 1", got)
	}
	if got := cfg.EngineConfig().ModeFor(engine.CategorySafety); got != engine.FailClosed {
		t.Errorf("safety fail-safe = %s, want %s", got, engine.FailClosed)
	}
	if got := cfg.GateConfig().ActionCategories["deploy"]; got != engine.CategoryQuality {
		t.Errorf("deploy category = %q", got)
	}
}

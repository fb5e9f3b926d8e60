package config

import (
	"path/filepath"
	"strings"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/gate"
	"mercator-hq/gatekeeper/pkg/maintenance"
	"mercator-hq/gatekeeper/pkg/policy/engine"
	"mercator-hq/gatekeeper/pkg/policy/source"
	"mercator-hq/gatekeeper/pkg/state"
)

// FileStoreConfig returns the state store settings.
func (c *Config) FileStoreConfig() state.FileStoreConfig {
	return state.FileStoreConfig{
		Dir:         c.State.Dir,
		LockTimeout: c.State.LockTimeout,
	}
}

// LedgerDir is where append-only ledgers are written.
func (c *Config) LedgerDir() string {
	return filepath.Join(c.State.Dir, "ledger")
}

// EngineConfig returns the rule engine settings.
func (c *Config) EngineConfig() *engine.EngineConfig {
	ec := &engine.EngineConfig{
		FailSafe:        make(map[engine.Category]engine.FailSafeMode, len(c.Policy.FailSafe)),
		DefaultFailSafe: engine.FailSafeMode(strings.ToLower(c.Policy.DefaultFailSafe)),
		MaxRules:        c.Policy.MaxRules,
	}
	for cat, mode := range c.Policy.FailSafe {
		ec.FailSafe[engine.Category(strings.ToLower(cat))] = engine.FailSafeMode(strings.ToLower(mode))
	}
	if len(c.Policy.OverrideTokens) > 0 {
		ec.WithOverrideTokens(c.Policy.OverrideTokens...)
	}
	return ec
}

// GateConfig returns the gate settings.
func (c *Config) GateConfig() gate.Config {
	gc := gate.Config{
		DefaultCategory:  engine.Category(strings.ToLower(c.Gate.DefaultCategory)),
		SunkCostAttempts: c.Gate.SunkCostAttempts,
		ErrorTTL:         c.Gate.ErrorTTL,
		VerifyGap:        c.Gate.VerifyGap,
		RepeatedFailures: c.Gate.RepeatedFailures,
	}
	if len(c.Gate.ActionCategories) > 0 {
		gc.ActionCategories = make(map[string]engine.Category, len(c.Gate.ActionCategories))
		for action, cat := range c.Gate.ActionCategories {
			gc.ActionCategories[action] = engine.Category(strings.ToLower(cat))
		}
	}
	return gc
}

// WatcherConfig returns the rule watcher settings.
func (c *Config) WatcherConfig() *source.WatcherConfig {
	wc := source.DefaultWatcherConfig(c.Policy.RulesPath)
	wc.DebounceInterval = c.Policy.DebounceInterval
	return wc
}

// AuditStoreConfig returns the audit store settings. A relative path resolves
// against the state directory.
func (c *Config) AuditStoreConfig() audit.SQLiteConfig {
	path := c.Audit.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.State.Dir, path)
	}
	return audit.SQLiteConfig{
		Path:        path,
		BusyTimeout: c.Audit.BusyTimeout,
	}
}

// SweeperConfig returns the maintenance sweep settings.
func (c *Config) SweeperConfig() maintenance.Config {
	return maintenance.Config{
		LedgerRetention: c.Maintenance.LedgerRetention,
		AuditRetention:  c.Maintenance.AuditRetention,
	}
}

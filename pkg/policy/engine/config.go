package engine

import (
	"fmt"
)

// FailSafeMode defines how a category behaves when no decision can be made.
type FailSafeMode string

const (
	// FailOpen allows the action when evaluation cannot complete.
	FailOpen FailSafeMode = "fail-open"

	// FailClosed denies the action when evaluation cannot complete.
	FailClosed FailSafeMode = "fail-closed"
)

// EngineConfig configures the rule engine.
type EngineConfig struct {
	// FailSafe maps categories to their failure behavior. Categories
	// without an entry use DefaultFailSafe.
	FailSafe map[Category]FailSafeMode

	// DefaultFailSafe applies to categories without an explicit mode.
	DefaultFailSafe FailSafeMode

	// MaxRules bounds the size of a loaded rule set.
	MaxRules int

	// OverrideTokens lists the accepted override tokens. When empty, any
	// non-empty token is accepted.
	OverrideTokens []string
}

// DefaultEngineConfig returns the default configuration: Safety and Quality
// fail closed, everything else fails open.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		FailSafe: map[Category]FailSafeMode{
			CategorySafety:  FailClosed,
			CategoryQuality: FailClosed,
		},
		DefaultFailSafe: FailOpen,
		MaxRules:        500,
	}
}

// Validate checks the configuration.
func (c *EngineConfig) Validate() error {
	if err := validMode(c.DefaultFailSafe); err != nil {
		return err
	}
	for cat, mode := range c.FailSafe {
		if !cat.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidConfig, cat)
		}
		if err := validMode(mode); err != nil {
			return err
		}
	}
	if c.FailSafe[CategorySafety] == FailOpen {
		return fmt.Errorf("%w: safety category cannot fail open", ErrInvalidConfig)
	}
	if c.MaxRules <= 0 {
		return fmt.Errorf("%w: max rules must be positive", ErrInvalidConfig)
	}
	for _, tok := range c.OverrideTokens {
		if tok == "" {
			return fmt.Errorf("%w: empty override token", ErrInvalidConfig)
		}
	}
	return nil
}

func validMode(m FailSafeMode) error {
	switch m {
	case FailOpen, FailClosed:
		return nil
	default:
		return fmt.Errorf("%w: invalid fail-safe mode %q", ErrInvalidConfig, m)
	}
}

// WithFailSafe sets the mode of one category.
func (c *EngineConfig) WithFailSafe(cat Category, mode FailSafeMode) *EngineConfig {
	if c.FailSafe == nil {
		c.FailSafe = map[Category]FailSafeMode{}
	}
	c.FailSafe[cat] = mode
	return c
}

// WithMaxRules sets the rule limit.
func (c *EngineConfig) WithMaxRules(max int) *EngineConfig {
	c.MaxRules = max
	return c
}

// WithOverrideTokens sets the accepted override tokens.
func (c *EngineConfig) WithOverrideTokens(tokens ...string) *EngineConfig {
	c.OverrideTokens = tokens
	return c
}

// ModeFor returns the fail-safe mode of cat.
func (c *EngineConfig) ModeFor(cat Category) FailSafeMode {
	if m, ok := c.FailSafe[cat]; ok {
		return m
	}
	return c.DefaultFailSafe
}

package trust

import (
	"errors"
	"fmt"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// Well-known evidence kinds.
const (
	KindInspect        = "inspect"
	KindVerify         = "verify"
	KindExternalLookup = "external_lookup"
	KindTestPass       = "test_pass"
	KindReasoning      = "reasoning"
	KindUserConfirm    = "user_confirm"
)

// Well-known penalty kinds.
const (
	PenaltyContradiction   = "contradicted_claim"
	PenaltyUnverifiedClaim = "unverified_claim"
	PenaltyRepeatedFailure = "repeated_failure"
	PenaltyIgnoredWarning  = "ignored_warning"
)

// Config holds the tables that drive trust scoring.
type Config struct {
	// Initial is the trust of a freshly created session.
	Initial int `yaml:"initial" json:"initial"`

	Tiers Tiers `yaml:"tiers" json:"tiers"`

	// Events maps evidence kinds to their first-occurrence delta.
	Events map[string]int `yaml:"events" json:"events"`

	// Penalties maps penalty kinds to their (negative) delta.
	Penalties map[string]int `yaml:"penalties" json:"penalties"`

	// DiminishFraction scales each repeat of the same kind on the same
	// target: the n-th occurrence is worth base * fraction^(n-1).
	DiminishFraction float64 `yaml:"diminish_fraction" json:"diminish_fraction"`

	// DiminishFloor is the smallest delta a repeat can yield.
	DiminishFloor int `yaml:"diminish_floor" json:"diminish_floor"`

	// StaleContextRatio is the context consumption ratio above which a
	// session still below Certainty raises the stale-context signal.
	StaleContextRatio float64 `yaml:"stale_context_ratio" json:"stale_context_ratio"`
}

// DefaultConfig returns the standard tables.
func DefaultConfig() Config {
	return Config{
		Initial: 0,
		Tiers:   DefaultTiers(),
		Events: map[string]int{
			KindInspect:        10,
			KindVerify:         15,
			KindExternalLookup: 12,
			KindTestPass:       8,
			KindReasoning:      5,
			KindUserConfirm:    20,
		},
		Penalties: map[string]int{
			PenaltyContradiction:   -25,
			PenaltyUnverifiedClaim: -10,
			PenaltyRepeatedFailure: -15,
			PenaltyIgnoredWarning:  -5,
		},
		DiminishFraction:  0.2,
		DiminishFloor:     2,
		StaleContextRatio: 0.75,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Initial < MinScore || c.Initial > MaxScore {
		errs = append(errs, fmt.Errorf("initial trust must be in [%d,%d], got %d", MinScore, MaxScore, c.Initial))
	}
	if err := c.Tiers.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.DiminishFraction < 0 || c.DiminishFraction > 1 {
		errs = append(errs, fmt.Errorf("diminish_fraction must be in [0,1], got %g", c.DiminishFraction))
	}
	if c.DiminishFloor < 0 {
		errs = append(errs, fmt.Errorf("diminish_floor must be non-negative, got %d", c.DiminishFloor))
	}
	if c.StaleContextRatio <= 0 || c.StaleContextRatio > 1 {
		errs = append(errs, fmt.Errorf("stale_context_ratio must be in (0,1], got %g", c.StaleContextRatio))
	}
	for kind, delta := range c.Penalties {
		if delta > 0 {
			errs = append(errs, fmt.Errorf("penalty %q must not be positive, got %d", kind, delta))
		}
	}
	return errors.Join(errs...)
}

// Package tuning implements the auto-tuning controller. Each monitored
// pattern starts in the Observe phase and is promoted to Warn and then
// Enforce as it keeps recurring within a sliding turn window. A pattern whose
// enforcement is bypassed too often is demoted back to Warn and its
// enforcement threshold raised.
//
// Protected patterns, which include every Safety rule, are never tuned.
package tuning

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Phase is the enforcement phase of a pattern.
type Phase string

const (
	PhaseObserve Phase = "observe"
	PhaseWarn    Phase = "warn"
	PhaseEnforce Phase = "enforce"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseObserve, PhaseWarn, PhaseEnforce:
		return true
	}
	return false
}

// ParsePhase parses a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return p, nil
}

// Action is what a phase asks the caller to do with an occurrence.
type Action string

const (
	ActionObserve Action = "observe"
	ActionWarn    Action = "warn"
	ActionBlock   Action = "block"
)

// Thresholds drive phase transitions for a pattern.
type Thresholds struct {
	// Window is the sliding window size in turns.
	Window int `yaml:"window" json:"window"`

	// PromoteWarn promotes Observe to Warn once occurrences within the
	// window exceed it.
	PromoteWarn int `yaml:"promote_warn" json:"promote_warn"`

	// PromoteEnforce promotes Warn to Enforce once unremediated occurrences
	// since entering Warn exceed it.
	PromoteEnforce int `yaml:"promote_enforce" json:"promote_enforce"`

	// DemoteBypassRate demotes Enforce to Warn once the fraction of
	// enforced occurrences that were bypassed exceeds it.
	DemoteBypassRate float64 `yaml:"demote_bypass_rate" json:"demote_bypass_rate"`

	// DemoteMinSamples is the number of enforced occurrences required
	// before demotion is considered.
	DemoteMinSamples int `yaml:"demote_min_samples" json:"demote_min_samples"`

	// ThresholdStep is added to PromoteEnforce on each demotion.
	ThresholdStep int `yaml:"threshold_step" json:"threshold_step"`
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window:           20,
		PromoteWarn:      3,
		PromoteEnforce:   3,
		DemoteBypassRate: 0.5,
		DemoteMinSamples: 4,
		ThresholdStep:    2,
	}
}

// Validate checks the thresholds.
func (t Thresholds) Validate() error {
	var errs []error
	if t.Window < 1 {
		errs = append(errs, fmt.Errorf("window must be at least 1, got %d", t.Window))
	}
	if t.PromoteWarn < 0 {
		errs = append(errs, fmt.Errorf("promote_warn must be non-negative, got %d", t.PromoteWarn))
	}
	if t.PromoteEnforce < 0 {
		errs = append(errs, fmt.Errorf("promote_enforce must be non-negative, got %d", t.PromoteEnforce))
	}
	if t.DemoteBypassRate <= 0 || t.DemoteBypassRate > 1 {
		errs = append(errs, fmt.Errorf("demote_bypass_rate must be in (0,1], got %g", t.DemoteBypassRate))
	}
	if t.DemoteMinSamples < 1 {
		errs = append(errs, fmt.Errorf("demote_min_samples must be at least 1, got %d", t.DemoteMinSamples))
	}
	if t.ThresholdStep < 0 {
		errs = append(errs, fmt.Errorf("threshold_step must be non-negative, got %d", t.ThresholdStep))
	}
	return errors.Join(errs...)
}

// Config configures the controller.
type Config struct {
	Default Thresholds `yaml:"default" json:"default"`

	// Patterns overrides thresholds per pattern.
	Patterns map[string]Thresholds `yaml:"patterns" json:"patterns"`

	// Protected patterns are never tuned and always enforced.
	Protected []string `yaml:"protected" json:"protected"`

	// InitialPhases seeds the phase of patterns that have no state yet.
	InitialPhases map[string]Phase `yaml:"initial_phases" json:"initial_phases"`

	// OccurrenceTTL drops window entries older than this, so sessions that
	// went away stop counting towards a pattern. Zero uses
	// DefaultOccurrenceTTL.
	OccurrenceTTL time.Duration `yaml:"occurrence_ttl" json:"occurrence_ttl"`

	// SuppressDemotionWithDebt skips demotion while the occurrence reports
	// outstanding override debt, so bypasses forced by a debt block are not
	// mistaken for false positives.
	SuppressDemotionWithDebt bool `yaml:"suppress_demotion_with_debt" json:"suppress_demotion_with_debt"`
}

// DefaultOccurrenceTTL is the OccurrenceTTL used when none is configured.
const DefaultOccurrenceTTL = 24 * time.Hour

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{Default: DefaultThresholds()}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Default.Validate(); err != nil {
		return fmt.Errorf("default thresholds: %w", err)
	}
	for name, t := range c.Patterns {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("pattern %q thresholds: %w", name, err)
		}
	}
	if c.OccurrenceTTL < 0 {
		return fmt.Errorf("occurrence_ttl must not be negative, got %s", c.OccurrenceTTL)
	}
	for name, p := range c.InitialPhases {
		if !p.Valid() {
			return fmt.Errorf("pattern %q: invalid initial phase %q", name, p)
		}
	}
	return nil
}

// ThresholdsFor returns the configured thresholds of pattern.
func (c Config) ThresholdsFor(pattern string) Thresholds {
	if t, ok := c.Patterns[pattern]; ok {
		return t
	}
	return c.Default
}

// Occurrence describes one firing of a pattern.
type Occurrence struct {
	// SessionID is the session the pattern fired in. Turn numbers are only
	// comparable within one session.
	SessionID string
	// Bypassed is set when an override token bypassed the pattern's rule.
	Bypassed bool
	// Remediated is set when the agent made a durable fix in response.
	Remediated bool
	// DebtOutstanding is set when unpaid override debt existed at the time.
	DebtOutstanding bool
}

// Transition records a phase change.
type Transition struct {
	Pattern string    `json:"pattern"`
	From    Phase     `json:"from"`
	To      Phase     `json:"to"`
	Turn    int       `json:"turn"`
	At      time.Time `json:"at"`
	Reason  string    `json:"reason"`
}

// Mark is one entry of a sliding window.
type Mark struct {
	Session string    `json:"session,omitempty"`
	Turn    int       `json:"turn"`
	At      time.Time `json:"at"`
}

// PatternState is the persisted state of one pattern.
type PatternState struct {
	Pattern string `json:"pattern"`
	Phase   Phase  `json:"phase"`

	// Marks pruned to each session's sliding window.
	Occurrences  []Mark `json:"occurrences"`
	Bypasses     []Mark `json:"bypasses"`
	Remediations []Mark `json:"remediations"`

	// SincePhase counts unremediated occurrences since the last transition.
	SincePhase int `json:"since_phase"`

	EnforceFires    int `json:"enforce_fires"`
	EnforceBypasses int `json:"enforce_bypasses"`

	// PromoteEnforce is the current Warn→Enforce threshold, raised on
	// each demotion.
	PromoteEnforce int `json:"promote_enforce"`

	Demotions int       `json:"demotions"`
	LastTurn  int       `json:"last_turn"`
	UpdatedAt time.Time `json:"updated_at"`

	History []Transition `json:"history,omitempty"`
}

// BypassRate is the fraction of enforced occurrences that were bypassed.
func (p *PatternState) BypassRate() float64 {
	if p.EnforceFires == 0 {
		return 0
	}
	return float64(p.EnforceBypasses) / float64(p.EnforceFires)
}

// Document is the shared tuning document.
type Document struct {
	Patterns map[string]*PatternState `json:"patterns"`
}

// DocumentName is the store document holding tuning state.
const DocumentName = "tuning"

const maxHistory = 20

func newDocument() *Document {
	return &Document{Patterns: map[string]*PatternState{}}
}

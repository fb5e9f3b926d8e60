// Package risk implements the risk accumulator: hazardous actions raise a
// per-session risk score that never goes down, and crossing the escalation
// threshold emits a one-time escalation signal.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/state"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// Config configures the accumulator.
type Config struct {
	// Threshold is the risk at which escalation is signalled.
	Threshold int `yaml:"threshold" json:"threshold"`

	// DefaultAmount is added for patterns that set no amount of their own.
	DefaultAmount int `yaml:"default_amount" json:"default_amount"`

	Patterns []HazardPattern `yaml:"patterns" json:"patterns"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:     60,
		DefaultAmount: 20,
		Patterns:      DefaultPatterns(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold <= MinScore || c.Threshold > MaxScore {
		errs = append(errs, fmt.Errorf("risk threshold must be in (%d,%d], got %d", MinScore, MaxScore, c.Threshold))
	}
	if c.DefaultAmount < 0 {
		errs = append(errs, fmt.Errorf("default risk amount must be non-negative, got %d", c.DefaultAmount))
	}
	for _, p := range c.Patterns {
		if p.Amount < 0 {
			errs = append(errs, fmt.Errorf("hazard pattern %q: amount must be non-negative", p.Name))
		}
	}
	return errors.Join(errs...)
}

// Result describes the effect of one increment.
type Result struct {
	Previous int `json:"previous"`
	NewRisk  int `json:"new_risk"`
	Applied  int `json:"applied"`

	// Escalate is true only on the increment that crossed the threshold.
	Escalate bool `json:"escalate"`

	// AboveThreshold is true whenever the risk is at or above the threshold.
	AboveThreshold bool `json:"above_threshold"`
}

// Accumulator classifies actions and accumulates session risk.
type Accumulator struct {
	cfg      Config
	patterns []compiledPattern
	repo     *session.Repository
	ledger   state.Appender
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithLedger sets the appender receiving risk records.
func WithLedger(ledger state.Appender) Option {
	return func(a *Accumulator) {
		if ledger != nil {
			a.ledger = ledger
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Accumulator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) {
		a.now = now
	}
}

// NewAccumulator compiles the hazard table and returns an Accumulator.
// repo may be nil when only Classify and Apply are used.
func NewAccumulator(cfg Config, repo *session.Repository, opts ...Option) (*Accumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}
	patterns, err := compilePatterns(cfg.Patterns)
	if err != nil {
		return nil, err
	}
	a := &Accumulator{
		cfg:      cfg,
		patterns: patterns,
		repo:     repo,
		ledger:   state.Discard,
		logger:   slog.Default().With("component", "risk"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Threshold returns the escalation threshold.
func (a *Accumulator) Threshold() int {
	return a.cfg.Threshold
}

// Classify returns the highest-priority hazard pattern matching d, or nil.
func (a *Accumulator) Classify(d ActionDescriptor) *HazardPattern {
	for i := range a.patterns {
		if a.patterns[i].matches(d) {
			p := a.patterns[i].HazardPattern
			return &p
		}
	}
	return nil
}

// AmountFor returns the risk a match of p adds.
func (a *Accumulator) AmountFor(p *HazardPattern) int {
	if p != nil && p.Amount > 0 {
		return p.Amount
	}
	return a.cfg.DefaultAmount
}

// Apply adds amount to the risk of s in memory. Risk is a high-water mark:
// negative amounts are ignored and the score saturates at MaxScore.
func (a *Accumulator) Apply(s *session.Session, amount int, reason string, turn int) Result {
	if amount < 0 {
		a.logger.Warn("ignoring negative risk amount",
			"session_id", s.ID,
			"amount", amount,
		)
		amount = 0
	}

	prev := s.Risk
	s.Risk = addClamped(prev, amount)
	res := Result{
		Previous:       prev,
		NewRisk:        s.Risk,
		Applied:        s.Risk - prev,
		Escalate:       prev < a.cfg.Threshold && s.Risk >= a.cfg.Threshold,
		AboveThreshold: s.Risk >= a.cfg.Threshold,
	}
	if res.AboveThreshold {
		s.Escalated = true
	}
	if res.Applied > 0 {
		s.AppendChange(session.ScoreChange{
			Axis:   session.AxisRisk,
			Kind:   "hazard",
			Delta:  res.Applied,
			Turn:   turn,
			Time:   a.now(),
			Reason: reason,
		})
	}
	return res
}

// Increment adds amount to the stored session's risk.
func (a *Accumulator) Increment(ctx context.Context, sessionID string, amount int, reason string) (*Result, error) {
	if a.repo == nil {
		return nil, fmt.Errorf("risk accumulator has no session repository")
	}
	var res Result
	if _, err := a.repo.Update(ctx, sessionID, func(s *session.Session) error {
		res = a.Apply(s, amount, reason, s.Turn)
		return nil
	}); err != nil {
		return nil, err
	}
	a.Journal(ctx, sessionID, reason, res)
	return &res, nil
}

// Observe classifies d and, on a match, increments the session's risk.
// A non-matching action leaves the session untouched and returns nil.
func (a *Accumulator) Observe(ctx context.Context, sessionID string, d ActionDescriptor) (*Result, *HazardPattern, error) {
	p := a.Classify(d)
	if p == nil {
		return nil, nil, nil
	}
	res, err := a.Increment(ctx, sessionID, a.AmountFor(p), p.Name)
	if err != nil {
		return nil, p, err
	}
	return res, p, nil
}

// Journal appends the risk record for res. Ledger failures are logged.
func (a *Accumulator) Journal(ctx context.Context, sessionID, reason string, res Result) {
	if res.Applied == 0 && !res.Escalate {
		return
	}
	payload := struct {
		Reason string `json:"reason"`
		Result
	}{reason, res}
	if err := a.ledger.Append(ctx, state.StreamPenalties, string(session.AxisRisk), sessionID, payload); err != nil {
		a.logger.Warn("failed to append risk record", "error", err)
	}
	if res.Escalate {
		a.logger.Info("risk escalation threshold crossed",
			"session_id", sessionID,
			"risk", res.NewRisk,
			"threshold", a.cfg.Threshold,
		)
	}
}

// addClamped adds delta to score without overflowing, saturating at the
// score bounds.
func addClamped(score, delta int) int {
	if delta > MaxScore-score {
		return MaxScore
	}
	if delta < MinScore-score {
		return MinScore
	}
	return clamp(score + delta)
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Package trust implements the evidence and trust engine: a clamped trust
// score moved by a table of signed deltas keyed by evidence or penalty kind,
// with diminishing returns for repeated evidence.
package trust

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/state"
)

// Observation is one piece of evidence reported for a session.
type Observation struct {
	Kind   string
	Target string
	Reason string
	Turn   int

	// Delta, when set, replaces the table value for Kind.
	Delta *int

	// ContextRatio is the fraction of the context budget consumed, if known.
	ContextRatio float64
}

// Outcome describes the effect of one Observation.
type Outcome struct {
	NewScore int `json:"new_score"`

	// Requested is the delta after diminishing returns, before clamping.
	Requested int `json:"requested"`

	// Applied is the change actually made to the score.
	Applied int `json:"applied"`

	Tier         Tier          `json:"tier"`
	StaleContext bool          `json:"stale_context"`
	Known        bool          `json:"known"`
	Event        session.Event `json:"event"`
}

// ChangeOutcome describes the effect of a penalty or reward.
type ChangeOutcome struct {
	NewScore int                 `json:"new_score"`
	Applied  int                 `json:"applied"`
	Known    bool                `json:"known"`
	Change   session.ScoreChange `json:"change"`
}

// Engine scores evidence against sessions.
type Engine struct {
	cfg    Config
	repo   *session.Repository
	ledger state.Appender
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedger sets the appender receiving evidence and penalty records.
func WithLedger(ledger state.Appender) Option {
	return func(e *Engine) {
		if ledger != nil {
			e.ledger = ledger
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine. repo may be nil when only the pure Apply
// methods are used.
func NewEngine(cfg Config, repo *session.Repository, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trust config: %w", err)
	}
	e := &Engine{
		cfg:    cfg,
		repo:   repo,
		ledger: state.Discard,
		logger: slog.Default().With("component", "trust"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Tier maps score onto its tier using the configured breakpoints.
func (e *Engine) Tier(score int) Tier {
	return e.cfg.Tiers.Tier(score)
}

// Diminish returns the delta of the n-th occurrence of evidence worth base.
// The first occurrence is worth base; later ones shrink geometrically but
// never below min(floor, base). Non-positive bases are not diminished.
func (e *Engine) Diminish(base, n int) int {
	if base <= 0 || n <= 1 {
		return base
	}
	scaled := int(math.Floor(float64(base) * math.Pow(e.cfg.DiminishFraction, float64(n-1))))
	floor := e.cfg.DiminishFloor
	if floor > base {
		floor = base
	}
	if scaled < floor {
		return floor
	}
	return scaled
}

// Stale reports whether a session at score with the given context ratio
// should raise the stale-context signal.
func (e *Engine) Stale(score int, contextRatio float64) bool {
	return contextRatio >= e.cfg.StaleContextRatio && e.Tier(score) < TierCertainty
}

// Apply scores obs against s in memory. Exactly one evidence event is
// appended to s. Unknown kinds apply a zero delta and are logged as a
// schema gap.
func (e *Engine) Apply(s *session.Session, obs Observation) Outcome {
	base, known := e.cfg.Events[obs.Kind]
	if obs.Delta != nil {
		base, known = *obs.Delta, true
	}
	if !known {
		e.logger.Warn("unknown evidence kind, applying zero delta",
			"kind", obs.Kind,
			"session_id", s.ID,
		)
	}

	requested := 0
	if known {
		requested = base
		if base > 0 {
			requested = e.Diminish(base, s.CountTarget(obs.Kind, obs.Target))
		}
	}

	old := s.Trust
	s.Trust = AddClamped(old, requested)
	applied := s.Trust - old

	now := e.now()
	event := session.Event{
		ID:        uuid.New().String(),
		SessionID: s.ID,
		Kind:      obs.Kind,
		Target:    obs.Target,
		Delta:     applied,
		Turn:      obs.Turn,
		Time:      now,
		Reason:    obs.Reason,
	}
	s.AppendEvent(event)
	s.Touch(obs.Kind, obs.Turn)
	s.ObserveTurn(obs.Turn)
	if obs.ContextRatio > 0 {
		s.ContextRatio = obs.ContextRatio
	}

	return Outcome{
		NewScore:     s.Trust,
		Requested:    requested,
		Applied:      applied,
		Tier:         e.Tier(s.Trust),
		StaleContext: e.Stale(s.Trust, s.ContextRatio),
		Known:        known,
		Event:        s.Evidence[len(s.Evidence)-1],
	}
}

// ApplyPenalty applies the penalty of the given kind to s in memory.
func (e *Engine) ApplyPenalty(s *session.Session, kind, reason string, turn int) ChangeOutcome {
	delta, known := e.cfg.Penalties[kind]
	if !known {
		e.logger.Warn("unknown penalty kind, applying zero delta",
			"kind", kind,
			"session_id", s.ID,
		)
	}
	return e.applyChange(s, kind, delta, known, reason, turn)
}

// ApplyReward raises trust by amount in memory. Negative amounts are
// treated as zero.
func (e *Engine) ApplyReward(s *session.Session, kind string, amount int, reason string, turn int) ChangeOutcome {
	if amount < 0 {
		amount = 0
	}
	return e.applyChange(s, kind, amount, true, reason, turn)
}

func (e *Engine) applyChange(s *session.Session, kind string, delta int, known bool, reason string, turn int) ChangeOutcome {
	old := s.Trust
	s.Trust = AddClamped(old, delta)
	change := session.ScoreChange{
		Axis:   session.AxisTrust,
		Kind:   kind,
		Delta:  s.Trust - old,
		Turn:   turn,
		Time:   e.now(),
		Reason: reason,
	}
	s.AppendChange(change)
	s.ObserveTurn(turn)
	return ChangeOutcome{NewScore: s.Trust, Applied: change.Delta, Known: known, Change: change}
}

// Record scores obs against the stored session and persists the result.
func (e *Engine) Record(ctx context.Context, sessionID string, obs Observation) (*Outcome, error) {
	if e.repo == nil {
		return nil, fmt.Errorf("trust engine has no session repository")
	}
	var out Outcome
	if _, err := e.repo.Update(ctx, sessionID, func(s *session.Session) error {
		out = e.Apply(s, obs)
		return nil
	}); err != nil {
		return nil, err
	}
	e.Journal(ctx, sessionID, out)
	return &out, nil
}

// Penalty applies a penalty to the stored session and returns the new score.
func (e *Engine) Penalty(ctx context.Context, sessionID, kind, reason string, turn int) (int, error) {
	return e.change(ctx, sessionID, func(s *session.Session) ChangeOutcome {
		return e.ApplyPenalty(s, kind, reason, turn)
	})
}

// Reward applies an explicit reward to the stored session and returns the
// new score.
func (e *Engine) Reward(ctx context.Context, sessionID, kind string, amount int, reason string, turn int) (int, error) {
	return e.change(ctx, sessionID, func(s *session.Session) ChangeOutcome {
		return e.ApplyReward(s, kind, amount, reason, turn)
	})
}

func (e *Engine) change(ctx context.Context, sessionID string, apply func(*session.Session) ChangeOutcome) (int, error) {
	if e.repo == nil {
		return 0, fmt.Errorf("trust engine has no session repository")
	}
	var out ChangeOutcome
	if _, err := e.repo.Update(ctx, sessionID, func(s *session.Session) error {
		out = apply(s)
		return nil
	}); err != nil {
		return 0, err
	}
	e.JournalChange(ctx, sessionID, out)
	return out.NewScore, nil
}

// Journal appends the evidence record for out, plus a diagnostic record when
// the kind was unknown. Ledger failures are logged and dropped.
func (e *Engine) Journal(ctx context.Context, sessionID string, out Outcome) {
	if err := e.ledger.Append(ctx, state.StreamEvidence, "evidence", sessionID, out.Event); err != nil {
		e.logger.Warn("failed to append evidence record", "error", err)
	}
	if !out.Known {
		e.schemaGap(ctx, sessionID, "evidence", out.Event.Kind)
	}
}

// JournalChange appends the penalty/reward record for out.
func (e *Engine) JournalChange(ctx context.Context, sessionID string, out ChangeOutcome) {
	if err := e.ledger.Append(ctx, state.StreamPenalties, string(out.Change.Axis), sessionID, out.Change); err != nil {
		e.logger.Warn("failed to append penalty record", "error", err)
	}
	if !out.Known {
		e.schemaGap(ctx, sessionID, "penalty", out.Change.Kind)
	}
}

func (e *Engine) schemaGap(ctx context.Context, sessionID, table, kind string) {
	payload := map[string]string{"table": table, "kind": kind}
	if err := e.ledger.Append(ctx, state.StreamDiagnostics, "schema_gap", sessionID, payload); err != nil {
		e.logger.Warn("failed to append diagnostic record", "error", err)
	}
}

// AddClamped adds delta to score, saturating at the score bounds instead of
// overflowing.
func AddClamped(score, delta int) int {
	if delta > MaxScore-score {
		return MaxScore
	}
	if delta < MinScore-score {
		return MinScore
	}
	return Clamp(score + delta)
}

// Clamp bounds score to [MinScore, MaxScore].
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

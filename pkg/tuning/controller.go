package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/state"
)

// ErrProtected is returned when an operator tries to change the phase of a
// protected pattern.
var ErrProtected = errors.New("pattern is protected from tuning")

// Controller owns the shared tuning document. It is the only component that
// changes enforcement phases at runtime.
type Controller struct {
	store  state.Store
	cfg    Config
	ledger state.Appender
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	protected map[string]bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLedger sets the appender receiving transition records.
func WithLedger(ledger state.Appender) Option {
	return func(c *Controller) {
		if ledger != nil {
			c.ledger = ledger
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a Controller over store.
func NewController(store state.Store, cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning config: %w", err)
	}
	c := &Controller{
		store:     store,
		cfg:       cfg,
		ledger:    state.Discard,
		logger:    slog.Default().With("component", "tuning"),
		now:       time.Now,
		protected: make(map[string]bool),
	}
	for _, p := range cfg.Protected {
		c.protected[p] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Protect marks patterns as never tunable.
func (c *Controller) Protect(patterns ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range patterns {
		c.protected[p] = true
	}
}

// IsProtected reports whether pattern is protected.
func (c *Controller) IsProtected(pattern string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protected[pattern]
}

func (c *Controller) initialPhase(pattern string) Phase {
	if p, ok := c.cfg.InitialPhases[pattern]; ok {
		return p
	}
	return PhaseObserve
}

// ShouldEnforce maps a pattern's current phase to the action the caller
// should take and the message to surface with it.
func (c *Controller) ShouldEnforce(pattern string, phase Phase) (Action, string) {
	if c.IsProtected(pattern) {
		return ActionBlock, ""
	}
	switch phase {
	case PhaseWarn:
		return ActionWarn, fmt.Sprintf("pattern %q keeps recurring; it will be enforced if it continues", pattern)
	case PhaseEnforce:
		return ActionBlock, fmt.Sprintf("pattern %q is enforced", pattern)
	default:
		return ActionObserve, ""
	}
}

// Phase returns the current phase of pattern (best-effort read).
func (c *Controller) Phase(ctx context.Context, pattern string) Phase {
	d := state.ReadBestEffort(ctx, c.store, DocumentName, newDocument)
	if ps, ok := d.Patterns[pattern]; ok && ps != nil && ps.Phase.Valid() {
		return ps.Phase
	}
	return c.initialPhase(pattern)
}

// Phases returns the current phase of every pattern with state, plus the
// configured initial phases of patterns without state.
func (c *Controller) Phases(ctx context.Context) map[string]Phase {
	d := state.ReadBestEffort(ctx, c.store, DocumentName, newDocument)
	out := make(map[string]Phase, len(d.Patterns)+len(c.cfg.InitialPhases))
	for name, p := range c.cfg.InitialPhases {
		out[name] = p
	}
	for name, ps := range d.Patterns {
		if ps != nil && ps.Phase.Valid() {
			out[name] = ps.Phase
		}
	}
	return out
}

// Status returns the state of every pattern, sorted by name.
func (c *Controller) Status(ctx context.Context) []PatternState {
	d := state.ReadBestEffort(ctx, c.store, DocumentName, newDocument)
	out := make([]PatternState, 0, len(d.Patterns))
	for name, ps := range d.Patterns {
		if ps == nil {
			continue
		}
		cp := *ps
		cp.Pattern = name
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// AutoTune records one occurrence of pattern at turn and applies any phase
// transition it triggers. Protected patterns are ignored.
func (c *Controller) AutoTune(ctx context.Context, pattern string, turn int, occ Occurrence) (*Transition, error) {
	if pattern == "" {
		return nil, errors.New("pattern name is required")
	}
	if c.IsProtected(pattern) {
		return nil, nil
	}

	var tr *Transition
	_, err := state.WithLockedUpdate(ctx, c.store, DocumentName, newDocument, func(d *Document) error {
		tr = nil
		ps := c.pattern(d, pattern)
		tr = c.record(ps, turn, occ)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tr != nil {
		c.journal(ctx, *tr)
	}
	return tr, nil
}

// SetPhase forces the phase of pattern. Operator use only.
func (c *Controller) SetPhase(ctx context.Context, pattern string, phase Phase) (*Transition, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("invalid phase %q", phase)
	}
	if c.IsProtected(pattern) {
		return nil, fmt.Errorf("%w: %s", ErrProtected, pattern)
	}
	var tr *Transition
	_, err := state.WithLockedUpdate(ctx, c.store, DocumentName, newDocument, func(d *Document) error {
		tr = nil
		ps := c.pattern(d, pattern)
		if ps.Phase != phase {
			tr = c.transition(ps, phase, ps.LastTurn, "set by operator")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tr != nil {
		c.journal(ctx, *tr)
	}
	return tr, nil
}

func (c *Controller) pattern(d *Document, name string) *PatternState {
	if d.Patterns == nil {
		d.Patterns = map[string]*PatternState{}
	}
	ps, ok := d.Patterns[name]
	if !ok || ps == nil {
		ps = &PatternState{
			Pattern:        name,
			Phase:          c.initialPhase(name),
			PromoteEnforce: c.cfg.ThresholdsFor(name).PromoteEnforce,
		}
		d.Patterns[name] = ps
	}
	if !ps.Phase.Valid() {
		ps.Phase = c.initialPhase(name)
	}
	return ps
}

// record applies one occurrence to ps and returns the resulting transition.
func (c *Controller) record(ps *PatternState, turn int, occ Occurrence) *Transition {
	th := c.cfg.ThresholdsFor(ps.Pattern)

	now := c.now()
	mark := Mark{Session: occ.SessionID, Turn: turn, At: now}

	ps.Occurrences = append(ps.Occurrences, mark)
	if occ.Bypassed {
		ps.Bypasses = append(ps.Bypasses, mark)
	}
	if occ.Remediated {
		ps.Remediations = append(ps.Remediations, mark)
	}
	latest := latestTurns(ps.Occurrences)
	cutoff := now.Add(-c.occurrenceTTL())
	ps.Occurrences = window(ps.Occurrences, latest, th.Window, cutoff)
	ps.Bypasses = window(ps.Bypasses, latest, th.Window, cutoff)
	ps.Remediations = window(ps.Remediations, latest, th.Window, cutoff)
	if !occ.Remediated {
		ps.SincePhase++
	}
	ps.LastTurn = turn
	ps.UpdatedAt = now

	switch ps.Phase {
	case PhaseObserve:
		if len(ps.Occurrences) > th.PromoteWarn {
			return c.transition(ps, PhaseWarn, turn,
				fmt.Sprintf("%d occurrences within %d turns", len(ps.Occurrences), th.Window))
		}

	case PhaseWarn:
		if ps.SincePhase > ps.PromoteEnforce {
			return c.transition(ps, PhaseEnforce, turn,
				fmt.Sprintf("%d occurrences despite warnings", ps.SincePhase))
		}

	case PhaseEnforce:
		ps.EnforceFires++
		if occ.Bypassed {
			ps.EnforceBypasses++
		}
		if ps.EnforceFires >= th.DemoteMinSamples && ps.BypassRate() > th.DemoteBypassRate {
			if c.cfg.SuppressDemotionWithDebt && occ.DebtOutstanding {
				c.logger.Debug("demotion suppressed while debt is outstanding",
					"pattern", ps.Pattern,
					"bypass_rate", ps.BypassRate(),
				)
				return nil
			}
			rate := ps.BypassRate()
			ps.Demotions++
			ps.PromoteEnforce += th.ThresholdStep
			return c.transition(ps, PhaseWarn, turn,
				fmt.Sprintf("bypass rate %.2f over %d enforced occurrences", rate, ps.EnforceFires))
		}
	}
	return nil
}

func (c *Controller) transition(ps *PatternState, to Phase, turn int, reason string) *Transition {
	tr := Transition{
		Pattern: ps.Pattern,
		From:    ps.Phase,
		To:      to,
		Turn:    turn,
		At:      c.now(),
		Reason:  reason,
	}
	ps.Phase = to
	ps.SincePhase = 0
	ps.EnforceFires = 0
	ps.EnforceBypasses = 0
	ps.History = append(ps.History, tr)
	if len(ps.History) > maxHistory {
		ps.History = ps.History[len(ps.History)-maxHistory:]
	}
	return &tr
}

func (c *Controller) journal(ctx context.Context, tr Transition) {
	c.logger.Info("pattern phase changed",
		"pattern", tr.Pattern,
		"from", tr.From,
		"to", tr.To,
		"reason", tr.Reason,
	)
	if err := c.ledger.Append(ctx, state.StreamTuning, "transition", "", tr); err != nil {
		c.logger.Warn("failed to append tuning record", "error", err)
	}
}

func (c *Controller) occurrenceTTL() time.Duration {
	if c.cfg.OccurrenceTTL > 0 {
		return c.cfg.OccurrenceTTL
	}
	return DefaultOccurrenceTTL
}

// latestTurns returns the highest turn recorded per session.
func latestTurns(marks []Mark) map[string]int {
	latest := make(map[string]int)
	for _, m := range marks {
		if t, ok := latest[m.Session]; !ok || m.Turn > t {
			latest[m.Session] = m.Turn
		}
	}
	return latest
}

// window keeps the marks inside their own session's window, latest-size <
// turn <= latest, recorded after cutoff. Sessions are windowed
// independently because their turn counters are unrelated.
func window(marks []Mark, latest map[string]int, size int, cutoff time.Time) []Mark {
	kept := marks[:0]
	for _, m := range marks {
		top, ok := latest[m.Session]
		if !ok || m.Turn <= top-size || m.Turn > top {
			continue
		}
		if !m.At.IsZero() && m.At.Before(cutoff) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

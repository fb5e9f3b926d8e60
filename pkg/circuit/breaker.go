package circuit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"mercator-hq/gatekeeper/pkg/state"
)

// ErrEmptyName is returned for an empty circuit name.
var ErrEmptyName = errors.New("circuit name is required")

// Breaker manages the shared circuit document.
type Breaker struct {
	store  state.Store
	cfg    Config
	ledger state.Appender
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLedger sets the appender receiving transition records.
func WithLedger(ledger state.Appender) Option {
	return func(b *Breaker) {
		if ledger != nil {
			b.ledger = ledger
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// NewBreaker creates a Breaker over store.
func NewBreaker(store state.Store, cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit config: %w", err)
	}
	b := &Breaker{
		store:  store,
		cfg:    cfg,
		ledger: state.Discard,
		logger: slog.Default().With("component", "circuit"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// update runs fn on the named circuit under the document lock and journals
// every transition it produced, including a lazy cool-down transition.
func (b *Breaker) update(ctx context.Context, name string, fn func(c *Circuit, s Settings, now time.Time) *StateChange) ([]StateChange, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	var changes []StateChange
	_, err := state.WithLockedUpdate(ctx, b.store, DocumentName, newDocument, func(d *Document) error {
		changes = changes[:0]
		now := b.now()
		s := b.cfg.SettingsFor(name)
		c := d.circuit(name)
		if ch := advance(c, s, now); ch != nil {
			changes = append(changes, *ch)
		}
		if ch := fn(c, s, now); ch != nil {
			changes = append(changes, *ch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		b.journal(ctx, ch)
	}
	return changes, nil
}

func (b *Breaker) journal(ctx context.Context, ch StateChange) {
	level := slog.LevelInfo
	if ch.To == StateOpen {
		level = slog.LevelWarn
	}
	b.logger.Log(ctx, level, "circuit transition",
		"circuit", ch.Name,
		"from", ch.From,
		"to", ch.To,
		"reason", ch.Reason,
	)
	if err := b.ledger.Append(ctx, state.StreamCircuits, "transition", "", ch); err != nil {
		b.logger.Warn("failed to append circuit record", "error", err)
	}
}

func last(changes []StateChange) *StateChange {
	if len(changes) == 0 {
		return nil
	}
	ch := changes[len(changes)-1]
	return &ch
}

// RecordFailure counts a failure against the named circuit. It returns the
// transition the failure caused, or nil.
func (b *Breaker) RecordFailure(ctx context.Context, name, reason string) (*StateChange, error) {
	changes, err := b.update(ctx, name, func(c *Circuit, s Settings, now time.Time) *StateChange {
		c.ConsecutiveFailures++
		c.LastFailure = now
		c.LastFailureReason = reason
		switch c.State {
		case StateClosed:
			if c.ConsecutiveFailures >= s.Threshold {
				return transition(c, StateOpen, now, reason)
			}
		case StateHalfOpen:
			// A failed trial reopens the circuit and restarts the cool-down.
			return transition(c, StateOpen, now, reason)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return last(changes), nil
}

// RecordSuccess resets the named circuit's failure count and closes it if it
// was half-open. A success reported while open is ignored.
func (b *Breaker) RecordSuccess(ctx context.Context, name string) (*StateChange, error) {
	changes, err := b.update(ctx, name, func(c *Circuit, s Settings, now time.Time) *StateChange {
		switch c.State {
		case StateClosed:
			c.ConsecutiveFailures = 0
		case StateHalfOpen:
			c.ConsecutiveFailures = 0
			return transition(c, StateClosed, now, "trial succeeded")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return last(changes), nil
}

// Allow reports whether an action guarded by the named circuit may proceed.
// A half-open circuit admits exactly one trial until its outcome is recorded.
func (b *Breaker) Allow(ctx context.Context, name string) (bool, error) {
	var allowed bool
	_, err := b.update(ctx, name, func(c *Circuit, s Settings, now time.Time) *StateChange {
		switch c.State {
		case StateClosed:
			allowed = true
		case StateHalfOpen:
			if !c.TrialInFlight {
				c.TrialInFlight = true
				allowed = true
			}
		}
		return nil
	})
	return allowed, err
}

// Reset expires the cool-down of an open circuit so the next action runs
// as a half-open trial. Operator use only; closed and half-open circuits
// are left as they are.
func (b *Breaker) Reset(ctx context.Context, name string) (*StateChange, error) {
	changes, err := b.update(ctx, name, func(c *Circuit, s Settings, now time.Time) *StateChange {
		if c.State != StateOpen {
			return nil
		}
		return transition(c, StateHalfOpen, now, "manual reset")
	})
	if err != nil {
		return nil, err
	}
	return last(changes), nil
}

// Status returns a best-effort snapshot of the named circuit. Cool-down and
// failure expiry are evaluated against the current time without persisting.
func (b *Breaker) Status(ctx context.Context, name string) Snapshot {
	d := state.ReadBestEffort(ctx, b.store, DocumentName, newDocument)
	s := b.cfg.SettingsFor(name)
	c := Circuit{Name: name, State: StateClosed}
	if stored, ok := d.Circuits[name]; ok && stored != nil {
		c = *stored
	}
	advance(&c, s, b.now())
	return snapshotOf(&c, s)
}

// All returns snapshots of every known circuit, sorted by name.
func (b *Breaker) All(ctx context.Context) []Snapshot {
	d := state.ReadBestEffort(ctx, b.store, DocumentName, newDocument)
	now := b.now()
	out := make([]Snapshot, 0, len(d.Circuits))
	for name, stored := range d.Circuits {
		if stored == nil {
			continue
		}
		c := *stored
		c.Name = name
		s := b.cfg.SettingsFor(name)
		advance(&c, s, now)
		out = append(out, snapshotOf(&c, s))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// States returns the effective state of every known circuit.
func (b *Breaker) States(ctx context.Context) map[string]State {
	all := b.All(ctx)
	out := make(map[string]State, len(all))
	for _, snap := range all {
		out[snap.Name] = snap.State
	}
	return out
}

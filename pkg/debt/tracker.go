package debt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/gatekeeper/pkg/state"
)

// Tracker manages the shared debt document.
type Tracker struct {
	store  state.Store
	cfg    Config
	ledger state.Appender
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLedger sets the appender receiving incur and settle records.
func WithLedger(ledger state.Appender) Option {
	return func(t *Tracker) {
		if ledger != nil {
			t.ledger = ledger
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a Tracker over store.
func NewTracker(store state.Store, cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid debt config: %w", err)
	}
	t := &Tracker{
		store:  store,
		cfg:    cfg,
		ledger: state.Discard,
		logger: slog.Default().With("component", "debt"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Incur records a bypass of ruleID. An unpaid record for the rule is
// updated in place; otherwise a new one is created. The bool result
// reports whether a record was created.
func (t *Tracker) Incur(ctx context.Context, ruleID, category, sessionID, reason string) (*Record, bool, error) {
	if ruleID == "" {
		return nil, false, ErrEmptyRuleID
	}
	var (
		rec     Record
		created bool
	)
	_, err := state.WithLockedUpdate(ctx, t.store, DocumentName, newDocument, func(d *Document) error {
		now := t.now()
		if r := d.unpaid(ruleID); r != nil {
			r.UpdatedAt = now
			r.Bypasses++
			r.SessionID = sessionID
			if reason != "" {
				r.Reason = reason
			}
			rec, created = *r, false
			return nil
		}
		d.Records = append(d.Records, Record{
			ID:        uuid.NewString(),
			RuleID:    ruleID,
			Category:  category,
			SessionID: sessionID,
			Reason:    reason,
			CreatedAt: now,
			UpdatedAt: now,
			Bypasses:  1,
		})
		rec, created = d.Records[len(d.Records)-1], true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	recordType := "incurred"
	if !created {
		recordType = "rebypassed"
	}
	t.logger.Warn("override debt recorded",
		"rule_id", rec.RuleID,
		"session_id", sessionID,
		"bypasses", rec.Bypasses,
	)
	t.journal(ctx, recordType, sessionID, rec)
	return &rec, created, nil
}

// Outstanding returns the unpaid records. The read holds the document lock
// so a decision never acts on a debt state older than the last commit.
func (t *Tracker) Outstanding(ctx context.Context) ([]Record, error) {
	d, err := state.WithLockedRead(ctx, t.store, DocumentName, newDocument)
	if err != nil {
		return nil, err
	}
	return d.outstanding(), nil
}

// All returns every record, paid or not, without locking.
func (t *Tracker) All(ctx context.Context) []Record {
	return state.ReadBestEffort(ctx, t.store, DocumentName, newDocument).Records
}

// IsCorrective reports whether action on target is on the allow-list.
func (t *Tracker) IsCorrective(action, target string) bool {
	for _, c := range t.cfg.AllowList {
		if c.Matches(action, target) {
			return true
		}
	}
	return false
}

// Permits reports whether an action may proceed given the outstanding
// debt. Non-mutating and corrective actions are always permitted.
func (t *Tracker) Permits(ctx context.Context, action, target string, mutating bool) (bool, error) {
	if !mutating || t.IsCorrective(action, target) {
		return true, nil
	}
	out, err := t.Outstanding(ctx)
	if err != nil {
		return false, err
	}
	return len(out) == 0, nil
}

// Settle pays every unpaid record when action on target is corrective and
// returns the records it paid.
func (t *Tracker) Settle(ctx context.Context, action, target string) ([]Record, error) {
	if !t.IsCorrective(action, target) {
		return nil, nil
	}
	return t.pay(ctx, fmt.Sprintf("%s %s", action, target), func(Record) bool { return true })
}

// Pay marks the unpaid record with the given id or rule id as paid.
func (t *Tracker) Pay(ctx context.Context, idOrRule, by string) (*Record, error) {
	paid, err := t.pay(ctx, by, func(r Record) bool {
		return r.ID == idOrRule || r.RuleID == idOrRule
	})
	if err != nil {
		return nil, err
	}
	if len(paid) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrRule)
	}
	return &paid[0], nil
}

func (t *Tracker) pay(ctx context.Context, by string, match func(Record) bool) ([]Record, error) {
	var paid []Record
	_, err := state.WithLockedUpdate(ctx, t.store, DocumentName, newDocument, func(d *Document) error {
		paid = paid[:0]
		now := t.now()
		for i := range d.Records {
			r := &d.Records[i]
			if r.Paid || !match(*r) {
				continue
			}
			r.Paid = true
			r.PaidAt = now
			r.PaidBy = by
			r.UpdatedAt = now
			paid = append(paid, *r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range paid {
		t.logger.Info("debt paid",
			"rule_id", r.RuleID,
			"paid_by", r.PaidBy,
		)
		t.journal(ctx, "paid", r.SessionID, r)
	}
	return paid, nil
}

// Prune drops paid records paid before the cut-off and returns how many
// were removed. Unpaid records are never pruned.
func (t *Tracker) Prune(ctx context.Context, before time.Time) (int, error) {
	removed := 0
	_, err := state.WithLockedUpdate(ctx, t.store, DocumentName, newDocument, func(d *Document) error {
		removed = 0
		kept := d.Records[:0]
		for _, r := range d.Records {
			if r.Paid && r.PaidAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		d.Records = kept
		return nil
	})
	return removed, err
}

// KeepPaid returns the configured retention of paid records.
func (t *Tracker) KeepPaid() time.Duration {
	return t.cfg.KeepPaid
}

func (t *Tracker) journal(ctx context.Context, recordType, sessionID string, r Record) {
	if err := t.ledger.Append(ctx, state.StreamDebt, recordType, sessionID, r); err != nil {
		t.logger.Warn("failed to append debt record", "error", err)
	}
}

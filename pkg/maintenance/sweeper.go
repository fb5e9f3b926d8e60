// Package maintenance removes expired state: idle sessions, old ledger
// lines, old audit entries and paid debt. A Sweeper runs one pass; a
// Scheduler runs passes on a cron schedule in daemon mode.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/gatekeeper/pkg/debt"
	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/state"
)

// AuditPruner deletes audit entries older than a cut-off.
type AuditPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Compactor rewrites ledger streams without old records.
type Compactor interface {
	Streams() ([]string, error)
	Compact(ctx context.Context, stream string, before time.Time) (int, error)
}

// Config holds retention windows. Zero disables the step.
type Config struct {
	LedgerRetention time.Duration `yaml:"ledger_retention"`
	AuditRetention  time.Duration `yaml:"audit_retention"`
}

// DefaultConfig keeps ledgers for 30 days and audit entries for 90.
func DefaultConfig() Config {
	return Config{
		LedgerRetention: 30 * 24 * time.Hour,
		AuditRetention:  90 * 24 * time.Hour,
	}
}

// Result summarizes one sweep.
type Result struct {
	SessionsScanned int            `json:"sessions_scanned"`
	SessionsDeleted int            `json:"sessions_deleted"`
	LedgerRemoved   map[string]int `json:"ledger_removed,omitempty"`
	AuditPruned     int64          `json:"audit_pruned"`
	DebtPruned      int            `json:"debt_pruned"`
	Duration        time.Duration  `json:"duration"`
}

// Sweeper runs the expiry steps. Nil components are skipped.
type Sweeper struct {
	Sessions *session.Repository
	Ledger   Compactor
	Audit    AuditPruner
	Debt     *debt.Tracker

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:    cfg,
		logger: logger.With("component", "maintenance"),
		now:    time.Now,
	}
}

// Sweep runs every step. A failing step does not stop the others; all
// failures are returned joined.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	start := s.now()
	res := Result{LedgerRemoved: map[string]int{}}
	var errs []error

	if s.Sessions != nil {
		sr, err := s.Sessions.Sweep(ctx)
		res.SessionsScanned, res.SessionsDeleted = sr.Scanned, sr.Deleted
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep sessions: %w", err))
		}
	}

	if s.Ledger != nil && s.cfg.LedgerRetention > 0 {
		cutoff := start.Add(-s.cfg.LedgerRetention)
		streams, err := s.Ledger.Streams()
		if err != nil {
			errs = append(errs, fmt.Errorf("list ledger streams: %w", err))
		}
		for _, stream := range streams {
			n, err := s.Ledger.Compact(ctx, stream, cutoff)
			if err != nil {
				errs = append(errs, fmt.Errorf("compact %s: %w", stream, err))
				continue
			}
			if n > 0 {
				res.LedgerRemoved[stream] = n
			}
		}
	}

	if s.Audit != nil && s.cfg.AuditRetention > 0 {
		n, err := s.Audit.Prune(ctx, start.Add(-s.cfg.AuditRetention))
		res.AuditPruned = n
		if err != nil {
			errs = append(errs, fmt.Errorf("prune audit: %w", err))
		}
	}

	if s.Debt != nil && s.Debt.KeepPaid() > 0 {
		n, err := s.Debt.Prune(ctx, start.Add(-s.Debt.KeepPaid()))
		res.DebtPruned = n
		if err != nil {
			errs = append(errs, fmt.Errorf("prune debt: %w", err))
		}
	}

	res.Duration = s.now().Sub(start)
	err := errors.Join(errs...)
	if err != nil && errors.Is(err, state.ErrLockTimeout) {
		s.logger.Warn("sweep hit a lock timeout; remaining work is retried next run", "error", err)
	}
	s.logger.Info("sweep completed",
		"sessions_deleted", res.SessionsDeleted,
		"audit_pruned", res.AuditPruned,
		"debt_pruned", res.DebtPruned,
		"duration", res.Duration,
	)
	return res, err
}

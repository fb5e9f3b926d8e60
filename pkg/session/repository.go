package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"mercator-hq/gatekeeper/pkg/state"
)

// DefaultRetention is how long an idle session is kept.
const DefaultRetention = 7 * 24 * time.Hour

// ErrEmptyID is returned when a session id is empty.
var ErrEmptyID = errors.New("session id is required")

// Repository loads and stores sessions, one document per session.
type Repository struct {
	store     state.Store
	retention time.Duration
	initial   int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithRetention sets how long idle sessions are kept by Sweep.
func WithRetention(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithInitialTrust sets the trust score of newly created sessions.
func WithInitialTrust(score int) Option {
	return func(r *Repository) {
		r.initial = score
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRepository creates a Repository backed by store.
func NewRepository(store state.Store, opts ...Option) *Repository {
	r := &Repository{
		store:     store,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    slog.Default().With("component", "session"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the repository clock's current time.
func (r *Repository) Now() time.Time {
	return r.now()
}

// Update applies fn to the session under its document lock, creating the
// session on first use.
func (r *Repository) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	now := r.now()
	return state.WithLockedUpdate(ctx, r.store, DocumentName(id),
		func() *Session { return r.fresh(id, now) },
		func(s *Session) error {
			s.ensureMaps()
			if s.ID == "" {
				s.ID = id
			}
			if err := fn(s); err != nil {
				return err
			}
			s.UpdatedAt = now
			return nil
		})
}

// Get returns a best-effort snapshot of the session without locking. The
// bool reports whether the session exists.
func (r *Repository) Get(ctx context.Context, id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	data, err := r.store.Read(ctx, DocumentName(id))
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			r.logger.Warn("session read failed, using defaults",
				"session_id", id,
				"error", err,
			)
		}
		return r.fresh(id, r.now()), false
	}
	s := r.fresh(id, r.now())
	if err := json.Unmarshal(data, s); err != nil {
		r.logger.Warn("session document unreadable, using defaults",
			"session_id", id,
			"error", &state.CorruptionError{Document: DocumentName(id), Cause: err},
		)
		return r.fresh(id, r.now()), true
	}
	s.ensureMaps()
	return s, true
}

func (r *Repository) fresh(id string, now time.Time) *Session {
	s := New(id, now)
	s.Trust = r.initial
	return s
}

// Delete removes the session.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return r.store.Delete(ctx, DocumentName(id))
}

// SweepResult summarizes a Sweep run.
type SweepResult struct {
	Scanned int
	Deleted int
}

// Sweep deletes sessions idle for longer than the retention window.
// Undecodable documents are judged by their modification time.
func (r *Repository) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	docs, err := r.store.List(ctx, documentPrefix)
	if err != nil {
		return result, err
	}

	cutoff := r.now().Add(-r.retention)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		var lastActive time.Time
		deleted, err := r.store.DeleteIf(ctx, doc.Name, func(current []byte) bool {
			lastActive = doc.ModTime
			var s Session
			if err := json.Unmarshal(current, &s); err == nil && !s.UpdatedAt.IsZero() {
				lastActive = s.UpdatedAt
			}
			return lastActive.Before(cutoff)
		})
		if err != nil {
			r.logger.Warn("failed to delete expired session",
				"document", doc.Name,
				"error", err,
			)
			continue
		}
		if !deleted {
			continue
		}
		result.Deleted++
		r.logger.Debug("deleted expired session",
			"document", doc.Name,
			"last_active", lastActive,
		)
	}
	return result, nil
}

package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/policy/engine"
)

// Loader is the part of the engine a Reloader drives.
type Loader interface {
	LoadRules(rules []engine.Rule) error
}

// Reloader loads rules from a Source into an engine.
type Reloader struct {
	source Source
	target Loader
	logger *slog.Logger

	// OnReload runs after every successful reload with the new rules.
	OnReload func(rules []engine.Rule)

	// OnError runs after every failed reload.
	OnError func(err error)

	mu         sync.Mutex
	lastReload time.Time
	lastErr    error
}

// NewReloader creates a reloader.
func NewReloader(src Source, target Loader, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		source: src,
		target: target,
		logger: logger.With("component", "policy.reloader"),
	}
}

// Reload loads and installs the current rule set. On failure the engine
// keeps its previous rules.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.reload(ctx)
	r.lastErr = err
	if err != nil {
		r.logger.Error("rule reload failed, keeping previous rules", "error", err)
		if r.OnError != nil {
			r.OnError(err)
		}
		return err
	}
	r.lastReload = time.Now()
	return nil
}

func (r *Reloader) reload(ctx context.Context) error {
	rules, err := r.source.LoadRules(ctx)
	if err != nil {
		return err
	}
	if err := r.target.LoadRules(rules); err != nil {
		return fmt.Errorf("install rules: %w", err)
	}
	if r.OnReload != nil {
		r.OnReload(rules)
	}
	return nil
}

// Status returns the time of the last successful reload and the error of
// the last attempt.
func (r *Reloader) Status() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReload, r.lastErr
}

// Watch watches config.Path and reloads on change until ctx is cancelled.
func (r *Reloader) Watch(ctx context.Context, config *WatcherConfig) error {
	w, err := NewWatcher(config, r.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	return w.Watch(ctx, func() {
		_ = r.Reload(ctx)
	})
}

package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status values reported by the checker.
const (
	StatusOK       = "ok"
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusDraining = "draining"

	CheckOK        = "ok"
	CheckUnhealthy = "unhealthy"
)

// DefaultCheckTimeout bounds a component check when none is configured.
const DefaultCheckTimeout = 2 * time.Second

// ErrCheckTimeout is reported when a check does not finish in time.
var ErrCheckTimeout = errors.New("health check timeout")

// CheckFunc checks one component. It returns nil when the component is
// usable.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Status is the aggregate report served by the health endpoints.
type Status struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Ready reports whether the status admits traffic.
func (s Status) Ready() bool {
	return s.Status == StatusOK || s.Status == StatusReady
}

// Checker runs the daemon's readiness checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc

	checkTimeout time.Duration
	draining     atomic.Bool
	now          func() time.Time
}

// New creates a checker. A zero timeout uses DefaultCheckTimeout.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout <= 0 {
		checkTimeout = DefaultCheckTimeout
	}
	return &Checker{
		checks:       make(map[string]CheckFunc),
		checkTimeout: checkTimeout,
		now:          time.Now,
	}
}

// Register adds or replaces the check named name.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Unregister removes the check named name.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDraining marks the daemon as shutting down. Readiness fails from then
// on so load balancers stop routing decisions here; liveness is unaffected.
func (c *Checker) SetDraining(draining bool) {
	c.draining.Store(draining)
}

// Liveness reports that the process is serving.
func (c *Checker) Liveness(context.Context) Status {
	return Status{Status: StatusOK, Timestamp: c.now()}
}

// Readiness runs every registered check concurrently. Any failing check
// degrades the daemon.
func (c *Checker) Readiness(ctx context.Context) Status {
	if c.draining.Load() {
		return Status{Status: StatusDraining, Timestamp: c.now()}
	}

	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.run(ctx, check)
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := StatusReady
	for _, r := range results {
		if r.Status != CheckOK {
			status = StatusDegraded
		}
	}
	return Status{Status: status, Checks: results, Timestamp: c.now()}
}

func (c *Checker) run(ctx context.Context, check CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- check(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return CheckResult{Status: CheckUnhealthy, Message: err.Error(), Duration: time.Since(start)}
		}
		return CheckResult{Status: CheckOK, Duration: time.Since(start)}
	case <-ctx.Done():
		return CheckResult{Status: CheckUnhealthy, Message: ErrCheckTimeout.Error(), Duration: time.Since(start)}
	}
}

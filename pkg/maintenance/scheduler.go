package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Sweeper on a cron schedule.
type Scheduler struct {
	sweeper  *Sweeper
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler for sweeper. schedule uses standard
// cron syntax or a descriptor such as "@every 1h"; empty disables it.
func NewScheduler(sweeper *Sweeper, schedule string) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "maintenance.scheduler"),
	}
}

// Start schedules the sweep. The scheduler stops when ctx is done or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("sweep schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.done = make(chan struct{})
	s.logger.Info("maintenance scheduler started", "schedule", s.schedule)

	done := s.done
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			s.halt()
		case <-done:
		}
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.Error("scheduled sweep failed", "error", err)
	}
}

func (s *Scheduler) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done() // wait for a running sweep
	s.running = false
	close(s.done)
	s.logger.Info("maintenance scheduler stopped")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.halt()
	s.wg.Wait()
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled sweep, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

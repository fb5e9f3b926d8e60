package source

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"mercator-hq/gatekeeper/pkg/policy/engine"
)

func TestReloader_KeepsPreviousRulesOnFailure(t *testing.T) {
	eng, err := engine.NewEngine(nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	src := NewMemorySource(engine.Rule{
		ID: "sunk-cost", Category: engine.CategoryWorkflow, Level: engine.LevelWarn,
		Trigger: engine.Pred(engine.PredSunkCost),
	})

	var reloads int
	r := NewReloader(src, eng, nil)
	r.OnReload = func([]engine.Rule) { reloads++ }

	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	src.SetRules([]engine.Rule{{
		ID: "typo", Category: engine.CategoryWorkflow, Level: engine.LevelWarn,
		Trigger: engine.Pred("sunk_cots"),
	}})
	if err := r.Reload(context.Background()); err == nil {
		t.Fatal("Reload() with an unknown predicate succeeded")
	}

	rules := eng.Rules()
	if len(rules) != 1 || rules[0].ID != "sunk-cost" {
		t.Errorf("engine rules = %+v, want previous set", rules)
	}
	if reloads != 1 {
		t.Errorf("OnReload called %d times, want 1", reloads)
	}
	if last, lastErr := r.Status(); last.IsZero() || lastErr == nil {
		t.Errorf("Status() = %v, %v", last, lastErr)
	}
}

func TestReloader_WatchPicksUpChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeFile(t, path, validRules)

	eng, err := engine.NewEngine(nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(NewFileSource(dir, nil), eng, nil)
	if err := r.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	var reloaded atomic.Int32
	changed := make(chan struct{}, 4)
	r.OnReload = func([]engine.Rule) {
		reloaded.Add(1)
		changed <- struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	cfg := DefaultWatcherConfig(dir)
	cfg.DebounceInterval = 20 * time.Millisecond
	go func() { done <- r.Watch(ctx, cfg) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	extra := validRules + `
  - id: stale-context
    category: epistemic
    level: suggest
    trigger: stale_context
`
	if err := os.WriteFile(path, []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("rules were not reloaded after the file changed")
	}
	if n := len(eng.Rules()); n != 3 {
		t.Errorf("engine has %d rules after reload, want 3", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { calls.Add(1) })
	}
	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("callback ran %d times, want 1", got)
	}

	d.Stop()
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("callback ran after Stop: %d", got)
	}
}

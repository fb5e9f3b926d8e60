package tuning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/state"
)

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := NewController(state.NewMemoryStore(), cfg)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c
}

func TestController_PromotesOnFourthWarnsOnFifth(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	ctx := context.Background()
	const pattern = "repeated-file-inspection"

	var messages []string
	var promotedAt int
	for call := 1; call <= 5; call++ {
		phase := c.Phase(ctx, pattern)
		action, msg := c.ShouldEnforce(pattern, phase)
		if action == ActionWarn {
			messages = append(messages, msg)
		}

		tr, err := c.AutoTune(ctx, pattern, call, Occurrence{})
		if err != nil {
			t.Fatal(err)
		}
		if tr != nil {
			if tr.From != PhaseObserve || tr.To != PhaseWarn {
				t.Errorf("transition = %+v, want observe -> warn", tr)
			}
			promotedAt = call
		}

		if call == 5 && action != ActionWarn {
			t.Errorf("call 5 action = %s, want warn", action)
		}
	}

	if promotedAt != 4 {
		t.Errorf("promoted on call %d, want 4", promotedAt)
	}
	if len(messages) != 1 || !strings.Contains(messages[0], pattern) {
		t.Errorf("warning messages = %q, want one mentioning %s", messages, pattern)
	}
}

func TestController_WarnToEnforceIgnoresRemediations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialPhases = map[string]Phase{"p": PhaseWarn}
	c := newTestController(t, cfg)
	ctx := context.Background()

	turn := 0
	next := func(occ Occurrence) *Transition {
		turn++
		tr, err := c.AutoTune(ctx, "p", turn, occ)
		if err != nil {
			t.Fatal(err)
		}
		return tr
	}

	for i := 0; i < 5; i++ {
		if tr := next(Occurrence{Remediated: true}); tr != nil {
			t.Fatalf("remediated occurrence caused %+v", tr)
		}
	}
	for i := 0; i < 3; i++ {
		if tr := next(Occurrence{}); tr != nil {
			t.Fatalf("occurrence %d promoted early: %+v", i+1, tr)
		}
	}
	tr := next(Occurrence{})
	if tr == nil || tr.To != PhaseEnforce {
		t.Fatalf("fourth unremediated occurrence = %+v, want promotion to enforce", tr)
	}
}

func TestController_DemotesOnHighBypassRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialPhases = map[string]Phase{"noisy": PhaseEnforce}
	c := newTestController(t, cfg)
	ctx := context.Background()

	occs := []Occurrence{{Bypassed: true}, {Bypassed: true}, {}, {Bypassed: true}}
	var tr *Transition
	for i, occ := range occs {
		var err error
		tr, err = c.AutoTune(ctx, "noisy", i+1, occ)
		if err != nil {
			t.Fatal(err)
		}
		if i < len(occs)-1 && tr != nil {
			t.Fatalf("demoted before min samples at occurrence %d", i+1)
		}
	}
	if tr == nil || tr.From != PhaseEnforce || tr.To != PhaseWarn {
		t.Fatalf("transition = %+v, want enforce -> warn", tr)
	}

	st := c.Status(ctx)
	if len(st) != 1 {
		t.Fatalf("Status() = %+v", st)
	}
	want := DefaultThresholds().PromoteEnforce + DefaultThresholds().ThresholdStep
	if st[0].PromoteEnforce != want || st[0].Demotions != 1 {
		t.Errorf("after demotion threshold = %d demotions = %d, want %d, 1", st[0].PromoteEnforce, st[0].Demotions, want)
	}
}

func TestController_DemotionIndependentOfDebtByDefault(t *testing.T) {
	for _, suppress := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.InitialPhases = map[string]Phase{"p": PhaseEnforce}
		cfg.SuppressDemotionWithDebt = suppress
		c := newTestController(t, cfg)
		ctx := context.Background()

		var last *Transition
		for i := 1; i <= 4; i++ {
			tr, err := c.AutoTune(ctx, "p", i, Occurrence{Bypassed: true, DebtOutstanding: true})
			if err != nil {
				t.Fatal(err)
			}
			if tr != nil {
				last = tr
			}
		}
		if demoted := last != nil; demoted == suppress {
			t.Errorf("suppress=%v: demoted=%v", suppress, demoted)
		}
	}
}

func TestController_ProtectedPatternsUntouched(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.Protect("no-force-push")
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		tr, err := c.AutoTune(ctx, "no-force-push", i, Occurrence{Bypassed: true})
		if err != nil || tr != nil {
			t.Fatalf("AutoTune(protected) = %+v, %v", tr, err)
		}
	}
	if st := c.Status(ctx); len(st) != 0 {
		t.Errorf("protected pattern gained state: %+v", st)
	}
	if action, _ := c.ShouldEnforce("no-force-push", PhaseObserve); action != ActionBlock {
		t.Errorf("ShouldEnforce(protected) = %s, want block", action)
	}
	if _, err := c.SetPhase(ctx, "no-force-push", PhaseObserve); !errors.Is(err, ErrProtected) {
		t.Errorf("SetPhase(protected) error = %v, want ErrProtected", err)
	}
}

func TestController_WindowDropsOldOccurrences(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Default.Window = 5
	c := newTestController(t, cfg)
	ctx := context.Background()

	// Three occurrences, then a long gap: the window never holds four.
	for _, turn := range []int{1, 2, 3, 20, 21, 22} {
		tr, err := c.AutoTune(ctx, "sparse", turn, Occurrence{})
		if err != nil {
			t.Fatal(err)
		}
		if tr != nil {
			t.Fatalf("promoted at turn %d: %+v", turn, tr)
		}
	}
	if got := c.Phase(ctx, "sparse"); got != PhaseObserve {
		t.Errorf("phase = %s, want observe", got)
	}
}

func TestController_SessionsWindowIndependently(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	ctx := context.Background()
	const pattern = "repeated-file-inspection"

	// A long-running session builds up history, then a fresh session starts
	// at turn 1. The fresh session must not erase the older history.
	calls := []struct {
		session string
		turn    int
	}{
		{"long", 40},
		{"long", 41},
		{"long", 42},
		{"fresh", 1},
		{"long", 43},
	}
	var promoted *Transition
	for _, call := range calls {
		tr, err := c.AutoTune(ctx, pattern, call.turn, Occurrence{SessionID: call.session})
		if err != nil {
			t.Fatal(err)
		}
		if tr != nil && promoted == nil {
			promoted = tr
		}
	}
	if promoted == nil || promoted.To != PhaseWarn {
		t.Fatalf("pattern not promoted after %d occurrences: %+v", len(calls), promoted)
	}
	if got := c.Phase(ctx, pattern); got != PhaseWarn {
		t.Errorf("phase = %s, want warn", got)
	}

	status := c.Status(ctx)
	if len(status) != 1 || len(status[0].Occurrences) != len(calls) {
		t.Fatalf("Status() = %+v, want %d occurrences kept", status, len(calls))
	}
}

func TestController_OccurrenceTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.OccurrenceTTL = time.Hour
	c, err := NewController(state.NewMemoryStore(), cfg, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for turn := 1; turn <= 3; turn++ {
		if _, err := c.AutoTune(ctx, "p", turn, Occurrence{SessionID: "gone"}); err != nil {
			t.Fatal(err)
		}
	}
	now = now.Add(2 * time.Hour)
	tr, err := c.AutoTune(ctx, "p", 1, Occurrence{SessionID: "new"})
	if err != nil {
		t.Fatal(err)
	}
	if tr != nil {
		t.Errorf("expired occurrences promoted the pattern: %+v", tr)
	}
	if got := c.Status(ctx)[0].Occurrences; len(got) != 1 || got[0].Session != "new" {
		t.Errorf("occurrences = %+v, want only the new session's", got)
	}
}

func TestWindow(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := cutoff.Add(time.Minute)
	marks := []Mark{
		{Session: "a", Turn: 1, At: fresh},
		{Session: "a", Turn: 10, At: fresh},
		{Session: "b", Turn: 2, At: fresh},
		{Session: "a", Turn: 11, At: fresh},
		{Session: "b", Turn: 3, At: cutoff.Add(-time.Minute)},
		{Session: "a", Turn: 12, At: fresh},
	}
	got := window(marks, latestTurns(marks), 5, cutoff)
	want := []Mark{
		{Session: "a", Turn: 10, At: fresh},
		{Session: "b", Turn: 2, At: fresh},
		{Session: "a", Turn: 11, At: fresh},
		{Session: "a", Turn: 12, At: fresh},
	}
	if len(got) != len(want) {
		t.Fatalf("window() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

package trust

import (
	"context"
	"math"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/state"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), session.NewRepository(state.NewMemoryStore()), opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func intPtr(v int) *int { return &v }

func TestApply_ClampsScore(t *testing.T) {
	e := newTestEngine(t)

	deltas := []int{-200, -26, -1, 0, 1, 15, 99, 250}
	starts := []int{0, 1, 30, 50, 99, 100}
	for _, start := range starts {
		for _, delta := range deltas {
			s := session.New("s", time.Now())
			s.Trust = start
			out := e.Apply(s, Observation{Kind: "custom", Delta: intPtr(delta), Target: "t"})
			if out.NewScore < MinScore || out.NewScore > MaxScore {
				t.Errorf("start %d delta %d: score %d out of range", start, delta, out.NewScore)
			}
			if out.NewScore != start+out.Applied {
				t.Errorf("start %d delta %d: applied %d does not explain score %d", start, delta, out.Applied, out.NewScore)
			}
		}
	}

	for kind := range DefaultConfig().Penalties {
		s := session.New("s", time.Now())
		out := e.ApplyPenalty(s, kind, "", 1)
		if out.NewScore != 0 {
			t.Errorf("penalty %s at 0: score %d, want 0", kind, out.NewScore)
		}
	}
}

func TestApply_ExtremeDeltasSaturate(t *testing.T) {
	e := newTestEngine(t)

	s := session.New("s", time.Now())
	s.Trust = 40
	out := e.Apply(s, Observation{Kind: "custom", Delta: intPtr(math.MaxInt), Target: "t"})
	if out.NewScore != MaxScore {
		t.Errorf("score after MaxInt delta = %d, want %d", out.NewScore, MaxScore)
	}

	s.Trust = 40
	out = e.Apply(s, Observation{Kind: "custom", Delta: intPtr(math.MinInt), Target: "u"})
	if out.NewScore != MinScore {
		t.Errorf("score after MinInt delta = %d, want %d", out.NewScore, MinScore)
	}

	s.Trust = 40
	if got := e.ApplyReward(s, "bonus", math.MaxInt, "", 1); s.Trust != MaxScore {
		t.Errorf("reward of MaxInt: %+v, trust %d", got, s.Trust)
	}
}

func TestAddClamped(t *testing.T) {
	tests := []struct {
		score, delta, want int
	}{
		{0, 10, 10},
		{95, 10, 100},
		{5, -10, 0},
		{40, math.MaxInt, 100},
		{40, math.MinInt, 0},
		{100, math.MaxInt, 100},
		{0, math.MinInt, 0},
	}
	for _, tt := range tests {
		if got := AddClamped(tt.score, tt.delta); got != tt.want {
			t.Errorf("AddClamped(%d, %d) = %d, want %d", tt.score, tt.delta, got, tt.want)
		}
	}
}

func TestDiminish_NonIncreasingAndDeterministic(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		base int
		want []int
	}{
		{base: 10, want: []int{10, 2, 2, 2}},
		{base: 15, want: []int{15, 3, 2, 2}},
		{base: 100, want: []int{100, 20, 4, 2}},
		{base: 1, want: []int{1, 1, 1}},
		{base: -25, want: []int{-25, -25}},
	}
	for _, tt := range tests {
		for n := 1; n <= len(tt.want); n++ {
			if got := e.Diminish(tt.base, n); got != tt.want[n-1] {
				t.Errorf("Diminish(%d, %d) = %d, want %d", tt.base, n, got, tt.want[n-1])
			}
		}
	}

	for _, base := range []int{1, 5, 10, 12, 50} {
		prev := e.Diminish(base, 1)
		for n := 2; n <= 20; n++ {
			got := e.Diminish(base, n)
			if got > prev {
				t.Errorf("Diminish(%d, %d) = %d exceeds previous %d", base, n, got, prev)
			}
			prev = got
		}
	}
}

func TestApply_RepeatInspectionDiminishes(t *testing.T) {
	e := newTestEngine(t)
	s := session.New("s", time.Now())

	first := e.Apply(s, Observation{Kind: KindInspect, Target: "main.go", Turn: 1})
	second := e.Apply(s, Observation{Kind: KindInspect, Target: "main.go", Turn: 2})
	other := e.Apply(s, Observation{Kind: KindInspect, Target: "util.go", Turn: 3})

	if first.Applied != 10 || second.Applied != 2 || other.Applied != 10 {
		t.Errorf("applied = %d, %d, %d; want 10, 2, 10", first.Applied, second.Applied, other.Applied)
	}
	if len(s.Evidence) != 3 {
		t.Errorf("len(Evidence) = %d, want 3", len(s.Evidence))
	}
	if s.LastSeen[KindInspect] != 3 {
		t.Errorf("LastSeen[inspect] = %d, want 3", s.LastSeen[KindInspect])
	}
}

func TestTier_Monotone(t *testing.T) {
	tiers := DefaultTiers()
	prev := tiers.Tier(MinScore)
	for score := MinScore; score <= MaxScore; score++ {
		got := tiers.Tier(score)
		if got < prev {
			t.Fatalf("Tier(%d) = %s below Tier(%d) = %s", score, got, score-1, prev)
		}
		prev = got
	}

	tests := []struct {
		score int
		want  Tier
	}{
		{0, TierIgnorance},
		{30, TierIgnorance},
		{31, TierHypothesis},
		{70, TierHypothesis},
		{71, TierCertainty},
		{100, TierCertainty},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestRecord_InspectThenVerifyScenario(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for i, target := range []string{"a.go", "b.go", "c.go"} {
		out, err := e.Record(ctx, "s1", Observation{Kind: KindInspect, Target: target, Turn: i + 1})
		if err != nil {
			t.Fatal(err)
		}
		if out.Applied != 10 {
			t.Errorf("inspect %s applied %d, want 10", target, out.Applied)
		}
	}
	s, _ := e.repo.Get(ctx, "s1")
	if s.Trust != 30 || e.Tier(s.Trust) != TierIgnorance {
		t.Fatalf("after inspections trust = %d (%s), want 30 (ignorance)", s.Trust, e.Tier(s.Trust))
	}

	out, err := e.Record(ctx, "s1", Observation{Kind: KindVerify, Target: "go test", Turn: 4})
	if err != nil {
		t.Fatal(err)
	}
	if out.NewScore != 45 || out.Tier != TierHypothesis {
		t.Errorf("after verify = %d (%s), want 45 (hypothesis)", out.NewScore, out.Tier)
	}
}

func TestRecord_UnknownKindIsSchemaGap(t *testing.T) {
	ledger := state.NewMemoryLedger()
	e := newTestEngine(t, WithLedger(ledger))
	ctx := context.Background()

	out, err := e.Record(ctx, "s1", Observation{Kind: "telepathy", Turn: 1})
	if err != nil {
		t.Fatalf("Record() error = %v, want nil", err)
	}
	if out.Applied != 0 || out.Known {
		t.Errorf("outcome = %+v, want zero delta and unknown", out)
	}
	if got := len(ledger.Records(state.StreamEvidence)); got != 1 {
		t.Errorf("evidence records = %d, want 1", got)
	}
	if got := len(ledger.Records(state.StreamDiagnostics)); got != 1 {
		t.Errorf("diagnostic records = %d, want 1", got)
	}
}

func TestPenalty(t *testing.T) {
	ledger := state.NewMemoryLedger()
	e := newTestEngine(t, WithLedger(ledger))
	ctx := context.Background()

	if _, err := e.Reward(ctx, "s1", "manual", 40, "operator", 1); err != nil {
		t.Fatal(err)
	}
	score, err := e.Penalty(ctx, "s1", PenaltyContradiction, "said the file existed", 2)
	if err != nil {
		t.Fatal(err)
	}
	if score != 15 {
		t.Errorf("score = %d, want 15", score)
	}

	score, err = e.Penalty(ctx, "s1", "unheard-of", "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if score != 15 {
		t.Errorf("unknown penalty changed score to %d", score)
	}

	s, _ := e.repo.Get(ctx, "s1")
	if len(s.History) != 3 {
		t.Errorf("len(History) = %d, want 3", len(s.History))
	}
	if got := len(ledger.Records(state.StreamPenalties)); got != 3 {
		t.Errorf("penalty records = %d, want 3", got)
	}
}

func TestStaleContext(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name  string
		score int
		ratio float64
		want  bool
	}{
		{"low ratio", 10, 0.5, false},
		{"high ratio low trust", 10, 0.8, true},
		{"at threshold", 50, 0.75, true},
		{"certain", 80, 0.95, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Stale(tt.score, tt.ratio); got != tt.want {
				t.Errorf("Stale(%d, %g) = %v, want %v", tt.score, tt.ratio, got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.Tiers = Tiers{Hypothesis: 50, Certainty: 40}
	bad.Penalties = map[string]int{"oops": 5}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted inverted tiers and positive penalty")
	}
}

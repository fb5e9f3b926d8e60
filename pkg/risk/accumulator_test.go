package risk

import (
	"context"
	"math"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/state"
)

func newTestAccumulator(t *testing.T) *Accumulator {
	t.Helper()
	a, err := NewAccumulator(DefaultConfig(), session.NewRepository(state.NewMemoryStore()))
	if err != nil {
		t.Fatalf("NewAccumulator() error = %v", err)
	}
	return a
}

func TestClassify(t *testing.T) {
	a := newTestAccumulator(t)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"rm rf", "rm -rf ./build", "rm-recursive-force"},
		{"rm fr", "rm -fr /tmp/x", "rm-recursive-force"},
		{"rm split flags", "rm -r -f dist", "rm-recursive-force"},
		{"plain rm", "rm notes.txt", ""},
		{"force push", "git push --force origin main", "git-force-push"},
		{"short force push", "git push origin main -f", "git-force-push"},
		{"normal push", "git push origin main", ""},
		{"drop table", "DROP TABLE users;", "sql-drop"},
		{"delete without where", "DELETE FROM users;", "sql-delete-unbounded"},
		{"delete with where", "DELETE FROM users WHERE id = 4;", ""},
		{"reset hard", "git reset --hard HEAD~3", "git-reset-hard"},
		{"sudo", "sudo apt-get install foo", "privilege-escalation"},
		{"chmod 777", "chmod -R 777 /srv", "chmod-world-writable"},
		{"mkfs", "mkfs.ext4 /dev/sdb1", "disk-format"},
		{"benign", "go test ./...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Classify(ActionDescriptor{Action: "bash", Text: tt.text})
			name := ""
			if got != nil {
				name = got.Name
			}
			if name != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.text, name, tt.want)
			}
		})
	}
}

func TestClassify_PriorityAndTieBreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Patterns = []HazardPattern{
		{Name: "zeta", Pattern: `danger`, Priority: 10},
		{Name: "alpha", Pattern: `danger`, Priority: 10},
		{Name: "low", Pattern: `danger`, Priority: 1},
		{Name: "scoped", Pattern: `danger`, Priority: 50, Actions: []string{"sql"}},
	}
	a, err := NewAccumulator(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := a.Classify(ActionDescriptor{Action: "bash", Text: "danger"}); got == nil || got.Name != "alpha" {
		t.Errorf("Classify(bash) = %+v, want alpha", got)
	}
	if got := a.Classify(ActionDescriptor{Action: "SQL", Text: "danger"}); got == nil || got.Name != "scoped" {
		t.Errorf("Classify(sql) = %+v, want scoped", got)
	}
}

func TestObserve_EscalationScenario(t *testing.T) {
	a := newTestAccumulator(t)
	ctx := context.Background()
	hazard := ActionDescriptor{Action: "bash", Text: "rm -rf ./out"}

	want := []struct {
		risk     int
		escalate bool
	}{
		{20, false},
		{40, false},
		{60, true},
		{80, false},
	}
	for i, w := range want {
		res, p, err := a.Observe(ctx, "s1", hazard)
		if err != nil {
			t.Fatal(err)
		}
		if p == nil {
			t.Fatalf("call %d: action not classified", i+1)
		}
		if res.NewRisk != w.risk || res.Escalate != w.escalate {
			t.Errorf("call %d: risk=%d escalate=%v, want %d %v", i+1, res.NewRisk, res.Escalate, w.risk, w.escalate)
		}
	}

	res, p, err := a.Observe(ctx, "s1", ActionDescriptor{Action: "bash", Text: "ls"})
	if err != nil || res != nil || p != nil {
		t.Errorf("benign Observe() = %v, %v, %v; want nil results", res, p, err)
	}
}

func TestApply_HighWaterMark(t *testing.T) {
	a := newTestAccumulator(t)
	s := session.New("s", time.Now())

	a.Apply(s, 50, "x", 1)
	res := a.Apply(s, -30, "y", 2)
	if res.NewRisk != 50 || res.Applied != 0 {
		t.Errorf("negative amount changed risk: %+v", res)
	}

	res = a.Apply(s, 500, "z", 3)
	if res.NewRisk != MaxScore {
		t.Errorf("risk = %d, want %d", res.NewRisk, MaxScore)
	}
	if !s.Escalated {
		t.Error("session not marked escalated")
	}
}

func TestApply_HugeAmountSaturates(t *testing.T) {
	a := newTestAccumulator(t)
	s := session.New("s", time.Now())

	a.Apply(s, 20, "first", 1)
	a.Apply(s, 20, "second", 2)
	res := a.Apply(s, math.MaxInt, "huge", 3)
	if res.NewRisk != MaxScore {
		t.Errorf("risk = %d, want %d", res.NewRisk, MaxScore)
	}
	if res.Applied != MaxScore-40 {
		t.Errorf("applied = %d, want %d", res.Applied, MaxScore-40)
	}
	if res = a.Apply(s, math.MaxInt, "again", 4); res.NewRisk != MaxScore || res.Applied != 0 {
		t.Errorf("second saturating apply = %+v", res)
	}
}

func TestNewAccumulator_RejectsBadPatterns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Patterns = []HazardPattern{{Name: "broken", Pattern: `(`}}
	if _, err := NewAccumulator(cfg, nil); err == nil {
		t.Error("NewAccumulator() accepted an invalid regex")
	}

	cfg.Patterns = []HazardPattern{{Name: "a", Pattern: `x`}, {Name: "a", Pattern: `y`}}
	if _, err := NewAccumulator(cfg, nil); err == nil {
		t.Error("NewAccumulator() accepted duplicate names")
	}
}

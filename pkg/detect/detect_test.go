package detect

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func intPtr(v int) *int { return &v }

func TestParamDetector(t *testing.T) {
	d := NewParamDetector(nil)
	req := Request{
		Action: "bash",
		Parameters: map[string]any{
			"command": "go test ./...",
			"signals": []any{
				map[string]any{"type": "evidence", "kind": "verify", "target": "pkg/state"},
				map[string]any{"type": "penalty", "kind": "unverified_claim", "reason": "claimed fix without test"},
				map[string]any{"type": "hazard", "delta": 35},
				map[string]any{"type": "bogus", "kind": "x"},
				map[string]any{"type": "approach"},
				"not an object",
			},
		},
	}
	got := d.Detect(context.Background(), req)
	want := []Signal{
		{Type: SignalEvidence, Kind: "verify", Target: "pkg/state"},
		{Type: SignalPenalty, Kind: "unverified_claim", Reason: "claimed fix without test"},
		{Type: SignalHazard, Delta: intPtr(35)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Detect() mismatch (-want +got):\n%s", diff)
	}

	if got := d.Detect(context.Background(), Request{Parameters: map[string]any{"signals": "nope"}}); len(got) != 0 {
		t.Errorf("Detect() with scalar signals = %v, want none", got)
	}
}

func TestSignal_ValidateBoundsDelta(t *testing.T) {
	tests := []struct {
		name    string
		sig     Signal
		wantErr bool
	}{
		{"in range", Signal{Type: SignalHazard, Delta: intPtr(35)}, false},
		{"upper bound", Signal{Type: SignalHazard, Delta: intPtr(MaxSignalDelta)}, false},
		{"lower bound", Signal{Type: SignalEvidence, Kind: "x", Delta: intPtr(-MaxSignalDelta)}, false},
		{"max int hazard", Signal{Type: SignalHazard, Delta: intPtr(math.MaxInt)}, true},
		{"min int evidence", Signal{Type: SignalEvidence, Kind: "x", Delta: intPtr(math.MinInt)}, true},
		{"just over", Signal{Type: SignalReward, Delta: intPtr(MaxSignalDelta + 1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sig.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	d := NewParamDetector(nil)
	got := d.Detect(context.Background(), Request{Parameters: map[string]any{
		"signals": []any{map[string]any{"type": "hazard", "delta": int64(math.MaxInt64)}},
	}})
	if len(got) != 0 {
		t.Errorf("Detect() kept an out-of-range signal: %+v", got)
	}
}

func TestActionTable(t *testing.T) {
	table := DefaultActionTable()

	read := Request{Action: "Read", Parameters: map[string]any{"path": "main.go"}}
	if diff := cmp.Diff([]Signal{{Type: SignalEvidence, Kind: "inspect", Target: "main.go", Reason: "Read"}}, table.Detect(context.Background(), read)); diff != "" {
		t.Errorf("Detect(read) mismatch:\n%s", diff)
	}
	if table.Lookup("read").Mutating {
		t.Error("read is mutating")
	}

	bash := Request{Action: "bash", Parameters: map[string]any{"command": "rm -rf build"}}
	if got := table.Detect(context.Background(), bash); len(got) != 0 {
		t.Errorf("Detect(bash) = %v, want none", got)
	}
	if got := table.TextOf(bash); got != "rm -rf build" {
		t.Errorf("TextOf(bash) = %q", got)
	}
	if spec := table.Lookup("launch_rocket"); !spec.Mutating {
		t.Error("unknown action not treated as mutating")
	}
}

func TestLoadActionTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	content := `
actions:
  cat:
    evidence: inspect
    target: file
  deploy:
    mutating: true
    circuit: deploy
    text: [command, env]
default:
  mutating: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := LoadActionTable(path)
	if err != nil {
		t.Fatalf("LoadActionTable() error = %v", err)
	}
	if diff := cmp.Diff([]string{"cat", "deploy"}, table.Names()); diff != "" {
		t.Errorf("Names() mismatch:\n%s", diff)
	}
	deploy := Request{Action: "deploy", Parameters: map[string]any{"command": "kubectl apply", "env": "prod"}}
	if got := table.TextOf(deploy); got != "kubectl apply prod" {
		t.Errorf("TextOf() = %q", got)
	}
	if table.Lookup("unknown").Mutating {
		t.Error("default spec ignored")
	}
}

func TestChain(t *testing.T) {
	flag := DetectorFunc(func(context.Context, Request) []Signal {
		return []Signal{{Type: SignalFlag, Kind: "edited_tests"}}
	})
	chain := Chain{DefaultActionTable(), flag}
	got := chain.Detect(context.Background(), Request{Action: "verify", Parameters: map[string]any{"path": "x"}})
	if len(got) != 2 || got[0].Kind != "verify" || got[1].Kind != "edited_tests" {
		t.Errorf("Chain.Detect() = %+v", got)
	}
}

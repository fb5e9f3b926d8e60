package source

import (
	"context"
	"errors"
	"testing"

	"mercator-hq/gatekeeper/pkg/policy/engine"
)

type failingSource struct{ err error }

func (f failingSource) LoadRules(context.Context) ([]engine.Rule, error) { return nil, f.err }

func TestLayered(t *testing.T) {
	base := NewMemorySource(
		engine.Rule{ID: "no-force-push", Category: engine.CategorySafety, Level: engine.LevelBlock},
		engine.Rule{ID: "verify-first", Category: engine.CategoryQuality, Level: engine.LevelWarn},
	)

	t.Run("later layer replaces in place", func(t *testing.T) {
		local := NewMemorySource(
			engine.Rule{ID: "verify-first", Category: engine.CategoryQuality, Level: engine.LevelBlock},
			engine.Rule{ID: "sunk-cost", Category: engine.CategoryWorkflow, Level: engine.LevelWarn},
		)
		rules, err := Layered{base, local}.LoadRules(context.Background())
		if err != nil {
			t.Fatalf("LoadRules() error = %v", err)
		}
		if len(rules) != 3 {
			t.Fatalf("got %d rules, want 3", len(rules))
		}
		if rules[1].ID != "verify-first" || rules[1].Level != engine.LevelBlock {
			t.Errorf("rules[1] = %+v, want replaced verify-first", rules[1])
		}
		if rules[2].ID != "sunk-cost" {
			t.Errorf("rules[2].ID = %q, want sunk-cost", rules[2].ID)
		}
	})

	t.Run("safety rule cannot be replaced", func(t *testing.T) {
		local := NewMemorySource(engine.Rule{ID: "no-force-push", Category: engine.CategoryWorkflow, Level: engine.LevelWarn})
		if _, err := (Layered{base, local}).LoadRules(context.Background()); err == nil {
			t.Error("replacing a safety rule succeeded")
		}
	})

	t.Run("layer failure", func(t *testing.T) {
		boom := errors.New("unreadable")
		if _, err := (Layered{base, failingSource{boom}}).LoadRules(context.Background()); !errors.Is(err, boom) {
			t.Errorf("error = %v, want %v", err, boom)
		}
	})
}

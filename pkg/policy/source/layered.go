package source

import (
	"context"
	"fmt"

	"mercator-hq/gatekeeper/pkg/policy/engine"
)

// Layered combines sources in order. A rule in a later layer replaces an
// earlier rule with the same id, keeping the earlier position; immutable
// rules and Safety rules cannot be replaced.
type Layered []Source

// LoadRules loads every layer. Any layer failing fails the whole load.
func (l Layered) LoadRules(ctx context.Context) ([]engine.Rule, error) {
	var rules []engine.Rule
	index := make(map[string]int)
	for _, src := range l {
		layer, err := src.LoadRules(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range layer {
			i, ok := index[r.ID]
			if !ok {
				index[r.ID] = len(rules)
				rules = append(rules, r)
				continue
			}
			prev := rules[i]
			if prev.Immutable || prev.Category == engine.CategorySafety {
				return nil, fmt.Errorf("rule %q: cannot replace an immutable rule", r.ID)
			}
			rules[i] = r
		}
	}
	return rules, nil
}

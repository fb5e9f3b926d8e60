package engine

import "sort"

// sortViolations orders violations by category priority, then strongest
// effective level, then rule id.
func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Category.Rank() != b.Category.Rank() {
			return a.Category.Rank() < b.Category.Rank()
		}
		if a.Effective != b.Effective {
			return a.Effective > b.Effective
		}
		return a.RuleID < b.RuleID
	})
}

// sortRules orders rules by category priority, then declared level, then id,
// so evaluation visits them in a stable order.
func sortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Category.Rank() != b.Category.Rank() {
			return a.Category.Rank() < b.Category.Rank()
		}
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		return a.ID < b.ID
	})
}

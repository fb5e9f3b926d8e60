package engine

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Engine evaluates a rule set against snapshots. It is safe for concurrent
// use; LoadRules swaps the rule set atomically.
type Engine struct {
	config   *EngineConfig
	registry *Registry
	logger   *slog.Logger

	mu    sync.RWMutex
	rules []*Rule
}

// NewEngine creates an engine. A nil config or registry uses the defaults.
func NewEngine(config *EngineConfig, registry *Registry, logger *slog.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultEngineConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:   config,
		registry: registry,
		logger:   logger.With("component", "policy.engine"),
	}, nil
}

// Registry returns the predicate registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Config returns the engine configuration.
func (e *Engine) Config() *EngineConfig {
	return e.config
}

// ValidateRules normalizes and validates rules without loading them.
// Every problem found is reported.
func (e *Engine) ValidateRules(rules []Rule) error {
	_, err := e.prepare(rules)
	return err
}

func (e *Engine) prepare(rules []Rule) ([]*Rule, error) {
	if len(rules) > e.config.MaxRules {
		return nil, fmt.Errorf("%w: %d rules exceed the limit of %d", ErrTooManyRules, len(rules), e.config.MaxRules)
	}
	var errs []error
	seen := make(map[string]bool, len(rules))
	prepared := make([]*Rule, 0, len(rules))
	for i := range rules {
		r := rules[i]
		r.Normalize()
		if err := r.Validate(e.registry); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[r.ID] {
			errs = append(errs, &RuleError{RuleID: r.ID, Cause: ErrDuplicateRule})
			continue
		}
		seen[r.ID] = true
		prepared = append(prepared, &r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sortRules(prepared)
	return prepared, nil
}

// LoadRules replaces the rule set. Nothing changes if any rule is invalid.
func (e *Engine) LoadRules(rules []Rule) error {
	prepared, err := e.prepare(rules)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = prepared
	e.mu.Unlock()

	e.logger.Info("rules loaded", "count", len(prepared))
	return nil
}

// Rules returns a copy of the loaded rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = *r
	}
	return out
}

// Patterns returns the tuning patterns of the loaded rules, split into
// tuned and protected (immutable) patterns.
func (e *Engine) Patterns() (tuned, protected []string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, p := map[string]bool{}, map[string]bool{}
	for _, r := range e.rules {
		switch {
		case r.Category == CategorySafety:
			p[r.PatternName()] = true
		case r.Tuned:
			t[r.PatternName()] = true
		}
	}
	return sortedKeys(t), sortedKeys(p)
}

// Evaluate matches every enabled rule against s and returns the violations
// in priority order. It has no side effects on s or on engine state, so two
// calls with equal snapshots return equal results.
func (e *Engine) Evaluate(s *Snapshot) []Violation {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	var out []Violation
	for _, r := range rules {
		v, ok, err := e.evaluateRule(r, s)
		if err != nil {
			e.logger.Error("rule evaluation failed, treating as no match",
				"error", err,
			)
			continue
		}
		if ok {
			out = append(out, v)
		}
	}
	sortViolations(out)
	return out
}

func (e *Engine) evaluateRule(r *Rule, s *Snapshot) (v Violation, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &EvaluationError{RuleID: r.ID, Cause: fmt.Errorf("panic: %v", p)}
			ok = false
		}
	}()

	if r.Disabled || (r.MutatingOnly && !s.Mutating) {
		return Violation{}, false, nil
	}

	matched := map[string]bool{}
	if !r.Trigger.Eval(s, e.registry, matched) {
		return Violation{}, false, nil
	}

	v = Violation{
		RuleID:    r.ID,
		Category:  r.Category,
		Level:     r.Level,
		Effective: r.Level,
		Pattern:   r.PatternName(),
		Immutable: r.Immutable,
		Features:  sortedKeys(matched),
		Message:   r.Message,
		Time:      s.Time,
	}
	if r.Tuned && r.Category != CategorySafety {
		v.Tuned = true
		v.Phase = s.PhaseOf(v.Pattern)
		if limit := PhaseCap(v.Phase); v.Effective > limit {
			v.Effective = limit
		}
	}
	return v, true, nil
}

// ValidOverride reports whether token is an accepted override token.
func (e *Engine) ValidOverride(token string) bool {
	if token == "" {
		return false
	}
	if len(e.config.OverrideTokens) == 0 {
		return true
	}
	for _, accepted := range e.config.OverrideTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(accepted)) == 1 {
			return true
		}
	}
	return false
}

// Resolve turns ordered violations into a decision. The override token is
// checked once here: it downgrades Block violations of non-immutable rules,
// Quality rules to Warn and all others to Observe. Immutable violations
// refuse the override. The strongest remaining level decides and the reason
// comes from the first violation at that level in priority order.
func (e *Engine) Resolve(violations []Violation, overrideToken string) Resolution {
	res := Resolution{
		Violations:   make([]Violation, len(violations)),
		OverrideUsed: e.ValidOverride(overrideToken),
	}
	if overrideToken != "" && !res.OverrideUsed {
		e.logger.Warn("override token rejected")
	}

	strongest := LevelObserve
	for i, v := range violations {
		if v.Effective == LevelBlock && res.OverrideUsed {
			if v.Immutable {
				res.Refused = append(res.Refused, v)
			} else {
				v.Overridden = true
				if v.Category == CategoryQuality {
					v.Effective = LevelWarn
				} else {
					v.Effective = LevelObserve
				}
				res.Bypassed = append(res.Bypassed, v)
			}
		}
		if v.Effective == LevelSuggest && v.Message != "" {
			res.Suggestions = append(res.Suggestions, v.Message)
		}
		if v.Effective > strongest {
			strongest = v.Effective
		}
		res.Violations[i] = v
	}

	switch strongest {
	case LevelBlock:
		res.Decision = DecisionDeny
	case LevelWarn:
		res.Decision = DecisionWarn
	default:
		res.Decision = DecisionAllow
	}

	if strongest > LevelObserve {
		for i := range res.Violations {
			if res.Violations[i].Effective == strongest {
				d := res.Violations[i]
				res.Deciding = &d
				res.Reason = d.Describe()
				break
			}
		}
	} else if len(res.Bypassed) > 0 {
		ids := make([]string, len(res.Bypassed))
		for i, v := range res.Bypassed {
			ids[i] = v.RuleID
		}
		res.Reason = fmt.Sprintf("override accepted for %s; debt recorded", strings.Join(ids, ", "))
	}

	for _, v := range res.Refused {
		e.logger.Warn("override refused by immutable rule",
			"rule_id", v.RuleID,
			"category", v.Category,
		)
	}
	return res
}

// FailureDecision returns the decision to emit for an action of category cat
// when evaluation could not complete.
func (e *Engine) FailureDecision(cat Category) Decision {
	if e.config.ModeFor(cat) == FailClosed {
		return DecisionDeny
	}
	return DecisionAllow
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

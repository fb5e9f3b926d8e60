package engine

import (
	"fmt"
	"strings"
	"time"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// Category groups rules by what they protect. Lower rank is higher priority.
type Category string

const (
	CategorySafety      Category = "safety"
	CategoryQuality     Category = "quality"
	CategoryEpistemic   Category = "epistemic"
	CategoryWorkflow    Category = "workflow"
	CategoryPerformance Category = "performance"
)

var categoryRank = map[Category]int{
	CategorySafety:      0,
	CategoryQuality:     1,
	CategoryEpistemic:   2,
	CategoryWorkflow:    3,
	CategoryPerformance: 4,
}

// Categories lists all categories in priority order.
func Categories() []Category {
	return []Category{CategorySafety, CategoryQuality, CategoryEpistemic, CategoryWorkflow, CategoryPerformance}
}

// Rank returns the priority rank of c; unknown categories rank last.
func (c Category) Rank() int {
	if r, ok := categoryRank[c]; ok {
		return r
	}
	return len(categoryRank)
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryRank[c]
	return ok
}

// ParseCategory parses a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category: %q", s)
	}
	return c, nil
}

// Level is the enforcement level of a rule.
type Level int

const (
	LevelObserve Level = iota
	LevelSuggest
	LevelWarn
	LevelBlock
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelObserve:
		return "observe"
	case LevelSuggest:
		return "suggest"
	case LevelWarn:
		return "warn"
	case LevelBlock:
		return "block"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l >= LevelObserve && l <= LevelBlock
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "observe":
		return LevelObserve, nil
	case "suggest":
		return LevelSuggest, nil
	case "warn":
		return LevelWarn, nil
	case "block":
		return LevelBlock, nil
	default:
		return LevelObserve, fmt.Errorf("unknown level: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// PhaseCap returns the strongest level a tuned rule may reach in phase.
func PhaseCap(phase tuning.Phase) Level {
	switch phase {
	case tuning.PhaseEnforce:
		return LevelBlock
	case tuning.PhaseWarn:
		return LevelWarn
	default:
		return LevelObserve
	}
}

// Decision is the outcome of resolving violations.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionDeny  Decision = "deny"
)

// Rule is a declarative policy rule.
type Rule struct {
	ID          string   `yaml:"id" json:"id"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Category    Category `yaml:"category" json:"category"`
	Level       Level    `yaml:"level" json:"level"`
	Trigger     Trigger  `yaml:"trigger" json:"trigger"`

	// Message is surfaced as the decision reason when the rule decides.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	// Immutable rules ignore override tokens. Always true for Safety.
	Immutable bool `yaml:"immutable,omitempty" json:"immutable,omitempty"`

	// Tuned rules are capped by the phase of their pattern.
	Tuned bool `yaml:"tuned,omitempty" json:"tuned,omitempty"`

	// Pattern names the auto-tuning pattern; defaults to the rule id.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// MutatingOnly restricts the rule to state-mutating actions.
	MutatingOnly bool `yaml:"mutating_only,omitempty" json:"mutating_only,omitempty"`

	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Normalize fills defaults and enforces the Safety invariants: Safety rules
// are always immutable and never tuned.
func (r *Rule) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Category = Category(strings.ToLower(strings.TrimSpace(string(r.Category))))
	if r.Category == CategorySafety {
		r.Immutable = true
		r.Tuned = false
	}
	if r.Pattern == "" {
		r.Pattern = r.ID
	}
}

// PatternName returns the auto-tuning pattern of the rule.
func (r *Rule) PatternName() string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.ID
}

// Validate checks the rule against reg.
func (r *Rule) Validate(reg *Registry) error {
	if r.ID == "" {
		return &RuleError{Cause: fmt.Errorf("%w: id is required", ErrInvalidRule)}
	}
	if !r.Category.Valid() {
		return &RuleError{RuleID: r.ID, Cause: fmt.Errorf("%w: unknown category %q", ErrInvalidRule, r.Category)}
	}
	if !r.Level.Valid() {
		return &RuleError{RuleID: r.ID, Cause: fmt.Errorf("%w: unknown level %d", ErrInvalidRule, r.Level)}
	}
	if err := r.Trigger.Validate(reg); err != nil {
		return &RuleError{RuleID: r.ID, Cause: err}
	}
	return nil
}

// Violation is a rule that matched a snapshot.
type Violation struct {
	RuleID   string   `json:"rule_id"`
	Category Category `json:"category"`

	// Level is the rule's declared level.
	Level Level `json:"level"`

	// Effective is the level after the tuning cap and any override.
	Effective Level `json:"effective"`

	Pattern   string       `json:"pattern"`
	Tuned     bool         `json:"tuned,omitempty"`
	Phase     tuning.Phase `json:"phase,omitempty"`
	Immutable bool         `json:"immutable,omitempty"`

	// Overridden is set when an override token downgraded the violation.
	Overridden bool `json:"overridden,omitempty"`

	// Features lists the predicates that held when the rule matched.
	Features []string `json:"features"`

	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Describe renders the violation for a decision reason.
func (v Violation) Describe() string {
	if v.Message != "" {
		return fmt.Sprintf("[%s] %s", v.RuleID, v.Message)
	}
	return fmt.Sprintf("[%s] %s rule matched (%s)", v.RuleID, v.Category, strings.Join(v.Features, ", "))
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`

	// Deciding is the violation the reason was taken from, if any.
	Deciding *Violation `json:"deciding,omitempty"`

	// Violations are the input violations with overrides applied.
	Violations []Violation `json:"violations"`

	// Bypassed are violations an override token downgraded; each one owes
	// a debt record.
	Bypassed []Violation `json:"bypassed,omitempty"`

	// Refused are immutable violations an override token could not bypass.
	Refused []Violation `json:"refused,omitempty"`

	// OverrideUsed reports whether a valid override token was presented.
	OverrideUsed bool `json:"override_used,omitempty"`

	// Suggestions collects the messages of Suggest-level violations.
	Suggestions []string `json:"suggestions,omitempty"`
}

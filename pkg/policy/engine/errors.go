package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates an invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrInvalidRule indicates a rule that failed validation.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrDuplicateRule indicates two rules share an id.
	ErrDuplicateRule = errors.New("duplicate rule id")

	// ErrUnknownPredicate indicates a trigger references an unregistered
	// predicate.
	ErrUnknownPredicate = errors.New("unknown predicate")

	// ErrTooManyRules indicates the rule set exceeds the configured maximum.
	ErrTooManyRules = errors.New("too many rules")
)

// RuleError describes a problem with one rule.
type RuleError struct {
	RuleID string
	Source string // File the rule was loaded from, if known
	Cause  error
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("rule %q (%s): %v", e.RuleID, e.Source, e.Cause)
	}
	return fmt.Sprintf("rule %q: %v", e.RuleID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *RuleError) Unwrap() error {
	return e.Cause
}

// EvaluationError describes a rule whose evaluation failed at runtime.
// The rule is treated as not matching.
type EvaluationError struct {
	RuleID string
	Cause  error
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of rule %q failed: %v", e.RuleID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

package debt

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyRuleID is returned when incurring debt without a rule id.
	ErrEmptyRuleID = errors.New("rule id is required")

	// ErrNotFound is returned by Pay when no unpaid record matches.
	ErrNotFound = errors.New("no unpaid debt matches")
)

// PatternError reports an invalid allow-list glob.
type PatternError struct {
	Pattern string
	Cause   error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid corrective path %q: %v", e.Pattern, e.Cause)
}

func (e *PatternError) Unwrap() error {
	return e.Cause
}

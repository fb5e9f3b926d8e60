package source

import (
	"errors"
	"fmt"
)

// ErrNoRules is returned when a path holds no rule files.
var ErrNoRules = errors.New("no rule files found")

// LoadError describes a rule file that could not be read or decoded.
type LoadError struct {
	// FilePath is the file that failed.
	FilePath string

	// Line is the 1-indexed line of a decode error, 0 if unknown.
	Line int

	Message string
	Cause   error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	loc := e.FilePath
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.FilePath, e.Line)
	}
	if e.Cause != nil {
		return fmt.Sprintf("load rules %q: %s: %v", loc, e.Message, e.Cause)
	}
	return fmt.Sprintf("load rules %q: %s", loc, e.Message)
}

// Unwrap implements the errors.Unwrap interface for error chain support.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

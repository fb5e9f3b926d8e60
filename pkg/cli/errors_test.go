package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "state.dir",
		Message: "missing required field",
	}

	expected := "config error in state.dir: missing required field"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if got := NewConfigError("", "bad file").Error(); got != "config error: bad file" {
		t.Errorf("Error() without field = %q", got)
	}
}

func TestCommandError(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := NewCommandError("sweep", underlyingErr)

	expected := "command sweep failed: underlying error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is() should work with CommandError.Unwrap()")
	}
}

func TestExitCode(t *testing.T) {
	engineErr := errors.New("lock timeout")
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantPrint bool
	}{
		{"nil", nil, ExitOK, false},
		{"plain error", errors.New("boom"), ExitEngineFailure, true},
		{"usage", &ExitError{Code: ExitUsage, Err: errors.New("bad flag")}, ExitUsage, true},
		{"silent engine failure", &ExitError{Code: ExitEngineFailure, Err: engineErr, Silent: true}, ExitEngineFailure, false},
		{"wrapped", fmt.Errorf("decide: %w", &ExitError{Code: ExitUsage}), ExitUsage, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.wantCode {
				t.Errorf("ExitCode() = %d, want %d", got, tt.wantCode)
			}
			if got := ShouldPrint(tt.err); got != tt.wantPrint {
				t.Errorf("ShouldPrint() = %v, want %v", got, tt.wantPrint)
			}
		})
	}

	silent := &ExitError{Code: ExitEngineFailure, Err: engineErr, Silent: true}
	if !errors.Is(silent, engineErr) {
		t.Error("ExitError should unwrap to its cause")
	}
	if (&ExitError{Code: 3}).Error() != "exit status 3" {
		t.Errorf("Error() without cause = %q", (&ExitError{Code: 3}).Error())
	}
}

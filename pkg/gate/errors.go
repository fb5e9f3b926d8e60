package gate

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks malformed requests.
var ErrInvalidRequest = errors.New("invalid request")

// EngineError reports a failure that kept the gate from evaluating the
// request normally. The accompanying response carries the fail-safe
// decision.
type EngineError struct {
	// Stage is the pipeline step that failed.
	Stage string
	Cause error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine failure during %s: %v", e.Stage, e.Cause)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

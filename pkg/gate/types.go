package gate

import (
	"fmt"
	"strings"

	"mercator-hq/gatekeeper/pkg/policy/engine"
)

// Request is one action the agent wants to take.
type Request struct {
	Action        string         `json:"action"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	SessionID     string         `json:"sessionId"`
	Turn          int            `json:"turn"`
	OverrideToken string         `json:"overrideToken,omitempty"`
}

// Validate checks the request shape.
func (r *Request) Validate() error {
	var problems []string
	if strings.TrimSpace(r.Action) == "" {
		problems = append(problems, "action is required")
	}
	if strings.TrimSpace(r.SessionID) == "" {
		problems = append(problems, "sessionId is required")
	}
	if r.Turn < 0 {
		problems = append(problems, fmt.Sprintf("turn must not be negative, got %d", r.Turn))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// Response is the decision for a Request.
type Response struct {
	Decision engine.Decision `json:"decision"`
	Reason   string          `json:"reason,omitempty"`

	// ScoreDelta is the net trust change this request caused.
	ScoreDelta *int `json:"scoreDelta,omitempty"`

	// Context carries advisory text: suggestions, tuning warnings,
	// escalation and debt notices.
	Context string `json:"context,omitempty"`
}

// OutcomeReport tells the gate how an allowed action went.
type OutcomeReport struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	SessionID  string         `json:"sessionId"`
	Turn       int            `json:"turn"`
	Success    bool           `json:"success"`

	// Error describes the failure; its first line becomes the error
	// signature tracked until the action succeeds again.
	Error string `json:"error,omitempty"`

	// Circuit overrides the circuit named by the action table.
	Circuit string `json:"circuit,omitempty"`
}

// OutcomeResult summarizes the effect of an OutcomeReport.
type OutcomeResult struct {
	Circuit          string `json:"circuit,omitempty"`
	CircuitState     string `json:"circuitState,omitempty"`
	CircuitChange    string `json:"circuitChange,omitempty"`
	Trust            int    `json:"trust"`
	ScoreDelta       int    `json:"scoreDelta"`
	UnresolvedErrors int    `json:"unresolvedErrors"`
}

// Param names read from request parameters.
const (
	ParamMutating     = "mutating"
	ParamContextRatio = "context_ratio"
)

func boolParam(params map[string]any, name string) (bool, bool) {
	v, ok := params[name].(bool)
	return v, ok
}

func floatParam(params map[string]any, name string) float64 {
	switch v := params[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

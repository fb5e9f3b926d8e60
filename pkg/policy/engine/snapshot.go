package engine

import (
	"time"

	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/trust"
	"mercator-hq/gatekeeper/pkg/tuning"
)

// Snapshot captures every feature a rule may look at. It is built once per
// decision and never mutated by evaluation; thresholds travel with it so
// predicates need no other input.
type Snapshot struct {
	Action    string    `json:"action"`
	Mutating  bool      `json:"mutating"`
	Target    string    `json:"target,omitempty"`
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn"`
	Time      time.Time `json:"time"`

	Trust        int        `json:"trust"`
	Tier         trust.Tier `json:"tier"`
	StaleContext bool       `json:"stale_context,omitempty"`

	Risk          int    `json:"risk"`
	RiskThreshold int    `json:"risk_threshold"`
	Escalated     bool   `json:"escalated,omitempty"`
	Hazard        string `json:"hazard,omitempty"`
	HazardClass   string `json:"hazard_class,omitempty"`

	// Circuit names the circuit guarding this action, if any.
	Circuit  string                   `json:"circuit,omitempty"`
	Circuits map[string]circuit.State `json:"circuits,omitempty"`

	UnpaidDebt int `json:"unpaid_debt,omitempty"`
	// DebtCorrective reports that the action is on the debt allow-list.
	DebtCorrective bool `json:"debt_corrective,omitempty"`

	SunkCostAttempts  int `json:"sunk_cost_attempts,omitempty"`
	SunkCostThreshold int `json:"sunk_cost_threshold,omitempty"`

	UnresolvedErrors int `json:"unresolved_errors,omitempty"`

	// TurnsSinceVerify is -1 when the session never verified anything.
	TurnsSinceVerify int `json:"turns_since_verify"`
	VerifyGap        int `json:"verify_gap,omitempty"`

	// RepeatedEvidence is set when this action repeated evidence the
	// session already holds for the same target.
	RepeatedEvidence bool `json:"repeated_evidence,omitempty"`

	// Signals are boolean features reported by detectors.
	Signals map[string]bool `json:"signals,omitempty"`

	// Phases carries the tuned phase of each pattern.
	Phases map[string]tuning.Phase `json:"phases,omitempty"`
}

// CircuitState returns the state of the named circuit, closed if unknown.
func (s *Snapshot) CircuitState(name string) circuit.State {
	if st, ok := s.Circuits[name]; ok {
		return st
	}
	return circuit.StateClosed
}

// PhaseOf returns the phase of pattern, Observe if unknown.
func (s *Snapshot) PhaseOf(pattern string) tuning.Phase {
	if p, ok := s.Phases[pattern]; ok && p.Valid() {
		return p
	}
	return tuning.PhaseObserve
}

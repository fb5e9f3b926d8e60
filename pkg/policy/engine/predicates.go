package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/trust"
)

// FeaturePredicate is a named boolean feature of a snapshot. Implementations
// must be pure.
type FeaturePredicate func(s *Snapshot) bool

// SignalPrefix marks predicate ids that read a detector signal by name,
// e.g. "signal:edited_tests".
const SignalPrefix = "signal:"

// Built-in predicate ids.
const (
	PredMutatingAction      = "mutating_action"
	PredHazardousAction     = "hazardous_action"
	PredTrustIgnorance      = "trust_ignorance"
	PredTrustBelowCertainty = "trust_below_certainty"
	PredRiskEscalated       = "risk_escalated"
	PredRiskHigh            = "risk_high"
	PredStaleContext        = "stale_context"
	PredCircuitOpen         = "circuit_open"
	PredCircuitHalfOpen     = "circuit_half_open"
	PredAnyCircuitOpen      = "any_circuit_open"
	PredSunkCost            = "sunk_cost"
	PredUnresolvedErrors    = "unresolved_errors"
	PredVerificationStale   = "verification_stale"
	PredDebtUnpaid          = "debt_unpaid"
	PredDebtCorrective      = "debt_corrective_action"
	PredRepeatedEvidence    = "repeated_evidence"
)

// Registry maps predicate ids to predicates.
type Registry struct {
	mu    sync.RWMutex
	preds map[string]FeaturePredicate
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{preds: make(map[string]FeaturePredicate)}
}

// DefaultRegistry returns a registry holding the built-in predicates.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for id, p := range builtins() {
		r.preds[id] = p
	}
	return r
}

// Register adds a predicate. Ids must be unique and must not use the
// signal prefix.
func (r *Registry) Register(id string, p FeaturePredicate) error {
	if id == "" || p == nil {
		return fmt.Errorf("predicate id and function are required")
	}
	if strings.HasPrefix(id, SignalPrefix) {
		return fmt.Errorf("predicate id %q uses reserved prefix %q", id, SignalPrefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.preds[id]; exists {
		return fmt.Errorf("predicate %q already registered", id)
	}
	r.preds[id] = p
	return nil
}

// Lookup returns the predicate with the given id. Signal ids always resolve.
func (r *Registry) Lookup(id string) (FeaturePredicate, bool) {
	if name, ok := strings.CutPrefix(id, SignalPrefix); ok && name != "" {
		return func(s *Snapshot) bool { return s.Signals[name] }, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.preds[id]
	return p, ok
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.preds))
	for id := range r.preds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func builtins() map[string]FeaturePredicate {
	return map[string]FeaturePredicate{
		PredMutatingAction:  func(s *Snapshot) bool { return s.Mutating },
		PredHazardousAction: func(s *Snapshot) bool { return s.Hazard != "" },
		PredTrustIgnorance:  func(s *Snapshot) bool { return s.Tier == trust.TierIgnorance },
		PredTrustBelowCertainty: func(s *Snapshot) bool {
			return s.Tier < trust.TierCertainty
		},
		PredRiskEscalated: func(s *Snapshot) bool { return s.Escalated },
		PredRiskHigh: func(s *Snapshot) bool {
			return s.RiskThreshold > 0 && s.Risk >= s.RiskThreshold
		},
		PredStaleContext: func(s *Snapshot) bool { return s.StaleContext },
		PredCircuitOpen: func(s *Snapshot) bool {
			return s.Circuit != "" && s.CircuitState(s.Circuit) == circuit.StateOpen
		},
		PredCircuitHalfOpen: func(s *Snapshot) bool {
			return s.Circuit != "" && s.CircuitState(s.Circuit) == circuit.StateHalfOpen
		},
		PredAnyCircuitOpen: func(s *Snapshot) bool {
			for _, st := range s.Circuits {
				if st == circuit.StateOpen {
					return true
				}
			}
			return false
		},
		PredSunkCost: func(s *Snapshot) bool {
			return s.SunkCostThreshold > 0 && s.SunkCostAttempts >= s.SunkCostThreshold
		},
		PredUnresolvedErrors: func(s *Snapshot) bool { return s.UnresolvedErrors > 0 },
		PredVerificationStale: func(s *Snapshot) bool {
			if s.VerifyGap <= 0 {
				return false
			}
			return s.TurnsSinceVerify < 0 || s.TurnsSinceVerify > s.VerifyGap
		},
		PredDebtUnpaid:     func(s *Snapshot) bool { return s.UnpaidDebt > 0 },
		PredDebtCorrective: func(s *Snapshot) bool { return s.DebtCorrective },
		PredRepeatedEvidence: func(s *Snapshot) bool { return s.RepeatedEvidence },
	}
}

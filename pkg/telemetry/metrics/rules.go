package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// RuleMetrics tracks rule firings, overrides, tuning and circuits.
//
// Metrics:
//   - gatekeeper_rule_violations_total: violations by rule, category, level
//   - gatekeeper_overrides_total: override attempts by rule and outcome
//   - gatekeeper_phase_transitions_total: auto-tuning transitions
//   - gatekeeper_circuit_state: 0 closed, 1 half-open, 2 open
//   - gatekeeper_outstanding_debt: unpaid override debts
type RuleMetrics struct {
	violationsTotal  *prometheus.CounterVec
	overridesTotal   *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
	outstandingDebt  prometheus.Gauge
}

// NewRuleMetrics creates and registers rule metrics.
func NewRuleMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *RuleMetrics {
	rm := &RuleMetrics{
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "rule_violations_total",
				Help:      "Total number of rule violations",
			},
			[]string{"rule_id", "category", "level"},
		),
		overridesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "overrides_total",
				Help:      "Total number of override attempts",
			},
			[]string{"rule_id", "outcome"},
		),
		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "phase_transitions_total",
				Help:      "Total number of auto-tuning phase transitions",
			},
			[]string{"pattern", "phase"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "circuit_state",
				Help:      "Circuit state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"circuit"},
		),
		outstandingDebt: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "outstanding_debt",
				Help:      "Number of unpaid override debts",
			},
		),
	}

	registry.MustRegister(
		rm.violationsTotal,
		rm.overridesTotal,
		rm.phaseTransitions,
		rm.circuitState,
		rm.outstandingDebt,
	)

	return rm
}

// RecordViolation records a violation.
func (rm *RuleMetrics) RecordViolation(ruleID, category, level string) {
	rm.violationsTotal.WithLabelValues(ruleID, category, level).Inc()
}

// RecordOverride records an override attempt.
func (rm *RuleMetrics) RecordOverride(ruleID string, refused bool) {
	outcome := "accepted"
	if refused {
		outcome = "refused"
	}
	rm.overridesTotal.WithLabelValues(ruleID, outcome).Inc()
}

// RecordPhaseTransition records a phase change.
func (rm *RuleMetrics) RecordPhaseTransition(pattern, to string) {
	rm.phaseTransitions.WithLabelValues(pattern, to).Inc()
}

// SetCircuitState sets the state gauge of a circuit.
func (rm *RuleMetrics) SetCircuitState(name string, state int) {
	rm.circuitState.WithLabelValues(name).Set(float64(state))
}

// SetOutstandingDebt sets the debt gauge.
func (rm *RuleMetrics) SetOutstandingDebt(n int) {
	rm.outstandingDebt.Set(float64(n))
}

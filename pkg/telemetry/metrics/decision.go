package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// DecisionMetrics tracks decisions made at the gate.
//
// Metrics:
//   - gatekeeper_decisions_total: decisions by action, category and outcome
//   - gatekeeper_decision_duration_seconds: time spent deciding
//   - gatekeeper_engine_failures_total: engine failures by stage
//   - gatekeeper_escalations_total: risk escalations
//   - gatekeeper_trust_score, gatekeeper_risk_score: score distributions
type DecisionMetrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	engineFailures   *prometheus.CounterVec
	escalations      prometheus.Counter
	trustScore       prometheus.Histogram
	riskScore        prometheus.Histogram
}

// scoreBuckets cover the 0-100 score range on the tier breakpoints.
var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewDecisionMetrics creates and registers decision metrics.
func NewDecisionMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *DecisionMetrics {
	dm := &DecisionMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "decisions_total",
				Help:      "Total number of gate decisions",
			},
			[]string{"action", "category", "decision"},
		),
		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "decision_duration_seconds",
				Help:      "Time spent producing a decision in seconds",
				Buckets:   cfg.DecisionDurationBuckets,
			},
			[]string{"category"},
		),
		engineFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "engine_failures_total",
				Help:      "Total number of engine failures by stage",
			},
			[]string{"stage"},
		),
		escalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "escalations_total",
				Help:      "Total number of risk escalations",
			},
		),
		trustScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "trust_score",
				Help:      "Session trust observed at decision time",
				Buckets:   scoreBuckets,
			},
		),
		riskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "risk_score",
				Help:      "Session risk observed at decision time",
				Buckets:   scoreBuckets,
			},
		),
	}

	registry.MustRegister(
		dm.decisionsTotal,
		dm.decisionDuration,
		dm.engineFailures,
		dm.escalations,
		dm.trustScore,
		dm.riskScore,
	)

	return dm
}

// RecordDecision records one decision.
func (dm *DecisionMetrics) RecordDecision(action, category, decision string, duration time.Duration) {
	dm.decisionsTotal.WithLabelValues(action, category, decision).Inc()
	dm.decisionDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordEngineFailure records an engine failure.
func (dm *DecisionMetrics) RecordEngineFailure(stage string) {
	dm.engineFailures.WithLabelValues(stage).Inc()
}

// RecordEscalation records an escalation.
func (dm *DecisionMetrics) RecordEscalation() {
	dm.escalations.Inc()
}

// ObserveScores records trust and risk.
func (dm *DecisionMetrics) ObserveScores(trust, risk int) {
	dm.trustScore.Observe(float64(trust))
	dm.riskScore.Observe(float64(risk))
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/gate"
)

var _ gate.Recorder = (*Collector)(nil)

func testConfig() config.MetricsConfig {
	return config.MetricsConfig{
		Namespace:               "test",
		DecisionDurationBuckets: []float64{0.001, 0.01, 0.1},
		MaxCardinality:          100,
	}
}

func TestCollector_NewCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(testConfig(), registry)

	if collector.Registry() != registry {
		t.Error("collector registry not set correctly")
	}
	if !collector.enabled {
		t.Error("collector should be enabled when Enabled is unset")
	}
	if NewCollector(testConfig(), nil).Registry() == nil {
		t.Error("nil registry should create a private one")
	}
}

func TestCollector_RecordDecision(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	tests := []struct {
		action, category, decision string
	}{
		{"edit", "workflow", "deny"},
		{"edit", "workflow", "deny"},
		{"read", "performance", "allow"},
		{"bash", "safety", "warn"},
	}
	for _, tt := range tests {
		collector.RecordDecision(tt.action, tt.category, tt.decision, 2*time.Millisecond)
	}

	if got := testutil.ToFloat64(collector.decisions.decisionsTotal.WithLabelValues("edit", "workflow", "deny")); got != 2 {
		t.Errorf("edit denials = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.decisions.decisionsTotal.WithLabelValues("bash", "safety", "warn")); got != 1 {
		t.Errorf("bash warnings = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(collector.decisions.decisionDuration); got != 3 {
		t.Errorf("duration series = %d, want 3", got)
	}
}

func TestCollector_RuleMetrics(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordViolation("sunk-cost", "workflow", "warn")
	collector.RecordViolation("sunk-cost", "workflow", "warn")
	collector.RecordOverride("sunk-cost", false)
	collector.RecordOverride("circuit-open", true)
	collector.RecordPhaseTransition("repeated-file-inspection", "warn")
	collector.SetCircuitState("bash", 2)
	collector.SetOutstandingDebt(3)

	checks := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"violations", collector.rules.violationsTotal.WithLabelValues("sunk-cost", "workflow", "warn"), 2},
		{"accepted override", collector.rules.overridesTotal.WithLabelValues("sunk-cost", "accepted"), 1},
		{"refused override", collector.rules.overridesTotal.WithLabelValues("circuit-open", "refused"), 1},
		{"transition", collector.rules.phaseTransitions.WithLabelValues("repeated-file-inspection", "warn"), 1},
		{"circuit", collector.rules.circuitState.WithLabelValues("bash"), 2},
		{"debt", collector.rules.outstandingDebt, 3},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.collector); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestCollector_FailuresAndScores(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordEngineFailure("session")
	collector.RecordEscalation()
	collector.RecordEscalation()
	collector.ObserveScores(45, 60)

	if got := testutil.ToFloat64(collector.decisions.engineFailures.WithLabelValues("session")); got != 1 {
		t.Errorf("engine failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.decisions.escalations); got != 2 {
		t.Errorf("escalations = %v, want 2", got)
	}

	expected := `
# HELP test_risk_score Session risk observed at decision time
# TYPE test_risk_score histogram
test_risk_score_bucket{le="10"} 0
test_risk_score_bucket{le="20"} 0
test_risk_score_bucket{le="30"} 0
test_risk_score_bucket{le="40"} 0
test_risk_score_bucket{le="50"} 0
test_risk_score_bucket{le="60"} 1
test_risk_score_bucket{le="70"} 1
test_risk_score_bucket{le="80"} 1
test_risk_score_bucket{le="90"} 1
test_risk_score_bucket{le="100"} 1
test_risk_score_bucket{le="+Inf"} 1
test_risk_score_sum 60
test_risk_score_count 1
`
	if err := testutil.CollectAndCompare(collector.decisions.riskScore, strings.NewReader(expected)); err != nil {
		t.Errorf("risk score histogram mismatch: %v", err)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	disabled := false
	cfg.Enabled = &disabled
	collector := NewCollector(cfg, nil)

	collector.RecordDecision("edit", "workflow", "deny", time.Millisecond)
	collector.RecordViolation("sunk-cost", "workflow", "warn")
	collector.RecordEscalation()

	if got := testutil.CollectAndCount(collector.decisions.decisionsTotal); got != 0 {
		t.Errorf("disabled collector recorded %d decision series", got)
	}
	if got := testutil.ToFloat64(collector.decisions.escalations); got != 0 {
		t.Errorf("disabled collector recorded %v escalations", got)
	}
}

func TestCollector_CardinalityLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCardinality = 2
	collector := NewCollector(cfg, nil)

	collector.RecordViolation("rule-a", "workflow", "warn")
	collector.RecordViolation("rule-b", "workflow", "warn")
	collector.RecordViolation("rule-c", "workflow", "warn")
	collector.RecordViolation("rule-a", "workflow", "warn")

	if got := testutil.ToFloat64(collector.rules.violationsTotal.WithLabelValues("other", "workflow", "warn")); got != 1 {
		t.Errorf("folded violations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.rules.violationsTotal.WithLabelValues("rule-a", "workflow", "warn")); got != 2 {
		t.Errorf("rule-a violations = %v, want 2", got)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)
	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("limiter rejected values under the limit")
	}
	if cl.Allow("c") {
		t.Error("limiter admitted a value past the limit")
	}
	if !cl.Allow("a") {
		t.Error("limiter rejected a known value")
	}
	if cl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cl.Count())
	}
}

func TestHandler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.RecordDecision("edit", "workflow", "deny", time.Millisecond)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_decisions_total{action="edit",category="workflow",decision="deny"} 1`) {
		t.Errorf("decision counter missing from exposition:\n%s", rec.Body.String())
	}
}

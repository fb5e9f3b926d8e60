package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// otherLabel replaces label values past the cardinality limit.
const otherLabel = "other"

// Collector records gatekeeper's Prometheus metrics. It implements the
// gate's Recorder interface; a disabled collector records nothing.
type Collector struct {
	config   config.MetricsConfig
	enabled  bool
	registry *prometheus.Registry

	decisions *DecisionMetrics
	rules     *RuleMetrics

	// Rule ids and pattern names come from operator rule files, so their
	// label values are bounded.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector registering its metrics with registry.
// A nil registry creates a private one.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.DecisionDurationBuckets) == 0 {
		cfg.DecisionDurationBuckets = config.DefaultDecisionDurationBuckets()
	}
	if cfg.MaxCardinality <= 0 {
		cfg.MaxCardinality = config.DefaultMaxCardinality
	}

	return &Collector{
		config:             cfg,
		enabled:            cfg.IsEnabled(),
		registry:           registry,
		decisions:          NewDecisionMetrics(cfg, registry),
		rules:              NewRuleMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(cfg.MaxCardinality),
	}
}

// RecordDecision records one completed decision.
func (c *Collector) RecordDecision(action, category, decision string, duration time.Duration) {
	if !c.enabled {
		return
	}
	if !c.cardinalityLimiter.Allow("action:" + action) {
		action = otherLabel
	}
	c.decisions.RecordDecision(action, category, decision, duration)
}

// RecordViolation records a rule that fired.
func (c *Collector) RecordViolation(ruleID, category, level string) {
	if !c.enabled {
		return
	}
	c.rules.RecordViolation(c.limit("rule:", ruleID), category, level)
}

// RecordOverride records an override attempt against a rule.
func (c *Collector) RecordOverride(ruleID string, refused bool) {
	if !c.enabled {
		return
	}
	c.rules.RecordOverride(c.limit("rule:", ruleID), refused)
}

// RecordEngineFailure records an engine failure at stage.
func (c *Collector) RecordEngineFailure(stage string) {
	if !c.enabled {
		return
	}
	c.decisions.RecordEngineFailure(stage)
}

// RecordEscalation records a risk escalation.
func (c *Collector) RecordEscalation() {
	if !c.enabled {
		return
	}
	c.decisions.RecordEscalation()
}

// RecordPhaseTransition records an auto-tuning phase change.
func (c *Collector) RecordPhaseTransition(pattern, to string) {
	if !c.enabled {
		return
	}
	c.rules.RecordPhaseTransition(c.limit("pattern:", pattern), to)
}

// ObserveScores records the session scores seen by a decision.
func (c *Collector) ObserveScores(trust, risk int) {
	if !c.enabled {
		return
	}
	c.decisions.ObserveScores(trust, risk)
}

// SetCircuitState publishes the state of a named circuit: 0 closed,
// 1 half-open, 2 open.
func (c *Collector) SetCircuitState(name string, state int) {
	if !c.enabled {
		return
	}
	c.rules.SetCircuitState(c.limit("circuit:", name), state)
}

// SetOutstandingDebt publishes the number of unpaid override debts.
func (c *Collector) SetOutstandingDebt(n int) {
	if !c.enabled {
		return
	}
	c.rules.SetOutstandingDebt(n)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) limit(kind, value string) string {
	if c.cardinalityLimiter.Allow(kind + value) {
		return value
	}
	return otherLabel
}

// CardinalityLimiter bounds the number of distinct label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is already known or still fits under the
// limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}

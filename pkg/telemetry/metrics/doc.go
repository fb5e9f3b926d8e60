// Package metrics provides Prometheus metrics for gatekeeper.
//
// A Collector is handed to the gate as its Recorder and exposes:
//
//   - decisions_total{action,category,decision}
//   - decision_duration_seconds{category}
//   - engine_failures_total{stage}
//   - escalations_total
//   - trust_score and risk_score histograms
//   - rule_violations_total{rule_id,category,level}
//   - overrides_total{rule_id,outcome}
//   - phase_transitions_total{pattern,phase}
//   - circuit_state{circuit} and outstanding_debt gauges
//
// Rule ids, pattern names and action names come from operator files, so a
// CardinalityLimiter folds values past the configured limit into "other".
//
// # Usage
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	g, _ := gate.New(deps, gcfg, gate.WithRecorder(collector))
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
package metrics

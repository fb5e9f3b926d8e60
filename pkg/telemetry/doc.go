// Package telemetry groups the observability packages of Gatekeeper.
//
// # Components
//
//   - logging: slog construction, context fields, override-token redaction
//   - metrics: Prometheus collector for decisions, rules, circuits and debt
//   - tracing: OpenTelemetry tracer with an OTLP gRPC exporter
//   - health: liveness and readiness checks for the daemon
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//		Level:   cfg.Telemetry.Logging.Level,
//		Format:  cfg.Telemetry.Logging.Format,
//		Secrets: cfg.Policy.OverrideTokens,
//	})
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.Register("state", health.StoreCheck(store))
//
// Per-invocation CLI mode only uses logging; metrics, tracing and health
// serve the long-running daemon.
package telemetry

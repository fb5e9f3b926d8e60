// Package tracing sets up OpenTelemetry tracing for gatekeeper.
//
// New returns a Provider whose Tracer is handed to the gate, which opens
// one span per decision. With tracing enabled spans are batched to an OTLP
// gRPC collector; otherwise the tracer is a noop.
//
//	provider, err := tracing.New(ctx, cfg.Telemetry.Tracing, tracing.WithGlobal())
//	defer provider.Shutdown(context.Background())
//	g, _ := gate.New(deps, gcfg, gate.WithTracer(provider.Tracer()))
//
// In daemon mode HTTPMiddleware joins decision spans to the caller's W3C
// trace context.
package tracing

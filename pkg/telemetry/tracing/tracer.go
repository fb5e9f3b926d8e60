package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"

	"mercator-hq/gatekeeper/pkg/config"
)

// instrumentationName names the tracer handed to the gate.
const instrumentationName = "mercator-hq/gatekeeper"

// Provider owns the tracer provider and its exporter.
type Provider struct {
	config   config.TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
	version  string
	global   bool
}

// WithExporter replaces the OTLP exporter, typically with an in-memory one
// in tests.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithVersion sets the service.version resource attribute.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithGlobal installs the provider and the W3C propagators as the otel
// globals.
func WithGlobal() Option {
	return func(o *options) { o.global = true }
}

// New creates a Provider. When tracing is disabled the returned tracer is a
// noop and Shutdown does nothing.
//
// The provider must be shut down when no longer needed:
//
//	defer provider.Shutdown(context.Background())
func New(ctx context.Context, cfg config.TracingConfig, opts ...Option) (*Provider, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Provider{config: cfg, enabled: cfg.Enabled}
	if !cfg.Enabled {
		p.tracer = noop.NewTracerProvider().Tracer(instrumentationName)
		return p, nil
	}

	sampler, err := createSampler(cfg.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}

	exporter := o.exporter
	if exporter == nil {
		if exporter, err = createOTLPExporter(ctx, cfg); err != nil {
			return nil, err
		}
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = config.DefaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(o.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	p.tracer = p.provider.Tracer(instrumentationName)

	if o.global {
		otel.SetTracerProvider(p.provider)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			),
		)
	}

	return p, nil
}

// Tracer returns the tracer handed to the gate.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// ForceFlush exports all ended spans.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// createOTLPExporter creates an OTLP gRPC exporter. The connection is made
// lazily, so a missing collector does not block startup.
func createOTLPExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.IsInsecure() {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// TraceID returns the trace id of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SetError records err on span and marks it failed.
func SetError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.SetAttributes(attribute.Bool("error", true))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

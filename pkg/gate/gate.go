package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/debt"
	"mercator-hq/gatekeeper/pkg/detect"
	"mercator-hq/gatekeeper/pkg/policy/engine"
	"mercator-hq/gatekeeper/pkg/risk"
	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/state"
	"mercator-hq/gatekeeper/pkg/trust"
	"mercator-hq/gatekeeper/pkg/tuning"
)

// Config holds the gate's own settings.
type Config struct {
	// ActionCategories tags action names with a rule category. The tag
	// picks the fail-safe mode on engine failure. Hazardous actions are
	// always Safety.
	ActionCategories map[string]engine.Category

	// DefaultCategory tags actions missing from ActionCategories.
	DefaultCategory engine.Category

	// SunkCostAttempts is the attempt count at which an approach is
	// considered sunk cost.
	SunkCostAttempts int

	// ErrorTTL is how long an unresolved error stays relevant.
	ErrorTTL time.Duration

	// VerifyGap is the number of turns without verification after which
	// verification is stale. Zero disables the signal.
	VerifyGap int

	// RepeatedFailures is the occurrence count of one error signature at
	// which the repeated_failure penalty applies. Zero disables it.
	RepeatedFailures int
}

// DefaultConfig returns the default gate settings.
func DefaultConfig() Config {
	return Config{
		DefaultCategory:  engine.CategoryWorkflow,
		SunkCostAttempts: 3,
		ErrorTTL:         30 * time.Minute,
		VerifyGap:        20,
		RepeatedFailures: 2,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if !c.DefaultCategory.Valid() {
		errs = append(errs, fmt.Errorf("default category %q is unknown", c.DefaultCategory))
	}
	for action, cat := range c.ActionCategories {
		if !cat.Valid() {
			errs = append(errs, fmt.Errorf("action %q: unknown category %q", action, cat))
		}
	}
	if c.SunkCostAttempts < 0 || c.VerifyGap < 0 || c.RepeatedFailures < 0 {
		errs = append(errs, errors.New("sunk cost attempts, verify gap and repeated failures must not be negative"))
	}
	if c.ErrorTTL < 0 {
		errs = append(errs, errors.New("error ttl must not be negative"))
	}
	return errors.Join(errs...)
}

// Deps are the components a Gate orchestrates.
type Deps struct {
	Sessions *session.Repository
	Trust    *trust.Engine
	Risk     *risk.Accumulator
	Circuits *circuit.Breaker
	Debt     *debt.Tracker
	Tuning   *tuning.Controller
	Engine   *engine.Engine

	// Ledger receives diagnostic records. Optional.
	Ledger state.Appender
}

func (d Deps) validate() error {
	var missing []string
	if d.Sessions == nil {
		missing = append(missing, "sessions")
	}
	if d.Trust == nil {
		missing = append(missing, "trust")
	}
	if d.Risk == nil {
		missing = append(missing, "risk")
	}
	if d.Circuits == nil {
		missing = append(missing, "circuits")
	}
	if d.Debt == nil {
		missing = append(missing, "debt")
	}
	if d.Tuning == nil {
		missing = append(missing, "tuning")
	}
	if d.Engine == nil {
		missing = append(missing, "engine")
	}
	if len(missing) > 0 {
		return fmt.Errorf("gate is missing components: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Recorder receives decision metrics.
type Recorder interface {
	RecordDecision(action, category, decision string, duration time.Duration)
	RecordViolation(ruleID, category, level string)
	RecordOverride(ruleID string, refused bool)
	RecordEngineFailure(stage string)
	RecordEscalation()
	RecordPhaseTransition(pattern, to string)
	ObserveScores(trust, risk int)
}

type noopRecorder struct{}

func (noopRecorder) RecordDecision(string, string, string, time.Duration) {}
func (noopRecorder) RecordViolation(string, string, string)               {}
func (noopRecorder) RecordOverride(string, bool)                          {}
func (noopRecorder) RecordEngineFailure(string)                           {}
func (noopRecorder) RecordEscalation()                                    {}
func (noopRecorder) RecordPhaseTransition(string, string)                 {}
func (noopRecorder) ObserveScores(int, int)                               {}

// Auditor stores decision audit entries.
type Auditor interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// Gate runs requests through the engine.
type Gate struct {
	deps     Deps
	cfg      Config
	detector detect.Detector
	outcomes detect.Detector
	actions  *detect.ActionTable
	recorder Recorder
	auditor  Auditor
	tracer   trace.Tracer
	ledger   state.Appender
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithActionTable replaces the default action table.
func WithActionTable(t *detect.ActionTable) Option {
	return func(g *Gate) {
		if t != nil {
			g.actions = t
		}
	}
}

// WithDetector adds a detector that runs after the built-in ones.
func WithDetector(d detect.Detector) Option {
	return func(g *Gate) {
		if d != nil {
			g.detector = append(g.detector.(detect.Chain), d)
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithAuditor sets the audit sink.
func WithAuditor(a Auditor) Option {
	return func(g *Gate) {
		g.auditor = a
	}
}

// WithTracer sets the tracer used for decision spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) {
		if t != nil {
			g.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates a Gate. The rule set must already be loaded into deps.Engine;
// the patterns of its immutable rules are protected from tuning.
func New(deps Deps, cfg Config, opts ...Option) (*Gate, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate config: %w", err)
	}
	g := &Gate{
		deps:     deps,
		cfg:      cfg,
		actions:  detect.DefaultActionTable(),
		recorder: noopRecorder{},
		tracer:   noop.NewTracerProvider().Tracer("gatekeeper/gate"),
		ledger:   state.Discard,
		logger:   slog.Default().With("component", "gate"),
		now:      time.Now,
	}
	if deps.Ledger != nil {
		g.ledger = deps.Ledger
	}
	paramDetector := detect.NewParamDetector(g.logger)
	g.detector = detect.Chain{paramDetector}
	g.outcomes = paramDetector
	for _, opt := range opts {
		opt(g)
	}
	// The action table is consulted last so options can replace it.
	g.detector = append(g.detector.(detect.Chain), g.actions)

	g.SyncProtected()
	return g, nil
}

// SyncProtected protects the tuning patterns of every Safety rule currently
// loaded. Call it after reloading rules.
func (g *Gate) SyncProtected() {
	_, protected := g.deps.Engine.Patterns()
	g.deps.Tuning.Protect(protected...)
}

// Actions returns the action table.
func (g *Gate) Actions() *detect.ActionTable {
	return g.actions
}

// categoryOf tags a request with the category that decides its fail-safe
// behavior.
func (g *Gate) categoryOf(action string, hazard *risk.HazardPattern) engine.Category {
	if hazard != nil {
		return engine.CategorySafety
	}
	if cat, ok := g.cfg.ActionCategories[strings.ToLower(action)]; ok {
		return cat
	}
	return g.cfg.DefaultCategory
}

// diagnostic appends a record to the diagnostics stream.
func (g *Gate) diagnostic(ctx context.Context, recordType, sessionID string, payload any) {
	if err := g.ledger.Append(ctx, state.StreamDiagnostics, recordType, sessionID, payload); err != nil {
		g.logger.Warn("failed to append diagnostic record", "error", err)
	}
}

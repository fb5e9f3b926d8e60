package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/debt"
	"mercator-hq/gatekeeper/pkg/detect"
	"mercator-hq/gatekeeper/pkg/gate"
	"mercator-hq/gatekeeper/pkg/maintenance"
	"mercator-hq/gatekeeper/pkg/policy/engine"
	"mercator-hq/gatekeeper/pkg/policy/source"
	"mercator-hq/gatekeeper/pkg/risk"
	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/state"
	"mercator-hq/gatekeeper/pkg/trust"
	"mercator-hq/gatekeeper/pkg/tuning"
)

// app holds the components built from one configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store    state.Store
	cache    *state.CachedStore
	ledger   *state.Ledger
	sessions *session.Repository
	trust    *trust.Engine
	risk     *risk.Accumulator
	circuits *circuit.Breaker
	debt     *debt.Tracker
	tuning   *tuning.Controller
	engine   *engine.Engine
	rules    source.Source
	reloader *source.Reloader
	actions  *detect.ActionTable
	audit    *audit.SQLiteStore
	gate     *gate.Gate
}

type appOptions struct {
	// cached puts a read cache in front of the state store (daemon mode).
	cached bool

	// withGate builds the rule engine and gate; inspection commands skip it.
	withGate bool

	recorder gate.Recorder
	tracer   trace.Tracer
}

// newApp wires every component from cfg. Callers must Close the app.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	fs, err := state.NewFileStore(cfg.FileStoreConfig())
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	a.store = fs
	if opts.cached {
		a.cache = state.NewCachedStore(fs, cfg.State.CacheTTL)
		a.store = a.cache
	}
	if a.ledger, err = state.NewLedger(cfg.LedgerDir(), cfg.State.LockTimeout); err != nil {
		return nil, err
	}

	a.sessions = session.NewRepository(a.store,
		session.WithRetention(cfg.State.SessionRetention),
		session.WithInitialTrust(cfg.Trust.Initial),
		session.WithLogger(logger.With("component", "session")),
	)
	if a.trust, err = trust.NewEngine(cfg.Trust, a.sessions,
		trust.WithLedger(a.ledger), trust.WithLogger(logger.With("component", "trust"))); err != nil {
		return nil, err
	}
	if a.risk, err = risk.NewAccumulator(cfg.Risk, a.sessions,
		risk.WithLedger(a.ledger), risk.WithLogger(logger.With("component", "risk"))); err != nil {
		return nil, err
	}
	if a.circuits, err = circuit.NewBreaker(a.store, cfg.Circuits,
		circuit.WithLedger(a.ledger), circuit.WithLogger(logger.With("component", "circuit"))); err != nil {
		return nil, err
	}
	if a.debt, err = debt.NewTracker(a.store, cfg.Debt,
		debt.WithLedger(a.ledger), debt.WithLogger(logger.With("component", "debt"))); err != nil {
		return nil, err
	}
	if a.tuning, err = tuning.NewController(a.store, cfg.Tuning,
		tuning.WithLedger(a.ledger), tuning.WithLogger(logger.With("component", "tuning"))); err != nil {
		return nil, err
	}

	if cfg.Audit.IsEnabled() {
		if a.audit, err = audit.NewSQLiteStore(cfg.AuditStoreConfig()); err != nil {
			// The decision path never depends on the audit log.
			logger.Warn("audit store unavailable, decisions will not be audited", "error", err)
			a.audit = nil
		}
	}

	if !opts.withGate {
		return a, nil
	}
	if err := a.buildGate(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildGate(ctx context.Context, opts appOptions) error {
	var err error
	if a.engine, err = engine.NewEngine(a.cfg.EngineConfig(), engine.DefaultRegistry(), a.logger); err != nil {
		return err
	}
	a.rules = ruleSource(a.cfg, a.logger)
	a.reloader = source.NewReloader(a.rules, a.engine, a.logger)
	if err := a.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	a.actions = detect.DefaultActionTable()
	if a.cfg.Gate.ActionsPath != "" {
		if a.actions, err = detect.LoadActionTable(a.cfg.Gate.ActionsPath); err != nil {
			return err
		}
	}

	gateOpts := []gate.Option{
		gate.WithActionTable(a.actions),
		gate.WithLogger(a.logger.With("component", "gate")),
		gate.WithRecorder(opts.recorder),
		gate.WithTracer(opts.tracer),
	}
	if a.audit != nil {
		gateOpts = append(gateOpts, gate.WithAuditor(a.audit))
	}
	a.gate, err = gate.New(gate.Deps{
		Sessions: a.sessions,
		Trust:    a.trust,
		Risk:     a.risk,
		Circuits: a.circuits,
		Debt:     a.debt,
		Tuning:   a.tuning,
		Engine:   a.engine,
		Ledger:   a.ledger,
	}, a.cfg.GateConfig(), gateOpts...)
	if err != nil {
		return err
	}
	a.reloader.OnReload = func([]engine.Rule) { a.gate.SyncProtected() }
	return nil
}

// ruleSource layers the rules file over the built-in rules.
func ruleSource(cfg *config.Config, logger *slog.Logger) source.Source {
	var layers source.Layered
	if cfg.Policy.BuiltinEnabled() {
		layers = append(layers, source.NewMemorySource(engine.DefaultRules()...))
	}
	if cfg.Policy.RulesPath != "" {
		layers = append(layers, source.NewFileSource(cfg.Policy.RulesPath, logger))
	}
	return layers
}

// sweeper returns a maintenance sweeper over the app's components.
func (a *app) sweeper() *maintenance.Sweeper {
	s := maintenance.NewSweeper(a.cfg.SweeperConfig(), a.logger)
	s.Sessions = a.sessions
	s.Ledger = a.ledger
	s.Debt = a.debt
	if a.audit != nil {
		s.Audit = a.audit
	}
	return s
}

// Close releases the audit database.
func (a *app) Close() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	return errors.Join(errs...)
}

// openApp loads configuration and builds the components for an
// inspection command.
func openApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	a, err := newApp(commandContext(cmd), cfg, logger, opts)
	if err != nil {
		return nil, cli.NewCommandError(cmd.CommandPath(), err)
	}
	return a, nil
}

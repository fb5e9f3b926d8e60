package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/maintenance"
	"mercator-hq/gatekeeper/pkg/server"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

var serveFlags struct {
	listenAddress string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gatekeeper daemon",
	Long: `Run the decision contract as an HTTP daemon.

The daemon keeps configuration and rules in memory, caches state reads,
reloads rule files when they change (policy.watch) and runs the
maintenance sweep on its cron schedule. It shares the state directory
with the CLI, so both can be used at once.

Examples:
  # Start with a config file
  gatekeeper serve --config gatekeeper.yaml

  # Override listen address
  gatekeeper serve --listen 127.0.0.1:9000

  # Validate config and rules without starting
  gatekeeper serve --dry-run`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config and rules without starting the server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(commandContext(cmd))
	defer stop()

	tp, err := tracing.New(ctx, cfg.Telemetry.Tracing, tracing.WithVersion(Version), tracing.WithGlobal())
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)

	a, err := newApp(ctx, cfg, logger, appOptions{
		cached:   true,
		withGate: true,
		recorder: collector,
		tracer:   tp.Tracer(),
	})
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer a.Close()

	if serveFlags.dryRun {
		_, err := cmd.OutOrStdout().Write([]byte("configuration and rules valid\n"))
		return err
	}

	if cfg.Policy.Watch {
		go func() {
			if err := a.reloader.Watch(ctx, cfg.WatcherConfig()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("rule watcher stopped", "error", err)
			}
		}()
	}

	scheduler := maintenance.NewScheduler(a.sweeper(), cfg.Maintenance.Schedule)
	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer scheduler.Stop()

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.Register("state", health.StoreCheck(a.store))
	checker.Register("rules", health.RulesCheck(a.engine))
	if a.audit != nil {
		checker.Register("audit", health.AuditCheck(a.audit))
	}

	deps := server.Dependencies{
		Decider:       a.gate,
		Sessions:      a.sessions,
		Circuits:      a.circuits,
		Debt:          a.debt,
		Health:        checker,
		LivenessPath:  cfg.Telemetry.Health.LivenessPath,
		ReadinessPath: cfg.Telemetry.Health.ReadinessPath,
		Version:       health.NewVersionInfo(Version, GitCommit, BuildDate),
	}
	if cfg.Telemetry.Metrics.IsEnabled() {
		deps.Metrics = refreshGauges(a, collector, collector.Handler())
		deps.MetricsPath = cfg.Telemetry.Metrics.Path
	}

	srv, err := server.New(cfg.Server, deps, server.WithLogger(logger.With("component", "server")))
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	return srv.Start(ctx)
}

// refreshGauges updates the circuit and debt gauges from shared state
// before each scrape, since the CLI may change them outside the daemon.
func refreshGauges(a *app, c *metrics.Collector, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, snap := range a.circuits.All(ctx) {
			c.SetCircuitState(snap.Name, circuitStateValue(snap.State))
		}
		if records, err := a.debt.Outstanding(ctx); err == nil {
			c.SetOutstandingDebt(len(records))
		}
		next.ServeHTTP(w, r)
	})
}

func circuitStateValue(s circuit.State) int {
	switch s {
	case circuit.StateOpen:
		return 2
	case circuit.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

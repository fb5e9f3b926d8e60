package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile  string
	stateDir string
	output   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - runtime policy and trust engine for coding agents",
	Long: `Gatekeeper sits between an autonomous coding agent and the actions it
wants to take. Each proposed action is scored against the session's trust
and risk, checked against policy rules and circuit breakers, and answered
with allow, warn or deny.

State lives in a directory of small JSON documents guarded by file locks,
so short-lived 'gatekeeper decide' processes and a long-lived
'gatekeeper serve' daemon can share it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if cli.ShouldPrint(err) {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return cli.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults plus GATEKEEPER_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "override the state directory")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text, json, csv")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// loadConfig loads the file named by --config, applies environment and
// flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	if stateDir != "" {
		cfg.State.Dir = stateDir
	}
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to stderr so stdout stays
// reserved for command results.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:            cfg.Telemetry.Logging.Level,
		Format:           cfg.Telemetry.Logging.Format,
		AddSource:        cfg.Telemetry.Logging.AddSource,
		Secrets:          cfg.Policy.OverrideTokens,
		DisableRedaction: cfg.Telemetry.Logging.DisableRedaction,
		Writer:           cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}

// render writes v to stdout in the --output format.
func render(cmd *cobra.Command, v any) error {
	format, err := cli.ParseFormat(output)
	if err != nil {
		return &cli.ExitError{Code: cli.ExitUsage, Err: err}
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), v)
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/detect"
	"mercator-hq/gatekeeper/pkg/gate"
	"mercator-hq/gatekeeper/pkg/policy/engine"
	"mercator-hq/gatekeeper/pkg/risk"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

// maxRequestBytes bounds a request read from stdin.
const maxRequestBytes = 1 << 20

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Decide one action request read from stdin",
	Long: `Read one request as JSON from stdin and write the decision as JSON to
stdout.

Request:
  {"action": "bash", "sessionId": "s1", "turn": 3,
   "parameters": {"command": "git push --force"}, "overrideToken": "..."}

Response:
  {"decision": "deny", "reason": "...", "scoreDelta": -5, "context": "..."}

The exit status is 0 for every well-formed decision, deny included. When
the engine fails the configured fail-safe decision is still printed and
the exit status is 1.`,
	Args: cobra.NoArgs,
	RunE: runDecide,
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Report the outcome of an allowed action read from stdin",
	Long: `Read one outcome report as JSON from stdin, update the session and the
action's circuit, and write the result as JSON to stdout.

Report:
  {"action": "bash", "sessionId": "s1", "turn": 3, "success": false,
   "error": "FAIL: TestLogin", "circuit": "tests"}`,
	Args: cobra.NoArgs,
	RunE: runOutcome,
}

func init() {
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(outcomeCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxRequestBytes))
	if err != nil {
		return writeDecision(out, &gate.Response{Decision: engine.DecisionAllow}, nil)
	}
	var req gate.Request
	if err := json.Unmarshal(data, &req); err != nil {
		// Unreadable input: there is no action to classify, so answer
		// with a neutral allow.
		slog.Warn("unreadable decide request", "error", err)
		return writeDecision(out, &gate.Response{Decision: engine.DecisionAllow}, nil)
	}

	cfg, err := loadConfig()
	if err != nil {
		resp, failure := fallback(nil, req, "config", err)
		return writeDecision(out, resp, failure)
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		resp, failure := fallback(cfg, req, "config", err)
		return writeDecision(out, resp, failure)
	}

	ctx := logging.WithSessionID(commandContext(cmd), req.SessionID)
	ctx = logging.WithTurn(ctx, req.Turn)
	a, err := newApp(ctx, cfg, logger, appOptions{withGate: true})
	if err != nil {
		logger.ErrorContext(ctx, "engine unavailable", "error", err)
		resp, failure := fallback(cfg, req, "startup", err)
		return writeDecision(out, resp, failure)
	}
	defer a.Close()

	resp, failure := a.gate.Decide(ctx, req)
	return writeDecision(out, resp, failure)
}

// writeDecision prints resp and maps an engine failure to exit status 1.
func writeDecision(w io.Writer, resp *gate.Response, decideErr error) error {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return err
	}
	if decideErr != nil {
		return &cli.ExitError{Code: cli.ExitEngineFailure, Err: decideErr, Silent: true}
	}
	return nil
}

// fallback answers when the gate could not be built. The category is
// derived the way the gate derives it, from the hazard table and the
// configured action categories; without a configuration everything
// fails closed.
func fallback(cfg *config.Config, req gate.Request, stage string, cause error) (*gate.Response, error) {
	engErr := &gate.EngineError{Stage: stage, Cause: cause}
	if cfg == nil {
		return &gate.Response{
			Decision: engine.DecisionDeny,
			Reason:   fmt.Sprintf("engine failure during %s; failing closed", stage),
		}, engErr
	}

	gc := cfg.GateConfig()
	category := gc.DefaultCategory
	if c, ok := gc.ActionCategories[strings.ToLower(req.Action)]; ok {
		category = c
	}
	actions := fallbackActions(cfg)
	if acc, err := risk.NewAccumulator(cfg.Risk, nil); err == nil {
		text := actions.TextOf(detect.Request{Action: req.Action, Parameters: req.Parameters})
		if acc.Classify(risk.ActionDescriptor{Action: req.Action, Text: text}) != nil {
			category = engine.CategorySafety
		}
	}

	dec, mode := engine.DecisionAllow, "open"
	if cfg.EngineConfig().ModeFor(category) == engine.FailClosed {
		dec, mode = engine.DecisionDeny, "closed"
	}
	return &gate.Response{
		Decision: dec,
		Reason:   fmt.Sprintf("engine failure during %s; failing %s for %s action", stage, mode, category),
	}, engErr
}

// fallbackActions returns the configured action table, or the built-in one
// when none is configured or it cannot be read.
func fallbackActions(cfg *config.Config) *detect.ActionTable {
	if cfg.Gate.ActionsPath == "" {
		return detect.DefaultActionTable()
	}
	t, err := detect.LoadActionTable(cfg.Gate.ActionsPath)
	if err != nil {
		return detect.DefaultActionTable()
	}
	return t
}

func runOutcome(cmd *cobra.Command, args []string) error {
	var rep gate.OutcomeReport
	dec := json.NewDecoder(io.LimitReader(cmd.InOrStdin(), maxRequestBytes))
	if err := dec.Decode(&rep); err != nil {
		return &cli.ExitError{Code: cli.ExitUsage, Err: fmt.Errorf("read outcome report: %w", err)}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	ctx := logging.WithSessionID(commandContext(cmd), rep.SessionID)
	ctx = logging.WithTurn(ctx, rep.Turn)
	a, err := newApp(ctx, cfg, logger, appOptions{withGate: true})
	if err != nil {
		return cli.NewCommandError("outcome", err)
	}
	defer a.Close()

	res, err := a.gate.RecordOutcome(ctx, rep)
	if errors.Is(err, gate.ErrInvalidRequest) {
		return &cli.ExitError{Code: cli.ExitUsage, Err: err}
	}
	if err != nil {
		return cli.NewCommandError("outcome", err)
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
}

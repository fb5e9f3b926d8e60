package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/tuning"
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Inspect and adjust auto-tuning phases",
}

var tuneStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the phase of every tuned pattern",
	Args:  cobra.NoArgs,
	RunE:  runTuneStatus,
}

var tuneSetCmd = &cobra.Command{
	Use:   "set <pattern> <observe|warn|enforce>",
	Short: "Force a pattern into a phase",
	Args:  cobra.ExactArgs(2),
	RunE:  runTuneSet,
}

func init() {
	tuneCmd.AddCommand(tuneStatusCmd, tuneSetCmd)
	rootCmd.AddCommand(tuneCmd)
}

type patternList []tuning.PatternState

func (l patternList) Table() cli.Table {
	t := cli.Table{Headers: []string{"PATTERN", "PHASE", "OCCURRENCES", "BYPASSES", "REMEDIATIONS", "SINCE PHASE"}}
	for _, p := range l {
		t.Rows = append(t.Rows, []string{
			p.Pattern,
			string(p.Phase),
			strconv.Itoa(len(p.Occurrences)),
			strconv.Itoa(len(p.Bypasses)),
			strconv.Itoa(len(p.Remediations)),
			strconv.Itoa(p.SincePhase),
		})
	}
	return t
}

func runTuneStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	return render(cmd, patternList(a.tuning.Status(commandContext(cmd))))
}

func runTuneSet(cmd *cobra.Command, args []string) error {
	phase, err := tuning.ParsePhase(args[1])
	if err != nil {
		return &cli.ExitError{Code: cli.ExitUsage, Err: err}
	}
	// The gate registers which patterns are protected from tuning.
	a, err := openApp(cmd, appOptions{withGate: true})
	if err != nil {
		return err
	}
	defer a.Close()

	tr, err := a.tuning.SetPhase(commandContext(cmd), args[0], phase)
	if errors.Is(err, tuning.ErrProtected) {
		return &cli.ExitError{Code: cli.ExitUsage, Err: err}
	}
	if err != nil {
		return cli.NewCommandError("tune set", err)
	}
	if tr == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "pattern %s already in %s\n", args[0], phase)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pattern %s: %s -> %s\n", tr.Pattern, tr.From, tr.To)
	return nil
}

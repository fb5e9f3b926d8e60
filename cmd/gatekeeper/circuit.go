package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/cli"
)

var circuitFailureReason string

var circuitCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Inspect and drive circuit breakers",
}

var circuitStatusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show one circuit, or every known circuit",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCircuitStatus,
}

var circuitSuccessCmd = &cobra.Command{
	Use:   "success <name>",
	Short: "Record a successful operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return circuitTransition(cmd, args[0], func(a *app) (*circuit.StateChange, error) {
			return a.circuits.RecordSuccess(commandContext(cmd), args[0])
		})
	},
}

var circuitFailureCmd = &cobra.Command{
	Use:   "failure <name>",
	Short: "Record a failed operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return circuitTransition(cmd, args[0], func(a *app) (*circuit.StateChange, error) {
			return a.circuits.RecordFailure(commandContext(cmd), args[0], circuitFailureReason)
		})
	},
}

var circuitResetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Force a circuit closed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return circuitTransition(cmd, args[0], func(a *app) (*circuit.StateChange, error) {
			return a.circuits.Reset(commandContext(cmd), args[0])
		})
	},
}

func init() {
	circuitFailureCmd.Flags().StringVar(&circuitFailureReason, "reason", "", "failure description")
	circuitCmd.AddCommand(circuitStatusCmd, circuitSuccessCmd, circuitFailureCmd, circuitResetCmd)
	rootCmd.AddCommand(circuitCmd)
}

type circuitList []circuit.Snapshot

func (l circuitList) Table() cli.Table {
	t := cli.Table{Headers: []string{"CIRCUIT", "STATE", "FAILURES", "RETRY AT", "LAST FAILURE"}}
	for _, s := range l {
		retry := ""
		if !s.RetryAt.IsZero() {
			retry = s.RetryAt.Format(time.RFC3339)
		}
		t.Rows = append(t.Rows, []string{
			s.Name,
			string(s.State),
			fmt.Sprintf("%d/%d", s.ConsecutiveFailures, s.Threshold),
			retry,
			s.LastFailureReason,
		})
	}
	return t
}

func runCircuitStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	if len(args) == 1 {
		return render(cmd, circuitList{a.circuits.Status(ctx, args[0])})
	}
	return render(cmd, circuitList(a.circuits.All(ctx)))
}

// circuitTransition runs op and prints the resulting state change, or the
// unchanged status.
func circuitTransition(cmd *cobra.Command, name string, op func(*app) (*circuit.StateChange, error)) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	change, err := op(a)
	if err != nil {
		return cli.NewCommandError(cmd.CommandPath(), err)
	}
	if change != nil {
		fmt.Fprintln(cmd.OutOrStdout(), change.Message())
		return nil
	}
	snap := a.circuits.Status(commandContext(cmd), name)
	fmt.Fprintf(cmd.OutOrStdout(), "circuit %s is %s (%s consecutive failures)\n",
		snap.Name, snap.State, strconv.Itoa(snap.ConsecutiveFailures))
	return nil
}

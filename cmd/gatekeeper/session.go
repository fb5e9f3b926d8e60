package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and reset agent sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's scores and recent evidence",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session, resetting its trust and risk",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd, sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}

// sessionView renders a session as a key/value table; JSON output uses
// the session document itself.
type sessionView struct {
	*session.Session
}

func (v sessionView) Table() cli.Table {
	s := v.Session
	t := cli.Table{Headers: []string{"FIELD", "VALUE"}}
	t.Rows = [][]string{
		{"id", s.ID},
		{"turn", strconv.Itoa(s.Turn)},
		{"trust", strconv.Itoa(s.Trust)},
		{"risk", strconv.Itoa(s.Risk)},
		{"escalated", strconv.FormatBool(s.Escalated)},
		{"evidence", strconv.Itoa(len(s.Evidence))},
		{"unresolved_errors", strconv.Itoa(len(s.Errors))},
		{"updated", s.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")},
	}
	start := len(s.History) - 5
	if start < 0 {
		start = 0
	}
	for _, h := range s.History[start:] {
		t.Rows = append(t.Rows, []string{
			fmt.Sprintf("history[turn %d]", h.Turn),
			fmt.Sprintf("%s %+d %s", h.Axis, h.Delta, h.Kind),
		})
	}
	return t
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	s, ok := a.sessions.Get(commandContext(cmd), args[0])
	if !ok {
		return &cli.ExitError{Code: cli.ExitUsage, Err: fmt.Errorf("session %q not found", args[0])}
	}
	return render(cmd, sessionView{s})
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sessions.Delete(commandContext(cmd), args[0]); err != nil {
		return cli.NewCommandError("session delete", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s deleted\n", args[0])
	return nil
}

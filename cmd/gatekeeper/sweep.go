package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/maintenance"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired sessions, ledger lines, audit entries and paid debt",
	Long: `Run one maintenance pass. The daemon runs the same pass on the
maintenance.schedule cron schedule; use this command from cron or a
systemd timer when no daemon runs.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

type sweepView maintenance.Result

func (v sweepView) Table() cli.Table {
	t := cli.Table{Headers: []string{"STEP", "REMOVED"}}
	t.Rows = append(t.Rows,
		[]string{"sessions", fmt.Sprintf("%d of %d", v.SessionsDeleted, v.SessionsScanned)},
		[]string{"audit", strconv.FormatInt(v.AuditPruned, 10)},
		[]string{"debt", strconv.Itoa(v.DebtPruned)},
	)
	streams := make([]string, 0, len(v.LedgerRemoved))
	for s := range v.LedgerRemoved {
		streams = append(streams, s)
	}
	sort.Strings(streams)
	for _, s := range streams {
		t.Rows = append(t.Rows, []string{"ledger/" + s, strconv.Itoa(v.LedgerRemoved[s])})
	}
	return t
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, sweepErr := a.sweeper().Sweep(commandContext(cmd))
	if err := render(cmd, sweepView(res)); err != nil {
		return err
	}
	if sweepErr != nil {
		return cli.NewCommandError("sweep", sweepErr)
	}
	return nil
}

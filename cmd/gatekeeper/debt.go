package main

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/debt"
)

var debtFlags struct {
	all bool
	by  string
}

var debtCmd = &cobra.Command{
	Use:   "debt",
	Short: "List and pay enforcement debt",
	Long: `Enforcement debt is recorded whenever a rule is overridden. While any
debt is unpaid, mutating actions are limited to corrective ones.`,
}

var debtListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outstanding debt",
	Args:  cobra.NoArgs,
	RunE:  runDebtList,
}

var debtPayCmd = &cobra.Command{
	Use:   "pay <debt-id|rule-id>",
	Short: "Mark debt as paid",
	Args:  cobra.ExactArgs(1),
	RunE:  runDebtPay,
}

func init() {
	debtListCmd.Flags().BoolVar(&debtFlags.all, "all", false, "include paid records")
	debtPayCmd.Flags().StringVar(&debtFlags.by, "by", "", "who paid the debt (defaults to the current user)")
	debtCmd.AddCommand(debtListCmd, debtPayCmd)
	rootCmd.AddCommand(debtCmd)
}

type debtList []debt.Record

func (l debtList) Table() cli.Table {
	t := cli.Table{Headers: []string{"ID", "RULE", "CATEGORY", "SESSION", "BYPASSES", "CREATED", "PAID"}}
	for _, r := range l {
		paid := ""
		if r.Paid {
			paid = r.PaidAt.Format(time.RFC3339)
			if r.PaidBy != "" {
				paid += " by " + r.PaidBy
			}
		}
		t.Rows = append(t.Rows, []string{
			r.ID, r.RuleID, r.Category, r.SessionID,
			strconv.Itoa(r.Bypasses), r.CreatedAt.Format(time.RFC3339), paid,
		})
	}
	return t
}

func runDebtList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	if debtFlags.all {
		return render(cmd, debtList(a.debt.All(ctx)))
	}
	records, err := a.debt.Outstanding(ctx)
	if err != nil {
		return cli.NewCommandError("debt list", err)
	}
	return render(cmd, debtList(records))
}

func runDebtPay(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	by := debtFlags.by
	if by == "" {
		if u, err := user.Current(); err == nil {
			by = u.Username
		}
	}
	rec, err := a.debt.Pay(commandContext(cmd), args[0], by)
	if errors.Is(err, debt.ErrNotFound) {
		return &cli.ExitError{Code: cli.ExitUsage, Err: err}
	}
	if err != nil {
		return cli.NewCommandError("debt pay", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "paid debt %s for rule %s\n", rec.ID, rec.RuleID)
	return nil
}

package main

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/cli"
)

var auditFlags struct {
	session  string
	decision string
	action   string
	rule     string
	since    time.Duration
	limit    int
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the decision audit log",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List recent decisions, newest first",
	Long: `List audited decisions matching every given filter.

Examples:
  # Denials in the last hour
  gatekeeper audit query --decision deny --since 1h

  # Everything one session did
  gatekeeper audit query --session s1 --limit 500 -o json`,
	Args: cobra.NoArgs,
	RunE: runAuditQuery,
}

func init() {
	f := auditQueryCmd.Flags()
	f.StringVar(&auditFlags.session, "session", "", "session id")
	f.StringVar(&auditFlags.decision, "decision", "", "allow, warn or deny")
	f.StringVar(&auditFlags.action, "action", "", "action name")
	f.StringVar(&auditFlags.rule, "rule", "", "rule id that fired")
	f.DurationVar(&auditFlags.since, "since", 0, "only entries newer than this")
	f.IntVar(&auditFlags.limit, "limit", audit.DefaultLimit, "maximum entries")
	auditCmd.AddCommand(auditQueryCmd)
	rootCmd.AddCommand(auditCmd)
}

type auditList []*audit.Entry

func (l auditList) Table() cli.Table {
	t := cli.Table{Headers: []string{"TIME", "SESSION", "TURN", "ACTION", "DECISION", "RULES", "TRUST", "RISK"}}
	for _, e := range l {
		t.Rows = append(t.Rows, []string{
			e.Time.Format(time.RFC3339),
			e.SessionID,
			strconv.Itoa(e.Turn),
			e.Action,
			e.Decision,
			strings.Join(e.RuleIDs, ","),
			strconv.Itoa(e.Trust),
			strconv.Itoa(e.Risk),
		})
	}
	return t
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.audit == nil {
		return cli.NewCommandError("audit query", errors.New("audit log is disabled or unavailable"))
	}

	q := audit.Query{
		SessionID: auditFlags.session,
		Decision:  auditFlags.decision,
		Action:    auditFlags.action,
		RuleID:    auditFlags.rule,
		Limit:     auditFlags.limit,
	}
	if auditFlags.since > 0 {
		q.Since = time.Now().Add(-auditFlags.since)
	}
	entries, err := a.audit.Query(commandContext(cmd), q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	return render(cmd, auditList(entries))
}

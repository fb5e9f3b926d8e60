package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/policy/engine"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and list policy rules",
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint [path]",
	Short: "Validate rule files",
	Long: `Parse rule files and check them the way the engine does when loading:
known predicates, valid categories and levels, unique ids and the rule
limit. The path defaults to policy.rules_path; built-in rules are
included unless policy.builtin is false.

Examples:
  # Lint the configured rules
  gatekeeper rules lint

  # Lint a directory before deploying it
  gatekeeper rules lint ./rules`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesLint,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the effective rule set",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

func init() {
	rulesCmd.AddCommand(rulesLintCmd, rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}

type ruleList []engine.Rule

func (l ruleList) Table() cli.Table {
	t := cli.Table{Headers: []string{"ID", "CATEGORY", "LEVEL", "PATTERN", "IMMUTABLE", "TUNED", "PREDICATES"}}
	for _, r := range l {
		pattern := r.Pattern
		if pattern == "" {
			pattern = r.ID
		}
		t.Rows = append(t.Rows, []string{
			r.ID, string(r.Category), r.Level.String(), pattern,
			fmt.Sprint(r.Immutable || r.Category == engine.CategorySafety), fmt.Sprint(r.Tuned),
			strings.Join(r.Trigger.Predicates(), ","),
		})
	}
	return t
}

// loadRules loads and validates the effective rule set.
func loadRules(cmd *cobra.Command, path string) ([]engine.Rule, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if path != "" {
		cfg.Policy.RulesPath = path
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewEngine(cfg.EngineConfig(), engine.DefaultRegistry(), logger)
	if err != nil {
		return nil, cli.NewConfigError("policy", err.Error())
	}
	rules, err := ruleSource(cfg, logger).LoadRules(commandContext(cmd))
	if err != nil {
		return nil, err
	}
	if err := eng.ValidateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func runRulesLint(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	rules, err := loadRules(cmd, path)
	if err != nil {
		return fmt.Errorf("rules invalid: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rules valid\n", len(rules))
	fmt.Fprintf(cmd.OutOrStdout(), "predicates used: %s\n", strings.Join(predicatesUsed(rules), ", "))
	return nil
}

// predicatesUsed returns the distinct predicates referenced by rules, sorted.
func predicatesUsed(rules []engine.Rule) []string {
	seen := make(map[string]bool)
	for _, r := range rules {
		for _, id := range r.Trigger.Predicates() {
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func runRulesList(cmd *cobra.Command, args []string) error {
	rules, err := loadRules(cmd, "")
	if err != nil {
		return err
	}
	return render(cmd, ruleList(rules))
}

package risk

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// HazardClass groups hazard patterns by the kind of damage they can do.
type HazardClass string

const (
	ClassDestructiveFilesystem HazardClass = "destructive_filesystem"
	ClassIrreversibleData      HazardClass = "irreversible_data"
	ClassPrivilegeChange       HazardClass = "privilege_change"
	ClassHistoryRewrite        HazardClass = "history_rewrite"
)

// HazardPattern is one entry of the hazard table.
type HazardPattern struct {
	Name     string      `yaml:"name" json:"name"`
	Class    HazardClass `yaml:"class" json:"class"`
	Pattern  string      `yaml:"pattern" json:"pattern"`
	Priority int         `yaml:"priority" json:"priority"`

	// Amount is the risk added on match; zero uses the accumulator default.
	Amount int `yaml:"amount,omitempty" json:"amount,omitempty"`

	// Actions restricts the pattern to these action names. Empty matches any.
	Actions []string `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// ActionDescriptor is what the classifier matches against.
type ActionDescriptor struct {
	Action string
	// Text is the flattened action input, e.g. a shell command or SQL.
	Text string
}

// DefaultPatterns returns the built-in hazard table.
func DefaultPatterns() []HazardPattern {
	return []HazardPattern{
		{Name: "disk-format", Class: ClassDestructiveFilesystem, Priority: 100, Amount: 40,
			Pattern: `\b(mkfs(\.\w+)?|dd\s+if=\S+\s+of=/dev/)`},
		{Name: "rm-recursive-force", Class: ClassDestructiveFilesystem, Priority: 100,
			Pattern: `\brm\s+(-[a-zA-Z]*([rR][a-zA-Z]*f|f[a-zA-Z]*[rR])|(-[rR]\s+-f|-f\s+-[rR])|--recursive\s+--force|--force\s+--recursive)\b`},
		{Name: "sql-drop", Class: ClassIrreversibleData, Priority: 95, Amount: 30,
			Pattern: `(?i)\b(drop|truncate)\s+(table|database|schema)\b`},
		{Name: "git-force-push", Class: ClassHistoryRewrite, Priority: 90,
			Pattern: `\bgit\s+push\b.*(\s--force(-with-lease)?\b|\s-f\b)`},
		{Name: "sql-delete-unbounded", Class: ClassIrreversibleData, Priority: 85, Amount: 25,
			Pattern: `(?i)\bdelete\s+from\s+[\w."]+\s*(;|$)`},
		{Name: "git-reset-hard", Class: ClassHistoryRewrite, Priority: 80,
			Pattern: `\bgit\s+reset\s+--hard\b`},
		{Name: "privilege-escalation", Class: ClassPrivilegeChange, Priority: 75,
			Pattern: `(^|[\s;&|])(sudo|su\s+-|chown|setcap)\s`},
		{Name: "chmod-world-writable", Class: ClassPrivilegeChange, Priority: 70,
			Pattern: `\bchmod\s+(-R\s+)?0?777\b`},
		{Name: "git-history-rewrite", Class: ClassHistoryRewrite, Priority: 60, Amount: 15,
			Pattern: `\bgit\s+(filter-branch|filter-repo|rebase\s+-i)\b`},
	}
}

type compiledPattern struct {
	HazardPattern
	re      *regexp.Regexp
	actions map[string]bool
}

func compilePatterns(patterns []HazardPattern) ([]compiledPattern, error) {
	seen := make(map[string]bool, len(patterns))
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Name == "" {
			return nil, fmt.Errorf("hazard pattern with empty name")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate hazard pattern %q", p.Name)
		}
		seen[p.Name] = true

		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("hazard pattern %q: %w", p.Name, err)
		}
		cp := compiledPattern{HazardPattern: p, re: re}
		if len(p.Actions) > 0 {
			cp.actions = make(map[string]bool, len(p.Actions))
			for _, a := range p.Actions {
				cp.actions[strings.ToLower(a)] = true
			}
		}
		compiled = append(compiled, cp)
	}

	// Highest priority first, then by name so equal priorities resolve the
	// same way every time.
	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority > compiled[j].Priority
		}
		return compiled[i].Name < compiled[j].Name
	})
	return compiled, nil
}

func (p compiledPattern) matches(d ActionDescriptor) bool {
	if p.actions != nil && !p.actions[strings.ToLower(d.Action)] {
		return false
	}
	return p.re.MatchString(d.Text)
}

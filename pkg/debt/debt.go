// Package debt keeps the override accountability ledger. Every override that
// bypasses a blocking rule owes one debt record per rule; while any debt is
// unpaid, mutating actions outside the corrective allow-list stay blocked.
package debt

import (
	"path"
	"strings"
	"time"
)

// DocumentName is the store document holding all debt records.
const DocumentName = "debt"

// Record is one debt owed for bypassing a rule.
type Record struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	Category  string    `json:"category"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Bypasses counts how often the rule was overridden while unpaid.
	Bypasses int `json:"bypasses"`

	Paid   bool      `json:"paid"`
	PaidAt time.Time `json:"paid_at,omitzero"`
	PaidBy string    `json:"paid_by,omitempty"`
}

// Document is the persisted debt ledger.
type Document struct {
	Records []Record `json:"records"`
}

func newDocument() *Document {
	return &Document{}
}

func (d *Document) unpaid(ruleID string) *Record {
	for i := range d.Records {
		if d.Records[i].RuleID == ruleID && !d.Records[i].Paid {
			return &d.Records[i]
		}
	}
	return nil
}

func (d *Document) outstanding() []Record {
	var out []Record
	for _, r := range d.Records {
		if !r.Paid {
			out = append(out, r)
		}
	}
	return out
}

// Corrective describes actions that pay debt: an action in Actions whose
// target matches one of Paths. An empty Actions list matches any action.
type Corrective struct {
	Actions []string `yaml:"actions" json:"actions"`

	// Paths are slash-separated globs matched against the tail of the
	// target, so "rules/*.yaml" matches "/repo/policy/rules/x.yaml".
	Paths []string `yaml:"paths" json:"paths"`
}

// Config configures a Tracker.
type Config struct {
	AllowList []Corrective `yaml:"allow_list" json:"allow_list"`

	// KeepPaid is how long paid records are kept before Prune drops them.
	KeepPaid time.Duration `yaml:"keep_paid" json:"keep_paid"`
}

// DefaultConfig allows edits to rule definition files.
func DefaultConfig() Config {
	return Config{
		AllowList: []Corrective{{
			Actions: []string{"edit", "write"},
			Paths:   []string{"rules/*.yaml", "rules/*.yml"},
		}},
		KeepPaid: 7 * 24 * time.Hour,
	}
}

// Validate checks every glob in the allow-list.
func (c Config) Validate() error {
	for _, entry := range c.AllowList {
		for _, p := range entry.Paths {
			if _, err := path.Match(p, ""); err != nil {
				return &PatternError{Pattern: p, Cause: err}
			}
		}
	}
	return nil
}

// Matches reports whether action on target is corrective.
func (c Corrective) Matches(action, target string) bool {
	if target == "" {
		return false
	}
	if len(c.Actions) > 0 {
		found := false
		for _, a := range c.Actions {
			if strings.EqualFold(a, action) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, p := range c.Paths {
		if matchTail(p, target) {
			return true
		}
	}
	return false
}

// matchTail matches pattern against the trailing segments of target.
func matchTail(pattern, target string) bool {
	target = strings.ReplaceAll(target, "\\", "/")
	pattern = strings.TrimPrefix(pattern, "./")
	if strings.HasPrefix(pattern, "/") {
		ok, _ := path.Match(pattern, path.Clean(target))
		return ok
	}
	segs := strings.Split(strings.Trim(path.Clean(target), "/"), "/")
	n := strings.Count(pattern, "/") + 1
	if n > len(segs) {
		return false
	}
	ok, _ := path.Match(pattern, strings.Join(segs[len(segs)-n:], "/"))
	return ok
}

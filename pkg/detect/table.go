package detect

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ActionSpec describes how the gate treats one action name.
type ActionSpec struct {
	// Mutating marks actions that change the workspace.
	Mutating bool `yaml:"mutating" json:"mutating"`

	// Evidence is the evidence kind recorded when the action is requested.
	Evidence string `yaml:"evidence,omitempty" json:"evidence,omitempty"`

	// Target names the parameter holding the action's target.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`

	// Text names the parameters classified against the hazard table.
	Text []string `yaml:"text,omitempty" json:"text,omitempty"`

	// Circuit names the circuit guarding the action.
	Circuit string `yaml:"circuit,omitempty" json:"circuit,omitempty"`

	// SuccessEvidence is recorded when the host reports success.
	SuccessEvidence string `yaml:"success_evidence,omitempty" json:"success_evidence,omitempty"`
}

// ActionTable maps action names to specs. Unknown actions use Default.
type ActionTable struct {
	Actions map[string]ActionSpec `yaml:"actions" json:"actions"`
	Default ActionSpec            `yaml:"default" json:"default"`
}

// DefaultActionTable returns the built-in table. Unknown actions are treated
// as mutating shell-like actions.
func DefaultActionTable() *ActionTable {
	return &ActionTable{
		Actions: map[string]ActionSpec{
			"read":       {Evidence: "inspect", Target: "path"},
			"grep":       {Evidence: "inspect", Target: "path"},
			"list":       {Evidence: "inspect", Target: "path"},
			"web_fetch":  {Evidence: "external_lookup", Target: "url"},
			"web_search": {Evidence: "external_lookup", Target: "query"},
			"think":      {Evidence: "reasoning"},
			"ask_user":   {Evidence: "user_confirm"},
			"edit":       {Mutating: true, Target: "path"},
			"write":      {Mutating: true, Target: "path"},
			"delete":     {Mutating: true, Target: "path", Text: []string{"path"}},
			"bash":       {Mutating: true, Target: "command", Text: []string{"command"}, Circuit: "bash"},
			"run_tests":  {Target: "path", Circuit: "tests", SuccessEvidence: "test_pass"},
			"verify":     {Evidence: "verify", Target: "path"},
		},
		Default: ActionSpec{Mutating: true, Text: []string{"command"}},
	}
}

// LoadActionTable reads a YAML action table from path.
func LoadActionTable(path string) (*ActionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action table: %w", err)
	}
	var t ActionTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse action table %q: %w", path, err)
	}
	if len(t.Actions) == 0 {
		return nil, fmt.Errorf("action table %q defines no actions", path)
	}
	return &t, nil
}

// Lookup returns the spec of action.
func (t *ActionTable) Lookup(action string) ActionSpec {
	if spec, ok := t.Actions[strings.ToLower(action)]; ok {
		return spec
	}
	return t.Default
}

// Names returns the configured action names, sorted.
func (t *ActionTable) Names() []string {
	names := make([]string, 0, len(t.Actions))
	for n := range t.Actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TargetOf returns the target parameter value of req.
func (t *ActionTable) TargetOf(req Request) string {
	spec := t.Lookup(req.Action)
	if spec.Target == "" {
		return ""
	}
	return req.Param(spec.Target)
}

// TextOf returns the parameter text classified against the hazard table.
func (t *ActionTable) TextOf(req Request) string {
	spec := t.Lookup(req.Action)
	var parts []string
	for _, p := range spec.Text {
		if v := req.Param(p); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// Detect implements Detector by emitting the action's evidence kind.
func (t *ActionTable) Detect(ctx context.Context, req Request) []Signal {
	spec := t.Lookup(req.Action)
	if spec.Evidence == "" {
		return nil
	}
	return []Signal{{
		Type:   SignalEvidence,
		Kind:   spec.Evidence,
		Target: t.TargetOf(req),
		Reason: req.Action,
	}}
}

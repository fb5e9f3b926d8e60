package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// TriggerKind identifies the variant of a Trigger.
type TriggerKind string

const (
	TriggerPredicate TriggerKind = "predicate"
	TriggerAll       TriggerKind = "all"
	TriggerAny       TriggerKind = "any"
	TriggerNot       TriggerKind = "not"
)

// Trigger is a boolean expression over predicate ids.
//
// In YAML a bare string is a predicate reference; a single-key mapping with
// all, any or not composes sub-expressions.
type Trigger struct {
	Kind      TriggerKind
	Predicate string
	Children  []Trigger
}

// Pred references a predicate.
func Pred(id string) Trigger {
	return Trigger{Kind: TriggerPredicate, Predicate: id}
}

// All is true when every child is true.
func All(children ...Trigger) Trigger {
	return Trigger{Kind: TriggerAll, Children: children}
}

// Any is true when at least one child is true.
func Any(children ...Trigger) Trigger {
	return Trigger{Kind: TriggerAny, Children: children}
}

// Not negates child.
func Not(child Trigger) Trigger {
	return Trigger{Kind: TriggerNot, Children: []Trigger{child}}
}

// IsZero reports whether the trigger is unset.
func (t Trigger) IsZero() bool {
	return t.Kind == ""
}

// Validate checks structure and that every predicate is registered.
func (t Trigger) Validate(reg *Registry) error {
	switch t.Kind {
	case "":
		return fmt.Errorf("%w: trigger is required", ErrInvalidRule)
	case TriggerPredicate:
		if _, ok := reg.Lookup(t.Predicate); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPredicate, t.Predicate)
		}
		return nil
	case TriggerAll, TriggerAny:
		if len(t.Children) == 0 {
			return fmt.Errorf("%w: %s needs at least one operand", ErrInvalidRule, t.Kind)
		}
	case TriggerNot:
		if len(t.Children) != 1 {
			return fmt.Errorf("%w: not needs exactly one operand", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidRule, t.Kind)
	}
	var errs []error
	for _, c := range t.Children {
		if err := c.Validate(reg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Predicates returns the distinct predicate ids referenced by t, sorted.
func (t Trigger) Predicates() []string {
	seen := map[string]bool{}
	t.walk(func(id string) { seen[id] = true })
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t Trigger) walk(fn func(string)) {
	if t.Kind == TriggerPredicate {
		fn(t.Predicate)
		return
	}
	for _, c := range t.Children {
		c.walk(fn)
	}
}

// Eval evaluates t against s. Predicates that held outside a negation are
// added to matched. Unknown predicates evaluate to false.
func (t Trigger) Eval(s *Snapshot, reg *Registry, matched map[string]bool) bool {
	return t.eval(s, reg, matched, false)
}

func (t Trigger) eval(s *Snapshot, reg *Registry, matched map[string]bool, negated bool) bool {
	switch t.Kind {
	case TriggerPredicate:
		p, ok := reg.Lookup(t.Predicate)
		if !ok {
			return false
		}
		v := p(s)
		if v && !negated && matched != nil {
			matched[t.Predicate] = true
		}
		return v
	case TriggerAll:
		for _, c := range t.Children {
			if !c.eval(s, reg, matched, negated) {
				return false
			}
		}
		return len(t.Children) > 0
	case TriggerAny:
		result := false
		for _, c := range t.Children {
			// No short-circuit: every holding predicate is reported.
			if c.eval(s, reg, matched, negated) {
				result = true
			}
		}
		return result
	case TriggerNot:
		if len(t.Children) != 1 {
			return false
		}
		return !t.Children[0].eval(s, reg, matched, !negated)
	default:
		return false
	}
}

func (t Trigger) value() any {
	switch t.Kind {
	case TriggerPredicate:
		return t.Predicate
	case TriggerNot:
		if len(t.Children) == 1 {
			return map[string]any{string(TriggerNot): t.Children[0].value()}
		}
		return map[string]any{string(TriggerNot): nil}
	case TriggerAll, TriggerAny:
		children := make([]any, len(t.Children))
		for i, c := range t.Children {
			children[i] = c.value()
		}
		return map[string]any{string(t.Kind): children}
	default:
		return nil
	}
}

// MarshalYAML implements yaml.Marshaler.
func (t Trigger) MarshalYAML() (any, error) {
	return t.value(), nil
}

// MarshalJSON implements json.Marshaler.
func (t Trigger) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.value())
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Trigger) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var id string
		if err := node.Decode(&id); err != nil {
			return err
		}
		*t = Pred(id)
		return nil

	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: trigger mapping must have exactly one key (all, any, not or predicate)", node.Line)
		}
		key, val := node.Content[0].Value, node.Content[1]
		switch TriggerKind(key) {
		case TriggerAll, TriggerAny:
			var children []Trigger
			if err := val.Decode(&children); err != nil {
				return err
			}
			*t = Trigger{Kind: TriggerKind(key), Children: children}
		case TriggerNot:
			var child Trigger
			if err := val.Decode(&child); err != nil {
				return err
			}
			*t = Not(child)
		case TriggerPredicate:
			var id string
			if err := val.Decode(&id); err != nil {
				return err
			}
			*t = Pred(id)
		default:
			return fmt.Errorf("line %d: unknown trigger operator %q", node.Line, key)
		}
		return nil

	default:
		return fmt.Errorf("line %d: trigger must be a predicate id or a mapping", node.Line)
	}
}

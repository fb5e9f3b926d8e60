package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/policy/engine"
	"mercator-hq/gatekeeper/pkg/state"
)

// healthDocument is locked, never written, by StoreCheck.
const healthDocument = "health-check"

// StoreCheck verifies the state store can take a document lock.
func StoreCheck(store state.Store) CheckFunc {
	return func(ctx context.Context) error {
		err := store.Update(ctx, healthDocument, func([]byte) ([]byte, error) {
			return nil, nil
		})
		if err != nil {
			return fmt.Errorf("state store: %w", err)
		}
		return nil
	}
}

// AuditCounter is the part of the audit store the check needs.
type AuditCounter interface {
	Count(ctx context.Context, q audit.Query) (int64, error)
}

// AuditCheck verifies the audit database answers queries.
func AuditCheck(store AuditCounter) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := store.Count(ctx, audit.Query{Limit: 1}); err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		return nil
	}
}

// RuleSet is the part of the rule engine the check needs.
type RuleSet interface {
	Rules() []engine.Rule
}

// RulesCheck fails while no rules are loaded, which happens when every rule
// file failed to load and no built-in rules are configured.
func RulesCheck(rules RuleSet) CheckFunc {
	return func(context.Context) error {
		if len(rules.Rules()) == 0 {
			return errors.New("no rules loaded")
		}
		return nil
	}
}

package source

import (
	"context"
	"sync"

	"mercator-hq/gatekeeper/pkg/policy/engine"
)

// MemorySource is an in-memory rule source for tests and embedded use.
type MemorySource struct {
	mu    sync.RWMutex
	rules []engine.Rule
}

// NewMemorySource creates an in-memory source.
func NewMemorySource(rules ...engine.Rule) *MemorySource {
	return &MemorySource{rules: rules}
}

// LoadRules returns a copy of the stored rules.
func (s *MemorySource) LoadRules(ctx context.Context) ([]engine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]engine.Rule, len(s.rules))
	copy(rules, s.rules)
	return rules, nil
}

// SetRules replaces the stored rules.
func (s *MemorySource) SetRules(rules []engine.Rule) {
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

// Package engine evaluates policy rules against a snapshot of the situation
// an agent action arises in, and resolves the resulting violations into a
// single allow, warn or deny decision.
//
// # Evaluation Flow
//
//	Snapshot (features of the action, session and shared state)
//	       ↓
//	Evaluate: every enabled rule's trigger is matched independently
//	       ↓
//	Violations ordered by category, effective level, rule id
//	       ↓
//	Resolve: override token applied once, strongest level decides
//	       ↓
//	Resolution (decision, reason, bypassed rules)
//
// # Categories and Levels
//
// Categories are ordered Safety > Quality > Epistemic > Workflow >
// Performance. Within a category the stronger level wins: Block > Warn >
// Suggest > Observe. Two rules with the same category and level are ordered
// by rule id, so output is reproducible.
//
// # Triggers
//
// A trigger is a boolean expression over feature predicates registered by id
// in a Registry:
//
//	trigger:
//	  all:
//	    - mutating_action
//	    - trust_ignorance
//	    - not: debt_unpaid
//
// Predicates are pure functions of the Snapshot, which makes Evaluate
// deterministic and replayable from a recorded snapshot.
//
// # Tuned Rules
//
// Rules marked tuned participate in auto-tuning. Their effective level is
// capped by the phase of their pattern carried in the snapshot: Observe caps
// at Observe, Warn at Warn, and Enforce leaves the rule at its declared level.
// Safety rules are immutable and never tuned.
//
// # Override Tokens
//
// A valid override token downgrades Block violations of non-immutable rules.
// Quality rules drop to Warn so the bypass stays visible; other categories
// drop to Allow. Each bypassed rule is reported so the caller can record
// debt. Immutable rules ignore the token.
//
// # Fail-Safe Modes
//
// When a decision cannot be computed (for example a state lock times out) the
// caller asks FailureDecision for the fallback: Safety and Quality actions
// fail closed, all others fail open, unless reconfigured.
package engine

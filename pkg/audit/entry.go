// Package audit keeps a queryable trail of gate decisions in SQLite.
package audit

import (
	"encoding/json"
	"time"
)

// Entry is one recorded decision.
type Entry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn"`
	Action    string    `json:"action"`
	Category  string    `json:"category"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	Context   string    `json:"context,omitempty"`
	Trust     int       `json:"trust"`
	Risk      int       `json:"risk"`

	// RuleIDs lists the rules that fired, in priority order.
	RuleIDs  []string `json:"rule_ids,omitempty"`
	Bypassed []string `json:"bypassed,omitempty"`

	OverrideUsed bool   `json:"override_used,omitempty"`
	EngineError  string `json:"engine_error,omitempty"`

	Duration time.Duration `json:"duration"`

	// Snapshot is the JSON encoded feature snapshot the rules saw.
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

// Query filters entries. Zero fields match everything.
type Query struct {
	SessionID string
	Decision  string
	Action    string
	RuleID    string
	Since     time.Time
	Until     time.Time

	// Limit caps the result size; zero uses DefaultLimit.
	Limit int
}

// DefaultLimit bounds queries without an explicit limit.
const DefaultLimit = 100

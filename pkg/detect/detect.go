// Package detect turns an action request into signals for the gate. The
// text and pattern analysis that recognizes evidence in a transcript lives
// in the host; detectors here either forward what the host computed or map
// action names to evidence through a table.
package detect

import (
	"context"
	"fmt"
	"strings"
)

// SignalType identifies what a signal feeds.
type SignalType string

const (
	// SignalEvidence records trust evidence of Kind on Target.
	SignalEvidence SignalType = "evidence"
	// SignalPenalty applies the trust penalty Kind.
	SignalPenalty SignalType = "penalty"
	// SignalReward applies an explicit trust reward of Delta.
	SignalReward SignalType = "reward"
	// SignalHazard raises risk by the hazard pattern Kind or by Delta.
	SignalHazard SignalType = "hazard"
	// SignalApproach marks one attempt of the approach signature Kind.
	SignalApproach SignalType = "approach"
	// SignalError records an unresolved error with signature Kind.
	SignalError SignalType = "error"
	// SignalErrorResolved resolves the error Kind, or all errors if empty.
	SignalErrorResolved SignalType = "error_resolved"
	// SignalRemediation marks the tuning pattern Kind as remediated.
	SignalRemediation SignalType = "remediation"
	// SignalFlag sets the boolean feature Kind, readable as "signal:<Kind>".
	SignalFlag SignalType = "flag"
)

// Valid reports whether t is a known signal type.
func (t SignalType) Valid() bool {
	switch t {
	case SignalEvidence, SignalPenalty, SignalReward, SignalHazard, SignalApproach,
		SignalError, SignalErrorResolved, SignalRemediation, SignalFlag:
		return true
	default:
		return false
	}
}

// MaxSignalDelta bounds the magnitude of a signal's delta; scores span
// [0,100], so nothing larger can have a different effect.
const MaxSignalDelta = 100

// Signal is one observation about an action.
type Signal struct {
	Type   SignalType `json:"type" yaml:"type"`
	Kind   string     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Target string     `json:"target,omitempty" yaml:"target,omitempty"`
	Reason string     `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Delta overrides the table value for evidence, reward and hazard.
	Delta *int `json:"delta,omitempty" yaml:"delta,omitempty"`
}

// Validate checks that the signal is usable.
func (s Signal) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("unknown signal type %q", s.Type)
	}
	if s.Delta != nil && (*s.Delta < -MaxSignalDelta || *s.Delta > MaxSignalDelta) {
		return fmt.Errorf("%s signal delta %d is outside [-%d,%d]", s.Type, *s.Delta, MaxSignalDelta, MaxSignalDelta)
	}
	switch s.Type {
	case SignalErrorResolved:
		return nil
	case SignalReward, SignalHazard:
		if s.Kind == "" && s.Delta == nil {
			return fmt.Errorf("%s signal needs a kind or a delta", s.Type)
		}
		return nil
	}
	if strings.TrimSpace(s.Kind) == "" {
		return fmt.Errorf("%s signal needs a kind", s.Type)
	}
	return nil
}

// Request is the action a detector looks at.
type Request struct {
	Action     string
	Parameters map[string]any
	SessionID  string
	Turn       int
}

// Param returns the string value of a parameter, or "".
func (r Request) Param(name string) string {
	switch v := r.Parameters[name].(type) {
	case string:
		return v
	case nil:
		return ""
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Detector produces signals for a request. Detectors must not fail the
// request; malformed input yields no signals.
type Detector interface {
	Detect(ctx context.Context, req Request) []Signal
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, req Request) []Signal

// Detect implements Detector.
func (f DetectorFunc) Detect(ctx context.Context, req Request) []Signal {
	return f(ctx, req)
}

// Chain runs detectors in order and concatenates their signals.
type Chain []Detector

// Detect implements Detector.
func (c Chain) Detect(ctx context.Context, req Request) []Signal {
	var out []Signal
	for _, d := range c {
		out = append(out, d.Detect(ctx, req)...)
	}
	return out
}

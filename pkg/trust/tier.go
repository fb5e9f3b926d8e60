package trust

import (
	"fmt"
	"strings"
)

// Tier is the discrete trust band derived from a score.
type Tier int

const (
	// TierIgnorance: the agent has not yet gathered enough evidence to act.
	TierIgnorance Tier = iota
	// TierHypothesis: the agent has a working theory backed by some evidence.
	TierHypothesis
	// TierCertainty: the agent has verified its understanding.
	TierCertainty
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierIgnorance:
		return "ignorance"
	case TierHypothesis:
		return "hypothesis"
	case TierCertainty:
		return "certainty"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignorance":
		return TierIgnorance, nil
	case "hypothesis":
		return TierHypothesis, nil
	case "certainty":
		return TierCertainty, nil
	default:
		return TierIgnorance, fmt.Errorf("unknown trust tier: %q", s)
	}
}

// Tiers holds the lower bound of each tier above Ignorance.
type Tiers struct {
	Hypothesis int `yaml:"hypothesis" json:"hypothesis"`
	Certainty  int `yaml:"certainty" json:"certainty"`
}

// DefaultTiers returns the standard breakpoints: 0-30 Ignorance,
// 31-70 Hypothesis, 71-100 Certainty.
func DefaultTiers() Tiers {
	return Tiers{Hypothesis: 31, Certainty: 71}
}

// Tier maps score onto its tier.
func (t Tiers) Tier(score int) Tier {
	switch {
	case score >= t.Certainty:
		return TierCertainty
	case score >= t.Hypothesis:
		return TierHypothesis
	default:
		return TierIgnorance
	}
}

// Validate checks that the breakpoints are ordered and within range.
func (t Tiers) Validate() error {
	if t.Hypothesis <= MinScore || t.Hypothesis > MaxScore {
		return fmt.Errorf("hypothesis breakpoint must be in (%d,%d], got %d", MinScore, MaxScore, t.Hypothesis)
	}
	if t.Certainty <= t.Hypothesis || t.Certainty > MaxScore {
		return fmt.Errorf("certainty breakpoint must be in (%d,%d], got %d", t.Hypothesis, MaxScore, t.Certainty)
	}
	return nil
}

// TierFor maps score onto a tier using DefaultTiers.
func TierFor(score int) Tier {
	return DefaultTiers().Tier(score)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

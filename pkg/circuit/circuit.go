// Package circuit implements process-wide circuit breakers over named action
// classes or external dependencies. All circuits live in one shared document
// so every session observes the same state.
package circuit

import (
	"fmt"
	"time"
)

// State is the state of a circuit.
type State string

const (
	// StateClosed: normal operation, actions are allowed.
	StateClosed State = "closed"
	// StateOpen: the circuit tripped, actions are blocked until cool-down.
	StateOpen State = "open"
	// StateHalfOpen: probation, a single trial action is allowed.
	StateHalfOpen State = "half_open"
)

// DocumentName is the store document holding all circuits.
const DocumentName = "circuits"

// Settings are the thresholds of one circuit.
type Settings struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int `yaml:"threshold" json:"threshold"`

	// Cooldown is how long an open circuit waits before allowing a trial.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`

	// FailureTTL forgets consecutive failures older than this while closed.
	// Zero keeps them until a success.
	FailureTTL time.Duration `yaml:"failure_ttl" json:"failure_ttl"`
}

// Config holds default settings and per-circuit overrides.
type Config struct {
	Default   Settings            `yaml:"default" json:"default"`
	Overrides map[string]Settings `yaml:"overrides" json:"overrides"`
}

// DefaultConfig returns a threshold of 3 with a five-minute cool-down.
func DefaultConfig() Config {
	return Config{
		Default: Settings{
			Threshold:  3,
			Cooldown:   5 * time.Minute,
			FailureTTL: 30 * time.Minute,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Default.validate("default"); err != nil {
		return err
	}
	for name, s := range c.Overrides {
		if err := s.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (s Settings) validate(name string) error {
	if s.Threshold < 1 {
		return fmt.Errorf("circuit %s: threshold must be at least 1, got %d", name, s.Threshold)
	}
	if s.Cooldown <= 0 {
		return fmt.Errorf("circuit %s: cooldown must be positive", name)
	}
	if s.FailureTTL < 0 {
		return fmt.Errorf("circuit %s: failure_ttl must not be negative", name)
	}
	return nil
}

// SettingsFor returns the effective settings of the named circuit.
func (c Config) SettingsFor(name string) Settings {
	if s, ok := c.Overrides[name]; ok {
		return s
	}
	return c.Default
}

// Circuit is the persisted state of one named circuit.
type Circuit struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastFailureReason   string    `json:"last_failure_reason,omitempty"`
	LastTransition      time.Time `json:"last_transition,omitempty"`
	TrialInFlight       bool      `json:"trial_in_flight,omitempty"`
	Opens               int       `json:"opens"`
}

// Document is the shared circuit document.
type Document struct {
	Circuits map[string]*Circuit `json:"circuits"`
}

func newDocument() *Document {
	return &Document{Circuits: map[string]*Circuit{}}
}

func (d *Document) circuit(name string) *Circuit {
	if d.Circuits == nil {
		d.Circuits = map[string]*Circuit{}
	}
	c, ok := d.Circuits[name]
	if !ok {
		c = &Circuit{Name: name, State: StateClosed}
		d.Circuits[name] = c
	}
	return c
}

// StateChange reports a transition of one circuit.
type StateChange struct {
	Name   string    `json:"name"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Message renders the change for operators and agents.
func (c StateChange) Message() string {
	switch c.To {
	case StateOpen:
		return fmt.Sprintf("circuit %q opened: %s", c.Name, c.Reason)
	case StateHalfOpen:
		return fmt.Sprintf("circuit %q is half-open: next action is a trial", c.Name)
	case StateClosed:
		return fmt.Sprintf("circuit %q closed", c.Name)
	default:
		return fmt.Sprintf("circuit %q: %s -> %s", c.Name, c.From, c.To)
	}
}

// Snapshot is a read-only view of a circuit at a point in time.
type Snapshot struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Threshold           int       `json:"threshold"`
	LastFailureReason   string    `json:"last_failure_reason,omitempty"`
	RetryAt             time.Time `json:"retry_at,omitempty"`
}

// advance applies the time-driven parts of the state machine: an open
// circuit past its cool-down becomes half-open, and stale failures of a
// closed circuit are forgotten. It returns the transition, if any.
func advance(c *Circuit, s Settings, now time.Time) *StateChange {
	switch c.State {
	case StateOpen:
		if now.Sub(c.LastTransition) >= s.Cooldown {
			return transition(c, StateHalfOpen, now, "cooldown elapsed")
		}
	case StateClosed:
		if s.FailureTTL > 0 && c.ConsecutiveFailures > 0 && now.Sub(c.LastFailure) > s.FailureTTL {
			c.ConsecutiveFailures = 0
		}
	case "":
		c.State = StateClosed
	}
	return nil
}

func transition(c *Circuit, to State, now time.Time, reason string) *StateChange {
	change := &StateChange{Name: c.Name, From: c.State, To: to, At: now, Reason: reason}
	c.State = to
	c.LastTransition = now
	c.TrialInFlight = false
	if to == StateOpen {
		c.Opens++
	}
	return change
}

func snapshotOf(c *Circuit, s Settings) Snapshot {
	snap := Snapshot{
		Name:                c.Name,
		State:               c.State,
		ConsecutiveFailures: c.ConsecutiveFailures,
		Threshold:           s.Threshold,
		LastFailureReason:   c.LastFailureReason,
	}
	if c.State == StateOpen {
		snap.RetryAt = c.LastTransition.Add(s.Cooldown)
	}
	return snap
}

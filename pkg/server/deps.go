package server

import (
	"context"
	"net/http"

	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/debt"
	"mercator-hq/gatekeeper/pkg/gate"
	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
)

// Decider evaluates requests and records outcomes. *gate.Gate satisfies it.
type Decider interface {
	Decide(ctx context.Context, req gate.Request) (*gate.Response, error)
	RecordOutcome(ctx context.Context, rep gate.OutcomeReport) (*gate.OutcomeResult, error)
}

// SessionReader reads session snapshots.
type SessionReader interface {
	Get(ctx context.Context, id string) (*session.Session, bool)
}

// CircuitReader reads circuit snapshots.
type CircuitReader interface {
	Status(ctx context.Context, name string) circuit.Snapshot
	All(ctx context.Context) []circuit.Snapshot
}

// DebtReader lists debt records.
type DebtReader interface {
	Outstanding(ctx context.Context) ([]debt.Record, error)
	All(ctx context.Context) []debt.Record
}

// Dependencies are the components the server routes to. Only Decider is
// required; a nil reader makes its routes answer 501.
type Dependencies struct {
	Decider  Decider
	Sessions SessionReader
	Circuits CircuitReader
	Debt     DebtReader

	Health        *health.Checker
	LivenessPath  string
	ReadinessPath string
	Version       health.VersionInfo

	// Metrics serves the exposition format at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

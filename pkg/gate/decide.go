package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/debt"
	"mercator-hq/gatekeeper/pkg/detect"
	"mercator-hq/gatekeeper/pkg/policy/engine"
	"mercator-hq/gatekeeper/pkg/risk"
	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/trust"
	"mercator-hq/gatekeeper/pkg/tuning"
)

// decision carries one request through the pipeline.
type decision struct {
	req      Request
	dreq     detect.Request
	spec     detect.ActionSpec
	target   string
	hazard   *risk.HazardPattern
	category engine.Category
	mutating bool
	signals  []detect.Signal

	// Filled by the session transaction.
	evidence     []trust.Outcome
	changes      []trust.ChangeOutcome
	risks        []riskApplied
	trustTouched bool
	trustDelta   int
	escalated    bool
	remediated   map[string]bool
	snap         *engine.Snapshot

	debts []debt.Record
	res   engine.Resolution
	notes []string
}

type riskApplied struct {
	reason string
	amount int
	res    risk.Result
}

// Decide runs req through the engine. The response is always well formed.
// A non-nil error is an *EngineError and the response then carries the
// fail-safe decision for the action's category.
func (g *Gate) Decide(ctx context.Context, req Request) (resp *Response, err error) {
	start := g.now()
	ctx, span := g.tracer.Start(ctx, "gate.Decide", trace.WithAttributes(
		attribute.String("gate.action", req.Action),
		attribute.String("gate.session_id", req.SessionID),
		attribute.Int("gate.turn", req.Turn),
	))
	defer span.End()

	d := g.newDecision(req)
	defer func() {
		if p := recover(); p != nil {
			resp, err = g.fail(ctx, d, "panic", fmt.Errorf("panic: %v", p))
		}
		g.finish(ctx, span, d, resp, err, g.now().Sub(start))
	}()

	if verr := req.Validate(); verr != nil {
		return g.invalid(ctx, d, verr), nil
	}
	return g.decide(ctx, d)
}

func (g *Gate) newDecision(req Request) *decision {
	d := &decision{
		req: req,
		dreq: detect.Request{
			Action:     req.Action,
			Parameters: req.Parameters,
			SessionID:  req.SessionID,
			Turn:       req.Turn,
		},
		spec:       g.actions.Lookup(req.Action),
		remediated: map[string]bool{},
	}
	d.target = g.actions.TargetOf(d.dreq)
	d.mutating = d.spec.Mutating
	if v, ok := boolParam(req.Parameters, ParamMutating); ok {
		d.mutating = v
	}
	d.hazard = g.deps.Risk.Classify(risk.ActionDescriptor{
		Action: req.Action,
		Text:   g.actions.TextOf(d.dreq),
	})
	d.category = g.categoryOf(req.Action, d.hazard)
	return d
}

// invalid answers a malformed request.
func (g *Gate) invalid(ctx context.Context, d *decision, cause error) *Response {
	g.logger.Warn("invalid request",
		"action", d.req.Action,
		"session_id", d.req.SessionID,
		"category", d.category,
		"error", cause,
	)
	g.diagnostic(ctx, "invalid_request", d.req.SessionID, map[string]string{
		"action":   d.req.Action,
		"category": string(d.category),
		"error":    cause.Error(),
	})
	if d.category == engine.CategorySafety {
		return &Response{
			Decision: engine.DecisionDeny,
			Reason:   fmt.Sprintf("cannot validate %s request: %v", d.category, cause),
		}
	}
	return &Response{Decision: engine.DecisionAllow}
}

func (g *Gate) decide(ctx context.Context, d *decision) (*Response, error) {
	d.signals = g.detector.Detect(ctx, d.dreq)
	for _, s := range d.signals {
		if s.Type == detect.SignalHazard {
			d.category = engine.CategorySafety
		}
	}

	now := g.now()
	_, err := g.deps.Sessions.Update(ctx, d.req.SessionID, func(s *session.Session) error {
		g.applySignals(d, s, now)
		return nil
	})
	if err != nil {
		return g.fail(ctx, d, "session", err)
	}
	g.journal(ctx, d)

	if err := g.readCircuits(ctx, d); err != nil {
		return g.fail(ctx, d, "circuit", err)
	}

	debts, err := g.deps.Debt.Outstanding(ctx)
	if err != nil {
		return g.fail(ctx, d, "debt", err)
	}
	d.debts = debts
	d.snap.UnpaidDebt = len(debts)
	d.snap.DebtCorrective = g.deps.Debt.IsCorrective(d.req.Action, d.target)
	d.snap.Phases = g.deps.Tuning.Phases(ctx)

	violations := g.deps.Engine.Evaluate(d.snap)
	d.res = g.deps.Engine.Resolve(violations, d.req.OverrideToken)

	if err := g.settle(ctx, d); err != nil {
		return g.fail(ctx, d, "debt", err)
	}
	g.tune(ctx, d)

	if d.escalated {
		d.notes = append(d.notes, fmt.Sprintf(
			"risk %d reached the escalation threshold %d: convene a multi-perspective review before further destructive actions",
			d.snap.Risk, d.snap.RiskThreshold))
		g.recorder.RecordEscalation()
	}
	if d.snap.Circuit != "" {
		if st := d.snap.CircuitState(d.snap.Circuit); st != circuit.StateClosed {
			d.notes = append(d.notes, fmt.Sprintf("circuit %q is %s", d.snap.Circuit, st))
		}
	}

	resp := &Response{
		Decision: d.res.Decision,
		Reason:   d.res.Reason,
		Context:  strings.Join(append(append([]string{}, d.res.Suggestions...), d.notes...), "; "),
	}
	if d.trustTouched {
		delta := d.trustDelta
		resp.ScoreDelta = &delta
	}
	return resp, nil
}

// applySignals is the body of the session transaction. It may run more
// than once, so it resets everything it accumulates.
func (g *Gate) applySignals(d *decision, s *session.Session, now time.Time) {
	d.evidence, d.changes, d.risks = nil, nil, nil
	d.trustTouched, d.trustDelta, d.escalated = false, 0, false
	clear(d.remediated)

	turn := d.req.Turn
	s.ObserveTurn(turn)
	ratio := floatParam(d.req.Parameters, ParamContextRatio)
	if ratio > 0 {
		s.ContextRatio = ratio
	}

	snap := &engine.Snapshot{
		Action:            d.req.Action,
		Mutating:          d.mutating,
		Target:            d.target,
		SessionID:         d.req.SessionID,
		Turn:              turn,
		Time:              now,
		RiskThreshold:     g.deps.Risk.Threshold(),
		Circuit:           d.spec.Circuit,
		SunkCostThreshold: g.cfg.SunkCostAttempts,
		VerifyGap:         g.cfg.VerifyGap,
		Signals:           map[string]bool{},
	}

	var hazards []riskApplied
	for _, sig := range d.signals {
		switch sig.Type {
		case detect.SignalEvidence:
			if sig.Target != "" && s.SeenTarget(sig.Kind, sig.Target) > 0 {
				snap.RepeatedEvidence = true
			}
			out := g.deps.Trust.Apply(s, trust.Observation{
				Kind:         sig.Kind,
				Target:       sig.Target,
				Reason:       sig.Reason,
				Turn:         turn,
				Delta:        sig.Delta,
				ContextRatio: ratio,
			})
			d.evidence = append(d.evidence, out)
			d.trustTouched = true
			d.trustDelta += out.Applied
		case detect.SignalPenalty:
			out := g.deps.Trust.ApplyPenalty(s, sig.Kind, sig.Reason, turn)
			d.changes = append(d.changes, out)
			d.trustTouched = true
			d.trustDelta += out.Applied
		case detect.SignalReward:
			amount := g.deps.Trust.Config().Events[sig.Kind]
			if sig.Delta != nil {
				amount = *sig.Delta
			}
			kind := sig.Kind
			if kind == "" {
				kind = "reward"
			}
			out := g.deps.Trust.ApplyReward(s, kind, amount, sig.Reason, turn)
			d.changes = append(d.changes, out)
			d.trustTouched = true
			d.trustDelta += out.Applied
		case detect.SignalHazard:
			amount := g.deps.Risk.AmountFor(nil)
			if sig.Delta != nil {
				amount = *sig.Delta
			}
			name := sig.Kind
			if name == "" {
				name = "reported"
			}
			hazards = append(hazards, riskApplied{reason: name, amount: amount})
			if snap.Hazard == "" {
				snap.Hazard = name
			}
		case detect.SignalApproach:
			s.RecordApproach(sig.Kind)
		case detect.SignalError:
			s.RecordError(sig.Kind, now)
		case detect.SignalErrorResolved:
			s.ResolveError(sig.Kind)
		case detect.SignalRemediation:
			d.remediated[sig.Kind] = true
		case detect.SignalFlag:
			snap.Signals[sig.Kind] = true
		}
	}

	if d.hazard != nil {
		snap.Hazard = d.hazard.Name
		snap.HazardClass = string(d.hazard.Class)
		hazards = append([]riskApplied{{
			reason: d.hazard.Name,
			amount: g.deps.Risk.AmountFor(d.hazard),
		}}, hazards...)
	}
	for _, h := range hazards {
		h.res = g.deps.Risk.Apply(s, h.amount, h.reason, turn)
		d.risks = append(d.risks, h)
		if h.res.Escalate {
			d.escalated = true
		}
	}

	s.PruneErrors(now, g.cfg.ErrorTTL)

	snap.Trust = s.Trust
	snap.Tier = g.deps.Trust.Tier(s.Trust)
	snap.StaleContext = g.deps.Trust.Stale(s.Trust, s.ContextRatio)
	snap.Risk = s.Risk
	snap.Escalated = s.Escalated
	snap.SunkCostAttempts = s.MaxApproachAttempts()
	snap.UnresolvedErrors = len(s.UnresolvedErrors(now, g.cfg.ErrorTTL))
	snap.TurnsSinceVerify = -1
	if n, ok := s.TurnsSince(trust.KindVerify, turn); ok {
		snap.TurnsSinceVerify = n
	}
	d.snap = snap
}

func (g *Gate) journal(ctx context.Context, d *decision) {
	for _, out := range d.evidence {
		g.deps.Trust.Journal(ctx, d.req.SessionID, out)
	}
	for _, out := range d.changes {
		g.deps.Trust.JournalChange(ctx, d.req.SessionID, out)
	}
	for _, r := range d.risks {
		g.deps.Risk.Journal(ctx, d.req.SessionID, r.reason, r.res)
	}
}

// readCircuits fills the circuit view of the snapshot. A half-open circuit
// guarding this action admits one trial; every other request sees it open.
func (g *Gate) readCircuits(ctx context.Context, d *decision) error {
	d.snap.Circuits = g.deps.Circuits.States(ctx)
	name := d.snap.Circuit
	if name == "" || d.snap.Circuits[name] != circuit.StateHalfOpen {
		return nil
	}
	allowed, err := g.deps.Circuits.Allow(ctx, name)
	if err != nil {
		return err
	}
	if !allowed {
		d.snap.Circuits[name] = circuit.StateOpen
	}
	return nil
}

// settle records debt for every bypassed violation and pays outstanding
// debt when this is a corrective change that went through.
func (g *Gate) settle(ctx context.Context, d *decision) error {
	for _, v := range d.res.Refused {
		g.recorder.RecordOverride(v.RuleID, true)
	}
	for _, v := range d.res.Bypassed {
		rec, _, err := g.deps.Debt.Incur(ctx, v.RuleID, string(v.Category), d.req.SessionID, v.Describe())
		if err != nil {
			return err
		}
		g.recorder.RecordOverride(v.RuleID, false)
		g.logger.Info("override accepted, debt recorded",
			"rule_id", v.RuleID,
			"debt_id", rec.ID,
			"session_id", d.req.SessionID,
		)
	}
	if len(d.res.Bypassed) > 0 {
		d.notes = append(d.notes, "override debt recorded; only corrective changes are allowed until it is paid")
		return nil
	}

	if len(d.debts) == 0 {
		return nil
	}
	if !d.snap.DebtCorrective || !d.mutating || d.res.Decision == engine.DecisionDeny {
		d.notes = append(d.notes, fmt.Sprintf("%d override debt(s) outstanding", len(d.debts)))
		return nil
	}
	paid, err := g.deps.Debt.Settle(ctx, d.req.Action, d.target)
	if err != nil {
		g.logger.Warn("failed to settle override debt", "error", err, "session_id", d.req.SessionID)
		g.diagnostic(ctx, "debt_settle_failed", d.req.SessionID, map[string]string{"error": err.Error()})
		return nil
	}
	if len(paid) > 0 {
		d.notes = append(d.notes, fmt.Sprintf("paid %d override debt(s)", len(paid)))
	}
	return nil
}

// tune reports one occurrence per tuned pattern that fired. Tuning failures
// never change the decision.
func (g *Gate) tune(ctx context.Context, d *decision) {
	seen := map[string]bool{}
	for _, v := range d.res.Violations {
		g.recorder.RecordViolation(v.RuleID, string(v.Category), v.Effective.String())
		if !v.Tuned || seen[v.Pattern] {
			continue
		}
		seen[v.Pattern] = true

		if action, msg := g.deps.Tuning.ShouldEnforce(v.Pattern, v.Phase); action == tuning.ActionWarn && msg != "" {
			d.notes = append(d.notes, msg)
		}
		tr, err := g.deps.Tuning.AutoTune(ctx, v.Pattern, d.req.Turn, tuning.Occurrence{
			SessionID:       d.req.SessionID,
			Bypassed:        v.Overridden,
			Remediated:      d.remediated[v.Pattern],
			DebtOutstanding: len(d.debts) > 0,
		})
		if err != nil {
			g.logger.Warn("auto-tuning failed",
				"pattern", v.Pattern,
				"error", err,
			)
			g.diagnostic(ctx, "tuning_failed", d.req.SessionID, map[string]string{
				"pattern": v.Pattern,
				"error":   err.Error(),
			})
			continue
		}
		if tr != nil {
			g.recorder.RecordPhaseTransition(tr.Pattern, string(tr.To))
		}
	}
}

// fail builds the fail-safe response for an engine failure.
func (g *Gate) fail(ctx context.Context, d *decision, stage string, cause error) (*Response, error) {
	dec := g.deps.Engine.FailureDecision(d.category)
	mode := "open"
	if dec == engine.DecisionDeny {
		mode = "closed"
	}
	g.logger.Error("engine failure",
		"stage", stage,
		"action", d.req.Action,
		"session_id", d.req.SessionID,
		"category", d.category,
		"decision", dec,
		"error", cause,
	)
	g.diagnostic(ctx, "engine_failure", d.req.SessionID, map[string]string{
		"stage":    stage,
		"action":   d.req.Action,
		"category": string(d.category),
		"decision": string(dec),
		"error":    cause.Error(),
	})
	g.recorder.RecordEngineFailure(stage)
	return &Response{
		Decision: dec,
		Reason:   fmt.Sprintf("engine failure during %s; failing %s for %s action", stage, mode, d.category),
	}, &EngineError{Stage: stage, Cause: cause}
}

// finish emits the audit entry, metrics and span status of a decision.
func (g *Gate) finish(ctx context.Context, span trace.Span, d *decision, resp *Response, err error, elapsed time.Duration) {
	if resp == nil {
		return
	}
	span.SetAttributes(
		attribute.String("gate.decision", string(resp.Decision)),
		attribute.String("gate.category", string(d.category)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	g.recorder.RecordDecision(d.req.Action, string(d.category), string(resp.Decision), elapsed)
	if d.snap != nil {
		g.recorder.ObserveScores(d.snap.Trust, d.snap.Risk)
	}

	g.logger.Debug("decision",
		"action", d.req.Action,
		"session_id", d.req.SessionID,
		"turn", d.req.Turn,
		"decision", resp.Decision,
		"reason", resp.Reason,
		"duration", elapsed,
	)

	if g.auditor == nil {
		return
	}
	entry := &audit.Entry{
		ID:           uuid.New().String(),
		Time:         g.now(),
		SessionID:    d.req.SessionID,
		Turn:         d.req.Turn,
		Action:       d.req.Action,
		Category:     string(d.category),
		Decision:     string(resp.Decision),
		Reason:       resp.Reason,
		Context:      resp.Context,
		OverrideUsed: d.res.OverrideUsed,
		Duration:     elapsed,
	}
	if d.snap != nil {
		entry.Trust = d.snap.Trust
		entry.Risk = d.snap.Risk
		if data, jerr := json.Marshal(d.snap); jerr == nil {
			entry.Snapshot = data
		}
	}
	for _, v := range d.res.Violations {
		entry.RuleIDs = append(entry.RuleIDs, v.RuleID)
	}
	for _, v := range d.res.Bypassed {
		entry.Bypassed = append(entry.Bypassed, v.RuleID)
	}
	var engErr *EngineError
	if errors.As(err, &engErr) {
		entry.EngineError = engErr.Error()
	}
	if aerr := g.auditor.Record(ctx, entry); aerr != nil {
		g.logger.Warn("failed to record audit entry", "error", aerr)
	}
}

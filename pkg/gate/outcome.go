package gate

import (
	"context"
	"fmt"
	"strings"

	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/detect"
	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/trust"
)

// RecordOutcome feeds the result of an executed action back into the
// circuits, the session's unresolved errors and trust. Host signals in
// parameters.signals are applied as well.
func (g *Gate) RecordOutcome(ctx context.Context, rep OutcomeReport) (*OutcomeResult, error) {
	if strings.TrimSpace(rep.Action) == "" || strings.TrimSpace(rep.SessionID) == "" {
		return nil, fmt.Errorf("%w: action and sessionId are required", ErrInvalidRequest)
	}

	dreq := detect.Request{
		Action:     rep.Action,
		Parameters: rep.Parameters,
		SessionID:  rep.SessionID,
		Turn:       rep.Turn,
	}
	spec := g.actions.Lookup(rep.Action)
	target := g.actions.TargetOf(dreq)
	signature := rep.Action
	if target != "" {
		signature += ":" + target
	}

	result := &OutcomeResult{Circuit: rep.Circuit}
	if result.Circuit == "" {
		result.Circuit = spec.Circuit
	}
	if result.Circuit != "" {
		var (
			change *circuit.StateChange
			err    error
		)
		if rep.Success {
			change, err = g.deps.Circuits.RecordSuccess(ctx, result.Circuit)
		} else {
			change, err = g.deps.Circuits.RecordFailure(ctx, result.Circuit, failureReason(rep))
		}
		if err != nil {
			return nil, &EngineError{Stage: "circuit", Cause: err}
		}
		if change != nil {
			result.CircuitChange = change.Message()
		}
		result.CircuitState = string(g.deps.Circuits.Status(ctx, result.Circuit).State)
	}

	signals := g.outcomes.Detect(ctx, dreq)
	now := g.now()
	var (
		evidence []trust.Outcome
		changes  []trust.ChangeOutcome
	)
	sess, err := g.deps.Sessions.Update(ctx, rep.SessionID, func(s *session.Session) error {
		evidence, changes = nil, nil
		s.ObserveTurn(rep.Turn)
		if rep.Success {
			s.ResolveError(signature)
			if spec.SuccessEvidence != "" {
				evidence = append(evidence, g.deps.Trust.Apply(s, trust.Observation{
					Kind:   spec.SuccessEvidence,
					Target: target,
					Reason: rep.Action + " succeeded",
					Turn:   rep.Turn,
				}))
			}
		} else {
			s.RecordError(signature, now)
			if n := g.cfg.RepeatedFailures; n > 0 && s.Errors[signature].Count >= n {
				changes = append(changes, g.deps.Trust.ApplyPenalty(s, trust.PenaltyRepeatedFailure, failureReason(rep), rep.Turn))
			}
		}
		for _, sig := range signals {
			switch sig.Type {
			case detect.SignalEvidence:
				evidence = append(evidence, g.deps.Trust.Apply(s, trust.Observation{
					Kind: sig.Kind, Target: sig.Target, Reason: sig.Reason, Turn: rep.Turn, Delta: sig.Delta,
				}))
			case detect.SignalPenalty:
				changes = append(changes, g.deps.Trust.ApplyPenalty(s, sig.Kind, sig.Reason, rep.Turn))
			case detect.SignalError:
				s.RecordError(sig.Kind, now)
			case detect.SignalErrorResolved:
				s.ResolveError(sig.Kind)
			case detect.SignalApproach:
				s.RecordApproach(sig.Kind)
			}
		}
		s.PruneErrors(now, g.cfg.ErrorTTL)
		return nil
	})
	if err != nil {
		return nil, &EngineError{Stage: "session", Cause: err}
	}

	for _, out := range evidence {
		g.deps.Trust.Journal(ctx, rep.SessionID, out)
		result.ScoreDelta += out.Applied
	}
	for _, out := range changes {
		g.deps.Trust.JournalChange(ctx, rep.SessionID, out)
		result.ScoreDelta += out.Applied
	}
	result.Trust = sess.Trust
	result.UnresolvedErrors = len(sess.UnresolvedErrors(now, g.cfg.ErrorTTL))

	g.logger.Debug("outcome recorded",
		"action", rep.Action,
		"session_id", rep.SessionID,
		"success", rep.Success,
		"circuit", result.Circuit,
		"circuit_state", result.CircuitState,
	)
	return result, nil
}

func failureReason(rep OutcomeReport) string {
	if rep.Error == "" {
		return rep.Action + " failed"
	}
	line, _, _ := strings.Cut(rep.Error, "\n")
	return strings.TrimSpace(line)
}

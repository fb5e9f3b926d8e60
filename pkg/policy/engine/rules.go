package engine

// DefaultRules returns the built-in rule set used when no rule files are
// configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "circuit-open",
			Category: CategorySafety,
			Level:    LevelBlock,
			Trigger:  Pred(PredCircuitOpen),
			Message:  "this action class is failing repeatedly; wait for the circuit cool-down",
		},
		{
			ID:       "destructive-without-understanding",
			Category: CategorySafety,
			Level:    LevelBlock,
			Trigger:  All(Pred(PredHazardousAction), Pred(PredTrustIgnorance)),
			Message:  "destructive action attempted before the workspace was investigated",
		},
		{
			ID:       "hazard-after-escalation",
			Category: CategorySafety,
			Level:    LevelWarn,
			Trigger:  All(Pred(PredHazardousAction), Pred(PredRiskEscalated)),
			Message:  "session risk is escalated; get a second review before further destructive actions",
		},
		{
			ID:           "mutation-with-unresolved-errors",
			Category:     CategoryQuality,
			Level:        LevelBlock,
			Trigger:      Pred(PredUnresolvedErrors),
			MutatingOnly: true,
			Tuned:        true,
			Message:      "resolve the outstanding errors before changing more code",
		},
		{
			ID:           "stale-context",
			Category:     CategoryEpistemic,
			Level:        LevelSuggest,
			Trigger:      Pred(PredStaleContext),
			MutatingOnly: true,
			Message:      "context is nearly exhausted; re-read the files you are about to change",
		},
		{
			ID:           "verification-stale",
			Category:     CategoryEpistemic,
			Level:        LevelSuggest,
			Trigger:      Pred(PredVerificationStale),
			MutatingOnly: true,
			Message:      "nothing has been verified recently; run the tests",
		},
		{
			ID:        "debt-outstanding",
			Category:  CategoryWorkflow,
			Level:     LevelBlock,
			Immutable: true,
			Trigger: All(
				Pred(PredMutatingAction),
				Pred(PredDebtUnpaid),
				Not(Pred(PredDebtCorrective)),
			),
			Message: "an override left unpaid debt; fix the bypassed rule before other changes",
		},
		{
			ID:       "mutation-requires-hypothesis",
			Category: CategoryWorkflow,
			Level:    LevelBlock,
			Trigger:  All(Pred(PredMutatingAction), Pred(PredTrustIgnorance)),
			Message:  "gather evidence before modifying the workspace",
		},
		{
			ID:       "sunk-cost",
			Category: CategoryWorkflow,
			Level:    LevelWarn,
			Trigger:  Pred(PredSunkCost),
			Tuned:    true,
			Message:  "the same approach keeps failing; step back and try another",
		},
		{
			ID:       "repeated-file-inspection",
			Category: CategoryPerformance,
			Level:    LevelBlock,
			Trigger:  All(Pred(PredRepeatedEvidence), Not(Pred(PredMutatingAction))),
			Tuned:    true,
			Message:  "this resource was already inspected; use what you learned",
		},
	}
}

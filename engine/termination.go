package engine

import (
	"github.com/hupe1980/draftmesh/core"
)

// RoundSummary is what the termination evaluator sees after a round.
type RoundSummary struct {
	Round     int
	MaxRounds int
	Threshold *float64
	// FinalPhaseTurns are this round's turns of the plan's final phase.
	FinalPhaseTurns []core.ExchangeTurn
	Stopped         bool
	Depleted        bool
}

// Terminate decides whether a session ends after a round. Conditions are
// checked in order: round limit, score threshold, stop request, credit
// depletion. The threshold is met when any evaluated final-phase turn of the
// round scores at least the threshold.
func Terminate(s RoundSummary) (string, bool) {
	if s.Round >= s.MaxRounds {
		return core.ReasonMaxRounds, true
	}

	if ThresholdMet(s.Threshold, s.FinalPhaseTurns) {
		return core.ReasonQualityMet, true
	}

	if s.Stopped {
		return core.ReasonStoppedByUser, true
	}

	if s.Depleted {
		return core.ReasonCreditDepleted, true
	}

	return "", false
}

// ThresholdMet reports whether any successful, evaluated turn reaches
// threshold. A nil threshold is never met.
func ThresholdMet(threshold *float64, turns []core.ExchangeTurn) bool {
	if threshold == nil {
		return false
	}

	for _, t := range turns {
		if t.Failed() {
			continue
		}

		if score, ok := t.Evaluation.Overall(); ok && score >= *threshold {
			return true
		}
	}

	return false
}

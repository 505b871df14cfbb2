package credit

import (
	"math"

	"github.com/hupe1980/draftmesh/core"
)

// Per-turn token assumptions of the session estimate.
const (
	writerOverheadTokens   = 500
	reviewerOverheadTokens = 300
	editorFeedbackTokens   = 800
	outputTokensPerTurn    = 1000
	tokensPerWord          = 1.5
)

// Estimator projects the cost of a session before it starts.
type Estimator struct {
	Pricing *Pricing
	// FinalPass adds one writer run per writer for the closing polish pass.
	FinalPass bool
}

// NewEstimator creates an estimator for pricing.
func NewEstimator(p *Pricing, finalPass bool) *Estimator {
	if p == nil {
		p = NewPricing(nil)
	}

	return &Estimator{Pricing: p, FinalPass: finalPass}
}

// Estimate computes the projected credits of the active agents over maxRounds
// rounds on a document of wordCount words. Balance fields are left to the caller.
func (e *Estimator) Estimate(agents []core.AgentConfig, maxRounds, wordCount int) core.CreditEstimate {
	docTokens := int(float64(wordCount) * tokensPerWord)

	editors := 0

	for _, a := range agents {
		if a.Active && a.Phase == core.PhaseEditor {
			editors++
		}
	}

	var (
		total    float64
		perAgent []core.AgentEstimate
	)

	for _, a := range agents {
		if !a.Active {
			continue
		}

		var input int

		switch a.Phase {
		case core.PhaseWriter:
			input = writerOverheadTokens + docTokens
		case core.PhaseSynthesizer:
			input = reviewerOverheadTokens + docTokens + editors*editorFeedbackTokens
		default:
			input = reviewerOverheadTokens + docTokens
		}

		runs := maxRounds
		if a.Phase == core.PhaseWriter && e.FinalPass {
			runs++
		}

		mult := e.Pricing.Multiplier(a.Model)
		credits := float64(input+outputTokensPerTurn) / TokensPerCredit * mult * float64(runs)
		total += credits

		perAgent = append(perAgent, core.AgentEstimate{
			AgentID:      a.ID,
			Model:        a.Model,
			Multiplier:   mult,
			Runs:         runs,
			InputTokens:  input,
			OutputTokens: outputTokensPerTurn,
			Credits:      credits,
		})
	}

	return core.CreditEstimate{
		EstimatedCredits: int(math.Ceil(total)),
		PerAgent:         perAgent,
	}
}

// WithBalance fills the balance fields of est.
func WithBalance(est core.CreditEstimate, balance int) core.CreditEstimate {
	est.Balance = balance
	est.HasSufficientCredits = HasSufficientCredits(est, balance)

	return est
}

// HasSufficientCredits reports whether balance covers the estimate.
func HasSufficientCredits(est core.CreditEstimate, balance int) bool {
	return balance >= est.EstimatedCredits
}

// Package credit meters session consumption in platform credits. It estimates
// a session's cost before it starts, tracks actual consumption turn by turn
// and signals warning and depletion thresholds to the session manager.
package credit

import (
	"maps"
	"math"
	"strings"
)

// TokensPerCredit is the base conversion rate: one credit buys this many
// tokens on a model with multiplier 1.0.
const TokensPerCredit = 10_000

// DefaultMultipliers are the per-model cost multipliers. Unknown models cost 1.0.
var DefaultMultipliers = map[string]float64{
	"claude-opus-4-5-20251101":          5.0,
	"claude-sonnet-4-5-20250929":        1.0,
	"claude-sonnet-4-thinking-20250514": 1.5,
	"claude-3-5-haiku-20241022":         0.25,
	"gemini-2.5-pro":                    1.2,
	"gemini-2.5-flash":                  0.4,
	"gemini-2.0-flash":                  0.3,
	"gpt-4o":                            1.0,
	"gpt-4o-mini":                       0.25,
	"o1":                                5.5,
	"o1-mini":                           2.0,
	"o3-mini":                           2.0,
	"sonar":                             0.5,
	"sonar-pro":                         1.5,
	"sonar-reasoning":                   2.5,
}

// TierCredits is the monthly allocation of each subscription tier.
var TierCredits = map[string]int{
	"free":       20,
	"starter":    150,
	"pro":        500,
	"enterprise": 2000,
}

// DefaultTier is assigned to users without an account.
const DefaultTier = "free"

// CreditsForTier returns the allocation of tier, falling back to the free tier.
func CreditsForTier(tier string) int {
	if c, ok := TierCredits[strings.ToLower(tier)]; ok {
		return c
	}

	return TierCredits[DefaultTier]
}

// Pricing maps models to cost multipliers.
type Pricing struct {
	multipliers map[string]float64
}

// NewPricing returns the default table with overrides applied.
func NewPricing(overrides map[string]float64) *Pricing {
	m := maps.Clone(DefaultMultipliers)
	for k, v := range overrides {
		m[k] = v
	}

	return &Pricing{multipliers: m}
}

// Multiplier returns the cost multiplier of model.
func (p *Pricing) Multiplier(model string) float64 {
	if v, ok := p.multipliers[model]; ok {
		return v
	}

	return 1.0
}

// TurnCost returns the credits consumed by one call, rounded up.
func (p *Pricing) TurnCost(model string, inputTokens, outputTokens int) int {
	base := float64(inputTokens+outputTokens) / TokensPerCredit

	return int(math.Ceil(base * p.Multiplier(model)))
}

// EstimateTokens approximates the token count of text at four characters per
// token, with a floor of one.
func EstimateTokens(text string) int {
	return max(1, len(text)/4)
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

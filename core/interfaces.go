package core

import "context"

// Balance is a user's credit balance as reported by the credits service.
type Balance struct {
	Balance     int    `json:"balance"`
	Tier        string `json:"tier"`
	TierCredits int    `json:"tier_credits"`
}

// AgentEstimate is the cost share of a single agent.
type AgentEstimate struct {
	AgentID      string  `json:"agent_id"`
	Model        string  `json:"model"`
	Multiplier   float64 `json:"multiplier"`
	Runs         int     `json:"runs"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Credits      float64 `json:"credits"`
}

// CreditEstimate is the pre-start cost projection of a session.
type CreditEstimate struct {
	EstimatedCredits     int             `json:"estimated_credits"`
	PerAgent             []AgentEstimate `json:"per_agent"`
	Balance              int             `json:"current_balance"`
	HasSufficientCredits bool            `json:"has_sufficient_credits"`
}

// EstimateRequest carries the inputs of a cost estimate.
type EstimateRequest struct {
	UserID            string        `json:"user_id,omitempty"`
	Agents            []AgentConfig `json:"agents"`
	MaxRounds         int           `json:"max_rounds"`
	DocumentWordCount int           `json:"document_word_count"`
}

// CreditService is the external credits collaborator.
type CreditService interface {
	GetBalance(ctx context.Context, userID string) (Balance, error)
	Estimate(ctx context.Context, req EstimateRequest) (CreditEstimate, error)
	Charge(ctx context.Context, userID string, amount int, sessionID string) (int, error)
}

// StatusUpdate is written to the repository on every lifecycle transition.
type StatusUpdate struct {
	Status            Status
	CurrentRound      int
	TerminationReason string
	CreditsUsed       int
}

// SessionRepository is the external persistence collaborator. The engine only
// appends turns and updates status; it never rewrites history except on reset.
type SessionRepository interface {
	Create(ctx context.Context, cfg SessionConfig) error
	Append(ctx context.Context, sessionID string, turn ExchangeTurn) error
	LoadState(ctx context.Context, sessionID string) (SessionState, error)
	UpdateStatus(ctx context.Context, sessionID string, update StatusUpdate) error
	Reset(ctx context.Context, sessionID string) error
}

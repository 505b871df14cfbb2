package engine

import (
	"fmt"
	"strings"

	"github.com/hupe1980/draftmesh/agent"
	"github.com/hupe1980/draftmesh/core"
)

// Config defines the tuning parameters of the Engine.
type Config struct {
	// DefaultMaxRounds applies to sessions that do not set a round limit.
	DefaultMaxRounds int
	// MaxRoundsLimit is the largest round limit a session may request.
	MaxRoundsLimit int
	// MaxAgents bounds the number of agents per session.
	MaxAgents int

	// FinalWriterPass runs one extra writer turn after a session ends on its
	// round limit or score threshold.
	FinalWriterPass bool

	// CreditWarningThreshold is the consumed share of the balance at which a
	// credit_warning event is emitted.
	CreditWarningThreshold float64
	// CheckBalance rejects sessions whose estimate exceeds the balance.
	CheckBalance bool

	Retry       agent.RetryConfig
	Temperature float64
	MaxTokens   int
}

// DefaultConfig provides production defaults.
var DefaultConfig = Config{
	DefaultMaxRounds:       3,
	MaxRoundsLimit:         20,
	MaxAgents:              8,
	FinalWriterPass:        true,
	CreditWarningThreshold: 0.8,
	CheckBalance:           true,
	Retry:                  agent.DefaultRetryConfig(),
	Temperature:            0.7,
	MaxTokens:              16000,
}

// Validate checks a session config against the limits. Rejections are
// *core.ValidationError values.
func (c Config) Validate(cfg *core.SessionConfig) error {
	if strings.TrimSpace(cfg.InitialPrompt) == "" {
		return core.NewValidationError("initial_prompt", "must not be empty")
	}

	if r := cfg.Termination.MaxRounds; r < 1 || r > c.MaxRoundsLimit {
		return core.NewValidationError("termination.max_rounds", fmt.Sprintf("must be between 1 and %d, got %d", c.MaxRoundsLimit, r))
	}

	if t := cfg.Termination.ScoreThreshold; t != nil && (*t < 0 || *t > 10) {
		return core.NewValidationError("termination.score_threshold", fmt.Sprintf("must be between 0 and 10, got %g", *t))
	}

	if len(cfg.Agents) > c.MaxAgents {
		return core.NewValidationError("agents", fmt.Sprintf("at most %d agents are allowed, got %d", c.MaxAgents, len(cfg.Agents)))
	}

	seen := make(map[string]struct{}, len(cfg.Agents))

	for i, a := range cfg.Agents {
		field := fmt.Sprintf("agents[%d]", i)

		if a.ID == "" {
			return core.NewValidationError(field+".agent_id", "must not be empty")
		}

		if _, dup := seen[a.ID]; dup {
			return core.NewValidationError(field+".agent_id", fmt.Sprintf("duplicate agent id %q", a.ID))
		}

		seen[a.ID] = struct{}{}

		if !a.Phase.Valid() {
			return core.NewValidationError(field+".phase", fmt.Sprintf("unknown phase %d", a.Phase))
		}

		if a.Provider == "" {
			return core.NewValidationError(field+".provider", "must not be empty")
		}

		if a.Model == "" {
			return core.NewValidationError(field+".model", "must not be empty")
		}
	}

	plan := NewPlan(cfg.Agents)

	if plan.Size() == 0 {
		return core.NewValidationError("agents", core.ReasonNoActiveAgents)
	}

	if len(plan.Writers) == 0 {
		return core.NewValidationError("agents", "at least one active writer (phase 1) is required")
	}

	return nil
}

package core

import "maps"

// TerminationCondition bounds a session. ScoreThreshold is optional.
type TerminationCondition struct {
	MaxRounds      int      `json:"max_rounds" yaml:"max_rounds"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty" yaml:"score_threshold,omitempty"`
}

// SessionConfig is the immutable definition of a refinement session.
type SessionConfig struct {
	ID                    string               `json:"session_id" yaml:"session_id"`
	Title                 string               `json:"title" yaml:"title"`
	UserID                string               `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Agents                []AgentConfig        `json:"agents" yaml:"agents"`
	Termination           TerminationCondition `json:"termination" yaml:"termination"`
	InitialPrompt         string               `json:"initial_prompt" yaml:"initial_prompt"`
	WorkingDocument       string               `json:"working_document,omitempty" yaml:"working_document,omitempty"`
	ReferenceDocuments    map[string]string    `json:"reference_documents,omitempty" yaml:"reference_documents,omitempty"`
	ReferenceInstructions string               `json:"reference_instructions,omitempty" yaml:"reference_instructions,omitempty"`
	DraftTreatment        string               `json:"draft_treatment,omitempty" yaml:"draft_treatment,omitempty"`
}

// ActiveAgents returns the active agents in configuration order.
func (c *SessionConfig) ActiveAgents() []AgentConfig {
	var active []AgentConfig

	for _, a := range c.Agents {
		if a.Active {
			active = append(active, a)
		}
	}

	return active
}

// Agent looks up an agent by id.
func (c *SessionConfig) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}

	return AgentConfig{}, false
}

// Clone returns a deep copy of the configuration.
func (c SessionConfig) Clone() SessionConfig {
	cp := c

	cp.Agents = make([]AgentConfig, len(c.Agents))
	for i, a := range c.Agents {
		cp.Agents[i] = a.Clone()
	}

	if c.Termination.ScoreThreshold != nil {
		v := *c.Termination.ScoreThreshold
		cp.Termination.ScoreThreshold = &v
	}

	if c.ReferenceDocuments != nil {
		cp.ReferenceDocuments = maps.Clone(c.ReferenceDocuments)
	}

	return cp
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition (except reset) is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Termination reasons recorded on terminal sessions.
const (
	ReasonMaxRounds       = "max rounds reached"
	ReasonQualityMet      = "quality threshold met"
	ReasonStoppedByUser   = "stopped by user"
	ReasonCreditDepleted  = "credit depleted"
	ReasonNoActiveAgents  = "no active agents"
	ReasonInternalFailure = "internal scheduling error"
)

// SessionState is the unit persisted and returned to consumers.
type SessionState struct {
	Config            SessionConfig  `json:"config"`
	Turns             []ExchangeTurn `json:"exchange_history"`
	CurrentRound      int            `json:"current_round"`
	IsRunning         bool           `json:"is_running"`
	IsPaused          bool           `json:"is_paused"`
	Status            Status         `json:"status"`
	TerminationReason string         `json:"termination_reason,omitempty"`
	CreditsUsed       int            `json:"credits_used"`
}

// NewSessionState creates a draft state for cfg.
func NewSessionState(cfg SessionConfig) SessionState {
	return SessionState{Config: cfg.Clone(), Status: StatusDraft}
}

// CurrentDocument returns the working document of the most recent turn, or the
// starting document when no turn exists yet.
func (s *SessionState) CurrentDocument() string {
	if n := len(s.Turns); n > 0 {
		return s.Turns[n-1].WorkingDocument
	}

	return s.Config.WorkingDocument
}

// TurnsInRound returns the turns recorded for round r in completion order.
func (s *SessionState) TurnsInRound(r int) []ExchangeTurn {
	var turns []ExchangeTurn

	for _, t := range s.Turns {
		if t.RoundNumber == r {
			turns = append(turns, t)
		}
	}

	return turns
}

// Clone returns a deep copy so callers never share history with the engine.
func (s SessionState) Clone() SessionState {
	c := s
	c.Config = s.Config.Clone()

	if s.Turns != nil {
		c.Turns = make([]ExchangeTurn, len(s.Turns))
		for i, t := range s.Turns {
			c.Turns[i] = t.Clone()
		}
	}

	return c
}

package core

import "time"

// CriterionScore is a single score reported by an agent for one criterion.
type CriterionScore struct {
	Criterion     string  `json:"criterion"`
	Score         float64 `json:"score"`
	Justification string  `json:"justification,omitempty"`
}

// Evaluation is the structured self-assessment parsed from an agent's output.
// OverallScore is nil when no score could be derived.
type Evaluation struct {
	CriteriaScores []CriterionScore `json:"criteria_scores"`
	OverallScore   *float64         `json:"overall_score,omitempty"`
	Summary        string           `json:"summary,omitempty"`
}

// Overall returns the overall score and whether one is present.
func (e *Evaluation) Overall() (float64, bool) {
	if e == nil || e.OverallScore == nil {
		return 0, false
	}

	return *e.OverallScore, true
}

// Clone returns a deep copy of the evaluation.
func (e *Evaluation) Clone() *Evaluation {
	if e == nil {
		return nil
	}

	c := *e
	c.CriteriaScores = append([]CriterionScore(nil), e.CriteriaScores...)

	if e.OverallScore != nil {
		v := *e.OverallScore
		c.OverallScore = &v
	}

	return &c
}

// ExchangeTurn is one agent's completed (or failed) contribution. Turns are
// append-only and numbered in the order they complete.
type ExchangeTurn struct {
	TurnNumber      int         `json:"turn_number"`
	RoundNumber     int         `json:"round_number"`
	AgentID         string      `json:"agent_id"`
	AgentName       string      `json:"agent_name"`
	Phase           Phase       `json:"phase"`
	Timestamp       time.Time   `json:"timestamp"`
	Output          string      `json:"output"`
	RawResponse     string      `json:"raw_response"`
	Evaluation      *Evaluation `json:"evaluation,omitempty"`
	ParseError      string      `json:"parse_error,omitempty"`
	WorkingDocument string      `json:"working_document"`
	Error           string      `json:"error,omitempty"`
	Attempts        int         `json:"attempts,omitempty"`
	TokensInput     int         `json:"tokens_input"`
	TokensOutput    int         `json:"tokens_output"`
	CreditsCharged  int         `json:"credits_charged"`
	IsFinalPass     bool        `json:"is_final_pass,omitempty"`
}

// Failed reports whether the turn ended in a provider error.
func (t ExchangeTurn) Failed() bool { return t.Error != "" }

// Clone returns a deep copy of the turn.
func (t ExchangeTurn) Clone() ExchangeTurn {
	c := t
	c.Evaluation = t.Evaluation.Clone()

	return c
}

package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates stream events.
type EventType string

const (
	EventSessionStart    EventType = "session_start"
	EventRoundStart      EventType = "round_start"
	EventAgentStart      EventType = "agent_start"
	EventAgentToken      EventType = "agent_token"
	EventAgentRetry      EventType = "agent_retry"
	EventAgentComplete   EventType = "agent_complete"
	EventRoundComplete   EventType = "round_complete"
	EventSessionComplete EventType = "session_complete"
	EventSessionPaused   EventType = "session_paused"
	EventSessionResumed  EventType = "session_resumed"
	EventCreditWarning   EventType = "credit_warning"
	EventCreditsUpdate   EventType = "credits_update"
	EventError           EventType = "error"
)

// AgentSummary identifies an agent in session_start events.
type AgentSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phase Phase  `json:"phase"`
}

// Usage is the token and credit accounting of one turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Credits      int `json:"credits"`
}

// Event is one message of a session's progress stream. Type, SessionID,
// Timestamp and Seq are always set once the event is appended to a stream
// log; all other fields depend on the type and are omitted when empty.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`

	Round       int    `json:"round,omitempty"`
	MaxRounds   int    `json:"max_rounds,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	AgentName   string `json:"agent_name,omitempty"`
	Phase       Phase  `json:"phase,omitempty"`
	TurnNumber  int    `json:"turn_number,omitempty"`
	IsFinalPass bool   `json:"is_final_pass,omitempty"`

	Token       string `json:"token,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`

	Output          string         `json:"output,omitempty"`
	Evaluation      *Evaluation    `json:"evaluation,omitempty"`
	ParseError      string         `json:"parse_error,omitempty"`
	WorkingDocument string         `json:"working_document,omitempty"`
	Usage           *Usage         `json:"usage,omitempty"`
	Agents          []AgentSummary `json:"agents,omitempty"`

	TerminationReason string `json:"termination_reason,omitempty"`
	Status            Status `json:"status,omitempty"`
	RoundsCompleted   int    `json:"rounds_completed,omitempty"`
	TurnsCompleted    int    `json:"turns_completed,omitempty"`
	CreditsUsed       int    `json:"credits_used,omitempty"`
	CreditsRemaining  *int   `json:"credits_remaining,omitempty"`
}

// NewEvent creates an event of the given type. Session id, sequence number and
// timestamp are assigned when the event is appended to a stream log.
func NewEvent(t EventType) Event {
	return Event{Type: t}
}

// NewAgentEvent creates an event attributed to agent a.
func NewAgentEvent(t EventType, a AgentConfig, round int) Event {
	return Event{
		Type:      t,
		Round:     round,
		AgentID:   a.ID,
		AgentName: a.Name(),
		Phase:     a.Phase,
	}
}

// NewErrorEvent creates an error event, optionally naming the failed agent.
func NewErrorEvent(agentID, message string) Event {
	return Event{Type: EventError, AgentID: agentID, Message: message}
}

// IsTerminal reports whether the event closes the session stream.
func (e Event) IsTerminal() bool { return e.Type == EventSessionComplete }

// NewID generates a new unique identifier for sessions and events.
func NewID() string { return uuid.NewString() }

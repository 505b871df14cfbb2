package core

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Phase is the stage number that decides execution order and concurrency of an
// agent inside a round.
type Phase int

const (
	// PhaseWriter agents create and revise the working document, one after another.
	PhaseWriter Phase = 1
	// PhaseEditor agents review the document concurrently and never modify it.
	PhaseEditor Phase = 2
	// PhaseSynthesizer agents merge editor feedback into a revision directive.
	PhaseSynthesizer Phase = 3
)

// String returns the role name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseWriter:
		return "writer"
	case PhaseEditor:
		return "editor"
	case PhaseSynthesizer:
		return "synthesizer"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Valid reports whether p is one of the three known phases.
func (p Phase) Valid() bool {
	return p >= PhaseWriter && p <= PhaseSynthesizer
}

// ProviderType identifies the upstream model vendor an agent talks to.
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenAI     ProviderType = "openai"
	ProviderGoogle     ProviderType = "google"
	ProviderPerplexity ProviderType = "perplexity"
	ProviderMock       ProviderType = "mock"
)

// EvaluationCriterion is one dimension an agent scores its own output on.
type EvaluationCriterion struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Weight      float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// EffectiveWeight returns the weight used for the overall score. Unweighted
// criteria count with 1.0.
func (c EvaluationCriterion) EffectiveWeight() float64 {
	if c.Weight <= 0 {
		return 1.0
	}

	return c.Weight
}

// AgentConfig describes one participant of a session.
type AgentConfig struct {
	ID              string                `json:"agent_id" yaml:"agent_id"`
	DisplayName     string                `json:"display_name" yaml:"display_name"`
	Provider        ProviderType          `json:"provider" yaml:"provider"`
	Model           string                `json:"model" yaml:"model"`
	RoleDescription string                `json:"role_description" yaml:"role_description"`
	Criteria        []EvaluationCriterion `json:"evaluation_criteria,omitempty" yaml:"evaluation_criteria,omitempty"`
	Phase           Phase                 `json:"phase" yaml:"phase"`
	Active          bool                  `json:"is_active" yaml:"is_active"`
}

// Name returns the display name, falling back to the id.
func (a AgentConfig) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}

	return a.ID
}

// UnmarshalJSON decodes an agent, treating a missing is_active as true.
func (a *AgentConfig) UnmarshalJSON(data []byte) error {
	type plain AgentConfig

	p := plain{Active: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	*a = AgentConfig(p)

	return nil
}

// UnmarshalYAML decodes an agent, treating a missing is_active as true.
func (a *AgentConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain AgentConfig

	p := plain{Active: true}
	if err := node.Decode(&p); err != nil {
		return err
	}

	*a = AgentConfig(p)

	return nil
}

// Clone returns a deep copy of the agent configuration.
func (a AgentConfig) Clone() AgentConfig {
	c := a
	if a.Criteria != nil {
		c.Criteria = append([]EvaluationCriterion(nil), a.Criteria...)
	}

	return c
}

package testutil

import (
	"github.com/hupe1980/draftmesh/core"
)

// SessionBuilder helps construct session configurations with fluent chaining
// for tests.
// Example:
//
//	cfg := NewSessionBuilder("sess-1").Rounds(2).Writer("w").Editor("e").Build()
//
// Agents use the mock provider and their id as model name, so that replies
// can be scripted per agent on a model.MockModel.
type SessionBuilder struct {
	cfg core.SessionConfig
}

// NewSessionBuilder creates a builder for a one-round session with the given
// id, owned by user "u1".
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{cfg: core.SessionConfig{
		ID:            id,
		Title:         "Test session",
		UserID:        "u1",
		InitialPrompt: "Write a short essay about rivers.",
		Termination:   core.TerminationCondition{MaxRounds: 1},
	}}
}

// User sets the owning user (chainable).
func (b *SessionBuilder) User(id string) *SessionBuilder { b.cfg.UserID = id; return b }

// Prompt sets the initial prompt (chainable).
func (b *SessionBuilder) Prompt(p string) *SessionBuilder { b.cfg.InitialPrompt = p; return b }

// Document sets the starting working document (chainable).
func (b *SessionBuilder) Document(d string) *SessionBuilder { b.cfg.WorkingDocument = d; return b }

// Rounds sets the round limit (chainable).
func (b *SessionBuilder) Rounds(n int) *SessionBuilder { b.cfg.Termination.MaxRounds = n; return b }

// Threshold sets the score threshold (chainable).
func (b *SessionBuilder) Threshold(v float64) *SessionBuilder {
	b.cfg.Termination.ScoreThreshold = &v
	return b
}

// Reference adds a reference document (chainable).
func (b *SessionBuilder) Reference(name, content string) *SessionBuilder {
	if b.cfg.ReferenceDocuments == nil {
		b.cfg.ReferenceDocuments = make(map[string]string)
	}

	b.cfg.ReferenceDocuments[name] = content

	return b
}

// Agent appends an agent configuration as is (chainable).
func (b *SessionBuilder) Agent(a core.AgentConfig) *SessionBuilder {
	b.cfg.Agents = append(b.cfg.Agents, a)
	return b
}

// Writer appends an active mock writer (chainable).
func (b *SessionBuilder) Writer(id string) *SessionBuilder {
	return b.Agent(MockAgent(id, core.PhaseWriter))
}

// Editor appends an active mock editor (chainable).
func (b *SessionBuilder) Editor(id string) *SessionBuilder {
	return b.Agent(MockAgent(id, core.PhaseEditor))
}

// Synthesizer appends an active mock synthesizer (chainable).
func (b *SessionBuilder) Synthesizer(id string) *SessionBuilder {
	return b.Agent(MockAgent(id, core.PhaseSynthesizer))
}

// Build returns a copy of the configuration.
func (b *SessionBuilder) Build() core.SessionConfig {
	return b.cfg.Clone()
}

// MockAgent returns an active agent on the mock provider whose model name is
// its id.
func MockAgent(id string, phase core.Phase) core.AgentConfig {
	return core.AgentConfig{
		ID:              id,
		Provider:        core.ProviderMock,
		Model:           id,
		RoleDescription: "You are the " + id + ".",
		Phase:           phase,
		Active:          true,
	}
}

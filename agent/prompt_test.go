package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/draftmesh/core"
)

func TestSystemPrompt(t *testing.T) {
	a := core.AgentConfig{
		RoleDescription: "You are a meticulous fact checker.",
		Criteria: []core.EvaluationCriterion{
			{Name: "Accuracy", Description: "Claims are correct"},
			{Name: "Sourcing", Description: "Claims are attributed"},
		},
	}

	got, err := SystemPrompt(a)
	require.NoError(t, err)

	assert.Equal(t, "You are a meticulous fact checker.\n\n"+
		"You are participating in a multi-agent writing refinement process.\n\n"+
		"Your evaluation criteria are:\n"+
		"- Accuracy: Claims are correct\n"+
		"- Sourcing: Claims are attributed", got)
}

func TestUserPrompt_Sections(t *testing.T) {
	cfg := &core.SessionConfig{
		InitialPrompt:         "Write an essay.",
		WorkingDocument:       "My rough draft.",
		ReferenceDocuments:    map[string]string{"b.md": "second", "a.md": "first"},
		ReferenceInstructions: "Cite a.md only.",
		DraftTreatment:        "light_polish",
	}

	got, err := UserPrompt(TurnInput{
		Agent:     writer(),
		Round:     1,
		Document:  cfg.WorkingDocument,
		FirstTurn: true,
		Session:   cfg,
	})
	require.NoError(t, err)

	assert.Contains(t, got, "=== REFERENCE MATERIALS ===")
	assert.Contains(t, got, "How to use these materials: Cite a.md only.")
	assert.Less(t, strings.Index(got, "--- a.md ---"), strings.Index(got, "--- b.md ---"))
	assert.Contains(t, got, "=== DRAFT TREATMENT ===\nTreat the user's draft as nearly final.")
	assert.Contains(t, got, "=== WORKING DOCUMENT ===\n(This is the central document you are writing/editing.)\n\nMy rough draft.\n")
	assert.Contains(t, got, "=== YOUR TASK ===\nWrite an essay.")
	assert.Contains(t, got, `{"criterion": "Clarity", "score": 7, "justification": "Brief explanation"},`)
	assert.Contains(t, got, "Score each criterion from 1-10.")

	order := []string{"REFERENCE MATERIALS", "DRAFT TREATMENT", "WORKING DOCUMENT", "YOUR TASK", "EVALUATION FORMAT"}
	last := -1

	for _, section := range order {
		idx := strings.Index(got, "=== "+section+" ===")
		assert.Greater(t, idx, last, section)
		last = idx
	}
}

func TestUserPrompt_Tasks(t *testing.T) {
	cfg := &core.SessionConfig{InitialPrompt: "Write an essay."}

	tests := []struct {
		name     string
		in       TurnInput
		contains []string
	}{
		{
			name:     "writer revision",
			in:       TurnInput{Agent: writer(), Round: 2, Feedback: "MUST fix the ending.", Session: cfg},
			contains: []string{"Revise your draft based on the editorial feedback below.", "=== EDITORIAL FEEDBACK ===\nMUST fix the ending.\n"},
		},
		{
			name:     "writer revision without feedback",
			in:       TurnInput{Agent: writer(), Round: 2, Session: cfg},
			contains: []string{NoFeedbackPreviousRound},
		},
		{
			name:     "final pass",
			in:       TurnInput{Agent: writer(), Round: 2, FinalPass: true, Feedback: "Polish it.", Session: cfg},
			contains: []string{"final polish pass", "Polish it."},
		},
		{
			name:     "style editor",
			in:       TurnInput{Agent: editor("style_editor"), Round: 1, Session: cfg},
			contains: []string{"Review the WORKING DOCUMENT above", "sentence rhythm"},
		},
		{
			name:     "fact checker",
			in:       TurnInput{Agent: editor("fact_checker"), Round: 1, Session: cfg},
			contains: []string{"verifiable claims"},
		},
		{
			name:     "generic editor",
			in:       TurnInput{Agent: editor("poet"), Round: 1, Session: cfg},
			contains: []string{defaultEditorFocus},
		},
		{
			name:     "synthesizer",
			in:       TurnInput{Agent: core.AgentConfig{ID: "synth", Phase: core.PhaseSynthesizer}, Round: 1, Session: cfg},
			contains: []string{"PRIORITIZED REVISION DIRECTIVE", NoFeedbackThisRound},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserPrompt(tt.in)
			require.NoError(t, err)

			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}

			assert.NotContains(t, got, "Write an essay.")
		})
	}
}

func TestCombineFeedback(t *testing.T) {
	turns := []core.ExchangeTurn{
		{AgentName: "Style Editor", Output: "Cut adverbs."},
		{AgentName: "Broken", Error: "timeout"},
		{AgentName: "Fact Checker", Output: "Cite the 1998 study."},
	}

	assert.Equal(t, "### Style Editor\nCut adverbs.\n\n---\n### Fact Checker\nCite the 1998 study.\n", CombineFeedback(turns))
	assert.Empty(t, CombineFeedback(nil))
}

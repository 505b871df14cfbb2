package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/draftmesh/core"
)

var clarityFlow = []core.EvaluationCriterion{
	{Name: "Clarity", Weight: 1.0},
	{Name: "Flow", Weight: 1.0},
}

func TestParse_StrictWeightedMean(t *testing.T) {
	raw := `{"output": "A fine draft.", "evaluation": {"criteria_scores": [
		{"criterion": "Clarity", "score": 8, "justification": "clear"},
		{"criterion": "Flow", "score": 6}
	], "summary": "solid"}}`

	res := Parse(raw, clarityFlow)

	assert.Equal(t, StrategyStrict, res.Strategy)
	assert.Empty(t, res.ParseError)
	assert.Equal(t, "A fine draft.", res.Output)
	require.NotNil(t, res.Evaluation)

	overall, ok := res.Evaluation.Overall()
	require.True(t, ok)
	assert.InDelta(t, 7.0, overall, 1e-9)
	assert.Equal(t, "solid", res.Evaluation.Summary)
	assert.Equal(t, "clear", res.Evaluation.CriteriaScores[0].Justification)
}

func TestParse_WeightsAndUnknownCriteria(t *testing.T) {
	criteria := []core.EvaluationCriterion{
		{Name: "Clarity", Weight: 3},
		{Name: "Flow"},
	}
	raw := `{"output": "x", "evaluation": {"criteria_scores": [
		{"criterion": "clarity", "score": 10},
		{"criterion": "Flow", "score": 6},
		{"criterion": "Humor", "score": 0}
	], "overall_score": 2}}`

	res := Parse(raw, criteria)
	require.NotNil(t, res.Evaluation)

	// Humor is kept but ignored; the model's own overall score is ignored too.
	assert.Len(t, res.Evaluation.CriteriaScores, 3)

	overall, ok := res.Evaluation.Overall()
	require.True(t, ok)
	assert.InDelta(t, 9.0, overall, 1e-9)
}

func TestParse_ReportedOverallWithoutConfiguredMatch(t *testing.T) {
	raw := `{"output": "x", "evaluation": {"criteria_scores": [{"criterion": "Humor", "score": 4}], "overall_score": 6.5}}`

	res := Parse(raw, clarityFlow)
	require.NotNil(t, res.Evaluation)

	overall, ok := res.Evaluation.Overall()
	require.True(t, ok)
	assert.InDelta(t, 6.5, overall, 1e-9)
}

func TestParse_FencedBlockWithSurroundingText(t *testing.T) {
	raw := "Here is my revision.\n\n```json\n{\"output\": \"Line one\\nLine two\", \"thinking\": \"tighten intro\"}\n```\nThanks!"

	res := Parse(raw, clarityFlow)

	assert.Equal(t, StrategyStrict, res.Strategy)
	assert.Equal(t, "Line one\nLine two", res.Output)
	assert.Equal(t, "tighten intro", res.Fields["thinking"])
	assert.Nil(t, res.Evaluation)
	assert.Empty(t, res.ParseError)
}

func TestParse_StrictWithoutOutputUsesSurroundingText(t *testing.T) {
	raw := "The revised essay.\n{\"evaluation\": {\"criteria_scores\": [{\"criterion\": \"Clarity\", \"score\": 9}]}}"

	res := Parse(raw, clarityFlow)

	assert.Equal(t, StrategyStrict, res.Strategy)
	assert.Equal(t, "The revised essay.", res.Output)
	require.NotNil(t, res.Evaluation)

	overall, _ := res.Evaluation.Overall()
	assert.InDelta(t, 9.0, overall, 1e-9)
}

func TestParse_SkipsBracedProseBeforeObject(t *testing.T) {
	raw := `I kept the {placeholder} syntax. {"output": "Revised text.", "evaluation": {"criteria_scores": [{"criterion": "Clarity", "score": 7}]}}`

	res := Parse(raw, clarityFlow)

	assert.Equal(t, StrategyStrict, res.Strategy)
	assert.Empty(t, res.ParseError)
	assert.Equal(t, "Revised text.", res.Output)
	require.NotNil(t, res.Evaluation)
	require.Len(t, res.Evaluation.CriteriaScores, 1)
}

func TestLocateObject(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		candidate string
		found     bool
		reason    string
	}{
		{"none", "plain text", "", false, ""},
		{"single", `a {"x": 1} b`, `{"x": 1}`, true, ""},
		{"braced prose first", `use {name} here {"x": 1}`, `{"x": 1}`, true, ""},
		{"nested valid inside invalid", `{"a": {"b": 1}, oops}`, `{"a": {"b": 1}, oops}`, true, ""},
		{"brace in string", `{"x": "}"}`, `{"x": "}"}`, true, ""},
		{"unterminated", `{"x": 1`, "", false, "unterminated JSON object"},
		{"invalid then unterminated", `{draft} {"x": `, "{draft}", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate, _, found, reason := locateObject(tt.raw)

			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.candidate, candidate)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestParse_TruncatedStream(t *testing.T) {
	res := Parse(`{"output": "Hello wor`, clarityFlow)

	assert.Equal(t, StrategyFields, res.Strategy)
	assert.Equal(t, "Hello wor", res.Output)
	assert.NotEmpty(t, res.ParseError)
	assert.Contains(t, res.ParseError, "unterminated")
	assert.Nil(t, res.Evaluation)
}

func TestParse_TruncatedKeepsRecoverableScores(t *testing.T) {
	raw := `{"output": "Done.\tFinal", "evaluation": {"criteria_scores": [{"criterion": "Clarity", "score": 8}, {"criterion": "Flow", "sco`

	res := Parse(raw, clarityFlow)

	assert.Equal(t, StrategyFields, res.Strategy)
	assert.Equal(t, "Done.\tFinal", res.Output)
	require.NotNil(t, res.Evaluation)
	require.Len(t, res.Evaluation.CriteriaScores, 1)

	overall, ok := res.Evaluation.Overall()
	require.True(t, ok)
	assert.InDelta(t, 8.0, overall, 1e-9)
	assert.NotEmpty(t, res.ParseError)
}

func TestParse_MalformedJSONUnescapes(t *testing.T) {
	raw := `{"output": "She said \"hi\"\\n", "feedback": "ok",}`

	res := Parse(raw, nil)

	assert.Equal(t, StrategyFields, res.Strategy)
	assert.Equal(t, `She said "hi"\n`, res.Output)
	assert.Equal(t, "ok", res.Fields["feedback"])
	assert.Contains(t, res.ParseError, "invalid JSON")
}

func TestParse_PlainTextPassthrough(t *testing.T) {
	res := Parse("  Just a plain answer with no structure.  ", clarityFlow)

	assert.Equal(t, StrategyRaw, res.Strategy)
	assert.Equal(t, "Just a plain answer with no structure.", res.Output)
	assert.Nil(t, res.Evaluation)
	assert.Empty(t, res.ParseError)
}

func TestParse_UnrecognizedJSONFallsThroughToRaw(t *testing.T) {
	res := Parse(`config: {"a": 1}`, clarityFlow)

	assert.Equal(t, StrategyRaw, res.Strategy)
	assert.Equal(t, `config: {"a": 1}`, res.Output)
	assert.NotEmpty(t, res.ParseError)
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{"", "{", "}", `{"output":`, `"output": "x`, "```json\n{\n```", `{"output": "a\`, "{{{{"}

	for _, in := range inputs {
		assert.NotPanics(t, func() { Parse(in, clarityFlow) }, in)
	}
}

func TestOverallScore_NoCriteriaConfigured(t *testing.T) {
	overall, ok := OverallScore([]core.CriterionScore{{Criterion: "A", Score: 4}, {Criterion: "B", Score: 8}}, nil)

	require.True(t, ok)
	assert.InDelta(t, 6.0, overall, 1e-9)

	_, ok = OverallScore(nil, clarityFlow)
	assert.False(t, ok)
}

package agent

import (
	"maps"
	"slices"
	"strings"
	"text/template"

	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/internal/util"
)

// NoFeedbackPreviousRound replaces the feedback block of a writer revision
// when the previous round produced no usable editorial output.
const NoFeedbackPreviousRound = "(No editorial feedback from previous round)"

// NoFeedbackThisRound is handed to synthesizers when no editor succeeded.
const NoFeedbackThisRound = "(No editorial feedback this round)"

var (
	systemTmpl = util.MustParse("system", `{{.Role}}

You are participating in a multi-agent writing refinement process.

Your evaluation criteria are:{{range .Criteria}}
- {{.Name}}: {{.Description}}{{end}}`)

	revisionTmpl = util.MustParse("revision", `Revise your draft based on the editorial feedback below.

=== EDITORIAL FEEDBACK ===
{{.Feedback}}
===========================

Instructions:
- Incorporate feedback that strengthens the work
- Push back (in your self-evaluation) on suggestions that would weaken it
- Preserve what's working
- Produce a complete revised draft`)

	finalPassTmpl = util.MustParse("final", `This is the final polish pass. Apply the last round of editorial direction and deliver the finished document.

=== EDITORIAL FEEDBACK ===
{{.Feedback}}
===========================

Instructions:
- Apply the MUST and SHOULD changes from the feedback
- Tighten wording and fix remaining errors
- Do not introduce new material
- Produce the complete final draft`)

	synthesisTmpl = util.MustParse("synthesis", `Review all editorial feedback from this round and produce a PRIORITIZED REVISION DIRECTIVE.

=== EDITORIAL FEEDBACK ===
{{.Feedback}}
===========================

Your output should be:
1. A clear hierarchy of what MUST change, what SHOULD change, and what can be ignored
2. When editors conflict, make the call and explain your reasoning
3. Specific, actionable direction for the Writer

Do NOT rewrite the document. Produce a revision directive only.`)

	evaluationTmpl = util.MustParse("evaluation", "After completing your task, provide a structured evaluation in the following JSON format:\n\n"+
		"```json\n"+
		"{\n"+
		"  \"output\": \"Your revised text or critique goes here\",\n"+
		"  \"evaluation\": {\n"+
		"    \"criteria_scores\": [\n"+
		"{{range .}}      {\"criterion\": \"{{.Name}}\", \"score\": 7, \"justification\": \"Brief explanation\"},\n{{end}}"+
		"    ],\n"+
		"    \"overall_score\": 7.5,\n"+
		"    \"summary\": \"Brief overall assessment\"\n"+
		"  }\n"+
		"}\n"+
		"```\n\n"+
		"Score each criterion from 1-10. The overall score should be the average of criterion scores.\n")
)

const editorPreamble = "Review the WORKING DOCUMENT above and provide your editorial feedback.\n\n"

// editorFocus holds role specific review instructions keyed by agent id.
var editorFocus = map[string]string{
	"content_expert": "Focus on: accuracy, completeness, intellectual depth. Flag oversimplifications, gaps, and claims that overreach evidence. Suggest specific additions.\n\nDo NOT rewrite the document. Provide feedback only.",
	"style_editor":   "Focus on: sentence rhythm, word choice, transitions, clarity, economy. Cut throat-clearing, redundancy, jargon. Preserve the author's voice.\n\nDo NOT rewrite the document. Provide feedback only.",
	"fact_checker":   "Focus on: verifiable claims, statistics, attributions. For each issue, specify what's claimed, why it's problematic, and what would resolve it.\n\nDo NOT rewrite the document. Provide feedback only.",
}

const defaultEditorFocus = "Provide editorial feedback. Do NOT rewrite the document."

var draftTreatments = map[string]string{
	"light_polish":      "Treat the user's draft as nearly final. Make light edits only: fix errors, smooth phrasing, keep structure and voice.",
	"moderate_revision": "Keep the draft's core ideas and voice, but restructure and rewrite passages where it clearly improves the work.",
	"free_rewrite":      "Use the draft as raw material. You may rewrite freely as long as the intent is preserved.",
}

// SystemPrompt builds the system prompt of an agent.
func SystemPrompt(a core.AgentConfig) (string, error) {
	return util.Execute(systemTmpl, map[string]any{
		"Role":     a.RoleDescription,
		"Criteria": a.Criteria,
	})
}

// UserPrompt builds the user prompt of a turn: reference materials, draft
// treatment, working document, task and the evaluation format.
func UserPrompt(in TurnInput) (string, error) {
	var b strings.Builder

	if cfg := in.Session; cfg != nil {
		if len(cfg.ReferenceDocuments) > 0 {
			b.WriteString("=== REFERENCE MATERIALS ===\n")
			b.WriteString("(These are supporting documents for context only. Do NOT edit these.)\n")

			if cfg.ReferenceInstructions != "" {
				b.WriteString("\nHow to use these materials: " + cfg.ReferenceInstructions + "\n")
			}

			for _, name := range slices.Sorted(maps.Keys(cfg.ReferenceDocuments)) {
				b.WriteString("\n--- " + name + " ---\n" + cfg.ReferenceDocuments[name] + "\n")
			}

			b.WriteString("\n")
		}

		if in.Agent.Phase == core.PhaseWriter && cfg.DraftTreatment != "" && cfg.WorkingDocument != "" {
			treatment, ok := draftTreatments[cfg.DraftTreatment]
			if !ok {
				treatment = cfg.DraftTreatment
			}

			b.WriteString("=== DRAFT TREATMENT ===\n" + treatment + "\n\n")
		}
	}

	if in.Document != "" {
		b.WriteString("=== WORKING DOCUMENT ===\n")
		b.WriteString("(This is the central document you are writing/editing.)\n\n")
		b.WriteString(in.Document + "\n")
	}

	task, err := taskInstructions(in)
	if err != nil {
		return "", err
	}

	b.WriteString("\n=== YOUR TASK ===\n")
	b.WriteString(task)
	b.WriteString("\n\n=== EVALUATION FORMAT ===\n")

	format, err := util.Execute(evaluationTmpl, in.Agent.Criteria)
	if err != nil {
		return "", err
	}

	b.WriteString(format)

	return b.String(), nil
}

func taskInstructions(in TurnInput) (string, error) {
	switch in.Agent.Phase {
	case core.PhaseWriter:
		if in.FinalPass {
			return render(finalPassTmpl, in.Feedback, NoFeedbackPreviousRound)
		}

		if in.FirstTurn {
			initial := ""
			if in.Session != nil {
				initial = in.Session.InitialPrompt
			}

			return initial, nil
		}

		return render(revisionTmpl, in.Feedback, NoFeedbackPreviousRound)
	case core.PhaseEditor:
		focus, ok := editorFocus[in.Agent.ID]
		if !ok {
			focus = defaultEditorFocus
		}

		return editorPreamble + focus, nil
	case core.PhaseSynthesizer:
		return render(synthesisTmpl, in.Feedback, NoFeedbackThisRound)
	default:
		return "Review and provide feedback on the current draft.", nil
	}
}

func render(tmpl *template.Template, feedback, fallback string) (string, error) {
	if strings.TrimSpace(feedback) == "" {
		feedback = fallback
	}

	return util.Execute(tmpl, map[string]any{"Feedback": feedback})
}

// CombineFeedback joins editor outputs as "### <name>\n<output>\n" blocks
// separated by "\n---\n". It returns an empty string for no turns.
func CombineFeedback(turns []core.ExchangeTurn) string {
	parts := make([]string, 0, len(turns))

	for _, t := range turns {
		if t.Failed() {
			continue
		}

		parts = append(parts, "### "+t.AgentName+"\n"+t.Output+"\n")
	}

	return strings.Join(parts, "\n---\n")
}

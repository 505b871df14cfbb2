package engine

import (
	"github.com/hupe1980/draftmesh/core"
)

// Plan is the phase partition of a session's active agents. Each phase keeps
// the configured agent order.
type Plan struct {
	Writers      []core.AgentConfig
	Editors      []core.AgentConfig
	Synthesizers []core.AgentConfig
}

// NewPlan partitions the active agents by phase.
func NewPlan(agents []core.AgentConfig) Plan {
	var p Plan

	for _, a := range agents {
		if !a.Active {
			continue
		}

		switch a.Phase {
		case core.PhaseWriter:
			p.Writers = append(p.Writers, a)
		case core.PhaseEditor:
			p.Editors = append(p.Editors, a)
		case core.PhaseSynthesizer:
			p.Synthesizers = append(p.Synthesizers, a)
		}
	}

	return p
}

// Size returns the number of scheduled agents per round.
func (p Plan) Size() int {
	return len(p.Writers) + len(p.Editors) + len(p.Synthesizers)
}

// FinalPhase returns the last non-empty phase, whose scores drive the
// quality threshold.
func (p Plan) FinalPhase() core.Phase {
	switch {
	case len(p.Synthesizers) > 0:
		return core.PhaseSynthesizer
	case len(p.Editors) > 0:
		return core.PhaseEditor
	default:
		return core.PhaseWriter
	}
}

// Agents returns the agents in scheduling order.
func (p Plan) Agents() []core.AgentConfig {
	out := make([]core.AgentConfig, 0, p.Size())
	out = append(out, p.Writers...)
	out = append(out, p.Editors...)

	return append(out, p.Synthesizers...)
}

// NextFeedback derives the next round's writer feedback from this round's
// turns: the last successful synthesizer output, else the combined editor
// feedback, else nothing.
func NextFeedback(synthTurns []core.ExchangeTurn, editorFeedback string) string {
	for i := len(synthTurns) - 1; i >= 0; i-- {
		if !synthTurns[i].Failed() && synthTurns[i].Output != "" {
			return synthTurns[i].Output
		}
	}

	return editorFeedback
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/draftmesh/core"
)

func scored(phase core.Phase, score float64, failed bool) core.ExchangeTurn {
	t := core.ExchangeTurn{Phase: phase, Evaluation: &core.Evaluation{OverallScore: &score}}
	if failed {
		t.Error = "boom"
	}

	return t
}

func TestNewPlan(t *testing.T) {
	inactive := testAgent("ghost", core.PhaseEditor)
	inactive.Active = false

	p := NewPlan([]core.AgentConfig{
		testAgent("synth", core.PhaseSynthesizer),
		testAgent("e1", core.PhaseEditor),
		testAgent("w1", core.PhaseWriter),
		inactive,
		testAgent("e2", core.PhaseEditor),
		testAgent("w2", core.PhaseWriter),
	})

	assert.Equal(t, 5, p.Size())
	assert.Equal(t, core.PhaseSynthesizer, p.FinalPhase())

	var ids []string
	for _, a := range p.Agents() {
		ids = append(ids, a.ID)
	}

	assert.Equal(t, []string{"w1", "w2", "e1", "e2", "synth"}, ids)

	assert.Equal(t, core.PhaseEditor, NewPlan([]core.AgentConfig{testAgent("w", core.PhaseWriter), testAgent("e", core.PhaseEditor)}).FinalPhase())
	assert.Equal(t, core.PhaseWriter, NewPlan([]core.AgentConfig{testAgent("w", core.PhaseWriter)}).FinalPhase())
}

func TestNextFeedback(t *testing.T) {
	ok := core.ExchangeTurn{Output: "directive"}
	failed := core.ExchangeTurn{Output: "partial", Error: "timeout"}

	assert.Equal(t, "directive", NextFeedback([]core.ExchangeTurn{ok, failed}, "editors"))
	assert.Equal(t, "editors", NextFeedback([]core.ExchangeTurn{failed}, "editors"))
	assert.Equal(t, "editors", NextFeedback(nil, "editors"))
	assert.Empty(t, NextFeedback(nil, ""))
}

func TestTerminate(t *testing.T) {
	threshold := 8.0

	tests := []struct {
		name    string
		summary RoundSummary
		reason  string
		stop    bool
	}{
		{"continues", RoundSummary{Round: 1, MaxRounds: 3}, "", false},
		{"max rounds", RoundSummary{Round: 3, MaxRounds: 3}, core.ReasonMaxRounds, true},
		{"max rounds wins over stop", RoundSummary{Round: 3, MaxRounds: 3, Stopped: true}, core.ReasonMaxRounds, true},
		{"threshold", RoundSummary{Round: 1, MaxRounds: 3, Threshold: &threshold, FinalPhaseTurns: []core.ExchangeTurn{
			scored(core.PhaseSynthesizer, 6, false),
			scored(core.PhaseSynthesizer, 8, false),
		}}, core.ReasonQualityMet, true},
		{"failed turn never meets threshold", RoundSummary{Round: 1, MaxRounds: 3, Threshold: &threshold, FinalPhaseTurns: []core.ExchangeTurn{
			scored(core.PhaseSynthesizer, 9, true),
		}}, "", false},
		{"threshold wins over depletion", RoundSummary{Round: 1, MaxRounds: 3, Threshold: &threshold, Depleted: true, FinalPhaseTurns: []core.ExchangeTurn{
			scored(core.PhaseSynthesizer, 9.5, false),
		}}, core.ReasonQualityMet, true},
		{"stopped", RoundSummary{Round: 1, MaxRounds: 3, Stopped: true, Depleted: true}, core.ReasonStoppedByUser, true},
		{"depleted", RoundSummary{Round: 2, MaxRounds: 3, Depleted: true}, core.ReasonCreditDepleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, stop := Terminate(tt.summary)
			assert.Equal(t, tt.stop, stop)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestThresholdMet_IgnoresUnscoredTurns(t *testing.T) {
	threshold := 5.0

	assert.False(t, ThresholdMet(nil, []core.ExchangeTurn{scored(core.PhaseWriter, 10, false)}))
	assert.False(t, ThresholdMet(&threshold, []core.ExchangeTurn{{Output: "no evaluation"}}))
	assert.True(t, ThresholdMet(&threshold, []core.ExchangeTurn{{Output: "x"}, scored(core.PhaseWriter, 5, false)}))
}

func TestControl_PauseResumeStop(t *testing.T) {
	c := newControl()

	assert.True(t, c.Wait(context.Background()))
	assert.False(t, c.resume())
	assert.True(t, c.pause())
	assert.False(t, c.pause())
	assert.True(t, c.isPaused())

	released := make(chan bool, 1)

	go func() { released <- c.Wait(context.Background()) }()

	select {
	case <-released:
		t.Fatal("Wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, c.resume())
	assert.True(t, <-released)

	require.True(t, c.pause())

	go func() { released <- c.Wait(context.Background()) }()

	c.stop()
	assert.False(t, <-released)
	assert.True(t, c.isStopped())
	assert.False(t, c.pause())
	assert.False(t, c.Wait(context.Background()))
}

func TestControl_WaitHonoursContext(t *testing.T) {
	c := newControl()
	require.True(t, c.pause())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.False(t, c.Wait(ctx))
}

func TestConfig_ValidateAcceptsMinimalSession(t *testing.T) {
	cfg := testSession(1, testAgent("writer", core.PhaseWriter))

	require.NoError(t, DefaultConfig.Validate(&cfg))

	cfg.Agents = append(cfg.Agents, core.AgentConfig{ID: "x", Provider: core.ProviderMock, Model: "m", Phase: core.Phase(7), Active: true})
	assert.ErrorIs(t, DefaultConfig.Validate(&cfg), core.ErrValidation)
}

func TestConfig_ValidateAgentLimit(t *testing.T) {
	cfg := testSession(1)

	for i := 0; i <= DefaultConfig.MaxAgents; i++ {
		cfg.Agents = append(cfg.Agents, testAgent(string(rune('a'+i)), core.PhaseWriter))
	}

	err := DefaultConfig.Validate(&cfg)

	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "agents", ve.Field)
}

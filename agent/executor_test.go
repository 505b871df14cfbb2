package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/model"
)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) emit(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t core.EventType) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []core.Event

	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}

	return out
}

type fakeGate struct {
	open  bool
	waits int
}

func (g *fakeGate) Wait(context.Context) bool {
	g.waits++
	return g.open
}

type countingObserver struct {
	retries int
	turns   int
	failed  int
}

func (o *countingObserver) ObserveRetry(string) { o.retries++ }

func (o *countingObserver) ObserveTurn(_ core.Phase, failed bool, _ time.Duration) {
	o.turns++
	if failed {
		o.failed++
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestExecutor(m *model.MockModel, optFns ...func(o *ExecutorOptions)) *Executor {
	gw := model.NewGateway()
	gw.Register(core.ProviderMock, m)

	fns := append([]func(o *ExecutorOptions){func(o *ExecutorOptions) { o.Sleep = noSleep }}, optFns...)

	return NewExecutor(gw, fns...)
}

func writer() core.AgentConfig {
	return core.AgentConfig{
		ID:              "writer",
		DisplayName:     "Writer",
		Provider:        core.ProviderMock,
		Model:           "mock-writer",
		RoleDescription: "You are a writer.",
		Criteria:        []core.EvaluationCriterion{{Name: "Clarity", Description: "Is it clear?"}},
		Phase:           core.PhaseWriter,
		Active:          true,
	}
}

func editor(id string) core.AgentConfig {
	return core.AgentConfig{
		ID:       id,
		Provider: core.ProviderMock,
		Model:    "mock-" + id,
		Phase:    core.PhaseEditor,
		Active:   true,
	}
}

func transient() error {
	return &model.TransientError{Provider: "mock", StatusCode: 503, Err: errors.New("service unavailable")}
}

func TestExecutor_StreamsTokensAndParsesEvaluation(t *testing.T) {
	reply := `{"output": "A fine draft.", "evaluation": {"criteria_scores": [{"criterion": "Clarity", "score": 8}]}}`
	m := model.NewMockModel("mock", "mock").Script("mock-writer", model.Text(reply))

	rec := &recorder{}
	cfg := &core.SessionConfig{InitialPrompt: "Write about tides."}

	res := newTestExecutor(m).Execute(context.Background(), TurnInput{
		Agent:     writer(),
		Round:     1,
		FirstTurn: true,
		Session:   cfg,
		Emit:      rec.emit,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "A fine draft.", res.Parsed.Output)
	assert.Equal(t, "A fine draft.", res.Document, "writers replace the working document")
	assert.Equal(t, reply, res.Raw)

	score, ok := res.Parsed.Evaluation.Overall()
	require.True(t, ok)
	assert.InDelta(t, 8.0, score, 1e-9)

	require.Len(t, rec.ofType(core.EventAgentStart), 1)

	var streamed strings.Builder
	for _, ev := range rec.ofType(core.EventAgentToken) {
		streamed.WriteString(ev.Token)
	}

	assert.Equal(t, reply, streamed.String())
	assert.Greater(t, res.InputTokens, 0)
	assert.Greater(t, res.OutputTokens, 0)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Stream)
	assert.Contains(t, reqs[0].Prompt, "Write about tides.")
	assert.Contains(t, reqs[0].System, "You are a writer.")
}

func TestExecutor_NonStreamingEmitsSingleToken(t *testing.T) {
	m := model.NewMockModel("mock", "mock").SetStreaming(false).Script("mock-style", model.Text("Tighten the intro."))

	rec := &recorder{}

	res := newTestExecutor(m).Execute(context.Background(), TurnInput{
		Agent:    editor("style"),
		Round:    1,
		Document: "the doc",
		Emit:     rec.emit,
	})

	require.NoError(t, res.Err)

	tokens := rec.ofType(core.EventAgentToken)
	require.Len(t, tokens, 1)
	assert.Equal(t, "Tighten the intro.", tokens[0].Token)
	assert.Equal(t, "the doc", res.Document, "editors never change the working document")
	assert.Equal(t, "Tighten the intro.", res.Parsed.Output)
	assert.Empty(t, res.Parsed.ParseError)
}

func TestExecutor_RetriesTransientFailures(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Script("mock-style",
		model.Fail(transient()),
		model.Fail(transient()),
		model.Text("Recovered feedback."),
	)

	rec := &recorder{}
	obs := &countingObserver{}
	gate := &fakeGate{open: true}

	res := newTestExecutor(m, func(o *ExecutorOptions) { o.Observer = obs }).Execute(context.Background(), TurnInput{
		Agent: editor("style"),
		Round: 1,
		Emit:  rec.emit,
		Gate:  gate,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "Recovered feedback.", res.Parsed.Output)

	retries := rec.ofType(core.EventAgentRetry)
	require.Len(t, retries, 2)
	assert.Equal(t, 2, retries[0].Attempt)
	assert.Equal(t, 3, retries[1].Attempt)
	assert.Equal(t, 4, retries[0].MaxAttempts)
	assert.Contains(t, retries[0].Reason, "service unavailable")

	assert.Equal(t, 2, gate.waits)
	assert.Equal(t, 2, obs.retries)
	assert.Equal(t, 1, obs.turns)
	assert.Equal(t, 0, obs.failed)
}

func TestExecutor_GivesUpAfterMaxRetries(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Script("mock-style", model.Fail(transient()))

	rec := &recorder{}

	res := newTestExecutor(m).Execute(context.Background(), TurnInput{
		Agent: editor("style"),
		Round: 1,
		Emit:  rec.emit,
	})

	require.Error(t, res.Err)
	assert.True(t, model.IsTransient(res.Err))
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, m.Calls("mock-style"))
	assert.Len(t, rec.ofType(core.EventAgentRetry), 3)

	turn := res.Turn(7, time.Now())
	assert.True(t, turn.Failed())
	assert.Equal(t, 7, turn.TurnNumber)
	assert.Equal(t, 4, turn.Attempts)
}

func TestExecutor_FatalErrorsAreNotRetried(t *testing.T) {
	fatal := &model.FatalError{Provider: "mock", StatusCode: 401, Err: errors.New("invalid api key")}
	m := model.NewMockModel("mock", "mock").Script("mock-style", model.Fail(fatal))

	rec := &recorder{}

	res := newTestExecutor(m).Execute(context.Background(), TurnInput{Agent: editor("style"), Round: 1, Emit: rec.emit})

	require.Error(t, res.Err)

	var fe *model.FatalError
	assert.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, rec.ofType(core.EventAgentRetry))
}

func TestExecutor_StopBetweenRetriesAbandonsTurn(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Script("mock-style", model.Fail(transient()), model.Text("never used"))

	res := newTestExecutor(m).Execute(context.Background(), TurnInput{
		Agent: editor("style"),
		Round: 1,
		Gate:  &fakeGate{open: false},
	})

	assert.True(t, res.Abandoned())
	assert.ErrorIs(t, res.Err, ErrTurnAbandoned)
	assert.Equal(t, 1, m.Calls("mock-style"))
}

func TestExecutor_EstimatesUsageWhenProviderReportsNone(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Script("mock-style", model.Reply{Text: "twelve chars", Usage: &model.TokenUsage{}})

	res := newTestExecutor(m).Execute(context.Background(), TurnInput{Agent: editor("style"), Round: 1})

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.OutputTokens)
	assert.Greater(t, res.InputTokens, 1)
}

func TestExecutor_UnknownProviderIsFatal(t *testing.T) {
	a := editor("style")
	a.Provider = core.ProviderOpenAI

	res := newTestExecutor(model.NewMockModel("mock", "mock")).Execute(context.Background(), TurnInput{Agent: a, Round: 1})

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, model.ErrProviderNotConfigured)
	assert.Equal(t, 1, res.Attempts)
}

func TestRetryConfig_Backoff(t *testing.T) {
	c := RetryConfig{MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, BackoffMultiplier: 2}

	assert.Equal(t, time.Second, c.Backoff(1))
	assert.Equal(t, 2*time.Second, c.Backoff(2))
	assert.Equal(t, 4*time.Second, c.Backoff(3))
	assert.Equal(t, 5*time.Second, c.Backoff(4))
	assert.Equal(t, 6, c.MaxAttempts())

	var empty RetryConfig
	empty.ApplyDefaults()
	assert.Equal(t, DefaultRetryConfig(), empty)

	disabled := RetryConfig{MaxRetries: -1}
	disabled.ApplyDefaults()
	assert.Equal(t, 1, disabled.MaxAttempts())
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

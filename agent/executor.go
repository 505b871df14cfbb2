package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/credit"
	"github.com/hupe1980/draftmesh/evaluation"
	"github.com/hupe1980/draftmesh/logging"
	"github.com/hupe1980/draftmesh/model"
)

// ErrTurnAbandoned is returned when a session is stopped while a turn waits
// for its next retry.
var ErrTurnAbandoned = errors.New("turn abandoned: session stopped")

// Generator is the provider gateway surface used by the executor.
type Generator interface {
	Generate(ctx context.Context, provider core.ProviderType, req model.Request) (<-chan model.Response, <-chan error)
	Info(provider core.ProviderType) (model.Info, bool)
}

var _ Generator = (*model.Gateway)(nil)

// Gate is consulted between retries. Wait blocks while the session is paused
// and returns false once the session has been stopped.
type Gate interface {
	Wait(ctx context.Context) bool
}

// Observer receives executor telemetry.
type Observer interface {
	ObserveRetry(provider string)
	ObserveTurn(phase core.Phase, failed bool, dur time.Duration)
}

// TurnInput is everything a single agent turn needs. The session config is
// shared and must be treated as read-only.
type TurnInput struct {
	Agent core.AgentConfig
	Round int
	// Document is the working document snapshot the agent operates on.
	Document string
	// Feedback is the feedback context: previous round directive for
	// writers, combined editor outputs for synthesizers.
	Feedback  string
	FirstTurn bool
	FinalPass bool
	Session   *core.SessionConfig
	// Emit receives agent_start, agent_token and agent_retry events.
	Emit func(core.Event)
	Gate Gate
}

// TurnResult is the settled outcome of one turn. Turn numbers and credits are
// assigned by the caller when the result is recorded.
type TurnResult struct {
	Agent     core.AgentConfig
	Round     int
	FinalPass bool
	Raw       string
	Parsed    evaluation.Result
	// Document is the working document after the turn. Only writers change it.
	Document     string
	InputTokens  int
	OutputTokens int
	Attempts     int
	Duration     time.Duration
	Err          error
}

// Failed reports whether the turn produced no output.
func (r TurnResult) Failed() bool { return r.Err != nil }

// Abandoned reports whether the turn was given up because of a stop request.
func (r TurnResult) Abandoned() bool { return errors.Is(r.Err, ErrTurnAbandoned) }

// Turn converts the result into a history record.
func (r TurnResult) Turn(number int, at time.Time) core.ExchangeTurn {
	t := core.ExchangeTurn{
		TurnNumber:      number,
		RoundNumber:     r.Round,
		AgentID:         r.Agent.ID,
		AgentName:       r.Agent.Name(),
		Phase:           r.Agent.Phase,
		Timestamp:       at,
		Output:          r.Parsed.Output,
		RawResponse:     r.Raw,
		Evaluation:      r.Parsed.Evaluation,
		ParseError:      r.Parsed.ParseError,
		WorkingDocument: r.Document,
		Attempts:        r.Attempts,
		TokensInput:     r.InputTokens,
		TokensOutput:    r.OutputTokens,
		IsFinalPass:     r.FinalPass,
	}

	if r.Err != nil {
		t.Error = r.Err.Error()
	}

	return t
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Retry       RetryConfig
	Temperature float64
	MaxTokens   int
	Parser      *evaluation.Parser
	Logger      logging.Logger
	Observer    Observer

	// Sleep waits between retries; tests replace it to avoid real backoff.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Executor runs single agent turns against the provider gateway.
type Executor struct {
	gen  Generator
	opts ExecutorOptions
}

// NewExecutor creates an executor on top of gen.
func NewExecutor(gen Generator, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		Retry:       DefaultRetryConfig(),
		Temperature: 0.7,
		MaxTokens:   16000,
		Logger:      logging.NoOpLogger{},
		Sleep:       sleepContext,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Retry.ApplyDefaults()

	if opts.Parser == nil {
		opts.Parser = evaluation.NewParser()
	}

	return &Executor{gen: gen, opts: opts}
}

// Execute runs one turn. It emits agent_start, streams agent_token events and
// announces every retry with an agent_retry event. Tokens streamed by an
// attempt that later fails are not withdrawn; the following agent_retry tells
// consumers to discard them. Execute never returns an error; failures are
// reported on the result.
func (e *Executor) Execute(ctx context.Context, in TurnInput) TurnResult {
	start := time.Now()
	a := in.Agent

	res := TurnResult{Agent: a, Round: in.Round, FinalPass: in.FinalPass, Document: in.Document}

	log := logging.With(e.opts.Logger, "agent_id", a.ID, "round", in.Round, "phase", a.Phase.String())

	ev := core.NewAgentEvent(core.EventAgentStart, a, in.Round)
	ev.IsFinalPass = in.FinalPass
	e.emit(in, ev)

	defer func() {
		res.Duration = time.Since(start)

		if e.opts.Observer != nil {
			e.opts.Observer.ObserveTurn(a.Phase, res.Failed(), res.Duration)
		}
	}()

	system, err := SystemPrompt(a)
	if err != nil {
		res.Err = fmt.Errorf("build system prompt: %w", err)
		return res
	}

	user, err := UserPrompt(in)
	if err != nil {
		res.Err = fmt.Errorf("build user prompt: %w", err)
		return res
	}

	info, _ := e.gen.Info(a.Provider)

	req := model.Request{
		Model:       a.Model,
		System:      system,
		Prompt:      user,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
		Stream:      info.SupportsStreaming,
	}

	maxAttempts := e.opts.Retry.MaxAttempts()

	var resp model.Response

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		resp, err = e.attempt(ctx, in, req)
		if err == nil {
			break
		}

		if !model.IsTransient(err) || attempt >= maxAttempts {
			log.Error("agent turn failed", "attempts", attempt, "error", err)

			res.Err = err

			return res
		}

		delay := e.opts.Retry.Backoff(attempt)

		log.Warn("retrying agent turn", "attempt", attempt+1, "max_attempts", maxAttempts, "backoff", delay, "error", err)

		retry := core.NewAgentEvent(core.EventAgentRetry, a, in.Round)
		retry.IsFinalPass = in.FinalPass
		retry.Attempt = attempt + 1
		retry.MaxAttempts = maxAttempts
		retry.Reason = err.Error()
		e.emit(in, retry)

		if e.opts.Observer != nil {
			e.opts.Observer.ObserveRetry(string(a.Provider))
		}

		if err := e.opts.Sleep(ctx, delay); err != nil {
			res.Err = model.Classify(string(a.Provider), err)
			return res
		}

		if in.Gate != nil && !in.Gate.Wait(ctx) {
			log.Info("agent turn abandoned")

			res.Err = ErrTurnAbandoned

			return res
		}
	}

	res.Raw = resp.Text
	res.Parsed = e.opts.Parser.Parse(resp.Text, a.Criteria)

	if a.Phase == core.PhaseWriter {
		res.Document = res.Parsed.Output
	}

	if u := resp.Usage; u != nil && u.PromptTokens+u.CompletionTokens > 0 {
		res.InputTokens = u.PromptTokens
		res.OutputTokens = u.CompletionTokens
	} else {
		res.InputTokens = credit.EstimateTokens(system + user)
		res.OutputTokens = credit.EstimateTokens(resp.Text)
	}

	if res.Parsed.ParseError != "" {
		log.Debug("evaluation parsed with fallback", "strategy", string(res.Parsed.Strategy), "parse_error", res.Parsed.ParseError)
	}

	return res
}

func (e *Executor) attempt(ctx context.Context, in TurnInput, req model.Request) (model.Response, error) {
	respCh, errCh := e.gen.Generate(ctx, in.Agent.Provider, req)

	var onChunk func(string)
	if req.Stream {
		onChunk = func(chunk string) {
			e.emit(in, e.tokenEvent(in, chunk))
		}
	}

	resp, err := model.Collect(respCh, errCh, onChunk)
	if err != nil {
		return resp, err
	}

	if resp.Text == "" {
		return resp, &model.TransientError{Provider: string(in.Agent.Provider), Err: model.ErrEmptyResponse}
	}

	if !req.Stream {
		e.emit(in, e.tokenEvent(in, resp.Text))
	}

	return resp, nil
}

func (e *Executor) tokenEvent(in TurnInput, token string) core.Event {
	ev := core.NewAgentEvent(core.EventAgentToken, in.Agent, in.Round)
	ev.IsFinalPass = in.FinalPass
	ev.Token = token

	return ev
}

func (e *Executor) emit(in TurnInput, ev core.Event) {
	if in.Emit != nil {
		in.Emit(ev)
	}
}

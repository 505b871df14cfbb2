package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/draftmesh/agent"
	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/credit"
	"github.com/hupe1980/draftmesh/logging"
	"github.com/hupe1980/draftmesh/stream"
)

// execution is the state of one session run. It is owned by the run
// goroutine; only the fields of run are shared with control operations.
type execution struct {
	e      *Engine
	r      *run
	cfg    core.SessionConfig
	plan   Plan
	ctl    *control
	meter  *credit.Meter
	events *stream.Log
	log    logging.Logger
}

// outcome is how a run ended.
type outcome struct {
	status core.Status
	reason string
	err    error
	rounds int
}

// roundResult is what one round produced.
type roundResult struct {
	turns      int
	feedback   string
	finalTurns []core.ExchangeTurn
	interrupt  string
	aborted    *turnFailure
	err        error
}

// turnFailure is a writer or synthesizer failure that aborts the round.
type turnFailure struct {
	agent core.AgentConfig
	err   error
}

func (f *turnFailure) Error() string {
	phase, name := f.agent.Phase.String(), f.agent.Name()
	if name == phase {
		return fmt.Sprintf("%s failed: %v", name, f.err)
	}

	return fmt.Sprintf("%s %s failed: %v", phase, name, f.err)
}

func (f *turnFailure) Unwrap() error { return f.err }

func (e *Engine) runSession(ctx context.Context, r *run, events *stream.Log) {
	r.mu.RLock()
	cfg := r.state.Config.Clone()
	ctl, meter := r.ctl, r.meter
	r.mu.RUnlock()

	x := &execution{
		e:      e,
		r:      r,
		cfg:    cfg,
		plan:   NewPlan(cfg.Agents),
		ctl:    ctl,
		meter:  meter,
		events: events,
		log:    logging.With(e.opts.Logger, "session_id", cfg.ID),
	}

	defer func() {
		if rec := recover(); rec != nil {
			err := &core.InternalSchedulingError{SessionID: cfg.ID, Err: fmt.Errorf("panic: %v", rec)}
			x.log.Error("session run panicked", "error", err)
			x.finish(ctx, outcome{status: core.StatusFailed, reason: core.ReasonInternalFailure, err: err})
		}
	}()

	if e.opts.Observer != nil {
		e.opts.Observer.ObserveSessionStart()
	}

	x.log.Info("session started", "max_rounds", cfg.Termination.MaxRounds, "agents", x.plan.Size())

	start := core.NewEvent(core.EventSessionStart)
	start.MaxRounds = cfg.Termination.MaxRounds
	start.Status = core.StatusRunning
	start.CreditsRemaining = remaining(x.meter)

	for _, a := range x.plan.Agents() {
		start.Agents = append(start.Agents, core.AgentSummary{ID: a.ID, Name: a.Name(), Phase: a.Phase})
	}

	x.emit(start)

	if err := x.persistStatus(ctx); err != nil {
		x.finish(ctx, outcome{status: core.StatusFailed, reason: core.ReasonInternalFailure, err: err})
		return
	}

	x.finish(ctx, x.rounds(ctx))
}

func (x *execution) rounds(ctx context.Context) outcome {
	var (
		feedback  string
		completed int
	)

	maxRounds := x.cfg.Termination.MaxRounds

	for round := 1; ; round++ {
		if reason := x.boundary(ctx); reason != "" {
			return outcome{status: core.StatusCompleted, reason: reason, rounds: completed}
		}

		x.r.mu.Lock()
		x.r.state.CurrentRound = round
		x.r.mu.Unlock()

		if err := x.persistStatus(ctx); err != nil {
			return outcome{status: core.StatusFailed, reason: core.ReasonInternalFailure, err: err, rounds: completed}
		}

		ev := core.NewEvent(core.EventRoundStart)
		ev.Round = round
		ev.MaxRounds = maxRounds
		x.emit(ev)

		x.log.Debug("round started", "round", round)

		res := x.round(ctx, round, feedback)

		if res.err != nil {
			return outcome{status: core.StatusFailed, reason: core.ReasonInternalFailure, err: res.err, rounds: completed}
		}

		if res.interrupt != "" {
			return outcome{status: core.StatusCompleted, reason: res.interrupt, rounds: completed}
		}

		// An aborted round emits no round_complete, keeps the feedback of the
		// last completed round and still counts against the round limit.
		if res.aborted != nil {
			x.log.Warn("round aborted", "round", round, "agent_id", res.aborted.agent.ID, "error", res.aborted)

			reason, stop := Terminate(RoundSummary{
				Round:     round,
				MaxRounds: maxRounds,
				Stopped:   x.ctl.isStopped(),
				Depleted:  x.meter.Depleted(),
			})
			if stop {
				return outcome{status: core.StatusCompleted, reason: reason, rounds: completed}
			}

			continue
		}

		completed++

		done := core.NewEvent(core.EventRoundComplete)
		done.Round = round
		done.MaxRounds = maxRounds
		done.TurnsCompleted = res.turns
		x.emit(done)

		feedback = res.feedback

		reason, stop := Terminate(RoundSummary{
			Round:           round,
			MaxRounds:       maxRounds,
			Threshold:       x.cfg.Termination.ScoreThreshold,
			FinalPhaseTurns: res.finalTurns,
			Stopped:         x.ctl.isStopped(),
			Depleted:        x.meter.Depleted(),
		})
		if !stop {
			continue
		}

		if x.e.opts.Config.FinalWriterPass && (reason == core.ReasonMaxRounds || reason == core.ReasonQualityMet) {
			// The polish pass waits out a pause and is skipped after a stop or
			// depletion; the termination reason stays as decided.
			if x.boundary(ctx) == "" {
				if err := x.finalPass(ctx, round, feedback); err != nil {
					return outcome{status: core.StatusFailed, reason: core.ReasonInternalFailure, err: err, rounds: completed}
				}
			}
		}

		return outcome{status: core.StatusCompleted, reason: reason, rounds: completed}
	}
}

// boundary returns the reason a new turn must not start, blocking first
// while the session is paused.
func (x *execution) boundary(ctx context.Context) string {
	if !x.ctl.Wait(ctx) {
		return core.ReasonStoppedByUser
	}

	if x.meter.Depleted() {
		return core.ReasonCreditDepleted
	}

	return ""
}

func (x *execution) input(a core.AgentConfig, round int, doc, feedback string) agent.TurnInput {
	return agent.TurnInput{
		Agent:    a,
		Round:    round,
		Document: doc,
		Feedback: feedback,
		Session:  &x.cfg,
		Emit:     x.emit,
		Gate:     x.ctl,
	}
}

func (x *execution) document() string {
	x.r.mu.RLock()
	defer x.r.mu.RUnlock()

	return x.r.state.CurrentDocument()
}

func (x *execution) round(ctx context.Context, round int, feedback string) roundResult {
	var rr roundResult

	finalPhase := x.plan.FinalPhase()
	doc := x.document()

	// Phase 1: writers, sequential.
	for _, w := range x.plan.Writers {
		if reason := x.boundary(ctx); reason != "" {
			rr.interrupt = reason
			return rr
		}

		in := x.input(w, round, doc, feedback)
		in.FirstTurn = round == 1

		turn, ok := x.sequentialTurn(ctx, in, &rr)
		if !ok {
			return rr
		}

		doc = turn.WorkingDocument

		if finalPhase == core.PhaseWriter {
			rr.finalTurns = append(rr.finalTurns, turn)
		}
	}

	// Phase 2: editors, fan-out/fan-in over the same snapshot.
	var editorTurns []core.ExchangeTurn

	if len(x.plan.Editors) > 0 {
		if reason := x.boundary(ctx); reason != "" {
			rr.interrupt = reason
			return rr
		}

		results := agent.Parallel(ctx, x.plan.Editors, func(ctx context.Context, a core.AgentConfig) agent.TurnResult {
			return x.e.executor.Execute(ctx, x.input(a, round, doc, ""))
		}, func(a core.AgentConfig, rec any) agent.TurnResult {
			return agent.TurnResult{Agent: a, Round: round, Document: doc, Attempts: 1, Err: fmt.Errorf("agent panicked: %v", rec)}
		})

		abandoned := false

		for res := range results {
			if rr.err != nil {
				continue
			}

			if res.Abandoned() {
				abandoned = true
				continue
			}

			turn, err := x.record(ctx, res)
			if err != nil {
				rr.err = err
				continue
			}

			rr.turns++

			if turn.Failed() {
				continue
			}

			editorTurns = append(editorTurns, turn)

			if finalPhase == core.PhaseEditor {
				rr.finalTurns = append(rr.finalTurns, turn)
			}
		}

		if rr.err != nil {
			return rr
		}

		if abandoned {
			rr.interrupt = core.ReasonStoppedByUser
			return rr
		}
	}

	editorFeedback := agent.CombineFeedback(editorTurns)

	// Phase 3: synthesizers, sequential after the barrier.
	var synthTurns []core.ExchangeTurn

	for _, s := range x.plan.Synthesizers {
		if reason := x.boundary(ctx); reason != "" {
			rr.interrupt = reason
			return rr
		}

		turn, ok := x.sequentialTurn(ctx, x.input(s, round, doc, editorFeedback), &rr)
		if !ok {
			return rr
		}

		synthTurns = append(synthTurns, turn)
		rr.finalTurns = append(rr.finalTurns, turn)
	}

	rr.feedback = NextFeedback(synthTurns, editorFeedback)

	return rr
}

// sequentialTurn runs a writer or synthesizer turn. It reports false when
// the round cannot continue; rr then carries the interrupt, the failed turn
// or the error.
func (x *execution) sequentialTurn(ctx context.Context, in agent.TurnInput, rr *roundResult) (core.ExchangeTurn, bool) {
	res := x.e.executor.Execute(ctx, in)

	if res.Abandoned() {
		rr.interrupt = core.ReasonStoppedByUser
		return core.ExchangeTurn{}, false
	}

	turn, err := x.record(ctx, res)
	if err != nil {
		rr.err = err
		return turn, false
	}

	rr.turns++

	if turn.Failed() {
		rr.aborted = &turnFailure{agent: in.Agent, err: res.Err}
		return turn, false
	}

	return turn, true
}

func (x *execution) finalPass(ctx context.Context, round int, feedback string) error {
	if len(x.plan.Writers) == 0 {
		return nil
	}

	in := x.input(x.plan.Writers[0], round, x.document(), feedback)
	in.FinalPass = true

	x.log.Debug("final writer pass", "agent_id", in.Agent.ID)

	res := x.e.executor.Execute(ctx, in)
	if res.Abandoned() {
		return nil
	}

	turn, err := x.record(ctx, res)
	if err != nil {
		return err
	}

	if turn.Failed() {
		x.log.Warn("final writer pass failed", "agent_id", in.Agent.ID, "error", res.Err)
	}

	return nil
}

// record numbers, charges, stores and announces a settled turn.
func (x *execution) record(ctx context.Context, res agent.TurnResult) (core.ExchangeTurn, error) {
	var (
		receipt credit.Receipt
		charged bool
	)

	x.r.mu.Lock()

	turn := res.Turn(len(x.r.state.Turns)+1, x.e.opts.Now())

	if !turn.Failed() {
		receipt = x.meter.Record(res.Agent.Model, res.InputTokens, res.OutputTokens)
		turn.CreditsCharged = receipt.Charged
		x.r.state.CreditsUsed = receipt.Used
		charged = true
	}

	x.r.state.Turns = append(x.r.state.Turns, turn)

	x.r.mu.Unlock()

	if err := x.e.opts.Repository.Append(ctx, x.cfg.ID, turn); err != nil {
		return turn, &core.InternalSchedulingError{SessionID: x.cfg.ID, Err: fmt.Errorf("append turn %d: %w", turn.TurnNumber, err)}
	}

	if turn.Failed() {
		ev := core.NewErrorEvent(res.Agent.ID, turn.Error)
		ev.AgentName = turn.AgentName
		ev.Phase = turn.Phase
		ev.Round = turn.RoundNumber
		ev.TurnNumber = turn.TurnNumber
		ev.IsFinalPass = turn.IsFinalPass
		ev.Attempt = turn.Attempts
		x.emit(ev)

		return turn, nil
	}

	ev := core.NewAgentEvent(core.EventAgentComplete, res.Agent, turn.RoundNumber)
	ev.TurnNumber = turn.TurnNumber
	ev.IsFinalPass = turn.IsFinalPass
	ev.Output = turn.Output
	ev.Evaluation = turn.Evaluation.Clone()
	ev.ParseError = turn.ParseError
	ev.WorkingDocument = turn.WorkingDocument
	ev.Attempt = turn.Attempts
	ev.Usage = &core.Usage{InputTokens: turn.TokensInput, OutputTokens: turn.TokensOutput, Credits: turn.CreditsCharged}
	x.emit(ev)

	if charged {
		if x.e.opts.Observer != nil && receipt.Charged > 0 {
			x.e.opts.Observer.ObserveCredits(receipt.Charged)
		}

		upd := core.NewEvent(core.EventCreditsUpdate)
		upd.Round = turn.RoundNumber
		upd.AgentID = turn.AgentID
		upd.TurnNumber = turn.TurnNumber
		upd.CreditsUsed = receipt.Used
		upd.CreditsRemaining = remaining(x.meter)
		x.emit(upd)

		if receipt.WarningCrossed {
			warn := core.NewEvent(core.EventCreditWarning)
			warn.CreditsUsed = receipt.Used
			warn.CreditsRemaining = remaining(x.meter)
			warn.Message = fmt.Sprintf("%d of %d credits used", receipt.Used, x.meter.Balance())
			x.emit(warn)

			x.log.Warn("session credits running low", "used", receipt.Used, "balance", x.meter.Balance())
		}

		if receipt.Status == credit.StatusDepleted {
			x.log.Info("session credits depleted", "error", &core.CreditDepletedError{Used: receipt.Used, Balance: x.meter.Balance()})
		}
	}

	return turn, nil
}

// finish charges the consumed credits, persists the terminal status and
// emits the single session_complete event.
func (x *execution) finish(ctx context.Context, out outcome) {
	r := x.r

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}

	r.finished = true

	used := 0
	if x.meter != nil {
		used = x.meter.Used()
	}

	r.state.Status = out.status
	r.state.IsRunning = false
	r.state.IsPaused = false
	r.state.TerminationReason = out.reason
	r.state.CreditsUsed = used

	if used > 0 {
		if _, err := x.e.opts.Credits.Charge(ctx, x.cfg.UserID, used, x.cfg.ID); err != nil {
			x.log.Error("charge session credits failed", "credits", used, "error", err)
		}
	}

	if err := x.e.opts.Repository.UpdateStatus(ctx, x.cfg.ID, r.statusUpdateLocked()); err != nil {
		x.log.Error("persist terminal status failed", "error", err)
	}

	if out.err != nil {
		x.emit(core.NewErrorEvent("", out.err.Error()))
	}

	ev := core.NewEvent(core.EventSessionComplete)
	ev.Round = r.state.CurrentRound
	ev.MaxRounds = x.cfg.Termination.MaxRounds
	ev.Status = out.status
	ev.TerminationReason = out.reason
	ev.RoundsCompleted = out.rounds
	ev.TurnsCompleted = len(r.state.Turns)
	ev.CreditsUsed = used
	ev.CreditsRemaining = remaining(x.meter)
	x.emit(ev)

	if x.e.opts.Observer != nil {
		x.e.opts.Observer.ObserveSessionEnd(out.status, out.reason)
	}

	if out.status == core.StatusFailed {
		x.log.Error("session failed", "reason", out.reason, "error", out.err)
		return
	}

	x.log.Info("session completed", "reason", out.reason, "rounds", out.rounds, "turns", len(r.state.Turns), "credits", used)
}

func (x *execution) persistStatus(ctx context.Context) error {
	x.r.mu.RLock()
	upd := x.r.statusUpdateLocked()
	x.r.mu.RUnlock()

	if err := x.e.opts.Repository.UpdateStatus(ctx, x.cfg.ID, upd); err != nil {
		return &core.InternalSchedulingError{SessionID: x.cfg.ID, Err: fmt.Errorf("update status: %w", err)}
	}

	return nil
}

func (x *execution) emit(ev core.Event) {
	x.e.append(x.events, ev)
}

func remaining(m *credit.Meter) *int {
	if m == nil {
		return nil
	}

	rem := m.Remaining()
	if rem == credit.Unlimited {
		return nil
	}

	return &rem
}

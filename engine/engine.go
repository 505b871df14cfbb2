package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/draftmesh/agent"
	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/credit"
	"github.com/hupe1980/draftmesh/logging"
	"github.com/hupe1980/draftmesh/session"
	"github.com/hupe1980/draftmesh/stream"
)

// Observer receives session level telemetry in addition to the executor's.
type Observer interface {
	agent.Observer
	ObserveSessionStart()
	ObserveSessionEnd(status core.Status, reason string)
	ObserveCredits(n int)
}

// Options configures an Engine using the functional options pattern.
//
// Example:
//
//	eng := engine.New(gateway, func(o *engine.Options) {
//	    o.Config.MaxRoundsLimit = 10
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Repository persists session state. Defaults to an in-memory store.
	Repository core.SessionRepository

	// Credits provides balances, estimates and the final charge. Defaults
	// to an in-memory service on the default tier.
	Credits core.CreditService

	// Pricing maps models to credit multipliers.
	Pricing *credit.Pricing

	// Sinks receive every session event in addition to the stream log.
	Sinks []stream.Sink

	Logger   logging.Logger
	Observer Observer

	// Sleep waits between retries. Tests replace it to skip real backoff.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now stamps turns. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Engine runs refinement sessions and exposes their control operations. All
// methods are safe for concurrent use.
type Engine struct {
	gen      agent.Generator
	executor *agent.Executor
	opts     Options

	mu   sync.RWMutex
	runs map[string]*run

	wg sync.WaitGroup
}

// New creates an Engine generating through gen, usually a *model.Gateway.
func New(gen agent.Generator, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Now:    func() time.Time { return time.Now().UTC() },
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Pricing == nil {
		opts.Pricing = credit.NewPricing(nil)
	}

	if opts.Repository == nil {
		opts.Repository = session.NewInMemoryStore()
	}

	if opts.Credits == nil {
		opts.Credits = credit.NewInMemoryService(credit.DefaultTier, credit.NewEstimator(opts.Pricing, opts.Config.FinalWriterPass))
	}

	executor := agent.NewExecutor(gen, func(o *agent.ExecutorOptions) {
		o.Retry = opts.Config.Retry
		o.Temperature = opts.Config.Temperature
		o.MaxTokens = opts.Config.MaxTokens
		o.Logger = opts.Logger

		if opts.Observer != nil {
			o.Observer = opts.Observer
		}

		if opts.Sleep != nil {
			o.Sleep = opts.Sleep
		}
	})

	return &Engine{
		gen:      gen,
		executor: executor,
		opts:     opts,
		runs:     make(map[string]*run),
	}
}

// run is the runtime record of one session.
type run struct {
	mu       sync.RWMutex
	state    core.SessionState
	log      *stream.Log
	ctl      *control
	meter    *credit.Meter
	done     chan struct{}
	finished bool
}

func (r *run) snapshot() core.SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.state.Clone()
}

func (r *run) statusUpdateLocked() core.StatusUpdate {
	return core.StatusUpdate{
		Status:            r.state.Status,
		CurrentRound:      r.state.CurrentRound,
		TerminationReason: r.state.TerminationReason,
		CreditsUsed:       r.state.CreditsUsed,
	}
}

func (e *Engine) newLog(id string) *stream.Log {
	return stream.NewLog(id, func(o *stream.LogOptions) {
		o.Sinks = e.opts.Sinks
		o.Logger = e.opts.Logger
	})
}

func (e *Engine) lookup(id string) (*run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}

	return r, nil
}

// Create validates cfg and registers a draft session. A missing id is
// generated and a missing round limit defaults to Config.DefaultMaxRounds.
func (e *Engine) Create(ctx context.Context, cfg core.SessionConfig) (core.SessionState, error) {
	cfg = cfg.Clone()

	if cfg.ID == "" {
		cfg.ID = core.NewID()
	}

	if cfg.Termination.MaxRounds == 0 {
		cfg.Termination.MaxRounds = e.opts.Config.DefaultMaxRounds
	}

	if err := e.opts.Config.Validate(&cfg); err != nil {
		return core.SessionState{}, err
	}

	for i, a := range cfg.Agents {
		if !a.Active {
			continue
		}

		if _, ok := e.gen.Info(a.Provider); !ok {
			return core.SessionState{}, core.NewValidationError(fmt.Sprintf("agents[%d].provider", i), fmt.Sprintf("provider %q is not configured", a.Provider))
		}
	}

	if e.opts.Config.CheckBalance {
		est, err := e.Estimate(ctx, cfg)
		if err != nil {
			return core.SessionState{}, err
		}

		if !est.HasSufficientCredits {
			return core.SessionState{}, fmt.Errorf("%w: estimated %d credits, balance %d", core.ErrInsufficientCredits, est.EstimatedCredits, est.Balance)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.runs[cfg.ID]; ok {
		return core.SessionState{}, fmt.Errorf("%w: %s", core.ErrSessionExists, cfg.ID)
	}

	if err := e.opts.Repository.Create(ctx, cfg); err != nil {
		return core.SessionState{}, fmt.Errorf("create session: %w", err)
	}

	r := &run{
		state: core.NewSessionState(cfg),
		log:   e.newLog(cfg.ID),
		done:  make(chan struct{}),
	}
	e.runs[cfg.ID] = r

	e.opts.Logger.Info("session created", "session_id", cfg.ID, "agents", len(cfg.Agents), "max_rounds", cfg.Termination.MaxRounds)

	return r.snapshot(), nil
}

// Estimate projects the credits cfg would consume.
func (e *Engine) Estimate(ctx context.Context, cfg core.SessionConfig) (core.CreditEstimate, error) {
	maxRounds := cfg.Termination.MaxRounds
	if maxRounds == 0 {
		maxRounds = e.opts.Config.DefaultMaxRounds
	}

	return e.opts.Credits.Estimate(ctx, core.EstimateRequest{
		UserID:            cfg.UserID,
		Agents:            cfg.ActiveAgents(),
		MaxRounds:         maxRounds,
		DocumentWordCount: credit.WordCount(cfg.WorkingDocument),
	})
}

// Start runs a draft session and blocks until it terminates. When ctx ends
// first, Start returns the current state and ctx's error; the session keeps
// running and stays controllable.
func (e *Engine) Start(ctx context.Context, id string) (core.SessionState, error) {
	h, err := e.launch(ctx, id)
	if err != nil {
		return core.SessionState{}, err
	}

	r := h.run

	select {
	case <-h.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return r.snapshot(), ctx.Err()
	}
}

// Launch runs a draft session in the background and returns its state right
// after the transition to running.
func (e *Engine) Launch(ctx context.Context, id string) (core.SessionState, error) {
	h, err := e.launch(ctx, id)
	if err != nil {
		return core.SessionState{}, err
	}

	return h.run.snapshot(), nil
}

// StartStreaming runs a draft session in the background and returns its
// event stream from the first event. Ending ctx detaches the consumer but
// does not stop the session.
func (e *Engine) StartStreaming(ctx context.Context, id string) (*stream.Subscription, error) {
	h, err := e.launch(ctx, id)
	if err != nil {
		return nil, err
	}

	return h.log.Subscribe(ctx, 0)
}

// Subscribe attaches to the event stream of a session, replaying events
// after the given sequence number.
func (e *Engine) Subscribe(ctx context.Context, id string, after int64) (*stream.Subscription, error) {
	r, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	log := r.log
	r.mu.RUnlock()

	return log.Subscribe(ctx, after)
}

// Events returns the events of the session's current or last run.
func (e *Engine) Events(id string) ([]core.Event, error) {
	r, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	log := r.log
	r.mu.RUnlock()

	return log.Events(), nil
}

// handle captures the channels of one run so that callers never race with a
// later reset.
type handle struct {
	run  *run
	log  *stream.Log
	done <-chan struct{}
}

func (e *Engine) launch(ctx context.Context, id string) (handle, error) {
	r, err := e.lookup(id)
	if err != nil {
		return handle{}, err
	}

	userID := r.snapshot().Config.UserID

	bal, err := e.opts.Credits.GetBalance(ctx, userID)
	if err != nil {
		return handle{}, fmt.Errorf("get balance: %w", err)
	}

	r.mu.Lock()

	switch r.state.Status {
	case core.StatusRunning, core.StatusPaused:
		r.mu.Unlock()
		return handle{}, fmt.Errorf("%w: %s", core.ErrSessionRunning, id)
	case core.StatusCompleted, core.StatusFailed:
		r.mu.Unlock()
		return handle{}, fmt.Errorf("%w: %s", core.ErrSessionFinished, id)
	}

	r.meter = credit.NewMeter(bal.Balance, e.opts.Config.CreditWarningThreshold, e.opts.Pricing)
	r.ctl = newControl()
	r.state.Status = core.StatusRunning
	r.state.IsRunning = true
	r.finished = false

	h := handle{run: r, log: r.log, done: r.done}
	done := r.done

	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer cancel()
		defer close(done)

		e.runSession(runCtx, r, h.log)
	}()

	return h, nil
}

// Pause stops the session from starting new turns. In-flight turns finish.
// Pausing a paused session is a no-op.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.transition(ctx, id, core.StatusPaused)
}

// Resume lets a paused session continue at the boundary where it paused.
// Resuming a running session is a no-op.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.transition(ctx, id, core.StatusRunning)
}

func (e *Engine) transition(ctx context.Context, id string, to core.Status) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status != core.StatusRunning && r.state.Status != core.StatusPaused {
		return fmt.Errorf("%w: %s", core.ErrSessionNotRunning, id)
	}

	var (
		changed bool
		evType  core.EventType
	)

	if to == core.StatusPaused {
		changed, evType = r.ctl.pause(), core.EventSessionPaused
	} else {
		changed, evType = r.ctl.resume(), core.EventSessionResumed
	}

	if !changed {
		return nil
	}

	r.state.Status = to
	r.state.IsPaused = to == core.StatusPaused

	if err := e.opts.Repository.UpdateStatus(ctx, id, r.statusUpdateLocked()); err != nil {
		e.opts.Logger.Warn("persist session status failed", "session_id", id, "status", string(to), "error", err)
	}

	ev := core.NewEvent(evType)
	ev.Round = r.state.CurrentRound
	ev.Status = to
	e.append(r.log, ev)

	e.opts.Logger.Info("session "+string(to), "session_id", id, "round", r.state.CurrentRound)

	return nil
}

// Stop requests a running or paused session to end at the next turn
// boundary. Completed turns are preserved.
func (e *Engine) Stop(_ context.Context, id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state.Status {
	case core.StatusRunning, core.StatusPaused:
		r.ctl.stop()
		e.opts.Logger.Info("session stop requested", "session_id", id)

		return nil
	case core.StatusDraft:
		return fmt.Errorf("%w: %s", core.ErrSessionNotRunning, id)
	default:
		return fmt.Errorf("%w: %s", core.ErrSessionFinished, id)
	}
}

// Reset returns an idle session to draft and clears its history.
func (e *Engine) Reset(ctx context.Context, id string) (core.SessionState, error) {
	r, err := e.lookup(id)
	if err != nil {
		return core.SessionState{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status == core.StatusRunning || r.state.Status == core.StatusPaused {
		return core.SessionState{}, fmt.Errorf("%w: %s", core.ErrSessionRunning, id)
	}

	if err := e.opts.Repository.Reset(ctx, id); err != nil {
		return core.SessionState{}, fmt.Errorf("reset session: %w", err)
	}

	r.state = core.NewSessionState(r.state.Config)
	r.log = e.newLog(id)
	r.done = make(chan struct{})
	r.meter = nil
	r.ctl = nil
	r.finished = false

	e.opts.Logger.Info("session reset", "session_id", id)

	return r.state.Clone(), nil
}

// Get returns a snapshot of a session. Sessions unknown to this engine are
// loaded from the repository.
func (e *Engine) Get(ctx context.Context, id string) (core.SessionState, error) {
	if r, err := e.lookup(id); err == nil {
		return r.snapshot(), nil
	}

	return e.opts.Repository.LoadState(ctx, id)
}

// List returns snapshots of all sessions of userID (all sessions for an
// empty userID) ordered by id.
func (e *Engine) List(userID string) []core.SessionState {
	e.mu.RLock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.RUnlock()

	out := make([]core.SessionState, 0, len(runs))

	for _, r := range runs {
		st := r.snapshot()
		if userID != "" && st.Config.UserID != userID {
			continue
		}

		out = append(out, st)
	}

	slices.SortFunc(out, func(a, b core.SessionState) int {
		return strings.Compare(a.Config.ID, b.Config.ID)
	})

	return out
}

// Shutdown stops every running session and waits for them to finish or for
// ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	for _, r := range e.runs {
		r.mu.Lock()
		if r.ctl != nil && !r.state.Status.Terminal() {
			r.ctl.stop()
		}
		r.mu.Unlock()
	}
	e.mu.RUnlock()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) append(log *stream.Log, ev core.Event) {
	if _, err := log.Append(ev); err != nil && !errors.Is(err, stream.ErrClosed) {
		e.opts.Logger.Error("append session event failed", "session_id", log.SessionID(), "type", string(ev.Type), "error", err)
	}
}

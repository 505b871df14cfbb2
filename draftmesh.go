// Package draftmesh provides a high-level façade over the refinement engine
// and its supporting services (provider gateway, credits, metrics, event
// sinks). Most applications interact with this package by:
//  1. Creating a DraftMesh via New(), usually from a loaded config.Config
//  2. Running sessions asynchronously (Run) or synchronously (RunSync)
//  3. Closing it on shutdown so that running sessions stop cleanly
//
// Applications that need the HTTP surface pass Engine() and Gateway() to
// server.New.
package draftmesh

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/draftmesh/config"
	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/engine"
	"github.com/hupe1980/draftmesh/logging"
	"github.com/hupe1980/draftmesh/metrics"
	"github.com/hupe1980/draftmesh/model"
	"github.com/hupe1980/draftmesh/model/anthropic"
	"github.com/hupe1980/draftmesh/model/openai"
	"github.com/hupe1980/draftmesh/stream"
)

// Options configures the DraftMesh instance.
type Options struct {
	// Config is the resolved configuration. Defaults to config.Default().
	Config config.Config

	// Logger defaults to the logger described by Config.Logging.
	Logger logging.Logger

	// Registerer receives the Prometheus collectors. Nil disables metrics.
	Registerer prometheus.Registerer

	// Repository and Credits default to in-memory implementations.
	Repository core.SessionRepository
	Credits    core.CreditService

	// Models are registered after the configured providers and replace them.
	Models map[core.ProviderType]model.Model

	// Sinks receive every session event in addition to the configured NATS
	// sink.
	Sinks []stream.Sink
}

// DraftMesh aggregates the gateway, the engine and their telemetry.
type DraftMesh struct {
	opts    Options
	gateway *model.Gateway
	engine  *engine.Engine
	metrics *metrics.Metrics
	nc      *nats.Conn
}

// New creates a DraftMesh. Providers with credentials in Config.Providers are
// registered with the gateway; a NATS connection is opened when
// Config.NATS.URL is set.
func New(optFns ...func(o *Options)) (*DraftMesh, error) {
	opts := Options{
		Config: config.Default(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config

	if opts.Logger == nil {
		l, err := cfg.Logging.NewLogger()
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}

		opts.Logger = l
	}

	d := &DraftMesh{opts: opts}

	if opts.Registerer != nil {
		d.metrics = metrics.New(opts.Registerer)
	}

	d.gateway = model.NewGateway(func(o *model.GatewayOptions) {
		o.RateLimit = cfg.Providers.RateLimit
		o.Burst = cfg.Providers.Burst
		o.Logger = opts.Logger

		if d.metrics != nil {
			o.Observer = d.metrics
		}
	})

	registerProviders(d.gateway, cfg)

	for p, m := range opts.Models {
		d.gateway.Register(p, m)
	}

	if len(d.gateway.Providers()) == 0 {
		opts.Logger.Warn("no model providers configured")
	}

	sinks := append([]stream.Sink(nil), opts.Sinks...)

	if cfg.NATS.URL != "" {
		nc, err := stream.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}

		d.nc = nc
		sinks = append(sinks, stream.NewNATSSink(nc, cfg.NATS.SubjectPrefix))
	}

	pricing := cfg.Credits.Pricing()
	engineCfg := cfg.Engine.EngineOptions()

	credits := opts.Credits
	if credits == nil {
		credits = cfg.Credits.NewService(pricing, engineCfg.FinalWriterPass)
	}

	d.engine = engine.New(d.gateway, func(o *engine.Options) {
		o.Config = engineCfg
		o.Credits = credits
		o.Pricing = pricing
		o.Sinks = sinks
		o.Logger = opts.Logger

		if opts.Repository != nil {
			o.Repository = opts.Repository
		}

		if d.metrics != nil {
			o.Observer = d.metrics
		}
	})

	return d, nil
}

func registerProviders(gw *model.Gateway, cfg config.Config) {
	p := cfg.Providers

	tune := func(o *openai.Options) {
		o.Temperature = cfg.Engine.Temperature
		o.MaxCompletionTokens = int64(cfg.Engine.MaxTokens)
	}

	if p.OpenAIAPIKey != "" {
		clientOpts := []option.RequestOption{option.WithAPIKey(p.OpenAIAPIKey), option.WithMaxRetries(0)}
		if p.OpenAIBaseURL != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(p.OpenAIBaseURL))
		}

		client := oai.NewClient(clientOpts...)
		gw.Register(core.ProviderOpenAI, openai.NewModelFromClient(&client, tune))
	}

	if p.AnthropicAPIKey != "" {
		gw.Register(core.ProviderAnthropic, anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = p.AnthropicAPIKey
			o.BaseURL = p.AnthropicBaseURL
			o.Temperature = cfg.Engine.Temperature
			o.MaxTokens = int64(cfg.Engine.MaxTokens)
		}))
	}

	if p.GoogleAPIKey != "" {
		gw.Register(core.ProviderGoogle, openai.NewGoogleModel(p.GoogleAPIKey, tune))
	}

	if p.PerplexityAPIKey != "" {
		gw.Register(core.ProviderPerplexity, openai.NewPerplexityModel(p.PerplexityAPIKey, tune))
	}

	if p.EnableMock {
		gw.Register(core.ProviderMock, model.NewMockModel("mock", string(core.ProviderMock)))
	}
}

// Engine returns the underlying session engine.
func (d *DraftMesh) Engine() *engine.Engine { return d.engine }

// Gateway returns the provider gateway.
func (d *DraftMesh) Gateway() *model.Gateway { return d.gateway }

// Logger returns the logger shared by all components.
func (d *DraftMesh) Logger() logging.Logger { return d.opts.Logger }

// Metrics returns the collectors, or nil when metrics are disabled.
func (d *DraftMesh) Metrics() *metrics.Metrics { return d.metrics }

// Run creates a session from cfg and starts it in the background. The
// returned subscription delivers every event from session_start on.
func (d *DraftMesh) Run(ctx context.Context, cfg core.SessionConfig) (string, *stream.Subscription, error) {
	st, err := d.engine.Create(ctx, cfg)
	if err != nil {
		return "", nil, err
	}

	sub, err := d.engine.StartStreaming(ctx, st.Config.ID)
	if err != nil {
		return "", nil, err
	}

	return st.Config.ID, sub, nil
}

// RunSync runs a session to its end and returns the final state together
// with all events it produced.
func (d *DraftMesh) RunSync(ctx context.Context, cfg core.SessionConfig) (core.SessionState, []core.Event, error) {
	id, sub, err := d.Run(ctx, cfg)
	if err != nil {
		return core.SessionState{}, nil, err
	}
	defer sub.Close()

	var events []core.Event

	for ev := range sub.Events() {
		events = append(events, ev)

		if ev.IsTerminal() {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return core.SessionState{}, events, err
	}

	st, err := d.engine.Get(ctx, id)
	if err != nil {
		return core.SessionState{}, events, err
	}

	return st, events, nil
}

// Close stops all running sessions and drains the NATS connection.
func (d *DraftMesh) Close(ctx context.Context) error {
	var errs []error

	if err := d.engine.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if d.nc != nil {
		if err := d.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}

	if s, ok := d.opts.Logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}

	return errors.Join(errs...)
}

package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/logging"
)

// CallObserver receives the outcome of every provider call, e.g. for metrics.
type CallObserver interface {
	ObserveProviderCall(provider string, dur time.Duration, err error)
	ObserveProviderHealth(provider string, health ProviderHealth)
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// RateLimit is the sustained number of calls per second per provider.
	// Zero disables rate limiting.
	RateLimit float64
	// Burst is the number of calls allowed to exceed RateLimit momentarily.
	Burst int

	Logger   logging.Logger
	Observer CallObserver
}

// Gateway routes generation requests to the Model registered for a provider.
type Gateway struct {
	mu       sync.RWMutex
	models   map[core.ProviderType]Model
	limiters map[core.ProviderType]*rate.Limiter
	health   *HealthTracker
	opts     GatewayOptions
}

// NewGateway creates an empty Gateway.
func NewGateway(optFns ...func(o *GatewayOptions)) *Gateway {
	opts := GatewayOptions{
		Burst:  1,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Gateway{
		models:   make(map[core.ProviderType]Model),
		limiters: make(map[core.ProviderType]*rate.Limiter),
		health:   NewHealthTracker(),
		opts:     opts,
	}
}

// Register binds a Model to a provider type, replacing any previous binding.
func (g *Gateway) Register(provider core.ProviderType, m Model) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.models[provider] = m

	if g.opts.RateLimit > 0 {
		burst := g.opts.Burst
		if burst < 1 {
			burst = 1
		}

		g.limiters[provider] = rate.NewLimiter(rate.Limit(g.opts.RateLimit), burst)
	}
}

// Providers returns the registered provider types.
func (g *Gateway) Providers() []core.ProviderType {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]core.ProviderType, 0, len(g.models))
	for p := range g.models {
		out = append(out, p)
	}

	return out
}

// Info returns the metadata of the Model registered for provider.
func (g *Gateway) Info(provider core.ProviderType) (Info, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m, ok := g.models[provider]
	if !ok {
		return Info{}, false
	}

	return m.Info(), true
}

// Health returns the health of all providers that served at least one call.
func (g *Gateway) Health() []ProviderHealth {
	return g.health.All()
}

// Generate submits req to the provider's Model. Errors delivered on the error
// channel are always a *TransientError or *FatalError.
func (g *Gateway) Generate(ctx context.Context, provider core.ProviderType, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	g.mu.RLock()
	m, ok := g.models[provider]
	limiter := g.limiters[provider]
	g.mu.RUnlock()

	if !ok {
		errCh <- &FatalError{Provider: string(provider), Err: fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)}

		close(out)
		close(errCh)

		return out, errCh
	}

	go func() {
		defer close(out)
		defer close(errCh)

		start := time.Now()

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				errCh <- Classify(string(provider), err)
				return
			}
		}

		respCh, mErrCh := m.Generate(ctx, req)

		var (
			callErr error
			tokens  int
		)

		for respCh != nil || mErrCh != nil {
			select {
			case r, ok := <-respCh:
				if !ok {
					respCh = nil
					continue
				}

				if r.Usage != nil {
					tokens = r.Usage.TotalTokens
				}

				out <- r
			case err, ok := <-mErrCh:
				if !ok {
					mErrCh = nil
					continue
				}

				if err != nil && callErr == nil {
					callErr = Classify(string(provider), err)
				}
			}
		}

		g.record(string(provider), req.Model, tokens, time.Since(start), callErr)

		if callErr != nil {
			errCh <- callErr
		}
	}()

	return out, errCh
}

func (g *Gateway) record(provider, modelName string, tokens int, dur time.Duration, err error) {
	g.health.Record(provider, err)
	logging.LogProviderCall(g.opts.Logger, provider, modelName, tokens, dur, err)

	if g.opts.Observer != nil {
		g.opts.Observer.ObserveProviderCall(provider, dur, err)
		g.opts.Observer.ObserveProviderHealth(provider, g.health.Health(provider))
	}
}

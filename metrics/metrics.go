// Package metrics exposes draftmesh telemetry as Prometheus collectors. A
// *Metrics value observes both the provider gateway and the session engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/engine"
	"github.com/hupe1980/draftmesh/model"
)

// Metrics holds the Prometheus collectors of one process.
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       *prometheus.HistogramVec
	ProviderCallsTotal *prometheus.CounterVec
	ProviderRetries    *prometheus.CounterVec
	ProviderHealth     *prometheus.GaugeVec
	CreditsConsumed    prometheus.Counter
	SessionsTotal      *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
}

var (
	_ engine.Observer    = (*Metrics)(nil)
	_ model.CallObserver = (*Metrics)(nil)
)

// New creates the collectors and registers them with reg. Pass a fresh
// registry per test; prometheus.DefaultRegisterer panics on the second call.
//
// Metrics:
//   - draftmesh_turns_total{phase,status}
//   - draftmesh_turn_duration_seconds{phase}
//   - draftmesh_provider_calls_total{provider,result}
//   - draftmesh_provider_retries_total{provider}
//   - draftmesh_provider_health{provider} (1 healthy, 0.5 degraded, 0 unhealthy)
//   - draftmesh_credits_consumed_total
//   - draftmesh_sessions_total{status}
//   - draftmesh_active_sessions
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftmesh_turns_total",
				Help: "Total number of agent turns by phase and outcome",
			},
			[]string{"phase", "status"},
		),

		TurnDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "draftmesh_turn_duration_seconds",
				Help:    "Duration of agent turns including retries",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
			},
			[]string{"phase"},
		),

		ProviderCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftmesh_provider_calls_total",
				Help: "Total number of provider calls by result",
			},
			[]string{"provider", "result"}, // "success", "transient", "fatal"
		),

		ProviderRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftmesh_provider_retries_total",
				Help: "Total number of retried provider calls",
			},
			[]string{"provider"},
		),

		ProviderHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "draftmesh_provider_health",
				Help: "Provider health: 1 healthy, 0.5 degraded, 0 unhealthy",
			},
			[]string{"provider"},
		),

		CreditsConsumed: f.NewCounter(
			prometheus.CounterOpts{
				Name: "draftmesh_credits_consumed_total",
				Help: "Total number of credits consumed by agent turns",
			},
		),

		SessionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftmesh_sessions_total",
				Help: "Total number of finished sessions by status",
			},
			[]string{"status"},
		),

		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "draftmesh_active_sessions",
				Help: "Number of sessions currently running or paused",
			},
		),
	}
}

// ObserveTurn implements agent.Observer.
func (m *Metrics) ObserveTurn(phase core.Phase, failed bool, dur time.Duration) {
	status := "success"
	if failed {
		status = "error"
	}

	m.TurnsTotal.WithLabelValues(phase.String(), status).Inc()
	m.TurnDuration.WithLabelValues(phase.String()).Observe(dur.Seconds())
}

// ObserveRetry implements agent.Observer.
func (m *Metrics) ObserveRetry(provider string) {
	m.ProviderRetries.WithLabelValues(provider).Inc()
}

// ObserveSessionStart implements engine.Observer.
func (m *Metrics) ObserveSessionStart() {
	m.ActiveSessions.Inc()
}

// ObserveSessionEnd implements engine.Observer.
func (m *Metrics) ObserveSessionEnd(status core.Status, _ string) {
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveCredits implements engine.Observer.
func (m *Metrics) ObserveCredits(n int) {
	if n > 0 {
		m.CreditsConsumed.Add(float64(n))
	}
}

// ObserveProviderCall implements model.CallObserver.
func (m *Metrics) ObserveProviderCall(provider string, _ time.Duration, err error) {
	result := "success"

	switch {
	case err == nil:
	case model.IsTransient(err):
		result = "transient"
	default:
		result = "fatal"
	}

	m.ProviderCallsTotal.WithLabelValues(provider, result).Inc()
}

// ObserveProviderHealth implements model.CallObserver.
func (m *Metrics) ObserveProviderHealth(provider string, h model.ProviderHealth) {
	m.ProviderHealth.WithLabelValues(provider).Set(healthValue(h.Status))
}

func healthValue(s model.HealthStatus) float64 {
	switch s {
	case model.HealthDegraded:
		return 0.5
	case model.HealthUnhealthy:
		return 0
	default:
		return 1
	}
}

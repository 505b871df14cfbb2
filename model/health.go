package model

import (
	"sort"
	"sync"
	"time"
)

// HealthStatus is the coarse health of a provider.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

const (
	defaultHealthWindow  = 5 * time.Minute
	defaultMaxCallRecord = 100
	healthyThreshold     = 0.7
	degradedThreshold    = 0.3
)

// ProviderHealth summarizes the recent call outcomes of one provider.
type ProviderHealth struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	SuccessRate   float64      `json:"success_rate"`
	RecentCalls   int          `json:"recent_calls"`
	LastError     string       `json:"last_error,omitempty"`
	LastErrorTime *time.Time   `json:"last_error_time,omitempty"`
}

type callRecord struct {
	at      time.Time
	success bool
}

// HealthTracker keeps a sliding window of call outcomes per provider.
type HealthTracker struct {
	mu        sync.Mutex
	window    time.Duration
	maxCalls  int
	calls     map[string][]callRecord
	lastError map[string]callError
	now       func() time.Time
}

type callError struct {
	msg string
	at  time.Time
}

// NewHealthTracker creates a tracker with a five minute window.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		window:    defaultHealthWindow,
		maxCalls:  defaultMaxCallRecord,
		calls:     make(map[string][]callRecord),
		lastError: make(map[string]callError),
		now:       time.Now,
	}
}

// Record stores the outcome of one call.
func (h *HealthTracker) Record(provider string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()

	records := append(h.calls[provider], callRecord{at: now, success: err == nil})
	if len(records) > h.maxCalls {
		records = records[len(records)-h.maxCalls:]
	}

	h.calls[provider] = records

	if err != nil {
		h.lastError[provider] = callError{msg: err.Error(), at: now}
	}
}

// Health returns the current health of provider.
func (h *HealthTracker) Health(provider string) ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.healthLocked(provider)
}

// All returns the health of every provider seen so far, sorted by name.
func (h *HealthTracker) All() []ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.calls))
	for name := range h.calls {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]ProviderHealth, 0, len(names))
	for _, name := range names {
		out = append(out, h.healthLocked(name))
	}

	return out
}

func (h *HealthTracker) healthLocked(provider string) ProviderHealth {
	cutoff := h.now().Add(-h.window)

	var recent, successes int

	for _, c := range h.calls[provider] {
		if c.at.After(cutoff) {
			recent++

			if c.success {
				successes++
			}
		}
	}

	ph := ProviderHealth{Provider: provider, Status: HealthUnknown, SuccessRate: 1.0, RecentCalls: recent}

	if le, ok := h.lastError[provider]; ok {
		at := le.at
		ph.LastError = le.msg
		ph.LastErrorTime = &at
	}

	if recent == 0 {
		return ph
	}

	ph.SuccessRate = float64(successes) / float64(recent)

	switch {
	case ph.SuccessRate >= healthyThreshold:
		ph.Status = HealthHealthy
	case ph.SuccessRate >= degradedThreshold:
		ph.Status = HealthDegraded
	default:
		ph.Status = HealthUnhealthy
	}

	return ph
}

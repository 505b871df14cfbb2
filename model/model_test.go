package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/draftmesh/core"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limit", FromStatus("openai", 429, errors.New("slow down")), true},
		{"server error", FromStatus("openai", 503, errors.New("unavailable")), true},
		{"auth", FromStatus("openai", 401, errors.New("bad key")), false},
		{"invalid request", FromStatus("anthropic", 400, errors.New("bad")), false},
		{"network timeout", Classify("openai", timeoutErr{}), true},
		{"session deadline", Classify("openai", context.DeadlineExceeded), false},
		{"cancelled", Classify("openai", fmt.Errorf("wrapped: %w", context.Canceled)), false},
		{"overloaded message", Classify("anthropic", errors.New("Overloaded")), true},
		{"unknown", Classify("openai", errors.New("boom")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func TestClassify_KeepsClassifiedErrors(t *testing.T) {
	orig := &TransientError{Provider: "mock", Err: errors.New("x")}
	assert.Same(t, orig, Classify("other", orig))
	assert.Nil(t, Classify("mock", nil))
}

func TestMockModel_StreamsScriptedReplies(t *testing.T) {
	m := NewMockModel("mock", "mock").
		Script("writer", Text("hello streaming world"), Fail(errors.New("boom")))

	var chunks []string

	final, err := Drain(m.Generate(context.Background(), Request{Model: "writer", Prompt: "go", Stream: true}))
	require.NoError(t, err)
	assert.Equal(t, "hello streaming world", final.Text)
	require.NotNil(t, final.Usage)

	respCh, errCh := m.Generate(context.Background(), Request{Model: "writer", Stream: true})
	_, err = Collect(respCh, errCh, func(s string) { chunks = append(chunks, s) })
	assert.EqualError(t, err, "boom")
	assert.Empty(t, chunks)

	// The last reply repeats once the script is drained.
	_, err = Drain(m.Generate(context.Background(), Request{Model: "writer"}))
	assert.Error(t, err)
	assert.Equal(t, 3, m.Calls("writer"))
}

func TestMockModel_ChunksReachCallback(t *testing.T) {
	m := NewMockModel("mock", "mock").Script("editor", Text("0123456789abcdef"))

	var chunks []string

	respCh, errCh := m.Generate(context.Background(), Request{Model: "editor", Stream: true})
	final, err := Collect(respCh, errCh, func(s string) { chunks = append(chunks, s) })

	require.NoError(t, err)
	assert.Equal(t, []string{"01234567", "89abcdef"}, chunks)
	assert.Equal(t, "0123456789abcdef", final.Text)
}

func TestGateway_UnknownProvider(t *testing.T) {
	g := NewGateway()

	_, err := Drain(g.Generate(context.Background(), core.ProviderOpenAI, Request{Model: "gpt-4o"}))

	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

type recordingObserver struct {
	calls  int
	errs   int
	health ProviderHealth
}

func (r *recordingObserver) ObserveProviderCall(_ string, _ time.Duration, err error) {
	r.calls++
	if err != nil {
		r.errs++
	}
}

func (r *recordingObserver) ObserveProviderHealth(_ string, h ProviderHealth) { r.health = h }

func TestGateway_ClassifiesAndTracksHealth(t *testing.T) {
	obs := &recordingObserver{}
	g := NewGateway(func(o *GatewayOptions) { o.Observer = obs })

	mock := NewMockModel("mock", "mock").
		Script("m", Text("ok"), Fail(&net.OpError{Op: "read", Err: timeoutErr{}}))
	g.Register(core.ProviderMock, mock)

	info, ok := g.Info(core.ProviderMock)
	require.True(t, ok)
	assert.True(t, info.SupportsStreaming)

	final, err := Drain(g.Generate(context.Background(), core.ProviderMock, Request{Model: "m"}))
	require.NoError(t, err)
	assert.Equal(t, "ok", final.Text)

	_, err = Drain(g.Generate(context.Background(), core.ProviderMock, Request{Model: "m"}))
	assert.True(t, IsTransient(err))

	assert.Equal(t, 2, obs.calls)
	assert.Equal(t, 1, obs.errs)
	assert.Equal(t, HealthDegraded, obs.health.Status)
	assert.InDelta(t, 0.5, obs.health.SuccessRate, 1e-9)
}

func TestGateway_RateLimitHonorsContext(t *testing.T) {
	g := NewGateway(func(o *GatewayOptions) {
		o.RateLimit = 0.001
		o.Burst = 1
	})
	g.Register(core.ProviderMock, NewMockModel("mock", "mock"))

	_, err := Drain(g.Generate(context.Background(), core.ProviderMock, Request{Model: "m"}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = Drain(g.Generate(ctx, core.ProviderMock, Request{Model: "m"}))
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestHealthTracker_Window(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealthTracker()
	h.now = func() time.Time { return now }

	assert.Equal(t, HealthUnknown, h.Health("openai").Status)

	h.Record("openai", errors.New("down"))
	h.Record("openai", errors.New("down"))
	h.Record("openai", errors.New("down"))
	h.Record("openai", nil)
	assert.Equal(t, HealthUnhealthy, h.Health("openai").Status)

	now = now.Add(6 * time.Minute)
	h.Record("openai", nil)

	health := h.Health("openai")
	assert.Equal(t, HealthHealthy, health.Status)
	assert.Equal(t, 1, health.RecentCalls)
	assert.Equal(t, "down", health.LastError)
	assert.Len(t, h.All(), 1)
}

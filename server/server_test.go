package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/credit"
	"github.com/hupe1980/draftmesh/engine"
	"github.com/hupe1980/draftmesh/metrics"
	"github.com/hupe1980/draftmesh/model"
)

type testEnv struct {
	server  *Server
	engine  *engine.Engine
	gateway *model.Gateway
}

func setupTestServer(t *testing.T, optFns ...func(o *Options)) testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mock := model.NewMockModel("mock", "mock")
	gw := model.NewGateway(func(o *model.GatewayOptions) { o.Observer = m })
	gw.Register(core.ProviderMock, mock)

	eng := engine.New(gw, func(o *engine.Options) {
		o.Credits = credit.NewInMemoryService("pro", nil)
		o.Observer = m
		o.Config.FinalWriterPass = false
	})

	fns := append([]func(o *Options){func(o *Options) {
		o.Gatherer = reg
		o.Health = gw.Health
		o.HeartbeatInterval = 0
	}}, optFns...)

	return testEnv{server: New(eng, fns...), engine: eng, gateway: gw}
}

func sessionBody(maxRounds int) string {
	return fmt.Sprintf(`{
  "session_id": "s1",
  "title": "Haiku",
  "user_id": "u1",
  "initial_prompt": "Write a haiku about rain.",
  "termination": {"max_rounds": %d},
  "agents": [
    {"agent_id": "writer", "provider": "mock", "model": "w", "phase": 1},
    {"agent_id": "editor", "provider": "mock", "model": "e", "phase": 2}
  ]
}`, maxRounds)
}

func do(t *testing.T, s *Server, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))

	return v
}

// frames parses an SSE body into its events, ignoring comment frames.
func frames(t *testing.T, body string) []core.Event {
	t.Helper()

	var events []core.Event

	for _, block := range strings.Split(body, "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}

			var ev core.Event
			require.NoError(t, json.Unmarshal([]byte(data), &ev))

			events = append(events, ev)
		}
	}

	return events
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)

	rec := do(t, env.server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestCreateAndGet(t *testing.T) {
	env := setupTestServer(t)

	rec := do(t, env.server, http.MethodPost, "/api/v1/sessions", sessionBody(1))
	require.Equal(t, http.StatusCreated, rec.Code)

	st := decode[core.SessionState](t, rec)
	assert.Equal(t, "s1", st.Config.ID)
	assert.Equal(t, core.StatusDraft, st.Status)
	require.Len(t, st.Config.Agents, 2)
	assert.True(t, st.Config.Agents[0].Active)

	rec = do(t, env.server, http.MethodGet, "/api/v1/sessions/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Haiku", decode[core.SessionState](t, rec).Config.Title)

	rec = do(t, env.server, http.MethodGet, "/api/v1/sessions?user_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListResponse](t, rec).Sessions, 1)

	rec = do(t, env.server, http.MethodGet, "/api/v1/sessions?user_id=other", "")
	assert.Empty(t, decode[ListResponse](t, rec).Sessions)
}

func TestErrorMapping(t *testing.T) {
	env := setupTestServer(t)

	rec := do(t, env.server, http.MethodPost, "/api/v1/sessions", sessionBody(1))
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"malformed body", http.MethodPost, "/api/v1/sessions", "{", http.StatusBadRequest},
		{"validation", http.MethodPost, "/api/v1/sessions", `{"initial_prompt": "x", "termination": {"max_rounds": 1}}`, http.StatusBadRequest},
		{"duplicate id", http.MethodPost, "/api/v1/sessions", sessionBody(1), http.StatusConflict},
		{"unknown session", http.MethodGet, "/api/v1/sessions/nope", "", http.StatusNotFound},
		{"pause idle session", http.MethodPost, "/api/v1/sessions/s1/pause", "", http.StatusConflict},
		{"stop idle session", http.MethodPost, "/api/v1/sessions/s1/stop", "", http.StatusConflict},
		{"bad event id", http.MethodGet, "/api/v1/sessions/s1/events?after=x", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, env.server, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestValidationErrorNamesField(t *testing.T) {
	env := setupTestServer(t)

	rec := do(t, env.server, http.MethodPost, "/api/v1/sessions", `{"initial_prompt": "x", "termination": {"max_rounds": 1}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "agents", decode[ErrorResponse](t, rec).Field)
}

func TestStreamSession(t *testing.T) {
	env := setupTestServer(t)

	rec := do(t, env.server, http.MethodPost, "/api/v1/sessions", sessionBody(2))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, env.server, http.MethodPost, "/api/v1/sessions/s1/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "id: 1\ndata: "))

	events := frames(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventSessionStart, events[0].Type)

	last := events[len(events)-1]
	assert.Equal(t, core.EventSessionComplete, last.Type)
	assert.Equal(t, core.StatusCompleted, last.Status)
	assert.Equal(t, core.ReasonMaxRounds, last.TerminationReason)

	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq)
	}

	rec = do(t, env.server, http.MethodPost, "/api/v1/sessions/s1/stream", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEventsResumeFromLastEventID(t *testing.T) {
	env := setupTestServer(t)

	rec := do(t, env.server, http.MethodPost, "/api/v1/sessions", sessionBody(1))
	require.Equal(t, http.StatusCreated, rec.Code)

	_, err := env.engine.Start(t.Context(), "s1")
	require.NoError(t, err)

	rec = do(t, env.server, http.MethodGet, "/api/v1/sessions/s1/events", "", "Last-Event-ID", "2")
	require.Equal(t, http.StatusOK, rec.Code)

	events := frames(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, core.EventSessionComplete, events[len(events)-1].Type)

	all, err := env.engine.Events("s1")
	require.NoError(t, err)
	assert.Len(t, events, len(all)-2)
}

func TestStartAndReset(t *testing.T) {
	env := setupTestServer(t)

	rec := do(t, env.server, http.MethodPost, "/api/v1/sessions", sessionBody(1))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, env.server, http.MethodPost, "/api/v1/sessions/s1/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Attaching waits for the background run to finish.
	rec = do(t, env.server, http.MethodGet, "/api/v1/sessions/s1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, env.server, http.MethodGet, "/api/v1/sessions/s1", "")
	st := decode[core.SessionState](t, rec)
	assert.Equal(t, core.StatusCompleted, st.Status)
	assert.Len(t, st.Turns, 2)

	rec = do(t, env.server, http.MethodPost, "/api/v1/sessions/s1/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, env.server, http.MethodPost, "/api/v1/sessions/s1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st = decode[core.SessionState](t, rec)
	assert.Equal(t, core.StatusDraft, st.Status)
	assert.Empty(t, st.Turns)
}

func TestEstimate(t *testing.T) {
	env := setupTestServer(t)

	rec := do(t, env.server, http.MethodPost, "/api/v1/credits/estimate", sessionBody(3))
	require.Equal(t, http.StatusOK, rec.Code)

	est := decode[core.CreditEstimate](t, rec)
	assert.Positive(t, est.EstimatedCredits)
	assert.Len(t, est.PerAgent, 2)
	assert.True(t, est.HasSufficientCredits)
}

func TestProviderHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	rec := do(t, env.server, http.MethodGet, "/api/v1/providers/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.ProviderHealth](t, rec))

	rec = do(t, env.server, http.MethodPost, "/api/v1/sessions", sessionBody(1))
	require.Equal(t, http.StatusCreated, rec.Code)

	_, err := env.engine.Start(t.Context(), "s1")
	require.NoError(t, err)

	rec = do(t, env.server, http.MethodGet, "/api/v1/providers/health", "")
	health := decode[[]model.ProviderHealth](t, rec)
	require.Len(t, health, 1)
	assert.Equal(t, model.HealthHealthy, health[0].Status)

	rec = do(t, env.server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `draftmesh_turns_total{phase="writer",status="success"} 1`)
	assert.Contains(t, rec.Body.String(), "draftmesh_active_sessions 0")
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	env := setupTestServer(t, func(o *Options) { o.Gatherer = nil })

	rec := do(t, env.server, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

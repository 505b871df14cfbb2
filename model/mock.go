package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Reply is one scripted outcome of a MockModel call.
type Reply struct {
	Text  string
	Err   error
	Usage *TokenUsage
	// Delay is waited before the reply is delivered.
	Delay time.Duration
	// Hook, when set, runs at the start of the call.
	Hook func(req Request)
}

// Text returns a successful reply.
func Text(s string) Reply { return Reply{Text: s} }

// Fail returns a failing reply.
func Fail(err error) Reply { return Reply{Err: err} }

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Replies are scripted per model name so that agents sharing the mock
// provider can be told apart; the last scripted reply repeats once the queue
// is drained.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	scripts   map[string][]Reply
	fallback  func(req Request) Reply
	calls     map[string]int
	requests  []Request
	chunkSize int
}

// NewMockModel constructs a streaming MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:              name,
			Provider:          provider,
			SupportsStreaming: true,
		},
		scripts:   make(map[string][]Reply),
		calls:     make(map[string]int),
		chunkSize: 8,
	}
}

// Script queues replies for requests addressed to modelName.
func (m *MockModel) Script(modelName string, replies ...Reply) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scripts[modelName] = append(m.scripts[modelName], replies...)

	return m
}

// SetFallback sets the reply used for model names without a script.
func (m *MockModel) SetFallback(fn func(req Request) Reply) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fallback = fn

	return m
}

// SetStreaming toggles whether the model reports streaming support.
func (m *MockModel) SetStreaming(enabled bool) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.info.SupportsStreaming = enabled

	return m
}

// Calls returns how many requests were addressed to modelName.
func (m *MockModel) Calls(modelName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls[modelName]
}

// Requests returns a copy of all received requests in arrival order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

func (m *MockModel) next(req Request) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[req.Model]++
	m.requests = append(m.requests, req)

	if queue := m.scripts[req.Model]; len(queue) > 0 {
		r := queue[0]
		if len(queue) > 1 {
			m.scripts[req.Model] = queue[1:]
		}

		return r
	}

	if m.fallback != nil {
		return m.fallback(req)
	}

	return Text(fmt.Sprintf("Mock response from %s", req.Model))
}

func (m *MockModel) chunks(text string) []string {
	var out []string

	runes := []rune(text)
	for len(runes) > 0 {
		n := min(m.chunkSize, len(runes))
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}

	return out
}

// Generate implements Model; emits streaming chunks when requested, then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	reply := m.next(req)
	streaming := req.Stream && m.Info().SupportsStreaming

	go func() {
		defer close(respCh)
		defer close(errCh)

		if reply.Hook != nil {
			reply.Hook(req)
		}

		if reply.Delay > 0 {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(reply.Delay):
			}
		}

		if reply.Err != nil {
			errCh <- reply.Err
			return
		}

		if streaming {
			for _, c := range m.chunks(reply.Text) {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: c}:
				}
			}
		}

		usage := reply.Usage
		if usage == nil {
			in := len(strings.Fields(req.System + " " + req.Prompt))
			out := len(strings.Fields(reply.Text))
			usage = &TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
		}

		respCh <- Response{Text: reply.Text, FinishReason: "stop", Usage: usage}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.info
}

package model

import (
	"context"
)

// Request captures the normalized input of a single generation call.
type Request struct {
	Model       string  `json:"model"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Stream      bool    `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry only the newly generated text; the final chunk carries the complete
// text and, when the vendor reports it, token usage.
type Response struct {
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	SupportsStreaming bool   `json:"supports_streaming"`
}

// Model is the minimal interface required by the agent executor to drive
// generation. Both channels are closed when the call ends; at most one error
// is delivered.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Drain collects a generation call without observing partial chunks.
func Drain(respCh <-chan Response, errCh <-chan error) (Response, error) {
	return Collect(respCh, errCh, nil)
}

// Collect drains a generation call and returns the final response. Partial
// chunks are passed to onChunk when it is non-nil.
func Collect(respCh <-chan Response, errCh <-chan error, onChunk func(string)) (Response, error) {
	var (
		final   Response
		text    []byte
		gotLast bool
		callErr error
	)

	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}

			if r.Partial {
				text = append(text, r.Text...)

				if onChunk != nil && r.Text != "" {
					onChunk(r.Text)
				}

				continue
			}

			final = r
			gotLast = true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}

			if err != nil && callErr == nil {
				callErr = err
			}
		}
	}

	if callErr != nil {
		return Response{Text: string(text)}, callErr
	}

	if !gotLast {
		final = Response{Text: string(text), FinishReason: "stop"}
	} else if final.Text == "" && len(text) > 0 {
		final.Text = string(text)
	}

	return final, nil
}

// Package anthropic provides an implementation of model.Model using the
// Anthropic Messages API, with token streaming.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/draftmesh/model"
)

const providerName = "anthropic"

// DefaultModel is used when neither options nor the request name a model.
const DefaultModel = "claude-sonnet-4-5-20250929"

// Options configure the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.Model(DefaultModel),
		Temperature: 0.7,
		MaxTokens:   16000,
	}
}

// NewModel creates a new Anthropic model. SDK level retries are disabled; the
// agent executor owns the retry policy.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req)

		if req.Stream {
			m.handleStreaming(ctx, params, out, errCh)
			return
		}

		m.handleNonStreaming(ctx, params, out, errCh)
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	name := m.opts.Model
	if req.Model != "" {
		name = anthropic.Model(req.Model)
	}

	temperature := m.opts.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	maxTokens := m.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       name,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	return params
}

func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}

	var text strings.Builder

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			errCh <- model.Classify(providerName, err)
			return
		}

		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				text.WriteString(delta.Text)
				out <- model.Response{Partial: true, Text: delta.Text}
			}
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- classify(err)
		return
	}

	if text.Len() == 0 {
		errCh <- &model.TransientError{Provider: providerName, Err: model.ErrEmptyResponse}
		return
	}

	out <- model.Response{
		Text:         text.String(),
		FinishReason: finishReason(message.StopReason),
		Usage:        usage(message.Usage),
	}
}

func (m *Model) handleNonStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		errCh <- classify(err)
		return
	}

	var text strings.Builder

	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	if text.Len() == 0 {
		errCh <- &model.TransientError{Provider: providerName, Err: model.ErrEmptyResponse}
		return
	}

	out <- model.Response{
		Text:         text.String(),
		FinishReason: finishReason(resp.StopReason),
		Usage:        usage(resp.Usage),
	}
}

func finishReason(r anthropic.StopReason) string {
	if r == "" {
		return "stop"
	}

	return string(r)
}

func usage(u anthropic.Usage) *model.TokenUsage {
	in := int(u.InputTokens)
	out := int(u.OutputTokens)

	if in+out == 0 {
		return nil
	}

	return &model.TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.FromStatus(providerName, apiErr.StatusCode, err)
	}

	return model.Classify(providerName, err)
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:              string(m.opts.Model),
		Provider:          providerName,
		SupportsStreaming: true,
	}
}

// Package openai provides model.Model implementations backed by the OpenAI
// Chat Completions API. The same adapter serves vendors exposing an
// OpenAI-compatible endpoint (Perplexity, Google Gemini) via a custom base URL.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/draftmesh/model"
)

const (
	// PerplexityBaseURL is the OpenAI-compatible endpoint of Perplexity.
	PerplexityBaseURL = "https://api.perplexity.ai"
	// GoogleBaseURL is the OpenAI-compatible endpoint of the Gemini API.
	GoogleBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// Options configure the OpenAI model adapter.
type Options struct {
	// Model is used when a request does not name one.
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// Provider is reported in Info and used for error attribution.
	Provider string
	// IncludeUsage asks the server to append token usage to streams.
	IncludeUsage bool
	// LegacyMaxTokens sends max_tokens instead of max_completion_tokens, which
	// some compatible vendors still require.
	LegacyMaxTokens bool
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model authenticated with apiKey. SDK level
// retries are disabled; the agent executor owns the retry policy.
func NewModel(apiKey string, optFns ...func(o *Options)) *Model {
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return NewModelFromClient(&client, optFns...)
}

// NewPerplexityModel creates a model talking to Perplexity's compatible API.
func NewPerplexityModel(apiKey string, optFns ...func(o *Options)) *Model {
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(PerplexityBaseURL), option.WithMaxRetries(0))

	return NewModelFromClient(&client, append([]func(o *Options){func(o *Options) {
		o.Provider = "perplexity"
		o.Model = "sonar"
		o.IncludeUsage = false
		o.LegacyMaxTokens = true
	}}, optFns...)...)
}

// NewGoogleModel creates a model talking to Gemini's compatible API.
func NewGoogleModel(apiKey string, optFns ...func(o *Options)) *Model {
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(GoogleBaseURL), option.WithMaxRetries(0))

	return NewModelFromClient(&client, append([]func(o *Options){func(o *Options) {
		o.Provider = "google"
		o.Model = "gemini-2.5-flash"
		o.IncludeUsage = false
		o.LegacyMaxTokens = true
	}}, optFns...)...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4o,
		Temperature:         0.7,
		MaxCompletionTokens: 16000,
		Provider:            "openai",
		IncludeUsage:        true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
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

func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	messages = append(messages, openai.UserMessage(req.Prompt))

	name := req.Model
	if name == "" {
		name = m.opts.Model
	}

	temperature := m.opts.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	maxTokens := m.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(name),
		Messages:    messages,
		Temperature: openai.Float(temperature),
	}

	if m.opts.LegacyMaxTokens {
		params.MaxTokens = openai.Int(maxTokens)
	} else {
		params.MaxCompletionTokens = openai.Int(maxTokens)
	}

	if req.Stream && m.opts.IncludeUsage {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}

	return params
}

func (m *Model) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text         strings.Builder
		finishReason = "stop"
		usage        *model.TokenUsage
	)

	for stream.Next() {
		ck := stream.Current()

		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				out <- model.Response{Partial: true, Text: ch.Delta.Content}
			}

			if ch.FinishReason != "" {
				finishReason = ch.FinishReason
			}
		}

		if ck.Usage.TotalTokens > 0 {
			usage = &model.TokenUsage{
				PromptTokens:     int(ck.Usage.PromptTokens),
				CompletionTokens: int(ck.Usage.CompletionTokens),
				TotalTokens:      int(ck.Usage.TotalTokens),
			}
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- m.classify(err)
		return
	}

	if text.Len() == 0 {
		errCh <- &model.TransientError{Provider: m.opts.Provider, Err: model.ErrEmptyResponse}
		return
	}

	out <- model.Response{Text: text.String(), FinishReason: finishReason, Usage: usage}
}

func (m *Model) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- m.classify(err)
		return
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		errCh <- &model.TransientError{Provider: m.opts.Provider, Err: model.ErrEmptyResponse}
		return
	}

	ch0 := resp.Choices[0]

	out <- model.Response{
		Text:         ch0.Message.Content,
		FinishReason: ch0.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
}

func (m *Model) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.FromStatus(m.opts.Provider, apiErr.StatusCode, err)
	}

	return model.Classify(m.opts.Provider, err)
}

// Info returns metadata describing this model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:              m.opts.Model,
		Provider:          m.opts.Provider,
		SupportsStreaming: true,
	}
}

// Package anthropic adapts Anthropic's Claude API to the runtime's
// CompletionProvider interface.
package anthropic

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/taskrun-go/task/provider"
)

const defaultMaxTokens = 4096

// Adapter wraps the official anthropic-sdk-go client. Safe for concurrent
// use after creation.
type Adapter struct {
	client *anthropic.Client
	model  string
}

// New creates an Anthropic adapter with the given API key and default model.
// The API key can be obtained from https://console.anthropic.com/
func New(apiKey, model string) *Adapter {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Adapter{
		client: &client,
		model:  model,
	}
}

// Complete implements provider.CompletionProvider by calling the Messages
// API. API failures are classified into retryable and permanent
// ProviderErrors.
func (a *Adapter) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	start := time.Now()

	model := a.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return provider.Response{}, provider.Classify(err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return provider.Response{
		Text:      text,
		Model:     string(message.Model),
		TokensIn:  int(message.Usage.InputTokens),
		TokensOut: int(message.Usage.OutputTokens),
		Digest:    provider.TranscriptDigest(req.Prompt, text),
		Duration:  time.Since(start),
	}, nil
}

// Name returns "anthropic".
func (a *Adapter) Name() string {
	return "anthropic"
}

// HealthCheck probes the API with a one-token completion. The classified
// error tells callers whether the backend is reachable and the key is valid.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.Complete(ctx, provider.Request{Prompt: "ping", MaxTokens: 1})
	return err
}

var (
	_ provider.CompletionProvider = (*Adapter)(nil)
	_ provider.HealthChecker      = (*Adapter)(nil)
)

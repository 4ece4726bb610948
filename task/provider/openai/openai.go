// Package openai adapts OpenAI's chat completions API to the runtime's
// CompletionProvider interface.
package openai

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/taskrun-go/task/provider"
)

// Adapter wraps the official openai-go client. Safe for concurrent use after
// creation.
type Adapter struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI adapter with the given API key and default model.
func New(apiKey, model string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &Adapter{
		client: &client,
		model:  model,
	}, nil
}

// Complete implements provider.CompletionProvider by calling the chat
// completions API.
func (a *Adapter) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	start := time.Now()

	model := a.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(req.System),
				},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(req.Prompt),
			},
		},
	})

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.Response{}, provider.Classify(err)
	}
	if len(completion.Choices) == 0 {
		return provider.Response{}, &provider.ProviderError{
			Code:    "empty_response",
			Message: "completion returned no choices",
		}
	}

	text := completion.Choices[0].Message.Content

	return provider.Response{
		Text:      text,
		Model:     completion.Model,
		TokensIn:  int(completion.Usage.PromptTokens),
		TokensOut: int(completion.Usage.CompletionTokens),
		Digest:    provider.TranscriptDigest(req.Prompt, text),
		Duration:  time.Since(start),
	}, nil
}

// Name returns "openai".
func (a *Adapter) Name() string {
	return "openai"
}

// HealthCheck probes the API with a one-token completion.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.Complete(ctx, provider.Request{Prompt: "ping", MaxTokens: 1})
	return err
}

var (
	_ provider.CompletionProvider = (*Adapter)(nil)
	_ provider.HealthChecker      = (*Adapter)(nil)
)

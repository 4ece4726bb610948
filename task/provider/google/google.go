// Package google adapts Google's Gemini API to the runtime's
// CompletionProvider interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/taskrun-go/task/provider"
)

// Adapter wraps the generative-ai-go client. Safe for concurrent use after
// creation; call Close when done to release the underlying connection.
type Adapter struct {
	client *genai.Client
	model  string
}

// New creates a Gemini adapter with the given API key and default model.
// The context is used only for client construction.
func New(ctx context.Context, apiKey, model string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Adapter{
		client: client,
		model:  model,
	}, nil
}

// Complete implements provider.CompletionProvider by calling
// GenerateContent.
func (a *Adapter) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	start := time.Now()

	name := a.model
	if req.Model != "" {
		name = req.Model
	}
	model := a.client.GenerativeModel(name)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		max := int32(req.MaxTokens)
		model.MaxOutputTokens = &max
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return provider.Response{}, provider.Classify(err)
	}

	var text string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}

	out := provider.Response{
		Text:     text,
		Model:    name,
		Digest:   provider.TranscriptDigest(req.Prompt, text),
		Duration: time.Since(start),
	}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// Name returns "google".
func (a *Adapter) Name() string {
	return "google"
}

// Close releases the underlying client connection.
func (a *Adapter) Close() error {
	return a.client.Close()
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

// Package provider defines the completion-provider boundary the task runtime
// executes against, plus adapters for specific model APIs in subpackages.
//
// A CompletionProvider turns a prompt into text. The runtime treats it as a
// black box: it only cares whether a failure is retryable, which the adapters
// signal through ProviderError.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Request is one completion call on behalf of a task.
type Request struct {
	// TaskID is the owning task, carried through for telemetry correlation.
	TaskID string

	// Prompt is the user-turn content.
	Prompt string

	// System is an optional system instruction. Adapters that have no native
	// system slot prepend it to the prompt.
	System string

	// Model overrides the adapter's default model when non-empty.
	Model string

	// MaxTokens caps the response length. Zero means the adapter default.
	MaxTokens int

	// Metadata is free-form request context, passed through to telemetry.
	Metadata map[string]string
}

// Response is the result of a successful completion call.
type Response struct {
	// Text is the model's output.
	Text string

	// Model is the model that actually served the request.
	Model string

	// TokensIn and TokensOut are the provider-reported usage counts.
	TokensIn  int
	TokensOut int

	// Digest is the sha256 digest of the prompt and response transcript,
	// used to detect replayed or diverging re-executions after resume.
	Digest string

	// Duration is wall-clock time spent in the provider call.
	Duration time.Duration
}

// CompletionProvider is implemented by every model adapter.
//
// Implementations must be safe for concurrent use and must respect context
// cancellation. Failures should be returned as *ProviderError so the runtime
// can decide whether to retry.
type CompletionProvider interface {
	// Complete performs one completion call.
	Complete(ctx context.Context, req Request) (Response, error)

	// Name returns the adapter identifier ("anthropic", "openai", ...).
	Name() string
}

// HealthChecker is an optional capability for adapters that can probe their
// backend cheaply. When admission health checks are enabled, the runtime
// probes providers implementing it before starting or resuming a task.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ProviderError is a classified provider failure. Retryable errors trigger
// the runtime's backoff-and-retry path; permanent ones fail the task.
type ProviderError struct {
	// Code is the machine-readable error code.
	Code string

	// Message is the human-readable message for logging.
	Message string

	// Retryable reports whether the failure is transient.
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Message
}

// IsRetryable reports whether err is a transient provider failure. Errors
// that are not *ProviderError are treated as permanent.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// Common provider failures.
var (
	// ErrRateLimited indicates the API rate limit was exceeded (retryable).
	ErrRateLimited = &ProviderError{Code: "rate_limited", Message: "API rate limit exceeded", Retryable: true}

	// ErrTimeout indicates the request timed out (retryable).
	ErrTimeout = &ProviderError{Code: "timeout", Message: "request timed out", Retryable: true}

	// ErrOverloaded indicates the backend shed load (retryable).
	ErrOverloaded = &ProviderError{Code: "overloaded", Message: "provider is overloaded", Retryable: true}

	// ErrInvalidAPIKey indicates the API key is invalid or expired (permanent).
	ErrInvalidAPIKey = &ProviderError{Code: "invalid_api_key", Message: "API key is invalid or expired"}

	// ErrQuotaExceeded indicates the API quota has been exhausted (permanent).
	ErrQuotaExceeded = &ProviderError{Code: "quota_exceeded", Message: "API quota exceeded"}
)

// Classify converts an arbitrary adapter error into a *ProviderError.
//
// It distinguishes:
//   - context cancellation and deadline -> timeout (retryable)
//   - authentication failures (401, 403) -> invalid_api_key (permanent)
//   - rate limiting (429) -> rate_limited (retryable)
//   - overload (500, 503, 529) -> overloaded (retryable)
//   - quota and billing -> quota_exceeded (permanent)
//
// Anything unrecognized becomes a permanent api_error.
func Classify(err error) *ProviderError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Code: "timeout", Message: "request cancelled or timed out", Retryable: true}
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "api_key"),
		strings.Contains(msg, "api key"):
		return ErrInvalidAPIKey
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return ErrRateLimited
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "billing"):
		return ErrQuotaExceeded
	case strings.Contains(msg, "529"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "unavailable"):
		return ErrOverloaded
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"):
		return ErrTimeout
	}

	return &ProviderError{Code: "api_error", Message: err.Error()}
}

// TranscriptDigest computes the sha256 digest over a prompt/response pair.
// The runtime stores it alongside checkpoints so a resumed task can detect
// when a re-executed call diverged from the recorded one.
func TranscriptDigest(prompt, response string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(response))
	return hex.EncodeToString(h.Sum(nil))
}

package provider

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a scripted CompletionProvider for tests. It returns its
// configured responses in order (repeating the last one once exhausted) and
// records every request it receives.
//
// Configure Responses and Errs before concurrent use; per-call state is
// mutex-protected.
//
// Example:
//
//	mock := &provider.MockProvider{
//	    Responses: []provider.Response{{Text: "plan drafted"}},
//	    Errs:      []error{provider.ErrRateLimited, nil},
//	}
//
// The first call fails with a retryable error; subsequent calls succeed with
// "plan drafted".
type MockProvider struct {
	// Responses are returned in order. When exhausted, the last entry
	// repeats. Empty means a zero Response.
	Responses []Response

	// Errs are paired with calls by index; a nil entry means success. When
	// exhausted, calls succeed.
	Errs []error

	// Delay simulates provider latency per call.
	Delay time.Duration

	// HealthErr, when set, is returned by HealthCheck.
	HealthErr error

	mu    sync.Mutex
	calls []Request
}

// Complete returns the next scripted outcome and records the request.
func (m *MockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(m.Delay):
		}
	} else {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}
	}

	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if n < len(m.Errs) && m.Errs[n] != nil {
		return Response{}, m.Errs[n]
	}

	var resp Response
	switch {
	case len(m.Responses) == 0:
	case n < len(m.Responses):
		resp = m.Responses[n]
	default:
		resp = m.Responses[len(m.Responses)-1]
	}
	if resp.Model == "" {
		resp.Model = "mock-model"
	}
	if resp.Digest == "" {
		resp.Digest = TranscriptDigest(req.Prompt, resp.Text)
	}
	return resp, nil
}

// Name returns "mock".
func (m *MockProvider) Name() string {
	return "mock"
}

// HealthCheck returns HealthErr, or nil when unset.
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.HealthErr
}

// Calls returns a copy of every request received so far.
func (m *MockProvider) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many Complete calls have been made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ============================================================================
// LANGUAGE MODEL ADAPTERS — Completion + Embedding contracts
// ============================================================================
// Two roles are served by these interfaces:
//   code model:       turns a question into a query spec (translator)
//   refinement model: rephrases a raw answer into one sentence (insight)
// plus an Embedder used to rank columns against the question.
// ============================================================================

var (
	ErrUnauthorized  = errors.New("llm unauthorized")
	ErrUnavailable   = errors.New("llm unavailable")
	ErrRateLimited   = errors.New("llm rate limited")
	ErrEmptyResponse = errors.New("llm empty response")
)

// CompletionRequest is one text completion call.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int      // 0 = backend default
	Stop        []string // generation stops before any of these
	Temperature float64
}

// Completer produces a text continuation of a prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder maps texts to vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float64, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return f(ctx, texts)
}

// statusError maps a non-2xx response to a sentinel error, or nil for 2xx.
func statusError(backend string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %s", ErrUnavailable, backend, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s error: %s - %s", backend, resp.Status, string(body))
	}
	return nil
}

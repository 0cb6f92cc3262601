package translator

import (
	"context"
	"log/slog"

	"github.com/spektr-org/insight/engine"
	"github.com/spektr-org/insight/llm"
)

// ============================================================================
// TRANSLATOR — Model boundary for natural language → instruction
// ============================================================================
// The QueryEngine is the only component that sends a user question to the
// code model. The model sees schema metadata, a few sample values and the
// question; it answers with a QuerySpec (or an instruction string), which is
// executed locally by the engine. The model never sees the rows themselves.
// ============================================================================

// Engine answers a natural-language question about the loaded table.
type Engine interface {
	Query(ctx context.Context, text string) (*QueryResult, error)
}

// QueryResult is the answer to one question.
type QueryResult struct {
	Response    string         `json:"response"`
	Instruction string         `json:"instruction"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TranslateResult is the parsed code model answer.
// When Instruction is set it takes precedence over QuerySpec.
type TranslateResult struct {
	Instruction    string                `json:"instruction,omitempty"`
	QuerySpec      engine.QuerySpec      `json:"querySpec"`
	Interpretation engine.Interpretation `json:"interpretation"`
}

// Option configures a QueryEngine.
type Option func(*QueryEngine)

// WithEmbedder enables column ranking by embedding similarity.
func WithEmbedder(e llm.Embedder) Option {
	return func(q *QueryEngine) { q.embedder = e }
}

// WithTopK sets how many ranked columns are passed as hints.
func WithTopK(k int) Option {
	return func(q *QueryEngine) {
		if k > 0 {
			q.topK = k
		}
	}
}

// WithMaxTokens sets the completion budget of the translation call.
func WithMaxTokens(n int) Option {
	return func(q *QueryEngine) {
		if n > 0 {
			q.maxTokens = n
		}
	}
}

// WithPrecision sets the decimal places of answers.
func WithPrecision(places int32) Option {
	return func(q *QueryEngine) {
		if places >= 0 {
			q.places = places
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *QueryEngine) {
		if logger != nil {
			q.logger = logger
		}
	}
}

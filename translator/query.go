package translator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spektr-org/insight/engine"
	"github.com/spektr-org/insight/llm"
	"github.com/spektr-org/insight/render"
	"github.com/spektr-org/insight/schema"
)

// ============================================================================
// QUERY ENGINE — question → code model → QuerySpec → local execution
// ============================================================================
// Steps per question:
//   1. Rank columns by embedding similarity (when an embedder is set)
//   2. Build the schema-driven prompt
//   3. Ask the code model; parse the QuerySpec, falling back to a row list
//   4. Map model column names onto table headers
//   5. Execute locally; render the answer text
// ============================================================================

const (
	defaultTopK      = 5
	defaultMaxTokens = 1024
)

// QueryEngine implements Engine over one table.
type QueryEngine struct {
	model     llm.Completer
	embedder  llm.Embedder
	ranker    *ColumnRanker
	view      engine.RecordView
	schema    schema.Config
	summary   *DataSummary
	topK      int
	maxTokens int
	places    int32
	logger    *slog.Logger
}

// New creates a query engine answering questions about view.
func New(model llm.Completer, view engine.RecordView, sch schema.Config, opts ...Option) (*QueryEngine, error) {
	if model == nil {
		return nil, errors.New("translator: code model is required")
	}
	if view == nil {
		return nil, errors.New("translator: record view is required")
	}
	q := &QueryEngine{
		model:     model,
		view:      view,
		schema:    sch,
		topK:      defaultTopK,
		maxTokens: defaultMaxTokens,
		places:    2,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.embedder != nil {
		q.ranker = NewColumnRanker(q.embedder, sch)
	}
	q.summary = BuildDataSummary(view, sch)
	return q, nil
}

// Query answers one question.
func (q *QueryEngine) Query(ctx context.Context, text string) (*QueryResult, error) {
	text = strings.TrimSpace(text)

	// 1. Relevant columns
	var relevant []string
	if q.ranker != nil {
		cols, err := q.ranker.Rank(ctx, text, q.topK)
		if err != nil {
			q.logger.Warn("column ranking failed, continuing without hints", "error", err)
		} else {
			relevant = cols
		}
	}

	// 2. Prompt
	prompt := BuildPrompt(q.schema, q.summary, relevant) +
		"\n\nUSER QUERY: " + text + "\n\nRespond with valid JSON only:"

	q.logger.Debug("translating question", "query", truncate(text, 80), "prompt_bytes", len(prompt))

	// 3. Code model
	response, err := q.model.Complete(ctx, llm.CompletionRequest{Prompt: prompt, MaxTokens: q.maxTokens})
	if err != nil {
		return nil, fmt.Errorf("code model: %w", err)
	}

	tr, err := parseResponse(response)
	if errors.Is(err, engine.ErrMalformedInstruction) {
		return nil, fmt.Errorf("code model instruction: %w", err)
	}
	if err != nil {
		q.logger.Warn("translator parse failed, listing rows", "error", err)
		tr = &TranslateResult{
			QuerySpec:      fallbackSpec(),
			Interpretation: *parseFallbackInterpretation(response),
		}
	}

	// 4. Column mapping
	spec := engine.NormalizeQuerySpec(q.resolveColumns(tr.QuerySpec))

	// 5. Execute
	res, err := engine.Execute(spec, q.view,
		engine.WithDefaultMeasure(q.schema.GetDefaultMeasure()),
		engine.WithPrecision(q.places),
		engine.WithLogger(q.logger))
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", spec.Instruction(), err)
	}
	if res.QuerySpec != nil {
		spec = *res.QuerySpec
	}
	instruction := spec.Instruction()
	if _, err := engine.ParseInstruction(instruction); err != nil {
		return nil, fmt.Errorf("render instruction %s: %w", instruction, err)
	}

	answer := res.Reply
	if res.TableData != nil {
		answer = render.TableText(res.TableData)
	}

	q.logger.Info("question answered",
		"instruction", instruction,
		"type", res.Type,
		"confidence", spec.Confidence)

	return &QueryResult{
		Response:    answer,
		Instruction: instruction,
		Metadata: map[string]any{
			"instruction":      instruction,
			"intent":           spec.Intent,
			"type":             res.Type,
			"reply":            res.Reply,
			"confidence":       spec.Confidence,
			"relevant_columns": relevant,
			"interpretation":   tr.Interpretation.Summary,
		},
	}, nil
}

// resolveColumns maps names the model returned (keys, display names, any
// case) onto table headers. Unknown names are left for the engine to reject.
func (q *QueryEngine) resolveColumns(spec engine.QuerySpec) engine.QuerySpec {
	resolve := func(name string) string {
		if name == "" || engine.HasColumn(q.view, name) {
			return name
		}
		if col, ok := q.schema.ResolveColumn(name); ok {
			return col
		}
		return name
	}

	spec.Measure = resolve(spec.Measure)
	if len(spec.Series) > 0 {
		series := make([]string, len(spec.Series))
		for i, s := range spec.Series {
			series[i] = resolve(s)
		}
		spec.Series = series
	}
	if len(spec.GroupBy) > 0 {
		groupBy := make([]string, len(spec.GroupBy))
		for i, g := range spec.GroupBy {
			groupBy[i] = resolve(g)
		}
		spec.GroupBy = groupBy
	}
	if len(spec.Filters.Dimensions) > 0 {
		dims := make(map[string][]string, len(spec.Filters.Dimensions))
		for k, vals := range spec.Filters.Dimensions {
			col := resolve(k)
			dims[col] = append(dims[col], vals...)
		}
		spec.Filters.Dimensions = dims
	}
	return spec
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

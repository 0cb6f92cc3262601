package translator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/insight/engine"
	"github.com/spektr-org/insight/llm"
	"github.com/spektr-org/insight/logging"
	"github.com/spektr-org/insight/render"
	"github.com/spektr-org/insight/schema"
)

// ============================================================================
// FIXTURES
// ============================================================================

func trialView() *engine.ColumnView {
	return engine.NewColumnView(
		[]string{"Trial", "Variety", "Site", "Yield", "Brix"},
		[][]string{
			{"T1", "Gala", "North", "10", "12.5"},
			{"T2", "Gala", "South", "14", "13"},
			{"T3", "Fuji", "North", "12", "14.5"},
			{"T4", "Fuji", "South", "16", "15"},
			{"T5", "Honeycrisp", "North", "9.5", "11"},
		})
}

func trialSchema() schema.Config {
	return schema.Config{
		Name: "leaft",
		Dimensions: []schema.DimensionMeta{
			{Key: "variety", Column: "Variety", DisplayName: "Variety", SampleValues: []string{"Fuji", "Gala", "Honeycrisp"}, CardinalityHint: "low"},
			{Key: "site", Column: "Site", DisplayName: "Site", SampleValues: []string{"North", "South"}, CardinalityHint: "low"},
			{Key: "trial", Column: "Trial", DisplayName: "Trial", CardinalityHint: "high"},
		},
		Measures: []schema.MeasureMeta{
			{Key: "yield", Column: "Yield", DisplayName: "Yield", Unit: "t/ha", Min: 9.5, Max: 16, DefaultAggregation: "avg"},
			{Key: "brix", Column: "Brix", DisplayName: "Brix", Unit: "brix", DefaultAggregation: "avg"},
			{Key: "record_count", DisplayName: "Record Count", IsSynthetic: true},
		},
	}
}

// staticModel always answers with response and records the last prompt.
func staticModel(response string, prompt *string) llm.Completer {
	return llm.CompleterFunc(func(_ context.Context, req llm.CompletionRequest) (string, error) {
		if prompt != nil {
			*prompt = req.Prompt
		}
		return response, nil
	})
}

func newEngine(t *testing.T, model llm.Completer, opts ...Option) *QueryEngine {
	t.Helper()
	opts = append(opts, WithLogger(logging.Nop()))
	q, err := New(model, trialView(), trialSchema(), opts...)
	require.NoError(t, err)
	return q
}

// ============================================================================
// QUERY
// ============================================================================

func TestQueryAverageFromQuerySpec(t *testing.T) {
	var prompt string
	model := staticModel(`{"interpretation":{"summary":"Average yield","confidence":0.9},
		"querySpec":{"intent":"text","aggregation":"avg","measure":"yield"}}`, &prompt)

	res, err := newEngine(t, model).Query(context.Background(), "  What is the average yield?  ")
	require.NoError(t, err)

	assert.Equal(t, "12.3", res.Response)
	assert.Equal(t, `avg("Yield")`, res.Instruction)
	assert.Equal(t, res.Instruction, res.Metadata["instruction"])
	assert.Equal(t, "text", res.Metadata["intent"])
	assert.Equal(t, 0.9, res.Metadata["confidence"])
	assert.Equal(t, "Average yield", res.Metadata["interpretation"])

	assert.True(t, strings.HasSuffix(prompt, "USER QUERY: What is the average yield?\n\nRespond with valid JSON only:"))
}

func TestQueryFromInstructionString(t *testing.T) {
	model := staticModel("```json\n{\"instruction\": \"sum(\\\"Yield\\\") by \\\"Variety\\\" sort value_desc\"}\n```", nil)

	res, err := newEngine(t, model).Query(context.Background(), "total yield per variety")
	require.NoError(t, err)

	assert.Equal(t, `sum("Yield") by "Variety" sort value_desc`, res.Instruction)
	assert.Equal(t, "table", res.Metadata["type"])
	assert.Contains(t, res.Response, "Fuji")
	assert.Contains(t, res.Response, "28")
}

func TestQueryPlotInstruction(t *testing.T) {
	model := staticModel(`{"querySpec":{"intent":"chart","visualize":"bar","aggregation":"avg","measure":"Yield","groupBy":["variety"]}}`, nil)

	res, err := newEngine(t, model).Query(context.Background(), "plot yield per variety")
	require.NoError(t, err)
	assert.Equal(t, `plot.bar(x="Variety", y="Yield", agg=avg)`, res.Instruction)
}

func TestQueryResolvesFilterColumns(t *testing.T) {
	model := staticModel(`{"querySpec":{"intent":"text","aggregation":"count","filters":{"dimensions":{"site":["north"]}}}}`, nil)

	res, err := newEngine(t, model).Query(context.Background(), "how many trials in the north?")
	require.NoError(t, err)
	assert.Equal(t, "3", res.Response)
	assert.Equal(t, `count() where "Site" in ("north")`, res.Instruction)
}

func TestQueryFallsBackToRowList(t *testing.T) {
	model := staticModel("I am not sure what you mean.", nil)

	res, err := newEngine(t, model).Query(context.Background(), "??")
	require.NoError(t, err)
	assert.Equal(t, "list()", res.Instruction)
	assert.Contains(t, res.Response, "Honeycrisp")
	assert.Equal(t, "I'll try to show results for your query", res.Metadata["interpretation"])
}

func TestQueryErrors(t *testing.T) {
	ctx := context.Background()

	failing := llm.CompleterFunc(func(context.Context, llm.CompletionRequest) (string, error) {
		return "", llm.ErrUnavailable
	})
	_, err := newEngine(t, failing).Query(ctx, "average yield")
	assert.ErrorIs(t, err, llm.ErrUnavailable)

	unknown := staticModel(`{"querySpec":{"intent":"text","aggregation":"avg","measure":"Sugar"}}`, nil)
	_, err = newEngine(t, unknown).Query(ctx, "average sugar")
	assert.ErrorIs(t, err, engine.ErrUnknownColumn)

	malformed := staticModel(`{"instruction":"avg(Yield"}`, nil)
	_, err = newEngine(t, malformed).Query(ctx, "average yield")
	assert.ErrorIs(t, err, engine.ErrMalformedInstruction)

	unclosed := staticModel(`{"instruction":"plot.bar(x=\"Variety\", y=\"Yield\""}`, nil)
	_, err = newEngine(t, unclosed).Query(ctx, "plot yield per variety")
	assert.ErrorIs(t, err, engine.ErrMalformedInstruction)

	wide := staticModel(`{"querySpec":{"intent":"chart","visualize":"bar","measure":"Yield","groupBy":["Variety","Site","Trial"]}}`, nil)
	_, err = newEngine(t, wide).Query(ctx, "plot yield per variety, site and trial")
	assert.ErrorIs(t, err, engine.ErrMalformedInstruction)

	unknownAgg := staticModel(`{"querySpec":{"intent":"text","aggregation":"geomean","measure":"Yield"}}`, nil)
	_, err = newEngine(t, unknownAgg).Query(ctx, "geometric mean of yield")
	assert.ErrorIs(t, err, engine.ErrMalformedInstruction)
}

func TestQueryInstructionsReplayInPlotter(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "mean aggregation",
			response: `{"querySpec":{"intent":"chart","visualize":"bar","aggregation":"mean","measure":"Yield","groupBy":["Variety"]}}`,
			want:     `plot.bar(x="Variety", y="Yield", agg=avg)`,
		},
		{
			name:     "desc sort",
			response: `{"querySpec":{"intent":"chart","visualize":"bar","aggregation":"average","measure":"Yield","groupBy":["Site"],"sortBy":"desc"}}`,
			want:     `plot.bar(x="Site", y="Yield", agg=avg) sort value_desc`,
		},
		{
			name:     "grouped series",
			response: `{"querySpec":{"intent":"chart","visualize":"bar","measure":"Yield","groupBy":["Variety","Site"]}}`,
			want:     `plot.bar(x="Variety", y="Yield") by "Site"`,
		},
	}
	plotter := &render.Plotter{View: trialView(), Width: 320, Height: 240}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newEngine(t, staticModel(tt.response, nil)).Query(context.Background(), "plot yield")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Instruction)

			uri, err := plotter.Plot(context.Background(), res.Instruction)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
		})
	}
}

func TestNewRequiresModelAndView(t *testing.T) {
	_, err := New(nil, trialView(), trialSchema())
	assert.Error(t, err)
	_, err = New(staticModel("", nil), nil, trialSchema())
	assert.Error(t, err)
}

// ============================================================================
// COLUMN RANKING
// ============================================================================

// keywordEmbedder maps each text onto three axes: yield, variety, site.
func keywordEmbedder(calls *int32) llm.Embedder {
	return llm.EmbedderFunc(func(_ context.Context, texts []string) ([][]float64, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		out := make([][]float64, len(texts))
		for i, text := range texts {
			lower := strings.ToLower(text)
			v := make([]float64, 3)
			for axis, word := range []string{"yield", "variety", "site"} {
				if strings.Contains(lower, word) {
					v[axis] = 1
				}
			}
			out[i] = v
		}
		return out, nil
	})
}

func TestColumnRankerOrdersBySimilarity(t *testing.T) {
	var calls int32
	r := NewColumnRanker(keywordEmbedder(&calls), trialSchema())

	cols, err := r.Rank(context.Background(), "which site has the best yield", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Site", "Yield"}, cols)

	cols, err = r.Rank(context.Background(), "yield", 10)
	require.NoError(t, err)
	assert.Equal(t, "Yield", cols[0])
	assert.Len(t, cols, 5, "synthetic measures are not ranked")

	// column vectors are cached: one call for columns, one per question
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueryPassesRankedColumnsAsHints(t *testing.T) {
	var prompt string
	model := staticModel(`{"querySpec":{"intent":"text","aggregation":"avg","measure":"Yield"}}`, &prompt)

	res, err := newEngine(t, model, WithEmbedder(keywordEmbedder(nil)), WithTopK(1)).
		Query(context.Background(), "average yield")
	require.NoError(t, err)
	assert.Equal(t, []string{"Yield"}, res.Metadata["relevant_columns"])
	assert.Contains(t, prompt, `MOST RELEVANT COLUMNS FOR THIS QUESTION: "Yield"`)
}

func TestQueryContinuesWhenRankingFails(t *testing.T) {
	broken := llm.EmbedderFunc(func(context.Context, []string) ([][]float64, error) {
		return nil, errors.New("embedding endpoint down")
	})
	model := staticModel(`{"querySpec":{"intent":"text","aggregation":"max","measure":"Brix"}}`, nil)

	res, err := newEngine(t, model, WithEmbedder(broken)).Query(context.Background(), "highest brix")
	require.NoError(t, err)
	assert.Equal(t, "15", res.Response)
}

func TestCosineSim(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSim([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSim([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSim([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, cosineSim([]float64{0, 0}, []float64{1, 2}))
}

// ============================================================================
// PROMPT + PARSER
// ============================================================================

func TestBuildPromptDescribesSchema(t *testing.T) {
	sch := trialSchema()
	p := BuildPrompt(sch, BuildDataSummary(trialView(), sch), nil)

	assert.Contains(t, p, `"leaft" dataset`)
	assert.Contains(t, p, `- "Variety" values: ["Fuji", "Gala", "Honeycrisp"]`)
	assert.Contains(t, p, `- "Yield" [unit: t/ha] range 9.5..16, default aggregation: avg`)
	assert.Contains(t, p, `plot.<kind>(x="<column>"`)
	assert.Contains(t, p, `"what is the average yield?"`)
	assert.NotContains(t, p, "MOST RELEVANT COLUMNS")
}

func TestBuildDataSummarySkipsHighCardinality(t *testing.T) {
	s := BuildDataSummary(trialView(), trialSchema())
	assert.Equal(t, 5, s.RecordCount)
	assert.Contains(t, s.Dimensions, "Variety")
	assert.NotContains(t, s.Dimensions, "Trial")
}

func TestParseResponseDefaults(t *testing.T) {
	tr, err := parseResponse(`Sure! {"interpretation":{"confidence":0.7},"querySpec":{"measure":"Yield"}} Hope this helps.`)
	require.NoError(t, err)
	assert.Equal(t, "text", tr.QuerySpec.Intent)
	assert.Equal(t, "sum", tr.QuerySpec.Aggregation)
	assert.Equal(t, 0.7, tr.QuerySpec.Confidence)

	_, err = parseResponse("no json here")
	assert.Error(t, err)

	_, err = parseResponse(`{"instruction":"plot.bar(x="}`)
	assert.ErrorIs(t, err, engine.ErrMalformedInstruction)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, stripFences(`prefix {"a":{"b":2}} suffix`))
	assert.Equal(t, "plain", stripFences("plain"))
}

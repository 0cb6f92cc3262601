package schema

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/insight/llm"
	"github.com/spektr-org/insight/logging"
)

// ============================================================================
// SMART REFINE TESTS
// ============================================================================
// Tests cover:
//   1. Payload builder: metadata extraction from a draft Config
//   2. Response parser: valid JSON, fenced JSON, malformed JSON
//   3. Enrichment applicator: names, descriptions, units, hierarchies
//   4. Deep copy isolation: the draft is never mutated
//   5. Refine end to end against a fake completer
// ============================================================================

// --- Test Fixtures ---

func trialDraftSchema() *Config {
	return &Config{
		Name:           "Auto-discovered Dataset",
		Version:        "1.0",
		RowCount:       12,
		DiscoveredFrom: "table",
		Dimensions: []DimensionMeta{
			{
				Key:             "variety",
				Column:          "Variety",
				DisplayName:     "Variety",
				SampleValues:    []string{"Fuji", "Gala", "Honeycrisp"},
				Groupable:       true,
				Filterable:      true,
				CardinalityHint: "low",
			},
			{
				Key:             "site",
				Column:          "Site",
				DisplayName:     "Site",
				SampleValues:    []string{"North", "South"},
				Groupable:       true,
				Filterable:      true,
				CardinalityHint: "low",
			},
			{
				Key:             "maturity",
				Column:          "Maturity",
				DisplayName:     "Maturity",
				SampleValues:    []string{"Early", "Mid", "Late", "Very Late", "Unknown", "Extra"},
				Groupable:       true,
				Filterable:      true,
				CardinalityHint: "low",
			},
			{
				Key:             "season",
				Column:          "Season",
				DisplayName:     "Season",
				SampleValues:    []string{"2021", "2022"},
				Groupable:       true,
				Filterable:      true,
				IsTemporal:      true,
				TemporalFormat:  "2006",
				CardinalityHint: "low",
			},
		},
		Measures: []MeasureMeta{
			{
				Key:                "yield",
				Column:             "Yield",
				DisplayName:        "Yield",
				Min:                8.5,
				Max:                14.5,
				Aggregations:       []string{"sum", "avg", "median", "min", "max", "count"},
				DefaultAggregation: "sum",
			},
			{
				Key:                "record_count",
				DisplayName:        "Record Count",
				IsSynthetic:        true,
				Aggregations:       []string{"count"},
				DefaultAggregation: "count",
			},
		},
		SkippedColumns: []SkippedColumn{
			{Column: "Trial", Reason: "Unique per row, likely an identifier", Recoverable: true},
		},
	}
}

func modelResponse() string {
	return `{
  "datasetName": "Apple Variety Trials",
  "datasetDescription": "Harvest measurements from apple variety trials",
  "enrichments": [
    {"key": "variety", "displayName": "Cultivar", "description": "Apple cultivar under trial"},
    {"key": "maturity", "description": "Harvest window", "sortHint": "Early > Mid > Late"},
    {"key": "yield", "displayName": "Yield (t/ha)", "description": "Harvested fruit mass per hectare", "unit": "t/ha", "defaultAggregation": "avg"}
  ],
  "suggestedHierarchies": [
    {"parent": "site", "child": "variety", "reason": "Cultivars are planted per site"},
    {"parent": "orchard", "child": "maturity", "reason": "unknown parent"}
  ],
  "recoverColumns": [
    {"column": "Trial", "reason": "Trial ids are useful for drill-down", "suggestedRole": "dimension"}
  ]
}`
}

func dimByKey(t *testing.T, cfg *Config, key string) DimensionMeta {
	t.Helper()
	for _, d := range cfg.Dimensions {
		if d.Key == key {
			return d
		}
	}
	t.Fatalf("dimension %q not found", key)
	return DimensionMeta{}
}

func measureByKey(t *testing.T, cfg *Config, key string) MeasureMeta {
	t.Helper()
	for _, m := range cfg.Measures {
		if m.Key == key {
			return m
		}
	}
	t.Fatalf("measure %q not found", key)
	return MeasureMeta{}
}

// ============================================================================
// 1. PAYLOAD BUILDER
// ============================================================================

func TestBuildRefinePayload(t *testing.T) {
	p := buildRefinePayload(trialDraftSchema())

	// 4 dimensions + 1 real measure; synthetic record_count excluded
	require.Len(t, p.Columns, 5)
	assert.Equal(t, 12, p.RowCount)
	assert.True(t, p.Detected.HasTemporal)
	assert.Equal(t, []string{"Trial"}, p.Detected.SkippedColumns)

	season := p.Columns[3]
	assert.Equal(t, "Season", season.Name)
	assert.Equal(t, "temporal", season.Type)

	yield := p.Columns[4]
	assert.Equal(t, "measure", yield.Role)
	assert.Equal(t, []float64{8.5, 14.5}, yield.Range)

	// samples are capped at 5
	assert.Len(t, p.Columns[2].Samples, 5)
}

func TestBuildRefinePayloadHierarchies(t *testing.T) {
	draft := trialDraftSchema()
	draft.Dimensions[0].Parent = "site"

	p := buildRefinePayload(draft)
	assert.Equal(t, []string{"variety → site"}, p.Detected.Hierarchies)
}

func TestBuildRefinePayloadEmptySchema(t *testing.T) {
	p := buildRefinePayload(&Config{})
	assert.Empty(t, p.Columns)
	assert.False(t, p.Detected.HasTemporal)
}

func TestRefinePromptCarriesPayload(t *testing.T) {
	p := buildRefinePayload(trialDraftSchema())
	prompt := buildRefinePrompt(p)

	raw, err := json.MarshalIndent(p, "", "  ")
	require.NoError(t, err)
	assert.Contains(t, prompt, string(raw))
	assert.Contains(t, prompt, "Respond with ONLY valid JSON")
}

// ============================================================================
// 2. RESPONSE PARSER
// ============================================================================

func TestParseRefineResponse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", modelResponse(), false},
		{"fenced", "```json\n" + modelResponse() + "\n```", false},
		{"bare fence", "```\n" + modelResponse() + "\n```", false},
		{"invalid", "the schema looks fine", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRefineResponse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Apple Variety Trials", got.DatasetName)
			assert.Len(t, got.Enrichments, 3)
			assert.Len(t, got.SuggestedHierarchies, 2)
		})
	}
}

// ============================================================================
// 3. ENRICHMENT APPLICATOR
// ============================================================================

func TestApplyEnrichments(t *testing.T) {
	enrichment, err := parseRefineResponse(modelResponse())
	require.NoError(t, err)

	result := applyEnrichments(trialDraftSchema(), enrichment)

	assert.Equal(t, "Apple Variety Trials", result.Name)
	assert.Equal(t, "Harvest measurements from apple variety trials", result.Description)

	variety := dimByKey(t, result, "variety")
	assert.Equal(t, "Cultivar", variety.DisplayName)
	assert.Equal(t, "Variety", variety.Column, "raw column name is never rewritten")
	assert.Equal(t, "site", variety.Parent)

	maturity := dimByKey(t, result, "maturity")
	assert.Equal(t, "Maturity", maturity.DisplayName, "empty suggestion keeps the draft name")
	assert.Equal(t, "Early > Mid > Late", maturity.SortHint)
	assert.Empty(t, maturity.Parent, "hierarchy to an unknown key is ignored")

	yield := measureByKey(t, result, "yield")
	assert.Equal(t, "t/ha", yield.Unit)
	assert.Equal(t, "avg", yield.DefaultAggregation)
	assert.Equal(t, "Yield", yield.Column)

	assert.NotEmpty(t, result.RefinedAt)
	assert.Equal(t, "model", result.RefinedBy)
}

func TestApplyEnrichmentKeepsExistingParent(t *testing.T) {
	draft := trialDraftSchema()
	draft.Dimensions[0].Parent = "season"

	result := applyEnrichments(draft, &refineEnrichment{
		SuggestedHierarchies: []hierarchySuggestion{{Parent: "site", Child: "variety"}},
	})
	assert.Equal(t, "season", dimByKey(t, result, "variety").Parent)
}

func TestApplyEnrichmentInvalidAggregation(t *testing.T) {
	result := applyEnrichments(trialDraftSchema(), &refineEnrichment{
		Enrichments: []columnEnrichment{{Key: "yield", DefaultAggregation: "geomean"}},
	})
	assert.Equal(t, "sum", measureByKey(t, result, "yield").DefaultAggregation)
}

func TestApplyEnrichmentSelfParentIgnored(t *testing.T) {
	result := applyEnrichments(trialDraftSchema(), &refineEnrichment{
		SuggestedHierarchies: []hierarchySuggestion{{Parent: "site", Child: "site"}},
	})
	assert.Empty(t, dimByKey(t, result, "site").Parent)
}

// ============================================================================
// 4. DEEP COPY ISOLATION
// ============================================================================

func TestApplyEnrichmentsDoesNotMutateDraft(t *testing.T) {
	draft := trialDraftSchema()
	enrichment, err := parseRefineResponse(modelResponse())
	require.NoError(t, err)

	_ = applyEnrichments(draft, enrichment)

	assert.Equal(t, "Auto-discovered Dataset", draft.Name)
	assert.Equal(t, "Variety", draft.Dimensions[0].DisplayName)
	assert.Empty(t, draft.Dimensions[0].Parent)
	assert.Equal(t, "sum", draft.Measures[0].DefaultAggregation)
	assert.Empty(t, draft.RefinedBy)
}

func TestDeepCopySliceIsolation(t *testing.T) {
	draft := trialDraftSchema()
	cp := deepCopyConfig(draft)

	cp.Dimensions[0].SampleValues[0] = "MUTATED"
	cp.Measures[0].Aggregations[0] = "MUTATED"
	cp.SkippedColumns[0].Column = "MUTATED"

	assert.Equal(t, "Fuji", draft.Dimensions[0].SampleValues[0])
	assert.Equal(t, "sum", draft.Measures[0].Aggregations[0])
	assert.Equal(t, "Trial", draft.SkippedColumns[0].Column)
	assert.Equal(t, 12, cp.RowCount)
}

// ============================================================================
// 5. REFINE
// ============================================================================

func TestRefine(t *testing.T) {
	var prompt string
	model := llm.CompleterFunc(func(_ context.Context, req llm.CompletionRequest) (string, error) {
		prompt = req.Prompt
		return modelResponse(), nil
	})

	draft := trialDraftSchema()
	result, err := Refine(context.Background(), draft, model, logging.Nop())
	require.NoError(t, err)

	assert.Contains(t, prompt, `"name": "Variety"`)
	assert.Equal(t, "Apple Variety Trials", result.Name)
	assert.Equal(t, "Auto-discovered Dataset", draft.Name)
}

func TestRefineFailuresReturnDraft(t *testing.T) {
	tests := []struct {
		name  string
		model llm.Completer
	}{
		{"model error", llm.CompleterFunc(func(context.Context, llm.CompletionRequest) (string, error) {
			return "", llm.ErrUnavailable
		})},
		{"garbage", llm.CompleterFunc(func(context.Context, llm.CompletionRequest) (string, error) {
			return "not json", nil
		})},
		{"no model", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := trialDraftSchema()
			result, err := Refine(context.Background(), draft, tt.model, logging.Nop())
			assert.Error(t, err)
			assert.Same(t, draft, result)
		})
	}
}

func TestRefineModelErrorIsWrapped(t *testing.T) {
	model := llm.CompleterFunc(func(context.Context, llm.CompletionRequest) (string, error) {
		return "", llm.ErrRateLimited
	})
	_, err := Refine(context.Background(), trialDraftSchema(), model, nil)
	assert.True(t, errors.Is(err, llm.ErrRateLimited))
}

func TestRefineNilDraft(t *testing.T) {
	_, err := Refine(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDraft)
}

// ============================================================================
// HELPERS
// ============================================================================

func TestIsValidAggregation(t *testing.T) {
	for _, agg := range []string{"sum", "avg", "median", "count", "max", "min"} {
		assert.True(t, isValidAggregation(agg), agg)
	}
	for _, agg := range []string{"", "mean", "geomean", "SUM"} {
		assert.False(t, isValidAggregation(agg), agg)
	}
}

func TestLimitSamples(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, limitSamples([]string{"a", "b"}, 5))
	assert.Equal(t, []string{"a", "b"}, limitSamples([]string{"a", "b", "c"}, 2))
}

func TestEstimateUnique(t *testing.T) {
	assert.Equal(t, 5, estimateUnique("low"))
	assert.Equal(t, 30, estimateUnique("medium"))
	assert.Equal(t, 200, estimateUnique("high"))
	assert.Equal(t, 10, estimateUnique(""))
}

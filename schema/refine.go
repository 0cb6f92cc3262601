package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spektr-org/insight/llm"
)

// ============================================================================
// SMART REFINE — Model-Assisted Schema Enrichment (One-Time)
// ============================================================================
//
// After discovery produces a draft schema from heuristics, Smart Refine
// optionally sends column metadata (a few hundred bytes) to the code model
// for semantic enrichment. It runs once at startup when
// dataset.refine_schema is set.
//
// What the model sees:
//   - Column names, detected roles, sample values, cardinality hints
//   - Row count, detected hierarchies and temporal flags
//
// What the model returns:
//   - Suggested dataset name + description
//   - Display names, descriptions and units per column
//   - Hierarchy suggestions the heuristics may have missed
//   - Sort hints for ordinal dimensions
//   - Default aggregation suggestions (sum vs avg vs count)
// ============================================================================

// ErrNilDraft is returned when Refine gets no draft schema.
var ErrNilDraft = errors.New("draft schema is nil")

// Refine enriches a discovered schema using a one-time model call.
// The draft is NOT mutated; a new enriched Config is returned.
// If the call fails, the draft is returned unchanged together with the error.
func Refine(ctx context.Context, draft *Config, model llm.Completer, logger *slog.Logger) (*Config, error) {
	if draft == nil {
		return nil, ErrNilDraft
	}
	if model == nil {
		return draft, errors.New("no model configured for schema refinement")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Build the lightweight metadata payload
	payload := buildRefinePayload(draft)

	// 2. Build the prompt
	prompt := buildRefinePrompt(payload)

	logger.Info("refining schema", "columns", len(payload.Columns), "prompt_bytes", len(prompt))

	// 3. Call the model
	response, err := model.Complete(ctx, llm.CompletionRequest{Prompt: prompt, MaxTokens: 2048})
	if err != nil {
		logger.Warn("schema refine call failed, keeping draft", "error", err)
		return draft, fmt.Errorf("smart refine model call failed: %w", err)
	}

	// 4. Parse the response
	enrichment, err := parseRefineResponse(response)
	if err != nil {
		logger.Warn("schema refine parse failed, keeping draft", "error", err)
		return draft, fmt.Errorf("smart refine parse failed: %w", err)
	}

	// 5. Apply enrichments to a copy of the draft
	result := applyEnrichments(draft, enrichment)

	logger.Info("schema refined", "dimensions", len(result.Dimensions), "measures", len(result.Measures))

	return result, nil
}

// ============================================================================
// PAYLOAD BUILDER — What the Model Sees
// ============================================================================

// refinePayload is the lightweight metadata sent to the model.
type refinePayload struct {
	Columns  []refineColumn `json:"columns"`
	RowCount int            `json:"rowCount"`
	Detected refineDetected `json:"detected"`
}

type refineColumn struct {
	Name    string    `json:"name"`
	Key     string    `json:"key"`
	Role    string    `json:"role"` // "dimension", "measure", "skipped"
	Type    string    `json:"type"` // "string", "numeric", "temporal"
	Samples []string  `json:"samples,omitempty"`
	Unique  int       `json:"unique,omitempty"`
	Range   []float64 `json:"range,omitempty"`
	// Existing detection flags so the model can confirm/correct
	IsTemporal bool   `json:"isTemporal,omitempty"`
	Parent     string `json:"parent,omitempty"`
}

type refineDetected struct {
	HasTemporal    bool     `json:"hasTemporal"`
	Hierarchies    []string `json:"hierarchies,omitempty"`    // "field → category" format
	SkippedColumns []string `json:"skippedColumns,omitempty"` // names of skipped columns
}

func buildRefinePayload(draft *Config) refinePayload {
	p := refinePayload{
		RowCount: draft.RowCount,
	}

	// Dimensions
	for _, d := range draft.Dimensions {
		col := refineColumn{
			Name:       d.Column,
			Key:        d.Key,
			Role:       "dimension",
			Type:       "string",
			Samples:    limitSamples(d.SampleValues, 5),
			Unique:     estimateUnique(d.CardinalityHint),
			IsTemporal: d.IsTemporal,
			Parent:     d.Parent,
		}
		if d.IsTemporal {
			col.Type = "temporal"
		}
		p.Columns = append(p.Columns, col)
	}

	// Measures (skip synthetic)
	for _, m := range draft.Measures {
		if m.IsSynthetic {
			continue
		}
		p.Columns = append(p.Columns, refineColumn{
			Name:  m.Column,
			Key:   m.Key,
			Role:  "measure",
			Type:  "numeric",
			Range: []float64{m.Min, m.Max},
		})
	}

	// Detected patterns
	for _, d := range draft.Dimensions {
		if d.IsTemporal {
			p.Detected.HasTemporal = true
		}
		if d.Parent != "" {
			p.Detected.Hierarchies = append(p.Detected.Hierarchies,
				fmt.Sprintf("%s → %s", d.Key, d.Parent))
		}
	}
	for _, s := range draft.SkippedColumns {
		p.Detected.SkippedColumns = append(p.Detected.SkippedColumns, s.Column)
	}

	return p
}

// ============================================================================
// PROMPT BUILDER
// ============================================================================

func buildRefinePrompt(payload refinePayload) string {
	payloadJSON, _ := json.MarshalIndent(payload, "", "  ")

	return fmt.Sprintf(`You are a data analyst inspecting a dataset's structure. Based on the column metadata below, provide semantic enrichments.

COLUMN METADATA:
%s

INSTRUCTIONS:
1. Suggest a concise, descriptive name for this dataset (2-5 words)
2. Write a one-line description of what this dataset contains
3. For each column, provide:
   - displayName: Human-friendly label (e.g., "juice_dm" → "Juice Dry Matter", "site" → "Site")
   - description: What this column represents in the domain (e.g., "Trial location", "Harvested fruit mass per hectare")
   - unit: For measures only — one of: "percent", "ratio", "kg", "t/ha", "brix", "units", or "" if unknown
   - sortHint: For ordinal dimensions — natural ordering (e.g., "Low > Medium > High", "Early > Mid > Late")
   - defaultAggregation: For measures — "sum", "avg", "count", "max", "min" (based on what makes semantic sense)
4. Suggest any hierarchies the heuristics may have missed (parent → child relationships)
5. Flag any columns currently classified as "skipped" that should probably be included

Respond with ONLY valid JSON (no markdown, no backticks):
{
  "datasetName": "...",
  "datasetDescription": "...",
  "enrichments": [
    {
      "key": "column_key",
      "displayName": "...",
      "description": "...",
      "unit": "",
      "sortHint": "",
      "defaultAggregation": ""
    }
  ],
  "suggestedHierarchies": [
    {"parent": "parent_key", "child": "child_key", "reason": "..."}
  ],
  "recoverColumns": [
    {"column": "column_name", "reason": "...", "suggestedRole": "dimension"}
  ]
}`, string(payloadJSON))
}

// ============================================================================
// RESPONSE TYPES
// ============================================================================

// refineEnrichment is the parsed model response.
type refineEnrichment struct {
	DatasetName          string                `json:"datasetName"`
	DatasetDescription   string                `json:"datasetDescription"`
	Enrichments          []columnEnrichment    `json:"enrichments"`
	SuggestedHierarchies []hierarchySuggestion `json:"suggestedHierarchies"`
	RecoverColumns       []recoverSuggestion   `json:"recoverColumns"`
}

type columnEnrichment struct {
	Key                string `json:"key"`
	DisplayName        string `json:"displayName"`
	Description        string `json:"description"`
	Unit               string `json:"unit"`
	SortHint           string `json:"sortHint"`
	DefaultAggregation string `json:"defaultAggregation"`
}

type hierarchySuggestion struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
	Reason string `json:"reason"`
}

type recoverSuggestion struct {
	Column        string `json:"column"`
	Reason        string `json:"reason"`
	SuggestedRole string `json:"suggestedRole"`
}

// ============================================================================
// RESPONSE PARSER
// ============================================================================

func parseRefineResponse(response string) (*refineEnrichment, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var result refineEnrichment
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("failed to parse refine response: %w (response: %.300s)", err, response)
	}

	return &result, nil
}

// ============================================================================
// APPLY ENRICHMENTS — Merge model suggestions into the schema
// ============================================================================

// applyEnrichments creates a new Config with model enrichments merged in.
// Rules:
//   - suggestions override generic display names and empty descriptions
//   - the model cannot change column roles, keys or raw column names
//   - the model cannot remove columns or add new ones
//   - hierarchy suggestions apply only to known keys without a parent
func applyEnrichments(draft *Config, enrichment *refineEnrichment) *Config {
	// Deep copy
	result := deepCopyConfig(draft)

	// Apply dataset-level enrichments
	if enrichment.DatasetName != "" {
		result.Name = enrichment.DatasetName
	}
	if enrichment.DatasetDescription != "" {
		result.Description = enrichment.DatasetDescription
	}

	// Build enrichment lookup by key
	enrichMap := make(map[string]columnEnrichment)
	for _, e := range enrichment.Enrichments {
		enrichMap[e.Key] = e
	}

	// Enrich dimensions
	for i := range result.Dimensions {
		d := &result.Dimensions[i]
		if e, ok := enrichMap[d.Key]; ok {
			if e.DisplayName != "" {
				d.DisplayName = e.DisplayName
			}
			if e.Description != "" {
				d.Description = e.Description
			}
			if e.SortHint != "" {
				d.SortHint = e.SortHint
			}
		}
	}

	// Enrich measures
	for i := range result.Measures {
		m := &result.Measures[i]
		if e, ok := enrichMap[m.Key]; ok {
			if e.DisplayName != "" {
				m.DisplayName = e.DisplayName
			}
			if e.Description != "" {
				m.Description = e.Description
			}
			if e.Unit != "" {
				m.Unit = e.Unit
			}
			if e.DefaultAggregation != "" && isValidAggregation(e.DefaultAggregation) {
				m.DefaultAggregation = e.DefaultAggregation
			}
		}
	}

	// Apply hierarchy suggestions (only if not already set)
	known := make(map[string]bool, len(result.Dimensions))
	for _, d := range result.Dimensions {
		known[d.Key] = true
	}
	for _, h := range enrichment.SuggestedHierarchies {
		if !known[h.Parent] || h.Parent == h.Child {
			continue
		}
		for i := range result.Dimensions {
			if result.Dimensions[i].Key == h.Child && result.Dimensions[i].Parent == "" {
				result.Dimensions[i].Parent = h.Parent
			}
		}
	}

	// Mark as refined
	result.RefinedAt = time.Now().Format(time.RFC3339)
	result.RefinedBy = "model"

	return result
}

// ============================================================================
// HELPERS
// ============================================================================

func deepCopyConfig(src *Config) *Config {
	dst := &Config{
		Name:           src.Name,
		Version:        src.Version,
		Description:    src.Description,
		RowCount:       src.RowCount,
		DiscoveredFrom: src.DiscoveredFrom,
		DiscoveredAt:   src.DiscoveredAt,
		RefinedAt:      src.RefinedAt,
		RefinedBy:      src.RefinedBy,
	}

	// Deep copy dimensions
	dst.Dimensions = make([]DimensionMeta, len(src.Dimensions))
	for i, d := range src.Dimensions {
		dst.Dimensions[i] = d
		// Deep copy slices
		dst.Dimensions[i].SampleValues = make([]string, len(d.SampleValues))
		copy(dst.Dimensions[i].SampleValues, d.SampleValues)
	}

	// Deep copy measures
	dst.Measures = make([]MeasureMeta, len(src.Measures))
	for i, m := range src.Measures {
		dst.Measures[i] = m
		dst.Measures[i].Aggregations = make([]string, len(m.Aggregations))
		copy(dst.Measures[i].Aggregations, m.Aggregations)
	}

	// Deep copy skipped columns
	dst.SkippedColumns = make([]SkippedColumn, len(src.SkippedColumns))
	copy(dst.SkippedColumns, src.SkippedColumns)

	return dst
}

func limitSamples(vals []string, max int) []string {
	if len(vals) <= max {
		return vals
	}
	return vals[:max]
}

func estimateUnique(hint string) int {
	switch hint {
	case "low":
		return 5
	case "medium":
		return 30
	case "high":
		return 200
	default:
		return 10
	}
}

func isValidAggregation(agg string) bool {
	switch agg {
	case "sum", "avg", "median", "count", "max", "min":
		return true
	}
	return false
}

package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spektr-org/insight/engine"
)

// ============================================================================
// RESPONSE PARSER — Extracts QuerySpec from the code model response
// ============================================================================

// parseResponse extracts TranslateResult from the model's JSON response.
// A non-empty "instruction" is parsed with the engine grammar and replaces
// the querySpec object; when it does not parse the error wraps
// engine.ErrMalformedInstruction.
func parseResponse(response string) (*TranslateResult, error) {
	response = stripFences(response)

	var result TranslateResult
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("failed to parse translator response: %w (response: %.200s)", err, response)
	}

	if instr := strings.TrimSpace(result.Instruction); instr != "" {
		spec, err := engine.ParseInstruction(instr)
		if err != nil {
			return nil, err
		}
		spec.Title = result.QuerySpec.Title
		spec.Reply = result.QuerySpec.Reply
		spec.Confidence = result.QuerySpec.Confidence
		result.QuerySpec = spec
	}

	// Apply defaults for missing fields
	if result.QuerySpec.Intent == "" {
		result.QuerySpec.Intent = "text"
	}
	if result.QuerySpec.Aggregation == "" && result.QuerySpec.Intent != "chart" {
		result.QuerySpec.Aggregation = "sum"
	}
	if result.QuerySpec.Visualize == "" {
		result.QuerySpec.Visualize = result.QuerySpec.Intent
	}

	// Sync confidence
	if result.QuerySpec.Confidence == 0 && result.Interpretation.Confidence > 0 {
		result.QuerySpec.Confidence = result.Interpretation.Confidence
	}

	result.QuerySpec = engine.NormalizeQuerySpec(result.QuerySpec)
	return &result, nil
}

// parseFallbackInterpretation tries to extract just the Interpretation.
// Used when the full response parse fails.
func parseFallbackInterpretation(response string) *engine.Interpretation {
	response = stripFences(response)

	// Try wrapped format: {"interpretation": {...}}
	var wrapper struct {
		Interpretation engine.Interpretation `json:"interpretation"`
	}
	if err := json.Unmarshal([]byte(response), &wrapper); err == nil && wrapper.Interpretation.Summary != "" {
		return &wrapper.Interpretation
	}

	// Try direct format
	var direct engine.Interpretation
	if err := json.Unmarshal([]byte(response), &direct); err == nil && direct.Summary != "" {
		return &direct
	}

	// Generic low-confidence fallback
	return &engine.Interpretation{
		VisualType: "table",
		Summary:    "I'll try to show results for your query",
		Details: []engine.InterpretDetail{
			{Label: "Display", Value: "Data table"},
		},
		Confidence: 0.5,
	}
}

// fallbackSpec lists rows when the model answer cannot be used.
func fallbackSpec() engine.QuerySpec {
	return engine.QuerySpec{
		Intent:      "table",
		Aggregation: "list",
		Visualize:   "table",
		Title:       "Query Results",
		Confidence:  0.5,
	}
}

// stripFences removes a surrounding markdown code block and any text the
// model put before the first "{" or after the last "}".
func stripFences(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	if start, end := strings.Index(response, "{"), strings.LastIndex(response, "}"); start >= 0 && end > start {
		response = response[start : end+1]
	}
	return response
}

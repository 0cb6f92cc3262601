package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ============================================================================
// EXECUTOR — Dispatcher + Placeholder Resolution
// ============================================================================
// Entry point: Execute(spec, view, opts...)
//
// Pipeline:
//   1. Normalize and validate the QuerySpec against the view's columns
//   2. Apply filters → SubView
//   3. Group and aggregate
//   4. Dispatch to builder (chart / table / text)
//   5. Resolve reply template placeholders
//
// This function never calls a model. All computation is local and reads the
// data through RecordView.
// ============================================================================

// ErrNotNumeric is returned when a numeric aggregation targets a text column.
var ErrNotNumeric = errors.New("column is not numeric")

// Execute runs a QuerySpec against a RecordView and returns a render-ready Result.
//
// Options:
//   - WithDefaultMeasure(key): sets the measure when QuerySpec.Measure is empty
//   - WithPrecision(places): decimal places of formatted values
//   - WithHistogramBins(n): bucket count for "hist" charts
//   - WithLogger(logger)
func Execute(spec QuerySpec, view RecordView, opts ...Option) (*Result, error) {
	cfg := applyOptions(opts)
	spec = NormalizeQuerySpec(spec)

	// Resolve which measure to aggregate
	if spec.Measure == "" && spec.Aggregation != "count" && spec.Aggregation != "list" {
		spec.Measure = cfg.DefaultMeasure
		if spec.Measure == "" && len(view.MeasureKeys()) > 0 {
			spec.Measure = view.MeasureKeys()[0]
		}
	}
	measure := spec.Measure

	if err := Validate(spec, view); err != nil {
		return nil, err
	}

	if view.Len() == 0 {
		return &Result{
			Success:   true,
			Type:      "text",
			Reply:     "No data available to analyze.",
			QuerySpec: &spec,
		}, nil
	}

	cfg.Logger.Debug("executing query spec",
		"rows", view.Len(), "intent", spec.Intent, "visualize", spec.Visualize,
		"aggregation", spec.Aggregation, "measure", measure)

	// 1. Apply filters → SubView (zero-copy)
	filtered := ApplyFilters(view, spec.Filters)
	if filtered.Len() == 0 {
		return &Result{
			Success:   true,
			Type:      "text",
			Reply:     "No rows match your query filters. Try broadening your search.",
			QuerySpec: &spec,
		}, nil
	}
	if spec.Aggregation == "list" && spec.Limit > 0 && filtered.Len() > spec.Limit {
		filtered = head(filtered, spec.Limit)
	}

	cfg.Logger.Debug("rows after filtering", "rows", filtered.Len(), "from", view.Len())

	result := &Result{
		Success:   true,
		Title:     spec.Title,
		QuerySpec: &spec,
	}

	// 2. Dispatch to builder
	var groups []Group
	switch spec.Intent {
	case "chart":
		result.Type = "chart"
		result.ChartConfig = BuildChart(spec, filtered, cfg.HistBins)
		if result.ChartConfig == nil {
			result.Type = "text"
			result.Reply = "Not enough data to generate a chart."
			return result, nil
		}
		result.Title = result.ChartConfig.Title

	case "table":
		result.Type = "table"
		groups = GroupAndAggregate(filtered, spec.GroupBy, measure, spec.Aggregation, spec.SortBy, spec.Limit)
		result.TableData = BuildTable(spec, groups, filtered, measure, cfg.Places)

	default:
		result.Type = "text"
		groups = GroupAndAggregate(filtered, spec.GroupBy, measure, spec.Aggregation, spec.SortBy, spec.Limit)
		result.Data = BuildText(spec, filtered, measure, cfg.Places)
	}

	// 3. Resolve reply template placeholders
	if spec.Reply == "" {
		result.Reply = defaultReply(result, groups, cfg.Places)
	} else {
		value := ""
		if result.Data != nil {
			value = result.Data.Value
		}
		result.Reply = ResolvePlaceholders(spec.Reply, value, groups, filtered, measure, cfg.Places)
	}

	return result, nil
}

// Validate checks that a spec stays inside the instruction language, that
// every column it names exists in view, and that numeric aggregations target
// numeric columns.
func Validate(spec QuerySpec, view RecordView) error {
	if spec.Aggregation != "" && !aggregations[spec.Aggregation] {
		return fmt.Errorf("%w: unknown aggregation %q", ErrMalformedInstruction, spec.Aggregation)
	}
	if spec.Intent == "chart" && (spec.Aggregation == "list" || spec.Aggregation == "count") {
		return fmt.Errorf("%w: unsupported chart aggregation %q", ErrMalformedInstruction, spec.Aggregation)
	}
	if spec.SortBy != "" && !sortModes[spec.SortBy] {
		return fmt.Errorf("%w: unknown sort mode %q", ErrMalformedInstruction, spec.SortBy)
	}
	if spec.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrMalformedInstruction, spec.Limit)
	}
	// x plus one "by" for charts, two "by" columns otherwise
	if len(spec.GroupBy) > 2 {
		return fmt.Errorf("%w: %d grouping columns, at most 2", ErrMalformedInstruction, len(spec.GroupBy))
	}
	for _, col := range spec.GroupBy {
		if !HasColumn(view, col) {
			return fmt.Errorf("%w: group by %q", ErrUnknownColumn, col)
		}
	}
	for col := range spec.Filters.Dimensions {
		if !HasColumn(view, col) {
			return fmt.Errorf("%w: filter on %q", ErrUnknownColumn, col)
		}
	}
	numeric := spec.Intent == "chart" || (spec.Aggregation != "count" && spec.Aggregation != "list")
	for _, m := range spec.Measures() {
		if !HasColumn(view, m) {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, m)
		}
		if numeric && !IsMeasure(view, m) {
			return fmt.Errorf("%w: %q", ErrNotNumeric, m)
		}
	}
	if spec.Intent == "chart" && spec.Visualize == "scatter" && len(spec.GroupBy) > 0 && !IsMeasure(view, spec.GroupBy[0]) {
		return fmt.Errorf("%w: scatter x %q", ErrNotNumeric, spec.GroupBy[0])
	}
	return nil
}

func head(view RecordView, n int) RecordView {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return newSubView(view, indices)
}

// ============================================================================
// PLACEHOLDER RESOLUTION
// ============================================================================

// ResolvePlaceholders substitutes computed values into the reply template.
func ResolvePlaceholders(template string, value string, groups []Group, view RecordView, measure string, places int32) string {
	count := view.Len()

	replacements := map[string]string{
		"{value}":   value,
		"{count}":   FormatInt(count),
		"{measure}": measure,
	}

	if measure != "" && IsMeasure(view, measure) && count > 0 {
		replacements["{total}"] = FormatNumber(SumMeasure(view, measure), places)
		replacements["{avg}"] = FormatNumber(AvgMeasure(view, measure), places)
		replacements["{median}"] = FormatNumber(MedianMeasure(view, measure), places)
		replacements["{max}"] = FormatNumber(MaxMeasure(view, measure), places)
		replacements["{min}"] = FormatNumber(MinMeasure(view, measure), places)
	}

	// Top group (highest value)
	if len(groups) > 0 {
		top := groups[0]
		for _, g := range groups[1:] {
			if g.Value > top.Value {
				top = g
			}
		}
		replacements["{top_group}"] = top.Label
		replacements["{top_value}"] = FormatNumber(top.Value, places)
	}

	result := template
	for placeholder, v := range replacements {
		if v == "" {
			continue
		}
		result = strings.ReplaceAll(result, placeholder, v)
	}

	// Safety net: strip unresolved placeholders
	return stripUnresolvedPlaceholders(result)
}

// defaultReply is the answer text when the spec carries no template:
// the bare value for text, one "label: value" line per group for tables.
func defaultReply(result *Result, groups []Group, places int32) string {
	switch result.Type {
	case "text":
		if len(groups) > 1 {
			return groupLines(groups, places)
		}
		return result.Data.Value
	case "table":
		if result.QuerySpec != nil && result.QuerySpec.Aggregation == "list" {
			return fmt.Sprintf("%d rows", len(result.TableData.Rows))
		}
		return groupLines(groups, places)
	case "chart":
		return result.ChartConfig.Title
	}
	return ""
}

func groupLines(groups []Group, places int32) string {
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("%s: %s", g.Label, FormatNumber(g.Value, places)))
	}
	return strings.Join(lines, "\n")
}

// ============================================================================
// QUERYSPEC NORMALIZATION
// ============================================================================

// NormalizeQuerySpec applies deterministic rules to fix common model inconsistencies.
func NormalizeQuerySpec(spec QuerySpec) QuerySpec {
	spec.Aggregation = strings.ToLower(strings.TrimSpace(spec.Aggregation))
	if alias, ok := aggregationAliases[spec.Aggregation]; ok {
		spec.Aggregation = alias
	}
	spec.SortBy = strings.ToLower(strings.TrimSpace(spec.SortBy))
	if alias, ok := sortAliases[spec.SortBy]; ok {
		spec.SortBy = alias
	}

	// Rule 1: the synthetic row counter is a count, not a column
	if spec.Measure == "record_count" {
		spec.Measure = ""
		spec.Aggregation = "count"
	}

	switch spec.Intent {
	case "chart":
		if spec.Visualize == "stacked_bar" {
			spec.Visualize = "bar"
		}
		if !chartKinds[spec.Visualize] {
			spec.Visualize = "bar"
		}
		// Rule 2: scatter needs an x column, otherwise plot against row number
		if spec.Visualize == "scatter" && len(spec.GroupBy) == 0 {
			spec.Visualize = "line"
		}
		if spec.Aggregation == "list" || spec.Aggregation == "count" {
			spec.Aggregation = ""
		}
	case "table", "text":
	default:
		spec.Intent = "text"
	}

	// Rule 3: "list" aggregation must be a table
	if spec.Aggregation == "list" && spec.Intent != "chart" {
		spec.Intent = "table"
	}

	// Rule 4: grouped single values become tables
	if spec.Intent == "text" && len(spec.GroupBy) > 0 {
		spec.Intent = "table"
	}

	// Rule 5: ungrouped aggregate tables are a single value
	if spec.Intent == "table" && spec.Aggregation != "list" && len(spec.GroupBy) == 0 {
		spec.Intent = "text"
	}

	if spec.Intent != "chart" {
		spec.Visualize = spec.Intent
	}
	return spec
}

// Names models commonly use for an aggregation or sort mode.
var (
	aggregationAliases = map[string]string{
		"mean": "avg", "average": "avg", "total": "sum",
		"minimum": "min", "maximum": "max", "none": "list",
	}
	sortAliases = map[string]string{
		"desc": "value_desc", "descending": "value_desc",
		"asc": "value_asc", "ascending": "value_asc",
	}
)

var placeholderRegex = regexp.MustCompile(`\{[a-z_]+\}`)

func stripUnresolvedPlaceholders(text string) string {
	cleaned := placeholderRegex.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, "  ", " ")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimRight(cleaned, " .-")
	if cleaned == "" {
		return text
	}
	return cleaned
}

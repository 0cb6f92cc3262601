package engine

import (
	"fmt"
)

// ============================================================================
// TABLE BUILDER — Produces TableData from QuerySpec + Groups
// ============================================================================
// Column discovery uses view.DimensionKeys() instead of inspecting rows.
// ============================================================================

// BuildTable produces a TableData from a QuerySpec, groups and the filtered view.
func BuildTable(spec QuerySpec, groups []Group, view RecordView, measure string, places int32) *TableData {
	if spec.Aggregation == "list" {
		return buildListTable(spec, view, measure, places)
	}
	return buildAggregatedTable(spec, groups, measure, places)
}

// ============================================================================
// LIST TABLE — Row per record
// ============================================================================

func buildListTable(spec QuerySpec, view RecordView, measure string, places int32) *TableData {
	if view.Len() == 0 {
		return &TableData{
			Title:   spec.Title,
			Columns: []Column{},
			Rows:    [][]string{},
		}
	}

	dimKeys := view.DimensionKeys()
	columns := make([]Column, 0, len(dimKeys))
	for _, key := range dimKeys {
		typ, align := "text", "left"
		if IsMeasure(view, key) {
			typ, align = "number", "right"
		}
		columns = append(columns, Column{Key: key, Label: key, Type: typ, Align: align})
	}

	rows := make([][]string, 0, view.Len())
	for i := 0; i < view.Len(); i++ {
		row := make([]string, 0, len(columns))
		for _, key := range dimKeys {
			row = append(row, view.Dimension(i, key))
		}
		rows = append(rows, row)
	}

	table := &TableData{
		Title:   spec.Title,
		Columns: columns,
		Rows:    rows,
		Summary: &Summary{
			Label:  fmt.Sprintf("%d rows", view.Len()),
			Values: map[string]string{},
		},
	}
	if measure != "" && IsMeasure(view, measure) {
		table.Summary.Values[measure] = FormatNumber(SumMeasure(view, measure), places)
	}
	return table
}

// ============================================================================
// AGGREGATED TABLE — Summary rows
// ============================================================================

func buildAggregatedTable(spec QuerySpec, groups []Group, measure string, places int32) *TableData {
	if len(groups) == 0 {
		return &TableData{
			Title:   spec.Title,
			Columns: []Column{},
			Rows:    [][]string{},
		}
	}

	groupLabel := "Group"
	if len(spec.GroupBy) > 0 {
		groupLabel = spec.GroupBy[0]
	}
	valueLabel := LabelForAggregation(spec.Aggregation)
	if measure != "" && spec.Aggregation != "count" {
		valueLabel += " " + measure
	}

	columns := []Column{
		{Key: "group", Label: groupLabel, Type: "text", Align: "left"},
		{Key: "value", Label: valueLabel, Type: "number", Align: "right"},
		{Key: "count", Label: "Count", Type: "number", Align: "center"},
	}

	rows := make([][]string, 0, len(groups))
	var totalCount int
	for _, g := range groups {
		rows = append(rows, []string{
			g.Label,
			FormatNumber(g.Value, places),
			fmt.Sprintf("%d", g.Count),
		})
		totalCount += g.Count
	}

	return &TableData{
		Title:   spec.Title,
		Columns: columns,
		Rows:    rows,
		Summary: &Summary{
			Label: "Total",
			Values: map[string]string{
				"count": fmt.Sprintf("%d", totalCount),
			},
		},
	}
}

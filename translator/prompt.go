package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spektr-org/insight/schema"
)

// ============================================================================
// PROMPT BUILDER — Schema-Driven Code Model Prompt
// ============================================================================
// The prompt is generated from schema.Config:
//   - Dimensions → listed with sample values
//   - Measures → listed with aggregations and value range
//   - Hierarchies → parent/child relationships explained
//   - Temporal → identified for ordered queries
//   - Relevant columns → embedding-ranked hints for this question
//
// Total data sent to the model: a few KB of metadata per query. Never rows.
// ============================================================================

// BuildPrompt generates the translation prompt for the code model.
func BuildPrompt(sch schema.Config, dataSummary *DataSummary, relevant []string) string {
	var b strings.Builder

	// ── Header ────────────────────────────────────────────────────────────
	fmt.Fprintf(&b, `You are a query translator for the "%s" dataset.

YOUR ROLE:
Translate the user's question into a structured QuerySpec that a computation engine will execute.
You are a TRANSLATOR ONLY. Do NOT compute any values. The engine does all computation locally.

`, sch.Name)

	// ── Data Summary ──────────────────────────────────────────────────────
	if dataSummary != nil {
		summaryJSON, _ := json.MarshalIndent(dataSummary, "", "  ")
		fmt.Fprintf(&b, "DATA SUMMARY (what data is available, NOT actual rows):\n%s\n\n", string(summaryJSON))
	}

	// ── Schema Description ────────────────────────────────────────────────
	b.WriteString("DATA MODEL:\n")
	b.WriteString(buildDimensionDescription(sch))
	b.WriteString(buildMeasureDescription(sch))
	b.WriteString("\n")

	// ── Hierarchy Relationships ───────────────────────────────────────────
	if hierarchies := buildHierarchyDescription(sch); hierarchies != "" {
		b.WriteString("COLUMN HIERARCHIES:\n")
		b.WriteString(hierarchies)
		b.WriteString("\n")
	}

	// ── Relevant Columns ──────────────────────────────────────────────────
	if len(relevant) > 0 {
		fmt.Fprintf(&b, "MOST RELEVANT COLUMNS FOR THIS QUESTION: %s\n\n", strings.Join(quotedValues(relevant), ", "))
	}

	// ── Response Format ───────────────────────────────────────────────────
	b.WriteString(buildResponseFormat(sch))

	// ── QuerySpec Rules ───────────────────────────────────────────────────
	b.WriteString(buildQuerySpecRules(sch))

	// ── Common Query Translations ─────────────────────────────────────────
	b.WriteString(buildExampleTranslations(sch))

	b.WriteString("\nRemember: You are a TRANSLATOR. Output structured instructions for the engine. Do NOT compute values.\n")
	return b.String()
}

// ============================================================================
// SECTION BUILDERS
// ============================================================================

func buildDimensionDescription(sch schema.Config) string {
	var b strings.Builder

	b.WriteString("DIMENSIONS (text columns for grouping and filtering):\n")
	for _, d := range sch.Dimensions {
		fmt.Fprintf(&b, "- %q", columnName(d.Column, d.Key))
		if d.DisplayName != "" && d.DisplayName != d.Column {
			fmt.Fprintf(&b, " (%s)", d.DisplayName)
		}
		if d.Description != "" {
			fmt.Fprintf(&b, ": %s", d.Description)
		}
		if len(d.SampleValues) > 0 {
			fmt.Fprintf(&b, " values: [%s]", strings.Join(quotedValues(d.SampleValues), ", "))
		}
		if d.IsTemporal {
			b.WriteString(" [TEMPORAL]")
		}
		if d.SortHint != "" {
			fmt.Fprintf(&b, " [order: %s]", d.SortHint)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func buildMeasureDescription(sch schema.Config) string {
	var b strings.Builder

	b.WriteString("\nMEASURES (numeric columns for aggregation and plotting):\n")
	for _, m := range sch.Measures {
		if m.IsSynthetic {
			fmt.Fprintf(&b, "- %q: number of rows, use aggregation \"count\" with an empty measure\n", m.Key)
			continue
		}
		fmt.Fprintf(&b, "- %q", columnName(m.Column, m.Key))
		if m.DisplayName != "" && m.DisplayName != m.Column {
			fmt.Fprintf(&b, " (%s)", m.DisplayName)
		}
		if m.Description != "" {
			fmt.Fprintf(&b, ": %s", m.Description)
		}
		if m.Unit != "" {
			fmt.Fprintf(&b, " [unit: %s]", m.Unit)
		}
		if m.Min != 0 || m.Max != 0 {
			fmt.Fprintf(&b, " range %g..%g", m.Min, m.Max)
		}
		if m.DefaultAggregation != "" {
			fmt.Fprintf(&b, ", default aggregation: %s", m.DefaultAggregation)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func buildHierarchyDescription(sch schema.Config) string {
	byKey := make(map[string]string, len(sch.Dimensions))
	for _, d := range sch.Dimensions {
		byKey[d.Key] = columnName(d.Column, d.Key)
	}
	var b strings.Builder
	for _, d := range sch.Dimensions {
		if d.Parent != "" {
			fmt.Fprintf(&b, "- %q is a child of %q (filter the parent then group by the child for a breakdown)\n",
				columnName(d.Column, d.Key), columnName(byKey[d.Parent], d.Parent))
		}
	}
	return b.String()
}

func buildResponseFormat(sch schema.Config) string {
	return fmt.Sprintf(`RESPONSE FORMAT (ALWAYS valid JSON, no markdown):
{
  "interpretation": {
    "visualType": "bar|line|scatter|area|pie|hist|table|text",
    "summary": "A one-line description of what will be shown",
    "confidence": 0.9
  },
  "querySpec": {
    "intent": "text|table|chart",
    "filters": {
      "dimensions": {"<column>": ["value", "..."]}
    },
    "aggregation": "sum|count|avg|median|max|min|list",
    "measure": "%s",
    "series": [],
    "groupBy": [],
    "sortBy": "value_desc|value_asc|label_asc|label_desc",
    "limit": 0,
    "visualize": "bar|line|scatter|area|pie|hist|table|text",
    "title": "Chart or table title",
    "reply": "Template with {value}, {count}, {measure}, {total}, {avg}, {median}, {max}, {min}, {top_group}, {top_value} placeholders",
    "confidence": 0.9
  }
}

Instead of "querySpec" you may answer with a single "instruction" string in this grammar:
  <agg>("<measure>") [by "<column>"[, "<column>"]] [where "<column>" in ("v", ...) [and ...]] [sort <mode>] [limit <n>]
  plot.<kind>(x="<column>", y="<measure>"[, y="<measure>"...][, agg=<agg>]) [by "<column>"]
Column names are always double-quoted exactly as listed above.

`, sch.GetDefaultMeasure())
}

func buildQuerySpecRules(sch schema.Config) string {
	dimNames := make([]string, 0, len(sch.Dimensions))
	var temporal []string
	for _, d := range sch.Dimensions {
		name := columnName(d.Column, d.Key)
		dimNames = append(dimNames, fmt.Sprintf("%q", name))
		if d.IsTemporal {
			temporal = append(temporal, fmt.Sprintf("%q", name))
		}
	}

	temporalNote := ""
	if len(temporal) > 0 {
		temporalNote = fmt.Sprintf(`
TEMPORAL COLUMNS: %s
- Use these for trends over time with visualize "line" and sortBy "label_asc".
`, strings.Join(temporal, ", "))
	}

	return fmt.Sprintf(`QUERYSPEC RULES:

1. "intent": what type of response to generate
   - "text" → a single number (e.g., "how much?", "how many?", "what is the average?")
   - "table" → a list of rows or a grouped summary (e.g., "show all", "list", "by X")
   - "chart" → a plot (e.g., "plot", "chart", "graph", "histogram", "compare visually")

2. "filters": which rows to include
   - Keys are column names: %s
   - Values must match the DATA SUMMARY above
   - AND across columns, OR within a column

3. "aggregation": how to combine rows
   - "sum" → total, "count" → number of rows, "avg" → mean, "median" → median
   - "max" → largest ("highest", "best"), "min" → smallest ("lowest", "worst")
   - "list" → no aggregation, show individual rows

4. "measure": the numeric column to aggregate (from MEASURES above)
   "series": extra numeric columns plotted next to "measure" (charts only)

5. "groupBy": columns to group by
   - [] → no grouping (single result)
   - charts use the first entry as the x axis and the second as the series split
%s
6. "sortBy": "value_desc" (default for rankings), "value_asc", "label_asc", "label_desc"

7. "limit": max results (0 = all)

8. "visualize":
   - intent "chart": "bar", "line", "scatter", "area", "pie", "hist"
   - "scatter" plots one numeric column against another: groupBy [<x measure>], measure <y measure>
   - "hist" needs only "measure"
   - intent "table": "table", intent "text": "text"

IMPORTANT:
- "list" aggregation → always intent "table"
- bar, line, area and pie charts need a groupBy column
- max/min/avg with no groupBy → intent "text"
`, strings.Join(dimNames, ", "), temporalNote)
}

func buildExampleTranslations(sch schema.Config) string {
	measure := sch.GetDefaultMeasure()
	if len(sch.Dimensions) == 0 || measure == "" {
		return ""
	}

	var firstDim, secondDim, temporalDim string
	for _, d := range sch.Dimensions {
		name := columnName(d.Column, d.Key)
		switch {
		case d.IsTemporal && temporalDim == "":
			temporalDim = name
		case firstDim == "":
			firstDim = name
		case secondDim == "":
			secondDim = name
		}
	}
	if firstDim == "" {
		firstDim = columnName(sch.Dimensions[0].Column, sch.Dimensions[0].Key)
	}

	var b strings.Builder
	b.WriteString("EXAMPLE QUERY TRANSLATIONS:\n")
	fmt.Fprintf(&b, "- \"what is the average %s?\" → intent:\"text\", aggregation:\"avg\", measure:%q\n", strings.ToLower(measure), measure)
	fmt.Fprintf(&b, "- \"average %s by %s\" → intent:\"table\", aggregation:\"avg\", measure:%q, groupBy:[%q]\n",
		strings.ToLower(measure), strings.ToLower(firstDim), measure, firstDim)
	fmt.Fprintf(&b, "- \"plot %s per %s\" → intent:\"chart\", visualize:\"bar\", aggregation:\"avg\", measure:%q, groupBy:[%q]\n",
		strings.ToLower(measure), strings.ToLower(firstDim), measure, firstDim)
	fmt.Fprintf(&b, "- \"histogram of %s\" → intent:\"chart\", visualize:\"hist\", measure:%q\n", strings.ToLower(measure), measure)
	if temporalDim != "" {
		fmt.Fprintf(&b, "- \"%s trend over time\" → intent:\"chart\", visualize:\"line\", groupBy:[%q], sortBy:\"label_asc\"\n",
			strings.ToLower(measure), temporalDim)
	}
	fmt.Fprintf(&b, "- \"how many rows?\" → intent:\"text\", aggregation:\"count\", measure:\"\"\n")
	fmt.Fprintf(&b, "- \"show all rows\" → intent:\"table\", aggregation:\"list\"\n")
	fmt.Fprintf(&b, "- \"top 5 %s by %s\" → intent:\"table\", groupBy:[%q], sortBy:\"value_desc\", limit:5\n",
		strings.ToLower(firstDim), strings.ToLower(measure), firstDim)
	if secondDim != "" {
		fmt.Fprintf(&b, "- \"compare %s across %s\" → intent:\"chart\", visualize:\"bar\", groupBy:[%q, %q]\n",
			strings.ToLower(firstDim), strings.ToLower(secondDim), secondDim, firstDim)
	}
	b.WriteString("\n")
	return b.String()
}

// ============================================================================
// HELPERS
// ============================================================================

func columnName(column, key string) string {
	if column != "" {
		return column
	}
	return key
}

func quotedValues(vals []string) []string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return quoted
}

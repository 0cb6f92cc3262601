package engine

import "errors"

// ============================================================================
// ENGINE TYPES — Column Analytics over a Tabular Dataset
// ============================================================================
// A QuerySpec is the only thing the engine executes. It is produced either by
// the translator (JSON from a code model) or by ParseInstruction (the textual
// instruction language), and it never carries executable code.
// ============================================================================

var (
	// ErrMalformedInstruction is returned for instruction text that does not parse.
	ErrMalformedInstruction = errors.New("malformed instruction")
	// ErrUnknownColumn is returned when a spec names a column the view does not have.
	ErrUnknownColumn = errors.New("unknown column")
)

// ============================================================================
// QUERYSPEC — Contract between translator and engine
// ============================================================================

// QuerySpec defines what the engine should compute.
type QuerySpec struct {
	Intent      string   `json:"intent"`           // "text", "table", "chart"
	Filters     Filters  `json:"filters"`          // Which rows to include
	Aggregation string   `json:"aggregation"`      // "sum", "count", "avg", "median", "max", "min", "list", "none"
	Measure     string   `json:"measure"`          // Column to aggregate (empty -> default)
	Series      []string `json:"series,omitempty"` // Extra measure columns plotted next to Measure
	GroupBy     []string `json:"groupBy"`          // Columns to group by (charts use the first as x)
	SortBy      string   `json:"sortBy"`           // "value_desc", "value_asc", "label_asc", "label_desc"
	Limit       int      `json:"limit"`            // 0 = all
	Visualize   string   `json:"visualize"`        // "bar", "line", "scatter", "area", "pie", "hist", "table", "text"
	Title       string   `json:"title"`
	Reply       string   `json:"reply"` // Template: "Average yield is {value}."
	Confidence  float64  `json:"confidence"`
}

// Measures returns Measure followed by Series, skipping blanks.
func (s QuerySpec) Measures() []string {
	out := make([]string, 0, 1+len(s.Series))
	if s.Measure != "" {
		out = append(out, s.Measure)
	}
	for _, m := range s.Series {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Filters define which rows to include.
// Keys are column names. Values are allowed values.
// OR within a column, AND across columns. Empty = all.
type Filters struct {
	Dimensions map[string][]string `json:"dimensions"`
}

// HasFilter returns true if a specific column filter is set.
func (f Filters) HasFilter(dimension string) bool {
	if f.Dimensions == nil {
		return false
	}
	vals, ok := f.Dimensions[dimension]
	return ok && len(vals) > 0
}

// IsEmpty returns true if no filters are set.
func (f Filters) IsEmpty() bool {
	for _, vals := range f.Dimensions {
		if len(vals) > 0 {
			return false
		}
	}
	return true
}

// ============================================================================
// RESULT — Render-ready output
// ============================================================================

// Result is the engine's render-ready output.
type Result struct {
	Success bool   `json:"success"`
	Type    string `json:"type"` // "chart", "table", "text"
	Reply   string `json:"reply"`
	Title   string `json:"title"`

	// Exactly one of these is populated based on Type:
	ChartConfig *ChartConfig `json:"chartConfig,omitempty"`
	TableData   *TableData   `json:"tableData,omitempty"`
	Data        *TextData    `json:"data,omitempty"`

	Errors []string `json:"errors,omitempty"`

	QuerySpec      *QuerySpec      `json:"querySpec,omitempty"`
	Interpretation *Interpretation `json:"interpretation,omitempty"`
}

// ============================================================================
// GROUP — Intermediate computation result
// ============================================================================

// Group represents a grouped/aggregated result.
// Builders convert these into ChartConfig, TableData, or TextData.
type Group struct {
	Key       string     `json:"key"`
	Label     string     `json:"label"`
	Value     float64    `json:"value"`
	Count     int        `json:"count"`
	SubGroups []Group    `json:"subGroups,omitempty"`
	View      RecordView `json:"-"` // Sub-view for rows in this group (zero-copy)
}

// ============================================================================
// CHART TYPES
// ============================================================================

// ChartConfig defines how to render a chart.
// Numeric is set when the x axis is a continuous column (scatter, row index).
type ChartConfig struct {
	ChartType  string        `json:"chartType"`
	Title      string        `json:"title"`
	XAxis      string        `json:"xAxis,omitempty"`
	YAxis      string        `json:"yAxis,omitempty"`
	Numeric    bool          `json:"numeric,omitempty"`
	Series     []ChartSeries `json:"series"`
	Colors     []string      `json:"colors,omitempty"`
	ShowLegend bool          `json:"showLegend"`
	ShowGrid   bool          `json:"showGrid"`
}

// ChartSeries represents a data series in a chart.
type ChartSeries struct {
	Name  string       `json:"name"`
	Data  []ChartPoint `json:"data"`
	Color string       `json:"color,omitempty"`
}

// ChartPoint represents a single data point.
// X is only meaningful on numeric charts.
type ChartPoint struct {
	Label string  `json:"label"`
	X     float64 `json:"x,omitempty"`
	Value float64 `json:"value"`
}

// ============================================================================
// TABLE TYPES
// ============================================================================

// TableData defines how to render a table.
type TableData struct {
	Title   string     `json:"title"`
	Columns []Column   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Summary *Summary   `json:"summary,omitempty"`
}

// Column defines a table column.
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`  // "text", "number"
	Align string `json:"align"` // "left", "center", "right"
}

// Summary provides totals or aggregations for a table.
type Summary struct {
	Label  string            `json:"label"`
	Values map[string]string `json:"values"`
}

// ============================================================================
// TEXT TYPES
// ============================================================================

// TextData is structured data for single-value answers (type="text").
type TextData struct {
	Value    string  `json:"value"`
	RawValue float64 `json:"rawValue"`
	Measure  string  `json:"measure"`
	Count    int     `json:"count"`
}

// ============================================================================
// INTERPRETATION — What the translator understood
// ============================================================================

// Interpretation describes what the AI understood from the query.
type Interpretation struct {
	VisualType  string                `json:"visualType"`
	Summary     string                `json:"summary"`
	Details     []InterpretDetail     `json:"details"`
	Suggestions []InterpretSuggestion `json:"suggestions,omitempty"`
	Confidence  float64               `json:"confidence"`
}

// InterpretDetail is a label-value pair.
type InterpretDetail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// InterpretSuggestion is a refinement option.
type InterpretSuggestion struct {
	Label    string `json:"label"`
	Modifier string `json:"modifier"`
}

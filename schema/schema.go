package schema

import "strings"

// ============================================================================
// SCHEMA — Describes the shape of a dataset for the engine + query translator
// ============================================================================
// Auto-discovered from the loaded table, optionally enriched by a one-time
// model call (Refine). The translator uses schema metadata to build prompts;
// the engine itself only ever sees raw column names.
// ============================================================================

// Config describes the complete shape of a dataset.
type Config struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	RowCount    int    `json:"rowCount"`

	Dimensions []DimensionMeta `json:"dimensions"`
	Measures   []MeasureMeta   `json:"measures"`

	// Auto-discovery metadata
	DiscoveredFrom string `json:"discoveredFrom,omitempty"`
	DiscoveredAt   string `json:"discoveredAt,omitempty"`
	RefinedAt      string `json:"refinedAt,omitempty"`
	RefinedBy      string `json:"refinedBy,omitempty"`

	// Columns skipped during auto-discovery
	SkippedColumns []SkippedColumn `json:"skippedColumns,omitempty"`
}

// DimensionMeta describes a column used for grouping/filtering.
type DimensionMeta struct {
	Key             string   `json:"key"`
	Column          string   `json:"column"` // header as it appears in the table
	DisplayName     string   `json:"displayName"`
	Description     string   `json:"description,omitempty"`
	SampleValues    []string `json:"sampleValues"`
	Groupable       bool     `json:"groupable"`
	Filterable      bool     `json:"filterable"`
	Parent          string   `json:"parent,omitempty"` // Parent dimension key for hierarchies
	IsTemporal      bool     `json:"isTemporal,omitempty"`
	TemporalFormat  string   `json:"temporalFormat,omitempty"`
	TemporalOrder   string   `json:"temporalOrder,omitempty"` // "chronological" or "reverse"
	SortHint        string   `json:"sortHint,omitempty"`
	CardinalityHint string   `json:"cardinalityHint,omitempty"` // "low", "medium", "high"
}

// MeasureMeta describes a numeric column used for aggregation.
type MeasureMeta struct {
	Key                string   `json:"key"`
	Column             string   `json:"column,omitempty"` // empty for synthetic measures
	DisplayName        string   `json:"displayName"`
	Description        string   `json:"description,omitempty"`
	Unit               string   `json:"unit,omitempty"`        // "units", "percent", "ratio", ...
	IsSynthetic        bool     `json:"isSynthetic,omitempty"` // Auto-generated (e.g., record_count)
	Min                float64  `json:"min"`
	Max                float64  `json:"max"`
	Aggregations       []string `json:"aggregations,omitempty"`
	DefaultAggregation string   `json:"defaultAggregation,omitempty"`
}

// SkippedColumn records why a column was excluded during auto-discovery.
type SkippedColumn struct {
	Column      string `json:"column"`
	Reason      string `json:"reason"`
	Recoverable bool   `json:"recoverable"` // Can be restored if consumer overrides
}

// DefaultDimension creates a DimensionMeta with sensible defaults.
func DefaultDimension(column string, samples []string) DimensionMeta {
	return DimensionMeta{
		Key:          toSnakeCase(column),
		Column:       column,
		DisplayName:  toDisplayName(column),
		SampleValues: samples,
		Groupable:    true,
		Filterable:   true,
	}
}

// DefaultMeasure creates a MeasureMeta with sensible defaults.
func DefaultMeasure(column string) MeasureMeta {
	return MeasureMeta{
		Key:                toSnakeCase(column),
		Column:             column,
		DisplayName:        toDisplayName(column),
		Aggregations:       []string{"sum", "avg", "median", "min", "max", "count"},
		DefaultAggregation: "sum",
	}
}

// GetDefaultMeasure returns the column of the first real measure, or "".
func (c Config) GetDefaultMeasure() string {
	for _, m := range c.Measures {
		if !m.IsSynthetic {
			return m.Column
		}
	}
	return ""
}

// DimensionKeys returns all dimension keys.
func (c Config) DimensionKeys() []string {
	keys := make([]string, len(c.Dimensions))
	for i, d := range c.Dimensions {
		keys[i] = d.Key
	}
	return keys
}

// MeasureKeys returns all measure keys.
func (c Config) MeasureKeys() []string {
	keys := make([]string, len(c.Measures))
	for i, m := range c.Measures {
		keys[i] = m.Key
	}
	return keys
}

// ResolveColumn maps a key, display name or header (any case) to the table
// header. Models often answer with the snake_case key.
func (c Config) ResolveColumn(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, pass := range []func(string) string{
		func(s string) string { return s },
		strings.ToLower,
		toSnakeCase,
	} {
		want := pass(name)
		for _, d := range c.Dimensions {
			if pass(d.Column) == want || pass(d.Key) == want || pass(d.DisplayName) == want {
				return d.Column, true
			}
		}
		for _, m := range c.Measures {
			if m.IsSynthetic {
				continue
			}
			if pass(m.Column) == want || pass(m.Key) == want || pass(m.DisplayName) == want {
				return m.Column, true
			}
		}
	}
	return "", false
}

// nullTokens are cell values that count as missing.
var nullTokens = map[string]bool{
	"": true, "NaN": true, "nan": true, "NULL": true, "null": true, "N/A": true, "n/a": true,
}

// IsNull reports whether a cell holds no value.
func IsNull(cell string) bool {
	return nullTokens[strings.TrimSpace(cell)]
}

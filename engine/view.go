package engine

import (
	"strconv"
	"strings"
)

// ============================================================================
// RECORD VIEW — Zero-Copy Data Access Interface
// ============================================================================
// The engine never owns the dataset. It reads through this interface.
//
// Implementations:
//   ColumnView: header + string rows (the loaded workbook table)
//   SubView:    filtered subset (indices into parent, zero-copy)
// ============================================================================

// RecordView provides indexed access to a dataset.
// The engine calls Dimension/Measure in tight loops; keep implementations fast.
type RecordView interface {
	Len() int
	Dimension(index int, key string) string
	Measure(index int, key string) float64
	DimensionKeys() []string // available dimension keys
	MeasureKeys() []string   // available measure keys
}

// HasColumn reports whether key is a dimension or measure of view.
func HasColumn(view RecordView, key string) bool {
	return hasKey(view.DimensionKeys(), key) || hasKey(view.MeasureKeys(), key)
}

// IsMeasure reports whether key is a numeric column of view.
func IsMeasure(view RecordView, key string) bool {
	return hasKey(view.MeasureKeys(), key)
}

func hasKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// ============================================================================
// COLUMN VIEW — header + string rows
// ============================================================================

// ColumnView reads a rectangular table of strings.
// Every column is a dimension; a column whose non-empty cells all parse as
// numbers is also a measure. Numbers are parsed once at construction.
type ColumnView struct {
	headers []string
	index   map[string]int
	rows    [][]string
	numeric map[string][]float64
	mesKeys []string
}

// NewColumnView builds a view over rows. The rows are not copied.
func NewColumnView(headers []string, rows [][]string) *ColumnView {
	v := &ColumnView{
		headers: headers,
		index:   make(map[string]int, len(headers)),
		rows:    rows,
		numeric: make(map[string][]float64),
	}
	for i, h := range headers {
		v.index[h] = i
	}
	for i, h := range headers {
		if vals, ok := parseColumn(rows, i); ok {
			v.numeric[h] = vals
			v.mesKeys = append(v.mesKeys, h)
		}
	}
	return v
}

func parseColumn(rows [][]string, col int) ([]float64, bool) {
	if len(rows) == 0 {
		return nil, false
	}
	vals := make([]float64, len(rows))
	seen := 0
	for r, row := range rows {
		if col >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		f, err := ParseNumber(cell)
		if err != nil {
			return nil, false
		}
		vals[r] = f
		seen++
	}
	return vals, seen > 0
}

// ParseNumber parses a cell as a float, tolerating thousands separators.
func ParseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.ParseFloat(s, 64)
}

func (v *ColumnView) Len() int { return len(v.rows) }

func (v *ColumnView) Dimension(i int, key string) string {
	col, ok := v.index[key]
	if !ok || i < 0 || i >= len(v.rows) || col >= len(v.rows[i]) {
		return ""
	}
	return v.rows[i][col]
}

func (v *ColumnView) Measure(i int, key string) float64 {
	vals, ok := v.numeric[key]
	if !ok || i < 0 || i >= len(vals) {
		return 0
	}
	return vals[i]
}

func (v *ColumnView) DimensionKeys() []string { return v.headers }
func (v *ColumnView) MeasureKeys() []string   { return v.mesKeys }

// ============================================================================
// SUB VIEW — filtered subset (zero-copy)
// ============================================================================

// SubView is a filtered subset of a parent RecordView.
// Holds indices into the parent, no data copy.
type SubView struct {
	parent  RecordView
	indices []int
}

func newSubView(parent RecordView, indices []int) RecordView {
	return &SubView{parent: parent, indices: indices}
}

func (v *SubView) Len() int { return len(v.indices) }

func (v *SubView) Dimension(i int, key string) string {
	if i < 0 || i >= len(v.indices) {
		return ""
	}
	return v.parent.Dimension(v.indices[i], key)
}

func (v *SubView) Measure(i int, key string) float64 {
	if i < 0 || i >= len(v.indices) {
		return 0
	}
	return v.parent.Measure(v.indices[i], key)
}

func (v *SubView) DimensionKeys() []string { return v.parent.DimensionKeys() }
func (v *SubView) MeasureKeys() []string   { return v.parent.MeasureKeys() }

package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/spektr-org/insight/engine"
	"github.com/spektr-org/insight/schema"
)

// ============================================================================
// TABLE — The loaded, cleaned dataset
// ============================================================================
// Immutable after construction. Accessors return copies; View() exposes the
// rows to the engine without copying.
// ============================================================================

// Table is a named rectangular table of string cells with unique headers.
type Table struct {
	name    string
	headers []string
	rows    [][]string
	view    *engine.ColumnView

	schemaOnce sync.Once
	schema     *schema.Config
	schemaErr  error
}

// NewTable copies headers and rows. Duplicate or blank headers are renamed
// ("Yield", "Yield.1", "Unnamed: 3") and short rows are padded with "".
func NewTable(name string, headers []string, rows [][]string) *Table {
	hs := uniqueHeaders(headers)
	rs := make([][]string, len(rows))
	for i, row := range rows {
		r := make([]string, len(hs))
		copy(r, row)
		rs[i] = r
	}
	return &Table{
		name:    name,
		headers: hs,
		rows:    rs,
		view:    engine.NewColumnView(hs, rs),
	}
}

// Name returns the dataset kind the table was loaded for.
func (t *Table) Name() string { return t.name }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Headers returns a copy of the column names in order.
func (t *Table) Headers() []string {
	out := make([]string, len(t.headers))
	copy(out, t.headers)
	return out
}

// Rows returns a deep copy of the rows.
func (t *Table) Rows() [][]string {
	return copyRows(t.rows, nil)
}

// Column returns a copy of one column.
func (t *Table) Column(name string) ([]string, bool) {
	idx := t.columnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[idx]
	}
	return out, true
}

// View exposes the table to the engine.
func (t *Table) View() engine.RecordView { return t.view }

// Filter returns copies of the rows whose column contains substr,
// ignoring case. An empty substr returns every row.
func (t *Table) Filter(column, substr string) ([][]string, error) {
	if t.columnIndex(column) < 0 {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownColumn, column)
	}
	return copyRows(t.rows, engine.FilterContains(t.view, column, substr)), nil
}

// Schema classifies the columns. Discovery runs once per table.
func (t *Table) Schema() (*schema.Config, error) {
	t.schemaOnce.Do(func() {
		if t.schema != nil {
			return
		}
		t.schema, t.schemaErr = schema.Discover(t.headers, t.rows, schema.DiscoverOptions{
			Name:       t.name,
			Source:     t.name,
			SampleSize: 1000,
		})
	})
	return t.schema, t.schemaErr
}

// WithSchema returns a table sharing the same rows with cfg as its schema.
func (t *Table) WithSchema(cfg *schema.Config) *Table {
	return &Table{
		name:    t.name,
		headers: t.headers,
		rows:    t.rows,
		view:    t.view,
		schema:  cfg,
	}
}

func (t *Table) columnIndex(name string) int {
	for i, h := range t.headers {
		if h == name {
			return i
		}
	}
	return -1
}

func copyRows(rows [][]string, indices []int) [][]string {
	if indices == nil {
		indices = make([]int, len(rows))
		for i := range rows {
			indices[i] = i
		}
	}
	out := make([][]string, len(indices))
	for j, i := range indices {
		r := make([]string, len(rows[i]))
		copy(r, rows[i])
		out[j] = r
	}
	return out
}

// uniqueHeaders trims headers, names blank ones after their position and
// suffixes repeats with ".N".
func uniqueHeaders(headers []string) []string {
	out := make([]string, len(headers))
	used := make(map[string]bool, len(headers))
	repeats := make(map[string]int)
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		name := h
		for used[name] {
			repeats[h]++
			name = h + "." + strconv.Itoa(repeats[h])
		}
		used[name] = true
		out[i] = name
	}
	return out
}

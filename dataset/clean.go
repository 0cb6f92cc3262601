package dataset

import (
	"log/slog"
	"strings"

	"github.com/spektr-org/insight/schema"
)

// ============================================================================
// CLEANING — header promotion, column exclusion, null rows
// ============================================================================
// Applied in this order to the raw sheet:
//   1. Header promotion: if the marker column is not in the header row, the
//      first data row becomes the header row.
//   2. Exclusion: named columns are dropped; unknown names are logged and
//      skipped, the rest are still dropped.
//   3. Null elimination: any row with a null cell is dropped.
// Rows are re-sliced densely, so row positions are renumbered from 0.
// ============================================================================

// CleanOptions controls Clean.
type CleanOptions struct {
	HeaderMarker string
	Exclude      []string
	DropNulls    bool
}

// Clean returns new header and row slices. The inputs are not modified.
func Clean(headers []string, rows [][]string, opts CleanOptions, logger *slog.Logger) ([]string, [][]string) {
	if logger == nil {
		logger = slog.Default()
	}

	headers, rows = promoteHeader(headers, rows, opts.HeaderMarker)
	headers, rows = excludeColumns(headers, rows, opts.Exclude, logger)
	if opts.DropNulls {
		before := len(rows)
		rows = dropNullRows(rows, len(headers))
		if dropped := before - len(rows); dropped > 0 {
			logger.Debug("dropped rows with null cells", "dropped", dropped, "kept", len(rows))
		}
	}
	return headers, rows
}

func promoteHeader(headers []string, rows [][]string, marker string) ([]string, [][]string) {
	if marker == "" || len(rows) == 0 {
		return headers, rows
	}
	for _, h := range headers {
		if strings.TrimSpace(h) == marker {
			return headers, rows
		}
	}
	return rows[0], rows[1:]
}

func excludeColumns(headers []string, rows [][]string, exclude []string, logger *slog.Logger) ([]string, [][]string) {
	if len(exclude) == 0 {
		return headers, rows
	}

	drop := make(map[int]bool, len(exclude))
	var missing []string
	for _, name := range exclude {
		found := false
		for i, h := range headers {
			if strings.TrimSpace(h) == name {
				drop[i] = true
				found = true
			}
		}
		if !found {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		logger.Warn("excluded columns not in dataframe", "missing", missing, "columns", headers)
	}
	if len(drop) == 0 {
		return headers, rows
	}

	keep := make([]int, 0, len(headers)-len(drop))
	for i := range headers {
		if !drop[i] {
			keep = append(keep, i)
		}
	}

	outHeaders := make([]string, len(keep))
	for j, i := range keep {
		outHeaders[j] = headers[i]
	}
	outRows := make([][]string, len(rows))
	for r, row := range rows {
		out := make([]string, len(keep))
		for j, i := range keep {
			if i < len(row) {
				out[j] = row[i]
			}
		}
		outRows[r] = out
	}
	return outHeaders, outRows
}

// dropNullRows keeps rows whose first width cells are all non-null.
// Cells missing from a short row count as null.
func dropNullRows(rows [][]string, width int) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if len(row) < width {
			continue
		}
		ok := true
		for _, cell := range row[:width] {
			if schema.IsNull(cell) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out
}

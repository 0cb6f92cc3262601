package engine

import (
	"strings"
)

// ============================================================================
// FILTERS — Column-Value Filtering via RecordView
// ============================================================================
// Single-pass filter: checks ALL column constraints per row in one loop.
// Returns a SubView (index list into parent), zero data copy.
// Values compare case-insensitively after trimming, and numerically when both
// sides parse as numbers ("5" matches "5.0").
// ============================================================================

// ApplyFilters returns a view of rows matching all column filters.
// Columns are AND-combined; values within a column are OR-combined.
// Empty filter = no restriction (returns original view).
func ApplyFilters(view RecordView, filters Filters) RecordView {
	if filters.IsEmpty() {
		return view
	}

	sets := make(map[string]map[string]bool)
	for dim, allowed := range filters.Dimensions {
		if len(allowed) > 0 {
			sets[dim] = toMatchSet(allowed)
		}
	}

	n := view.Len()
	indices := make([]int, 0, n)
	for i := 0; i < n; i++ {
		pass := true
		for dim, set := range sets {
			if !set[matchKey(view.Dimension(i, dim))] {
				pass = false
				break
			}
		}
		if pass {
			indices = append(indices, i)
		}
	}

	return newSubView(view, indices)
}

// FilterContains returns the indices of rows whose column value contains
// substr, ignoring case. An empty substr matches every row.
func FilterContains(view RecordView, column, substr string) []int {
	needle := strings.ToLower(strings.TrimSpace(substr))
	indices := make([]int, 0, view.Len())
	for i := 0; i < view.Len(); i++ {
		if needle == "" || strings.Contains(strings.ToLower(view.Dimension(i, column)), needle) {
			indices = append(indices, i)
		}
	}
	return indices
}

// toMatchSet converts allowed values to a normalized lookup set.
func toMatchSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[matchKey(item)] = true
	}
	return set
}

func matchKey(s string) string {
	s = strings.TrimSpace(s)
	if f, err := ParseNumber(s); err == nil {
		return FormatNumber(f, 6)
	}
	return strings.ToLower(s)
}

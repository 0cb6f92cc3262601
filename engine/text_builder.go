package engine

// ============================================================================
// TEXT BUILDER — Produces TextData for single-value queries
// ============================================================================

// BuildText reduces the filtered view to one value.
func BuildText(spec QuerySpec, view RecordView, measure string, places int32) *TextData {
	if view.Len() == 0 {
		return &TextData{Value: "0", Measure: measure}
	}

	value := Aggregate(view, measure, spec.Aggregation)

	var formatted string
	if spec.Aggregation == "count" {
		formatted = FormatInt(int(value))
	} else {
		formatted = FormatNumber(value, places)
	}

	return &TextData{
		Value:    formatted,
		RawValue: value,
		Measure:  measure,
		Count:    view.Len(),
	}
}

package translator

import (
	"github.com/spektr-org/insight/engine"
	"github.com/spektr-org/insight/schema"
)

// ============================================================================
// DATA SUMMARY BUILDER
// ============================================================================

// maxSummaryValues caps the values listed per column.
const maxSummaryValues = 25

// DataSummary provides lightweight metadata about available data.
// This is what the model sees, never raw rows.
type DataSummary struct {
	RecordCount int                 `json:"recordCount"`
	Dimensions  map[string][]string `json:"dimensions"` // column → unique values found
}

// BuildDataSummary lists the distinct values of every low or medium
// cardinality dimension in view.
func BuildDataSummary(view engine.RecordView, sch schema.Config) *DataSummary {
	summary := &DataSummary{
		RecordCount: view.Len(),
		Dimensions:  make(map[string][]string),
	}
	for _, d := range sch.Dimensions {
		if d.CardinalityHint == "high" || !engine.HasColumn(view, d.Column) {
			continue
		}
		vals := engine.UniqueValues(view, d.Column)
		if len(vals) > maxSummaryValues {
			vals = vals[:maxSummaryValues]
		}
		summary.Dimensions[d.Column] = vals
	}
	return summary
}

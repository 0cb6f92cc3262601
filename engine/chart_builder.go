package engine

import (
	"fmt"
	"math"
	"strconv"
)

// ============================================================================
// CHART BUILDER — Produces ChartConfig from QuerySpec + RecordView
// ============================================================================
// Three shapes:
//   categorical: x is a grouping column, one series per measure (or per
//                sub-group when there is a second groupBy column)
//   numeric:     scatter (x column vs y) or no x at all (row number)
//   histogram:   value buckets of each measure
// ============================================================================

// Chart kinds the engine can describe.
var chartKinds = map[string]bool{
	"bar": true, "line": true, "scatter": true, "area": true, "pie": true, "hist": true,
}

// Default color palette for chart series.
var defaultColors = []string{
	"#4F46E5", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#EC4899", "#84CC16", "#F97316", "#6366F1",
}

// BuildChart produces a ChartConfig for spec over an already filtered view.
// Returns nil when there is nothing to draw.
func BuildChart(spec QuerySpec, view RecordView, bins int) *ChartConfig {
	measures := spec.Measures()
	if view.Len() == 0 || len(measures) == 0 {
		return nil
	}

	chartType := spec.Visualize
	if !chartKinds[chartType] {
		chartType = "bar"
	}

	config := &ChartConfig{
		ChartType:  chartType,
		Title:      spec.Title,
		ShowLegend: len(measures) > 1 || len(spec.GroupBy) > 1,
		ShowGrid:   chartType != "pie",
	}
	if config.Title == "" {
		config.Title = DefaultTitle(spec)
	}

	switch {
	case chartType == "hist":
		config.XAxis = measures[0]
		config.YAxis = "Count"
		config.Series = buildHistogramSeries(view, measures, bins)

	case chartType == "scatter" && len(spec.GroupBy) > 0:
		config.Numeric = true
		config.XAxis = spec.GroupBy[0]
		config.YAxis = measures[0]
		config.Series = buildScatterSeries(view, spec.GroupBy[0], measures)

	case len(spec.GroupBy) == 0:
		config.Numeric = chartType != "bar" && chartType != "pie"
		config.XAxis = "Row"
		config.YAxis = measures[0]
		config.Series = buildRowSeries(view, measures)

	default:
		config.XAxis = spec.GroupBy[0]
		config.YAxis = LabelForAggregation(spec.Aggregation)
		if len(spec.GroupBy) >= 2 {
			groups := GroupAndAggregate(view, spec.GroupBy[:2], measures[0], spec.Aggregation, spec.SortBy, spec.Limit)
			config.Series = buildMultiSeries(groups)
		} else {
			config.Series = buildMeasureSeries(view, spec, measures)
		}
	}

	if len(config.Series) == 0 {
		return nil
	}
	config.Colors = assignColors(len(config.Series))
	for i := range config.Series {
		if config.Series[i].Color == "" {
			config.Series[i].Color = config.Colors[i]
		}
	}
	return config
}

// DefaultTitle describes a spec in a few words: "Average Yield by Variety".
func DefaultTitle(spec QuerySpec) string {
	measures := spec.Measures()
	if len(measures) == 0 {
		return "Results"
	}
	what := measures[0]
	if len(measures) > 1 {
		what = fmt.Sprintf("%s and %d more", measures[0], len(measures)-1)
	}
	if spec.Visualize == "hist" {
		return "Distribution of " + what
	}
	if len(spec.GroupBy) == 0 {
		return what
	}
	return fmt.Sprintf("%s %s by %s", LabelForAggregation(spec.Aggregation), what, spec.GroupBy[0])
}

// ============================================================================
// SERIES BUILDERS
// ============================================================================

// buildMeasureSeries groups once per measure; every series shares the label
// order of the first measure's groups.
func buildMeasureSeries(view RecordView, spec QuerySpec, measures []string) []ChartSeries {
	lead := GroupAndAggregate(view, spec.GroupBy[:1], measures[0], spec.Aggregation, spec.SortBy, spec.Limit)
	series := make([]ChartSeries, 0, len(measures))
	for _, m := range measures {
		values := make(map[string]float64)
		for _, g := range GroupAndAggregate(view, spec.GroupBy[:1], m, spec.Aggregation, "", 0) {
			values[g.Key] = g.Value
		}
		points := make([]ChartPoint, 0, len(lead))
		for _, g := range lead {
			points = append(points, ChartPoint{Label: g.Label, Value: RoundTo2(values[g.Key])})
		}
		series = append(series, ChartSeries{Name: m, Data: points})
	}
	return series
}

func buildMultiSeries(groups []Group) []ChartSeries {
	var subKeys []string
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, sg := range g.SubGroups {
			if !seen[sg.Key] {
				seen[sg.Key] = true
				subKeys = append(subKeys, sg.Key)
			}
		}
	}

	series := make([]ChartSeries, 0, len(subKeys))
	for _, key := range subKeys {
		points := make([]ChartPoint, 0, len(groups))
		for _, g := range groups {
			var v float64
			for _, sg := range g.SubGroups {
				if sg.Key == key {
					v = sg.Value
					break
				}
			}
			points = append(points, ChartPoint{Label: g.Label, Value: RoundTo2(v)})
		}
		series = append(series, ChartSeries{Name: key, Data: points})
	}
	return series
}

func buildScatterSeries(view RecordView, x string, measures []string) []ChartSeries {
	series := make([]ChartSeries, 0, len(measures))
	for _, m := range measures {
		points := make([]ChartPoint, 0, view.Len())
		for i := 0; i < view.Len(); i++ {
			xv := view.Measure(i, x)
			points = append(points, ChartPoint{
				Label: view.Dimension(i, x),
				X:     xv,
				Value: view.Measure(i, m),
			})
		}
		series = append(series, ChartSeries{Name: m, Data: points})
	}
	return series
}

func buildRowSeries(view RecordView, measures []string) []ChartSeries {
	series := make([]ChartSeries, 0, len(measures))
	for _, m := range measures {
		points := make([]ChartPoint, 0, view.Len())
		for i := 0; i < view.Len(); i++ {
			points = append(points, ChartPoint{
				Label: strconv.Itoa(i),
				X:     float64(i),
				Value: view.Measure(i, m),
			})
		}
		series = append(series, ChartSeries{Name: m, Data: points})
	}
	return series
}

// buildHistogramSeries buckets every measure over their shared range so the
// series line up bucket by bucket.
func buildHistogramSeries(view RecordView, measures []string, bins int) []ChartSeries {
	if bins <= 0 {
		bins = 10
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, m := range measures {
		lo = math.Min(lo, MinMeasure(view, m))
		hi = math.Max(hi, MaxMeasure(view, m))
	}
	width := (hi - lo) / float64(bins)
	if width == 0 {
		bins, width = 1, 1
	}

	labels := make([]string, bins)
	for b := 0; b < bins; b++ {
		from := lo + float64(b)*width
		labels[b] = fmt.Sprintf("%s-%s", FormatNumber(from, 2), FormatNumber(from+width, 2))
	}

	series := make([]ChartSeries, 0, len(measures))
	for _, m := range measures {
		counts := make([]int, bins)
		for i := 0; i < view.Len(); i++ {
			b := int((view.Measure(i, m) - lo) / width)
			if b >= bins {
				b = bins - 1
			}
			if b < 0 {
				b = 0
			}
			counts[b]++
		}
		points := make([]ChartPoint, bins)
		for b := range counts {
			points[b] = ChartPoint{Label: labels[b], Value: float64(counts[b])}
		}
		series = append(series, ChartSeries{Name: m, Data: points})
	}
	return series
}

func assignColors(count int) []string {
	colors := make([]string, count)
	for i := 0; i < count; i++ {
		colors[i] = defaultColors[i%len(defaultColors)]
	}
	return colors
}

package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/spektr-org/insight/engine"
)

// ============================================================================
// CHARTS — plot instruction → engine.ChartConfig → PNG → data URI
// ============================================================================
// bar, hist      → chart.BarChart (one series) or categorical lines (several)
// line, area     → chart.Chart of continuous series over category ticks
// scatter        → chart.Chart of dot-only series
// pie            → chart.PieChart of the first series
// ============================================================================

// ErrNoChart is returned when an instruction does not produce a chart.
var ErrNoChart = errors.New("instruction produced no chart")

const (
	defaultWidth  = 800
	defaultHeight = 480
)

// Plotter rasterizes plot instructions against a fixed view.
type Plotter struct {
	View    engine.RecordView
	Options []engine.Option
	Width   int
	Height  int
}

// Plot parses and executes instruction, then returns the chart as a
// "data:image/png;base64," URI.
func (p *Plotter) Plot(ctx context.Context, instruction string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.View == nil {
		return "", errors.New("plotter has no data view")
	}
	spec, err := engine.ParseInstruction(instruction)
	if err != nil {
		return "", err
	}
	res, err := engine.Execute(spec, p.View, p.Options...)
	if err != nil {
		return "", err
	}
	if res.ChartConfig == nil {
		return "", fmt.Errorf("%w: %s", ErrNoChart, res.Reply)
	}
	png, err := RenderPNG(res.ChartConfig, p.Width, p.Height)
	if err != nil {
		return "", err
	}
	return DataURI(png), nil
}

// DataURI encodes PNG bytes as an inline image URI.
func DataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// RenderPNG draws cfg. Zero sizes fall back to 800x480.
func RenderPNG(cfg *engine.ChartConfig, width, height int) ([]byte, error) {
	if cfg == nil || len(cfg.Series) == 0 || len(cfg.Series[0].Data) == 0 {
		return nil, ErrNoChart
	}
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}

	var buf bytes.Buffer
	var err error
	switch {
	case cfg.ChartType == "pie":
		err = pieChart(cfg, width, height).Render(chart.PNG, &buf)
	case (cfg.ChartType == "bar" || cfg.ChartType == "hist") && len(cfg.Series) == 1 && !cfg.Numeric:
		err = barChart(cfg, width, height).Render(chart.PNG, &buf)
	default:
		ch := lineChart(cfg, width, height)
		if cfg.ShowLegend || len(cfg.Series) > 1 {
			ch.Elements = []chart.Renderable{chart.Legend(&ch)}
		}
		err = ch.Render(chart.PNG, &buf)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s chart: %w", cfg.ChartType, err)
	}
	return buf.Bytes(), nil
}

// ============================================================================
// CHART BUILDERS
// ============================================================================

func barChart(cfg *engine.ChartConfig, width, height int) chart.BarChart {
	s := cfg.Series[0]
	col := seriesColor(s, 0)
	bars := make([]chart.Value, len(s.Data))
	values := make([]float64, len(s.Data))
	for i, pt := range s.Data {
		bars[i] = chart.Value{
			Label: pt.Label,
			Value: pt.Value,
			Style: chart.Style{FillColor: col, StrokeColor: col},
		}
		values[i] = pt.Value
	}
	lo, hi := valueRange(values, true)
	return chart.BarChart{
		Title:        cfg.Title,
		Width:        width,
		Height:       height,
		Background:   chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		BarWidth:     barWidth(width, len(bars)),
		UseBaseValue: true,
		BaseValue:    0,
		YAxis:        chart.YAxis{Name: cfg.YAxis, Range: &chart.ContinuousRange{Min: lo, Max: hi}},
		Bars:         bars,
	}
}

func pieChart(cfg *engine.ChartConfig, width, height int) chart.PieChart {
	s := cfg.Series[0]
	values := make([]chart.Value, 0, len(s.Data))
	for _, pt := range s.Data {
		// slices need a positive share
		if pt.Value > 0 {
			values = append(values, chart.Value{Label: pt.Label, Value: pt.Value})
		}
	}
	if len(values) == 0 {
		values = append(values, chart.Value{Label: "no data", Value: 1})
	}
	return chart.PieChart{
		Title:  cfg.Title,
		Width:  width,
		Height: height,
		Values: values,
	}
}

// lineChart draws every series as a continuous series. Categorical charts
// use the point index as x and label the ticks.
func lineChart(cfg *engine.ChartConfig, width, height int) chart.Chart {
	var ticks []chart.Tick
	if !cfg.Numeric {
		for i, pt := range cfg.Series[0].Data {
			ticks = append(ticks, chart.Tick{Value: float64(i), Label: pt.Label})
		}
	}

	var all []float64
	series := make([]chart.Series, 0, len(cfg.Series))
	for i, s := range cfg.Series {
		xs := make([]float64, len(s.Data))
		ys := make([]float64, len(s.Data))
		for j, pt := range s.Data {
			xs[j] = float64(j)
			if cfg.Numeric {
				xs[j] = pt.X
			}
			ys[j] = pt.Value
		}
		// go-chart needs at least two x values
		if len(xs) == 1 {
			xs = append(xs, xs[0]+1)
			ys = append(ys, ys[0])
		}
		all = append(all, ys...)
		series = append(series, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: xs,
			YValues: ys,
			Style:   seriesStyle(cfg.ChartType, seriesColor(s, i)),
		})
	}

	lo, hi := valueRange(all, cfg.ChartType == "area")
	return chart.Chart{
		Title:      cfg.Title,
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		XAxis:      chart.XAxis{Name: cfg.XAxis, Ticks: ticks},
		YAxis:      chart.YAxis{Name: cfg.YAxis, Range: &chart.ContinuousRange{Min: lo, Max: hi}},
		Series:     series,
	}
}

// ============================================================================
// STYLE HELPERS
// ============================================================================

func seriesStyle(kind string, col drawing.Color) chart.Style {
	switch kind {
	case "scatter":
		return chart.Style{StrokeWidth: 0, DotWidth: 4, DotColor: col}
	case "area":
		return chart.Style{StrokeColor: col, StrokeWidth: 2, FillColor: col.WithAlpha(64)}
	}
	return chart.Style{StrokeColor: col, StrokeWidth: 2}
}

var palette = []drawing.Color{
	chart.ColorBlue, chart.ColorGreen, chart.ColorOrange, chart.ColorRed, chart.ColorCyan,
}

func seriesColor(s engine.ChartSeries, i int) drawing.Color {
	if hex := strings.TrimPrefix(s.Color, "#"); len(hex) == 6 {
		return drawing.ColorFromHex(hex)
	}
	return palette[i%len(palette)]
}

// valueRange pads the y range so flat data still has a span. withZero keeps
// zero on the axis for bars and areas.
func valueRange(values []float64, withZero bool) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 0) {
		return 0, 1
	}
	if withZero {
		lo = math.Min(lo, 0)
		hi = math.Max(hi, 0)
	}
	if hi == lo {
		return lo - 1, hi + 1
	}
	pad := (hi - lo) * 0.05
	if withZero && lo == 0 {
		return 0, hi + pad
	}
	return lo - pad, hi + pad
}

func barWidth(width, bars int) int {
	if bars == 0 {
		return 40
	}
	w := (width - 80) / (bars * 2)
	switch {
	case w < 8:
		return 8
	case w > 60:
		return 60
	}
	return w
}

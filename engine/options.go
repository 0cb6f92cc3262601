package engine

import "log/slog"

// ============================================================================
// ENGINE OPTIONS — Functional options for Execute()
// ============================================================================

// Option configures engine behavior via functional options pattern.
type Option func(*config)

type config struct {
	DefaultMeasure string // measure to aggregate if QuerySpec.Measure is empty
	Places         int32  // decimal places in formatted values
	HistBins       int    // bucket count for "hist" charts
	Logger         *slog.Logger
}

// WithDefaultMeasure sets the measure to aggregate when QuerySpec.Measure is empty.
func WithDefaultMeasure(measure string) Option {
	return func(c *config) {
		c.DefaultMeasure = measure
	}
}

// WithPrecision sets how many decimal places formatted values keep.
func WithPrecision(places int32) Option {
	return func(c *config) {
		if places >= 0 {
			c.Places = places
		}
	}
}

// WithHistogramBins sets the bucket count for histogram charts.
func WithHistogramBins(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.HistBins = n
		}
	}
}

// WithLogger routes the engine's debug logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// applyOptions creates a config from functional options.
func applyOptions(opts []Option) *config {
	cfg := &config{
		Places:   2,
		HistBins: 10,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the dashboard's Prometheus collectors.
type Metrics struct {
	Queries        *prometheus.CounterVec
	QueryDuration  prometheus.Histogram
	RefineAttempts prometheus.Histogram
	TabSwitches    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_queries_total",
				Help: "Submitted questions by outcome",
			},
			[]string{"outcome"},
		),
		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insight_query_duration_seconds",
				Help:    "Time to answer a submitted question",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		RefineAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insight_refine_attempts",
				Help:    "Refinement model completions per refined answer",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		TabSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_tab_switches_total",
				Help: "Tab changes by target tab",
			},
			[]string{"tab"},
		),
	}
	reg.MustRegister(m.Queries, m.QueryDuration, m.RefineAttempts, m.TabSwitches)
	return m
}

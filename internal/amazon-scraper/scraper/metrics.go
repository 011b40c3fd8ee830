package scraper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_fetch_attempts_total",
			Help: "Total number of HTTP attempts against product page variants",
		},
		[]string{"outcome"},
	)

	pipelineResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_fetch_results_total",
			Help: "Total number of pipeline runs by result",
		},
		[]string{"result"},
	)

	fieldExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_field_extractions_total",
			Help: "Total number of field extractions by field and outcome",
		},
		[]string{"field", "outcome"},
	)

	pipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "product_fetch_duration_seconds",
			Help:    "Duration of a full product fetch pipeline run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)
)

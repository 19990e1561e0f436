package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_pipeline_attempts_total",
		Help: "Pipeline attempts by pipeline and terminal status",
	}, []string{"pipeline", "status"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_pipeline_duration_seconds",
		Help:    "Wall time of a single pipeline attempt",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"pipeline"})

	pipelineRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_rows_total",
		Help: "Rows processed by pipeline and kind (read, transformed, loaded, rejected)",
	}, []string{"pipeline", "kind"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_runs_total",
		Help: "Orchestration runs by final status",
	}, []string{"status"})
)

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "churn_pipeline_runs_total",
		Help: "Upload pipeline runs by final state.",
	}, []string{"state"})
	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "churn_pipeline_failures_total",
		Help: "Failed upload pipeline runs by error kind.",
	}, []string{"kind"})
	rowsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "churn_pipeline_rows_scored_total",
		Help: "Total number of customer rows scored and stored.",
	})
	postCommitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "churn_pipeline_post_commit_failures_total",
		Help: "Archive and publish failures after an upload was committed.",
	}, []string{"step"})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "churn_pipeline_run_duration_seconds",
		Help:    "Duration of a full upload pipeline run.",
		Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
)

// Package metrics exports pipeline counters and stage timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newswatch"

var (
	// StageDuration measures each pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage", "status"},
	)

	// ArticlesTotal counts articles by the stage outcome that touched them.
	ArticlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_total",
			Help:      "Articles processed by outcome",
		},
		[]string{"outcome"},
	)

	// RunsTotal counts finished pipeline runs.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status",
		},
		[]string{"status"},
	)

	// RemainingUnanalyzed is the backlog left by the latest run.
	RemainingUnanalyzed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remaining_unanalyzed",
			Help:      "Articles left unanalyzed after the latest run",
		},
	)

	// LastRunTimestamp is the unix time of the latest finished run.
	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the latest pipeline run finished",
		},
	)
)

// ObserveStage records how long a stage took and whether it failed.
func ObserveStage(stage string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// AddArticles increments the outcome counter by n when n is positive.
func AddArticles(outcome string, n int) {
	if n > 0 {
		ArticlesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordRun records a finished run.
func RecordRun(status string, remaining int, finished time.Time) {
	RunsTotal.WithLabelValues(status).Inc()
	RemainingUnanalyzed.Set(float64(remaining))
	LastRunTimestamp.Set(float64(finished.Unix()))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

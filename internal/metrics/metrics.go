package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "dedup",
		Name:      "runs_total",
		Help:      "Pipeline runs by final status",
	}, []string{"status"})

	recordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "dedup",
		Name:      "records_processed_total",
		Help:      "Records that went through a completed run",
	})

	groupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "dedup",
		Name:      "groups_total",
		Help:      "Groups surviving a completed run, by match type",
	}, []string{"match_type"})

	adjudicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "dedup",
		Name:      "adjudications_total",
		Help:      "Per-group adjudication outcomes: confirmed, dissolved or failed",
	}, []string{"stage", "outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catalog",
		Subsystem: "dedup",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of each pipeline stage",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"stage"})
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

func RecordRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

func RecordProcessed(n int) {
	recordsProcessed.Add(float64(n))
}

func RecordGroup(matchType string) {
	groupsTotal.WithLabelValues(matchType).Inc()
}

func RecordAdjudications(stage, outcome string, n int) {
	if n <= 0 {
		return
	}
	adjudicationsTotal.WithLabelValues(stage, outcome).Add(float64(n))
}

func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

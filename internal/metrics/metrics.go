// Package metrics provides Prometheus metrics for newsroom.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thinkscotty/newsroom/internal/models"
)

var (
	// RunsTotal counts ingestion runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newsroom",
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// FeedFetchTotal counts per-feed collection results.
	FeedFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "feed_fetch_total",
			Help:      "Total number of feed collections",
		},
		[]string{"feed", "status"},
	)

	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "summary_chunks_total",
			Help:      "Total number of summarization chunks by outcome",
		},
		[]string{"outcome"},
	)

	ItemsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "items_published_total",
			Help:      "Total number of news items published",
		},
	)

	// StoreConflicts counts version conflicts hit by read-modify-write cycles.
	StoreConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "store_conflicts_total",
			Help:      "Total number of document version conflicts",
		},
		[]string{"document"},
	)

	VisitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "visits_total",
			Help:      "Total number of recorded visits",
		},
		[]string{"counted"},
	)
)

// RecordRun records a finished ingestion run.
func RecordRun(r *models.RunReport) {
	RunsTotal.WithLabelValues(string(r.Status)).Inc()
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		RunDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	}
	for name, f := range r.Feeds {
		status := "ok"
		if f.Error != "" {
			status = "error"
		}
		FeedFetchTotal.WithLabelValues(name, status).Inc()
	}
	for _, c := range r.Chunks {
		ChunksTotal.WithLabelValues(string(c.Outcome)).Inc()
	}
	if r.Status != models.RunFailed {
		ItemsPublished.Add(float64(r.ItemsPublished))
	}
}

// RecordConflicts records version conflicts on a document.
func RecordConflicts(document string, n int) {
	if n > 0 {
		StoreConflicts.WithLabelValues(document).Add(float64(n))
	}
}

// RecordVisit records a visit and whether it was counted.
func RecordVisit(counted bool) {
	VisitsTotal.WithLabelValues(strconv.FormatBool(counted)).Inc()
}

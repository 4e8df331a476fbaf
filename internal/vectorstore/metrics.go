package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksTotal tracks committed chunks per repository.
	// Labels: repo
	ChunksTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "codeqa",
			Subsystem: "vectorstore",
			Name:      "chunks_total",
			Help:      "Number of committed chunks per repository",
		},
		[]string{"repo"},
	)

	// SearchDuration tracks per-repository search latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "codeqa",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of repository searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// AddsTotal counts Store.Add calls.
	// Labels: result (success, error)
	AddsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codeqa",
			Subsystem: "vectorstore",
			Name:      "adds_total",
			Help:      "Total number of add transactions",
		},
		[]string{"result"},
	)

	// OrphansTruncated counts index rows removed during reload reconciliation.
	OrphansTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "codeqa",
			Subsystem: "vectorstore",
			Name:      "orphan_rows_truncated_total",
			Help:      "Index rows without a committed catalog entry removed on open",
		},
	)
)

// RecordAddResult records the outcome of an add transaction.
func RecordAddResult(success bool) {
	if success {
		AddsTotal.WithLabelValues("success").Inc()
	} else {
		AddsTotal.WithLabelValues("error").Inc()
	}
}

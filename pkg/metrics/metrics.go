// Package metrics provides Prometheus metrics for the saletracker service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestRunsTotal tracks ingest runs by source and terminal status
	IngestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "saletracker",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of ingest runs by source and status",
		},
		[]string{"source", "status"},
	)

	// IngestRunDuration tracks ingest run duration in seconds
	IngestRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "saletracker",
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of ingest runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	// IngestItemsTotal tracks per-item filter outcomes during runs
	IngestItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "saletracker",
			Subsystem: "ingest",
			Name:      "items_total",
			Help:      "Total number of ingested items by outcome",
		},
		[]string{"source", "outcome"},
	)

	// DuplicateChecksTotal tracks duplicate check requests
	DuplicateChecksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "saletracker",
			Subsystem: "duplicates",
			Name:      "checks_total",
			Help:      "Total number of duplicate check requests",
		},
	)

	// DuplicateCandidatesReturned tracks candidates returned per check
	DuplicateCandidatesReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "saletracker",
			Subsystem: "duplicates",
			Name:      "candidates_returned",
			Help:      "Number of candidates returned per duplicate check",
			Buckets:   []float64{0, 1, 2, 3},
		},
	)

	// RateLimitHits tracks requests rejected by the rate limiter
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "saletracker",
			Subsystem: "guards",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	// IdempotencyReplays tracks requests short-circuited by the idempotency guard
	IdempotencyReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "saletracker",
			Subsystem: "guards",
			Name:      "idempotency_replays_total",
			Help:      "Total number of requests replayed from the idempotency store",
		},
	)
)

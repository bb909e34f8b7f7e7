// Package metrics declares the Prometheus collectors exported by retrievald.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts sessions accepted by the engine, by strategy.
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_sessions_created_total",
			Help: "Retrieval sessions created",
		},
		[]string{"strategy"},
	)

	// SessionsFinished counts sessions reaching a terminal status.
	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_sessions_finished_total",
			Help: "Retrieval sessions that reached a terminal status",
		},
		[]string{"strategy", "status"},
	)

	// RoundsOpened counts rounds offered to users.
	RoundsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_rounds_opened_total",
			Help: "Rounds offered to users",
		},
		[]string{"strategy"},
	)

	// SubmissionsRejected counts answers rejected at the boundary, by error class.
	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_submissions_rejected_total",
			Help: "Answer submissions rejected without changing session state",
		},
		[]string{"reason"},
	)

	// SelectionDuration measures strategy selection time.
	SelectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_selection_duration_seconds",
			Help:    "Time spent selecting the options of one round",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"strategy"},
	)

	// MatrixLoads counts distance matrix parses by result (ok, corrupt, missing, error).
	MatrixLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_matrix_loads_total",
			Help: "Distance matrix artifact parses",
		},
		[]string{"result"},
	)

	// MatrixCacheHits counts loads served from the in-memory cache.
	MatrixCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retrieval_matrix_cache_hits_total",
			Help: "Distance matrix loads served from cache",
		},
	)

	// MatricesCached tracks how many matrices are resident.
	MatricesCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retrieval_matrices_cached",
			Help: "Distance matrices currently cached",
		},
	)
)

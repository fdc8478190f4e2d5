package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts finished sessions by terminal status.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ideationd",
			Subsystem: "pipeline",
			Name:      "sessions_total",
			Help:      "Total number of finished evaluation sessions by terminal status",
		},
		[]string{"status"},
	)

	// StageFailuresTotal counts stage failures by stage name.
	StageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ideationd",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Total number of failed stages",
		},
		[]string{"stage"},
	)

	// EvaluationDuration tracks end-to-end session duration.
	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ideationd",
			Subsystem: "pipeline",
			Name:      "evaluation_duration_seconds",
			Help:      "End-to-end evaluation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// EliminationsTotal counts sessions eliminated at the problem gate.
	EliminationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ideationd",
			Subsystem: "pipeline",
			Name:      "eliminations_total",
			Help:      "Total number of sessions eliminated before solution validation",
		},
	)
)

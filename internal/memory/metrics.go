package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal counts write operations. Labels: result (success, error).
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ideationd",
			Subsystem: "memory",
			Name:      "writes_total",
			Help:      "Total number of context store write operations",
		},
		[]string{"result"},
	)

	// WriteRetriesTotal counts write attempts beyond the first.
	WriteRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ideationd",
			Subsystem: "memory",
			Name:      "write_retries_total",
			Help:      "Total number of retried context store writes",
		},
	)

	// WaitDuration tracks how long visibility waits take.
	WaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ideationd",
			Subsystem: "memory",
			Name:      "wait_duration_seconds",
			Help:      "Duration of visibility waits in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// WaitTimeoutsTotal counts visibility waits that timed out.
	WaitTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ideationd",
			Subsystem: "memory",
			Name:      "wait_timeouts_total",
			Help:      "Total number of visibility waits that exceeded their deadline",
		},
	)
)

package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Namespace: "dirsync",
			Name:      "events_processed_total",
			Help:      "Outbox events handled per kind and outcome (done, skipped, retry, parked).",
		},
		[]string{"kind", "outcome"},
	)

	eventDuration = promauto.NewHistogramVec( //nolint:gochecknoglobals
		prometheus.HistogramOpts{
			Namespace: "dirsync",
			Name:      "event_duration_seconds",
			Help:      "Time spent dispatching an outbox event.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts events applied to the replica, labeled by table.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_events_processed_total",
		Help: "Events applied to the replica store",
	}, []string{"table"})

	// EventsSkipped counts duplicate deliveries short-circuited by the
	// idempotency check, labeled by which tier caught them.
	EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_events_skipped_total",
		Help: "Duplicate events suppressed by the idempotency check",
	}, []string{"tier"})

	// DlqEnqueued counts events captured into the DLQ.
	DlqEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_dlq_enqueued_total",
		Help: "Events written to the dead letter queue",
	}, []string{"table"})

	// DlqRetries counts scheduler replays by outcome (success/failure).
	DlqRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_dlq_retries_total",
		Help: "DLQ replay attempts by outcome",
	}, []string{"outcome"})

	// AlertsDispatched counts alerts fanned out, labeled by severity.
	AlertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_alerts_dispatched_total",
		Help: "Alerts dispatched to notification channels",
	}, []string{"severity"})

	// ProcessingDuration observes end-to-end apply latency per event.
	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_event_processing_duration_seconds",
		Help:    "Time taken to process one CDC event",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)

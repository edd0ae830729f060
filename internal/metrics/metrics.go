// Package metrics exports the engine's own Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesRecorded counts samples appended to the window aggregator.
	SamplesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_samples_recorded_total",
			Help: "Total request samples recorded into sliding windows",
		},
	)

	// AlarmsFired counts alarms produced per evaluation pass.
	AlarmsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocity_alarms_fired_total",
			Help: "Total alarms produced by the evaluator",
		},
		[]string{"kind", "severity"},
	)

	// IncidentsUpserted counts successful incident insert/update operations.
	IncidentsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_incidents_upserted_total",
			Help: "Total incident rows created or refreshed from alarms",
		},
	)

	// IncidentQueueDrops counts alarms dropped because the work queue was full.
	IncidentQueueDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_incident_queue_drops_total",
			Help: "Total alarms dropped by the bounded incident queue",
		},
	)

	// IncidentWriteErrors counts failed incident store operations.
	IncidentWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_incident_write_errors_total",
			Help: "Total incident store failures (logged and skipped)",
		},
	)

	// Escalations counts committed escalation level bumps.
	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_escalations_total",
			Help: "Total committed escalation level bumps",
		},
	)

	// EscalationDryRuns counts level bumps that were gated through in dry-run mode.
	EscalationDryRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_escalation_dry_runs_total",
			Help: "Total escalations evaluated but not persisted (dry-run)",
		},
	)

	// EscalationCollisions counts duplicate event-hash no-ops.
	EscalationCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_escalation_collisions_total",
			Help: "Total idempotency collisions on escalation events",
		},
	)

	// DispatchSuppressed counts alarms dropped by the dedup window.
	DispatchSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_dispatch_suppressed_total",
			Help: "Total outbound alarms suppressed by the dedup window",
		},
	)

	// WebhookFailures counts failed outbound webhook deliveries.
	WebhookFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_webhook_failures_total",
			Help: "Total webhook deliveries that failed (best-effort, not retried)",
		},
	)

	// TickDuration observes escalation scheduler tick latency.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velocity_escalation_tick_duration_seconds",
			Help:    "Escalation scheduler tick duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// EvalPassDuration observes evaluation pass latency.
	EvalPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velocity_eval_pass_duration_seconds",
			Help:    "Evaluation pass duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1},
		},
	)
)

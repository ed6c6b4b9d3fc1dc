package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExecutionsTotal tracks migration execution attempts by outcome.
var ExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_executions_total",
		Help: "Total migration execution attempts",
	},
	[]string{"strategy", "status"},
)

// ExecutionDuration tracks end-to-end migration execution time.
var ExecutionDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "migrate_orchestrator_execution_duration_seconds",
		Help:    "End-to-end migration execution time",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	},
	[]string{"strategy"},
)

// RollbacksTotal tracks rollback attempts by outcome.
var RollbacksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_rollbacks_total",
		Help: "Total rollback attempts",
	},
	[]string{"strategy", "status"},
)

// BatchesCopiedTotal tracks batches copied during shadow-table and
// environment synchronization.
var BatchesCopiedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_batches_copied_total",
		Help: "Total data batches copied",
	},
	[]string{"strategy"},
)

// RecordsProcessedTotal tracks records processed by backfill tasks.
var RecordsProcessedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_records_processed_total",
		Help: "Total records processed by backfill tasks",
	},
	[]string{"task"},
)

// RecordsFailedTotal tracks records that failed transformation.
var RecordsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_records_failed_total",
		Help: "Total records that failed backfill transformation",
	},
	[]string{"task"},
)

// ThresholdBreachesTotal tracks monitor threshold breaches.
var ThresholdBreachesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_threshold_breaches_total",
		Help: "Total monitored threshold breaches",
	},
	[]string{"strategy", "metric"},
)

// HealthCheckFailuresTotal tracks post-migration health check failures.
var HealthCheckFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_health_check_failures_total",
		Help: "Total post-migration health check failures",
	},
	[]string{"check"},
)

// DowntimeSeconds tracks observed write-unavailability windows.
var DowntimeSeconds = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "migrate_orchestrator_downtime_seconds",
		Help:    "Observed write-unavailability during table swaps",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	},
	[]string{"strategy"},
)

// BackfillCompletion tracks backfill progress per task as a percentage.
var BackfillCompletion = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "migrate_orchestrator_backfill_completion_percent",
		Help: "Backfill completion percentage per task",
	},
	[]string{"task"},
)

// CleanupsScheduledTotal tracks deferred resource cleanups registered by
// strategies.
var CleanupsScheduledTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_cleanups_scheduled_total",
		Help: "Total deferred resource cleanups scheduled",
	},
	[]string{"strategy"},
)

// DestructiveChangesTotal counts destructive changes flagged during
// validation.
var DestructiveChangesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_destructive_changes_total",
		Help: "Total destructive changes flagged during validation",
	},
	[]string{"kind"},
)

// TrafficShiftPercent tracks the current traffic share of the new code
// path during gradual rollout.
var TrafficShiftPercent = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "migrate_orchestrator_traffic_shift_percent",
		Help: "Current traffic percentage on the new code path",
	},
	[]string{"version"},
)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewCollector_CreatesCollectorWithStrategy(t *testing.T) {
	collector := NewCollector("test-strategy")

	assert.NotNil(t, collector)
	assert.Equal(t, "test-strategy", collector.strategy)
}

func TestCollector_IncExecution(t *testing.T) {
	collector := NewCollector("test-strat-coll-1")

	before := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("test-strat-coll-1", "completed"))
	collector.IncExecution("completed")
	after := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("test-strat-coll-1", "completed"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncRollback(t *testing.T) {
	collector := NewCollector("test-strat-coll-2")

	before := testutil.ToFloat64(RollbacksTotal.WithLabelValues("test-strat-coll-2", "started"))
	collector.IncRollback("started")
	after := testutil.ToFloat64(RollbacksTotal.WithLabelValues("test-strat-coll-2", "started"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncBatchCopied(t *testing.T) {
	collector := NewCollector("test-strat-coll-3")

	before := testutil.ToFloat64(BatchesCopiedTotal.WithLabelValues("test-strat-coll-3"))
	collector.IncBatchCopied()
	after := testutil.ToFloat64(BatchesCopiedTotal.WithLabelValues("test-strat-coll-3"))

	assert.Equal(t, before+1, after)
}

func TestCollector_AddRecordsProcessed(t *testing.T) {
	collector := NewCollector("test-strat-coll-4")

	before := testutil.ToFloat64(RecordsProcessedTotal.WithLabelValues("test-task-coll-4"))
	collector.AddRecordsProcessed("test-task-coll-4", 250)
	after := testutil.ToFloat64(RecordsProcessedTotal.WithLabelValues("test-task-coll-4"))

	assert.Equal(t, before+250, after)
}

func TestCollector_AddRecordsFailed(t *testing.T) {
	collector := NewCollector("test-strat-coll-5")

	before := testutil.ToFloat64(RecordsFailedTotal.WithLabelValues("test-task-coll-5"))
	collector.AddRecordsFailed("test-task-coll-5", 3)
	after := testutil.ToFloat64(RecordsFailedTotal.WithLabelValues("test-task-coll-5"))

	assert.Equal(t, before+3, after)
}

func TestCollector_IncThresholdBreach(t *testing.T) {
	collector := NewCollector("test-strat-coll-6")

	before := testutil.ToFloat64(ThresholdBreachesTotal.WithLabelValues("test-strat-coll-6", "error_rate"))
	collector.IncThresholdBreach("error_rate")
	after := testutil.ToFloat64(ThresholdBreachesTotal.WithLabelValues("test-strat-coll-6", "error_rate"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncHealthCheckFailure(t *testing.T) {
	collector := NewCollector("test-strat-coll-7")

	before := testutil.ToFloat64(HealthCheckFailuresTotal.WithLabelValues("test-check-coll-7"))
	collector.IncHealthCheckFailure("test-check-coll-7")
	after := testutil.ToFloat64(HealthCheckFailuresTotal.WithLabelValues("test-check-coll-7"))

	assert.Equal(t, before+1, after)
}

func TestCollector_SetBackfillCompletion(t *testing.T) {
	collector := NewCollector("test-strat-coll-8")

	collector.SetBackfillCompletion("test-task-coll-8", 42.5)
	value := testutil.ToFloat64(BackfillCompletion.WithLabelValues("test-task-coll-8"))

	assert.Equal(t, 42.5, value)
}

func TestCollector_IncCleanupScheduled(t *testing.T) {
	collector := NewCollector("test-strat-coll-9")

	before := testutil.ToFloat64(CleanupsScheduledTotal.WithLabelValues("test-strat-coll-9"))
	collector.IncCleanupScheduled()
	after := testutil.ToFloat64(CleanupsScheduledTotal.WithLabelValues("test-strat-coll-9"))

	assert.Equal(t, before+1, after)
}

func TestCollector_SetTrafficShift(t *testing.T) {
	collector := NewCollector("test-strat-coll-10")

	collector.SetTrafficShift("test-version-coll-10", 25)
	value := testutil.ToFloat64(TrafficShiftPercent.WithLabelValues("test-version-coll-10"))

	assert.Equal(t, float64(25), value)
}

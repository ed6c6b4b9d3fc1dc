package metrics

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	strategy string
}

// NewCollector creates a new Collector for the given strategy name.
func NewCollector(strategy string) *Collector {
	return &Collector{strategy: strategy}
}

// IncExecution increments the executions counter for an outcome.
func (c *Collector) IncExecution(status string) {
	ExecutionsTotal.WithLabelValues(c.strategy, status).Inc()
}

// ObserveExecutionDuration records an execution duration observation.
func (c *Collector) ObserveExecutionDuration(seconds float64) {
	ExecutionDuration.WithLabelValues(c.strategy).Observe(seconds)
}

// IncRollback increments the rollbacks counter for an outcome.
func (c *Collector) IncRollback(status string) {
	RollbacksTotal.WithLabelValues(c.strategy, status).Inc()
}

// IncBatchCopied increments the batches copied counter.
func (c *Collector) IncBatchCopied() {
	BatchesCopiedTotal.WithLabelValues(c.strategy).Inc()
}

// AddRecordsProcessed adds to the records processed counter for a task.
func (c *Collector) AddRecordsProcessed(task string, n int) {
	RecordsProcessedTotal.WithLabelValues(task).Add(float64(n))
}

// AddRecordsFailed adds to the records failed counter for a task.
func (c *Collector) AddRecordsFailed(task string, n int) {
	RecordsFailedTotal.WithLabelValues(task).Add(float64(n))
}

// IncThresholdBreach increments the threshold breaches counter for a metric.
func (c *Collector) IncThresholdBreach(metric string) {
	ThresholdBreachesTotal.WithLabelValues(c.strategy, metric).Inc()
}

// IncHealthCheckFailure increments the health check failures counter.
func (c *Collector) IncHealthCheckFailure(check string) {
	HealthCheckFailuresTotal.WithLabelValues(check).Inc()
}

// ObserveDowntime records an observed write-unavailability window.
func (c *Collector) ObserveDowntime(seconds float64) {
	DowntimeSeconds.WithLabelValues(c.strategy).Observe(seconds)
}

// SetBackfillCompletion sets the backfill completion gauge for a task.
func (c *Collector) SetBackfillCompletion(task string, percent float64) {
	BackfillCompletion.WithLabelValues(task).Set(percent)
}

// IncCleanupScheduled increments the scheduled cleanups counter.
func (c *Collector) IncCleanupScheduled() {
	CleanupsScheduledTotal.WithLabelValues(c.strategy).Inc()
}

// SetTrafficShift sets the traffic shift gauge for a version.
func (c *Collector) SetTrafficShift(version string, percent float64) {
	TrafficShiftPercent.WithLabelValues(version).Set(percent)
}

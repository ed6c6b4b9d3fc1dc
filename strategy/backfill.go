package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/driver"
)

// BackfillProgress is a point-in-time view of one task's progress.
type BackfillProgress struct {
	TaskID               string
	Name                 string
	Total                int64
	Processed            int64
	Failed               int64
	CompletionPercentage float64
	ProcessingRate       float64
	EstimatedCompletion  time.Time
}

// taskState tracks live counters for one running task.
type taskState struct {
	task      migrate.BackfillTask
	total     atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	startedAt time.Time
}

func (ts *taskState) progress() BackfillProgress {
	processed := ts.processed.Load()
	total := ts.total.Load()
	p := BackfillProgress{
		TaskID:    ts.task.ID,
		Name:      ts.task.Name,
		Total:     total,
		Processed: processed,
		Failed:    ts.failed.Load(),
	}
	if total > 0 {
		p.CompletionPercentage = 100 * float64(processed) / float64(total)
	}
	elapsed := time.Since(ts.startedAt).Seconds()
	if elapsed > 0 && processed > 0 {
		p.ProcessingRate = float64(processed) / elapsed
		remaining := total - processed
		if remaining > 0 {
			p.EstimatedCompletion = time.Now().Add(
				time.Duration(float64(remaining)/p.ProcessingRate) * time.Second)
		}
	}
	return p
}

// Backfill runs the declarative backfill tasks of a definition: large data
// rewrites performed in batches, ordered by priority, with bounded
// parallelism and per-task retry budgets.
type Backfill struct{}

func (s *Backfill) Name() string { return "backfill" }

func (s *Backfill) Execute(ctx context.Context, ec *ExecContext) error {
	decl, ok := ec.Definition.(migrate.BackfillDeclarer)
	if !ok {
		return &migrate.ExecutionError{
			Version: ec.Version.Version,
			Stage:   "preflight",
			Err:     fmt.Errorf("definition declares no backfill tasks"),
		}
	}

	cfg := ec.Config.Backfill
	tasks := decl.BackfillTasks()
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = uuid.New().String()
		}
		if tasks[i].BatchSize <= 0 {
			tasks[i].BatchSize = cfg.BatchSize
		}
		if tasks[i].Strategy == "" {
			tasks[i].Strategy = migrate.BackfillBatchSequential
		}
		if tasks[i].MaxParallelism <= 0 {
			tasks[i].MaxParallelism = 1
		}
	}

	// Higher priority first; declaration order breaks ties.
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority > tasks[j].Priority
	})

	states := make([]*taskState, len(tasks))
	for i, task := range tasks {
		states[i] = &taskState{task: task, startedAt: time.Now()}
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitorDone := make(chan struct{})
	go s.monitorProgress(monitorCtx, ec, states, monitorDone)
	defer func() {
		stopMonitor()
		<-monitorDone
	}()

	var runErr error
	if cfg.Parallel {
		runErr = s.runGrouped(ctx, ec, states)
	} else {
		for _, state := range states {
			if err := s.runTask(ctx, ec, state); err != nil {
				runErr = err
				break
			}
		}
	}
	if runErr != nil {
		return runErr
	}

	var processed, failed int64
	for _, state := range states {
		processed += state.processed.Load()
		failed += state.failed.Load()
	}
	ec.Result.SetMetric("records_processed", float64(processed))
	ec.Result.SetMetric("records_failed", float64(failed))

	if processed+failed > 0 && cfg.ErrorRateCeiling > 0 {
		errorRate := float64(failed) / float64(processed+failed)
		if errorRate > cfg.ErrorRateCeiling {
			ec.Collector.IncThresholdBreach("backfill_error_rate")
			return &migrate.ThresholdBreachError{
				Metric:    "backfill_error_rate",
				Value:     errorRate,
				Threshold: cfg.ErrorRateCeiling,
			}
		}
	}

	return nil
}

// runGrouped runs tasks of equal priority concurrently, groups in priority
// order, bounded by the configured task concurrency.
func (s *Backfill) runGrouped(ctx context.Context, ec *ExecContext, states []*taskState) error {
	for start := 0; start < len(states); {
		end := start + 1
		for end < len(states) && states[end].task.Priority == states[start].task.Priority {
			end++
		}

		group, groupCtx := errgroup.WithContext(ctx)
		if limit := ec.Config.Backfill.MaxConcurrentTasks; limit > 0 {
			group.SetLimit(limit)
		}
		for _, state := range states[start:end] {
			state := state
			group.Go(func() error {
				return s.runTask(groupCtx, ec, state)
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}

		start = end
	}
	return nil
}

// runTask processes one task to completion. Non-critical task failures are
// logged and skipped; failures at or above the critical priority abort the
// whole backfill.
func (s *Backfill) runTask(ctx context.Context, ec *ExecContext, state *taskState) error {
	task := state.task
	state.startedAt = time.Now()

	taskCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	total, err := ec.Driver.CountRecords(taskCtx, task.Source)
	if err == nil {
		state.total.Store(total)
		err = s.processTask(taskCtx, ec, state)
	}

	if err != nil {
		// A timed-out time_based task stopped on purpose; the remainder is
		// picked up by the next run.
		if task.Strategy == migrate.BackfillTimeBased && taskCtx.Err() != nil && ctx.Err() == nil {
			ec.Result.AddMetric("tasks_time_bounded", 1)
			ec.Logger.Info("time-based task window closed",
				"task", task.Name,
				"processed", state.processed.Load())
			return nil
		}
		if task.Priority >= ec.Config.Backfill.CriticalPriority {
			return &migrate.ExecutionError{
				Version: ec.Version.Version,
				Stage:   "backfill:" + task.Name,
				Err:     err,
			}
		}
		ec.Result.AddMetric("tasks_skipped", 1)
		ec.Logger.Error("non-critical backfill task skipped",
			"task", task.Name,
			"priority", task.Priority,
			"error", err)
		return nil
	}

	ec.Result.AppendAffectedResource(task.Source)
	ec.Collector.SetBackfillCompletion(task.Name, 100)
	ec.Logger.Info("backfill task complete",
		"task", task.Name,
		"processed", state.processed.Load(),
		"failed", state.failed.Load())
	return nil
}

func (s *Backfill) processTask(ctx context.Context, ec *ExecContext, state *taskState) error {
	task := state.task

	if task.Strategy == migrate.BackfillBatchParallel {
		return s.processParallel(ctx, ec, state)
	}

	batchSize := task.BatchSize
	if task.Strategy == migrate.BackfillStreaming {
		batchSize = 1
	}

	for offset := 0; ; offset += batchSize {
		records, err := ec.Driver.FetchBatch(ctx, task.Source, offset, batchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		if err := s.processBatch(ctx, ec, state, records); err != nil {
			return err
		}
		if len(records) < batchSize {
			return nil
		}
	}
}

// processParallel fans batches out to task.MaxParallelism workers.
func (s *Backfill) processParallel(ctx context.Context, ec *ExecContext, state *taskState) error {
	task := state.task
	total := state.total.Load()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(task.MaxParallelism)

	for offset := 0; int64(offset) < total; offset += task.BatchSize {
		offset := offset
		group.Go(func() error {
			records, err := ec.Driver.FetchBatch(groupCtx, task.Source, offset, task.BatchSize)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return nil
			}
			return s.processBatch(groupCtx, ec, state, records)
		})
	}

	return group.Wait()
}

// processBatch transforms and writes one batch. Each record transform and
// the batch write retry within the task's retry budget; a record that
// exhausts its retries counts as failed and aborts the task when the task
// is critical.
func (s *Backfill) processBatch(ctx context.Context, ec *ExecContext, state *taskState, records []driver.Record) error {
	task := state.task

	if task.Strategy == migrate.BackfillPriorityBased {
		sort.SliceStable(records, func(i, j int) bool {
			return numericField(records[i], "priority") > numericField(records[j], "priority")
		})
	}

	transformed := make([]driver.Record, 0, len(records))
	for _, record := range records {
		out, err := task.Transform(record)
		for attempt := 0; err != nil && attempt < task.RetryBudget; attempt++ {
			out, err = task.Transform(record)
		}
		if err != nil {
			state.failed.Add(1)
			ec.Collector.AddRecordsFailed(task.Name, 1)
			if task.Priority >= ec.Config.Backfill.CriticalPriority {
				return fmt.Errorf("record transform exhausted %d retries: %w", task.RetryBudget, err)
			}
			ec.Logger.Warn("record transform failed",
				"task", task.Name,
				"retries", task.RetryBudget,
				"error", err)
			continue
		}
		transformed = append(transformed, out)
	}

	if len(transformed) > 0 {
		var writeErr error
		for attempt := 0; attempt <= task.RetryBudget; attempt++ {
			if writeErr = ec.Driver.UpdateBatch(ctx, task.Source, transformed); writeErr == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ec.Logger.Warn("batch write failed, retrying",
				"task", task.Name,
				"attempt", attempt+1,
				"error", writeErr)
		}
		if writeErr != nil {
			return fmt.Errorf("batch write exhausted %d retries: %w", task.RetryBudget, writeErr)
		}
	}

	state.processed.Add(int64(len(transformed)))
	ec.Collector.AddRecordsProcessed(task.Name, len(transformed))

	return nil
}

// aggregateProgress sums progress across every task: overall completion as
// a percentage of all known records, throughput as records per second.
func aggregateProgress(states []*taskState) (percent, perSecond float64) {
	var total, processed int64
	for _, state := range states {
		p := state.progress()
		total += p.Total
		processed += p.Processed
		perSecond += p.ProcessingRate
	}
	if total > 0 {
		percent = 100 * float64(processed) / float64(total)
	}
	return percent, perSecond
}

// monitorProgress periodically publishes per-task and aggregate progress
// until cancelled.
func (s *Backfill) monitorProgress(ctx context.Context, ec *ExecContext, states []*taskState, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(ec.Config.Backfill.MonitorInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, state := range states {
				p := state.progress()
				if p.Processed == 0 {
					continue
				}
				ec.Collector.SetBackfillCompletion(p.Name, p.CompletionPercentage)
				ec.Result.SetMetric("backfill."+p.Name+".percent", p.CompletionPercentage)
				ec.Result.SetMetric("backfill."+p.Name+".rate", p.ProcessingRate)
				ec.Logger.Info("backfill progress",
					"task", p.Name,
					"percent", fmt.Sprintf("%.1f", p.CompletionPercentage),
					"rate", fmt.Sprintf("%.0f/s", p.ProcessingRate))
			}

			percent, rate := aggregateProgress(states)
			ec.Collector.SetBackfillCompletion("overall", percent)
			ec.Result.SetMetric("backfill_completion_percent", percent)
			ec.Result.SetMetric("backfill_throughput_per_second", rate)
		}
	}
}

func numericField(record driver.Record, field string) float64 {
	switch v := record[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

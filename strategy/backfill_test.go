package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/driver"
)

type backfillDefinition struct {
	plainDefinition
	tasks []migrate.BackfillTask
}

func (d *backfillDefinition) BackfillTasks() []migrate.BackfillTask { return d.tasks }

func seedNames(mem *driver.Memory, table string, n int) {
	records := make([]driver.Record, n)
	for i := range records {
		records[i] = driver.Record{"id": fmt.Sprintf("%d", i+1), "name": fmt.Sprintf("user%d", i+1)}
	}
	mem.Seed(table, records)
}

func upperName(record driver.Record) (driver.Record, error) {
	record["name"] = strings.ToUpper(record["name"].(string))
	return record, nil
}

func TestBackfill_RequiresDeclaredTasks(t *testing.T) {
	ec := newExecCtx(&plainDefinition{}, driver.NewMemory())

	err := (&Backfill{}).Execute(context.Background(), ec)

	var execErr *migrate.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "preflight", execErr.Stage)
	assert.ErrorContains(t, err, "declares no backfill tasks")
}

func TestBackfill_SequentialTask(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "accounts", 25)

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "uppercase_names", Source: "accounts", Transform: upperName, BatchSize: 10},
	}}
	ec := newExecCtx(def, mem)

	err := (&Backfill{}).Execute(context.Background(), ec)
	require.NoError(t, err)

	for _, record := range mem.Table("accounts") {
		assert.Equal(t, strings.ToUpper(record["name"].(string)), record["name"])
	}

	snap := ec.Result.Snapshot()
	assert.Equal(t, 25.0, snap.Metrics["records_processed"])
	assert.Equal(t, 0.0, snap.Metrics["records_failed"])
	assert.Equal(t, []string{"accounts"}, snap.AffectedResources)
}

func TestBackfill_TasksRunByPriority(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "low", 1)
	seedNames(mem, "high", 1)

	var mu sync.Mutex
	var order []string
	track := func(table string) migrate.TransformFunc {
		return func(record driver.Record) (driver.Record, error) {
			mu.Lock()
			order = append(order, table)
			mu.Unlock()
			return record, nil
		}
	}

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "low", Source: "low", Transform: track("low"), Priority: 2},
		{Name: "high", Source: "high", Transform: track("high"), Priority: 7},
	}}
	ec := newExecCtx(def, mem)

	err := (&Backfill{}).Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestBackfill_CriticalTaskFailureAborts(t *testing.T) {
	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "rebuild_ledger", Source: "missing", Transform: upperName, Priority: 9},
	}}
	ec := newExecCtx(def, driver.NewMemory())

	err := (&Backfill{}).Execute(context.Background(), ec)

	var execErr *migrate.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "backfill:rebuild_ledger", execErr.Stage)
}

func TestBackfill_NonCriticalTaskFailureSkipped(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "accounts", 3)

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "optional", Source: "missing", Transform: upperName, Priority: 2},
		{Name: "uppercase_names", Source: "accounts", Transform: upperName, Priority: 5},
	}}
	ec := newExecCtx(def, mem)

	err := (&Backfill{}).Execute(context.Background(), ec)
	require.NoError(t, err)

	snap := ec.Result.Snapshot()
	assert.Equal(t, 1.0, snap.Metrics["tasks_skipped"])
	assert.Equal(t, 3.0, snap.Metrics["records_processed"])
	assert.Equal(t, []string{"accounts"}, snap.AffectedResources)
}

func TestBackfill_WriteRetryBudgetExhausted(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "accounts", 3)

	mock := driver.NewMock(mem)
	mock.UpdateBatchFunc = func(ctx context.Context, table string, records []driver.Record) error {
		return errors.New("write conflict")
	}

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "uppercase_names", Source: "accounts", Transform: upperName, Priority: 9, RetryBudget: 2},
	}}
	ec := newExecCtx(def, mock)

	err := (&Backfill{}).Execute(context.Background(), ec)
	assert.ErrorContains(t, err, "batch write exhausted 2 retries")
	assert.Len(t, mock.UpdateBatchCalls, 3)
}

func TestBackfill_TransformRetryBudgetExhaustedOnCriticalTask(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "ledger", 3)

	var attempts atomic.Int32
	broken := func(record driver.Record) (driver.Record, error) {
		attempts.Add(1)
		return nil, errors.New("unparseable")
	}

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "rebuild_ledger", Source: "ledger", Transform: broken, Priority: 9, RetryBudget: 2},
	}}
	ec := newExecCtx(def, mem)

	err := (&Backfill{}).Execute(context.Background(), ec)

	var execErr *migrate.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "backfill:rebuild_ledger", execErr.Stage)
	assert.ErrorContains(t, err, "record transform exhausted 2 retries")
	assert.Equal(t, int32(3), attempts.Load(), "one attempt plus the retry budget")
}

func TestBackfill_TransformRetrySucceeds(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "accounts", 5)

	// Fails once, ever, then behaves.
	var tripped atomic.Bool
	flaky := func(record driver.Record) (driver.Record, error) {
		if tripped.CompareAndSwap(false, true) {
			return nil, errors.New("transient")
		}
		return upperName(record)
	}

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "uppercase_names", Source: "accounts", Transform: flaky, RetryBudget: 1},
	}}
	ec := newExecCtx(def, mem)

	err := (&Backfill{}).Execute(context.Background(), ec)
	require.NoError(t, err)

	snap := ec.Result.Snapshot()
	assert.Equal(t, 5.0, snap.Metrics["records_processed"])
	assert.Equal(t, 0.0, snap.Metrics["records_failed"])
}

func TestBackfill_ErrorRateCeiling(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "accounts", 20)

	flaky := func(record driver.Record) (driver.Record, error) {
		if strings.HasSuffix(record["name"].(string), "0") {
			return nil, errors.New("unparseable")
		}
		return record, nil
	}

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "flaky", Source: "accounts", Transform: flaky},
	}}
	ec := newExecCtx(def, mem)

	err := (&Backfill{}).Execute(context.Background(), ec)

	var breachErr *migrate.ThresholdBreachError
	require.ErrorAs(t, err, &breachErr)
	assert.Equal(t, "backfill_error_rate", breachErr.Metric)
	assert.Equal(t, 0.05, breachErr.Threshold)

	snap := ec.Result.Snapshot()
	assert.Equal(t, 2.0, snap.Metrics["records_failed"])
	assert.Equal(t, 18.0, snap.Metrics["records_processed"])
}

func TestBackfill_TimeBasedTaskStopsAtWindow(t *testing.T) {
	mem := driver.NewMemory()
	mem.Seed("events", []driver.Record{{"id": "1"}})

	mock := driver.NewMock(mem)
	mock.CountRecordsFunc = func(ctx context.Context, table string) (int64, error) {
		return 1_000_000, nil
	}
	mock.FetchBatchFunc = func(ctx context.Context, table string, offset, limit int) ([]driver.Record, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		records := make([]driver.Record, limit)
		for i := range records {
			records[i] = driver.Record{"id": fmt.Sprintf("%d", offset+i)}
		}
		return records, nil
	}

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{
			Name:      "reindex_events",
			Source:    "events",
			Transform: func(r driver.Record) (driver.Record, error) { return r, nil },
			Strategy:  migrate.BackfillTimeBased,
			BatchSize: 50,
			Timeout:   30 * time.Millisecond,
		},
	}}
	ec := newExecCtx(def, mock)

	err := (&Backfill{}).Execute(context.Background(), ec)
	require.NoError(t, err)

	snap := ec.Result.Snapshot()
	assert.Equal(t, 1.0, snap.Metrics["tasks_time_bounded"])
}

func TestBackfill_ParallelEqualPriorityTasks(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "users", 12)
	seedNames(mem, "teams", 8)

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "users", Source: "users", Transform: upperName, Priority: 5},
		{Name: "teams", Source: "teams", Transform: upperName, Priority: 5},
	}}
	ec := newExecCtx(def, mem)
	ec.Config.Backfill.Parallel = true

	err := (&Backfill{}).Execute(context.Background(), ec)
	require.NoError(t, err)

	snap := ec.Result.Snapshot()
	assert.Equal(t, 20.0, snap.Metrics["records_processed"])
	assert.ElementsMatch(t, []string{"users", "teams"}, snap.AffectedResources)
}

func TestBackfill_BatchParallelTask(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "accounts", 100)

	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{
			Name:           "uppercase_names",
			Source:         "accounts",
			Transform:      upperName,
			Strategy:       migrate.BackfillBatchParallel,
			BatchSize:      10,
			MaxParallelism: 4,
		},
	}}
	ec := newExecCtx(def, mem)

	err := (&Backfill{}).Execute(context.Background(), ec)
	require.NoError(t, err)

	snap := ec.Result.Snapshot()
	assert.Equal(t, 100.0, snap.Metrics["records_processed"])
}

func TestAggregateProgress(t *testing.T) {
	mkState := func(name string, total, processed int64) *taskState {
		state := &taskState{
			task:      migrate.BackfillTask{Name: name},
			startedAt: time.Now().Add(-2 * time.Second),
		}
		state.total.Store(total)
		state.processed.Store(processed)
		return state
	}

	percent, perSecond := aggregateProgress([]*taskState{
		mkState("users", 100, 50),
		mkState("teams", 100, 100),
	})
	assert.Equal(t, 75.0, percent)
	assert.Greater(t, perSecond, 0.0)

	percent, perSecond = aggregateProgress(nil)
	assert.Equal(t, 0.0, percent)
	assert.Equal(t, 0.0, perSecond)
}

func TestBackfill_MonitorPublishesAggregate(t *testing.T) {
	mem := driver.NewMemory()
	seedNames(mem, "accounts", 50)

	slow := func(record driver.Record) (driver.Record, error) {
		time.Sleep(time.Millisecond)
		return upperName(record)
	}
	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{Name: "uppercase_names", Source: "accounts", Transform: slow, BatchSize: 5},
	}}
	ec := newExecCtx(def, mem)
	ec.Config.Backfill.MonitorIntervalSeconds = 0.001

	err := (&Backfill{}).Execute(context.Background(), ec)
	require.NoError(t, err)

	snap := ec.Result.Snapshot()
	assert.Contains(t, snap.Metrics, "backfill_completion_percent")
	assert.Contains(t, snap.Metrics, "backfill_throughput_per_second")
}

func TestBackfill_PriorityBasedRecordOrder(t *testing.T) {
	mem := driver.NewMemory()
	mem.Seed("jobs", []driver.Record{
		{"id": "1", "priority": 1.0},
		{"id": "2", "priority": 9.0},
		{"id": "3", "priority": 5.0},
	})

	var mu sync.Mutex
	var seen []float64
	def := &backfillDefinition{tasks: []migrate.BackfillTask{
		{
			Name:     "drain_jobs",
			Source:   "jobs",
			Strategy: migrate.BackfillPriorityBased,
			Transform: func(record driver.Record) (driver.Record, error) {
				mu.Lock()
				seen = append(seen, record["priority"].(float64))
				mu.Unlock()
				return record, nil
			},
		},
	}}
	ec := newExecCtx(def, mem)

	err := (&Backfill{}).Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 5, 1}, seen)
}

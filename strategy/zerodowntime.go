package strategy

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/driver"
)

// ZeroDowntime keeps the datastore serving throughout the migration.
// Additive changes apply directly; incompatible changes go through a shadow
// table that is built, backfilled under dual writes, verified and swapped in
// with a single rename.
type ZeroDowntime struct{}

func (s *ZeroDowntime) Name() string { return "zero_downtime" }

func (s *ZeroDowntime) Execute(ctx context.Context, ec *ExecContext) error {
	decl, ok := ec.Definition.(migrate.ChangeDeclarer)
	if !ok {
		ec.Logger.Warn("definition declares no changes, applying directly",
			"version", ec.Version.Version)
		if err := ec.Definition.Upgrade(ctx, ec.migrationContext()); err != nil {
			return &migrate.ExecutionError{Version: ec.Version.Version, Stage: "upgrade", Err: err}
		}
		return nil
	}

	direct, deferred, shadowed := classify(decl.Changes())

	for _, change := range direct {
		ec.Result.AppendAffectedResource(change.Table)
		if err := ec.Driver.ApplyChange(ctx, change); err != nil {
			return &migrate.ExecutionError{Version: ec.Version.Version, Stage: "direct_change", Err: err}
		}
		ec.Logger.Info("change applied online", "table", change.Table, "kind", change.Kind)
	}

	for table, changes := range shadowed {
		ec.Result.AppendAffectedResource(table)
		if err := s.shadowMigrate(ctx, ec, table, changes); err != nil {
			return err
		}
	}

	// Destructive changes wait for the old readers to drain. The engine
	// records them as scheduled; an operator or a cleanup job applies them
	// after the grace period.
	for _, change := range deferred {
		ec.Collector.IncCleanupScheduled()
		ec.Result.AddMetric("cleanups_scheduled", 1)
		ec.Logger.Info("destructive change deferred to cleanup",
			"table", change.Table, "kind", change.Kind, "column", change.Column)
	}

	return nil
}

// classify splits declared changes into ones that apply online as-is, ones
// deferred until after the migration settles, and ones that need a shadow
// table, grouped by table.
func classify(changes []driver.Change) (direct, deferred []driver.Change, shadowed map[string][]driver.Change) {
	shadowed = make(map[string][]driver.Change)
	for _, change := range changes {
		switch change.Kind {
		case driver.KindCreateTable, driver.KindAddColumn, driver.KindMetadata, driver.KindAddIndexConcurrent:
			direct = append(direct, change)
		case driver.KindAddIndex:
			// Plain index builds block writers; take the concurrent path.
			change.Kind = driver.KindAddIndexConcurrent
			direct = append(direct, change)
		case driver.KindDropColumn, driver.KindDropTable, driver.KindDeleteData:
			deferred = append(deferred, change)
		default:
			shadowed[change.Table] = append(shadowed[change.Table], change)
		}
	}
	return direct, deferred, shadowed
}

// shadowMigrate rebuilds one table through a shadow copy. On any failure
// before the swap the shadow is dropped and the original keeps serving; a
// failed swap is renamed back.
func (s *ZeroDowntime) shadowMigrate(ctx context.Context, ec *ExecContext, table string, changes []driver.Change) error {
	shadow := table + "_shadow"
	cfg := ec.Config.ZeroDowntime

	fail := func(stage string, err error) error {
		if dropErr := ec.Driver.DropTable(context.WithoutCancel(ctx), shadow); dropErr != nil {
			ec.Logger.Error("shadow table cleanup failed", "table", shadow, "error", dropErr)
		}
		if dwErr := ec.Driver.SetDualWrite(context.WithoutCancel(ctx), table, shadow, false); dwErr != nil {
			ec.Logger.Error("disabling dual writes failed", "table", table, "error", dwErr)
		}
		return &migrate.ExecutionError{Version: ec.Version.Version, Stage: stage, Err: err}
	}

	if err := ec.Driver.CreateTableLike(ctx, table, shadow); err != nil {
		return &migrate.ExecutionError{Version: ec.Version.Version, Stage: "create_shadow", Err: err}
	}

	for _, change := range changes {
		change.Table = shadow
		if err := ec.Driver.ApplyChange(ctx, change); err != nil {
			return fail("shadow_change", err)
		}
	}

	if err := ec.Driver.SetDualWrite(ctx, table, shadow, true); err != nil {
		return fail("enable_dual_write", err)
	}

	if err := s.copyTable(ctx, ec, table, shadow, cfg.BatchSize, cfg.CopyRateLimit); err != nil {
		return fail("copy", err)
	}

	if err := s.verify(ctx, ec, table, shadow, cfg.SampleSize); err != nil {
		return fail("verify", err)
	}

	// The swap window is the only moment writes can be lost. Measure it
	// against the configured budget.
	old := table + "_old"
	swapStart := time.Now()

	if err := ec.Driver.RenameTable(ctx, table, old); err != nil {
		return fail("swap_out", err)
	}
	if err := ec.Driver.RenameTable(ctx, shadow, table); err != nil {
		if backErr := ec.Driver.RenameTable(context.WithoutCancel(ctx), old, table); backErr != nil {
			ec.Logger.Error("swap recovery failed", "table", table, "error", backErr)
			return &migrate.ExecutionError{Version: ec.Version.Version, Stage: "swap_recovery", Err: backErr}
		}
		return fail("swap_in", err)
	}

	// Dual writes stay on through the swap so nothing lands on the old copy
	// unmirrored. Only once the shadow is serving do they turn off.
	if err := ec.Driver.SetDualWrite(ctx, table, shadow, false); err != nil {
		revertCtx := context.WithoutCancel(ctx)
		if backErr := ec.Driver.RenameTable(revertCtx, table, shadow); backErr != nil {
			ec.Logger.Error("swap revert failed", "table", table, "error", backErr)
			return &migrate.ExecutionError{Version: ec.Version.Version, Stage: "swap_recovery", Err: backErr}
		}
		if backErr := ec.Driver.RenameTable(revertCtx, old, table); backErr != nil {
			ec.Logger.Error("swap revert failed", "table", table, "error", backErr)
			return &migrate.ExecutionError{Version: ec.Version.Version, Stage: "swap_recovery", Err: backErr}
		}
		return fail("disable_dual_write", err)
	}

	downtime := time.Since(swapStart)
	ec.Collector.ObserveDowntime(downtime.Seconds())
	ec.Result.SetMetric("swap_downtime_seconds", downtime.Seconds())
	if budget := ec.Config.MaxDowntime(); budget > 0 && downtime > budget {
		ec.Collector.IncThresholdBreach("downtime")
		ec.Logger.Warn("swap exceeded downtime budget",
			"table", table,
			"downtime", downtime,
			"budget", budget)
	}

	ec.Collector.IncCleanupScheduled()
	ec.Result.SetMetric("retired_table", old)
	ec.Logger.Info("shadow migration complete", "table", table, "retired", old)

	return nil
}

// copyTable copies all records in rate-limited batches, reporting progress
// through the result.
func (s *ZeroDowntime) copyTable(ctx context.Context, ec *ExecContext, source, target string, batchSize int, rateLimit float64) error {
	total, err := ec.Driver.CountRecords(ctx, source)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), batchSize)
	}

	copied := 0
	for offset := 0; ; offset += batchSize {
		if limiter != nil {
			if err := limiter.WaitN(ctx, batchSize); err != nil {
				return err
			}
		}

		n, err := ec.Driver.CopyBatch(ctx, source, target, offset, batchSize)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}

		copied += n
		ec.Collector.IncBatchCopied()
		if total > 0 {
			ec.Result.SetMetric("copy_progress_percent", 100*float64(copied)/float64(total))
		}
		if n < batchSize {
			break
		}
	}

	ec.Result.SetMetric("records_copied", float64(copied))
	return nil
}

// verify checks the shadow copy against the source by count and by sample
// before anything irreversible happens.
func (s *ZeroDowntime) verify(ctx context.Context, ec *ExecContext, source, target string, sampleSize int) error {
	sourceCount, err := ec.Driver.CountRecords(ctx, source)
	if err != nil {
		return err
	}
	targetCount, err := ec.Driver.CountRecords(ctx, target)
	if err != nil {
		return err
	}
	if sourceCount != targetCount {
		return fmt.Errorf("count mismatch: %s has %d records, %s has %d", source, sourceCount, target, targetCount)
	}

	if sampleSize <= 0 {
		return nil
	}
	sample, err := ec.Driver.SampleRecords(ctx, target, sampleSize)
	if err != nil {
		return err
	}
	if err := diffAgainstSource(ctx, ec.Driver, source, sample, nil); err != nil {
		return err
	}

	ec.Result.SetMetric("verified_records", float64(sourceCount))
	return nil
}

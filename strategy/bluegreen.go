package strategy

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/driver"
)

// BlueGreen builds a fully migrated copy of the datastore in an idle
// environment, verifies it, then switches all traffic at once. A monitored
// window after the switch reverts to the old environment on breach.
type BlueGreen struct{}

func (s *BlueGreen) Name() string { return "blue_green" }

func (s *BlueGreen) Execute(ctx context.Context, ec *ExecContext) error {
	envDriver, ok := ec.Driver.(driver.EnvironmentDriver)
	if !ok {
		return &migrate.ExecutionError{
			Version: ec.Version.Version,
			Stage:   "preflight",
			Err:     fmt.Errorf("driver does not support environments"),
		}
	}
	traffic, ok := ec.Driver.(driver.TrafficController)
	if !ok {
		return &migrate.ExecutionError{
			Version: ec.Version.Version,
			Stage:   "preflight",
			Err:     fmt.Errorf("driver does not support traffic switching"),
		}
	}
	decl, ok := ec.Definition.(migrate.ChangeDeclarer)
	if !ok {
		return &migrate.ExecutionError{
			Version: ec.Version.Version,
			Stage:   "preflight",
			Err:     fmt.Errorf("definition declares no changes"),
		}
	}

	active, err := traffic.ActiveEnvironment(ctx)
	if err != nil {
		return &migrate.ExecutionError{Version: ec.Version.Version, Stage: "preflight", Err: err}
	}
	idle := "green"
	if active == "green" {
		idle = "blue"
	}

	ec.Logger.Info("blue-green deployment starting",
		"version", ec.Version.Version,
		"active", active,
		"idle", idle)

	fail := func(stage string, err error) error {
		if dropErr := envDriver.DropEnvironment(context.WithoutCancel(ctx), idle); dropErr != nil {
			ec.Logger.Error("idle environment cleanup failed", "env", idle, "error", dropErr)
		}
		return &migrate.ExecutionError{Version: ec.Version.Version, Stage: stage, Err: err}
	}

	if err := envDriver.CloneEnvironment(ctx, active, idle); err != nil {
		return &migrate.ExecutionError{Version: ec.Version.Version, Stage: "clone", Err: err}
	}

	for _, change := range decl.Changes() {
		ec.Result.AppendAffectedResource(change.Table)
		change.Table = driver.QualifiedTable(idle, change.Table)
		if err := ec.Driver.ApplyChange(ctx, change); err != nil {
			return fail("apply_changes", err)
		}
	}

	if err := s.syncData(ctx, ec, envDriver, active, idle); err != nil {
		return fail("sync", err)
	}

	if err := s.verify(ctx, ec, envDriver, active, idle); err != nil {
		return fail("verify", err)
	}

	ec.Result.SetMetric("switch_completed", false)

	if err := traffic.SwitchTraffic(ctx, idle); err != nil {
		return fail("switch", err)
	}
	ec.Result.SetMetric("switch_completed", true)
	ec.Logger.Info("traffic switched", "env", idle)

	cfg := ec.Config.BlueGreen
	breach, err := watchWindow(ctx,
		cfg.MonitorWindow(),
		cfg.MonitorInterval(),
		ec.Sample,
		Thresholds{ErrorRate: cfg.ErrorRateThreshold})
	if err != nil {
		return err
	}
	if breach != nil {
		ec.Collector.IncThresholdBreach(breach.Metric)
		ec.Logger.Error("post-switch breach, reverting traffic",
			"metric", breach.Metric,
			"value", breach.Value,
			"threshold", breach.Threshold)
		if revertErr := traffic.SwitchTraffic(context.WithoutCancel(ctx), active); revertErr != nil {
			return &migrate.RollbackError{Version: ec.Version.Version, Err: revertErr}
		}
		ec.Result.SetMetric("switch_completed", false)
		if dropErr := envDriver.DropEnvironment(context.WithoutCancel(ctx), idle); dropErr != nil {
			ec.Logger.Error("idle environment teardown failed", "env", idle, "error", dropErr)
		}
		return &migrate.ThresholdBreachError{
			Metric:    breach.Metric,
			Value:     breach.Value,
			Threshold: breach.Threshold,
		}
	}

	// The old environment is the rollback target until the grace period
	// passes; removing it is left to a scheduled cleanup.
	ec.Collector.IncCleanupScheduled()
	ec.Result.SetMetric("retired_environment", active)
	ec.Result.SetMetric("cleanup_after_seconds", cfg.CleanupGrace().Seconds())
	ec.Logger.Info("blue-green deployment complete",
		"serving", idle,
		"retired", active)

	return nil
}

// syncData copies every table of the active environment into the idle one
// in rate-limited batches.
func (s *BlueGreen) syncData(ctx context.Context, ec *ExecContext, envDriver driver.EnvironmentDriver, active, idle string) error {
	tables, err := envDriver.Tables(ctx, active)
	if err != nil {
		return err
	}

	cfg := ec.Config.BlueGreen
	var limiter *rate.Limiter
	if cfg.CopyRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CopyRateLimit), cfg.BatchSize)
	}

	for _, table := range tables {
		source := driver.QualifiedTable(active, table)
		target := driver.QualifiedTable(idle, table)

		for offset := 0; ; offset += cfg.BatchSize {
			if limiter != nil {
				if err := limiter.WaitN(ctx, cfg.BatchSize); err != nil {
					return err
				}
			}

			n, err := ec.Driver.CopyBatch(ctx, source, target, offset, cfg.BatchSize)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			ec.Collector.IncBatchCopied()
			if n < cfg.BatchSize {
				break
			}
		}
	}

	return nil
}

// verify compares each table between environments by count and checks a
// sample of migrated records, ignoring fields that legitimately drift
// between copies.
func (s *BlueGreen) verify(ctx context.Context, ec *ExecContext, envDriver driver.EnvironmentDriver, active, idle string) error {
	tables, err := envDriver.Tables(ctx, active)
	if err != nil {
		return err
	}

	cfg := ec.Config.BlueGreen
	volatile := make(map[string]bool, len(cfg.VolatileFields))
	for _, field := range cfg.VolatileFields {
		volatile[field] = true
	}

	var verified int64
	for _, table := range tables {
		source := driver.QualifiedTable(active, table)
		target := driver.QualifiedTable(idle, table)

		sourceCount, err := ec.Driver.CountRecords(ctx, source)
		if err != nil {
			return err
		}
		targetCount, err := ec.Driver.CountRecords(ctx, target)
		if err != nil {
			return err
		}
		if sourceCount != targetCount {
			return fmt.Errorf("count mismatch in %s: %d vs %d", table, sourceCount, targetCount)
		}
		verified += targetCount

		if cfg.SampleSize <= 0 {
			continue
		}
		sample, err := ec.Driver.SampleRecords(ctx, target, cfg.SampleSize)
		if err != nil {
			return err
		}
		if err := diffAgainstSource(ctx, ec.Driver, source, sample, volatile); err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
	}

	ec.Result.SetMetric("verified_records", float64(verified))
	return nil
}

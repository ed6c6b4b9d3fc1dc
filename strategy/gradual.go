package strategy

import (
	"context"
	"time"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/driver"
	"github.com/schemaops/migrate-orchestrator/flags"
)

// rolloutStage is one step of the progressive rollout.
type rolloutStage struct {
	name    string
	percent float64
}

var rolloutStages = []rolloutStage{
	{"canary", 1},
	{"early", 5},
	{"majority", 25},
	{"full", 100},
}

// Gradual shifts traffic to the new code path in monitored stages gated by
// feature flags, applying the stage-appropriate slice of the declared
// changes as each stage opens: metadata at canary, additive schema at early,
// data rewrites at majority, the remainder at full. Stage monitors compare
// live samples against a baseline captured during preparation. A breach
// pauses the rollout and retries once; a severe or repeated breach rolls
// everything back.
type Gradual struct{}

func (s *Gradual) Name() string { return "gradual" }

// stagedChanges buckets declared changes by the rollout stage that applies
// them. Destructive changes are returned separately; they wait until the
// old code path is retired.
func stagedChanges(changes []driver.Change) (byStage map[string][]driver.Change, deferred []driver.Change) {
	byStage = make(map[string][]driver.Change)
	for _, change := range changes {
		switch {
		case change.Destructive():
			deferred = append(deferred, change)
		case change.Kind == driver.KindMetadata:
			byStage["canary"] = append(byStage["canary"], change)
		case change.Kind == driver.KindCreateTable,
			change.Kind == driver.KindAddColumn,
			change.Kind == driver.KindAddIndex,
			change.Kind == driver.KindAddIndexConcurrent:
			byStage["early"] = append(byStage["early"], change)
		case change.Kind == driver.KindTransformData:
			byStage["majority"] = append(byStage["majority"], change)
		default:
			byStage["full"] = append(byStage["full"], change)
		}
	}
	return byStage, deferred
}

func (s *Gradual) Execute(ctx context.Context, ec *ExecContext) error {
	version := ec.Version.Version
	cfg := ec.Config.Gradual

	// Preparation: bucket the changes per stage and capture the health
	// baseline that the stage monitors compare against.
	var byStage map[string][]driver.Change
	if decl, ok := ec.Definition.(migrate.ChangeDeclarer); ok {
		var deferred []driver.Change
		byStage, deferred = stagedChanges(decl.Changes())
		for _, change := range deferred {
			ec.Collector.IncCleanupScheduled()
			ec.Result.AddMetric("cleanups_scheduled", 1)
			ec.Logger.Info("destructive change deferred past rollout",
				"table", change.Table, "kind", change.Kind)
		}
	} else {
		if err := ec.Definition.Upgrade(ctx, ec.migrationContext()); err != nil {
			return &migrate.ExecutionError{Version: version, Stage: "preparation", Err: err}
		}
	}

	var baseline Observation
	if ec.Sample != nil {
		baseline = ec.Sample(ctx)
		ec.Result.SetMetric("baseline_error_rate", baseline.ErrorRate)
		ec.Result.SetMetric("baseline_latency_ms", baseline.LatencyMs)
		ec.Logger.Info("rollout baseline captured",
			"error_rate", baseline.ErrorRate,
			"latency_ms", baseline.LatencyMs)
	}
	ec.Result.SetMetric("phase", "preparation")

	// Compatibility layer: the application reads both shapes while the
	// rollout is in flight.
	ec.Flags.Enable(flags.Key(version, "compat"))
	ec.Result.SetMetric("phase", "compatibility_layer")
	ec.Logger.Info("compatibility layer enabled", "version", version)

	traffic, hasTraffic := ec.Driver.(driver.TrafficController)
	thresholds := Thresholds{
		ErrorRate: cfg.ErrorRateThreshold,
		LatencyMs: cfg.LatencyThresholdMs,
		Baseline:  baseline,
	}

	var applied []driver.Change
	ec.Result.SetMetric("phase", "progressive_rollout")
	for _, stage := range rolloutStages {
		ec.Flags.Enable(flags.Key(version, stage.name))

		for _, change := range byStage[stage.name] {
			ec.Result.AppendAffectedResource(change.Table)
			if err := ec.Driver.ApplyChange(ctx, change); err != nil {
				return s.emergencyRollback(ctx, ec, applied, &migrate.ExecutionError{
					Version: version, Stage: stage.name, Err: err,
				})
			}
			applied = append(applied, change)
			ec.Logger.Info("stage change applied",
				"stage", stage.name, "table", change.Table, "kind", change.Kind)
		}

		if hasTraffic {
			if err := traffic.ShiftTraffic(ctx, stage.percent); err != nil {
				return s.emergencyRollback(ctx, ec, applied, &migrate.ExecutionError{
					Version: version, Stage: stage.name, Err: err,
				})
			}
		}
		ec.Collector.SetTrafficShift(version, stage.percent)
		ec.Result.SetMetric("rollout_stage", stage.name)
		ec.Result.SetMetric("traffic_percent", stage.percent)
		ec.Logger.Info("rollout stage entered", "stage", stage.name, "percent", stage.percent)

		breach, err := s.monitorStage(ctx, ec, stage, thresholds)
		if err != nil {
			return err
		}
		if breach != nil {
			return s.emergencyRollback(ctx, ec, applied, &migrate.ThresholdBreachError{
				Metric:    breach.Metric,
				Value:     breach.Value,
				Threshold: breach.Threshold,
			})
		}
	}

	// Validation: one more clean window at full traffic before anything is
	// declared permanent.
	ec.Result.SetMetric("phase", "validation")
	breach, err := watchWindow(ctx, cfg.StageWindow(), cfg.MonitorInterval(), ec.Sample, thresholds)
	if err != nil {
		return err
	}
	if breach != nil {
		ec.Collector.IncThresholdBreach(breach.Metric)
		return s.emergencyRollback(ctx, ec, applied, &migrate.ThresholdBreachError{
			Metric:    breach.Metric,
			Value:     breach.Value,
			Threshold: breach.Threshold,
		})
	}

	ec.Result.SetMetric("phase", "completion")
	ec.Logger.Info("rollout complete", "version", version)

	// Cleanup: the compatibility layer outlives the rollout until the old
	// code path is gone everywhere.
	ec.Collector.IncCleanupScheduled()
	ec.Result.SetMetric("phase", "cleanup")
	ec.Result.SetMetric("compat_flag", flags.Key(version, "compat"))

	return nil
}

// monitorStage watches one rollout stage. A mild breach pauses and retries
// the window once; a severe breach or a second breach ends the rollout.
func (s *Gradual) monitorStage(ctx context.Context, ec *ExecContext, stage rolloutStage, thresholds Thresholds) (*Breach, error) {
	cfg := ec.Config.Gradual

	breach, err := watchWindow(ctx, cfg.StageWindow(), cfg.MonitorInterval(), ec.Sample, thresholds)
	if err != nil || breach == nil {
		return breach, err
	}

	ec.Collector.IncThresholdBreach(breach.Metric)
	if breach.Severe() {
		ec.Logger.Error("severe breach during rollout stage",
			"stage", stage.name,
			"metric", breach.Metric,
			"value", breach.Value)
		return breach, nil
	}

	ec.Logger.Warn("breach during rollout stage, pausing",
		"stage", stage.name,
		"metric", breach.Metric,
		"value", breach.Value,
		"pause", cfg.Pause())
	ec.Result.AddMetric("rollout_pauses", 1)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(cfg.Pause()):
	}

	retryBreach, err := watchWindow(ctx, cfg.StageWindow(), cfg.MonitorInterval(), ec.Sample, thresholds)
	if err != nil {
		return nil, err
	}
	if retryBreach != nil {
		ec.Collector.IncThresholdBreach(retryBreach.Metric)
	}
	return retryBreach, nil
}

// emergencyRollback unwinds the rollout: traffic back to the old path,
// every migration-scoped flag off except the rollback marker, applied
// schema changes reverted.
func (s *Gradual) emergencyRollback(ctx context.Context, ec *ExecContext, applied []driver.Change, cause error) error {
	version := ec.Version.Version
	ctx = context.WithoutCancel(ctx)

	ec.Logger.Error("emergency rollback", "version", version, "cause", cause)
	ec.Collector.IncRollback("started")

	if traffic, ok := ec.Driver.(driver.TrafficController); ok {
		if err := traffic.ShiftTraffic(ctx, 0); err != nil {
			ec.Logger.Error("traffic revert failed", "error", err)
			return &migrate.RollbackError{Version: version, Err: err}
		}
	}
	ec.Collector.SetTrafficShift(version, 0)

	rollbackFlag := flags.Key(version, "rollback")
	ec.Flags.Enable(rollbackFlag)
	ec.Flags.DisableScope(flags.Scope(version), rollbackFlag)

	s.revertChanges(ctx, ec, applied)

	ec.Result.SetMetric("phase", "rolled_back")
	ec.Collector.IncRollback("completed")

	return cause
}

func (s *Gradual) revertChanges(ctx context.Context, ec *ExecContext, applied []driver.Change) {
	for i := len(applied) - 1; i >= 0; i-- {
		if err := ec.Driver.RevertChange(ctx, applied[i]); err != nil {
			ec.Logger.Error("change revert failed",
				"table", applied[i].Table,
				"kind", applied[i].Kind,
				"error", err)
		}
	}
}

// Package engine executes migrations: validation, backup, strategy
// execution, health verification, recording and rollback on failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/backup"
	"github.com/schemaops/migrate-orchestrator/config"
	"github.com/schemaops/migrate-orchestrator/driver"
	"github.com/schemaops/migrate-orchestrator/flags"
	"github.com/schemaops/migrate-orchestrator/graph"
	"github.com/schemaops/migrate-orchestrator/metrics"
	"github.com/schemaops/migrate-orchestrator/store"
	"github.com/schemaops/migrate-orchestrator/strategy"
)

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	driver     driver.Driver
	store      store.RegistryStore
	graph      *graph.Graph
	backups    backup.Manager
	flags      flags.Store
	strategies *strategy.Registry
	cfg        *config.Config
	logger     *slog.Logger
	sample     strategy.SampleFunc
	appliedBy  string
}

// WithDriver sets the storage driver. Required.
func WithDriver(d driver.Driver) Option {
	return func(c *engineConfig) { c.driver = d }
}

// WithStore sets the registry store. Required.
func WithStore(s store.RegistryStore) Option {
	return func(c *engineConfig) { c.store = s }
}

// WithGraph sets a pre-loaded version graph. Defaults to a new graph over
// the registry store.
func WithGraph(g *graph.Graph) Option {
	return func(c *engineConfig) { c.graph = g }
}

// WithBackupManager sets the backup manager. Without one, backups are
// skipped even when the configuration enables them.
func WithBackupManager(m backup.Manager) Option {
	return func(c *engineConfig) { c.backups = m }
}

// WithFlags sets the feature-flag store used by gradual rollouts.
// Defaults to an in-process store.
func WithFlags(f flags.Store) Option {
	return func(c *engineConfig) { c.flags = f }
}

// WithStrategies sets a custom strategy registry. Defaults to the built-in
// strategies.
func WithStrategies(r *strategy.Registry) Option {
	return func(c *engineConfig) { c.strategies = r }
}

// WithConfig sets the engine configuration. Defaults to config.Default().
func WithConfig(cfg config.Config) Option {
	return func(c *engineConfig) { c.cfg = &cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = logger }
}

// WithSampler sets the health observation source used by monitored
// strategies. Without one, monitored windows pass unconditionally.
func WithSampler(sample strategy.SampleFunc) Option {
	return func(c *engineConfig) { c.sample = sample }
}

// WithAppliedBy sets the operator identity recorded on applied versions.
func WithAppliedBy(name string) Option {
	return func(c *engineConfig) { c.appliedBy = name }
}

// Engine coordinates migration execution against one datastore.
type Engine struct {
	driver     driver.Driver
	store      store.RegistryStore
	graph      *graph.Graph
	backups    backup.Manager
	flags      flags.Store
	strategies *strategy.Registry
	cfg        config.Config
	logger     *slog.Logger
	sample     strategy.SampleFunc
	appliedBy  string
}

// New creates an Engine with the given options.
//
// Required options:
//   - WithDriver: storage driver
//   - WithStore: registry store
//
// Example:
//
//	eng, err := engine.New(
//	    engine.WithDriver(d),
//	    engine.WithStore(st),
//	    engine.WithConfig(cfg),
//	)
func New(opts ...Option) (*Engine, error) {
	ec := &engineConfig{}
	for _, opt := range opts {
		opt(ec)
	}

	if ec.driver == nil {
		return nil, fmt.Errorf("driver is required: use WithDriver option")
	}
	if ec.store == nil {
		return nil, fmt.Errorf("store is required: use WithStore option")
	}

	if ec.logger == nil {
		ec.logger = slog.Default()
	}
	if ec.cfg == nil {
		cfg := config.Default()
		ec.cfg = &cfg
	}
	if ec.flags == nil {
		ec.flags = flags.NewMemory()
	}
	if ec.strategies == nil {
		ec.strategies = strategy.NewRegistry()
	}
	if ec.graph == nil {
		g, err := graph.New(graph.Config{Store: ec.store, Logger: ec.logger})
		if err != nil {
			return nil, err
		}
		ec.graph = g
	}

	return &Engine{
		driver:     ec.driver,
		store:      ec.store,
		graph:      ec.graph,
		backups:    ec.backups,
		flags:      ec.flags,
		strategies: ec.strategies,
		cfg:        *ec.cfg,
		logger:     ec.logger,
		sample:     ec.sample,
		appliedBy:  ec.appliedBy,
	}, nil
}

// Graph returns the engine's version graph.
func (e *Engine) Graph() *graph.Graph { return e.graph }

/// ExecuteMigration runs one version through the full pipeline: validate,
// back up, execute the configured strategy, verify health, record. On
// failure with rollback enabled, the pre-migration backup is restored.
func (e *Engine) ExecuteMigration(ctx context.Context, version string) (*migrate.MigrationResult, error) {
	v, err := e.graph.Version(version)
	if err != nil {
		return nil, err
	}

	strategyName := e.cfg.Strategy
	strat, err := e.strategies.Get(strategyName)
	if err != nil {
		return nil, err
	}

	def, err := migrate.GetDefinition(v.DefinitionRef)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", version, err)
	}

	result := migrate.NewResult(version)
	collector := metrics.NewCollector(strategyName)

	if err := e.ValidateMigration(ctx, version); err != nil {
		result.Fail(err)
		e.record(ctx, result, collector)
		return result, err
	}

	if e.cfg.DryRun {
		e.logger.Info("dry run, skipping execution", "version", version, "strategy", strategyName)
		result.SetMetric("dry_run", true)
		result.SetStatus(migrate.StatusCompleted)
		e.record(ctx, result, collector)
		return result, nil
	}

	if e.cfg.BackupEnabled && e.backups != nil {
		backupID, err := e.backups.Create(ctx)
		if err != nil {
			backupErr := &migrate.BackupError{Version: version, Err: err}
			result.Fail(backupErr)
			e.record(ctx, result, collector)
			return result, backupErr
		}
		result.SetBackupID(backupID)
		e.logger.Info("backup created", "version", version, "backup_id", backupID)
	}

	result.SetStatus(migrate.StatusRunning)
	e.logger.Info("migration starting", "version", version, "strategy", strategyName)

	execErr := strat.Execute(ctx, &strategy.ExecContext{
		Definition: def,
		Version:    v,
		Result:     result,
		Driver:     e.driver,
		Config:     e.cfg,
		Flags:      e.flags,
		Logger:     e.logger,
		Collector:  collector,
		Sample:     e.sample,
	})

	if execErr == nil {
		if healthErr := e.verifyHealth(ctx, result, collector); healthErr != nil {
			// Health checks are advisory after a successful execution: the
			// migration stays applied, the failure is recorded.
			e.logger.Warn("post-migration health check failed", "version", version, "error", healthErr)
			result.SetMetric("health_check_error", healthErr.Error())
		}
		result.SetStatus(migrate.StatusCompleted)
		if err := e.graph.MarkApplied(ctx, version, e.appliedBy); err != nil {
			e.logger.Error("failed to mark version applied", "version", version, "error", err)
		}
		e.record(ctx, result, collector)
		e.logger.Info("migration complete", "version", version, "duration", result.Snapshot().Duration)
		return result, nil
	}

	e.logger.Error("migration failed", "version", version, "error", execErr)

	if e.cfg.RollbackOnFailure && result.Snapshot().BackupID != "" {
		restoreCtx := context.WithoutCancel(ctx)
		backupID := result.Snapshot().BackupID
		if restoreErr := e.backups.Restore(restoreCtx, backupID); restoreErr != nil {
			collector.IncRollback("failed")
			result.Fail(execErr)
			e.record(restoreCtx, result, collector)
			if markErr := e.graph.MarkFailed(restoreCtx, version); markErr != nil {
				e.logger.Error("failed to mark version failed", "version", version, "error", markErr)
			}
			return result, errors.Join(
				migrate.ErrManualInterventionRequired,
				execErr,
				&migrate.RestoreError{BackupID: backupID, Err: restoreErr},
			)
		}
		collector.IncRollback("completed")
		result.Fail(execErr)
		result.RecordRollback()
		e.record(restoreCtx, result, collector)
		if markErr := e.graph.MarkFailed(restoreCtx, version); markErr != nil {
			e.logger.Error("failed to mark version failed", "version", version, "error", markErr)
		}
		e.logger.Info("backup restored after failure", "version", version, "backup_id", backupID)
		return result, execErr
	}

	result.Fail(execErr)
	e.record(context.WithoutCancel(ctx), result, collector)
	if markErr := e.graph.MarkFailed(context.WithoutCancel(ctx), version); markErr != nil {
		e.logger.Error("failed to mark version failed", "version", version, "error", markErr)
	}
	return result, execErr
}

// ExecutePending applies every unapplied version in dependency order.
func (e *Engine) ExecutePending(ctx context.Context) ([]*migrate.MigrationResult, error) {
	ordered, err := e.graph.DependencyOrder()
	if err != nil {
		return nil, err
	}

	var results []*migrate.MigrationResult
	for _, v := range ordered {
		if v.State == migrate.StateApplied {
			continue
		}
		result, err := e.ExecuteMigration(ctx, v.Version)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (e *Engine) record(ctx context.Context, result *migrate.MigrationResult, collector *metrics.Collector) {
	snap := result.Snapshot()
	collector.IncExecution(string(snap.Status))
	if snap.Duration > 0 {
		collector.ObserveExecutionDuration(snap.Duration.Seconds())
	}
	if err := e.store.SaveResult(ctx, result); err != nil {
		e.logger.Error("failed to persist result", "result_id", snap.ID, "error", err)
	}
}

// Status summarizes the registry: versions by state and pending count.
type Status struct {
	Versions   []*migrate.MigrationVersion
	Conflicts  []*migrate.MigrationConflict
	Pending    int
	Applied    int
	LastResult *migrate.MigrationResult
}

// Status reports the current registry state.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	versions := e.graph.Versions()

	status := &Status{
		Versions:  versions,
		Conflicts: e.graph.Conflicts(true),
	}
	for _, v := range versions {
		switch v.State {
		case migrate.StateApplied:
			status.Applied++
		case migrate.StateDraft, migrate.StateStaged:
			status.Pending++
		}
	}

	recent, err := e.store.ListResults(ctx, "", 1)
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		status.LastResult = recent[0]
	}

	return status, nil
}

// History returns execution attempts for a version, newest first.
func (e *Engine) History(ctx context.Context, version string, limit int) ([]*migrate.MigrationResult, error) {
	return e.store.ListResults(ctx, version, limit)
}

// RollbackToVersion reverts applied versions, newest first, until target is
// the newest applied version. Every version on the path must have recorded a
// backup on a completed run; those backups are restored in order, and the
// rollback touches nothing until all of them are located.
func (e *Engine) RollbackToVersion(ctx context.Context, target string) (*migrate.MigrationResult, error) {
	path, err := e.graph.RollbackPath(target)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("nothing to roll back: %s is the newest applied version", target)
	}

	backupIDs := make(map[string]string, len(path))
	for _, v := range path {
		backupID, err := e.recordedBackup(ctx, v.Version)
		if err != nil {
			return nil, &migrate.RollbackError{Version: v.Version, Err: err}
		}
		backupIDs[v.Version] = backupID
	}

	collector := metrics.NewCollector(e.cfg.Strategy)
	result := migrate.NewResult("rolled_back_to_" + target)
	result.SetStatus(migrate.StatusRunning)

	for _, v := range path {
		backupID := backupIDs[v.Version]
		e.logger.Info("restoring backup for rollback", "version", v.Version, "backup_id", backupID)
		if err := e.backups.Restore(ctx, backupID); err != nil {
			restoreErr := &migrate.RestoreError{BackupID: backupID, Err: err}
			collector.IncRollback("failed")
			result.Fail(restoreErr)
			e.record(context.WithoutCancel(ctx), result, collector)
			return result, &migrate.RollbackError{Version: v.Version, Err: restoreErr}
		}
		result.AppendAffectedResource(v.Version)
		if err := e.graph.MarkRolledBack(ctx, v.Version); err != nil {
			e.logger.Error("failed to mark version rolled back", "version", v.Version, "error", err)
		}
		collector.IncRollback("completed")
	}

	result.SetStatus(migrate.StatusCompleted)
	e.record(ctx, result, collector)
	e.logger.Info("rollback complete", "target", target, "reverted", len(path))
	return result, nil
}

// recordedBackup returns the backup taken by the newest completed run of a
// version.
func (e *Engine) recordedBackup(ctx context.Context, version string) (string, error) {
	if e.backups == nil {
		return "", fmt.Errorf("no backup manager configured")
	}
	history, err := e.store.ListResults(ctx, version, 0)
	if err != nil {
		return "", err
	}
	for _, attempt := range history {
		if attempt.Status == migrate.StatusCompleted && attempt.BackupID != "" {
			return attempt.BackupID, nil
		}
	}
	return "", fmt.Errorf("no completed result with a backup recorded for %s", version)
}

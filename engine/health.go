package engine

import (
	"context"
	"fmt"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/metrics"
)

// healthCheck is one post-migration verification. Checks run in order with
// a shared timeout; the first failure is reported.
type healthCheck struct {
	name string
	run  func(ctx context.Context, e *Engine, result *migrate.MigrationResult) error
}

var healthChecks = []healthCheck{
	{"connectivity", checkConnectivity},
	{"structural", checkStructural},
	{"consistency", checkConsistency},
}

// verifyHealth runs the post-migration health checks. The caller decides
// what a failure means; a completed migration is not reverted for one.
func (e *Engine) verifyHealth(ctx context.Context, result *migrate.MigrationResult, collector *metrics.Collector) error {
	checkCtx := ctx
	if timeout := e.cfg.HealthCheckTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, check := range healthChecks {
		if err := check.run(checkCtx, e, result); err != nil {
			collector.IncHealthCheckFailure(check.name)
			return fmt.Errorf("%s check failed: %w", check.name, err)
		}
		e.logger.Debug("health check passed", "check", check.name)
	}
	return nil
}

func checkConnectivity(ctx context.Context, e *Engine, _ *migrate.MigrationResult) error {
	return e.driver.Ping(ctx)
}

// checkStructural confirms every touched table is still reachable.
func checkStructural(ctx context.Context, e *Engine, result *migrate.MigrationResult) error {
	for _, table := range result.Snapshot().AffectedResources {
		if _, err := e.driver.CountRecords(ctx, table); err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
	}
	return nil
}

// checkConsistency samples records from touched tables and rejects empty
// reads on tables that report data.
func checkConsistency(ctx context.Context, e *Engine, result *migrate.MigrationResult) error {
	for _, table := range result.Snapshot().AffectedResources {
		count, err := e.driver.CountRecords(ctx, table)
		if err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
		if count == 0 {
			continue
		}
		sample, err := e.driver.SampleRecords(ctx, table, 10)
		if err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
		if len(sample) == 0 {
			return fmt.Errorf("table %s reports %d records but sampling returned none", table, count)
		}
	}
	return nil
}

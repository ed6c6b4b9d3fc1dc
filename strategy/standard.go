package strategy

import (
	"context"

	migrate "github.com/schemaops/migrate-orchestrator"
)

// Standard runs the definition's upgrade directly. It accepts whatever
// downtime the migration causes and suits maintenance windows and small
// datasets.
type Standard struct{}

func (s *Standard) Name() string { return "standard" }

func (s *Standard) Execute(ctx context.Context, ec *ExecContext) error {
	if decl, ok := ec.Definition.(migrate.ChangeDeclarer); ok {
		for _, change := range decl.Changes() {
			if change.Table != "" {
				ec.Result.AppendAffectedResource(change.Table)
			}
		}
	}

	ec.Logger.Info("applying migration", "version", ec.Version.Version, "strategy", s.Name())

	if err := ec.Definition.Upgrade(ctx, ec.migrationContext()); err != nil {
		return &migrate.ExecutionError{Version: ec.Version.Version, Stage: "upgrade", Err: err}
	}

	return nil
}

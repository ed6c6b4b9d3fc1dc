package engine

import (
	"context"
	"fmt"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/metrics"
)

// ValidateMigration checks a version before execution: its definition must
// be registered and its dependencies satisfied and applied. Destructive
// changes are recorded as warnings rather than blocking issues.
func (e *Engine) ValidateMigration(ctx context.Context, version string) error {
	v, err := e.graph.Version(version)
	if err != nil {
		return err
	}

	var issues []string

	if v.State == migrate.StateApplied {
		issues = append(issues, "version is already applied")
	}

	def, err := migrate.GetDefinition(v.DefinitionRef)
	if err != nil {
		issues = append(issues, fmt.Sprintf("definition %q is not registered", v.DefinitionRef))
	}

	issues = append(issues, e.graph.ValidateDependencies()...)

	for _, dep := range v.Dependencies {
		target, err := e.graph.Version(dep.TargetVersion)
		if err != nil {
			if dep.Required {
				issues = append(issues, fmt.Sprintf("required dependency %s does not exist", dep.TargetVersion))
			}
			continue
		}
		if dep.Required && target.State != migrate.StateApplied {
			issues = append(issues, fmt.Sprintf("required dependency %s is not applied (state %s)", dep.TargetVersion, target.State))
		}
	}

	if unresolved := e.graph.Conflicts(true); len(unresolved) > 0 {
		for _, c := range unresolved {
			if c.SourceVersion == version || c.TargetVersion == version {
				issues = append(issues, fmt.Sprintf("unresolved %s with %s", c.Type, c.TargetVersion))
			}
		}
	}

	// Destructive changes are advisory: they are flagged, not blocked.
	if def != nil {
		if decl, ok := def.(migrate.ChangeDeclarer); ok {
			for _, change := range decl.Changes() {
				if !change.Destructive() {
					continue
				}
				metrics.DestructiveChangesTotal.WithLabelValues(string(change.Kind)).Inc()
				e.logger.Warn("destructive change declared",
					"version", version,
					"kind", change.Kind,
					"table", change.Table,
					"backup_enabled", e.cfg.BackupEnabled,
					"auto_approve", e.cfg.AutoApprove)
			}
		}
	}

	if err := e.driver.Ping(ctx); err != nil {
		issues = append(issues, fmt.Sprintf("datastore unreachable: %v", err))
	}

	if len(issues) > 0 {
		return &migrate.ValidationError{Version: version, Issues: issues}
	}
	return nil
}

package graph

import (
	"context"
	"fmt"
	"time"

	migrate "github.com/schemaops/migrate-orchestrator"
)

// Conflicts returns the recorded conflicts, optionally only unresolved
// ones, ordered by id for determinism.
func (g *Graph) Conflicts(onlyUnresolved bool) []*migrate.MigrationConflict {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []*migrate.MigrationConflict
	for _, c := range sortedConflicts(g.conflicts) {
		if onlyUnresolved && c.Resolved {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ResolveConflict applies a resolution strategy to a recorded conflict.
//
// rename_source and rename_target mint a fresh version string for the
// chosen side and re-point every edge that referenced the old one. abort
// deletes the source version. merge always fails with ErrMergeUnsupported
// and leaves the conflict unresolved.
func (g *Graph) ResolveConflict(ctx context.Context, conflictID string, strategy migrate.ResolutionStrategy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	conflict, ok := g.conflicts[conflictID]
	if !ok {
		return migrate.ErrConflictNotFound
	}
	if conflict.Resolved {
		return fmt.Errorf("conflict %s already resolved", conflictID)
	}

	switch strategy {
	case migrate.ResolveRenameSource:
		if err := g.renameVersionLocked(conflict.SourceVersion); err != nil {
			return err
		}
	case migrate.ResolveRenameTarget:
		if err := g.renameVersionLocked(conflict.TargetVersion); err != nil {
			return err
		}
	case migrate.ResolveAbort:
		g.deleteVersionLocked(conflict.SourceVersion)
	case migrate.ResolveMerge:
		return migrate.ErrMergeUnsupported
	default:
		return fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	now := time.Now()
	conflict.ResolutionStrategy = strategy
	conflict.Resolved = true
	conflict.ResolvedAt = &now

	if err := g.persistVersionsLocked(ctx); err != nil {
		return err
	}
	if err := g.persistConflictsLocked(ctx); err != nil {
		return err
	}

	g.logger.Info("conflict resolved",
		"conflict_id", conflictID,
		"type", conflict.Type,
		"strategy", strategy)

	return nil
}

// renameVersionLocked mints a fresh version string and re-points every
// dependency edge, dependent back-reference and conflict record that named
// the old one.
func (g *Graph) renameVersionLocked(oldVersion string) error {
	v, ok := g.versions[oldVersion]
	if !ok {
		return migrate.ErrVersionNotFound
	}

	newVersion := ""
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_r%d", oldVersion, n)
		if _, taken := g.versions[candidate]; !taken {
			newVersion = candidate
			break
		}
	}

	delete(g.versions, oldVersion)
	v.Version = newVersion
	v.Format = DetectFormat(newVersion)
	g.versions[newVersion] = v

	for _, other := range g.versions {
		for i, dep := range other.Dependencies {
			if dep.TargetVersion == oldVersion {
				other.Dependencies[i].TargetVersion = newVersion
			}
		}
		for i, dependent := range other.Dependents {
			if dependent == oldVersion {
				other.Dependents[i] = newVersion
			}
		}
	}

	for _, c := range g.conflicts {
		if c.SourceVersion == oldVersion {
			c.SourceVersion = newVersion
		}
		if c.TargetVersion == oldVersion {
			c.TargetVersion = newVersion
		}
	}

	g.logger.Info("version renamed", "from", oldVersion, "to", newVersion)

	return nil
}

// deleteVersionLocked removes a version and every edge that referenced it.
func (g *Graph) deleteVersionLocked(version string) {
	if _, ok := g.versions[version]; !ok {
		return
	}

	delete(g.versions, version)

	for _, other := range g.versions {
		deps := other.Dependencies[:0]
		for _, dep := range other.Dependencies {
			if dep.TargetVersion != version {
				deps = append(deps, dep)
			}
		}
		other.Dependencies = deps

		dependents := other.Dependents[:0]
		for _, dependent := range other.Dependents {
			if dependent != version {
				dependents = append(dependents, dependent)
			}
		}
		other.Dependents = dependents
	}

	g.logger.Info("version deleted", "version", version)
}

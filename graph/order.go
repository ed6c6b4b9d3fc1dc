package graph

import (
	"fmt"
	"sort"

	migrate "github.com/schemaops/migrate-orchestrator"
)

// DependencyOrder returns every version in a valid application order.
//
// Required dependencies order strictly; optional dependencies order only
// when the target exists. Versions with no ordering relation come out in
// creation order, so the result is deterministic. Unresolved conflicts and
// missing required dependencies block ordering entirely.
func (g *Graph) DependencyOrder() ([]*migrate.MigrationVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkOrderableLocked(); err != nil {
		return nil, err
	}

	return g.topoSortLocked(g.versions)
}

// MigrationPath returns the versions to apply, in order, to reach target:
// the target's transitive dependencies followed by the target itself,
// skipping versions that are already applied.
func (g *Graph) MigrationPath(target string) ([]*migrate.MigrationVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.versions[target]; !ok {
		return nil, migrate.ErrVersionNotFound
	}

	if err := g.checkOrderableLocked(); err != nil {
		return nil, err
	}

	needed := make(map[string]*migrate.MigrationVersion)
	var collect func(version string)
	collect = func(version string) {
		if _, seen := needed[version]; seen {
			return
		}
		v, ok := g.versions[version]
		if !ok {
			return
		}
		needed[version] = v
		for _, dep := range v.Dependencies {
			collect(dep.TargetVersion)
		}
	}
	collect(target)

	ordered, err := g.topoSortLocked(needed)
	if err != nil {
		return nil, err
	}

	var path []*migrate.MigrationVersion
	for _, v := range ordered {
		if v.State == migrate.StateApplied {
			continue
		}
		path = append(path, v)
	}
	return path, nil
}

// RollbackPath returns the applied versions to revert, newest first, to
// bring the datastore back to target. The target itself stays applied.
func (g *Graph) RollbackPath(target string) ([]*migrate.MigrationVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	targetVersion, ok := g.versions[target]
	if !ok {
		return nil, migrate.ErrVersionNotFound
	}

	if err := g.checkOrderableLocked(); err != nil {
		return nil, err
	}

	ordered, err := g.topoSortLocked(g.versions)
	if err != nil {
		return nil, err
	}

	var path []*migrate.MigrationVersion
	for i := len(ordered) - 1; i >= 0; i-- {
		v := ordered[i]
		if v.Version == targetVersion.Version {
			break
		}
		if v.State != migrate.StateApplied {
			continue
		}
		path = append(path, v)
	}
	return path, nil
}

// ValidateDependencies checks the whole graph for dangling required
// dependency references, dependency cycles, and unresolved conflicts,
// returning one message per problem found.
func (g *Graph) ValidateDependencies() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var issues []string
	for _, v := range g.sortedVersionsLocked() {
		for _, dep := range v.Dependencies {
			if !dep.Required {
				continue
			}
			if _, ok := g.versions[dep.TargetVersion]; !ok {
				issues = append(issues, fmt.Sprintf("version %s requires missing dependency %s", v.Version, dep.TargetVersion))
			}
		}
	}
	if _, err := g.topoSortLocked(g.versions); err != nil {
		issues = append(issues, err.Error())
	}
	for _, conflict := range sortedConflicts(g.conflicts) {
		if !conflict.Resolved {
			issues = append(issues, fmt.Sprintf("unresolved %s between %s and %s",
				conflict.Type, conflict.SourceVersion, conflict.TargetVersion))
		}
	}
	return issues
}

func (g *Graph) checkOrderableLocked() error {
	for _, conflict := range sortedConflicts(g.conflicts) {
		if !conflict.Resolved {
			return &migrate.ConflictError{
				Type:          conflict.Type,
				SourceVersion: conflict.SourceVersion,
				TargetVersion: conflict.TargetVersion,
			}
		}
	}
	return g.missingDependenciesLocked()
}

func (g *Graph) missingDependenciesLocked() error {
	var missing []string
	for _, v := range g.sortedVersionsLocked() {
		for _, dep := range v.Dependencies {
			if !dep.Required {
				continue
			}
			if _, ok := g.versions[dep.TargetVersion]; !ok {
				missing = append(missing, dep.TargetVersion)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &migrate.DependencyError{Kind: "missing", Versions: missing}
	}
	return nil
}

// topoSortLocked runs Kahn's algorithm over the given subset. Ready
// versions are picked lowest creation sequence first so unrelated versions
// come out in creation order.
func (g *Graph) topoSortLocked(subset map[string]*migrate.MigrationVersion) ([]*migrate.MigrationVersion, error) {
	indegree := make(map[string]int, len(subset))
	dependents := make(map[string][]string, len(subset))

	for version, v := range subset {
		if _, ok := indegree[version]; !ok {
			indegree[version] = 0
		}
		for _, dep := range v.Dependencies {
			if _, ok := subset[dep.TargetVersion]; !ok {
				continue
			}
			indegree[version]++
			dependents[dep.TargetVersion] = append(dependents[dep.TargetVersion], version)
		}
	}

	var ready []*migrate.MigrationVersion
	for version, degree := range indegree {
		if degree == 0 {
			ready = append(ready, subset[version])
		}
	}
	sortBySequence(ready)

	ordered := make([]*migrate.MigrationVersion, 0, len(subset))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		var unblocked []*migrate.MigrationVersion
		for _, dependent := range dependents[next.Version] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				unblocked = append(unblocked, subset[dependent])
			}
		}
		if len(unblocked) > 0 {
			ready = append(ready, unblocked...)
			sortBySequence(ready)
		}
	}

	if len(ordered) != len(subset) {
		var remaining []string
		for version := range subset {
			if indegree[version] > 0 {
				remaining = append(remaining, version)
			}
		}
		sort.Strings(remaining)
		return nil, &migrate.DependencyError{Kind: "cycle", Versions: remaining}
	}

	return ordered, nil
}

func sortedConflicts(conflicts map[string]*migrate.MigrationConflict) []*migrate.MigrationConflict {
	out := make([]*migrate.MigrationConflict, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Package graph maintains the migration version graph: version creation,
// dependency ordering, conflict detection and resolution.
package graph

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/store"
)

// Config contains the dependencies for creating a Graph.
type Config struct {
	// Store persists the graph. Required.
	Store store.RegistryStore

	// Logger for graph events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Graph is the in-memory working copy of the version graph. Every mutation
// persists the whole document through the store before returning, under the
// graph lock, so readers never observe a state the store does not have.
type Graph struct {
	mu        sync.Mutex
	store     store.RegistryStore
	logger    *slog.Logger
	versions  map[string]*migrate.MigrationVersion
	conflicts map[string]*migrate.MigrationConflict
	nextSeq   int
}

// New creates a Graph from the given configuration.
func New(cfg Config) (*Graph, error) {
	if cfg.Store == nil {
		return nil, errors.New("graph: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		store:     cfg.Store,
		logger:    logger,
		versions:  make(map[string]*migrate.MigrationVersion),
		conflicts: make(map[string]*migrate.MigrationConflict),
		nextSeq:   1,
	}, nil
}

// Load replaces the working copy with the persisted documents.
func (g *Graph) Load(ctx context.Context) error {
	versionsDoc, err := g.store.LoadVersions(ctx)
	if err != nil {
		return err
	}
	conflictsDoc, err := g.store.LoadConflicts(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.versions = versionsDoc.Versions
	g.nextSeq = versionsDoc.NextSequence
	if g.nextSeq < 1 {
		g.nextSeq = 1
	}
	g.conflicts = conflictsDoc.Conflicts

	g.logger.Info("graph loaded",
		"versions", len(g.versions),
		"conflicts", len(g.conflicts))

	return nil
}

// Version returns the version with the given version string.
func (g *Graph) Version(version string) (*migrate.MigrationVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.versions[version]
	if !ok {
		return nil, migrate.ErrVersionNotFound
	}
	return v, nil
}

// Versions returns all versions in creation order.
func (g *Graph) Versions() []*migrate.MigrationVersion {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.sortedVersionsLocked()
}

func (g *Graph) sortedVersionsLocked() []*migrate.MigrationVersion {
	out := make([]*migrate.MigrationVersion, 0, len(g.versions))
	for _, v := range g.versions {
		out = append(out, v)
	}
	sortBySequence(out)
	return out
}

// MarkApplied transitions a version to applied and records who applied it.
func (g *Graph) MarkApplied(ctx context.Context, version, appliedBy string) error {
	return g.setState(ctx, version, migrate.StateApplied, appliedBy)
}

// MarkFailed transitions a version to failed.
func (g *Graph) MarkFailed(ctx context.Context, version string) error {
	return g.setState(ctx, version, migrate.StateFailed, "")
}

// MarkRolledBack transitions an applied version to rolled back.
func (g *Graph) MarkRolledBack(ctx context.Context, version string) error {
	return g.setState(ctx, version, migrate.StateRolledBack, "")
}

// MarkStaged transitions a draft version to staged.
func (g *Graph) MarkStaged(ctx context.Context, version string) error {
	return g.setState(ctx, version, migrate.StateStaged, "")
}

func (g *Graph) setState(ctx context.Context, version string, state migrate.VersionState, appliedBy string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.versions[version]
	if !ok {
		return migrate.ErrVersionNotFound
	}

	v.State = state
	if state == migrate.StateApplied {
		now := time.Now()
		v.AppliedAt = &now
		v.AppliedBy = appliedBy
	}

	g.logger.Info("version state changed", "version", version, "state", state)

	return g.persistVersionsLocked(ctx)
}

// persistVersionsLocked saves the whole version document. Callers hold g.mu.
func (g *Graph) persistVersionsLocked(ctx context.Context) error {
	return g.store.SaveVersions(ctx, &store.VersionsDocument{
		Versions:     g.versions,
		NextSequence: g.nextSeq,
	})
}

// persistConflictsLocked saves the whole conflict document. Callers hold g.mu.
func (g *Graph) persistConflictsLocked(ctx context.Context) error {
	return g.store.SaveConflicts(ctx, &store.ConflictsDocument{
		Conflicts: g.conflicts,
	})
}

func sortBySequence(versions []*migrate.MigrationVersion) {
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Sequence < versions[j].Sequence
	})
}

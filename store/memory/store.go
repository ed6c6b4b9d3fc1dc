package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/store"
)

// Store is an in-memory implementation of RegistryStore for testing and
// single-process use. It provides thread-safe access using a sync.RWMutex
// and stores deep copies so callers cannot mutate persisted state.
type Store struct {
	mu        sync.RWMutex
	versions  *store.VersionsDocument
	conflicts *store.ConflictsDocument
	results   map[string]*migrate.MigrationResult // resultID -> result
	order     []string                            // resultIDs in save order
}

// New creates a new in-memory store with initialized documents.
func New() *Store {
	return &Store{
		versions:  store.EmptyVersionsDocument(),
		conflicts: store.EmptyConflictsDocument(),
		results:   make(map[string]*migrate.MigrationResult),
	}
}

// SaveVersions replaces the persisted version document.
func (s *Store) SaveVersions(ctx context.Context, doc *store.VersionsDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions = copyVersions(doc)
	s.versions.UpdatedAt = time.Now()

	return nil
}

// LoadVersions returns the persisted version document.
func (s *Store) LoadVersions(ctx context.Context) (*store.VersionsDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyVersions(s.versions), nil
}

// SaveConflicts replaces the persisted conflict document.
func (s *Store) SaveConflicts(ctx context.Context, doc *store.ConflictsDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conflicts = copyConflicts(doc)
	s.conflicts.UpdatedAt = time.Now()

	return nil
}

// LoadConflicts returns the persisted conflict document.
func (s *Store) LoadConflicts(ctx context.Context) (*store.ConflictsDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyConflicts(s.conflicts), nil
}

// SaveResult persists one execution attempt.
func (s *Store) SaveResult(ctx context.Context, result *migrate.MigrationResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := result.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[snap.ID]; !exists {
		s.order = append(s.order, snap.ID)
	}
	s.results[snap.ID] = snap

	return nil
}

// ListResults returns execution attempts for a version, newest first.
func (s *Store) ListResults(ctx context.Context, version string, limit int) ([]*migrate.MigrationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*migrate.MigrationResult
	for _, id := range s.order {
		r := s.results[id]
		if version != "" && r.Version != version {
			continue
		}
		results = append(results, r.Snapshot())
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func copyVersions(doc *store.VersionsDocument) *store.VersionsDocument {
	out := &store.VersionsDocument{
		Versions:     make(map[string]*migrate.MigrationVersion, len(doc.Versions)),
		NextSequence: doc.NextSequence,
		UpdatedAt:    doc.UpdatedAt,
	}
	for key, v := range doc.Versions {
		out.Versions[key] = copyVersion(v)
	}
	return out
}

func copyVersion(v *migrate.MigrationVersion) *migrate.MigrationVersion {
	cp := *v
	cp.Dependencies = append([]migrate.MigrationDependency(nil), v.Dependencies...)
	cp.Dependents = append([]string(nil), v.Dependents...)
	cp.ConflictIDs = append([]string(nil), v.ConflictIDs...)
	cp.Tags = append([]string(nil), v.Tags...)
	if v.Labels != nil {
		cp.Labels = make(map[string]string, len(v.Labels))
		for k, val := range v.Labels {
			cp.Labels[k] = val
		}
	}
	if v.AppliedAt != nil {
		at := *v.AppliedAt
		cp.AppliedAt = &at
	}
	return &cp
}

func copyConflicts(doc *store.ConflictsDocument) *store.ConflictsDocument {
	out := &store.ConflictsDocument{
		Conflicts: make(map[string]*migrate.MigrationConflict, len(doc.Conflicts)),
		UpdatedAt: doc.UpdatedAt,
	}
	for key, c := range doc.Conflicts {
		cp := *c
		if c.ResolvedAt != nil {
			at := *c.ResolvedAt
			cp.ResolvedAt = &at
		}
		out.Conflicts[key] = &cp
	}
	return out
}

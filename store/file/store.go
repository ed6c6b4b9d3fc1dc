// Package file implements RegistryStore on top of JSON files. It suits
// single-operator CLI use where a database is not available.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/store"
)

const (
	versionsFile  = "versions.json"
	conflictsFile = "conflicts.json"
	resultsFile   = "results.json"
)

// Store persists registry documents as JSON files under a directory.
// Writes go through a temp file and rename so a crash never leaves a
// half-written document.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New creates a file store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SaveVersions replaces the persisted version document.
func (s *Store) SaveVersions(ctx context.Context, doc *store.VersionsDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc.UpdatedAt = time.Now()
	return s.writeFile(versionsFile, doc)
}

// LoadVersions returns the persisted version document.
func (s *Store) LoadVersions(ctx context.Context) (*store.VersionsDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := store.EmptyVersionsDocument()
	if err := s.readFile(versionsFile, doc); err != nil {
		return nil, err
	}
	if doc.Versions == nil {
		doc.Versions = make(map[string]*migrate.MigrationVersion)
	}
	return doc, nil
}

// SaveConflicts replaces the persisted conflict document.
func (s *Store) SaveConflicts(ctx context.Context, doc *store.ConflictsDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc.UpdatedAt = time.Now()
	return s.writeFile(conflictsFile, doc)
}

// LoadConflicts returns the persisted conflict document.
func (s *Store) LoadConflicts(ctx context.Context) (*store.ConflictsDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := store.EmptyConflictsDocument()
	if err := s.readFile(conflictsFile, doc); err != nil {
		return nil, err
	}
	if doc.Conflicts == nil {
		doc.Conflicts = make(map[string]*migrate.MigrationConflict)
	}
	return doc, nil
}

// SaveResult persists one execution attempt.
func (s *Store) SaveResult(ctx context.Context, result *migrate.MigrationResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := result.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make(map[string]*migrate.MigrationResult)
	if err := s.readFile(resultsFile, &results); err != nil {
		return err
	}

	results[snap.ID] = snap
	return s.writeFile(resultsFile, results)
}

// ListResults returns execution attempts for a version, newest first.
func (s *Store) ListResults(ctx context.Context, version string, limit int) ([]*migrate.MigrationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[string]*migrate.MigrationResult)
	if err := s.readFile(resultsFile, &stored); err != nil {
		return nil, err
	}

	var results []*migrate.MigrationResult
	for _, r := range stored {
		if version != "" && r.Version != version {
			continue
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].StartedAt.Equal(results[j].StartedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].StartedAt.After(results[j].StartedAt)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func (s *Store) writeFile(name string, doc any) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}

	return nil
}

func (s *Store) readFile(name string, doc any) error {
	payload, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if err := json.Unmarshal(payload, doc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}

	return nil
}

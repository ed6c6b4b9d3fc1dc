package store

import (
	"context"
	"time"

	migrate "github.com/schemaops/migrate-orchestrator"
)

// VersionsDocument is the persisted form of the version graph's nodes.
// The graph persists the whole document after every mutation so the store
// never sees a partially updated graph.
type VersionsDocument struct {
	// Versions are the graph nodes keyed by version string.
	Versions map[string]*migrate.MigrationVersion `json:"versions"`

	// NextSequence is the creation-order counter for the next version.
	NextSequence int `json:"next_sequence"`

	// UpdatedAt is when the document was last saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// ConflictsDocument is the persisted form of detected conflicts.
type ConflictsDocument struct {
	// Conflicts are keyed by conflict id.
	Conflicts map[string]*migrate.MigrationConflict `json:"conflicts"`

	// UpdatedAt is when the document was last saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// RegistryStore persists the version graph and execution history.
// Implementations must be safe for concurrent access.
type RegistryStore interface {
	// SaveVersions replaces the persisted version document.
	SaveVersions(ctx context.Context, doc *VersionsDocument) error

	// LoadVersions returns the persisted version document.
	// Returns an empty document if nothing was saved yet.
	LoadVersions(ctx context.Context) (*VersionsDocument, error)

	// SaveConflicts replaces the persisted conflict document.
	SaveConflicts(ctx context.Context, doc *ConflictsDocument) error

	// LoadConflicts returns the persisted conflict document.
	// Returns an empty document if nothing was saved yet.
	LoadConflicts(ctx context.Context) (*ConflictsDocument, error)

	// SaveResult persists one execution attempt. Saving the same result id
	// again overwrites the previous record.
	SaveResult(ctx context.Context, result *migrate.MigrationResult) error

	// ListResults returns execution attempts for a version, newest first.
	// An empty version matches all versions. A limit of 0 means no limit.
	ListResults(ctx context.Context, version string, limit int) ([]*migrate.MigrationResult, error)
}

// EmptyVersionsDocument returns a usable zero-state document.
func EmptyVersionsDocument() *VersionsDocument {
	return &VersionsDocument{Versions: make(map[string]*migrate.MigrationVersion)}
}

// EmptyConflictsDocument returns a usable zero-state document.
func EmptyConflictsDocument() *ConflictsDocument {
	return &ConflictsDocument{Conflicts: make(map[string]*migrate.MigrationConflict)}
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/store"
)

// Document keys for the singleton registry documents.
const (
	versionsDocKey  = "versions"
	conflictsDocKey = "conflicts"
)

// Store is a PostgreSQL implementation of RegistryStore. Graph documents are
// stored as JSONB rows keyed by document name; execution results get one row
// per attempt.
type Store struct {
	db             *sql.DB
	documentsTable string
	resultsTable   string
}

// New creates a new PostgreSQL store with default table names.
func New(db *sql.DB) *Store {
	config := DefaultTableConfig()
	return NewWithConfig(db, config)
}

// NewWithConfig creates a new PostgreSQL store with custom table names.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:             db,
		documentsTable: config.DocumentsTable,
		resultsTable:   config.ResultsTable,
	}
}

// SaveVersions replaces the persisted version document.
func (s *Store) SaveVersions(ctx context.Context, doc *store.VersionsDocument) error {
	return s.saveDocument(ctx, versionsDocKey, doc)
}

// LoadVersions returns the persisted version document.
// Returns an empty document if nothing was saved yet.
func (s *Store) LoadVersions(ctx context.Context) (*store.VersionsDocument, error) {
	doc := store.EmptyVersionsDocument()
	if err := s.loadDocument(ctx, versionsDocKey, doc); err != nil {
		return nil, err
	}
	if doc.Versions == nil {
		doc.Versions = make(map[string]*migrate.MigrationVersion)
	}
	return doc, nil
}

// SaveConflicts replaces the persisted conflict document.
func (s *Store) SaveConflicts(ctx context.Context, doc *store.ConflictsDocument) error {
	return s.saveDocument(ctx, conflictsDocKey, doc)
}

// LoadConflicts returns the persisted conflict document.
// Returns an empty document if nothing was saved yet.
func (s *Store) LoadConflicts(ctx context.Context) (*store.ConflictsDocument, error) {
	doc := store.EmptyConflictsDocument()
	if err := s.loadDocument(ctx, conflictsDocKey, doc); err != nil {
		return nil, err
	}
	if doc.Conflicts == nil {
		doc.Conflicts = make(map[string]*migrate.MigrationConflict)
	}
	return doc, nil
}

func (s *Store) saveDocument(ctx context.Context, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s document: %w", key, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET document = $2, updated_at = NOW()
	`, s.documentsTable)

	if _, err := s.db.ExecContext(ctx, query, key, payload); err != nil {
		return fmt.Errorf("failed to save %s document: %w", key, err)
	}

	return nil
}

func (s *Store) loadDocument(ctx context.Context, key string, doc any) error {
	query := fmt.Sprintf(`
		SELECT document
		FROM %s
		WHERE key = $1
	`, s.documentsTable)

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s document: %w", key, err)
	}

	if err := json.Unmarshal(payload, doc); err != nil {
		return fmt.Errorf("failed to decode %s document: %w", key, err)
	}

	return nil
}

// SaveResult persists one execution attempt.
func (s *Store) SaveResult(ctx context.Context, result *migrate.MigrationResult) error {
	snap := result.Snapshot()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, version, status, started_at, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = $3, document = $5
	`, s.resultsTable)

	_, err = s.db.ExecContext(ctx, query, snap.ID, snap.Version, string(snap.Status), snap.StartedAt, payload)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	return nil
}

// ListResults returns execution attempts for a version, newest first.
func (s *Store) ListResults(ctx context.Context, version string, limit int) ([]*migrate.MigrationResult, error) {
	query := fmt.Sprintf(`
		SELECT document
		FROM %s
		WHERE ($1 = '' OR version = $1)
		ORDER BY started_at DESC
	`, s.resultsTable)

	args := []any{version}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*migrate.MigrationResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		var result migrate.MigrationResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}

	return results, nil
}

package postgres

import "fmt"

// TableConfig configures the table names used by the registry store.
type TableConfig struct {
	// DocumentsTable is the name of the table storing graph documents.
	DocumentsTable string

	// ResultsTable is the name of the table storing execution results.
	ResultsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		DocumentsTable: "migrate_documents",
		ResultsTable:   "migrate_results",
	}
}

// MigrationUp returns the SQL to create registry tables.
// It creates the documents table holding the versions and conflicts
// documents as JSONB, and the results table with indexes on version and
// started_at for history queries.
func MigrationUp(config TableConfig) string {
	return fmt.Sprintf(`-- Create documents table
CREATE TABLE %s (
    key TEXT PRIMARY KEY,
    document JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Create results table
CREATE TABLE %s (
    id UUID PRIMARY KEY,
    version TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    document JSONB NOT NULL
);

-- Index for per-version history queries, newest first
CREATE INDEX idx_results_version ON %s(version, started_at DESC);

-- Index for finding recent results across versions
CREATE INDEX idx_results_started_at ON %s(started_at DESC);
`, config.DocumentsTable, config.ResultsTable, config.ResultsTable, config.ResultsTable)
}

// MigrationDown returns the SQL to drop registry tables.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`-- Drop results table
DROP TABLE IF EXISTS %s;

-- Drop documents table
DROP TABLE IF EXISTS %s;
`, config.ResultsTable, config.DocumentsTable)
}

package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters
// for SQL and Go source. Returns an error if the identifier contains
// characters that could be used for injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent injection.
func validateConfig(config *Config) error {
	if err := validateIdentifier(config.DocumentsTable, "DocumentsTable"); err != nil {
		return err
	}
	if err := validateIdentifier(config.ResultsTable, "ResultsTable"); err != nil {
		return err
	}
	return nil
}

// Config configures generation of registry bootstrap migrations.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// DocumentsTable is the name of the graph documents table
	DocumentsTable string

	// ResultsTable is the name of the execution results table
	ResultsTable string
}

// DefaultConfig returns the default configuration for registry migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_migrate_registry.sql", timestamp),
		DocumentsTable: "migrate_documents",
		ResultsTable:   "migrate_results",
	}
}

// GeneratePostgres generates a PostgreSQL registry bootstrap file.
func GeneratePostgres(config *Config) error {
	return writeMigration(config, generatePostgresSQL(config))
}

// GenerateMySQL generates a MySQL/MariaDB registry bootstrap file.
func GenerateMySQL(config *Config) error {
	return writeMigration(config, generateMySQLSQL(config))
}

// GenerateSQLite generates a SQLite registry bootstrap file.
func GenerateSQLite(config *Config) error {
	return writeMigration(config, generateSQLiteSQL(config))
}

func writeMigration(config *Config, sql string) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

func generatePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Migration Registry Bootstrap
-- Generated: %s
-- Database: PostgreSQL

-- Documents table holds the versions and conflicts documents as JSONB.
-- The registry writes whole documents, so each key has exactly one row.
CREATE TABLE IF NOT EXISTS %s (
    key TEXT PRIMARY KEY,
    document JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Results table holds one row per execution attempt.
CREATE TABLE IF NOT EXISTS %s (
    id UUID PRIMARY KEY,
    version TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'rolled_back')),
    started_at TIMESTAMPTZ NOT NULL,
    document JSONB NOT NULL
);

-- Index for per-version history, newest first
CREATE INDEX IF NOT EXISTS idx_%s_version
    ON %s (version, started_at DESC);

-- Index for recent results across versions
CREATE INDEX IF NOT EXISTS idx_%s_started_at
    ON %s (started_at DESC);
`,
		time.Now().Format(time.RFC3339),
		config.DocumentsTable,
		config.ResultsTable,
		config.ResultsTable, config.ResultsTable,
		config.ResultsTable, config.ResultsTable,
	)
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Migration Registry Bootstrap
-- Generated: %s
-- Database: MySQL/MariaDB

-- Documents table holds the versions and conflicts documents as JSON.
CREATE TABLE IF NOT EXISTS %s (
    `+"`key`"+` VARCHAR(64) PRIMARY KEY,
    document JSON NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Results table holds one row per execution attempt.
CREATE TABLE IF NOT EXISTS %s (
    id CHAR(36) PRIMARY KEY,
    version VARCHAR(255) NOT NULL,
    status ENUM('pending', 'running', 'completed', 'failed', 'rolled_back') NOT NULL,
    started_at TIMESTAMP(6) NOT NULL,
    document JSON NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Index for per-version history, newest first
CREATE INDEX idx_%s_version
    ON %s (version, started_at DESC);

-- Index for recent results across versions
CREATE INDEX idx_%s_started_at
    ON %s (started_at DESC);
`,
		time.Now().Format(time.RFC3339),
		config.DocumentsTable,
		config.ResultsTable,
		config.ResultsTable, config.ResultsTable,
		config.ResultsTable, config.ResultsTable,
	)
}

func generateSQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Migration Registry Bootstrap
-- Generated: %s
-- Database: SQLite

-- Documents table holds the versions and conflicts documents as JSON text.
CREATE TABLE IF NOT EXISTS %s (
    key TEXT PRIMARY KEY,
    document TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Results table holds one row per execution attempt.
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'rolled_back')),
    started_at TEXT NOT NULL,
    document TEXT NOT NULL
);

-- Index for per-version history, newest first
CREATE INDEX IF NOT EXISTS idx_%s_version
    ON %s (version, started_at DESC);
`,
		time.Now().Format(time.RFC3339),
		config.DocumentsTable,
		config.ResultsTable,
		config.ResultsTable, config.ResultsTable,
	)
}

// StubConfig configures generation of a Go migration definition stub.
type StubConfig struct {
	// OutputFolder is the directory where the stub will be written
	OutputFolder string

	// Package is the Go package name for the stub
	Package string

	// Name is the definition name registered with the engine
	Name string

	// Version is the migration version string the stub documents
	Version string
}

// GenerateStub writes a Go source file containing a registered Definition
// with empty upgrade and downgrade hooks.
func GenerateStub(config *StubConfig) (string, error) {
	if err := validateIdentifier(config.Package, "Package"); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validateIdentifier(strings.ReplaceAll(config.Name, ".", "_"), "Name"); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output folder: %w", err)
	}

	typeName := exportName(config.Name)
	filename := fmt.Sprintf("%s_%s.go", time.Now().Format("20060102150405"), strings.ToLower(config.Name))
	outputPath := filepath.Join(config.OutputFolder, filename)

	source := fmt.Sprintf(`package %s

import (
	"context"

	migrate "github.com/schemaops/migrate-orchestrator"
)

func init() {
	migrate.Register(&%s{})
}

// %s migrates to version %s.
type %s struct{}

func (m *%s) Name() string { return %q }

func (m *%s) Upgrade(ctx context.Context, mc *migrate.Context) error {
	// TODO: apply the migration
	return nil
}

func (m *%s) Downgrade(ctx context.Context, mc *migrate.Context) error {
	// TODO: revert the migration
	return nil
}
`,
		config.Package,
		typeName,
		typeName, config.Version,
		typeName,
		typeName, config.Name,
		typeName,
		typeName,
	)

	if err := os.WriteFile(outputPath, []byte(source), 0o600); err != nil {
		return "", fmt.Errorf("failed to write stub file: %w", err)
	}

	return outputPath, nil
}

// exportName turns a snake_case definition name into an exported Go
// identifier.
func exportName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

package store

import (
	"context"
	"sync"

	migrate "github.com/schemaops/migrate-orchestrator"
)

// MockRegistryStore is a configurable mock implementation of RegistryStore
// for use in tests. It allows setting up expected return values, tracking
// method calls, and injecting errors for testing error paths.
type MockRegistryStore struct {
	mu sync.RWMutex

	// SaveVersionsFunc is called by SaveVersions if set.
	SaveVersionsFunc func(ctx context.Context, doc *VersionsDocument) error

	// LoadVersionsFunc is called by LoadVersions if set.
	LoadVersionsFunc func(ctx context.Context) (*VersionsDocument, error)

	// SaveConflictsFunc is called by SaveConflicts if set.
	SaveConflictsFunc func(ctx context.Context, doc *ConflictsDocument) error

	// LoadConflictsFunc is called by LoadConflicts if set.
	LoadConflictsFunc func(ctx context.Context) (*ConflictsDocument, error)

	// SaveResultFunc is called by SaveResult if set.
	SaveResultFunc func(ctx context.Context, result *migrate.MigrationResult) error

	// ListResultsFunc is called by ListResults if set.
	ListResultsFunc func(ctx context.Context, version string, limit int) ([]*migrate.MigrationResult, error)

	// Call tracking
	SaveVersionsCalls  []*VersionsDocument
	LoadVersionsCalls  int
	SaveConflictsCalls []*ConflictsDocument
	LoadConflictsCalls int
	SaveResultCalls    []*migrate.MigrationResult
	ListResultsCalls   []ListResultsCall
}

type ListResultsCall struct {
	Version string
	Limit   int
}

// NewMockRegistryStore creates a new mock registry store.
func NewMockRegistryStore() *MockRegistryStore {
	return &MockRegistryStore{}
}

// SaveVersions implements RegistryStore.
func (m *MockRegistryStore) SaveVersions(ctx context.Context, doc *VersionsDocument) error {
	m.mu.Lock()
	m.SaveVersionsCalls = append(m.SaveVersionsCalls, doc)
	m.mu.Unlock()

	if m.SaveVersionsFunc != nil {
		return m.SaveVersionsFunc(ctx, doc)
	}

	return nil
}

// LoadVersions implements RegistryStore.
func (m *MockRegistryStore) LoadVersions(ctx context.Context) (*VersionsDocument, error) {
	m.mu.Lock()
	m.LoadVersionsCalls++
	m.mu.Unlock()

	if m.LoadVersionsFunc != nil {
		return m.LoadVersionsFunc(ctx)
	}

	return EmptyVersionsDocument(), nil
}

// SaveConflicts implements RegistryStore.
func (m *MockRegistryStore) SaveConflicts(ctx context.Context, doc *ConflictsDocument) error {
	m.mu.Lock()
	m.SaveConflictsCalls = append(m.SaveConflictsCalls, doc)
	m.mu.Unlock()

	if m.SaveConflictsFunc != nil {
		return m.SaveConflictsFunc(ctx, doc)
	}

	return nil
}

// LoadConflicts implements RegistryStore.
func (m *MockRegistryStore) LoadConflicts(ctx context.Context) (*ConflictsDocument, error) {
	m.mu.Lock()
	m.LoadConflictsCalls++
	m.mu.Unlock()

	if m.LoadConflictsFunc != nil {
		return m.LoadConflictsFunc(ctx)
	}

	return EmptyConflictsDocument(), nil
}

// SaveResult implements RegistryStore.
func (m *MockRegistryStore) SaveResult(ctx context.Context, result *migrate.MigrationResult) error {
	m.mu.Lock()
	m.SaveResultCalls = append(m.SaveResultCalls, result)
	m.mu.Unlock()

	if m.SaveResultFunc != nil {
		return m.SaveResultFunc(ctx, result)
	}

	return nil
}

// ListResults implements RegistryStore.
func (m *MockRegistryStore) ListResults(ctx context.Context, version string, limit int) ([]*migrate.MigrationResult, error) {
	m.mu.Lock()
	m.ListResultsCalls = append(m.ListResultsCalls, ListResultsCall{
		Version: version,
		Limit:   limit,
	})
	m.mu.Unlock()

	if m.ListResultsFunc != nil {
		return m.ListResultsFunc(ctx, version, limit)
	}

	return []*migrate.MigrationResult{}, nil
}

// Reset clears all call tracking data.
func (m *MockRegistryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveVersionsCalls = nil
	m.LoadVersionsCalls = 0
	m.SaveConflictsCalls = nil
	m.LoadConflictsCalls = 0
	m.SaveResultCalls = nil
	m.ListResultsCalls = nil
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/store"
)

func TestStore_SaveAndLoadVersions(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc := store.EmptyVersionsDocument()
	doc.Versions["1.0.0"] = &migrate.MigrationVersion{
		ID:      "id-1",
		Version: "1.0.0",
		State:   migrate.StateDraft,
	}
	doc.NextSequence = 2

	require.NoError(t, s.SaveVersions(ctx, doc))

	loaded, err := s.LoadVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NextSequence)
	require.Contains(t, loaded.Versions, "1.0.0")
	assert.Equal(t, "id-1", loaded.Versions["1.0.0"].ID)
}

func TestStore_LoadVersions_EmptyStore(t *testing.T) {
	s := New()

	doc, err := s.LoadVersions(context.Background())

	require.NoError(t, err)
	assert.Empty(t, doc.Versions)
}

func TestStore_SaveVersions_StoresDeepCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc := store.EmptyVersionsDocument()
	v := &migrate.MigrationVersion{Version: "1.0.0", Dependents: []string{"1.1.0"}}
	doc.Versions["1.0.0"] = v
	require.NoError(t, s.SaveVersions(ctx, doc))

	// Mutating the caller's document must not leak into the store.
	v.Dependents[0] = "mutated"
	v.State = migrate.StateApplied

	loaded, err := s.LoadVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0"}, loaded.Versions["1.0.0"].Dependents)
	assert.NotEqual(t, migrate.StateApplied, loaded.Versions["1.0.0"].State)
}

func TestStore_SaveAndLoadConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc := store.EmptyConflictsDocument()
	doc.Conflicts["c-1"] = &migrate.MigrationConflict{
		ID:            "c-1",
		Type:          migrate.ConflictVersionCollision,
		SourceVersion: "1.0.0",
		TargetVersion: "1.0.0",
	}

	require.NoError(t, s.SaveConflicts(ctx, doc))

	loaded, err := s.LoadConflicts(ctx)
	require.NoError(t, err)
	require.Contains(t, loaded.Conflicts, "c-1")
	assert.Equal(t, migrate.ConflictVersionCollision, loaded.Conflicts["c-1"].Type)
}

func TestStore_ListResults_FiltersAndOrders(t *testing.T) {
	s := New()
	ctx := context.Background()

	older := migrate.NewResult("1.0.0")
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := migrate.NewResult("1.0.0")
	other := migrate.NewResult("2.0.0")

	require.NoError(t, s.SaveResult(ctx, older))
	require.NoError(t, s.SaveResult(ctx, newer))
	require.NoError(t, s.SaveResult(ctx, other))

	results, err := s.ListResults(ctx, "1.0.0", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer.ID, results[0].ID)
	assert.Equal(t, older.ID, results[1].ID)

	all, err := s.ListResults(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.ListResults(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_SaveResult_UpdatesExistingAttempt(t *testing.T) {
	s := New()
	ctx := context.Background()

	result := migrate.NewResult("1.0.0")
	require.NoError(t, s.SaveResult(ctx, result))

	result.SetStatus(migrate.StatusCompleted)
	require.NoError(t, s.SaveResult(ctx, result))

	results, err := s.ListResults(ctx, "1.0.0", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, migrate.StatusCompleted, results[0].Status)
}

func TestStore_HonorsContextCancellation(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.SaveVersions(ctx, store.EmptyVersionsDocument()))
	_, err := s.LoadVersions(ctx)
	assert.Error(t, err)
	_, err = s.ListResults(ctx, "", 0)
	assert.Error(t, err)
}

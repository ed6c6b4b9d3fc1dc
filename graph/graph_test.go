package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/store"
	"github.com/schemaops/migrate-orchestrator/store/memory"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := New(Config{Store: memory.New()})
	require.NoError(t, err)
	return g
}

func mustCreate(t *testing.T, g *Graph, input CreateVersionInput) *migrate.MigrationVersion {
	t.Helper()
	v, err := g.CreateVersion(context.Background(), input)
	require.NoError(t, err)
	return v
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{})

	assert.ErrorContains(t, err, "store is required")
}

func TestCreateVersion_PopulatesNode(t *testing.T) {
	g := newTestGraph(t)

	v := mustCreate(t, g, CreateVersionInput{
		Version:       "1.4.2",
		Name:          "add index",
		CreatedBy:     "ops",
		DefinitionRef: "add_index",
	})

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, migrate.FormatSemantic, v.Format)
	assert.Equal(t, 1, v.Major)
	assert.Equal(t, 4, v.Minor)
	assert.Equal(t, 2, v.Patch)
	assert.Equal(t, 1, v.Sequence)
	assert.Equal(t, migrate.StateDraft, v.State)
	assert.Equal(t, "ops", v.CreatedBy)
}

func TestCreateVersion_MaintainsDependentBackReferences(t *testing.T) {
	g := newTestGraph(t)

	mustCreate(t, g, CreateVersionInput{Version: "1.0.0"})
	mustCreate(t, g, CreateVersionInput{
		Version: "1.1.0",
		Dependencies: []migrate.MigrationDependency{
			{TargetVersion: "1.0.0", Required: true},
		},
	})

	base, err := g.Version("1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0"}, base.Dependents)
}

func TestCreateVersion_DuplicateRecordsCollisionConflict(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, CreateVersionInput{Version: "1.0.0"})

	_, err := g.CreateVersion(context.Background(), CreateVersionInput{Version: "1.0.0"})

	var conflictErr *migrate.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, migrate.ConflictVersionCollision, conflictErr.Type)

	conflicts := g.Conflicts(true)
	require.Len(t, conflicts, 1)
	assert.Equal(t, migrate.ConflictVersionCollision, conflicts[0].Type)
	assert.Equal(t, "1.0.0", conflicts[0].SourceVersion)

	// The surviving version carries the conflict reference.
	v, err := g.Version("1.0.0")
	require.NoError(t, err)
	assert.Contains(t, v.ConflictIDs, conflicts[0].ID)
}

func TestCreateVersion_MutualDependencyRecordsConflict(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, CreateVersionInput{
		Version: "1.0.0",
		Dependencies: []migrate.MigrationDependency{
			{TargetVersion: "2.0.0", Required: false},
		},
	})

	_, err := g.CreateVersion(context.Background(), CreateVersionInput{
		Version: "2.0.0",
		Dependencies: []migrate.MigrationDependency{
			{TargetVersion: "1.0.0", Required: true},
		},
	})

	var conflictErr *migrate.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, migrate.ConflictDependency, conflictErr.Type)

	// The rejected version was not added.
	_, err = g.Version("2.0.0")
	assert.ErrorIs(t, err, migrate.ErrVersionNotFound)
}

func TestVersion_NotFound(t *testing.T) {
	g := newTestGraph(t)

	_, err := g.Version("9.9.9")

	assert.ErrorIs(t, err, migrate.ErrVersionNotFound)
}

func TestVersions_CreationOrder(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, CreateVersionInput{Version: "2.0.0"})
	mustCreate(t, g, CreateVersionInput{Version: "1.0.0"})
	mustCreate(t, g, CreateVersionInput{Version: "3.0.0"})

	versions := g.Versions()

	require.Len(t, versions, 3)
	assert.Equal(t, "2.0.0", versions[0].Version)
	assert.Equal(t, "1.0.0", versions[1].Version)
	assert.Equal(t, "3.0.0", versions[2].Version)
}

func TestMarkApplied_SetsAppliedMetadata(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, CreateVersionInput{Version: "1.0.0"})

	require.NoError(t, g.MarkApplied(context.Background(), "1.0.0", "ops"))

	v, err := g.Version("1.0.0")
	require.NoError(t, err)
	assert.Equal(t, migrate.StateApplied, v.State)
	assert.Equal(t, "ops", v.AppliedBy)
	require.NotNil(t, v.AppliedAt)
}

func TestMarkFailed_UnknownVersion(t *testing.T) {
	g := newTestGraph(t)

	err := g.MarkFailed(context.Background(), "1.0.0")

	assert.ErrorIs(t, err, migrate.ErrVersionNotFound)
}

func TestLoad_RestoresPersistedState(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	first, err := New(Config{Store: st})
	require.NoError(t, err)
	mustCreate(t, first, CreateVersionInput{Version: "1.0.0"})
	mustCreate(t, first, CreateVersionInput{Version: "1.1.0"})
	require.NoError(t, first.MarkApplied(ctx, "1.0.0", "ops"))

	second, err := New(Config{Store: st})
	require.NoError(t, err)
	require.NoError(t, second.Load(ctx))

	v, err := second.Version("1.0.0")
	require.NoError(t, err)
	assert.Equal(t, migrate.StateApplied, v.State)

	// Sequence numbering continues past the loaded versions.
	next := mustCreate(t, second, CreateVersionInput{Version: "1.2.0"})
	assert.Equal(t, 3, next.Sequence)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, migrate.FormatSemantic, DetectFormat("1.2.3"))
	assert.Equal(t, migrate.FormatTimestamp, DetectFormat("20260826153000"))
	assert.Equal(t, migrate.FormatSequential, DetectFormat("0042"))
	assert.Equal(t, migrate.FormatHash, DetectFormat("9f2ab31c04d7"))
	assert.Equal(t, migrate.FormatHash, DetectFormat("1.0.0_r1"))
}

func TestGenerateVersion_Semantic(t *testing.T) {
	g := newTestGraph(t)

	first, err := g.GenerateVersion(migrate.FormatSemantic)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", first)

	mustCreate(t, g, CreateVersionInput{Version: "1.4.2"})
	mustCreate(t, g, CreateVersionInput{Version: "0.9.0"})

	next, err := g.GenerateVersion(migrate.FormatSemantic)
	require.NoError(t, err)
	assert.Equal(t, "1.4.3", next)
}

func TestGenerateVersion_SequentialAndTimestamp(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, CreateVersionInput{Version: "0001"})

	seq, err := g.GenerateVersion(migrate.FormatSequential)
	require.NoError(t, err)
	assert.Equal(t, "0002", seq)

	ts, err := g.GenerateVersion(migrate.FormatTimestamp)
	require.NoError(t, err)
	assert.Len(t, ts, 14)
	assert.Equal(t, migrate.FormatTimestamp, DetectFormat(ts))
}

func TestGenerateVersion_HashIsUnique(t *testing.T) {
	g := newTestGraph(t)

	a, err := g.GenerateVersion(migrate.FormatHash)
	require.NoError(t, err)
	b, err := g.GenerateVersion(migrate.FormatHash)
	require.NoError(t, err)

	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
}

func TestGenerateVersion_UnknownFormat(t *testing.T) {
	g := newTestGraph(t)

	_, err := g.GenerateVersion(migrate.VersionFormat("roman"))

	assert.ErrorContains(t, err, "unknown version format")
}

// failingStore wraps a working store and fails version saves on demand.
type failingStore struct {
	store.RegistryStore
	failSaves bool
}

func (f *failingStore) SaveVersions(ctx context.Context, doc *store.VersionsDocument) error {
	if f.failSaves {
		return assert.AnError
	}
	return f.RegistryStore.SaveVersions(ctx, doc)
}

func TestCreateVersion_RollsBackOnPersistFailure(t *testing.T) {
	fs := &failingStore{RegistryStore: memory.New()}
	g, err := New(Config{Store: fs})
	require.NoError(t, err)

	fs.failSaves = true
	_, err = g.CreateVersion(context.Background(), CreateVersionInput{Version: "1.0.0"})
	require.Error(t, err)

	fs.failSaves = false
	_, err = g.Version("1.0.0")
	assert.ErrorIs(t, err, migrate.ErrVersionNotFound)
}

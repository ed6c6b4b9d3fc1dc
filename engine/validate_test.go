package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/config"
	"github.com/schemaops/migrate-orchestrator/driver"
	"github.com/schemaops/migrate-orchestrator/metrics"
)

func validationIssues(t *testing.T, err error) []string {
	t.Helper()
	var valErr *migrate.ValidationError
	require.ErrorAs(t, err, &valErr)
	return valErr.Issues
}

func TestValidateMigration_Passes(t *testing.T) {
	f := newFixture(t)
	def := registerDefinition(t, "", &testDefinition{})
	f.createVersion(t, "1.0.0", def.name)

	assert.NoError(t, f.eng.ValidateMigration(context.Background(), "1.0.0"))
}

func TestValidateMigration_AlreadyApplied(t *testing.T) {
	f := newFixture(t)
	def := registerDefinition(t, "", &testDefinition{})
	f.createVersion(t, "1.0.0", def.name)

	_, err := f.eng.ExecuteMigration(context.Background(), "1.0.0")
	require.NoError(t, err)

	issues := validationIssues(t, f.eng.ValidateMigration(context.Background(), "1.0.0"))
	assert.Contains(t, issues, "version is already applied")
}

func TestValidateMigration_UnregisteredDefinition(t *testing.T) {
	f := newFixture(t)
	f.createVersion(t, "1.0.0", "no_such_definition")

	issues := validationIssues(t, f.eng.ValidateMigration(context.Background(), "1.0.0"))
	assert.Contains(t, issues, `definition "no_such_definition" is not registered`)
}

func TestValidateMigration_MissingRequiredDependency(t *testing.T) {
	f := newFixture(t)
	def := registerDefinition(t, "", &testDefinition{})
	f.createVersion(t, "1.1.0", def.name, "1.0.0")

	issues := validationIssues(t, f.eng.ValidateMigration(context.Background(), "1.1.0"))
	assert.Contains(t, issues, "required dependency 1.0.0 does not exist")
}

func TestValidateMigration_UnresolvedConflict(t *testing.T) {
	f := newFixture(t)
	def := registerDefinition(t, "", &testDefinition{})
	f.createVersion(t, "1.0.0", def.name)

	// A duplicate version string records an unresolved collision.
	_, err := f.eng.Graph().CreateVersion(context.Background(), graphCreateInput("1.0.0", def.name))
	var conflictErr *migrate.ConflictError
	require.ErrorAs(t, err, &conflictErr)

	issues := validationIssues(t, f.eng.ValidateMigration(context.Background(), "1.0.0"))
	assert.Contains(t, issues, "unresolved version_collision with 1.0.0")
}

func TestValidateMigration_DestructiveChangesAreAdvisory(t *testing.T) {
	// Even with neither a backup nor auto-approval configured, destructive
	// changes warn and count; they do not block validation.
	cfg := config.Default()
	cfg.BackupEnabled = false
	cfg.AutoApprove = false
	f := newFixture(t, WithConfig(cfg))

	def := registerDefinition(t, "", &testDefinition{changes: []driver.Change{
		{Kind: driver.KindDropColumn, Table: "users", Column: "legacy"},
	}})
	f.createVersion(t, "1.0.0", def.name)

	before := testutil.ToFloat64(metrics.DestructiveChangesTotal.WithLabelValues("drop_column"))
	assert.NoError(t, f.eng.ValidateMigration(context.Background(), "1.0.0"))
	after := testutil.ToFloat64(metrics.DestructiveChangesTotal.WithLabelValues("drop_column"))
	assert.Equal(t, before+1, after)
}

func TestValidateMigration_UnreachableDatastore(t *testing.T) {
	mock := driver.NewMock(driver.NewMemory())
	mock.PingFunc = func(context.Context) error { return errors.New("connection refused") }

	f := newFixture(t, WithDriver(mock))
	def := registerDefinition(t, "", &testDefinition{})
	f.createVersion(t, "1.0.0", def.name)

	issues := validationIssues(t, f.eng.ValidateMigration(context.Background(), "1.0.0"))
	assert.Contains(t, issues, "datastore unreachable: connection refused")
}

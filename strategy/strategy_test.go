package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/config"
	"github.com/schemaops/migrate-orchestrator/driver"
	"github.com/schemaops/migrate-orchestrator/flags"
	"github.com/schemaops/migrate-orchestrator/metrics"
)

// declDefinition is a test definition that declares its changes.
type declDefinition struct {
	name       string
	changes    []driver.Change
	upgradeErr error
	upgrades   int
}

func (d *declDefinition) Name() string { return d.name }

func (d *declDefinition) Upgrade(ctx context.Context, mc *migrate.Context) error {
	d.upgrades++
	if d.upgradeErr != nil {
		return d.upgradeErr
	}
	for _, change := range d.changes {
		if err := mc.Driver.ApplyChange(ctx, change); err != nil {
			return err
		}
	}
	return nil
}

func (d *declDefinition) Downgrade(ctx context.Context, mc *migrate.Context) error {
	for i := len(d.changes) - 1; i >= 0; i-- {
		if err := mc.Driver.RevertChange(ctx, d.changes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *declDefinition) Changes() []driver.Change { return d.changes }

// plainDefinition declares nothing; strategies fall back to Upgrade.
type plainDefinition struct {
	upgradeErr error
	upgrades   int
}

func (d *plainDefinition) Name() string { return "plain" }

func (d *plainDefinition) Upgrade(context.Context, *migrate.Context) error {
	d.upgrades++
	return d.upgradeErr
}

func (d *plainDefinition) Downgrade(context.Context, *migrate.Context) error { return nil }

// newExecCtx builds an ExecContext with fast monitor windows for tests.
func newExecCtx(def migrate.Definition, d driver.Driver) *ExecContext {
	cfg := config.Default()
	cfg.BlueGreen.MonitorWindowSeconds = 0.05
	cfg.BlueGreen.MonitorIntervalSeconds = 0.005
	cfg.Gradual.StageWindowSeconds = 0.05
	cfg.Gradual.MonitorIntervalSeconds = 0.005
	cfg.Gradual.PauseSeconds = 0.01

	return &ExecContext{
		Definition: def,
		Version:    &migrate.MigrationVersion{Version: "1.0.0"},
		Result:     migrate.NewResult("1.0.0"),
		Driver:     d,
		Config:     cfg,
		Flags:      flags.NewMemory(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Collector:  metrics.NewCollector("test"),
	}
}

func TestNewRegistry_HasBuiltinStrategies(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{"backfill", "blue_green", "gradual", "standard", "zero_downtime"}, r.Names())
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	s, err := r.Get("zero_downtime")
	require.NoError(t, err)
	assert.Equal(t, "zero_downtime", s.Name())

	_, err = r.Get("teleport")
	assert.ErrorContains(t, err, `unknown strategy "teleport"`)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(&Standard{})

	s, err := r.Get("standard")
	require.NoError(t, err)
	assert.IsType(t, &Standard{}, s)
}

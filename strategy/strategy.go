// Package strategy contains the execution strategies that apply a migration
// to a live datastore: standard, zero-downtime, blue-green, gradual
// evolution and data backfill.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/config"
	"github.com/schemaops/migrate-orchestrator/driver"
	"github.com/schemaops/migrate-orchestrator/flags"
	"github.com/schemaops/migrate-orchestrator/metrics"
)

// ExecContext carries everything a strategy needs for one execution.
type ExecContext struct {
	// Definition is the migration content to execute.
	Definition migrate.Definition

	// Version is the graph node being applied.
	Version *migrate.MigrationVersion

	// Result collects status, metrics and affected resources. Strategies
	// and their monitors write to it concurrently.
	Result *migrate.MigrationResult

	// Driver talks to the datastore.
	Driver driver.Driver

	// Config is a snapshot of the engine configuration.
	Config config.Config

	// Flags gates compatibility layers and rollout stages.
	Flags flags.Store

	// Logger for strategy events.
	Logger *slog.Logger

	// Collector reports strategy metrics.
	Collector *metrics.Collector

	// Sample observes live error rates and latency for monitored windows.
	// Nil disables monitoring.
	Sample SampleFunc
}

// migrationContext builds the context handed to definition code.
func (ec *ExecContext) migrationContext() *migrate.Context {
	return &migrate.Context{
		Driver: ec.Driver,
		Config: ec.Config,
		Result: ec.Result,
	}
}

// Strategy applies one migration version to the datastore.
//
// Execute must leave the datastore in its pre-migration state when it
// returns an error, except where the returned error is wrapped in
// migrate.ErrManualInterventionRequired semantics by the engine.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, ec *ExecContext) error
}

// Registry holds the available strategies by name.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates a registry pre-populated with the built-in
// strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(&Standard{})
	r.Register(&ZeroDowntime{})
	r.Register(&BlueGreen{})
	r.Register(&Gradual{})
	r.Register(&Backfill{})
	return r
}

// Register adds a strategy, replacing any previous one with the same name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return s, nil
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

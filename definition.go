package migrate

import (
	"context"
	"sort"
	"sync"

	"github.com/schemaops/migrate-orchestrator/config"
	"github.com/schemaops/migrate-orchestrator/driver"
)

// Context carries everything a definition needs while executing. The Config
// field is a value snapshot; mutating it inside a definition has no effect
// on the engine.
type Context struct {
	Driver driver.Driver
	Config config.Config
	Result *MigrationResult
}

// Definition is executable migration content. Implementations are
// registered under a unique name and referenced from versions by
// DefinitionRef.
//
// Upgrade applies the migration; Downgrade reverts it. Both must honor ctx
// cancellation on blocking work.
type Definition interface {
	Name() string
	Upgrade(ctx context.Context, mc *Context) error
	Downgrade(ctx context.Context, mc *Context) error
}

// ChangeDeclarer is implemented by definitions that can describe their
// schema changes statically. Strategies that rewrite or stage changes
// (zero-downtime, blue-green, gradual) require it.
type ChangeDeclarer interface {
	Changes() []driver.Change
}

// BackfillDeclarer is implemented by definitions that carry backfill work.
// The data-backfill strategy discovers tasks through it without running
// the migration.
type BackfillDeclarer interface {
	BackfillTasks() []BackfillTask
}

var (
	registryMu  sync.RWMutex
	definitions = make(map[string]Definition)
)

// Register adds a definition to the process-wide registry. Registering two
// definitions under the same name panics; definition names are package-level
// constants and a collision is a programming error.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := definitions[def.Name()]; exists {
		panic("migrate: duplicate definition " + def.Name())
	}
	definitions[def.Name()] = def
}

// GetDefinition returns the definition registered under name.
func GetDefinition(name string) (Definition, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := definitions[name]
	if !ok {
		return nil, ErrDefinitionNotFound
	}
	return def, nil
}

// Definitions returns the registered definition names, sorted.
func Definitions() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

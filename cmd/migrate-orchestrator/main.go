// Command migrate-orchestrator manages the migration registry and runs
// migrations: version creation, dependency-ordered execution, rollback,
// conflict resolution and history.
//
// Usage:
//
//	migrate-orchestrator create --name add_users --format semantic
//	migrate-orchestrator upgrade 0.1.0
//	migrate-orchestrator status
//	migrate-orchestrator conflicts resolve <id> --strategy rename_source
//
// The registry backend is selected with --store (file, memory, postgres,
// mysql or sqlite); connection strings come from --dsn or REGISTRY_DSN.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin"
	"github.com/joho/godotenv"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	migrate "github.com/schemaops/migrate-orchestrator"
	"github.com/schemaops/migrate-orchestrator/backup"
	"github.com/schemaops/migrate-orchestrator/config"
	"github.com/schemaops/migrate-orchestrator/driver"
	"github.com/schemaops/migrate-orchestrator/engine"
	"github.com/schemaops/migrate-orchestrator/graph"
	"github.com/schemaops/migrate-orchestrator/metrics"
	"github.com/schemaops/migrate-orchestrator/pkg/migrations"
	"github.com/schemaops/migrate-orchestrator/store"
	filestore "github.com/schemaops/migrate-orchestrator/store/file"
	memorystore "github.com/schemaops/migrate-orchestrator/store/memory"
	pgstore "github.com/schemaops/migrate-orchestrator/store/postgres"
)

type cli struct {
	logger *slog.Logger
	cfg    config.Config

	storeKind string
	dsn       string
	storeDir  string

	metricsAddr string

	// create
	createName    string
	createFormat  string
	createVersion string
	createDesc    string
	createDeps    []string
	createDef     string

	// execution
	target    string
	appliedBy string
	limit     int

	// conflicts
	conflictID      string
	resolveStrategy string
	unresolvedOnly  bool

	// gen
	genAdapter string
	genOutput  string
	genName    string
	genPackage string
}

func main() {
	os.Exit(run())
}

func run() int {
	// Missing .env is fine; explicit environment wins anyway.
	_ = godotenv.Load()

	c := &cli{
		logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	c.cfg = cfg

	app := kingpin.New("migrate-orchestrator", "Schema migration orchestrator.")
	app.Flag("store", "Registry store backend: file, memory, postgres, mysql or sqlite.").
		Default("file").EnumVar(&c.storeKind, "file", "memory", "postgres", "mysql", "sqlite")
	app.Flag("dsn", "Registry connection string (or REGISTRY_DSN).").StringVar(&c.dsn)
	app.Flag("store-dir", "Directory for the file store.").Default(".migrate").StringVar(&c.storeDir)
	app.Flag("metrics-addr", "Expose Prometheus metrics on this address.").StringVar(&c.metricsAddr)
	app.Flag("strategy", "Execution strategy override.").StringVar(&c.cfg.Strategy)
	app.Flag("dry-run", "Validate and plan without executing.").BoolVar(&c.cfg.DryRun)
	app.Flag("applied-by", "Operator identity recorded on applied versions.").StringVar(&c.appliedBy)

	createCmd := app.Command("create", "Register a new migration version.")
	createCmd.Flag("name", "Short label for the migration.").Required().StringVar(&c.createName)
	createCmd.Flag("format", "Version format when generating: semantic, timestamp, sequential or hash.").
		Default("semantic").EnumVar(&c.createFormat, "semantic", "timestamp", "sequential", "hash")
	createCmd.Flag("version", "Explicit version string (skips generation).").StringVar(&c.createVersion)
	createCmd.Flag("description", "What the migration does.").StringVar(&c.createDesc)
	createCmd.Flag("depends-on", "Required dependency version (repeatable).").StringsVar(&c.createDeps)
	createCmd.Flag("definition", "Registered definition name.").StringVar(&c.createDef)
	createCmd.Action(c.create)

	upgradeCmd := app.Command("upgrade", "Apply one version and its unapplied dependencies.")
	upgradeCmd.Arg("version", "Target version.").Required().StringVar(&c.target)
	upgradeCmd.Action(c.upgrade)

	app.Command("upgrade-all", "Apply every unapplied version in dependency order.").Action(c.upgradeAll)

	rollbackCmd := app.Command("rollback", "Revert applied versions until the target is newest.")
	rollbackCmd.Arg("version", "Target version to roll back to.").Required().StringVar(&c.target)
	rollbackCmd.Action(c.rollback)

	validateCmd := app.Command("validate", "Validate a version without executing it.")
	validateCmd.Arg("version", "Version to validate.").Required().StringVar(&c.target)
	validateCmd.Action(c.validate)

	app.Command("status", "Show registry state.").Action(c.status)

	historyCmd := app.Command("history", "Show execution history.")
	historyCmd.Arg("version", "Limit to one version.").StringVar(&c.target)
	historyCmd.Flag("limit", "Maximum results.").Default("20").IntVar(&c.limit)
	historyCmd.Action(c.history)

	conflictsCmd := app.Command("conflicts", "Inspect and resolve conflicts.")
	listCmd := conflictsCmd.Command("list", "List recorded conflicts.")
	listCmd.Flag("unresolved", "Only unresolved conflicts.").BoolVar(&c.unresolvedOnly)
	listCmd.Action(c.listConflicts)
	resolveCmd := conflictsCmd.Command("resolve", "Resolve a conflict.")
	resolveCmd.Arg("id", "Conflict id.").Required().StringVar(&c.conflictID)
	resolveCmd.Flag("strategy", "rename_source, rename_target, merge or abort.").
		Required().EnumVar(&c.resolveStrategy, "rename_source", "rename_target", "merge", "abort")
	resolveCmd.Action(c.resolveConflict)

	genCmd := app.Command("gen", "Generate registry bootstrap SQL or a definition stub.")
	genCmd.Flag("adapter", "postgres, mysql, sqlite or stub.").
		Default("postgres").EnumVar(&c.genAdapter, "postgres", "mysql", "sqlite", "stub")
	genCmd.Flag("output", "Output folder.").Default("migrations").StringVar(&c.genOutput)
	genCmd.Flag("name", "Definition name for stub generation.").StringVar(&c.genName)
	genCmd.Flag("package", "Go package for stub generation.").Default("migrations").StringVar(&c.genPackage)
	genCmd.Action(c.generate)

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openStore builds the registry store selected on the command line.
func (c *cli) openStore() (store.RegistryStore, error) {
	switch c.storeKind {
	case "memory":
		return memorystore.New(), nil
	case "file":
		return filestore.New(c.storeDir)
	case "postgres", "mysql", "sqlite":
		dsn := config.GetRegistryDSN(c.dsn, "")
		if dsn == "" {
			return nil, fmt.Errorf("%s store requires --dsn or REGISTRY_DSN", c.storeKind)
		}
		driverName := c.storeKind
		if c.storeKind == "sqlite" {
			driverName = "sqlite3"
		}
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open registry database: %w", err)
		}
		return pgstore.New(db), nil
	}
	return nil, fmt.Errorf("unknown store %q", c.storeKind)
}

// buildEngine wires up the engine with the built-in memory driver. Embedders
// that migrate real datastores construct engine.New with their own driver.
func (c *cli) buildEngine(ctx context.Context) (*engine.Engine, *graph.Graph, error) {
	st, err := c.openStore()
	if err != nil {
		return nil, nil, err
	}

	g, err := graph.New(graph.Config{Store: st, Logger: c.logger})
	if err != nil {
		return nil, nil, err
	}
	if err := g.Load(ctx); err != nil {
		return nil, nil, err
	}

	if c.metricsAddr != "" {
		server := metrics.NewServer(c.metricsAddr)
		server.Start()
	}

	d := driver.NewMemory()
	eng, err := engine.New(
		engine.WithDriver(d),
		engine.WithStore(st),
		engine.WithGraph(g),
		engine.WithBackupManager(backup.NewMemory(d)),
		engine.WithConfig(c.cfg),
		engine.WithLogger(c.logger),
		engine.WithAppliedBy(c.appliedBy),
	)
	if err != nil {
		return nil, nil, err
	}
	return eng, g, nil
}

func (c *cli) create(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	_, g, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}

	version := c.createVersion
	if version == "" {
		version, err = g.GenerateVersion(migrate.VersionFormat(c.createFormat))
		if err != nil {
			return err
		}
	}

	deps := make([]migrate.MigrationDependency, 0, len(c.createDeps))
	for _, dep := range c.createDeps {
		deps = append(deps, migrate.MigrationDependency{TargetVersion: dep, Required: true})
	}

	v, err := g.CreateVersion(ctx, graph.CreateVersionInput{
		Version:       version,
		Name:          c.createName,
		Description:   c.createDesc,
		CreatedBy:     c.appliedBy,
		Dependencies:  deps,
		DefinitionRef: c.createDef,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created version %s (%s)\n", v.Version, v.Format)
	return nil
}

func (c *cli) upgrade(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, g, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}

	path, err := g.MigrationPath(c.target)
	if err != nil {
		return err
	}
	if len(path) == 0 {
		fmt.Printf("Nothing to do: %s is already applied\n", c.target)
		return nil
	}

	for _, v := range path {
		result, err := eng.ExecuteMigration(ctx, v.Version)
		if err != nil {
			return err
		}
		snap := result.Snapshot()
		fmt.Printf("Applied %s (%s in %s)\n", v.Version, snap.Status, snap.Duration)
	}
	return nil
}

func (c *cli) upgradeAll(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, _, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}

	results, err := eng.ExecutePending(ctx)
	for _, result := range results {
		snap := result.Snapshot()
		fmt.Printf("Applied %s (%s in %s)\n", snap.Version, snap.Status, snap.Duration)
	}
	return err
}

func (c *cli) rollback(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, _, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}

	result, err := eng.RollbackToVersion(ctx, c.target)
	if err != nil {
		return err
	}
	snap := result.Snapshot()
	fmt.Printf("Rolled back %d version(s), now at %s\n", len(snap.AffectedResources), c.target)
	return nil
}

func (c *cli) validate(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, _, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}

	if err := eng.ValidateMigration(ctx, c.target); err != nil {
		return err
	}
	fmt.Printf("Version %s is valid\n", c.target)
	return nil
}

func (c *cli) status(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, _, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}

	status, err := eng.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Versions: %d (%d applied, %d pending)\n",
		len(status.Versions), status.Applied, status.Pending)
	for _, v := range status.Versions {
		fmt.Printf("  %-20s %-12s %s\n", v.Version, v.State, v.Name)
	}
	if len(status.Conflicts) > 0 {
		fmt.Printf("Unresolved conflicts: %d (run 'conflicts list')\n", len(status.Conflicts))
	}
	if status.LastResult != nil {
		fmt.Printf("Last execution: %s -> %s\n", status.LastResult.Version, status.LastResult.Status)
	}
	return nil
}

func (c *cli) history(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, _, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}

	results, err := eng.History(ctx, c.target, c.limit)
	if err != nil {
		return err
	}

	for _, result := range results {
		line := fmt.Sprintf("%s  %-12s %s (%s)",
			result.StartedAt.Format("2006-01-02 15:04:05"),
			result.Status, result.Version, result.Duration)
		if result.ErrorMessage != "" {
			line += "  error: " + result.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}

func (c *cli) listConflicts(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	_, g, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}

	for _, conflict := range g.Conflicts(c.unresolvedOnly) {
		state := "unresolved"
		if conflict.Resolved {
			state = fmt.Sprintf("resolved (%s)", conflict.ResolutionStrategy)
		}
		fmt.Printf("%s  %-20s %s <-> %s  %s\n",
			conflict.ID, conflict.Type, conflict.SourceVersion, conflict.TargetVersion, state)
	}
	return nil
}

func (c *cli) resolveConflict(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	_, g, err := c.buildEngine(ctx)
	if err != nil {
		return err
	}

	strategy := migrate.ResolutionStrategy(c.resolveStrategy)
	if err := g.ResolveConflict(ctx, c.conflictID, strategy); err != nil {
		return err
	}
	fmt.Printf("Conflict %s resolved with %s\n", c.conflictID, strategy)
	return nil
}

func (c *cli) generate(_ *kingpin.ParseContext) error {
	if c.genAdapter == "stub" {
		if c.genName == "" {
			return fmt.Errorf("stub generation requires --name")
		}
		path, err := migrations.GenerateStub(&migrations.StubConfig{
			OutputFolder: c.genOutput,
			Package:      c.genPackage,
			Name:         c.genName,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Generated definition stub: %s\n", path)
		return nil
	}

	cfg := migrations.DefaultConfig()
	cfg.OutputFolder = c.genOutput

	var err error
	switch c.genAdapter {
	case "postgres":
		err = migrations.GeneratePostgres(&cfg)
	case "mysql":
		err = migrations.GenerateMySQL(&cfg)
	case "sqlite":
		err = migrations.GenerateSQLite(&cfg)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Generated %s migration: %s/%s\n", c.genAdapter, cfg.OutputFolder, cfg.OutputFilename)
	return nil
}

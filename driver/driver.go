package driver

import "context"

// Record is a single storage record keyed by field name.
type Record map[string]any

// ChangeKind identifies the kind of schema or data change a migration applies.
type ChangeKind string

const (
	// KindCreateTable creates a new table or collection.
	KindCreateTable ChangeKind = "create_table"

	// KindDropTable removes a table or collection and all of its data.
	KindDropTable ChangeKind = "drop_table"

	// KindAddColumn adds a field to an existing table.
	KindAddColumn ChangeKind = "add_column"

	// KindDropColumn removes a field and its data from an existing table.
	KindDropColumn ChangeKind = "drop_column"

	// KindAlterColumn changes the type or constraints of an existing field.
	KindAlterColumn ChangeKind = "alter_column"

	// KindAddIndex adds an index, taking whatever locks the storage needs.
	KindAddIndex ChangeKind = "add_index"

	// KindAddIndexConcurrent adds an index without blocking writers.
	KindAddIndexConcurrent ChangeKind = "add_index_concurrent"

	// KindTransformData rewrites existing records in place.
	KindTransformData ChangeKind = "transform_data"

	// KindDeleteData removes existing records.
	KindDeleteData ChangeKind = "delete_data"

	// KindMetadata records bookkeeping only; no structural or data effect.
	KindMetadata ChangeKind = "metadata"
)

// Change describes one schema or data operation. Changes are declarative:
// the engine never parses DDL, it hands the description to the driver.
type Change struct {
	// Kind is the operation to perform.
	Kind ChangeKind

	// Table is the table or collection the change targets.
	Table string

	// Column is the field the change targets, when the kind is column-scoped.
	Column string

	// Options carries driver-specific parameters (type names, defaults,
	// index expressions, transform descriptors).
	Options map[string]any
}

// Destructive reports whether applying the change can discard data.
func (c Change) Destructive() bool {
	switch c.Kind {
	case KindDropTable, KindDropColumn, KindDeleteData:
		return true
	}
	return false
}

// Driver is the capability contract the engine and its strategies require
// from a storage backend. Implementations must be safe for concurrent use.
type Driver interface {
	// Ping verifies connectivity to the storage backend.
	Ping(ctx context.Context) error

	// ApplyChange applies a single declarative change.
	ApplyChange(ctx context.Context, change Change) error

	// RevertChange undoes a previously applied change, best effort.
	RevertChange(ctx context.Context, change Change) error

	// CreateTableLike creates target with the same structure as source,
	// without copying any data.
	CreateTableLike(ctx context.Context, source, target string) error

	// RenameTable atomically renames a table.
	RenameTable(ctx context.Context, from, to string) error

	// DropTable removes a table and its data.
	DropTable(ctx context.Context, name string) error

	// CountRecords returns the number of records in a table.
	CountRecords(ctx context.Context, table string) (int64, error)

	// FetchBatch returns up to limit records starting at offset, in a
	// stable order.
	FetchBatch(ctx context.Context, table string, offset, limit int) ([]Record, error)

	// UpdateBatch writes the given records back to the table, matching by
	// the driver's notion of identity.
	UpdateBatch(ctx context.Context, table string, records []Record) error

	// FetchRecord returns the single record whose identity matches id.
	FetchRecord(ctx context.Context, table string, id any) (Record, error)

	// CopyBatch copies up to limit records starting at offset from source
	// to target and returns the number copied.
	CopyBatch(ctx context.Context, source, target string, offset, limit int) (int, error)

	// SampleRecords returns up to n records chosen from the table for
	// verification sampling.
	SampleRecords(ctx context.Context, table string, n int) ([]Record, error)

	// SetDualWrite enables or disables mirroring of every write on source
	// into target for the duration of a migration.
	SetDualWrite(ctx context.Context, source, target string, enabled bool) error
}

// EnvironmentDriver is an optional upgrade for drivers that can host
// multiple parallel environments (blue/green). Tables inside an environment
// are addressed with QualifiedTable.
type EnvironmentDriver interface {
	// CloneEnvironment creates target with the same table structure as
	// source. Data is not copied.
	CloneEnvironment(ctx context.Context, source, target string) error

	// DropEnvironment removes an environment and everything in it.
	DropEnvironment(ctx context.Context, name string) error

	// Tables lists the tables that exist in an environment.
	Tables(ctx context.Context, env string) ([]string, error)
}

// TrafficController is an optional upgrade for drivers that can route
// traffic between environments or between old and new code paths.
type TrafficController interface {
	// ActiveEnvironment returns the environment currently serving traffic.
	ActiveEnvironment(ctx context.Context) (string, error)

	// SwitchTraffic atomically routes all traffic to the named environment.
	SwitchTraffic(ctx context.Context, env string) error

	// ShiftTraffic routes the given percentage (0-100) of traffic to the
	// migrated path, leaving the remainder on the original path.
	ShiftTraffic(ctx context.Context, percent float64) error
}

// QualifiedTable addresses a table inside an environment. An empty env
// addresses the default namespace.
func QualifiedTable(env, table string) string {
	if env == "" {
		return table
	}
	return env + "." + table
}

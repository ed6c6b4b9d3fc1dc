package driver

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory reference Driver used for tests and demos.
// It implements Driver, EnvironmentDriver and TrafficController.
// All methods are safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	tables     map[string][]Record
	dualWrites map[string]string // source table -> mirror table
	activeEnv  string
	shift      float64
}

// NewMemory creates an empty in-memory driver with "blue" as the active
// environment.
func NewMemory() *Memory {
	return &Memory{
		tables:     make(map[string][]Record),
		dualWrites: make(map[string]string),
		activeEnv:  "blue",
	}
}

// Seed replaces the contents of a table. Records are deep-copied.
func (m *Memory) Seed(table string, records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = copyRecords(records)
}

// Table returns a copy of the current contents of a table.
func (m *Memory) Table(table string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyRecords(m.tables[table])
}

// HasTable reports whether a table exists.
func (m *Memory) HasTable(table string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tables[table]
	return ok
}

// Snapshot returns a deep copy of the full driver state, for backups.
func (m *Memory) Snapshot() map[string][]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string][]Record, len(m.tables))
	for name, recs := range m.tables {
		snap[name] = copyRecords(recs)
	}
	return snap
}

// RestoreSnapshot replaces the full driver state with a previously taken
// snapshot.
func (m *Memory) RestoreSnapshot(snap map[string][]Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = make(map[string][]Record, len(snap))
	for name, recs := range snap {
		m.tables[name] = copyRecords(recs)
	}
}

// Ping always succeeds for the in-memory driver.
func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ApplyChange applies a declarative change to the in-memory tables.
func (m *Memory) ApplyChange(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch change.Kind {
	case KindCreateTable:
		if _, ok := m.tables[change.Table]; ok {
			return fmt.Errorf("table %q already exists", change.Table)
		}
		m.tables[change.Table] = nil
	case KindDropTable:
		if _, ok := m.tables[change.Table]; !ok {
			return fmt.Errorf("table %q does not exist", change.Table)
		}
		delete(m.tables, change.Table)
	case KindAddColumn:
		recs, ok := m.tables[change.Table]
		if !ok {
			return fmt.Errorf("table %q does not exist", change.Table)
		}
		for _, r := range recs {
			if _, exists := r[change.Column]; !exists {
				r[change.Column] = change.Options["default"]
			}
		}
	case KindDropColumn:
		recs, ok := m.tables[change.Table]
		if !ok {
			return fmt.Errorf("table %q does not exist", change.Table)
		}
		for _, r := range recs {
			delete(r, change.Column)
		}
	case KindAlterColumn, KindAddIndex, KindAddIndexConcurrent, KindMetadata:
		if _, ok := m.tables[change.Table]; !ok && change.Table != "" {
			return fmt.Errorf("table %q does not exist", change.Table)
		}
	case KindTransformData:
		if _, ok := m.tables[change.Table]; !ok {
			return fmt.Errorf("table %q does not exist", change.Table)
		}
	case KindDeleteData:
		if _, ok := m.tables[change.Table]; !ok {
			return fmt.Errorf("table %q does not exist", change.Table)
		}
		m.tables[change.Table] = nil
	default:
		return fmt.Errorf("unknown change kind %q", change.Kind)
	}
	return nil
}

// RevertChange undoes a change where the in-memory driver can.
func (m *Memory) RevertChange(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch change.Kind {
	case KindCreateTable:
		delete(m.tables, change.Table)
	case KindAddColumn:
		for _, r := range m.tables[change.Table] {
			delete(r, change.Column)
		}
	case KindAddIndex, KindAddIndexConcurrent, KindMetadata, KindAlterColumn:
		// Nothing to undo in memory.
	default:
		return fmt.Errorf("cannot revert change kind %q", change.Kind)
	}
	return nil
}

// CreateTableLike creates an empty target table. The in-memory driver has no
// schema beyond record shape, so structure is implied.
func (m *Memory) CreateTableLike(ctx context.Context, source, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[source]; !ok {
		return fmt.Errorf("source table %q does not exist", source)
	}
	if _, ok := m.tables[target]; ok {
		return fmt.Errorf("target table %q already exists", target)
	}
	m.tables[target] = nil
	return nil
}

// RenameTable atomically renames a table.
func (m *Memory) RenameTable(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, ok := m.tables[from]
	if !ok {
		return fmt.Errorf("table %q does not exist", from)
	}
	if _, ok := m.tables[to]; ok {
		return fmt.Errorf("table %q already exists", to)
	}
	m.tables[to] = recs
	delete(m.tables, from)
	return nil
}

// DropTable removes a table and its data.
func (m *Memory) DropTable(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; !ok {
		return fmt.Errorf("table %q does not exist", name)
	}
	delete(m.tables, name)
	return nil
}

// CountRecords returns the number of records in a table.
func (m *Memory) CountRecords(ctx context.Context, table string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.tables[table]
	if !ok {
		return 0, fmt.Errorf("table %q does not exist", table)
	}
	return int64(len(recs)), nil
}

// FetchBatch returns up to limit records starting at offset.
func (m *Memory) FetchBatch(ctx context.Context, table string, offset, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", table)
	}
	if offset >= len(recs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	return copyRecords(recs[offset:end]), nil
}

// UpdateBatch replaces records matched by their "id" field; records without
// an id are appended.
func (m *Memory) UpdateBatch(ctx context.Context, table string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("table %q does not exist", table)
	}
	for _, upd := range records {
		id, hasID := upd["id"]
		replaced := false
		if hasID {
			for i, existing := range recs {
				if existing["id"] == id {
					recs[i] = copyRecord(upd)
					replaced = true
					break
				}
			}
		}
		if !replaced {
			recs = append(recs, copyRecord(upd))
		}
	}
	m.tables[table] = recs
	m.mirrorLocked(table)
	return nil
}

// FetchRecord returns the record whose "id" field matches id.
func (m *Memory) FetchRecord(ctx context.Context, table string, id any) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", table)
	}
	for _, r := range recs {
		if r["id"] == id {
			return copyRecord(r), nil
		}
	}
	return nil, fmt.Errorf("no record with id %v in table %q", id, table)
}

// CopyBatch copies up to limit records starting at offset from source to
// target.
func (m *Memory) CopyBatch(ctx context.Context, source, target string, offset, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.tables[source]
	if !ok {
		return 0, fmt.Errorf("table %q does not exist", source)
	}
	dst, ok := m.tables[target]
	if !ok {
		return 0, fmt.Errorf("table %q does not exist", target)
	}
	if offset >= len(src) {
		return 0, nil
	}
	end := offset + limit
	if end > len(src) {
		end = len(src)
	}
	m.tables[target] = append(dst, copyRecords(src[offset:end])...)
	return end - offset, nil
}

// SampleRecords returns up to n records chosen pseudo-randomly.
func (m *Memory) SampleRecords(ctx context.Context, table string, n int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", table)
	}
	if n >= len(recs) {
		return copyRecords(recs), nil
	}
	picked := rand.Perm(len(recs))[:n]
	sort.Ints(picked)
	out := make([]Record, 0, n)
	for _, i := range picked {
		out = append(out, copyRecord(recs[i]))
	}
	return out, nil
}

// SetDualWrite enables or disables mirroring of writes on source into target.
func (m *Memory) SetDualWrite(ctx context.Context, source, target string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		m.dualWrites[source] = target
	} else {
		delete(m.dualWrites, source)
	}
	return nil
}

// DualWriteEnabled reports whether writes on source are being mirrored.
func (m *Memory) DualWriteEnabled(source string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.dualWrites[source]
	return ok
}

// CloneEnvironment creates empty tables in target mirroring the structure of
// every table in source.
func (m *Memory) CloneEnvironment(ctx context.Context, source, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := source + "."
	found := false
	for name := range m.tables {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		found = true
		cloned := QualifiedTable(target, strings.TrimPrefix(name, prefix))
		if _, ok := m.tables[cloned]; !ok {
			m.tables[cloned] = nil
		}
	}
	if !found {
		return fmt.Errorf("environment %q has no tables", source)
	}
	return nil
}

// DropEnvironment removes every table in the named environment.
func (m *Memory) DropEnvironment(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := name + "."
	for table := range m.tables {
		if strings.HasPrefix(table, prefix) {
			delete(m.tables, table)
		}
	}
	return nil
}

// Tables lists the unqualified table names in an environment, sorted.
func (m *Memory) Tables(ctx context.Context, env string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := env + "."
	var names []string
	for name := range m.tables {
		if strings.HasPrefix(name, prefix) {
			names = append(names, strings.TrimPrefix(name, prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// ActiveEnvironment returns the environment currently serving traffic.
func (m *Memory) ActiveEnvironment(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeEnv, nil
}

// SwitchTraffic routes all traffic to the named environment.
func (m *Memory) SwitchTraffic(ctx context.Context, env string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeEnv = env
	m.shift = 0
	return nil
}

// ShiftTraffic routes a percentage of traffic to the migrated path.
func (m *Memory) ShiftTraffic(ctx context.Context, percent float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("traffic percent %v out of range [0,100]", percent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shift = percent
	return nil
}

// TrafficShift returns the current percentage routed to the migrated path.
func (m *Memory) TrafficShift() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shift
}

// mirrorLocked re-mirrors a table into its dual-write target. Caller holds mu.
func (m *Memory) mirrorLocked(table string) {
	target, ok := m.dualWrites[table]
	if !ok {
		return
	}
	if _, exists := m.tables[target]; !exists {
		return
	}
	m.tables[target] = copyRecords(m.tables[table])
}

func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func copyRecords(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = copyRecord(r)
	}
	return out
}

package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrders(m *Memory, n int) {
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, Record{"id": i, "total": i * 10})
	}
	m.Seed("orders", records)
}

func TestMemory_ApplyChange_CreateAndDropTable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.ApplyChange(ctx, Change{Kind: KindCreateTable, Table: "users"}))
	assert.True(t, m.HasTable("users"))

	err := m.ApplyChange(ctx, Change{Kind: KindCreateTable, Table: "users"})
	assert.ErrorContains(t, err, "already exists")

	require.NoError(t, m.ApplyChange(ctx, Change{Kind: KindDropTable, Table: "users"}))
	assert.False(t, m.HasTable("users"))
}

func TestMemory_ApplyChange_AddColumnBackfillsDefault(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed("users", []Record{{"id": 1}, {"id": 2}})

	err := m.ApplyChange(ctx, Change{
		Kind:    KindAddColumn,
		Table:   "users",
		Column:  "status",
		Options: map[string]any{"default": "active"},
	})
	require.NoError(t, err)

	for _, r := range m.Table("users") {
		assert.Equal(t, "active", r["status"])
	}
}

func TestMemory_ApplyChange_UnknownKind(t *testing.T) {
	m := NewMemory()

	err := m.ApplyChange(context.Background(), Change{Kind: "explode", Table: "users"})

	assert.ErrorContains(t, err, "unknown change kind")
}

func TestMemory_RevertChange_UndoesCreateAndAddColumn(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed("users", []Record{{"id": 1, "status": "active"}})

	require.NoError(t, m.RevertChange(ctx, Change{Kind: KindAddColumn, Table: "users", Column: "status"}))
	assert.NotContains(t, m.Table("users")[0], "status")

	require.NoError(t, m.RevertChange(ctx, Change{Kind: KindCreateTable, Table: "users"}))
	assert.False(t, m.HasTable("users"))
}

func TestMemory_RenameTable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedOrders(m, 3)

	require.NoError(t, m.RenameTable(ctx, "orders", "orders_old"))

	assert.False(t, m.HasTable("orders"))
	assert.Len(t, m.Table("orders_old"), 3)

	err := m.RenameTable(ctx, "missing", "anything")
	assert.ErrorContains(t, err, "does not exist")
}

func TestMemory_FetchBatch_RespectsOffsetAndLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedOrders(m, 10)

	batch, err := m.FetchBatch(ctx, "orders", 8, 5)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = m.FetchBatch(ctx, "orders", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestMemory_CopyBatch_CopiesIntoTarget(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedOrders(m, 25)
	require.NoError(t, m.CreateTableLike(ctx, "orders", "orders_shadow"))

	copied := 0
	offset := 0
	for {
		n, err := m.CopyBatch(ctx, "orders", "orders_shadow", offset, 10)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		copied += n
		offset += n
	}

	assert.Equal(t, 25, copied)
	assert.Len(t, m.Table("orders_shadow"), 25)
}

func TestMemory_FetchRecord_MatchesById(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed("users", []Record{{"id": 1, "name": "ada"}, {"id": 2, "name": "alan"}})

	rec, err := m.FetchRecord(ctx, "users", 2)
	require.NoError(t, err)
	assert.Equal(t, "alan", rec["name"])

	// The returned record is a copy.
	rec["name"] = "changed"
	assert.Equal(t, "alan", m.Table("users")[1]["name"])

	_, err = m.FetchRecord(ctx, "users", 99)
	assert.ErrorContains(t, err, "no record with id 99")

	_, err = m.FetchRecord(ctx, "missing", 1)
	assert.ErrorContains(t, err, "does not exist")
}

func TestMemory_UpdateBatch_UpsertsById(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed("users", []Record{{"id": 1, "name": "ada"}})

	err := m.UpdateBatch(ctx, "users", []Record{
		{"id": 1, "name": "grace"},
		{"id": 2, "name": "alan"},
	})
	require.NoError(t, err)

	recs := m.Table("users")
	require.Len(t, recs, 2)
	assert.Equal(t, "grace", recs[0]["name"])
}

func TestMemory_SetDualWrite_MirrorsWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed("users", []Record{{"id": 1}})
	require.NoError(t, m.CreateTableLike(ctx, "users", "users_shadow"))

	require.NoError(t, m.SetDualWrite(ctx, "users", "users_shadow", true))
	assert.True(t, m.DualWriteEnabled("users"))

	require.NoError(t, m.UpdateBatch(ctx, "users", []Record{{"id": 2}}))
	assert.Len(t, m.Table("users_shadow"), 2)

	require.NoError(t, m.SetDualWrite(ctx, "users", "users_shadow", false))
	require.NoError(t, m.UpdateBatch(ctx, "users", []Record{{"id": 3}}))
	assert.Len(t, m.Table("users_shadow"), 2)
}

func TestMemory_SampleRecords_BoundedByTableSize(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedOrders(m, 5)

	sample, err := m.SampleRecords(ctx, "orders", 3)
	require.NoError(t, err)
	assert.Len(t, sample, 3)

	sample, err = m.SampleRecords(ctx, "orders", 50)
	require.NoError(t, err)
	assert.Len(t, sample, 5)
}

func TestMemory_Environments(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed("blue.users", []Record{{"id": 1}})
	m.Seed("blue.orders", []Record{{"id": 1}})

	require.NoError(t, m.CloneEnvironment(ctx, "blue", "green"))

	tables, err := m.Tables(ctx, "green")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, tables)
	assert.Empty(t, m.Table("green.users"))

	require.NoError(t, m.DropEnvironment(ctx, "green"))
	tables, err = m.Tables(ctx, "green")
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestMemory_CloneEnvironment_EmptySource(t *testing.T) {
	m := NewMemory()

	err := m.CloneEnvironment(context.Background(), "purple", "green")

	assert.ErrorContains(t, err, "has no tables")
}

func TestMemory_Traffic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	env, err := m.ActiveEnvironment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "blue", env)

	require.NoError(t, m.ShiftTraffic(ctx, 25))
	assert.Equal(t, float64(25), m.TrafficShift())

	assert.Error(t, m.ShiftTraffic(ctx, 150))

	require.NoError(t, m.SwitchTraffic(ctx, "green"))
	env, err = m.ActiveEnvironment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "green", env)
	assert.Equal(t, float64(0), m.TrafficShift())
}

func TestMemory_SnapshotRestore(t *testing.T) {
	m := NewMemory()
	seedOrders(m, 3)

	snap := m.Snapshot()
	m.Seed("orders", []Record{{"id": 99}})
	require.Len(t, m.Table("orders"), 1)

	m.RestoreSnapshot(snap)
	assert.Len(t, m.Table("orders"), 3)
}

func TestChange_Destructive(t *testing.T) {
	assert.True(t, Change{Kind: KindDropTable}.Destructive())
	assert.True(t, Change{Kind: KindDropColumn}.Destructive())
	assert.True(t, Change{Kind: KindDeleteData}.Destructive())
	assert.False(t, Change{Kind: KindAddColumn}.Destructive())
	assert.False(t, Change{Kind: KindCreateTable}.Destructive())
}

func TestQualifiedTable(t *testing.T) {
	assert.Equal(t, "users", QualifiedTable("", "users"))
	assert.Equal(t, "green.users", QualifiedTable("green", "users"))
}

func TestMemory_ContextCancellation(t *testing.T) {
	m := NewMemory()
	seedOrders(m, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, m.Ping(ctx))
	assert.Error(t, m.ApplyChange(ctx, Change{Kind: KindCreateTable, Table: "x"}))
	_, err := m.FetchBatch(ctx, "orders", 0, 1)
	assert.Error(t, err)
}

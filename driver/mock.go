package driver

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a configurable mock implementation of Driver for use in tests.
// It allows overriding individual methods, tracking calls, and injecting
// errors for failure paths. When a Func field is nil the call is delegated
// to Fallback if one is set, otherwise it fails.
type Mock struct {
	mu sync.Mutex

	// Fallback handles any call whose Func field is nil.
	Fallback Driver

	// PingFunc is called by Ping if set.
	PingFunc func(ctx context.Context) error

	// ApplyChangeFunc is called by ApplyChange if set.
	ApplyChangeFunc func(ctx context.Context, change Change) error

	// RevertChangeFunc is called by RevertChange if set.
	RevertChangeFunc func(ctx context.Context, change Change) error

	// CreateTableLikeFunc is called by CreateTableLike if set.
	CreateTableLikeFunc func(ctx context.Context, source, target string) error

	// RenameTableFunc is called by RenameTable if set.
	RenameTableFunc func(ctx context.Context, from, to string) error

	// DropTableFunc is called by DropTable if set.
	DropTableFunc func(ctx context.Context, name string) error

	// CountRecordsFunc is called by CountRecords if set.
	CountRecordsFunc func(ctx context.Context, table string) (int64, error)

	// FetchBatchFunc is called by FetchBatch if set.
	FetchBatchFunc func(ctx context.Context, table string, offset, limit int) ([]Record, error)

	// UpdateBatchFunc is called by UpdateBatch if set.
	UpdateBatchFunc func(ctx context.Context, table string, records []Record) error

	// FetchRecordFunc is called by FetchRecord if set.
	FetchRecordFunc func(ctx context.Context, table string, id any) (Record, error)

	// CopyBatchFunc is called by CopyBatch if set.
	CopyBatchFunc func(ctx context.Context, source, target string, offset, limit int) (int, error)

	// SampleRecordsFunc is called by SampleRecords if set.
	SampleRecordsFunc func(ctx context.Context, table string, n int) ([]Record, error)

	// SetDualWriteFunc is called by SetDualWrite if set.
	SetDualWriteFunc func(ctx context.Context, source, target string, enabled bool) error

	// CloneEnvironmentFunc is called by CloneEnvironment if set.
	CloneEnvironmentFunc func(ctx context.Context, source, target string) error

	// DropEnvironmentFunc is called by DropEnvironment if set.
	DropEnvironmentFunc func(ctx context.Context, name string) error

	// TablesFunc is called by Tables if set.
	TablesFunc func(ctx context.Context, env string) ([]string, error)

	// ActiveEnvironmentFunc is called by ActiveEnvironment if set.
	ActiveEnvironmentFunc func(ctx context.Context) (string, error)

	// SwitchTrafficFunc is called by SwitchTraffic if set.
	SwitchTrafficFunc func(ctx context.Context, env string) error

	// ShiftTrafficFunc is called by ShiftTraffic if set.
	ShiftTrafficFunc func(ctx context.Context, percent float64) error

	// Call tracking
	ApplyChangeCalls  []Change
	RevertChangeCalls []Change
	RenameTableCalls  []RenameTableCall
	DropTableCalls    []string
	CopyBatchCalls    []CopyBatchCall
	UpdateBatchCalls  []UpdateBatchCall
	PingCalls         int

	DropEnvironmentCalls []string
	SwitchTrafficCalls   []string
	ShiftTrafficCalls    []float64
}

// RenameTableCall records one RenameTable invocation.
type RenameTableCall struct {
	From string
	To   string
}

// CopyBatchCall records one CopyBatch invocation.
type CopyBatchCall struct {
	Source string
	Target string
	Offset int
	Limit  int
}

// UpdateBatchCall records one UpdateBatch invocation.
type UpdateBatchCall struct {
	Table   string
	Records []Record
}

// NewMock creates a mock driver delegating unset methods to fallback.
// A nil fallback is allowed; unset methods then return an error.
func NewMock(fallback Driver) *Mock {
	return &Mock{Fallback: fallback}
}

var errNoMockBehavior = fmt.Errorf("mock driver: no behavior configured")

// Ping implements Driver.
func (m *Mock) Ping(ctx context.Context) error {
	m.mu.Lock()
	m.PingCalls++
	m.mu.Unlock()
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	if m.Fallback != nil {
		return m.Fallback.Ping(ctx)
	}
	return errNoMockBehavior
}

// ApplyChange implements Driver.
func (m *Mock) ApplyChange(ctx context.Context, change Change) error {
	m.mu.Lock()
	m.ApplyChangeCalls = append(m.ApplyChangeCalls, change)
	m.mu.Unlock()
	if m.ApplyChangeFunc != nil {
		return m.ApplyChangeFunc(ctx, change)
	}
	if m.Fallback != nil {
		return m.Fallback.ApplyChange(ctx, change)
	}
	return errNoMockBehavior
}

// RevertChange implements Driver.
func (m *Mock) RevertChange(ctx context.Context, change Change) error {
	m.mu.Lock()
	m.RevertChangeCalls = append(m.RevertChangeCalls, change)
	m.mu.Unlock()
	if m.RevertChangeFunc != nil {
		return m.RevertChangeFunc(ctx, change)
	}
	if m.Fallback != nil {
		return m.Fallback.RevertChange(ctx, change)
	}
	return errNoMockBehavior
}

// CreateTableLike implements Driver.
func (m *Mock) CreateTableLike(ctx context.Context, source, target string) error {
	if m.CreateTableLikeFunc != nil {
		return m.CreateTableLikeFunc(ctx, source, target)
	}
	if m.Fallback != nil {
		return m.Fallback.CreateTableLike(ctx, source, target)
	}
	return errNoMockBehavior
}

// RenameTable implements Driver.
func (m *Mock) RenameTable(ctx context.Context, from, to string) error {
	m.mu.Lock()
	m.RenameTableCalls = append(m.RenameTableCalls, RenameTableCall{From: from, To: to})
	m.mu.Unlock()
	if m.RenameTableFunc != nil {
		return m.RenameTableFunc(ctx, from, to)
	}
	if m.Fallback != nil {
		return m.Fallback.RenameTable(ctx, from, to)
	}
	return errNoMockBehavior
}

// DropTable implements Driver.
func (m *Mock) DropTable(ctx context.Context, name string) error {
	m.mu.Lock()
	m.DropTableCalls = append(m.DropTableCalls, name)
	m.mu.Unlock()
	if m.DropTableFunc != nil {
		return m.DropTableFunc(ctx, name)
	}
	if m.Fallback != nil {
		return m.Fallback.DropTable(ctx, name)
	}
	return errNoMockBehavior
}

// CountRecords implements Driver.
func (m *Mock) CountRecords(ctx context.Context, table string) (int64, error) {
	if m.CountRecordsFunc != nil {
		return m.CountRecordsFunc(ctx, table)
	}
	if m.Fallback != nil {
		return m.Fallback.CountRecords(ctx, table)
	}
	return 0, errNoMockBehavior
}

// FetchBatch implements Driver.
func (m *Mock) FetchBatch(ctx context.Context, table string, offset, limit int) ([]Record, error) {
	if m.FetchBatchFunc != nil {
		return m.FetchBatchFunc(ctx, table, offset, limit)
	}
	if m.Fallback != nil {
		return m.Fallback.FetchBatch(ctx, table, offset, limit)
	}
	return nil, errNoMockBehavior
}

// FetchRecord implements Driver.
func (m *Mock) FetchRecord(ctx context.Context, table string, id any) (Record, error) {
	if m.FetchRecordFunc != nil {
		return m.FetchRecordFunc(ctx, table, id)
	}
	if m.Fallback != nil {
		return m.Fallback.FetchRecord(ctx, table, id)
	}
	return nil, errNoMockBehavior
}

// UpdateBatch implements Driver.
func (m *Mock) UpdateBatch(ctx context.Context, table string, records []Record) error {
	m.mu.Lock()
	m.UpdateBatchCalls = append(m.UpdateBatchCalls, UpdateBatchCall{Table: table, Records: records})
	m.mu.Unlock()
	if m.UpdateBatchFunc != nil {
		return m.UpdateBatchFunc(ctx, table, records)
	}
	if m.Fallback != nil {
		return m.Fallback.UpdateBatch(ctx, table, records)
	}
	return errNoMockBehavior
}

// CopyBatch implements Driver.
func (m *Mock) CopyBatch(ctx context.Context, source, target string, offset, limit int) (int, error) {
	m.mu.Lock()
	m.CopyBatchCalls = append(m.CopyBatchCalls, CopyBatchCall{Source: source, Target: target, Offset: offset, Limit: limit})
	m.mu.Unlock()
	if m.CopyBatchFunc != nil {
		return m.CopyBatchFunc(ctx, source, target, offset, limit)
	}
	if m.Fallback != nil {
		return m.Fallback.CopyBatch(ctx, source, target, offset, limit)
	}
	return 0, errNoMockBehavior
}

// SampleRecords implements Driver.
func (m *Mock) SampleRecords(ctx context.Context, table string, n int) ([]Record, error) {
	if m.SampleRecordsFunc != nil {
		return m.SampleRecordsFunc(ctx, table, n)
	}
	if m.Fallback != nil {
		return m.Fallback.SampleRecords(ctx, table, n)
	}
	return nil, errNoMockBehavior
}

// SetDualWrite implements Driver.
func (m *Mock) SetDualWrite(ctx context.Context, source, target string, enabled bool) error {
	if m.SetDualWriteFunc != nil {
		return m.SetDualWriteFunc(ctx, source, target, enabled)
	}
	if m.Fallback != nil {
		return m.Fallback.SetDualWrite(ctx, source, target, enabled)
	}
	return errNoMockBehavior
}

// CloneEnvironment implements EnvironmentDriver.
func (m *Mock) CloneEnvironment(ctx context.Context, source, target string) error {
	if m.CloneEnvironmentFunc != nil {
		return m.CloneEnvironmentFunc(ctx, source, target)
	}
	if fb, ok := m.Fallback.(EnvironmentDriver); ok {
		return fb.CloneEnvironment(ctx, source, target)
	}
	return errNoMockBehavior
}

// DropEnvironment implements EnvironmentDriver.
func (m *Mock) DropEnvironment(ctx context.Context, name string) error {
	m.mu.Lock()
	m.DropEnvironmentCalls = append(m.DropEnvironmentCalls, name)
	m.mu.Unlock()
	if m.DropEnvironmentFunc != nil {
		return m.DropEnvironmentFunc(ctx, name)
	}
	if fb, ok := m.Fallback.(EnvironmentDriver); ok {
		return fb.DropEnvironment(ctx, name)
	}
	return errNoMockBehavior
}

// Tables implements EnvironmentDriver.
func (m *Mock) Tables(ctx context.Context, env string) ([]string, error) {
	if m.TablesFunc != nil {
		return m.TablesFunc(ctx, env)
	}
	if fb, ok := m.Fallback.(EnvironmentDriver); ok {
		return fb.Tables(ctx, env)
	}
	return nil, errNoMockBehavior
}

// ActiveEnvironment implements TrafficController.
func (m *Mock) ActiveEnvironment(ctx context.Context) (string, error) {
	if m.ActiveEnvironmentFunc != nil {
		return m.ActiveEnvironmentFunc(ctx)
	}
	if fb, ok := m.Fallback.(TrafficController); ok {
		return fb.ActiveEnvironment(ctx)
	}
	return "", errNoMockBehavior
}

// SwitchTraffic implements TrafficController.
func (m *Mock) SwitchTraffic(ctx context.Context, env string) error {
	m.mu.Lock()
	m.SwitchTrafficCalls = append(m.SwitchTrafficCalls, env)
	m.mu.Unlock()
	if m.SwitchTrafficFunc != nil {
		return m.SwitchTrafficFunc(ctx, env)
	}
	if fb, ok := m.Fallback.(TrafficController); ok {
		return fb.SwitchTraffic(ctx, env)
	}
	return errNoMockBehavior
}

// ShiftTraffic implements TrafficController.
func (m *Mock) ShiftTraffic(ctx context.Context, percent float64) error {
	m.mu.Lock()
	m.ShiftTrafficCalls = append(m.ShiftTrafficCalls, percent)
	m.mu.Unlock()
	if m.ShiftTrafficFunc != nil {
		return m.ShiftTrafficFunc(ctx, percent)
	}
	if fb, ok := m.Fallback.(TrafficController); ok {
		return fb.ShiftTraffic(ctx, percent)
	}
	return errNoMockBehavior
}

package backup

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/schemaops/migrate-orchestrator/driver"
)

// Memory snapshots an in-memory driver. Used in tests and examples.
type Memory struct {
	mu        sync.Mutex
	driver    *driver.Memory
	snapshots map[string]map[string][]driver.Record
}

// NewMemory creates a backup manager over the given in-memory driver.
func NewMemory(d *driver.Memory) *Memory {
	return &Memory{
		driver:    d,
		snapshots: make(map[string]map[string][]driver.Record),
	}
}

func (m *Memory) Create(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.snapshots[id] = m.driver.Snapshot()
	return id, nil
}

func (m *Memory) Restore(ctx context.Context, backupID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[backupID]
	if !ok {
		return fmt.Errorf("backup %s not found", backupID)
	}
	m.driver.RestoreSnapshot(snap)
	return nil
}

// Count returns the number of retained snapshots.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

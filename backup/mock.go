package backup

import (
	"context"
	"errors"
)

var errNoMockBehavior = errors.New("mock: no behavior defined")

// Mock is a test double for Manager. Set the function fields to control
// behavior; calls are recorded for assertions.
type Mock struct {
	CreateFunc  func(ctx context.Context) (string, error)
	RestoreFunc func(ctx context.Context, backupID string) error

	CreateCalls  int
	RestoreCalls []string
}

func (m *Mock) Create(ctx context.Context) (string, error) {
	m.CreateCalls++
	if m.CreateFunc == nil {
		return "", errNoMockBehavior
	}
	return m.CreateFunc(ctx)
}

func (m *Mock) Restore(ctx context.Context, backupID string) error {
	m.RestoreCalls = append(m.RestoreCalls, backupID)
	if m.RestoreFunc == nil {
		return errNoMockBehavior
	}
	return m.RestoreFunc(ctx, backupID)
}

// Package backup takes and restores pre-migration backups.
package backup

import "context"

// Manager creates backups before a migration runs and restores them when
// rollback-on-failure fires.
type Manager interface {
	// Create takes a backup of the current datastore state and returns an
	// identifier usable with Restore.
	Create(ctx context.Context) (string, error)

	// Restore brings the datastore back to the state captured by the
	// identified backup.
	Restore(ctx context.Context, backupID string) error
}

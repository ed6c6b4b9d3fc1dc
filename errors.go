package migrate

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionNotFound indicates the version string does not exist in the
	// graph.
	ErrVersionNotFound = errors.New("version not found")

	// ErrConflictNotFound indicates the conflict id does not exist.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrDefinitionNotFound indicates no definition is registered under the
	// requested name.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrMergeUnsupported indicates the merge resolution strategy was
	// requested. Merging two conflicting versions requires operator
	// judgement, so the conflict stays unresolved.
	ErrMergeUnsupported = errors.New("merge resolution not supported")

	// ErrManualInterventionRequired indicates a migration failed and the
	// automatic restore of its backup also failed. The datastore may be in
	// a partially migrated state and an operator must repair it.
	ErrManualInterventionRequired = errors.New("manual intervention required")
)

// ValidationError indicates a migration failed pre-execution validation.
type ValidationError struct {
	Version string
	Issues  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("migration %s failed validation: %d issue(s): %v", e.Version, len(e.Issues), e.Issues)
}

// DependencyError indicates the version graph cannot produce a valid
// ordering.
type DependencyError struct {
	// Kind is "cycle" or "missing".
	Kind string

	// Versions are the versions involved, in detection order.
	Versions []string
}

func (e *DependencyError) Error() string {
	switch e.Kind {
	case "cycle":
		return fmt.Sprintf("dependency cycle involving versions %v", e.Versions)
	case "missing":
		return fmt.Sprintf("missing required dependency target(s) %v", e.Versions)
	}
	return fmt.Sprintf("dependency error (%s) involving versions %v", e.Kind, e.Versions)
}

// ConflictError indicates an operation is blocked by a detected conflict.
type ConflictError struct {
	Type          ConflictType
	SourceVersion string
	TargetVersion string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s between %s and %s", e.Type, e.SourceVersion, e.TargetVersion)
}

// ExecutionError wraps a failure from a strategy, annotated with where in
// the execution it occurred.
type ExecutionError struct {
	Version string
	Stage   string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("migration %s failed during %s: %v", e.Version, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ThresholdBreachError indicates a monitored metric exceeded its configured
// threshold during a progressive rollout or post-switch window.
type ThresholdBreachError struct {
	Metric    string
	Value     float64
	Threshold float64
}

func (e *ThresholdBreachError) Error() string {
	return fmt.Sprintf("threshold breach: %s=%.2f exceeds %.2f", e.Metric, e.Value, e.Threshold)
}

// RollbackError indicates a rollback attempt itself failed.
type RollbackError struct {
	Version string
	Err     error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of %s failed: %v", e.Version, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// BackupError indicates the pre-migration backup could not be created.
type BackupError struct {
	Version string
	Err     error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup for %s failed: %v", e.Version, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// RestoreError indicates restoring a backup failed.
type RestoreError struct {
	BackupID string
	Err      error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore of backup %s failed: %v", e.BackupID, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

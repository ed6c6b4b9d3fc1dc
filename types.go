package migrate

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schemaops/migrate-orchestrator/driver"
)

// VersionFormat identifies how a version string is structured.
type VersionFormat string

const (
	// FormatSemantic is a semantic version string such as "1.4.2".
	FormatSemantic VersionFormat = "semantic"

	// FormatTimestamp is a UTC timestamp version such as "20260826153000".
	FormatTimestamp VersionFormat = "timestamp"

	// FormatSequential is a zero-padded counter version such as "0042".
	FormatSequential VersionFormat = "sequential"

	// FormatHash is an opaque content-derived version such as "9f2ab31c04d7".
	FormatHash VersionFormat = "hash"
)

// VersionState represents the lifecycle state of a migration version.
type VersionState string

const (
	// StateDraft indicates the version exists but is not ready to apply.
	StateDraft VersionState = "draft"

	// StateStaged indicates the version is validated and queued to apply.
	StateStaged VersionState = "staged"

	// StateApplied indicates the version's upgrade completed.
	StateApplied VersionState = "applied"

	// StateFailed indicates the most recent execution attempt failed.
	StateFailed VersionState = "failed"

	// StateRolledBack indicates the version was applied and later reverted.
	StateRolledBack VersionState = "rolled_back"
)

// MigrationDependency declares that one version must be applied after
// another. The declaring version owns the edge.
type MigrationDependency struct {
	// TargetVersion is the version that must be applied first.
	TargetVersion string `json:"target_version"`

	// Required blocks validation when the target is missing. Optional
	// dependencies only influence ordering when the target exists.
	Required bool `json:"required"`

	// Reason documents why the dependency exists.
	Reason string `json:"reason,omitempty"`
}

// ConflictType classifies a detected incompatibility between versions.
type ConflictType string

const (
	// ConflictVersionCollision is a duplicate version string.
	ConflictVersionCollision ConflictType = "version_collision"

	// ConflictDependency is a mutual or circular dependency pair.
	ConflictDependency ConflictType = "dependency_conflict"

	// ConflictSchema is an incompatible pair of schema changes.
	ConflictSchema ConflictType = "schema_conflict"

	// ConflictData is an incompatible pair of data changes.
	ConflictData ConflictType = "data_conflict"
)

// ResolutionStrategy selects how a conflict is resolved.
type ResolutionStrategy string

const (
	// ResolveRenameSource mints a new version string for the source version
	// and re-points every edge that referenced the old one.
	ResolveRenameSource ResolutionStrategy = "rename_source"

	// ResolveRenameTarget renames the target version instead.
	ResolveRenameTarget ResolutionStrategy = "rename_target"

	// ResolveMerge is accepted as input but never succeeds; resolving with
	// it returns ErrMergeUnsupported.
	ResolveMerge ResolutionStrategy = "merge"

	// ResolveAbort deletes the source version from the graph.
	ResolveAbort ResolutionStrategy = "abort"
)

// MigrationConflict records a detected incompatibility. Conflicts are
// created by the version graph and mutated only through resolution.
type MigrationConflict struct {
	// ID is the unique identifier for this conflict (UUID).
	ID string `json:"id"`

	// Type classifies the conflict.
	Type ConflictType `json:"type"`

	// SourceVersion is the version that introduced the conflict.
	SourceVersion string `json:"source_version"`

	// TargetVersion is the pre-existing version it conflicts with.
	TargetVersion string `json:"target_version"`

	// Description explains the conflict in operator-readable terms.
	Description string `json:"description"`

	// ResolutionStrategy is set when the conflict is resolved.
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy,omitempty"`

	// Resolved indicates the conflict no longer blocks ordering.
	Resolved bool `json:"resolved"`

	// ResolvedAt is when the conflict was resolved.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// MigrationVersion is one node in the version graph.
type MigrationVersion struct {
	// ID is the unique identifier for this version (UUID).
	ID string `json:"id"`

	// Version is the globally unique version string. It changes when the
	// version is renamed during conflict resolution.
	Version string `json:"version"`

	// Name is a short human-readable label.
	Name string `json:"name"`

	// Description explains what the migration does.
	Description string `json:"description,omitempty"`

	// Format is the detected structure of the version string.
	Format VersionFormat `json:"format"`

	// Major, Minor and Patch are the parsed components for semantic
	// versions; zero for other formats.
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`

	// Sequence is the creation-time ordinal, used for deterministic
	// tie-breaking in the dependency order.
	Sequence int `json:"sequence"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by,omitempty"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	AppliedBy string     `json:"applied_by,omitempty"`

	// Dependencies are the edges this version declares.
	Dependencies []MigrationDependency `json:"dependencies,omitempty"`

	// Dependents are the version strings that declare a dependency on this
	// version. Back-references maintained by the graph, never edges.
	Dependents []string `json:"dependents,omitempty"`

	// State is the lifecycle state of the version.
	State VersionState `json:"state"`

	// ConflictIDs reference conflicts involving this version.
	ConflictIDs []string `json:"conflict_ids,omitempty"`

	// DefinitionRef names the registered definition this version executes.
	DefinitionRef string `json:"definition_ref,omitempty"`

	// RollbackRef names the definition used to roll back when it differs
	// from DefinitionRef's downgrade.
	RollbackRef string `json:"rollback_ref,omitempty"`

	// Checksum fingerprints the definition content.
	Checksum string `json:"checksum,omitempty"`

	Tags   []string          `json:"tags,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// DependsOn reports whether the version declares a dependency on target.
func (v *MigrationVersion) DependsOn(target string) bool {
	for _, dep := range v.Dependencies {
		if dep.TargetVersion == target {
			return true
		}
	}
	return false
}

// ResultStatus represents the lifecycle state of one execution attempt.
type ResultStatus string

const (
	// StatusPending indicates the result exists but execution has not
	// started.
	StatusPending ResultStatus = "pending"

	// StatusRunning indicates the strategy is executing.
	StatusRunning ResultStatus = "running"

	// StatusCompleted indicates execution finished successfully. Terminal.
	StatusCompleted ResultStatus = "completed"

	// StatusFailed indicates execution failed and no restore happened.
	// Terminal.
	StatusFailed ResultStatus = "failed"

	// StatusRolledBack indicates execution failed and the pre-migration
	// backup was restored. Terminal.
	StatusRolledBack ResultStatus = "rolled_back"
)

// Terminal reports whether the status can no longer change.
func (s ResultStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// MigrationResult is the per-execution record. A strategy and its background
// monitor may mutate it concurrently, so all mutators hold the result lock
// and metric writes are additive by key.
type MigrationResult struct {
	mu sync.Mutex

	// ID is the unique identifier for this execution attempt (UUID).
	ID string `json:"id"`

	// Version is the migration version this attempt executed.
	Version string `json:"version"`

	// Status is the lifecycle state of the attempt.
	Status ResultStatus `json:"status"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitzero"`
	Duration    time.Duration `json:"duration"`

	// ErrorMessage holds the annotated failure when the attempt failed.
	ErrorMessage string `json:"error_message,omitempty"`

	// BackupID references the pre-migration backup, when one was taken.
	BackupID string `json:"backup_id,omitempty"`

	// AffectedResources lists the tables the migration touched.
	AffectedResources []string `json:"affected_resources,omitempty"`

	// Metrics holds strategy- and monitor-reported measurements.
	Metrics map[string]any `json:"metrics,omitempty"`
}

// NewResult creates a pending result for one execution attempt.
func NewResult(version string) *MigrationResult {
	return &MigrationResult{
		ID:        uuid.New().String(),
		Version:   version,
		Status:    StatusPending,
		StartedAt: time.Now(),
		Metrics:   make(map[string]any),
	}
}

// SetStatus transitions the result. Transitions away from a terminal status
// are ignored.
func (r *MigrationResult) SetStatus(status ResultStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status.Terminal() {
		return
	}
	r.Status = status
	if status.Terminal() {
		r.CompletedAt = time.Now()
		r.Duration = r.CompletedAt.Sub(r.StartedAt)
	}
}

// CurrentStatus returns the status under the result lock.
func (r *MigrationResult) CurrentStatus() ResultStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status
}

// Fail records the error message and transitions to failed.
func (r *MigrationResult) Fail(err error) {
	r.mu.Lock()
	if !r.Status.Terminal() && err != nil {
		r.ErrorMessage = err.Error()
	}
	r.mu.Unlock()
	r.SetStatus(StatusFailed)
}

// RecordRollback marks a failed attempt as rolled back after its backup
// was restored.
func (r *MigrationResult) RecordRollback() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status == StatusFailed {
		r.Status = StatusRolledBack
	}
}

// SetMetric stores a measurement, replacing any previous value for the key.
func (r *MigrationResult) SetMetric(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Metrics == nil {
		r.Metrics = make(map[string]any)
	}
	r.Metrics[key] = value
}

// AddMetric accumulates a numeric measurement under the key.
func (r *MigrationResult) AddMetric(key string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Metrics == nil {
		r.Metrics = make(map[string]any)
	}
	current, _ := r.Metrics[key].(float64)
	r.Metrics[key] = current + delta
}

// Metric returns the value stored under key.
func (r *MigrationResult) Metric(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.Metrics[key]
	return v, ok
}

// AppendAffectedResource records a touched resource, deduplicated.
func (r *MigrationResult) AppendAffectedResource(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.AffectedResources {
		if existing == name {
			return
		}
	}
	r.AffectedResources = append(r.AffectedResources, name)
}

// SetBackupID records the pre-migration backup reference.
func (r *MigrationResult) SetBackupID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BackupID = id
}

// Snapshot returns a deep copy safe to persist while monitors may still be
// writing.
func (r *MigrationResult) Snapshot() *MigrationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := &MigrationResult{
		ID:           r.ID,
		Version:      r.Version,
		Status:       r.Status,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		Duration:     r.Duration,
		ErrorMessage: r.ErrorMessage,
		BackupID:     r.BackupID,
		Metrics:      make(map[string]any, len(r.Metrics)),
	}
	snap.AffectedResources = append(snap.AffectedResources, r.AffectedResources...)
	for k, v := range r.Metrics {
		snap.Metrics[k] = v
	}
	return snap
}

// BackfillStrategy selects how a backfill task processes its records.
type BackfillStrategy string

const (
	// BackfillBatchSequential processes batches one at a time.
	BackfillBatchSequential BackfillStrategy = "batch_sequential"

	// BackfillBatchParallel processes batches concurrently, bounded by the
	// task's max parallelism.
	BackfillBatchParallel BackfillStrategy = "batch_parallel"

	// BackfillStreaming processes one record at a time.
	BackfillStreaming BackfillStrategy = "streaming"

	// BackfillPriorityBased orders records within each batch by their
	// "priority" field before processing.
	BackfillPriorityBased BackfillStrategy = "priority_based"

	// BackfillTimeBased stops processing when the task timeout elapses and
	// reports the remainder as skipped.
	BackfillTimeBased BackfillStrategy = "time_based"
)

// TransformFunc rewrites one record during a backfill. Returning an error
// counts the record as failed and consumes retry budget.
type TransformFunc func(driver.Record) (driver.Record, error)

// BackfillTask is a declarative backfill descriptor. Tasks are declared by
// a definition and discovered without executing the migration.
type BackfillTask struct {
	// ID is the unique identifier for this task. Assigned when empty.
	ID string

	// Name labels the task in logs and metrics.
	Name string

	// Source is the table the task reads and rewrites.
	Source string

	// Transform rewrites each record.
	Transform TransformFunc

	// BatchSize is the number of records per batch. Zero means the
	// configured default.
	BatchSize int

	// MaxParallelism bounds concurrent batches for batch_parallel tasks.
	MaxParallelism int

	// Strategy selects the processing mode.
	Strategy BackfillStrategy

	// Priority orders tasks from 1 to 10, higher first. Tasks at or above
	// the configured critical priority abort the run on failure.
	Priority int

	// RetryBudget is the number of retries per failing batch.
	RetryBudget int

	// Timeout bounds the task when set.
	Timeout time.Duration
}

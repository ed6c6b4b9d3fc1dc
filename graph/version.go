package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	migrate "github.com/schemaops/migrate-orchestrator"
)

var (
	semanticRe   = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	timestampRe  = regexp.MustCompile(`^\d{14}$`)
	sequentialRe = regexp.MustCompile(`^\d{1,8}$`)
)

// DetectFormat classifies a version string. Anything that is neither
// semantic, timestamp nor sequential is treated as a hash version.
func DetectFormat(version string) migrate.VersionFormat {
	switch {
	case semanticRe.MatchString(version):
		return migrate.FormatSemantic
	case timestampRe.MatchString(version):
		return migrate.FormatTimestamp
	case sequentialRe.MatchString(version):
		return migrate.FormatSequential
	default:
		return migrate.FormatHash
	}
}

// GenerateVersion produces the next version string for the given format
// based on the current graph contents.
func (g *Graph) GenerateVersion(format migrate.VersionFormat) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch format {
	case migrate.FormatSemantic:
		return g.nextSemanticLocked(), nil
	case migrate.FormatTimestamp:
		return time.Now().UTC().Format("20060102150405"), nil
	case migrate.FormatSequential:
		return fmt.Sprintf("%04d", g.nextSeq), nil
	case migrate.FormatHash:
		sum := sha256.Sum256([]byte(uuid.New().String()))
		return hex.EncodeToString(sum[:])[:12], nil
	}
	return "", fmt.Errorf("unknown version format %q", format)
}

func (g *Graph) nextSemanticLocked() string {
	var latest *semver.Version
	for _, v := range g.versions {
		if v.Format != migrate.FormatSemantic {
			continue
		}
		parsed, err := semver.NewVersion(v.Version)
		if err != nil {
			continue
		}
		if latest == nil || parsed.GreaterThan(latest) {
			latest = parsed
		}
	}
	if latest == nil {
		return "0.1.0"
	}
	next := latest.IncPatch()
	return next.String()
}

// CreateVersionInput carries the fields for registering a new version.
type CreateVersionInput struct {
	Version       string
	Name          string
	Description   string
	CreatedBy     string
	Dependencies  []migrate.MigrationDependency
	DefinitionRef string
	RollbackRef   string
	Tags          []string
	Labels        map[string]string
}

// CreateVersion registers a new version node.
//
// A duplicate version string records an unresolved version_collision
// conflict and fails with a ConflictError. A dependency pair where the new
// version and an existing version depend on each other records a
// dependency_conflict the same way.
func (g *Graph) CreateVersion(ctx context.Context, input CreateVersionInput) (*migrate.MigrationVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.versions[input.Version]; exists {
		conflict := g.recordConflictLocked(
			migrate.ConflictVersionCollision,
			input.Version,
			input.Version,
			fmt.Sprintf("version %s already exists", input.Version),
		)
		if err := g.persistConflictsLocked(ctx); err != nil {
			return nil, err
		}
		if err := g.persistVersionsLocked(ctx); err != nil {
			return nil, err
		}
		g.logger.Warn("version collision", "version", input.Version, "conflict_id", conflict.ID)
		return nil, &migrate.ConflictError{
			Type:          migrate.ConflictVersionCollision,
			SourceVersion: input.Version,
			TargetVersion: input.Version,
		}
	}

	for _, dep := range input.Dependencies {
		target, ok := g.versions[dep.TargetVersion]
		if !ok {
			continue
		}
		if target.DependsOn(input.Version) {
			conflict := g.recordConflictLocked(
				migrate.ConflictDependency,
				input.Version,
				dep.TargetVersion,
				fmt.Sprintf("%s and %s depend on each other", input.Version, dep.TargetVersion),
			)
			if err := g.persistConflictsLocked(ctx); err != nil {
				return nil, err
			}
			if err := g.persistVersionsLocked(ctx); err != nil {
				return nil, err
			}
			g.logger.Warn("mutual dependency",
				"version", input.Version,
				"target", dep.TargetVersion,
				"conflict_id", conflict.ID)
			return nil, &migrate.ConflictError{
				Type:          migrate.ConflictDependency,
				SourceVersion: input.Version,
				TargetVersion: dep.TargetVersion,
			}
		}
	}

	version := &migrate.MigrationVersion{
		ID:            uuid.New().String(),
		Version:       input.Version,
		Name:          input.Name,
		Description:   input.Description,
		Format:        DetectFormat(input.Version),
		Sequence:      g.nextSeq,
		CreatedAt:     time.Now(),
		CreatedBy:     input.CreatedBy,
		Dependencies:  input.Dependencies,
		State:         migrate.StateDraft,
		DefinitionRef: input.DefinitionRef,
		RollbackRef:   input.RollbackRef,
		Tags:          input.Tags,
		Labels:        input.Labels,
	}

	if version.Format == migrate.FormatSemantic {
		if parsed, err := semver.NewVersion(input.Version); err == nil {
			version.Major = int(parsed.Major())
			version.Minor = int(parsed.Minor())
			version.Patch = int(parsed.Patch())
		}
	}

	g.nextSeq++
	g.versions[input.Version] = version

	for _, dep := range input.Dependencies {
		if target, ok := g.versions[dep.TargetVersion]; ok {
			target.Dependents = appendUnique(target.Dependents, input.Version)
		}
	}

	if err := g.persistVersionsLocked(ctx); err != nil {
		delete(g.versions, input.Version)
		return nil, err
	}

	g.logger.Info("version created",
		"version", input.Version,
		"format", version.Format,
		"dependencies", len(input.Dependencies))

	return version, nil
}

func (g *Graph) recordConflictLocked(ctype migrate.ConflictType, source, target, description string) *migrate.MigrationConflict {
	conflict := &migrate.MigrationConflict{
		ID:            uuid.New().String(),
		Type:          ctype,
		SourceVersion: source,
		TargetVersion: target,
		Description:   description,
	}
	g.conflicts[conflict.ID] = conflict

	if v, ok := g.versions[source]; ok {
		v.ConflictIDs = appendUnique(v.ConflictIDs, conflict.ID)
	}
	if target != source {
		if v, ok := g.versions[target]; ok {
			v.ConflictIDs = appendUnique(v.ConflictIDs, conflict.ID)
		}
	}

	return conflict
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if existing == item {
			return items
		}
	}
	return append(items, item)
}

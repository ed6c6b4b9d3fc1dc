package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFileName is the configuration file searched for by Load.
const ConfigFileName = "migrate-orchestrator.toml"

// Config holds engine and per-strategy settings. Durations are expressed in
// seconds (or milliseconds where named so) to keep the TOML file plain.
type Config struct {
	// Strategy selects the execution strategy: standard, zero_downtime,
	// blue_green, or gradual.
	Strategy string `toml:"strategy"`

	// DryRun validates and plans without applying any change.
	DryRun bool `toml:"dry_run"`

	// AutoApprove skips interactive confirmation in the CLI.
	AutoApprove bool `toml:"auto_approve"`

	// BackupEnabled takes a backup before executing and enables automatic
	// restore on failure.
	BackupEnabled bool `toml:"backup_enabled"`

	// MaxDowntimeSeconds is the budget for the atomic swap window in the
	// zero-downtime strategy. Exceeding it is recorded, not fatal.
	MaxDowntimeSeconds float64 `toml:"max_downtime_seconds"`

	// RollbackOnFailure restores the pre-migration backup when execution
	// fails and a backup exists.
	RollbackOnFailure bool `toml:"rollback_on_failure"`

	// HealthCheckTimeoutSeconds bounds each post-migration health check.
	HealthCheckTimeoutSeconds float64 `toml:"health_check_timeout_seconds"`

	ZeroDowntime ZeroDowntimeConfig `toml:"zero_downtime"`
	BlueGreen    BlueGreenConfig    `toml:"blue_green"`
	Gradual      GradualConfig      `toml:"gradual"`
	Backfill     BackfillConfig     `toml:"backfill"`
}

// ZeroDowntimeConfig tunes the shadow-table strategy.
type ZeroDowntimeConfig struct {
	// BatchSize is the number of records copied per batch.
	BatchSize int `toml:"batch_size"`

	// CopyRateLimit caps the copy throughput in records per second.
	CopyRateLimit float64 `toml:"copy_rate_limit"`

	// SampleSize bounds the random sample compared during verification.
	SampleSize int `toml:"sample_size"`
}

// BlueGreenConfig tunes the blue/green environment strategy.
type BlueGreenConfig struct {
	BatchSize     int     `toml:"batch_size"`
	CopyRateLimit float64 `toml:"copy_rate_limit"`
	SampleSize    int     `toml:"sample_size"`

	// MonitorWindowSeconds is how long green is observed after switchover.
	MonitorWindowSeconds float64 `toml:"monitor_window_seconds"`

	// MonitorIntervalSeconds is the sampling interval during the window.
	MonitorIntervalSeconds float64 `toml:"monitor_interval_seconds"`

	// ErrorRateThreshold aborts the monitoring window when exceeded (0-100).
	ErrorRateThreshold float64 `toml:"error_rate_threshold"`

	// CleanupGraceSeconds is how long the blue environment is retained
	// after a successful switchover.
	CleanupGraceSeconds float64 `toml:"cleanup_grace_seconds"`

	// VolatileFields are excluded from sampled-record comparison.
	VolatileFields []string `toml:"volatile_fields"`
}

// GradualConfig tunes the phased-rollout strategy.
type GradualConfig struct {
	// ErrorRateThreshold is the per-stage error-rate ceiling (0-100).
	ErrorRateThreshold float64 `toml:"error_rate_threshold"`

	// LatencyThresholdMs is the per-stage latency ceiling.
	LatencyThresholdMs float64 `toml:"latency_threshold_ms"`

	// StageWindowSeconds is the stabilization window per rollout stage.
	StageWindowSeconds float64 `toml:"stage_window_seconds"`

	// MonitorIntervalSeconds is the sampling interval inside a window.
	MonitorIntervalSeconds float64 `toml:"monitor_interval_seconds"`

	// PauseSeconds is how long a moderate breach pauses the rollout before
	// the window is retried once.
	PauseSeconds float64 `toml:"pause_seconds"`
}

// BackfillConfig tunes the data-backfill strategy.
type BackfillConfig struct {
	// BatchSize is the default batch size for tasks that do not set one.
	BatchSize int `toml:"batch_size"`

	// Parallel runs same-priority tasks concurrently.
	Parallel bool `toml:"parallel"`

	// MaxConcurrentTasks bounds concurrent tasks when Parallel is set.
	MaxConcurrentTasks int `toml:"max_concurrent_tasks"`

	// ErrorRateCeiling fails the backfill when the aggregate failure rate
	// (failed / attempted) exceeds it (0-1).
	ErrorRateCeiling float64 `toml:"error_rate_ceiling"`

	// CriticalPriority is the task priority at or above which a task
	// failure aborts the whole backfill.
	CriticalPriority int `toml:"critical_priority"`

	// MonitorIntervalSeconds is the progress-publishing interval.
	MonitorIntervalSeconds float64 `toml:"monitor_interval_seconds"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Strategy:                  "standard",
		BackupEnabled:             true,
		MaxDowntimeSeconds:        5,
		RollbackOnFailure:         true,
		HealthCheckTimeoutSeconds: 10,
		ZeroDowntime: ZeroDowntimeConfig{
			BatchSize:     1000,
			CopyRateLimit: 10000,
			SampleSize:    100,
		},
		BlueGreen: BlueGreenConfig{
			BatchSize:              1000,
			CopyRateLimit:          10000,
			SampleSize:             100,
			MonitorWindowSeconds:   60,
			MonitorIntervalSeconds: 5,
			ErrorRateThreshold:     5,
			CleanupGraceSeconds:    300,
			VolatileFields:         []string{"updated_at", "modified_at", "last_seen_at"},
		},
		Gradual: GradualConfig{
			ErrorRateThreshold:     5,
			LatencyThresholdMs:     500,
			StageWindowSeconds:     60,
			MonitorIntervalSeconds: 5,
			PauseSeconds:           30,
		},
		Backfill: BackfillConfig{
			BatchSize:              1000,
			Parallel:               false,
			MaxConcurrentTasks:     4,
			ErrorRateCeiling:       0.05,
			CriticalPriority:       8,
			MonitorIntervalSeconds: 5,
		},
	}
}

// Load finds and parses ConfigFileName in the current directory or any
// parent directory. When no file is found the defaults are returned.
func Load() (Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return FromFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return Default(), nil
}

// FromFile parses a configuration file, layering it over the defaults.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and the strategy name.
func (c Config) Validate() error {
	switch c.Strategy {
	case "standard", "zero_downtime", "blue_green", "gradual", "backfill":
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.MaxDowntimeSeconds < 0 {
		return fmt.Errorf("max_downtime_seconds must not be negative")
	}
	if c.BlueGreen.ErrorRateThreshold < 0 || c.BlueGreen.ErrorRateThreshold > 100 {
		return fmt.Errorf("blue_green.error_rate_threshold must be between 0 and 100")
	}
	if c.Gradual.ErrorRateThreshold < 0 || c.Gradual.ErrorRateThreshold > 100 {
		return fmt.Errorf("gradual.error_rate_threshold must be between 0 and 100")
	}
	if c.Backfill.ErrorRateCeiling < 0 || c.Backfill.ErrorRateCeiling > 1 {
		return fmt.Errorf("backfill.error_rate_ceiling must be between 0 and 1")
	}
	if c.Backfill.CriticalPriority < 1 || c.Backfill.CriticalPriority > 10 {
		return fmt.Errorf("backfill.critical_priority must be between 1 and 10")
	}
	return nil
}

// MaxDowntime returns the swap budget as a duration.
func (c Config) MaxDowntime() time.Duration {
	return secs(c.MaxDowntimeSeconds)
}

// HealthCheckTimeout returns the per-check bound as a duration.
func (c Config) HealthCheckTimeout() time.Duration {
	return secs(c.HealthCheckTimeoutSeconds)
}

// MonitorWindow returns the post-switchover window as a duration.
func (c BlueGreenConfig) MonitorWindow() time.Duration {
	return secs(c.MonitorWindowSeconds)
}

// MonitorInterval returns the sampling interval as a duration.
func (c BlueGreenConfig) MonitorInterval() time.Duration {
	return secs(c.MonitorIntervalSeconds)
}

// CleanupGrace returns the blue-retention grace period as a duration.
func (c BlueGreenConfig) CleanupGrace() time.Duration {
	return secs(c.CleanupGraceSeconds)
}

// StageWindow returns the stabilization window as a duration.
func (c GradualConfig) StageWindow() time.Duration {
	return secs(c.StageWindowSeconds)
}

// MonitorInterval returns the sampling interval as a duration.
func (c GradualConfig) MonitorInterval() time.Duration {
	return secs(c.MonitorIntervalSeconds)
}

// Pause returns the moderate-breach pause as a duration.
func (c GradualConfig) Pause() time.Duration {
	return secs(c.PauseSeconds)
}

// MonitorInterval returns the progress-publishing interval as a duration.
func (c BackfillConfig) MonitorInterval() time.Duration {
	return secs(c.MonitorIntervalSeconds)
}

// GetRegistryDSN returns the registry location with priority:
// explicit value > REGISTRY_DSN env var > default.
func GetRegistryDSN(explicitValue, defaultValue string) string {
	if explicitValue != "" {
		return explicitValue
	}
	if envValue := os.Getenv("REGISTRY_DSN"); envValue != "" {
		return envValue
	}
	return defaultValue
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

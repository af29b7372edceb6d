// Package config loads the engine tuning parameters. The schema uses
// pointer-typed optional fields so a partial JSON file can override only the
// values it names; the Get* accessors carry the defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig holds the process-level tuning for the tracking pipeline.
// Zone-level thresholds (dwell, engagement, grace) live on the zone records
// themselves and are refreshed from the zone registry, not configured here.
type TuningConfig struct {
	// Track aggregator params
	TrackTTL          *string `json:"track_ttl,omitempty"`          // eviction TTL, duration string like "5500ms"
	TrailCap          *int    `json:"trail_cap,omitempty"`          // max positions retained per track
	BatchInterval     *string `json:"batch_interval,omitempty"`     // live-batch emission cadence
	SampleInterval    *string `json:"sample_interval,omitempty"`    // per-track persistence throttle
	OccupancyInterval *string `json:"occupancy_interval,omitempty"` // zone occupancy sampling cadence
	MinVisitSamples   *int    `json:"min_visit_samples,omitempty"`

	// Storage engine cadences
	FlushInterval   *string `json:"flush_interval,omitempty"`
	SyncInterval    *string `json:"sync_interval,omitempty"`
	CleanupInterval *string `json:"cleanup_interval,omitempty"`
	SpoolDir        *string `json:"spool_dir,omitempty"`

	// Session params
	SessionPositionCap *int    `json:"session_position_cap,omitempty"`
	QueueEndGrace      *string `json:"queue_end_grace,omitempty"`
	MinQueueDwell      *string `json:"min_queue_dwell,omitempty"`
	IdleSessionTTL     *string `json:"idle_session_ttl,omitempty"`

	// Retention horizons
	RawRetention    *string  `json:"raw_retention,omitempty"`
	LedgerRetention *string  `json:"ledger_retention,omitempty"`
	CompactChance   *float64 `json:"compact_chance,omitempty"`

	// Alerting
	AlertCooldown *string `json:"alert_cooldown,omitempty"`

	// KPI params
	RestSpeedMps *float64 `json:"rest_speed_mps,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the JSON retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are parseable and sane.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"track_ttl":          c.TrackTTL,
		"batch_interval":     c.BatchInterval,
		"sample_interval":    c.SampleInterval,
		"occupancy_interval": c.OccupancyInterval,
		"flush_interval":     c.FlushInterval,
		"sync_interval":      c.SyncInterval,
		"cleanup_interval":   c.CleanupInterval,
		"queue_end_grace":    c.QueueEndGrace,
		"min_queue_dwell":    c.MinQueueDwell,
		"idle_session_ttl":   c.IdleSessionTTL,
		"raw_retention":      c.RawRetention,
		"ledger_retention":   c.LedgerRetention,
		"alert_cooldown":     c.AlertCooldown,
	}
	for name, v := range durations {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.TrailCap != nil && *c.TrailCap <= 0 {
		return fmt.Errorf("trail_cap must be positive, got %d", *c.TrailCap)
	}
	if c.SessionPositionCap != nil && *c.SessionPositionCap <= 0 {
		return fmt.Errorf("session_position_cap must be positive, got %d", *c.SessionPositionCap)
	}
	if c.CompactChance != nil {
		if *c.CompactChance < 0 || *c.CompactChance > 1 {
			return fmt.Errorf("compact_chance must be between 0 and 1, got %f", *c.CompactChance)
		}
	}
	if c.RestSpeedMps != nil && *c.RestSpeedMps < 0 {
		return fmt.Errorf("rest_speed_mps must be non-negative, got %f", *c.RestSpeedMps)
	}

	return nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetTrackTTL returns the track eviction TTL.
func (c *TuningConfig) GetTrackTTL() time.Duration {
	return c.duration(c.TrackTTL, 5500*time.Millisecond)
}

// GetTrailCap returns the per-track trail cap.
func (c *TuningConfig) GetTrailCap() int {
	if c.TrailCap == nil {
		return 100
	}
	return *c.TrailCap
}

// GetBatchInterval returns the live-batch emission cadence.
func (c *TuningConfig) GetBatchInterval() time.Duration {
	return c.duration(c.BatchInterval, 50*time.Millisecond)
}

// GetSampleInterval returns the per-track persistence throttle.
func (c *TuningConfig) GetSampleInterval() time.Duration {
	return c.duration(c.SampleInterval, time.Second)
}

// GetOccupancyInterval returns the cadence at which per-zone occupancy
// counts are sampled from live batches, independent of the per-track
// sample throttle.
func (c *TuningConfig) GetOccupancyInterval() time.Duration {
	return c.duration(c.OccupancyInterval, time.Second)
}

// GetMinVisitSamples returns the sample floor above which a visit counts as
// a complete track.
func (c *TuningConfig) GetMinVisitSamples() int {
	if c.MinVisitSamples == nil {
		return 5
	}
	return *c.MinVisitSamples
}

// GetFlushInterval returns the buffer flush cadence.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	return c.duration(c.FlushInterval, 5*time.Second)
}

// GetSyncInterval returns the spool-to-store sync cadence.
func (c *TuningConfig) GetSyncInterval() time.Duration {
	return c.duration(c.SyncInterval, 60*time.Second)
}

// GetCleanupInterval returns the retention/rollup cadence.
func (c *TuningConfig) GetCleanupInterval() time.Duration {
	return c.duration(c.CleanupInterval, 15*time.Minute)
}

// GetSpoolDir returns the directory for intermediate spool logs.
func (c *TuningConfig) GetSpoolDir() string {
	if c.SpoolDir == nil || *c.SpoolDir == "" {
		return "spool"
	}
	return *c.SpoolDir
}

// GetSessionPositionCap returns the max positions retained per open session.
func (c *TuningConfig) GetSessionPositionCap() int {
	if c.SessionPositionCap == nil {
		return 100
	}
	return *c.SessionPositionCap
}

// GetQueueEndGrace returns the absence window after which a queue session ends.
func (c *TuningConfig) GetQueueEndGrace() time.Duration {
	return c.duration(c.QueueEndGrace, time.Second)
}

// GetMinQueueDwell returns the dwell below which an unserved queue exit is
// recorded abandoned: a stay that short never formed a genuine queue.
func (c *TuningConfig) GetMinQueueDwell() time.Duration {
	return c.duration(c.MinQueueDwell, 5*time.Second)
}

// GetIdleSessionTTL returns how long idle in-memory sessions are retained.
func (c *TuningConfig) GetIdleSessionTTL() time.Duration {
	return c.duration(c.IdleSessionTTL, time.Hour)
}

// GetRawRetention returns the horizon past which raw detail rows are pruned.
func (c *TuningConfig) GetRawRetention() time.Duration {
	return c.duration(c.RawRetention, 24*time.Hour)
}

// GetLedgerRetention returns the horizon past which acknowledged alert
// ledger entries are pruned.
func (c *TuningConfig) GetLedgerRetention() time.Duration {
	return c.duration(c.LedgerRetention, 7*24*time.Hour)
}

// GetCompactChance returns the per-cleanup probability of a compaction pass.
func (c *TuningConfig) GetCompactChance() float64 {
	if c.CompactChance == nil {
		return 0.05
	}
	return *c.CompactChance
}

// GetAlertCooldown returns the per-(rule, threshold) alert cooldown window.
func (c *TuningConfig) GetAlertCooldown() time.Duration {
	return c.duration(c.AlertCooldown, 5*time.Minute)
}

// GetRestSpeedMps returns the speed below which a sample counts as at rest.
func (c *TuningConfig) GetRestSpeedMps() float64 {
	if c.RestSpeedMps == nil {
		return 0.1
	}
	return *c.RestSpeedMps
}

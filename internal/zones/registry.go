package zones

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/timeutil"
)

// Provider supplies zone definitions and the current lane gating state.
// Implementations fetch from whatever owns the zone editor (an HTTP
// service, a file, a database); the registry does not care.
type Provider interface {
	Fetch(ctx context.Context) ([]Zone, LaneGating, error)
}

// Registry caches the latest zone snapshot for lock-free-ish reads by the
// sampling hot path. Refresh swaps the whole snapshot; readers keep using
// whichever snapshot they grabbed.
type Registry struct {
	provider Provider
	clock    timeutil.Clock

	mu      sync.RWMutex
	current *Snapshot
	version int64
}

// NewRegistry creates a registry backed by the given provider.
func NewRegistry(provider Provider, clock timeutil.Clock) *Registry {
	return &Registry{provider: provider, clock: clock}
}

// Refresh fetches a fresh zone set from the provider and publishes it as
// the current snapshot. On provider failure the previous snapshot stays in
// place and the error is returned for the caller to log.
func (r *Registry) Refresh(ctx context.Context) error {
	zoneList, gating, err := r.provider.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("zone refresh failed: %w", err)
	}

	snap := buildSnapshot(zoneList, gating)
	snap.FetchedAt = r.clock.Now()

	r.mu.Lock()
	r.version++
	snap.Version = r.version
	r.current = snap
	r.mu.Unlock()

	monitoring.Logf("zone registry refreshed: %d zones, version %d", len(zoneList), snap.Version)
	return nil
}

// Snapshot returns the current zone snapshot, or nil if no refresh has
// succeeded yet.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Run polls the provider on the given cadence until ctx is cancelled.
// Refresh failures are logged and retried on the next tick.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := r.Refresh(ctx); err != nil {
				monitoring.Logf("zone registry: %v", err)
			}
		}
	}
}

func buildSnapshot(zoneList []Zone, gating LaneGating) *Snapshot {
	snap := &Snapshot{
		Gating: gating,
		zones:  make(map[string]*Zone, len(zoneList)),
	}
	for i := range zoneList {
		z := zoneList[i]
		snap.zones[z.ID] = &z
		snap.ordered = append(snap.ordered, &z)
	}
	return snap
}

// StaticProvider serves a fixed zone set. Used in tests and for venues
// whose layout is configured once at deploy time.
type StaticProvider struct {
	Zones  []Zone
	Gating LaneGating
}

// Fetch returns the configured zone set.
func (p *StaticProvider) Fetch(ctx context.Context) ([]Zone, LaneGating, error) {
	return p.Zones, p.Gating, nil
}

// zoneFile is the on-disk wire format for FileProvider. Durations are
// plain milliseconds, matching what the zone editor exports.
type zoneFile struct {
	Zones []struct {
		ID                    string       `json:"id"`
		VenueID               string       `json:"venue_id"`
		Name                  string       `json:"name"`
		Vertices              []geo.Vertex `json:"vertices"`
		DwellThresholdMs      int64        `json:"dwell_threshold_ms"`
		EngagementThresholdMs int64        `json:"engagement_threshold_ms"`
		MinVisitDurationMs    int64        `json:"min_visit_duration_ms"`
		EndGraceMs            int64        `json:"end_grace_ms"`
		LinkedServiceZoneID   string       `json:"linked_service_zone_id,omitempty"`
		AlertsEnabled         bool         `json:"alerts_enabled,omitempty"`
		AlertRules            []struct {
			ID        string  `json:"id"`
			Metric    string  `json:"metric"`
			Operator  string  `json:"operator"`
			Threshold float64 `json:"threshold"`
			Enabled   bool    `json:"enabled"`
		} `json:"alert_rules,omitempty"`
	} `json:"zones"`
	// open_lanes null/absent means gating has never been configured;
	// an empty list means every lane is closed.
	OpenLanes *[]string `json:"open_lanes"`
}

// FileProvider reads zone definitions from a JSON file on each fetch.
type FileProvider struct {
	Path string
}

// Fetch parses the zone file.
func (p *FileProvider) Fetch(ctx context.Context) ([]Zone, LaneGating, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, LaneGating{}, fmt.Errorf("read zone file: %w", err)
	}

	var f zoneFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, LaneGating{}, fmt.Errorf("parse zone file %s: %w", p.Path, err)
	}

	zoneList := make([]Zone, 0, len(f.Zones))
	for _, raw := range f.Zones {
		z := Zone{
			ID:                  raw.ID,
			VenueID:             raw.VenueID,
			Name:                raw.Name,
			Vertices:            raw.Vertices,
			DwellThreshold:      time.Duration(raw.DwellThresholdMs) * time.Millisecond,
			EngagementThreshold: time.Duration(raw.EngagementThresholdMs) * time.Millisecond,
			MinVisitDuration:    time.Duration(raw.MinVisitDurationMs) * time.Millisecond,
			EndGrace:            time.Duration(raw.EndGraceMs) * time.Millisecond,
			LinkedServiceZoneID: raw.LinkedServiceZoneID,
			AlertsEnabled:       raw.AlertsEnabled,
		}
		for _, rr := range raw.AlertRules {
			z.AlertRules = append(z.AlertRules, AlertRule(rr))
		}
		zoneList = append(zoneList, z)
	}

	gating := LaneGating{Mode: LaneGatingUnconfigured}
	if f.OpenLanes != nil {
		gating.Mode = LaneGatingConfigured
		gating.OpenLanes = make(map[string]bool, len(*f.OpenLanes))
		for _, id := range *f.OpenLanes {
			gating.OpenLanes[id] = true
		}
	}

	return zoneList, gating, nil
}

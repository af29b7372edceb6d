// Package zones holds the read snapshot of the venue's zone definitions.
// Zones are owned and edited elsewhere; the pipeline consumes a versioned
// snapshot refreshed on demand or on a polling cadence.
package zones

import (
	"time"

	"github.com/retailsense/venueflow/internal/geo"
)

// Zone is a polygon region of the venue with its analytics thresholds.
// A zone with a LinkedServiceZoneID is a queue lane feeding that service
// zone and participates in queue-session tracking.
type Zone struct {
	ID                  string
	VenueID             string
	Name                string
	Vertices            []geo.Vertex
	DwellThreshold      time.Duration
	EngagementThreshold time.Duration
	MinVisitDuration    time.Duration
	EndGrace            time.Duration
	LinkedServiceZoneID string
	AlertsEnabled       bool
	AlertRules          []AlertRule
}

// AlertRule is a single threshold rule evaluated against a zone metric.
type AlertRule struct {
	ID        string
	Metric    string // "occupancy" is the only metric evaluated today
	Operator  string // "gt", "gte", "lt", "lte", "eq"
	Threshold float64
	Enabled   bool
}

// Contains reports whether the zone polygon contains the floor-plane
// projection of pt. Degenerate polygons contain nothing.
func (z *Zone) Contains(pt geo.Point) bool {
	return geo.ContainsPoint(z.Vertices, pt)
}

// IsQueue reports whether the zone is a queue lane linked to a service zone.
func (z *Zone) IsQueue() bool {
	return z.LinkedServiceZoneID != ""
}

// LaneGatingMode states how the open-lane set should be interpreted.
// Unconfigured means lane gating has never been set up and every queue lane
// is treated as open; Configured means only lanes in the open set are open,
// and an empty set closes them all. The distinction is deliberate: it is a
// named configuration state, not a fallback of an uninitialised set.
type LaneGatingMode int

const (
	LaneGatingUnconfigured LaneGatingMode = iota
	LaneGatingConfigured
)

// LaneGating is the operational open/closed state of the queue lanes.
type LaneGating struct {
	Mode      LaneGatingMode
	OpenLanes map[string]bool
}

// IsOpen reports whether the queue lane with the given zone ID is open.
func (g LaneGating) IsOpen(zoneID string) bool {
	if g.Mode == LaneGatingUnconfigured {
		return true
	}
	return g.OpenLanes[zoneID]
}

// Snapshot is an immutable view of the zone registry at one refresh.
type Snapshot struct {
	Version   int64
	FetchedAt time.Time
	Gating    LaneGating
	zones     map[string]*Zone
	ordered   []*Zone
}

// Zone returns the zone with the given ID, or nil.
func (s *Snapshot) Zone(id string) *Zone {
	if s == nil {
		return nil
	}
	return s.zones[id]
}

// All returns the zones in a stable order. The returned slice must not be
// mutated.
func (s *Snapshot) All() []*Zone {
	if s == nil {
		return nil
	}
	return s.ordered
}

// Containing returns the zones whose polygon contains pt.
func (s *Snapshot) Containing(pt geo.Point) []*Zone {
	if s == nil {
		return nil
	}
	var hit []*Zone
	for _, z := range s.ordered {
		if z.Contains(pt) {
			hit = append(hit, z)
		}
	}
	return hit
}

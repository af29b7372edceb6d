// Package track aggregates raw per-device observations into live venue
// tracks: it applies the device placement transform, maintains bounded
// position trails, emits periodic batches for real-time consumers, and
// evicts tracks that stop reporting.
package track

import (
	"context"
	"sync"
	"time"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/timeutil"
	"github.com/retailsense/venueflow/internal/zones"
)

// Observation is a single raw position report from a sensing device.
// Positions are in the device's local frame until the placement transform
// maps them into the venue frame. The caller validates completeness;
// AddObservation assumes well-formed input.
type Observation struct {
	DeviceID   string    `json:"device_id"`
	LocalID    string    `json:"local_id"`
	Position   geo.Point `json:"position"`
	Velocity   float64   `json:"velocity"`
	ObjectType string    `json:"object_type"`
	Timestamp  time.Time `json:"timestamp"`
}

// Key returns the track key for the observation's device/local pair.
func (o Observation) Key() string {
	return o.DeviceID + ":" + o.LocalID
}

// Snapshot is a read-only copy of a live track, safe to retain after the
// aggregator has moved on.
type Snapshot struct {
	Key        string
	Position   geo.Point
	Velocity   float64
	ObjectType string
	Trail      []geo.Point
	FirstSeen  time.Time
	LastUpdate time.Time
}

// Batch is one periodic emission of every live track and its trail.
type Batch struct {
	Timestamp time.Time
	Tracks    []Snapshot
}

// Removal notifies that a track went stale and was evicted.
type Removal struct {
	Key       string
	Timestamp time.Time
}

// Config holds the aggregator tuning.
type Config struct {
	TrackTTL      time.Duration // eviction after this long without an update
	TrailCap      int           // max trail positions per track
	BatchInterval time.Duration // live-batch emission cadence
}

type liveTrack struct {
	key        string
	position   geo.Point
	velocity   float64
	objectType string
	trail      []geo.Point
	firstSeen  time.Time
	lastUpdate time.Time
}

// Aggregator ingests observations and maintains the live track index.
// All methods are safe for concurrent use.
type Aggregator struct {
	cfg      Config
	clock    timeutil.Clock
	registry *zones.Registry

	// OnBatch and OnRemoved fire from the tick loop, outside the
	// aggregator lock. Set them before calling Run.
	OnBatch   func(Batch)
	OnRemoved func(Removal)

	mu         sync.RWMutex
	tracks     map[string]*liveTrack
	placements map[string]geo.Placement
}

// NewAggregator creates an aggregator with the given tuning.
func NewAggregator(cfg Config, registry *zones.Registry, clock timeutil.Clock) *Aggregator {
	return &Aggregator{
		cfg:        cfg,
		clock:      clock,
		registry:   registry,
		tracks:     make(map[string]*liveTrack),
		placements: make(map[string]geo.Placement),
	}
}

// RegisterPlacement records where a device is mounted so its observations
// can be mapped into the venue frame. Observations from devices without a
// placement pass through unchanged.
func (a *Aggregator) RegisterPlacement(deviceID string, p geo.Placement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.placements[deviceID] = p
}

// AddObservation ingests one observation: transform to venue coordinates,
// create or update the track, and append to its trail. Side effect only;
// malformed input is the caller's problem, not handled here.
func (a *Aggregator) AddObservation(obs Observation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos := obs.Position
	if placement, ok := a.placements[obs.DeviceID]; ok {
		pos = placement.ToVenue(pos)
	}

	key := obs.Key()
	tr, ok := a.tracks[key]
	if !ok {
		tr = &liveTrack{
			key:        key,
			objectType: obs.ObjectType,
			firstSeen:  obs.Timestamp,
			trail:      make([]geo.Point, 0, a.cfg.TrailCap),
		}
		a.tracks[key] = tr
	}

	tr.position = pos
	tr.velocity = obs.Velocity
	tr.lastUpdate = obs.Timestamp

	tr.trail = append(tr.trail, pos)
	if len(tr.trail) > a.cfg.TrailCap {
		tr.trail = tr.trail[len(tr.trail)-a.cfg.TrailCap:]
	}
}

// Tick runs one aggregator cycle at the given time: evict tracks whose
// last update is older than the TTL (one removal event each), then emit a
// batch of the remaining live tracks. Eviction runs first so an expired
// track is never included in the same tick's batch.
func (a *Aggregator) Tick(now time.Time) {
	var removals []Removal

	a.mu.Lock()
	for key, tr := range a.tracks {
		if now.Sub(tr.lastUpdate) > a.cfg.TrackTTL {
			delete(a.tracks, key)
			removals = append(removals, Removal{Key: key, Timestamp: now})
		}
	}
	batch := Batch{Timestamp: now, Tracks: a.snapshotLocked()}
	a.mu.Unlock()

	for _, r := range removals {
		monitoring.Debugf("track evicted: %s", r.Key)
		if a.OnRemoved != nil {
			a.OnRemoved(r)
		}
	}
	if a.OnBatch != nil {
		a.OnBatch(batch)
	}
}

// Run drives Tick on the configured cadence until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := a.clock.NewTicker(a.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			a.Tick(now)
		}
	}
}

// snapshotLocked copies every live track. Caller holds a.mu.
func (a *Aggregator) snapshotLocked() []Snapshot {
	out := make([]Snapshot, 0, len(a.tracks))
	for _, tr := range a.tracks {
		s := Snapshot{
			Key:        tr.key,
			Position:   tr.position,
			Velocity:   tr.velocity,
			ObjectType: tr.objectType,
			FirstSeen:  tr.firstSeen,
			LastUpdate: tr.lastUpdate,
		}
		if len(tr.trail) > 0 {
			s.Trail = make([]geo.Point, len(tr.trail))
			copy(s.Trail, tr.trail)
		}
		out = append(out, s)
	}
	return out
}

// LiveTracks returns a snapshot of every live track.
func (a *Aggregator) LiveTracks() []Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

// TrackCount returns the number of live tracks.
func (a *Aggregator) TrackCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tracks)
}

// ZoneOccupancy counts the live tracks currently inside the named zone,
// using the cached zone snapshot. Unknown zones and degenerate polygons
// report zero.
func (a *Aggregator) ZoneOccupancy(zoneID string) int {
	snap := a.registry.Snapshot()
	zone := snap.Zone(zoneID)
	if zone == nil {
		return 0
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	count := 0
	for _, tr := range a.tracks {
		if zone.Contains(tr.position) {
			count++
		}
	}
	return count
}

// OccupancyByZone counts live tracks per zone in one pass over the track
// index. Zones that contain no tracks still appear with a zero count so
// occupancy sampling records empty zones too.
func (a *Aggregator) OccupancyByZone() map[string]int {
	snap := a.registry.Snapshot()
	counts := make(map[string]int)
	for _, z := range snap.All() {
		counts[z.ID] = 0
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, tr := range a.tracks {
		for _, z := range snap.Containing(tr.position) {
			counts[z.ID]++
		}
	}
	return counts
}

// Package engine runs the trajectory storage pipeline: it samples live track
// batches, drives the visit and queue session machines, buffers records for
// spool-backed persistence, evaluates alert rules, and enforces retention
// with aggregate-before-delete rollups.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/retailsense/venueflow/internal/config"
	"github.com/retailsense/venueflow/internal/events"
	"github.com/retailsense/venueflow/internal/fsutil"
	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/timeutil"
	"github.com/retailsense/venueflow/internal/track"
	"github.com/retailsense/venueflow/internal/zones"
)

type sessionKey struct {
	trackKey string
	zoneID   string
}

// Engine consumes live track batches and turns them into durable records.
// All exported methods are safe for concurrent use.
type Engine struct {
	cfg      *config.TuningConfig
	venueID  string
	clock    timeutil.Clock
	registry *zones.Registry
	db       *store.Store
	bus      *events.Bus
	fs       fsutil.FileSystem
	randFn   func() float64

	mu            sync.Mutex
	lastSampled   map[string]time.Time
	lastOccupancy time.Time
	visits        map[sessionKey]*visitSession
	queues        map[sessionKey]*queueSession
	buf           buffers
	cooldown      map[cooldownKey]time.Time
}

// New creates an engine. The bus may be nil when no in-process consumers
// care about finalized events.
func New(cfg *config.TuningConfig, venueID string, registry *zones.Registry,
	db *store.Store, bus *events.Bus, fs fsutil.FileSystem, clock timeutil.Clock) *Engine {
	return &Engine{
		cfg:         cfg,
		venueID:     venueID,
		clock:       clock,
		registry:    registry,
		db:          db,
		bus:         bus,
		fs:          fs,
		randFn:      rand.Float64,
		lastSampled: make(map[string]time.Time),
		visits:      make(map[sessionKey]*visitSession),
		queues:      make(map[sessionKey]*queueSession),
		cooldown:    make(map[cooldownKey]time.Time),
	}
}

// HandleBatch processes one live track batch. Per-track work is throttled to
// the sample interval, so a 20 Hz batch cadence still yields roughly one
// persisted sample per track per second.
func (e *Engine) HandleBatch(b track.Batch) {
	snap := e.registry.Snapshot()
	interval := e.cfg.GetSampleInterval()

	var finalized []store.Visit
	var finalizedQueues []store.QueueRecord
	var triggered []store.LedgerEntry

	e.mu.Lock()
	for _, tr := range b.Tracks {
		if last, ok := e.lastSampled[tr.Key]; ok && b.Timestamp.Sub(last) < interval {
			continue
		}
		e.lastSampled[tr.Key] = b.Timestamp

		e.buf.positions = append(e.buf.positions, store.PositionRecord{
			TrackKey:    tr.Key,
			VenueID:     e.venueID,
			X:           tr.Position.X,
			Y:           tr.Position.Y,
			Z:           tr.Position.Z,
			Velocity:    tr.Velocity,
			ObjectType:  tr.ObjectType,
			TimestampMs: store.TimeMs(b.Timestamp),
		})

		if snap != nil {
			v, q := e.updateSessionsLocked(snap, tr.Key, tr.Position, b.Timestamp)
			finalized = append(finalized, v...)
			finalizedQueues = append(finalizedQueues, q...)
		}
	}

	if snap != nil && b.Timestamp.Sub(e.lastOccupancy) >= e.cfg.GetOccupancyInterval() {
		e.lastOccupancy = b.Timestamp
		triggered = e.sampleOccupancyLocked(snap, b)
	}
	e.mu.Unlock()

	e.publish(finalized, finalizedQueues, triggered)
}

// HandleRemoval finalizes every open session of an evicted track. The track
// will not be seen again, so the end grace does not apply.
func (e *Engine) HandleRemoval(r track.Removal) {
	snap := e.registry.Snapshot()
	minSamples := e.cfg.GetMinVisitSamples()
	minDwell := e.cfg.GetMinQueueDwell()

	var finalized []store.Visit
	var finalizedQueues []store.QueueRecord

	e.mu.Lock()
	delete(e.lastSampled, r.Key)
	for k, vs := range e.visits {
		if k.trackKey != r.Key {
			continue
		}
		delete(e.visits, k)
		z := snap.Zone(k.zoneID)
		if z == nil {
			continue
		}
		if v, ok := vs.finalize(z, minSamples); ok {
			e.buf.visits = append(e.buf.visits, v)
			finalized = append(finalized, v)
		}
	}
	for k, qs := range e.queues {
		if k.trackKey != r.Key {
			continue
		}
		delete(e.queues, k)
		rec := qs.finalize(minDwell)
		e.buf.queues = append(e.buf.queues, rec)
		finalizedQueues = append(finalizedQueues, rec)
	}
	e.mu.Unlock()

	e.publish(finalized, finalizedQueues, nil)
}

// updateSessionsLocked advances every zone's session machines with one
// sampled position. Caller holds e.mu.
func (e *Engine) updateSessionsLocked(snap *zones.Snapshot, key string, pos geo.Point, now time.Time) ([]store.Visit, []store.QueueRecord) {
	posCap := e.cfg.GetSessionPositionCap()
	minSamples := e.cfg.GetMinVisitSamples()
	queueGrace := e.cfg.GetQueueEndGrace()
	minDwell := e.cfg.GetMinQueueDwell()

	var finalized []store.Visit
	var finalizedQueues []store.QueueRecord

	for _, z := range snap.All() {
		in := z.Contains(pos)
		k := sessionKey{key, z.ID}

		if vs, ok := e.visits[k]; ok {
			if in {
				vs.observe(now, pos, posCap)
			} else if vs.graceExpired(now, z) {
				delete(e.visits, k)
				if v, ok := vs.finalize(z, minSamples); ok {
					e.buf.visits = append(e.buf.visits, v)
					finalized = append(finalized, v)
				}
			}
		} else if in {
			e.visits[k] = newVisitSession(key, z, now, pos, posCap)
		}

		if !z.IsQueue() {
			continue
		}
		inService := false
		if svc := snap.Zone(z.LinkedServiceZoneID); svc != nil {
			inService = svc.Contains(pos)
		}
		if qs, ok := e.queues[k]; ok {
			qs.observe(now, in, inService)
			if qs.graceExpired(now, queueGrace) {
				delete(e.queues, k)
				rec := qs.finalize(minDwell)
				e.buf.queues = append(e.buf.queues, rec)
				finalizedQueues = append(finalizedQueues, rec)
			}
		} else if in && snap.Gating.IsOpen(z.ID) {
			e.queues[k] = newQueueSession(key, z, now)
		}
	}
	return finalized, finalizedQueues
}

// sampleOccupancyLocked records one occupancy sample per zone (zeros
// included) and evaluates the zone alert rules against the counts. Caller
// holds e.mu.
func (e *Engine) sampleOccupancyLocked(snap *zones.Snapshot, b track.Batch) []store.LedgerEntry {
	counts := make(map[string]int64, len(snap.All()))
	for _, z := range snap.All() {
		counts[z.ID] = 0
	}
	for _, tr := range b.Tracks {
		for _, z := range snap.Containing(tr.Position) {
			counts[z.ID]++
		}
	}

	nowMs := store.TimeMs(b.Timestamp)
	for _, z := range snap.All() {
		e.buf.occupancy = append(e.buf.occupancy, store.OccupancyRecord{
			ZoneID:      z.ID,
			TimestampMs: nowMs,
			TrackCount:  counts[z.ID],
		})
	}

	return e.evaluateAlertsLocked(snap, counts, b.Timestamp)
}

// publish inserts triggered alerts and fans finalized records out on the bus.
func (e *Engine) publish(visits []store.Visit, queues []store.QueueRecord, alerts []store.LedgerEntry) {
	if len(alerts) > 0 {
		if _, err := e.db.InsertLedgerEntries(alerts); err != nil {
			monitoring.Logf("alert ledger write failed: %v", err)
		}
	}
	if e.bus == nil {
		return
	}
	for _, v := range visits {
		e.bus.PublishVisit(v)
	}
	for _, q := range queues {
		e.bus.PublishQueue(q)
	}
	for _, a := range alerts {
		e.bus.PublishAlert(a)
	}
}

// Run drives the flush, sync, and cleanup jobs until ctx is cancelled, then
// drains: one final flush and sync so nothing buffered is lost on shutdown.
func (e *Engine) Run(ctx context.Context) {
	flushTicker := e.clock.NewTicker(e.cfg.GetFlushInterval())
	defer flushTicker.Stop()
	syncTicker := e.clock.NewTicker(e.cfg.GetSyncInterval())
	defer syncTicker.Stop()
	cleanupTicker := e.clock.NewTicker(e.cfg.GetCleanupInterval())
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Flush()
			e.Sync()
			return
		case <-flushTicker.C():
			e.Flush()
		case <-syncTicker.C():
			e.Sync()
		case now := <-cleanupTicker.C():
			if err := e.Cleanup(now); err != nil {
				monitoring.Logf("cleanup failed: %v", err)
			}
		}
	}
}

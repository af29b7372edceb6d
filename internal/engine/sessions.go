package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/zones"
)

// defaultEndGrace covers zones whose definition predates the per-zone grace
// field and carries a zero.
const defaultEndGrace = time.Second

// visitSession is an open presence of one track inside one zone. It lives
// from the first sampled position inside the polygon until the track has
// been absent longer than the zone's end grace.
type visitSession struct {
	trackKey   string
	zoneID     string
	venueID    string
	entry      time.Time
	entryPos   geo.Point
	lastInside time.Time
	lastPos    geo.Point
	positions  []geo.Point
	samples    int64
}

func newVisitSession(trackKey string, z *zones.Zone, now time.Time, pos geo.Point, posCap int) *visitSession {
	s := &visitSession{
		trackKey:   trackKey,
		zoneID:     z.ID,
		venueID:    z.VenueID,
		entry:      now,
		entryPos:   pos,
		lastInside: now,
		lastPos:    pos,
	}
	s.observe(now, pos, posCap)
	return s
}

// observe records one sampled position inside the zone.
func (s *visitSession) observe(now time.Time, pos geo.Point, posCap int) {
	s.lastInside = now
	s.lastPos = pos
	s.samples++
	s.positions = append(s.positions, pos)
	if posCap > 0 && len(s.positions) > posCap {
		s.positions = s.positions[len(s.positions)-posCap:]
	}
}

// graceExpired reports whether the track has been absent long enough to end
// the visit.
func (s *visitSession) graceExpired(now time.Time, z *zones.Zone) bool {
	grace := z.EndGrace
	if grace <= 0 {
		grace = defaultEndGrace
	}
	return now.Sub(s.lastInside) > grace
}

// finalize closes the session into a Visit record. The visit ends at the
// last sample inside the zone, not at the moment the grace ran out. Visits
// shorter than the zone's minimum duration are discarded and ok is false.
// Dwell and engagement classification is boundary inclusive.
func (s *visitSession) finalize(z *zones.Zone, minSamples int) (store.Visit, bool) {
	duration := s.lastInside.Sub(s.entry)
	if z.MinVisitDuration > 0 && duration < z.MinVisitDuration {
		return store.Visit{}, false
	}

	v := store.Visit{
		VisitID:         uuid.NewString(),
		TrackKey:        s.trackKey,
		ZoneID:          s.zoneID,
		VenueID:         s.venueID,
		StartMs:         store.TimeMs(s.entry),
		EndMs:           store.TimeMs(s.lastInside),
		DurationMs:      duration.Milliseconds(),
		SampleCount:     s.samples,
		IsCompleteTrack: int(s.samples) > minSamples,
		EntryX:          s.entryPos.X,
		EntryZ:          s.entryPos.Z,
		ExitX:           s.lastPos.X,
		ExitZ:           s.lastPos.Z,
	}
	if z.DwellThreshold > 0 && duration >= z.DwellThreshold {
		v.IsDwell = true
	}
	if z.EngagementThreshold > 0 && duration >= z.EngagementThreshold {
		v.IsEngagement = true
	}
	return v, true
}

// queueSession tracks one shopper through a queue lane and, if they reach
// it, the linked service zone.
type queueSession struct {
	trackKey      string
	queueZoneID   string
	serviceZoneID string
	queueEntry    time.Time
	lastInQueue   time.Time
	serviceEntry  time.Time // zero until the shopper reaches the service zone
	lastInService time.Time
	lastSeen      time.Time
}

func newQueueSession(trackKey string, z *zones.Zone, now time.Time) *queueSession {
	return &queueSession{
		trackKey:      trackKey,
		queueZoneID:   z.ID,
		serviceZoneID: z.LinkedServiceZoneID,
		queueEntry:    now,
		lastInQueue:   now,
		lastSeen:      now,
	}
}

// observe advances the session with one sampled position. The queue-to-
// service transition fires the first time the shopper is seen in the service
// zone; after that, brushing back through the lane polygon does not reopen
// the waiting phase.
func (s *queueSession) observe(now time.Time, inQueue, inService bool) {
	switch {
	case s.serviceEntry.IsZero() && inService:
		s.serviceEntry = now
		s.lastInService = now
		s.lastSeen = now
	case !s.serviceEntry.IsZero() && inService:
		s.lastInService = now
		s.lastSeen = now
	case s.serviceEntry.IsZero() && inQueue:
		s.lastInQueue = now
		s.lastSeen = now
	case inQueue || inService:
		s.lastSeen = now
	}
}

// graceExpired reports whether the shopper has been absent from both the
// lane and the service zone long enough to end the session.
func (s *queueSession) graceExpired(now time.Time, grace time.Duration) bool {
	return now.Sub(s.lastSeen) > grace
}

// finalize closes the session into a QueueRecord. A shopper who reached the
// service zone was served; their queue exit is the service transition itself,
// so waiting runs from queue entry to service entry. An unserved exit below
// minDwell never formed a genuine queue and is recorded abandoned; at or
// above it, walkthrough.
func (s *queueSession) finalize(minDwell time.Duration) store.QueueRecord {
	rec := store.QueueRecord{
		SessionID:     uuid.NewString(),
		TrackKey:      s.trackKey,
		QueueZoneID:   s.queueZoneID,
		ServiceZoneID: s.serviceZoneID,
		QueueEntryMs:  store.TimeMs(s.queueEntry),
	}

	if !s.serviceEntry.IsZero() {
		serviceEntryMs := store.TimeMs(s.serviceEntry)
		serviceExitMs := store.TimeMs(s.lastInService)
		serviceMs := serviceExitMs - serviceEntryMs
		totalMs := serviceExitMs - rec.QueueEntryMs

		rec.QueueExitMs = serviceEntryMs
		rec.ServiceEntryMs = &serviceEntryMs
		rec.ServiceExitMs = &serviceExitMs
		rec.WaitingMs = serviceEntryMs - rec.QueueEntryMs
		rec.ServiceMs = &serviceMs
		rec.TimeInSystemMs = &totalMs
		rec.Outcome = store.QueueOutcomeServed
		return rec
	}

	rec.QueueExitMs = store.TimeMs(s.lastInQueue)
	rec.WaitingMs = rec.QueueExitMs - rec.QueueEntryMs
	if time.Duration(rec.WaitingMs)*time.Millisecond < minDwell {
		rec.Outcome = store.QueueOutcomeAbandoned
	} else {
		rec.Outcome = store.QueueOutcomeWalkthrough
	}
	return rec
}

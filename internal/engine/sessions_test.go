package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/zones"
)

var sessionBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func dwellZone() *zones.Zone {
	return &zones.Zone{
		ID:                  "display",
		VenueID:             "venue-1",
		Vertices:            []geo.Vertex{{X: 0, Z: 0}, {X: 10, Z: 0}, {X: 10, Z: 10}, {X: 0, Z: 10}},
		DwellThreshold:      10 * time.Second,
		EngagementThreshold: 30 * time.Second,
		EndGrace:            time.Second,
	}
}

func TestVisitSession_DwellBoundaryIsInclusive(t *testing.T) {
	z := dwellZone()

	s := newVisitSession("cam-1:1", z, sessionBase, geo.Point{X: 5, Z: 5}, 100)
	s.observe(sessionBase.Add(10*time.Second), geo.Point{X: 6, Z: 5}, 100)

	v, ok := s.finalize(z, 5)
	require.True(t, ok)
	assert.Equal(t, int64(10_000), v.DurationMs)
	assert.True(t, v.IsDwell, "a stay of exactly the threshold dwells")
	assert.False(t, v.IsEngagement)
}

func TestVisitSession_EndsAtLastSampleInside(t *testing.T) {
	z := dwellZone()

	s := newVisitSession("cam-1:1", z, sessionBase, geo.Point{X: 5, Z: 5}, 100)
	s.observe(sessionBase.Add(12*time.Second), geo.Point{X: 7, Z: 5}, 100)

	// Absence shorter than the grace keeps the visit open.
	assert.False(t, s.graceExpired(sessionBase.Add(12*time.Second+900*time.Millisecond), z))
	assert.True(t, s.graceExpired(sessionBase.Add(14*time.Second), z))

	v, ok := s.finalize(z, 5)
	require.True(t, ok)
	assert.Equal(t, store.TimeMs(sessionBase.Add(12*time.Second)), v.EndMs)
	assert.Equal(t, 7.0, v.ExitX)
	assert.Equal(t, 5.0, v.EntryX)
}

func TestVisitSession_MinDurationDiscards(t *testing.T) {
	z := dwellZone()
	z.MinVisitDuration = time.Second

	s := newVisitSession("cam-1:1", z, sessionBase, geo.Point{X: 5, Z: 5}, 100)
	s.observe(sessionBase.Add(500*time.Millisecond), geo.Point{X: 5, Z: 5}, 100)

	_, ok := s.finalize(z, 5)
	assert.False(t, ok)
}

func TestVisitSession_CompleteTrackNeedsMoreThanFloor(t *testing.T) {
	z := dwellZone()

	s := newVisitSession("cam-1:1", z, sessionBase, geo.Point{X: 5, Z: 5}, 100)
	for i := 1; i <= 4; i++ {
		s.observe(sessionBase.Add(time.Duration(i)*time.Second), geo.Point{X: 5, Z: 5}, 100)
	}
	// 5 samples total: not above the floor of 5.
	v, ok := s.finalize(z, 5)
	require.True(t, ok)
	assert.False(t, v.IsCompleteTrack)

	s.observe(sessionBase.Add(5*time.Second), geo.Point{X: 5, Z: 5}, 100)
	v, ok = s.finalize(z, 5)
	require.True(t, ok)
	assert.True(t, v.IsCompleteTrack)
}

func TestVisitSession_PositionCap(t *testing.T) {
	z := dwellZone()
	s := newVisitSession("cam-1:1", z, sessionBase, geo.Point{}, 10)
	for i := 0; i < 50; i++ {
		s.observe(sessionBase.Add(time.Duration(i)*time.Second), geo.Point{X: float64(i)}, 10)
	}
	assert.Len(t, s.positions, 10)
	assert.Equal(t, int64(51), s.samples)
	assert.Equal(t, 49.0, s.lastPos.X)
}

func queueZone() *zones.Zone {
	return &zones.Zone{
		ID:                  "lane-1",
		VenueID:             "venue-1",
		Vertices:            []geo.Vertex{{X: 0, Z: 0}, {X: 2, Z: 0}, {X: 2, Z: 10}, {X: 0, Z: 10}},
		LinkedServiceZoneID: "till-1",
	}
}

func TestQueueSession_ServedPath(t *testing.T) {
	z := queueZone()
	s := newQueueSession("cam-1:1", z, sessionBase)

	for i := 1; i <= 30; i++ {
		s.observe(sessionBase.Add(time.Duration(i)*time.Second), true, false)
	}
	// Transition into the service zone, then a minute of service.
	s.observe(sessionBase.Add(31*time.Second), false, true)
	s.observe(sessionBase.Add(91*time.Second), false, true)

	rec := s.finalize(5 * time.Second)
	assert.Equal(t, store.QueueOutcomeServed, rec.Outcome)
	assert.Equal(t, int64(31_000), rec.WaitingMs, "waiting runs from queue entry to service entry")
	require.NotNil(t, rec.ServiceEntryMs)
	assert.Equal(t, *rec.ServiceEntryMs, rec.QueueExitMs)
	require.NotNil(t, rec.ServiceMs)
	assert.Equal(t, int64(60_000), *rec.ServiceMs)
	require.NotNil(t, rec.TimeInSystemMs)
	assert.Equal(t, int64(91_000), *rec.TimeInSystemMs)
}

func TestQueueSession_ServiceTransitionDoesNotReopen(t *testing.T) {
	z := queueZone()
	s := newQueueSession("cam-1:1", z, sessionBase)

	s.observe(sessionBase.Add(10*time.Second), true, false)
	s.observe(sessionBase.Add(11*time.Second), false, true)
	// Brushing back through the lane polygon after service started.
	s.observe(sessionBase.Add(12*time.Second), true, false)

	rec := s.finalize(5 * time.Second)
	assert.Equal(t, store.QueueOutcomeServed, rec.Outcome)
	assert.Equal(t, int64(11_000), rec.WaitingMs, "waiting ends at the service transition")
	assert.Equal(t, *rec.ServiceEntryMs, rec.QueueExitMs)
}

func TestQueueSession_AbandonedVersusWalkthrough(t *testing.T) {
	z := queueZone()

	// A dwell below the minimum that never reached service is abandoned.
	abandoned := newQueueSession("cam-1:1", z, sessionBase)
	abandoned.observe(sessionBase.Add(2*time.Second), true, false)
	rec := abandoned.finalize(5 * time.Second)
	assert.Equal(t, store.QueueOutcomeAbandoned, rec.Outcome)
	assert.Nil(t, rec.ServiceEntryMs)
	assert.Equal(t, int64(2000), rec.WaitingMs)

	walkthrough := newQueueSession("cam-1:2", z, sessionBase)
	walkthrough.observe(sessionBase.Add(8*time.Second), true, false)
	rec = walkthrough.finalize(5 * time.Second)
	assert.Equal(t, store.QueueOutcomeWalkthrough, rec.Outcome)
	assert.Equal(t, int64(8000), rec.WaitingMs)
}

func TestQueueSession_GraceExpiry(t *testing.T) {
	z := queueZone()
	s := newQueueSession("cam-1:1", z, sessionBase)
	s.observe(sessionBase.Add(10*time.Second), true, false)

	assert.False(t, s.graceExpired(sessionBase.Add(10*time.Second+800*time.Millisecond), time.Second))
	assert.True(t, s.graceExpired(sessionBase.Add(12*time.Second), time.Second))
}

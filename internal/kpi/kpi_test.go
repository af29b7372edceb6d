package kpi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/timeutil"
	"github.com/retailsense/venueflow/internal/zones"
)

var kpiBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestCalculator(t *testing.T) (*Calculator, *store.Store) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "kpi-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	zone := zones.Zone{
		ID:       "display",
		VenueID:  "venue-1",
		Vertices: []geo.Vertex{{X: 0, Z: 0}, {X: 10, Z: 0}, {X: 10, Z: 10}, {X: 0, Z: 10}},
	}
	reg := zones.NewRegistry(&zones.StaticProvider{Zones: []zones.Zone{zone}}, timeutil.NewMockClock(kpiBase))
	require.NoError(t, reg.Refresh(context.Background()))

	return New(db, reg, 0.1), db
}

func visitAt(id, trackKey, zoneID string, start time.Time, dur time.Duration, dwell bool) store.Visit {
	return store.Visit{
		VisitID:    id,
		TrackKey:   trackKey,
		ZoneID:     zoneID,
		VenueID:    "venue-1",
		StartMs:    store.TimeMs(start),
		EndMs:      store.TimeMs(start.Add(dur)),
		DurationMs: dur.Milliseconds(),
		IsDwell:    dwell,
	}
}

func window(d time.Duration) Window {
	return Window{Start: kpiBase, End: kpiBase.Add(d)}
}

func TestZoneReport_VisitMetrics(t *testing.T) {
	c, db := newTestCalculator(t)

	_, err := db.InsertVisits([]store.Visit{
		visitAt("v1", "t1", "display", kpiBase.Add(time.Minute), 20*time.Second, true),
		visitAt("v2", "t1", "display", kpiBase.Add(5*time.Minute), 40*time.Second, true),
		visitAt("v3", "t2", "display", kpiBase.Add(10*time.Minute), 6*time.Second, false),
	})
	require.NoError(t, err)

	r, err := c.ZoneReport("display", window(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(3), r.Visits)
	assert.Equal(t, int64(2), r.UniqueVisitors)
	assert.Equal(t, int64(66_000), r.TotalTimeMs)
	assert.InDelta(t, 22_000, r.AvgVisitMs, 1e-9)
	assert.Equal(t, int64(2), r.DwellCount)
	assert.InDelta(t, 2.0/3.0, r.DwellRatio, 1e-9)
	assert.Equal(t, int64(3), r.HourlyVisits[9])

	// 6s < 10s, 20s < 30s, 40s < 60s: one visit per bin.
	assert.Equal(t, int64(1), r.DwellHistogram[0].Count)
	assert.Equal(t, int64(1), r.DwellHistogram[1].Count)
	assert.Equal(t, int64(1), r.DwellHistogram[2].Count)
}

func TestZoneReport_FlowMetrics(t *testing.T) {
	c, db := newTestCalculator(t)

	_, err := db.InsertVisits([]store.Visit{
		// t1 bounces: display is the only zone they dwelt in.
		visitAt("v1", "t1", "display", kpiBase.Add(time.Minute), 10*time.Second, true),
		// t2 dwells in display first, then in the till: a draw for display.
		visitAt("v2", "t2", "display", kpiBase.Add(2*time.Minute), 30*time.Second, true),
		visitAt("v3", "t2", "till", kpiBase.Add(3*time.Minute), 60*time.Second, true),
		// t3 dwells at the entrance first and in display last: an exit.
		visitAt("v4", "t3", "entrance", kpiBase.Add(4*time.Minute), 20*time.Second, true),
		visitAt("v5", "t3", "display", kpiBase.Add(5*time.Minute), 30*time.Second, true),
		// t4 only walks past display below the dwell threshold on the way to
		// the till: the walk-past shapes no path, so display sees nothing.
		visitAt("v6", "t4", "display", kpiBase.Add(6*time.Minute), 3*time.Second, false),
		visitAt("v7", "t4", "till", kpiBase.Add(7*time.Minute), 60*time.Second, true),
		// t5 never sees display.
		visitAt("v8", "t5", "till", kpiBase.Add(8*time.Minute), 60*time.Second, true),
	})
	require.NoError(t, err)

	r, err := c.ZoneReport("display", window(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(1), r.Draws, "only t2 dwelt in display first")
	assert.Equal(t, int64(1), r.Exits, "only t3 dwelt in display last")
	assert.Equal(t, int64(1), r.Bounces)
	// Venue saw 5 visitors; display saw 4 of them (t4's walk-past counts
	// as a visit even though it shapes no dwell path).
	assert.InDelta(t, 0.8, r.VenueShare, 1e-9)

	// From the till's perspective t2 arrived from display, so the till
	// gains exits but no draws.
	till, err := c.ZoneReport("till", window(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), till.Draws)
	assert.Equal(t, int64(1), till.Exits, "t2 dwelt in the till last")
	assert.Equal(t, int64(2), till.Bounces, "t4 and t5 dwelt only in the till")
}

func TestZoneReport_OccupancyAndMovement(t *testing.T) {
	c, db := newTestCalculator(t)

	_, err := db.InsertOccupancy([]store.OccupancyRecord{
		{ZoneID: "display", TimestampMs: store.TimeMs(kpiBase), TrackCount: 0},
		{ZoneID: "display", TimestampMs: store.TimeMs(kpiBase.Add(time.Second)), TrackCount: 2},
		{ZoneID: "display", TimestampMs: store.TimeMs(kpiBase.Add(2 * time.Second)), TrackCount: 4},
		{ZoneID: "display", TimestampMs: store.TimeMs(kpiBase.Add(3 * time.Second)), TrackCount: 2},
	})
	require.NoError(t, err)

	_, err = db.InsertPositions([]store.PositionRecord{
		// Inside the zone: one at rest, one moving.
		{TrackKey: "t1", VenueID: "venue-1", X: 5, Z: 5, Velocity: 0.05, TimestampMs: store.TimeMs(kpiBase)},
		{TrackKey: "t1", VenueID: "venue-1", X: 6, Z: 5, Velocity: 1.15, TimestampMs: store.TimeMs(kpiBase.Add(time.Second))},
		// Outside the polygon: ignored.
		{TrackKey: "t2", VenueID: "venue-1", X: 50, Z: 50, Velocity: 9.0, TimestampMs: store.TimeMs(kpiBase)},
	})
	require.NoError(t, err)

	r, err := c.ZoneReport("display", window(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(4), r.PeakOccupancy)
	assert.InDelta(t, 2.0, r.AvgOccupancy, 1e-9)
	assert.InDelta(t, 0.75, r.UtilizationRatio, 1e-9)
	assert.InDelta(t, 0.6, r.AvgVelocity, 1e-9)
	assert.InDelta(t, 0.5, r.AtRestRatio, 1e-9)
}

func TestZoneReport_EmptyWindowDegradesToZero(t *testing.T) {
	c, _ := newTestCalculator(t)

	r, err := c.ZoneReport("display", window(time.Hour))
	require.NoError(t, err)

	assert.Zero(t, r.Visits)
	assert.Zero(t, r.UniqueVisitors)
	assert.Zero(t, r.AvgVisitMs)
	assert.Zero(t, r.PeakOccupancy)
	assert.Zero(t, r.AtRestRatio)
	assert.Zero(t, r.VenueShare)
}

func TestOccupancySeries_Buckets(t *testing.T) {
	c, db := newTestCalculator(t)

	_, err := db.InsertOccupancy([]store.OccupancyRecord{
		{ZoneID: "display", TimestampMs: store.TimeMs(kpiBase), TrackCount: 1},
		{ZoneID: "display", TimestampMs: store.TimeMs(kpiBase.Add(30 * time.Second)), TrackCount: 3},
		{ZoneID: "display", TimestampMs: store.TimeMs(kpiBase.Add(90 * time.Second)), TrackCount: 5},
	})
	require.NoError(t, err)

	series, err := c.OccupancySeries("display", window(time.Hour), time.Minute)
	require.NoError(t, err)

	require.Len(t, series, 2)
	assert.InDelta(t, 2.0, series[0].Avg, 1e-9)
	assert.Equal(t, int64(3), series[0].Peak)
	assert.InDelta(t, 5.0, series[1].Avg, 1e-9)

	empty, err := c.OccupancySeries("other", window(time.Hour), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

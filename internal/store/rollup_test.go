package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rollupBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func ms(offset time.Duration) int64 {
	return TimeMs(rollupBase.Add(offset))
}

func TestHourFloorMs(t *testing.T) {
	assert.Equal(t, ms(0), HourFloorMs(ms(59*time.Minute)))
	assert.Equal(t, ms(0), HourFloorMs(ms(0)))
	assert.Equal(t, ms(time.Hour), HourFloorMs(ms(61*time.Minute)))
}

func TestRollupRange_HourlyFromRaw(t *testing.T) {
	s := newTestStore(t)

	// Two visits by the same shopper plus one by another, all in hour 9.
	visits := []Visit{
		testVisit("v1", "cam-1:7", "entrance", ms(5*time.Minute)),
		testVisit("v2", "cam-1:7", "entrance", ms(20*time.Minute)),
		testVisit("v3", "cam-1:9", "entrance", ms(40*time.Minute)),
	}
	visits[2].IsDwell = false
	_, err := s.InsertVisits(visits)
	require.NoError(t, err)

	_, err = s.InsertOccupancy([]OccupancyRecord{
		{ZoneID: "entrance", TimestampMs: ms(time.Minute), TrackCount: 2},
		{ZoneID: "entrance", TimestampMs: ms(2 * time.Minute), TrackCount: 4},
	})
	require.NoError(t, err)

	_, err = s.InsertQueueSessions([]QueueRecord{
		{SessionID: "q1", TrackKey: "cam-1:7", QueueZoneID: "lane-1",
			ServiceZoneID: "till-1", QueueEntryMs: ms(10 * time.Minute),
			QueueExitMs: ms(11 * time.Minute), WaitingMs: 60_000,
			Outcome: QueueOutcomeAbandoned},
	})
	require.NoError(t, err)

	require.NoError(t, s.RollupRange(ms(0), ms(time.Hour)))
	folded, err := s.FoldOccupancyBefore(ms(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), folded)

	hourly, err := s.HourlyKPIs("entrance", "2026-03-01", "2026-03-01")
	require.NoError(t, err)
	require.Len(t, hourly, 1)

	h := hourly[0]
	assert.Equal(t, 9, h.Hour)
	assert.Equal(t, int64(3), h.VisitCount)
	assert.Equal(t, int64(2), h.UniqueVisitors)
	assert.Equal(t, int64(2), h.DwellTotal)
	assert.Equal(t, int64(1), h.DwellUnique)
	assert.Equal(t, int64(4), h.PeakOccupancy)
	assert.InDelta(t, 3.0, h.AvgOccupancy, 1e-9)
	assert.Equal(t, int64(2), h.OccupancySamples)

	lane, err := s.HourlyKPIs("lane-1", "2026-03-01", "2026-03-01")
	require.NoError(t, err)
	require.Len(t, lane, 1)
	assert.Equal(t, int64(1), lane[0].QueueCount)
	assert.InDelta(t, 60_000, lane[0].AvgWaitMs, 1e-9)
}

func TestFoldOccupancy_MergesWeightedAcrossPasses(t *testing.T) {
	s := newTestStore(t)

	// Pass one: two samples averaging 3, folded and pruned together.
	_, err := s.InsertOccupancy([]OccupancyRecord{
		{ZoneID: "entrance", TimestampMs: ms(time.Minute), TrackCount: 2},
		{ZoneID: "entrance", TimestampMs: ms(2 * time.Minute), TrackCount: 4},
	})
	require.NoError(t, err)
	folded, err := s.FoldOccupancyBefore(ms(30 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), folded)

	// Pass two: one late sample of 6 lands in the same hour. The merged
	// average must weight by sample count: (3*2 + 6*1) / 3 = 4.
	_, err = s.InsertOccupancy([]OccupancyRecord{
		{ZoneID: "entrance", TimestampMs: ms(45 * time.Minute), TrackCount: 6},
	})
	require.NoError(t, err)
	folded, err = s.FoldOccupancyBefore(ms(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), folded)

	hourly, err := s.HourlyKPIs("entrance", "2026-03-01", "2026-03-01")
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.InDelta(t, 4.0, hourly[0].AvgOccupancy, 1e-9)
	assert.Equal(t, int64(3), hourly[0].OccupancySamples)
	assert.Equal(t, int64(6), hourly[0].PeakOccupancy)
}

func TestFoldOccupancy_RetriesCountNothingTwice(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertOccupancy([]OccupancyRecord{
		{ZoneID: "entrance", TimestampMs: ms(time.Minute), TrackCount: 2},
		{ZoneID: "entrance", TimestampMs: ms(2 * time.Minute), TrackCount: 4},
	})
	require.NoError(t, err)
	_, err = s.InsertVisits([]Visit{testVisit("v1", "cam-1:7", "entrance", ms(5*time.Minute))})
	require.NoError(t, err)

	require.NoError(t, s.RollupRange(ms(0), ms(time.Hour)))
	folded, err := s.FoldOccupancyBefore(ms(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), folded)

	// A retried pass over the same range: the fold finds no rows left and
	// the visit recompute replaces rather than accumulates.
	require.NoError(t, s.RollupRange(ms(0), ms(time.Hour)))
	folded, err = s.FoldOccupancyBefore(ms(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, folded)

	hourly, err := s.HourlyKPIs("entrance", "2026-03-01", "2026-03-01")
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.Equal(t, int64(2), hourly[0].OccupancySamples)
	assert.InDelta(t, 3.0, hourly[0].AvgOccupancy, 1e-9)
	assert.Equal(t, int64(1), hourly[0].VisitCount)
}

func TestRollupDaily_WeightedFromHourly(t *testing.T) {
	s := newTestStore(t)

	// Hour 9: 10 samples averaging 2. Hour 10: 2 samples averaging 8.
	for i := 0; i < 10; i++ {
		_, err := s.InsertOccupancy([]OccupancyRecord{
			{ZoneID: "entrance", TimestampMs: ms(time.Duration(i) * time.Minute), TrackCount: 2},
		})
		require.NoError(t, err)
	}
	_, err := s.InsertOccupancy([]OccupancyRecord{
		{ZoneID: "entrance", TimestampMs: ms(time.Hour + time.Minute), TrackCount: 8},
		{ZoneID: "entrance", TimestampMs: ms(time.Hour + 2*time.Minute), TrackCount: 8},
	})
	require.NoError(t, err)

	_, err = s.InsertVisits([]Visit{
		testVisit("v1", "cam-1:7", "entrance", ms(5*time.Minute)),
		testVisit("v2", "cam-1:7", "entrance", ms(time.Hour+5*time.Minute)),
	})
	require.NoError(t, err)

	require.NoError(t, s.RollupRange(ms(0), ms(2*time.Hour)))
	_, err = s.FoldOccupancyBefore(ms(2 * time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.RollupDaily(ms(0), ms(2*time.Hour)))

	daily, err := s.DailyKPIs("entrance", "2026-03-01", "2026-03-01")
	require.NoError(t, err)
	require.Len(t, daily, 1)

	d := daily[0]
	// Mean of hourly means would claim 5; the sample-weighted truth is 3.
	assert.InDelta(t, 3.0, d.AvgOccupancy, 1e-9)
	assert.Equal(t, int64(12), d.OccupancySamples)
	assert.Equal(t, int64(8), d.PeakOccupancy)

	// One shopper visiting in both hours stays one unique visitor.
	assert.Equal(t, int64(2), d.VisitCount)
	assert.Equal(t, int64(1), d.UniqueVisitors)
}

func TestDeletePositionsBefore_LeavesVisitsAlone(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertVisits([]Visit{testVisit("v1", "cam-1:7", "entrance", ms(0))})
	require.NoError(t, err)
	_, err = s.InsertPositions([]PositionRecord{
		{TrackKey: "cam-1:7", VenueID: "venue-1", TimestampMs: ms(0)},
		{TrackKey: "cam-1:7", VenueID: "venue-1", TimestampMs: ms(2 * time.Hour)},
	})
	require.NoError(t, err)
	_, err = s.InsertOccupancy([]OccupancyRecord{
		{ZoneID: "entrance", TimestampMs: ms(0), TrackCount: 1},
	})
	require.NoError(t, err)

	positions, err := s.DeletePositionsBefore(ms(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), positions)

	remaining, err := s.PositionsBetween(0, ms(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	// Occupancy samples are the fold's to delete, and finalized visits
	// survive retention outright.
	occ, err := s.OccupancyBetween("entrance", 0, ms(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, occ, 1)
	visits, err := s.ZoneVisitsBetween("entrance", 0, ms(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, visits, 1)
}

func TestOldestRawMs(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.OldestRawMs()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.InsertPositions([]PositionRecord{
		{TrackKey: "cam-1:7", VenueID: "venue-1", TimestampMs: ms(time.Hour)},
	})
	require.NoError(t, err)
	_, err = s.InsertOccupancy([]OccupancyRecord{
		{ZoneID: "entrance", TimestampMs: ms(10 * time.Minute), TrackCount: 1},
	})
	require.NoError(t, err)

	oldest, ok, err := s.OldestRawMs()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ms(10*time.Minute), oldest)
}

func TestPruneLedger_OnlyAcknowledged(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertLedgerEntries([]LedgerEntry{
		{EntryID: "old-acked", RuleID: "r1", ZoneID: "z", Metric: "occupancy",
			Operator: "gt", Threshold: 5, Observed: 6, TriggeredMs: ms(0), Acknowledged: true},
		{EntryID: "old-open", RuleID: "r1", ZoneID: "z", Metric: "occupancy",
			Operator: "gt", Threshold: 5, Observed: 7, TriggeredMs: ms(time.Minute)},
	})
	require.NoError(t, err)

	n, err := s.PruneLedger(ms(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.LedgerEntries("", false, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "old-open", left[0].EntryID)
}

func TestCompact(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Compact())
}

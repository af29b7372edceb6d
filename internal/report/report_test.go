package report

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/kpi"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/timeutil"
	"github.com/retailsense/venueflow/internal/zones"
)

var reportBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestWriteZoneReport(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "report-test.db"))
	require.NoError(t, err)
	defer db.Close()

	zone := zones.Zone{
		ID:       "display",
		VenueID:  "venue-1",
		Vertices: []geo.Vertex{{X: 0, Z: 0}, {X: 10, Z: 0}, {X: 10, Z: 10}, {X: 0, Z: 10}},
	}
	reg := zones.NewRegistry(&zones.StaticProvider{Zones: []zones.Zone{zone}}, timeutil.NewMockClock(reportBase))
	require.NoError(t, reg.Refresh(context.Background()))

	_, err = db.InsertVisits([]store.Visit{{
		VisitID: "v1", TrackKey: "t1", ZoneID: "display", VenueID: "venue-1",
		StartMs: store.TimeMs(reportBase), EndMs: store.TimeMs(reportBase.Add(20 * time.Second)),
		DurationMs: 20_000, IsDwell: true,
	}})
	require.NoError(t, err)
	_, err = db.InsertOccupancy([]store.OccupancyRecord{
		{ZoneID: "display", TimestampMs: store.TimeMs(reportBase), TrackCount: 2},
		{ZoneID: "display", TimestampMs: store.TimeMs(reportBase.Add(time.Minute)), TrackCount: 5},
	})
	require.NoError(t, err)

	g := New(kpi.New(db, reg, 0.1))

	var buf bytes.Buffer
	win := kpi.Window{Start: reportBase, End: reportBase.Add(time.Hour)}
	require.NoError(t, g.WriteZoneReport(&buf, "display", win))

	html := buf.String()
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "Occupancy: display")
	assert.Contains(t, html, "Visit durations: display")
}

func TestWriteZoneReport_EmptyZoneStillRenders(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "report-empty.db"))
	require.NoError(t, err)
	defer db.Close()

	reg := zones.NewRegistry(&zones.StaticProvider{}, timeutil.NewMockClock(reportBase))
	require.NoError(t, reg.Refresh(context.Background()))

	g := New(kpi.New(db, reg, 0.1))
	var buf bytes.Buffer
	win := kpi.Window{Start: reportBase, End: reportBase.Add(time.Hour)}
	require.NoError(t, g.WriteZoneReport(&buf, "ghost", win))
	assert.NotZero(t, buf.Len())
}

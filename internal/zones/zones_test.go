package zones

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/timeutil"
)

func squareZone(id string) Zone {
	return Zone{
		ID:       id,
		VenueID:  "venue-1",
		Vertices: []geo.Vertex{{X: 0, Z: 0}, {X: 10, Z: 0}, {X: 10, Z: 10}, {X: 0, Z: 10}},
	}
}

func TestSnapshot_Containing(t *testing.T) {
	reg := NewRegistry(&StaticProvider{Zones: []Zone{
		squareZone("a"),
		{ID: "degenerate", Vertices: []geo.Vertex{{X: 0, Z: 0}}},
	}}, timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, reg.Refresh(context.Background()))

	snap := reg.Snapshot()
	hit := snap.Containing(geo.Point{X: 5, Z: 5})
	require.Len(t, hit, 1)
	assert.Equal(t, "a", hit[0].ID)

	assert.Empty(t, snap.Containing(geo.Point{X: 50, Z: 50}))
}

func TestRegistry_RefreshBumpsVersion(t *testing.T) {
	reg := NewRegistry(&StaticProvider{Zones: []Zone{squareZone("a")}}, timeutil.NewMockClock(time.Unix(0, 0)))

	require.NoError(t, reg.Refresh(context.Background()))
	v1 := reg.Snapshot().Version
	require.NoError(t, reg.Refresh(context.Background()))
	assert.Greater(t, reg.Snapshot().Version, v1)
}

func TestLaneGating_UnconfiguredDefaultsOpen(t *testing.T) {
	g := LaneGating{Mode: LaneGatingUnconfigured}
	assert.True(t, g.IsOpen("any-lane"))
}

func TestLaneGating_ConfiguredEmptyClosesAll(t *testing.T) {
	g := LaneGating{Mode: LaneGatingConfigured, OpenLanes: map[string]bool{}}
	assert.False(t, g.IsOpen("lane-1"))

	g.OpenLanes["lane-1"] = true
	assert.True(t, g.IsOpen("lane-1"))
	assert.False(t, g.IsOpen("lane-2"))
}

func TestFileProvider_ParsesZonesAndGating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.json")
	contents := `{
		"zones": [{
			"id": "entrance",
			"venue_id": "venue-1",
			"name": "Entrance",
			"vertices": [{"x":0,"z":0},{"x":4,"z":0},{"x":4,"z":4},{"x":0,"z":4}],
			"dwell_threshold_ms": 10000,
			"engagement_threshold_ms": 30000,
			"min_visit_duration_ms": 1000,
			"end_grace_ms": 1000,
			"linked_service_zone_id": "till",
			"alerts_enabled": true,
			"alert_rules": [{"id":"r1","metric":"occupancy","operator":"gt","threshold":25,"enabled":true}]
		}],
		"open_lanes": ["entrance"]
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	p := &FileProvider{Path: path}
	zoneList, gating, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, zoneList, 1)

	z := zoneList[0]
	assert.Equal(t, 10*time.Second, z.DwellThreshold)
	assert.Equal(t, 30*time.Second, z.EngagementThreshold)
	assert.Equal(t, time.Second, z.EndGrace)
	assert.True(t, z.IsQueue())
	require.Len(t, z.AlertRules, 1)
	assert.Equal(t, 25.0, z.AlertRules[0].Threshold)

	assert.Equal(t, LaneGatingConfigured, gating.Mode)
	assert.True(t, gating.IsOpen("entrance"))
	assert.False(t, gating.IsOpen("other"))
}

func TestFileProvider_AbsentOpenLanesIsUnconfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"zones": []}`), 0o644))

	_, gating, err := (&FileProvider{Path: path}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LaneGatingUnconfigured, gating.Mode)
	assert.True(t, gating.IsOpen("anything"))
}

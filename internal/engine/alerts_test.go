package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/track"
	"github.com/retailsense/venueflow/internal/zones"
)

func alertZone(rules ...zones.AlertRule) zones.Zone {
	z := *dwellZone()
	z.AlertsEnabled = true
	z.AlertRules = rules
	return z
}

func crowdBatch(ts time.Time, n int) track.Batch {
	var tracks []track.Snapshot
	for i := 0; i < n; i++ {
		tracks = append(tracks, track.Snapshot{
			Key:      "cam-1:" + string(rune('a'+i)),
			Position: geo.Point{X: 5, Z: 5},
		})
	}
	return batchAt(ts, tracks...)
}

func TestAlerts_TriggerAndCooldown(t *testing.T) {
	rule := zones.AlertRule{ID: "r1", Metric: "occupancy", Operator: "gt", Threshold: 2, Enabled: true}
	env := newTestEnv(t, zones.LaneGating{}, alertZone(rule))

	var published []store.LedgerEntry
	env.bus.SubscribeAlert(func(e store.LedgerEntry) { published = append(published, e) })

	env.eng.HandleBatch(crowdBatch(sessionBase, 3))
	require.Len(t, published, 1)
	assert.Equal(t, "r1", published[0].RuleID)
	assert.Equal(t, 3.0, published[0].Observed)

	entries, err := env.db.LedgerEntries("display", true, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Still over threshold a minute later: suppressed by the cooldown.
	env.eng.HandleBatch(crowdBatch(sessionBase.Add(time.Minute), 4))
	assert.Len(t, published, 1)

	// Past the five minute cooldown it fires again.
	env.eng.HandleBatch(crowdBatch(sessionBase.Add(6*time.Minute), 4))
	assert.Len(t, published, 2)
}

func TestAlerts_CooldownSurvivesRestart(t *testing.T) {
	rule := zones.AlertRule{ID: "r1", Metric: "occupancy", Operator: "gt", Threshold: 2, Enabled: true}
	env := newTestEnv(t, zones.LaneGating{}, alertZone(rule))

	env.eng.HandleBatch(crowdBatch(sessionBase, 3))

	// A fresh engine over the same store inherits the ledger's last trigger.
	restarted := New(env.eng.cfg, "venue-1", env.eng.registry, env.db, nil, env.fs, env.clock)
	restarted.HandleBatch(crowdBatch(sessionBase.Add(time.Minute), 5))

	entries, err := env.db.LedgerEntries("display", false, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAlerts_ThresholdChangeReArms(t *testing.T) {
	rule := zones.AlertRule{ID: "r1", Metric: "occupancy", Operator: "gt", Threshold: 2, Enabled: true}
	env := newTestEnv(t, zones.LaneGating{}, alertZone(rule))
	env.eng.HandleBatch(crowdBatch(sessionBase, 3))

	// Same rule ID, tighter threshold: its cooldown slate is clean.
	tightened := zones.AlertRule{ID: "r1", Metric: "occupancy", Operator: "gt", Threshold: 1, Enabled: true}
	reg := zones.NewRegistry(&zones.StaticProvider{Zones: []zones.Zone{alertZone(tightened)}}, env.clock)
	require.NoError(t, reg.Refresh(t.Context()))
	env.eng.registry = reg

	env.eng.HandleBatch(crowdBatch(sessionBase.Add(time.Minute), 3))

	entries, err := env.db.LedgerEntries("display", false, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAlerts_BadRuleDoesNotBlockOthers(t *testing.T) {
	bad := zones.AlertRule{ID: "bad", Metric: "occupancy", Operator: "between", Threshold: 1, Enabled: true}
	off := zones.AlertRule{ID: "off", Metric: "occupancy", Operator: "gt", Threshold: 0, Enabled: false}
	good := zones.AlertRule{ID: "good", Metric: "occupancy", Operator: "gte", Threshold: 3, Enabled: true}
	env := newTestEnv(t, zones.LaneGating{}, alertZone(bad, off, good))

	env.eng.HandleBatch(crowdBatch(sessionBase, 3))

	entries, err := env.db.LedgerEntries("display", false, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].RuleID)
}

func TestCompare(t *testing.T) {
	for _, tc := range []struct {
		op   string
		v    float64
		th   float64
		want bool
	}{
		{"gt", 3, 2, true},
		{"gt", 2, 2, false},
		{"gte", 2, 2, true},
		{"lt", 1, 2, true},
		{"lte", 2, 2, true},
		{"eq", 2, 2, true},
		{"eq", 2.5, 2, false},
	} {
		got, err := compare(tc.op, tc.v, tc.th)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %v %v", tc.op, tc.v, tc.th)
	}

	_, err := compare("between", 1, 2)
	assert.Error(t, err)
}

// Package kpi derives zone metrics on demand from the durable records. It
// holds no state of its own: every report is computed from the store and the
// current zone snapshot, and an empty window degrades to a zero-valued
// report rather than an error.
package kpi

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/retailsense/venueflow/internal/geo"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/zones"
)

// Calculator computes KPI reports.
type Calculator struct {
	db        *store.Store
	registry  *zones.Registry
	restSpeed float64 // m/s below which a sample counts as standing still
}

// New creates a calculator. restSpeed is the at-rest velocity cutoff.
func New(db *store.Store, registry *zones.Registry, restSpeed float64) *Calculator {
	return &Calculator{db: db, registry: registry, restSpeed: restSpeed}
}

// Window is a half-open [Start, End) report interval.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) startMs() int64 { return store.TimeMs(w.Start) }
func (w Window) endMs() int64   { return store.TimeMs(w.End) }

// HistBucket is one bin of the dwell-duration histogram.
type HistBucket struct {
	UpToMs int64 `json:"up_to_ms"` // upper bound, 0 for the overflow bin
	Count  int64 `json:"count"`
}

// OccupancyPoint is one point of the occupancy time series.
type OccupancyPoint struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Avg         float64 `json:"avg"`
	Peak        int64   `json:"peak"`
}

// ZoneReport is the full KPI set for one zone over one window.
type ZoneReport struct {
	ZoneID string `json:"zone_id"`

	Visits         int64   `json:"visits"`
	UniqueVisitors int64   `json:"unique_visitors"`
	TotalTimeMs    int64   `json:"total_time_ms"`
	AvgVisitMs     float64 `json:"avg_visit_ms"`
	MedianVisitMs  float64 `json:"median_visit_ms"`

	DwellCount      int64   `json:"dwell_count"`
	DwellRatio      float64 `json:"dwell_ratio"`
	EngagementCount int64   `json:"engagement_count"`
	EngagementRatio float64 `json:"engagement_ratio"`
	VenueShare      float64 `json:"venue_share"`

	Draws   int64 `json:"draws"`
	Exits   int64 `json:"exits"`
	Bounces int64 `json:"bounces"`

	PeakOccupancy    int64   `json:"peak_occupancy"`
	AvgOccupancy     float64 `json:"avg_occupancy"`
	UtilizationRatio float64 `json:"utilization_ratio"`

	AvgVelocity float64 `json:"avg_velocity"`
	AtRestRatio float64 `json:"at_rest_ratio"`

	HourlyVisits   [24]int64    `json:"hourly_visits"`
	DwellHistogram []HistBucket `json:"dwell_histogram"`
}

// Dwell histogram bin edges in milliseconds, plus an overflow bin.
var histEdgesMs = []int64{10_000, 30_000, 60_000, 120_000, 300_000}

// ZoneReport computes the KPI set for one zone.
func (c *Calculator) ZoneReport(zoneID string, w Window) (*ZoneReport, error) {
	r := &ZoneReport{ZoneID: zoneID}

	all, err := c.db.VisitsBetween(w.startMs(), w.endMs())
	if err != nil {
		return nil, fmt.Errorf("kpi %s: %w", zoneID, err)
	}

	var durations []float64
	visitors := map[string]bool{}
	venueVisitors := map[string]bool{}
	for _, v := range all {
		venueVisitors[v.TrackKey] = true
		if v.ZoneID != zoneID {
			continue
		}
		r.Visits++
		visitors[v.TrackKey] = true
		r.TotalTimeMs += v.DurationMs
		durations = append(durations, float64(v.DurationMs))
		if v.IsDwell {
			r.DwellCount++
		}
		if v.IsEngagement {
			r.EngagementCount++
		}
		r.HourlyVisits[store.MsTime(v.StartMs).Hour()]++
	}
	r.UniqueVisitors = int64(len(visitors))

	if r.Visits > 0 {
		sort.Float64s(durations)
		r.AvgVisitMs = stat.Mean(durations, nil)
		r.MedianVisitMs = stat.Quantile(0.5, stat.Empirical, durations, nil)
		r.DwellRatio = float64(r.DwellCount) / float64(r.Visits)
		r.EngagementRatio = float64(r.EngagementCount) / float64(r.Visits)
	}
	if len(venueVisitors) > 0 {
		r.VenueShare = float64(len(visitors)) / float64(len(venueVisitors))
	}
	r.DwellHistogram = dwellHistogram(durations)
	r.Draws, r.Exits, r.Bounces = flowMetrics(all, zoneID)

	if err := c.fillOccupancy(r, zoneID, w); err != nil {
		return nil, err
	}
	if err := c.fillMovement(r, zoneID, w); err != nil {
		return nil, err
	}
	return r, nil
}

// flowMetrics classifies each visitor's dwell path relative to the zone: a
// draw dwelt here first, an exit dwelt here last, and a bounce dwelt nowhere
// else. Walk-past visits below the dwell threshold do not shape the path.
func flowMetrics(all []store.Visit, zoneID string) (draws, exits, bounces int64) {
	type path struct {
		zones     []string
		sawTarget bool
	}
	byTrack := map[string]*path{}
	for _, v := range all { // already ordered by start time
		if !v.IsDwell {
			continue
		}
		p := byTrack[v.TrackKey]
		if p == nil {
			p = &path{}
			byTrack[v.TrackKey] = p
		}
		p.zones = append(p.zones, v.ZoneID)
		if v.ZoneID == zoneID {
			p.sawTarget = true
		}
	}

	for _, p := range byTrack {
		if !p.sawTarget {
			continue
		}
		onlyTarget := true
		for _, z := range p.zones {
			if z != zoneID {
				onlyTarget = false
				break
			}
		}
		if onlyTarget {
			bounces++
			continue
		}
		if p.zones[0] == zoneID {
			draws++
		}
		if p.zones[len(p.zones)-1] == zoneID {
			exits++
		}
	}
	return draws, exits, bounces
}

func dwellHistogram(sortedDurations []float64) []HistBucket {
	buckets := make([]HistBucket, len(histEdgesMs)+1)
	for i, edge := range histEdgesMs {
		buckets[i].UpToMs = edge
	}
	for _, d := range sortedDurations {
		placed := false
		for i, edge := range histEdgesMs {
			if int64(d) < edge {
				buckets[i].Count++
				placed = true
				break
			}
		}
		if !placed {
			buckets[len(buckets)-1].Count++
		}
	}
	return buckets
}

func (c *Calculator) fillOccupancy(r *ZoneReport, zoneID string, w Window) error {
	samples, err := c.db.OccupancyBetween(zoneID, w.startMs(), w.endMs())
	if err != nil {
		return fmt.Errorf("kpi occupancy %s: %w", zoneID, err)
	}
	if len(samples) == 0 {
		return nil
	}

	counts := make([]float64, len(samples))
	var occupied int64
	for i, s := range samples {
		counts[i] = float64(s.TrackCount)
		if s.TrackCount > r.PeakOccupancy {
			r.PeakOccupancy = s.TrackCount
		}
		if s.TrackCount > 0 {
			occupied++
		}
	}
	r.AvgOccupancy = stat.Mean(counts, nil)
	r.UtilizationRatio = float64(occupied) / float64(len(samples))
	return nil
}

func (c *Calculator) fillMovement(r *ZoneReport, zoneID string, w Window) error {
	zone := c.registry.Snapshot().Zone(zoneID)
	if zone == nil {
		return nil
	}

	positions, err := c.db.PositionsBetween(w.startMs(), w.endMs())
	if err != nil {
		return fmt.Errorf("kpi movement %s: %w", zoneID, err)
	}

	var speeds []float64
	var atRest int64
	for _, p := range positions {
		if !zone.Contains(positionPoint(p)) {
			continue
		}
		speeds = append(speeds, p.Velocity)
		if p.Velocity < c.restSpeed {
			atRest++
		}
	}
	if len(speeds) > 0 {
		r.AvgVelocity = stat.Mean(speeds, nil)
		r.AtRestRatio = float64(atRest) / float64(len(speeds))
	}
	return nil
}

func positionPoint(p store.PositionRecord) geo.Point {
	return geo.Point{X: p.X, Y: p.Y, Z: p.Z}
}

// OccupancySeries buckets the raw occupancy samples into fixed intervals for
// charting. Intervals with no samples are omitted.
func (c *Calculator) OccupancySeries(zoneID string, w Window, interval time.Duration) ([]OccupancyPoint, error) {
	samples, err := c.db.OccupancyBetween(zoneID, w.startMs(), w.endMs())
	if err != nil {
		return nil, fmt.Errorf("occupancy series %s: %w", zoneID, err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	step := interval.Milliseconds()
	if step <= 0 {
		step = time.Minute.Milliseconds()
	}

	type agg struct {
		sum   int64
		n     int64
		peak  int64
		start int64
	}
	byBucket := map[int64]*agg{}
	var order []int64
	for _, s := range samples {
		b := s.TimestampMs - s.TimestampMs%step
		a := byBucket[b]
		if a == nil {
			a = &agg{start: b}
			byBucket[b] = a
			order = append(order, b)
		}
		a.sum += s.TrackCount
		a.n++
		if s.TrackCount > a.peak {
			a.peak = s.TrackCount
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]OccupancyPoint, 0, len(order))
	for _, b := range order {
		a := byBucket[b]
		out = append(out, OccupancyPoint{
			TimestampMs: a.start,
			Avg:         float64(a.sum) / float64(a.n),
			Peak:        a.peak,
		})
	}
	return out, nil
}

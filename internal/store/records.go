package store

import "time"

// Queue session outcomes. An unserved exit below the minimum queue dwell is
// abandoned: a stay that short never formed a genuine queue. An unserved
// exit past the minimum is a walkthrough.
const (
	QueueOutcomeServed      = "served"
	QueueOutcomeAbandoned   = "abandoned"
	QueueOutcomeWalkthrough = "walkthrough"
)

// Visit is one finalized zone visit. The JSON shape doubles as the spool
// line format, so field names stay stable.
type Visit struct {
	VisitID         string  `json:"visit_id"`
	TrackKey        string  `json:"track_key"`
	ZoneID          string  `json:"zone_id"`
	VenueID         string  `json:"venue_id"`
	StartMs         int64   `json:"start_ms"`
	EndMs           int64   `json:"end_ms"`
	DurationMs      int64   `json:"duration_ms"`
	SampleCount     int64   `json:"sample_count"`
	IsDwell         bool    `json:"is_dwell"`
	IsEngagement    bool    `json:"is_engagement"`
	IsCompleteTrack bool    `json:"is_complete_track"`
	EntryX          float64 `json:"entry_x"`
	EntryZ          float64 `json:"entry_z"`
	ExitX           float64 `json:"exit_x"`
	ExitZ           float64 `json:"exit_z"`
}

// PositionRecord is one sampled track position in venue coordinates.
type PositionRecord struct {
	TrackKey    string  `json:"track_key"`
	VenueID     string  `json:"venue_id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Velocity    float64 `json:"velocity"`
	ObjectType  string  `json:"object_type"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// OccupancyRecord is one per-zone occupancy sample.
type OccupancyRecord struct {
	ZoneID      string `json:"zone_id"`
	TimestampMs int64  `json:"timestamp_ms"`
	TrackCount  int64  `json:"track_count"`
}

// QueueRecord is one finalized queue session. Service fields are nil when
// the shopper never reached the linked service zone.
type QueueRecord struct {
	SessionID      string `json:"session_id"`
	TrackKey       string `json:"track_key"`
	QueueZoneID    string `json:"queue_zone_id"`
	ServiceZoneID  string `json:"service_zone_id"`
	QueueEntryMs   int64  `json:"queue_entry_ms"`
	QueueExitMs    int64  `json:"queue_exit_ms"`
	ServiceEntryMs *int64 `json:"service_entry_ms,omitempty"`
	ServiceExitMs  *int64 `json:"service_exit_ms,omitempty"`
	WaitingMs      int64  `json:"waiting_ms"`
	ServiceMs      *int64 `json:"service_ms,omitempty"`
	TimeInSystemMs *int64 `json:"time_in_system_ms,omitempty"`
	Outcome        string `json:"outcome"`
}

// LedgerEntry is one triggered alert in the durable activity ledger.
type LedgerEntry struct {
	EntryID      string  `json:"entry_id"`
	RuleID       string  `json:"rule_id"`
	ZoneID       string  `json:"zone_id"`
	Metric       string  `json:"metric"`
	Operator     string  `json:"operator"`
	Threshold    float64 `json:"threshold"`
	Observed     float64 `json:"observed"`
	TriggeredMs  int64   `json:"triggered_ms"`
	Acknowledged bool    `json:"acknowledged"`
}

// HourlyKPI is one durable hourly rollup row. OccupancySamples carries the
// weight needed to merge averages into coarser buckets without bias.
type HourlyKPI struct {
	ZoneID           string  `json:"zone_id"`
	Day              string  `json:"day"` // "2006-01-02", UTC
	Hour             int     `json:"hour"`
	VisitCount       int64   `json:"visit_count"`
	UniqueVisitors   int64   `json:"unique_visitors"`
	DwellTotal       int64   `json:"dwell_total"`
	DwellUnique      int64   `json:"dwell_unique"`
	EngagementTotal  int64   `json:"engagement_total"`
	EngagementUnique int64   `json:"engagement_unique"`
	TotalDurationMs  int64   `json:"total_duration_ms"`
	PeakOccupancy    int64   `json:"peak_occupancy"`
	AvgOccupancy     float64 `json:"avg_occupancy"`
	OccupancySamples int64   `json:"occupancy_samples"`
	QueueCount       int64   `json:"queue_count"`
	AvgWaitMs        float64 `json:"avg_wait_ms"`
}

// DailyKPI is one durable daily rollup row.
type DailyKPI struct {
	ZoneID           string  `json:"zone_id"`
	Day              string  `json:"day"`
	VisitCount       int64   `json:"visit_count"`
	UniqueVisitors   int64   `json:"unique_visitors"`
	DwellTotal       int64   `json:"dwell_total"`
	DwellUnique      int64   `json:"dwell_unique"`
	EngagementTotal  int64   `json:"engagement_total"`
	EngagementUnique int64   `json:"engagement_unique"`
	TotalDurationMs  int64   `json:"total_duration_ms"`
	PeakOccupancy    int64   `json:"peak_occupancy"`
	AvgOccupancy     float64 `json:"avg_occupancy"`
	OccupancySamples int64   `json:"occupancy_samples"`
	QueueCount       int64   `json:"queue_count"`
	AvgWaitMs        float64 `json:"avg_wait_ms"`
}

// TimeMs converts a time to unix milliseconds, the timestamp unit used in
// every table.
func TimeMs(t time.Time) int64 {
	return t.UnixMilli()
}

// MsTime converts unix milliseconds back to a UTC time.
func MsTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

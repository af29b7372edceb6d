package store

import "fmt"

// VisitsBetween returns every finalized visit starting in [startMs, endMs),
// across all zones, ordered by start time. Flow metrics need the shopper's
// whole path, not just one zone's slice of it.
func (s *Store) VisitsBetween(startMs, endMs int64) ([]Visit, error) {
	return s.queryVisits(`
		SELECT visit_id, track_key, zone_id, venue_id, start_ms, end_ms,
		       duration_ms, sample_count, is_dwell, is_engagement,
		       is_complete_track, entry_x, entry_z, exit_x, exit_z
		FROM zone_visits
		WHERE start_ms >= ? AND start_ms < ?
		ORDER BY start_ms`, startMs, endMs)
}

// ZoneVisitsBetween returns the finalized visits for one zone.
func (s *Store) ZoneVisitsBetween(zoneID string, startMs, endMs int64) ([]Visit, error) {
	return s.queryVisits(`
		SELECT visit_id, track_key, zone_id, venue_id, start_ms, end_ms,
		       duration_ms, sample_count, is_dwell, is_engagement,
		       is_complete_track, entry_x, entry_z, exit_x, exit_z
		FROM zone_visits
		WHERE zone_id = ? AND start_ms >= ? AND start_ms < ?
		ORDER BY start_ms`, zoneID, startMs, endMs)
}

func (s *Store) queryVisits(query string, args ...any) ([]Visit, error) {
	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var out []Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.VisitID, &v.TrackKey, &v.ZoneID, &v.VenueID,
			&v.StartMs, &v.EndMs, &v.DurationMs, &v.SampleCount,
			&v.IsDwell, &v.IsEngagement, &v.IsCompleteTrack,
			&v.EntryX, &v.EntryZ, &v.ExitX, &v.ExitZ); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// OccupancyBetween returns the occupancy samples for one zone, ordered by
// time.
func (s *Store) OccupancyBetween(zoneID string, startMs, endMs int64) ([]OccupancyRecord, error) {
	rows, err := s.Query(`
		SELECT zone_id, timestamp_ms, track_count
		FROM zone_occupancy
		WHERE zone_id = ? AND timestamp_ms >= ? AND timestamp_ms < ?
		ORDER BY timestamp_ms`, zoneID, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query occupancy: %w", err)
	}
	defer rows.Close()

	var out []OccupancyRecord
	for rows.Next() {
		var o OccupancyRecord
		if err := rows.Scan(&o.ZoneID, &o.TimestampMs, &o.TrackCount); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PositionsBetween returns every sampled position in the window, ordered by
// time. Zone membership is not stored per position; callers test polygons
// themselves.
func (s *Store) PositionsBetween(startMs, endMs int64) ([]PositionRecord, error) {
	rows, err := s.Query(`
		SELECT track_key, venue_id, x, y, z, velocity, object_type, timestamp_ms
		FROM track_positions
		WHERE timestamp_ms >= ? AND timestamp_ms < ?
		ORDER BY timestamp_ms`, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		var p PositionRecord
		if err := rows.Scan(&p.TrackKey, &p.VenueID, &p.X, &p.Y, &p.Z,
			&p.Velocity, &p.ObjectType, &p.TimestampMs); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// QueueSessionsBetween returns the finalized queue sessions for one lane.
func (s *Store) QueueSessionsBetween(queueZoneID string, startMs, endMs int64) ([]QueueRecord, error) {
	rows, err := s.Query(`
		SELECT session_id, track_key, queue_zone_id, service_zone_id,
		       queue_entry_ms, queue_exit_ms, service_entry_ms, service_exit_ms,
		       waiting_ms, service_ms, time_in_system_ms, outcome
		FROM queue_sessions
		WHERE queue_zone_id = ? AND queue_entry_ms >= ? AND queue_entry_ms < ?
		ORDER BY queue_entry_ms`, queueZoneID, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query queue sessions: %w", err)
	}
	defer rows.Close()

	var out []QueueRecord
	for rows.Next() {
		var q QueueRecord
		if err := rows.Scan(&q.SessionID, &q.TrackKey, &q.QueueZoneID,
			&q.ServiceZoneID, &q.QueueEntryMs, &q.QueueExitMs,
			&q.ServiceEntryMs, &q.ServiceExitMs, &q.WaitingMs,
			&q.ServiceMs, &q.TimeInSystemMs, &q.Outcome); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// HourlyKPIs returns the hourly rollups for one zone across [fromDay, toDay]
// inclusive, ordered by day then hour.
func (s *Store) HourlyKPIs(zoneID, fromDay, toDay string) ([]HourlyKPI, error) {
	rows, err := s.Query(`
		SELECT zone_id, day, hour, visit_count, unique_visitors,
		       dwell_total, dwell_unique, engagement_total, engagement_unique,
		       total_duration_ms, peak_occupancy, avg_occupancy,
		       occupancy_samples, queue_count, avg_wait_ms
		FROM zone_kpi_hourly
		WHERE zone_id = ? AND day >= ? AND day <= ?
		ORDER BY day, hour`, zoneID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("query hourly rollups: %w", err)
	}
	defer rows.Close()

	var out []HourlyKPI
	for rows.Next() {
		var k HourlyKPI
		if err := rows.Scan(&k.ZoneID, &k.Day, &k.Hour, &k.VisitCount,
			&k.UniqueVisitors, &k.DwellTotal, &k.DwellUnique,
			&k.EngagementTotal, &k.EngagementUnique, &k.TotalDurationMs,
			&k.PeakOccupancy, &k.AvgOccupancy, &k.OccupancySamples,
			&k.QueueCount, &k.AvgWaitMs); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// DailyKPIs returns the daily rollups for one zone across [fromDay, toDay]
// inclusive.
func (s *Store) DailyKPIs(zoneID, fromDay, toDay string) ([]DailyKPI, error) {
	rows, err := s.Query(`
		SELECT zone_id, day, visit_count, unique_visitors,
		       dwell_total, dwell_unique, engagement_total, engagement_unique,
		       total_duration_ms, peak_occupancy, avg_occupancy,
		       occupancy_samples, queue_count, avg_wait_ms
		FROM zone_kpi_daily
		WHERE zone_id = ? AND day >= ? AND day <= ?
		ORDER BY day`, zoneID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("query daily rollups: %w", err)
	}
	defer rows.Close()

	var out []DailyKPI
	for rows.Next() {
		var k DailyKPI
		if err := rows.Scan(&k.ZoneID, &k.Day, &k.VisitCount, &k.UniqueVisitors,
			&k.DwellTotal, &k.DwellUnique, &k.EngagementTotal,
			&k.EngagementUnique, &k.TotalDurationMs, &k.PeakOccupancy,
			&k.AvgOccupancy, &k.OccupancySamples, &k.QueueCount,
			&k.AvgWaitMs); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// LedgerEntries returns ledger entries, newest first. zoneID filters when
// non-empty; unackedOnly hides acknowledged entries.
func (s *Store) LedgerEntries(zoneID string, unackedOnly bool, limit int) ([]LedgerEntry, error) {
	query := `
		SELECT entry_id, rule_id, zone_id, metric, operator,
		       threshold, observed, triggered_ms, acknowledged
		FROM activity_ledger WHERE 1=1`
	var args []any
	if zoneID != "" {
		query += ` AND zone_id = ?`
		args = append(args, zoneID)
	}
	if unackedOnly {
		query += ` AND acknowledged = 0`
	}
	query += ` ORDER BY triggered_ms DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.EntryID, &e.RuleID, &e.ZoneID, &e.Metric,
			&e.Operator, &e.Threshold, &e.Observed, &e.TriggeredMs,
			&e.Acknowledged); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

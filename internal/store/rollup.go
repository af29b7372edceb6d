package store

import (
	"database/sql"
	"fmt"

	"github.com/retailsense/venueflow/internal/monitoring"
)

const hourMs = 3600 * 1000

// HourFloorMs truncates a unix-milli timestamp down to its hour boundary.
// Retention always prunes at hour boundaries so a bucket is either fully
// present in raw form or fully rolled up, never split.
func HourFloorMs(ms int64) int64 {
	return ms - ms%hourMs
}

type bucketKey struct {
	zoneID string
	bucket int64 // hour start, unix millis
}

// RollupRange recomputes the hourly rollups for every (zone, hour) bucket
// touched by visits or queue sessions in [fromMs, toMs). Those columns
// replace on conflict: their source tables persist, so a recompute is
// authoritative and running the same range twice changes nothing. Occupancy
// columns are owned by FoldOccupancyBefore and left untouched here.
func (s *Store) RollupRange(fromMs, toMs int64) error {
	buckets := make(map[bucketKey]*HourlyKPI)
	get := func(zoneID string, bucket int64) *HourlyKPI {
		k := bucketKey{zoneID, bucket}
		if b, ok := buckets[k]; ok {
			return b
		}
		t := MsTime(bucket)
		b := &HourlyKPI{
			ZoneID: zoneID,
			Day:    t.Format("2006-01-02"),
			Hour:   t.Hour(),
		}
		buckets[k] = b
		return b
	}

	rows, err := s.Query(`
		SELECT zone_id, (start_ms/3600000)*3600000 AS bucket,
		       COUNT(*), COUNT(DISTINCT track_key),
		       COALESCE(SUM(is_dwell), 0),
		       COUNT(DISTINCT CASE WHEN is_dwell = 1 THEN track_key END),
		       COALESCE(SUM(is_engagement), 0),
		       COUNT(DISTINCT CASE WHEN is_engagement = 1 THEN track_key END),
		       COALESCE(SUM(duration_ms), 0)
		FROM zone_visits
		WHERE start_ms >= ? AND start_ms < ?
		GROUP BY zone_id, bucket`, fromMs, toMs)
	if err != nil {
		return fmt.Errorf("rollup visit query: %w", err)
	}
	for rows.Next() {
		var zoneID string
		var bucket int64
		var visits, uniques, dwellT, dwellU, engT, engU, durMs int64
		if err := rows.Scan(&zoneID, &bucket, &visits, &uniques,
			&dwellT, &dwellU, &engT, &engU, &durMs); err != nil {
			rows.Close()
			return err
		}
		b := get(zoneID, bucket)
		b.VisitCount = visits
		b.UniqueVisitors = uniques
		b.DwellTotal = dwellT
		b.DwellUnique = dwellU
		b.EngagementTotal = engT
		b.EngagementUnique = engU
		b.TotalDurationMs = durMs
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.Query(`
		SELECT queue_zone_id, (queue_entry_ms/3600000)*3600000 AS bucket,
		       COUNT(*), COALESCE(AVG(waiting_ms), 0)
		FROM queue_sessions
		WHERE queue_entry_ms >= ? AND queue_entry_ms < ?
		GROUP BY queue_zone_id, bucket`, fromMs, toMs)
	if err != nil {
		return fmt.Errorf("rollup queue query: %w", err)
	}
	for rows.Next() {
		var zoneID string
		var bucket, count int64
		var avgWait float64
		if err := rows.Scan(&zoneID, &bucket, &count, &avgWait); err != nil {
			rows.Close()
			return err
		}
		b := get(zoneID, bucket)
		b.QueueCount = count
		b.AvgWaitMs = avgWait
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(buckets) == 0 {
		return nil
	}

	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin rollup upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO zone_kpi_hourly (
			zone_id, day, hour, visit_count, unique_visitors,
			dwell_total, dwell_unique, engagement_total, engagement_unique,
			total_duration_ms, queue_count, avg_wait_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (zone_id, day, hour) DO UPDATE SET
			visit_count       = excluded.visit_count,
			unique_visitors   = excluded.unique_visitors,
			dwell_total       = excluded.dwell_total,
			dwell_unique      = excluded.dwell_unique,
			engagement_total  = excluded.engagement_total,
			engagement_unique = excluded.engagement_unique,
			total_duration_ms = excluded.total_duration_ms,
			queue_count       = excluded.queue_count,
			avg_wait_ms       = excluded.avg_wait_ms`)
	if err != nil {
		return fmt.Errorf("prepare rollup upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range buckets {
		if _, err := stmt.Exec(
			b.ZoneID, b.Day, b.Hour, b.VisitCount, b.UniqueVisitors,
			b.DwellTotal, b.DwellUnique, b.EngagementTotal, b.EngagementUnique,
			b.TotalDurationMs, b.QueueCount, b.AvgWaitMs,
		); err != nil {
			return fmt.Errorf("rollup upsert %s %s:%02d: %w", b.ZoneID, b.Day, b.Hour, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollup upsert: %w", err)
	}
	monitoring.Debugf("rolled up %d hourly buckets", len(buckets))
	return nil
}

// FoldOccupancyBefore folds every occupancy sample older than cutoffMs into
// its hourly bucket and deletes the folded rows in the same transaction, so
// each sample is counted exactly once no matter how often a pass is retried
// or how stale the rows arriving from a spool backlog are. Averages merge
// count-weighted; peaks take the max.
func (s *Store) FoldOccupancyBefore(cutoffMs int64) (int64, error) {
	tx, err := s.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin occupancy fold: %w", err)
	}
	defer tx.Rollback()

	type occBucket struct {
		zoneID  string
		day     string
		hour    int
		peak    int64
		avg     float64
		samples int64
	}
	var folds []occBucket
	rows, err := tx.Query(`
		SELECT zone_id, (timestamp_ms/3600000)*3600000 AS bucket,
		       MAX(track_count), AVG(track_count), COUNT(*)
		FROM zone_occupancy
		WHERE timestamp_ms < ?
		GROUP BY zone_id, bucket`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("occupancy fold query: %w", err)
	}
	for rows.Next() {
		var b occBucket
		var bucket int64
		if err := rows.Scan(&b.zoneID, &bucket, &b.peak, &b.avg, &b.samples); err != nil {
			rows.Close()
			return 0, err
		}
		t := MsTime(bucket)
		b.day = t.Format("2006-01-02")
		b.hour = t.Hour()
		folds = append(folds, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(folds) == 0 {
		return 0, nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO zone_kpi_hourly (
			zone_id, day, hour, peak_occupancy, avg_occupancy, occupancy_samples
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (zone_id, day, hour) DO UPDATE SET
			peak_occupancy    = MAX(peak_occupancy, excluded.peak_occupancy),
			avg_occupancy     = CASE
				WHEN occupancy_samples + excluded.occupancy_samples > 0 THEN
					(avg_occupancy * occupancy_samples
					 + excluded.avg_occupancy * excluded.occupancy_samples)
					/ (occupancy_samples + excluded.occupancy_samples)
				ELSE 0 END,
			occupancy_samples = occupancy_samples + excluded.occupancy_samples`)
	if err != nil {
		return 0, fmt.Errorf("prepare occupancy fold: %w", err)
	}
	defer stmt.Close()

	for _, b := range folds {
		if _, err := stmt.Exec(b.zoneID, b.day, b.hour, b.peak, b.avg, b.samples); err != nil {
			return 0, fmt.Errorf("occupancy fold %s %s:%02d: %w", b.zoneID, b.day, b.hour, err)
		}
	}

	res, err := tx.Exec(`DELETE FROM zone_occupancy WHERE timestamp_ms < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("prune zone_occupancy: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit occupancy fold: %w", err)
	}
	monitoring.Debugf("folded %d occupancy samples into %d hourly buckets", deleted, len(folds))
	return deleted, nil
}

// RollupDaily recomputes the daily rollups for [fromMs, toMs). Visit counts
// and uniques come straight from zone_visits (summing hourly uniques would
// overcount a shopper seen in two hours). Occupancy and wait averages merge
// the hourly rows weighted by their sample counts.
func (s *Store) RollupDaily(fromMs, toMs int64) error {
	type dayKey struct {
		zoneID string
		day    string
	}
	days := make(map[dayKey]*DailyKPI)
	get := func(zoneID, day string) *DailyKPI {
		k := dayKey{zoneID, day}
		if d, ok := days[k]; ok {
			return d
		}
		d := &DailyKPI{ZoneID: zoneID, Day: day}
		days[k] = d
		return d
	}

	rows, err := s.Query(`
		SELECT zone_id, strftime('%Y-%m-%d', start_ms/1000, 'unixepoch') AS day,
		       COUNT(*), COUNT(DISTINCT track_key),
		       COALESCE(SUM(is_dwell), 0),
		       COUNT(DISTINCT CASE WHEN is_dwell = 1 THEN track_key END),
		       COALESCE(SUM(is_engagement), 0),
		       COUNT(DISTINCT CASE WHEN is_engagement = 1 THEN track_key END),
		       COALESCE(SUM(duration_ms), 0)
		FROM zone_visits
		WHERE start_ms >= ? AND start_ms < ?
		GROUP BY zone_id, day`, fromMs, toMs)
	if err != nil {
		return fmt.Errorf("daily visit query: %w", err)
	}
	for rows.Next() {
		var zoneID, day string
		var visits, uniques, dwellT, dwellU, engT, engU, durMs int64
		if err := rows.Scan(&zoneID, &day, &visits, &uniques,
			&dwellT, &dwellU, &engT, &engU, &durMs); err != nil {
			rows.Close()
			return err
		}
		d := get(zoneID, day)
		d.VisitCount = visits
		d.UniqueVisitors = uniques
		d.DwellTotal = dwellT
		d.DwellUnique = dwellU
		d.EngagementTotal = engT
		d.EngagementUnique = engU
		d.TotalDurationMs = durMs
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	fromDay := MsTime(fromMs).Format("2006-01-02")
	toDay := MsTime(toMs).Format("2006-01-02")
	rows, err = s.Query(`
		SELECT zone_id, day,
		       MAX(peak_occupancy),
		       COALESCE(SUM(avg_occupancy * occupancy_samples), 0),
		       COALESCE(SUM(occupancy_samples), 0),
		       COALESCE(SUM(queue_count), 0),
		       COALESCE(SUM(avg_wait_ms * queue_count), 0)
		FROM zone_kpi_hourly
		WHERE day >= ? AND day <= ?
		GROUP BY zone_id, day`, fromDay, toDay)
	if err != nil {
		return fmt.Errorf("daily hourly-merge query: %w", err)
	}
	for rows.Next() {
		var zoneID, day string
		var peak, samples, queueCount int64
		var weightedOcc, weightedWait float64
		if err := rows.Scan(&zoneID, &day, &peak, &weightedOcc,
			&samples, &queueCount, &weightedWait); err != nil {
			rows.Close()
			return err
		}
		d := get(zoneID, day)
		d.PeakOccupancy = peak
		d.OccupancySamples = samples
		if samples > 0 {
			d.AvgOccupancy = weightedOcc / float64(samples)
		}
		d.QueueCount = queueCount
		if queueCount > 0 {
			d.AvgWaitMs = weightedWait / float64(queueCount)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(days) == 0 {
		return nil
	}

	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin daily upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO zone_kpi_daily (
			zone_id, day, visit_count, unique_visitors,
			dwell_total, dwell_unique, engagement_total, engagement_unique,
			total_duration_ms, peak_occupancy, avg_occupancy,
			occupancy_samples, queue_count, avg_wait_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (zone_id, day) DO UPDATE SET
			visit_count       = excluded.visit_count,
			unique_visitors   = excluded.unique_visitors,
			dwell_total       = excluded.dwell_total,
			dwell_unique      = excluded.dwell_unique,
			engagement_total  = excluded.engagement_total,
			engagement_unique = excluded.engagement_unique,
			total_duration_ms = excluded.total_duration_ms,
			peak_occupancy    = excluded.peak_occupancy,
			avg_occupancy     = excluded.avg_occupancy,
			occupancy_samples = excluded.occupancy_samples,
			queue_count       = excluded.queue_count,
			avg_wait_ms       = excluded.avg_wait_ms`)
	if err != nil {
		return fmt.Errorf("prepare daily upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range days {
		if _, err := stmt.Exec(
			d.ZoneID, d.Day, d.VisitCount, d.UniqueVisitors,
			d.DwellTotal, d.DwellUnique, d.EngagementTotal, d.EngagementUnique,
			d.TotalDurationMs, d.PeakOccupancy, d.AvgOccupancy,
			d.OccupancySamples, d.QueueCount, d.AvgWaitMs,
		); err != nil {
			return fmt.Errorf("daily upsert %s %s: %w", d.ZoneID, d.Day, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit daily upsert: %w", err)
	}
	return nil
}

// DeletePositionsBefore prunes per-position detail older than cutoffMs. No
// rollup reads track_positions, so nothing needs folding first. Occupancy
// samples are pruned by FoldOccupancyBefore, never here.
func (s *Store) DeletePositionsBefore(cutoffMs int64) (int64, error) {
	res, err := s.Exec(`DELETE FROM track_positions WHERE timestamp_ms < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("prune track_positions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// OldestRawMs returns the oldest raw detail timestamp across positions and
// occupancy samples, or ok=false when both tables are empty. Retention uses
// it to widen the recompute window after downtime left a backlog.
func (s *Store) OldestRawMs() (int64, bool, error) {
	var oldest sql.NullInt64
	err := s.QueryRow(`
		SELECT MIN(ts) FROM (
			SELECT MIN(timestamp_ms) AS ts FROM track_positions
			UNION ALL
			SELECT MIN(timestamp_ms) AS ts FROM zone_occupancy
		)`).Scan(&oldest)
	if err != nil {
		return 0, false, fmt.Errorf("oldest raw timestamp: %w", err)
	}
	return oldest.Int64, oldest.Valid, nil
}

// PruneLedger deletes acknowledged ledger entries older than cutoffMs.
// Unacknowledged alerts are kept regardless of age.
func (s *Store) PruneLedger(cutoffMs int64) (int64, error) {
	res, err := s.Exec(
		`DELETE FROM activity_ledger WHERE acknowledged = 1 AND triggered_ms < ?`,
		cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("prune activity_ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Compact reclaims free pages and truncates the WAL. Run occasionally, not
// on every cleanup pass.
func (s *Store) Compact() error {
	if _, err := s.Exec(`PRAGMA incremental_vacuum`); err != nil {
		return fmt.Errorf("incremental_vacuum: %w", err)
	}
	if _, err := s.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal_checkpoint: %w", err)
	}
	return nil
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound marks lookups and updates that matched no row.
var ErrNotFound = errors.New("not found")

// InsertVisits writes finalized visits, skipping rows already present under
// their natural key. Returns the number of rows actually inserted.
func (s *Store) InsertVisits(visits []Visit) (int64, error) {
	if len(visits) == 0 {
		return 0, nil
	}
	return s.batchInsert(len(visits), `
		INSERT INTO zone_visits (
			visit_id, track_key, zone_id, venue_id, start_ms, end_ms,
			duration_ms, sample_count, is_dwell, is_engagement,
			is_complete_track, entry_x, entry_z, exit_x, exit_z
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (track_key, zone_id, start_ms) DO NOTHING`,
		func(i int) []any {
			v := visits[i]
			return []any{
				v.VisitID, v.TrackKey, v.ZoneID, v.VenueID, v.StartMs, v.EndMs,
				v.DurationMs, v.SampleCount, v.IsDwell, v.IsEngagement,
				v.IsCompleteTrack, v.EntryX, v.EntryZ, v.ExitX, v.ExitZ,
			}
		})
}

// InsertPositions writes sampled positions, skipping duplicates.
func (s *Store) InsertPositions(positions []PositionRecord) (int64, error) {
	if len(positions) == 0 {
		return 0, nil
	}
	return s.batchInsert(len(positions), `
		INSERT INTO track_positions (
			track_key, venue_id, x, y, z, velocity, object_type, timestamp_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (track_key, timestamp_ms) DO NOTHING`,
		func(i int) []any {
			p := positions[i]
			return []any{
				p.TrackKey, p.VenueID, p.X, p.Y, p.Z,
				p.Velocity, p.ObjectType, p.TimestampMs,
			}
		})
}

// InsertOccupancy writes occupancy samples, skipping duplicates.
func (s *Store) InsertOccupancy(samples []OccupancyRecord) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	return s.batchInsert(len(samples), `
		INSERT INTO zone_occupancy (zone_id, timestamp_ms, track_count)
		VALUES (?, ?, ?)
		ON CONFLICT (zone_id, timestamp_ms) DO NOTHING`,
		func(i int) []any {
			o := samples[i]
			return []any{o.ZoneID, o.TimestampMs, o.TrackCount}
		})
}

// InsertQueueSessions writes finalized queue sessions, skipping rows already
// present under their natural key.
func (s *Store) InsertQueueSessions(sessions []QueueRecord) (int64, error) {
	if len(sessions) == 0 {
		return 0, nil
	}
	return s.batchInsert(len(sessions), `
		INSERT INTO queue_sessions (
			session_id, track_key, queue_zone_id, service_zone_id,
			queue_entry_ms, queue_exit_ms, service_entry_ms, service_exit_ms,
			waiting_ms, service_ms, time_in_system_ms, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (track_key, queue_zone_id, queue_entry_ms) DO NOTHING`,
		func(i int) []any {
			q := sessions[i]
			return []any{
				q.SessionID, q.TrackKey, q.QueueZoneID, q.ServiceZoneID,
				q.QueueEntryMs, q.QueueExitMs, q.ServiceEntryMs, q.ServiceExitMs,
				q.WaitingMs, q.ServiceMs, q.TimeInSystemMs, q.Outcome,
			}
		})
}

// InsertLedgerEntries writes triggered alerts to the activity ledger.
func (s *Store) InsertLedgerEntries(entries []LedgerEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	return s.batchInsert(len(entries), `
		INSERT INTO activity_ledger (
			entry_id, rule_id, zone_id, metric, operator,
			threshold, observed, triggered_ms, acknowledged
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entry_id) DO NOTHING`,
		func(i int) []any {
			e := entries[i]
			return []any{
				e.EntryID, e.RuleID, e.ZoneID, e.Metric, e.Operator,
				e.Threshold, e.Observed, e.TriggeredMs, e.Acknowledged,
			}
		})
}

// AcknowledgeLedgerEntry marks one ledger entry acknowledged.
func (s *Store) AcknowledgeLedgerEntry(entryID string) error {
	res, err := s.Exec(
		`UPDATE activity_ledger SET acknowledged = 1 WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("acknowledge ledger entry %s: %w", entryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ledger entry %s: %w", entryID, ErrNotFound)
	}
	return nil
}

// LastTriggeredMs returns the latest trigger time for the (rule, threshold)
// pair, used to seed alert cooldowns after a restart.
func (s *Store) LastTriggeredMs(ruleID string, threshold float64) (int64, bool, error) {
	var ms int64
	err := s.QueryRow(`
		SELECT triggered_ms FROM activity_ledger
		WHERE rule_id = ? AND threshold = ?
		ORDER BY triggered_ms DESC LIMIT 1`,
		ruleID, threshold).Scan(&ms)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ms, true, nil
}

// batchInsert runs the same statement for n rows inside one transaction and
// sums the affected-row counts.
func (s *Store) batchInsert(n int, query string, args func(int) []any) (int64, error) {
	tx, err := s.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for i := 0; i < n; i++ {
		res, err := stmt.Exec(args(i)...)
		if err != nil {
			return 0, fmt.Errorf("batch insert row %d: %w", i, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch insert: %w", err)
	}
	return inserted, nil
}

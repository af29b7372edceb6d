package engine

import (
	"time"

	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/store"
)

// Cleanup runs one retention pass: fold aged raw detail into the hourly and
// daily rollups, then delete it, prune the acknowledged alert backlog and
// idle in-memory sessions, and occasionally compact the database file.
//
// Rollups run strictly before deletion, and deletion stops at an hour
// boundary so a bucket is never half-pruned. A rollup error aborts the pass
// with the raw rows intact. The occupancy fold deletes the rows it folds in
// the same transaction, so a retried pass cannot count a sample twice.
func (e *Engine) Cleanup(now time.Time) error {
	cutoff := now.Add(-e.cfg.GetRawRetention())
	boundary := store.HourFloorMs(store.TimeMs(cutoff))

	// Recompute a bounded window behind the boundary rather than all of
	// history, but reach back to the oldest surviving raw row: after
	// downtime the spool sync can land rows far older than the usual
	// lookback, and those hours still need their rollups refreshed.
	from := boundary - 2*e.cfg.GetRawRetention().Milliseconds()
	if oldest, ok, err := e.db.OldestRawMs(); err != nil {
		return err
	} else if ok && store.HourFloorMs(oldest) < from {
		from = store.HourFloorMs(oldest)
	}

	if err := e.db.RollupRange(from, boundary); err != nil {
		return err
	}
	occupancy, err := e.db.FoldOccupancyBefore(boundary)
	if err != nil {
		return err
	}
	if err := e.db.RollupDaily(from, boundary); err != nil {
		return err
	}

	positions, err := e.db.DeletePositionsBefore(boundary)
	if err != nil {
		return err
	}

	ledgerCutoff := store.TimeMs(now.Add(-e.cfg.GetLedgerRetention()))
	pruned, err := e.db.PruneLedger(ledgerCutoff)
	if err != nil {
		return err
	}

	idle := e.pruneIdleSessions(now)

	if e.randFn() < e.cfg.GetCompactChance() {
		if err := e.db.Compact(); err != nil {
			monitoring.Logf("cleanup: compact: %v", err)
		}
	}

	monitoring.Debugf("cleanup: pruned %d positions, %d occupancy samples, %d ledger entries, %d idle sessions",
		positions, occupancy, pruned, idle)
	return nil
}

// pruneIdleSessions finalizes sessions whose track has been silent longer
// than the idle TTL. Eviction normally closes sessions first; this catches
// tracks orphaned across a zone-set change or other gap.
func (e *Engine) pruneIdleSessions(now time.Time) int {
	snap := e.registry.Snapshot()
	ttl := e.cfg.GetIdleSessionTTL()
	minSamples := e.cfg.GetMinVisitSamples()
	minDwell := e.cfg.GetMinQueueDwell()

	var finalized []store.Visit
	var finalizedQueues []store.QueueRecord

	e.mu.Lock()
	for k, vs := range e.visits {
		if now.Sub(vs.lastInside) <= ttl {
			continue
		}
		delete(e.visits, k)
		z := snap.Zone(k.zoneID)
		if z == nil {
			continue
		}
		if v, ok := vs.finalize(z, minSamples); ok {
			e.buf.visits = append(e.buf.visits, v)
			finalized = append(finalized, v)
		}
	}
	for k, qs := range e.queues {
		if now.Sub(qs.lastSeen) <= ttl {
			continue
		}
		delete(e.queues, k)
		rec := qs.finalize(minDwell)
		e.buf.queues = append(e.buf.queues, rec)
		finalizedQueues = append(finalizedQueues, rec)
	}
	for key, last := range e.lastSampled {
		if now.Sub(last) > ttl {
			delete(e.lastSampled, key)
		}
	}
	e.mu.Unlock()

	e.publish(finalized, finalizedQueues, nil)
	return len(finalized) + len(finalizedQueues)
}

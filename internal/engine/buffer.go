package engine

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/store"
)

// Spool file kinds. The kind prefixes the filename so the sync job knows
// how to decode each file.
const (
	kindVisits    = "visits"
	kindQueues    = "queues"
	kindPositions = "positions"
	kindOccupancy = "occupancy"
)

type buffers struct {
	visits    []store.Visit
	queues    []store.QueueRecord
	positions []store.PositionRecord
	occupancy []store.OccupancyRecord
}

func (b *buffers) empty() bool {
	return len(b.visits) == 0 && len(b.queues) == 0 &&
		len(b.positions) == 0 && len(b.occupancy) == 0
}

// Flush swaps the in-memory buffers for empty ones and appends the contents
// to per-kind JSONL spool files. The swap keeps the lock hold short; the
// ingest path never waits on disk.
func (e *Engine) Flush() {
	e.mu.Lock()
	out := e.buf
	e.buf = buffers{}
	e.mu.Unlock()

	if out.empty() {
		return
	}

	spoolDir := e.cfg.GetSpoolDir()
	if err := e.fs.MkdirAll(spoolDir, 0o755); err != nil {
		monitoring.Logf("flush: create spool dir: %v", err)
		e.requeue(out)
		return
	}

	nowMs := store.TimeMs(e.clock.Now())
	failed := buffers{}
	if !e.writeSpool(spoolDir, kindVisits, nowMs, encodeLines(out.visits)) {
		failed.visits = out.visits
	}
	if !e.writeSpool(spoolDir, kindQueues, nowMs, encodeLines(out.queues)) {
		failed.queues = out.queues
	}
	if !e.writeSpool(spoolDir, kindPositions, nowMs, encodeLines(out.positions)) {
		failed.positions = out.positions
	}
	if !e.writeSpool(spoolDir, kindOccupancy, nowMs, encodeLines(out.occupancy)) {
		failed.occupancy = out.occupancy
	}
	if !failed.empty() {
		e.requeue(failed)
	}
}

// writeSpool appends one kind's encoded lines to its spool file. Reports
// success; empty payloads trivially succeed.
func (e *Engine) writeSpool(spoolDir, kind string, nowMs int64, lines []byte) bool {
	if len(lines) == 0 {
		return true
	}
	path := filepath.Join(spoolDir, fmt.Sprintf("%s-%d.log", kind, nowMs))
	if err := e.fs.AppendFile(path, lines, 0o644); err != nil {
		monitoring.Logf("flush: append %s: %v", path, err)
		return false
	}
	return true
}

// requeue puts records a failed flush could not spool back into the live
// buffers for the next attempt.
func (e *Engine) requeue(b buffers) {
	e.mu.Lock()
	e.buf.visits = append(b.visits, e.buf.visits...)
	e.buf.queues = append(b.queues, e.buf.queues...)
	e.buf.positions = append(b.positions, e.buf.positions...)
	e.buf.occupancy = append(b.occupancy, e.buf.occupancy...)
	e.mu.Unlock()
}

// encodeLines renders records as newline-delimited JSON.
func encodeLines[T any](records []T) []byte {
	var out []byte
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			// Records are plain structs; this cannot fail in practice.
			monitoring.Logf("flush: encode record: %v", err)
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

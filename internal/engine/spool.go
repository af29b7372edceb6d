package engine

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/store"
)

// Sync drains the spool into the store. Every insert is idempotent on a
// natural key, so a file that was half-synced before a crash can be replayed
// whole. Files are deleted only after their batch commits; a store error
// leaves the file for the next pass.
func (e *Engine) Sync() {
	spoolDir := e.cfg.GetSpoolDir()
	files, err := e.fs.Glob(filepath.Join(spoolDir, "*.log"))
	if err != nil {
		monitoring.Logf("sync: glob spool: %v", err)
		return
	}

	for _, path := range files {
		data, err := e.fs.ReadFile(path)
		if err != nil {
			monitoring.Logf("sync: read %s: %v", path, err)
			continue
		}

		kind, _, _ := strings.Cut(filepath.Base(path), "-")
		if !e.syncFile(kind, path, data) {
			continue
		}
		if err := e.fs.Remove(path); err != nil {
			monitoring.Logf("sync: remove %s: %v", path, err)
		}
	}
}

// syncFile decodes and inserts one spool file. Reports whether the file is
// fully persisted and safe to delete.
func (e *Engine) syncFile(kind, path string, data []byte) bool {
	switch kind {
	case kindVisits:
		n, err := e.db.InsertVisits(decodeLines[store.Visit](path, data))
		return e.syncResult(kind, path, n, err)
	case kindQueues:
		n, err := e.db.InsertQueueSessions(decodeLines[store.QueueRecord](path, data))
		return e.syncResult(kind, path, n, err)
	case kindPositions:
		n, err := e.db.InsertPositions(decodeLines[store.PositionRecord](path, data))
		return e.syncResult(kind, path, n, err)
	case kindOccupancy:
		n, err := e.db.InsertOccupancy(decodeLines[store.OccupancyRecord](path, data))
		return e.syncResult(kind, path, n, err)
	default:
		monitoring.Logf("sync: unknown spool kind %q in %s, leaving file", kind, path)
		return false
	}
}

func (e *Engine) syncResult(kind, path string, inserted int64, err error) bool {
	if err != nil {
		monitoring.Logf("sync: insert %s from %s: %v", kind, path, err)
		return false
	}
	monitoring.Debugf("sync: %s: %d new rows", path, inserted)
	return true
}

// decodeLines parses newline-delimited JSON records. Malformed lines are
// logged and skipped; one bad line must not strand a whole file in the
// spool forever.
func decodeLines[T any](path string, data []byte) []T {
	var out []T
	for i, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			monitoring.Logf("sync: %s line %d malformed, skipping: %v", path, i+1, err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

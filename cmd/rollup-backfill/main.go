// Command rollup-backfill recomputes hourly and daily KPI rollups for a
// historical time range, one hour at a time. Run it after restoring a
// database from backup or after a retention bug left rollup gaps. The
// recompute covers visit and queue columns only; occupancy columns are
// folded exactly once by the retention pass and are safe to leave alone,
// so replaying a range here never skews them.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/retailsense/venueflow/internal/store"
)

func main() {
	var dbPath string
	var startStr string
	var endStr string

	flag.StringVar(&dbPath, "db", "venueflow.db", "path to sqlite db")
	flag.StringVar(&startStr, "start", "", "start time (RFC3339)")
	flag.StringVar(&endStr, "end", "", "end time (RFC3339)")
	flag.Parse()

	if startStr == "" || endStr == "" {
		log.Fatalf("start and end must be provided")
	}

	startT, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		log.Fatalf("invalid start: %v", err)
	}
	endT, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		log.Fatalf("invalid end: %v", err)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// Walk the range on hour boundaries so every rollup bucket is computed
	// from its complete set of source rows.
	t := store.MsTime(store.HourFloorMs(store.TimeMs(startT))).UTC()
	end := endT.UTC()
	for t.Before(end) {
		windowEnd := t.Add(time.Hour)
		fmt.Printf("rolling up %s -> %s\n", t.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
		if err := db.RollupRange(store.TimeMs(t), store.TimeMs(windowEnd)); err != nil {
			log.Fatalf("rollup failed: %v", err)
		}
		if err := db.RollupDaily(store.TimeMs(t), store.TimeMs(windowEnd)); err != nil {
			log.Fatalf("daily rollup failed: %v", err)
		}
		t = windowEnd
	}

	fmt.Println("backfill complete")
}

package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/retailsense/venueflow/internal/monitoring"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/zones"
)

// Cooldowns key on (rule, threshold) so editing a rule's threshold re-arms
// it immediately instead of inheriting the old threshold's cooldown.
type cooldownKey struct {
	ruleID    string
	threshold float64
}

// evaluateAlertsLocked checks every enabled rule against the sampled
// occupancy counts. Rules are isolated: a rule that fails to evaluate is
// logged and skipped without affecting its neighbours. Caller holds e.mu.
func (e *Engine) evaluateAlertsLocked(snap *zones.Snapshot, counts map[string]int64, now time.Time) []store.LedgerEntry {
	cooldown := e.cfg.GetAlertCooldown()
	var out []store.LedgerEntry

	for _, z := range snap.All() {
		if !z.AlertsEnabled {
			continue
		}
		for _, rule := range z.AlertRules {
			if !rule.Enabled {
				continue
			}
			if rule.Metric != "occupancy" {
				monitoring.Debugf("alert rule %s: unsupported metric %q, skipping", rule.ID, rule.Metric)
				continue
			}
			observed := float64(counts[z.ID])

			hit, err := compare(rule.Operator, observed, rule.Threshold)
			if err != nil {
				monitoring.Logf("alert rule %s skipped: %v", rule.ID, err)
				continue
			}
			if !hit {
				continue
			}

			ck := cooldownKey{rule.ID, rule.Threshold}
			last, known := e.cooldown[ck]
			if !known {
				// First evaluation since startup: seed from the ledger so a
				// restart does not replay a recent alert.
				if ms, found, err := e.db.LastTriggeredMs(rule.ID, rule.Threshold); err != nil {
					monitoring.Logf("alert rule %s: cooldown seed: %v", rule.ID, err)
				} else if found {
					last = store.MsTime(ms)
					known = true
				}
			}
			if known && now.Sub(last) < cooldown {
				continue
			}

			e.cooldown[ck] = now
			out = append(out, store.LedgerEntry{
				EntryID:     uuid.NewString(),
				RuleID:      rule.ID,
				ZoneID:      z.ID,
				Metric:      rule.Metric,
				Operator:    rule.Operator,
				Threshold:   rule.Threshold,
				Observed:    observed,
				TriggeredMs: store.TimeMs(now),
			})
		}
	}
	return out
}

func compare(operator string, value, threshold float64) (bool, error) {
	switch operator {
	case "gt":
		return value > threshold, nil
	case "gte":
		return value >= threshold, nil
	case "lt":
		return value < threshold, nil
	case "lte":
		return value <= threshold, nil
	case "eq":
		return value == threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

/*
pps.go - Price-per-share history and resolution

PURPOSE:
  PPS entries record a tenant's share valuation over time. Resolution picks
  the entry with the latest effective_date at or before the target date;
  when several entries share an effective_date, the most recently created
  one wins.

RE-STAMPING POLICY:
  Vesting event snapshots are immutable once written. Inserting a PPS entry
  backfills only events whose snapshot is still unresolved (NULL); it never
  rewrites a recorded price. Historical financial records stay stable.

SEE ALSO:
  - vesting/runner.go: Stamps snapshots when persisting tranches
  - store.go: PPSStore persistence contract
*/
package equity

import "time"

// =============================================================================
// PPS HISTORY
// =============================================================================

// PPSEntry is one immutable price-per-share record.
type PPSEntry struct {
	ID            EventID
	TenantID      TenantID
	EffectiveDate Date
	PricePerShare Money // > 0
	CreatedBy     string
	CreatedAt     time.Time
}

// Validate checks a PPS entry before insert.
func (p *PPSEntry) Validate() error {
	if !p.PricePerShare.IsPositive() {
		return &ValidationError{Field: "price_per_share", Message: "price per share must be positive"}
	}
	if p.EffectiveDate.IsZero() {
		return &ValidationError{Field: "effective_date", Message: "effective date is required"}
	}
	return nil
}

// ResolvePPS selects the authoritative price for a date from a history:
// latest effective_date <= date, tie-broken by latest created_at.
// Returns nil when no entry is effective yet. The sqlite store implements
// the same rule in SQL; this pure form backs the calculator tests.
func ResolvePPS(entries []PPSEntry, date Date) *PPSEntry {
	var best *PPSEntry
	for i := range entries {
		e := &entries[i]
		if e.EffectiveDate.After(date) {
			continue
		}
		if best == nil ||
			e.EffectiveDate.After(best.EffectiveDate) ||
			(e.EffectiveDate.Equal(best.EffectiveDate) && e.CreatedAt.After(best.CreatedAt)) {
			best = e
		}
	}
	return best
}

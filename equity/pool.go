/*
pool.go - Equity pool and its append-only event ledger

PURPOSE:
  The pool ledger is the immutable source of truth for a tenant's equity
  pool size. Every funding, top-up, and reduction is recorded as a signed
  PoolEvent; the pool's total is always reconcilable by replaying events.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Pool events are never updated or deleted
  2. LEDGER SUM:  total_pool == initial_amount + sum(signed event amounts)
                  (the initial funding is itself the first event, so the
                  replay starts from zero)
  3. NON-NEGATIVE: total_pool >= 0 after every adjustment
  4. AVAILABILITY: 0 <= available <= total_pool, where
                  available = total_pool - granted_shares + returned_shares

AVAILABILITY FORMULA:
  One authoritative formula is applied everywhere: both pool reductions and
  grant creation validate against
      available = total_pool - granted + returned.
  A reduction may not cut the pool below what active grants have already
  committed.

SEE ALSO:
  - service.go: AdjustPool runs inside a serialized, retried transaction
  - store.go: PoolStore persistence contract
*/
package equity

import (
	"fmt"
	"time"
)

// =============================================================================
// EQUITY POOL
// =============================================================================

// EquityPool is a tenant's share reservoir. One pool per tenant.
type EquityPool struct {
	ID            PoolID
	TenantID      TenantID
	InitialAmount Money // > 0, fixed at creation
	TotalPool     Money // >= 0, initial + sum of signed events
	CreatedBy     string
	CreatedAt     time.Time
	DeletedAt     *time.Time // soft-delete marker
}

// Deleted reports whether the pool is soft-deleted.
func (p *EquityPool) Deleted() bool { return p.DeletedAt != nil }

// =============================================================================
// POOL EVENT - Immutable ledger entry
// =============================================================================

type PoolEventType string

const (
	PoolEventInitial   PoolEventType = "initial"
	PoolEventTopUp     PoolEventType = "top_up"
	PoolEventReduction PoolEventType = "reduction"
)

// ParsePoolEventType validates an event type from the wire.
func ParsePoolEventType(s string) (PoolEventType, error) {
	switch PoolEventType(s) {
	case PoolEventInitial, PoolEventTopUp, PoolEventReduction:
		return PoolEventType(s), nil
	default:
		return "", &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown event type %q", s)}
	}
}

// PoolEvent is one immutable pool ledger entry. Amount is signed: positive
// for initial/top_up, negative for reduction. Ordered by
// (effective_date, created_at); no backdating of committed events.
type PoolEvent struct {
	ID            EventID
	PoolID        PoolID
	TenantID      TenantID
	Amount        Money // signed
	EventType     PoolEventType
	EffectiveDate Date
	Notes         string
	CreatedBy     string
	CreatedAt     time.Time
}

// SignedAmount derives the signed ledger amount from an event type and a
// positive magnitude. Callers always supply magnitudes; sign is never
// client-controlled.
func SignedAmount(eventType PoolEventType, magnitude Money) (Money, error) {
	if !magnitude.IsPositive() {
		return Money{}, &ValidationError{Field: "amount", Message: "amount must be a positive magnitude"}
	}
	if eventType == PoolEventReduction {
		return magnitude.Neg(), nil
	}
	return magnitude, nil
}

// =============================================================================
// POOL ACCOUNTING - Derived figures, computed in-transaction
// =============================================================================

// PoolAccounting holds the derived capacity figures for a pool. Granted and
// Returned are aggregated from grant rows inside the same transaction that
// uses them - they are never cached in a mutable column.
type PoolAccounting struct {
	TotalPool Money
	Granted   Money // sum of share_amount over all grants
	Returned  Money // sum of unvested_shares_returned over terminated grants
}

// Available is the capacity not yet committed to active grants.
func (a PoolAccounting) Available() Money {
	return a.TotalPool.Sub(a.Granted).Add(a.Returned)
}

// CheckInvariant enforces 0 <= available <= total_pool. A violation here is
// a programming defect, not a business rejection.
func (a PoolAccounting) CheckInvariant() error {
	avail := a.Available()
	if avail.IsNegative() || avail.GreaterThan(a.TotalPool) {
		return fmt.Errorf("%w: available %s outside [0, %s] (granted %s, returned %s)",
			ErrFatalInternal, avail, a.TotalPool, a.Granted, a.Returned)
	}
	return nil
}

// ReplayTotal computes the pool total implied by the event ledger.
// The initial funding event is part of the ledger, so replay starts at zero.
func ReplayTotal(events []PoolEvent) Money {
	total := MoneyZero()
	for _, ev := range events {
		total = total.Add(ev.Amount)
	}
	return total
}

// VerifyLedger checks the ledger-sum invariant against a stored pool row.
func VerifyLedger(pool *EquityPool, events []PoolEvent) error {
	replayed := ReplayTotal(events)
	if !replayed.Equal(pool.TotalPool) {
		return fmt.Errorf("%w: pool %s total %s does not match ledger replay %s",
			ErrFatalInternal, pool.ID, pool.TotalPool, replayed)
	}
	return nil
}

/*
grant.go - Grant records and the vesting lifecycle state

PURPOSE:
  A Grant ties a fixed share amount to an employee as of a grant date.
  Shares vest over time (see the vesting package); vested_amount only
  moves forward, and termination freezes it permanently.

STATE MACHINE:
  unvested      (elapsed < 12 months, nothing vested)
  cliff-vested  (12 <= elapsed < 48)
  fully-vested  (elapsed >= 48, vested == share_amount exactly)
  terminated    absorbing side-state from any of the above: vesting is
                frozen at the value reached by the termination date and
                unvested shares flow back to the pool

OPTIMISTIC LOCKING:
  Grant mutations (vesting accrual, termination) are compare-and-swap on
  the version counter: the update succeeds only if the stored version
  matches, and increments it. A mismatch surfaces as a concurrency
  conflict.

SEE ALSO:
  - vesting/calculator.go: The pure vesting computation
  - service.go: CreateGrant / TerminateGrant transactional operations
*/
package equity

import "time"

// =============================================================================
// GRANT
// =============================================================================

type GrantStatus string

const (
	GrantActive   GrantStatus = "active"
	GrantInactive GrantStatus = "inactive"
)

// Grant is an employee equity grant. ShareAmount is fixed at creation;
// VestedAmount is monotonically non-decreasing until termination.
type Grant struct {
	ID          GrantID
	TenantID    TenantID
	EmployeeID  EmployeeID
	GrantDate   Date
	ShareAmount Money // > 0, immutable
	VestedAmount Money // >= 0, <= ShareAmount
	Status      GrantStatus

	// Termination data; set only when Status becomes inactive.
	TerminationDate        *Date
	TerminationReason      string
	TerminatedBy           string
	UnvestedSharesReturned Money

	Version   int64 // optimistic-lock counter
	CreatedBy string
	CreatedAt time.Time
}

// Terminated reports whether vesting is frozen for this grant.
func (g *Grant) Terminated() bool {
	return g.Status == GrantInactive && g.TerminationDate != nil
}

// Validate checks the grant's internal consistency.
func (g *Grant) Validate() error {
	if !g.ShareAmount.IsPositive() {
		return &ValidationError{Field: "share_amount", Message: "share amount must be positive"}
	}
	if g.VestedAmount.IsNegative() {
		return &ValidationError{Field: "vested_amount", Message: "vested amount cannot be negative"}
	}
	if g.VestedAmount.GreaterThan(g.ShareAmount) {
		return &ValidationError{Field: "vested_amount", Message: "vested amount cannot exceed share amount"}
	}
	if g.GrantDate.IsZero() {
		return &ValidationError{Field: "grant_date", Message: "grant date is required"}
	}
	return nil
}

// =============================================================================
// VESTING EVENT - One discrete vesting tranche
// =============================================================================

// VestingEvent records one incremental tranche: the cliff lump sum or a
// later monthly accrual. SharesVested is the increment, not the running
// total. Append-only; PPSSnapshot starts nil and may be stamped exactly
// once when a price resolves - a non-nil snapshot is never rewritten.
type VestingEvent struct {
	ID           EventID
	GrantID      GrantID
	TenantID     TenantID
	VestingDate  Date
	SharesVested Money  // incremental tranche
	PPSSnapshot  *Money // nil until a price is resolved for VestingDate
	CreatedAt    time.Time
}

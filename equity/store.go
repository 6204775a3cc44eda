/*
store.go - Persistence interfaces for pools, grants, and vesting events

PURPOSE:
  Defines the contract between the domain services and the database.
  The append-only tables (pool_events, vesting_events, pps_history,
  audit_log) expose no update or delete operations; the only mutable
  columns anywhere are the pool total, the grant vesting/termination
  fields (guarded by the version counter), and NULL->value stamping of
  vesting event price snapshots.

TRANSACTIONS:
  TxStore.WithTx runs a unit of work under the strictest isolation the
  engine offers (for SQLite, an immediate write transaction - one writer
  at a time). Storage-level serialization failures are reported as
  ErrConcurrencyConflict; the service layer retries the entire unit of
  work, never a single statement.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite store

SEE ALSO:
  - service.go: Retry loop around WithTx
  - vesting/runner.go: Batch tranche persistence
*/
package equity

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Persistence contract
// =============================================================================

// Store is the persistence surface. Within WithTx, the Store passed to the
// callback executes against the open transaction.
type Store interface {
	// Pools. CreatePool inserts the pool row; the initial funding is
	// appended as the first pool event in the same unit of work.
	CreatePool(ctx context.Context, pool EquityPool) error
	GetPoolByTenant(ctx context.Context, tenantID TenantID) (*EquityPool, error)
	UpdatePoolTotal(ctx context.Context, poolID PoolID, total Money) error
	AppendPoolEvent(ctx context.Context, ev PoolEvent) error
	PoolEvents(ctx context.Context, tenantID TenantID) ([]PoolEvent, error)
	ListTenants(ctx context.Context) ([]TenantID, error)

	// Employees.
	SaveEmployee(ctx context.Context, emp Employee) error
	GetEmployee(ctx context.Context, tenantID TenantID, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context, tenantID TenantID) ([]Employee, error)

	// Grants. The two mutators are compare-and-swap on Version and fail
	// with ErrVersionMismatch when the stored version moved.
	InsertGrant(ctx context.Context, g Grant) error
	GetGrant(ctx context.Context, tenantID TenantID, id GrantID) (*Grant, error)
	ListGrants(ctx context.Context, tenantID TenantID) ([]Grant, error)
	ListActiveGrants(ctx context.Context, tenantID TenantID) ([]Grant, error)
	GrantAggregates(ctx context.Context, tenantID TenantID) (granted, returned Money, err error)
	UpdateGrantVesting(ctx context.Context, id GrantID, expectedVersion int64, vested Money) error
	MarkGrantTerminated(ctx context.Context, g Grant, expectedVersion int64) error

	// Vesting events (append-only).
	AppendVestingEvents(ctx context.Context, evs []VestingEvent) error
	VestingEvents(ctx context.Context, grantID GrantID) ([]VestingEvent, error)
	// StampUnresolvedSnapshots resolves prices for vesting events whose
	// snapshot is still NULL. Non-NULL snapshots are never touched.
	StampUnresolvedSnapshots(ctx context.Context, tenantID TenantID) (int, error)

	// PPS history (append-only).
	InsertPPS(ctx context.Context, entry PPSEntry) error
	ListPPS(ctx context.Context, tenantID TenantID) ([]PPSEntry, error)
	ResolvePPSAt(ctx context.Context, tenantID TenantID, date Date) (*PPSEntry, error)

	// Vesting runs (batch runner bookkeeping).
	SaveVestingRun(ctx context.Context, run VestingRun) error
	ListVestingRuns(ctx context.Context, tenantID TenantID) ([]VestingRun, error)
}

// TxStore adds transactional execution.
type TxStore interface {
	Store

	// WithTx executes fn atomically. fn error => rollback; nil => commit.
	// A serialization failure surfaces as ErrConcurrencyConflict.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Best-effort, separate from the ledgers
// =============================================================================

// AuditEntry records who did what after every successful mutation.
// Writing it is best-effort: a logging failure never rolls back the
// primary operation.
type AuditEntry struct {
	ID         string
	TenantID   TenantID
	ActorID    string
	ActionType string // "pool_created", "pool_adjusted", "grant_created", ...
	EntityType string // "pool", "grant", "pps", ...
	EntityID   string
	Details    map[string]string
	CreatedAt  time.Time
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, tenantID TenantID, limit int) ([]AuditEntry, error)
}

// =============================================================================
// VESTING RUN - One batch runner execution
// =============================================================================

// VestingRun records one batch vesting execution for a tenant.
type VestingRun struct {
	ID             string
	TenantID       TenantID
	AsOfDate       Date
	Status         string // running, completed, failed
	GrantsTotal    int
	GrantsVested   int
	TranchesSaved  int
	Error          string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

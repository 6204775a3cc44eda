/*
service.go - Transactional pool and grant operations

PURPOSE:
  Implements the mutations that must be atomic with respect to concurrent
  writers: pool creation/adjustment, grant creation, and termination.
  Each operation runs as one unit of work via TxStore.WithTx, wrapped in a
  bounded retry loop keyed on storage serialization conflicts.

CONCURRENCY MODEL:
  The pool is the single serialization point per tenant. All grant
  creations/terminations and pool top-ups/reductions contend on the write
  transaction; the availability figure is always aggregated inside the
  same transaction that commits the change, so two concurrent grants can
  never both pass validation against a stale figure.

RETRY POLICY:
  On ErrConcurrencyConflict the ENTIRE transaction is re-executed, up to
  MaxRetries times. Validation and business-rule rejections are never
  retried. After retries exhaust, the conflict is surfaced to the caller.

AUDIT:
  After every successful mutation a structured audit record is written
  best-effort: an audit failure is logged and swallowed, never rolled into
  the primary operation's result.

SEE ALSO:
  - store.go: TxStore contract
  - vesting/runner.go: Accrues vesting before termination freezes it
*/
package equity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxRetries bounds transaction re-execution on serialization
// conflicts.
const DefaultMaxRetries = 3

// Service exposes the transactional equity operations.
type Service struct {
	store      TxStore
	audit      AuditLog
	log        zerolog.Logger
	MaxRetries int
}

// NewService wires a service. audit may be nil (auditing disabled).
func NewService(store TxStore, audit AuditLog, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		audit:      audit,
		log:        log,
		MaxRetries: DefaultMaxRetries,
	}
}

// Store exposes the underlying store for read-only callers.
func (s *Service) Store() TxStore { return s.store }

// inTx runs fn as one retried unit of work.
func (s *Service) inTx(ctx context.Context, op string, fn func(Store) error) error {
	var err error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		s.log.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Msg("serialization conflict, retrying transaction")
	}
	return err
}

// recordAudit writes a best-effort audit entry.
func (s *Service) recordAudit(ctx context.Context, tenantID TenantID, actorID, action, entityType, entityID string, details map[string]string) {
	if s.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ActorID:    actorID,
		ActionType: action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("audit write failed")
	}
}

// =============================================================================
// POOL OPERATIONS
// =============================================================================

// CreatePool creates a tenant's equity pool and its initial funding event.
// One pool per tenant; pools are created explicitly, never lazily.
func (s *Service) CreatePool(ctx context.Context, tenantID TenantID, actorID string, initialAmount Money, effectiveDate Date, notes string) (*EquityPool, error) {
	if !initialAmount.IsPositive() {
		return nil, &ValidationError{Field: "initial_amount", Message: "initial amount must be positive"}
	}
	if effectiveDate.IsZero() {
		return nil, &ValidationError{Field: "effective_date", Message: "effective date is required"}
	}

	pool := EquityPool{
		ID:            PoolID(uuid.NewString()),
		TenantID:      tenantID,
		InitialAmount: initialAmount,
		TotalPool:     initialAmount,
		CreatedBy:     actorID,
		CreatedAt:     time.Now().UTC(),
	}

	err := s.inTx(ctx, "create_pool", func(store Store) error {
		existing, err := store.GetPoolByTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ValidationError{Field: "tenant_id", Message: "pool already exists for tenant"}
		}
		if err := store.CreatePool(ctx, pool); err != nil {
			return err
		}
		return store.AppendPoolEvent(ctx, PoolEvent{
			ID:            EventID(uuid.NewString()),
			PoolID:        pool.ID,
			TenantID:      tenantID,
			Amount:        initialAmount,
			EventType:     PoolEventInitial,
			EffectiveDate: effectiveDate,
			Notes:         notes,
			CreatedBy:     actorID,
			CreatedAt:     pool.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, tenantID, actorID, "pool_created", "pool", string(pool.ID), map[string]string{
		"initial_amount": initialAmount.String(),
	})
	return &pool, nil
}

// AdjustPool appends a top-up or reduction event and moves the pool total,
// both in one unit of work. The amount is a positive magnitude; the sign is
// derived from the event type. Initial funding only happens via CreatePool.
func (s *Service) AdjustPool(ctx context.Context, tenantID TenantID, actorID string, eventType PoolEventType, magnitude Money, effectiveDate Date, notes string) (*PoolEvent, error) {
	if eventType == PoolEventInitial {
		return nil, &ValidationError{Field: "event_type", Message: "initial funding is recorded at pool creation"}
	}
	signed, err := SignedAmount(eventType, magnitude)
	if err != nil {
		return nil, err
	}
	if effectiveDate.IsZero() {
		return nil, &ValidationError{Field: "effective_date", Message: "effective date is required"}
	}

	var event PoolEvent
	err = s.inTx(ctx, "adjust_pool", func(store Store) error {
		pool, err := store.GetPoolByTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if pool == nil {
			return &NotFoundError{Entity: "pool", ID: string(tenantID)}
		}

		granted, returned, err := store.GrantAggregates(ctx, tenantID)
		if err != nil {
			return err
		}
		acct := PoolAccounting{TotalPool: pool.TotalPool, Granted: granted, Returned: returned}

		if eventType == PoolEventReduction && magnitude.GreaterThan(acct.Available()) {
			return &InsufficientSharesError{TenantID: tenantID, Available: acct.Available(), Requested: magnitude}
		}

		newTotal := pool.TotalPool.Add(signed)
		if newTotal.IsNegative() {
			return &ValidationError{Field: "amount", Message: "adjustment would make pool total negative"}
		}

		event = PoolEvent{
			ID:            EventID(uuid.NewString()),
			PoolID:        pool.ID,
			TenantID:      tenantID,
			Amount:        signed,
			EventType:     eventType,
			EffectiveDate: effectiveDate,
			Notes:         notes,
			CreatedBy:     actorID,
			CreatedAt:     time.Now().UTC(),
		}
		if err := store.AppendPoolEvent(ctx, event); err != nil {
			return err
		}
		if err := store.UpdatePoolTotal(ctx, pool.ID, newTotal); err != nil {
			return err
		}

		// Verify the ledger-sum invariant before committing.
		events, err := store.PoolEvents(ctx, tenantID)
		if err != nil {
			return err
		}
		updated := *pool
		updated.TotalPool = newTotal
		if err := VerifyLedger(&updated, events); err != nil {
			return err
		}
		acct.TotalPool = newTotal
		return acct.CheckInvariant()
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, tenantID, actorID, "pool_adjusted", "pool_event", string(event.ID), map[string]string{
		"event_type": string(eventType),
		"amount":     event.Amount.String(),
	})
	return &event, nil
}

// PoolAccountingFor returns the pool and its derived capacity figures.
func (s *Service) PoolAccountingFor(ctx context.Context, tenantID TenantID) (*EquityPool, PoolAccounting, error) {
	pool, err := s.store.GetPoolByTenant(ctx, tenantID)
	if err != nil {
		return nil, PoolAccounting{}, err
	}
	if pool == nil {
		return nil, PoolAccounting{}, &NotFoundError{Entity: "pool", ID: string(tenantID)}
	}
	granted, returned, err := s.store.GrantAggregates(ctx, tenantID)
	if err != nil {
		return nil, PoolAccounting{}, err
	}
	return pool, PoolAccounting{TotalPool: pool.TotalPool, Granted: granted, Returned: returned}, nil
}

// =============================================================================
// GRANT OPERATIONS
// =============================================================================

// CreateGrant validates employee and capacity inside the same transaction
// that inserts the grant, so concurrent requests cannot jointly overcommit
// the pool.
func (s *Service) CreateGrant(ctx context.Context, tenantID TenantID, actorID string, employeeID EmployeeID, grantDate Date, shareAmount Money) (*Grant, error) {
	grant := Grant{
		ID:           GrantID(uuid.NewString()),
		TenantID:     tenantID,
		EmployeeID:   employeeID,
		GrantDate:    grantDate,
		ShareAmount:  shareAmount,
		VestedAmount: MoneyZero(),
		Status:       GrantActive,
		Version:      0,
		CreatedBy:    actorID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := grant.Validate(); err != nil {
		return nil, err
	}

	err := s.inTx(ctx, "create_grant", func(store Store) error {
		emp, err := store.GetEmployee(ctx, tenantID, employeeID)
		if err != nil {
			return err
		}
		if emp == nil {
			return &NotFoundError{Entity: "employee", ID: string(employeeID)}
		}
		if !emp.Active {
			return &ValidationError{Field: "employee_id", Message: "employee is not active"}
		}

		pool, err := store.GetPoolByTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if pool == nil {
			return &NotFoundError{Entity: "pool", ID: string(tenantID)}
		}

		granted, returned, err := store.GrantAggregates(ctx, tenantID)
		if err != nil {
			return err
		}
		acct := PoolAccounting{TotalPool: pool.TotalPool, Granted: granted, Returned: returned}
		if shareAmount.GreaterThan(acct.Available()) {
			return &InsufficientSharesError{TenantID: tenantID, Available: acct.Available(), Requested: shareAmount}
		}

		if err := store.InsertGrant(ctx, grant); err != nil {
			return err
		}

		acct.Granted = acct.Granted.Add(shareAmount)
		return acct.CheckInvariant()
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, tenantID, actorID, "grant_created", "grant", string(grant.ID), map[string]string{
		"employee_id":  string(employeeID),
		"share_amount": shareAmount.String(),
		"grant_date":   grantDate.String(),
	})
	return &grant, nil
}

// TerminateGrant freezes vesting and returns unvested shares to the pool:
// unvested_shares_returned = share_amount - vested_amount as stored.
// Callers accrue vesting through the batch runner up to the termination
// date first (the API handler does), so the stored figure is the frozen
// one. The grant is permanently excluded from future accrual.
func (s *Service) TerminateGrant(ctx context.Context, tenantID TenantID, actorID string, grantID GrantID, terminationDate Date, reason string) (*Grant, error) {
	if terminationDate.IsZero() {
		return nil, &ValidationError{Field: "termination_date", Message: "termination date is required"}
	}

	var result Grant
	err := s.inTx(ctx, "terminate_grant", func(store Store) error {
		grant, err := store.GetGrant(ctx, tenantID, grantID)
		if err != nil {
			return err
		}
		if grant == nil {
			return &NotFoundError{Entity: "grant", ID: string(grantID)}
		}
		if grant.Terminated() {
			return &ValidationError{Field: "grant_id", Message: "grant is already terminated"}
		}
		if terminationDate.Before(grant.GrantDate) {
			return &ValidationError{Field: "termination_date", Message: "termination date precedes grant date"}
		}

		pool, err := store.GetPoolByTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if pool == nil {
			return &NotFoundError{Entity: "pool", ID: string(tenantID)}
		}

		td := terminationDate
		updated := *grant
		updated.Status = GrantInactive
		updated.TerminationDate = &td
		updated.TerminationReason = reason
		updated.TerminatedBy = actorID
		updated.UnvestedSharesReturned = grant.ShareAmount.Sub(grant.VestedAmount)

		if err := store.MarkGrantTerminated(ctx, updated, grant.Version); err != nil {
			return err
		}
		updated.Version = grant.Version + 1

		granted, returned, err := store.GrantAggregates(ctx, tenantID)
		if err != nil {
			return err
		}
		acct := PoolAccounting{TotalPool: pool.TotalPool, Granted: granted, Returned: returned}
		if err := acct.CheckInvariant(); err != nil {
			return fmt.Errorf("after termination of grant %s: %w", grantID, err)
		}

		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, tenantID, actorID, "grant_terminated", "grant", string(grantID), map[string]string{
		"termination_date": terminationDate.String(),
		"returned_shares":  result.UnvestedSharesReturned.String(),
		"reason":           reason,
	})
	return &result, nil
}

// =============================================================================
// EMPLOYEE & PPS OPERATIONS
// =============================================================================

// CreateEmployee registers a grant beneficiary.
func (s *Service) CreateEmployee(ctx context.Context, tenantID TenantID, actorID string, emp Employee) (*Employee, error) {
	if emp.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "name is required"}
	}
	if emp.ID == "" {
		emp.ID = EmployeeID(uuid.NewString())
	}
	emp.TenantID = tenantID
	emp.Active = true
	emp.CreatedAt = time.Now().UTC()

	if err := s.store.SaveEmployee(ctx, emp); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, tenantID, actorID, "employee_created", "employee", string(emp.ID), nil)
	return &emp, nil
}

// CreatePPS records a price-per-share entry and backfills vesting events
// whose snapshot is still unresolved. Existing snapshots are immutable.
func (s *Service) CreatePPS(ctx context.Context, tenantID TenantID, actorID string, effectiveDate Date, price Money) (*PPSEntry, error) {
	entry := PPSEntry{
		ID:            EventID(uuid.NewString()),
		TenantID:      tenantID,
		EffectiveDate: effectiveDate,
		PricePerShare: price,
		CreatedBy:     actorID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	var stamped int
	err := s.inTx(ctx, "create_pps", func(store Store) error {
		if err := store.InsertPPS(ctx, entry); err != nil {
			return err
		}
		n, err := store.StampUnresolvedSnapshots(ctx, tenantID)
		if err != nil {
			return err
		}
		stamped = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tenant", string(tenantID)).
		Str("effective_date", effectiveDate.String()).
		Int("stamped_events", stamped).
		Msg("pps entry recorded")
	s.recordAudit(ctx, tenantID, actorID, "pps_created", "pps", string(entry.ID), map[string]string{
		"effective_date":  effectiveDate.String(),
		"price_per_share": price.String(),
	})
	return &entry, nil
}

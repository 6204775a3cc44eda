/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE FORMATS:
  Share and price quantities cross the API as exact base-10 strings with
  three fractional digits ("270.833"), never as JSON numbers. Dates are
  YYYY-MM-DD strings.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/equity-engine/equity"
	"github.com/warp/equity-engine/vesting"
)

// =============================================================================
// POOL TYPES
// =============================================================================

// CreatePoolRequest creates a tenant's equity pool with its initial funding.
type CreatePoolRequest struct {
	InitialAmount string `json:"initial_amount"`
	EffectiveDate string `json:"effective_date"`
	Notes         string `json:"notes,omitempty"`
}

// PoolEventRequest appends a top-up or reduction to the pool ledger.
// Amount is a positive magnitude; the sign is derived from event_type.
type PoolEventRequest struct {
	EventType     string `json:"event_type"` // "top_up" or "reduction"
	Amount        string `json:"amount"`
	EffectiveDate string `json:"effective_date"`
	Notes         string `json:"notes,omitempty"`
}

// PoolDTO is the pool with its derived capacity figures.
type PoolDTO struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	InitialAmount string `json:"initial_amount"`
	TotalPool     string `json:"total_pool"`
	Granted       string `json:"granted_shares"`
	Returned      string `json:"returned_shares"`
	Available     string `json:"available_shares"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// PoolEventDTO is one immutable pool ledger entry.
type PoolEventDTO struct {
	ID            string `json:"id"`
	Amount        string `json:"amount"` // signed
	EventType     string `json:"event_type"`
	EffectiveDate string `json:"effective_date"`
	Notes         string `json:"notes,omitempty"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
}

func poolDTO(pool *equity.EquityPool, acct equity.PoolAccounting) PoolDTO {
	return PoolDTO{
		ID:            string(pool.ID),
		TenantID:      string(pool.TenantID),
		InitialAmount: pool.InitialAmount.String(),
		TotalPool:     pool.TotalPool.String(),
		Granted:       acct.Granted.String(),
		Returned:      acct.Returned.String(),
		Available:     acct.Available().String(),
		CreatedAt:     pool.CreatedAt.Format(timeLayout),
	}
}

func poolEventDTO(ev equity.PoolEvent) PoolEventDTO {
	return PoolEventDTO{
		ID:            string(ev.ID),
		Amount:        ev.Amount.String(),
		EventType:     string(ev.EventType),
		EffectiveDate: ev.EffectiveDate.String(),
		Notes:         ev.Notes,
		CreatedBy:     ev.CreatedBy,
		CreatedAt:     ev.CreatedAt.Format(timeLayout),
	}
}

// =============================================================================
// EMPLOYEE TYPES
// =============================================================================

// CreateEmployeeRequest registers a grant beneficiary.
type CreateEmployeeRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	HireDate string `json:"hire_date"`
}

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Active   bool   `json:"active"`
	HireDate string `json:"hire_date"`
}

func employeeDTO(emp equity.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:       string(emp.ID),
		Name:     emp.Name,
		Email:    emp.Email,
		Active:   emp.Active,
		HireDate: emp.HireDate.String(),
	}
}

// =============================================================================
// GRANT TYPES
// =============================================================================

// CreateGrantRequest issues shares to an employee.
type CreateGrantRequest struct {
	EmployeeID  string `json:"employee_id"`
	GrantDate   string `json:"grant_date"`
	ShareAmount string `json:"share_amount"`
}

// TerminateGrantRequest ends a grant's vesting as of a date.
type TerminateGrantRequest struct {
	TerminationDate string `json:"termination_date"`
	Reason          string `json:"reason,omitempty"`
}

// GrantDTO represents a grant in API responses.
type GrantDTO struct {
	ID                     string  `json:"id"`
	EmployeeID             string  `json:"employee_id"`
	GrantDate              string  `json:"grant_date"`
	ShareAmount            string  `json:"share_amount"`
	VestedAmount           string  `json:"vested_amount"`
	Status                 string  `json:"status"`
	TerminationDate        *string `json:"termination_date,omitempty"`
	TerminationReason      string  `json:"termination_reason,omitempty"`
	UnvestedSharesReturned string  `json:"unvested_shares_returned"`
	Version                int64   `json:"version"`
	CreatedAt              string  `json:"created_at,omitempty"`
}

func grantDTO(g equity.Grant) GrantDTO {
	dto := GrantDTO{
		ID:                     string(g.ID),
		EmployeeID:             string(g.EmployeeID),
		GrantDate:              g.GrantDate.String(),
		ShareAmount:            g.ShareAmount.String(),
		VestedAmount:           g.VestedAmount.String(),
		Status:                 string(g.Status),
		TerminationReason:      g.TerminationReason,
		UnvestedSharesReturned: g.UnvestedSharesReturned.String(),
		Version:                g.Version,
		CreatedAt:              g.CreatedAt.Format(timeLayout),
	}
	if g.TerminationDate != nil {
		td := g.TerminationDate.String()
		dto.TerminationDate = &td
	}
	return dto
}

// =============================================================================
// VESTING TYPES
// =============================================================================

// VestingStatusDTO is the point-in-time schedule for one grant.
type VestingStatusDTO struct {
	GrantID       string       `json:"grant_id"`
	AsOf          string       `json:"as_of"`
	VestedAmount  string       `json:"vested_amount"`
	Percentage    string       `json:"vested_percentage"`
	ElapsedMonths int          `json:"elapsed_months"`
	FullyVested   bool         `json:"fully_vested"`
	IsTerminated  bool         `json:"is_terminated"`
	Tranches      []TrancheDTO `json:"tranches"`
}

// TrancheDTO is one discrete vesting increment.
type TrancheDTO struct {
	MonthIndex  int    `json:"month_index"`
	VestingDate string `json:"vesting_date"`
	Shares      string `json:"shares"`
}

// VestingEventDTO is one persisted tranche with its price snapshot.
type VestingEventDTO struct {
	ID           string  `json:"id"`
	VestingDate  string  `json:"vesting_date"`
	SharesVested string  `json:"shares_vested"`
	PPSSnapshot  *string `json:"pps_snapshot,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func vestingEventDTO(ev equity.VestingEvent) VestingEventDTO {
	dto := VestingEventDTO{
		ID:           string(ev.ID),
		VestingDate:  ev.VestingDate.String(),
		SharesVested: ev.SharesVested.String(),
		CreatedAt:    ev.CreatedAt.Format(timeLayout),
	}
	if ev.PPSSnapshot != nil {
		price := ev.PPSSnapshot.String()
		dto.PPSSnapshot = &price
	}
	return dto
}

// RunVestingRequest triggers batch accrual. With grant_ids the run covers
// exactly those grants; without, every active grant of the tenant.
type RunVestingRequest struct {
	AsOf     string   `json:"as_of,omitempty"` // defaults to today
	GrantIDs []string `json:"grant_ids,omitempty"`
}

// GrantRunResultDTO is one grant's accrual outcome within a batch.
type GrantRunResultDTO struct {
	GrantID       string `json:"grant_id"`
	VestedAmount  string `json:"vested_amount"`
	Percentage    string `json:"vested_percentage"`
	ElapsedMonths int    `json:"elapsed_months"`
	NewTranches   int    `json:"new_tranches"`
	FullyVested   bool   `json:"fully_vested"`
	IsTerminated  bool   `json:"is_terminated"`
}

// RunVestingResponse summarizes a batch accrual.
type RunVestingResponse struct {
	RunID         string              `json:"run_id,omitempty"`
	AsOf          string              `json:"as_of"`
	GrantsTotal   int                 `json:"grants_total"`
	TranchesSaved int                 `json:"tranches_saved"`
	Results       []GrantRunResultDTO `json:"results"`
}

func grantRunResultDTO(res vesting.GrantResult) GrantRunResultDTO {
	return GrantRunResultDTO{
		GrantID:       string(res.GrantID),
		VestedAmount:  res.VestedAmount.String(),
		Percentage:    res.Percentage,
		ElapsedMonths: res.ElapsedMonths,
		NewTranches:   res.NewTranches,
		FullyVested:   res.FullyVested,
		IsTerminated:  res.IsTerminated,
	}
}

// VestingRunDTO is one recorded batch execution.
type VestingRunDTO struct {
	ID            string `json:"id"`
	AsOfDate      string `json:"as_of_date"`
	Status        string `json:"status"`
	GrantsTotal   int    `json:"grants_total"`
	GrantsVested  int    `json:"grants_vested"`
	TranchesSaved int    `json:"tranches_saved"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

func vestingRunDTO(run equity.VestingRun) VestingRunDTO {
	dto := VestingRunDTO{
		ID:            run.ID,
		AsOfDate:      run.AsOfDate.String(),
		Status:        run.Status,
		GrantsTotal:   run.GrantsTotal,
		GrantsVested:  run.GrantsVested,
		TranchesSaved: run.TranchesSaved,
		Error:         run.Error,
		StartedAt:     run.StartedAt.Format(timeLayout),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(timeLayout)
	}
	return dto
}

// =============================================================================
// PPS TYPES
// =============================================================================

// CreatePPSRequest records a price-per-share entry.
type CreatePPSRequest struct {
	EffectiveDate string `json:"effective_date"`
	PricePerShare string `json:"price_per_share"`
}

// PPSEntryDTO is one immutable price record.
type PPSEntryDTO struct {
	ID            string `json:"id"`
	EffectiveDate string `json:"effective_date"`
	PricePerShare string `json:"price_per_share"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
}

func ppsEntryDTO(entry equity.PPSEntry) PPSEntryDTO {
	return PPSEntryDTO{
		ID:            string(entry.ID),
		EffectiveDate: entry.EffectiveDate.String(),
		PricePerShare: entry.PricePerShare.String(),
		CreatedBy:     entry.CreatedBy,
		CreatedAt:     entry.CreatedAt.Format(timeLayout),
	}
}

// =============================================================================
// AUDIT TYPES
// =============================================================================

// AuditEntryDTO is one audit trail record.
type AuditEntryDTO struct {
	ID         string            `json:"id"`
	ActorID    string            `json:"actor_id"`
	ActionType string            `json:"action_type"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

func auditEntryDTO(entry equity.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         entry.ID,
		ActorID:    entry.ActorID,
		ActionType: entry.ActionType,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Details:    entry.Details,
		CreatedAt:  entry.CreatedAt.Format(timeLayout),
	}
}

/*
handlers.go - HTTP API handlers for the equity engine

PURPOSE:
  Exposes the equity pool and vesting engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Pools:
    POST   /api/pools                  Create pool with initial funding
    GET    /api/pools                  Pool with derived capacity figures
    POST   /api/pools/events           Append top-up / reduction
    GET    /api/pools/events           Full pool ledger

  Employees:
    POST   /api/employees              Register a beneficiary
    GET    /api/employees              List beneficiaries

  Grants:
    POST   /api/grants                 Issue a grant
    GET    /api/grants                 List grants
    GET    /api/grants/{id}            Grant details
    POST   /api/grants/{id}/terminate  Freeze vesting, return unvested
    GET    /api/grants/{id}/vesting    Point-in-time schedule (?as_of=)
    GET    /api/grants/{id}/events     Persisted tranches

  Vesting:
    POST   /api/vesting/run            Batch accrual (all active or listed)
    GET    /api/vesting/runs           Batch execution history

  PPS:
    POST   /api/pps                    Record a price-per-share entry
    GET    /api/pps                    Price history

  Audit:
    GET    /api/audit                  Recent audit trail

TENANCY:
  Every request carries the tenant in the X-Tenant-ID header and the
  acting user in X-Actor-ID (defaults to "system"). Handlers never trust
  a tenant identifier from the body.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Pool/grant/employee not found
  - 409: Concurrency conflict (after the service's retries exhaust)
  - 422: Insufficient pool capacity
  - 500: Internal errors, invariant violations

TERMINATION ORDERING:
  TerminateGrant first accrues vesting through the batch runner up to the
  termination date, then freezes the grant. The stored vested amount at
  freeze time determines the shares returned to the pool.

SECURITY NOTE:
  Currently NO authentication. Tenant and actor headers are trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - equity/errors.go: The taxonomy being mapped
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/equity-engine/equity"
	"github.com/warp/equity-engine/vesting"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	service *equity.Service
	runner  *vesting.Runner
	store   equity.TxStore
	audit   equity.AuditLog
	log     zerolog.Logger
}

// NewHandler creates a handler. audit may be nil.
func NewHandler(service *equity.Service, runner *vesting.Runner, store equity.TxStore, audit equity.AuditLog, log zerolog.Logger) *Handler {
	return &Handler{service: service, runner: runner, store: store, audit: audit, log: log}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps the error taxonomy to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case equity.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_error"})
	case equity.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case equity.IsInsufficientShares(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "insufficient_shares"})
	case equity.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "concurrency_conflict"})
	default:
		h.log.Error().Err(err).Msg("internal error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal_error"})
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &equity.ValidationError{Field: "body", Message: "malformed JSON body"}
	}
	return nil
}

// tenantID extracts the required tenant header.
func tenantID(r *http.Request) (equity.TenantID, error) {
	t := r.Header.Get("X-Tenant-ID")
	if t == "" {
		return "", &equity.ValidationError{Field: "X-Tenant-ID", Message: "tenant header is required"}
	}
	return equity.TenantID(t), nil
}

func actorID(r *http.Request) string {
	if a := r.Header.Get("X-Actor-ID"); a != "" {
		return a
	}
	return "system"
}

// =============================================================================
// POOL HANDLERS
// =============================================================================

// CreatePool handles POST /api/pools
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req CreatePoolRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	amount, err := equity.ParseMoney(req.InitialAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	effective, err := equity.ParseDate(req.EffectiveDate)
	if err != nil {
		h.writeError(w, err)
		return
	}

	pool, err := h.service.CreatePool(r.Context(), tenant, actorID(r), amount, effective, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	acct := equity.PoolAccounting{TotalPool: pool.TotalPool, Granted: equity.MoneyZero(), Returned: equity.MoneyZero()}
	writeJSON(w, http.StatusCreated, poolDTO(pool, acct))
}

// GetPool handles GET /api/pools
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	pool, acct, err := h.service.PoolAccountingFor(r.Context(), tenant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolDTO(pool, acct))
}

// CreatePoolEvent handles POST /api/pools/events
func (h *Handler) CreatePoolEvent(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req PoolEventRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	eventType, err := equity.ParsePoolEventType(req.EventType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	amount, err := equity.ParseMoney(req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	effective, err := equity.ParseDate(req.EffectiveDate)
	if err != nil {
		h.writeError(w, err)
		return
	}

	event, err := h.service.AdjustPool(r.Context(), tenant, actorID(r), eventType, amount, effective, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, poolEventDTO(*event))
}

// ListPoolEvents handles GET /api/pools/events
func (h *Handler) ListPoolEvents(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	events, err := h.store.PoolEvents(r.Context(), tenant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]PoolEventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, poolEventDTO(ev))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// CreateEmployee handles POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req CreateEmployeeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	hireDate, err := equity.ParseDate(req.HireDate)
	if err != nil {
		h.writeError(w, err)
		return
	}

	emp, err := h.service.CreateEmployee(r.Context(), tenant, actorID(r), equity.Employee{
		ID:       equity.EmployeeID(req.ID),
		Name:     req.Name,
		Email:    req.Email,
		HireDate: hireDate,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, employeeDTO(*emp))
}

// ListEmployees handles GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	employees, err := h.store.ListEmployees(r.Context(), tenant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]EmployeeDTO, 0, len(employees))
	for _, emp := range employees {
		dtos = append(dtos, employeeDTO(emp))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// GRANT HANDLERS
// =============================================================================

// CreateGrant handles POST /api/grants
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req CreateGrantRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	grantDate, err := equity.ParseDate(req.GrantDate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shares, err := equity.ParseMoney(req.ShareAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	grant, err := h.service.CreateGrant(r.Context(), tenant, actorID(r), equity.EmployeeID(req.EmployeeID), grantDate, shares)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grantDTO(*grant))
}

// ListGrants handles GET /api/grants
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	grants, err := h.store.ListGrants(r.Context(), tenant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]GrantDTO, 0, len(grants))
	for _, g := range grants {
		dtos = append(dtos, grantDTO(g))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetGrant handles GET /api/grants/{id}
func (h *Handler) GetGrant(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	grantID := equity.GrantID(chi.URLParam(r, "id"))
	grant, err := h.store.GetGrant(r.Context(), tenant, grantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if grant == nil {
		h.writeError(w, &equity.NotFoundError{Entity: "grant", ID: string(grantID)})
		return
	}
	writeJSON(w, http.StatusOK, grantDTO(*grant))
}

// TerminateGrant handles POST /api/grants/{id}/terminate.
// Accrues vesting up to the termination date first, then freezes the
// grant so the stored vested amount is the frozen figure.
func (h *Handler) TerminateGrant(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	grantID := equity.GrantID(chi.URLParam(r, "id"))

	var req TerminateGrantRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	termDate, err := equity.ParseDate(req.TerminationDate)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := h.runner.RunGrant(r.Context(), tenant, grantID, termDate); err != nil {
		h.writeError(w, err)
		return
	}
	grant, err := h.service.TerminateGrant(r.Context(), tenant, actorID(r), grantID, termDate, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grantDTO(*grant))
}

// GetVestingStatus handles GET /api/grants/{id}/vesting?as_of=YYYY-MM-DD.
// Read-only: computes the schedule without persisting anything.
func (h *Handler) GetVestingStatus(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	grantID := equity.GrantID(chi.URLParam(r, "id"))

	asOf := equity.Today()
	if q := r.URL.Query().Get("as_of"); q != "" {
		if asOf, err = equity.ParseDate(q); err != nil {
			h.writeError(w, err)
			return
		}
	}

	grant, err := h.store.GetGrant(r.Context(), tenant, grantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if grant == nil {
		h.writeError(w, &equity.NotFoundError{Entity: "grant", ID: string(grantID)})
		return
	}

	calc, err := vesting.Calculate(*grant, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}

	dto := VestingStatusDTO{
		GrantID:       string(grantID),
		AsOf:          asOf.String(),
		VestedAmount:  calc.VestedAmount.String(),
		Percentage:    calc.Percentage.StringFixed(equity.MoneyPlaces),
		ElapsedMonths: calc.ElapsedMonths,
		FullyVested:   calc.FullyVested,
		IsTerminated:  calc.IsTerminated,
		Tranches:      make([]TrancheDTO, 0, len(calc.Tranches)),
	}
	for _, t := range calc.Tranches {
		dto.Tranches = append(dto.Tranches, TrancheDTO{
			MonthIndex:  t.MonthIndex,
			VestingDate: t.VestingDate.String(),
			Shares:      t.Shares.String(),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListVestingEvents handles GET /api/grants/{id}/events
func (h *Handler) ListVestingEvents(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	grantID := equity.GrantID(chi.URLParam(r, "id"))

	grant, err := h.store.GetGrant(r.Context(), tenant, grantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if grant == nil {
		h.writeError(w, &equity.NotFoundError{Entity: "grant", ID: string(grantID)})
		return
	}

	events, err := h.store.VestingEvents(r.Context(), grantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]VestingEventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, vestingEventDTO(ev))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// VESTING BATCH HANDLERS
// =============================================================================

// RunVesting handles POST /api/vesting/run
func (h *Handler) RunVesting(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req RunVestingRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
	}

	asOf := equity.Today()
	if req.AsOf != "" {
		if asOf, err = equity.ParseDate(req.AsOf); err != nil {
			h.writeError(w, err)
			return
		}
	}

	resp := RunVestingResponse{AsOf: asOf.String()}

	if len(req.GrantIDs) > 0 {
		ids := make([]equity.GrantID, 0, len(req.GrantIDs))
		for _, id := range req.GrantIDs {
			ids = append(ids, equity.GrantID(id))
		}
		results, err := h.runner.RunGrants(r.Context(), tenant, ids, asOf)
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp.GrantsTotal = len(results)
		for _, res := range results {
			resp.TranchesSaved += res.NewTranches
			resp.Results = append(resp.Results, grantRunResultDTO(res))
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	summary, err := h.runner.RunTenant(r.Context(), tenant, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp.RunID = summary.RunID
	resp.GrantsTotal = summary.GrantsTotal
	resp.TranchesSaved = summary.TranchesSaved
	for _, res := range summary.Results {
		resp.Results = append(resp.Results, grantRunResultDTO(res))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListVestingRuns handles GET /api/vesting/runs
func (h *Handler) ListVestingRuns(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	runs, err := h.store.ListVestingRuns(r.Context(), tenant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]VestingRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, vestingRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PPS HANDLERS
// =============================================================================

// CreatePPS handles POST /api/pps
func (h *Handler) CreatePPS(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req CreatePPSRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	effective, err := equity.ParseDate(req.EffectiveDate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	price, err := equity.ParseMoney(req.PricePerShare)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entry, err := h.service.CreatePPS(r.Context(), tenant, actorID(r), effective, price)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ppsEntryDTO(*entry))
}

// ListPPS handles GET /api/pps
func (h *Handler) ListPPS(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	entries, err := h.store.ListPPS(r.Context(), tenant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]PPSEntryDTO, 0, len(entries))
	for _, entry := range entries {
		dtos = append(dtos, ppsEntryDTO(entry))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit handles GET /api/audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []AuditEntryDTO{})
		return
	}
	entries, err := h.audit.ListAudit(r.Context(), tenant, 100)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, entry := range entries {
		dtos = append(dtos, auditEntryDTO(entry))
	}
	writeJSON(w, http.StatusOK, dtos)
}

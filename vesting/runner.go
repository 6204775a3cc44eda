/*
runner.go - Batch vesting runner

PURPOSE:
  Walks a tenant's active grants, runs the calculator, and persists the
  tranches that are due but not yet recorded. Each grant is processed in
  its own short transaction, so a mid-batch failure affects only the
  in-flight grant.

IDEMPOTENCE:
  A tranche is identified by its vesting date within a grant. Tranches
  already on file are skipped, so re-running the batch for the same as-of
  date writes nothing new and the cumulative vested amount is unchanged.

PPS STAMPING:
  Each persisted tranche is stamped with the price effective on its
  vesting date when one exists; otherwise the snapshot stays NULL and is
  backfilled by a later PPS insert (equity.Service.CreatePPS).

SEE ALSO:
  - calculator.go: The pure schedule computation
  - api/scheduler.go: Periodic execution per tenant
*/
package vesting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/equity-engine/equity"
)

// =============================================================================
// RUNNER
// =============================================================================

// Runner persists vesting accrual for grants.
type Runner struct {
	store      equity.TxStore
	log        zerolog.Logger
	MaxRetries int
}

// NewRunner wires a batch runner.
func NewRunner(store equity.TxStore, log zerolog.Logger) *Runner {
	return &Runner{store: store, log: log, MaxRetries: equity.DefaultMaxRetries}
}

// GrantResult reports one grant's accrual outcome.
type GrantResult struct {
	GrantID       equity.GrantID
	VestedAmount  equity.Money
	Percentage    string
	ElapsedMonths int
	NewTranches   int
	FullyVested   bool
	IsTerminated  bool
}

// Summary aggregates a tenant batch.
type Summary struct {
	RunID         string
	TenantID      equity.TenantID
	AsOf          equity.Date
	GrantsTotal   int
	GrantsVested  int
	TranchesSaved int
	Results       []GrantResult
}

// RunGrant accrues one grant up to asOf: computes the schedule, persists
// missing tranches with PPS snapshots, and advances the stored vested
// amount under the grant's optimistic version. Safe to call repeatedly.
func (r *Runner) RunGrant(ctx context.Context, tenantID equity.TenantID, grantID equity.GrantID, asOf equity.Date) (*GrantResult, error) {
	var result GrantResult

	fn := func(store equity.Store) error {
		grant, err := store.GetGrant(ctx, tenantID, grantID)
		if err != nil {
			return err
		}
		if grant == nil {
			return &equity.NotFoundError{Entity: "grant", ID: string(grantID)}
		}

		calc, err := Calculate(*grant, asOf)
		if err != nil {
			return err
		}

		existing, err := store.VestingEvents(ctx, grantID)
		if err != nil {
			return err
		}
		recorded := make(map[string]bool, len(existing))
		for _, ev := range existing {
			recorded[ev.VestingDate.String()] = true
		}

		var newEvents []equity.VestingEvent
		for _, tranche := range calc.Tranches {
			if recorded[tranche.VestingDate.String()] {
				continue
			}
			ev := equity.VestingEvent{
				ID:           equity.EventID(uuid.NewString()),
				GrantID:      grantID,
				TenantID:     tenantID,
				VestingDate:  tranche.VestingDate,
				SharesVested: tranche.Shares,
				CreatedAt:    time.Now().UTC(),
			}
			pps, err := store.ResolvePPSAt(ctx, tenantID, tranche.VestingDate)
			if err != nil {
				return err
			}
			if pps != nil {
				price := pps.PricePerShare
				ev.PPSSnapshot = &price
			}
			newEvents = append(newEvents, ev)
		}
		if len(newEvents) > 0 {
			if err := store.AppendVestingEvents(ctx, newEvents); err != nil {
				return err
			}
		}

		// Vested amount only ever moves forward; a stale as-of date can
		// not roll an already-recorded figure back.
		if calc.VestedAmount.GreaterThan(grant.VestedAmount) {
			if err := store.UpdateGrantVesting(ctx, grantID, grant.Version, calc.VestedAmount); err != nil {
				return err
			}
		}

		vested := calc.VestedAmount
		if grant.VestedAmount.GreaterThan(vested) {
			vested = grant.VestedAmount
		}
		result = GrantResult{
			GrantID:       grantID,
			VestedAmount:  vested,
			Percentage:    calc.Percentage.StringFixed(equity.MoneyPlaces),
			ElapsedMonths: calc.ElapsedMonths,
			NewTranches:   len(newEvents),
			FullyVested:   calc.FullyVested,
			IsTerminated:  calc.IsTerminated,
		}
		return nil
	}

	var err error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		err = r.store.WithTx(ctx, fn)
		if err == nil || !equity.IsRetryable(err) {
			break
		}
		r.log.Warn().
			Str("grant", string(grantID)).
			Int("attempt", attempt+1).
			Msg("vesting accrual conflict, retrying")
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RunGrants accrues an explicit list of grants (batchCalculateVesting).
func (r *Runner) RunGrants(ctx context.Context, tenantID equity.TenantID, grantIDs []equity.GrantID, asOf equity.Date) ([]GrantResult, error) {
	results := make([]GrantResult, 0, len(grantIDs))
	for _, id := range grantIDs {
		res, err := r.RunGrant(ctx, tenantID, id, asOf)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// RunTenant accrues every active grant for a tenant and records the batch
// as a VestingRun. A single grant's failure fails the run but leaves the
// already-processed grants committed.
func (r *Runner) RunTenant(ctx context.Context, tenantID equity.TenantID, asOf equity.Date) (*Summary, error) {
	run := equity.VestingRun{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		AsOfDate:  asOf,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	if err := r.store.SaveVestingRun(ctx, run); err != nil {
		return nil, err
	}

	summary := Summary{RunID: run.ID, TenantID: tenantID, AsOf: asOf}

	grants, err := r.store.ListActiveGrants(ctx, tenantID)
	if err != nil {
		return nil, r.failRun(ctx, run, err)
	}
	summary.GrantsTotal = len(grants)

	for _, g := range grants {
		res, err := r.RunGrant(ctx, tenantID, g.ID, asOf)
		if err != nil {
			return &summary, r.failRun(ctx, run, err)
		}
		summary.Results = append(summary.Results, *res)
		summary.TranchesSaved += res.NewTranches
		if res.NewTranches > 0 {
			summary.GrantsVested++
		}
	}

	now := time.Now().UTC()
	run.Status = "completed"
	run.GrantsTotal = summary.GrantsTotal
	run.GrantsVested = summary.GrantsVested
	run.TranchesSaved = summary.TranchesSaved
	run.CompletedAt = &now
	if err := r.store.SaveVestingRun(ctx, run); err != nil {
		return &summary, err
	}

	r.log.Info().
		Str("tenant", string(tenantID)).
		Str("as_of", asOf.String()).
		Int("grants", summary.GrantsTotal).
		Int("tranches", summary.TranchesSaved).
		Msg("vesting batch completed")
	return &summary, nil
}

func (r *Runner) failRun(ctx context.Context, run equity.VestingRun, cause error) error {
	now := time.Now().UTC()
	run.Status = "failed"
	run.Error = cause.Error()
	run.CompletedAt = &now
	if err := r.store.SaveVestingRun(ctx, run); err != nil {
		r.log.Error().Err(err).Str("run", run.ID).Msg("failed to record failed vesting run")
	}
	return cause
}

/*
Package vesting implements the deterministic vesting schedule.

PURPOSE:
  Computes how many shares of a grant have vested as of any calendar date.
  The schedule is fixed: a 12-month cliff, then linear monthly accrual to
  100% at 48 months.

THE CALCULATION IS PURE:
  Calculate is a function over (grant snapshot, as-of date). It reads no
  clock and no storage, which makes it trivially testable and safe to run
  on any number of concurrent workers. Persistence of tranches is the
  batch runner's job (runner.go).

SCHEDULE RULES:
  Cliff:     nothing vests before 12 elapsed months; at month 12 the
             vested fraction jumps to 12/48 as ONE lump tranche
  Accrual:   each further elapsed whole month adds 1/48 of share_amount
  Month-end: if the grant day-of-month exceeds the target month's length,
             the month's anchor falls on the target month's last day -
             a Jan-31 grant vests on Feb-28/29 instead of skipping a month
  Cap:       elapsed months clamp at 48; at/after 48 the vested amount is
             share_amount EXACTLY, independent of rounding drift
  Rounding:  half away from zero to 3 decimal places, applied once to the
             cumulative figure (never per increment, which would compound
             rounding error)
  Freeze:    a terminated grant's schedule stops at the termination date;
             any later as-of date yields the termination-date result

SEE ALSO:
  - runner.go: Persists tranches idempotently and stamps PPS snapshots
  - equity/grant.go: Grant state machine
*/
package vesting

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/equity-engine/equity"
)

// Schedule constants. The cliff lump is CliffMonths/TotalMonths of the
// grant; full vesting is reached at TotalMonths.
const (
	CliffMonths = 12
	TotalMonths = 48
)

var (
	totalMonthsDec = decimal.NewFromInt(TotalMonths)
	hundredDec     = decimal.NewFromInt(100)
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// Tranche is one discrete vesting increment: the cliff lump sum
// (MonthIndex == CliffMonths) or a single later month's accrual.
type Tranche struct {
	MonthIndex  int // elapsed months this tranche completes
	VestingDate equity.Date
	Shares      equity.Money // incremental amount, not cumulative
}

// Result is the outcome of a vesting calculation.
type Result struct {
	VestedAmount  equity.Money    // cumulative vested as of the date
	Percentage    decimal.Decimal // round(elapsed/48*100, 3)
	ElapsedMonths int             // clamped to [0, 48]
	Tranches      []Tranche       // all tranches due by the date
	IsTerminated  bool
	FullyVested   bool
}

// =============================================================================
// CALCULATION
// =============================================================================

// Calculate computes the cumulative vested amount and the tranche schedule
// for a grant as of a date. Idempotent: identical inputs yield identical
// results. For a terminated grant the effective as-of date is capped at
// the termination date.
func Calculate(grant equity.Grant, asOf equity.Date) (Result, error) {
	if err := grant.Validate(); err != nil {
		return Result{}, err
	}
	if asOf.IsZero() {
		return Result{}, &equity.ValidationError{Field: "as_of", Message: "as-of date is required"}
	}

	effective := asOf
	if grant.Terminated() {
		effective = asOf.Min(*grant.TerminationDate)
	}

	months := ElapsedMonths(grant.GrantDate, effective)
	if months > TotalMonths {
		months = TotalMonths
	}

	res := Result{
		VestedAmount:  cumulativeVested(grant.ShareAmount, months),
		Percentage:    percentage(months),
		ElapsedMonths: months,
		IsTerminated:  grant.Terminated(),
		FullyVested:   months >= TotalMonths,
	}

	if months >= CliffMonths {
		// The cliff is one lump tranche, not 12 accumulated twelfths.
		res.Tranches = append(res.Tranches, Tranche{
			MonthIndex:  CliffMonths,
			VestingDate: AnchorDate(grant.GrantDate, CliffMonths),
			Shares:      cumulativeVested(grant.ShareAmount, CliffMonths),
		})
		for m := CliffMonths + 1; m <= months; m++ {
			res.Tranches = append(res.Tranches, Tranche{
				MonthIndex:  m,
				VestingDate: AnchorDate(grant.GrantDate, m),
				Shares:      cumulativeVested(grant.ShareAmount, m).Sub(cumulativeVested(grant.ShareAmount, m-1)),
			})
		}
	}

	return res, nil
}

// cumulativeVested applies cliff, proration, rounding, and the 100% cap.
// Rounding happens once, on the cumulative figure.
func cumulativeVested(share equity.Money, months int) equity.Money {
	switch {
	case months < CliffMonths:
		return equity.MoneyZero()
	case months >= TotalMonths:
		// Exactly the share amount - no residual rounding error at 48.
		return share
	default:
		v := share.Value.
			Mul(decimal.NewFromInt(int64(months))).
			Div(totalMonthsDec).
			Round(equity.MoneyPlaces)
		return equity.Money{Value: v}
	}
}

func percentage(months int) decimal.Decimal {
	return decimal.NewFromInt(int64(months)).
		Div(totalMonthsDec).
		Mul(hundredDec).
		Round(equity.MoneyPlaces)
}

// =============================================================================
// DATE ARITHMETIC - Month-end aware elapsed months
// =============================================================================

// AnchorDate returns the vesting anchor n whole months after the grant
// date. When the grant's day-of-month exceeds the target month's length
// the anchor falls on the target month's last day (Jan-31 + 1 month is
// Feb-28/29, not Mar-2/3).
func AnchorDate(grantDate equity.Date, monthsAfter int) equity.Date {
	months := int(grantDate.Month()) - 1 + monthsAfter
	year := grantDate.Year() + months/12
	month := time.Month(months%12 + 1)

	day := grantDate.Day()
	if dim := equity.DaysInMonth(year, month); day > dim {
		day = dim
	}
	return equity.NewDate(year, month, day)
}

// ElapsedMonths counts whole months between the grant date and asOf.
// A month counts as elapsed only once asOf reaches or passes that month's
// anchor date. Never negative.
func ElapsedMonths(grantDate, asOf equity.Date) int {
	months := (asOf.Year()-grantDate.Year())*12 + int(asOf.Month()) - int(grantDate.Month())
	if months < 0 {
		return 0
	}
	if asOf.Before(AnchorDate(grantDate, months)) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

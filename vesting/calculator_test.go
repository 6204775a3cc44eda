package vesting_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/equity-engine/equity"
	"github.com/warp/equity-engine/vesting"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newGrant(grantDate, shareAmount string) equity.Grant {
	return equity.Grant{
		ID:           "grant-1",
		TenantID:     "tenant-1",
		EmployeeID:   "emp-1",
		GrantDate:    equity.MustDate(grantDate),
		ShareAmount:  equity.MustMoney(shareAmount),
		VestedAmount: equity.MoneyZero(),
		Status:       equity.GrantActive,
	}
}

func vestedAt(t *testing.T, grant equity.Grant, asOf string) equity.Money {
	t.Helper()
	res, err := vesting.Calculate(grant, equity.MustDate(asOf))
	require.NoError(t, err)
	return res.VestedAmount
}

// =============================================================================
// CLIFF TESTS
// =============================================================================

func TestCalculate_BeforeCliff_NothingVests(t *testing.T) {
	// GIVEN: 48.000 shares granted 2024-01-15
	// WHEN: Checking one day before the 12-month anniversary
	// THEN: Nothing has vested

	grant := newGrant("2024-01-15", "48.000")

	assert.Equal(t, "0.000", vestedAt(t, grant, "2024-01-15").String())
	assert.Equal(t, "0.000", vestedAt(t, grant, "2024-12-14").String())
	assert.Equal(t, "0.000", vestedAt(t, grant, "2025-01-14").String())
}

func TestCalculate_AtCliff_LumpOfTwelveMonths(t *testing.T) {
	// GIVEN: 48.000 shares granted 2024-01-15
	// WHEN: Checking on the 12-month anniversary
	// THEN: Exactly 12/48 vests as one lump

	grant := newGrant("2024-01-15", "48.000")

	res, err := vesting.Calculate(grant, equity.MustDate("2025-01-15"))
	require.NoError(t, err)

	assert.Equal(t, "12.000", res.VestedAmount.String())
	assert.Equal(t, 12, res.ElapsedMonths)
	assert.Equal(t, "25.000", res.Percentage.StringFixed(equity.MoneyPlaces))

	// The cliff is ONE tranche, not twelve.
	require.Len(t, res.Tranches, 1)
	assert.Equal(t, 12, res.Tranches[0].MonthIndex)
	assert.Equal(t, "2025-01-15", res.Tranches[0].VestingDate.String())
	assert.Equal(t, "12.000", res.Tranches[0].Shares.String())
}

func TestCalculate_AfterCliff_MonthlyAccrual(t *testing.T) {
	// GIVEN: 48.000 shares granted 2024-01-15
	// WHEN: Checking at 18 elapsed months
	// THEN: 18/48 has vested, as the cliff lump plus six monthly tranches

	grant := newGrant("2024-01-15", "48.000")

	res, err := vesting.Calculate(grant, equity.MustDate("2025-07-15"))
	require.NoError(t, err)

	assert.Equal(t, "18.000", res.VestedAmount.String())
	assert.Equal(t, 18, res.ElapsedMonths)
	require.Len(t, res.Tranches, 7) // cliff + months 13..18
	for _, tr := range res.Tranches[1:] {
		assert.Equal(t, "1.000", tr.Shares.String())
	}
}

// =============================================================================
// ROUNDING TESTS
// =============================================================================

func TestCalculate_Rounding_AppliedOnceToCumulative(t *testing.T) {
	// GIVEN: 1000.000 shares granted 2024-01-01
	// WHEN: Checking at 12 and 13 elapsed months
	// THEN: 250.000 then 270.833 (1000 * 13/48 = 270.8333... rounds to 270.833)

	grant := newGrant("2024-01-01", "1000.000")

	assert.Equal(t, "250.000", vestedAt(t, grant, "2025-01-01").String())
	assert.Equal(t, "270.833", vestedAt(t, grant, "2025-02-01").String())
}

func TestCalculate_TranchesSumToCumulative(t *testing.T) {
	// GIVEN: An amount whose monthly increments all round
	// WHEN: Summing the tranche increments at any point
	// THEN: The sum equals the cumulative vested amount exactly (each
	//       increment is cum(m) - cum(m-1), so rounding never compounds)

	grant := newGrant("2024-01-01", "1000.000")

	for _, asOf := range []string{"2025-01-01", "2025-02-01", "2025-09-01", "2026-06-01", "2028-01-01"} {
		res, err := vesting.Calculate(grant, equity.MustDate(asOf))
		require.NoError(t, err)

		sum := equity.MoneyZero()
		for _, tr := range res.Tranches {
			sum = sum.Add(tr.Shares)
		}
		assert.True(t, sum.Equal(res.VestedAmount),
			"as of %s: tranches sum %s != vested %s", asOf, sum, res.VestedAmount)
	}
}

func TestCalculate_FullVesting_ExactShareAmount(t *testing.T) {
	// GIVEN: An amount that does not divide evenly by 48
	// WHEN: 48 or more months have elapsed
	// THEN: Vested equals share_amount EXACTLY, no rounding residue

	grant := newGrant("2024-01-01", "1000.001")

	res, err := vesting.Calculate(grant, equity.MustDate("2028-01-01"))
	require.NoError(t, err)
	assert.True(t, res.VestedAmount.Equal(grant.ShareAmount))
	assert.True(t, res.FullyVested)
	assert.Equal(t, 48, res.ElapsedMonths)

	// Years later, still capped at exactly the share amount.
	later, err := vesting.Calculate(grant, equity.MustDate("2030-06-15"))
	require.NoError(t, err)
	assert.True(t, later.VestedAmount.Equal(grant.ShareAmount))
	assert.Equal(t, 48, later.ElapsedMonths)
}

// =============================================================================
// MONTH-END ANCHOR TESTS
// =============================================================================

func TestAnchorDate_MonthEndClamping(t *testing.T) {
	// GIVEN: A grant on January 31
	// WHEN: Advancing by months whose length is shorter than 31 days
	// THEN: The anchor clamps to the target month's last day

	jan31 := equity.MustDate("2024-01-31")

	assert.Equal(t, "2024-02-29", vesting.AnchorDate(jan31, 1).String()) // leap year
	assert.Equal(t, "2024-04-30", vesting.AnchorDate(jan31, 3).String())
	assert.Equal(t, "2024-05-31", vesting.AnchorDate(jan31, 4).String())
	assert.Equal(t, "2025-02-28", vesting.AnchorDate(jan31, 13).String()) // non-leap
}

func TestElapsedMonths_MonthEndGrant(t *testing.T) {
	// GIVEN: 480.000 shares granted 2024-01-31
	// WHEN: Checking on 2025-02-28 (month 13's clamped anchor)
	// THEN: 13 months have elapsed - February is not skipped

	jan31 := equity.MustDate("2024-01-31")

	assert.Equal(t, 0, vesting.ElapsedMonths(jan31, equity.MustDate("2024-02-28")))
	assert.Equal(t, 1, vesting.ElapsedMonths(jan31, equity.MustDate("2024-02-29")))
	assert.Equal(t, 12, vesting.ElapsedMonths(jan31, equity.MustDate("2025-01-31")))
	assert.Equal(t, 13, vesting.ElapsedMonths(jan31, equity.MustDate("2025-02-28")))

	grant := newGrant("2024-01-31", "480.000")
	res, err := vesting.Calculate(grant, equity.MustDate("2025-02-28"))
	require.NoError(t, err)
	assert.Equal(t, 13, res.ElapsedMonths)
	assert.Equal(t, "130.000", res.VestedAmount.String())
}

func TestElapsedMonths_NeverNegative(t *testing.T) {
	grantDate := equity.MustDate("2024-06-15")
	assert.Equal(t, 0, vesting.ElapsedMonths(grantDate, equity.MustDate("2024-01-01")))
	assert.Equal(t, 0, vesting.ElapsedMonths(grantDate, equity.MustDate("2024-06-14")))
}

// =============================================================================
// MONOTONICITY
// =============================================================================

func TestCalculate_Monotonic_NeverDecreases(t *testing.T) {
	// GIVEN: Any grant
	// WHEN: Walking the as-of date forward day by day
	// THEN: The vested amount never decreases

	grant := newGrant("2024-01-31", "1000.000")

	prev := equity.MoneyZero()
	day := equity.MustDate("2024-01-31")
	end := equity.MustDate("2028-03-15")
	for day.BeforeOrEqual(end) {
		res, err := vesting.Calculate(grant, day)
		require.NoError(t, err)
		require.False(t, res.VestedAmount.LessThan(prev),
			"vested decreased at %s: %s < %s", day, res.VestedAmount, prev)
		prev = res.VestedAmount
		next := day.Time().AddDate(0, 0, 1)
		day = equity.NewDate(next.Year(), next.Month(), next.Day())
	}
	assert.True(t, prev.Equal(grant.ShareAmount))
}

func TestCalculate_Idempotent(t *testing.T) {
	// Identical inputs yield identical results.
	grant := newGrant("2024-03-10", "333.333")
	asOf := equity.MustDate("2026-08-01")

	first, err := vesting.Calculate(grant, asOf)
	require.NoError(t, err)
	second, err := vesting.Calculate(grant, asOf)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// =============================================================================
// TERMINATION FREEZE
// =============================================================================

func TestCalculate_Termination_FreezesSchedule(t *testing.T) {
	// GIVEN: A grant terminated at 20 elapsed months
	// WHEN: Checking at later as-of dates
	// THEN: The result is frozen at the termination-date value

	grant := newGrant("2024-01-01", "480.000")
	td := equity.MustDate("2025-09-01") // 20 months
	grant.Status = equity.GrantInactive
	grant.TerminationDate = &td

	atTermination, err := vesting.Calculate(grant, td)
	require.NoError(t, err)
	assert.Equal(t, "200.000", atTermination.VestedAmount.String())
	assert.Equal(t, 20, atTermination.ElapsedMonths)
	assert.True(t, atTermination.IsTerminated)

	yearsLater, err := vesting.Calculate(grant, equity.MustDate("2030-01-01"))
	require.NoError(t, err)
	assert.Equal(t, atTermination.VestedAmount.String(), yearsLater.VestedAmount.String())
	assert.Equal(t, atTermination.ElapsedMonths, yearsLater.ElapsedMonths)
	assert.Len(t, yearsLater.Tranches, len(atTermination.Tranches))
}

func TestCalculate_Termination_BeforeCliff_NothingVests(t *testing.T) {
	grant := newGrant("2024-01-15", "48.000")
	td := equity.MustDate("2024-11-30")
	grant.Status = equity.GrantInactive
	grant.TerminationDate = &td

	res, err := vesting.Calculate(grant, equity.MustDate("2027-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "0.000", res.VestedAmount.String())
	assert.Empty(t, res.Tranches)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestCalculate_RejectsInvalidInput(t *testing.T) {
	grant := newGrant("2024-01-01", "100.000")

	_, err := vesting.Calculate(grant, equity.Date{})
	assert.True(t, equity.IsValidation(err))

	bad := grant
	bad.ShareAmount = equity.MoneyZero()
	_, err = vesting.Calculate(bad, equity.MustDate("2025-01-01"))
	assert.True(t, equity.IsValidation(err))
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 29, equity.DaysInMonth(2024, time.February))
	assert.Equal(t, 28, equity.DaysInMonth(2025, time.February))
	assert.Equal(t, 31, equity.DaysInMonth(2024, time.December))
	assert.Equal(t, 30, equity.DaysInMonth(2024, time.April))
}

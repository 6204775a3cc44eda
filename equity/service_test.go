package equity_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/equity-engine/equity"
	"github.com/warp/equity-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*equity.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := equity.NewService(store, store, zerolog.Nop())
	return svc, store
}

func seedPool(t *testing.T, svc *equity.Service, tenant equity.TenantID, amount string) *equity.EquityPool {
	t.Helper()
	pool, err := svc.CreatePool(context.Background(), tenant, "admin",
		equity.MustMoney(amount), equity.MustDate("2024-01-01"), "initial funding")
	require.NoError(t, err)
	return pool
}

func seedEmployee(t *testing.T, svc *equity.Service, tenant equity.TenantID, id string) equity.EmployeeID {
	t.Helper()
	emp, err := svc.CreateEmployee(context.Background(), tenant, "admin", equity.Employee{
		ID:       equity.EmployeeID(id),
		Name:     "Test Employee " + id,
		HireDate: equity.MustDate("2023-06-01"),
	})
	require.NoError(t, err)
	return emp.ID
}

// =============================================================================
// POOL LEDGER TESTS
// =============================================================================

func TestCreatePool_WritesInitialEvent(t *testing.T) {
	// GIVEN: A fresh tenant
	// WHEN: Creating a pool of 1000.000
	// THEN: The pool total is 1000.000 and the ledger holds one initial event

	svc, store := newTestService(t)
	ctx := context.Background()

	pool := seedPool(t, svc, "acme", "1000.000")
	assert.Equal(t, "1000.000", pool.TotalPool.String())

	events, err := store.PoolEvents(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, equity.PoolEventInitial, events[0].EventType)
	assert.Equal(t, "1000.000", events[0].Amount.String())
}

func TestCreatePool_DuplicateTenantRejected(t *testing.T) {
	svc, _ := newTestService(t)

	seedPool(t, svc, "acme", "1000.000")
	_, err := svc.CreatePool(context.Background(), "acme", "admin",
		equity.MustMoney("500.000"), equity.MustDate("2024-02-01"), "")
	assert.True(t, equity.IsValidation(err))
}

func TestAdjustPool_LedgerSumInvariant(t *testing.T) {
	// GIVEN: A pool with initial funding
	// WHEN: Appending a top-up and a reduction
	// THEN: total_pool always equals the replayed signed ledger sum

	svc, store := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")

	_, err := svc.AdjustPool(ctx, "acme", "admin", equity.PoolEventTopUp,
		equity.MustMoney("500.000"), equity.MustDate("2024-03-01"), "series B")
	require.NoError(t, err)

	_, err = svc.AdjustPool(ctx, "acme", "admin", equity.PoolEventReduction,
		equity.MustMoney("200.000"), equity.MustDate("2024-04-01"), "buyback")
	require.NoError(t, err)

	pool, err := store.GetPoolByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "1300.000", pool.TotalPool.String())

	events, err := store.PoolEvents(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.NoError(t, equity.VerifyLedger(pool, events))
	assert.Equal(t, "-200.000", events[2].Amount.String())
}

func TestAdjustPool_ReductionBelowCommitted_Rejected(t *testing.T) {
	// GIVEN: Pool 1000.000 with 600.000 already granted
	// WHEN: Reducing by 500.000 (only 400.000 is available)
	// THEN: Rejected as insufficient shares; pool unchanged

	svc, store := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")
	emp := seedEmployee(t, svc, "acme", "emp-1")
	_, err := svc.CreateGrant(ctx, "acme", "admin", emp, equity.MustDate("2024-01-15"), equity.MustMoney("600.000"))
	require.NoError(t, err)

	_, err = svc.AdjustPool(ctx, "acme", "admin", equity.PoolEventReduction,
		equity.MustMoney("500.000"), equity.MustDate("2024-02-01"), "")
	assert.True(t, equity.IsInsufficientShares(err))

	pool, err := store.GetPoolByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "1000.000", pool.TotalPool.String())

	events, err := store.PoolEvents(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, events, 1, "rejected reduction must not reach the ledger")
}

func TestAdjustPool_InitialEventTypeRejected(t *testing.T) {
	svc, _ := newTestService(t)
	seedPool(t, svc, "acme", "1000.000")

	_, err := svc.AdjustPool(context.Background(), "acme", "admin", equity.PoolEventInitial,
		equity.MustMoney("100.000"), equity.MustDate("2024-02-01"), "")
	assert.True(t, equity.IsValidation(err))
}

// =============================================================================
// GRANT CAPACITY TESTS
// =============================================================================

func TestCreateGrant_ConsumesAvailability(t *testing.T) {
	// GIVEN: Pool of 1000.000
	// WHEN: Granting 600.000
	// THEN: available drops to 400.000; a further 600.000 grant is rejected
	//       and leaves the figures unchanged

	svc, _ := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")
	emp := seedEmployee(t, svc, "acme", "emp-1")

	_, err := svc.CreateGrant(ctx, "acme", "admin", emp, equity.MustDate("2024-01-15"), equity.MustMoney("600.000"))
	require.NoError(t, err)

	_, acct, err := svc.PoolAccountingFor(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "400.000", acct.Available().String())

	_, err = svc.CreateGrant(ctx, "acme", "admin", emp, equity.MustDate("2024-01-20"), equity.MustMoney("600.000"))
	assert.True(t, equity.IsInsufficientShares(err))

	_, acct, err = svc.PoolAccountingFor(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "400.000", acct.Available().String())
	assert.Equal(t, "600.000", acct.Granted.String())
}

func TestCreateGrant_ExactCapacityAllowed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")
	emp := seedEmployee(t, svc, "acme", "emp-1")

	_, err := svc.CreateGrant(ctx, "acme", "admin", emp, equity.MustDate("2024-01-15"), equity.MustMoney("1000.000"))
	require.NoError(t, err)

	_, acct, err := svc.PoolAccountingFor(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "0.000", acct.Available().String())
}

func TestCreateGrant_UnknownEmployeeRejected(t *testing.T) {
	svc, _ := newTestService(t)
	seedPool(t, svc, "acme", "1000.000")

	_, err := svc.CreateGrant(context.Background(), "acme", "admin", "ghost",
		equity.MustDate("2024-01-15"), equity.MustMoney("100.000"))
	assert.True(t, equity.IsNotFound(err))
}

func TestCreateGrant_NoPoolRejected(t *testing.T) {
	svc, _ := newTestService(t)
	emp := seedEmployee(t, svc, "acme", "emp-1")

	_, err := svc.CreateGrant(context.Background(), "acme", "admin", emp,
		equity.MustDate("2024-01-15"), equity.MustMoney("100.000"))
	assert.True(t, equity.IsNotFound(err))
}

func TestCreateGrant_Concurrent_OnlyOneWins(t *testing.T) {
	// GIVEN: Pool of 1000.000 and two concurrent 600.000 grant requests
	// WHEN: Both race through their transactions
	// THEN: Exactly one succeeds; the loser sees insufficient shares, and
	//       the final state shows a single 600.000 commitment

	svc, store := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")
	emp := seedEmployee(t, svc, "acme", "emp-1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateGrant(ctx, "acme", "admin", emp,
				equity.MustDate("2024-01-15"), equity.MustMoney("600.000"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, equity.IsInsufficientShares(err), "loser should see capacity rejection, got %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	grants, err := store.ListGrants(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	_, acct, err := svc.PoolAccountingFor(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "400.000", acct.Available().String())
}

// =============================================================================
// TERMINATION TESTS
// =============================================================================

func TestTerminateGrant_ReturnsUnvestedToPool(t *testing.T) {
	// GIVEN: A 600.000 grant with 150.000 vested on file
	// WHEN: Terminating
	// THEN: 450.000 returns to the pool's availability and the grant
	//       becomes inactive with the frozen figures recorded

	svc, store := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")
	emp := seedEmployee(t, svc, "acme", "emp-1")
	grant, err := svc.CreateGrant(ctx, "acme", "admin", emp, equity.MustDate("2024-01-15"), equity.MustMoney("600.000"))
	require.NoError(t, err)

	// Simulate prior accrual.
	require.NoError(t, store.UpdateGrantVesting(ctx, grant.ID, 0, equity.MustMoney("150.000")))

	terminated, err := svc.TerminateGrant(ctx, "acme", "hr", grant.ID, equity.MustDate("2025-06-01"), "departure")
	require.NoError(t, err)

	assert.Equal(t, equity.GrantInactive, terminated.Status)
	assert.Equal(t, "450.000", terminated.UnvestedSharesReturned.String())
	assert.Equal(t, "2025-06-01", terminated.TerminationDate.String())
	assert.Equal(t, "hr", terminated.TerminatedBy)

	_, acct, err := svc.PoolAccountingFor(ctx, "acme")
	require.NoError(t, err)
	// available = 1000 - 600 + 450
	assert.Equal(t, "850.000", acct.Available().String())
}

func TestTerminateGrant_AlreadyTerminatedRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")
	emp := seedEmployee(t, svc, "acme", "emp-1")
	grant, err := svc.CreateGrant(ctx, "acme", "admin", emp, equity.MustDate("2024-01-15"), equity.MustMoney("100.000"))
	require.NoError(t, err)

	_, err = svc.TerminateGrant(ctx, "acme", "hr", grant.ID, equity.MustDate("2024-06-01"), "")
	require.NoError(t, err)

	_, err = svc.TerminateGrant(ctx, "acme", "hr", grant.ID, equity.MustDate("2024-07-01"), "")
	assert.True(t, equity.IsValidation(err))
}

func TestTerminateGrant_BeforeGrantDateRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")
	emp := seedEmployee(t, svc, "acme", "emp-1")
	grant, err := svc.CreateGrant(ctx, "acme", "admin", emp, equity.MustDate("2024-06-15"), equity.MustMoney("100.000"))
	require.NoError(t, err)

	_, err = svc.TerminateGrant(ctx, "acme", "hr", grant.ID, equity.MustDate("2024-01-01"), "")
	assert.True(t, equity.IsValidation(err))
}

// =============================================================================
// OPTIMISTIC LOCKING TESTS
// =============================================================================

func TestUpdateGrantVesting_VersionMismatch(t *testing.T) {
	// GIVEN: A grant at version 0
	// WHEN: Updating with a stale expected version
	// THEN: ErrVersionMismatch, classified as a concurrency conflict

	svc, store := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")
	emp := seedEmployee(t, svc, "acme", "emp-1")
	grant, err := svc.CreateGrant(ctx, "acme", "admin", emp, equity.MustDate("2024-01-15"), equity.MustMoney("100.000"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateGrantVesting(ctx, grant.ID, 0, equity.MustMoney("25.000")))

	err = store.UpdateGrantVesting(ctx, grant.ID, 0, equity.MustMoney("50.000"))
	assert.True(t, equity.IsConflict(err))

	reloaded, err := store.GetGrant(ctx, "acme", grant.ID)
	require.NoError(t, err)
	assert.Equal(t, "25.000", reloaded.VestedAmount.String())
	assert.Equal(t, int64(1), reloaded.Version)
}

// =============================================================================
// TENANT ISOLATION
// =============================================================================

func TestTenantIsolation(t *testing.T) {
	// Two tenants' pools and grants never bleed into each other's figures.
	svc, store := newTestService(t)
	ctx := context.Background()

	seedPool(t, svc, "acme", "1000.000")
	seedPool(t, svc, "globex", "500.000")
	acmeEmp := seedEmployee(t, svc, "acme", "emp-1")

	_, err := svc.CreateGrant(ctx, "acme", "admin", acmeEmp, equity.MustDate("2024-01-15"), equity.MustMoney("400.000"))
	require.NoError(t, err)

	_, acct, err := svc.PoolAccountingFor(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, "500.000", acct.Available().String())

	grants, err := store.ListGrants(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, grants)

	tenants, err := store.ListTenants(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []equity.TenantID{"acme", "globex"}, tenants)
}

// =============================================================================
// PPS SERVICE TESTS
// =============================================================================

func TestCreatePPS_RejectsNonPositivePrice(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreatePPS(context.Background(), "acme", "admin",
		equity.MustDate("2024-01-01"), equity.MustMoney("0.000"))
	assert.True(t, equity.IsValidation(err))

	_, err = svc.CreatePPS(context.Background(), "acme", "admin",
		equity.MustDate("2024-01-01"), equity.MustMoney("-5.000"))
	assert.True(t, equity.IsValidation(err))
}

func TestCreatePPS_ResolutionOrder(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePPS(ctx, "acme", "admin", equity.MustDate("2024-01-01"), equity.MustMoney("10.000"))
	require.NoError(t, err)
	_, err = svc.CreatePPS(ctx, "acme", "admin", equity.MustDate("2024-06-01"), equity.MustMoney("12.500"))
	require.NoError(t, err)

	entry, err := store.ResolvePPSAt(ctx, "acme", equity.MustDate("2024-03-15"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "10.000", entry.PricePerShare.String())

	entry, err = store.ResolvePPSAt(ctx, "acme", equity.MustDate("2024-06-01"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "12.500", entry.PricePerShare.String())

	entry, err = store.ResolvePPSAt(ctx, "acme", equity.MustDate("2023-01-01"))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

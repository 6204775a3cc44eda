/*
scheduler.go - Automated vesting scheduler

PURPOSE:
  Periodically runs the batch vesting accrual for every tenant so due
  tranches are persisted without anyone calling POST /api/vesting/run.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Walks every tenant with a pool and runs the tenant batch
  - The batch itself is idempotent, so an early or repeated tick is
    harmless: already-recorded tranches are skipped

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewVestingScheduler(store, runner, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - vesting/runner.go: The batch being scheduled
  - handlers.go: RunVesting endpoint (manual trigger)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/equity-engine/equity"
	"github.com/warp/equity-engine/vesting"
)

// VestingScheduler drives periodic batch accrual across all tenants.
type VestingScheduler struct {
	Store         equity.TxStore
	Runner        *vesting.Runner
	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewVestingScheduler creates a new scheduler.
func NewVestingScheduler(store equity.TxStore, runner *vesting.Runner, log zerolog.Logger) *VestingScheduler {
	return &VestingScheduler{
		Store:         store,
		Runner:        runner,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (vs *VestingScheduler) Start() {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if !vs.Enabled {
		vs.log.Info().Msg("vesting scheduler disabled, not starting")
		return
	}

	vs.ticker = time.NewTicker(vs.CheckInterval)
	vs.wg.Add(1)

	go vs.run()

	vs.log.Info().Dur("interval", vs.CheckInterval).Msg("vesting scheduler started")
}

// Stop stops the scheduler.
func (vs *VestingScheduler) Stop() {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.ticker != nil {
		vs.ticker.Stop()
		close(vs.stop)
		vs.wg.Wait()
		vs.log.Info().Msg("vesting scheduler stopped")
	}
}

func (vs *VestingScheduler) run() {
	defer vs.wg.Done()

	// Run immediately on start
	vs.checkAndProcess()

	for {
		select {
		case <-vs.ticker.C:
			vs.checkAndProcess()
		case <-vs.stop:
			return
		}
	}
}

func (vs *VestingScheduler) checkAndProcess() {
	ctx := context.Background()
	today := equity.Today()

	tenants, err := vs.Store.ListTenants(ctx)
	if err != nil {
		vs.log.Error().Err(err).Msg("vesting scheduler: listing tenants failed")
		return
	}

	for _, tenant := range tenants {
		summary, err := vs.Runner.RunTenant(ctx, tenant, today)
		if err != nil {
			vs.log.Error().Err(err).Str("tenant", string(tenant)).Msg("vesting scheduler: tenant batch failed")
			continue
		}
		if summary.TranchesSaved > 0 {
			vs.log.Info().
				Str("tenant", string(tenant)).
				Int("grants", summary.GrantsTotal).
				Int("tranches", summary.TranchesSaved).
				Msg("vesting scheduler: batch committed")
		}
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (vs *VestingScheduler) RunNow() {
	vs.checkAndProcess()
}

/*
Package sqlite provides the SQLite-backed implementation of the equity
storage interfaces.

PURPOSE:
  Implements equity.TxStore and equity.AuditLog using SQLite. The same
  patterns apply to PostgreSQL - only SQL dialect and the serialization
  error class differ.

APPEND-ONLY ENFORCEMENT:
  pool_events, vesting_events, pps_history, and audit_log have no UPDATE
  or DELETE paths. The only mutations anywhere:
  - pools.total_pool moves with its ledger inside one transaction
  - grants vesting/termination fields move under the version counter
  - vesting_events.pps_snapshot is stamped NULL -> value, never rewritten

KEY TABLES:
  pools:          One equity pool per tenant
  pool_events:    Immutable signed pool ledger
  grants:         Grant records with optimistic version
  vesting_events: Immutable vesting tranches (unique per grant+date)
  pps_history:    Immutable price-per-share entries
  vesting_runs:   Batch runner bookkeeping
  audit_log:      Best-effort mutation audit trail

CONCURRENCY:
  The database is opened with WAL and _txlock=immediate: every WithTx
  acquires the write lock up front, so writers serialize on the database
  itself - SQLite's strictest setting, standing in for SERIALIZABLE. A
  BUSY/LOCKED result maps to equity.ErrConcurrencyConflict and the service
  layer re-runs the whole unit of work.

USAGE:
  store, err := sqlite.New("./data/equity.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - equity/store.go: Interface definitions
  - equity/service.go: Retry loop around WithTx
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/equity-engine/equity"
)

// dbtx is the subset of *sql.DB / *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// session runs queries against either the pool connection or an open
// transaction. All equity.Store methods live here.
type session struct {
	q dbtx
}

// Store implements equity.TxStore and equity.AuditLog over SQLite.
type Store struct {
	session
	db *sql.DB
}

// New opens (or creates) the database. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: concurrent units of work serialize on the pool
	// instead of racing for the file lock ( :memory: databases also need
	// this so every caller sees the same data).
	db.SetMaxOpenConns(1)

	store := &Store{session: session{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Pools (one per tenant)
	CREATE TABLE IF NOT EXISTS pools (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL UNIQUE,
		initial_amount TEXT NOT NULL,
		total_pool TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	-- Pool events (append-only signed ledger)
	CREATE TABLE IF NOT EXISTS pool_events (
		id TEXT PRIMARY KEY,
		pool_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		event_type TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		notes TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pool_events_tenant_date
		ON pool_events(tenant_id, effective_date, created_at);

	-- Employees
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		hire_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_tenant ON employees(tenant_id);

	-- Grants
	CREATE TABLE IF NOT EXISTS grants (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		grant_date TEXT NOT NULL,
		share_amount TEXT NOT NULL,
		vested_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		termination_date TEXT,
		termination_reason TEXT,
		terminated_by TEXT,
		unvested_shares_returned TEXT NOT NULL DEFAULT '0.000',
		version INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grants_tenant ON grants(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_grants_tenant_status ON grants(tenant_id, status);

	-- Vesting events (append-only tranches)
	-- CRITICAL: one tranche per grant per vesting date. Database-level
	-- idempotency backstop for the batch runner.
	CREATE TABLE IF NOT EXISTS vesting_events (
		id TEXT PRIMARY KEY,
		grant_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		vesting_date TEXT NOT NULL,
		shares_vested TEXT NOT NULL,
		pps_snapshot TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_grant_vesting_date
		ON vesting_events(grant_id, vesting_date);
	CREATE INDEX IF NOT EXISTS idx_vesting_events_tenant
		ON vesting_events(tenant_id);

	-- PPS history (append-only)
	CREATE TABLE IF NOT EXISTS pps_history (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		price_per_share TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pps_tenant_date
		ON pps_history(tenant_id, effective_date, created_at);

	-- Vesting runs (batch bookkeeping)
	CREATE TABLE IF NOT EXISTS vesting_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		as_of_date TEXT NOT NULL,
		status TEXT NOT NULL,
		grants_total INTEGER NOT NULL DEFAULT 0,
		grants_vested INTEGER NOT NULL DEFAULT 0,
		tranches_saved INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_vesting_runs_tenant
		ON vesting_runs(tenant_id, started_at);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		details_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_log(tenant_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (equity.TxStore)
// =============================================================================

// WithTx executes fn within an immediate write transaction. BUSY/LOCKED
// results surface as equity.ErrConcurrencyConflict so the caller can
// re-run the entire unit of work.
func (s *Store) WithTx(ctx context.Context, fn func(equity.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyErr(err)
	}
	defer tx.Rollback()

	if err := fn(&session{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyErr(err)
	}
	return nil
}

// classifyErr maps driver errors onto the domain taxonomy.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", equity.ErrConcurrencyConflict, err)
		case sqlite3.ErrConstraint:
			// A racing writer already inserted the same ledger row; a
			// retry reloads the state and skips it.
			return fmt.Errorf("%w: %v", equity.ErrConcurrencyConflict, err)
		}
	}
	if strings.Contains(err.Error(), "database is locked") {
		return fmt.Errorf("%w: %v", equity.ErrConcurrencyConflict, err)
	}
	return err
}

// =============================================================================
// POOLS
// =============================================================================

func (s *session) CreatePool(ctx context.Context, pool equity.EquityPool) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO pools (id, tenant_id, initial_amount, total_pool, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		pool.ID, pool.TenantID, pool.InitialAmount.String(), pool.TotalPool.String(),
		pool.CreatedBy, pool.CreatedAt.UTC().Format(time.RFC3339),
	)
	return classifyErr(err)
}

func (s *session) GetPoolByTenant(ctx context.Context, tenantID equity.TenantID) (*equity.EquityPool, error) {
	var (
		p              equity.EquityPool
		initial, total string
		createdAt      string
		deletedAt      sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, initial_amount, total_pool, created_by, created_at, deleted_at
		FROM pools WHERE tenant_id = ? AND deleted_at IS NULL`,
		tenantID,
	).Scan(&p.ID, &p.TenantID, &initial, &total, &p.CreatedBy, &createdAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyErr(err)
	}

	if p.InitialAmount, err = equity.ParseMoney(initial); err != nil {
		return nil, err
	}
	if p.TotalPool, err = equity.ParseMoney(total); err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func (s *session) UpdatePoolTotal(ctx context.Context, poolID equity.PoolID, total equity.Money) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE pools SET total_pool = ? WHERE id = ? AND deleted_at IS NULL`,
		total.String(), poolID,
	)
	if err != nil {
		return classifyErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &equity.NotFoundError{Entity: "pool", ID: string(poolID)}
	}
	return nil
}

func (s *session) AppendPoolEvent(ctx context.Context, ev equity.PoolEvent) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO pool_events
		(id, pool_id, tenant_id, amount, event_type, effective_date, notes, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.PoolID, ev.TenantID, ev.Amount.String(), ev.EventType,
		ev.EffectiveDate.String(), ev.Notes, ev.CreatedBy,
		ev.CreatedAt.UTC().Format(time.RFC3339),
	)
	return classifyErr(err)
}

func (s *session) PoolEvents(ctx context.Context, tenantID equity.TenantID) ([]equity.PoolEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, pool_id, tenant_id, amount, event_type, effective_date, notes, created_by, created_at
		FROM pool_events
		WHERE tenant_id = ?
		ORDER BY effective_date ASC, created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var events []equity.PoolEvent
	for rows.Next() {
		var (
			ev                    equity.PoolEvent
			amount, effectiveDate string
			notes                 sql.NullString
			createdAt             string
		)
		if err := rows.Scan(&ev.ID, &ev.PoolID, &ev.TenantID, &amount, &ev.EventType,
			&effectiveDate, &notes, &ev.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		if ev.Amount, err = equity.ParseMoney(amount); err != nil {
			return nil, err
		}
		if ev.EffectiveDate, err = equity.ParseDate(effectiveDate); err != nil {
			return nil, err
		}
		ev.Notes = notes.String
		ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *session) ListTenants(ctx context.Context) ([]equity.TenantID, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT tenant_id FROM pools WHERE deleted_at IS NULL ORDER BY tenant_id`)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var tenants []equity.TenantID
	for rows.Next() {
		var t equity.TenantID
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *session) SaveEmployee(ctx context.Context, emp equity.Employee) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO employees (id, tenant_id, name, email, active, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			active = excluded.active,
			hire_date = excluded.hire_date`,
		emp.ID, emp.TenantID, emp.Name, emp.Email, emp.Active,
		emp.HireDate.String(), emp.CreatedAt.UTC().Format(time.RFC3339),
	)
	return classifyErr(err)
}

func (s *session) GetEmployee(ctx context.Context, tenantID equity.TenantID, id equity.EmployeeID) (*equity.Employee, error) {
	var (
		emp                 equity.Employee
		hireDate, createdAt string
		email               sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, email, active, hire_date, created_at
		FROM employees WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	).Scan(&emp.ID, &emp.TenantID, &emp.Name, &email, &emp.Active, &hireDate, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyErr(err)
	}
	emp.Email = email.String
	emp.HireDate, _ = equity.ParseDate(hireDate)
	emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &emp, nil
}

func (s *session) ListEmployees(ctx context.Context, tenantID equity.TenantID) ([]equity.Employee, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, name, email, active, hire_date, created_at
		FROM employees WHERE tenant_id = ? ORDER BY name`,
		tenantID,
	)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var employees []equity.Employee
	for rows.Next() {
		var (
			emp                 equity.Employee
			hireDate, createdAt string
			email               sql.NullString
		)
		if err := rows.Scan(&emp.ID, &emp.TenantID, &emp.Name, &email, &emp.Active, &hireDate, &createdAt); err != nil {
			return nil, err
		}
		emp.Email = email.String
		emp.HireDate, _ = equity.ParseDate(hireDate)
		emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// GRANTS
// =============================================================================

const grantColumns = `id, tenant_id, employee_id, grant_date, share_amount, vested_amount,
	status, termination_date, termination_reason, terminated_by,
	unvested_shares_returned, version, created_by, created_at`

func (s *session) InsertGrant(ctx context.Context, g equity.Grant) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO grants (`+grantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.TenantID, g.EmployeeID, g.GrantDate.String(),
		g.ShareAmount.String(), g.VestedAmount.String(), g.Status,
		nil, nil, nil,
		g.UnvestedSharesReturned.String(), g.Version, g.CreatedBy,
		g.CreatedAt.UTC().Format(time.RFC3339),
	)
	return classifyErr(err)
}

func (s *session) GetGrant(ctx context.Context, tenantID equity.TenantID, id equity.GrantID) (*equity.Grant, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyErr(err)
	}
	return g, nil
}

func (s *session) ListGrants(ctx context.Context, tenantID equity.TenantID) ([]equity.Grant, error) {
	return s.queryGrants(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE tenant_id = ? ORDER BY created_at ASC, id ASC`,
		tenantID)
}

func (s *session) ListActiveGrants(ctx context.Context, tenantID equity.TenantID) ([]equity.Grant, error) {
	return s.queryGrants(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE tenant_id = ? AND status = ? ORDER BY created_at ASC, id ASC`,
		tenantID, equity.GrantActive)
}

func (s *session) queryGrants(ctx context.Context, query string, args ...any) ([]equity.Grant, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var grants []equity.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*equity.Grant, error) {
	var (
		g                            equity.Grant
		grantDate, share, vested     string
		termDate, termReason, termBy sql.NullString
		returned, createdAt          string
	)
	err := row.Scan(&g.ID, &g.TenantID, &g.EmployeeID, &grantDate, &share, &vested,
		&g.Status, &termDate, &termReason, &termBy, &returned, &g.Version,
		&g.CreatedBy, &createdAt)
	if err != nil {
		return nil, err
	}

	if g.GrantDate, err = equity.ParseDate(grantDate); err != nil {
		return nil, err
	}
	if g.ShareAmount, err = equity.ParseMoney(share); err != nil {
		return nil, err
	}
	if g.VestedAmount, err = equity.ParseMoney(vested); err != nil {
		return nil, err
	}
	if g.UnvestedSharesReturned, err = equity.ParseMoney(returned); err != nil {
		return nil, err
	}
	if termDate.Valid {
		d, err := equity.ParseDate(termDate.String)
		if err != nil {
			return nil, err
		}
		g.TerminationDate = &d
	}
	g.TerminationReason = termReason.String
	g.TerminatedBy = termBy.String
	g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &g, nil
}

// GrantAggregates sums granted and returned shares in decimal, in Go -
// never through SQL float arithmetic.
func (s *session) GrantAggregates(ctx context.Context, tenantID equity.TenantID) (equity.Money, equity.Money, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT share_amount, unvested_shares_returned FROM grants WHERE tenant_id = ?`,
		tenantID,
	)
	if err != nil {
		return equity.Money{}, equity.Money{}, classifyErr(err)
	}
	defer rows.Close()

	granted := equity.MoneyZero()
	returned := equity.MoneyZero()
	for rows.Next() {
		var shareStr, returnedStr string
		if err := rows.Scan(&shareStr, &returnedStr); err != nil {
			return equity.Money{}, equity.Money{}, err
		}
		share, err := equity.ParseMoney(shareStr)
		if err != nil {
			return equity.Money{}, equity.Money{}, err
		}
		ret, err := equity.ParseMoney(returnedStr)
		if err != nil {
			return equity.Money{}, equity.Money{}, err
		}
		granted = granted.Add(share)
		returned = returned.Add(ret)
	}
	return granted, returned, rows.Err()
}

func (s *session) UpdateGrantVesting(ctx context.Context, id equity.GrantID, expectedVersion int64, vested equity.Money) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE grants SET vested_amount = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		vested.String(), id, expectedVersion,
	)
	if err != nil {
		return classifyErr(err)
	}
	return s.checkCAS(ctx, res, id)
}

func (s *session) MarkGrantTerminated(ctx context.Context, g equity.Grant, expectedVersion int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE grants SET
			status = ?,
			termination_date = ?,
			termination_reason = ?,
			terminated_by = ?,
			unvested_shares_returned = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		g.Status, g.TerminationDate.String(), g.TerminationReason, g.TerminatedBy,
		g.UnvestedSharesReturned.String(), g.ID, expectedVersion,
	)
	if err != nil {
		return classifyErr(err)
	}
	return s.checkCAS(ctx, res, g.ID)
}

// checkCAS distinguishes a missing grant from a lost optimistic race.
func (s *session) checkCAS(ctx context.Context, res sql.Result, id equity.GrantID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grants WHERE id = ?`, id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return &equity.NotFoundError{Entity: "grant", ID: string(id)}
	}
	return equity.ErrVersionMismatch
}

// =============================================================================
// VESTING EVENTS
// =============================================================================

func (s *session) AppendVestingEvents(ctx context.Context, evs []equity.VestingEvent) error {
	for _, ev := range evs {
		var snapshot any
		if ev.PPSSnapshot != nil {
			snapshot = ev.PPSSnapshot.String()
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO vesting_events
			(id, grant_id, tenant_id, vesting_date, shares_vested, pps_snapshot, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.GrantID, ev.TenantID, ev.VestingDate.String(),
			ev.SharesVested.String(), snapshot,
			ev.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return classifyErr(err)
		}
	}
	return nil
}

func (s *session) VestingEvents(ctx context.Context, grantID equity.GrantID) ([]equity.VestingEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, grant_id, tenant_id, vesting_date, shares_vested, pps_snapshot, created_at
		FROM vesting_events
		WHERE grant_id = ?
		ORDER BY vesting_date ASC, created_at ASC`,
		grantID,
	)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var events []equity.VestingEvent
	for rows.Next() {
		var (
			ev                  equity.VestingEvent
			vestingDate, shares string
			snapshot            sql.NullString
			createdAt           string
		)
		if err := rows.Scan(&ev.ID, &ev.GrantID, &ev.TenantID, &vestingDate, &shares, &snapshot, &createdAt); err != nil {
			return nil, err
		}
		if ev.VestingDate, err = equity.ParseDate(vestingDate); err != nil {
			return nil, err
		}
		if ev.SharesVested, err = equity.ParseMoney(shares); err != nil {
			return nil, err
		}
		if snapshot.Valid {
			price, err := equity.ParseMoney(snapshot.String)
			if err != nil {
				return nil, err
			}
			ev.PPSSnapshot = &price
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// StampUnresolvedSnapshots backfills NULL snapshots from the PPS history.
// Recorded snapshots are never touched.
func (s *session) StampUnresolvedSnapshots(ctx context.Context, tenantID equity.TenantID) (int, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, vesting_date FROM vesting_events
		WHERE tenant_id = ? AND pps_snapshot IS NULL`,
		tenantID,
	)
	if err != nil {
		return 0, classifyErr(err)
	}

	type pending struct {
		id   equity.EventID
		date equity.Date
	}
	var unresolved []pending
	for rows.Next() {
		var (
			id      equity.EventID
			dateStr string
		)
		if err := rows.Scan(&id, &dateStr); err != nil {
			rows.Close()
			return 0, err
		}
		date, err := equity.ParseDate(dateStr)
		if err != nil {
			rows.Close()
			return 0, err
		}
		unresolved = append(unresolved, pending{id: id, date: date})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	stamped := 0
	for _, p := range unresolved {
		entry, err := s.ResolvePPSAt(ctx, tenantID, p.date)
		if err != nil {
			return stamped, err
		}
		if entry == nil {
			continue
		}
		_, err = s.q.ExecContext(ctx,
			`UPDATE vesting_events SET pps_snapshot = ? WHERE id = ? AND pps_snapshot IS NULL`,
			entry.PricePerShare.String(), p.id,
		)
		if err != nil {
			return stamped, classifyErr(err)
		}
		stamped++
	}
	return stamped, nil
}

// =============================================================================
// PPS HISTORY
// =============================================================================

func (s *session) InsertPPS(ctx context.Context, entry equity.PPSEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO pps_history (id, tenant_id, effective_date, price_per_share, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.EffectiveDate.String(),
		entry.PricePerShare.String(), entry.CreatedBy,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return classifyErr(err)
}

func (s *session) ListPPS(ctx context.Context, tenantID equity.TenantID) ([]equity.PPSEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, effective_date, price_per_share, created_by, created_at
		FROM pps_history
		WHERE tenant_id = ?
		ORDER BY effective_date DESC, created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var entries []equity.PPSEntry
	for rows.Next() {
		entry, err := scanPPS(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// ResolvePPSAt: latest effective_date <= date, tie-broken by latest
// created_at ("most recent wins").
func (s *session) ResolvePPSAt(ctx context.Context, tenantID equity.TenantID, date equity.Date) (*equity.PPSEntry, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, effective_date, price_per_share, created_by, created_at
		FROM pps_history
		WHERE tenant_id = ? AND effective_date <= ?
		ORDER BY effective_date DESC, created_at DESC
		LIMIT 1`,
		tenantID, date.String(),
	)
	entry, err := scanPPS(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classifyErr(err)
	}
	return entry, nil
}

func scanPPS(row rowScanner) (*equity.PPSEntry, error) {
	var (
		entry                equity.PPSEntry
		effectiveDate, price string
		createdAt            string
	)
	err := row.Scan(&entry.ID, &entry.TenantID, &effectiveDate, &price, &entry.CreatedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	if entry.EffectiveDate, err = equity.ParseDate(effectiveDate); err != nil {
		return nil, err
	}
	if entry.PricePerShare, err = equity.ParseMoney(price); err != nil {
		return nil, err
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &entry, nil
}

// =============================================================================
// VESTING RUNS
// =============================================================================

func (s *session) SaveVestingRun(ctx context.Context, run equity.VestingRun) error {
	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO vesting_runs
		(id, tenant_id, as_of_date, status, grants_total, grants_vested, tranches_saved, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			grants_total = excluded.grants_total,
			grants_vested = excluded.grants_vested,
			tranches_saved = excluded.tranches_saved,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, run.TenantID, run.AsOfDate.String(), run.Status,
		run.GrantsTotal, run.GrantsVested, run.TranchesSaved, run.Error,
		run.StartedAt.UTC().Format(time.RFC3339), completedAt,
	)
	return classifyErr(err)
}

func (s *session) ListVestingRuns(ctx context.Context, tenantID equity.TenantID) ([]equity.VestingRun, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, as_of_date, status, grants_total, grants_vested, tranches_saved, error, started_at, completed_at
		FROM vesting_runs
		WHERE tenant_id = ?
		ORDER BY started_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var runs []equity.VestingRun
	for rows.Next() {
		var (
			run                 equity.VestingRun
			asOf, startedAt     string
			errMsg, completedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.TenantID, &asOf, &run.Status,
			&run.GrantsTotal, &run.GrantsVested, &run.TranchesSaved,
			&errMsg, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.AsOfDate, _ = equity.ParseDate(asOf)
		run.Error = errMsg.String
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// AUDIT LOG (equity.AuditLog)
// =============================================================================

func (s *session) AppendAudit(ctx context.Context, entry equity.AuditEntry) error {
	detailsJSON, _ := json.Marshal(entry.Details)
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, actor_id, action_type, entity_type, entity_id, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.ActorID, entry.ActionType,
		entry.EntityType, entry.EntityID, string(detailsJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	return classifyErr(err)
}

func (s *session) ListAudit(ctx context.Context, tenantID equity.TenantID, limit int) ([]equity.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, actor_id, action_type, entity_type, entity_id, details_json, created_at
		FROM audit_log
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var entries []equity.AuditEntry
	for rows.Next() {
		var (
			entry       equity.AuditEntry
			detailsJSON sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorID,
			&entry.ActionType, &entry.EntityType, &entry.EntityID,
			&detailsJSON, &createdAt); err != nil {
			return nil, err
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			json.Unmarshal([]byte(detailsJSON.String), &entry.Details)
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

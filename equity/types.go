/*
Package equity provides the core equity pool and grant domain.

PURPOSE:
  This package contains the domain types and transactional services for
  managing tenant equity pools and employee grants: an append-only pool
  ledger, grant records with optimistic locking, and price-per-share
  history. The vesting schedule itself lives in the vesting package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A fixed-point share/price quantity with exactly 3 fractional digits
  - Date: A calendar day (no time-of-day, no timezone)
  - Tenant/Pool/Grant/Employee IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Pool and vesting events are never modified, only appended
  2. Precision: Uses decimal.Decimal - amounts cross boundaries as exact
     base-10 strings, never binary floats
  3. Type Safety: Strong typing for IDs prevents mixing tenant/pool/grant IDs
  4. Calendar arithmetic: month/day based, never elapsed-seconds based

SEE ALSO:
  - pool.go: Pool ledger types and invariants
  - grant.go: Grant records and termination rules
  - service.go: Transactional operations with conflict retry
*/
package equity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point quantity with exactly 3 fractional digits
// =============================================================================

// MoneyPlaces is the fixed precision for all share and price quantities.
const MoneyPlaces = 3

// Money is a share or price quantity. It always carries exactly three
// fractional digits; inputs with more precision are rejected at parse time
// rather than silently truncated.
type Money struct {
	Value decimal.Decimal
}

// ParseMoney parses an exact base-10 string such as "270.833".
// Sub-unit precision (more than 3 fractional digits) is a validation error.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &ValidationError{Field: "amount", Message: fmt.Sprintf("malformed amount %q", s)}
	}
	if !d.Equal(d.Round(MoneyPlaces)) {
		return Money{}, &ValidationError{Field: "amount", Message: fmt.Sprintf("amount %q exceeds %d decimal places", s, MoneyPlaces)}
	}
	return Money{Value: d}, nil
}

// MustMoney parses a money string and panics on failure. Test helper.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromInt builds a Money from a whole number of shares.
func MoneyFromInt(v int64) Money {
	return Money{Value: decimal.NewFromInt(v)}
}

// MoneyZero is the zero quantity.
func MoneyZero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money          { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money          { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s)} }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool         { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool   { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool      { return m.Value.LessThan(o.Value) }

// Round applies the fixed rounding policy: half away from zero, 3 places.
func (m Money) Round() Money { return Money{Value: m.Value.Round(MoneyPlaces)} }

// String renders the exact wire form with exactly 3 fractional digits,
// e.g. "270.833". This is the only representation that crosses the API.
func (m Money) String() string { return m.Value.StringFixed(MoneyPlaces) }

// =============================================================================
// DATE - Calendar day
// =============================================================================

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date with no time-of-day and no timezone.
// All vesting arithmetic is calendar based.
type Date struct {
	t time.Time // always midnight UTC
}

// NewDate builds a date from calendar components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", s)}
	}
	return Date{t: t.UTC()}, nil
}

// MustDate parses a date string and panics on failure. Test helper.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the current calendar date in UTC.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), now.Month(), now.Day())
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }
func (d Date) IsZero() bool              { return d.t.IsZero() }

// Min returns the earlier of two dates.
func (d Date) Min(o Date) Date {
	if o.Before(d) {
		return o
	}
	return d
}

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) Time() time.Time   { return d.t }

func (d Date) String() string { return d.t.Format(DateLayout) }

// DaysInMonth returns the number of days in the given calendar month.
// February is 28 or 29 depending on leap year.
func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type PoolID string
type GrantID string
type EmployeeID string
type EventID string

// =============================================================================
// EMPLOYEE - Grant beneficiary
// =============================================================================

// Employee is the minimal beneficiary record grant creation validates
// against: the employee must exist, be active, and belong to the tenant.
type Employee struct {
	ID        EmployeeID
	TenantID  TenantID
	Name      string
	Email     string
	Active    bool
	HireDate  Date
	CreatedAt time.Time
}

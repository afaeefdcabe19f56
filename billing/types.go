/*
Package billing provides the common-expense engine for residential communities.

PURPOSE:
  Splits a community's monthly common expenses across its units, tracks the
  payment status of every unit's share, and rolls unit-level records up into
  community-level statistics. Everything in this package except Service is a
  pure computation over in-memory values.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: integer amount in minor currency units (never floats)
  - Community / Unit: the tenant and its dwellings, each unit with a coefficient
  - CommonExpense: one billing period's expenses for a community
  - UnitExpense: a single unit's share, carrying a lifecycle Status
  - Payment: append-only record of a confirmed payment

DESIGN PRINCIPLES:
  1. Exactness: amounts are int64 minor units; coefficients are decimal.Decimal
  2. Type Safety: distinct ID types so a UnitID can't be passed as an ExpenseID
  3. No silent drift: sum of unit shares always equals the expense total
  4. History: unit expenses are never deleted, only transitioned

SEE ALSO:
  - proration.go: Splitting a total across units
  - lifecycle.go: Status transitions
  - summary.go: Aggregation
  - service.go: Orchestration against a Store
*/
package billing

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer minor currency units
// =============================================================================

// Money is an amount in minor currency units. For currencies without minor
// units (CLP) one Money is one peso.
type Money int64

func (m Money) Int64() int64             { return int64(m) }
func (m Money) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(m)) }
func (m Money) IsNegative() bool         { return m < 0 }
func (m Money) IsZero() bool             { return m == 0 }
func (m Money) String() string           { return strconv.FormatInt(int64(m), 10) }

// Sum adds up amounts.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total += a
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CommunityID string
type UnitID string
type CategoryID string
type CommonExpenseID string
type UnitExpenseID string
type PaymentID string

// =============================================================================
// COMMUNITY & UNITS
// =============================================================================

type Community struct {
	ID        CommunityID
	Name      string
	CreatedAt time.Time
}

// Unit is a dwelling within a community. Coefficient is its share of the
// common expenses, in [0,1]; a community's coefficients sum to 1.
type Unit struct {
	ID          UnitID
	CommunityID CommunityID
	Number      string
	Coefficient decimal.Decimal
	CreatedAt   time.Time
}

// Category groups expense items (e.g. "Maintenance", "Security").
type Category struct {
	ID          CategoryID
	CommunityID CommunityID
	Name        string
	Description string
	CreatedAt   time.Time
}

// =============================================================================
// PRORATION
// =============================================================================

type ProrationMethod string

const (
	ProrateEqual       ProrationMethod = "EQUAL"
	ProrateCoefficient ProrationMethod = "COEFFICIENT"
)

// UnitShare is the proration input for one unit.
type UnitShare struct {
	UnitID      UnitID
	Coefficient decimal.Decimal
}

// Allocation is the proration output for one unit.
type Allocation struct {
	UnitID UnitID
	Amount Money
}

// ProrratePreview is a non-persisted projection shown before an expense is
// committed.
type ProrratePreview struct {
	UnitID      UnitID
	UnitNumber  string
	Coefficient decimal.Decimal
	Amount      Money
}

// =============================================================================
// COMMON EXPENSE
// =============================================================================

type CommonExpenseItem struct {
	ID          string
	Name        string
	Amount      Money
	Description string
	CategoryID  CategoryID
}

// CommonExpense is created once per community per period. TotalAmount always
// equals the sum of its item amounts.
type CommonExpense struct {
	ID            CommonExpenseID
	CommunityID   CommunityID
	CommunityName string
	Period        Period
	TotalAmount   Money
	DueDate       time.Time
	Method        ProrationMethod
	Items         []CommonExpenseItem
	UnitExpenses  []UnitExpense
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemsTotal returns the sum of the item amounts.
func (e CommonExpense) ItemsTotal() Money {
	var total Money
	for _, it := range e.Items {
		total += it.Amount
	}
	return total
}

// =============================================================================
// UNIT EXPENSE
// =============================================================================

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
)

// UnitExpense is one unit's share of a CommonExpense. Version is bumped on
// every status change and used for optimistic locking by stores.
type UnitExpense struct {
	ID              UnitExpenseID
	CommonExpenseID CommonExpenseID
	UnitID          UnitID
	UnitNumber      string
	Amount          Money
	Concept         string
	Description     string
	DueDate         time.Time
	Status          Status
	PaidAt          *time.Time
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// =============================================================================
// PAYMENT
// =============================================================================

// Payment records a confirmed payment. Append-only; IdempotencyKey is unique.
type Payment struct {
	ID             PaymentID
	UnitExpenseID  UnitExpenseID
	Amount         Money
	PaidAt         time.Time
	Reference      string
	IdempotencyKey string
	CreatedAt      time.Time
}

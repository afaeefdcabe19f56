/*
store.go - Persistence interfaces for the billing engine

PURPOSE:
  Defines the boundary between the engine and the database. Implementations
  live in store/sqldb (SQLite, PostgreSQL) and billing/store (in-memory).

KEY INTERFACES:
  CommunityStore: communities and their units
  CategoryStore:  expense categories per community
  ExpenseStore:   common expenses, their items and unit expenses
  PaymentLog:     append-only payment records (idempotent)
  TxStore:        all of the above plus atomic multi-write transactions

CONTRACTS:
  - Lookups of a missing record return a *NotFoundError.
  - CreateCommonExpense writes the expense, items and unit expenses
    atomically and returns ErrDuplicatePeriod if (community, period) exists.
  - UpdateUnitExpense is an optimistic write: ue.Version must equal the
    stored version, otherwise ErrConcurrentModification. On success the
    stored version is ue.Version+1.
  - AppendPayment returns ErrDuplicateIdempotencyKey if the key was used.
    PaymentByKey returns the payment recorded under a key.
  - Unit listings are ordered by unit id; unit expenses of a common expense
    are ordered by unit id too.
  - GetCommonExpense fills Items, UnitExpenses and CommunityName.
    ListCommonExpenses returns newest period first, with Items but without
    UnitExpenses.
*/
package billing

import (
	"context"
	"time"
)

type CommunityStore interface {
	SaveCommunity(ctx context.Context, c Community) error
	GetCommunity(ctx context.Context, id CommunityID) (*Community, error)
	ListCommunities(ctx context.Context) ([]Community, error)

	SaveUnit(ctx context.Context, u Unit) error
	GetUnit(ctx context.Context, id UnitID) (*Unit, error)
	ListUnits(ctx context.Context, communityID CommunityID) ([]Unit, error)
}

type CategoryStore interface {
	SaveCategory(ctx context.Context, c Category) error
	GetCategory(ctx context.Context, id CategoryID) (*Category, error)
	ListCategories(ctx context.Context, communityID CommunityID) ([]Category, error)
	DeleteCategory(ctx context.Context, id CategoryID) error
}

type ExpenseStore interface {
	CreateCommonExpense(ctx context.Context, e CommonExpense) error
	GetCommonExpense(ctx context.Context, id CommonExpenseID) (*CommonExpense, error)
	ListCommonExpenses(ctx context.Context, communityID CommunityID) ([]CommonExpense, error)

	GetUnitExpense(ctx context.Context, id UnitExpenseID) (*UnitExpense, error)
	ListUnitExpenses(ctx context.Context, expenseID CommonExpenseID) ([]UnitExpense, error)
	ListUnitExpensesByUnit(ctx context.Context, unitID UnitID) ([]UnitExpense, error)

	// ListDueUnitExpenses returns unit expenses in status whose due date is
	// strictly before `before`.
	ListDueUnitExpenses(ctx context.Context, status Status, before time.Time) ([]UnitExpense, error)

	UpdateUnitExpense(ctx context.Context, ue UnitExpense) error
}

type PaymentLog interface {
	AppendPayment(ctx context.Context, p Payment) error
	PaymentByKey(ctx context.Context, idempotencyKey string) (*Payment, error)
	ListPayments(ctx context.Context, unitExpenseID UnitExpenseID) ([]Payment, error)
}

// Store is the full persistence surface used by Service.
type Store interface {
	CommunityStore
	CategoryStore
	ExpenseStore
	PaymentLog
}

// TxStore wraps Store with transaction support.
// If fn returns an error the transaction is rolled back, otherwise committed.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

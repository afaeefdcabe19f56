package sqldb_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/community-engine/billing"
	"github.com/warp/community-engine/store/sqldb"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) (*sqldb.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "community.db")
	st, err := sqldb.Open(context.Background(), sqldb.Config{Driver: sqldb.DriverSQLite, DSN: path})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, path
}

func newTestService(t *testing.T, st billing.TxStore) *billing.Service {
	seq := 0
	return &billing.Service{
		Store: st,
		Now:   func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%04d", seq)
		},
	}
}

func seed(t *testing.T, svc *billing.Service) (*billing.Community, *billing.CommonExpense) {
	t.Helper()
	ctx := context.Background()
	c, err := svc.CreateCommunity(ctx, "Condominio Vista Mar")
	require.NoError(t, err)
	for _, u := range []struct{ n, coef string }{{"101", "0.5"}, {"102", "0.3"}, {"103", "0.2"}} {
		_, err := svc.AddUnit(ctx, c.ID, u.n, decimal.RequireFromString(u.coef))
		require.NoError(t, err)
	}
	cat, err := svc.AddCategory(ctx, c.ID, "Maintenance", "Elevators and pumps")
	require.NoError(t, err)

	exp, err := svc.CreateCommonExpense(ctx, billing.CreateCommonExpenseInput{
		CommunityID: c.ID,
		Period:      "2025-03",
		DueDate:     "2025-03-10",
		Method:      "COEFFICIENT",
		Items: []billing.ItemInput{
			{Name: "Elevator service", Amount: 700000, CategoryID: cat.ID},
			{Name: "Cleaning", Amount: 300000},
		},
	})
	require.NoError(t, err)
	return c, exp
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_CommonExpenseRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()
	c, exp := seed(t, svc)

	got, err := st.GetCommonExpense(ctx, exp.ID)

	require.NoError(t, err)
	assert.Equal(t, c.Name, got.CommunityName)
	assert.Equal(t, billing.NewPeriod(2025, time.March), got.Period)
	assert.Equal(t, billing.Money(1000000), got.TotalAmount)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got.DueDate)
	assert.Equal(t, billing.ProrateCoefficient, got.Method)

	require.Len(t, got.Items, 2)
	assert.Equal(t, "Elevator service", got.Items[0].Name)
	assert.NotEmpty(t, got.Items[0].CategoryID)
	assert.Empty(t, got.Items[1].CategoryID)

	require.Len(t, got.UnitExpenses, 3)
	var sum billing.Money
	for _, ue := range got.UnitExpenses {
		assert.Equal(t, billing.StatusPending, ue.Status)
		assert.Equal(t, 1, ue.Version)
		assert.Nil(t, ue.PaidAt)
		sum += ue.Amount
	}
	assert.Equal(t, got.TotalAmount, sum)
	assert.Equal(t, "101", got.UnitExpenses[0].UnitNumber)
	assert.Equal(t, billing.Money(500000), got.UnitExpenses[0].Amount)

	list, err := st.ListCommonExpenses(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Items, 2)
	assert.Nil(t, list[0].UnitExpenses)
}

func TestStore_UnitsKeepCoefficientPrecision(t *testing.T) {
	st, _ := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()
	c, err := svc.CreateCommunity(ctx, "Precise")
	require.NoError(t, err)
	_, err = svc.AddUnit(ctx, c.ID, "1", decimal.RequireFromString("0.333333333"))
	require.NoError(t, err)

	units, err := st.ListUnits(ctx, c.ID)

	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.True(t, decimal.RequireFromString("0.333333333").Equal(units[0].Coefficient))
}

func TestStore_DuplicatePeriod(t *testing.T) {
	st, _ := newTestStore(t)
	svc := newTestService(t, st)
	c, _ := seed(t, svc)

	_, err := svc.CreateCommonExpense(context.Background(), billing.CreateCommonExpenseInput{
		CommunityID: c.ID, Period: "2025-03", DueDate: "2025-03-15", Method: "EQUAL",
		Items: []billing.ItemInput{{Name: "Extra", Amount: 10}},
	})

	assert.ErrorIs(t, err, billing.ErrDuplicatePeriod)
}

func TestStore_NotFound(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetCommunity(ctx, "x")
	assert.True(t, billing.IsNotFound(err))
	_, err = st.GetUnit(ctx, "x")
	assert.True(t, billing.IsNotFound(err))
	_, err = st.GetCommonExpense(ctx, "x")
	assert.True(t, billing.IsNotFound(err))
	_, err = st.GetUnitExpense(ctx, "x")
	assert.True(t, billing.IsNotFound(err))
	assert.True(t, billing.IsNotFound(st.DeleteCategory(ctx, "x")))
	assert.True(t, billing.IsNotFound(st.UpdateUnitExpense(ctx, billing.UnitExpense{ID: "x", Version: 1})))
}

// =============================================================================
// OPTIMISTIC LOCKING & PAYMENTS
// =============================================================================

func TestStore_UpdateUnitExpense_Version(t *testing.T) {
	st, _ := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()
	_, exp := seed(t, svc)

	ue := exp.UnitExpenses[0]
	ue.Status = billing.StatusOverdue
	require.NoError(t, st.UpdateUnitExpense(ctx, ue))

	got, err := st.GetUnitExpense(ctx, ue.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, billing.StatusOverdue, got.Status)

	// Same stale version again.
	err = st.UpdateUnitExpense(ctx, ue)
	assert.ErrorIs(t, err, billing.ErrConcurrentModification)
}

func TestStore_ConfirmPaymentFlow(t *testing.T) {
	st, _ := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()
	_, exp := seed(t, svc)
	id := exp.UnitExpenses[1].ID

	paidAt := time.Date(2025, 3, 4, 13, 30, 0, 0, time.UTC)
	result, err := svc.ConfirmPayment(ctx, billing.PaymentConfirmation{UnitExpenseID: id, PaidAt: paidAt, Reference: "WEBPAY-77"})
	require.NoError(t, err)
	assert.Equal(t, billing.TransitionApplied, result)

	again, err := svc.ConfirmPayment(ctx, billing.PaymentConfirmation{UnitExpenseID: id, PaidAt: paidAt})
	require.NoError(t, err)
	assert.Equal(t, billing.TransitionNoOp, again)

	got, err := st.GetUnitExpense(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.True(t, paidAt.Equal(*got.PaidAt))

	payments, err := st.ListPayments(ctx, id)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "WEBPAY-77", payments[0].Reference)

	byKey, err := st.PaymentByKey(ctx, "payment-"+string(id))
	require.NoError(t, err)
	assert.Equal(t, id, byKey.UnitExpenseID)
	assert.Equal(t, "WEBPAY-77", byKey.Reference)
	_, err = st.PaymentByKey(ctx, "never-used")
	assert.True(t, billing.IsNotFound(err))

	// A raw duplicate key is rejected by the unique index.
	err = st.AppendPayment(ctx, billing.Payment{
		ID: "dup", UnitExpenseID: id, Amount: 1, PaidAt: paidAt,
		IdempotencyKey: payments[0].IdempotencyKey, CreatedAt: paidAt,
	})
	assert.ErrorIs(t, err, billing.ErrDuplicateIdempotencyKey)

	sum, err := svc.Summarize(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, sum.PaymentPercentage)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx billing.Store) error {
		require.NoError(t, tx.SaveCommunity(ctx, billing.Community{ID: "c1", Name: "Ghost", CreatedAt: time.Now()}))
		return billing.ErrConcurrentModification
	})
	require.ErrorIs(t, err, billing.ErrConcurrentModification)

	_, err = st.GetCommunity(ctx, "c1")
	assert.True(t, billing.IsNotFound(err))
}

func TestStore_SweepOverdue(t *testing.T) {
	st, _ := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()
	_, exp := seed(t, svc)

	due, err := st.ListDueUnitExpenses(ctx, billing.StatusPending, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, due, "due date itself is not overdue")

	res, err := svc.SweepOverdue(ctx, time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, res.MarkedOverdue)

	statement, err := svc.UnitStatement(ctx, exp.UnitExpenses[2].UnitID)
	require.NoError(t, err)
	require.Len(t, statement, 1)
	assert.Equal(t, billing.StatusOverdue, statement[0].Status)
}

func TestStore_DeleteCategoryClearsItems(t *testing.T) {
	st, _ := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()
	_, exp := seed(t, svc)

	require.NoError(t, st.DeleteCategory(ctx, exp.Items[0].CategoryID))

	got, err := st.GetCommonExpense(ctx, exp.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Items[0].CategoryID)
}

// =============================================================================
// MIGRATIONS
// =============================================================================

func TestMigrations_Version(t *testing.T) {
	_, path := newTestStore(t)
	dsn := path + "?_foreign_keys=on"

	v, dirty, err := sqldb.MigrationVersion(sqldb.DriverSQLite, dsn)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, sqldb.Migrate(sqldb.DriverSQLite, dsn))
}

func TestMigrations_DownAndUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mig.db")

	require.NoError(t, sqldb.Migrate(sqldb.DriverSQLite, path))
	require.NoError(t, sqldb.MigrateDown(sqldb.DriverSQLite, path, 0))

	v, _, err := sqldb.MigrationVersion(sqldb.DriverSQLite, path)
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)

	require.NoError(t, sqldb.Migrate(sqldb.DriverSQLite, path))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := sqldb.Open(context.Background(), sqldb.Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

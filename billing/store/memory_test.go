package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/community-engine/billing"
	"github.com/warp/community-engine/billing/store"
)

var (
	march = billing.NewPeriod(2025, time.March)
	due   = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
)

func seedExpense(t *testing.T, m *store.Memory) billing.CommonExpense {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.SaveCommunity(ctx, billing.Community{ID: "c1", Name: "Las Lilas"}))
	e := billing.CommonExpense{
		ID:          "e1",
		CommunityID: "c1",
		Period:      march,
		TotalAmount: 300,
		DueDate:     due,
		Method:      billing.ProrateEqual,
		Items:       []billing.CommonExpenseItem{{ID: "i1", Name: "Cleaning", Amount: 300}},
		UnitExpenses: []billing.UnitExpense{
			{ID: "ue2", CommonExpenseID: "e1", UnitID: "u2", Amount: 100, DueDate: due, Status: billing.StatusPending, Version: 1},
			{ID: "ue1", CommonExpenseID: "e1", UnitID: "u1", Amount: 200, DueDate: due, Status: billing.StatusPending, Version: 1},
		},
	}
	require.NoError(t, m.CreateCommonExpense(ctx, e))
	return e
}

func TestMemory_GetCommonExpenseFillsChildren(t *testing.T) {
	m := store.NewMemory()
	seedExpense(t, m)

	got, err := m.GetCommonExpense(context.Background(), "e1")

	require.NoError(t, err)
	assert.Equal(t, "Las Lilas", got.CommunityName)
	require.Len(t, got.UnitExpenses, 2)
	assert.Equal(t, billing.UnitID("u1"), got.UnitExpenses[0].UnitID, "sorted by unit id")

	list, err := m.ListCommonExpenses(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].UnitExpenses)
}

func TestMemory_DuplicatePeriod(t *testing.T) {
	m := store.NewMemory()
	e := seedExpense(t, m)
	e.ID = "e2"
	e.UnitExpenses = nil

	err := m.CreateCommonExpense(context.Background(), e)

	assert.ErrorIs(t, err, billing.ErrDuplicatePeriod)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	// GIVEN: A pending unit expense
	m := store.NewMemory()
	seedExpense(t, m)
	ctx := context.Background()
	boom := errors.New("boom")

	// WHEN: A transaction updates it and appends a payment, then fails
	err := m.WithTx(ctx, func(tx billing.Store) error {
		ue, err := tx.GetUnitExpense(ctx, "ue1")
		require.NoError(t, err)
		ue.Status = billing.StatusPaid
		require.NoError(t, tx.UpdateUnitExpense(ctx, *ue))
		require.NoError(t, tx.AppendPayment(ctx, billing.Payment{ID: "p1", UnitExpenseID: "ue1", IdempotencyKey: "k1"}))
		return boom
	})

	// THEN: Nothing is visible afterwards
	require.ErrorIs(t, err, boom)
	ue, err := m.GetUnitExpense(ctx, "ue1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, ue.Status)
	assert.Equal(t, 1, ue.Version)
	_, err = m.PaymentByKey(ctx, "k1")
	assert.True(t, billing.IsNotFound(err))
}

func TestMemory_UpdateVersionAndIdempotency(t *testing.T) {
	m := store.NewMemory()
	seedExpense(t, m)
	ctx := context.Background()

	ue, err := m.GetUnitExpense(ctx, "ue2")
	require.NoError(t, err)
	ue.Status = billing.StatusOverdue
	require.NoError(t, m.UpdateUnitExpense(ctx, *ue))
	assert.ErrorIs(t, m.UpdateUnitExpense(ctx, *ue), billing.ErrConcurrentModification)

	require.NoError(t, m.AppendPayment(ctx, billing.Payment{ID: "p1", UnitExpenseID: "ue2", IdempotencyKey: "k"}))
	assert.ErrorIs(t, m.AppendPayment(ctx, billing.Payment{ID: "p2", UnitExpenseID: "ue2", IdempotencyKey: "k"}), billing.ErrDuplicateIdempotencyKey)

	payments, err := m.ListPayments(ctx, "ue2")
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	p, err := m.PaymentByKey(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, billing.UnitExpenseID("ue2"), p.UnitExpenseID)
}

func TestMemory_ListDueIsStrictlyBefore(t *testing.T) {
	m := store.NewMemory()
	seedExpense(t, m)
	ctx := context.Background()

	onDay, err := m.ListDueUnitExpenses(ctx, billing.StatusPending, due.Add(20*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, onDay)

	after, err := m.ListDueUnitExpenses(ctx, billing.StatusPending, due.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestMemory_DeleteCategoryClearsItems(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveCommunity(ctx, billing.Community{ID: "c1", Name: "Las Lilas"}))
	require.NoError(t, m.SaveCategory(ctx, billing.Category{ID: "cat", CommunityID: "c1", Name: "Security"}))
	require.NoError(t, m.CreateCommonExpense(ctx, billing.CommonExpense{
		ID: "e1", CommunityID: "c1", Period: march, DueDate: due,
		Items: []billing.CommonExpenseItem{{ID: "i1", Name: "Guard", Amount: 10, CategoryID: "cat"}},
	}))

	require.NoError(t, m.DeleteCategory(ctx, "cat"))

	got, err := m.GetCommonExpense(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, got.Items[0].CategoryID)
	assert.True(t, billing.IsNotFound(m.DeleteCategory(ctx, "cat")))
}

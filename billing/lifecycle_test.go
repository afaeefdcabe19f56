package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/community-engine/billing"
)

var allStatuses = []billing.Status{
	billing.StatusPending,
	billing.StatusPaid,
	billing.StatusOverdue,
	billing.StatusCancelled,
}

func TestTransition_Table(t *testing.T) {
	allowed := map[billing.Status][]billing.Status{
		billing.StatusPending: {billing.StatusPaid, billing.StatusOverdue, billing.StatusCancelled},
		billing.StatusOverdue: {billing.StatusPaid, billing.StatusCancelled},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			result, err := billing.Transition(from, to)

			switch {
			case from == to:
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, billing.TransitionNoOp, result, "%s -> %s", from, to)
			case contains(allowed[from], to):
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, billing.TransitionApplied, result, "%s -> %s", from, to)
			default:
				require.Error(t, err, "%s -> %s", from, to)
				assert.True(t, errors.Is(err, billing.ErrInvalidTransition))
				var terr *billing.InvalidTransitionError
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, from, terr.From)
				assert.Equal(t, to, terr.To)
			}
		}
	}
}

func contains(list []billing.Status, s billing.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestApply_PaidSetsPaidAt(t *testing.T) {
	// GIVEN: A pending unit expense
	ue := billing.UnitExpense{ID: "ue-1", Status: billing.StatusPending, Version: 3}
	at := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

	// WHEN: It is paid
	next, result, err := billing.Apply(ue, billing.StatusPaid, at)

	// THEN: Status and timestamps change on the copy only
	require.NoError(t, err)
	assert.Equal(t, billing.TransitionApplied, result)
	assert.Equal(t, billing.StatusPaid, next.Status)
	require.NotNil(t, next.PaidAt)
	assert.Equal(t, at, *next.PaidAt)
	assert.Equal(t, at, next.UpdatedAt)
	assert.Equal(t, 3, next.Version)

	assert.Equal(t, billing.StatusPending, ue.Status)
	assert.Nil(t, ue.PaidAt)
}

func TestApply_SameStatusIsNoOp(t *testing.T) {
	paidAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ue := billing.UnitExpense{ID: "ue-1", Status: billing.StatusPaid, PaidAt: &paidAt}

	next, result, err := billing.Apply(ue, billing.StatusPaid, paidAt.AddDate(0, 0, 5))

	require.NoError(t, err)
	assert.Equal(t, billing.TransitionNoOp, result)
	assert.Equal(t, paidAt, *next.PaidAt)
}

func TestApply_TerminalStatesReject(t *testing.T) {
	for _, from := range []billing.Status{billing.StatusPaid, billing.StatusCancelled} {
		ue := billing.UnitExpense{ID: "ue-9", Status: from}
		for _, to := range allStatuses {
			if to == from {
				continue
			}
			_, _, err := billing.Apply(ue, to, time.Now())
			var terr *billing.InvalidTransitionError
			require.ErrorAs(t, err, &terr, "%s -> %s", from, to)
			assert.Equal(t, billing.UnitExpenseID("ue-9"), terr.ID)
			assert.True(t, billing.IsConflict(err))
		}
	}
}

func TestApply_OverdueCannotReturnToPending(t *testing.T) {
	_, _, err := billing.Apply(billing.UnitExpense{ID: "x", Status: billing.StatusOverdue}, billing.StatusPending, time.Now())
	assert.ErrorIs(t, err, billing.ErrInvalidTransition)
}

func TestIsOverdue(t *testing.T) {
	due := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	ue := billing.UnitExpense{DueDate: due, Status: billing.StatusPending}

	assert.False(t, billing.IsOverdue(ue, due), "due today is not overdue")
	assert.False(t, billing.IsOverdue(ue, due.Add(23*time.Hour)), "still the due day")
	assert.True(t, billing.IsOverdue(ue, due.AddDate(0, 0, 1)))

	ue.Status = billing.StatusPaid
	assert.False(t, billing.IsOverdue(ue, due.AddDate(0, 1, 0)), "paid is never overdue")
}

func TestParseStatus(t *testing.T) {
	s, err := billing.ParseStatus("overdue")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOverdue, s)
	assert.True(t, billing.StatusCancelled.IsTerminal())
	assert.False(t, billing.StatusOverdue.IsTerminal())

	_, err = billing.ParseStatus("REFUNDED")
	assert.True(t, billing.IsClientError(err))
}

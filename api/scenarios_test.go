/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Communities and units are created
	- Common expenses are prorated and sum to their totals
	- Payments and sweeps leave the expected statuses

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/community-engine/billing"
)

func loadScenario(t *testing.T, id string) (*billing.Service, *billing.Community, []billing.CommonExpense) {
	t.Helper()
	svc := newTestService()
	ctx := context.Background()

	c, err := SeedScenario(ctx, svc, id, testNow)
	require.NoError(t, err)

	list, err := svc.ListCommonExpenses(ctx, c.ID)
	require.NoError(t, err)
	return svc, c, list
}

func TestScenario_VistaMar(t *testing.T) {
	svc, c, list := loadScenario(t, "vista-mar")
	assert.Equal(t, "Condominio Vista Mar", c.Name)
	require.Len(t, list, 1)

	sum, err := svc.Summarize(context.Background(), list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, billing.Money(1400000), sum.TotalAmount)
	assert.Equal(t, 3, sum.TotalUnits)
	assert.Equal(t, 1, sum.PaidUnits)
	assert.Equal(t, billing.Money(700000), sum.PaidAmount)
	assert.Equal(t, 50.0, sum.PaymentPercentage)
}

func TestScenario_EqualSplit(t *testing.T) {
	svc, _, list := loadScenario(t, "equal-split")
	require.Len(t, list, 1)

	e, err := svc.GetCommonExpense(context.Background(), list[0].ID)
	require.NoError(t, err)

	amounts := make([]billing.Money, len(e.UnitExpenses))
	for i, ue := range e.UnitExpenses {
		amounts[i] = ue.Amount
	}
	// 100003 / 4 = 25000 r 3: the first three units by id get one extra.
	assert.Equal(t, []billing.Money{25001, 25001, 25001, 25000}, amounts)
	assert.Equal(t, e.TotalAmount, billing.Sum(amounts...))
}

func TestScenario_LatePayers(t *testing.T) {
	svc, _, list := loadScenario(t, "late-payers")
	ctx := context.Background()
	require.Len(t, list, 2)

	// Newest first: March, then February.
	assert.Equal(t, "2025-03", list[0].Period.String())
	assert.Equal(t, "2025-02", list[1].Period.String())

	feb, err := svc.Summarize(ctx, list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, feb.PaidUnits)
	assert.Equal(t, 2, feb.OverdueUnits)
	assert.Equal(t, 0, feb.PendingUnits)

	mar, err := svc.Summarize(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, mar.PaidUnits)
	assert.Equal(t, 2, mar.PendingUnits)
	assert.Equal(t, 0, mar.OverdueUnits)
}

func TestScenario_Unknown(t *testing.T) {
	_, err := SeedScenario(context.Background(), newTestService(), "nope", testNow)

	assert.True(t, billing.IsClientError(err))
}

func TestScenarioIDs_Sorted(t *testing.T) {
	assert.Equal(t, []string{"equal-split", "late-payers", "vista-mar"}, ScenarioIDs())
	assert.Len(t, scenarios, len(loaders))
}

func TestLoadScenario_Endpoint(t *testing.T) {
	router, _ := setupTestRouter(t, false)

	// GIVEN: Nothing loaded yet
	rec := do(t, router, http.MethodGet, "/api/scenarios/current", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", trimNewline(rec.Body.String()))

	// WHEN: A scenario is loaded
	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "late-payers"}, adminRoles)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: It is reported as current
	current := decode[ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/current", nil, ""))
	assert.Equal(t, "late-payers", current.ID)

	list := decode[[]ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios", nil, ""))
	assert.Len(t, list, 3)

	// AND: Unknown scenarios are rejected
	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, adminRoles)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func trimNewline(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}

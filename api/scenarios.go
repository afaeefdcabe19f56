/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	communities for demos. Each scenario creates a community, its units and
	categories, one or more common expenses, and moves some unit expenses
	through the lifecycle.

AVAILABLE SCENARIOS:

	vista-mar:    Three apartments, coefficient proration, one paid
	equal-split:  Four townhouses sharing a gardening bill equally
	late-payers:  Last month overdue, this month pending, partly paid

HOW SCENARIOS WORK:
 1. Create a community named after the scenario (never reset anything)
 2. Add units with coefficients summing to 1
 3. Create common expenses relative to the current period
 4. Confirm payments and run an overdue sweep where the scenario needs it

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "late-payers"}

USAGE VIA CLI:

	community-engine seed --scenario late-payers

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxx(ctx, svc, now)
 3. Add it to the 'loaders' map
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/community-engine/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "vista-mar",
		Name:        "Vista Mar",
		Description: "Three apartments billed by coefficient; apartment 101 already paid",
	},
	{
		ID:          "equal-split",
		Name:        "Equal Split",
		Description: "Four townhouses sharing a gardening bill equally, remainder to the first units",
	},
	{
		ID:          "late-payers",
		Name:        "Late Payers",
		Description: "Previous month swept to OVERDUE, current month pending with one payment",
	},
}

type scenarioLoader func(ctx context.Context, svc *billing.Service, now time.Time) (*billing.Community, error)

var loaders = map[string]scenarioLoader{
	"vista-mar":   loadVistaMar,
	"equal-split": loadEqualSplit,
	"late-payers": loadLatePayers,
}

// ScenarioIDs lists the loadable scenarios in a stable order.
func ScenarioIDs() []string {
	ids := make([]string, 0, len(loaders))
	for id := range loaders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SeedScenario loads one scenario into svc and returns the new community.
func SeedScenario(ctx context.Context, svc *billing.Service, id string, now time.Time) (*billing.Community, error) {
	load, ok := loaders[id]
	if !ok {
		return nil, &billing.ValidationError{
			Field:    "scenarioId",
			Message:  "unknown scenario",
			Expected: strings.Join(ScenarioIDs(), "|"),
			Actual:   fmt.Sprintf("%q", id),
		}
	}
	return load(ctx, svc, now)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := SeedScenario(r.Context(), h.Service, req.ScenarioID, h.now())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "loaded",
		"scenario":  req.ScenarioID,
		"community": toCommunityDTO(*c),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type unitSeed struct {
	number      string
	coefficient string
}

func seedCommunity(ctx context.Context, svc *billing.Service, name string, units []unitSeed) (*billing.Community, []billing.Unit, error) {
	c, err := svc.CreateCommunity(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	out := make([]billing.Unit, 0, len(units))
	for _, u := range units {
		coef, err := decimal.NewFromString(u.coefficient)
		if err != nil {
			return nil, nil, err
		}
		unit, err := svc.AddUnit(ctx, c.ID, u.number, coef)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, *unit)
	}
	return c, out, nil
}

func dueDate(p billing.Period, day int) string {
	return time.Date(p.Year, p.Month, day, 0, 0, 0, 0, time.UTC).Format(dateLayout)
}

func loadVistaMar(ctx context.Context, svc *billing.Service, now time.Time) (*billing.Community, error) {
	c, _, err := seedCommunity(ctx, svc, "Condominio Vista Mar", []unitSeed{
		{"101", "0.5"}, {"102", "0.3"}, {"103", "0.2"},
	})
	if err != nil {
		return nil, err
	}
	maintenance, err := svc.AddCategory(ctx, c.ID, "Maintenance", "Elevators, pumps and common areas")
	if err != nil {
		return nil, err
	}

	period := billing.PeriodOf(now)
	e, err := svc.CreateCommonExpense(ctx, billing.CreateCommonExpenseInput{
		CommunityID: c.ID,
		Period:      period.String(),
		DueDate:     dueDate(period, 28),
		Method:      string(billing.ProrateCoefficient),
		Items: []billing.ItemInput{
			{Name: "Elevator service", Amount: 850000, CategoryID: maintenance.ID},
			{Name: "Cleaning", Amount: 420000, Description: "Staff and supplies"},
			{Name: "Water, common areas", Amount: 130000},
		},
	})
	if err != nil {
		return nil, err
	}

	_, err = svc.ConfirmPayment(ctx, billing.PaymentConfirmation{
		UnitExpenseID: e.UnitExpenses[0].ID,
		PaidAt:        now,
		Reference:     "TRANSFER-0001",
	})
	return c, err
}

func loadEqualSplit(ctx context.Context, svc *billing.Service, now time.Time) (*billing.Community, error) {
	c, _, err := seedCommunity(ctx, svc, "Villa Los Aromos", []unitSeed{
		{"A", "0.25"}, {"B", "0.25"}, {"C", "0.25"}, {"D", "0.25"},
	})
	if err != nil {
		return nil, err
	}

	period := billing.PeriodOf(now)
	_, err = svc.CreateCommonExpense(ctx, billing.CreateCommonExpenseInput{
		CommunityID: c.ID,
		Period:      period.String(),
		DueDate:     dueDate(period, 28),
		Method:      string(billing.ProrateEqual),
		Items: []billing.ItemInput{
			{Name: "Gardening", Amount: 100003},
		},
	})
	return c, err
}

func loadLatePayers(ctx context.Context, svc *billing.Service, now time.Time) (*billing.Community, error) {
	c, _, err := seedCommunity(ctx, svc, "Edificio Las Lilas", []unitSeed{
		{"1A", "0.4"}, {"1B", "0.35"}, {"2A", "0.25"},
	})
	if err != nil {
		return nil, err
	}
	security, err := svc.AddCategory(ctx, c.ID, "Security", "Concierge and cameras")
	if err != nil {
		return nil, err
	}

	current := billing.PeriodOf(now)
	previous := current.Previous()

	last, err := svc.CreateCommonExpense(ctx, billing.CreateCommonExpenseInput{
		CommunityID: c.ID,
		Period:      previous.String(),
		DueDate:     dueDate(previous, 10),
		Method:      string(billing.ProrateCoefficient),
		Items: []billing.ItemInput{
			{Name: "Concierge", Amount: 900000, CategoryID: security.ID},
			{Name: "Electricity", Amount: 250000},
		},
	})
	if err != nil {
		return nil, err
	}
	if _, err := svc.ConfirmPayment(ctx, billing.PaymentConfirmation{
		UnitExpenseID: last.UnitExpenses[0].ID,
		PaidAt:        previous.Start().AddDate(0, 0, 5),
		Reference:     "WEBPAY-1A",
	}); err != nil {
		return nil, err
	}

	this, err := svc.CreateCommonExpense(ctx, billing.CreateCommonExpenseInput{
		CommunityID: c.ID,
		Period:      current.String(),
		DueDate:     dueDate(current, 28),
		Method:      string(billing.ProrateCoefficient),
		Items: []billing.ItemInput{
			{Name: "Concierge", Amount: 900000, CategoryID: security.ID},
			{Name: "Electricity", Amount: 275000},
		},
	})
	if err != nil {
		return nil, err
	}
	if _, err := svc.ConfirmPayment(ctx, billing.PaymentConfirmation{
		UnitExpenseID: this.UnitExpenses[1].ID,
		PaidAt:        now,
		Reference:     "WEBPAY-1B",
	}); err != nil {
		return nil, err
	}

	_, err = svc.SweepOverdue(ctx, now)
	return c, err
}

package billing_test

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/community-engine/billing"
)

// =============================================================================
// HELPERS
// =============================================================================

func share(id string, coef string) billing.UnitShare {
	return billing.UnitShare{UnitID: billing.UnitID(id), Coefficient: decimal.RequireFromString(coef)}
}

func amounts(allocs []billing.Allocation) map[billing.UnitID]billing.Money {
	out := make(map[billing.UnitID]billing.Money, len(allocs))
	for _, a := range allocs {
		out[a.UnitID] = a.Amount
	}
	return out
}

func total(allocs []billing.Allocation) billing.Money {
	var sum billing.Money
	for _, a := range allocs {
		sum += a.Amount
	}
	return sum
}

// =============================================================================
// EQUAL
// =============================================================================

func TestProrate_Equal_RemainderToLowestIDs(t *testing.T) {
	// GIVEN: 100 split over three units
	units := []billing.UnitShare{share("C", "0"), share("A", "0"), share("B", "0")}

	// WHEN: Prorating equally
	allocs, err := billing.Prorate(100, units, billing.ProrateEqual)

	// THEN: The single leftover peso goes to A, results keep input order
	require.NoError(t, err)
	require.Len(t, allocs, 3)
	assert.Equal(t, billing.UnitID("C"), allocs[0].UnitID)
	assert.Equal(t, billing.UnitID("A"), allocs[1].UnitID)
	assert.Equal(t, billing.UnitID("B"), allocs[2].UnitID)
	assert.Equal(t, map[billing.UnitID]billing.Money{"A": 34, "B": 33, "C": 33}, amounts(allocs))
}

func TestProrate_Equal_ExactDivision(t *testing.T) {
	allocs, err := billing.Prorate(900000, []billing.UnitShare{share("u1", "0"), share("u2", "0"), share("u3", "0")}, billing.ProrateEqual)
	require.NoError(t, err)
	for _, a := range allocs {
		assert.Equal(t, billing.Money(300000), a.Amount)
	}
}

func TestProrate_Equal_TotalSmallerThanUnits(t *testing.T) {
	// GIVEN: 2 pesos over 5 units
	units := []billing.UnitShare{share("e", "0"), share("d", "0"), share("c", "0"), share("b", "0"), share("a", "0")}

	allocs, err := billing.Prorate(2, units, billing.ProrateEqual)

	// THEN: a and b get one each, the rest nothing
	require.NoError(t, err)
	assert.Equal(t, map[billing.UnitID]billing.Money{"a": 1, "b": 1, "c": 0, "d": 0, "e": 0}, amounts(allocs))
}

func TestProrate_ZeroTotal(t *testing.T) {
	for _, method := range []billing.ProrationMethod{billing.ProrateEqual, billing.ProrateCoefficient} {
		allocs, err := billing.Prorate(0, []billing.UnitShare{share("a", "0.5"), share("b", "0.5")}, method)
		require.NoError(t, err, method)
		assert.Equal(t, billing.Money(0), total(allocs), method)
	}
}

// =============================================================================
// COEFFICIENT
// =============================================================================

func TestProrate_Coefficient_Exact(t *testing.T) {
	units := []billing.UnitShare{share("A", "0.5"), share("B", "0.3"), share("C", "0.2")}

	allocs, err := billing.Prorate(10000, units, billing.ProrateCoefficient)

	require.NoError(t, err)
	assert.Equal(t, map[billing.UnitID]billing.Money{"A": 5000, "B": 3000, "C": 2000}, amounts(allocs))
}

func TestProrate_Coefficient_PositiveCorrectionToLargest(t *testing.T) {
	// GIVEN: 100 over thirds; each rounds to 33, 1 short
	units := []billing.UnitShare{share("B", "0.3334"), share("A", "0.3333"), share("C", "0.3333")}

	allocs, err := billing.Prorate(100, units, billing.ProrateCoefficient)

	// THEN: B holds the largest coefficient and absorbs the missing peso
	require.NoError(t, err)
	assert.Equal(t, map[billing.UnitID]billing.Money{"A": 33, "B": 34, "C": 33}, amounts(allocs))
}

func TestProrate_Coefficient_TieBreakBySmallestID(t *testing.T) {
	// GIVEN: Equal coefficients, rounding leaves 1 short
	units := []billing.UnitShare{share("z", "0.3333"), share("m", "0.3333"), share("b", "0.3334")}

	allocs, err := billing.Prorate(10, units, billing.ProrateCoefficient)

	// THEN: b is largest; 10*0.3334 = 3.334 -> 3, 3, 3 = 9, b gets +1
	require.NoError(t, err)
	assert.Equal(t, map[billing.UnitID]billing.Money{"b": 4, "m": 3, "z": 3}, amounts(allocs))

	// GIVEN: All equal, ties resolved by id
	units = []billing.UnitShare{share("z", "0.25"), share("m", "0.25"), share("b", "0.25"), share("q", "0.25")}
	allocs, err = billing.Prorate(6, units, billing.ProrateCoefficient)

	// THEN: 6*0.25 = 1.5 rounds up to 2 each = 8, 2 over; b then m give back
	require.NoError(t, err)
	assert.Equal(t, map[billing.UnitID]billing.Money{"b": 0, "m": 2, "q": 2, "z": 2}, amounts(allocs))
}

func TestProrate_Coefficient_NegativeCorrectionNeverBelowZero(t *testing.T) {
	// GIVEN: 2 pesos over four quarters; each rounds to 1, 2 over
	units := []billing.UnitShare{share("a", "0.25"), share("b", "0.25"), share("c", "0.25"), share("d", "0.25")}

	allocs, err := billing.Prorate(2, units, billing.ProrateCoefficient)

	// THEN: a and b drop to zero, c and d keep one each
	require.NoError(t, err)
	assert.Equal(t, billing.Money(2), total(allocs))
	for _, a := range allocs {
		assert.GreaterOrEqual(t, a.Amount, billing.Money(0))
	}
	assert.Equal(t, map[billing.UnitID]billing.Money{"a": 0, "b": 0, "c": 1, "d": 1}, amounts(allocs))
}

func TestProrate_Coefficient_WithinTolerance(t *testing.T) {
	units := []billing.UnitShare{share("a", "0.33333"), share("b", "0.33333"), share("c", "0.33333")}

	allocs, err := billing.Prorate(1000, units, billing.ProrateCoefficient)

	require.NoError(t, err)
	assert.Equal(t, billing.Money(1000), total(allocs))
}

func TestProrate_Coefficient_LargestTotalOverTolerance(t *testing.T) {
	// GIVEN: Coefficients summing to 1.0001 and the largest representable total
	units := []billing.UnitShare{share("a", "0.50005"), share("b", "0.50005")}

	// WHEN: Prorated
	allocs, err := billing.Prorate(math.MaxInt64, units, billing.ProrateCoefficient)

	// THEN: The over-allocation is taken back from "a" without wrapping around
	require.NoError(t, err)
	got := amounts(allocs)
	assert.Equal(t, billing.Money(4611224849825545165), got["a"])
	assert.Equal(t, billing.Money(4612147187029230642), got["b"])
	assert.Equal(t, billing.Money(math.MaxInt64), total(allocs))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestProrate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		total  billing.Money
		units  []billing.UnitShare
		method billing.ProrationMethod
		field  string
	}{
		{"negative total", -1, []billing.UnitShare{share("a", "1")}, billing.ProrateEqual, "totalAmount"},
		{"no units", 100, nil, billing.ProrateEqual, "units"},
		{"empty unit id", 100, []billing.UnitShare{share("", "1")}, billing.ProrateEqual, "units[0].unitId"},
		{"duplicate unit", 100, []billing.UnitShare{share("a", "0.5"), share("a", "0.5")}, billing.ProrateCoefficient, "units[1].unitId"},
		{"unknown method", 100, []billing.UnitShare{share("a", "1")}, billing.ProrationMethod("BY_AREA"), "prorrateMethod"},
		{"coefficient sum too low", 100, []billing.UnitShare{share("a", "0.5"), share("b", "0.4")}, billing.ProrateCoefficient, "coefficients"},
		{"coefficient sum too high", 100, []billing.UnitShare{share("a", "0.6"), share("b", "0.4002")}, billing.ProrateCoefficient, "coefficients"},
		{"negative coefficient", 100, []billing.UnitShare{share("a", "-0.5"), share("b", "1.5")}, billing.ProrateCoefficient, "units[0].coefficient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := billing.Prorate(tt.total, tt.units, tt.method)
			require.Error(t, err)
			assert.True(t, errors.Is(err, billing.ErrValidation))

			var verr *billing.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestProrate_Equal_IgnoresCoefficients(t *testing.T) {
	// Coefficients that don't sum to 1 are irrelevant for EQUAL.
	allocs, err := billing.Prorate(10, []billing.UnitShare{share("a", "0.9"), share("b", "0.9")}, billing.ProrateEqual)
	require.NoError(t, err)
	assert.Equal(t, map[billing.UnitID]billing.Money{"a": 5, "b": 5}, amounts(allocs))
}

func TestParseProrationMethod(t *testing.T) {
	m, err := billing.ParseProrationMethod(" coefficient ")
	require.NoError(t, err)
	assert.Equal(t, billing.ProrateCoefficient, m)

	m, err = billing.ParseProrationMethod("EQUAL")
	require.NoError(t, err)
	assert.Equal(t, billing.ProrateEqual, m)

	_, err = billing.ParseProrationMethod("m2")
	assert.True(t, billing.IsClientError(err))
}

// =============================================================================
// PROPERTY: sum of shares equals total
// =============================================================================

func TestProrate_SumAlwaysEqualsTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(40)
		amount := billing.Money(rng.Int63n(50_000_000))

		// Random weights normalized to 4 decimals; the last unit takes the slack.
		weights := make([]int64, n)
		var sum int64
		for j := range weights {
			weights[j] = 1 + rng.Int63n(1000)
			sum += weights[j]
		}
		units := make([]billing.UnitShare, n)
		left := decimal.NewFromInt(1)
		for j := 0; j < n; j++ {
			coef := decimal.NewFromInt(weights[j]).Div(decimal.NewFromInt(sum)).Round(4)
			if j == n-1 || coef.GreaterThan(left) {
				coef = left
			}
			left = left.Sub(coef)
			units[j] = billing.UnitShare{UnitID: billing.UnitID(fmt.Sprintf("u%03d", rng.Intn(1000)*100+j)), Coefficient: coef}
		}

		for _, method := range []billing.ProrationMethod{billing.ProrateEqual, billing.ProrateCoefficient} {
			allocs, err := billing.Prorate(amount, units, method)
			require.NoError(t, err, "case %d %s", i, method)
			require.Len(t, allocs, n)
			assert.Equal(t, amount, total(allocs), "case %d %s", i, method)
			for j, a := range allocs {
				assert.Equal(t, units[j].UnitID, a.UnitID)
				assert.GreaterOrEqual(t, a.Amount, billing.Money(0))
			}
		}
	}
}

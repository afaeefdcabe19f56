/*
proration.go - Splitting a common expense across units

PURPOSE:
  Given a total amount and a community's units, computes what each unit owes.
  Pure computation: no I/O, no logging, safe for concurrent use.

METHODS:
  EQUAL:
    Every unit receives floor(total / n). The remainder (total mod n) is
    handed out one minor unit at a time in ascending unit-id order.

      Prorate(100, [A, B, C], EQUAL) -> A:34, B:33, C:33

  COEFFICIENT:
    Every unit receives round-half-up(total * coefficient). The difference
    between the rounded sum and the total goes to the unit with the largest
    coefficient (ties: smallest unit id). A negative correction never pushes
    a unit below zero; whatever that unit can't absorb moves to the next unit
    in (coefficient desc, id asc) order.

      Prorate(10000, [A .5, B .3, C .2], COEFFICIENT) -> A:5000, B:3000, C:2000

GUARANTEE:
  sum(result.Amount) == total, always, for both methods.
  Results are returned in input order.

CALLER RESPONSIBILITY:
  The unit list must be a consistent snapshot (e.g. read inside the same
  database transaction that persists the result).
*/
package billing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// CoefficientTolerance is how far a community's coefficient sum may drift
// from 1 before COEFFICIENT proration rejects it.
var CoefficientTolerance = decimal.RequireFromString("0.0001")

var one = decimal.NewFromInt(1)

// ParseProrationMethod parses "EQUAL" or "COEFFICIENT" (case-insensitive).
func ParseProrationMethod(s string) (ProrationMethod, error) {
	switch ProrationMethod(strings.ToUpper(strings.TrimSpace(s))) {
	case ProrateEqual:
		return ProrateEqual, nil
	case ProrateCoefficient:
		return ProrateCoefficient, nil
	}
	return "", validationError("prorrateMethod", "unknown proration method", "EQUAL|COEFFICIENT", fmt.Sprintf("%q", s))
}

// SharesFromUnits builds proration input from stored units, keeping order.
func SharesFromUnits(units []Unit) []UnitShare {
	shares := make([]UnitShare, len(units))
	for i, u := range units {
		shares[i] = UnitShare{UnitID: u.ID, Coefficient: u.Coefficient}
	}
	return shares
}

// Prorate splits total across units using method.
func Prorate(total Money, units []UnitShare, method ProrationMethod) ([]Allocation, error) {
	if total.IsNegative() {
		return nil, validationError("totalAmount", "must not be negative", ">= 0", total.String())
	}
	if len(units) == 0 {
		return nil, validationError("units", "at least one unit is required", ">= 1", "0")
	}

	seen := make(map[UnitID]struct{}, len(units))
	for i, u := range units {
		if u.UnitID == "" {
			return nil, validationError(fmt.Sprintf("units[%d].unitId", i), "must not be empty", "unit id", `""`)
		}
		if _, dup := seen[u.UnitID]; dup {
			return nil, validationError(fmt.Sprintf("units[%d].unitId", i), "duplicate unit", "unique ids", string(u.UnitID))
		}
		seen[u.UnitID] = struct{}{}
	}

	switch method {
	case ProrateEqual:
		return prorateEqual(total, units), nil
	case ProrateCoefficient:
		if err := ValidateCoefficients(units); err != nil {
			return nil, err
		}
		return prorateCoefficient(total, units), nil
	default:
		return nil, validationError("prorrateMethod", "unknown proration method", "EQUAL|COEFFICIENT", string(method))
	}
}

// ValidateCoefficients checks every coefficient is in [0,1] and that they sum
// to 1 within CoefficientTolerance.
func ValidateCoefficients(units []UnitShare) error {
	sum := decimal.Zero
	for i, u := range units {
		if u.Coefficient.IsNegative() || u.Coefficient.GreaterThan(one) {
			return validationError(fmt.Sprintf("units[%d].coefficient", i), "must be within [0,1]", "0..1", u.Coefficient.String())
		}
		sum = sum.Add(u.Coefficient)
	}
	if sum.Sub(one).Abs().GreaterThan(CoefficientTolerance) {
		return validationError("coefficients", "must sum to 1", "1 ± "+CoefficientTolerance.String(), sum.String())
	}
	return nil
}

func prorateEqual(total Money, units []UnitShare) []Allocation {
	n := int64(len(units))
	base := Money(int64(total) / n)
	remainder := int64(total) % n

	out := make([]Allocation, len(units))
	for i, u := range units {
		out[i] = Allocation{UnitID: u.UnitID, Amount: base}
	}
	for _, i := range indicesByID(units)[:remainder] {
		out[i].Amount++
	}
	return out
}

func prorateCoefficient(total Money, units []UnitShare) []Allocation {
	totalDec := total.Decimal()

	// Each share is at most total since coefficients are <= 1, but their sum
	// may exceed it by the tolerance, so it is kept in decimal.
	out := make([]Allocation, len(units))
	allocated := decimal.Zero
	for i, u := range units {
		share := totalDec.Mul(u.Coefficient).Round(0)
		out[i] = Allocation{UnitID: u.UnitID, Amount: Money(share.IntPart())}
		allocated = allocated.Add(share)
	}

	diff := Money(totalDec.Sub(allocated).IntPart())
	if diff == 0 {
		return out
	}

	order := indicesByCoefficient(units)
	if diff > 0 {
		out[order[0]].Amount += diff
		return out
	}

	// Over-allocated: take back from the largest shares, never below zero.
	deficit := -diff
	for _, i := range order {
		take := min(deficit, out[i].Amount)
		out[i].Amount -= take
		deficit -= take
		if deficit == 0 {
			break
		}
	}
	return out
}

// indicesByID returns positions of units sorted by ascending unit id.
func indicesByID(units []UnitShare) []int {
	idx := make([]int, len(units))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return units[idx[a]].UnitID < units[idx[b]].UnitID
	})
	return idx
}

// indicesByCoefficient returns positions sorted by coefficient desc, id asc.
func indicesByCoefficient(units []UnitShare) []int {
	idx := make([]int, len(units))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ua, ub := units[idx[a]], units[idx[b]]
		if c := ua.Coefficient.Cmp(ub.Coefficient); c != 0 {
			return c > 0
		}
		return ua.UnitID < ub.UnitID
	})
	return idx
}

package billing

import "github.com/shopspring/decimal"

// Summary rolls a common expense's unit expenses up into community totals.
// It is derived on demand and never stored.
type Summary struct {
	TotalAmount       Money
	TotalUnits        int
	PaidAmount        Money
	PendingAmount     Money
	OverdueAmount     Money
	PaidUnits         int
	PendingUnits      int
	OverdueUnits      int
	PaymentPercentage float64
}

var hundred = decimal.NewFromInt(100)

// Summarize aggregates a snapshot of unit expenses. Cancelled records are not
// owed and are left out of every total. PaymentPercentage is rounded to two
// decimals and is 0 when nothing is owed.
func Summarize(expenses []UnitExpense) Summary {
	var s Summary
	for _, ue := range expenses {
		switch ue.Status {
		case StatusPaid:
			s.PaidAmount += ue.Amount
			s.PaidUnits++
		case StatusPending:
			s.PendingAmount += ue.Amount
			s.PendingUnits++
		case StatusOverdue:
			s.OverdueAmount += ue.Amount
			s.OverdueUnits++
		default:
			continue
		}
		s.TotalAmount += ue.Amount
		s.TotalUnits++
	}

	if s.TotalAmount > 0 {
		pct := s.PaidAmount.Decimal().Mul(hundred).Div(s.TotalAmount.Decimal()).Round(2)
		s.PaymentPercentage, _ = pct.Float64()
	}
	return s
}

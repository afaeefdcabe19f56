package billing

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - A billing month
// =============================================================================

// Period is a billing month, written "YYYY-MM" on the wire.
type Period struct {
	Year  int
	Month time.Month
}

const periodLayout = "2006-01"

// NewPeriod returns the period for year/month.
func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(periodLayout, strings.TrimSpace(s))
	if err != nil {
		return Period{}, validationError("period", "must be a year-month", "YYYY-MM", fmt.Sprintf("%q", s))
	}
	return PeriodOf(t), nil
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start returns the first day of the period (UTC).
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the period (UTC).
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Contains returns true if t falls on a day within the period.
func (p Period) Contains(t time.Time) bool {
	return t.Year() == p.Year && t.Month() == p.Month
}

// Next returns the following period.
func (p Period) Next() Period { return PeriodOf(p.Start().AddDate(0, 1, 0)) }

// Previous returns the preceding period.
func (p Period) Previous() Period { return PeriodOf(p.Start().AddDate(0, -1, 0)) }

// =============================================================================
// DATES
// =============================================================================

// ParseDueDate accepts an ISO-8601 calendar date ("2025-03-10") or an RFC3339
// timestamp and returns the calendar day at UTC midnight.
func ParseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Day(t), nil
	}
	return time.Time{}, validationError("dueDate", "must be an ISO-8601 date", "YYYY-MM-DD", fmt.Sprintf("%q", s))
}

// Day returns t's calendar day (in t's own location) as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

/*
Package currency converts between billing.Money and display strings.

FORMAT:
  symbol + major part grouped by ThousandsSeparator
         + DecimalSeparator + minor digits (only when MinorDigits > 0)

  CLP (default):  1500000 -> "$1.500.000"
  USD-like:       150050  -> "US$1,500.50" (MinorDigits 2)

PARSE POLICY:
  Parse is permissive: every non-digit is dropped and what remains is read
  as minor units. Empty or unreadable input yields 0, never an error. Only
  non-negative amounts round-trip: Parse(Format(x)) == x for x >= 0.
*/
package currency

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/warp/community-engine/billing"
)

type Formatter struct {
	Symbol             string
	ThousandsSeparator string
	DecimalSeparator   string
	MinorDigits        int
}

// CLP is the Chilean peso: no minor units, "." groups thousands.
var CLP = Formatter{Symbol: "$", ThousandsSeparator: ".", DecimalSeparator: ",", MinorDigits: 0}

// Default returns the formatter used when nothing is configured.
func Default() Formatter { return CLP }

// Format renders an amount for display.
func (f Formatter) Format(m billing.Money) string {
	n := m.Int64()
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}

	scale := pow10(f.MinorDigits)
	major, minor := n/scale, n%scale

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString(f.Symbol)
	b.WriteString(f.group(major))
	if f.MinorDigits > 0 {
		b.WriteString(f.decimalSeparator())
		digits := strconv.FormatInt(minor, 10)
		b.WriteString(strings.Repeat("0", f.MinorDigits-len(digits)))
		b.WriteString(digits)
	}
	return b.String()
}

// Parse reads a display string back into minor units.
func (f Formatter) Parse(s string) billing.Money {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, s)
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return billing.Money(n)
}

func (f Formatter) group(n int64) string {
	// Comma stays in int64; humanize.FormatInteger goes through float64.
	return strings.ReplaceAll(humanize.Comma(n), ",", f.ThousandsSeparator)
}

func (f Formatter) decimalSeparator() string {
	if f.DecimalSeparator == "" {
		if f.ThousandsSeparator == "." {
			return ","
		}
		return "."
	}
	return f.DecimalSeparator
}

func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

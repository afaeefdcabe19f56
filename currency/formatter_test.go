package currency_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/community-engine/billing"
	"github.com/warp/community-engine/currency"
)

func TestFormat_CLP(t *testing.T) {
	f := currency.Default()

	tests := []struct {
		in   billing.Money
		want string
	}{
		{0, "$0"},
		{999, "$999"},
		{1000, "$1.000"},
		{1500000, "$1.500.000"},
		{123456789, "$123.456.789"},
		{-45000, "-$45.000"},
		{1<<53 + 1, "$9.007.199.254.740.993"},
		{math.MaxInt64, "$9.223.372.036.854.775.807"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Format(tt.in), "format %d", tt.in)
	}
}

func TestFormat_MinorDigits(t *testing.T) {
	f := currency.Formatter{Symbol: "US$", ThousandsSeparator: ",", DecimalSeparator: ".", MinorDigits: 2}

	assert.Equal(t, "US$1,500.50", f.Format(150050))
	assert.Equal(t, "US$0.05", f.Format(5))
	assert.Equal(t, "US$12,345,678.00", f.Format(1234567800))
}

func TestFormat_NoGrouping(t *testing.T) {
	f := currency.Formatter{Symbol: "$"}
	assert.Equal(t, "$1500000", f.Format(1500000))
}

func TestParse_Permissive(t *testing.T) {
	f := currency.Default()

	assert.Equal(t, billing.Money(1500000), f.Parse("$1.500.000"))
	assert.Equal(t, billing.Money(1500000), f.Parse(" 1 500 000 CLP"))
	assert.Equal(t, billing.Money(0), f.Parse(""))
	assert.Equal(t, billing.Money(0), f.Parse("abc"))
	assert.Equal(t, billing.Money(0), f.Parse("99999999999999999999999"), "overflow reads as zero")
}

func TestParse_RoundTrip(t *testing.T) {
	formatters := []currency.Formatter{
		currency.Default(),
		{Symbol: "US$", ThousandsSeparator: ",", DecimalSeparator: ".", MinorDigits: 2},
		{Symbol: "€", ThousandsSeparator: " ", DecimalSeparator: ",", MinorDigits: 2},
	}
	values := []billing.Money{0, 1, 7, 999, 1000, 1500000, 40_000_001, 9_007_199_254, 1<<53 + 1, 123_456_789_012_345_678, math.MaxInt64}

	for _, f := range formatters {
		for _, v := range values {
			assert.Equal(t, v, f.Parse(f.Format(v)), "%+v round trip %d", f, v)
		}
	}
}

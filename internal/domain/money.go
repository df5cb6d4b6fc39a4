package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a decimal-string amount such as "12.48". Amounts are
// accumulated as decimals end to end; binary floats are never involved.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// FormatAmount renders an amount with exactly two fraction digits, the form
// the payment sheet and the gateway audit notes expect.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// MinorUnits converts a major-unit amount to integer minor units rounded to
// the nearest unit (12.48 -> 1248). The gateway wire format carries minor units.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// MajorUnits converts gateway minor units back to a major-unit decimal
// (1248 -> 12.48).
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-2)
}

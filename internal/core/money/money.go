// Package money provides monetary values as integer minor units (cents).
//
// Storing minor units avoids floating-point drift in running totals. Averages
// and blended unit costs are computed with decimal arithmetic and rounded with
// banker's rounding only at the point of persistence, never mid-calculation.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount in minor units of the tenant currency.
type Money int64

// Zero is the zero amount.
const Zero Money = 0

// FromMinorUnits wraps a raw minor-unit amount.
func FromMinorUnits(v int64) Money { return Money(v) }

// MinorUnits returns the raw minor-unit amount.
func (m Money) MinorUnits() int64 { return int64(m) }

// Decimal returns the amount as a decimal in minor units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(m))
}

// FromDecimal converts a decimal minor-unit amount to Money using banker's
// rounding. This is the only place fractional amounts are rounded.
func FromDecimal(d decimal.Decimal) Money {
	return Money(d.RoundBank(0).IntPart())
}

// Mul returns quantity × unit cost as an exact minor-unit amount.
func Mul(quantity int64, unitCost Money) Money {
	return Money(quantity * int64(unitCost))
}

// Ratio computes numerator/denominator as a decimal without rounding.
// Returns the zero decimal when denominator is zero.
func Ratio(numerator Money, denominator int64) decimal.Decimal {
	if denominator == 0 {
		return decimal.Zero
	}
	return numerator.Decimal().DivRound(decimal.NewFromInt(denominator), 12)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m < 0 }

// Neg returns the negated amount.
func (m Money) Neg() Money { return -m }

// Add returns m + other.
func (m Money) Add(other Money) Money { return m + other }

// Sub returns m - other.
func (m Money) Sub(other Money) Money { return m - other }

// String formats the amount as a decimal with two fractional digits.
// Display-only; persistence always uses minor units.
func (m Money) String() string {
	neg := m < 0
	v := int64(m)
	if neg {
		v = -v
	}
	if neg {
		return fmt.Sprintf("-%d.%02d", v/100, v%100)
	}
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}

// Package money provides fixed-point monetary arithmetic for the ledger.
// All amounts are Philippine pesos with exactly two decimal places
// (centavos). Floating point never enters any computation; rounding, where
// a result would fall below the centavo, is round-half-up.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

const places = 2

// Money wraps decimal.Decimal so every value that flows through the ledger
// has been normalized to centavo precision.
type Money struct {
	decimal.Decimal
}

var Zero = Money{decimal.Zero}

// FromDecimal normalizes d to centavo precision, rounding half up.
func FromDecimal(d decimal.Decimal) Money {
	return Money{d.Round(places)}
}

// FromCentavos builds a Money from integer minor units.
func FromCentavos(centavos int64) Money {
	return Money{decimal.New(centavos, -places)}
}

// FromString parses amounts such as "5000.00". Values with more than two
// decimal places are rejected rather than silently rounded.
func FromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Exponent() < -places {
		return Zero, fmt.Errorf("amount %q has sub-centavo precision", s)
	}
	return Money{d.Round(places)}, nil
}

// MustFromString is FromString for constants in tests and seed data.
func MustFromString(s string) Money {
	m, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Centavos returns the amount in integer minor units.
func (m Money) Centavos() int64 {
	return m.Decimal.Shift(places).IntPart()
}

func (m Money) Add(other Money) Money {
	return Money{m.Decimal.Add(other.Decimal)}
}

func (m Money) Sub(other Money) Money {
	return Money{m.Decimal.Sub(other.Decimal)}
}

// Percent returns pct percent of m, rounded half up to the centavo.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{m.Decimal.Mul(pct).Div(decimal.NewFromInt(100)).Round(places)}
}

func Min(a, b Money) Money {
	if a.Decimal.LessThan(b.Decimal) {
		return a
	}
	return b
}

func Max(a, b Money) Money {
	if a.Decimal.GreaterThan(b.Decimal) {
		return a
	}
	return b
}

func (m Money) IsZero() bool     { return m.Decimal.IsZero() }
func (m Money) IsNegative() bool { return m.Decimal.IsNegative() }
func (m Money) IsPositive() bool { return m.Decimal.IsPositive() }

func (m Money) LessThan(other Money) bool {
	return m.Decimal.LessThan(other.Decimal)
}

func (m Money) GreaterThan(other Money) bool {
	return m.Decimal.GreaterThan(other.Decimal)
}

func (m Money) Equal(other Money) bool {
	return m.Decimal.Equal(other.Decimal)
}

func (m Money) String() string {
	return m.Decimal.StringFixed(places)
}

// Value implements driver.Valuer so gorm stores the fixed-point string.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(value interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return err
	}
	m.Decimal = d.Round(places)
	return nil
}

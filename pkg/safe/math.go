package safe

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnderflow is returned when a subtraction would leave a negative amount.
	ErrUnderflow = errors.New("amount underflow")

	// ErrDivByZero is returned by MulDivDown when the divisor is zero.
	ErrDivByZero = errors.New("division by zero")

	// ErrNotWhole is returned when an amount has a fractional part.
	ErrNotWhole = errors.New("amount is not a whole number of base units")
)

// IsWhole reports whether d is a non-negative integer amount.
func IsWhole(d decimal.Decimal) bool {
	return !d.IsNegative() && d.IsInteger()
}

// Add adds two whole amounts.
func Add(a, b decimal.Decimal) (decimal.Decimal, error) {
	if !IsWhole(a) || !IsWhole(b) {
		return decimal.Zero, fmt.Errorf("add %s + %s: %w", a, b, ErrNotWhole)
	}
	return a.Add(b), nil
}

// Sub subtracts b from a and fails instead of going negative.
func Sub(a, b decimal.Decimal) (decimal.Decimal, error) {
	if !IsWhole(a) || !IsWhole(b) {
		return decimal.Zero, fmt.Errorf("sub %s - %s: %w", a, b, ErrNotWhole)
	}
	if a.LessThan(b) {
		return decimal.Zero, fmt.Errorf("sub %s - %s: %w", a, b, ErrUnderflow)
	}
	return a.Sub(b), nil
}

// MulDivDown returns floor(a * b / c) for whole amounts.
// The product is exact, so the only rounding is the final floor.
func MulDivDown(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	if !IsWhole(a) || !IsWhole(b) || !IsWhole(c) {
		return decimal.Zero, fmt.Errorf("muldiv %s * %s / %s: %w", a, b, c, ErrNotWhole)
	}
	if c.IsZero() {
		return decimal.Zero, fmt.Errorf("muldiv %s * %s / 0: %w", a, b, ErrDivByZero)
	}
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q, nil
}


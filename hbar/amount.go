// Package hbar provides amount and identifier primitives for the Hedera
// settlement network: lossless conversion between human-readable token
// amounts and integer smallest units, and canonicalization of the two wire
// formats of a transaction id.
package hbar

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxDecimals is the largest supported token precision.
const MaxDecimals = 18

// HbarDecimals is the precision of the native asset (1 HBAR = 1e8 tinybar).
const HbarDecimals = 8

// ToSmallestUnit converts a human-readable amount into integer smallest
// units for a token with the given decimal precision. The conversion is
// exact fixed-point arithmetic; amounts with more fractional digits than
// the token supports are rejected rather than rounded, so the function
// round-trips with FromSmallestUnit for every value it accepts.
func ToSmallestUnit(amount decimal.Decimal, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, fmt.Errorf("decimals out of range [0,%d]: %d", MaxDecimals, decimals)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative: %s", amount)
	}

	shifted := amount.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FromSmallestUnit is the exact inverse of ToSmallestUnit.
func FromSmallestUnit(units *big.Int, decimals int) (decimal.Decimal, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return decimal.Decimal{}, fmt.Errorf("decimals out of range [0,%d]: %d", MaxDecimals, decimals)
	}
	if units == nil {
		return decimal.Decimal{}, fmt.Errorf("units cannot be nil")
	}
	if units.Sign() < 0 {
		return decimal.Decimal{}, fmt.Errorf("units cannot be negative: %s", units)
	}
	return decimal.NewFromBigInt(units, 0).Shift(-int32(decimals)), nil
}

// ToTinybar converts an HBAR amount to tinybar. The result must fit in an
// int64, which it does for any balance the network can represent.
func ToTinybar(amount decimal.Decimal) (int64, error) {
	units, err := ToSmallestUnit(amount, HbarDecimals)
	if err != nil {
		return 0, err
	}
	if !units.IsInt64() {
		return 0, fmt.Errorf("tinybar amount overflows int64: %s", units)
	}
	return units.Int64(), nil
}

// FromTinybar converts a tinybar amount to HBAR.
func FromTinybar(tinybar int64) (decimal.Decimal, error) {
	return FromSmallestUnit(big.NewInt(tinybar), HbarDecimals)
}

// ParseAmount parses a decimal amount string, rejecting anything that is
// not a finite non-negative number. Wraps decimal parsing so callers get a
// single validation point for user-supplied amounts.
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount cannot be negative: %s", s)
	}
	return amount, nil
}

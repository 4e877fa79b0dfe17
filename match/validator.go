// Package match finds an invoice's payment among the transfers into the
// merchant account and decides whether a received amount settles the
// required amount under asset-specific tolerance.
package match

import (
	"fmt"

	"github.com/shopspring/decimal"

	paymentapp "github.com/agear13/paymentapp-sub000"
)

// ValidationStatus classifies a received amount against a required amount.
type ValidationStatus string

const (
	StatusValid        ValidationStatus = "VALID"
	StatusUnderpayment ValidationStatus = "UNDERPAYMENT"
	StatusOverpayment  ValidationStatus = "OVERPAYMENT"
)

// Tolerances are percentage bands per asset. Volatile native assets get a
// wider band than stable tokens because acceptable price slippage differs
// by asset; there is deliberately no single global tolerance.
var tolerances = map[paymentapp.AssetType]decimal.Decimal{
	paymentapp.AssetHBAR: decimal.RequireFromString("0.5"),
	paymentapp.AssetUSDC: decimal.RequireFromString("0.1"),
	paymentapp.AssetUSDT: decimal.RequireFromString("0.1"),
}

// defaultTolerance applies to assets without a configured band. The stable
// band is the stricter choice.
var defaultTolerance = decimal.RequireFromString("0.1")

// Tolerance returns the percentage tolerance for an asset.
func Tolerance(asset paymentapp.AssetType) decimal.Decimal {
	if tol, ok := tolerances[asset]; ok {
		return tol
	}
	return defaultTolerance
}

// Verdict is the structured outcome of validating a received amount.
// An under- or overpayment is a classification, not an error.
type Verdict struct {
	Status     ValidationStatus
	Required   decimal.Decimal
	Received   decimal.Decimal
	Difference decimal.Decimal // absolute shortfall or excess
	Tolerance  decimal.Decimal // percentage band applied
	Message    string
}

// Valid reports whether the received amount settles the required amount.
func (v Verdict) Valid() bool {
	return v.Status == StatusValid
}

// Validate computes whether received is within the asset's tolerance of
// required, classifying underpayment vs. overpayment with the shortfall or
// excess for user-facing retry guidance.
func Validate(required, received decimal.Decimal, asset paymentapp.AssetType) Verdict {
	tolerance := Tolerance(asset)
	band := required.Mul(tolerance).Div(decimal.NewFromInt(100))

	verdict := Verdict{
		Required:  required,
		Received:  received,
		Tolerance: tolerance,
	}

	switch {
	case received.LessThan(required.Sub(band)):
		verdict.Status = StatusUnderpayment
		verdict.Difference = required.Sub(received)
		verdict.Message = fmt.Sprintf(
			"payment of %s %s is short by %s; send the remaining amount to settle the invoice",
			received, asset, verdict.Difference)
	case received.GreaterThan(required.Add(band)):
		verdict.Status = StatusOverpayment
		verdict.Difference = received.Sub(required)
		verdict.Message = fmt.Sprintf(
			"payment of %s %s exceeds the required %s by %s",
			received, asset, required, verdict.Difference)
	default:
		verdict.Status = StatusValid
		verdict.Difference = received.Sub(required).Abs()
	}

	return verdict
}

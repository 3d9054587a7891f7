// Package money converts between human-readable decimal amounts and the
// base-unit integer strings the payment protocol carries on the wire.
package money

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse reads a human amount such as "0.05" or "$0.05" into a decimal.
// Negative amounts are rejected.
func Parse(amount string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(amount), "$"))
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("amount is empty")
	}
	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if dec.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount %q is negative", amount)
	}
	return dec, nil
}

// ToBaseUnits converts a human amount to an integer base-unit string for
// an asset with the given decimals. Precision beyond the asset's decimals
// is rejected rather than silently truncated.
func ToBaseUnits(amount string, decimals int) (string, error) {
	dec, err := Parse(amount)
	if err != nil {
		return "", err
	}
	scaled := dec.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return "", fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt().String(), nil
}

// FromBaseUnits renders an integer base-unit string as a human decimal
// amount for an asset with the given decimals.
func FromBaseUnits(baseUnits string, decimals int) (string, error) {
	units, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok {
		return "", fmt.Errorf("invalid base units %q", baseUnits)
	}
	return decimal.NewFromBigInt(units, -int32(decimals)).String(), nil
}

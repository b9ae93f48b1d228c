package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var paisePerRupee = decimal.NewFromInt(100)

// RupeesToPaise converts a rupee amount into integer paise. Amounts with more
// than two decimal places are rejected rather than rounded.
func RupeesToPaise(amount decimal.Decimal) (int64, error) {
	scaled := amount.Mul(paisePerRupee)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-paise precision", amount.String())
	}
	return scaled.IntPart(), nil
}

// PaiseToRupees renders integer paise as a two-decimal rupee amount.
func PaiseToRupees(paise int64) decimal.Decimal {
	return decimal.New(paise, -2)
}

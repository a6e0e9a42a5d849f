package core

import (
	"github.com/shopspring/decimal"
)

// NullDecimalOf wraps a concrete decimal in a valid NullDecimal.
func NullDecimalOf(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// DecimalOr returns nd's value when set, otherwise fallback.
func DecimalOr(nd decimal.NullDecimal, fallback decimal.Decimal) decimal.Decimal {
	if nd.Valid {
		return nd.Decimal
	}
	return fallback
}

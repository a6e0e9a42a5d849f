package normalize

import "github.com/shopspring/decimal"

var (
	minCryptoQty = decimal.New(1, -6)
	minEquityQty = decimal.NewFromInt(1)
)

// QuantizeQty rounds a computed quantity to what the broker accepts: six
// fractional digits with a 0.000001 floor for crypto, whole shares with a
// floor of one for equities. Sizing always rounds down so a budget is never
// exceeded.
func QuantizeQty(qty decimal.Decimal, crypto bool) decimal.Decimal {
	if crypto {
		q := qty.RoundDown(6)
		if q.LessThan(minCryptoQty) {
			return minCryptoQty
		}
		return q
	}
	q := qty.Floor()
	if q.LessThan(minEquityQty) {
		return minEquityQty
	}
	return q
}

package normalize

import "strings"

// IsCrypto classifies a ticker. A symbol is crypto when it contains a slash
// pair separator or ends in a USD/USDT quote after the exchange prefix is
// stripped; everything else is treated as an equity.
func IsCrypto(symbol string) bool {
	s := stripExchangePrefix(strings.ToUpper(strings.TrimSpace(symbol)))
	return strings.Contains(s, "/") ||
		strings.HasSuffix(s, "USDT") ||
		strings.HasSuffix(s, "USD")
}

// NormalizeTradeSymbol canonicalizes a TradingView ticker for the trading
// API: the exchange prefix is dropped, USDT quotes become USD, and pair
// separators are removed. "BINANCE:ETH/USDT" becomes "ETHUSD"; equities pass
// through unchanged.
func NormalizeTradeSymbol(symbol string) string {
	s := stripExchangePrefix(strings.ToUpper(strings.TrimSpace(symbol)))
	s = strings.ReplaceAll(s, "USDT", "USD")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, ":", "")
	return s
}

// ToDataPair renders a normalized crypto symbol in the slash form the market
// data API wants: "ETHUSD" becomes "ETH/USD". Symbols without a recognizable
// USD quote are returned as-is.
func ToDataPair(symbol string) string {
	s := NormalizeTradeSymbol(symbol)
	if strings.HasSuffix(s, "USD") && len(s) > 3 {
		return s[:len(s)-3] + "/USD"
	}
	return s
}

func stripExchangePrefix(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}

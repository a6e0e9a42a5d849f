package normalize

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsCrypto(t *testing.T) {
	tests := []struct {
		symbol string
		want   bool
	}{
		{"AAPL", false},
		{"SPY", false},
		{"NYSE:IBM", false},
		{"ETHUSD", true},
		{"ETH/USD", true},
		{"BTCUSDT", true},
		{"BINANCE:ETHUSDT", true},
		{"COINBASE:BTC/USD", true},
		{"ethusd", true},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := IsCrypto(tt.symbol); got != tt.want {
				t.Errorf("IsCrypto(%q) = %v, want %v", tt.symbol, got, tt.want)
			}
		})
	}
}

func TestNormalizeTradeSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"AAPL", "AAPL"},
		{"aapl ", "AAPL"},
		{"NYSE:IBM", "IBM"},
		{"ETH/USD", "ETHUSD"},
		{"ETHUSDT", "ETHUSD"},
		{"BINANCE:ETH/USDT", "ETHUSD"},
		{"COINBASE:BTCUSD", "BTCUSD"},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := NormalizeTradeSymbol(tt.symbol); got != tt.want {
				t.Errorf("NormalizeTradeSymbol(%q) = %q, want %q", tt.symbol, got, tt.want)
			}
		})
	}
}

func TestNormalizeTradeSymbolIdempotent(t *testing.T) {
	symbols := []string{"AAPL", "BINANCE:ETH/USDT", "ETHUSD", "COINBASE:BTC/USD"}
	for _, s := range symbols {
		once := NormalizeTradeSymbol(s)
		twice := NormalizeTradeSymbol(once)
		if once != twice {
			t.Errorf("normalization of %q not idempotent: %q then %q", s, once, twice)
		}
	}
}

func TestToDataPair(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"ETHUSD", "ETH/USD"},
		{"ETH/USD", "ETH/USD"},
		{"BINANCE:ETHUSDT", "ETH/USD"},
		{"BTCUSD", "BTC/USD"},
		{"AAPL", "AAPL"},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := ToDataPair(tt.symbol); got != tt.want {
				t.Errorf("ToDataPair(%q) = %q, want %q", tt.symbol, got, tt.want)
			}
		})
	}

	// Normalized crypto always yields exactly one separator.
	for _, s := range []string{"ETHUSD", "BTC/USD", "BINANCE:SOL/USDT"} {
		pair := ToDataPair(NormalizeTradeSymbol(s))
		if strings.Count(pair, "/") != 1 {
			t.Errorf("ToDataPair(normalize(%q)) = %q, want exactly one slash", s, pair)
		}
	}
}

func TestQuantizeQty(t *testing.T) {
	tests := []struct {
		name   string
		qty    string
		crypto bool
		want   string
	}{
		{name: "crypto rounds down to 6dp", qty: "0.12345678", crypto: true, want: "0.123456"},
		{name: "crypto below minimum clamps", qty: "0.0000001", crypto: true, want: "0.000001"},
		{name: "crypto zero clamps", qty: "0", crypto: true, want: "0.000001"},
		{name: "crypto passthrough", qty: "1.5", crypto: true, want: "1.5"},
		{name: "equity floors", qty: "2.9", crypto: false, want: "2"},
		{name: "equity below one clamps", qty: "0.55", crypto: false, want: "1"},
		{name: "equity integer passthrough", qty: "7", crypto: false, want: "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := decimal.NewFromString(tt.qty)
			if err != nil {
				t.Fatalf("bad test input %q: %v", tt.qty, err)
			}
			got := QuantizeQty(in, tt.crypto)
			if got.String() != tt.want {
				t.Errorf("QuantizeQty(%s, crypto=%v) = %s, want %s", tt.qty, tt.crypto, got, tt.want)
			}
		})
	}
}

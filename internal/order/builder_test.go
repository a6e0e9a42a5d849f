package order

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
)

func nullDec(f float64) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(f), Valid: true}
}

func TestClientOrderIDDeterministicAndBounded(t *testing.T) {
	jobID := "3f2a1b4c-5d6e-7f80-91a2-b3c4d5e6f708"
	first := ClientOrderID(jobID)
	second := ClientOrderID(jobID)

	if first != second {
		t.Errorf("same job must yield the same id: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "q_") {
		t.Errorf("id %q should carry the q_ prefix", first)
	}
	if strings.Contains(first, "-") {
		t.Errorf("id %q should not contain dashes", first)
	}
	if len(first) > 30 {
		t.Errorf("id %q exceeds 30 chars", first)
	}
	// 2 prefix chars + 32 hex chars truncates to exactly 30.
	if len(first) != 30 {
		t.Errorf("uuid-derived id should be exactly 30 chars, got %d", len(first))
	}
}

func TestBuildBuyBracket(t *testing.T) {
	req, err := Build(&Spec{
		JobID:      "3f2a1b4c-5d6e-7f80-91a2-b3c4d5e6f708",
		Symbol:     "AAPL",
		Side:       core.SideBuy,
		Qty:        decimal.NewFromInt(1),
		TakeProfit: nullDec(186),
		StopLoss:   nullDec(177),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !req.IsBracket() {
		t.Fatal("BUY with both legs must be a bracket")
	}
	if req.Type != core.OrderTypeMarket {
		t.Errorf("type = %q, want market", req.Type)
	}
	if req.TimeInForce != core.TIFDay {
		t.Errorf("tif = %q, want day for equities", req.TimeInForce)
	}
	if !req.TakeProfit.LimitPrice.Equal(decimal.NewFromInt(186)) {
		t.Errorf("tp leg = %s, want 186", req.TakeProfit.LimitPrice)
	}
	if !req.StopLoss.StopPrice.Equal(decimal.NewFromInt(177)) {
		t.Errorf("sl leg = %s, want 177", req.StopLoss.StopPrice)
	}
	if req.Qty != "1" {
		t.Errorf("qty = %q, want \"1\"", req.Qty)
	}
}

func TestBuildSellNeverBrackets(t *testing.T) {
	req, err := Build(&Spec{
		JobID:      "job-1",
		Symbol:     "AAPL",
		Side:       core.SideSell,
		Qty:        decimal.NewFromInt(5),
		TakeProfit: nullDec(186),
		StopLoss:   nullDec(177),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if req.IsBracket() || req.OrderClass != "" {
		t.Error("SELL must stay a plain order even when legs are present")
	}
}

func TestBuildBuyMissingOneLegIsPlain(t *testing.T) {
	req, err := Build(&Spec{
		JobID:      "job-1",
		Symbol:     "AAPL",
		Side:       core.SideBuy,
		Qty:        decimal.NewFromInt(1),
		TakeProfit: nullDec(186),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if req.IsBracket() || req.TakeProfit != nil {
		t.Error("a single leg must not produce a bracket")
	}
}

func TestBuildTIFMatrix(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		want string
	}{
		{"equity default", Spec{Symbol: "AAPL"}, core.TIFDay},
		{"crypto default", Spec{Symbol: "ETHUSD", Crypto: true}, core.TIFGTC},
		{"crypto forbids day", Spec{Symbol: "ETHUSD", Crypto: true, TimeInForce: "day"}, core.TIFGTC},
		{"explicit gtc equity", Spec{Symbol: "AAPL", TimeInForce: "GTC"}, core.TIFGTC},
		{"after hours opg", Spec{Symbol: "AAPL", AfterHoursMode: "opg"}, core.TIFOPG},
		{"after hours opg_market", Spec{Symbol: "AAPL", AfterHoursMode: "opg_market"}, core.TIFOPG},
		{"after hours ignored for crypto", Spec{Symbol: "ETHUSD", Crypto: true, AfterHoursMode: "opg"}, core.TIFGTC},
	}
	for _, tc := range cases {
		tc.spec.JobID = "job-1"
		tc.spec.Side = core.SideBuy
		tc.spec.Qty = decimal.NewFromInt(1)
		req, err := Build(&tc.spec)
		if err != nil {
			t.Fatalf("%s: Build failed: %v", tc.name, err)
		}
		if req.TimeInForce != tc.want {
			t.Errorf("%s: tif = %q, want %q", tc.name, req.TimeInForce, tc.want)
		}
	}
}

func TestBuildLimitRequiresPrice(t *testing.T) {
	_, err := Build(&Spec{
		JobID:  "job-1",
		Symbol: "AAPL",
		Side:   core.SideBuy,
		Qty:    decimal.NewFromInt(1),
		Type:   core.OrderTypeLimit,
	})
	if err == nil {
		t.Fatal("limit order without a price must fail")
	}

	req, err := Build(&Spec{
		JobID:      "job-1",
		Symbol:     "AAPL",
		Side:       core.SideBuy,
		Qty:        decimal.NewFromInt(1),
		Type:       core.OrderTypeLimit,
		LimitPrice: nullDec(179.5),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if req.LimitPrice == nil || !req.LimitPrice.Equal(decimal.NewFromFloat(179.5)) {
		t.Errorf("limit price = %v, want 179.5", req.LimitPrice)
	}
}

func TestBuildRejectsNonPositiveQty(t *testing.T) {
	_, err := Build(&Spec{
		JobID:  "job-1",
		Symbol: "AAPL",
		Side:   core.SideBuy,
		Qty:    decimal.Zero,
	})
	if err == nil {
		t.Fatal("zero qty must fail")
	}
}

func TestBuildFractionalCryptoQty(t *testing.T) {
	req, err := Build(&Spec{
		JobID:  "job-1",
		Symbol: "ETHUSD",
		Side:   core.SideBuy,
		Qty:    decimal.NewFromFloat(0.0004),
		Crypto: true,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if req.Qty != "0.0004" {
		t.Errorf("qty = %q, want \"0.0004\"", req.Qty)
	}
}

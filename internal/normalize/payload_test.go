package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
)

const scenarioBody = `{
	"passphrase": "A_16_char_pass!!",
	"strategy": "momo",
	"ticker": "AAPL",
	"timeframe": "5",
	"action": "buy",
	"bar_time": 1727357550000,
	"price": 180.0,
	"atr": 1.5,
	"trail_atr_mult": 2.0,
	"risk_pct": 0.01
}`

func mustDecode(t *testing.T, body string) *Payload {
	t.Helper()
	p, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if err := p.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return p
}

func TestDecodeAndNormalize(t *testing.T) {
	p := mustDecode(t, scenarioBody)

	if p.Passphrase != "A_16_char_pass!!" {
		t.Errorf("Passphrase = %q", p.Passphrase)
	}
	if p.Strategy != "momo" || p.Ticker != "AAPL" || p.Timeframe != "5" {
		t.Errorf("identity fields = %q %q %q", p.Strategy, p.Ticker, p.Timeframe)
	}
	if p.Action != "BUY" {
		t.Errorf("Action = %q, want BUY", p.Action)
	}
	if p.BarTimeMS != 1727357550000 {
		t.Errorf("BarTimeMS = %d", p.BarTimeMS)
	}
	if p.Subaccount != "default" {
		t.Errorf("Subaccount = %q, want default", p.Subaccount)
	}
	if !p.Price.Valid || !p.Price.Decimal.Equal(decimal.NewFromInt(180)) {
		t.Errorf("Price = %+v", p.Price)
	}
	if !p.RiskPct.Valid || !p.RiskPct.Decimal.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("RiskPct = %+v", p.RiskPct)
	}
	if p.QtyOverride.Valid || p.TakeProfit.Valid || p.FlatExit {
		t.Errorf("unset optionals decoded as set: %+v %+v %v", p.QtyOverride, p.TakeProfit, p.FlatExit)
	}

	want := "momo|AAPL|5|1727357550000|BUY"
	if got := p.DedupKey(); got != want {
		t.Errorf("DedupKey = %q, want %q", got, want)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"strategy": `)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
	if _, err := Decode([]byte(`[1, 2, 3]`)); err == nil {
		t.Fatal("expected error for non-object body")
	}
}

func TestDecodeExtractsPassphraseBeforeValidation(t *testing.T) {
	p, err := Decode([]byte(`{"passphrase": "letmein", "ticker": "AAPL"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if p.Passphrase != "letmein" {
		t.Errorf("Passphrase = %q, want letmein", p.Passphrase)
	}
	// The body is missing most required fields; that must not stop decoding.
	if err := p.Normalize(); err == nil {
		t.Error("Normalize should fail on missing fields")
	}
}

func TestNormalizeMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing strategy",
			body: `{"ticker":"AAPL","timeframe":"5","action":"buy","bar_time":1}`,
			want: "missing strategy",
		},
		{
			name: "missing ticker",
			body: `{"strategy":"s","timeframe":"5","action":"buy","bar_time":1}`,
			want: "missing ticker",
		},
		{
			name: "missing bar_time",
			body: `{"strategy":"s","ticker":"AAPL","timeframe":"5","action":"buy"}`,
			want: "missing bar_time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode([]byte(tt.body))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			err = p.Normalize()
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestNormalizeActionValidation(t *testing.T) {
	body := `{"strategy":"s","ticker":"AAPL","timeframe":"5","action":"hold","bar_time":1727357550}`
	p, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	err = p.Normalize()
	if err == nil {
		t.Fatal("expected error for action=hold")
	}
	fe, ok := err.(*FieldError)
	if !ok || fe.Field != "action" {
		t.Errorf("error = %v, want FieldError on action", err)
	}

	p = mustDecode(t, `{"strategy":"s","ticker":"AAPL","timeframe":"5","action":"sell","bar_time":1727357550}`)
	if p.Action != "SELL" {
		t.Errorf("Action = %q, want SELL", p.Action)
	}
}

func TestNormalizeStringNumbers(t *testing.T) {
	body := `{
		"strategy": "momo",
		"ticker": "ETHUSD",
		"timeframe": 15,
		"action": "BUY",
		"bar_time": "1727357550",
		"price": "2400.25",
		"qty_override": "0.5",
		"max_slots": "4",
		"flat_exit": "true"
	}`
	p := mustDecode(t, body)

	if p.Timeframe != "15" {
		t.Errorf("Timeframe = %q, want 15", p.Timeframe)
	}
	if !p.Price.Valid || p.Price.Decimal.String() != "2400.25" {
		t.Errorf("Price = %+v", p.Price)
	}
	if !p.QtyOverride.Valid || p.QtyOverride.Decimal.String() != "0.5" {
		t.Errorf("QtyOverride = %+v", p.QtyOverride)
	}
	if !p.MaxSlots.Valid || p.MaxSlots.Int64 != 4 {
		t.Errorf("MaxSlots = %+v", p.MaxSlots)
	}
	if !p.FlatExit {
		t.Error("FlatExit = false, want true")
	}
}

func TestNormalizeTakeProfitAliases(t *testing.T) {
	base := `{"strategy":"s","ticker":"AAPL","timeframe":"5","action":"BUY","bar_time":1727357550,`

	tests := []struct {
		name string
		tail string
		want string
	}{
		{name: "tp", tail: `"tp": 186.0}`, want: "186"},
		{name: "take_profit", tail: `"take_profit": "187.5"}`, want: "187.5"},
		{name: "take_profit_px", tail: `"take_profit_px": 188}`, want: "188"},
		{name: "null tp falls through", tail: `"tp": null, "take_profit": 189}`, want: "189"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustDecode(t, base+tt.tail)
			if !p.TakeProfit.Valid || p.TakeProfit.Decimal.String() != tt.want {
				t.Errorf("TakeProfit = %+v, want %s", p.TakeProfit, tt.want)
			}
		})
	}

	p := mustDecode(t, base+`"sl": "", "stop_loss": 177.0}`)
	if !p.StopLoss.Valid || p.StopLoss.Decimal.String() != "177" {
		t.Errorf("StopLoss = %+v, want 177", p.StopLoss)
	}
}

func TestNormalizeSubaccountAndAfterHours(t *testing.T) {
	body := `{
		"strategy": "s",
		"ticker": "AAPL",
		"timeframe": "5",
		"action": "BUY",
		"bar_time": 1727357550,
		"subaccount": "alt",
		"after_hours_mode": "OPG_Market"
	}`
	p := mustDecode(t, body)
	if p.Subaccount != "alt" {
		t.Errorf("Subaccount = %q, want alt", p.Subaccount)
	}
	if p.AfterHoursMode != "opg_market" {
		t.Errorf("AfterHoursMode = %q, want opg_market", p.AfterHoursMode)
	}
}

func TestNormalizeRejectsGarbageNumbers(t *testing.T) {
	body := `{"strategy":"s","ticker":"AAPL","timeframe":"5","action":"BUY","bar_time":1727357550,"price":"a lot"}`
	p, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	err = p.Normalize()
	if err == nil {
		t.Fatal("expected error for price='a lot'")
	}
	fe, ok := err.(*FieldError)
	if !ok || fe.Field != "price" {
		t.Errorf("error = %v, want FieldError on price", err)
	}
}

func TestRawPreservesBody(t *testing.T) {
	p := mustDecode(t, scenarioBody)
	if string(p.Raw()) != scenarioBody {
		t.Error("Raw() does not round-trip the body")
	}
}

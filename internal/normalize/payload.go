package normalize

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
)

// FieldError reports a payload field that failed the validation pass. Its
// message is stable and safe to return to the webhook caller.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Reason == "" {
		return "missing " + e.Field
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// requiredFields are asserted present, in this order, before any coercion
// runs. The first absent one decides the error message.
var requiredFields = []string{"strategy", "ticker", "timeframe", "action", "bar_time"}

// Payload is one decoded webhook body. TradingView templates emit numbers as
// strings and use several spellings for the same field, so every accessor
// tolerates both representations. The typed fields are only meaningful after
// Normalize has returned nil.
type Payload struct {
	Passphrase string

	Strategy   string
	Ticker     string
	Timeframe  string
	Action     string
	Subaccount string

	BarTimeMS int64
	BarTime   time.Time

	Price        decimal.NullDecimal
	ATR          decimal.NullDecimal
	RiskPct      decimal.NullDecimal
	TrailATRMult decimal.NullDecimal
	RMultipleTP  decimal.NullDecimal
	BufferRatio  decimal.NullDecimal
	MaxSlots     sql.NullInt64

	QtyOverride        decimal.NullDecimal
	PercentageOverride decimal.NullDecimal
	TakeProfit         decimal.NullDecimal
	StopLoss           decimal.NullDecimal
	FlatExit           bool
	AfterHoursMode     string

	raw    []byte
	fields map[string]json.RawMessage
}

// Decode parses the body as a JSON object. It fails only on malformed JSON;
// field validation happens in Normalize so that authentication can be checked
// against the passphrase before any schema error is reported.
func Decode(body []byte) (*Payload, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	p := &Payload{
		raw:    append([]byte(nil), body...),
		fields: fields,
	}
	if raw, ok := fields["passphrase"]; ok {
		if s, err := asString(raw); err == nil {
			p.Passphrase = s
		}
	}
	return p, nil
}

// Raw returns the verbatim body bytes the payload was decoded from.
func (p *Payload) Raw() []byte {
	return p.raw
}

// Normalize runs the single validation pass: required fields, action casing,
// bar-time coercion and typed extraction of every optional sizing hint.
func (p *Payload) Normalize() error {
	for _, field := range requiredFields {
		if _, ok := p.fields[field]; !ok {
			return &FieldError{Field: field}
		}
	}

	var err error
	if p.Strategy, err = p.stringField("strategy"); err != nil {
		return err
	}
	if p.Ticker, err = p.stringField("ticker"); err != nil {
		return err
	}
	if p.Timeframe, err = p.stringField("timeframe"); err != nil {
		return err
	}

	action, err := p.stringField("action")
	if err != nil {
		return err
	}
	if p.Action, err = NormalizeAction(action); err != nil {
		return &FieldError{Field: "action", Reason: err.Error()}
	}

	ms, err := CoerceBarTimeMS(p.fields["bar_time"])
	if err != nil {
		return &FieldError{Field: "bar_time", Reason: err.Error()}
	}
	p.BarTimeMS = ms
	p.BarTime = BarTimeUTC(ms)

	p.Subaccount = "default"
	if _, ok := p.fields["subaccount"]; ok {
		s, err := p.stringField("subaccount")
		if err != nil {
			return err
		}
		if s != "" {
			p.Subaccount = s
		}
	}

	if p.Price, err = p.numberField("price"); err != nil {
		return err
	}
	if p.ATR, err = p.numberField("atr"); err != nil {
		return err
	}
	if p.RiskPct, err = p.numberField("risk_pct"); err != nil {
		return err
	}
	if p.TrailATRMult, err = p.numberField("trail_atr_mult"); err != nil {
		return err
	}
	if p.RMultipleTP, err = p.numberField("r_multiple_tp"); err != nil {
		return err
	}
	if p.BufferRatio, err = p.numberField("buffer_ratio"); err != nil {
		return err
	}
	if p.QtyOverride, err = p.numberField("qty_override"); err != nil {
		return err
	}
	if p.PercentageOverride, err = p.numberField("percentage_override"); err != nil {
		return err
	}
	if p.TakeProfit, err = p.numberField("tp", "take_profit", "take_profit_px"); err != nil {
		return err
	}
	if p.StopLoss, err = p.numberField("sl", "stop_loss"); err != nil {
		return err
	}
	if p.MaxSlots, err = p.intField("max_slots"); err != nil {
		return err
	}
	if p.FlatExit, err = p.boolField("flat_exit"); err != nil {
		return err
	}

	if _, ok := p.fields["after_hours_mode"]; ok {
		mode, err := p.stringField("after_hours_mode")
		if err != nil {
			return err
		}
		p.AfterHoursMode = strings.ToLower(mode)
	}

	return nil
}

// DedupKey is the content address of the signal:
// strategy|ticker|timeframe|bar_time_ms|action.
func (p *Payload) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%d|%s", p.Strategy, p.Ticker, p.Timeframe, p.BarTimeMS, p.Action)
}

// NormalizeAction uppercases and validates the trade action.
func NormalizeAction(action string) (string, error) {
	a := strings.ToUpper(strings.TrimSpace(action))
	if a != core.ActionBuy && a != core.ActionSell {
		return "", fmt.Errorf("must be %s or %s", core.ActionBuy, core.ActionSell)
	}
	return a, nil
}

func (p *Payload) stringField(name string) (string, error) {
	raw, ok := p.fields[name]
	if !ok {
		return "", nil
	}
	s, err := asString(raw)
	if err != nil {
		return "", &FieldError{Field: name, Reason: err.Error()}
	}
	return s, nil
}

// numberField walks the alias names in order and returns the first value
// present and non-null.
func (p *Payload) numberField(names ...string) (decimal.NullDecimal, error) {
	for _, name := range names {
		raw, ok := p.fields[name]
		if !ok {
			continue
		}
		nd, err := asNullDecimal(raw)
		if err != nil {
			return decimal.NullDecimal{}, &FieldError{Field: name, Reason: err.Error()}
		}
		if nd.Valid {
			return nd, nil
		}
	}
	return decimal.NullDecimal{}, nil
}

func (p *Payload) intField(name string) (sql.NullInt64, error) {
	raw, ok := p.fields[name]
	if !ok || isNull(raw) {
		return sql.NullInt64{}, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		n, err := num.Int64()
		if err != nil {
			return sql.NullInt64{}, &FieldError{Field: name, Reason: "not an integer"}
		}
		return sql.NullInt64{Int64: n, Valid: true}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return sql.NullInt64{}, &FieldError{Field: name, Reason: "not an integer"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullInt64{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return sql.NullInt64{}, &FieldError{Field: name, Reason: "not an integer"}
	}
	return sql.NullInt64{Int64: n, Valid: true}, nil
}

func (p *Payload) boolField(name string) (bool, error) {
	raw, ok := p.fields[name]
	if !ok || isNull(raw) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		f, ferr := num.Float64()
		if ferr != nil {
			return false, &FieldError{Field: name, Reason: "not a boolean"}
		}
		return f != 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, &FieldError{Field: name, Reason: "not a boolean"}
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no", "off":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	default:
		return false, &FieldError{Field: name, Reason: "not a boolean"}
	}
}

func asString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String(), nil
	}
	return "", fmt.Errorf("not a string")
}

func asNullDecimal(raw json.RawMessage) (decimal.NullDecimal, error) {
	if isNull(raw) {
		return decimal.NullDecimal{}, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		d, err := decimal.NewFromString(num.String())
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("not a number")
		}
		return decimal.NullDecimal{Decimal: d, Valid: true}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("not a number")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("not a number")
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

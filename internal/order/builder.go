// Package order assembles broker order requests from sizing results.
package order

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
)

const clientOrderIDMax = 30

// Spec describes one order to build. Zero values fall back to a market
// order with the venue's default time in force.
type Spec struct {
	JobID  string
	Symbol string
	Side   string
	Qty    decimal.Decimal
	Crypto bool

	Type       string
	LimitPrice decimal.NullDecimal
	StopPrice  decimal.NullDecimal

	TakeProfit decimal.NullDecimal
	StopLoss   decimal.NullDecimal

	TimeInForce    string
	AfterHoursMode string
}

// ClientOrderID derives the deterministic idempotency key for a job. The
// same job always produces the same id, so a replayed submission collides
// at the broker instead of double-filling.
func ClientOrderID(jobID string) string {
	id := "q_" + strings.ReplaceAll(jobID, "-", "")
	if len(id) > clientOrderIDMax {
		id = id[:clientOrderIDMax]
	}
	return id
}

// Build renders the wire request. A bracket is emitted only for a BUY that
// carries both legs; everything else goes out as a plain market, limit or
// stop order.
func Build(spec *Spec) (*core.OrderRequest, error) {
	if !spec.Qty.IsPositive() {
		return nil, fmt.Errorf("order qty must be positive, got %s", spec.Qty)
	}
	if spec.Side != core.SideBuy && spec.Side != core.SideSell {
		return nil, fmt.Errorf("unknown order side %q", spec.Side)
	}

	typ := spec.Type
	if typ == "" {
		typ = core.OrderTypeMarket
	}

	req := &core.OrderRequest{
		Symbol:        spec.Symbol,
		Qty:           spec.Qty.String(),
		Side:          spec.Side,
		Type:          typ,
		TimeInForce:   resolveTIF(spec),
		ClientOrderID: ClientOrderID(spec.JobID),
	}

	switch typ {
	case core.OrderTypeMarket:
	case core.OrderTypeLimit:
		if !spec.LimitPrice.Valid {
			return nil, errors.New("limit order requires a limit price")
		}
		p := spec.LimitPrice.Decimal
		req.LimitPrice = &p
	case core.OrderTypeStop:
		if !spec.StopPrice.Valid {
			return nil, errors.New("stop order requires a stop price")
		}
		p := spec.StopPrice.Decimal
		req.StopPrice = &p
	default:
		return nil, fmt.Errorf("unknown order type %q", typ)
	}

	if spec.Side == core.SideBuy && spec.TakeProfit.Valid && spec.StopLoss.Valid {
		req.OrderClass = core.OrderClassBracket
		req.TakeProfit = &core.TakeProfit{LimitPrice: spec.TakeProfit.Decimal}
		req.StopLoss = &core.StopLoss{StopPrice: spec.StopLoss.Decimal}
	}

	return req, nil
}

// resolveTIF picks the time in force: the explicit value if given, else day
// for equities and gtc for crypto. Crypto never trades day, and an
// after-hours mode queues equity orders for the next open.
func resolveTIF(spec *Spec) string {
	tif := strings.ToLower(spec.TimeInForce)
	if tif == "" {
		if spec.Crypto {
			tif = core.TIFGTC
		} else {
			tif = core.TIFDay
		}
	}
	if spec.Crypto && tif == core.TIFDay {
		tif = core.TIFGTC
	}
	if !spec.Crypto {
		switch spec.AfterHoursMode {
		case "opg", "opg_market":
			tif = core.TIFOPG
		}
	}
	return tif
}

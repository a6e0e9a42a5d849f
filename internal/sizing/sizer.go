// Package sizing turns a claimed job plus live account state into an
// executable quantity and optional bracket legs.
package sizing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
	"signal_relay/internal/normalize"
	"signal_relay/internal/risk"
	apperrors "signal_relay/pkg/errors"
)

// SkipMaxSlotsFull marks a BUY that found every equity slot occupied. The
// worker records it as a completed no-op, not a failure.
const SkipMaxSlotsFull = "max_slots_full"

var (
	defaultRMultiple   = decimal.NewFromFloat(2.0)
	defaultBufferRatio = decimal.NewFromFloat(0.05)
	maxBufferRatio     = decimal.NewFromFloat(0.95)
	minRiskPerShare    = decimal.NewFromFloat(0.01)
	one                = decimal.NewFromInt(1)
)

// Request carries every sizing hint for one job. The worker assembles it
// from the queue row plus the re-parsed raw payload.
type Request struct {
	Action string
	Symbol string

	Entry        decimal.NullDecimal
	ATR          decimal.NullDecimal
	TrailATRMult decimal.NullDecimal
	RMultipleTP  decimal.NullDecimal
	RiskPct      decimal.NullDecimal
	MaxSlots     sql.NullInt64
	BufferRatio  decimal.NullDecimal

	QtyOverride        decimal.NullDecimal
	PercentageOverride decimal.NullDecimal
	TakeProfit         decimal.NullDecimal
	StopLoss           decimal.NullDecimal
	FlatExit           bool
}

// Result is the sizing outcome. Skip means the job completes as done without
// any order, carrying SkipReason for audit.
type Result struct {
	Qty        decimal.Decimal
	TakeProfit decimal.NullDecimal
	StopLoss   decimal.NullDecimal
	Skip       bool
	SkipReason string
	Crypto     bool
}

// Sizer computes order quantities. It reads equity through the shared
// account cache so it sees the same snapshot the risk guard just acted on.
type Sizer struct {
	accounts *risk.AccountCache
	logger   core.ILogger
}

func NewSizer(accounts *risk.AccountCache, logger core.ILogger) *Sizer {
	return &Sizer{
		accounts: accounts,
		logger:   logger.WithField("component", "sizer"),
	}
}

// Size resolves the quantity ladder for req against the broker's live state.
func (s *Sizer) Size(ctx context.Context, client core.BrokerClient, alias string, req *Request) (*Result, error) {
	crypto := normalize.IsCrypto(req.Symbol)
	switch req.Action {
	case core.ActionBuy:
		return s.sizeBuy(ctx, client, alias, req, crypto)
	case core.ActionSell:
		return s.sizeSell(ctx, client, req, crypto)
	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}
}

// sizeBuy walks the entry ladder: explicit quantity, cash percentage, equity
// slots, risk fraction, then a single share or unit.
func (s *Sizer) sizeBuy(ctx context.Context, client core.BrokerClient, alias string, req *Request, crypto bool) (*Result, error) {
	var qty decimal.Decimal

	switch {
	case req.QtyOverride.Valid:
		qty = req.QtyOverride.Decimal

	case req.PercentageOverride.Valid:
		account, err := s.accounts.Account(ctx, alias, client)
		if err != nil {
			return nil, fmt.Errorf("fetch account: %w", err)
		}
		price, err := s.entryOrLast(ctx, client, req, crypto)
		if err != nil {
			return nil, err
		}
		qty = account.Cash.Mul(req.PercentageOverride.Decimal).Div(price)

	case req.MaxSlots.Valid:
		account, err := s.accounts.Account(ctx, alias, client)
		if err != nil {
			return nil, fmt.Errorf("fetch account: %w", err)
		}
		buffer := defaultBufferRatio
		if req.BufferRatio.Valid {
			buffer = req.BufferRatio.Decimal
		}
		if buffer.IsNegative() {
			buffer = decimal.Zero
		}
		if buffer.GreaterThan(maxBufferRatio) {
			buffer = maxBufferRatio
		}
		available := account.Equity.Mul(one.Sub(buffer))
		if !available.IsPositive() {
			return nil, fmt.Errorf("no sizable equity after %s buffer: %w", buffer, apperrors.ErrInsufficientFunds)
		}

		positions, err := client.GetAllPositions(ctx)
		if err != nil {
			return nil, fmt.Errorf("count open slots: %w", err)
		}
		open := 0
		for _, pos := range positions {
			if !pos.Qty.IsZero() {
				open++
			}
		}
		if int64(open) >= req.MaxSlots.Int64 {
			s.logger.Info("all slots occupied, skipping entry",
				"symbol", req.Symbol, "open_slots", open, "max_slots", req.MaxSlots.Int64)
			return &Result{Skip: true, SkipReason: SkipMaxSlotsFull, Crypto: crypto}, nil
		}

		price, err := s.lastOrEntry(ctx, client, req, crypto)
		if err != nil {
			return nil, err
		}
		qty = available.Div(decimal.NewFromInt(req.MaxSlots.Int64)).Div(price)

	case req.RiskPct.Valid:
		account, err := s.accounts.Account(ctx, alias, client)
		if err != nil {
			return nil, fmt.Errorf("fetch account: %w", err)
		}
		price, err := s.entryOrLast(ctx, client, req, crypto)
		if err != nil {
			return nil, err
		}
		qty = account.Equity.Mul(req.RiskPct.Decimal).Div(price)

	default:
		qty = one
	}

	qty = normalize.QuantizeQty(qty, crypto)
	tp, sl := s.bracketLegs(req, crypto)

	s.logger.Debug("buy sized",
		"symbol", req.Symbol, "qty", qty.String(),
		"tp", tp.Decimal.String(), "sl", sl.Decimal.String())
	return &Result{Qty: qty, TakeProfit: tp, StopLoss: sl, Crypto: crypto}, nil
}

// sizeSell resolves an exit quantity from the held position. There is no
// opening-short path; selling without a long fails.
func (s *Sizer) sizeSell(ctx context.Context, client core.BrokerClient, req *Request, crypto bool) (*Result, error) {
	pos, err := client.GetOpenPosition(ctx, req.Symbol)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ErrNotHolding
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	held := pos.Qty.Abs()
	if held.IsZero() {
		return nil, apperrors.ErrNotHolding
	}

	qty := held
	switch {
	case req.FlatExit:
		// forced full exit regardless of overrides
	case req.QtyOverride.Valid:
		qty = decimal.Min(req.QtyOverride.Decimal, held)
	case req.PercentageOverride.Valid:
		qty = held.Mul(req.PercentageOverride.Decimal)
	}

	qty = normalize.QuantizeQty(qty, crypto)
	if qty.GreaterThan(held) {
		qty = held
	}
	return &Result{Qty: qty, Crypto: crypto}, nil
}

// bracketLegs derives take-profit and stop-loss for a BUY entry. Explicit
// payload legs win over the ATR derivation, leg by leg. Equity legs round to
// whole cents since the broker rejects sub-penny prices.
func (s *Sizer) bracketLegs(req *Request, crypto bool) (tp, sl decimal.NullDecimal) {
	if req.Entry.Valid && req.ATR.Valid && req.TrailATRMult.Valid {
		entry := req.Entry.Decimal
		stop := entry.Sub(req.ATR.Decimal.Mul(req.TrailATRMult.Decimal))
		riskPerShare := decimal.Max(entry.Sub(stop), minRiskPerShare)
		rMult := defaultRMultiple
		if req.RMultipleTP.Valid {
			rMult = req.RMultipleTP.Decimal
		}
		if stop.IsPositive() {
			sl = decimal.NullDecimal{Decimal: stop, Valid: true}
			tp = decimal.NullDecimal{Decimal: entry.Add(rMult.Mul(riskPerShare)), Valid: true}
		}
	}
	if req.TakeProfit.Valid {
		tp = req.TakeProfit
	}
	if req.StopLoss.Valid {
		sl = req.StopLoss
	}
	if !crypto {
		if tp.Valid {
			tp.Decimal = tp.Decimal.Round(2)
		}
		if sl.Valid {
			sl.Decimal = sl.Decimal.Round(2)
		}
	}
	return tp, sl
}

// entryOrLast prefers the signal's entry price, falling back to live data.
func (s *Sizer) entryOrLast(ctx context.Context, client core.BrokerClient, req *Request, crypto bool) (decimal.Decimal, error) {
	if req.Entry.Valid && req.Entry.Decimal.IsPositive() {
		return req.Entry.Decimal, nil
	}
	return s.lastPrice(ctx, client, req.Symbol, crypto)
}

// lastOrEntry prefers the live last price, falling back to the signal's
// entry when market data is unavailable.
func (s *Sizer) lastOrEntry(ctx context.Context, client core.BrokerClient, req *Request, crypto bool) (decimal.Decimal, error) {
	price, err := s.lastPrice(ctx, client, req.Symbol, crypto)
	if err == nil {
		return price, nil
	}
	if req.Entry.Valid && req.Entry.Decimal.IsPositive() {
		return req.Entry.Decimal, nil
	}
	return decimal.Zero, err
}

func (s *Sizer) lastPrice(ctx context.Context, client core.BrokerClient, symbol string, crypto bool) (decimal.Decimal, error) {
	if crypto {
		quote, err := client.GetLatestCryptoQuote(ctx, normalize.ToDataPair(symbol))
		if err != nil {
			return decimal.Zero, err
		}
		if quote.Ask.IsPositive() {
			return quote.Ask, nil
		}
		if quote.Bid.IsPositive() {
			return quote.Bid, nil
		}
		return decimal.Zero, apperrors.ErrNoPriceData
	}
	price, err := client.GetLatestTrade(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, apperrors.ErrNoPriceData
	}
	return price, nil
}

package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
	"signal_relay/internal/normalize"
	apperrors "signal_relay/pkg/errors"
)

// legacyBatch bounds one v1 drain pass. The queue is tiny in practice; the
// bound keeps a flood of replayed webhooks from starving the v2 pool.
const legacyBatch = 20

// LegacyRunner drains the v1 webhook queue. The v1 contract predates the
// signal pipeline: plain market orders, no brackets, no risk guard, and a
// broker failure simply marks the row error for manual review.
type LegacyRunner struct {
	store   core.QueueStore
	brokers ClientProvider
	logger  core.ILogger
}

func NewLegacyRunner(store core.QueueStore, brokers ClientProvider, logger core.ILogger) *LegacyRunner {
	return &LegacyRunner{
		store:   store,
		brokers: brokers,
		logger:  logger.WithField("component", "legacy_worker"),
	}
}

// Drain claims one batch of pending rows and drives each to processed or
// error. It returns the number of rows that executed cleanly.
func (r *LegacyRunner) Drain(ctx context.Context) int {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	rows, err := r.store.ClaimWebhookJobs(sctx, legacyBatch)
	cancel()
	if err != nil {
		r.logger.Error("claim v1 rows failed", "error", err)
		return 0
	}

	processed := 0
	for _, row := range rows {
		if err := r.executeRow(ctx, row); err != nil {
			r.logger.Warn("v1 order failed", "id", row.ID, "error", err)
			r.completeRow(ctx, row.ID, core.V1Error, err.Error())
			continue
		}
		r.completeRow(ctx, row.ID, core.V1Processed, "")
		processed++
	}
	return processed
}

func (r *LegacyRunner) executeRow(ctx context.Context, row *core.WebhookJob) error {
	ord, err := parseV1Order(row.Data)
	if err != nil {
		return err
	}
	client, err := r.brokers.Client(ord.Subaccount)
	if err != nil {
		return fmt.Errorf("subaccount %s: %w", ord.Subaccount, err)
	}

	symbol := normalize.NormalizeTradeSymbol(ord.Ticker)
	crypto := normalize.IsCrypto(ord.Ticker)

	var qty decimal.Decimal
	switch ord.Action {
	case core.ActionBuy:
		qty, err = r.buyQty(ctx, client, ord, symbol, crypto)
	case core.ActionSell:
		qty, err = r.sellQty(ctx, client, symbol)
	}
	if err != nil {
		return err
	}

	tif := core.TIFDay
	if crypto {
		tif = core.TIFGTC
	}
	req := &core.OrderRequest{
		Symbol:      symbol,
		Qty:         qty.String(),
		Side:        sideFor(ord.Action),
		Type:        core.OrderTypeMarket,
		TimeInForce: tif,
	}

	sctx, cancel := context.WithTimeout(ctx, submitTimeout)
	submitted, err := client.SubmitOrder(sctx, req)
	cancel()
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	r.logger.Info("v1 order submitted",
		"id", row.ID,
		"order_id", submitted.ID,
		"symbol", symbol,
		"side", req.Side,
		"qty", req.Qty,
	)
	return nil
}

// buyQty resolves the legacy entry ladder: explicit qty, percentage of cash,
// then a single share or unit.
func (r *LegacyRunner) buyQty(ctx context.Context, client core.BrokerClient, ord *v1Order, symbol string, crypto bool) (decimal.Decimal, error) {
	if ord.Qty.Valid {
		return ord.Qty.Decimal, nil
	}
	if ord.Percentage.Valid {
		account, err := client.GetAccount(ctx)
		if err != nil {
			return decimal.Zero, fmt.Errorf("fetch account: %w", err)
		}
		price, err := r.lastPrice(ctx, client, symbol, crypto)
		if err != nil {
			return decimal.Zero, err
		}
		qty := account.Cash.Mul(ord.Percentage.Decimal).Div(price)
		return normalize.QuantizeQty(qty, crypto), nil
	}
	return decimal.NewFromInt(1), nil
}

// sellQty flattens the whole position. v1 has no partial exits.
func (r *LegacyRunner) sellQty(ctx context.Context, client core.BrokerClient, symbol string) (decimal.Decimal, error) {
	pos, err := client.GetOpenPosition(ctx, symbol)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%s: %w", symbol, apperrors.ErrNotHolding)
		}
		return decimal.Zero, fmt.Errorf("load position: %w", err)
	}
	held := pos.Qty.Abs()
	if held.IsZero() {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, apperrors.ErrNotHolding)
	}
	return held, nil
}

func (r *LegacyRunner) lastPrice(ctx context.Context, client core.BrokerClient, symbol string, crypto bool) (decimal.Decimal, error) {
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

func (r *LegacyRunner) completeRow(ctx context.Context, id int64, status, msg string) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := r.store.CompleteWebhookJob(sctx, id, status, msg); err != nil {
		r.logger.Error("complete v1 row failed", "id", id, "error", err)
	}
}

// v1Order is the slice of the stored payload the runner acts on. Ingress
// already normalized action and defaulted the subaccount; qty and percentage
// still arrive as either JSON numbers or strings.
type v1Order struct {
	Ticker     string
	Action     string
	Subaccount string
	Qty        decimal.NullDecimal
	Percentage decimal.NullDecimal
}

func parseV1Order(data []byte) (*v1Order, error) {
	var fields struct {
		Ticker     string          `json:"ticker"`
		Action     string          `json:"action"`
		Subaccount string          `json:"subaccount"`
		Qty        json.RawMessage `json:"qty"`
		Percentage json.RawMessage `json:"percentage"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("payload is not JSON: %w", err)
	}

	ord := &v1Order{
		Ticker:     strings.TrimSpace(fields.Ticker),
		Subaccount: strings.TrimSpace(fields.Subaccount),
	}
	if ord.Ticker == "" {
		return nil, fmt.Errorf("payload missing ticker")
	}
	if ord.Subaccount == "" {
		ord.Subaccount = "default"
	}

	action, err := normalize.NormalizeAction(fields.Action)
	if err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}
	ord.Action = action

	if ord.Qty, err = v1Decimal(fields.Qty); err != nil {
		return nil, fmt.Errorf("qty: %w", err)
	}
	if ord.Percentage, err = v1Decimal(fields.Percentage); err != nil {
		return nil, fmt.Errorf("percentage: %w", err)
	}
	return ord, nil
}

func v1Decimal(raw json.RawMessage) (decimal.NullDecimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
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

// decimalNull keeps struct literals in this package short.
type decimalNull = decimal.NullDecimal

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

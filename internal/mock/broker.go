// Package mock provides in-memory fakes for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
	apperrors "signal_relay/pkg/errors"
)

// Broker implements core.BrokerClient against in-memory state. Duplicate
// client order ids are rejected the way the live API rejects them, so the
// worker's idempotent-replay path can be exercised.
type Broker struct {
	mu sync.RWMutex

	account   *core.Account
	positions map[string]*core.Position
	trades    map[string]decimal.Decimal
	quotes    map[string]*core.Quote
	open      map[string][]*core.Order

	orders    []*core.Order
	requests  []*core.OrderRequest
	clientIDs map[string]*core.Order
	canceled  []string
	orderSeq  int

	accountErr   error
	positionsErr error
	submitErr    error
	submitFails  int
	healthErr    error
	paper        bool
}

// NewBroker returns a paper-mode broker with a flat 10k account.
func NewBroker() *Broker {
	eq := decimal.NewFromInt(10000)
	return &Broker{
		account:   &core.Account{Equity: eq, Cash: eq, LastEquity: eq},
		positions: make(map[string]*core.Position),
		trades:    make(map[string]decimal.Decimal),
		quotes:    make(map[string]*core.Quote),
		open:      make(map[string][]*core.Order),
		clientIDs: make(map[string]*core.Order),
		paper:     true,
	}
}

// SetAccount replaces the account snapshot.
func (b *Broker) SetAccount(equity, cash, lastEquity decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.account = &core.Account{Equity: equity, Cash: cash, LastEquity: lastEquity}
}

// SetEquity updates equity and cash together.
func (b *Broker) SetEquity(equity decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.account = &core.Account{Equity: equity, Cash: equity, LastEquity: b.account.LastEquity}
}

// SetPosition seeds an open position.
func (b *Broker) SetPosition(symbol string, qty, avgEntry decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[symbol] = &core.Position{Symbol: symbol, Qty: qty, AvgEntryPrice: avgEntry}
}

// ClearPosition removes a position.
func (b *Broker) ClearPosition(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, symbol)
}

// SetTrade seeds the latest trade price for an equity symbol.
func (b *Broker) SetTrade(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades[symbol] = price
}

// SetQuote seeds the top of book for a crypto pair.
func (b *Broker) SetQuote(pair string, bid, ask decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[pair] = &core.Quote{Bid: bid, Ask: ask}
}

// SetOpenOrders seeds the open order list for a symbol.
func (b *Broker) SetOpenOrders(symbol string, orders ...*core.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open[symbol] = orders
}

// SeedOrders appends historical orders for ListOrders to report.
func (b *Broker) SeedOrders(orders ...*core.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, orders...)
}

// FailAccount makes GetAccount return err.
func (b *Broker) FailAccount(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accountErr = err
}

// FailPositions makes position lookups return err.
func (b *Broker) FailPositions(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positionsErr = err
}

// FailSubmits makes the next n SubmitOrder calls return err.
func (b *Broker) FailSubmits(err error, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitErr = err
	b.submitFails = n
}

// FailHealth makes CheckHealth return err.
func (b *Broker) FailHealth(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthErr = err
}

// SetPaper sets the reported trading environment.
func (b *Broker) SetPaper(paper bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paper = paper
}

// Submitted returns every accepted order in submission order.
func (b *Broker) Submitted() []*core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*core.Order, len(b.orders))
	copy(out, b.orders)
	return out
}

// Requests returns every accepted order request in submission order.
func (b *Broker) Requests() []*core.OrderRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*core.OrderRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// Canceled returns the ids passed to CancelOrder.
func (b *Broker) Canceled() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.canceled))
	copy(out, b.canceled)
	return out
}

func (b *Broker) GetAccount(context.Context) (*core.Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.accountErr != nil {
		return nil, b.accountErr
	}
	cp := *b.account
	return &cp, nil
}

func (b *Broker) GetOpenPosition(_ context.Context, symbol string) (*core.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.positionsErr != nil {
		return nil, b.positionsErr
	}
	pos, ok := b.positions[symbol]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *pos
	return &cp, nil
}

func (b *Broker) GetAllPositions(context.Context) ([]*core.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.positionsErr != nil {
		return nil, b.positionsErr
	}
	out := make([]*core.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out, nil
}

func (b *Broker) GetLatestTrade(_ context.Context, symbol string) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.trades[symbol]
	if !ok {
		return decimal.Zero, apperrors.ErrNoPriceData
	}
	return price, nil
}

func (b *Broker) GetLatestCryptoQuote(_ context.Context, pair string) (*core.Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	quote, ok := b.quotes[pair]
	if !ok {
		return nil, apperrors.ErrNoPriceData
	}
	cp := *quote
	return &cp, nil
}

func (b *Broker) ListOpenOrders(_ context.Context, symbol string) ([]*core.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	orders := b.open[symbol]
	out := make([]*core.Order, len(orders))
	copy(out, orders)
	return out, nil
}

func (b *Broker) ListOrders(_ context.Context, status string, after time.Time, limit int) ([]*core.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*core.Order
	for _, order := range b.orders {
		if len(out) >= limit {
			break
		}
		if status != "all" && status != "" && order.Status != status {
			continue
		}
		if !after.IsZero() && order.SubmittedAt.Before(after) {
			continue
		}
		cp := *order
		out = append(out, &cp)
	}
	return out, nil
}

func (b *Broker) CancelOrder(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for symbol, orders := range b.open {
		for i, order := range orders {
			if order.ID == id {
				b.open[symbol] = append(orders[:i:i], orders[i+1:]...)
				b.canceled = append(b.canceled, id)
				return nil
			}
		}
	}
	return apperrors.ErrOrderNotFound
}

func (b *Broker) SubmitOrder(_ context.Context, req *core.OrderRequest) (*core.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.submitFails > 0 {
		b.submitFails--
		return nil, b.submitErr
	}
	if req.ClientOrderID != "" {
		if _, exists := b.clientIDs[req.ClientOrderID]; exists {
			return nil, apperrors.ErrOrderAlreadyExists
		}
	}

	b.orderSeq++
	order := &core.Order{
		ID:            fmt.Sprintf("mock-%d", b.orderSeq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        "accepted",
		SubmittedAt:   time.Now().UTC(),
	}
	if qty, err := decimal.NewFromString(req.Qty); err == nil {
		order.Qty = decimal.NullDecimal{Decimal: qty, Valid: true}
	}

	b.orders = append(b.orders, order)
	b.requests = append(b.requests, req)
	if req.ClientOrderID != "" {
		b.clientIDs[req.ClientOrderID] = order
	}

	cp := *order
	return &cp, nil
}

func (b *Broker) CheckHealth(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthErr
}

func (b *Broker) IsPaper() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.paper
}

// Package broker implements the Alpaca trading and market-data REST surface.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
	apperrors "signal_relay/pkg/errors"
	httpclient "signal_relay/pkg/http"
	"signal_relay/pkg/telemetry"
)

// headerSigner adds the Alpaca key-pair headers to every request.
type headerSigner struct {
	keyID  string
	secret string
}

func (s *headerSigner) SignRequest(req *http.Request) error {
	req.Header.Set("APCA-API-KEY-ID", s.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", s.secret)
	return nil
}

// AlpacaClient talks to one Alpaca account. The trading client points at the
// paper or live host from the resolved credentials; the data client always
// points at the shared market-data host.
type AlpacaClient struct {
	alias       string
	paper       bool
	trading     *httpclient.Client
	data        *httpclient.Client
	limiter     *rate.Limiter
	pingTimeout time.Duration
	logger      core.ILogger
}

// NewAlpacaClient builds a client from resolved credentials.
func NewAlpacaClient(creds *config.Credentials, cfg config.BrokerConfig, logger core.ILogger) *AlpacaClient {
	signer := &headerSigner{keyID: creds.KeyID, secret: string(creds.Secret)}
	timeout := time.Duration(cfg.SubmitTimeoutSec) * time.Second

	return &AlpacaClient{
		alias:       creds.Alias,
		paper:       creds.Paper,
		trading:     httpclient.NewClient(creds.BaseURL, timeout, signer),
		data:        httpclient.NewClient(cfg.DataBaseURL, timeout, signer),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		pingTimeout: time.Duration(cfg.PingTimeoutSec) * time.Second,
		logger:      logger.WithField("broker_alias", creds.Alias),
	}
}

// IsPaper reports whether this client points at the paper host.
func (c *AlpacaClient) IsPaper() bool { return c.paper }

// Alias returns the subaccount alias the client was resolved for.
func (c *AlpacaClient) Alias() string { return c.alias }

type accountResponse struct {
	Equity     decimal.Decimal `json:"equity"`
	Cash       decimal.Decimal `json:"cash"`
	LastEquity decimal.Decimal `json:"last_equity"`
}

func (c *AlpacaClient) GetAccount(ctx context.Context) (*core.Account, error) {
	var resp accountResponse
	if err := c.get(ctx, c.trading, "/v2/account", nil, &resp); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &core.Account{
		Equity:     resp.Equity,
		Cash:       resp.Cash,
		LastEquity: resp.LastEquity,
	}, nil
}

type positionResponse struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

// GetOpenPosition returns the open position for symbol, or
// apperrors.ErrNotFound when the account holds none.
func (c *AlpacaClient) GetOpenPosition(ctx context.Context, symbol string) (*core.Position, error) {
	var resp positionResponse
	err := c.get(ctx, c.trading, "/v2/positions/"+url.PathEscape(symbol), nil, &resp)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	return &core.Position{
		Symbol:        resp.Symbol,
		Qty:           resp.Qty,
		AvgEntryPrice: resp.AvgEntryPrice,
	}, nil
}

func (c *AlpacaClient) GetAllPositions(ctx context.Context) ([]*core.Position, error) {
	var resp []positionResponse
	if err := c.get(ctx, c.trading, "/v2/positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	positions := make([]*core.Position, 0, len(resp))
	for _, p := range resp {
		positions = append(positions, &core.Position{
			Symbol:        p.Symbol,
			Qty:           p.Qty,
			AvgEntryPrice: p.AvgEntryPrice,
		})
	}
	return positions, nil
}

// GetLatestTrade returns the last trade price for an equity symbol.
func (c *AlpacaClient) GetLatestTrade(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp struct {
		Trade struct {
			Price decimal.Decimal `json:"p"`
		} `json:"trade"`
	}
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/trades/latest"
	if err := c.get(ctx, c.data, path, nil, &resp); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return decimal.Zero, apperrors.ErrNoPriceData
		}
		return decimal.Zero, fmt.Errorf("latest trade %s: %w", symbol, err)
	}
	if resp.Trade.Price.IsZero() {
		return decimal.Zero, apperrors.ErrNoPriceData
	}
	return resp.Trade.Price, nil
}

// GetLatestCryptoQuote returns the top of book for a slashed crypto pair
// such as "ETH/USD".
func (c *AlpacaClient) GetLatestCryptoQuote(ctx context.Context, pair string) (*core.Quote, error) {
	var resp struct {
		Quotes map[string]struct {
			Ask decimal.Decimal `json:"ap"`
			Bid decimal.Decimal `json:"bp"`
		} `json:"quotes"`
	}
	params := map[string]string{"symbols": pair}
	if err := c.get(ctx, c.data, "/v1beta3/crypto/us/latest/quotes", params, &resp); err != nil {
		return nil, fmt.Errorf("crypto quote %s: %w", pair, err)
	}
	q, ok := resp.Quotes[pair]
	if !ok {
		return nil, apperrors.ErrNoPriceData
	}
	return &core.Quote{Bid: q.Bid, Ask: q.Ask}, nil
}

type orderResponse struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Type           string              `json:"type"`
	Status         string              `json:"status"`
	Qty            decimal.NullDecimal `json:"qty"`
	FilledQty      decimal.NullDecimal `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	SubmittedAt    time.Time           `json:"submitted_at"`
}

func (r *orderResponse) toOrder() *core.Order {
	return &core.Order{
		ID:             r.ID,
		ClientOrderID:  r.ClientOrderID,
		Symbol:         r.Symbol,
		Side:           r.Side,
		Type:           r.Type,
		Status:         r.Status,
		Qty:            r.Qty,
		FilledQty:      r.FilledQty,
		FilledAvgPrice: r.FilledAvgPrice,
		SubmittedAt:    r.SubmittedAt,
	}
}

// ListOpenOrders returns the open orders for one symbol. The worker cancels
// these before submitting an exit.
func (c *AlpacaClient) ListOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	params := map[string]string{
		"status":  "open",
		"symbols": symbol,
		"limit":   "100",
	}
	var resp []orderResponse
	if err := c.get(ctx, c.trading, "/v2/orders", params, &resp); err != nil {
		return nil, fmt.Errorf("list open orders %s: %w", symbol, err)
	}
	orders := make([]*core.Order, 0, len(resp))
	for i := range resp {
		orders = append(orders, resp[i].toOrder())
	}
	return orders, nil
}

// ListOrders returns orders filtered by status, submitted after the given
// time. A zero time means no lower bound.
func (c *AlpacaClient) ListOrders(ctx context.Context, status string, after time.Time, limit int) ([]*core.Order, error) {
	params := map[string]string{
		"status": status,
		"limit":  strconv.Itoa(limit),
	}
	if !after.IsZero() {
		params["after"] = after.UTC().Format(time.RFC3339)
	}
	var resp []orderResponse
	if err := c.get(ctx, c.trading, "/v2/orders", params, &resp); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]*core.Order, 0, len(resp))
	for i := range resp {
		orders = append(orders, resp[i].toOrder())
	}
	return orders, nil
}

func (c *AlpacaClient) CancelOrder(ctx context.Context, id string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	defer recordLatency(ctx, "cancel")()
	_, err := c.trading.Delete(ctx, "/v2/orders/"+url.PathEscape(id), nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return apperrors.ErrOrderNotFound
		}
		return classify(fmt.Errorf("cancel order %s: %w", id, err))
	}
	return nil
}

// SubmitOrder posts the order. The transport never retries a POST; retry
// ownership stays with the queue so the attempt budget holds.
func (c *AlpacaClient) SubmitOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	defer recordLatency(ctx, "submit")()
	body, err := c.trading.Post(ctx, "/v2/orders", req)
	if err != nil {
		return nil, classify(fmt.Errorf("submit order %s: %w", req.Symbol, err))
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	c.logger.Info("order submitted",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"client_order_id", req.ClientOrderID,
		"broker_order_id", resp.ID,
	)
	return resp.toOrder(), nil
}

// CheckHealth verifies credentials and reachability with a short deadline.
func (c *AlpacaClient) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	var resp accountResponse
	if err := c.get(ctx, c.trading, "/v2/account", nil, &resp); err != nil {
		return fmt.Errorf("broker ping: %w", err)
	}
	return nil
}

// get runs a rate-limited GET and decodes the JSON response into out.
func (c *AlpacaClient) get(ctx context.Context, client *httpclient.Client, path string, params map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	defer recordLatency(ctx, "read")()
	body, err := client.Get(ctx, path, params)
	if err != nil {
		return classify(err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// classify maps Alpaca error responses onto the domain sentinels the worker's
// retry split keys off. Anything unmapped stays as-is and is treated as
// transient.
func classify(err error) error {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := strings.ToLower(string(apiErr.Body))
	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, msg)
	case http.StatusForbidden:
		if strings.Contains(msg, "insufficient") {
			return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, msg)
		}
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, msg)
	case http.StatusUnprocessableEntity:
		if strings.Contains(msg, "client_order_id must be unique") ||
			strings.Contains(msg, "client order id must be unique") {
			return apperrors.ErrOrderAlreadyExists
		}
		if strings.Contains(msg, "symbol") && strings.Contains(msg, "not found") {
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, msg)
		}
		return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, msg)
	}
	return err
}

// isStatus reports whether err is an API error with the given status code.
func isStatus(err error, code int) bool {
	var apiErr *httpclient.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// recordLatency times one broker API call, excluding the rate-limiter wait.
func recordLatency(ctx context.Context, op string) func() {
	start := time.Now()
	return func() {
		telemetry.GetGlobalMetrics().BrokerLatency.Record(ctx,
			float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("op", op)))
	}
}

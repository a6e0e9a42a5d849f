package core

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Queue job lifecycle statuses.
const (
	JobReady      = "ready"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

// Signal actions. Normalized to uppercase at ingress.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Strategy statuses. A missing strategy row is treated as paused.
const (
	StrategyActive = "active"
	StrategyPaused = "paused"
)

// Broker order sides (wire format, lowercase).
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order types.
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
	OrderTypeStop   = "stop"
)

// Time-in-force values.
const (
	TIFDay = "day"
	TIFGTC = "gtc"
	TIFIOC = "ioc"
	TIFFOK = "fok"
	TIFOPG = "opg"
	TIFCLS = "cls"
)

// OrderClassBracket marks an entry carrying take-profit and stop-loss legs.
const OrderClassBracket = "bracket"

// Legacy v1 webhook queue statuses.
const (
	V1Pending    = "pending"
	V1Processing = "processing"
	V1Processed  = "processed"
	V1Error      = "error"
)

// Signal is a raw accepted webhook, immutable once written.
type Signal struct {
	ID           string
	Strategy     string
	Ticker       string
	Timeframe    string
	Action       string
	Price        decimal.NullDecimal
	ATR          decimal.NullDecimal
	RiskPct      decimal.NullDecimal
	TrailATRMult decimal.NullDecimal
	BarTime      time.Time
	DedupKey     string
	Source       string
	Raw          []byte
	CreatedAt    time.Time
}

// QueueJob is one unit of executable work derived from a signal.
type QueueJob struct {
	ID            string
	Status        string
	Reason        sql.NullString
	Strategy      string
	Ticker        string
	Timeframe     string
	Action        string
	Price         decimal.NullDecimal
	ATR           decimal.NullDecimal
	RiskPct       decimal.NullDecimal
	TrailATRMult  decimal.NullDecimal
	RMultipleTP   decimal.NullDecimal
	MaxSlots      sql.NullInt64
	BufferRatio   decimal.NullDecimal
	BarTime       time.Time
	Subaccount    string
	Raw           []byte
	RetryCount    int
	NextAttemptAt sql.NullTime
	LastError     sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccountState is the singleton risk-policy row (id=1).
type AccountState struct {
	TradingEnabled     bool
	DailyDDLimitPct    decimal.NullDecimal
	DailyDDTriggered   bool
	DailyHighWatermark decimal.NullDecimal
	DailyLossCapUSD    decimal.NullDecimal
	ResetTimeUTC       string
	PauseReason        sql.NullString
	MaxPositionsTotal  sql.NullInt64
}

// AccountStateUpdate is a partial update of AccountState. Nil fields are
// left untouched.
type AccountStateUpdate struct {
	TradingEnabled     *bool
	DailyDDTriggered   *bool
	DailyHighWatermark *decimal.Decimal
	PauseReason        *string
}

// DailyMetrics is the per-(day, alias) equity observation row.
type DailyMetrics struct {
	ID            int64
	Day           string
	Alias         string
	Equity        decimal.NullDecimal
	HighWatermark decimal.NullDecimal
}

// Strategy is a configured signal source. Jobs from unknown or paused
// strategies are never enqueued.
type Strategy struct {
	Name           string
	Status         string
	DefaultRiskPct decimal.NullDecimal
	TrailATRMult   decimal.NullDecimal
	RMultipleTP    decimal.NullDecimal
	MaxPositions   sql.NullInt64
	AllowShort     bool
	TimeInForce    sql.NullString
}

// WebhookJob is a legacy v1 queue row. The payload stays as raw JSON.
type WebhookJob struct {
	ID        int64
	Data      []byte
	Status    string
	Error     sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account is the broker account snapshot the risk guard and sizer read.
type Account struct {
	Equity     decimal.Decimal
	Cash       decimal.Decimal
	LastEquity decimal.Decimal
}

// Position is an open broker position.
type Position struct {
	Symbol        string
	Qty           decimal.Decimal
	AvgEntryPrice decimal.Decimal
}

// Order is the broker's view of a submitted order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           string
	Type           string
	Status         string
	Qty            decimal.NullDecimal
	FilledQty      decimal.NullDecimal
	FilledAvgPrice decimal.NullDecimal
	SubmittedAt    time.Time
}

// Quote is a crypto top-of-book observation.
type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// TakeProfit is the limit leg of a bracket.
type TakeProfit struct {
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// StopLoss is the stop leg of a bracket.
type StopLoss struct {
	StopPrice decimal.Decimal `json:"stop_price"`
}

// OrderRequest is the broker order submission payload. Field names follow
// the broker wire format; decimals marshal as quoted strings.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           string           `json:"qty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	OrderClass    string           `json:"order_class,omitempty"`
	TakeProfit    *TakeProfit      `json:"take_profit,omitempty"`
	StopLoss      *StopLoss        `json:"stop_loss,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// IsBracket reports whether the request carries both bracket legs.
func (r *OrderRequest) IsBracket() bool {
	return r.OrderClass == OrderClassBracket && r.TakeProfit != nil && r.StopLoss != nil
}

// Package core defines the shared types and interfaces of the signal relay.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// QueueStore persists signals, queue jobs, risk state and daily metrics.
// Implementations serialize per-row updates; no multi-row transactions are
// required. Absent rows are reported as apperrors.ErrNotFound, duplicate
// dedup keys as apperrors.ErrDuplicateSignal, and failed conditional claims
// as apperrors.ErrNotClaimable.
type QueueStore interface {
	// Signals.
	InsertSignal(ctx context.Context, sig *Signal) error
	HasSignal(ctx context.Context, dedupKey string) (bool, error)

	// Queue jobs.
	InsertJob(ctx context.Context, job *QueueJob) error
	ClaimJob(ctx context.Context, id string) (*QueueJob, error)
	LoadJob(ctx context.Context, id string) (*QueueJob, error)
	ListReadyJobs(ctx context.Context, limit int) ([]*QueueJob, error)
	CompleteJob(ctx context.Context, id, status, reason string) error
	DeferJob(ctx context.Context, id string, nextAttempt time.Time) error
	RetryJob(ctx context.Context, id string, retryCount int, lastErr string, nextAttempt time.Time) error
	DeadLetterJob(ctx context.Context, job *QueueJob) error
	RequeueStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
	CountJobs(ctx context.Context, status string) (int, error)
	CountFailedSince(ctx context.Context, since time.Time) (int, error)
	CountDeadLetters(ctx context.Context) (int, error)

	// Risk state.
	LoadAccountState(ctx context.Context) (*AccountState, error)
	UpdateAccountState(ctx context.Context, upd AccountStateUpdate) error
	GetOrCreateDailyMetrics(ctx context.Context, day, alias string) (*DailyMetrics, error)
	SetDailyEquity(ctx context.Context, day, alias string, equity decimal.Decimal) error
	LoadStrategy(ctx context.Context, name string) (*Strategy, error)

	// Legacy v1 queue.
	InsertWebhookJob(ctx context.Context, data []byte) (int64, error)
	ClaimWebhookJobs(ctx context.Context, limit int) ([]*WebhookJob, error)
	CompleteWebhookJob(ctx context.Context, id int64, status, errMsg string) error

	Ping(ctx context.Context) error
	Close() error
}

// BrokerClient is the narrow broker surface the pipeline consumes. Trading
// symbols are already normalized (no slash); crypto data lookups use the
// slashed pair form.
type BrokerClient interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error)
	GetAllPositions(ctx context.Context) ([]*Position, error)
	GetLatestTrade(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetLatestCryptoQuote(ctx context.Context, pair string) (*Quote, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]*Order, error)
	ListOrders(ctx context.Context, status string, after time.Time, limit int) ([]*Order, error)
	CancelOrder(ctx context.Context, id string) error
	SubmitOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CheckHealth(ctx context.Context) error
	IsPaper() bool
}

// Clock abstracts wall time so day boundaries and market-hour gates can be
// driven in tests.
type Clock interface {
	Now() time.Time
}

// EventPublisher fans job and queue events out to observers (the live feed).
// Publishing never blocks the caller.
type EventPublisher interface {
	Publish(eventType string, data interface{})
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

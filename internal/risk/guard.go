// Package risk gates new entries behind per-account daily limits. The guard
// reads three independent sources (account state, the per-day metrics row,
// the broker's equity) and writes back only to account state. A tripped
// breaker stays tripped until an operator re-enables trading.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
	apperrors "signal_relay/pkg/errors"
	"signal_relay/pkg/telemetry"
)

const defaultResetTime = "13:30"

// ClientProvider resolves a broker client for an account alias.
type ClientProvider interface {
	Client(alias string) (core.BrokerClient, error)
}

// Guard evaluates daily risk policy for one account before an entry.
type Guard struct {
	store    core.QueueStore
	brokers  ClientProvider
	accounts *AccountCache
	clock    core.Clock
	disabled bool
	logger   core.ILogger
}

// NewGuard wires the guard. When disabled is true every Check returns nil
// without touching the store or the broker.
func NewGuard(store core.QueueStore, brokers ClientProvider, accounts *AccountCache, clock core.Clock, disabled bool, logger core.ILogger) *Guard {
	log := logger.WithField("component", "risk_guard")
	if disabled {
		log.Warn("risk guard disabled, all checks pass unconditionally")
	}
	return &Guard{
		store:    store,
		brokers:  brokers,
		accounts: accounts,
		clock:    clock,
		disabled: disabled,
		logger:   log,
	}
}

// Check runs the daily policy for alias. It returns nil when the entry may
// proceed and a RiskBlockedError when a limit blocks it. Any other error is
// transient (store or broker unavailable) and the caller may retry.
//
// Callers invoke Check before SELLs too, ignoring a blocked result, so the
// high watermark keeps tracking equity while exits drain a losing book.
func (g *Guard) Check(ctx context.Context, alias string) error {
	if g.disabled {
		return nil
	}

	state, err := g.store.LoadAccountState(ctx)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account state: %w", err)
	}

	metrics := telemetry.GetGlobalMetrics()
	metrics.SetTradingEnabled(state.TradingEnabled)
	metrics.SetRiskTriggered(alias, state.DailyDDTriggered)

	if !state.TradingEnabled {
		return apperrors.RiskBlocked(apperrors.ReasonTradingDisabled)
	}

	client, err := g.brokers.Client(alias)
	if err != nil {
		return fmt.Errorf("resolve broker %q: %w", alias, err)
	}

	now := g.clock.Now().UTC()
	day := now.Format("2006-01-02")
	row, err := g.store.GetOrCreateDailyMetrics(ctx, day, alias)
	if err != nil {
		return fmt.Errorf("daily metrics for %s: %w", day, err)
	}

	if !row.Equity.Valid && afterReset(now, state.ResetTimeUTC) {
		account, err := g.accounts.Account(ctx, alias, client)
		if err != nil {
			return fmt.Errorf("fetch day-open equity: %w", err)
		}
		if err := g.store.SetDailyEquity(ctx, day, alias, account.Equity); err != nil {
			return fmt.Errorf("bind day-open equity: %w", err)
		}
		row.Equity = decimal.NullDecimal{Decimal: account.Equity, Valid: true}
		g.logger.Info("day-open equity bound",
			"alias", alias, "day", day, "equity", account.Equity.String())
	}

	account, err := g.accounts.Account(ctx, alias, client)
	if err != nil {
		return fmt.Errorf("fetch equity: %w", err)
	}
	equity := account.Equity
	metrics.SetAccountEquity(alias, equity.InexactFloat64())

	hwm := decimal.Zero
	if state.DailyHighWatermark.Valid {
		hwm = state.DailyHighWatermark.Decimal
	}
	if equity.GreaterThan(hwm) {
		fresh := equity
		if err := g.store.UpdateAccountState(ctx, core.AccountStateUpdate{DailyHighWatermark: &fresh}); err != nil {
			return fmt.Errorf("update high watermark: %w", err)
		}
		hwm = equity
	}

	if state.DailyDDLimitPct.Valid && hwm.IsPositive() {
		dd := hwm.Sub(equity).Div(hwm)
		if dd.GreaterThanOrEqual(state.DailyDDLimitPct.Decimal) {
			if err := g.trip(ctx, alias, "daily_dd"); err != nil {
				return err
			}
			g.logger.Warn("daily drawdown limit tripped",
				"alias", alias,
				"drawdown", dd.StringFixed(4),
				"limit", state.DailyDDLimitPct.Decimal.String(),
				"equity", equity.String(),
				"high_watermark", hwm.String())
			return apperrors.RiskBlocked(apperrors.ReasonDailyDrawdown)
		}
	}

	if state.DailyLossCapUSD.Valid && row.Equity.Valid {
		pnl := equity.Sub(row.Equity.Decimal)
		if pnl.LessThanOrEqual(state.DailyLossCapUSD.Decimal.Neg()) {
			if err := g.trip(ctx, alias, "daily_loss_cap"); err != nil {
				return err
			}
			g.logger.Warn("daily loss cap tripped",
				"alias", alias,
				"day_pnl", pnl.String(),
				"cap", state.DailyLossCapUSD.Decimal.String(),
				"equity_at_open", row.Equity.Decimal.String())
			return apperrors.RiskBlocked(apperrors.ReasonDailyLossCap)
		}
	}

	if state.MaxPositionsTotal.Valid {
		positions, err := client.GetAllPositions(ctx)
		if err != nil {
			return fmt.Errorf("count open positions: %w", err)
		}
		if int64(len(positions)) >= state.MaxPositionsTotal.Int64 {
			g.logger.Info("position cap reached",
				"alias", alias,
				"open_positions", len(positions),
				"max_positions_total", state.MaxPositionsTotal.Int64)
			return apperrors.RiskBlocked(apperrors.ReasonMaxPositionsFull)
		}
	}

	return nil
}

// trip disables trading and records why. The flags stay set until an
// operator clears them.
func (g *Guard) trip(ctx context.Context, alias, reason string) error {
	enabled := false
	triggered := true
	upd := core.AccountStateUpdate{
		TradingEnabled:   &enabled,
		DailyDDTriggered: &triggered,
		PauseReason:      &reason,
	}
	if err := g.store.UpdateAccountState(ctx, upd); err != nil {
		return fmt.Errorf("persist breaker trip: %w", err)
	}
	metrics := telemetry.GetGlobalMetrics()
	metrics.SetTradingEnabled(false)
	metrics.SetRiskTriggered(alias, true)
	return nil
}

// afterReset reports whether now's time of day is at or past the configured
// HH:MM reset mark. Unparseable marks fall back to the default session open.
func afterReset(now time.Time, resetTime string) bool {
	mark, err := time.Parse("15:04", resetTime)
	if err != nil {
		mark, _ = time.Parse("15:04", defaultResetTime)
	}
	return now.Hour()*60+now.Minute() >= mark.Hour()*60+mark.Minute()
}

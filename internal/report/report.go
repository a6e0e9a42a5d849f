// Package report builds the daily trading summary and ships it as a Discord
// embed: per-account equity and order counts for the current UTC day, plus
// queue health from the store.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal_relay/internal/core"
)

const (
	brokerTimeout = 10 * time.Second
	storeTimeout  = 5 * time.Second

	colorGood  = 0x2ecc71
	colorBad   = 0xe74c3c
	ordersPage = 500
)

// ClientProvider resolves a broker client per subaccount alias.
type ClientProvider interface {
	Client(alias string) (core.BrokerClient, error)
}

// EmbedPoster ships a pre-built Discord embed.
type EmbedPoster interface {
	SendEmbed(ctx context.Context, embed map[string]interface{}) error
}

// Deps wires the reporter. Store may be nil, which drops the queue-health
// section; Events may be nil.
type Deps struct {
	Brokers ClientProvider
	Store   core.QueueStore
	Poster  EmbedPoster
	Clock   core.Clock
	Aliases []string
	Events  core.EventPublisher
	Logger  core.ILogger
}

// Reporter assembles and posts the daily report.
type Reporter struct {
	brokers ClientProvider
	store   core.QueueStore
	poster  EmbedPoster
	clock   core.Clock
	aliases []string
	events  core.EventPublisher
	logger  core.ILogger
}

func NewReporter(deps Deps) *Reporter {
	aliases := deps.Aliases
	if len(aliases) == 0 {
		aliases = []string{"default"}
	}
	return &Reporter{
		brokers: deps.Brokers,
		store:   deps.Store,
		poster:  deps.Poster,
		clock:   deps.Clock,
		aliases: aliases,
		events:  deps.Events,
		logger:  deps.Logger.WithField("component", "daily_report"),
	}
}

// accountRow is one alias section of the report.
type accountRow struct {
	Alias         string
	Equity        decimal.Decimal
	EquityChange  decimal.Decimal
	FilledCount   int
	FilledBuy     int
	FilledSell    int
	CanceledCount int
	RejectedCount int
}

// queueHealth is the store-side section of the report.
type queueHealth struct {
	Ready       int
	FailedToday int
	DLQTotal    int
	Err         error
}

// Run builds the report for the current UTC day and posts it. Per-alias
// failures do not abort the run; they become a follow-up error embed. The
// returned error covers only delivery of the main embed.
func (r *Reporter) Run(ctx context.Context) error {
	now := r.clock.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var rows []accountRow
	var failures []string
	for _, alias := range r.aliases {
		row, err := r.snapshot(ctx, alias, dayStart)
		if err != nil {
			r.logger.Error("report snapshot failed", "alias", alias, "error", err)
			failures = append(failures, fmt.Sprintf("[%s] %v", alias, err))
			continue
		}
		rows = append(rows, row)
	}

	var health *queueHealth
	if r.store != nil {
		health = r.queueHealth(ctx, dayStart)
	}

	embed := buildEmbed(rows, health, now)
	r.logger.Info("daily report built",
		"day", dayStart.Format("2006-01-02"),
		"accounts", len(rows),
		"failures", len(failures),
	)

	if err := r.poster.SendEmbed(ctx, embed); err != nil {
		return fmt.Errorf("post daily report: %w", err)
	}
	if r.events != nil {
		r.events.Publish("report", map[string]interface{}{
			"day":      dayStart.Format("2006-01-02"),
			"accounts": len(rows),
		})
	}

	if len(failures) > 0 {
		errEmbed := map[string]interface{}{
			"title":       "Daily Report Errors",
			"description": strings.Join(failures, "\n"),
			"color":       colorBad,
			"timestamp":   now.Format(time.RFC3339),
		}
		if err := r.poster.SendEmbed(ctx, errEmbed); err != nil {
			r.logger.Error("failed to post report error embed", "error", err)
		}
	}
	return nil
}

// snapshot pulls one alias's equity and the day's order counts.
func (r *Reporter) snapshot(ctx context.Context, alias string, dayStart time.Time) (accountRow, error) {
	client, err := r.brokers.Client(alias)
	if err != nil {
		return accountRow{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, brokerTimeout)
	defer cancel()

	account, err := client.GetAccount(callCtx)
	if err != nil {
		return accountRow{}, fmt.Errorf("account: %w", err)
	}

	orders, err := client.ListOrders(callCtx, "all", dayStart, ordersPage)
	if err != nil {
		return accountRow{}, fmt.Errorf("orders: %w", err)
	}

	row := accountRow{
		Alias:        alias,
		Equity:       account.Equity,
		EquityChange: account.Equity.Sub(account.LastEquity),
	}
	for _, order := range orders {
		switch order.Status {
		case "filled", "partially_filled":
			row.FilledCount++
			switch order.Side {
			case core.SideBuy:
				row.FilledBuy++
			case core.SideSell:
				row.FilledSell++
			}
		case "canceled":
			row.CanceledCount++
		case "rejected":
			row.RejectedCount++
		}
	}
	return row, nil
}

// queueHealth reads the queue counters. Errors are carried into the embed
// rather than failing the report.
func (r *Reporter) queueHealth(ctx context.Context, dayStart time.Time) *queueHealth {
	callCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	ready, err := r.store.CountJobs(callCtx, core.JobReady)
	if err != nil {
		return &queueHealth{Err: err}
	}
	failedToday, err := r.store.CountFailedSince(callCtx, dayStart)
	if err != nil {
		return &queueHealth{Err: err}
	}
	dlq, err := r.store.CountDeadLetters(callCtx)
	if err != nil {
		return &queueHealth{Err: err}
	}
	return &queueHealth{Ready: ready, FailedToday: failedToday, DLQTotal: dlq}
}

func buildEmbed(rows []accountRow, health *queueHealth, now time.Time) map[string]interface{} {
	color := colorGood
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.EquityChange)
	}
	if total.Sign() < 0 {
		color = colorBad
	}

	var fields []map[string]interface{}
	for _, row := range rows {
		value := fmt.Sprintf(
			"**Equity**: `%s`  (**Δ** %s)\n**Filled**: `%d`  (B:`%d` / S:`%d`)\n**Canceled**: `%d`  •  **Rejected**: `%d`",
			row.Equity.StringFixed(2), signedFixed(row.EquityChange),
			row.FilledCount, row.FilledBuy, row.FilledSell,
			row.CanceledCount, row.RejectedCount,
		)
		fields = append(fields, map[string]interface{}{
			"name":   fmt.Sprintf("[%s]", row.Alias),
			"value":  value,
			"inline": false,
		})
	}

	if health != nil {
		value := fmt.Sprintf("ready: `%d` • failed_today: `%d` • dlq: `%d`",
			health.Ready, health.FailedToday, health.DLQTotal)
		if health.Err != nil {
			value = fmt.Sprintf("⚠️ `%v`", health.Err)
		}
		fields = append(fields, map[string]interface{}{
			"name":   "Queue Health",
			"value":  value,
			"inline": false,
		})
	}

	return map[string]interface{}{
		"title":       "📊 Daily Trading Report",
		"description": fmt.Sprintf("UTC %s", now.Format("2006-01-02 15:04")),
		"color":       color,
		"fields":      fields,
		"footer":      map[string]interface{}{"text": "TradingView → Webhook → Worker → Alpaca"},
		"timestamp":   now.Format(time.RFC3339),
	}
}

func signedFixed(d decimal.Decimal) string {
	if d.Sign() < 0 {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}

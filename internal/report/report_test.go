package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"signal_relay/internal/core"
	"signal_relay/internal/mock"
	"signal_relay/internal/store"
	"signal_relay/pkg/logging"
)

// reportTime is just past the default 00:10 UTC schedule.
var reportTime = time.Date(2024, 9, 26, 0, 10, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticBrokers struct {
	clients map[string]core.BrokerClient
	errs    map[string]error
}

func (s staticBrokers) Client(alias string) (core.BrokerClient, error) {
	if err, ok := s.errs[alias]; ok {
		return nil, err
	}
	client, ok := s.clients[alias]
	if !ok {
		return nil, fmt.Errorf("no credentials for alias %q", alias)
	}
	return client, nil
}

type capturePoster struct {
	mu     sync.Mutex
	embeds []map[string]interface{}
	err    error
}

func (p *capturePoster) SendEmbed(_ context.Context, embed map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.embeds = append(p.embeds, embed)
	return nil
}

func (p *capturePoster) all() []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]interface{}, len(p.embeds))
	copy(out, p.embeds)
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events map[string]interface{}
}

func (r *eventRecorder) Publish(eventType string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]interface{})
	}
	r.events[eventType] = data
}

func testLogger(t *testing.T) core.ILogger {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return logger
}

func seededOrder(status, side string, at time.Time) *core.Order {
	return &core.Order{
		ID:          fmt.Sprintf("o-%s-%s-%d", status, side, at.UnixNano()),
		Symbol:      "AAPL",
		Side:        side,
		Type:        core.OrderTypeMarket,
		Status:      status,
		SubmittedAt: at,
	}
}

func newReporter(t *testing.T, broker *mock.Broker, st core.QueueStore, poster *capturePoster, aliases []string, events core.EventPublisher) *Reporter {
	t.Helper()
	return NewReporter(Deps{
		Brokers: staticBrokers{clients: map[string]core.BrokerClient{"default": broker}},
		Store:   st,
		Poster:  poster,
		Clock:   fixedClock{now: reportTime},
		Aliases: aliases,
		Events:  events,
		Logger:  testLogger(t),
	})
}

func fieldByName(t *testing.T, embed map[string]interface{}, name string) map[string]interface{} {
	t.Helper()
	fields, ok := embed["fields"].([]map[string]interface{})
	require.True(t, ok, "embed has no fields: %v", embed)
	for _, f := range fields {
		if f["name"] == name {
			return f
		}
	}
	t.Fatalf("field %q not found in %v", name, fields)
	return nil
}

func TestDailyReportSingleAccount(t *testing.T) {
	broker := mock.NewBroker()
	broker.SetAccount(decimal.NewFromInt(10100), decimal.NewFromInt(10100), decimal.NewFromInt(10000))

	today := reportTime.Add(-5 * time.Minute)
	yesterday := reportTime.Add(-24 * time.Hour)
	broker.SeedOrders(
		seededOrder("filled", core.SideBuy, today),
		seededOrder("filled", core.SideSell, today),
		seededOrder("partially_filled", core.SideBuy, today),
		seededOrder("canceled", core.SideBuy, today),
		seededOrder("rejected", core.SideSell, today),
		seededOrder("filled", core.SideBuy, yesterday),
	)

	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.InsertJob(ctx, &core.QueueJob{ID: "ready-1", Strategy: "momo", Ticker: "AAPL", Action: core.ActionBuy}))
	require.NoError(t, st.InsertJob(ctx, &core.QueueJob{ID: "failed-1", Status: core.JobFailed, Strategy: "momo", Ticker: "AAPL", Action: core.ActionBuy}))
	require.NoError(t, st.DeadLetterJob(ctx, &core.QueueJob{ID: "dead-1", Strategy: "momo", Ticker: "AAPL", Action: core.ActionBuy}))

	poster := &capturePoster{}
	events := &eventRecorder{}
	rep := newReporter(t, broker, st, poster, []string{"default"}, events)

	require.NoError(t, rep.Run(ctx))

	embeds := poster.all()
	require.Len(t, embeds, 1)
	embed := embeds[0]

	require.Equal(t, "📊 Daily Trading Report", embed["title"])
	require.Equal(t, "UTC 2024-09-26 00:10", embed["description"])
	require.Equal(t, colorGood, embed["color"])
	footer, _ := embed["footer"].(map[string]interface{})
	require.Equal(t, "TradingView → Webhook → Worker → Alpaca", footer["text"])

	account := fieldByName(t, embed, "[default]")
	value, _ := account["value"].(string)
	require.Contains(t, value, "**Equity**: `10100.00`")
	require.Contains(t, value, "(**Δ** +100.00)")
	require.Contains(t, value, "**Filled**: `3`")
	require.Contains(t, value, "B:`2` / S:`1`")
	require.Contains(t, value, "**Canceled**: `1`")
	require.Contains(t, value, "**Rejected**: `1`")

	health := fieldByName(t, embed, "Queue Health")
	require.Equal(t, "ready: `1` • failed_today: `1` • dlq: `1`", health["value"])

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Contains(t, events.events, "report")
}

func TestDailyReportNegativeDeltaIsRed(t *testing.T) {
	broker := mock.NewBroker()
	broker.SetAccount(decimal.NewFromInt(9900), decimal.NewFromInt(9900), decimal.NewFromInt(10000))

	poster := &capturePoster{}
	rep := newReporter(t, broker, nil, poster, []string{"default"}, nil)

	require.NoError(t, rep.Run(context.Background()))

	embeds := poster.all()
	require.Len(t, embeds, 1)
	require.Equal(t, colorBad, embeds[0]["color"])

	account := fieldByName(t, embeds[0], "[default]")
	require.Contains(t, account["value"], "(**Δ** -100.00)")
}

func TestDailyReportNilStoreSkipsQueueHealth(t *testing.T) {
	broker := mock.NewBroker()
	poster := &capturePoster{}
	rep := newReporter(t, broker, nil, poster, []string{"default"}, nil)

	require.NoError(t, rep.Run(context.Background()))

	embeds := poster.all()
	require.Len(t, embeds, 1)
	fields, _ := embeds[0]["fields"].([]map[string]interface{})
	for _, f := range fields {
		require.NotEqual(t, "Queue Health", f["name"])
	}
}

func TestDailyReportBrokenAliasBecomesErrorEmbed(t *testing.T) {
	broker := mock.NewBroker()
	poster := &capturePoster{}
	rep := NewReporter(Deps{
		Brokers: staticBrokers{
			clients: map[string]core.BrokerClient{"default": broker},
			errs:    map[string]error{"broken": errors.New("no credentials")},
		},
		Poster:  poster,
		Clock:   fixedClock{now: reportTime},
		Aliases: []string{"default", "broken"},
		Logger:  testLogger(t),
	})

	require.NoError(t, rep.Run(context.Background()))

	embeds := poster.all()
	require.Len(t, embeds, 2)
	require.Equal(t, "📊 Daily Trading Report", embeds[0]["title"])
	require.Equal(t, "Daily Report Errors", embeds[1]["title"])
	require.Equal(t, colorBad, embeds[1]["color"])
	desc, _ := embeds[1]["description"].(string)
	require.True(t, strings.Contains(desc, "[broken]"), "got %q", desc)
}

func TestDailyReportDeliveryFailure(t *testing.T) {
	broker := mock.NewBroker()
	poster := &capturePoster{err: errors.New("webhook down")}
	rep := newReporter(t, broker, nil, poster, []string{"default"}, nil)

	err := rep.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "post daily report")
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	broker := mock.NewBroker()
	rep := newReporter(t, broker, nil, &capturePoster{}, []string{"default"}, nil)

	_, err := NewScheduler("not a cron spec", rep, nil, testLogger(t))
	require.Error(t, err)

	sched, err := NewScheduler("10 0 * * *", rep, nil, testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, sched)
}

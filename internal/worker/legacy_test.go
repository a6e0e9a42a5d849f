package worker

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"signal_relay/internal/core"
	"signal_relay/internal/mock"
	"signal_relay/internal/store"
	apperrors "signal_relay/pkg/errors"
	"signal_relay/pkg/logging"
)

type legacyFixture struct {
	store  *store.MemoryStore
	broker *mock.Broker
	runner *LegacyRunner
}

func newLegacyFixture(t *testing.T) *legacyFixture {
	t.Helper()
	st := store.NewMemoryStore()
	broker := mock.NewBroker()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return &legacyFixture{
		store:  st,
		broker: broker,
		runner: NewLegacyRunner(st, staticBrokers{client: broker}, logger),
	}
}

func (f *legacyFixture) enqueue(t *testing.T, payload map[string]interface{}) int64 {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	id, err := f.store.InsertWebhookJob(t.Context(), data)
	require.NoError(t, err)
	return id
}

func TestLegacyBuyExplicitQty(t *testing.T) {
	f := newLegacyFixture(t)
	id := f.enqueue(t, map[string]interface{}{
		"ticker": "TSLA", "action": "BUY", "qty": 2, "subaccount": "default",
	})

	require.Equal(t, 1, f.runner.Drain(t.Context()))

	reqs := f.broker.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "TSLA", reqs[0].Symbol)
	require.Equal(t, core.SideBuy, reqs[0].Side)
	require.Equal(t, core.OrderTypeMarket, reqs[0].Type)
	require.Equal(t, core.TIFDay, reqs[0].TimeInForce)
	require.Equal(t, "2", reqs[0].Qty)
	require.Empty(t, reqs[0].ClientOrderID)

	row := f.store.WebhookJob(id)
	require.NotNil(t, row)
	require.Equal(t, core.V1Processed, row.Status)
	require.False(t, row.Error.Valid)
}

func TestLegacyBuyPercentageOfCash(t *testing.T) {
	f := newLegacyFixture(t)
	f.broker.SetTrade("TSLA", decimal.NewFromInt(200))
	f.enqueue(t, map[string]interface{}{
		"ticker": "TSLA", "action": "BUY", "percentage": "0.5",
	})

	require.Equal(t, 1, f.runner.Drain(t.Context()))

	reqs := f.broker.Requests()
	require.Len(t, reqs, 1)
	// 10000 cash × 0.5 / 200 = 25 whole shares
	require.Equal(t, "25", reqs[0].Qty)
}

func TestLegacyBuyDefaultsToOne(t *testing.T) {
	f := newLegacyFixture(t)
	f.enqueue(t, map[string]interface{}{"ticker": "NVDA", "action": "buy"})

	require.Equal(t, 1, f.runner.Drain(t.Context()))

	reqs := f.broker.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "1", reqs[0].Qty)
}

func TestLegacyCryptoPercentageQuantizes(t *testing.T) {
	f := newLegacyFixture(t)
	f.broker.SetQuote("BTC/USD", decimal.NewFromInt(49900), decimal.NewFromInt(50000))
	f.enqueue(t, map[string]interface{}{
		"ticker": "BTC/USD", "action": "BUY", "percentage": 0.25,
	})

	require.Equal(t, 1, f.runner.Drain(t.Context()))

	reqs := f.broker.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "BTCUSD", reqs[0].Symbol)
	require.Equal(t, core.TIFGTC, reqs[0].TimeInForce)
	// 10000 × 0.25 / 50000 (ask) = 0.05
	require.Equal(t, "0.05", reqs[0].Qty)
}

func TestLegacySellFlattensPosition(t *testing.T) {
	f := newLegacyFixture(t)
	f.broker.SetPosition("TSLA", decimal.NewFromInt(3), decimal.NewFromInt(180))
	id := f.enqueue(t, map[string]interface{}{"ticker": "TSLA", "action": "SELL"})

	require.Equal(t, 1, f.runner.Drain(t.Context()))

	reqs := f.broker.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, core.SideSell, reqs[0].Side)
	require.Equal(t, "3", reqs[0].Qty)
	require.Equal(t, core.V1Processed, f.store.WebhookJob(id).Status)
}

func TestLegacySellWithoutPositionMarksError(t *testing.T) {
	f := newLegacyFixture(t)
	id := f.enqueue(t, map[string]interface{}{"ticker": "TSLA", "action": "SELL"})

	require.Zero(t, f.runner.Drain(t.Context()))

	row := f.store.WebhookJob(id)
	require.Equal(t, core.V1Error, row.Status)
	require.Contains(t, row.Error.String, "not holding")
	require.Empty(t, f.broker.Requests())
}

func TestLegacyBrokerErrorMarksRow(t *testing.T) {
	f := newLegacyFixture(t)
	f.broker.FailSubmits(apperrors.ErrNetwork, 1)
	id := f.enqueue(t, map[string]interface{}{"ticker": "TSLA", "action": "BUY", "qty": 1})

	require.Zero(t, f.runner.Drain(t.Context()))

	row := f.store.WebhookJob(id)
	require.Equal(t, core.V1Error, row.Status)
	require.Contains(t, row.Error.String, "submit")

	// No retry machinery on the legacy path: the row stays error.
	require.Zero(t, f.runner.Drain(t.Context()))
	require.Equal(t, core.V1Error, f.store.WebhookJob(id).Status)
}

func TestLegacyMalformedRowsMarkedError(t *testing.T) {
	f := newLegacyFixture(t)
	badAction := f.enqueue(t, map[string]interface{}{"ticker": "TSLA", "action": "hold"})
	noTicker := f.enqueue(t, map[string]interface{}{"action": "BUY"})
	ok := f.enqueue(t, map[string]interface{}{"ticker": "TSLA", "action": "BUY", "qty": 1})

	require.Equal(t, 1, f.runner.Drain(t.Context()))

	require.Equal(t, core.V1Error, f.store.WebhookJob(badAction).Status)
	require.Equal(t, core.V1Error, f.store.WebhookJob(noTicker).Status)
	require.Equal(t, core.V1Processed, f.store.WebhookJob(ok).Status)
}

func TestLegacyQtyAsStringAccepted(t *testing.T) {
	f := newLegacyFixture(t)
	f.enqueue(t, map[string]interface{}{"ticker": "AMD", "action": "BUY", "qty": "4"})

	require.Equal(t, 1, f.runner.Drain(t.Context()))

	reqs := f.broker.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "4", reqs[0].Qty)
}

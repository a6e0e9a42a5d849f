package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSignalsReceivedTotal = "signal_relay_signals_received_total"
	MetricSignalsDedupedTotal  = "signal_relay_signals_deduped_total"
	MetricJobsProcessedTotal   = "signal_relay_jobs_processed_total"
	MetricOrdersSubmittedTotal = "signal_relay_orders_submitted_total"
	MetricOrderCancelsTotal    = "signal_relay_order_cancels_total"
	MetricDeadLettersTotal     = "signal_relay_dead_letters_total"
	MetricJobDuration          = "signal_relay_job_duration_ms"
	MetricBrokerLatency        = "signal_relay_broker_latency_ms"
	MetricQueueDepth           = "signal_relay_queue_depth"
	MetricTradingEnabled       = "signal_relay_trading_enabled"
	MetricRiskTriggered        = "signal_relay_risk_triggered"
	MetricAccountEquity        = "signal_relay_account_equity"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	SignalsReceivedTotal metric.Int64Counter
	SignalsDedupedTotal  metric.Int64Counter
	JobsProcessedTotal   metric.Int64Counter
	OrdersSubmittedTotal metric.Int64Counter
	OrderCancelsTotal    metric.Int64Counter
	DeadLettersTotal     metric.Int64Counter
	JobDuration          metric.Float64Histogram
	BrokerLatency        metric.Float64Histogram
	QueueDepth           metric.Int64ObservableGauge
	TradingEnabled       metric.Int64ObservableGauge
	RiskTriggered        metric.Int64ObservableGauge
	AccountEquity        metric.Float64ObservableGauge

	// State for observable gauges
	mu                sync.RWMutex
	queueDepthMap     map[string]int64
	tradingEnabledVal int64
	riskTriggeredMap  map[string]int64
	equityMap         map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			queueDepthMap:     make(map[string]int64),
			tradingEnabledVal: 1,
			riskTriggeredMap:  make(map[string]int64),
			equityMap:         make(map[string]float64),
		}
		// Instruments bind to the global meter, a no-op until Setup installs
		// the real provider; InitMetrics rebinds them against it afterwards.
		_ = globalMetrics.InitMetrics(GetMeter("signal_relay"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.SignalsReceivedTotal, err = meter.Int64Counter(MetricSignalsReceivedTotal, metric.WithDescription("Webhook signals received, by route and outcome"))
	if err != nil {
		return err
	}

	m.SignalsDedupedTotal, err = meter.Int64Counter(MetricSignalsDedupedTotal, metric.WithDescription("Signals dropped as duplicates"))
	if err != nil {
		return err
	}

	m.JobsProcessedTotal, err = meter.Int64Counter(MetricJobsProcessedTotal, metric.WithDescription("Queue jobs processed, by outcome"))
	if err != nil {
		return err
	}

	m.OrdersSubmittedTotal, err = meter.Int64Counter(MetricOrdersSubmittedTotal, metric.WithDescription("Orders submitted to the broker"))
	if err != nil {
		return err
	}

	m.OrderCancelsTotal, err = meter.Int64Counter(MetricOrderCancelsTotal, metric.WithDescription("Stale open orders canceled before exits"))
	if err != nil {
		return err
	}

	m.DeadLettersTotal, err = meter.Int64Counter(MetricDeadLettersTotal, metric.WithDescription("Jobs moved to the dead letter queue"))
	if err != nil {
		return err
	}

	m.JobDuration, err = meter.Float64Histogram(MetricJobDuration, metric.WithDescription("End-to-end duration of one job execution"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.BrokerLatency, err = meter.Float64Histogram(MetricBrokerLatency, metric.WithDescription("Latency of broker API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.QueueDepth, err = meter.Int64ObservableGauge(MetricQueueDepth, metric.WithDescription("Queue rows by status"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for status, val := range m.queueDepthMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("status", status)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.TradingEnabled, err = meter.Int64ObservableGauge(MetricTradingEnabled, metric.WithDescription("Account trading flag (1=enabled, 0=paused)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.tradingEnabledVal)
			return nil
		}))
	if err != nil {
		return err
	}

	m.RiskTriggered, err = meter.Int64ObservableGauge(MetricRiskTriggered, metric.WithDescription("Daily risk breaker state (1=tripped, 0=normal)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for alias, val := range m.riskTriggeredMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("alias", alias)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.AccountEquity, err = meter.Float64ObservableGauge(MetricAccountEquity, metric.WithDescription("Last observed account equity"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for alias, val := range m.equityMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("alias", alias)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetQueueDepth(status string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepthMap[status] = count
}

func (m *MetricsHolder) SetTradingEnabled(enabled bool) {
	val := int64(0)
	if enabled {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingEnabledVal = val
}

func (m *MetricsHolder) SetRiskTriggered(alias string, triggered bool) {
	val := int64(0)
	if triggered {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskTriggeredMap[alias] = val
}

func (m *MetricsHolder) SetAccountEquity(alias string, equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equityMap[alias] = equity
}

func (m *MetricsHolder) GetQueueDepth() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.queueDepthMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetRiskTriggered() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.riskTriggeredMap {
		res[k] = v
	}
	return res
}

// Package worker drains the order queue: it claims jobs, runs the risk and
// sizing gates, builds broker requests and drives every job to a terminal
// state with bounded retries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
	"signal_relay/internal/market"
	"signal_relay/internal/normalize"
	"signal_relay/internal/order"
	"signal_relay/internal/risk"
	"signal_relay/internal/sizing"
	"signal_relay/pkg/concurrency"
	apperrors "signal_relay/pkg/errors"
	"signal_relay/pkg/telemetry"
)

const (
	storeTimeout  = 5 * time.Second
	submitTimeout = 10 * time.Second
	retryBackoff  = 30 * time.Second
	maxRetries    = 3
)

// Outcome labels the terminal result of one ProcessOne call.
type Outcome string

const (
	OutcomeDone         Outcome = "done"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
	OutcomeRetry        Outcome = "retry"
	OutcomeDeadLetter   Outcome = "dead_letter"
	OutcomeDeferred     Outcome = "deferred"
	OutcomeAlreadyTaken Outcome = "already_taken"
)

// ClientProvider resolves a broker client for an account alias.
type ClientProvider interface {
	Client(alias string) (core.BrokerClient, error)
}

// Notifier ships operator alerts. Nil disables alerting.
type Notifier interface {
	Error(ctx context.Context, title, message string, fields map[string]string)
	Critical(ctx context.Context, title, message string, fields map[string]string)
}

// Deps wires the worker. Alerts, Events and Legacy may be nil.
type Deps struct {
	Cfg     config.WorkerConfig
	Env     *config.Env
	Store   core.QueueStore
	Brokers ClientProvider
	Guard   *risk.Guard
	Sizer   *sizing.Sizer
	Clock   core.Clock
	Alerts  Notifier
	Events  core.EventPublisher
	Legacy  *LegacyRunner
	Logger  core.ILogger
}

// Worker owns the polling loop and the per-job execution protocol. Multiple
// workers may share one store; the conditional claim keeps them from racing.
type Worker struct {
	cfg     config.WorkerConfig
	mode    string
	store   core.QueueStore
	brokers ClientProvider
	guard   *risk.Guard
	sizer   *sizing.Sizer
	clock   core.Clock
	alerts  Notifier
	events  core.EventPublisher
	legacy  *LegacyRunner
	pool    *concurrency.WorkerPool
	logger  core.ILogger
}

func NewWorker(deps Deps) *Worker {
	logger := deps.Logger.WithField("component", "worker")
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "order_worker",
		MaxWorkers:  deps.Cfg.PoolSize,
		MaxCapacity: deps.Cfg.PoolCapacity,
	}, deps.Logger)

	mode := ""
	if deps.Env != nil {
		mode = deps.Env.TradingMode
	}
	return &Worker{
		cfg:     deps.Cfg,
		mode:    mode,
		store:   deps.Store,
		brokers: deps.Brokers,
		guard:   deps.Guard,
		sizer:   deps.Sizer,
		clock:   deps.Clock,
		alerts:  deps.Alerts,
		events:  deps.Events,
		legacy:  deps.Legacy,
		pool:    pool,
		logger:  logger,
	}
}

// Run polls the queue until ctx is canceled, dispatching due jobs onto the
// pool. The kick endpoint shortcuts the poll latency; this loop is the
// correctness backstop when kicks are lost.
func (w *Worker) Run(ctx context.Context) {
	interval := time.Duration(w.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	w.logger.Info("worker polling started", "interval", interval.String(), "batch", w.cfg.BatchSize)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker polling stopped")
			w.pool.Stop()
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick dispatches one batch of due jobs plus a legacy queue pass.
func (w *Worker) tick(ctx context.Context) {
	lctx, cancel := context.WithTimeout(ctx, storeTimeout)
	jobs, err := w.store.ListReadyJobs(lctx, w.cfg.BatchSize)
	cancel()
	if err != nil {
		w.logger.Error("list ready jobs failed", "error", err)
		return
	}

	now := w.clock.Now()
	for _, job := range jobs {
		if job.NextAttemptAt.Valid && job.NextAttemptAt.Time.After(now) {
			continue
		}
		id := job.ID
		_ = w.pool.Submit(func() {
			if _, err := w.ProcessOne(ctx, id); err != nil {
				w.logger.Error("job processing failed", "job_id", id, "error", err)
			}
		})
	}

	if w.legacy != nil {
		_ = w.pool.Submit(func() { w.legacy.Drain(ctx) })
	}
}

// DrainDue processes every due ready job synchronously and returns outcome
// counts. Serves the operator's run-worker route.
func (w *Worker) DrainDue(ctx context.Context) map[string]int {
	counts := map[string]int{}
	for {
		lctx, cancel := context.WithTimeout(ctx, storeTimeout)
		jobs, err := w.store.ListReadyJobs(lctx, w.cfg.BatchSize)
		cancel()
		if err != nil {
			w.logger.Error("list ready jobs failed", "error", err)
			counts["store_error"]++
			return counts
		}

		now := w.clock.Now()
		dispatched := 0
		for _, job := range jobs {
			if job.NextAttemptAt.Valid && job.NextAttemptAt.Time.After(now) {
				continue
			}
			outcome, err := w.ProcessOne(ctx, job.ID)
			if err != nil {
				counts["error"]++
				continue
			}
			counts[string(outcome)]++
			dispatched++
		}
		if dispatched == 0 {
			break
		}
	}
	if w.legacy != nil {
		counts["v1_processed"] = w.legacy.Drain(ctx)
	}
	return counts
}

// ProcessOne executes a single job end to end. Every path out of here leaves
// the job in a well-defined queue state; the returned error is reserved for
// store failures where that guarantee could not be kept.
func (w *Worker) ProcessOne(ctx context.Context, id string) (Outcome, error) {
	started := time.Now()

	job, err := w.claim(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotClaimable) {
			w.logger.Debug("job already taken", "job_id", id)
			return OutcomeAlreadyTaken, nil
		}
		return "", fmt.Errorf("claim job %s: %w", id, err)
	}

	log := w.logger.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"strategy": job.Strategy,
		"ticker":   job.Ticker,
		"action":   job.Action,
	})

	now := w.clock.Now()
	if job.NextAttemptAt.Valid && job.NextAttemptAt.Time.After(now) {
		if err := w.defer_(ctx, job.ID, job.NextAttemptAt.Time); err != nil {
			return "", err
		}
		log.Debug("job deferred", "next_attempt_at", job.NextAttemptAt.Time)
		return OutcomeDeferred, nil
	}

	outcome, err := w.execute(ctx, job, log)
	if err != nil {
		return "", err
	}

	telemetry.GetGlobalMetrics().JobsProcessedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", string(outcome))))
	telemetry.GetGlobalMetrics().JobDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	return outcome, nil
}

// execute runs the gates and the submission for a claimed job.
func (w *Worker) execute(ctx context.Context, job *core.QueueJob, log core.ILogger) (Outcome, error) {
	client, err := w.brokers.Client(job.Subaccount)
	if err != nil {
		log.Error("no broker client for subaccount", "subaccount", job.Subaccount, "error", err)
		return w.fail(ctx, job, "error: "+err.Error(), log)
	}

	if w.mode != "" {
		wantPaper := w.mode == "paper"
		if client.IsPaper() != wantPaper {
			log.Error("trading mode mismatch", "mode", w.mode, "client_paper", client.IsPaper())
			w.alertError(ctx, "Trading mode mismatch",
				fmt.Sprintf("TRADING_MODE=%s but the %s broker client disagrees; refusing to trade", w.mode, job.Subaccount),
				map[string]string{"job_id": job.ID})
			return w.fail(ctx, job, apperrors.Reason(apperrors.ErrModeMismatch), log)
		}
	}

	hints := parseHints(job.Raw)
	symbol := normalize.NormalizeTradeSymbol(job.Ticker)
	crypto := normalize.IsCrypto(job.Ticker)

	if !crypto && hints.AfterHoursMode == "" && !market.IsRegularHours(w.clock.Now()) {
		log.Info("market closed for equity order")
		return w.fail(ctx, job, apperrors.Reason(apperrors.ErrMarketClosed), log)
	}

	if gerr := w.guard.Check(ctx, job.Subaccount); gerr != nil {
		reason, blocked := apperrors.IsRiskBlocked(gerr)
		if !blocked {
			return w.retryOrDeadLetter(ctx, job, gerr, log)
		}
		if job.Action == core.ActionBuy {
			w.alertBreaker(ctx, job, reason)
			return w.fail(ctx, job, reason, log)
		}
		// SELLs still exit a paused account; the guard ran for its HWM side
		// effects only.
		log.Warn("risk guard blocked, proceeding with exit", "reason", reason)
	}

	res, err := w.sizer.Size(ctx, client, job.Subaccount, sizingRequest(job, hints))
	if err != nil {
		if apperrors.IsFatal(err) {
			return w.fail(ctx, job, apperrors.Reason(err), log)
		}
		return w.retryOrDeadLetter(ctx, job, err, log)
	}
	if res.Skip {
		if err := w.complete(ctx, job.ID, core.JobDone, res.SkipReason); err != nil {
			return "", err
		}
		log.Info("job skipped", "reason", res.SkipReason)
		w.publishJob(job, core.JobDone, res.SkipReason)
		return OutcomeSkipped, nil
	}

	tif, err := w.strategyTIF(ctx, job.Strategy)
	if err != nil {
		return w.retryOrDeadLetter(ctx, job, err, log)
	}

	req, err := order.Build(&order.Spec{
		JobID:          job.ID,
		Symbol:         symbol,
		Side:           sideFor(job.Action),
		Qty:            res.Qty,
		Crypto:         res.Crypto,
		TakeProfit:     res.TakeProfit,
		StopLoss:       res.StopLoss,
		TimeInForce:    tif,
		AfterHoursMode: hints.AfterHoursMode,
	})
	if err != nil {
		log.Error("order build failed", "error", err)
		return w.fail(ctx, job, "error: "+err.Error(), log)
	}

	if job.Action == core.ActionSell {
		w.cancelOpenSells(ctx, client, symbol, log)
	}

	sctx, cancel := context.WithTimeout(ctx, submitTimeout)
	submitted, err := client.SubmitOrder(sctx, req)
	cancel()
	if err != nil {
		if errors.Is(err, apperrors.ErrOrderAlreadyExists) {
			// Replay of a job the broker already executed. The deterministic
			// client_order_id makes this a success.
			if cerr := w.complete(ctx, job.ID, core.JobDone, "already_exists"); cerr != nil {
				return "", cerr
			}
			log.Info("order already submitted, job done", "client_order_id", req.ClientOrderID)
			w.publishJob(job, core.JobDone, "already_exists")
			return OutcomeDone, nil
		}
		if apperrors.IsFatal(err) {
			log.Warn("broker rejected order", "error", err)
			return w.fail(ctx, job, apperrors.Reason(err), log)
		}
		return w.retryOrDeadLetter(ctx, job, err, log)
	}

	telemetry.GetGlobalMetrics().OrdersSubmittedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("side", req.Side),
		attribute.Bool("bracket", req.IsBracket()),
	))
	if err := w.complete(ctx, job.ID, core.JobDone, ""); err != nil {
		return "", err
	}
	log.Info("order submitted",
		"order_id", submitted.ID,
		"client_order_id", submitted.ClientOrderID,
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"bracket", req.IsBracket(),
	)
	w.publishJob(job, core.JobDone, "")
	return OutcomeDone, nil
}

// cancelOpenSells clears stale exit orders (typically resting bracket legs)
// so the broker does not reject the flatten for insufficient qty. Failures
// are logged and skipped; the submit decides the job's fate.
func (w *Worker) cancelOpenSells(ctx context.Context, client core.BrokerClient, symbol string, log core.ILogger) {
	open, err := client.ListOpenOrders(ctx, symbol)
	if err != nil {
		log.Warn("listing open orders failed, skipping cancels", "error", err)
		return
	}
	canceled := 0
	for _, o := range open {
		if o.Side != core.SideSell {
			continue
		}
		if err := client.CancelOrder(ctx, o.ID); err != nil {
			log.Warn("cancel failed", "order_id", o.ID, "error", err)
			continue
		}
		canceled++
	}
	if canceled > 0 {
		telemetry.GetGlobalMetrics().OrderCancelsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.Int("count", canceled)))
		log.Info("canceled stale sell orders", "count", canceled, "symbol", symbol)
	}
}

// fail marks the job failed with reason; fatal errors never retry.
func (w *Worker) fail(ctx context.Context, job *core.QueueJob, reason string, log core.ILogger) (Outcome, error) {
	if err := w.complete(ctx, job.ID, core.JobFailed, reason); err != nil {
		return "", err
	}
	log.Warn("job failed", "reason", reason)
	w.publishJob(job, core.JobFailed, reason)
	return OutcomeFailed, nil
}

// retryOrDeadLetter reschedules a transient failure or, past the retry
// budget, copies the row to the DLQ and fails it.
func (w *Worker) retryOrDeadLetter(ctx context.Context, job *core.QueueJob, cause error, log core.ILogger) (Outcome, error) {
	rc := job.RetryCount + 1
	if rc <= maxRetries {
		next := w.clock.Now().Add(retryBackoff)
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := w.store.RetryJob(sctx, job.ID, rc, cause.Error(), next)
		cancel()
		if err != nil {
			return "", fmt.Errorf("schedule retry for %s: %w", job.ID, err)
		}
		log.Warn("transient failure, retry scheduled",
			"retry_count", rc, "next_attempt_at", next, "error", cause)
		w.publishJob(job, core.JobReady, fmt.Sprintf("retry %d", rc))
		return OutcomeRetry, nil
	}

	dead := *job
	dead.RetryCount = job.RetryCount
	dead.LastError = nullString(cause.Error())
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	err := w.store.DeadLetterJob(sctx, &dead)
	cancel()
	if err != nil {
		return "", fmt.Errorf("dead-letter %s: %w", job.ID, err)
	}
	if err := w.complete(ctx, job.ID, core.JobFailed, "retries_exhausted"); err != nil {
		return "", err
	}

	telemetry.GetGlobalMetrics().DeadLettersTotal.Add(ctx, 1)
	log.Error("job dead-lettered", "retry_count", job.RetryCount, "error", cause)
	w.alertError(ctx, "Job dead-lettered",
		fmt.Sprintf("%s %s %s exhausted its retries: %v", job.Action, job.Ticker, job.ID, cause),
		map[string]string{"job_id": job.ID, "strategy": job.Strategy})
	w.publishJob(job, core.JobFailed, "retries_exhausted")
	return OutcomeDeadLetter, nil
}

func (w *Worker) claim(ctx context.Context, id string) (*core.QueueJob, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return w.store.ClaimJob(sctx, id)
}

func (w *Worker) defer_(ctx context.Context, id string, next time.Time) error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return w.store.DeferJob(sctx, id, next)
}

func (w *Worker) complete(ctx context.Context, id, status, reason string) error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := w.store.CompleteJob(sctx, id, status, reason); err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// strategyTIF reads the strategy's configured time in force; a missing row
// falls back to venue defaults.
func (w *Worker) strategyTIF(ctx context.Context, name string) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	strategy, err := w.store.LoadStrategy(sctx, name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if strategy.TimeInForce.Valid {
		return strategy.TimeInForce.String, nil
	}
	return "", nil
}

func (w *Worker) alertBreaker(ctx context.Context, job *core.QueueJob, reason string) {
	if w.alerts == nil {
		return
	}
	switch reason {
	case apperrors.ReasonDailyDrawdown, apperrors.ReasonDailyLossCap:
		w.alerts.Critical(ctx, "Risk breaker tripped",
			fmt.Sprintf("entry for %s blocked: %s; trading stays paused until manually re-enabled", job.Ticker, reason),
			map[string]string{"job_id": job.ID, "subaccount": job.Subaccount})
	}
}

func (w *Worker) alertError(ctx context.Context, title, message string, fields map[string]string) {
	if w.alerts == nil {
		return
	}
	w.alerts.Error(ctx, title, message, fields)
}

func (w *Worker) publishJob(job *core.QueueJob, status, reason string) {
	if w.events == nil {
		return
	}
	w.events.Publish("job_update", map[string]interface{}{
		"id":       job.ID,
		"strategy": job.Strategy,
		"ticker":   job.Ticker,
		"action":   job.Action,
		"status":   status,
		"reason":   reason,
	})
}

func sideFor(action string) string {
	if action == core.ActionSell {
		return core.SideSell
	}
	return core.SideBuy
}

// hints are the per-order overrides that ride only in the raw payload, not
// in queue columns.
type hints struct {
	QtyOverride        sizingNull
	PercentageOverride sizingNull
	TakeProfit         sizingNull
	StopLoss           sizingNull
	FlatExit           bool
	AfterHoursMode     string
}

type sizingNull = decimalNull

// parseHints re-reads the raw payload for override fields. A payload that
// passed ingress validation always parses; anything else degrades to no
// overrides.
func parseHints(raw []byte) hints {
	p, err := normalize.Decode(raw)
	if err != nil {
		return hints{}
	}
	if err := p.Normalize(); err != nil {
		return hints{}
	}
	return hints{
		QtyOverride:        p.QtyOverride,
		PercentageOverride: p.PercentageOverride,
		TakeProfit:         p.TakeProfit,
		StopLoss:           p.StopLoss,
		FlatExit:           p.FlatExit,
		AfterHoursMode:     p.AfterHoursMode,
	}
}

func sizingRequest(job *core.QueueJob, h hints) *sizing.Request {
	return &sizing.Request{
		Action:             job.Action,
		Symbol:             job.Ticker,
		Entry:              job.Price,
		ATR:                job.ATR,
		TrailATRMult:       job.TrailATRMult,
		RMultipleTP:        job.RMultipleTP,
		RiskPct:            job.RiskPct,
		MaxSlots:           job.MaxSlots,
		BufferRatio:        job.BufferRatio,
		QtyOverride:        h.QtyOverride,
		PercentageOverride: h.PercentageOverride,
		TakeProfit:         h.TakeProfit,
		StopLoss:           h.StopLoss,
		FlatExit:           h.FlatExit,
	}
}

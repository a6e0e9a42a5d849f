package ingress

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
	"signal_relay/internal/normalize"
	apperrors "signal_relay/pkg/errors"
	"signal_relay/pkg/telemetry"
)

const (
	storeTimeout = 5 * time.Second
	maxBodyBytes = 1 << 20
)

// V2Handler accepts TradingView v2 webhooks: authenticate, normalize, dedup,
// persist the raw signal, then enqueue a job and nudge the worker. The steps
// run in strict order and the first failure decides the response.
type V2Handler struct {
	env    *config.Env
	store  core.QueueStore
	kicker *Kicker
	logger core.ILogger
}

func NewV2Handler(env *config.Env, store core.QueueStore, kicker *Kicker, logger core.ILogger) *V2Handler {
	return &V2Handler{
		env:    env,
		store:  store,
		kicker: kicker,
		logger: logger.WithField("component", "ingress_v2"),
	}
}

func (h *V2Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics := telemetry.GetGlobalMetrics()
	metrics.SignalsReceivedTotal.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("route", "v2")))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	p, err := normalize.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if subtle.ConstantTimeCompare([]byte(p.Passphrase), []byte(h.env.PassphraseV2)) != 1 {
		h.logger.Warn("v2 webhook rejected", "reason", "bad_passphrase", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "bad_passphrase")
		return
	}

	if token := string(h.env.HeaderTokenV2); token != "" {
		header := r.Header.Get("X-Auth")
		if header == "" {
			header = r.Header.Get("X-Webhook-Token")
		}
		if subtle.ConstantTimeCompare([]byte(header), []byte(token)) != 1 {
			h.logger.Warn("v2 webhook rejected", "reason", "bad_header_token", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "bad_header_token")
			return
		}
	}

	if err := p.Normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := p.DedupKey()
	log := h.logger.WithFields(map[string]interface{}{
		"strategy": p.Strategy,
		"ticker":   p.Ticker,
		"action":   p.Action,
	})

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	exists, err := h.store.HasSignal(ctx, key)
	if err != nil {
		log.Error("dedup lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	if exists {
		metrics.SignalsDedupedTotal.Add(ctx, 1)
		writeStatus(w, map[string]string{"status": "dup_ignored", "dedup_key": key})
		return
	}

	if err := h.store.InsertSignal(ctx, signalFromPayload(p, key)); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateSignal) {
			metrics.SignalsDedupedTotal.Add(ctx, 1)
			writeStatus(w, map[string]string{"status": "dup_ignored", "dedup_key": key})
			return
		}
		log.Error("signal insert failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	state, err := h.store.LoadAccountState(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		log.Error("account state load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	// A missing policy row means nobody enabled trading on this deployment.
	if state == nil || !state.TradingEnabled {
		log.Info("signal accepted but trading disabled", "dedup_key", key)
		writeStatus(w, map[string]string{"status": "trading_disabled"})
		return
	}

	strategy, err := h.store.LoadStrategy(ctx, p.Strategy)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		log.Error("strategy load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	if strategy == nil || strategy.Status != core.StrategyActive {
		log.Info("signal accepted but strategy paused", "dedup_key", key)
		writeStatus(w, map[string]string{"status": "strategy_paused"})
		return
	}

	job := jobFromPayload(p, strategy)
	if err := h.store.InsertJob(ctx, job); err != nil {
		log.Error("job insert failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	h.kicker.Kick(job.ID)
	log.Info("signal queued", "job_id", job.ID, "dedup_key", key)
	writeStatus(w, map[string]string{"status": "queued", "id": job.ID})
}

func signalFromPayload(p *normalize.Payload, key string) *core.Signal {
	return &core.Signal{
		ID:           uuid.NewString(),
		Strategy:     p.Strategy,
		Ticker:       p.Ticker,
		Timeframe:    p.Timeframe,
		Action:       p.Action,
		Price:        p.Price,
		ATR:          p.ATR,
		RiskPct:      p.RiskPct,
		TrailATRMult: p.TrailATRMult,
		BarTime:      p.BarTime,
		DedupKey:     key,
		Source:       "tv-v2",
		Raw:          p.Raw(),
	}
}

// jobFromPayload merges the payload's sizing hints with the strategy's
// defaults so the queue row is self-contained for the worker.
func jobFromPayload(p *normalize.Payload, strategy *core.Strategy) *core.QueueJob {
	job := &core.QueueJob{
		ID:           uuid.NewString(),
		Status:       core.JobReady,
		Strategy:     p.Strategy,
		Ticker:       p.Ticker,
		Timeframe:    p.Timeframe,
		Action:       p.Action,
		Price:        p.Price,
		ATR:          p.ATR,
		RiskPct:      p.RiskPct,
		TrailATRMult: p.TrailATRMult,
		RMultipleTP:  p.RMultipleTP,
		MaxSlots:     p.MaxSlots,
		BufferRatio:  p.BufferRatio,
		BarTime:      p.BarTime,
		Subaccount:   p.Subaccount,
		Raw:          p.Raw(),
	}
	if !job.RiskPct.Valid {
		job.RiskPct = strategy.DefaultRiskPct
	}
	if !job.TrailATRMult.Valid {
		job.TrailATRMult = strategy.TrailATRMult
	}
	if !job.RMultipleTP.Valid {
		job.RMultipleTP = strategy.RMultipleTP
	}
	if !job.MaxSlots.Valid {
		job.MaxSlots = strategy.MaxPositions
	}
	return job
}

// ctxWithStoreTimeout is shared by the handlers that only touch the store.
func ctxWithStoreTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, storeTimeout)
}

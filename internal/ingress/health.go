package ingress

import (
	"context"
	"net/http"
	"time"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
	"signal_relay/pkg/telemetry"
)

const brokerPingTimeout = 2 * time.Second

// BrokerProvider resolves a broker client for an account alias.
type BrokerProvider interface {
	Client(alias string) (core.BrokerClient, error)
}

// HealthHandler answers the operator's first question when webhooks stop
// flowing: which dependency fell over.
type HealthHandler struct {
	env     *config.Env
	store   core.QueueStore
	brokers BrokerProvider
	clock   core.Clock
	logger  core.ILogger
}

func NewHealthHandler(env *config.Env, store core.QueueStore, brokers BrokerProvider, clock core.Clock, logger core.ILogger) *HealthHandler {
	return &HealthHandler{
		env:     env,
		store:   store,
		brokers: brokers,
		clock:   clock,
		logger:  logger.WithField("component", "health"),
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := ctxWithStoreTimeout(r.Context())
	defer cancel()

	dbOK := h.store.Ping(ctx) == nil
	if !dbOK {
		h.logger.Warn("health check: store ping failed")
	}

	readyCnt := -1
	if n, err := h.store.CountJobs(ctx, core.JobReady); err == nil {
		readyCnt = n
		telemetry.GetGlobalMetrics().SetQueueDepth(core.JobReady, int64(n))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ts":               h.clock.Now().UTC().Format(time.RFC3339),
		"db_ok":            dbOK,
		"queue_ready_cnt":  readyCnt,
		"broker_ping":      h.pingBroker(r.Context()),
		"worker_url_set":   h.env.WorkerURL != "",
		"env_missing_hint": h.env.MissingEnvHints(),
	})
}

func (h *HealthHandler) pingBroker(ctx context.Context) string {
	if h.brokers == nil {
		return "unconfigured"
	}
	client, err := h.brokers.Client("default")
	if err != nil {
		return "unconfigured"
	}
	pctx, cancel := context.WithTimeout(ctx, brokerPingTimeout)
	defer cancel()
	if err := client.CheckHealth(pctx); err != nil {
		h.logger.Warn("health check: broker ping failed", "error", err)
		return "failed"
	}
	return "ok"
}

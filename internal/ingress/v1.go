package ingress

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
	"signal_relay/internal/normalize"
	"signal_relay/pkg/telemetry"
)

// StudyNotifier forwards non-order study alerts to the chat channels.
type StudyNotifier interface {
	StudyAlert(ctx context.Context, payload map[string]interface{}, chartURL string)
}

// V1Handler serves the legacy flat-payload webhook and the study forwarder.
// Responses keep the historical {"success": bool, "message": ...} shape with
// HTTP 200 throughout, because existing callers parse the body and ignore
// the status code.
type V1Handler struct {
	env      *config.Env
	store    core.QueueStore
	notifier StudyNotifier
	logger   core.ILogger
}

func NewV1Handler(env *config.Env, store core.QueueStore, notifier StudyNotifier, logger core.ILogger) *V1Handler {
	return &V1Handler{
		env:      env,
		store:    store,
		notifier: notifier,
		logger:   logger.WithField("component", "ingress_v1"),
	}
}

// ServeWebhook enqueues a legacy order payload into the v1 queue.
func (h *V1Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	telemetry.GetGlobalMetrics().SignalsReceivedTotal.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("route", "v1")))

	data, ok := h.decodeAuthenticated(w, r)
	if !ok {
		return
	}

	if _, present := data["subaccount"]; !present {
		data["subaccount"] = "default"
	}

	var missing []string
	for _, field := range []string{"ticker", "action"} {
		if _, present := data[field]; !present {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		writeV1(w, false, "Missing fields: "+strings.Join(missing, ", "))
		return
	}

	rawAction, _ := data["action"].(string)
	action, err := normalize.NormalizeAction(rawAction)
	if err != nil {
		writeV1(w, false, "Action must be BUY or SELL")
		return
	}
	data["action"] = action

	// The passphrase authenticated the call; it has no business at rest.
	delete(data, "passphrase")

	payload, err := json.Marshal(data)
	if err != nil {
		writeV1(w, false, "Invalid JSON format")
		return
	}

	ctx, cancel := ctxWithStoreTimeout(r.Context())
	defer cancel()
	id, err := h.store.InsertWebhookJob(ctx, payload)
	if err != nil {
		h.logger.Error("v1 enqueue failed", "error", err)
		writeV1(w, false, "queue unavailable")
		return
	}

	h.logger.Info("v1 order queued", "queue_id", id, "ticker", data["ticker"], "action", action)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "queued",
		"id":      id,
	})
}

// ServeStudy relays a study alert to chat, minus the credentials and the
// chart link which travels separately.
func (h *V1Handler) ServeStudy(w http.ResponseWriter, r *http.Request) {
	data, ok := h.decodeAuthenticated(w, r)
	if !ok {
		return
	}

	delete(data, "passphrase")
	chartURL, _ := data["chart_url"].(string)
	delete(data, "chart_url")
	if chartURL == "" {
		h.logger.Warn("study alert without chart_url")
	}

	if h.notifier != nil {
		h.notifier.StudyAlert(r.Context(), data, chartURL)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// decodeAuthenticated parses the body and checks the v1 passphrase, writing
// the legacy failure response itself when either step fails.
func (h *V1Handler) decodeAuthenticated(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeV1(w, false, "Invalid JSON format")
		return nil, false
	}
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		writeV1(w, false, "Invalid JSON format")
		return nil, false
	}

	pass, _ := data["passphrase"].(string)
	if h.env.PassphraseV1 == "" ||
		subtle.ConstantTimeCompare([]byte(pass), []byte(h.env.PassphraseV1)) != 1 {
		h.logger.Warn("v1 webhook rejected", "reason", "bad_passphrase", "remote", r.RemoteAddr)
		writeV1(w, false, "Invalid passphrase")
		return nil, false
	}
	return data, true
}

func writeV1(w http.ResponseWriter, ok bool, msg string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok, "message": msg})
}

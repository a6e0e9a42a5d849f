package ingress

import (
	"context"
	"net/http"
	"time"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
	httpclient "signal_relay/pkg/http"
)

const kickTimeout = 1500 * time.Millisecond

type workerTokenSigner struct {
	token string
}

func (s workerTokenSigner) SignRequest(req *http.Request) error {
	req.Header.Set("X-Worker-Token", s.token)
	return nil
}

// Kicker nudges the worker right after an enqueue so the job does not wait
// for the next poll tick. Strictly best effort: failures are logged and
// dropped, and the polling loop guarantees progress regardless.
type Kicker struct {
	client *httpclient.Client
	logger core.ILogger
}

// NewKicker returns a no-op kicker when the worker URL or secret is unset.
func NewKicker(env *config.Env, logger core.ILogger) *Kicker {
	k := &Kicker{logger: logger.WithField("component", "worker_kick")}
	if env.WorkerURL == "" || env.WorkerSecret == "" {
		return k
	}
	k.client = httpclient.NewClient(env.WorkerURL, kickTimeout, workerTokenSigner{token: string(env.WorkerSecret)})
	return k
}

// Kick fires the nudge on its own goroutine and returns immediately. The
// request carries its own deadline so it outlives the webhook response.
func (k *Kicker) Kick(id string) {
	if k.client == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), kickTimeout)
		defer cancel()
		if _, err := k.client.Post(ctx, "/worker/kick", map[string]string{"id": id}); err != nil {
			k.logger.Debug("worker kick failed", "job_id", id, "error", err)
		}
	}()
}

package ingress

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
)

// Deps wires the route handlers. Alerts may be nil (study forwarding is
// dropped); Brokers may be nil (health reports the broker as unconfigured).
type Deps struct {
	Env     *config.Env
	Store   core.QueueStore
	Brokers BrokerProvider
	Clock   core.Clock
	Alerts  StudyNotifier
	Logger  core.ILogger
}

// Server is the webhook-facing HTTP front.
type Server struct {
	addr   string
	logger core.ILogger
	mux    *http.ServeMux
	srv    *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	return &Server{
		addr:   addr,
		logger: deps.Logger.WithField("component", "ingress_server"),
		mux:    NewMux(deps),
	}
}

// NewMux builds the ingress routing table. Split out so tests can drive the
// routes through httptest without binding a port.
func NewMux(deps Deps) *http.ServeMux {
	kicker := NewKicker(deps.Env, deps.Logger)
	v2 := NewV2Handler(deps.Env, deps.Store, kicker, deps.Logger)
	v1 := NewV1Handler(deps.Env, deps.Store, deps.Alerts, deps.Logger)
	health := NewHealthHandler(deps.Env, deps.Store, deps.Brokers, deps.Clock, deps.Logger)

	mux := http.NewServeMux()
	mux.Handle("POST "+V2Path(deps.Env.PathToken), v2)
	mux.HandleFunc("POST /tradingview-to-webhook-order", v1.ServeWebhook)
	mux.HandleFunc("POST /tradingview-to-discord-study", v1.ServeStudy)
	mux.Handle("GET /health", health)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// V2Path renders the v2 webhook route, inserting the optional secret path
// segment when WEBHOOK_PATH_TOKEN is set.
func V2Path(token string) string {
	if token == "" {
		return "/v2/tradingview-to-webhook-order"
	}
	return "/v2/" + token + "/tradingview-to-webhook-order"
}

func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("ingress server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ingress server failed", "error", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("ingress server shutting down")
	return s.srv.Shutdown(ctx)
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

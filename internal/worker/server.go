package worker

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
)

// ServerDeps wires the worker's HTTP surface. Health and Feed may be nil.
type ServerDeps struct {
	Env    *config.Env
	Worker *Worker
	Health http.Handler
	Feed   http.Handler
	Logger core.ILogger
}

// Server exposes the kick endpoint, the operator drain route, health and the
// live status feed. It shares the process with the polling loop; both funnel
// into the same ProcessOne protocol.
type Server struct {
	addr   string
	logger core.ILogger
	mux    *http.ServeMux
	srv    *http.Server
}

func NewServer(addr string, deps ServerDeps) *Server {
	return &Server{
		addr:   addr,
		logger: deps.Logger.WithField("component", "worker_server"),
		mux:    NewMux(deps),
	}
}

// NewMux builds the worker routing table. Split out so tests can drive the
// routes through httptest without binding a port.
func NewMux(deps ServerDeps) *http.ServeMux {
	h := &httpHandlers{
		secret: deps.Env.WorkerSecret,
		worker: deps.Worker,
		logger: deps.Logger.WithField("component", "worker_http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /worker/kick", h.kick)
	mux.HandleFunc("GET /run-worker", h.runWorker)
	if deps.Health != nil {
		mux.Handle("GET /health", deps.Health)
	}
	if deps.Feed != nil {
		mux.Handle("GET /ws", deps.Feed)
	}
	return mux
}

func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("worker server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("worker server failed", "error", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("worker server shutting down")
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

type httpHandlers struct {
	secret config.Secret
	worker *Worker
	logger core.ILogger
}

// kick processes one job synchronously. The ingress fires it right after an
// enqueue; authentication is the shared X-Worker-Token secret.
func (h *httpHandlers) kick(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r.Header.Get("X-Worker-Token")) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if body.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	outcome, err := h.worker.ProcessOne(r.Context(), body.ID)
	if err != nil {
		h.logger.Error("kick processing failed", "job_id", body.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": body.ID, "status": string(outcome)})
}

// runWorker drains every due ready job synchronously and reports counts. The
// operator route for stuck queues and cron-style deployments.
func (h *httpHandlers) runWorker(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r.URL.Query().Get("key")) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	counts := h.worker.DrainDue(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "counts": counts})
}

// authorized compares the presented token against the shared secret. An
// unset secret disables both routes rather than accepting empty tokens.
func (h *httpHandlers) authorized(token string) bool {
	if h.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

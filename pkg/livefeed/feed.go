package livefeed

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	feedActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livefeed_active_connections",
		Help: "Current number of connected feed subscribers",
	})

	feedRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_rejected_total",
		Help: "Feed connections rejected, by reason",
	}, []string{"reason"})

	feedDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livefeed_dropped_messages_total",
		Help: "Feed messages dropped because a subscriber or the hub was backed up",
	})
)

func init() {
	prometheus.MustRegister(feedActiveConnections)
	prometheus.MustRegister(feedRejectedTotal)
	prometheus.MustRegister(feedDroppedTotal)
}

// WebSocket pacing. The ping period stays inside the read deadline so an idle
// but healthy connection never expires.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Options configure the feed handler.
type Options struct {
	AllowedOrigins []string
	MaxConnections int
	RatePerSec     float64
	RateBurst      int
	// Production rejects the "*" origin wildcard outright.
	Production bool
}

// Feed is the WebSocket endpoint. It implements http.Handler for the upgrade
// route and the event-publisher surface the worker emits into.
type Feed struct {
	hub    *Hub
	logger Logger

	upgrader       websocket.Upgrader
	allowedOrigins []string
	production     bool

	connSemaphore chan struct{}

	ipLimiters sync.Map
	rateLimit  rate.Limit
	rateBurst  int
}

// New builds a feed with its own hub. Run must be started for subscribers to
// make progress.
func New(opts Options, logger Logger) *Feed {
	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 50
	}
	ratePerSec := opts.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 10
	}

	f := &Feed{
		hub:            NewHub(logger),
		logger:         logger,
		allowedOrigins: opts.AllowedOrigins,
		production:     opts.Production,
		connSemaphore:  make(chan struct{}, maxConns),
		rateLimit:      rate.Limit(ratePerSec),
		rateBurst:      burst,
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     f.checkOrigin,
	}
	return f
}

// Run drives the hub loop until ctx is canceled.
func (f *Feed) Run(ctx context.Context) {
	f.hub.Run(ctx)
}

// Publish implements the worker's event-publisher surface. Delivery is
// best-effort and never blocks.
func (f *Feed) Publish(eventType string, data interface{}) {
	f.hub.Broadcast(NewMessage(eventType, data))
}

// ClientCount returns the number of connected subscribers.
func (f *Feed) ClientCount() int {
	return f.hub.ClientCount()
}

// ServeHTTP upgrades the connection and pumps messages until either side
// drops. Rate and connection limits run before the upgrade so abusive peers
// cost no WebSocket resources.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !f.ipLimiter(ip).Allow() {
		if f.logger != nil {
			f.logger.Warn("feed rate limit exceeded", "ip", ip)
		}
		feedRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case f.connSemaphore <- struct{}{}:
		feedActiveConnections.Inc()
		defer func() {
			<-f.connSemaphore
			feedActiveConnections.Dec()
		}()
	default:
		if f.logger != nil {
			f.logger.Warn("feed connection limit reached", "ip", ip)
		}
		feedRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("feed upgrade failed", "error", err)
		}
		return
	}

	client := NewClient(uuid.New().String())
	f.hub.Register(client)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		f.readPump(conn, client)
	}()
	wg.Wait()

	f.hub.Unregister(client)
	conn.Close()
}

func (f *Feed) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		if f.logger != nil {
			f.logger.Warn("feed connection without Origin header", "remote_addr", r.RemoteAddr)
		}
		feedRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		feedRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host

	for _, allowed := range f.allowedOrigins {
		if allowed == "*" {
			if f.production {
				if f.logger != nil {
					f.logger.Warn("wildcard origin rejected in production", "origin", origin)
				}
				feedRejectedTotal.WithLabelValues("invalid_origin").Inc()
				return false
			}
			if f.logger != nil {
				f.logger.Warn("feed connection allowed via wildcard origin", "origin", origin)
			}
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	if f.logger != nil {
		f.logger.Warn("feed connection from unauthorized origin", "origin", origin, "remote_addr", r.RemoteAddr)
	}
	feedRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

func (f *Feed) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Recv():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				if f.logger != nil {
					f.logger.Warn("feed write error", "client_id", client.id, "error", err)
				}
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) readPump(conn *websocket.Conn, client *Client) {
	defer f.hub.Unregister(client)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// The feed is one-way; inbound frames only refresh liveness.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if f.logger != nil {
					f.logger.Warn("feed read error", "client_id", client.id, "error", err)
				}
			}
			return
		}
	}
}

func (f *Feed) ipLimiter(ip string) *rate.Limiter {
	if val, ok := f.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(f.rateLimit, f.rateBurst)
	actual, _ := f.ipLimiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

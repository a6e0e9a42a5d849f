package livefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_relay/internal/core"
)

// The worker hands the feed its job events through this surface.
var _ core.EventPublisher = (*Feed)(nil)

func newTestFeed(t *testing.T, opts Options) (*Feed, *httptest.Server) {
	t.Helper()
	feed := New(opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go feed.Run(ctx)

	srv := httptest.NewServer(feed)
	t.Cleanup(srv.Close)
	return feed, srv
}

func dialFeed(srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(wsURL, header)
}

func TestFeedUpgradeAndReceive(t *testing.T) {
	feed, srv := newTestFeed(t, Options{AllowedOrigins: []string{"*"}})

	ws, resp, err := dialFeed(srv, "http://dash.local")
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	defer ws.Close()

	require.Eventually(t, func() bool { return feed.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	feed.Publish(TypeJobUpdate, map[string]interface{}{"id": "job-1", "status": "done"})

	ws.SetReadDeadline(time.Now().Add(time.Second))
	var received Message
	require.NoError(t, ws.ReadJSON(&received))
	assert.Equal(t, TypeJobUpdate, received.Type)

	data, ok := received.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "done", data["status"])
}

func TestFeedDisconnectUnregisters(t *testing.T) {
	feed, srv := newTestFeed(t, Options{AllowedOrigins: []string{"*"}})

	ws, _, err := dialFeed(srv, "http://dash.local")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return feed.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ws.Close()
	require.Eventually(t, func() bool { return feed.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFeedOriginWhitelist(t *testing.T) {
	feed, srv := newTestFeed(t, Options{AllowedOrigins: []string{"http://localhost:3000", "https://dash.example.com"}})

	ws, resp, err := dialFeed(srv, "http://localhost:3000")
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	ws.Close()

	_, resp, err = dialFeed(srv, "http://evil.example.com")
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	_, _, err = dialFeed(srv, "")
	require.Error(t, err)

	require.Eventually(t, func() bool { return feed.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFeedProductionRejectsWildcard(t *testing.T) {
	_, srv := newTestFeed(t, Options{AllowedOrigins: []string{"*"}, Production: true})

	_, resp, err := dialFeed(srv, "http://anything.example.com")
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestFeedConnectionLimit(t *testing.T) {
	_, srv := newTestFeed(t, Options{
		AllowedOrigins: []string{"*"},
		MaxConnections: 2,
		RatePerSec:     100,
		RateBurst:      100,
	})

	ws1, _, err := dialFeed(srv, "http://dash.local")
	require.NoError(t, err)
	defer ws1.Close()

	ws2, _, err := dialFeed(srv, "http://dash.local")
	require.NoError(t, err)
	defer ws2.Close()

	ws3, resp, err := dialFeed(srv, "http://dash.local")
	require.Error(t, err)
	if ws3 != nil {
		ws3.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFeedIPRateLimit(t *testing.T) {
	_, srv := newTestFeed(t, Options{
		AllowedOrigins: []string{"*"},
		MaxConnections: 100,
		RatePerSec:     1,
		RateBurst:      1,
	})

	ws1, _, err := dialFeed(srv, "http://dash.local")
	require.NoError(t, err)
	defer ws1.Close()

	ws2, resp, err := dialFeed(srv, "http://dash.local")
	require.Error(t, err)
	if ws2 != nil {
		ws2.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

type fakeStats struct{}

func (fakeStats) CountJobs(_ context.Context, status string) (int, error) {
	switch status {
	case "ready":
		return 3, nil
	case "processing":
		return 1, nil
	}
	return 0, nil
}

func (fakeStats) CountDeadLetters(context.Context) (int, error) { return 2, nil }

func TestFeedQueueStatsLoop(t *testing.T) {
	feed, srv := newTestFeed(t, Options{AllowedOrigins: []string{"*"}})

	ws, _, err := dialFeed(srv, "http://dash.local")
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return feed.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	statsCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.RunStats(statsCtx, fakeStats{}, 20*time.Millisecond)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Message
	for received.Type != TypeQueueStats {
		require.NoError(t, ws.ReadJSON(&received))
	}

	data, ok := received.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), data["ready"])
	assert.Equal(t, float64(1), data["processing"])
	assert.Equal(t, float64(2), data["dlq"])
	assert.Equal(t, float64(1), data["clients"])
}

func TestFeedStatsSkippedWithoutSubscribers(t *testing.T) {
	feed := New(Options{AllowedOrigins: []string{"*"}}, nil)
	// No hub loop running: publishStats must return before broadcasting.
	feed.publishStats(context.Background(), fakeStats{})
	assert.Equal(t, 0, feed.ClientCount())
}

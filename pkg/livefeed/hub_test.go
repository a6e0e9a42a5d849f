package livefeed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := NewClient("c-1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := NewClient("c-1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	msg := NewMessage(TypeJobUpdate, map[string]interface{}{"id": "job-1", "status": "done"})
	hub.Broadcast(msg)

	select {
	case received := <-client.Recv():
		assert.Equal(t, msg.Type, received.Type)
		assert.Equal(t, msg.Data, received.Data)
	case <-time.After(time.Second):
		t.Fatal("client did not receive message")
	}
}

func TestHubBroadcastToMultipleClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	clients := []*Client{NewClient("c-1"), NewClient("c-2"), NewClient("c-3")}
	for _, c := range clients {
		hub.Register(c)
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 5*time.Millisecond)

	msg := NewMessage(TypeQueueStats, map[string]interface{}{"ready": 2})
	hub.Broadcast(msg)

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			select {
			case received := <-c.Recv():
				assert.Equal(t, msg.Type, received.Type)
			case <-time.After(time.Second):
				t.Errorf("client %s did not receive message", c.id)
			}
		}(c)
	}
	wg.Wait()
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := NewClient("c-1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	assert.False(t, client.Send(NewMessage(TypeJobUpdate, nil)))
}

func TestClientSendWhenClosed(t *testing.T) {
	client := NewClient("c-1")
	client.Close()
	assert.False(t, client.Send(NewMessage(TypeJobUpdate, "x")))
	// Double close must not panic.
	client.Close()
}

func TestClientDropsOnFullBuffer(t *testing.T) {
	client := NewClient("c-1")
	for i := 0; i < sendBuffer; i++ {
		require.True(t, client.Send(NewMessage(TypeJobUpdate, i)))
	}
	assert.False(t, client.Send(NewMessage(TypeJobUpdate, "overflow")))
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	slow := NewClient("slow")
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// Fill the client's buffer without draining, then force one more
	// delivery attempt through the hub.
	for i := 0; i < sendBuffer; i++ {
		require.True(t, slow.Send(NewMessage(TypeJobUpdate, i)))
	}
	hub.Broadcast(NewMessage(TypeJobUpdate, "overflow"))

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConcurrentBroadcasts(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := NewClient("c-1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// Drain so the subscriber never looks slow.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range client.Recv() {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hub.Broadcast(NewMessage(TypeJobUpdate, fmt.Sprintf("msg-%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, hub.ClientCount())
	cancel()
	<-done
}

func TestMessageTypes(t *testing.T) {
	require.Equal(t, "job_update", TypeJobUpdate)
	require.Equal(t, "queue_stats", TypeQueueStats)
	require.Equal(t, "account_state", TypeAccountState)
	require.Equal(t, "report", TypeReport)
}

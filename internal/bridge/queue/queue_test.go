package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, policy Policy) (*Queue, *redis.Client) {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test", policy), client
}

func TestQueue_EnqueueAndConsume(t *testing.T) {
	q, _ := newTestQueue(t, Policy{Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed int32
	done := make(chan struct{})
	q.Start(func(ctx context.Context, payload json.RawMessage) error {
		var body map[string]string
		require.NoError(t, json.Unmarshal(payload, &body))
		require.Equal(t, "hello", body["msg"])
		if atomic.AddInt32(&processed, 1) == 1 {
			close(done)
		}
		return nil
	})
	defer q.Stop()

	require.NoError(t, q.Enqueue(ctx, map[string]string{"msg": "hello"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed in time")
	}
}

func TestQueue_RescheduleErrorDoesNotCountAsFailure(t *testing.T) {
	q, _ := newTestQueue(t, Policy{Concurrency: 1, MaxRetries: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	done := make(chan struct{})
	q.Start(func(ctx context.Context, payload json.RawMessage) error {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return &RescheduleError{Delay: 10 * time.Millisecond}
		}
		close(done)
		return nil
	})
	defer q.Stop()

	require.NoError(t, q.Enqueue(ctx, map[string]string{"msg": "retry-me"}))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("rescheduled job never completed")
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/loopfilter"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/queue"
	"github.com/chris-alexander-pop/system-design-library/pkg/cache/adapters/memory"
)

type fakeLookup struct {
	pairs []bridge.BridgePair
}

func (f *fakeLookup) ActiveForChannel(ctx context.Context, side bridge.Platform, channelID string) ([]bridge.BridgePair, error) {
	var out []bridge.BridgePair
	for _, p := range f.pairs {
		cid, _ := p.Channel(side)
		if cid == channelID {
			out = append(out, p)
		}
	}
	return out, nil
}

func newTestManager(t *testing.T) *queue.Manager {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewManager(client)
}

func TestRouterWorker_EnqueuesCreateWithWebhookVariant(t *testing.T) {
	pair := bridge.BridgePair{
		ID: "pair-1", AChannelID: "c-a", BChannelID: "c-b",
		BWebhookID: "wh-b", BWebhookToken: "tok-b", IsActive: true,
	}
	store := &fakeLookup{pairs: []bridge.BridgePair{pair}}
	filter := loopfilter.New(memory.New(), time.Minute)
	queues := newTestManager(t)
	w := New(store, filter, queues)

	ev := bridge.CanonicalEvent{
		Type:    bridge.MsgCreate,
		Content: "hello from discord",
		Author:  bridge.Author{Name: "alice"},
		Source:  bridge.Source{Platform: bridge.PlatformA, MessageID: "m1", ChannelID: "c-a"},
	}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	require.NoError(t, w.handle(context.Background(), payload))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got bridge.DeliveryJob
	done := make(chan struct{})
	q := queues.Delivery(string(bridge.PlatformB), "c-b")
	q.Start(func(ctx context.Context, payload json.RawMessage) error {
		require.NoError(t, json.Unmarshal(payload, &got))
		close(done)
		return nil
	})
	defer q.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a delivery job to be enqueued")
	}
	require.Equal(t, bridge.CreateWithWebhook, got.Variant)
	require.Equal(t, bridge.PlatformB, got.TargetPlatform)
	require.Equal(t, "c-b", got.TargetChannelID)
}

func TestRouterWorker_DropsLoopEchoedEvent(t *testing.T) {
	pair := bridge.BridgePair{
		ID: "pair-3", AChannelID: "c-a", BChannelID: "c-b",
		BWebhookID: "wh-b", BWebhookToken: "tok-b", IsActive: true,
	}
	store := &fakeLookup{pairs: []bridge.BridgePair{pair}}
	filter := loopfilter.New(memory.New(), time.Minute)
	queues := newTestManager(t)
	w := New(store, filter, queues)

	now := time.Now()
	hash := loopfilter.Hash("echo content", "bob", now)
	require.NoError(t, filter.Register(context.Background(), hash))

	ev := bridge.CanonicalEvent{
		Type:      bridge.MsgCreate,
		Content:   "echo content",
		Author:    bridge.Author{Name: "bob"},
		Source:    bridge.Source{Platform: bridge.PlatformA, MessageID: "m2", ChannelID: "c-a"},
		Timestamp: now.UnixMilli(),
	}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, w.handle(context.Background(), payload))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan struct{}, 1)
	q := queues.Delivery(string(bridge.PlatformB), "c-b")
	q.Start(func(ctx context.Context, payload json.RawMessage) error {
		got <- struct{}{}
		return nil
	})
	defer q.Stop()

	select {
	case <-got:
		t.Fatal("a loop-echoed event must not be enqueued for delivery")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestBuildJob_SlackTargetAlwaysUsesWorkaroundOnUpdate(t *testing.T) {
	store := &fakeLookup{}
	filter := loopfilter.New(memory.New(), time.Minute)
	queues := newTestManager(t)
	w := New(store, filter, queues)

	pair := bridge.BridgePair{
		ID: "pair-2", AChannelID: "c-a", BChannelID: "c-b",
		AWebhookID: "wh-a", AWebhookToken: "tok-a",
		BWebhookID: "wh-b", BWebhookToken: "tok-b",
	}
	ev := bridge.CanonicalEvent{Type: bridge.MsgUpdate, Source: bridge.Source{Platform: bridge.PlatformA}}
	job := w.buildJob(ev, pair, bridge.PlatformB)
	require.Equal(t, bridge.UpdateWorkaround, job.Variant, "slack has no direct webhook-edit path")

	ev2 := bridge.CanonicalEvent{Type: bridge.MsgUpdate, Source: bridge.Source{Platform: bridge.PlatformB}}
	job2 := w.buildJob(ev2, pair, bridge.PlatformA)
	require.Equal(t, bridge.UpdateDirect, job2.Variant, "discord supports a direct webhook-edit")
}

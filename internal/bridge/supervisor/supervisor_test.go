package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/delivery"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/loopfilter"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/platform"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/queue"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/ratelimit"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/store"
	cachememory "github.com/chris-alexander-pop/system-design-library/pkg/cache/adapters/memory"
	"github.com/chris-alexander-pop/system-design-library/pkg/database"
	"github.com/chris-alexander-pop/system-design-library/pkg/database/sql"
	"github.com/chris-alexander-pop/system-design-library/pkg/database/sql/adapters/sqlite"
	"github.com/chris-alexander-pop/system-design-library/pkg/events/adapters/memory"
)

type noopAdapter struct{}

func (noopAdapter) Connect(ctx context.Context, token string) error { return nil }
func (noopAdapter) Disconnect() error                               { return nil }
func (noopAdapter) OnEvent(handler platform.EventHandler)           {}
func (noopAdapter) CreateWebhook(ctx context.Context, channelID, name string) (*platform.Webhook, error) {
	return &platform.Webhook{ID: "wh", Token: "tok"}, nil
}
func (noopAdapter) FetchWebhook(ctx context.Context, channelID string) (*platform.Webhook, error) {
	return &platform.Webhook{ID: "wh", Token: "tok"}, nil
}
func (noopAdapter) SendWebhook(ctx context.Context, webhookID, token, channelID, content, username, avatarURL string) (string, error) {
	return "m1", nil
}
func (noopAdapter) EditWebhookMessage(ctx context.Context, webhookID, token, messageID, content string) (bool, error) {
	return true, nil
}
func (noopAdapter) DeleteWebhookMessage(ctx context.Context, webhookID, token, messageID string) (bool, error) {
	return true, nil
}
func (noopAdapter) SendMessage(ctx context.Context, channelID, content string, impersonate *platform.Impersonate) (string, error) {
	return "m1", nil
}
func (noopAdapter) EditMessage(ctx context.Context, channelID, messageID, content string) error { return nil }
func (noopAdapter) DeleteMessage(ctx context.Context, channelID, messageID string) error         { return nil }

var _ platform.Adapter = noopAdapter{}

func newHarness(t *testing.T) (*Supervisor, *store.Store) {
	t.Helper()

	conn, err := sqlite.New(sql.Config{Driver: database.DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)
	db := database.NewManager(conn)
	require.NoError(t, db.Get(context.Background()).AutoMigrate(&bridge.BridgePair{}, &bridge.MessageMap{}))

	bus := memory.New()
	adapters := map[bridge.Platform]platform.Adapter{
		bridge.PlatformA: noopAdapter{},
		bridge.PlatformB: noopAdapter{},
	}
	bridgeStore := store.New(db, bus, adapters)

	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	queues := queue.NewManager(client)

	kv := cachememory.New()
	filter := loopfilter.New(kv, time.Minute)
	limiter := ratelimit.New(kv, 100, time.Minute)
	deliveryWorker := delivery.New(db, bridgeStore, limiter, filter, kv, adapters, "https://bridge.example.com")

	sv := New(bus, bridgeStore, queues, deliveryWorker)
	return sv, bridgeStore
}

func TestSupervisor_StartActivatesExistingActivePairs(t *testing.T) {
	sv, bridgeStore := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pair, err := bridgeStore.Create(ctx, store.CreateInput{AChannelID: "c-a", BChannelID: "c-b"})
	require.NoError(t, err)

	require.NoError(t, sv.Start(ctx, []bridge.BridgePair{*pair}))
	require.True(t, sv.Active(pair.ID))
}

func TestSupervisor_ReactsToCreatedAndDeletedEvents(t *testing.T) {
	sv, bridgeStore := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sv.Start(ctx, nil))

	pair, err := bridgeStore.Create(ctx, store.CreateInput{AChannelID: "c-a", BChannelID: "c-b"})
	require.NoError(t, err)
	require.True(t, sv.Active(pair.ID), "bridge:created must activate a worker set")

	require.NoError(t, bridgeStore.Delete(ctx, pair.ID))
	require.False(t, sv.Active(pair.ID), "bridge:deleted must deactivate the worker set")
}

func TestSupervisor_ToggleOffDeactivates(t *testing.T) {
	sv, bridgeStore := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sv.Start(ctx, nil))

	pair, err := bridgeStore.Create(ctx, store.CreateInput{AChannelID: "c-a", BChannelID: "c-b"})
	require.NoError(t, err)
	require.True(t, sv.Active(pair.ID))

	_, err = bridgeStore.Toggle(ctx, pair.ID, false)
	require.NoError(t, err)
	require.False(t, sv.Active(pair.ID))
}

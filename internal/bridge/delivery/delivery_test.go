package delivery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/loopfilter"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/platform"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/queue"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/ratelimit"
	"github.com/chris-alexander-pop/system-design-library/pkg/cache/adapters/memory"
	"github.com/chris-alexander-pop/system-design-library/pkg/database"
	"github.com/chris-alexander-pop/system-design-library/pkg/database/sql"
	"github.com/chris-alexander-pop/system-design-library/pkg/database/sql/adapters/sqlite"
	appErrors "github.com/chris-alexander-pop/system-design-library/pkg/errors"
)

type fakeLookup struct {
	pair *bridge.BridgePair
	err  error
}

func (f *fakeLookup) Get(ctx context.Context, id string) (*bridge.BridgePair, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pair, nil
}

type recordedSend struct {
	content string
}

type fakeAdapter struct {
	sendCount    int
	sends        []recordedSend
	editCalls    int
	deleteCalls  int
	nextMsgID    int
	supportsEdit bool
}

func (f *fakeAdapter) Connect(ctx context.Context, token string) error { return nil }
func (f *fakeAdapter) Disconnect() error                               { return nil }
func (f *fakeAdapter) OnEvent(handler platform.EventHandler)           {}
func (f *fakeAdapter) CreateWebhook(ctx context.Context, channelID, name string) (*platform.Webhook, error) {
	return &platform.Webhook{ID: "wh", Token: "tok"}, nil
}
func (f *fakeAdapter) FetchWebhook(ctx context.Context, channelID string) (*platform.Webhook, error) {
	return &platform.Webhook{ID: "wh", Token: "tok"}, nil
}
func (f *fakeAdapter) SendWebhook(ctx context.Context, webhookID, token, channelID, content, username, avatarURL string) (string, error) {
	f.sendCount++
	f.sends = append(f.sends, recordedSend{content: content})
	f.nextMsgID++
	return idFor(f.nextMsgID), nil
}
func (f *fakeAdapter) EditWebhookMessage(ctx context.Context, webhookID, token, messageID, content string) (bool, error) {
	f.editCalls++
	return f.supportsEdit, nil
}
func (f *fakeAdapter) DeleteWebhookMessage(ctx context.Context, webhookID, token, messageID string) (bool, error) {
	f.deleteCalls++
	return true, nil
}
func (f *fakeAdapter) SendMessage(ctx context.Context, channelID, content string, impersonate *platform.Impersonate) (string, error) {
	f.sendCount++
	f.sends = append(f.sends, recordedSend{content: content})
	f.nextMsgID++
	return idFor(f.nextMsgID), nil
}
func (f *fakeAdapter) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	f.editCalls++
	return nil
}
func (f *fakeAdapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.deleteCalls++
	return nil
}

func idFor(n int) string {
	return "msg-" + string(rune('0'+n))
}

var _ platform.Adapter = (*fakeAdapter)(nil)

func newTestDB(t *testing.T) database.DB {
	t.Helper()
	conn, err := sqlite.New(sql.Config{Driver: database.DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)
	db := database.NewManager(conn)
	require.NoError(t, db.Get(context.Background()).AutoMigrate(&bridge.MessageMap{}))
	return db
}

func newTestWorker(t *testing.T, pair *bridge.BridgePair, adapter platform.Adapter, limit int64) (*Worker, database.DB) {
	t.Helper()
	db := newTestDB(t)
	kv := memory.New()
	limiter := ratelimit.New(kv, limit, time.Minute)
	filter := loopfilter.New(kv, time.Minute)
	store := &fakeLookup{pair: pair}
	adapters := map[bridge.Platform]platform.Adapter{bridge.PlatformB: adapter}
	w := New(db, store, limiter, filter, kv, adapters, "https://bridge.example.com")
	return w, db
}

func basePair() *bridge.BridgePair {
	return &bridge.BridgePair{
		ID: "pair-1", AChannelID: "c-a", BChannelID: "c-b",
		BWebhookID: "wh-b", BWebhookToken: "tok-b", IsActive: true,
	}
}

func TestDeliveryWorker_CreateWithWebhookSavesMessageMap(t *testing.T) {
	pair := basePair()
	adapter := &fakeAdapter{}
	w, db := newTestWorker(t, pair, adapter, 10)

	job := bridge.DeliveryJob{
		Event: bridge.CanonicalEvent{
			Content: "hi there",
			Author:  bridge.Author{Name: "alice"},
			Source:  bridge.Source{Platform: bridge.PlatformA, MessageID: "src-1"},
		},
		Variant:         bridge.CreateWithWebhook,
		BridgePairID:    pair.ID,
		TargetPlatform:  bridge.PlatformB,
		TargetChannelID: "c-b",
	}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, w.handle(context.Background(), payload))
	require.Equal(t, 1, adapter.sendCount)

	var mapping bridge.MessageMap
	require.NoError(t, db.Get(context.Background()).First(&mapping, "source_msg_id = ?", "src-1").Error)
	require.Equal(t, bridge.PlatformB, mapping.DestPlatform)
}

func TestDeliveryWorker_RateLimitedJobIsRescheduled(t *testing.T) {
	pair := basePair()
	adapter := &fakeAdapter{}
	w, _ := newTestWorker(t, pair, adapter, 1)

	job := bridge.DeliveryJob{
		Event: bridge.CanonicalEvent{
			Content: "msg",
			Author:  bridge.Author{Name: "alice"},
			Source:  bridge.Source{Platform: bridge.PlatformA, MessageID: "src-rl"},
		},
		Variant:         bridge.CreateWithWebhook,
		BridgePairID:    pair.ID,
		TargetPlatform:  bridge.PlatformB,
		TargetChannelID: "c-b",
	}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, w.handle(context.Background(), payload))
	require.Equal(t, 1, adapter.sendCount)

	err = w.handle(context.Background(), payload)
	var resched *queue.RescheduleError
	require.ErrorAs(t, err, &resched)
	require.Equal(t, 1, adapter.sendCount, "second call must not reach the adapter")
}

func TestDeliveryWorker_UpdateFallsBackToWorkaroundWhenUnsupported(t *testing.T) {
	pair := basePair()
	adapter := &fakeAdapter{supportsEdit: false}
	w, db := newTestWorker(t, pair, adapter, 10)
	ctx := context.Background()

	require.NoError(t, db.Get(ctx).Create(&bridge.MessageMap{
		ID: "m1", PairID: pair.ID, SourcePlatform: bridge.PlatformA,
		SourceMsgID: "src-2", DestPlatform: bridge.PlatformB, DestMsgID: "dest-msg-1",
	}).Error)

	job := bridge.DeliveryJob{
		Event: bridge.CanonicalEvent{
			Content: "edited content",
			Author:  bridge.Author{Name: "alice"},
			Source:  bridge.Source{Platform: bridge.PlatformA, MessageID: "src-2"},
		},
		Variant:         bridge.UpdateDirect,
		BridgePairID:    pair.ID,
		TargetPlatform:  bridge.PlatformB,
		TargetChannelID: "c-b",
	}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, w.handle(ctx, payload))
	require.Equal(t, 1, adapter.editCalls)
	require.Equal(t, 1, adapter.sendCount, "workaround falls back to a new send with a jump link")
	require.Contains(t, adapter.sends[0].content, "Jump to original message")
}

func TestDeliveryWorker_DeleteRemovesMessageMap(t *testing.T) {
	pair := basePair()
	adapter := &fakeAdapter{}
	w, db := newTestWorker(t, pair, adapter, 10)
	ctx := context.Background()

	require.NoError(t, db.Get(ctx).Create(&bridge.MessageMap{
		ID: "m2", PairID: pair.ID, SourcePlatform: bridge.PlatformA,
		SourceMsgID: "src-3", DestPlatform: bridge.PlatformB, DestMsgID: "dest-msg-2",
	}).Error)

	job := bridge.DeliveryJob{
		Event: bridge.CanonicalEvent{
			Source: bridge.Source{Platform: bridge.PlatformA, MessageID: "src-3"},
		},
		Variant:         bridge.Delete,
		BridgePairID:    pair.ID,
		TargetPlatform:  bridge.PlatformB,
		TargetChannelID: "c-b",
	}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, w.handle(ctx, payload))
	require.Equal(t, 1, adapter.deleteCalls)

	var count int64
	require.NoError(t, db.Get(ctx).Model(&bridge.MessageMap{}).Where("id = ?", "m2").Count(&count).Error)
	require.Zero(t, count)
}

func TestDeliveryWorker_NotFoundBridgePairDropsJobSilently(t *testing.T) {
	adapter := &fakeAdapter{}
	w, _ := newTestWorker(t, nil, adapter, 10)
	w.store = &fakeLookup{err: appErrors.NotFound("gone", nil)}

	job := bridge.DeliveryJob{
		Event:           bridge.CanonicalEvent{Source: bridge.Source{Platform: bridge.PlatformA, MessageID: "src-4"}},
		Variant:         bridge.Delete,
		BridgePairID:    "missing",
		TargetPlatform:  bridge.PlatformB,
		TargetChannelID: "c-b",
	}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, w.handle(context.Background(), payload))
	require.Zero(t, adapter.deleteCalls)
}

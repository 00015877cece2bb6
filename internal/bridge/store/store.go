// Package store implements BridgeStore: CRUD over BridgePair plus webhook
// provisioning/repair, GORM-backed (pkg/database), and an emitter of
// bridge:created/deleted/toggled lifecycle events (pkg/events.Bus) that
// WorkerSupervisor subscribes to.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/platform"
	"github.com/chris-alexander-pop/system-design-library/pkg/database"
	appErrors "github.com/chris-alexander-pop/system-design-library/pkg/errors"
	"github.com/chris-alexander-pop/system-design-library/pkg/events"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
	"github.com/chris-alexander-pop/system-design-library/pkg/validator"
)

const (
	TopicBridgeCreated = "bridge:created"
	TopicBridgeDeleted = "bridge:deleted"
	TopicBridgeToggled = "bridge:toggled"
)

// CreateInput is the validated shape BridgeStore.Create accepts.
type CreateInput struct {
	AChannelID  string `validate:"required"`
	AGuildID    string
	BChannelID  string `validate:"required"`
	BGuildID    string
	SyncUploads bool
}

// Store is the BridgeStore. adapters maps each Platform to the adapter used
// to provision/repair its webhook.
type Store struct {
	db       database.DB
	bus      events.Bus
	v        *validator.Validator
	adapters map[bridge.Platform]platform.Adapter
}

// New builds a Store. adapters must have an entry for bridge.PlatformA and
// bridge.PlatformB.
func New(db database.DB, bus events.Bus, adapters map[bridge.Platform]platform.Adapter) *Store {
	return &Store{db: db, bus: bus, v: validator.New(), adapters: adapters}
}

// Create persists a new BridgePair, provisions a webhook on each side that
// supports one, and emits bridge:created.
func (s *Store) Create(ctx context.Context, in CreateInput) (*bridge.BridgePair, error) {
	if err := s.v.ValidateStruct(in); err != nil {
		return nil, appErrors.InvalidArgument("invalid bridge pair input", err)
	}

	pair := &bridge.BridgePair{
		ID:          uuid.NewString(),
		AChannelID:  in.AChannelID,
		AGuildID:    in.AGuildID,
		BChannelID:  in.BChannelID,
		BGuildID:    in.BGuildID,
		SyncUploads: in.SyncUploads,
		IsActive:    true,
	}

	s.provisionWebhook(ctx, pair, bridge.PlatformA)
	s.provisionWebhook(ctx, pair, bridge.PlatformB)

	if err := s.db.Get(ctx).Create(pair).Error; err != nil {
		if isDuplicateKeyError(err) {
			return nil, appErrors.InvalidArgument("a bridge already exists for this channel pair", err)
		}
		return nil, appErrors.Wrap(err, "failed to create bridge pair")
	}

	s.publish(ctx, TopicBridgeCreated, pair)
	return pair, nil
}

// isDuplicateKeyError reports whether err is the unique-constraint violation
// on idx_bridge_pair_channels. GORM only translates this to
// gorm.ErrDuplicatedKey when the connection opts into TranslateError, which
// neither sql adapter does, so the underlying sqlite/postgres driver message
// is matched directly as a fallback.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || // sqlite
		strings.Contains(msg, "duplicate key value violates unique constraint") || // postgres
		strings.Contains(msg, "23505") // postgres unique_violation code
}

// Get loads one BridgePair by id.
func (s *Store) Get(ctx context.Context, id string) (*bridge.BridgePair, error) {
	var pair bridge.BridgePair
	if err := s.db.Get(ctx).First(&pair, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErrors.NotFound("bridge pair not found", err)
		}
		return nil, appErrors.Wrap(err, "failed to load bridge pair")
	}
	return &pair, nil
}

// ActiveForChannel returns every active BridgePair with channelID on side.
func (s *Store) ActiveForChannel(ctx context.Context, side bridge.Platform, channelID string) ([]bridge.BridgePair, error) {
	col := "a_channel_id"
	if side == bridge.PlatformB {
		col = "b_channel_id"
	}
	var pairs []bridge.BridgePair
	if err := s.db.Get(ctx).Where(col+" = ? AND is_active = ?", channelID, true).Find(&pairs).Error; err != nil {
		return nil, appErrors.Wrap(err, "failed to list active bridge pairs")
	}
	return pairs, nil
}

// ListActive returns every active BridgePair, used by WorkerSupervisor to
// populate its startup repair/activation pass.
func (s *Store) ListActive(ctx context.Context) ([]bridge.BridgePair, error) {
	var pairs []bridge.BridgePair
	if err := s.db.Get(ctx).Where("is_active = ?", true).Find(&pairs).Error; err != nil {
		return nil, appErrors.Wrap(err, "failed to list active bridge pairs")
	}
	return pairs, nil
}

// Toggle flips IsActive and emits bridge:toggled. Queued jobs for the pair's
// delivery queues are retained untouched either way.
func (s *Store) Toggle(ctx context.Context, id string, active bool) (*bridge.BridgePair, error) {
	pair, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pair.IsActive = active
	if err := s.db.Get(ctx).Save(pair).Error; err != nil {
		return nil, appErrors.Wrap(err, "failed to toggle bridge pair")
	}
	s.publish(ctx, TopicBridgeToggled, pair)
	return pair, nil
}

// Delete removes a BridgePair and emits bridge:deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	pair, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.Get(ctx).Delete(&bridge.BridgePair{}, "id = ?", id).Error; err != nil {
		return appErrors.Wrap(err, "failed to delete bridge pair")
	}
	s.publish(ctx, TopicBridgeDeleted, pair)
	return nil
}

// Repair re-provisions any missing webhook credential on pair and persists
// the result. Callable standalone (on demand) or at WorkerSupervisor
// startup.
func (s *Store) Repair(ctx context.Context, id string) (*bridge.BridgePair, error) {
	pair, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	changed := false
	if !pair.HasWebhook(bridge.PlatformA) {
		changed = s.provisionWebhook(ctx, pair, bridge.PlatformA) || changed
	}
	if !pair.HasWebhook(bridge.PlatformB) {
		changed = s.provisionWebhook(ctx, pair, bridge.PlatformB) || changed
	}
	if changed {
		if err := s.db.Get(ctx).Save(pair).Error; err != nil {
			return nil, appErrors.Wrap(err, "failed to persist repaired bridge pair")
		}
	}
	return pair, nil
}

// provisionWebhook attempts CreateWebhook (falling back to FetchWebhook)
// for side and writes the credential onto pair. Failure is logged, not
// fatal — a pair without a webhook simply uses the fallback send path
// (DeliveryJob Variant CreateFallback) until repaired.
func (s *Store) provisionWebhook(ctx context.Context, pair *bridge.BridgePair, side bridge.Platform) bool {
	adapter, ok := s.adapters[side]
	if !ok {
		return false
	}
	channelID, _ := pair.Channel(side)

	wh, err := adapter.CreateWebhook(ctx, channelID, "janus-bridge")
	if err != nil {
		wh, err = adapter.FetchWebhook(ctx, channelID)
	}
	if err != nil {
		logger.L().WarnContext(ctx, "failed to provision webhook", "side", side, "channel_id", channelID, "error", err)
		return false
	}

	if side == bridge.PlatformA {
		pair.AWebhookID, pair.AWebhookToken = wh.ID, wh.Token
	} else {
		pair.BWebhookID, pair.BWebhookToken = wh.ID, wh.Token
	}
	return true
}

func (s *Store) publish(ctx context.Context, topic string, pair *bridge.BridgePair) {
	if err := s.bus.Publish(ctx, topic, events.Event{
		Type:    topic,
		Source:  "bridge.store",
		Payload: pair,
	}); err != nil {
		logger.L().ErrorContext(ctx, "failed to publish bridge lifecycle event", "topic", topic, "error", err)
	}
}

// Package delivery implements DeliveryWorker: the job handler attached to
// every target-channel delivery queue, applying rate limiting, webhook-send/fallback
// for creates, webhook-edit/edit-workaround for updates, and tracked delete
// cleanup, updating MessageMap as the source of truth for identity mapping.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/loopfilter"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/platform"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/queue"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/ratelimit"
	"github.com/chris-alexander-pop/system-design-library/pkg/cache"
	"github.com/chris-alexander-pop/system-design-library/pkg/database"
	"github.com/chris-alexander-pop/system-design-library/pkg/errors"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

const editUpdateTTL = 7 * 24 * time.Hour

// BridgeLookup is the subset of store.Store DeliveryWorker depends on.
type BridgeLookup interface {
	Get(ctx context.Context, id string) (*bridge.BridgePair, error)
}

// Worker is the DeliveryWorker. A single Worker's handler is attached to every
// (targetPlatform, targetChannelId) delivery queue of every active bridge.
type Worker struct {
	db       database.DB
	store    BridgeLookup
	limiter  *ratelimit.Limiter
	filter   *loopfilter.Filter
	kv       cache.Cache
	adapters map[bridge.Platform]platform.Adapter
	webBase  string
}

// New builds a DeliveryWorker. adapters must have an entry for
// bridge.PlatformA and bridge.PlatformB; webBase is the jump-link base URL
// (WEB_BASE_URL).
func New(db database.DB, store BridgeLookup, limiter *ratelimit.Limiter, filter *loopfilter.Filter, kv cache.Cache, adapters map[bridge.Platform]platform.Adapter, webBase string) *Worker {
	return &Worker{db: db, store: store, limiter: limiter, filter: filter, kv: kv, adapters: adapters, webBase: webBase}
}

// Handle returns the queue.Handler DeliveryWorker applies to jobs. It is
// stateless across calls (every job is looked up fresh via BridgePairID), so
// it is safe to attach to the same Queue from more than one caller — the
// case where two bridges target the same physical channel and therefore
// share one Queue.
func (w *Worker) Handle() queue.Handler {
	return w.handle
}

func (w *Worker) handle(ctx context.Context, payload json.RawMessage) error {
	var job bridge.DeliveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.Wrap(err, "failed to decode delivery job")
	}

	allowed, delay, err := w.limiter.Allow(ctx, job.TargetPlatform, job.TargetChannelID)
	if err != nil {
		return err
	}
	if !allowed {
		return &queue.RescheduleError{Delay: delay}
	}

	pair, err := w.store.Get(ctx, job.BridgePairID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil
		}
		return err
	}

	adapter, ok := w.adapters[job.TargetPlatform]
	if !ok {
		return errors.Internal("no adapter registered for target platform", nil)
	}

	// Webhook credentials may have been repaired since the job was enqueued;
	// always dispatch with the BridgePair's current tokens rather than the
	// ones captured at enqueue time.
	if job.TargetPlatform == bridge.PlatformA {
		job.TargetWebhookID, job.TargetWebhookToken = pair.AWebhookID, pair.AWebhookToken
	} else {
		job.TargetWebhookID, job.TargetWebhookToken = pair.BWebhookID, pair.BWebhookToken
	}

	switch job.Variant {
	case bridge.CreateWithWebhook, bridge.CreateFallback:
		return w.create(ctx, job, adapter)
	case bridge.UpdateDirect:
		return w.updateDirect(ctx, job, adapter)
	case bridge.UpdateWorkaround:
		return w.updateWorkaround(ctx, job, adapter)
	case bridge.Delete:
		return w.delete(ctx, job, adapter)
	default:
		return errors.Internal("unknown delivery job variant: "+string(job.Variant), nil)
	}
}

func (w *Worker) create(ctx context.Context, job bridge.DeliveryJob, adapter platform.Adapter) error {
	content := strings.TrimSpace(job.Event.Content)
	if content == "" && len(job.Event.Attachments) == 0 {
		return nil
	}

	var destMsgID string
	var err error
	if job.Variant == bridge.CreateWithWebhook {
		destMsgID, err = adapter.SendWebhook(ctx, job.TargetWebhookID, job.TargetWebhookToken, job.TargetChannelID, content, job.Event.Author.Name, job.Event.Author.Avatar)
	} else {
		destMsgID, err = adapter.SendMessage(ctx, job.TargetChannelID, content, &platform.Impersonate{
			Name:      job.Event.Author.Name,
			AvatarURL: job.Event.Author.Avatar,
		})
	}
	if err != nil {
		return w.classify(ctx, job, err)
	}

	if destMsgID != "" {
		if err := w.saveMessageMap(ctx, job, destMsgID); err != nil {
			return err
		}
	}

	hash := loopfilter.Hash(content, job.Event.Author.Name, time.Now())
	return w.filter.Register(ctx, hash)
}

func (w *Worker) updateDirect(ctx context.Context, job bridge.DeliveryJob, adapter platform.Adapter) error {
	mapping, err := w.lookupMessageMap(ctx, job)
	if err != nil {
		return err
	}
	if mapping == nil {
		return nil
	}

	ok, err := adapter.EditWebhookMessage(ctx, job.TargetWebhookID, job.TargetWebhookToken, mapping.DestMsgID, job.Event.Content)
	if err != nil {
		return w.classify(ctx, job, err)
	}
	if !ok {
		// Adapter reports no supported direct-edit path; treat as the
		// workaround from here on out.
		return w.applyWorkaround(ctx, job, mapping, adapter)
	}
	return nil
}

func (w *Worker) updateWorkaround(ctx context.Context, job bridge.DeliveryJob, adapter platform.Adapter) error {
	mapping, err := w.lookupMessageMap(ctx, job)
	if err != nil {
		return err
	}
	if mapping == nil {
		return nil
	}
	return w.applyWorkaround(ctx, job, mapping, adapter)
}

func (w *Worker) applyWorkaround(ctx context.Context, job bridge.DeliveryJob, mapping *bridge.MessageMap, adapter platform.Adapter) error {
	jumpURL := w.jumpLink(job, mapping.DestMsgID)
	content := fmt.Sprintf("%s\n-# [Jump to original message](%s)", job.Event.Content, jumpURL)

	var newMsgID string
	var err error
	if job.TargetWebhookID != "" {
		newMsgID, err = adapter.SendWebhook(ctx, job.TargetWebhookID, job.TargetWebhookToken, job.TargetChannelID, content, job.Event.Author.Name, job.Event.Author.Avatar)
	} else {
		newMsgID, err = adapter.SendMessage(ctx, job.TargetChannelID, content, &platform.Impersonate{
			Name:      job.Event.Author.Name,
			AvatarURL: job.Event.Author.Avatar,
		})
	}
	if err != nil {
		return w.classify(ctx, job, err)
	}

	trackerKey := editUpdateKey(job.BridgePairID, job.Event.Source.Platform, job.Event.Source.MessageID)
	var previous string
	if lookupErr := w.kv.Get(ctx, trackerKey, &previous); lookupErr == nil && previous != "" {
		deleted := false
		if job.TargetWebhookID != "" {
			deleted, _ = adapter.DeleteWebhookMessage(ctx, job.TargetWebhookID, job.TargetWebhookToken, previous)
		}
		if !deleted {
			_ = adapter.DeleteMessage(ctx, job.TargetChannelID, previous)
		}
	}

	if newMsgID != "" {
		if err := w.kv.Set(ctx, trackerKey, newMsgID, editUpdateTTL); err != nil {
			logger.L().ErrorContext(ctx, "failed to set edit-update tracker", "key", trackerKey, "error", err)
		}
	}

	hash := loopfilter.Hash(content, job.Event.Author.Name, time.Now())
	return w.filter.Register(ctx, hash)
}

func (w *Worker) delete(ctx context.Context, job bridge.DeliveryJob, adapter platform.Adapter) error {
	mapping, err := w.lookupMessageMap(ctx, job)
	if err != nil {
		return err
	}
	if mapping == nil {
		return nil
	}

	if err := adapter.DeleteMessage(ctx, job.TargetChannelID, mapping.DestMsgID); err != nil {
		return w.classify(ctx, job, err)
	}

	trackerKey := editUpdateKey(job.BridgePairID, job.Event.Source.Platform, job.Event.Source.MessageID)
	var tracked string
	if lookupErr := w.kv.Get(ctx, trackerKey, &tracked); lookupErr == nil && tracked != "" {
		deleted := false
		if job.TargetWebhookID != "" {
			deleted, _ = adapter.DeleteWebhookMessage(ctx, job.TargetWebhookID, job.TargetWebhookToken, tracked)
		}
		if !deleted {
			_ = adapter.DeleteMessage(ctx, job.TargetChannelID, tracked)
		}
		_ = w.kv.Delete(ctx, trackerKey)
	}

	return w.db.Get(ctx).Delete(&bridge.MessageMap{}, "id = ?", mapping.ID).Error
}

func (w *Worker) lookupMessageMap(ctx context.Context, job bridge.DeliveryJob) (*bridge.MessageMap, error) {
	var m bridge.MessageMap
	err := w.db.Get(ctx).First(&m, "pair_id = ? AND source_platform = ? AND source_msg_id = ?",
		job.BridgePairID, job.Event.Source.Platform, job.Event.Source.MessageID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load message map")
	}
	return &m, nil
}

func (w *Worker) saveMessageMap(ctx context.Context, job bridge.DeliveryJob, destMsgID string) error {
	m := bridge.MessageMap{
		ID:             fmt.Sprintf("%s:%s:%s", job.BridgePairID, job.Event.Source.Platform, job.Event.Source.MessageID),
		PairID:         job.BridgePairID,
		SourcePlatform: job.Event.Source.Platform,
		SourceMsgID:    job.Event.Source.MessageID,
		DestPlatform:   job.TargetPlatform,
		DestMsgID:      destMsgID,
	}
	if err := w.db.Get(ctx).Save(&m).Error; err != nil {
		return errors.Wrap(err, "failed to save message map")
	}
	return nil
}

// classify maps a platform error into the shared taxonomy; permanent errors
// drop the MessageMap row so retries don't loop on a target the platform
// has permanently refused.
func (w *Worker) classify(ctx context.Context, job bridge.DeliveryJob, err error) error {
	classified := platform.Classify(err)
	if errors.Is(classified, errors.CodePermanent) {
		if derr := w.db.Get(ctx).Delete(&bridge.MessageMap{}, "pair_id = ? AND source_platform = ? AND source_msg_id = ?",
			job.BridgePairID, job.Event.Source.Platform, job.Event.Source.MessageID).Error; derr != nil {
			logger.L().ErrorContext(ctx, "failed to remove message map after permanent error", "error", derr)
		}
	}
	return classified
}

func (w *Worker) jumpLink(job bridge.DeliveryJob, destMsgID string) string {
	guildOrSelf := job.TargetGuildID
	if guildOrSelf == "" {
		guildOrSelf = "@me"
	}
	return fmt.Sprintf("%s/channels/%s/%s/%s", w.webBase, guildOrSelf, job.TargetChannelID, destMsgID)
}

func editUpdateKey(pairID string, sourcePlatform bridge.Platform, sourceMsgID string) string {
	return fmt.Sprintf("edit-update:%s:%s:%s", pairID, sourcePlatform, sourceMsgID)
}

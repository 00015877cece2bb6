// Package router implements RouterWorker: consumes the ingest queue,
// drops loop-echoed events, looks up active BridgePairs for the source
// channel, and enqueues one DeliveryJob per matching bridge onto the
// target's delivery queue with an explicit Variant selected up front.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/loopfilter"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/queue"
	"github.com/chris-alexander-pop/system-design-library/pkg/errors"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

// BridgeLookup is the subset of store.Store RouterWorker depends on.
type BridgeLookup interface {
	ActiveForChannel(ctx context.Context, side bridge.Platform, channelID string) ([]bridge.BridgePair, error)
}

// Worker is the RouterWorker.
type Worker struct {
	store  BridgeLookup
	filter *loopfilter.Filter
	queues *queue.Manager
}

// New builds a RouterWorker over store, using filter for loop avoidance and
// queues to reach per-target delivery queues.
func New(store BridgeLookup, filter *loopfilter.Filter, queues *queue.Manager) *Worker {
	return &Worker{store: store, filter: filter, queues: queues}
}

// Run starts consuming the ingest queue until ctx is cancelled. The ingest
// queue is a process-wide singleton (queue.Manager.Ingest), so there is only
// ever one caller attached, but Start/Stop is still used for symmetry with
// DeliveryWorker and so a second caller could attach safely if one were
// ever added.
func (w *Worker) Run(ctx context.Context) {
	q := w.queues.Ingest()
	q.Start(w.handle)
	defer q.Stop()
	<-ctx.Done()
}

func (w *Worker) handle(ctx context.Context, payload json.RawMessage) error {
	var ev bridge.CanonicalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return errors.Wrap(err, "failed to decode canonical event")
	}

	// DeliveryWorker registers a fingerprint for every impersonated send; if
	// an adapter's own bot/webhook-authored filtering misses an echo, it
	// still carries the same content+author and is caught here.
	if ev.Type != bridge.MsgDelete {
		hash := loopfilter.Hash(ev.Content, ev.Author.Name, time.UnixMilli(ev.Timestamp))
		seen, err := w.filter.Check(ctx, hash)
		if err != nil {
			return err
		}
		if seen {
			logger.L().DebugContext(ctx, "dropped loop-echoed event", "source_msg_id", ev.Source.MessageID)
			return nil
		}
	}

	pairs, err := w.store.ActiveForChannel(ctx, ev.Source.Platform, ev.Source.ChannelID)
	if err != nil {
		return err
	}

	target := bridge.Other(ev.Source.Platform)
	for _, pair := range pairs {
		job := w.buildJob(ev, pair, target)
		q := w.queues.Delivery(string(job.TargetPlatform), job.TargetChannelID)
		if err := q.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// buildJob selects the DeliveryJob Variant per design note "Dynamic job
// shape": the target's webhook-credential presence decides create variant;
// Discord supports a direct webhook-message edit, Slack does not, so update
// variant is decided by target platform rather than re-derived in the
// delivery worker.
func (w *Worker) buildJob(ev bridge.CanonicalEvent, pair bridge.BridgePair, target bridge.Platform) bridge.DeliveryJob {
	channelID, guildID := pair.Channel(target)
	webhookID, webhookToken := "", ""
	if target == bridge.PlatformA {
		webhookID, webhookToken = pair.AWebhookID, pair.AWebhookToken
	} else {
		webhookID, webhookToken = pair.BWebhookID, pair.BWebhookToken
	}

	job := bridge.DeliveryJob{
		Event:              ev,
		BridgePairID:       pair.ID,
		TargetPlatform:     target,
		TargetChannelID:    channelID,
		TargetGuildID:      guildID,
		TargetWebhookID:    webhookID,
		TargetWebhookToken: webhookToken,
		SyncUploads:        pair.SyncUploads,
	}

	switch ev.Type {
	case bridge.MsgDelete:
		job.Variant = bridge.Delete
	case bridge.MsgUpdate:
		if target == bridge.PlatformA && pair.HasWebhook(target) {
			job.Variant = bridge.UpdateDirect
		} else {
			job.Variant = bridge.UpdateWorkaround
		}
	default:
		if pair.HasWebhook(target) {
			job.Variant = bridge.CreateWithWebhook
		} else {
			job.Variant = bridge.CreateFallback
		}
	}
	return job
}

// Package supervisor implements WorkerSupervisor: subscribes to
// BridgeStore's lifecycle events and, in response, attaches or detaches the
// shared DeliveryWorker handler on each bridge's two delivery queues (one per
// target platform), guarding the active-bridge map with a SmartRWMutex.
package supervisor

import (
	"context"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/delivery"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/queue"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/store"
	"github.com/chris-alexander-pop/system-design-library/pkg/concurrency"
	"github.com/chris-alexander-pop/system-design-library/pkg/events"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

// workerSet is the pair of delivery queues (one per side) a bridge attaches
// its DeliveryWorker handler to. Queues are tracked directly, not behind a
// context.CancelFunc: two bridges that target the same physical channel
// share one *queue.Queue (queue.Manager.Delivery memoizes by name), and that
// Queue's own Start/Stop reference counting — not this set's lifetime — is
// what decides whether its dispatcher keeps running.
type workerSet struct {
	queues []*queue.Queue
}

// Supervisor owns the bridgeID → workerSet map and reacts to bridge
// lifecycle events.
type Supervisor struct {
	bus      events.Bus
	store    *store.Store
	queues   *queue.Manager
	delivery *delivery.Worker

	mu   *concurrency.SmartRWMutex
	sets map[string]*workerSet
}

// New builds a Supervisor. delivery is shared across every bridge's worker
// set (it is stateless per job, keyed entirely by the job payload).
func New(bus events.Bus, bridgeStore *store.Store, queues *queue.Manager, deliveryWorker *delivery.Worker) *Supervisor {
	return &Supervisor{
		bus:      bus,
		store:    bridgeStore,
		queues:   queues,
		delivery: deliveryWorker,
		mu:       concurrency.NewSmartRWMutex(concurrency.MutexConfig{Name: "worker-supervisor"}),
		sets:     make(map[string]*workerSet),
	}
}

// Start subscribes to the bridge lifecycle topics and repairs + activates
// every currently-active bridge pair (startup repair pass).
func (sv *Supervisor) Start(ctx context.Context, activePairs []bridge.BridgePair) error {
	if err := sv.bus.Subscribe(ctx, store.TopicBridgeCreated, sv.onCreatedOrToggled); err != nil {
		return err
	}
	if err := sv.bus.Subscribe(ctx, store.TopicBridgeToggled, sv.onCreatedOrToggled); err != nil {
		return err
	}
	if err := sv.bus.Subscribe(ctx, store.TopicBridgeDeleted, sv.onDeleted); err != nil {
		return err
	}

	for i := range activePairs {
		pair := activePairs[i]
		if !pair.HasWebhook(bridge.PlatformA) || !pair.HasWebhook(bridge.PlatformB) {
			if _, err := sv.store.Repair(ctx, pair.ID); err != nil {
				logger.L().WarnContext(ctx, "startup webhook repair failed", "bridge_id", pair.ID, "error", err)
			}
		}
		if pair.IsActive {
			sv.activate(ctx, pair.ID, pair)
		}
	}
	return nil
}

func (sv *Supervisor) onCreatedOrToggled(ctx context.Context, ev events.Event) error {
	pair, ok := ev.Payload.(*bridge.BridgePair)
	if !ok {
		return nil
	}
	if pair.IsActive {
		sv.activate(ctx, pair.ID, *pair)
	} else {
		sv.deactivate(pair.ID)
	}
	return nil
}

func (sv *Supervisor) onDeleted(ctx context.Context, ev events.Event) error {
	pair, ok := ev.Payload.(*bridge.BridgePair)
	if !ok {
		return nil
	}
	sv.deactivate(pair.ID)
	return nil
}

// activate starts a workerSet for pair if one isn't already running. Each
// side's delivery queue gets its own run loop so platform A and platform B
// targets drain independently.
func (sv *Supervisor) activate(ctx context.Context, bridgeID string, pair bridge.BridgePair) {
	sv.mu.Lock()
	if _, exists := sv.sets[bridgeID]; exists {
		sv.mu.Unlock()
		return
	}

	qs := []*queue.Queue{
		sv.queues.Delivery(string(bridge.PlatformA), pair.AChannelID),
		sv.queues.Delivery(string(bridge.PlatformB), pair.BChannelID),
	}
	sv.sets[bridgeID] = &workerSet{queues: qs}
	sv.mu.Unlock()

	// Start is reference-counted per Queue: if another active bridge already
	// targets the same physical channel, this attaches to its already-running
	// dispatcher instead of racing a second one onto the same Redis keys.
	for _, q := range qs {
		q.Start(sv.delivery.Handle())
	}

	logger.L().InfoContext(ctx, "activated bridge worker set", "bridge_id", bridgeID)
}

// deactivate stops a bridge's worker set, if any. Queued jobs in its
// delivery queues are retained, not drained or dropped; processing resumes
// untouched on reactivation. If another active bridge shares one of this
// bridge's queues, that queue's dispatcher keeps running — only this
// bridge's attachment is released.
func (sv *Supervisor) deactivate(bridgeID string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	set, exists := sv.sets[bridgeID]
	if !exists {
		return
	}
	for _, q := range set.queues {
		q.Stop()
	}
	delete(sv.sets, bridgeID)
}

// Active reports whether bridgeID currently has a running worker set.
func (sv *Supervisor) Active(bridgeID string) bool {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	_, ok := sv.sets[bridgeID]
	return ok
}

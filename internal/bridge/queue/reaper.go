package queue

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chris-alexander-pop/system-design-library/pkg/concurrency/distlock"
	distlockredis "github.com/chris-alexander-pop/system-design-library/pkg/concurrency/distlock/adapters/redis"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

const reaperLockKey = "job-reaper-sweep"
const reaperLockTTL = 50 * time.Second

// JobReaper periodically trims each queue's completed/failed lists down to
// their configured retention caps. Retention is a periodic sweep, not
// something triggered by the request path, so it runs on its own schedule
// rather than inline with complete()/fail(). Janus is typically run as one
// process, but the sweep is idempotent list-trimming run against shared
// Redis state, so if more than one instance is ever run for availability, a
// distlock.Lock keeps them from redundantly racing the same LTrim calls
// every minute.
type JobReaper struct {
	manager *Manager
	cron    *cron.Cron
	locker  distlock.Locker
}

// NewJobReaper builds a reaper that sweeps every queue manager has created,
// coordinating with any other janus process sharing the same Redis instance
// via a SET-NX lock.
func NewJobReaper(manager *Manager) *JobReaper {
	return &JobReaper{
		manager: manager,
		cron:    cron.New(),
		locker:  distlockredis.New(manager.client, "janus:lock:"),
	}
}

// Start schedules the sweep to run every minute.
func (r *JobReaper) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc("@every 1m", func() { r.sweep(ctx) })
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for an in-flight sweep to finish.
func (r *JobReaper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *JobReaper) sweep(ctx context.Context) {
	lock := r.locker.NewLock(reaperLockKey, reaperLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.L().ErrorContext(ctx, "reaper failed to acquire sweep lock", "error", err)
		return
	}
	if !acquired {
		// Another janus process already holds the sweep lock this minute.
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.L().ErrorContext(ctx, "reaper failed to release sweep lock", "error", err)
		}
	}()

	for _, q := range r.manager.All() {
		if err := q.client.LTrim(ctx, completedKey(q.name), 0, int64(q.policy.KeepCompleted-1)).Err(); err != nil {
			logger.L().ErrorContext(ctx, "reaper failed to trim completed list", "queue", q.name, "error", err)
		}
		if err := q.client.LTrim(ctx, failedKey(q.name), 0, int64(q.policy.KeepFailed-1)).Err(); err != nil {
			logger.L().ErrorContext(ctx, "reaper failed to trim failed list", "queue", q.name, "error", err)
		}
	}
}

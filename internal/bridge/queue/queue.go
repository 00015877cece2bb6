// Package queue implements durable, per-key FIFO job queues on Redis: a list
// for pending jobs, a sorted set for delayed retries/reschedules, and one
// string key per job holding its JSON-encoded payload and attempt count.
// Consumption runs on
// pkg/concurrency.WorkerPool.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chris-alexander-pop/system-design-library/pkg/concurrency"
	"github.com/chris-alexander-pop/system-design-library/pkg/errors"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
	"github.com/chris-alexander-pop/system-design-library/pkg/resilience"
)

// Job wraps an arbitrary JSON payload with queue bookkeeping.
type Job struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Policy configures retry/concurrency/retention for one queue.
type Policy struct {
	Concurrency    int
	MaxRetries     int
	InitialBackoff time.Duration
	KeepCompleted  int
	KeepFailed     int
}

// Handler processes a single job's payload. A returned error triggers a
// retry (if attempts remain) or a move to the failed list. Return a
// *RescheduleError to reschedule without counting it as a failed attempt
// (the RateLimiter backpressure path).
type Handler func(ctx context.Context, payload json.RawMessage) error

// RescheduleError asks the queue to requeue the job after Delay without
// treating the attempt as a failure.
type RescheduleError struct {
	Delay time.Duration
}

func (e *RescheduleError) Error() string {
	return fmt.Sprintf("rescheduled after %s", e.Delay)
}

// Queue is one named, durable FIFO backed by Redis. Its dispatcher (pending
// pop loop, due-delay ticker and WorkerPool) is reference-counted: two
// bridges can legitimately target the same physical channel and each will
// call Start/Stop independently on the Queue the Manager hands back for
// that channel, so the dispatcher itself must only run once no matter how
// many callers are attached.
type Queue struct {
	client *redis.Client
	name   string
	policy Policy

	mu       sync.Mutex
	refCount int
	cancel   context.CancelFunc
}

func pendingKey(name string) string    { return "janus:queue:" + name + ":pending" }
func processingKey(name string) string { return "janus:queue:" + name + ":processing" }
func delayedKey(name string) string    { return "janus:queue:" + name + ":delayed" }
func completedKey(name string) string  { return "janus:queue:" + name + ":completed" }
func failedKey(name string) string     { return "janus:queue:" + name + ":failed" }
func jobKey(name, id string) string    { return "janus:queue:" + name + ":job:" + id }

// New binds a Queue to name over client, applying policy to retries and
// retention.
func New(client *redis.Client, name string, policy Policy) *Queue {
	if policy.Concurrency <= 0 {
		policy.Concurrency = 1
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = time.Second
	}
	return &Queue{client: client, name: name, policy: policy}
}

// Enqueue pushes a new job carrying payload onto the pending FIFO.
func (q *Queue) Enqueue(ctx context.Context, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job payload")
	}
	job := Job{ID: uuid.NewString(), Payload: raw}
	return q.push(ctx, job)
}

func (q *Queue) push(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job")
	}
	if err := q.client.Set(ctx, jobKey(q.name, job.ID), data, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to store job state")
	}
	if err := q.client.LPush(ctx, pendingKey(q.name), job.ID).Err(); err != nil {
		return errors.Wrap(err, "failed to push job onto pending list")
	}
	return nil
}

// Reschedule re-enqueues job to become eligible after delay, used by
// RateLimiter-driven backpressure (not counted as a failure/retry) and by
// retry backoff.
func (q *Queue) Reschedule(ctx context.Context, job Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job")
	}
	if err := q.client.Set(ctx, jobKey(q.name, job.ID), data, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to store job state")
	}
	score := float64(time.Now().Add(delay).UnixMilli())
	return q.client.ZAdd(ctx, delayedKey(q.name), redis.Z{Score: score, Member: job.ID}).Err()
}

// promoteDue moves any delayed job whose schedule has elapsed back onto the
// pending FIFO. ZRem's removed count is checked so that a job already
// claimed (removed from delayedKey) by a concurrent promoteDue call — or a
// concurrent Reschedule racing the same id — is never pushed twice.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, delayedKey(q.name), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedKey(q.name), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			// Already claimed by another promoteDue run (or a concurrent
			// Reschedule re-adding/removing the same id); not ours to push.
			continue
		}
		if err := q.client.LPush(ctx, pendingKey(q.name), id).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Start attaches handler to the Queue's dispatcher, starting the pending-pop
// loop, the due-delay ticker and the policy.Concurrency WorkerPool on the
// first Start call and incrementing a reference count on every call after
// that. Every Start must be paired with a Stop; the dispatcher itself keeps
// running, unaffected by any individual caller's context, until the last
// attached caller Stops. This lets two bridges that both target the same
// physical channel share one Queue/one dispatcher safely (see
// supervisor.Supervisor), rather than each starting — and racing — their
// own.
func (q *Queue) Start(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.refCount++
	if q.refCount > 1 {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	ticker := time.NewTicker(200 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := q.promoteDue(runCtx); err != nil {
					logger.L().ErrorContext(runCtx, "failed to promote delayed jobs", "queue", q.name, "error", err)
				}
			}
		}
	}()

	pool := concurrency.NewWorkerPool(q.policy.Concurrency, q.policy.Concurrency)
	pool.Start(runCtx)
	go q.dispatch(runCtx, pool, handler)
}

// Stop detaches one Start call. The dispatcher is torn down only once every
// attached caller has called Stop.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.refCount == 0 {
		return
	}
	q.refCount--
	if q.refCount == 0 && q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
}

func (q *Queue) dispatch(ctx context.Context, pool *concurrency.WorkerPool, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, err := q.client.BRPopLPush(ctx, pendingKey(q.name), processingKey(q.name), time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.L().ErrorContext(ctx, "failed to pop job", "queue", q.name, "error", err)
			continue
		}

		pool.Submit(func(ctx context.Context) {
			q.handleOne(ctx, id, handler)
		})
	}
}

func (q *Queue) handleOne(ctx context.Context, id string, handler Handler) {
	defer q.client.LRem(ctx, processingKey(q.name), 1, id)

	data, err := q.client.Get(ctx, jobKey(q.name, id)).Bytes()
	if err != nil {
		logger.L().ErrorContext(ctx, "job state missing", "queue", q.name, "job_id", id, "error", err)
		return
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		logger.L().ErrorContext(ctx, "job state corrupt", "queue", q.name, "job_id", id, "error", err)
		return
	}

	err = handler(ctx, job.Payload)
	if err == nil {
		q.complete(ctx, job)
		return
	}

	var resched *RescheduleError
	if errors.As(err, &resched) {
		if rerr := q.Reschedule(ctx, job, resched.Delay); rerr != nil {
			logger.L().ErrorContext(ctx, "failed to reschedule rate-limited job", "queue", q.name, "job_id", job.ID, "error", rerr)
		}
		return
	}

	if errors.Is(err, errors.CodePermanent) {
		// Permanent target errors complete the job without retry: the
		// caller has already cleaned up any dependent state (e.g.
		// MessageMap) before returning this error kind.
		q.complete(ctx, job)
		return
	}

	job.Attempts++
	if job.Attempts >= q.policy.MaxRetries {
		q.fail(ctx, job, err)
		return
	}

	delay := resilience.ExponentialBackoff(job.Attempts, q.policy.InitialBackoff, time.Minute, 0.1)
	if rerr := q.Reschedule(ctx, job, delay); rerr != nil {
		logger.L().ErrorContext(ctx, "failed to reschedule job", "queue", q.name, "job_id", job.ID, "error", rerr)
	}
}

func (q *Queue) complete(ctx context.Context, job Job) {
	q.client.Del(ctx, jobKey(q.name, job.ID))
	q.client.LPush(ctx, completedKey(q.name), job.ID)
	q.client.LTrim(ctx, completedKey(q.name), 0, int64(q.policy.KeepCompleted-1))
}

func (q *Queue) fail(ctx context.Context, job Job, cause error) {
	logger.L().ErrorContext(ctx, "job exhausted retries", "queue", q.name, "job_id", job.ID, "error", cause)
	q.client.Del(ctx, jobKey(q.name, job.ID))
	q.client.LPush(ctx, failedKey(q.name), job.ID)
	q.client.LTrim(ctx, failedKey(q.name), 0, int64(q.policy.KeepFailed-1))
}

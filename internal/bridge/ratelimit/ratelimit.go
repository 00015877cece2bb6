// Package ratelimit gates outbound delivery per (targetPlatform, channelId)
// using a fixed-window counter against the shared KV.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	"github.com/chris-alexander-pop/system-design-library/pkg/algorithms/ratelimit"
	"github.com/chris-alexander-pop/system-design-library/pkg/cache"
)

const (
	defaultLimit  int64 = 5
	defaultWindow       = 2 * time.Second
)

// Limiter is the per-channel leaky/fixed-window gate DeliveryWorker consults
// before dispatching a job.
type Limiter struct {
	inner  ratelimit.Limiter
	limit  int64
	window time.Duration
}

// New wraps store with a FixedWindowLimiter. limit/window default to the
// spec's N=5, W=2s when left zero.
func New(store cache.Cache, limit int64, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Limiter{
		inner:  ratelimit.New(store, ratelimit.StrategyFixedWindow),
		limit:  limit,
		window: window,
	}
}

func channelKey(platform bridge.Platform, channelID string) string {
	return fmt.Sprintf("ratelimit:%s:%s", platform, channelID)
}

// Allow reports whether a send to (platform, channelID) is permitted right
// now, and if not, how long the caller should wait before retrying.
func (l *Limiter) Allow(ctx context.Context, platform bridge.Platform, channelID string) (allowed bool, delay time.Duration, err error) {
	res, err := l.inner.Allow(ctx, channelKey(platform, channelID), l.limit, l.window)
	if err != nil {
		return false, 0, err
	}
	if res.Allowed {
		return true, 0, nil
	}
	d := res.Reset
	if d <= 0 {
		d = l.window
	}
	return false, d, nil
}

// Package loopfilter suppresses A→B→A echoes: when the bridge re-emits a
// message and the source platform delivers it back as a new inbound event,
// the fingerprint registered on send lets the router recognize and drop it.
package loopfilter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/chris-alexander-pop/system-design-library/pkg/cache"
	"github.com/chris-alexander-pop/system-design-library/pkg/errors"
)

const defaultTTL = 10 * time.Second

// Filter wraps a shared Cache to provide Check/Register over content
// fingerprints.
type Filter struct {
	store cache.Cache
	ttl   time.Duration
}

// New constructs a Filter with the given registration TTL. ttl <= 0 uses a
// default of 10s.
func New(store cache.Cache, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Filter{store: store, ttl: ttl}
}

// Hash computes SHA-256(content "|" authorName "|" floor(now/60000)),
// minute-bucketing so the same content from the same author within the
// same wall-clock minute collapses to one fingerprint.
func Hash(content, authorName string, now time.Time) string {
	minute := now.UnixMilli() / 60000
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", content, authorName, minute)))
	return hex.EncodeToString(sum[:])
}

func key(hash string) string {
	return "hash:" + hash
}

// Check reports whether hash was previously Registered and is still within
// its TTL — true means "drop this event, it's an echo".
func (f *Filter) Check(ctx context.Context, hash string) (bool, error) {
	var v string
	err := f.store.Get(ctx, key(hash), &v)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errors.CodeNotFound) {
		return false, nil
	}
	return false, err
}

// Register marks hash as a recent outbound send, suppressing it from being
// re-ingested as an echo for the filter's TTL.
func (f *Filter) Register(ctx context.Context, hash string) error {
	return f.store.Set(ctx, key(hash), "1", f.ttl)
}

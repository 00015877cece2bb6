package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	"github.com/chris-alexander-pop/system-design-library/pkg/cache/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AllowsUpToLimitThenRejects(t *testing.T) {
	l := New(memory.New(), 5, 2*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _, err := l.Allow(ctx, bridge.PlatformB, "C_B")
		require.NoError(t, err)
		require.True(t, allowed, "call %d should be allowed", i+1)
	}

	allowed, delay, err := l.Allow(ctx, bridge.PlatformB, "C_B")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Greater(t, delay, time.Duration(0))
}

func TestLimiter_ChannelsAreIndependent(t *testing.T) {
	l := New(memory.New(), 1, 2*time.Second)
	ctx := context.Background()

	allowed, _, err := l.Allow(ctx, bridge.PlatformB, "C_B_1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = l.Allow(ctx, bridge.PlatformB, "C_B_2")
	require.NoError(t, err)
	require.True(t, allowed, "a different channel must have its own counter")
}

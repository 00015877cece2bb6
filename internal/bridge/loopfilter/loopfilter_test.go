package loopfilter

import (
	"context"
	"testing"
	"time"

	"github.com/chris-alexander-pop/system-design-library/pkg/cache/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestHash_DeterministicWithinSameMinute(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	h1 := Hash("hello", "alice", now)
	h2 := Hash("hello", "alice", now.Add(5*time.Second))
	require.Equal(t, h1, h2)
}

func TestHash_DiffersAcrossMinuteBoundary(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	h1 := Hash("hello", "alice", now)
	h2 := Hash("hello", "alice", now.Add(time.Minute))
	require.NotEqual(t, h1, h2)
}

func TestHash_DiffersOnContentOrAuthor(t *testing.T) {
	now := time.Now()
	base := Hash("hello", "alice", now)
	require.NotEqual(t, base, Hash("hello", "bob", now))
	require.NotEqual(t, base, Hash("hi", "alice", now))
}

func TestFilter_CheckRegister(t *testing.T) {
	f := New(memory.New(), 0)
	ctx := context.Background()
	h := Hash("hello", "alice", time.Now())

	hit, err := f.Check(ctx, h)
	require.NoError(t, err)
	require.False(t, hit, "fresh hash must not be a hit")

	require.NoError(t, f.Register(ctx, h))

	hit, err = f.Check(ctx, h)
	require.NoError(t, err)
	require.True(t, hit, "registered hash must be a hit")
}

func TestFilter_CommutesWithIngestCheck(t *testing.T) {
	// Registering an outgoing hash after an ingest check that missed, then
	// immediately re-ingesting the same content as an echo, drops the echo.
	f := New(memory.New(), time.Minute)
	ctx := context.Background()
	h := Hash("hello", "alice", time.Now())

	hit, err := f.Check(ctx, h)
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, f.Register(ctx, h))

	hit, err = f.Check(ctx, h)
	require.NoError(t, err)
	require.True(t, hit)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "feed:f-1:rss")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "feed:f-1:rss", "<rss/>", time.Minute))

	val, ok, err := c.Get(ctx, "feed:f-1:rss")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<rss/>", val)
}

func TestMemoryExpiry(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 2*time.Minute))

	current = current.Add(time.Minute)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry past its TTL must read as a miss")
}

func TestMemoryDefaultTTL(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))

	current = current.Add(DefaultTTL - time.Second)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	current = current.Add(2 * time.Second)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

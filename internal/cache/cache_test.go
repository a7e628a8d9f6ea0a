package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyvfuruta/driva-dispatch/internal/config"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c := New(config.Redis{Host: mr.Host(), Port: mr.Port()}, ttl)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)

	require.NoError(t, c.Ping(ctx))

	key := ProcessedKey("C1", "m-1")
	assert.Equal(t, "carrier:C1:m-1", key)

	seen, err := c.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.Remember(ctx, key))

	seen, err = c.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)

	seen, err = c.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestCache_Unavailable(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	mr.Close()

	_, err := c.Seen(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

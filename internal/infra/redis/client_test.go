package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromRedis(rdb), mr
}

func TestLock_ExclusiveUntilReleased(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "p1:fr", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "p1:fr", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire should fail while held")

	require.NoError(t, c.ReleaseLock(ctx, "p1:fr"))

	ok, err = c.AcquireLock(ctx, "p1:fr", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ReleaseIgnoresForeignOwner(t *testing.T) {
	c, mr := newTestClient(t)
	other := NewFromRedis(c.rdb)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "p1:de", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, other.ReleaseLock(ctx, "p1:de"))
	assert.True(t, mr.Exists(lockKey("p1:de")))
}

func TestLock_Expires(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "p2:fr", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = c.AcquireLock(ctx, "p2:fr", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttemptCounter_RollingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	counter := NewAttemptCounter(c, time.Hour)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, counter.Record(ctx, "scope", now.Add(-2*time.Hour)))
	require.NoError(t, counter.Record(ctx, "scope", now.Add(-10*time.Minute)))
	require.NoError(t, counter.Record(ctx, "scope", now))

	n, err := counter.Count(ctx, "scope", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = counter.Count(ctx, "other", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

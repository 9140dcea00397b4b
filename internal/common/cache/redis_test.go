package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_LockOwnership(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	ok, err := c.TryLock(ctx, "roulette:sweeper:lock", "replica-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TryLock(ctx, "roulette:sweeper:lock", "replica-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held lock")

	// A foreign owner cannot release or extend the lock.
	require.NoError(t, c.Unlock(ctx, "roulette:sweeper:lock", "replica-b"))
	assert.True(t, mr.Exists("roulette:sweeper:lock"))
	extended, err := c.ExtendLock(ctx, "roulette:sweeper:lock", "replica-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, extended)

	extended, err = c.ExtendLock(ctx, "roulette:sweeper:lock", "replica-a", time.Hour)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.Equal(t, time.Hour, mr.TTL("roulette:sweeper:lock"))

	require.NoError(t, c.Unlock(ctx, "roulette:sweeper:lock", "replica-a"))
	assert.False(t, mr.Exists("roulette:sweeper:lock"))
}

func TestGetWithCached(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}
	get := func() (int, error) {
		return GetWithCached(ctx, c, "answer", time.Minute, time.Second,
			func(v int) bool { return v == 0 },
			strconv.Itoa,
			strconv.Atoi,
			fetch)
	}

	v, err := get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	v, err = get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "second read must be served from cache")

	mr.FastForward(2 * time.Minute)
	_, err = get()
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetWithCached_EmptyAndErrors(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	empty := func(context.Context) (string, error) { return "", nil }
	v, err := GetWithCached(ctx, c, "missing", time.Minute, 5*time.Second,
		func(s string) bool { return s == "" },
		func(s string) string { return s },
		func(s string) (string, error) { return s, nil },
		empty)
	require.NoError(t, err)
	assert.Empty(t, v)
	got, _ := mr.Get("missing")
	assert.Equal(t, NullCacheValue, got)

	boom := errors.New("boom")
	_, err = GetWithCached(ctx, c, "broken", time.Minute, time.Second,
		func(s string) bool { return s == "" },
		func(s string) string { return s },
		func(s string) (string, error) { return s, nil },
		func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("broken"))
}

func TestGetWithCached_NilCacheFallsThrough(t *testing.T) {
	v, err := GetWithCached[int](context.Background(), nil, "k", time.Minute, time.Second,
		func(v int) bool { return v == 0 },
		strconv.Itoa,
		strconv.Atoi,
		func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestJitterTTL(t *testing.T) {
	for i := 0; i < 50; i++ {
		got := JitterTTL(time.Minute)
		assert.LessOrEqual(t, got, time.Minute)
		assert.GreaterOrEqual(t, got, 54*time.Second)
	}
	assert.Equal(t, time.Duration(0), JitterTTL(0))
}

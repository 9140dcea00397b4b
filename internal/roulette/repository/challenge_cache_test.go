package repository

import (
	"context"
	"testing"
	"time"

	"maproulette/internal/common/cache"
	"maproulette/internal/roulette/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingChallenges struct {
	ChallengeRepository
	gets int
}

func (c *countingChallenges) GetChallenge(ctx context.Context, slug string) (*model.Challenge, error) {
	c.gets++
	return c.ChallengeRepository.GetChallenge(ctx, slug)
}

func newCachedChallenges(t *testing.T) (*CachedChallengeRepository, *countingChallenges, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisCache.Close() })

	inner := &countingChallenges{ChallengeRepository: NewMemoryStore()}
	return NewCachedChallengeRepository(inner, redisCache, time.Minute, 10*time.Second), inner, mr
}

func TestCachedChallengeRepository_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := newCachedChallenges(t)
	box := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}

	created, err := repo.UpsertChallenge(ctx, &model.Challenge{Slug: "test1", Title: "Test", Difficulty: 1, Geometry: box, Active: true, Type: "default"})
	require.NoError(t, err)
	assert.True(t, created)

	first, err := repo.GetChallenge(ctx, "test1")
	require.NoError(t, err)
	second, err := repo.GetChallenge(ctx, "test1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)
	assert.Equal(t, first.Title, second.Title)
	assert.Equal(t, box, second.Geometry)
	assert.True(t, mr.Exists("roulette:challenge:test1"))
}

func TestCachedChallengeRepository_DeactivateInvalidates(t *testing.T) {
	ctx := context.Background()
	repo, inner, _ := newCachedChallenges(t)

	_, err := repo.UpsertChallenge(ctx, &model.Challenge{Slug: "test1", Title: "Test", Difficulty: 1, Active: true})
	require.NoError(t, err)
	_, err = repo.GetChallenge(ctx, "test1")
	require.NoError(t, err)

	flipped, err := repo.DeactivateChallenge(ctx, "test1")
	require.NoError(t, err)
	assert.True(t, flipped)

	c, err := repo.GetChallenge(ctx, "test1")
	require.NoError(t, err)
	assert.False(t, c.Active)
	assert.Equal(t, 2, inner.gets)
}

func TestCachedChallengeRepository_CachesMisses(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := newCachedChallenges(t)

	_, err := repo.GetChallenge(ctx, "ghost")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	_, err = repo.GetChallenge(ctx, "ghost")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	assert.Equal(t, 1, inner.gets)

	value, err := mr.Get("roulette:challenge:ghost")
	require.NoError(t, err)
	assert.Equal(t, cache.NullCacheValue, value)

	assert.ErrorIs(t, repo.DeleteChallenge(ctx, "ghost"), ErrChallengeNotFound)
}

func TestCachedChallengeRepository_CacheErrorFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := newCachedChallenges(t)
	mr.SetError("LOADING Redis is loading the dataset in memory")

	_, err := repo.UpsertChallenge(ctx, &model.Challenge{Slug: "test1", Title: "Test", Difficulty: 1, Active: true})
	require.NoError(t, err, "a failed invalidation does not fail the write")

	for i := 0; i < 2; i++ {
		c, err := repo.GetChallenge(ctx, "test1")
		require.NoError(t, err)
		assert.Equal(t, "Test", c.Title)
	}
	assert.Equal(t, 2, inner.gets)

	_, err = repo.GetChallenge(ctx, "ghost")
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	mr.SetError("")
	_, err = repo.GetChallenge(ctx, "test1")
	require.NoError(t, err)
	_, err = repo.GetChallenge(ctx, "test1")
	require.NoError(t, err)
	assert.Equal(t, 4, inner.gets, "the cache serves again once redis recovers")
}

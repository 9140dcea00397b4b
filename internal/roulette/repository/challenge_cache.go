package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"maproulette/internal/common/cache"
	"maproulette/internal/roulette/model"
)

const (
	challengeKeyPrefix = "roulette:challenge:"

	defaultChallengeCacheTTL      = 5 * time.Minute
	defaultChallengeCacheEmptyTTL = 30 * time.Second
)

// CachedChallengeRepository serves GetChallenge from Redis and invalidates the
// entry on every write. Listing always goes to the store.
type CachedChallengeRepository struct {
	ChallengeRepository

	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewCachedChallengeRepository wraps next. A nil cache disables caching.
func NewCachedChallengeRepository(next ChallengeRepository, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *CachedChallengeRepository {
	if ttl <= 0 {
		ttl = defaultChallengeCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultChallengeCacheEmptyTTL
	}
	return &CachedChallengeRepository{ChallengeRepository: next, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

func (r *CachedChallengeRepository) GetChallenge(ctx context.Context, slug string) (*model.Challenge, error) {
	challenge, err := cache.GetWithCached[*model.Challenge](
		ctx,
		r.cache,
		challengeKey(slug),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(c *model.Challenge) bool { return c == nil },
		marshalChallenge,
		unmarshalChallenge,
		func(ctx context.Context) (*model.Challenge, error) {
			c, err := r.ChallengeRepository.GetChallenge(ctx, slug)
			if errors.Is(err, ErrChallengeNotFound) {
				return nil, nil
			}
			return c, err
		},
	)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, ErrChallengeNotFound
	}
	return challenge, nil
}

func (r *CachedChallengeRepository) UpsertChallenge(ctx context.Context, c *model.Challenge) (bool, error) {
	created, err := r.ChallengeRepository.UpsertChallenge(ctx, c)
	if err != nil {
		return false, err
	}
	r.invalidate(ctx, c.Slug)
	return created, nil
}

func (r *CachedChallengeRepository) DeleteChallenge(ctx context.Context, slug string) error {
	return cache.DeleteCached(ctx, r.cache, challengeKey(slug), func(ctx context.Context) error {
		return r.ChallengeRepository.DeleteChallenge(ctx, slug)
	})
}

func (r *CachedChallengeRepository) DeactivateChallenge(ctx context.Context, slug string) (bool, error) {
	flipped, err := r.ChallengeRepository.DeactivateChallenge(ctx, slug)
	if err != nil {
		return false, err
	}
	r.invalidate(ctx, slug)
	return flipped, nil
}

func (r *CachedChallengeRepository) invalidate(ctx context.Context, slug string) {
	if r.cache != nil {
		_ = r.cache.Del(ctx, challengeKey(slug))
	}
}

func challengeKey(slug string) string {
	return challengeKeyPrefix + slug
}

func marshalChallenge(c *model.Challenge) string {
	payload, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalChallenge(data string) (*model.Challenge, error) {
	var c model.Challenge
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"maproulette/internal/common/cache"
	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/repository"
	appErr "maproulette/pkg/errors"

	"github.com/zeromicro/go-zero/core/mr"
)

const (
	statsKeyPrefix     = "roulette:stats:"
	defaultStatsWindow = 30 * 24 * time.Hour
	// statsWindowStep rounds an open window end so repeated requests share a cache key.
	statsWindowStep = time.Minute
)

// StatsConfig holds statistics service dependencies.
type StatsConfig struct {
	Challenges repository.ChallengeRepository
	Stats      repository.StatsRepository
	// Cache is optional.
	Cache cache.Cache

	ExpirationThreshold time.Duration
	CacheTTL            time.Duration
	Timeouts            TimeoutConfig
	Now                 Clock
}

// StatsService answers read-only rollups, cached for a short TTL.
type StatsService struct {
	challenges repository.ChallengeRepository
	stats      repository.StatsRepository
	cache      cache.Cache

	threshold time.Duration
	ttl       time.Duration
	timeouts  TimeoutConfig
	now       Clock
}

// ChallengeStats is the challenge summary.
type ChallengeStats struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
}

// NewStatsService creates a StatsService. A nil Cache disables caching.
func NewStatsService(cfg StatsConfig) (*StatsService, error) {
	if cfg.Challenges == nil {
		return nil, fmt.Errorf("challenge repository is required")
	}
	if cfg.Stats == nil {
		return nil, fmt.Errorf("stats repository is required")
	}
	if cfg.ExpirationThreshold <= 0 {
		cfg.ExpirationThreshold = model.DefaultExpirationThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultStatsCacheTTL
	}
	return &StatsService{
		challenges: cfg.Challenges,
		stats:      cfg.Stats,
		cache:      cfg.Cache,
		threshold:  cfg.ExpirationThreshold,
		ttl:        cfg.CacheTTL,
		timeouts:   cfg.Timeouts,
		now:        defaultClock(cfg.Now),
	}, nil
}

// GetChallengeStats counts all and available tasks of a challenge concurrently.
func (s *StatsService) GetChallengeStats(ctx context.Context, slug string) (ChallengeStats, error) {
	if err := s.ensureChallenge(ctx, slug); err != nil {
		return ChallengeStats{}, err
	}
	return cached(ctx, s, "summary:"+slug, func(ctx context.Context) (ChallengeStats, error) {
		var out ChallengeStats
		now := s.now()
		err := mr.Finish(
			func() (err error) {
				out.Total, err = s.stats.CountTasks(ctx, slug)
				return err
			},
			func() (err error) {
				out.Available, err = s.stats.CountAvailable(ctx, slug, now, s.threshold)
				return err
			},
		)
		return out, err
	})
}

// StatusCounts counts tasks by latest status, optionally for one challenge and user.
func (s *StatsService) StatusCounts(ctx context.Context, filter repository.StatsFilter) (map[model.Status]int64, error) {
	if filter.ChallengeSlug != "" {
		if err := s.ensureChallenge(ctx, filter.ChallengeSlug); err != nil {
			return nil, err
		}
	}
	key := fmt.Sprintf("status:%s:%d", filter.ChallengeSlug, filter.UserID)
	return cached(ctx, s, key, func(ctx context.Context) (map[model.Status]int64, error) {
		return s.stats.StatusCounts(ctx, filter)
	})
}

// DailyStatusCounts buckets actions by day and status. A zero range means the last 30 days,
// ending at the next full minute.
func (s *StatsService) DailyStatusCounts(ctx context.Context, filter repository.StatsFilter, from, to time.Time) ([]repository.DailyCount, error) {
	from, to, err := s.window(from, to)
	if err != nil {
		return nil, err
	}
	if filter.ChallengeSlug != "" {
		if err := s.ensureChallenge(ctx, filter.ChallengeSlug); err != nil {
			return nil, err
		}
	}
	key := fmt.Sprintf("daily:%s:%d:%d:%d", filter.ChallengeSlug, filter.UserID, from.Unix(), to.Unix())
	return cached(ctx, s, key, func(ctx context.Context) ([]repository.DailyCount, error) {
		return s.stats.DailyStatusCounts(ctx, filter, from, to)
	})
}

// UserActionCounts is the per-user leaderboard.
func (s *StatsService) UserActionCounts(ctx context.Context, slug string, from, to time.Time) ([]repository.UserCount, error) {
	from, to, err := s.window(from, to)
	if err != nil {
		return nil, err
	}
	if slug != "" {
		if err := s.ensureChallenge(ctx, slug); err != nil {
			return nil, err
		}
	}
	key := fmt.Sprintf("users:%s:%d:%d", slug, from.Unix(), to.Unix())
	return cached(ctx, s, key, func(ctx context.Context) ([]repository.UserCount, error) {
		return s.stats.UserActionCounts(ctx, slug, from, to)
	})
}

func (s *StatsService) window(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = s.now().Truncate(statsWindowStep).Add(statsWindowStep)
	}
	if from.IsZero() {
		from = to.Add(-defaultStatsWindow)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, appErr.Newf(appErr.InvalidTimeRange, "from must be before to")
	}
	return from, to, nil
}

func (s *StatsService) ensureChallenge(ctx context.Context, slug string) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if _, err := s.challenges.GetChallenge(ctxDB.ctx, slug); err != nil {
		return challengeLookupError(err, slug)
	}
	return nil
}

// cached reads through Redis. Cache failures fall through to the store.
func cached[T any](ctx context.Context, s *StatsService, key string, load func(context.Context) (T, error)) (T, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	out, err := cache.GetWithCached[T](
		ctxDB.ctx,
		s.cache,
		statsKeyPrefix+strings.ToLower(key),
		cache.JitterTTL(s.ttl),
		s.ttl,
		func(T) bool { return false },
		func(v T) string {
			payload, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(payload)
		},
		func(data string) (T, error) {
			var v T
			err := json.Unmarshal([]byte(data), &v)
			return v, err
		},
		load,
	)
	if err != nil {
		var zero T
		return zero, appErr.Wrapf(err, appErr.StatsQueryFailed, "stats query failed")
	}
	return out, nil
}

package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"maproulette/internal/common/cache"
	"maproulette/internal/common/metrics"
	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/repository"
	appErr "maproulette/pkg/errors"
	"maproulette/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

const (
	// SweeperLockKey serializes sweeps across replicas.
	SweeperLockKey = "roulette:sweeper:lock"

	defaultSweepInterval  = time.Hour
	defaultSweepBatchSize = 500
	defaultSweepTimeout   = 5 * time.Minute
)

// SweeperConfig holds sweeper dependencies and schedule.
type SweeperConfig struct {
	Tasks repository.TaskRepository
	// Cache enables the cross-replica lock when set.
	Cache   cache.Cache
	Metrics *metrics.Metrics

	ExpirationThreshold time.Duration
	Interval            time.Duration
	BatchSize           int
	// Timeout bounds one sweep and is the lock TTL.
	Timeout time.Duration
	Now     Clock
}

// Sweeper returns expired leases to the pool.
type Sweeper struct {
	tasks   repository.TaskRepository
	cache   cache.Cache
	metrics *metrics.Metrics

	threshold time.Duration
	interval  time.Duration
	batchSize int
	timeout   time.Duration
	now       Clock
	owner     string

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a Sweeper. Start runs it periodically, RunOnce runs one pass.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if cfg.ExpirationThreshold <= 0 {
		cfg.ExpirationThreshold = model.DefaultExpirationThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSweepTimeout
	}
	return &Sweeper{
		tasks:     cfg.Tasks,
		cache:     cfg.Cache,
		metrics:   cfg.Metrics,
		threshold: cfg.ExpirationThreshold,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		now:       defaultClock(cfg.Now),
		owner:     uuid.NewString(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// RunOnce performs one sweep and returns the number of reclaimed tasks.
// Another replica holding the lock makes it a no-op.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	sweepCtx := withTimeout(ctx, s.timeout)
	defer sweepCtx.cancel()
	ctx = sweepCtx.ctx

	if s.cache != nil {
		locked, err := s.cache.TryLock(ctx, SweeperLockKey, s.owner, s.timeout)
		if err != nil {
			// Reclaims are conditional; an unlocked sweep only duplicates work.
			logger.Warn(ctx, "sweeper lock unavailable, sweeping without it", zap.Error(err))
		} else if !locked {
			logger.Debug(ctx, "sweep skipped, lock held elsewhere")
			return 0, nil
		} else {
			defer func() {
				if err := s.cache.Unlock(context.WithoutCancel(ctx), SweeperLockKey, s.owner); err != nil {
					logger.Warn(ctx, "release sweeper lock failed", zap.Error(err))
				}
			}()
		}
	}

	now := s.now()
	staleBefore := model.StaleBefore(now, s.threshold)
	reclaimed := 0
	var afterID int64
	for {
		ids, err := s.tasks.ListStaleTasks(ctx, staleBefore, afterID, s.batchSize)
		if err != nil {
			s.metrics.AddReclaimed(reclaimed)
			return reclaimed, appErr.Wrapf(err, appErr.SweepFailed, "list stale tasks failed")
		}
		for _, id := range ids {
			ok, err := s.tasks.ReclaimTask(ctx, id, staleBefore, now)
			if err != nil {
				s.metrics.AddReclaimed(reclaimed)
				return reclaimed, appErr.Wrapf(err, appErr.SweepFailed, "reclaim task %d failed", id)
			}
			if ok {
				reclaimed++
			}
		}
		if len(ids) < s.batchSize {
			break
		}
		afterID = ids[len(ids)-1]
	}

	s.metrics.AddReclaimed(reclaimed)
	logger.Info(ctx, "expiration sweep finished",
		zap.Int("reclaimed", reclaimed),
		zap.Time("stale_before", staleBefore),
	)
	return reclaimed, nil
}

// Start runs a sweep immediately and then every interval until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	threading.GoSafe(func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if _, err := s.RunOnce(ctx); err != nil {
				logger.Error(ctx, "expiration sweep failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
			}
		}
	})
}

// Stop ends the loop started by Start and waits for it.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

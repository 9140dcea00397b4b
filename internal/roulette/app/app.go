package app

import (
	"context"
	"fmt"

	"maproulette/internal/common/cache"
	"maproulette/internal/common/db"
	"maproulette/internal/common/metrics"
	"maproulette/internal/common/mq"
	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/repository"
	"maproulette/internal/roulette/service"
	"maproulette/pkg/utils/logger"

	"go.uber.org/zap"
)

// Stores are the repositories the services run on.
type Stores struct {
	Challenges repository.ChallengeRepository
	Tasks      repository.TaskRepository
	Stats      repository.StatsRepository
}

// App wires the roulette services for one process.
type App struct {
	Config  *Config
	Metrics *metrics.Metrics

	Challenges *service.ChallengeService
	Tasks      *service.TaskService
	Stats      *service.StatsService
	Sweeper    *service.Sweeper

	closers []func() error
}

// New opens the configured store, Redis when an address is set and Kafka when brokers
// are configured.
func New(ctx context.Context, cfg *Config) (*App, error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	var stores Stores
	if cfg.Store == StoreMemory {
		logger.Warn(ctx, "using in-memory task store, data is lost on exit")
		store := repository.NewMemoryStore()
		stores = Stores{Challenges: store, Tasks: store, Stats: store}
	} else {
		mysqlDB, err := db.NewMySQLWithConfig(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database failed: %w", err)
		}
		closers = append(closers, mysqlDB.Close)
		stores = Stores{
			Challenges: repository.NewChallengeRepository(mysqlDB),
			Tasks:      repository.NewTaskRepository(mysqlDB),
			Stats:      repository.NewStatsRepository(mysqlDB),
		}
	}

	var cacheClient cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init redis failed: %w", err)
		}
		closers = append(closers, redisCache.Close)
		cacheClient = redisCache
	}

	var notifier service.Notifier = service.LogNotifier{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init kafka failed: %w", err)
		}
		closers = append(closers, producer.Close)
		if notifier, err = service.NewMQNotifier(producer, cfg.Roulette.NotificationTopic); err != nil {
			closeAll()
			return nil, err
		}
	} else {
		logger.Warn(ctx, "kafka brokers not configured, notifications go to the log")
	}

	a, err := Build(cfg, stores, cacheClient, notifier)
	if err != nil {
		closeAll()
		return nil, err
	}
	a.closers = closers
	return a, nil
}

// Build assembles the services over the given stores. cacheClient may be nil.
func Build(cfg *Config, stores Stores, cacheClient cache.Cache, notifier service.Notifier) (*App, error) {
	m := metrics.New()
	r := cfg.Roulette

	challenges := stores.Challenges
	if cacheClient != nil {
		challenges = repository.NewCachedChallengeRepository(challenges, cacheClient, r.ChallengeCacheTTL, r.ChallengeEmptyTTL)
	}
	behaviors := model.NewBehaviorRegistry()

	challengeService, err := service.NewChallengeService(service.ChallengeConfig{
		Challenges:         challenges,
		Behaviors:          behaviors,
		Timeouts:           r.Timeouts,
		LocalAreaThreshold: r.LocalAreaThreshold,
	})
	if err != nil {
		return nil, err
	}
	taskService, err := service.NewTaskService(service.TaskConfig{
		Challenges:          challenges,
		Tasks:               stores.Tasks,
		Behaviors:           behaviors,
		Notifier:            notifier,
		Metrics:             m,
		ExpirationThreshold: r.ExpirationThreshold,
		ClaimAttempts:       r.ClaimAttempts,
		Maintainers:         r.Maintainers,
		Timeouts:            r.Timeouts,
	})
	if err != nil {
		return nil, err
	}
	statsService, err := service.NewStatsService(service.StatsConfig{
		Challenges:          challenges,
		Stats:               stores.Stats,
		Cache:               cacheClient,
		ExpirationThreshold: r.ExpirationThreshold,
		CacheTTL:            r.StatsCacheTTL,
		Timeouts:            r.Timeouts,
	})
	if err != nil {
		return nil, err
	}
	sweeper, err := service.NewSweeper(service.SweeperConfig{
		Tasks:               stores.Tasks,
		Cache:               cacheClient,
		Metrics:             m,
		ExpirationThreshold: r.ExpirationThreshold,
		Interval:            cfg.Sweeper.Interval,
		BatchSize:           cfg.Sweeper.BatchSize,
		Timeout:             cfg.Sweeper.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Metrics:    m,
		Challenges: challengeService,
		Tasks:      taskService,
		Stats:      statsService,
		Sweeper:    sweeper,
	}, nil
}

// Close stops the sweeper loop and releases connections in reverse order.
func (a *App) Close() {
	a.Sweeper.Stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn(context.Background(), "close resource failed", zap.Error(err))
		}
	}
}

package app

import (
	"fmt"
	"os"
	"time"

	"maproulette/internal/common/cache"
	"maproulette/internal/common/db"
	"maproulette/internal/common/mq"
	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/service"
	"maproulette/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultClaimAttempts     = 3
	defaultChallengeCacheTTL = 5 * time.Minute
	defaultChallengeEmptyTTL = 30 * time.Second
	defaultStatsCacheTTL     = 30 * time.Second
	defaultDBTimeout         = 3 * time.Second
	defaultCacheTimeout      = time.Second
	defaultMQTimeout         = 5 * time.Second
	defaultSweepInterval     = time.Hour
	defaultSweepBatchSize    = 500
	defaultSweepTimeout      = 5 * time.Minute
)

// Store backends.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config is the part of the configuration shared by every roulette binary.
type Config struct {
	// Store selects the task store: "mysql" (default) or "memory" for local runs.
	Store    string            `yaml:"store"`
	Logger   logger.Config     `yaml:"logger"`
	Database db.MySQLConfig    `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    mq.KafkaConfig    `yaml:"kafka"`
	Roulette RouletteConfig    `yaml:"roulette"`
	Sweeper  SweeperConfig     `yaml:"sweeper"`
}

// RouletteConfig tunes task selection and assignment.
type RouletteConfig struct {
	// ExpirationThreshold is how long an assignment holds before it lapses.
	ExpirationThreshold time.Duration `yaml:"expirationThreshold"`
	// NearBuffer is the near-me radius in degrees when the request sends none.
	NearBuffer         float64  `yaml:"nearBuffer"`
	ClaimAttempts      int      `yaml:"claimAttempts"`
	LocalAreaThreshold float64  `yaml:"localAreaThreshold"`
	Maintainers        []string `yaml:"maintainers"`
	NotificationTopic  string   `yaml:"notificationTopic"`

	ChallengeCacheTTL time.Duration `yaml:"challengeCacheTTL"`
	ChallengeEmptyTTL time.Duration `yaml:"challengeEmptyTTL"`
	StatsCacheTTL     time.Duration `yaml:"statsCacheTTL"`

	Timeouts service.TimeoutConfig `yaml:"timeouts"`
}

// SweeperConfig controls the lease expiration sweep.
type SweeperConfig struct {
	// Embedded runs the sweep loop inside the HTTP service.
	Embedded  bool          `yaml:"embedded"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batchSize"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoadYAML reads path into out.
func LoadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// Validate checks required settings and fills in defaults.
func (c *Config) Validate() error {
	switch c.Store {
	case "":
		c.Store = StoreMySQL
	case StoreMySQL, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Store == StoreMySQL {
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required")
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required")
		}
	}
	applyRedisDefaults(&c.Redis)
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Logger.OutputPath == "" {
		c.Logger.OutputPath = "stdout"
	}

	r := &c.Roulette
	if r.ExpirationThreshold <= 0 {
		r.ExpirationThreshold = model.DefaultExpirationThreshold
	}
	if r.NearBuffer <= 0 {
		r.NearBuffer = geo.DefaultNearBuffer
	}
	if r.ClaimAttempts <= 0 {
		r.ClaimAttempts = defaultClaimAttempts
	}
	if r.LocalAreaThreshold <= 0 {
		r.LocalAreaThreshold = geo.DefaultLocalAreaThreshold
	}
	if r.NotificationTopic == "" {
		r.NotificationTopic = service.DefaultNotificationTopic
	}
	if r.ChallengeCacheTTL <= 0 {
		r.ChallengeCacheTTL = defaultChallengeCacheTTL
	}
	if r.ChallengeEmptyTTL <= 0 {
		r.ChallengeEmptyTTL = defaultChallengeEmptyTTL
	}
	if r.StatsCacheTTL <= 0 {
		r.StatsCacheTTL = defaultStatsCacheTTL
	}
	if r.Timeouts.DB <= 0 {
		r.Timeouts.DB = defaultDBTimeout
	}
	if r.Timeouts.Cache <= 0 {
		r.Timeouts.Cache = defaultCacheTimeout
	}
	if r.Timeouts.MQ <= 0 {
		r.Timeouts.MQ = defaultMQTimeout
	}

	s := &c.Sweeper
	if s.Interval <= 0 {
		s.Interval = defaultSweepInterval
	}
	if s.BatchSize <= 0 {
		s.BatchSize = defaultSweepBatchSize
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultSweepTimeout
	}
	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

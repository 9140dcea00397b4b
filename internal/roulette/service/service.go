package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"maproulette/internal/roulette/repository"
	appErr "maproulette/pkg/errors"
)

const (
	defaultClaimAttempts = 3
	defaultStatsCacheTTL = 30 * time.Second
)

// TimeoutConfig bounds calls to external systems. Zero disables the bound.
type TimeoutConfig struct {
	DB    time.Duration `yaml:"db"`
	Cache time.Duration `yaml:"cache"`
	MQ    time.Duration `yaml:"mq"`
}

// Clock returns the current time; tests pin it.
type Clock func() time.Time

// RandomSource draws selection keys in [0,1).
type RandomSource func() float64

func defaultClock(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

func defaultRandom(r RandomSource) RandomSource {
	if r == nil {
		return rand.Float64
	}
	return r
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}

// storeError wraps an unexpected repository error, keeping coded errors intact.
func storeError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var coded *appErr.Error
	if errors.As(err, &coded) {
		return err
	}
	code := appErr.DatabaseError
	if errors.Is(err, context.DeadlineExceeded) {
		code = appErr.Timeout
	}
	return appErr.Wrapf(err, code, format, args...)
}

func challengeLookupError(err error, slug string) error {
	if errors.Is(err, repository.ErrChallengeNotFound) {
		return appErr.ChallengeNotFoundError(slug)
	}
	return storeError(err, "get challenge %s failed", slug)
}

package service

import (
	"context"
	"errors"
	"time"

	"maproulette/internal/common/metrics"
	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/repository"
)

// selection is the outcome of one pass over the pool.
type selection struct {
	task     *model.Task
	strategy string
}

// selector implements near-first, then random-with-wrap selection.
type selector struct {
	tasks   repository.TaskRepository
	random  RandomSource
	metrics *metrics.Metrics
}

// pick returns repository.ErrNoTask when nothing matches the restrictions.
func (s *selector) pick(ctx context.Context, slug string, near, area *geo.Circle, now time.Time, threshold time.Duration) (selection, error) {
	base := repository.TaskQuery{
		ChallengeSlug: slug,
		Area:          area,
		Now:           now,
		Threshold:     threshold,
	}

	if near != nil {
		start := time.Now()
		query := base
		query.Near = near
		task, err := s.tasks.SelectTask(ctx, query)
		s.metrics.ObserveSelection("near", start)
		if err == nil {
			return selection{task: task, strategy: "near"}, nil
		}
		if !errors.Is(err, repository.ErrNoTask) {
			return selection{}, err
		}
	}

	start := time.Now()
	defer s.metrics.ObserveSelection("random", start)

	query := base
	query.From = s.random()
	task, err := s.tasks.SelectTask(ctx, query)
	if errors.Is(err, repository.ErrNoTask) {
		query.Below = true
		task, err = s.tasks.SelectTask(ctx, query)
	}
	if err != nil {
		return selection{}, err
	}
	return selection{task: task, strategy: "random"}, nil
}

// anyAvailable runs the unrestricted existence check used before deactivation.
func (s *selector) anyAvailable(ctx context.Context, slug string, now time.Time, threshold time.Duration) (bool, error) {
	_, err := s.tasks.SelectTask(ctx, repository.TaskQuery{ChallengeSlug: slug, Now: now, Threshold: threshold})
	if errors.Is(err, repository.ErrNoTask) {
		return false, nil
	}
	return err == nil, err
}

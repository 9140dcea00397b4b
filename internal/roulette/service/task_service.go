package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"maproulette/internal/common/metrics"
	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/repository"
	appErr "maproulette/pkg/errors"
	"maproulette/pkg/utils/logger"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// TaskConfig holds task service dependencies and settings.
type TaskConfig struct {
	Challenges repository.ChallengeRepository
	Tasks      repository.TaskRepository
	Behaviors  *model.BehaviorRegistry
	Notifier   Notifier
	Metrics    *metrics.Metrics

	ExpirationThreshold time.Duration
	ClaimAttempts       int
	Maintainers         []string
	Timeouts            TimeoutConfig
	Now                 Clock
	Random              RandomSource
}

// TaskService hands out tasks and records contributor actions.
type TaskService struct {
	challenges repository.ChallengeRepository
	tasks      repository.TaskRepository
	behaviors  *model.BehaviorRegistry
	notifier   Notifier
	metrics    *metrics.Metrics
	selector   *selector

	threshold     time.Duration
	claimAttempts int
	maintainers   []string
	timeouts      TimeoutConfig
	now           Clock
	random        RandomSource
}

// GetTaskInput describes a request for the next task.
type GetTaskInput struct {
	ChallengeSlug string
	// Near prefers tasks around a point.
	Near *geo.Circle
	// Area restricts every query to the editing area.
	Area   *geo.Circle
	Assign bool
	UserID int64
	Editor string
}

// SubmitActionInput is a contributor's status report.
type SubmitActionInput struct {
	ChallengeSlug string
	Identifier    string
	Status        string
	UserID        int64
	Editor        string
}

// UpsertTaskInput creates or updates a task. Nil fields keep stored values.
type UpsertTaskInput struct {
	ChallengeSlug string
	Identifier    string
	Geometries    []model.TaskGeometry
	Location      *orb.Point
	Instruction   *string
	Status        string
}

// NewTaskService creates a TaskService, filling defaults for unset settings.
func NewTaskService(cfg TaskConfig) (*TaskService, error) {
	if cfg.Challenges == nil {
		return nil, fmt.Errorf("challenge repository is required")
	}
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if cfg.Behaviors == nil {
		cfg.Behaviors = model.NewBehaviorRegistry()
	}
	if cfg.ExpirationThreshold <= 0 {
		cfg.ExpirationThreshold = model.DefaultExpirationThreshold
	}
	if cfg.ClaimAttempts <= 0 {
		cfg.ClaimAttempts = defaultClaimAttempts
	}
	random := defaultRandom(cfg.Random)
	return &TaskService{
		challenges:    cfg.Challenges,
		tasks:         cfg.Tasks,
		behaviors:     cfg.Behaviors,
		notifier:      cfg.Notifier,
		metrics:       cfg.Metrics,
		selector:      &selector{tasks: cfg.Tasks, random: random, metrics: cfg.Metrics},
		threshold:     cfg.ExpirationThreshold,
		claimAttempts: cfg.ClaimAttempts,
		maintainers:   cfg.Maintainers,
		timeouts:      cfg.Timeouts,
		now:           defaultClock(cfg.Now),
		random:        random,
	}, nil
}

// GetTask selects an available task and, when asked, assigns it to the caller.
func (s *TaskService) GetTask(ctx context.Context, in GetTaskInput) (*model.Task, error) {
	challenge, err := s.loadChallenge(ctx, in.ChallengeSlug)
	if err != nil {
		return nil, err
	}
	if !challenge.Active {
		return nil, appErr.ChallengeInactiveError(challenge.Slug)
	}
	behavior := s.behavior(ctx, challenge)
	editor, err := normalizeEditor(in.Editor)
	if err != nil {
		return nil, err
	}

	// lost is set once a concurrent writer beat us to a task. An empty pool
	// after that means the race was lost, not that the challenge is done.
	lost := false
	for attempt := 1; attempt <= s.claimAttempts; attempt++ {
		now := s.now()
		ctxDB := withTimeout(ctx, s.timeouts.DB)
		picked, err := s.selector.pick(ctxDB.ctx, challenge.Slug, in.Near, in.Area, now, s.threshold)
		ctxDB.cancel()
		if errors.Is(err, repository.ErrNoTask) {
			if lost {
				s.metrics.ObserveClaim(metrics.ClaimGaveUp)
				return nil, appErr.ConflictError(fmt.Sprintf("every task left in %s was claimed concurrently", challenge.Slug))
			}
			return nil, s.handleEmptyPool(ctx, challenge, in.Area != nil, now)
		}
		if err != nil {
			return nil, storeError(err, "select task in %s failed", challenge.Slug)
		}

		task := picked.task
		if !behavior.IsTaskAvailable(task, now, s.threshold) {
			continue
		}
		if !in.Assign {
			return task, nil
		}

		action, err := s.claim(ctx, task, in.UserID, editor, now)
		if err != nil {
			return nil, err
		}
		if action != nil {
			logger.Info(ctx, "task assigned",
				zap.String("challenge", challenge.Slug),
				zap.String("task", task.Identifier),
				zap.String("strategy", picked.strategy),
				zap.Int("attempt", attempt),
			)
			return task, nil
		}
		lost = true
	}

	s.metrics.ObserveClaim(metrics.ClaimGaveUp)
	return nil, appErr.ConflictError(fmt.Sprintf("could not claim a task in %s after %d attempts", challenge.Slug, s.claimAttempts))
}

// GetTaskByIdentifier returns one task. With assign it is claimed when available;
// a task held by someone else is returned unchanged.
func (s *TaskService) GetTaskByIdentifier(ctx context.Context, slug, identifier string, assign bool, userID int64, editor string) (*model.Task, error) {
	challenge, err := s.loadChallenge(ctx, slug)
	if err != nil {
		return nil, err
	}
	task, err := s.loadTask(ctx, challenge.Slug, identifier)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !assign || !s.behavior(ctx, challenge).IsTaskAvailable(task, now, s.threshold) {
		return task, nil
	}
	editor, err = normalizeEditor(editor)
	if err != nil {
		return nil, err
	}
	action, err := s.claim(ctx, task, userID, editor, now)
	if err != nil {
		return nil, err
	}
	if action != nil {
		return task, nil
	}
	return s.loadTask(ctx, challenge.Slug, identifier)
}

// SubmitAction appends a contributor report and whatever the challenge behavior adds.
// While a lease is live only its holder may report on the task.
func (s *TaskService) SubmitAction(ctx context.Context, in SubmitActionInput) ([]*model.Action, error) {
	status, err := model.ParseStatus(in.Status)
	if err != nil {
		return nil, appErr.Newf(appErr.InvalidStatus, "unknown status %q", in.Status).WithDetail("status", in.Status)
	}
	challenge, err := s.loadChallenge(ctx, in.ChallengeSlug)
	if err != nil {
		return nil, err
	}
	behavior := s.behavior(ctx, challenge)
	if !behavior.AllowsSubmission(status) {
		return nil, appErr.Newf(appErr.InvalidStatus, "status %s cannot be submitted", status).WithDetail("status", string(status))
	}

	task, err := s.loadTask(ctx, challenge.Slug, in.Identifier)
	if err != nil {
		return nil, err
	}
	if task.Status == model.StatusDeleted {
		return nil, appErr.TaskNotFoundError(challenge.Slug, in.Identifier)
	}
	editor, err := normalizeEditor(in.Editor)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if status == model.StatusAssigned && behavior.IsTaskAvailable(task, now, s.threshold) {
		action, err := s.claim(ctx, task, in.UserID, editor, now)
		if err != nil {
			return nil, err
		}
		if action == nil {
			return nil, heldError(challenge.Slug, in.Identifier)
		}
		logger.Info(ctx, "action recorded",
			zap.String("challenge", challenge.Slug),
			zap.String("task", in.Identifier),
			zap.String("status", string(status)),
			zap.Int64("user_id", in.UserID),
		)
		return []*model.Action{action}, nil
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	appended, err := s.tasks.AppendAction(ctxDB.ctx, repository.ActionAppend{
		Action: model.Action{
			TaskID:    task.ID,
			Timestamp: now,
			UserID:    in.UserID,
			Status:    status,
			Editor:    editor,
		},
		Behavior:  behavior,
		Threshold: s.threshold,
	})
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		return nil, appErr.TaskNotFoundError(challenge.Slug, in.Identifier)
	case errors.Is(err, repository.ErrConflict):
		return nil, heldError(challenge.Slug, in.Identifier)
	case err != nil:
		return nil, storeError(err, "append action to %s/%s failed", challenge.Slug, in.Identifier)
	}

	fields := []zap.Field{
		zap.String("challenge", challenge.Slug),
		zap.String("task", in.Identifier),
		zap.String("status", string(status)),
		zap.Int64("user_id", in.UserID),
	}
	if len(appended) > 1 {
		fields = append(fields, zap.String("follow_up", string(appended[len(appended)-1].Status)))
	}
	logger.Info(ctx, "action recorded", fields...)
	return appended, nil
}

// AdminUpsertTask creates the task or updates its geometry, instruction or status.
func (s *TaskService) AdminUpsertTask(ctx context.Context, in UpsertTaskInput) (*model.Task, bool, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" {
		return nil, false, appErr.ValidationError("identifier", "is required")
	}
	if len(identifier) > model.MaxIdentifierLength {
		return nil, false, appErr.ValidationError("identifier", fmt.Sprintf("exceeds %d characters", model.MaxIdentifierLength))
	}
	if _, err := s.loadChallenge(ctx, in.ChallengeSlug); err != nil {
		return nil, false, err
	}

	var status model.Status
	if in.Status != "" {
		parsed, err := model.ParseStatus(in.Status)
		if err != nil || parsed == model.StatusDeleted {
			return nil, false, appErr.Newf(appErr.InvalidStatus, "status %q cannot be set on a task", in.Status)
		}
		status = parsed
	}

	location := in.Location
	if location != nil {
		if err := geo.ValidateLonLat(location.Lon(), location.Lat()); err != nil {
			return nil, false, appErr.Wrapf(err, appErr.InvalidLocation, "invalid location")
		}
	} else if in.Geometries != nil {
		geoms := make([]orb.Geometry, 0, len(in.Geometries))
		for _, g := range in.Geometries {
			geoms = append(geoms, g.Geometry)
		}
		point, err := geo.RepresentativePoint(geoms...)
		if err != nil {
			return nil, false, appErr.Wrapf(err, appErr.InvalidGeometry, "task %s has no usable geometry", identifier)
		}
		location = &point
	}

	if location == nil {
		if _, err := s.loadTask(ctx, in.ChallengeSlug, identifier); err != nil {
			if appErr.Is(err, appErr.TaskNotFound) {
				return nil, false, appErr.Newf(appErr.InvalidGeometry, "a new task needs geometries or a location")
			}
			return nil, false, err
		}
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	task, created, err := s.tasks.UpsertTask(ctxDB.ctx, repository.TaskUpsert{
		ChallengeSlug: in.ChallengeSlug,
		Identifier:    identifier,
		Geometries:    in.Geometries,
		Location:      location,
		Instruction:   in.Instruction,
		Status:        status,
		Random:        s.random(),
		At:            s.now(),
	})
	switch {
	case errors.Is(err, repository.ErrChallengeNotFound):
		return nil, false, appErr.ChallengeNotFoundError(in.ChallengeSlug)
	case errors.Is(err, repository.ErrConflict):
		return nil, false, appErr.ConflictError(fmt.Sprintf("task %s was created concurrently", identifier))
	case err != nil:
		return nil, false, appErr.Wrapf(err, appErr.TaskUpsertFailed, "upsert task %s/%s failed", in.ChallengeSlug, identifier)
	}

	logger.Info(ctx, "task upserted",
		zap.String("challenge", in.ChallengeSlug),
		zap.String("task", identifier),
		zap.Bool("created", created),
	)
	return task, created, nil
}

// AdminDeleteTask logs a deleted action and, with purge, removes the task.
func (s *TaskService) AdminDeleteTask(ctx context.Context, slug, identifier string, purge bool) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	err := s.tasks.DeleteTask(ctxDB.ctx, slug, identifier, purge, s.now())
	if errors.Is(err, repository.ErrTaskNotFound) {
		return appErr.TaskNotFoundError(slug, identifier)
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.TaskDeleteFailed, "delete task %s/%s failed", slug, identifier)
	}
	logger.Info(ctx, "task deleted", zap.String("challenge", slug), zap.String("task", identifier), zap.Bool("purge", purge))
	return nil
}

// ListActions returns the task's log, oldest first.
func (s *TaskService) ListActions(ctx context.Context, slug, identifier string) ([]*model.Action, error) {
	task, err := s.loadTask(ctx, slug, identifier)
	if err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	actions, err := s.tasks.ListActions(ctxDB.ctx, task.ID)
	if err != nil {
		return nil, storeError(err, "list actions of %s/%s failed", slug, identifier)
	}
	return actions, nil
}

// claim returns a nil action when a concurrent writer took the task first.
func (s *TaskService) claim(ctx context.Context, task *model.Task, userID int64, editor string, now time.Time) (*model.Action, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	action, err := s.tasks.ClaimTask(ctxDB.ctx, repository.Claim{
		TaskID:    task.ID,
		UserID:    userID,
		Editor:    editor,
		At:        now,
		Threshold: s.threshold,
	})
	if errors.Is(err, repository.ErrConflict) {
		s.metrics.ObserveClaim(metrics.ClaimConflict)
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, "claim task %s failed", task.Identifier)
	}
	s.metrics.ObserveClaim(metrics.ClaimWon)
	task.Status = action.Status
	task.StatusAt = action.Timestamp
	return action, nil
}

// handleEmptyPool tells an empty editing area and a fully leased pool apart
// from a finished challenge.
func (s *TaskService) handleEmptyPool(ctx context.Context, challenge *model.Challenge, restricted bool, now time.Time) error {
	if restricted {
		ctxDB := withTimeout(ctx, s.timeouts.DB)
		available, err := s.selector.anyAvailable(ctxDB.ctx, challenge.Slug, now, s.threshold)
		ctxDB.cancel()
		if err != nil {
			return storeError(err, "check pool of %s failed", challenge.Slug)
		}
		if available {
			return appErr.NoTaskInAreaError(challenge.Slug)
		}
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	leased, err := s.tasks.HasLiveLeases(ctxDB.ctx, challenge.Slug, now, s.threshold)
	ctxDB.cancel()
	if err != nil {
		return storeError(err, "check leases of %s failed", challenge.Slug)
	}
	if leased {
		return appErr.ConflictError(fmt.Sprintf("every remaining task in %s is assigned", challenge.Slug))
	}

	ctxDB = withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	flipped, err := s.challenges.DeactivateChallenge(ctxDB.ctx, challenge.Slug)
	if err != nil {
		logger.Error(ctx, "deactivate challenge failed", zap.String("challenge", challenge.Slug), zap.Error(err))
	}
	if flipped {
		s.metrics.IncExhausted()
		logger.Info(ctx, "challenge complete, deactivated", zap.String("challenge", challenge.Slug))
		notifyAsync(ctx, s.notifier, Notification{
			To:      s.maintainers,
			Subject: fmt.Sprintf("Challenge %s is complete", challenge.Slug),
			Body:    fmt.Sprintf("Challenge %q (%s) has no available task left and was deactivated.", challenge.Title, challenge.Slug),
		}, s.timeouts.MQ, s.metrics.ObserveNotification)
	}
	return appErr.ChallengeCompleteError(challenge.Slug)
}

func heldError(slug, identifier string) error {
	return appErr.ConflictError(fmt.Sprintf("task %s/%s is held by another contributor", slug, identifier))
}

func normalizeEditor(raw string) (string, error) {
	editor := strings.TrimSpace(raw)
	if len(editor) > model.MaxEditorLength {
		return "", appErr.ValidationError("editor", fmt.Sprintf("exceeds %d characters", model.MaxEditorLength))
	}
	return editor, nil
}

func (s *TaskService) behavior(ctx context.Context, challenge *model.Challenge) model.ChallengeBehavior {
	behavior, ok := s.behaviors.Lookup(challenge.Type)
	if !ok && challenge.Type != "" {
		logger.Warn(ctx, "unknown challenge type, using default",
			zap.String("challenge", challenge.Slug),
			zap.String("type", challenge.Type),
		)
	}
	return behavior
}

func (s *TaskService) loadChallenge(ctx context.Context, slug string) (*model.Challenge, error) {
	if strings.TrimSpace(slug) == "" {
		return nil, appErr.ValidationError("challenge", "is required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	challenge, err := s.challenges.GetChallenge(ctxDB.ctx, slug)
	if err != nil {
		return nil, challengeLookupError(err, slug)
	}
	return challenge, nil
}

func (s *TaskService) loadTask(ctx context.Context, slug, identifier string) (*model.Task, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	task, err := s.tasks.GetTask(ctxDB.ctx, slug, identifier)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return nil, appErr.TaskNotFoundError(slug, identifier)
	}
	if err != nil {
		return nil, storeError(err, "get task %s/%s failed", slug, identifier)
	}
	return task, nil
}

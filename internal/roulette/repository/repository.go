package repository

import (
	"context"
	"errors"
	"time"

	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"

	"github.com/paulmach/orb"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrTaskNotFound      = errors.New("task not found")
	// ErrNoTask means the query matched no available task.
	ErrNoTask = errors.New("no available task")
	// ErrConflict means a conditional write lost against a concurrent writer.
	ErrConflict = errors.New("task changed concurrently")
)

// ChallengeFilter narrows ListChallenges. Zero values do not filter.
type ChallengeFilter struct {
	ActiveOnly bool
	Difficulty int
	Contains   *orb.Point
}

// ChallengeRepository persists challenges.
type ChallengeRepository interface {
	GetChallenge(ctx context.Context, slug string) (*model.Challenge, error)
	ListChallenges(ctx context.Context, filter ChallengeFilter) ([]*model.Challenge, error)
	// UpsertChallenge inserts or replaces the challenge and reports whether it was new.
	UpsertChallenge(ctx context.Context, challenge *model.Challenge) (bool, error)
	DeleteChallenge(ctx context.Context, slug string) error
	// DeactivateChallenge reports true only for the call that flipped active to false.
	DeactivateChallenge(ctx context.Context, slug string) (bool, error)
}

// TaskQuery selects one available task, ascending by random key.
type TaskQuery struct {
	ChallengeSlug string
	// From is the random key bound: random >= From, or random < From when Below.
	From  float64
	Below bool
	// Near keeps tasks whose location intersects the circle.
	Near *geo.Circle
	// Area is the editing area restriction.
	Area      *geo.Circle
	Now       time.Time
	Threshold time.Duration
}

// Claim asks for an atomic assignment of one task.
type Claim struct {
	TaskID    int64
	UserID    int64
	Editor    string
	At        time.Time
	Threshold time.Duration
}

// ActionAppend is a contributor report. It is rejected with ErrConflict when
// Action.UserID does not hold a lease that is live at Action.Timestamp, or when
// it tries to start a lease on a task that is not available.
type ActionAppend struct {
	Action   model.Action
	Behavior model.ChallengeBehavior
	// Threshold is the lease length.
	Threshold time.Duration
}

// TaskUpsert creates a task or updates the mutable parts of an existing one.
type TaskUpsert struct {
	ChallengeSlug string
	Identifier    string
	// Geometries replaces the stored set when non-nil.
	Geometries []model.TaskGeometry
	// Location replaces the stored point when non-nil.
	Location    *orb.Point
	Instruction *string
	// Status is appended as an action when set. New tasks get "available" otherwise.
	Status model.Status
	// Random is the selection key of a new task.
	Random float64
	At     time.Time
}

// TaskRepository persists tasks, geometries and the action log.
// Every write that appends an action updates tasks.status and tasks.status_at
// in the same transaction.
type TaskRepository interface {
	GetTask(ctx context.Context, slug, identifier string) (*model.Task, error)
	// SelectTask returns ErrNoTask when nothing matches.
	SelectTask(ctx context.Context, query TaskQuery) (*model.Task, error)
	// ClaimTask assigns the task if it is still available, ErrConflict otherwise.
	ClaimTask(ctx context.Context, claim Claim) (*model.Action, error)
	// AppendAction logs the action and any follow-up the behavior asks for.
	AppendAction(ctx context.Context, report ActionAppend) ([]*model.Action, error)
	// HasLiveLeases reports whether some task of the challenge is still held.
	HasLiveLeases(ctx context.Context, slug string, now time.Time, threshold time.Duration) (bool, error)
	UpsertTask(ctx context.Context, upsert TaskUpsert) (*model.Task, bool, error)
	// DeleteTask logs a deleted action, and removes the task when purge is set.
	DeleteTask(ctx context.Context, slug, identifier string, purge bool, at time.Time) error
	ListActions(ctx context.Context, taskID int64) ([]*model.Action, error)
	// ListStaleTasks returns ids of leased tasks with status_at before the cutoff, id > afterID.
	ListStaleTasks(ctx context.Context, staleBefore time.Time, afterID int64, limit int) ([]int64, error)
	// ReclaimTask returns a still-stale task to the pool; false if it was no longer stale.
	ReclaimTask(ctx context.Context, taskID int64, staleBefore, now time.Time) (bool, error)
}

// StatsFilter scopes status rollups. Zero values do not filter.
type StatsFilter struct {
	ChallengeSlug string
	UserID        int64
}

// DailyCount is one bucket of the action history.
type DailyCount struct {
	Day    time.Time    `json:"day"`
	Status model.Status `json:"status"`
	Count  int64        `json:"count"`
}

// UserCount is one row of the per-user leaderboard.
type UserCount struct {
	UserID int64        `json:"user_id"`
	Status model.Status `json:"status"`
	Count  int64        `json:"count"`
}

// StatsRepository runs read-only aggregate queries.
type StatsRepository interface {
	CountTasks(ctx context.Context, slug string) (int64, error)
	CountAvailable(ctx context.Context, slug string, now time.Time, threshold time.Duration) (int64, error)
	// StatusCounts counts tasks by latest status. With a user filter a task counts
	// only when that user authored its latest action.
	StatusCounts(ctx context.Context, filter StatsFilter) (map[model.Status]int64, error)
	DailyStatusCounts(ctx context.Context, filter StatsFilter, from, to time.Time) ([]DailyCount, error)
	UserActionCounts(ctx context.Context, slug string, from, to time.Time) ([]UserCount, error)
}

package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"
)

var (
	_ ChallengeRepository = (*MemoryStore)(nil)
	_ TaskRepository      = (*MemoryStore)(nil)
	_ StatsRepository     = (*MemoryStore)(nil)
)

// MemoryStore keeps challenges, tasks and actions in process. It backs tests and
// the admin CLI dry runs. One mutex serializes every write, which gives each
// method the atomicity of a single MySQL transaction.
type MemoryStore struct {
	mu sync.Mutex

	challenges map[string]*model.Challenge
	tasks      map[int64]*model.Task
	// bySlug holds each challenge's tasks sorted by random key.
	bySlug  map[string][]*model.Task
	byKey   map[taskKey]int64
	actions map[int64][]*model.Action

	nextTaskID   int64
	nextActionID int64
	now          func() time.Time
}

type taskKey struct {
	slug       string
	identifier string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]*model.Challenge),
		tasks:      make(map[int64]*model.Task),
		bySlug:     make(map[string][]*model.Task),
		byKey:      make(map[taskKey]int64),
		actions:    make(map[int64][]*model.Action),
		now:        time.Now,
	}
}

func (s *MemoryStore) GetChallenge(_ context.Context, slug string) (*model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[slug]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) ListChallenges(_ context.Context, filter ChallengeFilter) ([]*model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Challenge
	for _, c := range s.challenges {
		if filter.ActiveOnly && !c.Active {
			continue
		}
		if filter.Difficulty > 0 && c.Difficulty != filter.Difficulty {
			continue
		}
		if filter.Contains != nil && !geo.Contains(c.Bounds(), *filter.Contains) {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

func (s *MemoryStore) UpsertChallenge(_ context.Context, c *model.Challenge) (bool, error) {
	if c == nil || c.Slug == "" {
		return false, errors.New("challenge slug is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *c
	existing, ok := s.challenges[c.Slug]
	if ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = s.now()
	}
	s.challenges[c.Slug] = &stored
	return !ok, nil
}

func (s *MemoryStore) DeleteChallenge(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[slug]; !ok {
		return ErrChallengeNotFound
	}
	for _, t := range s.bySlug[slug] {
		delete(s.tasks, t.ID)
		delete(s.actions, t.ID)
		delete(s.byKey, taskKey{slug, t.Identifier})
	}
	delete(s.bySlug, slug)
	delete(s.challenges, slug)
	return nil
}

func (s *MemoryStore) DeactivateChallenge(_ context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[slug]
	if !ok || !c.Active {
		return false, nil
	}
	c.Active = false
	return true, nil
}

func (s *MemoryStore) GetTask(_ context.Context, slug, identifier string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[taskKey{slug, identifier}]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return copyTask(s.tasks[id]), nil
}

func (s *MemoryStore) SelectTask(_ context.Context, q TaskQuery) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.bySlug[q.ChallengeSlug]
	idx := sort.Search(len(tasks), func(i int) bool { return tasks[i].Random >= q.From })
	start, end := idx, len(tasks)
	if q.Below {
		start, end = 0, idx
	}
	for _, t := range tasks[start:end] {
		if !t.Available(q.Now, q.Threshold) {
			continue
		}
		if q.Area != nil && !q.Area.ContainsPoint(t.Location) {
			continue
		}
		if q.Near != nil && !q.Near.ContainsPoint(t.Location) {
			continue
		}
		return copyTask(t), nil
	}
	return nil, ErrNoTask
}

func (s *MemoryStore) ClaimTask(_ context.Context, claim Claim) (*model.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[claim.TaskID]
	if !ok || !t.Available(claim.At, claim.Threshold) {
		return nil, ErrConflict
	}
	action := s.appendLocked(t, model.Action{
		TaskID:    t.ID,
		Timestamp: claim.At,
		UserID:    claim.UserID,
		Status:    model.StatusAssigned,
		Editor:    claim.Editor,
	})
	out := *action
	return &out, nil
}

func (s *MemoryStore) AppendAction(_ context.Context, report ActionAppend) ([]*model.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action := report.Action
	t, ok := s.tasks[action.TaskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if !t.AcceptsReport(action.Status, action.UserID, s.holderLocked(t.ID), action.Timestamp, report.Threshold) {
		return nil, ErrConflict
	}

	staged := []model.Action{action}
	if report.Behavior != nil {
		next, ok, err := report.Behavior.OnActionAppended(action, func(status model.Status) (int, error) {
			n := 0
			for _, a := range s.actions[t.ID] {
				if a.Status == status {
					n++
				}
			}
			if action.Status == status {
				n++
			}
			return n, nil
		})
		if err != nil {
			return nil, err
		}
		if ok {
			staged = append(staged, model.Action{TaskID: t.ID, Timestamp: action.Timestamp, Status: next})
		}
	}

	out := make([]*model.Action, 0, len(staged))
	for _, a := range staged {
		stored := *s.appendLocked(t, a)
		out = append(out, &stored)
	}
	return out, nil
}

func (s *MemoryStore) HasLiveLeases(_ context.Context, slug string, now time.Time, threshold time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.bySlug[slug] {
		if t.LeaseLive(now, threshold) {
			return true, nil
		}
	}
	return false, nil
}

// holderLocked returns the author of the task's latest assigned action.
func (s *MemoryStore) holderLocked(taskID int64) int64 {
	log := s.actions[taskID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Status == model.StatusAssigned {
			return log[i].UserID
		}
	}
	return 0
}

func (s *MemoryStore) UpsertTask(_ context.Context, u TaskUpsert) (*model.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[u.ChallengeSlug]; !ok {
		return nil, false, ErrChallengeNotFound
	}

	key := taskKey{u.ChallengeSlug, u.Identifier}
	id, exists := s.byKey[key]
	var t *model.Task
	if exists {
		t = s.tasks[id]
		if u.Location != nil {
			t.Location = *u.Location
		}
		if u.Instruction != nil {
			t.Instruction = *u.Instruction
		}
	} else {
		if u.Location == nil {
			return nil, false, errors.New("location is required for a new task")
		}
		s.nextTaskID++
		t = &model.Task{
			ID:            s.nextTaskID,
			ChallengeSlug: u.ChallengeSlug,
			Identifier:    u.Identifier,
			Random:        u.Random,
			Location:      *u.Location,
		}
		if u.Instruction != nil {
			t.Instruction = *u.Instruction
		}
		s.tasks[t.ID] = t
		s.byKey[key] = t.ID
		s.insertSorted(t)
		s.appendLocked(t, model.Action{TaskID: t.ID, Timestamp: u.At, Status: model.StatusCreated})
		if u.Status == "" {
			u.Status = model.StatusAvailable
		}
	}

	if u.Geometries != nil {
		t.Geometries = append([]model.TaskGeometry(nil), u.Geometries...)
	}
	if u.Status != "" {
		s.appendLocked(t, model.Action{TaskID: t.ID, Timestamp: u.At, Status: u.Status})
	}
	return copyTask(t), !exists, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, slug, identifier string, purge bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey{slug, identifier}
	id, ok := s.byKey[key]
	if !ok {
		return ErrTaskNotFound
	}
	t := s.tasks[id]
	s.appendLocked(t, model.Action{TaskID: id, Timestamp: at, Status: model.StatusDeleted})
	if !purge {
		return nil
	}
	delete(s.tasks, id)
	delete(s.actions, id)
	delete(s.byKey, key)
	tasks := s.bySlug[slug]
	for i, candidate := range tasks {
		if candidate.ID == id {
			s.bySlug[slug] = append(tasks[:i:i], tasks[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListActions(_ context.Context, taskID int64) ([]*model.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Action, 0, len(s.actions[taskID]))
	for _, a := range s.actions[taskID] {
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) ListStaleTasks(_ context.Context, staleBefore time.Time, afterID int64, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, t := range s.tasks {
		if id > afterID && isStale(t, staleBefore) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryStore) ReclaimTask(_ context.Context, taskID int64, staleBefore, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || !isStale(t, staleBefore) {
		return false, nil
	}
	s.appendLocked(t, model.Action{TaskID: taskID, Timestamp: now, Status: model.StatusAvailable})
	return true, nil
}

func (s *MemoryStore) CountTasks(_ context.Context, slug string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.bySlug[slug])), nil
}

func (s *MemoryStore) CountAvailable(_ context.Context, slug string, now time.Time, threshold time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.bySlug[slug] {
		if t.Available(now, threshold) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) StatusCounts(_ context.Context, filter StatsFilter) (map[model.Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.Status]int64)
	for id, t := range s.tasks {
		if filter.ChallengeSlug != "" && t.ChallengeSlug != filter.ChallengeSlug {
			continue
		}
		if filter.UserID > 0 {
			log := s.actions[id]
			if len(log) == 0 || log[len(log)-1].UserID != filter.UserID {
				continue
			}
		}
		counts[t.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) DailyStatusCounts(_ context.Context, filter StatsFilter, from, to time.Time) ([]DailyCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type bucket struct {
		day    time.Time
		status model.Status
	}
	counts := make(map[bucket]int64)
	s.eachAction(filter.ChallengeSlug, from, to, func(a *model.Action) {
		if filter.UserID > 0 && a.UserID != filter.UserID {
			return
		}
		ts := a.Timestamp.UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		counts[bucket{day, a.Status}]++
	})

	out := make([]DailyCount, 0, len(counts))
	for b, n := range counts {
		out = append(out, DailyCount{Day: b.day, Status: b.status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

func (s *MemoryStore) UserActionCounts(_ context.Context, slug string, from, to time.Time) ([]UserCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type bucket struct {
		user   int64
		status model.Status
	}
	counts := make(map[bucket]int64)
	s.eachAction(slug, from, to, func(a *model.Action) {
		if a.UserID == 0 {
			return
		}
		counts[bucket{a.UserID, a.Status}]++
	})

	out := make([]UserCount, 0, len(counts))
	for b, n := range counts {
		out = append(out, UserCount{UserID: b.user, Status: b.status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// eachAction visits actions with timestamp in [from, to), optionally for one challenge.
func (s *MemoryStore) eachAction(slug string, from, to time.Time, fn func(a *model.Action)) {
	for id, log := range s.actions {
		t, ok := s.tasks[id]
		if !ok || (slug != "" && t.ChallengeSlug != slug) {
			continue
		}
		for _, a := range log {
			if a.Timestamp.Before(from) || !a.Timestamp.Before(to) {
				continue
			}
			fn(a)
		}
	}
}

// appendLocked stores the action and folds it into the task. Callers hold mu.
func (s *MemoryStore) appendLocked(t *model.Task, a model.Action) *model.Action {
	s.nextActionID++
	a.ID = s.nextActionID
	a.TaskID = t.ID
	stored := &a
	s.actions[t.ID] = append(s.actions[t.ID], stored)
	t.Status = a.Status
	t.StatusAt = a.Timestamp
	return stored
}

func (s *MemoryStore) insertSorted(t *model.Task) {
	tasks := s.bySlug[t.ChallengeSlug]
	i := sort.Search(len(tasks), func(i int) bool { return tasks[i].Random > t.Random })
	tasks = append(tasks, nil)
	copy(tasks[i+1:], tasks[i:])
	tasks[i] = t
	s.bySlug[t.ChallengeSlug] = tasks
}

func isStale(t *model.Task, staleBefore time.Time) bool {
	return t.Status.IsLeased() && t.StatusAt.Before(staleBefore)
}

func copyTask(t *model.Task) *model.Task {
	out := *t
	out.Geometries = append([]model.TaskGeometry(nil), t.Geometries...)
	return &out
}

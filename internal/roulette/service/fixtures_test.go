package service

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"maproulette/internal/common/mq"
	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/repository"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type seedTask struct {
	identifier string
	random     float64
	location   orb.Point
}

func seedChallenge(t *testing.T, store *repository.MemoryStore, challenge *model.Challenge, tasks ...seedTask) {
	t.Helper()
	ctx := context.Background()
	_, err := store.UpsertChallenge(ctx, challenge)
	require.NoError(t, err)
	for _, st := range tasks {
		loc := st.location
		_, _, err := store.UpsertTask(ctx, repository.TaskUpsert{
			ChallengeSlug: challenge.Slug,
			Identifier:    st.identifier,
			Geometries:    []model.TaskGeometry{{OSMID: 1, Geometry: loc}},
			Location:      &loc,
			Random:        st.random,
			At:            fixedNow.Add(-24 * time.Hour),
		})
		require.NoError(t, err)
	}
}

func activeChallenge(slug string) *model.Challenge {
	return &model.Challenge{Slug: slug, Title: slug, Difficulty: 1, Active: true, Type: model.DefaultChallengeType}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type taskFixture struct {
	store    *repository.MemoryStore
	service  *TaskService
	notifier *recordingNotifier
}

func newTaskFixture(t *testing.T, tasks repository.TaskRepository, store *repository.MemoryStore, seed uint64) *taskFixture {
	t.Helper()
	if tasks == nil {
		tasks = store
	}
	notifier := &recordingNotifier{}
	// seed 0 keeps the goroutine safe default source
	var random RandomSource
	if seed != 0 {
		random = rand.New(rand.NewPCG(seed, seed+1)).Float64
	}
	svc, err := NewTaskService(TaskConfig{
		Challenges:  store,
		Tasks:       tasks,
		Notifier:    notifier,
		Maintainers: []string{"maintainer@example.org"},
		Now:         fixedClock,
		Random:      random,
	})
	require.NoError(t, err)
	return &taskFixture{store: store, service: svc, notifier: notifier}
}

// conflictingTasks loses the first n claims.
type conflictingTasks struct {
	repository.TaskRepository
	mu        sync.Mutex
	remaining int
	claims    int
}

func (c *conflictingTasks) ClaimTask(ctx context.Context, claim repository.Claim) (*model.Action, error) {
	c.mu.Lock()
	c.claims++
	if c.remaining != 0 {
		if c.remaining > 0 {
			c.remaining--
		}
		c.mu.Unlock()
		return nil, repository.ErrConflict
	}
	c.mu.Unlock()
	return c.TaskRepository.ClaimTask(ctx, claim)
}

type capturedPublish struct {
	topic   string
	message *mq.Message
}

type fakeProducer struct {
	mu        sync.Mutex
	published []capturedPublish
	err       error
}

func (p *fakeProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, capturedPublish{topic: topic, message: message})
	return p.err
}

func (p *fakeProducer) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, m := range messages {
		if err := p.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakeProducer) Ping(context.Context) error { return nil }
func (p *fakeProducer) Close() error               { return nil }

package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAvailable(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := time.Hour

	tests := []struct {
		name     string
		status   Status
		statusAt time.Time
		want     bool
	}{
		{"created", StatusCreated, now, true},
		{"available", StatusAvailable, now, true},
		{"skipped", StatusSkipped, now, true},
		{"fresh assignment", StatusAssigned, now.Add(-59 * time.Minute), false},
		{"assignment exactly at threshold", StatusAssigned, now.Add(-time.Hour), false},
		{"stale assignment", StatusAssigned, now.Add(-61 * time.Minute), true},
		{"stale editing", StatusEditing, now.Add(-2 * time.Hour), true},
		{"fixed", StatusFixed, now.Add(-48 * time.Hour), false},
		{"alreadyfixed", StatusAlreadyFixed, now.Add(-48 * time.Hour), false},
		{"falsepositive", StatusFalsePositive, now.Add(-48 * time.Hour), false},
		{"deleted", StatusDeleted, now.Add(-48 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAvailable(tt.status, tt.statusAt, now, threshold))
		})
	}
}

func TestTask_AcceptsReport(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := time.Hour
	leased := &Task{Status: StatusAssigned, StatusAt: now.Add(-10 * time.Minute)}
	expired := &Task{Status: StatusEditing, StatusAt: now.Add(-2 * time.Hour)}
	open := &Task{Status: StatusAvailable, StatusAt: now}
	fixed := &Task{Status: StatusFixed, StatusAt: now.Add(-time.Minute)}

	tests := []struct {
		name   string
		task   *Task
		status Status
		user   int64
		holder int64
		want   bool
	}{
		{"holder fixes own lease", leased, StatusFixed, 1, 1, true},
		{"holder starts editing", leased, StatusEditing, 1, 1, true},
		{"other user fixes live lease", leased, StatusFixed, 2, 1, false},
		{"other user takes live lease", leased, StatusAssigned, 2, 1, false},
		{"anonymous on live lease", leased, StatusSkipped, 0, 1, false},
		{"live lease without holder", leased, StatusFixed, 1, 0, false},
		{"anyone on expired lease", expired, StatusFixed, 2, 1, true},
		{"assign expired lease", expired, StatusAssigned, 2, 1, true},
		{"report on open task", open, StatusFalsePositive, 3, 0, true},
		{"assign open task", open, StatusAssigned, 3, 0, true},
		{"confirm fixed task", fixed, StatusAlreadyFixed, 4, 0, true},
		{"assign fixed task", fixed, StatusAssigned, 4, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.task.AcceptsReport(tt.status, tt.user, tt.holder, now, threshold))
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Fixed ")
	require.NoError(t, err)
	assert.Equal(t, StatusFixed, s)

	_, err = ParseStatus("modified")
	assert.Error(t, err)
	assert.Len(t, Statuses(), 9)
}

func TestDefaultBehavior_OnActionAppended(t *testing.T) {
	b := DefaultBehavior{}
	counter := func(n int) ReportCounter {
		return func(Status) (int, error) { return n, nil }
	}

	next, ok, err := b.OnActionAppended(Action{Status: StatusAlreadyFixed}, counter(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StatusAvailable, next)

	_, ok, err = b.OnActionAppended(Action{Status: StatusFalsePositive}, counter(2))
	require.NoError(t, err)
	assert.False(t, ok, "second identical report resolves the task")

	called := false
	_, ok, err = b.OnActionAppended(Action{Status: StatusFixed}, func(Status) (int, error) { called = true; return 0, nil })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called, "fixed is final without counting")

	_, ok, _ = b.OnActionAppended(Action{Status: StatusSkipped}, counter(0))
	assert.False(t, ok, "skipped is already in the available set")

	boom := errors.New("count failed")
	_, _, err = b.OnActionAppended(Action{Status: StatusAlreadyFixed}, func(Status) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestDefaultBehavior_AllowsSubmission(t *testing.T) {
	b := DefaultBehavior{}
	assert.True(t, b.AllowsSubmission(StatusFixed))
	assert.True(t, b.AllowsSubmission(StatusSkipped))
	assert.False(t, b.AllowsSubmission(StatusCreated))
	assert.False(t, b.AllowsSubmission(StatusDeleted))
}

type strictBehavior struct{ DefaultBehavior }

func (strictBehavior) Name() string { return "strict" }

func TestBehaviorRegistry(t *testing.T) {
	r := NewBehaviorRegistry()

	b, ok := r.Lookup("")
	assert.True(t, ok)
	assert.Equal(t, DefaultChallengeType, b.Name())

	b, ok = r.Lookup("unknown")
	assert.False(t, ok)
	assert.Equal(t, DefaultChallengeType, b.Name())

	r.Register(strictBehavior{})
	b, ok = r.Lookup("Strict")
	assert.True(t, ok)
	assert.Equal(t, "strict", b.Name())
}

func TestChallengeJSON(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Challenge{
		Slug:       "test1",
		Title:      "Test",
		Difficulty: 2,
		Geometry:   orb.Polygon{orb.Ring{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}},
		Active:     true,
		Type:       DefaultChallengeType,
		CreatedAt:  created,
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"Polygon"`)

	var back Challenge
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c, back)
	assert.True(t, back.IsLocal(10))

	world := Challenge{Slug: "w"}
	assert.False(t, world.IsLocal(10))
	assert.NotNil(t, world.Bounds())
}

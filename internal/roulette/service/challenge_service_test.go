package service

import (
	"context"
	"encoding/json"
	"testing"

	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/repository"
	appErr "maproulette/pkg/errors"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChallengeFixture(t *testing.T) (*ChallengeService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	svc, err := NewChallengeService(ChallengeConfig{Challenges: store})
	require.NoError(t, err)
	return svc, store
}

func TestChallengeService_ListFallsBack(t *testing.T) {
	ctx := context.Background()
	svc, _ := newChallengeFixture(t)
	box := orb.Polygon{{{-10, -10}, {10, -10}, {10, 10}, {-10, 10}, {-10, -10}}}
	for _, c := range []*model.Challenge{
		{Slug: "boxed", Title: "Boxed", Difficulty: 2, Geometry: box, Active: true},
		{Slug: "easy", Title: "Easy", Difficulty: 1, Active: true},
	} {
		_, err := svc.AdminUpsertChallenge(ctx, c)
		require.NoError(t, err)
	}

	inside := orb.Point{1, 1}
	got, err := svc.ListChallenges(ctx, ListChallengesInput{Difficulty: 2, Contains: &inside})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "boxed", got[0].Slug)
	assert.False(t, got[0].Local, "400 square degrees is not local")

	far := orb.Point{100, 50}
	got, err = svc.ListChallenges(ctx, ListChallengesInput{Difficulty: 2, Contains: &far})
	require.NoError(t, err)
	require.Len(t, got, 1, "the point filter is dropped first")
	assert.Equal(t, "boxed", got[0].Slug)

	got, err = svc.ListChallenges(ctx, ListChallengesInput{Difficulty: 3})
	require.NoError(t, err)
	assert.Len(t, got, 2, "then the difficulty filter")

	_, err = svc.ListChallenges(ctx, ListChallengesInput{Difficulty: 7})
	assert.True(t, appErr.Is(err, appErr.ValidationFailed))
}

func TestChallengeService_UpsertValidation(t *testing.T) {
	ctx := context.Background()
	svc, store := newChallengeFixture(t)

	challenge := &model.Challenge{Slug: " test1 ", Title: "Test", Active: true}
	created, err := svc.AdminUpsertChallenge(ctx, challenge)
	require.NoError(t, err)
	assert.True(t, created)
	stored, err := store.GetChallenge(ctx, "test1")
	require.NoError(t, err)
	assert.Equal(t, model.MinDifficulty, stored.Difficulty)
	assert.Equal(t, model.DefaultChallengeType, stored.Type)

	created, err = svc.AdminUpsertChallenge(ctx, &model.Challenge{Slug: "test1", Title: "Renamed", Active: true})
	require.NoError(t, err)
	assert.False(t, created)

	tests := []struct {
		name      string
		challenge *model.Challenge
		code      appErr.ErrorCode
	}{
		{"uppercase slug", &model.Challenge{Slug: "Test", Title: "t"}, appErr.ValidationFailed},
		{"missing title", &model.Challenge{Slug: "t"}, appErr.ValidationFailed},
		{"difficulty out of range", &model.Challenge{Slug: "t", Title: "t", Difficulty: 4}, appErr.ValidationFailed},
		{"point geometry", &model.Challenge{Slug: "t", Title: "t", Geometry: orb.Point{1, 1}}, appErr.InvalidGeometry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AdminUpsertChallenge(ctx, tt.challenge)
			assert.Equal(t, tt.code, appErr.GetCode(err))
		})
	}
}

func TestChallengeService_GetAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newChallengeFixture(t)
	small := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	_, err := svc.AdminUpsertChallenge(ctx, &model.Challenge{Slug: "local", Title: "Local", Geometry: small, Active: true})
	require.NoError(t, err)

	view, err := svc.GetChallenge(ctx, "local")
	require.NoError(t, err)
	assert.True(t, view.Local)

	payload, err := json.Marshal(view)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "local", decoded["slug"])
	assert.Equal(t, true, decoded["local"])

	require.NoError(t, svc.AdminDeleteChallenge(ctx, "local"))
	_, err = svc.GetChallenge(ctx, "local")
	assert.True(t, appErr.Is(err, appErr.ChallengeNotFound))
	assert.True(t, appErr.Is(svc.AdminDeleteChallenge(ctx, "local"), appErr.ChallengeNotFound))
}

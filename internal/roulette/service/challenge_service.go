package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/repository"
	appErr "maproulette/pkg/errors"
	"maproulette/pkg/utils/logger"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// ChallengeConfig holds challenge service dependencies.
type ChallengeConfig struct {
	Challenges repository.ChallengeRepository
	Behaviors  *model.BehaviorRegistry
	Timeouts   TimeoutConfig
	// LocalAreaThreshold is the largest polygon, in square degrees, still shown as local.
	LocalAreaThreshold float64
}

// ChallengeService lists and administers challenges.
type ChallengeService struct {
	challenges repository.ChallengeRepository
	behaviors  *model.BehaviorRegistry
	timeouts   TimeoutConfig
	localArea  float64
}

// ListChallengesInput filters active challenges. Zero values do not filter.
type ListChallengesInput struct {
	Difficulty int
	Contains   *orb.Point
}

// ChallengeView is a challenge plus derived display flags.
type ChallengeView struct {
	*model.Challenge
	Local bool `json:"local"`
}

// MarshalJSON flattens the challenge fields and adds the local flag.
func (v ChallengeView) MarshalJSON() ([]byte, error) {
	if v.Challenge == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(v.Challenge)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["local"], _ = json.Marshal(v.Local)
	return json.Marshal(fields)
}

// NewChallengeService creates a ChallengeService.
func NewChallengeService(cfg ChallengeConfig) (*ChallengeService, error) {
	if cfg.Challenges == nil {
		return nil, fmt.Errorf("challenge repository is required")
	}
	if cfg.Behaviors == nil {
		cfg.Behaviors = model.NewBehaviorRegistry()
	}
	if cfg.LocalAreaThreshold <= 0 {
		cfg.LocalAreaThreshold = geo.DefaultLocalAreaThreshold
	}
	return &ChallengeService{
		challenges: cfg.Challenges,
		behaviors:  cfg.Behaviors,
		timeouts:   cfg.Timeouts,
		localArea:  cfg.LocalAreaThreshold,
	}, nil
}

// ListChallenges returns active challenges. When the point filter matches nothing it
// retries with difficulty only, then with no filter at all.
func (s *ChallengeService) ListChallenges(ctx context.Context, in ListChallengesInput) ([]ChallengeView, error) {
	if in.Difficulty != 0 && (in.Difficulty < model.MinDifficulty || in.Difficulty > model.MaxDifficulty) {
		return nil, appErr.ValidationError("difficulty", fmt.Sprintf("must be between %d and %d", model.MinDifficulty, model.MaxDifficulty))
	}

	filters := []repository.ChallengeFilter{{ActiveOnly: true, Difficulty: in.Difficulty, Contains: in.Contains}}
	if in.Contains != nil {
		filters = append(filters, repository.ChallengeFilter{ActiveOnly: true, Difficulty: in.Difficulty})
	}
	if in.Difficulty != 0 {
		filters = append(filters, repository.ChallengeFilter{ActiveOnly: true})
	}

	for i, filter := range filters {
		ctxDB := withTimeout(ctx, s.timeouts.DB)
		challenges, err := s.challenges.ListChallenges(ctxDB.ctx, filter)
		ctxDB.cancel()
		if err != nil {
			return nil, storeError(err, "list challenges failed")
		}
		if len(challenges) > 0 || i == len(filters)-1 {
			if i > 0 {
				logger.Debug(ctx, "challenge filter relaxed", zap.Int("step", i))
			}
			return s.views(challenges), nil
		}
	}
	return nil, nil
}

func (s *ChallengeService) GetChallenge(ctx context.Context, slug string) (ChallengeView, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	challenge, err := s.challenges.GetChallenge(ctxDB.ctx, slug)
	if err != nil {
		return ChallengeView{}, challengeLookupError(err, slug)
	}
	return s.view(challenge), nil
}

// AdminUpsertChallenge validates and stores the challenge, reporting whether it is new.
func (s *ChallengeService) AdminUpsertChallenge(ctx context.Context, challenge *model.Challenge) (bool, error) {
	if err := s.normalize(ctx, challenge); err != nil {
		return false, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	created, err := s.challenges.UpsertChallenge(ctxDB.ctx, challenge)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.ChallengeCreateFailed, "store challenge %s failed", challenge.Slug)
	}
	logger.Info(ctx, "challenge upserted",
		zap.String("challenge", challenge.Slug),
		zap.Bool("created", created),
		zap.Bool("active", challenge.Active),
	)
	return created, nil
}

// AdminDeleteChallenge removes the challenge with its tasks and actions.
func (s *ChallengeService) AdminDeleteChallenge(ctx context.Context, slug string) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	err := s.challenges.DeleteChallenge(ctxDB.ctx, slug)
	if errors.Is(err, repository.ErrChallengeNotFound) {
		return appErr.ChallengeNotFoundError(slug)
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.ChallengeDeleteFailed, "delete challenge %s failed", slug)
	}
	logger.Info(ctx, "challenge deleted", zap.String("challenge", slug))
	return nil
}

func (s *ChallengeService) normalize(ctx context.Context, c *model.Challenge) error {
	if c == nil {
		return appErr.ValidationError("challenge", "is required")
	}
	c.Slug = strings.TrimSpace(c.Slug)
	if err := ValidateSlug(c.Slug); err != nil {
		return err
	}
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return appErr.ValidationError("title", "is required")
	}
	if len(c.Title) > model.MaxTitleLength {
		return appErr.ValidationError("title", fmt.Sprintf("exceeds %d characters", model.MaxTitleLength))
	}
	if c.Difficulty == 0 {
		c.Difficulty = model.MinDifficulty
	}
	if c.Difficulty < model.MinDifficulty || c.Difficulty > model.MaxDifficulty {
		return appErr.ValidationError("difficulty", fmt.Sprintf("must be between %d and %d", model.MinDifficulty, model.MaxDifficulty))
	}
	if c.Geometry != nil {
		switch c.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return appErr.Newf(appErr.InvalidGeometry, "challenge geometry must be a polygon, got %s", c.Geometry.GeoJSONType())
		}
	}
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if c.Type == "" {
		c.Type = model.DefaultChallengeType
	}
	if !s.behaviors.Has(c.Type) {
		logger.Warn(ctx, "challenge type not registered, default rules apply",
			zap.String("challenge", c.Slug), zap.String("type", c.Type))
	}
	return nil
}

// ValidateSlug accepts lowercase letters, digits, '-' and '_'.
func ValidateSlug(slug string) error {
	if slug == "" {
		return appErr.ValidationError("slug", "is required")
	}
	if len(slug) > model.MaxSlugLength {
		return appErr.ValidationError("slug", fmt.Sprintf("exceeds %d characters", model.MaxSlugLength))
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return appErr.ValidationError("slug", fmt.Sprintf("invalid character %q", r))
		}
	}
	return nil
}

func (s *ChallengeService) view(c *model.Challenge) ChallengeView {
	return ChallengeView{Challenge: c, Local: c.IsLocal(s.localArea)}
}

func (s *ChallengeService) views(challenges []*model.Challenge) []ChallengeView {
	out := make([]ChallengeView, 0, len(challenges))
	for _, c := range challenges {
		out = append(out, s.view(c))
	}
	return out
}

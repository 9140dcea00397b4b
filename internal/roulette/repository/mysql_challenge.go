package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"maproulette/internal/common/db"
	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"
)

const challengeColumns = "slug, title, description, blurb, help, instruction, difficulty, ST_AsText(geom), active, type, created_at"

// MySQLChallengeRepository implements ChallengeRepository with MySQL.
type MySQLChallengeRepository struct {
	dbProvider db.Provider
}

// NewChallengeRepository creates a MySQL challenge repository.
func NewChallengeRepository(provider db.Provider) *MySQLChallengeRepository {
	return &MySQLChallengeRepository{dbProvider: provider}
}

func (r *MySQLChallengeRepository) GetChallenge(ctx context.Context, slug string) (*model.Challenge, error) {
	if slug == "" {
		return nil, errors.New("slug is required")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, err
	}
	row := querier.QueryRow(ctx, "SELECT "+challengeColumns+" FROM challenges WHERE slug = ?", slug)
	challenge, err := scanChallenge(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return challenge, nil
}

func (r *MySQLChallengeRepository) ListChallenges(ctx context.Context, filter ChallengeFilter) ([]*model.Challenge, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []interface{}
	)
	if filter.ActiveOnly {
		where = append(where, "active = 1")
	}
	if filter.Difficulty > 0 {
		where = append(where, "difficulty = ?")
		args = append(args, filter.Difficulty)
	}
	if filter.Contains != nil {
		where = append(where, "(geom IS NULL OR ST_Contains(geom, ST_GeomFromText(?)))")
		args = append(args, geo.WKT(*filter.Contains))
	}
	query := "SELECT " + challengeColumns + " FROM challenges"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, slug"

	rows, err := querier.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var challenges []*model.Challenge
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, challenge)
	}
	return challenges, rows.Err()
}

func (r *MySQLChallengeRepository) UpsertChallenge(ctx context.Context, c *model.Challenge) (bool, error) {
	if c == nil || c.Slug == "" {
		return false, errors.New("challenge slug is required")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return false, err
	}
	var geomWKT interface{}
	if c.Geometry != nil {
		geomWKT = geo.WKT(c.Geometry)
	}
	query := `
		INSERT INTO challenges
		(slug, title, description, blurb, help, instruction, difficulty, geom, active, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ST_GeomFromText(?), ?, ?)
		ON DUPLICATE KEY UPDATE
			title = VALUES(title), description = VALUES(description), blurb = VALUES(blurb),
			help = VALUES(help), instruction = VALUES(instruction), difficulty = VALUES(difficulty),
			geom = VALUES(geom), active = VALUES(active), type = VALUES(type)
	`
	result, err := querier.Exec(ctx, query,
		c.Slug, c.Title, c.Description, c.Blurb, c.Help, c.Instruction,
		c.Difficulty, geomWKT, c.Active, c.Type,
	)
	if err != nil {
		return false, err
	}
	// MySQL reports 1 for an insert and 2 for an update on duplicate key.
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *MySQLChallengeRepository) DeleteChallenge(ctx context.Context, slug string) error {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return err
	}
	result, err := querier.Exec(ctx, "DELETE FROM challenges WHERE slug = ?", slug)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

func (r *MySQLChallengeRepository) DeactivateChallenge(ctx context.Context, slug string) (bool, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return false, err
	}
	result, err := querier.Exec(ctx, "UPDATE challenges SET active = 0 WHERE slug = ? AND active = 1", slug)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func scanChallenge(row db.Row) (*model.Challenge, error) {
	c := &model.Challenge{}
	var (
		description, blurb, help, instruction sql.NullString
		geomWKT                               sql.NullString
	)
	if err := row.Scan(
		&c.Slug,
		&c.Title,
		&description,
		&blurb,
		&help,
		&instruction,
		&c.Difficulty,
		&geomWKT,
		&c.Active,
		&c.Type,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.Description = description.String
	c.Blurb = blurb.String
	c.Help = help.String
	c.Instruction = instruction.String
	if geomWKT.Valid && geomWKT.String != "" {
		g, err := geo.ParseWKT(geomWKT.String)
		if err != nil {
			return nil, err
		}
		c.Geometry = g
	}
	return c, nil
}

package repository

import (
	"context"
	"strings"
	"time"

	"maproulette/internal/common/db"
	"maproulette/internal/roulette/model"
)

// MySQLStatsRepository implements StatsRepository.
type MySQLStatsRepository struct {
	dbProvider db.Provider
}

// NewStatsRepository creates a MySQL stats repository.
func NewStatsRepository(provider db.Provider) *MySQLStatsRepository {
	return &MySQLStatsRepository{dbProvider: provider}
}

func (r *MySQLStatsRepository) CountTasks(ctx context.Context, slug string) (int64, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return 0, err
	}
	var n int64
	err = querier.QueryRow(ctx, "SELECT COUNT(*) FROM tasks WHERE challenge_slug = ?", slug).Scan(&n)
	return n, err
}

func (r *MySQLStatsRepository) CountAvailable(ctx context.Context, slug string, now time.Time, threshold time.Duration) (int64, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return 0, err
	}
	var n int64
	err = querier.QueryRow(ctx,
		"SELECT COUNT(*) FROM tasks WHERE challenge_slug = ? AND "+availablePredicate,
		slug, model.StaleBefore(now, threshold),
	).Scan(&n)
	return n, err
}

func (r *MySQLStatsRepository) StatusCounts(ctx context.Context, filter StatsFilter) (map[model.Status]int64, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, err
	}

	var (
		query string
		args  []interface{}
	)
	if filter.UserID > 0 {
		query = `
			SELECT a.status, COUNT(*) FROM actions a
			JOIN (SELECT task_id, MAX(id) AS id FROM actions GROUP BY task_id) last ON last.id = a.id
			JOIN tasks t ON t.id = a.task_id
			WHERE a.user_id = ?`
		args = append(args, filter.UserID)
		if filter.ChallengeSlug != "" {
			query += " AND t.challenge_slug = ?"
			args = append(args, filter.ChallengeSlug)
		}
		query += " GROUP BY a.status"
	} else {
		query = "SELECT status, COUNT(*) FROM tasks"
		if filter.ChallengeSlug != "" {
			query += " WHERE challenge_slug = ?"
			args = append(args, filter.ChallengeSlug)
		}
		query += " GROUP BY status"
	}

	rows, err := querier.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.Status]int64)
	for rows.Next() {
		var (
			status model.Status
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *MySQLStatsRepository) DailyStatusCounts(ctx context.Context, filter StatsFilter, from, to time.Time) ([]DailyCount, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, err
	}
	where, args := actionRangeWhere(filter.ChallengeSlug, from, to)
	if filter.UserID > 0 {
		where = append(where, "a.user_id = ?")
		args = append(args, filter.UserID)
	}
	query := `
		SELECT DATE(a.timestamp) AS day, a.status, COUNT(*) FROM actions a
		JOIN tasks t ON t.id = a.task_id
		WHERE ` + strings.Join(where, " AND ") + `
		GROUP BY day, a.status ORDER BY day, a.status`

	rows, err := querier.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var c DailyCount
		if err := rows.Scan(&c.Day, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *MySQLStatsRepository) UserActionCounts(ctx context.Context, slug string, from, to time.Time) ([]UserCount, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, err
	}
	where, args := actionRangeWhere(slug, from, to)
	where = append(where, "a.user_id IS NOT NULL")
	query := `
		SELECT a.user_id, a.status, COUNT(*) FROM actions a
		JOIN tasks t ON t.id = a.task_id
		WHERE ` + strings.Join(where, " AND ") + `
		GROUP BY a.user_id, a.status ORDER BY a.user_id, a.status`

	rows, err := querier.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserCount
	for rows.Next() {
		var c UserCount
		if err := rows.Scan(&c.UserID, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// actionRangeWhere bounds actions to [from, to) and optionally one challenge.
func actionRangeWhere(slug string, from, to time.Time) ([]string, []interface{}) {
	where := []string{"a.timestamp >= ?", "a.timestamp < ?"}
	args := []interface{}{from, to}
	if slug != "" {
		where = append(where, "t.challenge_slug = ?")
		args = append(args, slug)
	}
	return where, args
}

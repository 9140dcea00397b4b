package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"maproulette/internal/common/db"
	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"

	"github.com/paulmach/orb"
)

const (
	taskColumns = "id, challenge_slug, identifier, status, status_at, random, ST_X(location), ST_Y(location), instruction"

	// availablePredicate takes the stale cutoff as its only argument.
	availablePredicate = "(status IN ('created', 'available', 'skipped') OR (status IN ('assigned', 'editing') AND status_at < ?))"
	stalePredicate     = "status IN ('assigned', 'editing') AND status_at < ?"
	intersectsCircle   = "ST_Intersects(location, ST_Buffer(ST_GeomFromText(?), ?))"
)

// MySQLTaskRepository implements TaskRepository with MySQL spatial queries.
type MySQLTaskRepository struct {
	dbProvider db.Provider
}

// NewTaskRepository creates a MySQL task repository.
func NewTaskRepository(provider db.Provider) *MySQLTaskRepository {
	return &MySQLTaskRepository{dbProvider: provider}
}

func (r *MySQLTaskRepository) transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	database, err := db.CurrentDatabase(r.dbProvider)
	if err != nil {
		return err
	}
	return database.Transaction(ctx, fn)
}

func (r *MySQLTaskRepository) GetTask(ctx context.Context, slug, identifier string) (*model.Task, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, err
	}
	return getTask(ctx, querier, slug, identifier)
}

func getTask(ctx context.Context, q db.Querier, slug, identifier string) (*model.Task, error) {
	row := q.QueryRow(ctx, "SELECT "+taskColumns+" FROM tasks WHERE challenge_slug = ? AND identifier = ?", slug, identifier)
	task, err := scanTask(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if task.Geometries, err = loadGeometries(ctx, q, task.ID); err != nil {
		return nil, err
	}
	return task, nil
}

func (r *MySQLTaskRepository) SelectTask(ctx context.Context, query TaskQuery) (*model.Task, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, err
	}
	sqlText, args := buildSelectQuery(query)
	task, err := scanTask(querier.QueryRow(ctx, sqlText, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNoTask
		}
		return nil, err
	}
	if task.Geometries, err = loadGeometries(ctx, querier, task.ID); err != nil {
		return nil, err
	}
	return task, nil
}

func buildSelectQuery(q TaskQuery) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(taskColumns)
	sb.WriteString(" FROM tasks WHERE challenge_slug = ? AND ")
	sb.WriteString(availablePredicate)
	args := []interface{}{q.ChallengeSlug, model.StaleBefore(q.Now, q.Threshold)}

	if q.Below {
		sb.WriteString(" AND random < ?")
	} else {
		sb.WriteString(" AND random >= ?")
	}
	args = append(args, q.From)

	for _, circle := range []*geo.Circle{q.Area, q.Near} {
		if circle == nil {
			continue
		}
		sb.WriteString(" AND ")
		sb.WriteString(intersectsCircle)
		args = append(args, geo.WKT(circle.Center), circle.Radius)
	}
	sb.WriteString(" ORDER BY random ASC LIMIT 1")
	return sb.String(), args
}

func (r *MySQLTaskRepository) ClaimTask(ctx context.Context, claim Claim) (*model.Action, error) {
	action := &model.Action{
		TaskID:    claim.TaskID,
		Timestamp: claim.At,
		UserID:    claim.UserID,
		Status:    model.StatusAssigned,
		Editor:    claim.Editor,
	}
	err := r.transaction(ctx, func(tx db.Transaction) error {
		result, err := tx.Exec(ctx,
			"UPDATE tasks SET status = ?, status_at = ? WHERE id = ? AND "+availablePredicate,
			model.StatusAssigned, claim.At, claim.TaskID, model.StaleBefore(claim.At, claim.Threshold),
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return ErrConflict
		}
		return insertAction(ctx, tx, action)
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

func (r *MySQLTaskRepository) AppendAction(ctx context.Context, report ActionAppend) ([]*model.Action, error) {
	var appended []*model.Action
	err := r.transaction(ctx, func(tx db.Transaction) error {
		appended = nil
		first := report.Action
		if err := checkLease(ctx, tx, first, report.Threshold); err != nil {
			return err
		}
		if err := appendStatus(ctx, tx, &first); err != nil {
			return err
		}
		appended = append(appended, &first)
		if report.Behavior == nil {
			return nil
		}
		next, ok, err := report.Behavior.OnActionAppended(first, func(status model.Status) (int, error) {
			return countActions(ctx, tx, first.TaskID, status)
		})
		if err != nil || !ok {
			return err
		}
		followUp := model.Action{TaskID: first.TaskID, Timestamp: first.Timestamp, Status: next}
		if err := appendStatus(ctx, tx, &followUp); err != nil {
			return err
		}
		appended = append(appended, &followUp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func (r *MySQLTaskRepository) HasLiveLeases(ctx context.Context, slug string, now time.Time, threshold time.Duration) (bool, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return false, err
	}
	var live bool
	err = querier.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM tasks WHERE challenge_slug = ? AND status IN (?, ?) AND status_at >= ?)",
		slug, model.StatusAssigned, model.StatusEditing, model.StaleBefore(now, threshold),
	).Scan(&live)
	return live, err
}

func (r *MySQLTaskRepository) UpsertTask(ctx context.Context, upsert TaskUpsert) (*model.Task, bool, error) {
	var (
		task    *model.Task
		created bool
	)
	err := r.transaction(ctx, func(tx db.Transaction) error {
		var slug string
		if err := tx.QueryRow(ctx, "SELECT slug FROM challenges WHERE slug = ?", upsert.ChallengeSlug).Scan(&slug); err != nil {
			if db.IsNoRows(err) {
				return ErrChallengeNotFound
			}
			return err
		}

		var taskID int64
		err := tx.QueryRow(ctx,
			"SELECT id FROM tasks WHERE challenge_slug = ? AND identifier = ? FOR UPDATE",
			upsert.ChallengeSlug, upsert.Identifier,
		).Scan(&taskID)
		switch {
		case db.IsNoRows(err):
			created = true
			if taskID, err = insertTask(ctx, tx, upsert); err != nil {
				return err
			}
			if err := appendStatus(ctx, tx, &model.Action{TaskID: taskID, Timestamp: upsert.At, Status: model.StatusCreated}); err != nil {
				return err
			}
			if upsert.Status == "" {
				upsert.Status = model.StatusAvailable
			}
		case err != nil:
			return err
		default:
			if err := updateTaskFields(ctx, tx, taskID, upsert); err != nil {
				return err
			}
		}

		if upsert.Geometries != nil {
			if err := replaceGeometries(ctx, tx, taskID, upsert.Geometries); err != nil {
				return err
			}
		}
		if upsert.Status != "" {
			if err := appendStatus(ctx, tx, &model.Action{TaskID: taskID, Timestamp: upsert.At, Status: upsert.Status}); err != nil {
				return err
			}
		}
		task, err = getTask(ctx, tx, upsert.ChallengeSlug, upsert.Identifier)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return task, created, nil
}

func insertTask(ctx context.Context, tx db.Transaction, upsert TaskUpsert) (int64, error) {
	if upsert.Location == nil {
		return 0, errors.New("location is required for a new task")
	}
	instruction := ""
	if upsert.Instruction != nil {
		instruction = *upsert.Instruction
	}
	result, err := tx.Exec(ctx, `
		INSERT INTO tasks (challenge_slug, identifier, status, status_at, random, location, instruction)
		VALUES (?, ?, ?, ?, ?, ST_GeomFromText(?), ?)
	`, upsert.ChallengeSlug, upsert.Identifier, model.StatusCreated, upsert.At, upsert.Random,
		geo.WKT(*upsert.Location), instruction)
	if err != nil {
		if key, dup := db.UniqueViolation(err); dup {
			return 0, fmt.Errorf("%w: duplicate key %s", ErrConflict, key)
		}
		return 0, err
	}
	return result.LastInsertId()
}

func updateTaskFields(ctx context.Context, tx db.Transaction, taskID int64, upsert TaskUpsert) error {
	var (
		sets []string
		args []interface{}
	)
	if upsert.Location != nil {
		sets = append(sets, "location = ST_GeomFromText(?)")
		args = append(args, geo.WKT(*upsert.Location))
	}
	if upsert.Instruction != nil {
		sets = append(sets, "instruction = ?")
		args = append(args, *upsert.Instruction)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, taskID)
	_, err := tx.Exec(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

func replaceGeometries(ctx context.Context, tx db.Transaction, taskID int64, geometries []model.TaskGeometry) error {
	if _, err := tx.Exec(ctx, "DELETE FROM task_geometries WHERE task_id = ?", taskID); err != nil {
		return err
	}
	for _, g := range geometries {
		if _, err := tx.Exec(ctx,
			"INSERT INTO task_geometries (task_id, osm_id, geom) VALUES (?, ?, ST_GeomFromText(?))",
			taskID, g.OSMID, geo.WKT(g.Geometry),
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *MySQLTaskRepository) DeleteTask(ctx context.Context, slug, identifier string, purge bool, at time.Time) error {
	return r.transaction(ctx, func(tx db.Transaction) error {
		var taskID int64
		if err := tx.QueryRow(ctx,
			"SELECT id FROM tasks WHERE challenge_slug = ? AND identifier = ? FOR UPDATE", slug, identifier,
		).Scan(&taskID); err != nil {
			if db.IsNoRows(err) {
				return ErrTaskNotFound
			}
			return err
		}
		if err := appendStatus(ctx, tx, &model.Action{TaskID: taskID, Timestamp: at, Status: model.StatusDeleted}); err != nil {
			return err
		}
		if !purge {
			return nil
		}
		_, err := tx.Exec(ctx, "DELETE FROM tasks WHERE id = ?", taskID)
		return err
	})
}

func (r *MySQLTaskRepository) ListActions(ctx context.Context, taskID int64) ([]*model.Action, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, err
	}
	rows, err := querier.Query(ctx,
		"SELECT id, task_id, timestamp, user_id, status, editor FROM actions WHERE task_id = ? ORDER BY id", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*model.Action
	for rows.Next() {
		a := &model.Action{}
		var (
			userID sql.NullInt64
			editor sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Timestamp, &userID, &a.Status, &editor); err != nil {
			return nil, err
		}
		a.UserID = userID.Int64
		a.Editor = editor.String
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (r *MySQLTaskRepository) ListStaleTasks(ctx context.Context, staleBefore time.Time, afterID int64, limit int) ([]int64, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, nil)
	if err != nil {
		return nil, err
	}
	rows, err := querier.Query(ctx,
		"SELECT id FROM tasks WHERE "+stalePredicate+" AND id > ? ORDER BY id LIMIT ?",
		staleBefore, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MySQLTaskRepository) ReclaimTask(ctx context.Context, taskID int64, staleBefore, now time.Time) (bool, error) {
	reclaimed := false
	err := r.transaction(ctx, func(tx db.Transaction) error {
		result, err := tx.Exec(ctx,
			"UPDATE tasks SET status = ?, status_at = ? WHERE id = ? AND "+stalePredicate,
			model.StatusAvailable, now, taskID, staleBefore,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return nil
		}
		reclaimed = true
		return insertAction(ctx, tx, &model.Action{TaskID: taskID, Timestamp: now, Status: model.StatusAvailable})
	})
	if err != nil {
		return false, err
	}
	return reclaimed, nil
}

// checkLease locks the task row and rejects a report the lease does not allow.
func checkLease(ctx context.Context, tx db.Transaction, action model.Action, threshold time.Duration) error {
	task := &model.Task{ID: action.TaskID}
	err := tx.QueryRow(ctx, "SELECT status, status_at FROM tasks WHERE id = ? FOR UPDATE", action.TaskID).
		Scan(&task.Status, &task.StatusAt)
	if err != nil {
		if db.IsNoRows(err) {
			return ErrTaskNotFound
		}
		return err
	}

	var holder sql.NullInt64
	if task.LeaseLive(action.Timestamp, threshold) {
		err := tx.QueryRow(ctx,
			"SELECT user_id FROM actions WHERE task_id = ? AND status = ? ORDER BY id DESC LIMIT 1",
			action.TaskID, model.StatusAssigned,
		).Scan(&holder)
		if err != nil && !db.IsNoRows(err) {
			return err
		}
	}
	if !task.AcceptsReport(action.Status, action.UserID, holder.Int64, action.Timestamp, threshold) {
		return ErrConflict
	}
	return nil
}

// appendStatus logs the action and folds it into the task row.
func appendStatus(ctx context.Context, tx db.Transaction, action *model.Action) error {
	if err := insertAction(ctx, tx, action); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, "UPDATE tasks SET status = ?, status_at = ? WHERE id = ?",
		action.Status, action.Timestamp, action.TaskID)
	return err
}

func insertAction(ctx context.Context, tx db.Transaction, action *model.Action) error {
	result, err := tx.Exec(ctx,
		"INSERT INTO actions (task_id, user_id, status, timestamp, editor) VALUES (?, ?, ?, ?, ?)",
		action.TaskID, nullInt64(action.UserID), action.Status, action.Timestamp, nullString(action.Editor),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	action.ID = id
	return nil
}

func countActions(ctx context.Context, q db.Querier, taskID int64, status model.Status) (int, error) {
	var n int
	err := q.QueryRow(ctx, "SELECT COUNT(*) FROM actions WHERE task_id = ? AND status = ?", taskID, status).Scan(&n)
	return n, err
}

func loadGeometries(ctx context.Context, q db.Querier, taskID int64) ([]model.TaskGeometry, error) {
	rows, err := q.Query(ctx, "SELECT osm_id, ST_AsText(geom) FROM task_geometries WHERE task_id = ? ORDER BY id", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var geometries []model.TaskGeometry
	for rows.Next() {
		var (
			osmID   sql.NullInt64
			geomWKT string
		)
		if err := rows.Scan(&osmID, &geomWKT); err != nil {
			return nil, err
		}
		g, err := geo.ParseWKT(geomWKT)
		if err != nil {
			return nil, err
		}
		geometries = append(geometries, model.TaskGeometry{OSMID: osmID.Int64, Geometry: g})
	}
	return geometries, rows.Err()
}

func scanTask(row db.Row) (*model.Task, error) {
	t := &model.Task{}
	var (
		lon, lat    float64
		instruction sql.NullString
	)
	if err := row.Scan(
		&t.ID,
		&t.ChallengeSlug,
		&t.Identifier,
		&t.Status,
		&t.StatusAt,
		&t.Random,
		&lon,
		&lat,
		&instruction,
	); err != nil {
		return nil, err
	}
	t.Location = orb.Point{lon, lat}
	t.Instruction = instruction.String
	return t, nil
}

func nullInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"maproulette/internal/common/db"
	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProvider(t *testing.T) (db.Provider, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db.NewMySQLWithDB(sqlDB), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var taskRowColumns = []string{"id", "challenge_slug", "identifier", "status", "status_at", "random", "x", "y", "instruction"}

func TestMySQLTaskRepository_ClaimTask(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE tasks SET status = ?, status_at = ? WHERE id = ? AND (status IN")).
		WithArgs(model.StatusAssigned, testNow, int64(3), testNow.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO actions")).
		WithArgs(int64(3), int64(9), model.StatusAssigned, testNow, "josm").
		WillReturnResult(sqlmock.NewResult(41, 1))
	mock.ExpectCommit()

	action, err := repo.ClaimTask(ctx, Claim{TaskID: 3, UserID: 9, Editor: "josm", At: testNow, Threshold: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int64(41), action.ID)
	assert.Equal(t, model.StatusAssigned, action.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_ClaimTaskConflict(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE tasks SET status = ?")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.ClaimTask(context.Background(), Claim{TaskID: 3, At: testNow, Threshold: time.Hour})
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_SelectTask(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)
	area, err := geo.NewCircle(1, 2, 0.5)
	require.NoError(t, err)

	mock.ExpectQuery(q("FROM tasks WHERE challenge_slug = ?")+".*"+q("AND random >= ? AND ST_Intersects(location, ST_Buffer(ST_GeomFromText(?), ?)) ORDER BY random ASC LIMIT 1")).
		WithArgs("test1", testNow.Add(-time.Hour), 0.25, "POINT(1 2)", 0.5).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow(int64(5), "test1", "t5", "available", testNow, 0.3, 1.0, 2.0, nil))
	mock.ExpectQuery(q("SELECT osm_id, ST_AsText(geom) FROM task_geometries WHERE task_id = ?")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"osm_id", "geom"}).AddRow(int64(77), "POINT(1 2)"))

	task, err := repo.SelectTask(context.Background(), TaskQuery{
		ChallengeSlug: "test1", From: 0.25, Area: &area, Now: testNow, Threshold: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, "t5", task.Identifier)
	assert.Equal(t, model.StatusAvailable, task.Status)
	assert.Equal(t, orb.Point{1, 2}, task.Location)
	require.Len(t, task.Geometries, 1)
	assert.Equal(t, int64(77), task.Geometries[0].OSMID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_SelectTaskWrapAndEmpty(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)

	mock.ExpectQuery(q("AND random < ? ORDER BY random ASC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	_, err := repo.SelectTask(context.Background(), TaskQuery{ChallengeSlug: "test1", From: 0.5, Below: true, Now: testNow, Threshold: time.Hour})
	assert.ErrorIs(t, err, ErrNoTask)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_AppendActionFirstReport(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT status, status_at FROM tasks WHERE id = ? FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "status_at"}).AddRow("available", testNow.Add(-time.Hour)))
	mock.ExpectExec(q("INSERT INTO actions")).
		WithArgs(int64(3), int64(9), model.StatusAlreadyFixed, testNow, nil).
		WillReturnResult(sqlmock.NewResult(50, 1))
	mock.ExpectExec(q("UPDATE tasks SET status = ?, status_at = ? WHERE id = ?")).
		WithArgs(model.StatusAlreadyFixed, testNow, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM actions WHERE task_id = ? AND status = ?")).
		WithArgs(int64(3), model.StatusAlreadyFixed).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectExec(q("INSERT INTO actions")).
		WithArgs(int64(3), nil, model.StatusAvailable, testNow, nil).
		WillReturnResult(sqlmock.NewResult(51, 1))
	mock.ExpectExec(q("UPDATE tasks SET status = ?, status_at = ? WHERE id = ?")).
		WithArgs(model.StatusAvailable, testNow, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	appended, err := repo.AppendAction(context.Background(), ActionAppend{
		Action:    model.Action{TaskID: 3, UserID: 9, Status: model.StatusAlreadyFixed, Timestamp: testNow},
		Behavior:  model.DefaultBehavior{},
		Threshold: time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, appended, 2)
	assert.Equal(t, int64(50), appended[0].ID)
	assert.Equal(t, model.StatusAvailable, appended[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_AppendActionMissingTask(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT status, status_at FROM tasks WHERE id = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "status_at"}))
	mock.ExpectRollback()

	_, err := repo.AppendAction(context.Background(), ActionAppend{Action: model.Action{TaskID: 3, Status: model.StatusFixed}})
	assert.ErrorIs(t, err, ErrTaskNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_AppendActionOnLiveLease(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)
	leasedAt := testNow.Add(-10 * time.Minute)

	expectLease := func() {
		mock.ExpectQuery(q("SELECT status, status_at FROM tasks WHERE id = ? FOR UPDATE")).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"status", "status_at"}).AddRow("assigned", leasedAt))
		mock.ExpectQuery(q("SELECT user_id FROM actions WHERE task_id = ? AND status = ? ORDER BY id DESC LIMIT 1")).
			WithArgs(int64(3), model.StatusAssigned).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(9)))
	}

	mock.ExpectBegin()
	expectLease()
	mock.ExpectRollback()

	_, err := repo.AppendAction(context.Background(), ActionAppend{
		Action:    model.Action{TaskID: 3, UserID: 10, Status: model.StatusFixed, Timestamp: testNow},
		Threshold: time.Hour,
	})
	assert.ErrorIs(t, err, ErrConflict)

	mock.ExpectBegin()
	expectLease()
	mock.ExpectExec(q("INSERT INTO actions")).
		WithArgs(int64(3), int64(9), model.StatusFixed, testNow, nil).
		WillReturnResult(sqlmock.NewResult(52, 1))
	mock.ExpectExec(q("UPDATE tasks SET status = ?, status_at = ? WHERE id = ?")).
		WithArgs(model.StatusFixed, testNow, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	appended, err := repo.AppendAction(context.Background(), ActionAppend{
		Action:    model.Action{TaskID: 3, UserID: 9, Status: model.StatusFixed, Timestamp: testNow},
		Threshold: time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, appended, 1)
	assert.Equal(t, int64(52), appended[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_HasLiveLeases(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)

	mock.ExpectQuery(q("SELECT EXISTS(SELECT 1 FROM tasks WHERE challenge_slug = ? AND status IN (?, ?) AND status_at >= ?)")).
		WithArgs("test1", model.StatusAssigned, model.StatusEditing, testNow.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"live"}).AddRow(1))

	live, err := repo.HasLiveLeases(context.Background(), "test1", testNow, time.Hour)
	require.NoError(t, err)
	assert.True(t, live)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_UpsertTaskDuplicate(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT slug FROM challenges WHERE slug = ?")).
		WithArgs("test1").
		WillReturnRows(sqlmock.NewRows([]string{"slug"}).AddRow("test1"))
	mock.ExpectQuery(q("SELECT id FROM tasks WHERE challenge_slug = ? AND identifier = ? FOR UPDATE")).
		WithArgs("test1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(q("INSERT INTO tasks")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'test1-t1' for key 'tasks.uk_tasks_challenge_identifier'"})
	mock.ExpectRollback()

	_, _, err := repo.UpsertTask(context.Background(), TaskUpsert{
		ChallengeSlug: "test1",
		Identifier:    "t1",
		Location:      &orb.Point{1, 2},
		At:            testNow,
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "tasks.uk_tasks_challenge_identifier")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_ReclaimTask(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)
	staleBefore := testNow.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE tasks SET status = ?, status_at = ? WHERE id = ? AND status IN ('assigned', 'editing') AND status_at < ?")).
		WithArgs(model.StatusAvailable, testNow, int64(4), staleBefore).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO actions")).
		WithArgs(int64(4), nil, model.StatusAvailable, testNow, nil).
		WillReturnResult(sqlmock.NewResult(60, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE tasks SET status = ?")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := repo.ReclaimTask(context.Background(), 4, staleBefore, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ReclaimTask(context.Background(), 4, staleBefore, testNow)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLTaskRepository_ListStaleTasks(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewTaskRepository(provider)
	staleBefore := testNow.Add(-time.Hour)

	mock.ExpectQuery(q("SELECT id FROM tasks WHERE status IN ('assigned', 'editing') AND status_at < ? AND id > ? ORDER BY id LIMIT ?")).
		WithArgs(staleBefore, int64(10), 500).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)).AddRow(int64(14)))

	ids, err := repo.ListStaleTasks(context.Background(), staleBefore, 10, 500)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 14}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLChallengeRepository_Deactivate(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewChallengeRepository(provider)

	mock.ExpectExec(q("UPDATE challenges SET active = 0 WHERE slug = ? AND active = 1")).
		WithArgs("test1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE challenges SET active = 0 WHERE slug = ? AND active = 1")).
		WithArgs("test1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	flipped, err := repo.DeactivateChallenge(context.Background(), "test1")
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = repo.DeactivateChallenge(context.Background(), "test1")
	require.NoError(t, err)
	assert.False(t, flipped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLChallengeRepository_GetChallenge(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewChallengeRepository(provider)
	columns := []string{"slug", "title", "description", "blurb", "help", "instruction", "difficulty", "geom", "active", "type", "created_at"}

	mock.ExpectQuery(q("FROM challenges WHERE slug = ?")).
		WithArgs("test1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"test1", "Test", nil, "blurb", nil, nil, 2,
			"POLYGON((-10 -10,10 -10,10 10,-10 10,-10 -10))", true, "default", testNow))
	mock.ExpectQuery(q("FROM challenges WHERE slug = ?")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(columns))

	c, err := repo.GetChallenge(context.Background(), "test1")
	require.NoError(t, err)
	assert.Equal(t, "blurb", c.Blurb)
	assert.Equal(t, 2, c.Difficulty)
	assert.True(t, c.IsLocal(400))
	assert.True(t, geo.Contains(c.Bounds(), orb.Point{0, 0}))

	_, err = repo.GetChallenge(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStatsRepository_StatusCountsByUser(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewStatsRepository(provider)

	mock.ExpectQuery("(?s)"+q("JOIN (SELECT task_id, MAX(id) AS id FROM actions GROUP BY task_id) last ON last.id = a.id")+".*"+q("WHERE a.user_id = ? AND t.challenge_slug = ? GROUP BY a.status")).
		WithArgs(int64(5), "test1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "n"}).AddRow("fixed", int64(3)).AddRow("skipped", int64(1)))

	counts, err := repo.StatusCounts(context.Background(), StatsFilter{ChallengeSlug: "test1", UserID: 5})
	require.NoError(t, err)
	assert.Equal(t, map[model.Status]int64{model.StatusFixed: 3, model.StatusSkipped: 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStatsRepository_CountAvailable(t *testing.T) {
	provider, mock := newMockProvider(t)
	repo := NewStatsRepository(provider)

	mock.ExpectQuery(q("SELECT COUNT(*) FROM tasks WHERE challenge_slug = ? AND (status IN")).
		WithArgs("test1", testNow.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(4)))

	n, err := repo.CountAvailable(context.Background(), "test1", testNow, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLTransaction(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	database := NewMySQLWithDB(sqlDB)
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE tasks").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := database.Transaction(ctx, func(tx Transaction) error {
			res, err := tx.Exec(ctx, "UPDATE tasks SET status = 'available' WHERE id = ?", int64(7))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			assert.Equal(t, int64(1), n)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := database.Transaction(ctx, func(tx Transaction) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("query error is wrapped", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("gone"))
		_, err := database.Query(ctx, "SELECT 1")
		assert.ErrorContains(t, err, "query failed: gone")
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewMySQLWithConfig_Rejects(t *testing.T) {
	_, err := NewMySQLWithConfig(nil)
	assert.Error(t, err)
	_, err = NewMySQLWithConfig(&MySQLConfig{})
	assert.ErrorContains(t, err, "DSN")

	cfg := &MySQLConfig{DSN: "x"}
	cfg.applyDefaults()
	assert.Equal(t, DefaultMySQLConfig().MaxOpenConnections, cfg.MaxOpenConnections)
}

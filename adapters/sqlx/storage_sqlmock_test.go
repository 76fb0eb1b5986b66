package sqlx_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "lampkit/adapters/sqlx"
	"lampkit/core"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"), storage.DriverPostgres)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_Get(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT value FROM kv_store WHERE key = \$1`).
		WithArgs("leaderboard").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[{"player":"0xa","score":5}]`)))

	got, err := store.Get(context.Background(), "leaderboard")
	require.NoError(t, err)
	require.JSONEq(t, `[{"player":"0xa","score":5}]`, string(got))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetMissing(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT value FROM kv_store`).
		WithArgs("pendingTransactions").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "pendingTransactions")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_PutUpserts(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO kv_store \(key, value, updated_at\) VALUES \(\$1, \$2, \$3\)\s+ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("leaderboard", []byte(`[]`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Put(context.Background(), "leaderboard", []byte(`[]`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_PutError(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO kv_store`).WillReturnError(errors.New("disk full"))
	require.Error(t, store.Put(context.Background(), "k", []byte(`1`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Delete(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM kv_store WHERE key = \$1`).
		WithArgs("leaderboard").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "leaderboard"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Migrate(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS kv_store .*BYTEA`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_MySQLDialect(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	store := storage.NewWithDB(libsqlx.NewDb(db, "mysql"), storage.DriverMySQL)
	ctx := context.Background()

	mock.ExpectExec("(?s)CREATE TABLE IF NOT EXISTS kv_store .*`key` VARCHAR\\(191\\) PRIMARY KEY.*LONGBLOB").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO kv_store \\(`key`, value, updated_at\\) VALUES \\(\\?, \\?, \\?\\) ON DUPLICATE KEY UPDATE").
		WithArgs("pendingTransactions", []byte(`["lamp-1"]`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT value FROM kv_store WHERE `key` = \\?").
		WithArgs("pendingTransactions").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`["lamp-1"]`)))

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Put(ctx, "pendingTransactions", []byte(`["lamp-1"]`)))
	got, err := store.Get(ctx, "pendingTransactions")
	require.NoError(t, err)
	require.JSONEq(t, `["lamp-1"]`, string(got))
	require.NoError(t, mock.ExpectationsWereMet())
}

package statestore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresStore(db)
	require.NoError(t, err)
	return s, mock
}

func TestPostgresWriteIfVersionUpdate(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE records SET version").
		WithArgs(`{"v":2}`, sqlmock.AnyArg(), "k", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := s.WriteIfVersion(context.Background(), "k", 3, json.RawMessage(`{"v":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriteIfVersionConflict(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE records SET version").
		WithArgs(`{}`, sqlmock.AnyArg(), "k", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM records").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))

	_, err := s.WriteIfVersion(context.Background(), "k", 3, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, "STATE_CONFLICT", faults.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateLosesToExistingRow(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO records").
		WithArgs("k", `{}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM records").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))

	_, err := s.WriteIfVersion(context.Background(), "k", 0, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, "STATE_CONFLICT", faults.CodeOf(err))
}

func TestPostgresGetNotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT key, version, data, updated_at FROM records").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"key", "version", "data", "updated_at"}))

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, "RES_NOT_FOUND", faults.CodeOf(err))
}

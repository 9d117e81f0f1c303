package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func expectLockAndCheck(mock pgxmock.PgxPoolIface, version string, exists bool) {
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(migrationLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(version).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))
}

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"002_documents.sql": "CREATE TABLE documents (id UUID);",
		"001_tenants.sql":   "CREATE TABLE tenants (id UUID);",
		"notes.txt":         "ignored",
	})
	mock := newMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	// 001 was applied by an earlier run.
	expectLockAndCheck(mock, "001_tenants.sql", true)
	mock.ExpectRollback()

	expectLockAndCheck(mock, "002_documents.sql", false)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE documents (id UUID);")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs("002_documents.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(context.Background(), mock, dir))
}

func TestRunMigrations_FailedFileRollsBack(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_tenants.sql": "CREATE TABLE tenants (id UUID);",
		"002_broken.sql":  "CREATE TABLE nope (",
	})
	mock := newMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	expectLockAndCheck(mock, "001_tenants.sql", true)
	mock.ExpectRollback()
	expectLockAndCheck(mock, "002_broken.sql", false)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE nope (")).
		WillReturnError(errors.New("syntax error at end of input"))
	mock.ExpectRollback()

	err := RunMigrations(context.Background(), mock, dir)
	assert.ErrorContains(t, err, "execute migration 002_broken.sql")
}

func TestRunMigrations_EmptyDirectory(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	err := RunMigrations(context.Background(), mock, t.TempDir())
	assert.ErrorContains(t, err, "no migrations found")
}

func TestRunMigrations_ShippedFilesAreOrdered(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for i, f := range files {
		assert.Regexp(t, `^\d{3}_[a-z_]+\.sql$`, filepath.Base(f))
		if i > 0 {
			assert.Less(t, filepath.Base(files[i-1]), filepath.Base(f))
		}
	}
}

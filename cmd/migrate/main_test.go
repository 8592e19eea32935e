package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.sql", "001_a.sql", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o755))

	files, err := migrationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, files)
}

func TestInitMigrationCoversEveryTable(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_init.sql"))
	require.NoError(t, err)
	ddl := string(data)

	for _, table := range importTables() {
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
	assert.Contains(t, ddl, "PRIMARY KEY (client_id, platform, kind, metric_date)")
}

func TestApplyMigrationsSkipsRecordedVersions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("CREATE TABLE a (id int);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.sql"), []byte("CREATE TABLE b (id int);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "003_c.sql"), []byte("CREATE TABLE c (;"), 0o644))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("001_a.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("002_b.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE c")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	var out bytes.Buffer
	res, err := applyMigrations(db, dir, []string{"001_a.sql", "002_b.sql", "003_c.sql"}, &out)
	require.NoError(t, err)
	assert.Equal(t, migrateResult{applied: 1, skipped: 1, failed: 1}, res)
	assert.Contains(t, out.String(), "002_b.sql ... OK")
	assert.Contains(t, out.String(), "003_c.sql ... ERROR: syntax error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

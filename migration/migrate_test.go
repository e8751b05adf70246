/*
Copyright 2024 github.com/ucirello

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package migration

import (
	"context"
	"regexp"
	"testing"
	"time"

	"cirello.io/pgdb"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	organizationScript = "CREATE TABLE organization (id INT);"
	operatorScript     = "CREATE TABLE operator (id INT);"
)

func mockPool(t *testing.T) (*pgdb.Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	pool := pgdb.NewPool(pgdb.FromSQLDB(db))
	require.NoError(t, pool.Open(context.Background()))
	t.Cleanup(func() {
		mock.ExpectClose()
		assert.NoError(t, pool.Close(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return pool, mock
}

func newMigrator(t *testing.T, opts ...Option) (*Migrator, time.Time) {
	t.Helper()
	root := t.TempDir()
	writeScripts(t, root, map[string]string{
		"1-create-organization.sql": organizationScript,
		"2-create-operator.sql":     operatorScript,
	})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithLogger(zerolog.New(zerolog.NewTestWriter(t)))}, opts...)
	m := NewMigrator(New(root), opts...)
	m.now = func() time.Time { return now }
	return m, now
}

func expectVersion(mock sqlmock.Sqlmock, version int64) {
	rows := sqlmock.NewRows([]string{"to_version"})
	if version > 0 {
		rows.AddRow(version)
	}
	mock.ExpectQuery(regexp.QuoteMeta(currentVersionQuery)).WillReturnRows(rows)
}

func TestMigrate(t *testing.T) {
	pool, mock := mockPool(t)
	m, now := newMigrator(t, SkipLockCheck())

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS database_migration").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersion(mock, 0)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1) IS NULL")).
		WithArgs(pgdb.LockKey(TableName)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(false))
	expectVersion(mock, 0)
	mock.ExpectExec(regexp.QuoteMeta(organizationScript)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(operatorScript)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO database_migration (from_version, to_version, migrated_at) VALUES ($1, $2, $3)")).
		WithArgs(int64(0), int64(2), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := m.Migrate(context.Background(), pool)
	require.NoError(t, err)
	assert.Equal(t, Result{FromVersion: 0, ToVersion: 2}, result)
	assert.True(t, result.Applied())
}

func TestMigrateUpToDate(t *testing.T) {
	pool, mock := mockPool(t)
	m, _ := newMigrator(t, SkipLockCheck())
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS database_migration").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersion(mock, 2)

	result, err := m.Migrate(context.Background(), pool)
	require.NoError(t, err)
	assert.False(t, result.Applied())
	assert.Equal(t, 2, result.ToVersion)
}

func TestMigrateConcurrently(t *testing.T) {
	pool, mock := mockPool(t)
	m, _ := newMigrator(t, SkipLockCheck())
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS database_migration").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersion(mock, 1)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("pg_advisory_xact_lock(")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(false))
	expectVersion(mock, 2)
	mock.ExpectRollback()

	result, err := m.Migrate(context.Background(), pool)
	assert.ErrorIs(t, err, ErrConcurrentMigration)
	assert.Equal(t, Result{FromVersion: 1, ToVersion: 1}, result)
}

func TestMigrateFailedScriptRollsBack(t *testing.T) {
	pool, mock := mockPool(t)
	m, _ := newMigrator(t, SkipLockCheck())
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS database_migration").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersion(mock, 0)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("pg_advisory_xact_lock(")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(false))
	expectVersion(mock, 0)
	mock.ExpectExec(regexp.QuoteMeta(organizationScript)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(operatorScript)).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := m.Migrate(context.Background(), pool)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMigrateChecksLocks(t *testing.T) {
	pool, _ := mockPool(t)
	m, _ := newMigrator(t)
	_, err := m.Migrate(context.Background(), pool)
	assert.ErrorIs(t, err, ErrScriptNotLocked, "unlocked scripts must be refused before touching the database")
}

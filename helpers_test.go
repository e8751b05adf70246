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

package pgdb_test

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"cirello.io/pgdb"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chars = []byte("abcdefghijklmnopqrstuvwxyz")

func randStr(n int) string {
	var b bytes.Buffer
	for i := 0; i < n; i++ {
		b.WriteByte(chars[rand.Intn(len(chars))])
	}
	return b.String()
}

func testLogger(t testing.TB) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}

// mockPool returns an open pool backed by sqlmock through the database/sql
// adapter. maxConns limits the open connections, 0 means unlimited. The pool
// is closed, and the expectations verified, when the test ends.
func mockPool(t *testing.T, maxConns int, opts ...pgdb.PoolOption) (*pgdb.Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(maxConns)
	opts = append([]pgdb.PoolOption{pgdb.WithPoolLogger(testLogger(t))}, opts...)
	pool := pgdb.NewPool(pgdb.FromSQLDB(db), opts...)
	require.NoError(t, pool.Open(context.Background()))
	t.Cleanup(func() {
		if pool.IsOpen() {
			mock.ExpectClose()
			assert.NoError(t, pool.Close(context.Background()))
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return pool, mock
}

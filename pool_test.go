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
	"context"
	"errors"
	"testing"
	"time"

	"cirello.io/pgdb"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestPoolLifecycle(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	pool := pgdb.NewPool(pgdb.FromSQLDB(db), pgdb.WithCloseTimeout(time.Second))
	assert.False(t, pool.IsOpen())
	_, err = pool.Stat()
	assert.ErrorIs(t, err, pgdb.ErrPoolNotOpen)
	assert.ErrorIs(t, pool.Close(ctx), pgdb.ErrPoolNotOpen)
	assert.ErrorIs(t, pool.Acquire().Acquire(ctx), pgdb.ErrPoolNotOpen)

	require.NoError(t, pool.Open(ctx))
	assert.True(t, pool.IsOpen())
	assert.ErrorIs(t, pool.Open(ctx), pgdb.ErrPoolAlreadyOpen)

	mock.ExpectClose()
	require.NoError(t, pool.Close(ctx))
	assert.False(t, pool.IsOpen())
	assert.ErrorIs(t, pool.Close(ctx), pgdb.ErrPoolNotOpen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolOpenFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	pool := pgdb.NewPool(pgdb.FromSQLDB(db), pgdb.WithPoolLogger(testLogger(t)))
	err = pool.Open(context.Background())
	var other *pgdb.OtherError
	assert.True(t, errors.As(err, &other), "%v", err)
	assert.False(t, pool.IsOpen())

	var cv *pgdb.ContractViolationError
	assert.True(t, errors.As(pgdb.NewPool(nil).Open(context.Background()), &cv))
}

func TestPoolCloseReportsFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	pool := pgdb.NewPool(pgdb.FromSQLDB(db), pgdb.WithPoolLogger(testLogger(t)))
	ctx := context.Background()
	require.NoError(t, pool.Open(ctx))
	require.NoError(t, pool.Do(ctx, func(ctx context.Context, c *pgdb.Client) error {
		return c.Acquire(ctx)
	}))
	mock.ExpectClose().WillReturnError(errors.New("boom"))
	assert.Error(t, pool.Close(ctx))
	assert.False(t, pool.IsOpen(), "a failed close must still leave the pool closed")
}

func TestPoolExhaustion(t *testing.T) {
	pool, _ := mockPool(t, 1)
	ctx := context.Background()
	holder := pool.Acquire()
	require.NoError(t, holder.Acquire(ctx))

	stat, err := pool.Stat()
	require.NoError(t, err)
	assert.Equal(t, 1, stat.Acquired)
	assert.Equal(t, 1, stat.Max)

	waiter := pool.Acquire(pgdb.WithAcquireTimeout(50 * time.Millisecond))
	start := time.Now()
	err = waiter.Acquire(ctx)
	var timeout *pgdb.TimeoutError
	require.True(t, errors.As(err, &timeout), "%v", err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.False(t, waiter.IsConnected())

	var g errgroup.Group
	blocked := pool.Acquire(pgdb.WithAcquireTimeout(5 * time.Second))
	g.Go(func() error { return blocked.Acquire(ctx) })
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, holder.Release(ctx))
	require.NoError(t, g.Wait(), "acquire must succeed once the connection is released")
	assert.True(t, blocked.IsConnected())
	require.NoError(t, blocked.Close(ctx))
}

func TestPoolDo(t *testing.T) {
	pool, mock := mockPool(t, 1)
	ctx := context.Background()
	mock.ExpectExec("DELETE FROM organization").WillReturnResult(sqlmock.NewResult(0, 2))
	var leased *pgdb.Client
	err := pool.Do(ctx, func(ctx context.Context, c *pgdb.Client) error {
		leased = c
		n, err := c.Execute(ctx, "DELETE FROM organization", nil)
		assert.Equal(t, int64(2), n)
		return err
	})
	require.NoError(t, err)
	assert.False(t, leased.IsConnected(), "Do must release the connection")

	boom := errors.New("boom")
	err = pool.Do(ctx, func(ctx context.Context, c *pgdb.Client) error {
		require.NoError(t, c.Acquire(ctx))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	stat, err := pool.Stat()
	require.NoError(t, err)
	assert.Zero(t, stat.Acquired)
}

func TestPoolDoIgnoresCallerCancellationOnRelease(t *testing.T) {
	pool, mock := mockPool(t, 1)
	for i := 0; i < 50; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE organization").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		ctx, cancel := context.WithCancel(context.Background())
		err := pool.Do(ctx, func(ctx context.Context, c *pgdb.Client) error {
			defer cancel()
			return pgdb.Transactional(ctx, c, func(ctx context.Context, c *pgdb.Client) error {
				_, err := c.Execute(ctx, "UPDATE organization SET name = :name", pgdb.Args{"name": "Org#1"})
				return err
			})
		}, pgdb.WithReleaseTimeout(time.Second))
		require.NoError(t, err, "a committed unit of work must not fail on release")
	}
	stat, err := pool.Stat()
	require.NoError(t, err)
	assert.Zero(t, stat.Acquired)
}

func TestPoolClientDefaults(t *testing.T) {
	pool, _ := mockPool(t, 1, pgdb.WithClientDefaults(pgdb.WithAcquireTimeout(10*time.Millisecond)))
	ctx := context.Background()
	holder := pool.Acquire()
	require.NoError(t, holder.Acquire(ctx))
	defer holder.Close(ctx)
	var timeout *pgdb.TimeoutError
	assert.True(t, errors.As(pool.Acquire().Acquire(ctx), &timeout))
}

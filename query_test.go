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
	"regexp"
	"testing"

	"cirello.io/pgdb"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type organization struct {
	ID   int64  `db:"id,omitempty"`
	Name string `db:"name"`
}

func mockClient(t *testing.T) (*pgdb.Client, sqlmock.Sqlmock) {
	t.Helper()
	pool, mock := mockPool(t, 1)
	c := pool.Acquire(pgdb.WithLogger(testLogger(t)))
	t.Cleanup(func() { assert.NoError(t, c.Close(context.Background())) })
	return c, mock
}

func orgRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), "Org#1").
		AddRow(int64(2), "Org#2")
}

func TestQueries(t *testing.T) {
	c, mock := mockClient(t)
	ctx := context.Background()
	list := regexp.QuoteMeta("SELECT id, name FROM organization WHERE name LIKE $1 ORDER BY id")

	mock.ExpectQuery(list).WithArgs("Org%").WillReturnRows(orgRows())
	orgs, err := pgdb.List[organization](ctx, c, "SELECT id, name FROM organization WHERE name LIKE :p ORDER BY id", pgdb.Args{"p": "Org%"})
	require.NoError(t, err)
	assert.Equal(t, []organization{{1, "Org#1"}, {2, "Org#2"}}, orgs)

	mock.ExpectQuery(list).WithArgs("Org%").WillReturnRows(orgRows())
	row, found, err := c.Get(ctx, "SELECT id, name FROM organization WHERE name LIKE :p ORDER BY id", pgdb.Args{"p": "Org%"})
	require.NoError(t, err)
	assert.True(t, found, "extra rows must not hide the first one")
	name, _ := row.Get("name")
	assert.Equal(t, "Org#1", name)

	mock.ExpectQuery("SELECT name FROM organization").WithArgs("Org#3").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	_, found, err = pgdb.GetScalar[string](ctx, c, "SELECT name FROM organization WHERE name = :n", pgdb.Args{"n": "Org#3"})
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectQuery("SELECT id FROM organization").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	ids, err := pgdb.ListScalar[int](ctx, c, "SELECT id FROM organization", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM organization WHERE id = $1)")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	exists, err := c.Exists(ctx, "SELECT 1 FROM organization WHERE id = :id", pgdb.Args{"id": int64(9)})
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestScalarShapeViolation(t *testing.T) {
	c, mock := mockClient(t)
	mock.ExpectQuery("SELECT id, name").WillReturnRows(orgRows())
	_, _, err := c.GetScalar(context.Background(), "SELECT id, name FROM organization", nil)
	var sv *pgdb.ShapeViolationError
	require.True(t, errors.As(err, &sv), "%v", err)
	assert.Equal(t, "SELECT id, name FROM organization", sv.SQL)
}

func TestMissingParameterDoesNotAcquire(t *testing.T) {
	c, _ := mockClient(t)
	_, err := c.Execute(context.Background(), "DELETE FROM organization WHERE id = :id", nil)
	var mp *pgdb.MissingParameterError
	require.True(t, errors.As(err, &mp))
	assert.Equal(t, "id", mp.Name)
	assert.False(t, c.IsConnected())
}

func TestExecuteMany(t *testing.T) {
	c, mock := mockClient(t)
	q := regexp.QuoteMeta("UPDATE organization SET name = $1 WHERE name = $2")
	mock.ExpectExec(q).WithArgs("nn2", "n2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("nn1", "n1").WillReturnResult(sqlmock.NewResult(0, 2))
	n, err := c.ExecuteMany(context.Background(), "UPDATE organization SET name = :new WHERE name = :old", []pgdb.Args{
		{"old": "n2", "new": "nn2"},
		{"old": "n1", "new": "nn1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestIter(t *testing.T) {
	ctx := context.Background()
	t.Run("exhausted", func(t *testing.T) {
		c, mock := mockClient(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, name").WillReturnRows(orgRows())
		mock.ExpectCommit()
		var names []string
		for org, err := range pgdb.Iter[organization](ctx, c, "SELECT id, name FROM organization", nil) {
			require.NoError(t, err)
			names = append(names, org.Name)
		}
		assert.Equal(t, []string{"Org#1", "Org#2"}, names)
		assert.False(t, c.InTransaction())
	})
	t.Run("early break", func(t *testing.T) {
		c, mock := mockClient(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, name").WillReturnRows(orgRows())
		mock.ExpectRollback()
		for org, err := range pgdb.Iter[organization](ctx, c, "SELECT id, name FROM organization", nil) {
			require.NoError(t, err)
			assert.Equal(t, "Org#1", org.Name)
			break
		}
		assert.False(t, c.InTransaction())
	})
	t.Run("not a scalar", func(t *testing.T) {
		c, mock := mockClient(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, name").WithArgs("Org%").WillReturnRows(orgRows())
		mock.ExpectRollback()
		var errs int
		for _, err := range pgdb.IterScalar[int64](ctx, c, "SELECT id, name FROM organization WHERE name LIKE :p", pgdb.Args{"p": "Org%"}) {
			var sv *pgdb.ShapeViolationError
			require.True(t, errors.As(err, &sv), "%v", err)
			assert.Equal(t, "SELECT id, name FROM organization WHERE name LIKE $1", sv.SQL)
			assert.Equal(t, []any{"Org%"}, sv.Args)
			errs++
		}
		assert.Equal(t, 1, errs)
	})
	t.Run("inside transaction", func(t *testing.T) {
		c, mock := mockClient(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
		mock.ExpectCommit()
		err := pgdb.Transactional(ctx, c, func(ctx context.Context, c *pgdb.Client) error {
			var sum int64
			for id, err := range c.IterScalar(ctx, "SELECT id FROM organization", nil) {
				if err != nil {
					return err
				}
				sum += id.(int64)
			}
			assert.Equal(t, int64(3), sum)
			assert.True(t, c.InTransaction(), "iteration must not end the caller's transaction")
			return nil
		})
		require.NoError(t, err)
	})
}

func TestInsert(t *testing.T) {
	ctx := context.Background()
	t.Run("count", func(t *testing.T) {
		c, mock := mockClient(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO organization (name) VALUES ($1), ($2)")).
			WithArgs("Org#1", "Org#2").
			WillReturnResult(sqlmock.NewResult(0, 2))
		n, err := c.Insert(ctx, pgdb.InsertInto("organization").
			Objects([]organization{{Name: "Org#1"}, {Name: "Org#2"}}))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
	t.Run("ids", func(t *testing.T) {
		c, mock := mockClient(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO organization (name) VALUES ($1), ($2) RETURNING id")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
		ids, err := pgdb.InsertIDs[int64](ctx, c, pgdb.InsertInto("organization").
			Objects([]organization{{Name: "Org#1"}, {Name: "Org#2"}}).
			ReturningID())
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids)
	})
	t.Run("record", func(t *testing.T) {
		c, mock := mockClient(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO organization (name) VALUES ($1) RETURNING *")).
			WithArgs("Org#1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(5), "Org#1"))
		org, found, err := pgdb.InsertRecord[organization](ctx, c, pgdb.InsertInto("organization").
			Value("name", "Org#1").
			ReturningRecord())
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, organization{5, "Org#1"}, org)
	})
	t.Run("conflict ignored", func(t *testing.T) {
		c, mock := mockClient(t)
		mock.ExpectQuery("ON CONFLICT").WillReturnRows(sqlmock.NewRows([]string{"id"}))
		_, found, err := pgdb.InsertID[int64](ctx, c, pgdb.InsertInto("organization").
			Value("name", "Org#1").
			OnConflict("(name)", "DO NOTHING").
			ReturningID())
		require.NoError(t, err)
		assert.False(t, found)
	})
	t.Run("dynamic shape", func(t *testing.T) {
		c, mock := mockClient(t)
		mock.ExpectQuery("RETURNING id").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
		v, err := c.InsertAny(ctx, pgdb.InsertInto("organization").
			Objects([]organization{{Name: "Org#1"}}).
			ReturningID())
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1)}, v)

		v, err = c.InsertAny(ctx, pgdb.InsertInto("organization").
			Objects([]organization{{Name: "Org#1"}}).
			ShouldInsert(func(any) bool { return false }).
			ReturningRecord())
		require.NoError(t, err)
		assert.Equal(t, []pgdb.Row{}, v)
	})
	t.Run("wrong shape", func(t *testing.T) {
		c, _ := mockClient(t)
		_, _, err := pgdb.InsertID[int64](ctx, c, pgdb.InsertInto("organization").Value("name", "x"))
		var cv *pgdb.ContractViolationError
		assert.True(t, errors.As(err, &cv))
	})
}

func TestClientLease(t *testing.T) {
	pool, _ := mockPool(t, 1)
	ctx := context.Background()
	c := pool.Acquire()
	assert.NotEmpty(t, c.ID())
	assert.ErrorIs(t, c.Release(ctx), pgdb.ErrNotAcquired)
	require.NoError(t, c.Acquire(ctx))
	assert.True(t, c.IsConnected())
	assert.ErrorIs(t, c.Acquire(ctx), pgdb.ErrAlreadyAcquired)
	require.NoError(t, c.Release(ctx))
	assert.False(t, c.IsConnected())
	require.NoError(t, c.Close(ctx), "closing a released client is a no-op")
}

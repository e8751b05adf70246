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

package pgdb

import (
	"context"
	"iter"

	"golang.org/x/xerrors"
)

// Querier runs statements written with named parameters. It is implemented
// by *Client.
type Querier interface {
	Execute(ctx context.Context, query string, args Args) (int64, error)
	List(ctx context.Context, query string, args Args) ([]Row, error)
	Get(ctx context.Context, query string, args Args) (Row, bool, error)
	ListScalar(ctx context.Context, query string, args Args) ([]any, error)
	GetScalar(ctx context.Context, query string, args Args) (any, bool, error)
	Exists(ctx context.Context, query string, args Args) (bool, error)
	Iter(ctx context.Context, query string, args Args) iter.Seq2[Row, error]
	IterScalar(ctx context.Context, query string, args Args) iter.Seq2[any, error]
}

var _ Querier = (*Client)(nil)

// Execute runs a statement and returns the number of affected rows, or 0 when
// the statement does not report one.
func (c *Client) Execute(ctx context.Context, query string, args Args) (int64, error) {
	q, values, err := Render(query, args)
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, q, values)
}

// ExecuteMany runs a statement once per element of rows and returns the total
// number of affected rows.
func (c *Client) ExecuteMany(ctx context.Context, query string, rows []Args) (int64, error) {
	q, batch, err := RenderMany(query, rows)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, values := range batch {
		n, err := c.exec(ctx, q, values)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ExecuteScript runs script as is, without named parameter rendering. The
// script may hold several statements.
func (c *Client) ExecuteScript(ctx context.Context, script string) (int64, error) {
	return c.exec(ctx, script, nil)
}

// List runs a query and returns all rows.
func (c *Client) List(ctx context.Context, query string, args Args) ([]Row, error) {
	q, values, err := Render(query, args)
	if err != nil {
		return nil, err
	}
	_, rows, err := c.fetch(ctx, q, values)
	return rows, err
}

// Get runs a query and returns its first row. found is false when the query
// returned no rows. Extra rows are ignored and logged.
func (c *Client) Get(ctx context.Context, query string, args Args) (Row, bool, error) {
	q, values, err := Render(query, args)
	if err != nil {
		return Row{}, false, err
	}
	_, rows, err := c.fetch(ctx, q, values)
	if err != nil {
		return Row{}, false, err
	}
	return c.first(rows, q, values)
}

// ListScalar runs a query that returns exactly one column and returns the
// value of that column for every row.
func (c *Client) ListScalar(ctx context.Context, query string, args Args) ([]any, error) {
	q, values, err := Render(query, args)
	if err != nil {
		return nil, err
	}
	cols, rows, err := c.fetch(ctx, q, values)
	if err != nil {
		return nil, err
	}
	if err := requireOneColumn(cols, q, values); err != nil {
		return nil, err
	}
	scalars := make([]any, len(rows))
	for i, r := range rows {
		scalars[i] = r.values[0]
	}
	return scalars, nil
}

// GetScalar runs a query that returns exactly one column and returns the value
// of that column in the first row.
func (c *Client) GetScalar(ctx context.Context, query string, args Args) (any, bool, error) {
	q, values, err := Render(query, args)
	if err != nil {
		return nil, false, err
	}
	cols, rows, err := c.fetch(ctx, q, values)
	if err != nil {
		return nil, false, err
	}
	if err := requireOneColumn(cols, q, values); err != nil {
		return nil, false, err
	}
	row, found, err := c.first(rows, q, values)
	if err != nil || !found {
		return nil, found, err
	}
	return row.values[0], true, nil
}

// Exists reports whether query returns at least one row.
func (c *Client) Exists(ctx context.Context, query string, args Args) (bool, error) {
	v, _, err := c.GetScalar(ctx, "SELECT EXISTS ("+query+")", args)
	if err != nil {
		return false, err
	}
	exists, _ := v.(bool)
	return exists, nil
}

// Iter runs a query and streams its rows. Each range over the returned
// sequence runs the query again. The client must not be used for other
// statements while the sequence is being consumed.
//
// When the client is not in a transaction, one is started around the
// iteration: it is committed when the rows are exhausted and rolled back when
// the consumer stops early, a row cannot be read, or the consumer panics.
func (c *Client) Iter(ctx context.Context, query string, args Args) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		q, values, err := Render(query, args)
		if err != nil {
			yield(Row{}, err)
			return
		}
		c.iterate(ctx, q, values, yield)
	}
}

// IterScalar is like Iter for queries that return exactly one column.
func (c *Client) IterScalar(ctx context.Context, query string, args Args) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		q, values, err := Render(query, args)
		if err != nil {
			yield(nil, err)
			return
		}
		c.iterate(ctx, q, values, func(row Row, err error) bool {
			if err != nil {
				yield(nil, err)
				return false
			}
			v, err := row.scalar(q, values)
			if err != nil {
				yield(nil, err)
				return false
			}
			return yield(v, nil)
		})
	}
}

// iterate streams the rows of a rendered query into yield, inside an
// implicit transaction when the client is not in one.
func (c *Client) iterate(ctx context.Context, q string, values []any, yield func(Row, error) bool) {
	if err := c.acquireIfNecessary(ctx); err != nil {
		yield(Row{}, err)
		return
	}
	var tx *Transaction
	if !c.InTransaction() {
		var err error
		if tx, err = c.Transaction(ctx); err == nil {
			err = tx.Start(ctx)
		}
		if err != nil {
			yield(Row{}, err)
			return
		}
	}
	committed := false
	if tx != nil {
		defer func() {
			if committed {
				return
			}
			if err := tx.Rollback(ctx); err != nil {
				c.log.Error().Err(err).Str("client", c.id).Msg("cannot rollback iteration transaction")
			}
		}()
	}
	rows, err := c.conn.Query(ctx, q, values...)
	if err != nil {
		yield(Row{}, typedError(err, "cannot run query"))
		return
	}
	defer rows.Close()
	cols := rows.Columns()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			yield(Row{}, typedError(err, "cannot read row"))
			return
		}
		if !yield(Row{columns: cols, values: vals}, nil) {
			return
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		yield(Row{}, typedError(err, "cannot read rows"))
		return
	}
	if tx != nil {
		committed = true
		if err := tx.Commit(ctx); err != nil {
			yield(Row{}, err)
		}
	}
}

func (c *Client) exec(ctx context.Context, q string, values []any) (int64, error) {
	if err := c.acquireIfNecessary(ctx); err != nil {
		return 0, err
	}
	tag, err := c.conn.Exec(ctx, q, values...)
	if err != nil {
		return 0, typedError(err, "cannot execute statement")
	}
	return tag.RowsAffected(), nil
}

func (c *Client) fetch(ctx context.Context, q string, values []any) ([]string, []Row, error) {
	if err := c.acquireIfNecessary(ctx); err != nil {
		return nil, nil, err
	}
	rows, err := c.conn.Query(ctx, q, values...)
	if err != nil {
		return nil, nil, typedError(err, "cannot run query")
	}
	defer rows.Close()
	cols := rows.Columns()
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, typedError(err, "cannot read row")
		}
		out = append(out, Row{columns: cols, values: vals})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, typedError(err, "cannot read rows")
	}
	return cols, out, nil
}

func (c *Client) first(rows []Row, q string, values []any) (Row, bool, error) {
	switch len(rows) {
	case 0:
		c.log.Debug().Str("client", c.id).Str("sql", q).Interface("args", values).Msg("no rows returned")
		return Row{}, false, nil
	case 1:
	default:
		c.log.Warn().Str("client", c.id).Str("sql", q).Interface("args", values).Int("rows", len(rows)).Msg("more than one row returned")
	}
	return rows[0], true, nil
}

func requireOneColumn(cols []string, q string, values []any) error {
	if len(cols) == 1 {
		return nil
	}
	return &ShapeViolationError{
		error: xerrors.Errorf("expected exactly one column, got %d", len(cols)),
		SQL:   q,
		Args:  values,
	}
}

// List runs a query on q and converts every row into T. See As.
func List[T any](ctx context.Context, q Querier, query string, args Args) ([]T, error) {
	rows, err := q.List(ctx, query, args)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(rows))
	for i, r := range rows {
		if out[i], err = As[T](r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Get runs a query on q and converts its first row into T. See As.
func Get[T any](ctx context.Context, q Querier, query string, args Args) (T, bool, error) {
	var zero T
	row, found, err := q.Get(ctx, query, args)
	if err != nil || !found {
		return zero, found, err
	}
	v, err := As[T](row)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// ListScalar runs a single-column query on q and converts every value into T.
func ListScalar[T any](ctx context.Context, q Querier, query string, args Args) ([]T, error) {
	values, err := q.ListScalar(ctx, query, args)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(values))
	for i, v := range values {
		if out[i], err = ScalarAs[T](v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetScalar runs a single-column query on q and converts the value of its
// first row into T.
func GetScalar[T any](ctx context.Context, q Querier, query string, args Args) (T, bool, error) {
	var zero T
	v, found, err := q.GetScalar(ctx, query, args)
	if err != nil || !found {
		return zero, found, err
	}
	out, err := ScalarAs[T](v)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

// Iter streams the rows of a query on q converted into T.
func Iter[T any](ctx context.Context, q Querier, query string, args Args) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for row, err := range q.Iter(ctx, query, args) {
			if err != nil {
				yield(zero, err)
				return
			}
			v, err := As[T](row)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// IterScalar streams the values of a single-column query on q converted into
// T.
func IterScalar[T any](ctx context.Context, q Querier, query string, args Args) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for v, err := range q.IterScalar(ctx, query, args) {
			if err != nil {
				yield(zero, err)
				return
			}
			out, err := ScalarAs[T](v)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

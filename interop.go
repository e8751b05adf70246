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
	"database/sql"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lib/pq"
	"golang.org/x/xerrors"
)

// PGX returns a connector backed by a pgx connection pool. The configuration
// must have been created by pgxpool.ParseConfig.
func PGX(config *pgxpool.Config) Connector {
	return &pgxConnector{config: config}
}

// ParsePGX returns a pgx connector for the given connection string.
func ParsePGX(dsn string) (Connector, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, xerrors.Errorf("cannot parse connection string: %w", err)
	}
	return PGX(config), nil
}

var (
	_ Connector = (*pgxConnector)(nil)
	_ ConnPool  = (*pgxPoolWrapper)(nil)
	_ Conn      = (*pgxConnWrapper)(nil)
	_ Rows      = (*pgxRowsWrapper)(nil)
)

type pgxConnector struct {
	config *pgxpool.Config
}

func (c *pgxConnector) String() string {
	cc := c.config.ConnConfig
	return fmt.Sprintf("pgx host=%s port=%d database=%s user=%s min_conns=%d max_conns=%d",
		cc.Host, cc.Port, cc.Database, cc.User, c.config.MinConns, c.config.MaxConns)
}

func (c *pgxConnector) Connect(ctx context.Context) (ConnPool, error) {
	p, err := pgxpool.ConnectConfig(ctx, c.config)
	if err != nil {
		return nil, err
	}
	return &pgxPoolWrapper{Pool: p}, nil
}

type pgxPoolWrapper struct {
	*pgxpool.Pool
}

func (p *pgxPoolWrapper) Acquire(ctx context.Context) (Conn, error) {
	c, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConnWrapper{Conn: c}, nil
}

func (p *pgxPoolWrapper) Close(ctx context.Context) error {
	return closeWithin(ctx, func() error {
		p.Pool.Close()
		return nil
	})
}

func (p *pgxPoolWrapper) Stat() PoolStat {
	s := p.Pool.Stat()
	return PoolStat{
		Acquired: int(s.AcquiredConns()),
		Total:    int(s.TotalConns()),
		Max:      int(s.MaxConns()),
	}
}

type pgxConnWrapper struct {
	*pgxpool.Conn
}

func (c *pgxConnWrapper) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	tag, err := c.Conn.Exec(ctx, query, args...)
	if err != nil {
		return "", err
	}
	return CommandTag(tag.String()), nil
}

func (c *pgxConnWrapper) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	r, err := c.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRowsWrapper{Rows: r}, nil
}

func (c *pgxConnWrapper) Begin(ctx context.Context, opts TxOptions) error {
	_, err := c.Conn.Exec(ctx, opts.beginSQL())
	return err
}

func (c *pgxConnWrapper) Commit(ctx context.Context) error {
	tag, err := c.Conn.Exec(ctx, "COMMIT")
	if err != nil {
		return err
	}
	if tag.String() == "ROLLBACK" {
		return pgx.ErrTxCommitRollback
	}
	return nil
}

func (c *pgxConnWrapper) Rollback(ctx context.Context) error {
	_, err := c.Conn.Exec(ctx, "ROLLBACK")
	return err
}

func (c *pgxConnWrapper) InTransaction() bool {
	return c.Conn.Conn().PgConn().TxStatus() != 'I'
}

// Release rolls back any transaction left open before the connection is
// handed back, otherwise pgxpool would destroy it.
func (c *pgxConnWrapper) Release(ctx context.Context) error {
	var err error
	if c.InTransaction() {
		_, err = c.Conn.Exec(ctx, "ROLLBACK")
	}
	c.Conn.Release()
	return err
}

type pgxRowsWrapper struct {
	pgx.Rows
}

func (r *pgxRowsWrapper) Columns() []string {
	fds := r.Rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = string(fd.Name)
	}
	return cols
}

// SQL returns a connector backed by database/sql and the lib/pq driver.
// maxConns limits the number of open connections, 0 means unlimited.
func SQL(dsn string, maxConns int) Connector {
	return &sqlConnector{dsn: dsn, maxConns: maxConns}
}

// FromSQLDB wraps an existing database/sql pool. Closing the resulting pool
// closes db.
func FromSQLDB(db *sql.DB) Connector {
	return &sqlConnector{db: db}
}

var (
	_ Connector = (*sqlConnector)(nil)
	_ ConnPool  = (*sqldbWrapper)(nil)
	_ Conn      = (*sqlConnWrapper)(nil)
	_ Rows      = (*sqlRowsWrapper)(nil)
)

type sqlConnector struct {
	db       *sql.DB
	dsn      string
	maxConns int
}

func (c *sqlConnector) String() string {
	if c.db != nil {
		return "database/sql"
	}
	return fmt.Sprintf("lib/pq max_conns=%d", c.maxConns)
}

func (c *sqlConnector) Connect(ctx context.Context) (ConnPool, error) {
	db := c.db
	if db == nil {
		connector, err := pq.NewConnector(c.dsn)
		if err != nil {
			return nil, err
		}
		db = sql.OpenDB(connector)
		db.SetMaxOpenConns(c.maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		if c.db == nil {
			db.Close()
		}
		return nil, err
	}
	return &sqldbWrapper{DB: db}, nil
}

type sqldbWrapper struct {
	*sql.DB
}

func (s *sqldbWrapper) Acquire(ctx context.Context) (Conn, error) {
	c, err := s.DB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConnWrapper{conn: c}, nil
}

func (s *sqldbWrapper) Close(ctx context.Context) error {
	return closeWithin(ctx, s.DB.Close)
}

func (s *sqldbWrapper) Stat() PoolStat {
	st := s.DB.Stats()
	return PoolStat{
		Acquired: st.InUse,
		Total:    st.OpenConnections,
		Max:      st.MaxOpenConnections,
	}
}

type sqlConnWrapper struct {
	conn *sql.Conn
	tx   *sql.Tx
}

func (c *sqlConnWrapper) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	var (
		res sql.Result
		err error
	)
	if c.tx != nil {
		res, err = c.tx.ExecContext(ctx, query, args...)
	} else {
		res, err = c.conn.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", nil
	}
	return CommandTag(strconv.FormatInt(n, 10)), nil
}

func (c *sqlConnWrapper) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if c.tx != nil {
		rows, err = c.tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = c.conn.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &sqlRowsWrapper{Rows: rows, columns: cols}, nil
}

var sqlIsolationLevels = map[IsolationLevel]sql.IsolationLevel{
	"":              sql.LevelDefault,
	ReadUncommitted: sql.LevelReadUncommitted,
	ReadCommitted:   sql.LevelReadCommitted,
	RepeatableRead:  sql.LevelRepeatableRead,
	Serializable:    sql.LevelSerializable,
}

// Begin starts a transaction whose lifetime is not bound to ctx;
// database/sql would otherwise roll it back as soon as ctx is done.
func (c *sqlConnWrapper) Begin(ctx context.Context, opts TxOptions) error {
	if c.tx != nil {
		return ErrAlreadyInTransaction
	}
	level, ok := sqlIsolationLevels[opts.Isolation]
	if !ok {
		return xerrors.Errorf("unknown isolation level %q", opts.Isolation)
	}
	tx, err := c.conn.BeginTx(context.WithoutCancel(ctx), &sql.TxOptions{
		Isolation: level,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return err
	}
	if opts.Deferrable {
		if _, err := tx.ExecContext(ctx, "SET TRANSACTION DEFERRABLE"); err != nil {
			tx.Rollback()
			return err
		}
	}
	c.tx = tx
	return nil
}

func (c *sqlConnWrapper) Commit(context.Context) error {
	if c.tx == nil {
		return ErrNotInTransaction
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *sqlConnWrapper) Rollback(context.Context) error {
	if c.tx == nil {
		return ErrNotInTransaction
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback()
}

// InTransaction tracks the transaction opened by Begin. Transaction control
// must go through Transaction or Transactional: a raw COMMIT or ROLLBACK sent
// with Execute is not observed.
func (c *sqlConnWrapper) InTransaction() bool {
	return c.tx != nil
}

func (c *sqlConnWrapper) Release(context.Context) error {
	var err error
	if c.tx != nil {
		err = c.tx.Rollback()
		c.tx = nil
	}
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

type sqlRowsWrapper struct {
	*sql.Rows
	columns []string
}

func (r *sqlRowsWrapper) Columns() []string {
	return r.columns
}

func (r *sqlRowsWrapper) Values() ([]any, error) {
	values := make([]any, len(r.columns))
	dest := make([]any, len(r.columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := r.Rows.Scan(dest...); err != nil {
		return nil, err
	}
	return values, nil
}

func (r *sqlRowsWrapper) Close() {
	r.Rows.Close()
}

// closeWithin runs closeFn and gives up waiting when ctx is done. A result
// already available wins over the context.
func closeWithin(ctx context.Context, closeFn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- closeFn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		select {
		case err := <-errCh:
			return err
		default:
			return ctx.Err()
		}
	}
}

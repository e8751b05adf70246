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
	"strings"
)

// IsolationLevel is the transaction isolation level.
type IsolationLevel string

// Isolation levels supported by PostgreSQL.
const (
	ReadUncommitted IsolationLevel = "read uncommitted"
	ReadCommitted   IsolationLevel = "read committed"
	RepeatableRead  IsolationLevel = "repeatable read"
	Serializable    IsolationLevel = "serializable"
)

// TxOptions configures a transaction.
type TxOptions struct {
	Isolation  IsolationLevel
	ReadOnly   bool
	Deferrable bool
}

func (o TxOptions) beginSQL() string {
	var sb strings.Builder
	sb.WriteString("BEGIN")
	if o.Isolation != "" {
		sb.WriteString(" ISOLATION LEVEL ")
		sb.WriteString(strings.ToUpper(string(o.Isolation)))
	}
	if o.ReadOnly {
		sb.WriteString(" READ ONLY")
	}
	if o.Deferrable {
		sb.WriteString(" DEFERRABLE")
	}
	return sb.String()
}

// TxOption reconfigures a transaction.
type TxOption func(*TxOptions)

// WithIsolation sets the isolation level. The default is ReadCommitted.
func WithIsolation(level IsolationLevel) TxOption {
	return func(o *TxOptions) { o.Isolation = level }
}

// ReadOnly makes the transaction read-only.
func ReadOnly() TxOption {
	return func(o *TxOptions) { o.ReadOnly = true }
}

// Deferrable makes the transaction deferrable. It only has effect on
// serializable read-only transactions.
func Deferrable() TxOption {
	return func(o *TxOptions) { o.Deferrable = true }
}

func newTxOptions(opts []TxOption) TxOptions {
	o := TxOptions{Isolation: ReadCommitted}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type txState int

const (
	txNotStarted txState = iota
	txStarted
	txCommitted
	txRolledBack
)

// Transaction is a transaction bound to the connection of a Client.
type Transaction struct {
	client *Client
	opts   TxOptions
	state  txState
}

// Transaction returns a transaction handle bound to the client's connection,
// acquiring the connection first if necessary. The transaction must be
// started with Start.
func (c *Client) Transaction(ctx context.Context, opts ...TxOption) (*Transaction, error) {
	if err := c.acquireIfNecessary(ctx); err != nil {
		return nil, err
	}
	return &Transaction{client: c, opts: newTxOptions(opts)}, nil
}

// Options returns the options the transaction was created with.
func (tx *Transaction) Options() TxOptions { return tx.opts }

// Start begins the transaction.
func (tx *Transaction) Start(ctx context.Context) error {
	if tx.state != txNotStarted {
		return ErrTransactionState
	}
	conn, err := tx.client.connection()
	if err != nil {
		return err
	}
	if conn.InTransaction() {
		return ErrAlreadyInTransaction
	}
	if err := conn.Begin(ctx, tx.opts); err != nil {
		return typedError(err, "cannot begin transaction")
	}
	tx.state = txStarted
	tx.client.log.Debug().Str("client", tx.client.id).Str("isolation", string(tx.opts.Isolation)).Msg("transaction started")
	return nil
}

// Commit commits the transaction.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.state != txStarted {
		return ErrTransactionState
	}
	conn, err := tx.client.connection()
	if err != nil {
		return err
	}
	tx.state = txCommitted
	if err := conn.Commit(ctx); err != nil {
		return typedError(err, "cannot commit transaction")
	}
	tx.client.log.Debug().Str("client", tx.client.id).Msg("transaction committed")
	return nil
}

// Rollback rolls back the transaction.
func (tx *Transaction) Rollback(ctx context.Context) error {
	if tx.state != txStarted {
		return ErrTransactionState
	}
	conn, err := tx.client.connection()
	if err != nil {
		return err
	}
	tx.state = txRolledBack
	if err := conn.Rollback(ctx); err != nil {
		return typedError(err, "cannot rollback transaction")
	}
	tx.client.log.Debug().Str("client", tx.client.id).Msg("transaction rolled back")
	return nil
}

// Transactional runs fn inside a transaction. If the client is already in a
// transaction, fn joins it and no new transaction is started. Otherwise a
// transaction is started, committed when fn returns nil, and rolled back when
// fn returns an error or panics.
func Transactional(ctx context.Context, c *Client, fn func(context.Context, *Client) error, opts ...TxOption) error {
	_, err := TransactionalValue(ctx, c, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, fn(ctx, c)
	}, opts...)
	return err
}

// TransactionalValue is like Transactional for functions which also return a
// value.
func TransactionalValue[T any](ctx context.Context, c *Client, fn func(context.Context, *Client) (T, error), opts ...TxOption) (T, error) {
	var zero T
	if c == nil {
		return zero, ErrNotAClient
	}
	if c.InTransaction() {
		return fn(ctx, c)
	}
	tx, err := c.Transaction(ctx, opts...)
	if err != nil {
		return zero, err
	}
	if err := tx.Start(ctx); err != nil {
		return zero, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := tx.Rollback(ctx); rerr != nil {
			c.log.Error().Err(rerr).Str("client", c.id).Msg("cannot rollback transaction")
		}
	}()
	v, err := fn(ctx, c)
	if err != nil {
		return zero, err
	}
	committed = true
	if err := tx.Commit(ctx); err != nil {
		return zero, err
	}
	return v, nil
}

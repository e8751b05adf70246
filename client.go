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
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Client is a lease on one connection of a Pool. It holds at most one
// connection at a time and is not safe for concurrent use.
//
// Statements acquire the connection lazily when the client does not hold one
// yet. The connection must be given back with Release or Close.
type Client struct {
	pool           *Pool
	id             string
	acquireTimeout time.Duration
	releaseTimeout time.Duration
	log            zerolog.Logger

	conn Conn
}

// ClientOption reconfigures the client.
type ClientOption func(*Client)

// WithAcquireTimeout bounds how long the client waits for a connection. Zero
// means no bound.
func WithAcquireTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.acquireTimeout = d }
}

// WithReleaseTimeout bounds how long the client waits for its connection to be
// given back. Zero means no bound.
func WithReleaseTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.releaseTimeout = d }
}

// WithLogger injects a logger into the client, so its internals can be
// recorded.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func newClient(p *Pool) *Client {
	return &Client{
		pool: p,
		id:   uuid.NewString(),
		log:  p.log,
	}
}

// ID identifies the client in log entries.
func (c *Client) ID() string { return c.id }

// IsConnected reports whether the client holds a connection.
func (c *Client) IsConnected() bool {
	return c.conn != nil
}

// InTransaction reports whether the client's connection is inside a
// transaction. The status is read from the connection itself.
func (c *Client) InTransaction() bool {
	return c.conn != nil && c.conn.InTransaction()
}

// Acquire takes a connection from the pool. It is an error to call it while
// the client already holds a connection.
func (c *Client) Acquire(ctx context.Context) error {
	if c.conn != nil {
		return ErrAlreadyAcquired
	}
	conn, err := c.pool.acquire(ctx, c.acquireTimeout)
	if err != nil {
		return err
	}
	c.conn = conn
	c.log.Debug().Str("client", c.id).Msg("client connected")
	return nil
}

// Release gives the connection back to the pool. The client no longer holds
// the connection afterwards, even when an error is returned.
func (c *Client) Release(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotAcquired
	}
	conn := c.conn
	c.conn = nil
	if err := c.pool.release(ctx, conn, c.releaseTimeout); err != nil {
		return err
	}
	c.log.Debug().Str("client", c.id).Msg("client disconnected")
	return nil
}

// Close releases the connection if the client holds one.
func (c *Client) Close(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	return c.Release(ctx)
}

func (c *Client) acquireIfNecessary(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	return c.Acquire(ctx)
}

func (c *Client) connection() (Conn, error) {
	if c.conn == nil {
		return nil, ErrNotAcquired
	}
	return c.conn, nil
}

func typedError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var (
		cv  *ContractViolationError
		te  *TimeoutError
		pge *pgconn.PgError
		pqe *pq.Error
		ope *net.OpError
	)
	switch {
	case errors.As(err, &cv), errors.As(err, &te):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{xerrors.Errorf(msg+": %w", err)}
	case errors.As(err, &pge):
		return classifyCode(err, msg, pge.Code, pge.ConstraintName)
	case errors.As(err, &pqe):
		return classifyCode(err, msg, string(pqe.Code), pqe.Constraint)
	case errors.As(err, &ope):
		return &UnavailableError{xerrors.Errorf(msg+": %w", err)}
	}
	return &OtherError{xerrors.Errorf(msg+": %w", err)}
}

func classifyCode(err error, msg, code, constraint string) error {
	const (
		serializationErrorCode    = "40001"
		uniqueViolationErrorCode  = "23505"
		integrityConstraintsClass = "23"
	)
	wrapped := xerrors.Errorf(msg+": %w", err)
	switch {
	case code == serializationErrorCode:
		return &FailedPreconditionError{wrapped}
	case code == uniqueViolationErrorCode:
		return &UniqueViolationError{&ConstraintViolationError{wrapped, code, constraint}}
	case strings.HasPrefix(code, integrityConstraintsClass):
		return &ConstraintViolationError{wrapped, code, constraint}
	}
	return &OtherError{wrapped}
}

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
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Pool is a connection pool with an explicit open/close lifecycle. It is
// created closed. A Pool is safe for concurrent use; the clients it hands out
// are not.
type Pool struct {
	connector    Connector
	closeTimeout time.Duration
	clientOpts   []ClientOption
	log          zerolog.Logger

	mu   sync.RWMutex
	pool ConnPool
}

// PoolOption reconfigures the pool.
type PoolOption func(*Pool)

// WithCloseTimeout bounds how long Close waits for the connections to be
// closed. Zero means no bound.
func WithCloseTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.closeTimeout = d }
}

// WithPoolLogger injects a logger into the pool. Clients created by the pool
// inherit it.
func WithPoolLogger(l zerolog.Logger) PoolOption {
	return func(p *Pool) { p.log = l }
}

// WithClientDefaults sets options applied to every client created by
// Acquire, before the options given to Acquire itself.
func WithClientDefaults(opts ...ClientOption) PoolOption {
	return func(p *Pool) { p.clientOpts = append(p.clientOpts, opts...) }
}

// NewPool returns a closed pool which connects through connector.
func NewPool(connector Connector, opts ...PoolOption) *Pool {
	p := &Pool{
		connector: connector,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsOpen reports whether the pool has been opened and not closed since.
func (p *Pool) IsOpen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool != nil
}

// Open connects the pool. Opening an open pool is an error.
func (p *Pool) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return ErrPoolAlreadyOpen
	}
	if p.connector == nil {
		return &ContractViolationError{errNoConnector}
	}
	pool, err := p.connector.Connect(ctx)
	if err != nil {
		p.log.Error().Err(err).Stringer("options", p.connector).Msg("cannot open connection pool")
		return typedError(err, "cannot open connection pool")
	}
	p.pool = pool
	p.log.Debug().Stringer("options", p.connector).Msg("opened connection pool")
	return nil
}

// Close closes the pool, waiting at most the configured close timeout, or
// until ctx is done when there is no close timeout. The
// pool is considered closed afterwards even if an error is returned.
// Connections still leased can be released while Close waits.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	pool := p.pool
	p.pool = nil
	p.mu.Unlock()
	if pool == nil {
		return ErrPoolNotOpen
	}
	if p.closeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), p.closeTimeout)
		defer cancel()
	}
	if err := pool.Close(ctx); err != nil {
		p.log.Error().Err(err).Stringer("options", p.connector).Dur("close_timeout", p.closeTimeout).Msg("cannot close connection pool")
		return typedError(err, "cannot close connection pool")
	}
	p.log.Debug().Stringer("options", p.connector).Dur("close_timeout", p.closeTimeout).Msg("closed connection pool")
	return nil
}

// Stat reports the connection usage of the pool.
func (p *Pool) Stat() (PoolStat, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pool == nil {
		return PoolStat{}, ErrPoolNotOpen
	}
	return p.pool.Stat(), nil
}

// Acquire returns a new client bound to this pool. The client acquires its
// connection lazily, on the first statement, or explicitly with
// Client.Acquire. It must be closed once done.
func (p *Pool) Acquire(opts ...ClientOption) *Client {
	c := newClient(p)
	for _, opt := range p.clientOpts {
		opt(c)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs fn with a client from the pool and releases its connection when fn
// returns. A release failure does not mask the error returned by fn.
func (p *Pool) Do(ctx context.Context, fn func(context.Context, *Client) error, opts ...ClientOption) (err error) {
	c := p.Acquire(opts...)
	defer func() {
		cerr := c.Close(ctx)
		if cerr == nil {
			return
		}
		if err != nil {
			c.log.Error().Err(cerr).Str("client", c.id).Msg("cannot release connection after failure")
			return
		}
		err = cerr
	}()
	return fn(ctx, c)
}

func (p *Pool) acquire(ctx context.Context, timeout time.Duration) (Conn, error) {
	p.mu.RLock()
	pool := p.pool
	p.mu.RUnlock()
	if pool == nil {
		return nil, ErrPoolNotOpen
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		p.log.Error().Err(err).Interface("stat", pool.Stat()).Dur("acquire_timeout", timeout).Msg("cannot acquire connection")
		return nil, typedError(err, "cannot acquire connection")
	}
	p.log.Debug().Interface("stat", pool.Stat()).Dur("acquire_timeout", timeout).Msg("acquired connection")
	return conn, nil
}

// release does not require the pool to be open so that leases can be given
// back while Close drains the connections. It is bounded by timeout only:
// the caller's cancellation does not interrupt it.
func (p *Pool) release(ctx context.Context, conn Conn, timeout time.Duration) error {
	ctx = context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := closeWithin(ctx, func() error { return conn.Release(ctx) })
	if err != nil {
		p.log.Error().Err(err).Stringer("options", p.connector).Dur("release_timeout", timeout).Msg("cannot release connection")
		return typedError(err, "cannot release connection")
	}
	p.log.Debug().Stringer("options", p.connector).Dur("release_timeout", timeout).Msg("released connection")
	return nil
}

var errNoConnector = xerrors.New("pool has no connector")

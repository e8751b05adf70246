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
	"fmt"
	"strconv"
	"strings"
)

// Connector knows how to create a connection pool. Its String method
// describes the connection options for logging and must not leak
// credentials.
type Connector interface {
	fmt.Stringer
	Connect(ctx context.Context) (ConnPool, error)
}

// ConnPool is a group of driver connections.
type ConnPool interface {
	Acquire(ctx context.Context) (Conn, error)
	Close(ctx context.Context) error
	Stat() PoolStat
}

// PoolStat is a snapshot of the connection usage of a pool.
type PoolStat struct {
	Acquired int
	Total    int
	Max      int
}

// Conn is one driver connection, leased from a ConnPool.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) (CommandTag, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Begin(ctx context.Context, opts TxOptions) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// InTransaction reports the live transaction status of the connection.
	InTransaction() bool
	// Release gives the connection back to its pool.
	Release(ctx context.Context) error
}

// Rows is a forward-only cursor over a result set. Close must be called
// once iteration is done.
type Rows interface {
	Columns() []string
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// CommandTag is the completion report of a statement, such as "INSERT 0 2".
type CommandTag string

// RowsAffected parses the row count out of the last word of the tag. It
// returns 0 when the tag carries no count.
func (t CommandTag) RowsAffected() int64 {
	fields := strings.Fields(string(t))
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

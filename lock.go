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
	"encoding/binary"

	"github.com/zeebo/blake3"
	"golang.org/x/xerrors"
)

// LockKey derives an advisory lock key from a name, so that unrelated
// components can agree on a key without coordinating integers.
func LockKey(name string) int64 {
	sum := blake3.Sum256([]byte(name))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// TryTransactionLock attempts to take the transaction-level advisory lock
// identified by key, without waiting. Shared locks can be held by many
// transactions at once; an exclusive lock conflicts with any other holder.
// The lock is released when the transaction ends. It must be called inside a
// transaction.
func (c *Client) TryTransactionLock(ctx context.Context, key int64, exclusive bool) (bool, error) {
	query := "SELECT pg_try_advisory_xact_lock_shared(:key)"
	if exclusive {
		query = "SELECT pg_try_advisory_xact_lock(:key)"
	}
	return c.transactionLock(ctx, query, key)
}

// TransactionLock is like TryTransactionLock but waits until the lock is
// available or ctx is done.
func (c *Client) TransactionLock(ctx context.Context, key int64, exclusive bool) error {
	query := "SELECT pg_advisory_xact_lock_shared(:key) IS NULL"
	if exclusive {
		query = "SELECT pg_advisory_xact_lock(:key) IS NULL"
	}
	_, err := c.transactionLock(ctx, query, key)
	return err
}

func (c *Client) transactionLock(ctx context.Context, query string, key int64) (bool, error) {
	if !c.InTransaction() {
		return false, ErrNotInTransaction
	}
	v, found, err := c.GetScalar(ctx, query, Args{"key": key})
	if err != nil {
		return false, xerrors.Errorf("cannot take advisory lock %d: %w", key, err)
	}
	locked, _ := v.(bool)
	c.log.Debug().Str("client", c.id).Int64("key", key).Bool("locked", locked).Msg("advisory lock")
	return found && locked, nil
}

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
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestTypedError(t *testing.T) {
	errs := []struct {
		err  error
		kind any
	}{
		{fmt.Errorf("random error"), &OtherError{}},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, &UnavailableError{}},
		{&pq.Error{}, &OtherError{}},
		{&pq.Error{Code: "40001"}, &FailedPreconditionError{}},
		{&pq.Error{Code: "23505", Constraint: "organization_name_key"}, &UniqueViolationError{}},
		{&pq.Error{Code: "23503"}, &ConstraintViolationError{}},
		{&pgconn.PgError{Code: "40001"}, &FailedPreconditionError{}},
		{&pgconn.PgError{Code: "23505"}, &UniqueViolationError{}},
		{&pgconn.PgError{Code: "23502", ConstraintName: "x"}, &ConstraintViolationError{}},
		{fmt.Errorf("acquire: %w", context.DeadlineExceeded), &TimeoutError{}},
		{ErrPoolNotOpen, &ContractViolationError{}},
	}
	for _, tt := range errs {
		got := typedError(tt.err, "test")
		assert.IsType(t, tt.kind, got, "%v", tt.err)
		assert.ErrorIs(t, got, tt.err)
	}
	assert.NoError(t, typedError(nil, "test"))
}

func TestTypedErrorKeepsConstraint(t *testing.T) {
	err := typedError(&pgconn.PgError{Code: "23505", ConstraintName: "organization_name_key"}, "cannot insert")
	var uv *UniqueViolationError
	if assert.True(t, errors.As(err, &uv)) {
		assert.Equal(t, "23505", uv.Code)
		assert.Equal(t, "organization_name_key", uv.Constraint)
	}
	var cv *ConstraintViolationError
	assert.True(t, errors.As(err, &cv))
}

func TestCommandTag(t *testing.T) {
	tests := []struct {
		tag  CommandTag
		want int64
	}{
		{"INSERT 0 5", 5},
		{"UPDATE 3", 3},
		{"DELETE 0", 0},
		{"CREATE TABLE", 0},
		{"", 0},
		{"7", 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.tag.RowsAffected(), "%q", tt.tag)
	}
}

func TestBeginSQL(t *testing.T) {
	assert.Equal(t, "BEGIN ISOLATION LEVEL READ COMMITTED", newTxOptions(nil).beginSQL())
	assert.Equal(t, "BEGIN ISOLATION LEVEL SERIALIZABLE READ ONLY DEFERRABLE",
		newTxOptions([]TxOption{WithIsolation(Serializable), ReadOnly(), Deferrable()}).beginSQL())
	assert.Equal(t, "BEGIN", TxOptions{}.beginSQL())
}

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
	"fmt"

	"golang.org/x/xerrors"
)

// ContractViolationError is an error wrapper that gives the ContractViolation
// kind to an error. It flags programming errors: they are never retried.
type ContractViolationError struct {
	error
}

// Unwrap returns the next error in the error chain.
func (err *ContractViolationError) Unwrap() error {
	return err.error
}

func (err *ContractViolationError) Error() string {
	return fmt.Sprintf("contract violation: %s", err.error)
}

// TimeoutError is an error wrapper that gives the Timeout kind to an error.
type TimeoutError struct {
	error
}

// Unwrap returns the next error in the error chain.
func (err *TimeoutError) Unwrap() error {
	return err.error
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s", err.error)
}

// ConstraintViolationError is an error wrapper that gives the
// ConstraintViolation kind to an error. Constraint is the name of the violated
// constraint as reported by the server, if any.
type ConstraintViolationError struct {
	error
	Code       string
	Constraint string
}

// Unwrap returns the next error in the error chain.
func (err *ConstraintViolationError) Unwrap() error {
	return err.error
}

func (err *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation: %s", err.error)
}

// UniqueViolationError is a ConstraintViolationError raised by unique indexes
// and primary keys.
type UniqueViolationError struct {
	*ConstraintViolationError
}

// Unwrap returns the next error in the error chain.
func (err *UniqueViolationError) Unwrap() error {
	return err.ConstraintViolationError
}

func (err *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique violation: %s", err.ConstraintViolationError.error)
}

// ShapeViolationError is returned when a query returns rows whose shape does
// not fit the call, for example more than one column for a scalar read.
type ShapeViolationError struct {
	error
	SQL  string
	Args []any
}

// Unwrap returns the next error in the error chain.
func (err *ShapeViolationError) Unwrap() error {
	return err.error
}

func (err *ShapeViolationError) Error() string {
	return fmt.Sprintf("%s: sql=%q args=%v", err.error, err.SQL, err.Args)
}

// MissingParameterError is returned when a named parameter referenced by a
// statement has no value.
type MissingParameterError struct {
	Name string
}

func (err *MissingParameterError) Error() string {
	return fmt.Sprintf("missing value for parameter :%s", err.Name)
}

// UnavailableError is an error wrapper that gives the Unavailable kind to an
// error.
type UnavailableError struct {
	error
}

// Unwrap returns the next error in the error chain.
func (err *UnavailableError) Unwrap() error {
	return err.error
}

func (err *UnavailableError) Error() string {
	return fmt.Sprintf("unavailable: %s", err.error)
}

// FailedPreconditionError is an error wrapper that gives the FailedPrecondition
// kind to an error. Serialization failures are reported with this kind.
type FailedPreconditionError struct {
	error
}

// Unwrap returns the next error in the error chain.
func (err *FailedPreconditionError) Unwrap() error {
	return err.error
}

func (err *FailedPreconditionError) Error() string {
	return fmt.Sprintf("failed precondition: %s", err.error)
}

// OtherError is an error wrapper that gives the Other kind to an error.
type OtherError struct {
	error
}

// Unwrap returns the next error in the error chain.
func (err *OtherError) Unwrap() error {
	return err.error
}

func (err *OtherError) Error() string {
	return err.error.Error()
}

// Lifecycle errors.
var (
	ErrPoolAlreadyOpen      = &ContractViolationError{xerrors.New("pool is already open")}
	ErrPoolNotOpen          = &ContractViolationError{xerrors.New("pool is not open")}
	ErrAlreadyAcquired      = &ContractViolationError{xerrors.New("client already holds a connection")}
	ErrNotAcquired          = &ContractViolationError{xerrors.New("client does not hold a connection")}
	ErrNotInTransaction     = &ContractViolationError{xerrors.New("not in a transaction")}
	ErrAlreadyInTransaction = &ContractViolationError{xerrors.New("already in a transaction")}
	ErrTransactionState     = &ContractViolationError{xerrors.New("invalid transaction state")}
	ErrNotAClient           = &ContractViolationError{xerrors.New("transactional function called without a client")}
)

// ErrNothingToInsert is returned by insert statements which have neither
// columns nor objects.
var ErrNothingToInsert = xerrors.New("nothing to insert: value providers not found")

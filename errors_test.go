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
	"errors"
	"testing"

	"golang.org/x/xerrors"
)

func TestErrorKind(t *testing.T) {
	baseErr := xerrors.New("base error")

	wrappers := []error{
		&ContractViolationError{baseErr},
		&TimeoutError{baseErr},
		&ConstraintViolationError{error: baseErr},
		&UniqueViolationError{&ConstraintViolationError{error: baseErr}},
		&ShapeViolationError{error: baseErr, SQL: "SELECT 1, 2"},
		&UnavailableError{baseErr},
		&FailedPreconditionError{baseErr},
		&OtherError{baseErr},
	}
	for _, err := range wrappers {
		if !xerrors.Is(err, baseErr) {
			t.Errorf("cannot unwrap error for %T", err)
		}
		t.Logf("%T is %q", err, err)
	}

	var cv *ConstraintViolationError
	if !errors.As(wrappers[3], &cv) {
		t.Error("UniqueViolationError must also be a ConstraintViolationError")
	}
	if got := (&MissingParameterError{Name: "b"}).Error(); got != "missing value for parameter :b" {
		t.Errorf("unexpected missing parameter message: %q", got)
	}
}

func TestLifecycleErrorsAreContractViolations(t *testing.T) {
	for _, err := range []error{
		ErrPoolAlreadyOpen,
		ErrPoolNotOpen,
		ErrAlreadyAcquired,
		ErrNotAcquired,
		ErrNotInTransaction,
		ErrAlreadyInTransaction,
		ErrTransactionState,
		ErrNotAClient,
	} {
		var cv *ContractViolationError
		if !errors.As(err, &cv) {
			t.Errorf("%v is not a contract violation", err)
		}
	}
}

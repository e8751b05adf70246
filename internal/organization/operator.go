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

package organization

import (
	"context"

	"cirello.io/pgdb"
	"golang.org/x/xerrors"
)

// ErrOperatorNotFound is returned when no operator matches a lookup.
var ErrOperatorNotFound = xerrors.New("operator not found")

// Operator is a person acting on behalf of an organization. An Operator with
// a zero ID has not been stored yet.
type Operator struct {
	ID             int64  `db:"id,omitempty" json:"id"`
	OrganizationID int64  `db:"organization_id" json:"organization_id"`
	Name           string `db:"name" json:"name"`
	Mobile         string `db:"mobile" json:"mobile"`
	PasswordHash   string `db:"password_hash" json:"-"`
	IsAdmin        bool   `db:"is_admin" json:"is_admin"`
	Active         bool   `db:"active" json:"active"`
}

// Identifiable reports whether the operator has been stored.
func (o Operator) Identifiable() bool { return o.ID > 0 }

const operatorColumns = "id, organization_id, name, mobile, password_hash, is_admin, active"

// CreateOperator stores op and returns it as stored.
func CreateOperator(ctx context.Context, c *pgdb.Client, op Operator) (Operator, error) {
	if op.Identifiable() {
		return Operator{}, xerrors.Errorf("operator %d is already stored", op.ID)
	}
	stored, err := pgdb.InsertRecords[Operator](ctx, c, pgdb.InsertInto("operator").
		Objects([]Operator{op}).
		ReturningRecord(operatorColumns))
	if err != nil {
		return Operator{}, err
	}
	if len(stored) != 1 {
		return Operator{}, xerrors.Errorf("expected one stored operator, got %d", len(stored))
	}
	return stored[0], nil
}

// OperatorByMobile returns the operator of an organization registered with
// mobile, preferring an active one.
func OperatorByMobile(ctx context.Context, c *pgdb.Client, organizationID int64, mobile string) (Operator, error) {
	return getOperator(ctx, c, `
		SELECT `+operatorColumns+` FROM operator
		WHERE organization_id = :organization_id AND mobile = :mobile
		ORDER BY active DESC LIMIT 1`,
		pgdb.Args{"organization_id": organizationID, "mobile": mobile})
}

// OperatorByID returns the operator identified by id.
func OperatorByID(ctx context.Context, c *pgdb.Client, id int64) (Operator, error) {
	return getOperator(ctx, c, "SELECT "+operatorColumns+" FROM operator WHERE id = :id", pgdb.Args{"id": id})
}

func getOperator(ctx context.Context, c *pgdb.Client, query string, args pgdb.Args) (Operator, error) {
	op, found, err := pgdb.Get[Operator](ctx, c, query, args)
	if err != nil {
		return Operator{}, err
	}
	if !found {
		return Operator{}, ErrOperatorNotFound
	}
	return op, nil
}

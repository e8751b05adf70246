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

// Package organization stores organizations and their operators.
package organization

import (
	"context"
	"errors"
	"fmt"

	"cirello.io/pgdb"
	"golang.org/x/xerrors"
)

// Domain errors.
var (
	ErrNotFound        = xerrors.New("organization not found")
	ErrNameAlreadyUsed = xerrors.New("organization name already used")
)

// Organization is a tenant of the service.
type Organization struct {
	ID   int64  `db:"id,omitempty" json:"id"`
	Name string `db:"name" json:"name"`
}

// List returns every organization ordered by id.
func List(ctx context.Context, c *pgdb.Client) ([]Organization, error) {
	return pgdb.List[Organization](ctx, c, "SELECT id, name FROM organization ORDER BY id", nil)
}

// Get returns the organization identified by id.
func Get(ctx context.Context, c *pgdb.Client, id int64) (Organization, error) {
	org, found, err := pgdb.Get[Organization](ctx, c, "SELECT id, name FROM organization WHERE id = :id", pgdb.Args{"id": id})
	if err != nil {
		return Organization{}, err
	}
	if !found {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

// Create stores a new organization named name.
func Create(ctx context.Context, c *pgdb.Client, name string) (Organization, error) {
	return pgdb.TransactionalValue(ctx, c, func(ctx context.Context, c *pgdb.Client) (Organization, error) {
		org, _, err := pgdb.InsertRecord[Organization](ctx, c, pgdb.InsertInto("organization").
			Value("name", name).
			ReturningRecord("id", "name"))
		if err != nil {
			return Organization{}, nameError(err)
		}
		return org, nil
	})
}

// Update renames the organization identified by id.
func Update(ctx context.Context, c *pgdb.Client, id int64, name string) error {
	return pgdb.Transactional(ctx, c, func(ctx context.Context, c *pgdb.Client) error {
		n, err := c.Execute(ctx, "UPDATE organization SET name = :name WHERE id = :id", pgdb.Args{"id": id, "name": name})
		if err != nil {
			return nameError(err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Delete removes the organization identified by id.
func Delete(ctx context.Context, c *pgdb.Client, id int64) error {
	return pgdb.Transactional(ctx, c, func(ctx context.Context, c *pgdb.Client) error {
		n, err := c.Execute(ctx, "DELETE FROM organization WHERE id = :id", pgdb.Args{"id": id})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func nameError(err error) error {
	var uv *pgdb.UniqueViolationError
	if errors.As(err, &uv) {
		return fmt.Errorf("%w: %w", ErrNameAlreadyUsed, err)
	}
	return err
}

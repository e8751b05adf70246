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

// Package pgdb provides a thin layer over PostgreSQL drivers: a connection
// pool with an explicit lifecycle, leases on its connections, SQL written with
// named parameters, an INSERT builder and composable transactions.
//
// Basic usage:
//
//	connector, err := pgdb.ParsePGX(*dsn)
//	if err != nil {
//		log.Fatal("cannot parse connection string:", err)
//	}
//	pool := pgdb.NewPool(connector, pgdb.WithCloseTimeout(7*time.Second))
//	if err := pool.Open(ctx); err != nil {
//		log.Fatal("cannot open pool:", err)
//	}
//	defer pool.Close(ctx)
//	err = pool.Do(ctx, func(ctx context.Context, c *pgdb.Client) error {
//		id, _, err := pgdb.InsertID[int64](ctx, c, pgdb.InsertInto("organization").
//			Value("name", "Org#1").
//			ReturningID())
//		if err != nil {
//			return err
//		}
//		name, _, err := pgdb.GetScalar[string](ctx, c,
//			"SELECT name FROM organization WHERE id = :id", pgdb.Args{"id": id})
//		log.Println(name)
//		return err
//	})
//
// Transactional composes: a function that needs a transaction wraps its body
// with it, and joins the caller's transaction when there is one.
//
//	func rename(ctx context.Context, c *pgdb.Client, id int64, name string) error {
//		return pgdb.Transactional(ctx, c, func(ctx context.Context, c *pgdb.Client) error {
//			_, err := c.Execute(ctx, "UPDATE organization SET name = :name WHERE id = :id",
//				pgdb.Args{"id": id, "name": name})
//			return err
//		})
//	}
package pgdb // import "cirello.io/pgdb"

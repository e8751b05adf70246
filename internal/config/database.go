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

package config

import (
	"fmt"

	"cirello.io/pgdb"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// Connector returns the database connector selected by DB_DRIVER.
func (d Database) Connector() (pgdb.Connector, error) {
	switch d.Driver {
	case "", "pgx":
		pc, err := pgxpool.ParseConfig(d.URL)
		if err != nil {
			return nil, &ConfigError{
				Type:    ErrParsing,
				Message: "cannot parse DATABASE_URL",
				Err:     err,
			}
		}
		pc.MinConns = d.MinConns
		pc.MaxConns = d.MaxConns
		return pgdb.PGX(pc), nil
	case "postgres":
		return pgdb.SQL(d.URL, int(d.MaxConns)), nil
	}
	return nil, &ConfigError{
		Type:    ErrValidation,
		Message: fmt.Sprintf("unknown database driver %q", d.Driver),
	}
}

// Pool returns a closed pool whose clients use the configured timeouts.
func (d Database) Pool(log zerolog.Logger) (*pgdb.Pool, error) {
	connector, err := d.Connector()
	if err != nil {
		return nil, err
	}
	return pgdb.NewPool(connector,
		pgdb.WithCloseTimeout(d.CloseTimeout),
		pgdb.WithPoolLogger(log),
		pgdb.WithClientDefaults(
			pgdb.WithAcquireTimeout(d.AcquireTimeout),
			pgdb.WithReleaseTimeout(d.ReleaseTimeout),
		),
	), nil
}

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

package migration

import (
	"context"
	"time"

	"cirello.io/pgdb"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// TableName is the bookkeeping table of applied migrations.
const TableName = "database_migration"

// createTable refuses overlapping (from_version, to_version] ranges, so two
// concurrent runs cannot both record the same versions.
const createTable = `
	CREATE TABLE IF NOT EXISTS ` + TableName + ` (
		id INT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		from_version INT NOT NULL,
		to_version INT NOT NULL,
		migrated_at TIMESTAMP WITH TIME ZONE NOT NULL,

		CHECK (to_version > from_version),
		EXCLUDE USING GIST (NUMRANGE(from_version, to_version, '(]') WITH &&)
	)`

const currentVersionQuery = `SELECT to_version FROM ` + TableName + ` ORDER BY id DESC LIMIT 1`

// ErrConcurrentMigration is returned when another run recorded a migration
// between the version check and the application of the scripts.
var ErrConcurrentMigration = xerrors.New("database migrated concurrently")

// Migrator applies the pending scripts of a Locker.
type Migrator struct {
	locker     *Locker
	log        zerolog.Logger
	checkLocks bool
	now        func() time.Time
}

// Option reconfigures the migrator.
type Option func(*Migrator)

// WithLogger injects a logger into the migrator.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Migrator) { m.log = l }
}

// SkipLockCheck disables the integrity checks run before migrating. Meant
// for development databases, where scripts are still being written.
func SkipLockCheck() Option {
	return func(m *Migrator) { m.checkLocks = false }
}

// NewMigrator returns a migrator for the scripts of locker.
func NewMigrator(locker *Locker, opts ...Option) *Migrator {
	m := &Migrator{
		locker:     locker,
		log:        zerolog.Nop(),
		checkLocks: true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result describes a migration run.
type Result struct {
	FromVersion int
	ToVersion   int
}

// Applied reports whether any script was applied.
func (r Result) Applied() bool { return r.ToVersion > r.FromVersion }

// Migrate brings the database up to the latest script version. The pending
// scripts are applied in ascending order inside one transaction, together
// with the bookkeeping record; either all of them are applied or none is.
func (m *Migrator) Migrate(ctx context.Context, pool *pgdb.Pool) (Result, error) {
	if m.checkLocks {
		if err := m.locker.Check(); err != nil {
			return Result{}, err
		}
	}
	var current int
	err := pool.Do(ctx, func(ctx context.Context, c *pgdb.Client) error {
		if _, err := c.ExecuteScript(ctx, createTable); err != nil {
			return xerrors.Errorf("cannot create migration table: %w", err)
		}
		var err error
		current, err = currentVersion(ctx, c)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	scripts, err := m.locker.LoadVersions(current)
	if err != nil {
		return Result{}, err
	}
	result := Result{FromVersion: current, ToVersion: current}
	if len(scripts) == 0 {
		m.log.Info().Int("version", current).Msg("no scripts to migrate")
		return result, nil
	}
	result.ToVersion = scripts[len(scripts)-1].Version
	m.log.Info().Int("from_version", result.FromVersion).Int("to_version", result.ToVersion).Msg("migrating database")
	err = pool.Do(ctx, func(ctx context.Context, c *pgdb.Client) error {
		return pgdb.Transactional(ctx, c, func(ctx context.Context, c *pgdb.Client) error {
			return m.apply(ctx, c, result, scripts)
		})
	})
	if err != nil {
		return Result{FromVersion: current, ToVersion: current}, err
	}
	m.log.Info().Int("from_version", result.FromVersion).Int("to_version", result.ToVersion).Msg("migrated database")
	return result, nil
}

func (m *Migrator) apply(ctx context.Context, c *pgdb.Client, result Result, scripts []Script) error {
	if err := c.TransactionLock(ctx, pgdb.LockKey(TableName), true); err != nil {
		return err
	}
	current, err := currentVersion(ctx, c)
	if err != nil {
		return err
	}
	if current != result.FromVersion {
		return xerrors.Errorf("expected version %d, found %d: %w", result.FromVersion, current, ErrConcurrentMigration)
	}
	for _, s := range scripts {
		content, err := m.locker.Read(s)
		if err != nil {
			return err
		}
		m.log.Info().Int("version", s.Version).Str("script", s.Path).Msg("applying version")
		if _, err := c.ExecuteScript(ctx, content); err != nil {
			return xerrors.Errorf("cannot apply %s: %w", s.Path, err)
		}
	}
	_, err = c.Insert(ctx, pgdb.InsertInto(TableName).
		Value("from_version", result.FromVersion).
		Value("to_version", result.ToVersion).
		Value("migrated_at", m.now().UTC()))
	if err != nil {
		return xerrors.Errorf("cannot record migration: %w", err)
	}
	return nil
}

func currentVersion(ctx context.Context, c *pgdb.Client) (int, error) {
	v, _, err := pgdb.GetScalar[int](ctx, c, currentVersionQuery, nil)
	if err != nil {
		return 0, xerrors.Errorf("cannot read current version: %w", err)
	}
	return v, nil
}

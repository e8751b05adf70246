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

// Command fas serves the organization API and manages its database.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cirello.io/pgdb"
	"cirello.io/pgdb/internal/api"
	"cirello.io/pgdb/internal/config"
	"cirello.io/pgdb/internal/logging"
	"cirello.io/pgdb/migration"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	var app application
	rootCmd := &cobra.Command{
		Use:           "fas",
		Short:         "fas serves organizations over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return app.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			app.teardown()
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.serve(cmd.Context())
		},
	})

	var skipLockCheck bool
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the database schema",
	}
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the pending migration scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.migrate(cmd.Context(), skipLockCheck)
		},
	}
	migrateCmd.Flags().BoolVar(&skipLockCheck, "skip-lock-check", false, "apply scripts that are not locked yet (development only)")
	dbCmd.AddCommand(migrateCmd,
		&cobra.Command{
			Use:   "lock-scripts",
			Short: "Lock the migration scripts which are not locked yet",
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := migration.New(app.cfg.MigrationDir).LockScripts()
				if err != nil {
					return err
				}
				app.log.Info().Int("locked", n).Str("dir", app.cfg.MigrationDir).Msg("locked migration scripts")
				return nil
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Verify that every migration script is locked and unchanged",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migration.New(app.cfg.MigrationDir).Check()
			},
		},
	)
	rootCmd.AddCommand(dbCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fas %s (commit: %s)\n", version, commit)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if app.closer != nil {
			app.log.Error().Err(err).Msg("fas failed")
		} else {
			fmt.Fprintln(os.Stderr, "fas:", err)
		}
		app.teardown()
		stop()
		os.Exit(1)
	}
}

type application struct {
	cfg    *config.Config
	log    zerolog.Logger
	closer interface{ Close() error }
}

func (app *application) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app.cfg = cfg
	app.log, app.closer = logging.New(cfg.Log, os.Stdout)
	return nil
}

func (app *application) teardown() {
	if app.closer != nil {
		app.closer.Close()
	}
}

// openPool opens the configured pool; the returned function closes it.
func (app *application) openPool(ctx context.Context) (*pgdb.Pool, func(), error) {
	pool, err := app.cfg.Database.Pool(app.log)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Open(ctx); err != nil {
		return nil, nil, err
	}
	return pool, func() {
		if err := pool.Close(context.WithoutCancel(ctx)); err != nil {
			app.log.Error().Err(err).Msg("cannot close connection pool")
		}
	}, nil
}

func (app *application) migrate(ctx context.Context, skipLockCheck bool) error {
	pool, closePool, err := app.openPool(ctx)
	if err != nil {
		return err
	}
	defer closePool()
	opts := []migration.Option{migration.WithLogger(app.log)}
	if skipLockCheck {
		opts = append(opts, migration.SkipLockCheck())
	}
	_, err = migration.NewMigrator(migration.New(app.cfg.MigrationDir), opts...).Migrate(ctx, pool)
	return err
}

func (app *application) serve(ctx context.Context) error {
	pool, closePool, err := app.openPool(ctx)
	if err != nil {
		return err
	}
	defer closePool()
	srv := &http.Server{
		Addr:    app.cfg.HTTP.Addr,
		Handler: api.New(pool, app.log),
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.log.Info().Str("addr", srv.Addr).Str("version", version).Msg("serving")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		app.log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

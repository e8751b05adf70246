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

// Package config loads the service configuration from the environment.
//
// Values come, in order of precedence, from the process environment and from
// a .env file in the working directory.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the service configuration.
type Config struct {
	Env string `envconfig:"APP_ENV" default:"dev" validate:"oneof=dev test prod"`

	Database Database
	HTTP     HTTP
	Log      Log

	MigrationDir string `envconfig:"MIGRATION_DIR" default:"db" validate:"required"`
}

// Database configures the connection pool.
type Database struct {
	URL            string        `envconfig:"DATABASE_URL" validate:"required"`
	Driver         string        `envconfig:"DB_DRIVER" default:"pgx" validate:"oneof=pgx postgres"`
	MinConns       int32         `envconfig:"DB_MIN_CONNS" default:"2" validate:"gte=0,ltefield=MaxConns"`
	MaxConns       int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	AcquireTimeout time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"1s" validate:"gte=0"`
	ReleaseTimeout time.Duration `envconfig:"DB_RELEASE_TIMEOUT" default:"3s" validate:"gte=0"`
	CloseTimeout   time.Duration `envconfig:"DB_CLOSE_TIMEOUT" default:"7s" validate:"gte=0"`
}

// HTTP configures the API server.
type HTTP struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s" validate:"gte=0"`
}

// Log configures logging.
type Log struct {
	Level string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	File  string `envconfig:"LOG_FILE"`
}

// IsDev reports whether the service runs in a development environment.
func (c *Config) IsDev() bool { return c.Env == "dev" || c.Env == "test" }

// ConfigErrorType classifies configuration errors.
type ConfigErrorType string

// Configuration error types.
const (
	ErrParsing    ConfigErrorType = "parsing"
	ErrValidation ConfigErrorType = "validation"
)

// ConfigError is returned by Load.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads and validates the configuration. A missing .env file is not an
// error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return process()
}

func process() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "cannot process environment configuration",
			Err:     err,
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return &cfg, nil
}

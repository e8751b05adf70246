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

// Package logging builds the service logger.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"cirello.io/pgdb/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings of the log file.
const (
	MaxSizeMB  = 50
	MaxBackups = 5
	MaxAgeDays = 30
)

const timeFormat = "2006-01-02 15:04:05"

// New returns a logger writing to console and, when cfg.File is set, to a
// rotating log file. The returned closer flushes the log file and must be
// called on shutdown. The global logger is replaced as well.
func New(cfg config.Log, console io.Writer) (zerolog.Logger, io.Closer) {
	zerolog.SetGlobalLevel(level(cfg.Level))
	if console == nil {
		console = os.Stdout
	}
	consoleOutput := zerolog.ConsoleWriter{Out: console, TimeFormat: timeFormat}
	logger := zerolog.New(consoleOutput).With().Timestamp().Logger()
	log.Logger = logger
	if cfg.File == "" {
		return logger, nopCloser{}
	}
	if err := ensureLogDir(cfg.File); err != nil {
		logger.Error().Err(err).Str("path", cfg.File).Msg("cannot prepare log directory; logging to console only")
		return logger, nopCloser{}
	}
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		MaxAge:     MaxAgeDays,
		Compress:   true,
	}
	multi := zerolog.MultiLevelWriter(consoleOutput, fileWriter)
	logger = zerolog.New(multi).With().Timestamp().Logger()
	log.Logger = logger
	return logger, fileWriter
}

func level(name string) zerolog.Level {
	switch name {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

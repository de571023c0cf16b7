/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger provides JSON structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a Logger from the given config. A nil config uses defaults.
func New(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer = os.Stdout

	if config.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &zerologLogger{logger: zl}, nil
}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	logger zerolog.Logger
}

func (z *zerologLogger) Trace() *zerolog.Event { return z.logger.Trace() }
func (z *zerologLogger) Debug() *zerolog.Event { return z.logger.Debug() }
func (z *zerologLogger) Info() *zerolog.Event  { return z.logger.Info() }
func (z *zerologLogger) Warn() *zerolog.Event  { return z.logger.Warn() }
func (z *zerologLogger) Error() *zerolog.Event { return z.logger.Error() }
func (z *zerologLogger) Fatal() *zerolog.Event { return z.logger.Fatal() }

func (z *zerologLogger) With() zerolog.Context {
	return z.logger.With()
}

func (z *zerologLogger) WithComponent(component string) Logger {
	return &zerologLogger{logger: z.logger.With().Str("component", component).Logger()}
}

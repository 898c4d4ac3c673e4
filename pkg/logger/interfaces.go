/*
 * Copyright 2026 JustProSound.
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

package logger

import (
	"io"

	"github.com/rs/zerolog"
)

type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	Panic() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
	WithFields(fields map[string]interface{}) zerolog.Logger
	SetLevel(level zerolog.Level)
	SetDebug(debug bool)
}

// zerologAdapter implements Logger over an injected zerolog.Logger so
// components are not tied to the process-wide logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a *zerologAdapter) Trace() *zerolog.Event { return a.logger.Trace() }
func (a *zerologAdapter) Debug() *zerolog.Event { return a.logger.Debug() }
func (a *zerologAdapter) Info() *zerolog.Event  { return a.logger.Info() }
func (a *zerologAdapter) Warn() *zerolog.Event  { return a.logger.Warn() }
func (a *zerologAdapter) Error() *zerolog.Event { return a.logger.Error() }
func (a *zerologAdapter) Fatal() *zerolog.Event { return a.logger.Fatal() }
func (a *zerologAdapter) Panic() *zerolog.Event { return a.logger.Panic() }
func (a *zerologAdapter) With() zerolog.Context { return a.logger.With() }
func (a *zerologAdapter) WithComponent(component string) zerolog.Logger {
	return a.logger.With().Str("component", component).Logger()
}
func (a *zerologAdapter) WithFields(fields map[string]interface{}) zerolog.Logger {
	return a.logger.With().Fields(fields).Logger()
}
func (a *zerologAdapter) SetLevel(level zerolog.Level) { a.logger = a.logger.Level(level) }
func (a *zerologAdapter) SetDebug(debug bool) {
	if debug {
		a.SetLevel(zerolog.DebugLevel)
	} else {
		a.SetLevel(zerolog.InfoLevel)
	}
}

// NewTestLogger creates a no-op logger for testing that discards all output
func NewTestLogger() Logger {
	nopLogger := zerolog.New(io.Discard).Level(zerolog.Disabled)
	return &testLogger{nop: nopLogger}
}

// testLogger is a simple logger implementation for testing
type testLogger struct {
	nop zerolog.Logger
}

func (t *testLogger) Trace() *zerolog.Event { return t.nop.Trace() }
func (t *testLogger) Debug() *zerolog.Event { return t.nop.Debug() }
func (t *testLogger) Info() *zerolog.Event  { return t.nop.Info() }
func (t *testLogger) Warn() *zerolog.Event  { return t.nop.Warn() }
func (t *testLogger) Error() *zerolog.Event { return t.nop.Error() }
func (t *testLogger) Fatal() *zerolog.Event { return t.nop.Fatal() }
func (t *testLogger) Panic() *zerolog.Event { return t.nop.Panic() }
func (t *testLogger) With() zerolog.Context { return t.nop.With() }
func (t *testLogger) WithComponent(component string) zerolog.Logger {
	return t.nop.With().Str("component", component).Logger()
}
func (t *testLogger) WithFields(fields map[string]interface{}) zerolog.Logger {
	return t.nop.With().Fields(fields).Logger()
}
func (t *testLogger) SetLevel(level zerolog.Level) { t.nop = t.nop.Level(level) }
func (*testLogger) SetDebug(_ bool)                { /* no-op */ }

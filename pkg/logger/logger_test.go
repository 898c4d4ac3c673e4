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
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	config := &Config{
		Level:  "debug",
		Debug:  true,
		Output: "stdout",
	}

	err := Init(config)
	require.NoError(t, err)

	logger := GetLogger()
	require.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(&Config{Level: "shouty"})
	require.Error(t, err)
}

func TestSetDebug(t *testing.T) {
	SetDebug(true)
	require.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	SetDebug(false)
	require.Equal(t, zerolog.InfoLevel, GetLogger().GetLevel())
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(&Config{Level: "warn", Output: "stderr"})
	require.NoError(t, err)
	require.NotNil(t, log)

	componentLogger := log.WithComponent("registry")
	require.NotEqual(t, zerolog.Disabled, componentLogger.GetLevel())
}

func TestNewTestLoggerDiscards(t *testing.T) {
	log := NewTestLogger()
	require.NotNil(t, log)

	// Must not panic or emit anywhere.
	log.Info().Str("k", "v").Msg("discarded")
	log.Error().Msg("also discarded")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	require.NotEmpty(t, config.Level)
	require.NotEmpty(t, config.Output)
}

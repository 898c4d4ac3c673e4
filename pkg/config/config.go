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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/justprosound/devreg/pkg/logger"
)

const (
	configSourceFile = "file"
	configSourceEnv  = "env"

	defaultEnvPrefix = "DEVREG_"
)

// Config holds the configuration loading dependencies.
type Config struct {
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig initializes a Config with a file loader. A nil logger falls
// back to the test no-op logger so config loading never panics.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{
		defaultLoader: &FileConfigLoader{},
		logger:        log,
	}
}

// LoadAndValidate loads a configuration from the source selected by
// CONFIG_SOURCE (file by default, env for an inline JSON document) and
// validates it when the struct implements Validator.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	var loader ConfigLoader

	switch source {
	case configSourceEnv:
		prefix := os.Getenv("CONFIG_ENV_PREFIX")
		if prefix == "" {
			prefix = defaultEnvPrefix
		}

		loader = NewEnvConfigLoader(c.logger, prefix)
	case configSourceFile, "":
		loader = c.defaultLoader
	default:
		return fmt.Errorf("invalid CONFIG_SOURCE value: %s (expected '%s' or '%s')",
			source, configSourceFile, configSourceEnv)
	}

	if err := loader.Load(ctx, path, cfg); err != nil {
		return err
	}

	return ValidateConfig(cfg)
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// EnvConfigLoader reads a whole JSON configuration document from an
// environment variable, used for containerized deployments that inject
// config through the environment instead of a mounted file.
type EnvConfigLoader struct {
	prefix string
	logger logger.Logger
}

// NewEnvConfigLoader creates a loader reading from <prefix>CONFIG.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	return &EnvConfigLoader{prefix: prefix, logger: log}
}

// Load ignores path and unmarshals the JSON document in <prefix>CONFIG.
func (l *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	key := l.prefix + "CONFIG"

	raw := os.Getenv(key)
	if raw == "" {
		return fmt.Errorf("environment variable %s is empty", key)
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from %s: %w", key, err)
	}

	l.logger.Debug().Str("env_var", key).Msg("Loaded configuration from environment")

	return nil
}

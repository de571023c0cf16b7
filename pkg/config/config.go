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

// Package config loads JSON service configuration from disk.
package config

import (
	"context"
	"fmt"
)

// ConfigLoader loads configuration from a backing source into dst.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by config structs that can check themselves.
// Validate may also apply defaults for unset fields.
type Validator interface {
	Validate() error
}

// Config holds the configuration loading dependencies.
type Config struct {
	loader ConfigLoader
}

// NewConfig initializes a Config with the default file loader.
func NewConfig() *Config {
	return &Config{loader: &FileConfigLoader{}}
}

// LoadAndValidate loads the file at path into dst and, when dst implements
// Validator, validates it.
func (c *Config) LoadAndValidate(ctx context.Context, path string, dst interface{}) error {
	if err := c.loader.Load(ctx, path, dst); err != nil {
		return err
	}

	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid configuration in '%s': %w", path, err)
		}
	}

	return nil
}

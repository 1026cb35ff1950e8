/*
   Copyright 2025 The DIRPX Authors.

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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"dirpx.dev/modctx/apis"
)

var (
	// ErrInvalidLogLevel is returned when log_level is not a known level.
	ErrInvalidLogLevel = errors.New("modctx(config): invalid log_level")
	// ErrInvalidLogFormat is returned when log_format is neither console nor json.
	ErrInvalidLogFormat = errors.New("modctx(config): invalid log_format")
)

// fileConfig is the on-disk TOML shape. Zero values fall back to defaults.
type fileConfig struct {
	MaxUnwrap  int    `toml:"max_unwrap"`
	ShortNames *bool  `toml:"short_names"`
	Workers    int    `toml:"workers"`
	LogLevel   string `toml:"log_level"`
	LogFormat  string `toml:"log_format"`
	Namespace  string `toml:"namespace"`
}

// Load reads a TOML configuration file:
//
//	max_unwrap  = 4
//	short_names = false
//	workers     = 16
//	log_level   = "info"
//	log_format  = "console"
//	namespace   = "modctx"
func Load(path string) (apis.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return apis.Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return apis.Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML data, applies defaults and validates the result.
func Parse(data []byte) (apis.Config, error) {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return apis.Config{}, err
	}

	opts := []Option{WithMaxUnwrap(fc.MaxUnwrap), WithWorkers(fc.Workers)}
	if fc.ShortNames != nil {
		opts = append(opts, WithShortNames(*fc.ShortNames))
	}
	if fc.LogLevel != "" {
		opts = append(opts, WithLogLevel(strings.ToLower(fc.LogLevel)))
	}
	if fc.LogFormat != "" {
		opts = append(opts, WithLogFormat(strings.ToLower(fc.LogFormat)))
	}
	if fc.Namespace != "" {
		opts = append(opts, WithNamespace(fc.Namespace))
	}

	cfg := NewConfig(opts...)
	if err := Validate(cfg); err != nil {
		return apis.Config{}, err
	}
	return cfg, nil
}

// Validate checks the string-valued knobs that NewConfig cannot repair.
func Validate(cfg apis.Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, cfg.LogFormat)
	}
	return nil
}

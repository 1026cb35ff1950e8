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
	"dirpx.dev/modctx/apis"
)

const (
	// DefaultMaxUnwrap represents the default for MaxUnwrap.
	// Module types are rarely more than one pointer deep; 4 leaves headroom.
	DefaultMaxUnwrap = 4
	// DefaultShortNames represents the default for ShortNames.
	// Fully qualified identities are the only collision-free choice.
	DefaultShortNames = false
	// DefaultWorkers represents the default for Workers.
	DefaultWorkers = 16
	// DefaultLogLevel represents the default for LogLevel.
	DefaultLogLevel = "info"
	// DefaultLogFormat represents the default for LogFormat.
	DefaultLogFormat = "console"
	// DefaultNamespace represents the default for Namespace.
	DefaultNamespace = "modctx"
)

// NewConfig constructs an apis.Config from the given options.
func NewConfig(opts ...Option) apis.Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	// Ensure numeric knobs are valid.
	if cfg.MaxUnwrap <= 0 {
		cfg.MaxUnwrap = DefaultMaxUnwrap
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return cfg
}

// DefaultConfig is the default configuration used when none is provided.
func DefaultConfig() apis.Config {
	return apis.Config{
		MaxUnwrap:  DefaultMaxUnwrap,
		ShortNames: DefaultShortNames,
		Workers:    DefaultWorkers,
		LogLevel:   DefaultLogLevel,
		LogFormat:  DefaultLogFormat,
		Namespace:  DefaultNamespace,
	}
}

// Option is a functional option that mutates an apis.Config during construction.
type Option func(*apis.Config)

// WithMaxUnwrap sets the MaxUnwrap option.
// A non-positive value resets to the default.
func WithMaxUnwrap(max int) Option {
	return func(c *apis.Config) {
		if max <= 0 {
			c.MaxUnwrap = DefaultMaxUnwrap
			return
		}
		c.MaxUnwrap = max
	}
}

// WithShortNames sets the ShortNames option.
func WithShortNames(short bool) Option {
	return func(c *apis.Config) {
		c.ShortNames = short
	}
}

// WithWorkers sets the Workers option.
// A non-positive value resets to the default.
func WithWorkers(n int) Option {
	return func(c *apis.Config) {
		if n <= 0 {
			c.Workers = DefaultWorkers
			return
		}
		c.Workers = n
	}
}

// WithLogLevel sets the LogLevel option.
func WithLogLevel(level string) Option {
	return func(c *apis.Config) {
		c.LogLevel = level
	}
}

// WithLogFormat sets the LogFormat option.
func WithLogFormat(format string) Option {
	return func(c *apis.Config) {
		c.LogFormat = format
	}
}

// WithNamespace sets the metrics Namespace option.
func WithNamespace(ns string) Option {
	return func(c *apis.Config) {
		c.Namespace = ns
	}
}

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

package modctx

import (
	"errors"
	"os"
	"reflect"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"dirpx.dev/modctx/apis"
	"dirpx.dev/modctx/builder"
	"dirpx.dev/modctx/cache"
	"dirpx.dev/modctx/config"
	"dirpx.dev/modctx/lifecycle"
	"dirpx.dev/modctx/observability"
	"dirpx.dev/modctx/pool"
)

var (
	// ErrNilRegistry is returned when a builder returns a nil registry.
	ErrNilRegistry = errors.New("modctx: builder returned nil registry")
	// ErrNilResolver is returned when a builder returns a nil resolver.
	ErrNilResolver = errors.New("modctx: builder returned nil resolver")
)

// Entry is the per-identity record kept by a Coordinator.
// It is created once and never replaced or evicted.
type Entry struct {
	Identity apis.Identity
	Context  *lifecycle.Context
	// Sample is the shared module value whose body drives Context.
	Sample apis.Module
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	bld     apis.Builder
	log     *zerolog.Logger
	reg     prometheus.Registerer
	prevReg apis.Registry
}

// WithBuilder replaces the default registry/resolver builder.
func WithBuilder(b apis.Builder) Option {
	return func(o *options) {
		if b != nil {
			o.bld = b
		}
	}
}

// WithLogger replaces the logger built from the config's level and format.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &l }
}

// WithRegisterer registers the coordinator's metrics with reg.
// Without it metrics are collected but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// withRegistryFrom migrates explicit registrations from prev.
func withRegistryFrom(prev apis.Registry) Option {
	return func(o *options) { o.prevReg = prev }
}

// Coordinator owns one identity resolver, one context cache and one detached
// executor. Every module type gets exactly one Entry per Coordinator.
type Coordinator struct {
	cfg apis.Config
	bld apis.Builder
	reg apis.Registry
	res apis.Resolver

	entries *cache.Cache[*Entry]
	pool    *pool.Pool
	log     zerolog.Logger
	metrics *observability.Metrics

	// mu guards samples.
	mu      sync.Mutex
	samples map[reflect.Type]slot
}

// slot is the shared sample of one module type.
type slot struct {
	m        apis.Module
	provided bool
	// consumed is set once construction from m has started.
	consumed bool
}

// New builds a Coordinator for cfg.
func New(cfg apis.Config, opts ...Option) (*Coordinator, error) {
	o := options{bld: builder.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.MaxUnwrap <= 0 {
		cfg.MaxUnwrap = config.DefaultMaxUnwrap
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultWorkers
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultNamespace
	}

	reg := o.bld.BuildRegistry(cfg, o.prevReg)
	if reg == nil {
		return nil, ErrNilRegistry
	}
	res := o.bld.BuildResolver(cfg, reg)
	if res == nil {
		return nil, ErrNilResolver
	}

	log := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if o.log != nil {
		log = *o.log
	}
	metrics := observability.NewMetrics(o.reg, cfg.Namespace)

	return &Coordinator{
		cfg:     cfg,
		bld:     o.bld,
		reg:     reg,
		res:     res,
		entries: cache.New[*Entry](),
		pool:    pool.New(cfg.Workers, log, metrics),
		log:     log,
		metrics: metrics,
		samples: make(map[reflect.Type]slot),
	}, nil
}

// NewFromFile builds a Coordinator from a TOML config file (see config.Load).
func NewFromFile(path string, opts ...Option) (*Coordinator, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Config returns the configuration the Coordinator was built with.
func (c *Coordinator) Config() apis.Config { return c.cfg }

// Registry returns the explicit identity registry.
func (c *Coordinator) Registry() apis.Registry { return c.reg }

// Resolver returns the identity resolver.
func (c *Coordinator) Resolver() apis.Resolver { return c.res }

// Logger returns the Coordinator's logger.
func (c *Coordinator) Logger() zerolog.Logger { return c.log }

// Identify resolves the identity of v.
func (c *Coordinator) Identify(v any) apis.Identity {
	return c.res.Resolve(v, c.cfg)
}

// IdentifyType resolves the identity of t.
func (c *Coordinator) IdentifyType(t reflect.Type) apis.Identity {
	return c.res.ResolveType(t, c.cfg)
}

// Explain resolves v and names the resolution step that produced its
// identity. The source is empty when the resolver cannot trace.
func (c *Coordinator) Explain(v any) (apis.Identity, apis.Source) {
	if t, ok := c.res.(apis.Tracer); ok {
		return t.Trace(v, c.cfg)
	}
	return c.res.Resolve(v, c.cfg), ""
}

// RegisterType pins the identity of t. It must happen before the module's
// Context is first used, otherwise the Context keeps its earlier identity.
func (c *Coordinator) RegisterType(t reflect.Type, id apis.Identity) error {
	return c.reg.Register(t, id)
}

// Lookup returns the Entry created for id, if any.
func (c *Coordinator) Lookup(id apis.Identity) (Entry, bool) {
	e, ok := c.entries.Lookup(id)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns every created Entry ordered by identity.
func (c *Coordinator) Entries() []Entry {
	ids := c.entries.Identities()
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := c.entries.Lookup(id); ok {
			out = append(out, *e)
		}
	}
	return out
}

// Drain blocks until all detached work submitted so far has finished.
func (c *Coordinator) Drain() {
	c.pool.Wait()
}

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

package resolver

import (
	"reflect"

	"dirpx.dev/modctx/apis"
)

// New builds the identity chain over strategies, tried in order. Nil
// strategies are dropped. The result also implements apis.Tracer.
func New(strategies ...apis.Strategy) apis.Resolver {
	steps := make([]apis.Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s != nil {
			steps = append(steps, s)
		}
	}
	return chain(steps)
}

// chain resolves a module sample to the identity of the first step that
// claims it with a non-empty identity.
type chain []apis.Strategy

var (
	_ apis.Resolver = chain(nil)
	_ apis.Tracer   = chain(nil)
)

// Resolve returns the identity of the module sample v, or "".
func (c chain) Resolve(v any, cfg apis.Config) apis.Identity {
	id, _ := c.Trace(v, cfg)
	return id
}

// ResolveType returns the identity of the module type t, or "".
func (c chain) ResolveType(t reflect.Type, cfg apis.Config) apis.Identity {
	id, _ := c.TraceType(t, cfg)
	return id
}

// Trace resolves v and names the step that produced the identity.
func (c chain) Trace(v any, cfg apis.Config) (apis.Identity, apis.Source) {
	return c.first(func(s apis.Strategy) (apis.Identity, bool) {
		return s.TryResolve(v, cfg)
	})
}

// TraceType resolves t and names the step that produced the identity.
func (c chain) TraceType(t reflect.Type, cfg apis.Config) (apis.Identity, apis.Source) {
	return c.first(func(s apis.Strategy) (apis.Identity, bool) {
		return s.TryResolveType(t, cfg)
	})
}

// first walks the steps. A step that claims a module with an empty identity
// does not end the walk: an empty identity would key a Context by "".
func (c chain) first(try func(apis.Strategy) (apis.Identity, bool)) (apis.Identity, apis.Source) {
	for _, s := range c {
		if id, ok := try(s); ok && id != "" {
			return id, s.Source()
		}
	}
	return "", ""
}

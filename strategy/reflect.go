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

package strategy

import (
	"reflect"
	"sync"

	"dirpx.dev/modctx/apis"
	uref "dirpx.dev/modctx/utils/reflect"
)

// NewReflectStrategy creates an apis.Strategy that derives identities from the
// module's Go type using utils/reflect.Normalize and memoization.
func NewReflectStrategy() apis.Strategy {
	return reflectStrategy{}
}

// reflectStrategy is the universal fallback. It peels pointers and yields
// "import/path.Type" (or "pkg.Type" with ShortNames). Builtin and unnamed
// types are not modules and fall through.
type reflectStrategy struct{}

// Ensure reflectStrategy implements apis.Strategy.
var _ apis.Strategy = (*reflectStrategy)(nil)

// cacheKey ensures memoization respects all config knobs that affect resolution.
type cacheKey struct {
	t          reflect.Type
	maxUnwrap  int16
	shortNames bool
}

// identityCache caches resolved identities by (type, config knobs).
var identityCache sync.Map // key: cacheKey, val: apis.Identity

// Source reports SourceReflect.
func (reflectStrategy) Source() apis.Source { return apis.SourceReflect }

// TryResolve derives the identity for v's type.
func (reflectStrategy) TryResolve(v any, cfg apis.Config) (apis.Identity, bool) {
	if v == nil {
		return "", false
	}
	return byType(reflect.TypeOf(v), cfg)
}

// TryResolveType derives the identity for t.
func (reflectStrategy) TryResolveType(t reflect.Type, cfg apis.Config) (apis.Identity, bool) {
	if t == nil {
		return "", false
	}
	return byType(t, cfg)
}

// byType resolves the identity for t with memoization.
func byType(t reflect.Type, cfg apis.Config) (apis.Identity, bool) {
	key := cacheKey{
		t:          t,
		maxUnwrap:  int16(cfg.MaxUnwrap),
		shortNames: cfg.ShortNames,
	}
	if v, ok := identityCache.Load(key); ok {
		id := v.(apis.Identity)
		return id, id != ""
	}

	var id apis.Identity
	if base, err := uref.Normalize(t, cfg); err == nil && base.PkgPath() != "" {
		id = apis.Identity(uref.QualifiedName(base, cfg.ShortNames))
	}

	identityCache.Store(key, id)
	return id, id != ""
}

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

	"dirpx.dev/modctx/apis"
)

// NewNamerStrategy creates an apis.Strategy that uses apis.Namer.
func NewNamerStrategy() apis.Strategy {
	return &namerStrategy{}
}

// namerStrategy is the zero-reflection fast path: if the module sample
// implements apis.Namer, its ModuleName() is the identity.
type namerStrategy struct{}

// Ensure namerStrategy implements apis.Strategy.
var _ apis.Strategy = (*namerStrategy)(nil)

// TryResolve checks if v implements apis.Namer and returns its ModuleName().
// An empty ModuleName falls through to the next strategy.
func (*namerStrategy) TryResolve(v any, _ apis.Config) (apis.Identity, bool) {
	if v == nil {
		return "", false
	}
	if n, ok := v.(apis.Namer); ok {
		if name := n.ModuleName(); name != "" {
			return apis.Identity(name), true
		}
	}
	return "", false
}

// Source reports SourceNamer.
func (*namerStrategy) Source() apis.Source { return apis.SourceNamer }

// TryResolveType always returns false: Namer requires an instance.
func (*namerStrategy) TryResolveType(_ reflect.Type, _ apis.Config) (apis.Identity, bool) {
	return "", false
}

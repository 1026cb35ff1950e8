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

// NewRegistryStrategy resolves module types pinned with Registry.Register.
func NewRegistryStrategy(reg apis.Registry) apis.Strategy {
	return pinned{reg: reg}
}

// pinned consults explicit registrations. A registration names the module's
// nearest named type, so *M and M samples resolve alike.
type pinned struct {
	reg apis.Registry
}

var _ apis.Strategy = pinned{}

// Source reports SourceRegistry.
func (pinned) Source() apis.Source { return apis.SourceRegistry }

// TryResolve looks up the type of the module sample v.
func (p pinned) TryResolve(v any, cfg apis.Config) (apis.Identity, bool) {
	if v == nil {
		return "", false
	}
	return p.TryResolveType(reflect.TypeOf(v), cfg)
}

// TryResolveType looks up t. Unregistered types fall through.
func (p pinned) TryResolveType(t reflect.Type, _ apis.Config) (apis.Identity, bool) {
	if t == nil || p.reg == nil {
		return "", false
	}
	id, ok := p.reg.Lookup(t)
	return id, ok && id != ""
}

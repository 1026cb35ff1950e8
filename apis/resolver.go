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

package apis

import "reflect"

// Resolver is the identity resolver consumed by the coordinator.
// It must be pure and safe for concurrent use.
type Resolver interface {
	// Resolve returns the identity for v, or "" if none can be determined.
	Resolve(v any, cfg Config) Identity

	// ResolveType returns the identity for t, or "" if none can be determined.
	ResolveType(t reflect.Type, cfg Config) Identity
}

// Tracer is implemented by resolvers that can report which step produced an
// identity. An empty Source means nothing resolved.
type Tracer interface {
	Trace(v any, cfg Config) (Identity, Source)
	TraceType(t reflect.Type, cfg Config) (Identity, Source)
}

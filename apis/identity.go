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

// Identity is the stable key naming a module type (never an instance).
// Identical module types map to identical identities for the process lifetime.
type Identity string

// String implements fmt.Stringer.
func (id Identity) String() string { return string(id) }

// Namer lets a module type pick its own identity, bypassing the registry and
// reflection. ModuleName must be constant for a given type, non-empty, and
// cheap: it is consulted on the module's shared sample, not on live state.
type Namer interface {
	ModuleName() string
}

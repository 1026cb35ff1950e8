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
	"reflect"
	"sync"
	"sync/atomic"

	"dirpx.dev/modctx/apis"
	"dirpx.dev/modctx/config"
)

var (
	// st holds the process-wide default Coordinator.
	st atomic.Pointer[Coordinator]
	// buildMu serializes replacements of the default.
	buildMu sync.Mutex
)

// init installs a default Coordinator built from the default config.
func init() {
	c, err := New(config.DefaultConfig())
	if err != nil {
		panic(err)
	}
	st.Store(c)
}

// Default returns the process-wide Coordinator used by Of and Provide.
func Default() *Coordinator {
	return st.Load()
}

// SetDefault replaces the process-wide Coordinator and returns the previous
// one. A nil c is ignored. Contexts created by the previous Coordinator stay
// with it.
func SetDefault(c *Coordinator) (prev *Coordinator) {
	if c == nil {
		return st.Load()
	}
	buildMu.Lock()
	defer buildMu.Unlock()
	return st.Swap(c)
}

// Configure rebuilds the process-wide Coordinator for cfg, carrying over the
// explicit registrations of the current one.
func Configure(cfg apis.Config, opts ...Option) error {
	buildMu.Lock()
	defer buildMu.Unlock()

	old := st.Load()
	opts = append([]Option{withRegistryFrom(old.reg)}, opts...)
	c, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	st.Store(c)
	return nil
}

// Identify resolves the identity of v using the default Coordinator.
func Identify(v any) apis.Identity {
	return st.Load().Identify(v)
}

// IdentifyType resolves the identity of t using the default Coordinator.
func IdentifyType(t reflect.Type) apis.Identity {
	return st.Load().IdentifyType(t)
}

// RegisterType pins the identity of t in the default Coordinator.
func RegisterType(t reflect.Type, id apis.Identity) error {
	return st.Load().RegisterType(t, id)
}

// Provide installs sample as the shared value of module type M in the
// default Coordinator.
func Provide[M apis.Module](sample M) error {
	return ProvideIn(st.Load(), sample)
}

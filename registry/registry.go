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

package registry

import (
	"errors"
	"reflect"
	"sync"

	"dirpx.dev/modctx/apis"
	"dirpx.dev/modctx/config"
	uref "dirpx.dev/modctx/utils/reflect"
)

var (
	// ErrNilType is returned when a nil reflect.Type is provided.
	ErrNilType = errors.New("modctx(registry): nil reflect.Type provided")
	// ErrEmptyIdentity is returned when an empty identity is provided.
	ErrEmptyIdentity = errors.New("modctx(registry): empty identity provided")
	// ErrConflictingRegistration indicates an attempt to re-register
	// a module type under a different identity.
	ErrConflictingRegistration = errors.New("modctx(registry): conflicting module registration")
	// ErrIdentityTaken indicates an attempt to give two module types the
	// same identity, which would make them share a Context.
	ErrIdentityTaken = errors.New("modctx(registry): identity already bound to another module type")
)

// New constructs a Registry that normalizes module types according to cfg.
func New(cfg apis.Config) apis.Registry {
	if cfg.MaxUnwrap <= 0 {
		cfg.MaxUnwrap = config.DefaultMaxUnwrap
	}
	return &registry{cfg: cfg, owners: make(map[apis.Identity]reflect.Type)}
}

// registry is a sync.Map-backed Registry with a mutex-guarded write path.
type registry struct {
	// cfg is the configuration used for type normalization.
	cfg apis.Config
	// mu guards the write path, owners and count.
	mu sync.Mutex
	// m maps reflect.Type to its registered identity.
	m sync.Map // map[reflect.Type]apis.Identity
	// owners is the reverse index used to keep identities unique.
	owners map[apis.Identity]reflect.Type
	// count tracks the number of registered entries.
	count int
}

// Register associates the nearest named type of t with id.
// It is idempotent for the same (type, identity) pair.
func (r *registry) Register(t reflect.Type, id apis.Identity) error {
	if t == nil {
		return ErrNilType
	}
	if id == "" {
		return ErrEmptyIdentity
	}

	b, err := uref.Normalize(t, r.cfg)
	if err != nil {
		return err
	}

	// Fast read path: idempotency / conflict check without locking.
	if old, ok := r.m.Load(b); ok {
		if old.(apis.Identity) == id {
			return nil
		}
		return ErrConflictingRegistration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under lock in case another goroutine stored meanwhile.
	if old, ok := r.m.Load(b); ok {
		if old.(apis.Identity) == id {
			return nil
		}
		return ErrConflictingRegistration
	}
	if owner, ok := r.owners[id]; ok && owner != b {
		return ErrIdentityTaken
	}

	r.m.Store(b, id)
	r.owners[id] = b
	r.count++
	return nil
}

// Lookup returns the identity registered for t, if present.
func (r *registry) Lookup(t reflect.Type) (apis.Identity, bool) {
	if t == nil {
		return "", false
	}
	nt, err := uref.Normalize(t, r.cfg)
	if err != nil {
		return "", false
	}
	if v, ok := r.m.Load(nt); ok {
		return v.(apis.Identity), true
	}
	return "", false
}

// Entries returns a snapshot for diagnostics (order is unspecified).
func (r *registry) Entries() []apis.Entry {
	entries := make([]apis.Entry, 0, r.Count())
	r.m.Range(func(key, value any) bool {
		entries = append(entries, apis.Entry{
			Type:     key.(reflect.Type),
			Identity: value.(apis.Identity),
		})
		return true
	})
	return entries
}

// Count returns the number of registered entries.
func (r *registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

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

package cache

import (
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"dirpx.dev/modctx/apis"
)

var (
	// ErrEmptyIdentity is returned when an empty identity is looked up.
	ErrEmptyIdentity = errors.New("modctx(cache): empty identity")
	// ErrNilFactory is returned when GetOrCreate is called without a factory.
	ErrNilFactory = errors.New("modctx(cache): nil factory")
)

// Factory builds the value cached for one identity.
type Factory[V any] func() (V, error)

// Cache maps identities to lazily constructed values. Each identity is built
// at most once at a time and, once built, never replaced or evicted.
// The zero value is ready to use.
type Cache[V any] struct {
	// m holds published values; reads need no further locking.
	m sync.Map // map[apis.Identity]V
	// mu guards the insert and count.
	mu    sync.Mutex
	count int
	// flights deduplicates concurrent first-time construction per identity.
	flights singleflight.Group
}

// New returns an empty Cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{}
}

// GetOrCreate returns the value cached for id, building it with factory on
// first use. Concurrent first callers share a single factory run and all
// observe the same value. A factory error is returned to every caller of
// that run and is not cached, so a later call retries.
func (c *Cache[V]) GetOrCreate(id apis.Identity, factory Factory[V]) (V, error) {
	var zero V
	if id == "" {
		return zero, ErrEmptyIdentity
	}
	if v, ok := c.m.Load(id); ok {
		return v.(V), nil
	}
	if factory == nil {
		return zero, ErrNilFactory
	}

	v, err, _ := c.flights.Do(string(id), func() (any, error) {
		// Another flight may have published while we were queued.
		if v, ok := c.m.Load(id); ok {
			return v, nil
		}
		v, err := factory()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.m.Store(id, v)
		c.count++
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(V), nil
}

// Lookup returns the value cached for id without building it.
func (c *Cache[V]) Lookup(id apis.Identity) (V, bool) {
	if v, ok := c.m.Load(id); ok {
		return v.(V), true
	}
	var zero V
	return zero, false
}

// Len returns the number of cached values.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Identities returns the cached identities in sorted order.
func (c *Cache[V]) Identities() []apis.Identity {
	ids := make([]apis.Identity, 0, c.Len())
	c.m.Range(func(key, _ any) bool {
		ids = append(ids, key.(apis.Identity))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

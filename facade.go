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
	"context"
	"errors"
	"reflect"

	"dirpx.dev/modctx/apis"
	"dirpx.dev/modctx/lifecycle"
	uref "dirpx.dev/modctx/utils/reflect"
)

var (
	// ErrNoIdentity is returned when no identity can be resolved for a module type.
	ErrNoIdentity = errors.New("modctx: module identity cannot be resolved")
	// ErrNilBody is returned when a module's NewBody returns a nil body.
	ErrNilBody = lifecycle.ErrNilBody
	// ErrNilSample is returned when a nil module value is provided.
	ErrNilSample = errors.New("modctx: nil module sample")
	// ErrNilAction is returned when a context action is nil.
	ErrNilAction = errors.New("modctx: nil context action")
	// ErrAlreadyProvided is returned when a module type is provided twice.
	ErrAlreadyProvided = errors.New("modctx: module sample already provided")
	// ErrAlreadyCreated is returned when a sample is provided after the
	// module's Context was created.
	ErrAlreadyCreated = errors.New("modctx: module context already created")
	// ErrNotCreated is returned by update commands issued before the
	// module's Context exists.
	ErrNotCreated = errors.New("modctx: module context not created yet")
	// ErrIdentityConflict is returned when two distinct module types resolve
	// to the same identity.
	ErrIdentityConflict = errors.New("modctx: identity used by another module type")
)

// Action operates on a module's Context.
type Action func(ctx context.Context, lc *lifecycle.Context) error

// Facade is the static command surface of module type M. It is a plain value:
// copies are interchangeable and all of them drive the same Context.
type Facade[M apis.Module] struct {
	c *Coordinator
}

// Of returns the Facade of M bound to the default Coordinator.
func Of[M apis.Module]() Facade[M] {
	return Facade[M]{c: Default()}
}

// In returns the Facade of M bound to c.
func In[M apis.Module](c *Coordinator) Facade[M] {
	return Facade[M]{c: c}
}

// ProvideIn installs sample as the shared value of module type M in c.
// It must happen before the Context of M is created.
func ProvideIn[M apis.Module](c *Coordinator, sample M) error {
	if isNil(sample) {
		return ErrNilSample
	}
	id := c.Identify(sample)
	if id == "" {
		return ErrNoIdentity
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries.Lookup(id); ok {
		return ErrAlreadyCreated
	}
	t := reflect.TypeFor[M]()
	s, ok := c.samples[t]
	if ok && s.consumed {
		return ErrAlreadyCreated
	}
	if ok && s.provided {
		return ErrAlreadyProvided
	}
	c.samples[t] = slot{m: sample, provided: true}
	return nil
}

// Coordinator returns the Coordinator f is bound to.
func (f Facade[M]) Coordinator() *Coordinator { return f.c }

// Sample returns the shared module value of M: the provided one, or the
// zero value with pointer types allocated.
func (f Facade[M]) Sample() M {
	t := reflect.TypeFor[M]()

	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	if s, ok := f.c.samples[t]; ok {
		return s.m.(M)
	}
	var m M
	if t.Kind() == reflect.Pointer {
		m = reflect.New(t.Elem()).Interface().(M)
	}
	if !isNil(m) {
		f.c.samples[t] = slot{m: m}
	}
	return m
}

// Identity resolves the identity of M.
func (f Facade[M]) Identity() (apis.Identity, error) {
	s := f.Sample()
	if isNil(s) {
		return "", ErrNoIdentity
	}
	id := f.c.Identify(s)
	if id == "" {
		return "", ErrNoIdentity
	}
	return id, nil
}

// Context returns the Context of M, creating it on first use.
func (f Facade[M]) Context(ctx context.Context) (*lifecycle.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := f.entry(true)
	if err != nil {
		return nil, err
	}
	return e.Context, nil
}

// Created reports whether the Context of M exists.
func (f Facade[M]) Created() bool {
	_, err := f.entry(false)
	return err == nil
}

// OnWillChange subscribes fn to phase changes of M's Context, creating the
// Context if needed.
func (f Facade[M]) OnWillChange(fn func(apis.Event)) (unsubscribe func(), err error) {
	e, err := f.entry(true)
	if err != nil {
		return nil, err
	}
	return e.Context.OnWillChange(fn), nil
}

// Call runs a call cycle on M's Context.
func (f Facade[M]) Call(ctx context.Context) error {
	lc, err := f.Context(ctx)
	if err != nil {
		return err
	}
	return lc.Call(ctx)
}

// CallWith runs a call cycle carrying state.
func (f Facade[M]) CallWith(ctx context.Context, state apis.State) error {
	lc, err := f.Context(ctx)
	if err != nil {
		return err
	}
	return lc.CallWith(ctx, state)
}

// Cancel cancels every outstanding operation of M. Only a failure to create
// the Context is reported.
func (f Facade[M]) Cancel(ctx context.Context) error {
	lc, err := f.Context(ctx)
	if err != nil {
		return err
	}
	lc.Cancel(ctx)
	return nil
}

// CancelWith is Cancel recording state.
func (f Facade[M]) CancelWith(ctx context.Context, state apis.State) error {
	lc, err := f.Context(ctx)
	if err != nil {
		return err
	}
	lc.CancelWith(ctx, state)
	return nil
}

// Update runs the refresh path. The Context must already exist.
func (f Facade[M]) Update(ctx context.Context) error {
	e, err := f.entry(false)
	if err != nil {
		return err
	}
	return e.Context.Update(ctx)
}

// UpdateWith is Update carrying state.
func (f Facade[M]) UpdateWith(ctx context.Context, state apis.State) error {
	e, err := f.entry(false)
	if err != nil {
		return err
	}
	return e.Context.UpdateWith(ctx, state)
}

// Wait joins the current operation of M. A Context that was never created
// has nothing to wait for.
func (f Facade[M]) Wait(ctx context.Context) error {
	e, err := f.entry(false)
	if errors.Is(err, ErrNotCreated) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.Context.Wait(ctx)
}

// WaitForAll joins every operation of M outstanding at the time of the call.
func (f Facade[M]) WaitForAll(ctx context.Context) error {
	e, err := f.entry(false)
	if errors.Is(err, ErrNotCreated) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.Context.WaitForAll(ctx)
}

// WithContext runs action against M's Context.
func (f Facade[M]) WithContext(ctx context.Context, action Action) error {
	if action == nil {
		return ErrNilAction
	}
	lc, err := f.Context(ctx)
	if err != nil {
		return err
	}
	return action(ctx, lc)
}

// CallWithContext runs action, then issues exactly one Call on every exit
// path, panics included. The action's error wins over the Call's.
func (f Facade[M]) CallWithContext(ctx context.Context, action Action) error {
	return f.callWithContext(ctx, nil, false, action)
}

// CallWithContextTo is CallWithContext whose follow-up is CallWith(state).
func (f Facade[M]) CallWithContextTo(ctx context.Context, state apis.State, action Action) error {
	return f.callWithContext(ctx, state, true, action)
}

func (f Facade[M]) callWithContext(ctx context.Context, state apis.State, withState bool, action Action) (err error) {
	if action == nil {
		return ErrNilAction
	}
	lc, err := f.Context(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// The follow-up must run even when ctx is what ended the action.
		if ferr := followUp(context.WithoutCancel(ctx), lc, state, withState); err == nil {
			err = ferr
		}
	}()
	return action(ctx, lc)
}

func followUp(ctx context.Context, lc *lifecycle.Context, state apis.State, withState bool) error {
	if withState {
		return lc.CallWith(ctx, state)
	}
	return lc.Call(ctx)
}

// WithResult runs action against M's Context and returns its value.
func WithResult[M apis.Module, A any](ctx context.Context, f Facade[M], action func(context.Context, *lifecycle.Context) (A, error)) (A, error) {
	var out A
	err := f.WithContext(ctx, wrap(action, &out))
	return out, err
}

// CallWithResult is CallWithContext for a value-returning action.
func CallWithResult[M apis.Module, A any](ctx context.Context, f Facade[M], action func(context.Context, *lifecycle.Context) (A, error)) (A, error) {
	var out A
	err := f.CallWithContext(ctx, wrap(action, &out))
	return out, err
}

// CallWithResultTo is CallWithContextTo for a value-returning action.
func CallWithResultTo[M apis.Module, A any](ctx context.Context, f Facade[M], state apis.State, action func(context.Context, *lifecycle.Context) (A, error)) (A, error) {
	var out A
	err := f.CallWithContextTo(ctx, state, wrap(action, &out))
	return out, err
}

func wrap[A any](action func(context.Context, *lifecycle.Context) (A, error), out *A) Action {
	if action == nil {
		return nil
	}
	return func(ctx context.Context, lc *lifecycle.Context) error {
		v, err := action(ctx, lc)
		*out = v
		return err
	}
}

// entry returns M's Entry, building it when create is set.
func (f Facade[M]) entry(create bool) (*Entry, error) {
	s := f.Sample()
	if isNil(s) {
		return nil, ErrNoIdentity
	}
	id := f.c.Identify(s)
	if id == "" {
		return nil, ErrNoIdentity
	}

	var (
		e   *Entry
		err error
	)
	if create {
		e, err = f.c.entries.GetOrCreate(id, func() (*Entry, error) {
			return f.c.build(id, reflect.TypeFor[M](), s)
		})
		if err != nil {
			return nil, err
		}
	} else {
		var ok bool
		if e, ok = f.c.entries.Lookup(id); !ok {
			return nil, ErrNotCreated
		}
	}

	if !sameModuleType(e.Sample, s, f.c.cfg) {
		return nil, ErrIdentityConflict
	}
	return e, nil
}

// build constructs the Entry for id from the shared sample of module type t.
// The slot is re-read and marked consumed under mu, so a racing ProvideIn
// either lands before construction or fails with ErrAlreadyCreated.
func (c *Coordinator) build(id apis.Identity, t reflect.Type, fallback apis.Module) (*Entry, error) {
	c.mu.Lock()
	sl, ok := c.samples[t]
	if !ok {
		sl = slot{m: fallback}
	}
	sl.consumed = true
	c.samples[t] = sl
	c.mu.Unlock()

	s := sl.m
	body, err := s.NewBody()
	if err == nil && body == nil {
		err = ErrNilBody
	}
	if err != nil {
		c.release(t)
		c.log.Debug().Str("module", string(id)).Err(err).Msg("module construction failed")
		return nil, err
	}
	lc, err := lifecycle.New(id, body,
		lifecycle.WithLogger(c.log),
		lifecycle.WithMetrics(c.metrics),
	)
	if err != nil {
		c.release(t)
		return nil, err
	}
	c.metrics.ContextCreated()
	_, src := c.Explain(s)
	c.log.Debug().Str("module", string(id)).Str("source", string(src)).Msg("module context created")
	return &Entry{Identity: id, Context: lc, Sample: s}, nil
}

// release reopens the slot of t after a failed construction.
func (c *Coordinator) release(t reflect.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sl, ok := c.samples[t]; ok {
		sl.consumed = false
		c.samples[t] = sl
	}
}

// sameModuleType reports whether a and b are forms of one named type.
func sameModuleType(a, b apis.Module, cfg apis.Config) bool {
	ta, errA := uref.Normalize(reflect.TypeOf(a), cfg)
	tb, errB := uref.Normalize(reflect.TypeOf(b), cfg)
	if errA != nil || errB != nil {
		return reflect.TypeOf(a) == reflect.TypeOf(b)
	}
	return ta == tb
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

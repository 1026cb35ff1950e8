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

package modctx_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirpx.dev/modctx"
	"dirpx.dev/modctx/apis"
	"dirpx.dev/modctx/config"
	"dirpx.dev/modctx/lifecycle"
	"dirpx.dev/modctx/observability"
)

const settle = 2 * time.Second

// tracked is a module whose body behaviour is set per test.
type tracked struct {
	builds   atomic.Int32
	calls    atomic.Int32
	buildErr error
	run      func(ctx context.Context, s apis.State) error
}

func (p *tracked) NewBody() (apis.Body, error) {
	p.builds.Add(1)
	if p.buildErr != nil {
		return nil, p.buildErr
	}
	return apis.BodyFuncs{RunFunc: func(ctx context.Context, s apis.State) error {
		p.calls.Add(1)
		if p.run != nil {
			return p.run(ctx, s)
		}
		return nil
	}}, nil
}

// other is a second module type with tracked's behaviour.
type other struct{ tracked }

// plain is a value-receiver module.
type plain struct{}

func (plain) NewBody() (apis.Body, error) { return apis.BodyFuncs{}, nil }

type namedA struct{}

func (namedA) NewBody() (apis.Body, error) { return apis.BodyFuncs{}, nil }
func (namedA) ModuleName() string          { return "shared.name" }

type namedB struct{}

func (namedB) NewBody() (apis.Body, error) { return apis.BodyFuncs{}, nil }
func (namedB) ModuleName() string          { return "shared.name" }

type nilBody struct{}

func (nilBody) NewBody() (apis.Body, error) { return nil, nil }

func newCoordinator(t *testing.T, opts ...modctx.Option) *modctx.Coordinator {
	t.Helper()
	opts = append([]modctx.Option{modctx.WithLogger(zerolog.Nop())}, opts...)
	c, err := modctx.New(config.DefaultConfig(), opts...)
	require.NoError(t, err)
	return c
}

func TestContext_SingleConstructionUnderConcurrentFirstUse(t *testing.T) {
	c := newCoordinator(t)
	p := &tracked{}
	require.NoError(t, modctx.ProvideIn(c, p))
	f := modctx.In[*tracked](c)

	workers := runtime.GOMAXPROCS(0) * 4
	got := make([]*lifecycle.Context, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(i int) {
			defer wg.Done()
			<-start
			lc, err := f.Context(context.Background())
			if err != nil {
				t.Errorf("Context: %v", err)
				return
			}
			got[i] = lc
		}(w)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, p.builds.Load())
	for i := 1; i < workers; i++ {
		assert.Same(t, got[0], got[i])
	}
	assert.Len(t, c.Entries(), 1)
}

func TestFacade_PointerAndValueShareContext(t *testing.T) {
	c := newCoordinator(t)

	byValue, err := modctx.In[plain](c).Context(context.Background())
	require.NoError(t, err)
	byPointer, err := modctx.In[*plain](c).Context(context.Background())
	require.NoError(t, err)

	assert.Same(t, byValue, byPointer)
	id, err := modctx.In[*plain](c).Identity()
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(plain{}).PkgPath()+".plain", string(id))
}

func TestFacade_NamerIdentityAndConflict(t *testing.T) {
	c := newCoordinator(t)

	id, err := modctx.In[namedA](c).Identity()
	require.NoError(t, err)
	assert.Equal(t, apis.Identity("shared.name"), id)

	require.NoError(t, modctx.In[namedA](c).Call(context.Background()))
	err = modctx.In[namedB](c).Call(context.Background())
	assert.ErrorIs(t, err, modctx.ErrIdentityConflict)
}

func TestFacade_RegisteredIdentity(t *testing.T) {
	c := newCoordinator(t)
	require.NoError(t, c.RegisterType(reflect.TypeOf(plain{}), "billing.plain"))

	require.NoError(t, modctx.In[*plain](c).Call(context.Background()))
	e, ok := c.Lookup("billing.plain")
	require.True(t, ok)
	assert.Equal(t, apis.Settled, e.Context.Phase())
}

func TestContext_ConstructionFailureIsRetried(t *testing.T) {
	c := newCoordinator(t)
	boom := errors.New("boom")
	p := &tracked{buildErr: boom}
	require.NoError(t, modctx.ProvideIn(c, p))
	f := modctx.In[*tracked](c)

	assert.ErrorIs(t, f.Call(context.Background()), boom)
	assert.False(t, f.Created())
	assert.Empty(t, c.Entries())

	p.buildErr = nil
	require.NoError(t, f.Call(context.Background()))
	assert.EqualValues(t, 2, p.builds.Load())
	assert.True(t, f.Created())
}

func TestContext_NilBody(t *testing.T) {
	c := newCoordinator(t)
	_, err := modctx.In[nilBody](c).Context(context.Background())
	assert.ErrorIs(t, err, modctx.ErrNilBody)
}

func TestProvide_Errors(t *testing.T) {
	c := newCoordinator(t)

	var nilProbe *tracked
	assert.ErrorIs(t, modctx.ProvideIn(c, nilProbe), modctx.ErrNilSample)

	require.NoError(t, modctx.ProvideIn(c, &tracked{}))
	assert.ErrorIs(t, modctx.ProvideIn(c, &tracked{}), modctx.ErrAlreadyProvided)

	require.NoError(t, modctx.In[*other](c).Call(context.Background()))
	assert.ErrorIs(t, modctx.ProvideIn(c, &other{}), modctx.ErrAlreadyCreated)
}

func TestUpdate_BeforeCreation(t *testing.T) {
	c := newCoordinator(t)
	f := modctx.In[*tracked](c)

	assert.ErrorIs(t, f.Update(context.Background()), modctx.ErrNotCreated)
	assert.ErrorIs(t, f.UpdateWith(context.Background(), 1), modctx.ErrNotCreated)
	assert.NoError(t, f.Wait(context.Background()))
	assert.NoError(t, f.WaitForAll(context.Background()))
	assert.False(t, f.Created())

	require.NoError(t, f.Call(context.Background()))
	assert.NoError(t, f.UpdateWith(context.Background(), 1))
}

func TestCancel_TwiceOnIdle(t *testing.T) {
	c := newCoordinator(t)
	f := modctx.In[*tracked](c)

	require.NoError(t, f.Cancel(context.Background()))
	require.NoError(t, f.CancelWith(context.Background(), "stopped"))

	lc, err := f.Context(context.Background())
	require.NoError(t, err)
	assert.Equal(t, apis.Cancelled, lc.Phase())
	s, ok := lc.State()
	require.True(t, ok)
	assert.Equal(t, "stopped", s)
}

func TestCallWithContext_FollowUpOnActionError(t *testing.T) {
	c := newCoordinator(t)
	p := &tracked{}
	require.NoError(t, modctx.ProvideIn(c, p))
	f := modctx.In[*tracked](c)

	boom := errors.New("action failed")
	var ranBeforeFollowUp bool
	err := f.CallWithContext(context.Background(), func(_ context.Context, lc *lifecycle.Context) error {
		ranBeforeFollowUp = p.calls.Load() == 0
		return boom
	})

	assert.Same(t, boom, err)
	assert.True(t, ranBeforeFollowUp)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestCallWithContext_FollowUpErrorSurfaces(t *testing.T) {
	c := newCoordinator(t)
	boom := errors.New("body failed")
	require.NoError(t, modctx.ProvideIn(c, &tracked{run: func(context.Context, apis.State) error { return boom }}))
	f := modctx.In[*tracked](c)

	err := f.CallWithContext(context.Background(), func(context.Context, *lifecycle.Context) error { return nil })
	assert.Same(t, boom, err)
}

func TestCallWithContext_FollowUpOnPanic(t *testing.T) {
	c := newCoordinator(t)
	p := &tracked{}
	require.NoError(t, modctx.ProvideIn(c, p))
	f := modctx.In[*tracked](c)

	assert.Panics(t, func() {
		_ = f.CallWithContext(context.Background(), func(context.Context, *lifecycle.Context) error {
			panic("action exploded")
		})
	})
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestCallWithContextTo_RecordsState(t *testing.T) {
	c := newCoordinator(t)
	var seen atomic.Value
	require.NoError(t, modctx.ProvideIn(c, &tracked{run: func(_ context.Context, s apis.State) error {
		seen.Store(s)
		return nil
	}}))
	f := modctx.In[*tracked](c)

	require.NoError(t, f.CallWithContextTo(context.Background(), "ready", func(context.Context, *lifecycle.Context) error {
		return nil
	}))
	assert.Equal(t, "ready", seen.Load())

	lc, err := f.Context(context.Background())
	require.NoError(t, err)
	s, _ := lc.State()
	assert.Equal(t, "ready", s)
}

func TestResultHelpers(t *testing.T) {
	c := newCoordinator(t)
	p := &tracked{}
	require.NoError(t, modctx.ProvideIn(c, p))
	f := modctx.In[*tracked](c)

	phase, err := modctx.WithResult(context.Background(), f, func(_ context.Context, lc *lifecycle.Context) (apis.Phase, error) {
		return lc.Phase(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, apis.Idle, phase)
	assert.Zero(t, p.calls.Load())

	n, err := modctx.CallWithResult(context.Background(), f, func(context.Context, *lifecycle.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.EqualValues(t, 1, p.calls.Load())

	v, err := modctx.CallWithResultTo(context.Background(), f, "s", func(context.Context, *lifecycle.Context) (string, error) {
		return "v", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.EqualValues(t, 2, p.calls.Load())

	assert.ErrorIs(t, f.WithContext(context.Background(), nil), modctx.ErrNilAction)
}

func TestDetached_FailureStaysInBackground(t *testing.T) {
	var logs bytes.Buffer
	c := newCoordinator(t, modctx.WithLogger(observability.NewLogger(zerolog.SyncWriter(&logs), "info", "json")))
	require.NoError(t, modctx.ProvideIn(c, &tracked{run: func(context.Context, apis.State) error {
		return errors.New("detached boom")
	}}))
	f := modctx.In[*tracked](c)

	f.CallDetached()
	f.CallWithDetached(1)
	c.Drain()

	lc, err := f.Context(context.Background())
	require.NoError(t, err)
	assert.Equal(t, apis.Failed, lc.Phase())
	assert.Contains(t, logs.String(), "detached boom")
	assert.Contains(t, logs.String(), "/call")
}

func TestDetached_CallWithContextFollowUp(t *testing.T) {
	c := newCoordinator(t)
	p := &tracked{}
	require.NoError(t, modctx.ProvideIn(c, p))
	f := modctx.In[*tracked](c)

	f.CallWithContextDetached(func(context.Context, *lifecycle.Context) error {
		return errors.New("action failed")
	})
	f.CallWithContextToDetached("s", func(context.Context, *lifecycle.Context) error {
		panic("action exploded")
	})
	c.Drain()
	assert.EqualValues(t, 2, p.calls.Load())

	f.CancelWithDetached("off")
	c.Drain()
	lc, err := f.Context(context.Background())
	require.NoError(t, err)
	assert.Equal(t, apis.Cancelled, lc.Phase())
}

func TestDetached_UpdateAndWithContext(t *testing.T) {
	c := newCoordinator(t)
	f := modctx.In[*tracked](c)

	f.UpdateDetached() // not created yet: logged and dropped
	c.Drain()
	assert.False(t, f.Created())

	f.CallDetached()
	c.Drain()
	f.UpdateWithDetached(3)
	var touched atomic.Bool
	f.WithContextDetached(func(context.Context, *lifecycle.Context) error {
		touched.Store(true)
		return nil
	})
	c.Drain()

	lc, err := f.Context(context.Background())
	require.NoError(t, err)
	s, ok := lc.State()
	require.True(t, ok)
	assert.Equal(t, 3, s)
	assert.True(t, touched.Load())

	f.CancelDetached()
	c.Drain()
	assert.Equal(t, apis.Cancelled, lc.Phase())
}

func TestCrossIdentityIndependence(t *testing.T) {
	c := newCoordinator(t)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, modctx.ProvideIn(c, &tracked{run: func(ctx context.Context, _ apis.State) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}))
	a := modctx.In[*tracked](c)
	b := modctx.In[*other](c)

	done := make(chan error, 1)
	go func() { done <- a.Call(context.Background()) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), settle)
	defer cancel()
	require.NoError(t, b.Call(ctx))
	require.NoError(t, b.Wait(ctx))

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, a.WaitForAll(ctx))
}

func TestOnWillChange(t *testing.T) {
	c := newCoordinator(t)
	f := modctx.In[*tracked](c)

	var mu sync.Mutex
	var tos []apis.Phase
	unsubscribe, err := f.OnWillChange(func(ev apis.Event) {
		mu.Lock()
		defer mu.Unlock()
		tos = append(tos, ev.To)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, f.Call(context.Background()))
	require.NoError(t, f.Cancel(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []apis.Phase{apis.Running, apis.Settled, apis.Cancelled}, tos)
}

func TestEntries_SortedByIdentity(t *testing.T) {
	c := newCoordinator(t)
	require.NoError(t, c.RegisterType(reflect.TypeFor[tracked](), "b.tracked"))
	require.NoError(t, c.RegisterType(reflect.TypeFor[other](), "a.other"))

	require.NoError(t, modctx.In[*tracked](c).Call(context.Background()))
	require.NoError(t, modctx.In[*other](c).Call(context.Background()))

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, apis.Identity("a.other"), entries[0].Identity)
	assert.Equal(t, apis.Identity("b.tracked"), entries[1].Identity)
	assert.IsType(t, &other{}, entries[0].Sample)
}

func TestDefaultCoordinator(t *testing.T) {
	prev := modctx.SetDefault(newCoordinator(t))
	t.Cleanup(func() { modctx.SetDefault(prev) })

	type local struct{ plain }
	require.NoError(t, modctx.RegisterType(reflect.TypeOf(local{}), "default.local"))
	assert.Equal(t, apis.Identity("default.local"), modctx.Identify(&local{}))
	assert.Equal(t, apis.Identity("default.local"), modctx.IdentifyType(reflect.TypeOf(local{})))

	require.NoError(t, modctx.Provide(&tracked{}))
	require.NoError(t, modctx.Of[*tracked]().Call(context.Background()))
	assert.Same(t, modctx.Default(), modctx.Of[*tracked]().Coordinator())

	// Configure keeps explicit registrations and starts a fresh cache.
	require.NoError(t, modctx.Configure(config.NewConfig(config.WithShortNames(true)), modctx.WithLogger(zerolog.Nop())))
	assert.Equal(t, apis.Identity("default.local"), modctx.Identify(local{}))
	assert.True(t, modctx.Default().Config().ShortNames)
	assert.False(t, modctx.Of[*tracked]().Created())

	assert.Same(t, modctx.Default(), modctx.SetDefault(nil))
}

type nilBuilder struct{ apis.Builder }

func (nilBuilder) BuildRegistry(apis.Config, apis.Registry) apis.Registry { return nil }

func TestNew_NilRegistry(t *testing.T) {
	_, err := modctx.New(config.DefaultConfig(), modctx.WithBuilder(nilBuilder{}))
	assert.ErrorIs(t, err, modctx.ErrNilRegistry)
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modctx.toml")
	require.NoError(t, os.WriteFile(path, []byte("short_names = true\nworkers = 2\nlog_level = \"debug\"\n"), 0o600))

	c, err := modctx.NewFromFile(path, modctx.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	assert.True(t, c.Config().ShortNames)
	assert.Equal(t, 2, c.Config().Workers)

	id, err := modctx.In[*plain](c).Identity()
	require.NoError(t, err)
	assert.Equal(t, apis.Identity("modctx_test.plain"), id)

	_, err = modctx.NewFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestCallWithContext_FollowUpAfterDeadline(t *testing.T) {
	c := newCoordinator(t)
	p := &tracked{}
	require.NoError(t, modctx.ProvideIn(c, p))
	f := modctx.In[*tracked](c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.CallWithContextTo(ctx, "after-deadline", func(ctx context.Context, _ *lifecycle.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, p.calls.Load())
	lc, err := f.Context(context.Background())
	require.NoError(t, err)
	assert.Equal(t, apis.Settled, lc.Phase())
	s, _ := lc.State()
	assert.Equal(t, "after-deadline", s)
}

func TestProvideIn_RacingFirstCall(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := newCoordinator(t)
		f := modctx.In[*tracked](c)
		provided := &tracked{}

		var provideErr error
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			provideErr = modctx.ProvideIn(c, provided)
		}()
		go func() {
			defer wg.Done()
			<-start
			if err := f.Call(context.Background()); err != nil {
				t.Errorf("Call: %v", err)
			}
		}()
		close(start)
		wg.Wait()

		id, err := f.Identity()
		require.NoError(t, err)
		e, ok := c.Lookup(id)
		require.True(t, ok)
		if provideErr == nil {
			require.Same(t, provided, e.Sample, "accepted sample must drive the Context")
			require.EqualValues(t, 1, provided.builds.Load())
		} else {
			require.ErrorIs(t, provideErr, modctx.ErrAlreadyCreated)
			require.Zero(t, provided.builds.Load())
		}
	}
}

func TestExplain_NamesResolutionStep(t *testing.T) {
	c := newCoordinator(t)
	require.NoError(t, c.RegisterType(reflect.TypeFor[other](), "pinned.other"))

	cases := []struct {
		name string
		v    any
		id   apis.Identity
		src  apis.Source
	}{
		{"namer", namedA{}, "shared.name", apis.SourceNamer},
		{"registry", &other{}, "pinned.other", apis.SourceRegistry},
		{"reflect", &plain{}, apis.Identity(reflect.TypeFor[plain]().PkgPath() + ".plain"), apis.SourceReflect},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, src := c.Explain(tc.v)
			assert.Equal(t, tc.id, id)
			assert.Equal(t, tc.src, src)
		})
	}
}

func TestContextCreatedLogsSource(t *testing.T) {
	var logs bytes.Buffer
	c := newCoordinator(t, modctx.WithLogger(observability.NewLogger(zerolog.SyncWriter(&logs), "debug", "json")))

	require.NoError(t, modctx.In[namedA](c).Call(context.Background()))
	assert.Contains(t, logs.String(), `"source":"namer"`)
}

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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dirpx.dev/modctx/apis"
	"dirpx.dev/modctx/observability"
)

var (
	// ErrEmptyIdentity is returned when a Context is built without an identity.
	ErrEmptyIdentity = errors.New("modctx(lifecycle): empty identity")
	// ErrNilBody is returned when a Context is built without a body.
	ErrNilBody = errors.New("modctx(lifecycle): nil body")
	// ErrBodyPanicked wraps a panic recovered from a module body.
	ErrBodyPanicked = errors.New("modctx(lifecycle): module body panicked")
)

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger. The module identity is attached as a field.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Context) { c.log = l }
}

// WithMetrics sets the metrics sink. A nil sink disables metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// Context is the long-lived lifecycle of one module. Commands may be issued
// from any goroutine; bodies run one at a time in the order the execution
// lock is acquired.
type Context struct {
	id      apis.Identity
	body    apis.Body
	log     zerolog.Logger
	metrics *observability.Metrics

	// exec serializes body execution.
	exec sync.Mutex

	// mu guards everything below. It is never held while a body or an
	// observer runs.
	mu        sync.Mutex
	phase     apis.Phase
	state     apis.State
	hasState  bool
	lastErr   error
	seq       uint64
	pending   []*op
	observers []observer
	nextObs   uint64
}

type observer struct {
	id uint64
	fn func(apis.Event)
}

// op is one admitted call or update.
type op struct {
	id     uuid.UUID
	seq    uint64
	kind   apis.Command
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// guarded by Context.mu
	started         bool
	cancelRequested bool

	// written once before done is closed
	err error
}

// New builds an Idle Context for the module identified by id.
func New(id apis.Identity, body apis.Body, opts ...Option) (*Context, error) {
	if id == "" {
		return nil, ErrEmptyIdentity
	}
	if body == nil {
		return nil, ErrNilBody
	}
	c := &Context{id: id, body: body, log: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("module", string(id)).Logger()
	return c, nil
}

// Identity returns the module identity this Context belongs to.
func (c *Context) Identity() apis.Identity { return c.id }

// Phase returns the current phase.
func (c *Context) Phase() apis.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// State returns the recorded settle-state, if any.
func (c *Context) State() (apis.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.hasState
}

// Err returns the error of the last completed body, or nil.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Outstanding returns the number of admitted, unfinished operations.
func (c *Context) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// OnWillChange registers fn to be called immediately before every phase
// transition. The returned func removes the observer. fn runs on the
// goroutine driving the transition and must not issue commands on c.
func (c *Context) OnWillChange(fn func(apis.Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextObs++
	id := c.nextObs
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, o := range c.observers {
				if o.id == id {
					c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Call runs the module body. It returns the body error verbatim, or nil
// when the call was stopped by Cancel.
func (c *Context) Call(ctx context.Context) error {
	return c.run(ctx, apis.CommandCall, nil, false)
}

// CallWith is Call with a settle-state, recorded once the body succeeds.
func (c *Context) CallWith(ctx context.Context, state apis.State) error {
	return c.run(ctx, apis.CommandCall, state, true)
}

// Update runs the lighter refresh path of the body.
func (c *Context) Update(ctx context.Context) error {
	return c.run(ctx, apis.CommandUpdate, nil, false)
}

// UpdateWith is Update with a settle-state, recorded once the body succeeds.
func (c *Context) UpdateWith(ctx context.Context, state apis.State) error {
	return c.run(ctx, apis.CommandUpdate, state, true)
}

// Cancel stops every outstanding operation and waits for them to finish
// or for ctx to be done. With nothing outstanding the phase moves straight
// to Cancelled.
func (c *Context) Cancel(ctx context.Context) {
	c.cancel(ctx, nil, false)
}

// CancelWith is Cancel that also records state.
func (c *Context) CancelWith(ctx context.Context, state apis.State) {
	c.cancel(ctx, state, true)
}

// Wait joins the running operation, or the oldest queued one, and returns
// its result. It returns nil when nothing is outstanding.
func (c *Context) Wait(ctx context.Context) error {
	c.mu.Lock()
	var target *op
	for _, o := range c.pending {
		if o.started {
			target = o
			break
		}
	}
	if target == nil && len(c.pending) > 0 {
		target = c.pending[0]
	}
	c.mu.Unlock()

	if target == nil {
		return nil
	}
	select {
	case <-target.done:
		return target.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForAll joins every operation outstanding at the time of the call and
// returns the first failure observed. Operations admitted later are not
// awaited.
func (c *Context) WaitForAll(ctx context.Context) error {
	c.mu.Lock()
	snapshot := make([]*op, len(c.pending))
	copy(snapshot, c.pending)
	c.mu.Unlock()

	var g errgroup.Group
	for _, o := range snapshot {
		g.Go(func() error {
			select {
			case <-o.done:
				return o.err
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

func (c *Context) run(ctx context.Context, kind apis.Command, state apis.State, withState bool) error {
	start := time.Now()
	o := c.admit(ctx, kind)
	c.metrics.CommandAdmitted(string(c.id))

	c.exec.Lock()
	acked, err := c.execute(o, state)
	c.exec.Unlock()

	outcome := observability.OutcomeOK
	switch {
	case acked:
		outcome = observability.OutcomeCancelled
		err = nil
	case err != nil:
		outcome = observability.OutcomeError
	}
	c.finish(o, err, acked, state, withState)
	c.metrics.CommandSettled(string(c.id), string(kind), outcome, time.Since(start))

	c.log.Debug().
		Str("op", o.id.String()).
		Str("command", string(kind)).
		Str("outcome", outcome).
		Err(err).
		Dur("took", time.Since(start)).
		Msg("command settled")
	return err
}

func (c *Context) admit(ctx context.Context, kind apis.Command) *op {
	opCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.seq++
	o := &op{
		id:     uuid.New(),
		seq:    c.seq,
		kind:   kind,
		ctx:    opCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.pending = append(c.pending, o)
	c.mu.Unlock()

	c.log.Debug().Str("op", o.id.String()).Str("command", string(kind)).Uint64("seq", o.seq).Msg("command admitted")
	return o
}

// execute runs the body for o. It must be called with exec held.
// acked reports whether the operation ended because Cancel asked it to.
func (c *Context) execute(o *op, state apis.State) (acked bool, err error) {
	c.mu.Lock()
	if ctxErr := o.ctx.Err(); ctxErr != nil {
		acked = o.cancelRequested
		c.mu.Unlock()
		return acked, ctxErr
	}
	from := c.phase
	c.mu.Unlock()

	c.emit(apis.Event{Identity: c.id, Command: o.kind, From: from, To: apis.Running, State: state})

	c.mu.Lock()
	c.phase = apis.Running
	o.started = true
	c.mu.Unlock()

	err = c.invoke(o, state)

	c.mu.Lock()
	acked = o.cancelRequested && errors.Is(err, context.Canceled)
	c.mu.Unlock()
	return acked, err
}

func (c *Context) invoke(o *op, state apis.State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBodyPanicked, r)
		}
	}()
	if o.kind == apis.CommandUpdate {
		return c.body.Refresh(o.ctx, state)
	}
	return c.body.Run(o.ctx, state)
}

// finish settles o, moves the phase and releases its waiters.
func (c *Context) finish(o *op, err error, acked bool, state apis.State, withState bool) {
	c.mu.Lock()
	from := c.phase
	to := from
	switch {
	case acked:
		to = apis.Cancelled
	case !o.started:
		// Skipped by its caller's own context; nothing ran.
	case err != nil:
		to = apis.Failed
	default:
		to = apis.Settled
	}
	c.mu.Unlock()

	if to != from || o.started {
		c.emit(apis.Event{Identity: c.id, Command: o.kind, From: from, To: to, State: state})
	}

	c.mu.Lock()
	c.phase = to
	if o.started || acked {
		c.lastErr = err
	}
	if withState && err == nil && !acked && o.started {
		c.state, c.hasState = state, true
	}
	for i, p := range c.pending {
		if p == o {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			break
		}
	}
	o.err = err
	close(o.done)
	c.mu.Unlock()
	o.cancel()
}

func (c *Context) cancel(ctx context.Context, state apis.State, withState bool) {
	start := time.Now()
	c.metrics.CommandAdmitted(string(c.id))

	c.mu.Lock()
	targets := make([]*op, 0, len(c.pending))
	for _, o := range c.pending {
		o.cancelRequested = true
		o.cancel()
		targets = append(targets, o)
	}
	if withState {
		c.state, c.hasState = state, true
	}
	from := c.phase
	c.mu.Unlock()

	if len(targets) == 0 {
		c.emit(apis.Event{Identity: c.id, Command: apis.CommandCancel, From: from, To: apis.Cancelled, State: state})
		c.mu.Lock()
		// An operation admitted meanwhile owns the phase now.
		if len(c.pending) == 0 {
			c.phase = apis.Cancelled
		}
		c.mu.Unlock()
	}

	c.log.Debug().Int("targets", len(targets)).Msg("cancel requested")

	for _, o := range targets {
		select {
		case <-o.done:
		case <-ctx.Done():
			c.metrics.CommandSettled(string(c.id), string(apis.CommandCancel), observability.OutcomeCancelled, time.Since(start))
			return
		}
	}
	c.metrics.CommandSettled(string(c.id), string(apis.CommandCancel), observability.OutcomeOK, time.Since(start))
}

func (c *Context) emit(ev apis.Event) {
	c.mu.Lock()
	if len(c.observers) == 0 {
		c.mu.Unlock()
		return
	}
	obs := make([]observer, len(c.observers))
	copy(obs, c.observers)
	c.mu.Unlock()

	for _, o := range obs {
		o.fn(ev)
	}
}

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

package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"dirpx.dev/modctx/observability"
)

// Task is a unit of detached work.
type Task func(ctx context.Context) error

// Pool runs detached tasks in the background, at most Workers at a time.
// Failures never reach the submitter: they are logged and counted.
type Pool struct {
	sem *semaphore.Weighted

	// mu guards active. Wait may overlap Go, which a bare WaitGroup forbids.
	mu     sync.Mutex
	idle   *sync.Cond
	active int

	log     zerolog.Logger
	metrics *observability.Metrics
}

// New returns a Pool that runs at most workers tasks concurrently.
// Non-positive workers means one.
func New(workers int, log zerolog.Logger, metrics *observability.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		log:     log,
		metrics: metrics,
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Go submits fn under the given task name. It never blocks the caller.
func (p *Pool) Go(task string, fn Task) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	go func() {
		defer p.done()
		ctx := context.Background()
		// Acquire only fails on a done context, and Background is never done.
		_ = p.sem.Acquire(ctx, 1)
		defer p.sem.Release(1)

		if err := p.run(ctx, fn); err != nil {
			p.metrics.DetachedFailed(task)
			p.log.Error().Err(err).Str("task", task).Msg("detached task failed")
			return
		}
		p.log.Debug().Str("task", task).Msg("detached task done")
	}()
}

// Wait blocks until no task is running or queued. It is safe to call while
// other goroutines keep submitting; it returns at the first idle moment.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.active > 0 {
		p.idle.Wait()
	}
}

func (p *Pool) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	if p.active == 0 {
		p.idle.Broadcast()
	}
}

func (p *Pool) run(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("modctx(pool): task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

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
	"reflect"

	"dirpx.dev/modctx/apis"
)

// The detached variants below return immediately. Their work runs on the
// Coordinator's pool and failures are logged and counted, never returned.
// Coordinator.Drain waits for them.

// CallDetached is the detached form of Call.
func (f Facade[M]) CallDetached() {
	f.detach(apis.CommandCall, f.Call)
}

// CallWithDetached is the detached form of CallWith.
func (f Facade[M]) CallWithDetached(state apis.State) {
	f.detach(apis.CommandCall, func(ctx context.Context) error {
		return f.CallWith(ctx, state)
	})
}

// CancelDetached is the detached form of Cancel.
func (f Facade[M]) CancelDetached() {
	f.detach(apis.CommandCancel, f.Cancel)
}

// CancelWithDetached is the detached form of CancelWith.
func (f Facade[M]) CancelWithDetached(state apis.State) {
	f.detach(apis.CommandCancel, func(ctx context.Context) error {
		return f.CancelWith(ctx, state)
	})
}

// UpdateDetached is the detached form of Update.
func (f Facade[M]) UpdateDetached() {
	f.detach(apis.CommandUpdate, f.Update)
}

// UpdateWithDetached is the detached form of UpdateWith.
func (f Facade[M]) UpdateWithDetached(state apis.State) {
	f.detach(apis.CommandUpdate, func(ctx context.Context) error {
		return f.UpdateWith(ctx, state)
	})
}

// WithContextDetached runs action against M's Context in the background.
func (f Facade[M]) WithContextDetached(action Action) {
	f.detach("with-context", func(ctx context.Context) error {
		return f.WithContext(ctx, action)
	})
}

// CallWithContextDetached runs action in the background, then one Call.
// The follow-up is deferred inside the task, so it also fires when the
// action fails or panics.
func (f Facade[M]) CallWithContextDetached(action Action) {
	f.detach("call-with-context", func(ctx context.Context) error {
		return f.CallWithContext(ctx, action)
	})
}

// CallWithContextToDetached is CallWithContextDetached whose follow-up is
// CallWith(state).
func (f Facade[M]) CallWithContextToDetached(state apis.State, action Action) {
	f.detach("call-with-context", func(ctx context.Context) error {
		return f.CallWithContextTo(ctx, state, action)
	})
}

func (f Facade[M]) detach(command apis.Command, fn func(context.Context) error) {
	f.c.pool.Go(f.taskName(command), fn)
}

// taskName labels detached work as "<identity>/<command>".
func (f Facade[M]) taskName(command apis.Command) string {
	id, err := f.Identity()
	if err != nil {
		return reflect.TypeFor[M]().String() + "/" + string(command)
	}
	return string(id) + "/" + string(command)
}

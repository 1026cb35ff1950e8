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

import "context"

// State is an application-defined settle-state carried by call/cancel/update
// commands. A nil State means "no state" and leaves the recorded one untouched.
type State = any

// Module is implemented by every module type. The coordinator keeps exactly
// one shared sample per module type and asks it, once, for its Body.
type Module interface {
	// NewBody builds the unit of work paired with this module.
	// A returned error aborts construction; the next access retries.
	NewBody() (Body, error)
}

// Body is the module's business logic as seen by its lifecycle Context.
// Bodies are never executed concurrently for the same module.
type Body interface {
	// Run executes a full call cycle. It should return ctx.Err() (or an error
	// wrapping context.Canceled) once ctx is cancelled.
	Run(ctx context.Context, state State) error
	// Refresh executes the lighter update path.
	Refresh(ctx context.Context, state State) error
}

// BodyFuncs adapts plain functions to Body. A nil Refresh is a no-op.
type BodyFuncs struct {
	RunFunc     func(ctx context.Context, state State) error
	RefreshFunc func(ctx context.Context, state State) error
}

// Run calls RunFunc.
func (b BodyFuncs) Run(ctx context.Context, state State) error {
	if b.RunFunc == nil {
		return nil
	}
	return b.RunFunc(ctx, state)
}

// Refresh calls RefreshFunc.
func (b BodyFuncs) Refresh(ctx context.Context, state State) error {
	if b.RefreshFunc == nil {
		return nil
	}
	return b.RefreshFunc(ctx, state)
}

// Phase is the lifecycle phase of a module Context.
type Phase int

const (
	// Idle is the phase of a Context no command has touched yet.
	Idle Phase = iota
	// Running means a call or update body is executing.
	Running
	// Settled means the last body returned without error.
	Settled
	// Failed means the last body returned an error.
	Failed
	// Cancelled means a cancel command was acknowledged.
	Cancelled
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Settled:
		return "settled"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Command names a lifecycle command.
type Command string

const (
	CommandCall   Command = "call"
	CommandUpdate Command = "update"
	CommandCancel Command = "cancel"
)

// Event is delivered to will-change observers immediately before a Context
// changes phase.
type Event struct {
	Identity Identity
	Command  Command
	From     Phase
	To       Phase
	// State is the settle-state carried by the command, if any.
	State State
}

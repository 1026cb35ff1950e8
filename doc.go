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

// Package modctx keeps one long-lived lifecycle Context per module type and
// exposes a uniform command protocol for driving it from any goroutine.
//
// # Model
//
// A module is any type implementing apis.Module. Each module type has one
// shared sample value: the one installed with Provide, or its zero value
// (pointer types are allocated). The sample is resolved to an apis.Identity,
// in priority order:
//
//  1. If the sample implements apis.Namer, ModuleName() is used.
//  2. If its type was registered with RegisterType, that identity is used.
//  3. Otherwise the reflect strategy derives "import/path.Type"
//     ("pkg.Type" with ShortNames).
//
// *T and T resolve to the same identity and therefore the same Context.
//
// On first use the sample's NewBody is called exactly once, even under
// concurrent first access, and the resulting lifecycle.Context is cached for
// the life of the Coordinator. A failed construction is not cached; the next
// access retries it.
//
// # Commands
//
// Facade[M] is the command surface of module type M:
//
//	f := modctx.Of[*Ledger]()
//	if err := f.Call(ctx); err != nil { ... }
//	f.CancelWith(ctx, reason)
//	f.UpdateDetached()
//
// Call and Update run the body (Run and Refresh respectively) one at a time
// per module. Cancel stops every outstanding operation; a cancelled call
// returns nil. Wait joins the current operation and WaitForAll joins all of
// those outstanding when it is called.
//
// CallWithContext runs an action against the Context and then issues one
// Call on every exit path, including errors and panics, so the module always
// settles after the action.
//
// Every command has a Detached variant that returns immediately. Detached
// work runs on a bounded pool; its failures are logged and counted, never
// returned. Coordinator.Drain waits for it.
//
// # Coordinators
//
// A Coordinator owns the resolver, the context cache, the detached pool, a
// zerolog logger and prometheus metrics. The package keeps a process-wide
// default in an atomic pointer (Default, SetDefault, Configure) used by Of,
// Provide and the identity helpers. Tests and embedding programs can build
// isolated coordinators with New and bind facades to them with In.
package modctx

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

// Config carries the knobs shared by identity resolution, the detached
// executor and the ambient logging/metrics stack.
// It is passed by value and should be treated as immutable by implementations.
type Config struct {
	// MaxUnwrap limits how many pointer levels are peeled off a module type
	// before its nearest named type is used as the identity source.
	MaxUnwrap int

	// ShortNames derives reflect-based identities as "pkg.Type" (last import
	// path segment) instead of the fully qualified "import/path.Type".
	// Short names are friendlier in logs but may collide across packages.
	ShortNames bool

	// Workers bounds how many detached commands execute at the same time.
	Workers int

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// LogFormat is either "console" or "json".
	LogFormat string

	// Namespace prefixes every exported metric.
	Namespace string
}

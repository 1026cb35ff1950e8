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

package reflect

import (
	"errors"
	"path"
	"reflect"
	"regexp"
	"strings"

	"dirpx.dev/modctx/apis"
	"dirpx.dev/modctx/config"
)

var (
	// ErrReflectNilType is returned when a nil reflect.Type is provided.
	ErrReflectNilType = errors.New("modctx(reflect): nil reflect.Type provided")
	// ErrReflectTypeNotNamed indicates that the type, after peeling pointers,
	// is not a named type (anonymous struct, func literal, interface{} ...).
	ErrReflectTypeNotNamed = errors.New("modctx(reflect): module type is not named")
	// ErrReflectNotModuleKind indicates a container kind that cannot be a
	// module type (slice, map, chan, func).
	ErrReflectNotModuleKind = errors.New("modctx(reflect): kind cannot identify a module")
)

// Normalize peels pointers off t (at most cfg.MaxUnwrap levels) and returns
// the named type underneath, so *M and M identify the same module.
//
// Unlike generic naming, containers are rejected: []M is a collection of
// modules, not a module. If MaxUnwrap <= 0, DefaultMaxUnwrap is used.
func Normalize(t reflect.Type, cfg apis.Config) (reflect.Type, error) {
	if t == nil {
		return nil, ErrReflectNilType
	}
	maxUnwrap := cfg.MaxUnwrap
	if maxUnwrap <= 0 {
		maxUnwrap = config.DefaultMaxUnwrap
	}

	for i := 0; t.Kind() == reflect.Pointer; i++ {
		if i >= maxUnwrap {
			return nil, ErrReflectTypeNotNamed
		}
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Chan, reflect.Func:
		return nil, ErrReflectNotModuleKind
	}
	if t.Name() == "" {
		return nil, ErrReflectTypeNotNamed
	}
	return t, nil
}

// QualifiedName renders a normalized type as "import/path.Type", or as
// "pkg.Type" when short is set. Generic instantiation parameters are kept so
// that M[A] and M[B] stay distinct modules.
func QualifiedName(t reflect.Type, short bool) string {
	name := t.Name()
	p := t.PkgPath()
	if p == "" {
		return name
	}
	if short {
		// Strip the package qualifiers inside type arguments too.
		return path.Base(p) + "." + shortenTypeArgs(name)
	}
	return p + "." + name
}

// importPrefix matches the "example.com/x/" part of a qualified type argument.
var importPrefix = regexp.MustCompile(`[A-Za-z0-9_.~-]+/`)

// shortenTypeArgs turns "Box[example.com/x/y.Item]" into "Box[y.Item]".
func shortenTypeArgs(name string) string {
	if strings.IndexByte(name, '[') < 0 {
		return name
	}
	return importPrefix.ReplaceAllString(name, "")
}

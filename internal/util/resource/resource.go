// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resource provides utilities for tracking resource lifetimes.
package resource

import (
	"fmt"
	"reflect"
	"runtime"
	runtimedebug "runtime/debug"
	"runtime/pprof"
	"sync"

	"github.com/FerretDB/docsql/internal/util/debugbuild"
)

// Token is stored in a tracked object to identify it in the profile.
//
// In debug builds it also carries the creation stack trace.
type Token struct {
	stack []byte
}

// NewToken returns a new Token.
func NewToken() *Token {
	var stack []byte
	if debugbuild.Enabled {
		stack = runtimedebug.Stack()
	}

	return &Token{
		stack: stack,
	}
}

// profilesM protects access to profiles.
var profilesM sync.Mutex

// profileName returns pprof profile name for the given object.
func profileName(obj any) string {
	return "docsql/" + reflect.TypeOf(obj).Elem().String()
}

// Track tracks the lifetime of an object until Untrack is called on it.
//
// A tracked object that becomes garbage without being untracked
// makes the finalizer panic, surfacing the leak.
func Track(obj any, token *Token) {
	if obj == nil || token == nil {
		panic("obj and token must not be nil")
	}

	name := profileName(obj)

	p := pprof.Lookup(name)

	if p == nil {
		profilesM.Lock()

		// a concurrent call might have created a profile already; check again
		if p = pprof.Lookup(name); p == nil {
			p = pprof.NewProfile(name)
		}

		profilesM.Unlock()
	}

	// use token instead of obj itself,
	// because otherwise profile would hold a reference to obj and the finalizer would never run
	p.Add(token, 1)

	runtime.SetFinalizer(obj, func(obj any) {
		msg := fmt.Sprintf("%T has not been finalized", obj)
		if token.stack != nil {
			msg += "\nObject created by " + string(token.stack)
		}

		panic(msg)
	})
}

// Untrack stops tracking the lifetime of an object.
func Untrack(obj any, token *Token) {
	if obj == nil || token == nil {
		panic("obj and token must not be nil")
	}

	p := pprof.Lookup(profileName(obj))
	if p == nil {
		panic("object is not tracked")
	}

	p.Remove(token)

	runtime.SetFinalizer(obj, nil)
}

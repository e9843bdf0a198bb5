// Copyright 2024-2026 Volute Labs, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dbg provides a debug tracer for the allocators in this module.
//
// Tracing is compiled in but disabled unless the MEMCOREDEBUG environment
// variable is nonempty. Inside of tests, output can be redirected into the
// test's log with [WithTesting].
package dbg

import (
	"fmt"
	"os"
	"sync"
	"testing"
)

// Enabled is whether debug tracing is on for this process.
var Enabled = os.Getenv("MEMCOREDEBUG") != ""

var (
	mu   sync.Mutex
	sink func(string)
)

// Log writes a trace line for some operation.
//
// prefix identifies the traced object (a format string followed by its
// arguments); op names the operation.
func Log(prefix []any, op, format string, args ...any) {
	if !Enabled {
		return
	}

	var line string
	if len(prefix) > 0 {
		line = fmt.Sprintf(prefix[0].(string), prefix[1:]...) + " "
	}
	line += op
	if format != "" {
		line += ": " + fmt.Sprintf(format, args...)
	}

	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		sink(line)
		return
	}
	fmt.Fprintln(os.Stderr, line)
}

// WithTesting redirects trace output into t's log until the returned
// function is called.
func WithTesting(t *testing.T) func() {
	mu.Lock()
	prev := sink
	sink = func(line string) { t.Log(line) }
	mu.Unlock()

	return func() {
		mu.Lock()
		sink = prev
		mu.Unlock()
	}
}

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

package dbg

import (
	"fmt"

	"github.com/timandy/routine"
)

// Owner records which goroutine owns a single-owner structure.
//
// The arena pool is not safe for concurrent use; callers pin a pool to one
// request or connection. When tracing is enabled, Assert catches accidental
// sharing by panicking on access from a second goroutine. When tracing is
// off, every method is a no-op.
type Owner struct {
	goid uint64
}

// Claim records the calling goroutine as the owner.
func (o *Owner) Claim() {
	if !Enabled {
		return
	}
	o.goid = routine.Goid()
}

// Release clears the owner, allowing a handoff to another goroutine.
func (o *Owner) Release() {
	if !Enabled {
		return
	}
	o.goid = 0
}

// Assert panics if the calling goroutine is not the recorded owner.
func (o *Owner) Assert(what string) {
	if !Enabled || o.goid == 0 {
		return
	}
	if goid := routine.Goid(); goid != o.goid {
		panic(fmt.Sprintf(
			"memcore: %s used from goroutine %d, owned by goroutine %d",
			what, goid, o.goid))
	}
}

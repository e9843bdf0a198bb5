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

package pool

import (
	"github.com/volute/memcore/internal/xunsafe"
	"github.com/volute/memcore/internal/xunsafe/layout"
)

// Make allocates a zeroed value of type T on the pool.
//
// T must not contain pointers; the pool's memory is invisible to the
// garbage collector.
func Make[T any](p *Pool) *T {
	if layout.Align[T]() > Align {
		panic("memcore: over-aligned object")
	}

	return xunsafe.Cast[T](p.AllocZero(layout.Size[T]()))
}

// MakeSlice allocates a zeroed slice of n values of type T on the pool.
//
// The same pointer-free restriction as [Make] applies.
func MakeSlice[T any](p *Pool, n int) []T {
	if layout.Align[T]() > Align {
		panic("memcore: over-aligned object")
	}

	return xunsafe.Slice(xunsafe.Cast[T](p.AllocZero(n*layout.Size[T]())), n)
}

// Bytes allocates n bytes of pool memory, aligned to Align.
func (p *Pool) Bytes(n int) []byte {
	return xunsafe.Slice(p.Alloc(n), n)
}

// Dup copies s into unaligned pool memory.
func (p *Pool) Dup(s string) []byte {
	b := xunsafe.Slice(p.AllocUnaligned(len(s)), len(s))
	copy(b, s)
	return b
}

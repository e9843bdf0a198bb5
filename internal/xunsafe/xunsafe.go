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

// Package xunsafe provides a more convenient interface for performing unsafe
// operations than Go's built-in package unsafe.
package xunsafe

import (
	"sync"
	"unsafe"

	"github.com/volute/memcore/internal/xunsafe/layout"
)

const (
	PointerSize  = int(unsafe.Sizeof(unsafe.Pointer(nil)))
	PointerAlign = int(unsafe.Sizeof(unsafe.Pointer(nil)))
)

// NoCopy is a type that go vet will complain about having been moved.
//
// It does so by implementing [sync.Locker].
type NoCopy [0]sync.Mutex

// Int is any integer type.
type Int = layout.Int

// BitCast performs an unsafe bitcast from one type to another.
func BitCast[To, From any](v From) To {
	return *(*To)(unsafe.Pointer(&v))
}

// Cast casts one pointer type to another.
func Cast[To, From any](p *From) *To {
	return (*To)(unsafe.Pointer(p))
}

// Add adds the given offset to p, scaled by the size of E.
func Add[P ~*E, E any, I Int](p P, n I) P {
	return P(unsafe.Add(unsafe.Pointer(p), uintptr(layout.Size[E]())*uintptr(n)))
}

// Sub computes the difference between two pointers, scaled by the size of E.
func Sub[P ~*E, E any](p1, p2 P) int {
	return int(uintptr(unsafe.Pointer(p1))-uintptr(unsafe.Pointer(p2))) / layout.Size[E]()
}

// Load loads a value of the given type at the given index.
func Load[P ~*E, E any, I Int](p P, n I) E {
	return *Add(p, n)
}

// Store stores a value at the given index.
func Store[P ~*E, E any, I Int](p P, n I, v E) {
	*Add(p, n) = v
}

// ByteAdd adds the given offset to p, without scaling.
func ByteAdd[P ~*E, E any, I Int](p P, n I) P {
	return P(unsafe.Add(unsafe.Pointer(p), uintptr(n)))
}

// ByteLoad loads a value of the given type at the given byte offset.
func ByteLoad[T any, P ~*E, E any, I Int](p P, n I) T {
	return *Cast[T](ByteAdd(p, n))
}

// ByteStore stores a value of the given type at the given byte offset.
func ByteStore[T any, P ~*E, E any, I Int](p P, n I, v T) {
	*Cast[T](ByteAdd(p, n)) = v
}

// Slice is like [unsafe.Slice], but isn't as branchy.
func Slice[P ~*E, E any, I Int](p P, len I) []E {
	return Slice2(p, len, len)
}

// Slice2 is like [unsafe.Slice], but allows specifying length and capacity
// separately.
func Slice2[P ~*E, E any, I Int](p P, len, cap I) []E {
	return unsafe.Slice(p, cap)[:len]
}

// String is like [unsafe.String], but isn't as branchy.
func String[P ~*E, E any, I Int](p P, len I) string {
	slice := struct {
		ptr P
		len int
	}{p, int(len) * layout.Size[E]()}

	return BitCast[string](slice)
}

// Copy copies n elements from one pointer to the other.
func Copy[P ~*E, E any, I Int](dst, src P, n I) {
	copy(Slice(dst, n), Slice(src, n))
}

// Clear zeros n elements at p.
func Clear[P ~*E, E any, I Int](p P, n I) {
	clear(Slice(p, n))
}

var (
	alwaysFalse bool
	sink        unsafe.Pointer //nolint:unused
)

// Escape escapes a pointer to the heap.
func Escape[P ~*E, E any](p P) P {
	if alwaysFalse {
		sink = unsafe.Pointer(p)
	}
	return p
}

// NoEscape hides a pointer from escape analysis, preventing it from
// escaping to the heap.
func NoEscape[P ~*E, E any](p P) P {
	//nolint:staticcheck // False positive: complains that p^0 does nothing.
	return P((AddrOf(p) ^ 0).AssertValid())
}

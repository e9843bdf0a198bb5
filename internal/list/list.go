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

// Package list implements a list of arrays: appends are O(1) because the
// container chains fixed-capacity blocks instead of reallocating, and no
// element ever moves once appended.
//
// Blocks are ordinary heap allocations; elements may therefore contain
// pointers, unlike arena-pool storage.
package list

import (
	"unsafe"

	"github.com/volute/memcore/internal/queue"
)

// part is one fixed-capacity block. The queue link must stay the first
// field: parts are recovered from their links at offset zero.
type part[T any] struct {
	link queue.Queue
	elts []T
}

// List is a list of arrays of T.
type List[T any] struct {
	parts  queue.Queue
	last   *part[T]
	nalloc int
	n      int
}

// New creates a list whose blocks hold nalloc elements each.
func New[T any](nalloc int) *List[T] {
	if nalloc < 1 {
		nalloc = 1
	}

	l := &List[T]{nalloc: nalloc}
	l.parts.Init()
	l.grow()
	return l
}

func (l *List[T]) grow() {
	p := &part[T]{elts: make([]T, 0, l.nalloc)}
	l.parts.InsertTail(&p.link)
	l.last = p
}

// Append adds v to the list and returns a pointer to the stored element,
// stable for the lifetime of the list.
func (l *List[T]) Append(v T) *T {
	if len(l.last.elts) == cap(l.last.elts) {
		l.grow()
	}

	p := l.last
	p.elts = append(p.elts, v)
	l.n++
	return &p.elts[len(p.elts)-1]
}

// Len returns the number of elements appended.
func (l *List[T]) Len() int { return l.n }

// Each calls f for every element in append order until f returns false.
func (l *List[T]) Each(f func(*T) bool) {
	for q := l.parts.Head(); q != l.parts.Sentinel(); q = q.Next() {
		p := queue.Data[part[T]](q, unsafe.Offsetof(part[T]{}.link))
		for i := range p.elts {
			if !f(&p.elts[i]) {
				return
			}
		}
	}
}

// Slice copies the elements into one contiguous slice in append order.
func (l *List[T]) Slice() []T {
	out := make([]T, 0, l.n)
	l.Each(func(v *T) bool {
		out = append(out, *v)
		return true
	})
	return out
}

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

// Package queue implements an intrusive doubly-linked list with a sentinel
// node.
//
// A Queue is embedded into the element type; the list itself is a Queue
// value used as the sentinel. An empty queue is a sentinel that links to
// itself. [Data] recovers the enclosing element from an embedded link.
package queue

import "github.com/volute/memcore/internal/xunsafe"

// Queue is a link in an intrusive doubly-linked list, and doubles as the
// list head (sentinel).
type Queue struct {
	prev, next *Queue
}

// Init makes q an empty list.
func (q *Queue) Init() {
	q.prev = q
	q.next = q
}

// Empty reports whether the list is empty.
func (q *Queue) Empty() bool {
	return q == q.prev
}

// Head returns the first element of the list.
func (q *Queue) Head() *Queue { return q.next }

// Last returns the last element of the list.
func (q *Queue) Last() *Queue { return q.prev }

// Sentinel returns the list's sentinel node.
func (q *Queue) Sentinel() *Queue { return q }

// Next returns the element after q.
func (q *Queue) Next() *Queue { return q.next }

// Prev returns the element before q.
func (q *Queue) Prev() *Queue { return q.prev }

// InsertHead inserts x at the head of the list.
func (q *Queue) InsertHead(x *Queue) {
	x.next = q.next
	x.next.prev = x
	x.prev = q
	q.next = x
}

// InsertAfter is an alias of InsertHead: it inserts x right after q.
func (q *Queue) InsertAfter(x *Queue) { q.InsertHead(x) }

// InsertTail inserts x at the tail of the list.
func (q *Queue) InsertTail(x *Queue) {
	x.prev = q.prev
	x.prev.next = x
	x.next = q
	q.prev = x
}

// Remove unlinks x from its list.
func Remove(x *Queue) {
	x.next.prev = x.prev
	x.prev.next = x.next
	x.prev, x.next = nil, nil
}

// Split splits the list at x: everything from x to the tail moves onto n,
// which must be an uninitialized sentinel.
func (q *Queue) Split(x, n *Queue) {
	n.prev = q.prev
	n.prev.next = n
	n.next = x
	q.prev = x.prev
	q.prev.next = q
	x.prev = n
}

// Add appends the list rooted at n onto the tail of q. n is left dangling.
func (q *Queue) Add(n *Queue) {
	q.prev.next = n.next
	n.next.prev = q.prev
	q.prev = n.prev
	q.prev.next = q
}

// Data recovers the element containing the link q, where offset is the byte
// offset of the link inside the element (use unsafe.Offsetof at the call
// site).
func Data[T any](q *Queue, offset uintptr) *T {
	return xunsafe.Cast[T](xunsafe.ByteAdd(q, -int(offset)))
}

// Middle finds the middle element if the list has an odd number of elements,
// or the first element of the second half otherwise.
func (q *Queue) Middle() *Queue {
	middle := q.Head()

	if middle == q.Last() {
		return middle
	}

	next := q.Head()

	for {
		middle = middle.Next()

		next = next.Next()
		if next == q.Last() {
			return middle
		}

		next = next.Next()
		if next == q.Last() {
			return middle
		}
	}
}

// Sort sorts the list with a stable insertion sort.
func (q *Queue) Sort(cmp func(a, b *Queue) int) {
	x := q.Head()

	if x == q.Last() {
		return
	}

	var next *Queue
	for x = x.Next(); x != q.Sentinel(); x = next {
		prev := x.Prev()
		next = x.Next()

		Remove(x)

		for cmp(prev, x) > 0 {
			prev = prev.Prev()
			if prev == q.Sentinel() {
				break
			}
		}

		prev.InsertAfter(x)
	}
}

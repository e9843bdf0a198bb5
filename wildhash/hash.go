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

// Package wildhash implements build-once hash tables keyed by domain
// names: exact lookup, leading-wildcard lookup ("*.example.com", with the
// ".example.com" form that also matches the bare domain), and
// trailing-wildcard lookup ("www.example.*").
//
// A table is built offline by [Init.Build] or [Init.BuildWildcard] from
// keys collected in a [KeyStage], with permanent storage taken from an
// arena pool. Once built it is immutable: lookups never mutate and may
// run concurrently from any number of readers with no synchronization.
//
// # Layout
//
// Each bucket is one packed byte sequence of records
//
//	{ref uint64, len uint16, name [len]byte, pad to 8}
//
// terminated by a record whose ref is zero. All buckets live in a single
// cache-line-aligned backing allocated from the pool. A record's ref
// carries a tag in its low two bits and an index in the rest:
//
//	00 — terminal value, valid for the wildcard and the exact form
//	01 — terminal value, valid for the wildcard form only
//	10 — child wildcard hash, both forms accepted
//	11 — child wildcard hash, wildcard form only
//
// Tags 00/01 index the table's value slice; 10/11 index its child slice.
package wildhash

import (
	"strings"
	"unsafe"

	"github.com/volute/memcore/internal/xunsafe"
)

const (
	refMask = uint64(3)

	// refBytes + the padded length prefix give every record the layout
	// of the classic {value, len, name[]} element.
	refBytes = 8
	lenBytes = 2
)

// Hash is an exact-match hash table.
type Hash struct {
	buckets  []int32 // byte offset of each bucket in elts; -1 when empty
	elts     []byte  // packed records; pool memory
	values   []any
	children []*Wildcard
}

// Wildcard is a hash table for one level of dot-separated keys, linking
// recursively to the tables for the following levels.
type Wildcard struct {
	Hash

	// Value is returned when a lookup consumes the whole key at this
	// level and the matching record admits the exact form.
	Value any
}

// Combined dispatches lookups over an exact hash and the two wildcard
// hashes with fixed precedence: exact, then head wildcards, then tail
// wildcards.
type Combined struct {
	Hash   Hash
	WcHead *Wildcard
	WcTail *Wildcard
}

// Empty reports whether the table has no buckets.
func (h *Hash) Empty() bool { return len(h.buckets) == 0 }

// Size returns the bucket count.
func (h *Hash) Size() int { return len(h.buckets) }

// Find looks name up by its precomputed hash and returns the stored
// value, or nil on a miss. name must be lowercase; records are stored
// lowercased at build time.
func (h *Hash) Find(key uint, name string) any {
	ref := h.findRef(key, name)
	if ref == 0 || ref&refMask != 0 {
		return nil
	}
	return h.values[ref>>2-1]
}

// findRef walks the packed bucket for name and returns the raw tagged
// ref, or 0 on a miss.
func (h *Hash) findRef(key uint, name string) uint64 {
	if len(h.buckets) == 0 {
		return 0
	}

	off := h.buckets[key%uint(len(h.buckets))]
	if off < 0 {
		return 0
	}

	base := unsafe.SliceData(h.elts)
	for {
		ref := xunsafe.ByteLoad[uint64](base, off)
		if ref == 0 {
			return 0
		}

		n := int(xunsafe.ByteLoad[uint16](base, off+refBytes))
		if n == len(name) &&
			xunsafe.String(xunsafe.ByteAdd(base, int(off)+refBytes+lenBytes), n) == name {
			return ref
		}

		off += int32(recordSize(n))
	}
}

func (h *Hash) child(ref uint64) *Wildcard {
	return h.children[ref>>2-1]
}

func (h *Hash) terminal(ref uint64) any {
	return h.values[ref>>2-1]
}

// FindWcHead resolves name against a head-wildcard table: the rightmost
// dot-separated segment selects the record, and the rest of the name
// recurses into child tables.
func (hwc *Wildcard) FindWcHead(name string) any {
	n := len(name)
	for n > 0 && name[n-1] != '.' {
		n--
	}

	ref := hwc.findRef(KeyHash(name[n:]), name[n:])

	if ref != 0 {
		if ref&2 != 0 {
			if n == 0 {
				// The whole name matched this level's segment.
				if ref&1 != 0 {
					return nil
				}
				return hwc.child(ref).Value
			}

			child := hwc.child(ref)
			if value := child.FindWcHead(name[:n-1]); value != nil {
				return value
			}
			return child.Value
		}

		if ref&1 != 0 {
			if n == 0 {
				return nil
			}
			return hwc.terminal(ref)
		}

		return hwc.terminal(ref)
	}

	return hwc.Value
}

// FindWcTail resolves name against a tail-wildcard table: the leftmost
// dot-separated segment selects the record. A name without a dot cannot
// match.
func (hwc *Wildcard) FindWcTail(name string) any {
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return nil
	}

	ref := hwc.findRef(KeyHash(name[:i]), name[:i])

	if ref != 0 {
		if ref&2 != 0 {
			child := hwc.child(ref)
			if value := child.FindWcTail(name[i+1:]); value != nil {
				return value
			}
			return child.Value
		}

		return hwc.terminal(ref)
	}

	return hwc.Value
}

// Find looks name up with exact > head-wildcard > tail-wildcard
// precedence, returning the first hit.
func (c *Combined) Find(key uint, name string) any {
	if !c.Hash.Empty() {
		if value := c.Hash.Find(key, name); value != nil {
			return value
		}
	}

	if len(name) == 0 {
		return nil
	}

	if c.WcHead != nil && !c.WcHead.Empty() {
		if value := c.WcHead.FindWcHead(name); value != nil {
			return value
		}
	}

	if c.WcTail != nil && !c.WcTail.Empty() {
		if value := c.WcTail.FindWcTail(name); value != nil {
			return value
		}
	}

	return nil
}

// recordSize returns the packed size of a record with an n-byte name,
// including the padding that aligns its successor.
func recordSize(n int) int {
	return refBytes + (n+lenBytes+refBytes-1)&^(refBytes-1)
}

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

// Package pool implements an arena pool: a chain of fixed-capacity blocks
// that serves small allocations by bumping a cursor, routes oversize
// allocations to the heap, and releases everything at once on Reset or
// Destroy. Cleanup hooks registered on the pool run at Destroy in LIFO
// order.
//
// A pool is single-owner. It is not safe for concurrent use; higher layers
// pin a pool to one worker, request, or connection lifetime.
//
// Pointers returned by Alloc must only be used to store pointer-free data:
// the pool's blocks are opaque byte arrays that the garbage collector does
// not scan. A pointer into a block keeps that block's memory alive, so the
// returned memory is valid until Reset or Destroy even if the caller drops
// its *Pool.
package pool

import (
	"log/slog"
	"os"
	"unsafe"

	"github.com/volute/memcore"
	"github.com/volute/memcore/internal/dbg"
	"github.com/volute/memcore/internal/xunsafe"
	"github.com/volute/memcore/internal/xunsafe/layout"
)

const (
	// Align is the alignment of allocations returned by Alloc.
	Align = int(unsafe.Sizeof(uintptr(0)))

	// BlockAlign is the alignment of the pool's blocks.
	BlockAlign = 16

	// DefaultSize is a reasonable block size for request-lifetime pools.
	DefaultSize = 16 * 1024
)

// Header mirrors of the classic layout. Blocks reserve this much of their
// capacity so that usable space, the small-allocation ceiling, and the
// Reset rewind position all match the original implementation bit for bit.
type blockHeader struct {
	last, end, next, failed uintptr
}

type poolHeader struct {
	d                                  blockHeader
	max                                uintptr
	current, chain, large, cleanup, lg uintptr
}

var (
	blockHeaderSize = layout.Size[blockHeader]()
	poolHeaderSize  = layout.Size[poolHeader]()

	pagesize = os.Getpagesize()
)

// MinSize is the smallest usable pool size: the header plus room for a
// couple of oversize-list entries.
var MinSize = layout.RoundUp(poolHeaderSize+2*2*Align, BlockAlign)

// Pool is an arena pool.
type Pool struct {
	_ xunsafe.NoCopy

	head    *block
	current *block
	size    int // block capacity, including header reservation
	max     int // small-allocation ceiling

	large   *large
	cleanup *Cleanup

	log   *slog.Logger
	owner dbg.Owner
}

// block is one contiguous byte range with a bump cursor.
//
// base/last/end address into buf; holding buf pins the range for the GC.
type block struct {
	buf             []byte
	base, last, end xunsafe.Addr[byte]
	next            *block
	failed          uint
}

// large tracks one oversize allocation. Entries whose alloc is nil are
// reusable slots.
type large struct {
	next  *large
	alloc *byte
}

// New creates a pool whose blocks hold size bytes each, aligned to
// BlockAlign. Sizes smaller than MinSize are raised to it.
//
// log may be nil, in which case [slog.Default] is used.
func New(size int, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if size < MinSize {
		size = MinSize
	}

	p := &Pool{size: size, log: log}
	b := newBlock(size)
	b.last = b.base.ByteAdd(poolHeaderSize)

	p.head = b
	p.current = b
	p.max = min(size-poolHeaderSize, pagesize-1)
	p.owner.Claim()

	p.trace("create", "size %d max %d", size, p.max)
	return p
}

func newBlock(size int) *block {
	buf := make([]byte, size+BlockAlign)
	base := xunsafe.AddrOf(unsafe.SliceData(buf)).RoundUpTo(BlockAlign)

	return &block{
		buf:  buf,
		base: base,
		last: base.ByteAdd(blockHeaderSize),
		end:  base.ByteAdd(size),
	}
}

// Log returns the pool's logger.
func (p *Pool) Log() *slog.Logger { return p.log }

// Max returns the small-allocation ceiling: requests above it are routed
// to the oversize path.
func (p *Pool) Max() int { return p.max }

// Alloc allocates size bytes aligned to Align.
func (p *Pool) Alloc(size int) *byte {
	p.owner.Assert("pool")

	if size <= p.max {
		return p.allocSmall(size, true)
	}
	return p.allocLarge(size)
}

// AllocUnaligned is Alloc without pre-aligning the cursor.
func (p *Pool) AllocUnaligned(size int) *byte {
	p.owner.Assert("pool")

	if size <= p.max {
		return p.allocSmall(size, false)
	}
	return p.allocLarge(size)
}

// AllocZero is Alloc followed by zeroing the memory.
func (p *Pool) AllocZero(size int) *byte {
	m := p.Alloc(size)
	xunsafe.Clear(m, size)
	return m
}

func (p *Pool) allocSmall(size int, align bool) *byte {
	for b := p.current; b != nil; b = b.next {
		m := b.last
		if align {
			m = m.RoundUpTo(Align)
		}

		if int(b.end)-int(m) >= size {
			b.last = m.ByteAdd(size)
			p.trace("alloc", "%v:%d", m, size)
			return m.AssertValid()
		}
	}

	return p.allocBlock(size)
}

// allocBlock appends a fresh block and serves the allocation from its
// start. Every block walked on the way to the tail gets its failed counter
// bumped; current is promoted past the prefix that keeps failing.
func (p *Pool) allocBlock(size int) *byte {
	nb := newBlock(p.size)

	m := nb.last.RoundUpTo(Align)
	nb.last = m.ByteAdd(size)

	current := p.current
	b := current
	for ; b.next != nil; b = b.next {
		if b.failed > 4 {
			current = b.next
		}
		b.failed++
	}

	b.next = nb
	p.current = current

	p.trace("alloc block", "%v:%d", m, size)
	return m.AssertValid()
}

// allocLarge serves an oversize request from the heap and records it on
// the oversize list. The first four entries are scanned for a reusable
// slot; past that a new entry is pushed at the head.
func (p *Pool) allocLarge(size int) *byte {
	buf := make([]byte, size)
	ptr := unsafe.SliceData(buf)
	p.trace("alloc large", "%p:%d", ptr, size)

	n := 0
	for l := p.large; l != nil; l = l.next {
		if l.alloc == nil {
			l.alloc = ptr
			return ptr
		}

		if n >= 3 {
			break
		}
		n++
	}

	p.large = &large{next: p.large, alloc: ptr}
	return ptr
}

// Memalign allocates size bytes aligned to align, which must be a power of
// two. The allocation is always recorded on the oversize list, whatever
// its size.
func (p *Pool) Memalign(size, align int) *byte {
	p.owner.Assert("pool")

	buf := make([]byte, size+align)
	ptr := xunsafe.AddrOf(unsafe.SliceData(buf)).RoundUpTo(align).AssertValid()
	p.trace("memalign", "%p:%d:%d", ptr, size, align)

	p.large = &large{next: p.large, alloc: ptr}
	return ptr
}

// Free releases the oversize allocation at ptr, if there is one. Returns
// OK on a hit and Declined otherwise; small allocations are never
// individually freed and always report Declined.
func (p *Pool) Free(ptr *byte) memcore.Status {
	p.owner.Assert("pool")

	for l := p.large; l != nil; l = l.next {
		if l.alloc == ptr {
			p.trace("free", "%p", ptr)
			l.alloc = nil
			return memcore.OK
		}
	}

	return memcore.Declined
}

// Reset releases every oversize allocation and rewinds every block's
// cursor, keeping the block chain for reuse.
//
// Every block rewinds past a full pool header, not just the first that
// actually carries one; non-head blocks waste the difference. This matches
// the reference layout exactly.
func (p *Pool) Reset() {
	p.owner.Assert("pool")
	p.trace("reset", "")

	p.large = nil

	for b := p.head; b != nil; b = b.next {
		b.last = b.base.ByteAdd(poolHeaderSize)
		b.failed = 0
	}
	p.current = p.head
}

// Destroy runs the registered cleanup handlers, releases every oversize
// allocation, and frees all blocks. The pool must not be used afterwards.
func (p *Pool) Destroy() {
	p.owner.Assert("pool")

	for c := p.cleanup; c != nil; c = c.next {
		if c.Handler != nil {
			p.trace("run cleanup", "%p", c)
			c.Handler(c.Data)
		}
	}
	p.cleanup = nil

	for l := p.large; l != nil; l = l.next {
		p.trace("free", "%p", l.alloc)
		l.alloc = nil
	}
	p.large = nil

	for b := p.head; b != nil; b = b.next {
		p.trace("free block", "%v, unused: %d", b.base, int(b.end-b.last))
		b.buf = nil
	}
	p.head = nil
	p.current = nil
}

func (p *Pool) trace(op, format string, args ...any) {
	dbg.Log([]any{"pool %p", p}, op, format, args...)
}

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

// Package slab implements a fixed-page slab allocator over a single byte
// region, designed so that the region can live in shared memory.
//
// The region is carved into a header, an array of size-class slot heads,
// an array of page descriptors, and a page-aligned page area. Requests of
// half a page or more take whole page runs; smaller requests subdivide a
// page into equal power-of-two chunks tracked by a bitmap. Depending on
// the chunk size the bitmap lives in the page itself (SMALL), exactly in
// the descriptor's slab word (EXACT), or in the word's high half (BIG).
//
// Nothing stored in the region is a native pointer: descriptors link to
// each other by region byte offsets, so any process may map the region at
// any base address. Chunk addresses handed to callers are likewise region
// offsets; offset 0 is the header and doubles as the null result.
//
// The region's mutex serializes Alloc and Free across processes. The
// Locked variants assume the caller already holds it.
package slab

import (
	"context"
	"log/slog"
	"math/bits"
	"os"
	"unsafe"

	"github.com/volute/memcore"
	"github.com/volute/memcore/internal/dbg"
	"github.com/volute/memcore/internal/xunsafe"
	"github.com/volute/memcore/internal/xunsafe/layout"
	"github.com/volute/memcore/shm"
)

// Page descriptor regime tags, stored in the low two bits of prev.
const (
	tagPage  = 0
	tagBig   = 1
	tagExact = 2
	tagSmall = 3

	tagMask = 3
)

const (
	wordBits = bits.UintSize

	pageFree  = uintptr(0)
	pageBusy  = ^uintptr(0)
	pageStart = uintptr(1) << (wordBits - 1)

	shiftMask = uintptr(0xf)
	mapShift  = wordBits / 2
	mapMask   = (^uintptr(0) >> mapShift) << mapShift

	allBusy = ^uintptr(0)
)

// Derived once per process, like the page size itself.
var (
	pagesize  int
	pageShift uint

	maxSize    int
	exactSize  int
	exactShift uint
)

func init() {
	pagesize = os.Getpagesize()
	pageShift = layout.Log2(uint(pagesize))

	maxSize = pagesize / 2
	exactSize = pagesize / (8 * layout.Size[uintptr]())
	exactShift = layout.Log2(uint(exactSize))
}

// PageSize returns the page size the allocator subdivides.
func PageSize() int { return pagesize }

// MaxSize returns the boundary between chunk allocation and whole-page
// allocation.
func MaxSize() int { return maxSize }

// ExactSize returns the chunk size whose page bitmap fits exactly in one
// descriptor word.
func ExactSize() int { return exactSize }

// header sits at offset 0 of the region.
type header struct {
	lock     uint32
	_        uint32
	minSize  uintptr
	minShift uintptr
	free     page
}

// page is a page descriptor (or a size-class slot head, which shares the
// shape). next and prev are region byte offsets; the low two bits of prev
// carry the regime tag.
type page struct {
	slab uintptr
	next uintptr
	prev uintptr
}

var (
	headerSize = layout.Size[header]()
	descSize   = layout.Size[page]()

	freeOff = int(unsafe.Offsetof(header{}.free))
)

// Pool is a slab pool over one region. The Pool value itself holds only
// this process's view (base pointer, derived offsets, logger); all shared
// state lives in the region.
type Pool struct {
	region []byte
	base   *byte

	mu  shm.Mutex
	log *slog.Logger

	minSize  int
	minShift uint

	slotsOff int // offset of the slot array
	nslots   int
	pagesOff int // offset of the page descriptor array
	npages   int
	start    int // offset of the page area; page aligned
	end      int
}

// Init formats region as a fresh slab pool with the given smallest chunk
// shift and returns the process-local handle. The region must be at least
// header + one page; minShift must satisfy 1<<minShift <= ExactSize.
//
// log may be nil, in which case [slog.Default] is used.
func Init(region []byte, minShift uint, log *slog.Logger) (*Pool, error) {
	p, err := view(region, minShift, log)
	if err != nil {
		return nil, err
	}

	hdr := p.hdr()
	hdr.lock = 0
	hdr.minSize = uintptr(p.minSize)
	hdr.minShift = uintptr(minShift)

	slots := p.slots()
	for i := range slots {
		slots[i].slab = 0
		slots[i].next = uintptr(p.slotOff(i)) // empty list points at itself
		slots[i].prev = 0
	}

	descs := p.descs()
	clear(descs)

	hdr.free.prev = 0
	hdr.free.next = uintptr(p.pagesOff)

	descs[0].slab = uintptr(p.npages)
	descs[0].next = uintptr(freeOff)
	descs[0].prev = uintptr(freeOff)

	p.trace("init", "%d pages of %d, min chunk %d", p.npages, pagesize, p.minSize)
	return p, nil
}

// Attach opens an already formatted region, e.g. one inherited from the
// process that called Init. No shared state is touched.
func Attach(region []byte, log *slog.Logger) (*Pool, error) {
	if len(region) < headerSize {
		return nil, errTooSmall
	}

	minShift := uint(xunsafe.Cast[header](unsafe.SliceData(region)).minShift)
	return view(region, minShift, log)
}

// view computes the process-local geometry. It is deterministic in the
// region length and minShift, so every process derives identical offsets.
func view(region []byte, minShift uint, log *slog.Logger) (*Pool, error) {
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		region:   region,
		base:     unsafe.SliceData(region),
		log:      log,
		minShift: minShift,
		minSize:  1 << minShift,
	}
	p.mu = shm.MutexAt(xunsafe.Cast[uint32](p.base))

	if minShift > exactShift {
		return nil, errMinShift
	}

	off := headerSize
	size := len(region) - off

	p.slotsOff = off
	p.nslots = int(pageShift - minShift)
	off += p.nslots * descSize

	pages := size / (pagesize + descSize)
	p.pagesOff = off

	p.start = layout.RoundUp(off+pages*descSize, pagesize)
	if m := pages - (len(region)-p.start)/pagesize; m > 0 {
		pages -= m
	}
	if pages <= 0 {
		return nil, errTooSmall
	}

	p.npages = pages
	p.end = p.start + pages*pagesize

	return p, nil
}

// Start returns the offset of the page area.
func (p *Pool) Start() int { return p.start }

// End returns the offset one past the page area.
func (p *Pool) End() int { return p.end }

// Pages returns the number of pages in the page area.
func (p *Pool) Pages() int { return p.npages }

// Bytes returns the n bytes of the region at offset off.
func (p *Pool) Bytes(off, n int) []byte {
	return p.region[off : off+n : off+n]
}

// Alloc allocates size bytes and returns the region offset of the chunk,
// or 0 if no memory is available. It takes the pool mutex.
func (p *Pool) Alloc(size int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.AllocLocked(size)
}

// AllocLocked is Alloc for callers that already hold the pool mutex.
func (p *Pool) AllocLocked(size int) int {
	if size >= maxSize {
		pages := size >> pageShift
		if size&(pagesize-1) != 0 {
			pages++
		}

		pg := p.allocPages(pages)
		if pg == nil {
			return 0
		}
		off := p.start + p.pageIndex(pg)<<pageShift
		p.trace("alloc", "%d pages at %#x", pages, off)
		return off
	}

	var shift, slot uint
	if size > p.minSize {
		shift = 1
		for s := (size - 1) >> 1; s != 0; s >>= 1 {
			shift++
		}
		slot = shift - p.minShift
	} else {
		size = p.minSize
		shift = p.minShift
		slot = 0
	}

	p.trace("alloc", "%d bytes, slot %d", size, slot)

	if off := p.allocChunk(shift, slot); off != 0 {
		return off
	}
	return p.allocSlab(shift, slot)
}

// allocChunk scans the slot's partially-used pages for a free chunk.
func (p *Pool) allocChunk(shift, slot uint) int {
	slotOff := uintptr(p.slotOff(int(slot)))
	head := p.at(slotOff)

	switch {
	case shift < exactShift:
		for off := head.next; off != slotOff; {
			pg := p.at(off)
			pageOff := p.start + p.pageIndex(pg)<<pageShift
			bitmap := p.bitmap(pageOff)

			words := (1 << (pageShift - shift)) / wordBits
			for n := 0; n < words; n++ {
				if bitmap[n] == allBusy {
					continue
				}

				for m, i := uintptr(1), uint(0); m != 0; m, i = m<<1, i+1 {
					if bitmap[n]&m != 0 {
						continue
					}

					bitmap[n] |= m

					if bitmap[n] == allBusy && p.wordsBusy(bitmap, n+1, words) {
						p.unlink(pg)
						pg.next = 0
						pg.prev = tagSmall
					}

					chunk := (uint(n)*wordBits + i) << shift
					return pageOff + int(chunk)
				}
			}

			off = pg.next
		}

	case shift == exactShift:
		for off := head.next; off != slotOff; {
			pg := p.at(off)

			if pg.slab != allBusy {
				for m, i := uintptr(1), uint(0); m != 0; m, i = m<<1, i+1 {
					if pg.slab&m != 0 {
						continue
					}

					pg.slab |= m

					if pg.slab == allBusy {
						p.unlink(pg)
						pg.next = 0
						pg.prev = tagExact
					}

					return p.start + p.pageIndex(pg)<<pageShift + int(i)<<shift
				}
			}

			off = pg.next
		}

	default: // shift > exactShift
		chunks := uint(1) << (pageShift - shift)
		mask := (uintptr(1)<<chunks - 1) << mapShift

		for off := head.next; off != slotOff; {
			pg := p.at(off)

			if pg.slab&mapMask != mask {
				for m, i := uintptr(1)<<mapShift, uint(0); m&mask != 0; m, i = m<<1, i+1 {
					if pg.slab&m != 0 {
						continue
					}

					pg.slab |= m

					if pg.slab&mapMask == mask {
						p.unlink(pg)
						pg.next = 0
						pg.prev = tagBig
					}

					return p.start + p.pageIndex(pg)<<pageShift + int(i)<<shift
				}
			}

			off = pg.next
		}
	}

	return 0
}

// allocSlab takes a page off the free list and initializes it for the
// given size class, returning the first serviceable chunk.
func (p *Pool) allocSlab(shift, slot uint) int {
	pg := p.allocPages(1)
	if pg == nil {
		return 0
	}

	pgOff := uintptr(p.descOff(pg))
	slotOff := uintptr(p.slotOff(int(slot)))
	head := p.at(slotOff)
	pageOff := p.start + p.pageIndex(pg)<<pageShift

	switch {
	case shift < exactShift:
		bitmap := p.bitmap(pageOff)

		// The bitmap occupies the leading chunks of the page itself;
		// mark those plus the one being served.
		s := 1 << shift
		n := (1 << (pageShift - shift)) / 8 / s
		if n == 0 {
			n = 1
		}
		bitmap[0] = 2<<uint(n) - 1

		words := (1 << (pageShift - shift)) / wordBits
		for i := 1; i < words; i++ {
			bitmap[i] = 0
		}

		pg.slab = uintptr(shift)
		pg.next = slotOff
		pg.prev = slotOff | tagSmall
		head.next = pgOff

		return pageOff + s*n

	case shift == exactShift:
		pg.slab = 1
		pg.next = slotOff
		pg.prev = slotOff | tagExact
		head.next = pgOff

		return pageOff

	default:
		pg.slab = uintptr(1)<<mapShift | uintptr(shift)
		pg.next = slotOff
		pg.prev = slotOff | tagBig
		head.next = pgOff

		return pageOff
	}
}

// Free releases the chunk at region offset off. It takes the pool mutex.
func (p *Pool) Free(off int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.FreeLocked(off)
}

// FreeLocked is Free for callers that already hold the pool mutex.
//
// Corruption (an offset outside the pool, misaligned for its chunk size,
// or already free) is logged and the operation abandoned without touching
// pool state.
func (p *Pool) FreeLocked(off int) {
	p.trace("free", "%#x", off)

	if off < p.start || off >= p.end {
		p.error("slab free: offset outside of pool")
		return
	}

	n := (off - p.start) >> pageShift
	pg := &p.descs()[n]
	slab := pg.slab

	switch pg.prev & tagMask {
	case tagSmall:
		shift := uint(slab & shiftMask)
		size := 1 << shift

		if off&(size-1) != 0 {
			p.error("slab free: offset to wrong chunk")
			return
		}

		c := uint(off&(pagesize-1)) >> shift
		m := uintptr(1) << (c & (wordBits - 1))
		w := int(c / wordBits)
		bitmap := p.bitmap(off &^ (pagesize - 1))

		if bitmap[w]&m == 0 {
			p.error("slab free: chunk is already free")
			return
		}

		if pg.next == 0 {
			p.relink(pg, shift-p.minShift, tagSmall)
		}

		bitmap[w] &^= m

		reserved := (1 << (pageShift - shift)) / 8 / size
		if reserved == 0 {
			reserved = 1
		}

		if bitmap[0]&^(uintptr(1)<<uint(reserved)-1) != 0 {
			return
		}

		words := (1 << (pageShift - shift)) / wordBits
		for i := 1; i < words; i++ {
			if bitmap[i] != 0 {
				return
			}
		}

		p.freePages(pg, 1)

	case tagExact:
		m := uintptr(1) << (uint(off&(pagesize-1)) >> exactShift)

		if off&(exactSize-1) != 0 {
			p.error("slab free: offset to wrong chunk")
			return
		}

		if slab&m == 0 {
			p.error("slab free: chunk is already free")
			return
		}

		if slab == allBusy {
			p.relink(pg, exactShift-p.minShift, tagExact)
		}

		pg.slab &^= m
		if pg.slab != 0 {
			return
		}

		p.freePages(pg, 1)

	case tagBig:
		shift := uint(slab & shiftMask)
		size := 1 << shift

		if off&(size-1) != 0 {
			p.error("slab free: offset to wrong chunk")
			return
		}

		m := uintptr(1) << (uint(off&(pagesize-1))>>shift + mapShift)

		if slab&m == 0 {
			p.error("slab free: chunk is already free")
			return
		}

		if pg.next == 0 {
			p.relink(pg, shift-p.minShift, tagBig)
		}

		pg.slab &^= m
		if pg.slab&mapMask != 0 {
			return
		}

		p.freePages(pg, 1)

	case tagPage:
		if off&(pagesize-1) != 0 {
			p.error("slab free: offset to wrong chunk")
			return
		}

		if slab&pageStart == 0 {
			p.error("slab free: page is already free")
			return
		}
		if slab == pageBusy {
			p.error("slab free: offset to wrong page")
			return
		}

		p.freePages(pg, int(slab&^pageStart))
	}
}

// allocPages walks the free list for the first run of at least pages
// pages, splitting it when strictly longer.
func (p *Pool) allocPages(pages int) *page {
	hdr := p.hdr()

	for off := hdr.free.next; off != uintptr(freeOff); {
		pg := p.at(off)

		if int(pg.slab) >= pages {
			if int(pg.slab) > pages {
				rest := xunsafe.Add(pg, pages)
				restOff := off + uintptr(pages*descSize)

				rest.slab = pg.slab - uintptr(pages)
				rest.next = pg.next
				rest.prev = pg.prev

				p.at(pg.prev).next = restOff
				p.at(pg.next).prev = restOff
			} else {
				p.at(pg.prev).next = pg.next
				p.at(pg.next).prev = pg.prev
			}

			pg.slab = uintptr(pages) | pageStart
			pg.next = 0
			pg.prev = tagPage

			for i := 1; i < pages; i++ {
				busy := xunsafe.Add(pg, i)
				busy.slab = pageBusy
				busy.next = 0
				busy.prev = tagPage
			}

			return pg
		}

		off = pg.next
	}

	p.log.Log(context.Background(), memcore.LevelCrit,
		"slab alloc failed: no memory", "pages", pages)
	return nil
}

// freePages returns the run of pages pages headed by pg to the free list.
// Runs are pushed at the head and never coalesced with neighbors.
func (p *Pool) freePages(pg *page, pages int) {
	pg.slab = uintptr(pages)
	if pages > 1 {
		xunsafe.Clear(xunsafe.Add(pg, 1), pages-1)
	}

	if pg.next != 0 {
		p.unlink(pg)
	}

	hdr := p.hdr()
	pgOff := uintptr(p.descOff(pg))

	pg.prev = uintptr(freeOff)
	pg.next = hdr.free.next
	p.at(pg.next).prev = pgOff
	hdr.free.next = pgOff
}

// unlink removes pg from the doubly-linked list it is on, preserving the
// tags stored in neighboring prev words.
func (p *Pool) unlink(pg *page) {
	prev := p.at(pg.prev &^ tagMask)
	prev.next = pg.next
	p.at(pg.next).prev = pg.prev
}

// relink puts a formerly-full page back at the head of its slot list.
func (p *Pool) relink(pg *page, slot uint, tag uintptr) {
	slotOff := uintptr(p.slotOff(int(slot)))
	head := p.at(slotOff)
	pgOff := uintptr(p.descOff(pg))

	pg.next = head.next
	head.next = pgOff

	pg.prev = slotOff | tag
	p.at(pg.next).prev = pgOff | tag
}

func (p *Pool) hdr() *header {
	return xunsafe.Cast[header](p.base)
}

func (p *Pool) at(off uintptr) *page {
	return xunsafe.Cast[page](xunsafe.ByteAdd(p.base, off))
}

func (p *Pool) slots() []page {
	return xunsafe.Slice(p.at(uintptr(p.slotsOff)), p.nslots)
}

func (p *Pool) descs() []page {
	return xunsafe.Slice(p.at(uintptr(p.pagesOff)), p.npages)
}

func (p *Pool) slotOff(i int) int {
	return p.slotsOff + i*descSize
}

func (p *Pool) descOff(pg *page) int {
	return int(uintptr(xunsafe.AddrOf(pg)) - uintptr(xunsafe.AddrOf(p.base)))
}

func (p *Pool) pageIndex(pg *page) int {
	return (p.descOff(pg) - p.pagesOff) / descSize
}

// bitmap views the page starting at region offset pageOff as bitmap words.
func (p *Pool) bitmap(pageOff int) []uintptr {
	ptr := xunsafe.Cast[uintptr](xunsafe.ByteAdd(p.base, pageOff))
	return xunsafe.Slice(ptr, pagesize/layout.Size[uintptr]())
}

func (p *Pool) wordsBusy(bitmap []uintptr, from, to int) bool {
	for i := from; i < to; i++ {
		if bitmap[i] != allBusy {
			return false
		}
	}
	return true
}

func (p *Pool) error(msg string) {
	p.log.Log(context.Background(), memcore.LevelAlert, msg)
}

func (p *Pool) trace(op, format string, args ...any) {
	dbg.Log([]any{"slab %p", p.base}, op, format, args...)
}

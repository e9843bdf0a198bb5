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

// Package buf defines the buffer and chain descriptors handed between
// the allocators and the output layers. A Buf describes a byte range
// that lives in memory, in a file, or both; a Chain links Bufs into the
// segments an output filter consumes.
package buf

import (
	"os"

	"github.com/volute/memcore/pool"
)

// Buf describes one byte range.
//
// For in-memory content, Pos..Last index the active range inside Start..
// End, which bound the backing memory: Start <= Pos <= Last <= End. For
// file content, FilePos..FileLast is the byte range in File.
//
// Temporary, Memory and Mmap are mutually exclusive; LastBuf implies
// LastInChain.
type Buf struct {
	B         []byte // backing memory; Start and End are its bounds
	Pos, Last int

	FilePos, FileLast int64
	File              *os.File

	// Tag identifies the buffer's owner, typically the module that
	// allocated it.
	Tag any

	// Shadow co-references another descriptor over the same backing.
	Shadow *Buf

	Temporary bool // memory range mutable by downstream filters
	Memory    bool // immutable in-memory content
	Mmap      bool // immutable memory-mapped content

	Recycled bool // may be reused once downstream consumed it
	InFile   bool // payload is in File
	Flush    bool // requests an immediate downstream flush
	Sync     bool // tolerates blocking I/O

	LastBuf     bool // final buffer of the whole stream
	LastInChain bool // final buffer of this chain segment

	LastShadow bool // final alias among the shadows
	TempFile   bool // File is a server-created temporary
}

// Size returns the number of bytes the buffer currently holds.
func (b *Buf) Size() int {
	if b.InMemory() {
		return b.Last - b.Pos
	}
	return int(b.FileLast - b.FilePos)
}

// InMemory reports whether the content is addressable memory.
func (b *Buf) InMemory() bool {
	return b.Temporary || b.Memory || b.Mmap
}

// Special reports a zero-size buffer that only carries flags.
func (b *Buf) Special() bool {
	return !b.InMemory() && !b.InFile
}

// Chain links buffers into a singly-linked segment.
type Chain struct {
	Buf  *Buf
	Next *Chain
}

// ChainError is the sentinel distinguishing a failed chain operation
// from end-of-chain.
var ChainError = &Chain{}

// NewTemp allocates a writable buffer of size bytes of pool memory.
func NewTemp(p *pool.Pool, size int) *Buf {
	return &Buf{
		B:         p.Bytes(size),
		Temporary: true,
	}
}

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

package shm

import (
	"runtime"
	"sync/atomic"
)

// Mutex is a spin lock whose state word lives in caller-chosen memory,
// typically inside a shared-memory zone so that it is visible to every
// process mapping the region.
//
// The zero word is unlocked. There is no queue and no fairness; the lock
// is held for the few hundred nanoseconds a slab operation takes.
type Mutex struct {
	word *uint32
	spin uint
}

// MutexAt places a mutex over the given word. The word must be 4-byte
// aligned and zeroed exactly once by the region's creator.
func MutexAt(word *uint32) Mutex {
	return Mutex{word: word, spin: 2048}
}

// TryLock attempts to take the lock without waiting.
func (m Mutex) TryLock() bool {
	return atomic.LoadUint32(m.word) == 0 &&
		atomic.CompareAndSwapUint32(m.word, 0, 1)
}

// Lock takes the lock, spinning with exponential backoff and yielding the
// processor between rounds.
func (m Mutex) Lock() {
	for {
		if m.TryLock() {
			return
		}

		for n := uint(1); n < m.spin; n <<= 1 {
			for i := uint(0); i < n; i++ {
				cpuRelax()
			}

			if m.TryLock() {
				return
			}
		}

		runtime.Gosched()
	}
}

// Unlock releases the lock.
func (m Mutex) Unlock() {
	atomic.StoreUint32(m.word, 0)
}

//go:noinline
func cpuRelax() {
	// A call that the compiler cannot elide; stands in for a pause
	// instruction between CAS attempts.
}

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

// Package shm provides shared-memory zones and the cross-process mutex
// that guards structures placed inside them.
//
// A Zone's mapping is MAP_SHARED|MAP_ANONYMOUS: it is inherited across
// fork, which is how a master process hands a slab arena to its workers.
// Structures stored in a zone must be offset-based; different processes
// map the region at different base addresses.
package shm

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/volute/memcore/internal/dbg"
)

// Zone is one shared-memory region.
type Zone struct {
	// ID tags the zone in logs and diagnostics.
	ID uuid.UUID

	// Name is the human-readable zone name.
	Name string

	// Data is the mapped region.
	Data []byte

	log *slog.Logger
}

// NewZone maps a shared anonymous region of size bytes.
//
// log may be nil, in which case [slog.Default] is used.
func NewZone(name string, size int, log *slog.Logger) (*Zone, error) {
	if log == nil {
		log = slog.Default()
	}

	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %q (%d bytes): %w", name, size, err)
	}

	z := &Zone{
		ID:   uuid.New(),
		Name: name,
		Data: data,
		log:  log,
	}

	dbg.Log([]any{"zone %s", z.ID}, "map", "%q %d bytes", name, size)
	return z, nil
}

// Close unmaps the zone. The region stays alive in any process that still
// maps it.
func (z *Zone) Close() error {
	if z.Data == nil {
		return nil
	}

	dbg.Log([]any{"zone %s", z.ID}, "unmap", "%q", z.Name)

	err := unix.Munmap(z.Data)
	z.Data = nil
	if err != nil {
		return fmt.Errorf("shm: munmap %q: %w", z.Name, err)
	}
	return nil
}

// Log returns the zone's logger, annotated with the zone identity.
func (z *Zone) Log() *slog.Logger {
	return z.log.With("zone", z.Name, "zone_id", z.ID.String())
}

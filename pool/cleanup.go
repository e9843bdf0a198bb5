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
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"reflect"

	"github.com/volute/memcore"
	"github.com/volute/memcore/internal/dbg"
)

// Cleanup is one registered cleanup hook. The pool runs Handler(Data) at
// Destroy, newest registration first. Handlers must not fail observably;
// anything they cannot do is logged and swallowed so that Destroy
// completes.
type Cleanup struct {
	Handler func(data any)
	Data    any
	next    *Cleanup
}

// CleanupAdd registers a new cleanup hook and returns it for the caller to
// fill in. If size > 0, Data is preset to a size-byte slice of pool
// memory for the handler's use.
func (p *Pool) CleanupAdd(size int) *Cleanup {
	p.owner.Assert("pool")

	c := &Cleanup{next: p.cleanup}
	if size > 0 {
		c.Data = p.Bytes(size)
	}
	p.cleanup = c

	p.trace("add cleanup", "%p", c)
	return c
}

// CleanupFileData is the Data payload for the CleanupFile and DeleteFile
// handlers.
type CleanupFileData struct {
	File *os.File
	Name string
	Log  *slog.Logger
}

// CleanupFile is a cleanup handler that closes data's file.
func CleanupFile(data any) {
	c := data.(*CleanupFileData)

	dbgTraceFile(c, "file cleanup")

	if err := c.File.Close(); err != nil {
		c.logger().Log(context.Background(), memcore.LevelAlert,
			"close failed", "name", c.Name, "error", err)
	}
}

// DeleteFile is a cleanup handler that deletes and closes data's file.
// Used for server-created temporary files whose lifetime is bound to the
// pool.
func DeleteFile(data any) {
	c := data.(*CleanupFileData)

	dbgTraceFile(c, "file delete")

	if err := os.Remove(c.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger().Log(context.Background(), memcore.LevelCrit,
			"delete failed", "name", c.Name, "error", err)
	}

	if err := c.File.Close(); err != nil {
		c.logger().Log(context.Background(), memcore.LevelAlert,
			"close failed", "name", c.Name, "error", err)
	}
}

// RunCleanupFile runs the CleanupFile hook whose file descriptor is fd,
// then disarms it so a later Destroy skips it. Hooks with other handlers,
// including DeleteFile, are left alone.
func (p *Pool) RunCleanupFile(fd uintptr) {
	p.owner.Assert("pool")

	for c := p.cleanup; c != nil; c = c.next {
		if c.Handler == nil || !sameHandler(c.Handler, CleanupFile) {
			continue
		}

		cf := c.Data.(*CleanupFileData)
		if cf.File.Fd() == fd {
			c.Handler(cf)
			c.Handler = nil
			return
		}
	}
}

// sameHandler compares two handler funcs by code pointer. Go functions are
// not comparable; for the top-level handlers this package hands out, the
// code pointer is identity enough.
func sameHandler(a, b func(data any)) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func (c *CleanupFileData) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

func dbgTraceFile(c *CleanupFileData, op string) {
	if c.File != nil {
		dbg.Log([]any{"pool"}, op, "fd:%d %s", c.File.Fd(), c.Name)
	}
}

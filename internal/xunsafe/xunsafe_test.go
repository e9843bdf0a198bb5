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

package xunsafe_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volute/memcore/internal/xunsafe"
)

func TestAddrArithmetic(t *testing.T) {
	t.Parallel()

	buf := make([]uint64, 8)
	a := xunsafe.AddrOf(&buf[0])

	require.Equal(t, a.Add(3), xunsafe.AddrOf(&buf[3]))
	require.Equal(t, a.ByteAdd(16), xunsafe.AddrOf(&buf[2]))
	require.Equal(t, 5, xunsafe.AddrOf(&buf[5]).Sub(a))
	require.Equal(t, xunsafe.EndOf(buf), a.Add(8))
}

func TestRoundUpTo(t *testing.T) {
	t.Parallel()

	a := xunsafe.Addr[byte](65)
	require.Equal(t, xunsafe.Addr[byte](128), a.RoundUpTo(64))
	require.Equal(t, a, a.RoundUpTo(1))

	prev, next := xunsafe.Addr[byte](70).Misalign(64)
	require.Equal(t, 6, prev)
	require.Equal(t, 58, next)

	prev, next = xunsafe.Addr[byte](64).Misalign(64)
	require.Zero(t, prev)
	require.Zero(t, next)
}

func TestByteLoadStore(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 32)
	p := &buf[0]

	xunsafe.ByteStore(p, 8, uint64(0xdeadbeef))
	require.Equal(t, uint64(0xdeadbeef), xunsafe.ByteLoad[uint64](p, 8))

	xunsafe.ByteStore(p, 16, uint16(7))
	require.Equal(t, uint16(7), xunsafe.ByteLoad[uint16](p, 16))
}

func TestSliceAndString(t *testing.T) {
	t.Parallel()

	buf := []byte("hello, world")
	s := xunsafe.String(&buf[7], 5)
	require.Equal(t, "world", s)

	v := xunsafe.Slice(&buf[0], 5)
	require.Equal(t, []byte("hello"), v)
}

func TestCast(t *testing.T) {
	t.Parallel()

	var x uint64 = 0x0102030405060708
	lo := *xunsafe.Cast[uint32](&x)
	require.Equal(t, x, xunsafe.BitCast[uint64](x))
	require.NotZero(t, lo)
}

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

package layout_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volute/memcore/internal/xunsafe/layout"
)

func TestRoundUp(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, layout.RoundUp(0, 8))
	require.Equal(t, 8, layout.RoundUp(1, 8))
	require.Equal(t, 8, layout.RoundUp(8, 8))
	require.Equal(t, 128, layout.RoundUp(65, 64))

	require.Equal(t, 7, layout.Padding(1, 8))
	require.Equal(t, 0, layout.Padding(16, 8))
}

func TestLog2(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint(0), layout.Log2(1))
	require.Equal(t, uint(6), layout.Log2(64))
	require.Equal(t, uint(6), layout.Log2(127))
	require.Equal(t, uint(12), layout.Log2(4096))

	require.Equal(t, uint(0), layout.CeilLog2(1))
	require.Equal(t, uint(6), layout.CeilLog2(64))
	require.Equal(t, uint(7), layout.CeilLog2(65))
}

func TestPow2(t *testing.T) {
	t.Parallel()

	require.True(t, layout.IsPow2(1))
	require.True(t, layout.IsPow2(4096))
	require.False(t, layout.IsPow2(0))
	require.False(t, layout.IsPow2(72))
}

func TestOf(t *testing.T) {
	t.Parallel()

	type s struct {
		_ uint64
		_ byte
	}

	l := layout.Of[s]()
	require.Equal(t, 16, l.Size)
	require.Equal(t, 8, l.Align)

	m := l.Max(layout.Of[[40]byte]())
	require.Equal(t, 40, m.Size)
	require.Equal(t, 8, m.Align)
}

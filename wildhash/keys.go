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

package wildhash

import (
	"strings"

	"github.com/volute/memcore"
	"github.com/volute/memcore/internal/list"
	"github.com/volute/memcore/internal/xunsafe"
	"github.com/volute/memcore/pool"
)

// KeyHash hashes key with the classic times-31 walk.
func KeyHash(key string) uint {
	var k uint
	for i := 0; i < len(key); i++ {
		k = k*31 + uint(key[i])
	}
	return k
}

// KeyHashLower is KeyHash over the ASCII-lowercased key.
func KeyHashLower(key string) uint {
	var k uint
	for i := 0; i < len(key); i++ {
		k = k*31 + uint(lower(key[i]))
	}
	return k
}

// StrLowerHash lowercases src into dst and returns the hash of the
// lowered bytes. dst must be at least len(src) bytes.
func StrLowerHash(dst []byte, src string) uint {
	var k uint
	for i := 0; i < len(src); i++ {
		dst[i] = lower(src[i])
		k = k*31 + uint(dst[i])
	}
	return k
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c | 0x20
	}
	return c
}

// Staging presets.
const (
	// StageSmall suits a handful of keys: 107 dedup buckets, small
	// initial arrays.
	StageSmall = iota
	// StageLarge suits configurations with tens of thousands of keys.
	StageLarge
)

const (
	largeHsize = 10007
	largeAsize = 16384
)

// Add flags.
const (
	// WildcardKey enables the wildcard key forms "*.example.com",
	// ".example.com" and "www.example.*".
	WildcardKey = 1 << iota
	// ReadOnlyKey keeps an exact key's case; without it exact keys are
	// lowercased. Wildcard keys are lowercased either way.
	ReadOnlyKey
)

// KeyStage collects and deduplicates keys for a combined hash build: one
// array of exact keys and one per wildcard direction, with the wildcard
// keys already preprocessed into build form.
type KeyStage struct {
	hsize uint

	// TempPool owns the preprocessed key bytes. It must outlive the
	// built tables only if ReadOnlyKey rewrites are in play; the builder
	// copies every key into its own storage.
	TempPool *pool.Pool

	Keys      *list.List[Entry]
	DnsWcHead *list.List[Entry]
	DnsWcTail *list.List[Entry]

	keysHash      [][]string
	dnsWcHeadHash [][]string
	dnsWcTailHash [][]string
}

// NewKeyStage returns a stage with the StageSmall or StageLarge preset.
func NewKeyStage(preset int, tempPool *pool.Pool) *KeyStage {
	asize := 4
	hsize := uint(107)
	if preset == StageLarge {
		asize = largeAsize
		hsize = largeHsize
	}

	return &KeyStage{
		hsize:         hsize,
		TempPool:      tempPool,
		Keys:          list.New[Entry](asize),
		DnsWcHead:     list.New[Entry](asize),
		DnsWcTail:     list.New[Entry](asize),
		keysHash:      make([][]string, hsize),
		dnsWcHeadHash: make([][]string, hsize),
		dnsWcTailHash: make([][]string, hsize),
	}
}

// Add validates key, deduplicates it, and appends it to the matching
// output array. Returns Busy for a duplicate, Declined for a malformed
// wildcard (a star anywhere but the edge, more than one star, or a
// double dot), and OK otherwise.
func (ha *KeyStage) Add(key string, value any, flags int) memcore.Status {
	last := len(key)
	skip := 0

	if flags&WildcardKey != 0 {
		// Supported wildcards: "*.example.com", ".example.com", and
		// "www.example.*".
		stars := 0
		for i := 0; i < len(key); i++ {
			if key[i] == '*' {
				if stars++; stars > 1 {
					return memcore.Declined
				}
			}

			if key[i] == '.' && i+1 < len(key) && key[i+1] == '.' {
				return memcore.Declined
			}
		}

		switch {
		case len(key) > 1 && key[0] == '.':
			skip = 1
			return ha.addWildcard(key, value, skip, last)

		case len(key) > 2 && key[0] == '*' && key[1] == '.':
			skip = 2
			return ha.addWildcard(key, value, skip, last)

		case len(key) > 2 && key[last-2] == '.' && key[last-1] == '*':
			last -= 2
			return ha.addWildcard(key, value, skip, last)
		}

		if stars > 0 {
			return memcore.Declined
		}
	}

	// Exact key.
	if flags&ReadOnlyKey == 0 {
		key = ha.lowerDup(key)
	}

	kh := KeyHash(key)
	k := kh % ha.hsize

	for _, name := range ha.keysHash[k] {
		if name == key {
			return memcore.Busy
		}
	}
	ha.keysHash[k] = append(ha.keysHash[k], key)

	ha.Keys.Append(Entry{Key: key, KeyHash: kh, Value: value})
	return memcore.OK
}

// addWildcard handles the three wildcard forms; skip is the prefix to
// drop (1 for ".", 2 for "*."), and last excludes a trailing ".*".
func (ha *KeyStage) addWildcard(key string, value any, skip, last int) memcore.Status {
	low := ha.lowerDup(key[skip:last])
	k := KeyHash(low) % ha.hsize

	if skip == 1 {
		// The ".example.com" form also matches the bare domain, so it
		// conflicts with exact keys.
		for _, name := range ha.keysHash[k] {
			if name == low {
				return memcore.Busy
			}
		}
		ha.keysHash[k] = append(ha.keysHash[k], low)
	}

	var (
		built string
		hwc   *list.List[Entry]
		keys  *[][]string
	)

	if skip > 0 {
		// "*.example.com" becomes "com.example."
		// ".example.com" becomes "com.example"
		built = reverseDots(ha.TempPool, low, skip == 2)
		hwc = ha.DnsWcHead
		keys = &ha.dnsWcHeadHash
	} else {
		// "www.example.*" becomes "www.example"
		built = low
		hwc = ha.DnsWcTail
		keys = &ha.dnsWcTailHash
	}

	for _, name := range (*keys)[k] {
		if name == low {
			return memcore.Busy
		}
	}
	(*keys)[k] = append((*keys)[k], low)

	hwc.Append(Entry{Key: built, Value: value})
	return memcore.OK
}

// reverseDots rewrites "example.com" as "com.example": each
// dot-separated segment in reverse order. With dotTerm (the "*.x" form),
// the result carries a trailing dot, distinguishing it from the ".x"
// form at build time. The result is stored in pool memory.
func reverseDots(p *pool.Pool, s string, dotTerm bool) string {
	var b []byte
	if p != nil {
		b = xunsafe.Slice(p.AllocUnaligned(len(s)+1), len(s)+1)
	} else {
		b = make([]byte, len(s)+1)
	}

	n := 0
	run := 0
	for i := len(s); i > 0; i-- {
		if s[i-1] == '.' {
			copy(b[n:], s[i:i+run])
			n += run
			b[n] = '.'
			n++
			run = 0
			continue
		}
		run++
	}
	if run > 0 {
		copy(b[n:], s[:run])
		n += run
		if dotTerm {
			b[n] = '.'
			n++
		}
	}

	return xunsafe.String(&b[0], n)
}

// KeysSlice returns the exact entries; WcHeadSlice and WcTailSlice the
// preprocessed wildcard entries. The wildcard slices feed
// [Init.BuildWildcard], which sorts them itself.
func (ha *KeyStage) KeysSlice() []Entry   { return ha.Keys.Slice() }
func (ha *KeyStage) WcHeadSlice() []Entry { return ha.DnsWcHead.Slice() }
func (ha *KeyStage) WcTailSlice() []Entry { return ha.DnsWcTail.Slice() }

// lowerDup lowercases s, placing the copy in temp-pool memory when a
// copy is needed at all.
func (ha *KeyStage) lowerDup(s string) string {
	if !strings.ContainsFunc(s, isUpper) {
		return s
	}
	if ha.TempPool == nil {
		return strings.ToLower(s)
	}

	b := ha.TempPool.Dup(s)
	StrLowerHash(b, s)
	return xunsafe.String(&b[0], len(b))
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }

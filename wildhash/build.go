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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unsafe"

	"github.com/volute/memcore"
	"github.com/volute/memcore/internal/xunsafe"
	"github.com/volute/memcore/pool"
)

// cacheline is the bucket padding granularity: each bucket's packed
// records are rounded up to it so that buckets do not share lines.
const cacheline = 64

var (
	// ErrTooSmall reports a single record that cannot fit a bucket; the
	// caller must increase BucketSize.
	ErrTooSmall = errors.New("wildhash: record does not fit bucket size")

	// ErrNoFit reports that no bucket count under MaxSize keeps every
	// bucket within BucketSize; the caller must increase MaxSize or
	// BucketSize.
	ErrNoFit = errors.New("wildhash: no bucket count fits")
)

// Entry is one key for the builder.
type Entry struct {
	Key     string
	KeyHash uint
	Value   any
}

// Init carries the build parameters.
type Init struct {
	// Key is the hash function; nil means [KeyHash]. Wildcard builds use
	// it to hash each level's segments, but the wildcard lookups always
	// hash with [KeyHash], so leave Key nil for tables with wildcards.
	Key func(string) uint

	// MaxSize bounds the bucket count; BucketSize bounds one bucket's
	// packed bytes. BucketSize must admit at least one record plus the
	// terminator.
	MaxSize    int
	BucketSize int

	// Name names the table in logs, e.g. "server_names_hash".
	Name string

	// Pool provides permanent storage for the built table. TempPool
	// provides build-time scratch and may be destroyed after the build.
	Pool     *pool.Pool
	TempPool *pool.Pool

	Log *slog.Logger
}

// tagged is a build-time entry whose value carries the tag of §layout:
// terminal values in value, child tables in child.
type tagged struct {
	key     string
	keyHash uint
	tag     uint64
	value   any
	child   *Wildcard
}

// Build constructs an exact-match hash from names. Each entry's KeyHash
// must be its Key hashed with the same function lookups will use.
func (hinit *Init) Build(names []Entry) (*Hash, error) {
	tn := make([]tagged, len(names))
	for i, name := range names {
		tn[i] = tagged{key: name.Key, keyHash: name.KeyHash, value: name.Value}
	}

	h := new(Hash)
	if err := hinit.build(h, tn); err != nil {
		return nil, err
	}
	return h, nil
}

// BuildWildcard constructs a wildcard hash from preprocessed keys
// ("com.example." for "*.example.com", "com.example" for ".example.com",
// "www.example" for "www.example.*"), as produced by [KeyStage]. The
// input is sorted internally; KeyHash fields are ignored.
func (hinit *Init) BuildWildcard(names []Entry) (*Wildcard, error) {
	tn := make([]tagged, len(names))
	for i, name := range names {
		tn[i] = tagged{key: name.Key, value: name.Value}
	}

	sort.Slice(tn, func(i, j int) bool { return tn[i].key < tn[j].key })

	return hinit.buildWildcard(tn)
}

// buildWildcard groups names into maximal runs sharing the first
// dot-separated segment, recurses on the tails of each run, and builds
// this level's exact hash with tagged refs to the children.
func (hinit *Init) buildWildcard(names []tagged) (*Wildcard, error) {
	curr := make([]tagged, 0, len(names))
	next := make([]tagged, 0, len(names))

	var i int
	for n := 0; n < len(names); n = i {
		key := names[n].key

		dot := false
		l := 0
		for l = 0; l < len(key); l++ {
			if key[l] == '.' {
				dot = true
				break
			}
		}

		name := tagged{
			key:     key[:l],
			keyHash: hinit.keyfn()(key[:l]),
			tag:     names[n].tag,
			value:   names[n].value,
			child:   names[n].child,
		}

		dotLen := l + 1
		if dot {
			l++
		}

		next = next[:0]
		if len(key) != l {
			next = append(next, tagged{
				key:   key[l:],
				tag:   names[n].tag,
				value: names[n].value,
				child: names[n].child,
			})
		}

		for i = n + 1; i < len(names); i++ {
			if !strings.HasPrefix(names[i].key, key[:l]) {
				break
			}

			if !dot && len(names[i].key) > l && names[i].key[l] != '.' {
				break
			}

			next = append(next, tagged{
				key:   names[i].key[dotLen:],
				tag:   names[i].tag,
				value: names[i].value,
				child: names[i].child,
			})
		}

		if len(next) > 0 {
			wdc, err := hinit.buildWildcard(next)
			if err != nil {
				return nil, err
			}

			if len(key) == l {
				// The run head is the exact form of this segment; its
				// value becomes the child's fallback.
				wdc.Value = names[n].value
			}

			name.child = wdc
			name.value = nil
			if dot {
				name.tag = 3
			} else {
				name.tag = 2
			}
		} else if dot {
			name.tag |= 1
		}

		curr = append(curr, name)
	}

	wdc := new(Wildcard)
	if err := hinit.build(&wdc.Hash, curr); err != nil {
		return nil, err
	}
	return wdc, nil
}

// build lays out the packed table: it probes for the least bucket count
// whose buckets all fit, then fills one contiguous backing.
func (hinit *Init) build(h *Hash, names []tagged) error {
	bucketSize := hinit.BucketSize - xunsafe.PointerSize

	for n := range names {
		if names[n].key == "" {
			continue
		}
		if bucketSize < recordSize(len(names[n].key)) {
			hinit.emerg("could not build hash, you should increase bucket_size",
				"hash", hinit.Name, "bucket_size", hinit.BucketSize)
			return fmt.Errorf("%w: %s: key %q", ErrTooSmall, hinit.Name, names[n].key)
		}
	}

	var test []uint16
	if hinit.TempPool != nil {
		test = pool.MakeSlice[uint16](hinit.TempPool, hinit.MaxSize)
	} else {
		test = make([]uint16, hinit.MaxSize)
	}

	start := len(names) / (bucketSize / (2 * xunsafe.PointerSize))
	if start == 0 {
		start = 1
	}

	if hinit.MaxSize > 10000 && len(names) > 0 && hinit.MaxSize/len(names) < 100 {
		start = hinit.MaxSize - 1000
	}

	size := 0
	found := false

probe:
	for size = start; size < hinit.MaxSize; size++ {
		clear(test[:size])

		for n := range names {
			if names[n].key == "" {
				continue
			}

			key := names[n].keyHash % uint(size)
			test[key] += uint16(recordSize(len(names[n].key)))

			if test[key] > uint16(bucketSize) {
				continue probe
			}
		}

		found = true
		break
	}

	if !found {
		hinit.emerg("could not build hash, you should increase either max_size or bucket_size",
			"hash", hinit.Name,
			"max_size", hinit.MaxSize, "bucket_size", hinit.BucketSize)
		return fmt.Errorf("%w: %s", ErrNoFit, hinit.Name)
	}

	// Tally final per-bucket sizes, terminator included, each bucket
	// rounded to a cache line.
	for i := 0; i < size; i++ {
		test[i] = uint16(xunsafe.PointerSize)
	}

	for n := range names {
		if names[n].key == "" {
			continue
		}
		key := names[n].keyHash % uint(size)
		test[key] += uint16(recordSize(len(names[n].key)))
	}

	total := 0
	for i := 0; i < size; i++ {
		if test[i] == uint16(xunsafe.PointerSize) {
			continue
		}
		test[i] = uint16((int(test[i]) + cacheline - 1) &^ (cacheline - 1))
		total += int(test[i])
	}

	raw := hinit.Pool.Bytes(total + cacheline)
	pad := xunsafe.AddrOf(unsafe.SliceData(raw)).Padding(cacheline)
	elts := raw[pad : pad+total]

	buckets := pool.MakeSlice[int32](hinit.Pool, size)

	off := int32(0)
	for i := 0; i < size; i++ {
		if test[i] == uint16(xunsafe.PointerSize) {
			buckets[i] = -1
			continue
		}
		buckets[i] = off
		off += int32(test[i])
	}

	clear(test[:size])

	h.buckets = buckets
	h.elts = elts
	h.values = nil
	h.children = nil

	base := unsafe.SliceData(elts)

	for n := range names {
		if names[n].key == "" {
			continue
		}

		key := names[n].keyHash % uint(size)
		at := buckets[key] + int32(test[key])

		var ref uint64
		if names[n].tag&2 != 0 {
			h.children = append(h.children, names[n].child)
			ref = uint64(len(h.children))<<2 | names[n].tag
		} else {
			h.values = append(h.values, names[n].value)
			ref = uint64(len(h.values))<<2 | names[n].tag
		}

		xunsafe.ByteStore(base, at, ref)
		xunsafe.ByteStore(base, at+refBytes, uint16(len(names[n].key)))

		dst := xunsafe.Slice(
			xunsafe.ByteAdd(base, int(at)+refBytes+lenBytes), len(names[n].key))
		for i := 0; i < len(names[n].key); i++ {
			dst[i] = lower(names[n].key[i])
		}

		test[key] += uint16(recordSize(len(names[n].key)))
	}

	for i := 0; i < size; i++ {
		if buckets[i] < 0 {
			continue
		}
		xunsafe.ByteStore(base, buckets[i]+int32(test[i]), uint64(0))
	}

	return nil
}

func (hinit *Init) keyfn() func(string) uint {
	if hinit.Key != nil {
		return hinit.Key
	}
	return KeyHash
}

func (hinit *Init) emerg(msg string, args ...any) {
	log := hinit.Log
	if log == nil {
		log = slog.Default()
	}
	log.Log(context.Background(), memcore.LevelEmerg, msg, args...)
}

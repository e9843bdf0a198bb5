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

package wildhash_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volute/memcore"
	"github.com/volute/memcore/pool"
	"github.com/volute/memcore/wildhash"
)

// quiet drops the emerg reports the failure tests provoke on purpose.
func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// combined builds a combined hash over the given key set, values being
// the keys themselves.
func combined(t *testing.T, keys ...string) (*wildhash.Combined, func()) {
	t.Helper()

	perm := pool.New(16*1024, nil)
	temp := pool.New(16*1024, nil)

	ha := wildhash.NewKeyStage(wildhash.StageSmall, temp)
	for _, k := range keys {
		st := ha.Add(k, k, wildhash.WildcardKey)
		require.Equal(t, memcore.OK, st, "add %q", k)
	}

	hinit := &wildhash.Init{
		MaxSize:    512,
		BucketSize: 128,
		Name:       "test_hash",
		Pool:       perm,
		TempPool:   temp,
	}

	c, err := hinit.BuildCombined(ha)
	require.NoError(t, err)

	temp.Destroy()
	return c, perm.Destroy
}

func find(c *wildhash.Combined, name string) any {
	return c.Find(wildhash.KeyHash(name), name)
}

func TestExactLookup(t *testing.T) {
	t.Parallel()

	c, done := combined(t, "example.com", "example.org", "api.example.net")
	defer done()

	require.Equal(t, "example.com", find(c, "example.com"))
	require.Equal(t, "example.org", find(c, "example.org"))
	require.Equal(t, "api.example.net", find(c, "api.example.net"))
	require.Nil(t, find(c, "example.net"))
	require.Nil(t, find(c, "com"))
	require.Nil(t, find(c, ""))
}

func TestExactLowercasesKeys(t *testing.T) {
	t.Parallel()

	c, done := combined(t, "EXAMPLE.Com")
	defer done()

	require.Equal(t, "EXAMPLE.Com", find(c, "example.com"))
}

func TestHeadWildcard(t *testing.T) {
	t.Parallel()

	c, done := combined(t, "*.example.com")
	defer done()

	require.Equal(t, "*.example.com", find(c, "mail.example.com"))
	require.Equal(t, "*.example.com", find(c, "a.b.example.com"))

	// A leading star does not match the bare domain.
	require.Nil(t, find(c, "example.com"))
	require.Nil(t, find(c, "example.org"))
	require.Nil(t, find(c, "com"))
}

func TestDotFormMatchesBare(t *testing.T) {
	t.Parallel()

	c, done := combined(t, ".example.com")
	defer done()

	require.Equal(t, ".example.com", find(c, "example.com"))
	require.Equal(t, ".example.com", find(c, "www.example.com"))
	require.Nil(t, find(c, "examplexcom"))
}

func TestTailWildcard(t *testing.T) {
	t.Parallel()

	c, done := combined(t, "www.example.*")
	defer done()

	require.Equal(t, "www.example.*", find(c, "www.example.com"))
	require.Equal(t, "www.example.*", find(c, "www.example.com.cn"))
	require.Equal(t, "www.example.*", find(c, "www.example.net"))

	// The bare prefix does not match.
	require.Nil(t, find(c, "www.example"))
	require.Nil(t, find(c, "example.com"))
}

func TestPrecedence(t *testing.T) {
	t.Parallel()

	c, done := combined(t,
		"example.com", "*.example.com", "www.example.*")
	defer done()

	// Exact beats head wildcard.
	require.Equal(t, "example.com", find(c, "example.com"))

	// Head wildcard beats tail wildcard.
	require.Equal(t, "*.example.com", find(c, "mail.example.com"))
	require.Equal(t, "*.example.com", find(c, "www.example.com"))

	// Only the tail form matches other suffixes.
	require.Equal(t, "www.example.*", find(c, "www.example.org"))
}

func TestNestedWildcards(t *testing.T) {
	t.Parallel()

	c, done := combined(t, "*.example.com", "*.sub.example.com")
	defer done()

	require.Equal(t, "*.sub.example.com", find(c, "a.sub.example.com"))
	require.Equal(t, "*.example.com", find(c, "sub.example.com"))
	require.Equal(t, "*.example.com", find(c, "other.example.com"))
	require.Nil(t, find(c, "example.com"))
}

func TestStageRejectsMalformed(t *testing.T) {
	t.Parallel()

	temp := pool.New(16*1024, nil)
	defer temp.Destroy()

	ha := wildhash.NewKeyStage(wildhash.StageSmall, temp)

	for _, k := range []string{
		"w*w.example.com", // star in the middle
		"*.*.example.com", // two stars
		"a..b",            // double dot
		"*",
		"*.",
	} {
		require.Equal(t, memcore.Declined,
			ha.Add(k, 1, wildhash.WildcardKey), "key %q", k)
	}
}

func TestStageRejectsDuplicates(t *testing.T) {
	t.Parallel()

	temp := pool.New(16*1024, nil)
	defer temp.Destroy()

	ha := wildhash.NewKeyStage(wildhash.StageSmall, temp)

	require.Equal(t, memcore.OK, ha.Add("example.com", 1, wildhash.WildcardKey))
	require.Equal(t, memcore.Busy, ha.Add("example.com", 2, wildhash.WildcardKey))
	require.Equal(t, memcore.Busy, ha.Add("EXAMPLE.COM", 3, wildhash.WildcardKey))

	require.Equal(t, memcore.OK, ha.Add("*.example.com", 1, wildhash.WildcardKey))
	require.Equal(t, memcore.Busy, ha.Add("*.example.com", 2, wildhash.WildcardKey))

	require.Equal(t, memcore.OK, ha.Add("www.example.*", 1, wildhash.WildcardKey))
	require.Equal(t, memcore.Busy, ha.Add("www.example.*", 2, wildhash.WildcardKey))

	// The dot form conflicts with an exact key for the same domain.
	require.Equal(t, memcore.Busy, ha.Add(".example.com", 4, wildhash.WildcardKey))
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()

	build := func() *wildhash.Hash {
		perm := pool.New(64*1024, nil)

		names := make([]wildhash.Entry, 0, 100)
		for i := 0; i < 100; i++ {
			k := fmt.Sprintf("host-%02d.example.com", i)
			names = append(names, wildhash.Entry{
				Key: k, KeyHash: wildhash.KeyHash(k), Value: i,
			})
		}

		hinit := &wildhash.Init{
			MaxSize:    2048,
			BucketSize: 128,
			Name:       "det_hash",
			Pool:       perm,
		}

		h, err := hinit.Build(names)
		require.NoError(t, err)
		return h
	}

	a := build()
	b := build()
	require.Equal(t, a.Size(), b.Size())

	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("host-%02d.example.com", i)
		require.Equal(t, i, a.Find(wildhash.KeyHash(k), k))
	}
}

func TestBuildErrTooSmall(t *testing.T) {
	t.Parallel()

	perm := pool.New(16*1024, nil)
	defer perm.Destroy()

	long := "a-very-long-host-name-that-cannot-possibly-fit.example.com"
	hinit := &wildhash.Init{
		MaxSize:    512,
		BucketSize: 32, // smaller than one record
		Name:       "tiny_hash",
		Pool:       perm,
		Log:        quiet(),
	}

	_, err := hinit.Build([]wildhash.Entry{
		{Key: long, KeyHash: wildhash.KeyHash(long), Value: 1},
	})
	require.ErrorIs(t, err, wildhash.ErrTooSmall)
}

func TestBuildErrNoFit(t *testing.T) {
	t.Parallel()

	perm := pool.New(16*1024, nil)
	defer perm.Destroy()

	// All keys share one hash value modulo anything: impossible to
	// spread across buckets that hold two records each.
	names := make([]wildhash.Entry, 8)
	for i := range names {
		names[i] = wildhash.Entry{
			Key: fmt.Sprintf("key-%d", i), KeyHash: 42, Value: i,
		}
	}

	hinit := &wildhash.Init{
		MaxSize:    64,
		BucketSize: 40,
		Name:       "colliding_hash",
		Pool:       perm,
		Log:        quiet(),
	}

	_, err := hinit.Build(names)
	require.ErrorIs(t, err, wildhash.ErrNoFit)
}

func TestKeyHash(t *testing.T) {
	t.Parallel()

	require.Equal(t, wildhash.KeyHash("abc"), wildhash.KeyHashLower("ABC"))
	require.NotEqual(t, wildhash.KeyHash("abc"), wildhash.KeyHash("abd"))

	dst := make([]byte, 3)
	k := wildhash.StrLowerHash(dst, "AbC")
	require.Equal(t, "abc", string(dst))
	require.Equal(t, wildhash.KeyHash("abc"), k)
}

func TestCombinedEmptyTables(t *testing.T) {
	t.Parallel()

	c := &wildhash.Combined{}
	require.Nil(t, c.Find(wildhash.KeyHash("x"), "x"))
}

func TestLookupConcurrent(t *testing.T) {
	t.Parallel()

	c, done := combined(t,
		"example.com", "*.example.com", "www.example.*", ".example.org")
	defer done()

	start := make(chan struct{})
	errs := make(chan error, 8)

	for g := 0; g < 8; g++ {
		go func() {
			<-start
			for i := 0; i < 10000; i++ {
				if find(c, "mail.example.com") != "*.example.com" {
					errs <- fmt.Errorf("bad wildcard hit")
					return
				}
				if find(c, "example.org") != ".example.org" {
					errs <- fmt.Errorf("bad dot-form hit")
					return
				}
			}
			errs <- nil
		}()
	}

	close(start)
	for g := 0; g < 8; g++ {
		require.NoError(t, <-errs)
	}
}

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

package memcore_test

import (
	"fmt"

	"github.com/volute/memcore/pool"
	"github.com/volute/memcore/wildhash"
)

// Building a server-name table: keys go through a staging structure that
// validates and deduplicates them, the builder lays the tables out in an
// arena pool, and lookups run lock-free afterwards.
func Example() {
	perm := pool.New(pool.DefaultSize, nil)
	temp := pool.New(pool.DefaultSize, nil)
	defer perm.Destroy()

	stage := wildhash.NewKeyStage(wildhash.StageSmall, temp)
	stage.Add("example.com", "site", wildhash.WildcardKey)
	stage.Add("*.example.com", "wildcard", wildhash.WildcardKey)
	stage.Add("static.cdn.*", "cdn", wildhash.WildcardKey)

	hinit := &wildhash.Init{
		MaxSize:    512,
		BucketSize: 64,
		Name:       "server_names_hash",
		Pool:       perm,
		TempPool:   temp,
	}

	names, err := hinit.BuildCombined(stage)
	if err != nil {
		panic(err)
	}
	temp.Destroy() // build scratch is no longer needed

	for _, host := range []string{
		"example.com", "mail.example.com", "static.cdn.net", "other.net",
	} {
		fmt.Println(host, "->", names.Find(wildhash.KeyHash(host), host))
	}

	// Output:
	// example.com -> site
	// mail.example.com -> wildcard
	// static.cdn.net -> cdn
	// other.net -> <nil>
}

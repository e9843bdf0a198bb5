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

// BuildCombined builds the exact, head-wildcard and tail-wildcard tables
// of a combined hash from a stage's collected keys. Tables with no keys
// are left empty.
func (hinit *Init) BuildCombined(ha *KeyStage) (*Combined, error) {
	c := new(Combined)

	if keys := ha.KeysSlice(); len(keys) > 0 {
		h, err := hinit.Build(keys)
		if err != nil {
			return nil, err
		}
		c.Hash = *h
	}

	if keys := ha.WcHeadSlice(); len(keys) > 0 {
		wc, err := hinit.BuildWildcard(keys)
		if err != nil {
			return nil, err
		}
		c.WcHead = wc
	}

	if keys := ha.WcTailSlice(); len(keys) > 0 {
		wc, err := hinit.BuildWildcard(keys)
		if err != nil {
			return nil, err
		}
		c.WcTail = wc
	}

	return c, nil
}

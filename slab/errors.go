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

package slab

import "errors"

var (
	// errTooSmall reports a region that cannot hold the header plus at
	// least one page.
	errTooSmall = errors.New("slab: region too small")

	// errMinShift reports a smallest chunk size above the exact size,
	// which would leave the SMALL and EXACT regimes without a size class.
	errMinShift = errors.New("slab: min shift exceeds exact size shift")
)

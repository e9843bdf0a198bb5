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

// Package config loads the tunables of the allocator and hash packages
// from YAML, with defaults matching the classic server values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the module's tunables.
type Config struct {
	Pool struct {
		// DefaultSize is the block size for request-lifetime pools.
		DefaultSize int `yaml:"default_size"`
	} `yaml:"pool"`

	Slab struct {
		// MinShift sets the smallest chunk size, 1<<min_shift bytes.
		MinShift uint `yaml:"min_shift"`
	} `yaml:"slab"`

	Hash struct {
		// MaxSize bounds the bucket count of built hashes.
		MaxSize int `yaml:"max_size"`
		// BucketSize bounds one bucket's packed bytes.
		BucketSize int `yaml:"bucket_size"`
	} `yaml:"hash"`
}

// Default returns the classic defaults: 16 KiB pool blocks, 8-byte
// minimum slab chunks, and 512/64-byte hash limits.
func Default() Config {
	var c Config
	c.Pool.DefaultSize = 16 * 1024
	c.Slab.MinShift = 3
	c.Hash.MaxSize = 512
	c.Hash.BucketSize = 64
	return c
}

// Load reads path as YAML over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return c, fmt.Errorf("config: %s: %w", path, err)
	}

	if err := c.validate(); err != nil {
		return c, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Pool.DefaultSize <= 0 {
		return errors.New("pool.default_size must be positive")
	}
	if c.Hash.BucketSize <= 0 || c.Hash.MaxSize <= 0 {
		return errors.New("hash limits must be positive")
	}
	return nil
}

// Copyright 2025 The DevPool Authors
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

package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/devpool-io/devpool/pkg/logutil"
	"github.com/dustin/go-humanize"
)

// Config drives devpool-bench, parsed from a toml file.
type Config struct {
	// Workers is the number of concurrent workers; each worker owns
	// its own simulated device and pool.
	Workers int `toml:"workers"`
	// Iterations is the per-worker allocate/free cycle count.
	Iterations int `toml:"iterations"`
	// MaxAllocSize bounds the random request sizes, e.g. "1MiB".
	MaxAllocSize string `toml:"max-alloc-size"`
	// DeviceCapacity is the simulated device memory per worker,
	// e.g. "64MiB".  Small capacities exercise the reclaim and flush
	// recovery paths.
	DeviceCapacity string `toml:"device-capacity"`
	// MetricsAddr, when set, serves prometheus metrics on
	// addr/metrics.
	MetricsAddr string `toml:"metrics-addr"`

	Log logutil.Config `toml:"log"`

	maxAllocBytes uint64
	capacityBytes uint64
}

func defaultConfig() *Config {
	return &Config{
		Workers:        4,
		Iterations:     100000,
		MaxAllocSize:   "1MiB",
		DeviceCapacity: "16MiB",
		Log: logutil.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

func parseConfigFromFile(file string) (*Config, error) {
	cfg := defaultConfig()
	if file != "" {
		if _, err := toml.DecodeFile(file, cfg); err != nil {
			return nil, err
		}
	}

	var err error
	if cfg.maxAllocBytes, err = humanize.ParseBytes(cfg.MaxAllocSize); err != nil {
		return nil, err
	}
	if cfg.capacityBytes, err = humanize.ParseBytes(cfg.DeviceCapacity); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 || cfg.Iterations <= 0 || cfg.maxAllocBytes == 0 {
		return nil, fmt.Errorf("workers, iterations and max-alloc-size must be positive")
	}
	return cfg, nil
}

/*
   Copyright The h5viewer Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package config defines the process configuration surface (§6): which
// storage adapter to use and how, cache TTLs, reader pool capacity, and
// extraction limits. Values are loaded from a TOML file in the teacher's
// style and validated before the engine is constructed.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// StorageConfig selects and parameterizes a storage.Adapter.
type StorageConfig struct {
	Mode      string `toml:"mode"` // "s3" or "local"
	BaseDir   string `toml:"base_dir"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
}

// CacheConfig sets the two C3 cache TTLs.
type CacheConfig struct {
	ListingTTLSeconds int `toml:"listing_ttl_seconds"`
	MetaTTLSeconds    int `toml:"meta_ttl_seconds"`
}

func (c CacheConfig) ListingTTL() time.Duration {
	return time.Duration(c.ListingTTLSeconds) * time.Second
}

func (c CacheConfig) MetaTTL() time.Duration {
	return time.Duration(c.MetaTTLSeconds) * time.Second
}

// ReadersConfig bounds the reader pool.
type ReadersConfig struct {
	MaxOpen int `toml:"max_open"`
}

// LimitsConfig bounds extraction size and concurrency.
type LimitsConfig struct {
	MaxExtractElements int64 `toml:"max_extract_elements"`
	ExactLinePoints    int   `toml:"exact_line_points"`
	HeatmapMaxSide     int   `toml:"heatmap_max_side"`
	ConcurrentRequests int64 `toml:"concurrent_requests"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Config is the top-level, TOML-decoded process configuration.
type Config struct {
	Server   ServerConfig  `toml:"server"`
	Storage  StorageConfig `toml:"storage"`
	Cache    CacheConfig   `toml:"cache"`
	Readers  ReadersConfig `toml:"readers"`
	Limits   LimitsConfig  `toml:"limits"`
	LogLevel string        `toml:"log_level"`
}

// Default returns a Config with every §6 default applied, to be
// overridden field-by-field by a loaded file.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{Mode: "local"},
		Cache: CacheConfig{
			ListingTTLSeconds: 30,
			MetaTTLSeconds:    300,
		},
		Readers: ReadersConfig{MaxOpen: 16},
		Limits: LimitsConfig{
			MaxExtractElements: 25_000_000,
			ExactLinePoints:    20_000,
			HeatmapMaxSide:     1024,
			ConcurrentRequests: 32,
		},
		LogLevel: "info",
	}
}

// Load reads and decodes path over the defaults, then validates the
// result. A configuration error is reported by the caller as exit code 2
// (§6 Exit codes).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "decode config %q", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate aggregates every configuration problem via go-multierror so a
// misconfigured deployment sees every mistake at once instead of one per
// restart.
func (c Config) Validate() error {
	var result *multierror.Error
	switch c.Storage.Mode {
	case "local":
		if c.Storage.BaseDir == "" {
			result = multierror.Append(result, errors.New("storage.base_dir is required when storage.mode=local"))
		}
	case "s3":
		if c.Storage.Endpoint == "" {
			result = multierror.Append(result, errors.New("storage.endpoint is required when storage.mode=s3"))
		}
		if c.Storage.Bucket == "" {
			result = multierror.Append(result, errors.New("storage.bucket is required when storage.mode=s3"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("storage.mode must be \"s3\" or \"local\", got %q", c.Storage.Mode))
	}
	if c.Cache.ListingTTLSeconds <= 0 {
		result = multierror.Append(result, errors.New("cache.listing_ttl_seconds must be positive"))
	}
	if c.Cache.MetaTTLSeconds <= 0 {
		result = multierror.Append(result, errors.New("cache.meta_ttl_seconds must be positive"))
	}
	if c.Readers.MaxOpen <= 0 {
		result = multierror.Append(result, errors.New("readers.max_open must be positive"))
	}
	if c.Limits.MaxExtractElements <= 0 {
		result = multierror.Append(result, errors.New("limits.max_extract_elements must be positive"))
	}
	if c.Limits.ExactLinePoints <= 0 {
		result = multierror.Append(result, errors.New("limits.exact_line_points must be positive"))
	}
	if c.Limits.HeatmapMaxSide <= 0 {
		result = multierror.Append(result, errors.New("limits.heatmap_max_side must be positive"))
	}
	if c.Limits.ConcurrentRequests <= 0 {
		result = multierror.Append(result, errors.New("limits.concurrent_requests must be positive"))
	}
	if result != nil {
		return result.ErrorOrNil()
	}
	return nil
}

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

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scidata/h5viewer/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Storage.Mode != "local" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.toml")
	body := `
log_level = "debug"

[server]
addr = ":9090"

[storage]
mode = "local"
base_dir = "/data"
`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Storage.BaseDir != "/data" {
		t.Fatalf("base_dir = %q, want /data", cfg.Storage.BaseDir)
	}
	// Untouched defaults should survive the partial override.
	if cfg.Limits.HeatmapMaxSide != 1024 {
		t.Fatalf("heatmap_max_side = %d, want default 1024", cfg.Limits.HeatmapMaxSide)
	}
}

func TestValidateRequiresBaseDirForLocalMode(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Mode = "local"
	cfg.Storage.BaseDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing base_dir")
	}
}

func TestValidateRequiresEndpointAndBucketForS3Mode(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Mode = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing s3 fields")
	}
}

func TestValidateRejectsUnknownStorageMode(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Mode = "ftp"
	cfg.Storage.BaseDir = "/x"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown storage mode")
	}
}

func TestValidateAggregatesMultipleErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Mode = "bogus"
	cfg.Cache.ListingTTLSeconds = 0
	cfg.Readers.MaxOpen = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected aggregated validation error")
	}
	// go-multierror's Error() lists one line per wrapped error.
	msg := err.Error()
	for _, want := range []string{"storage.mode", "cache.listing_ttl_seconds", "readers.max_open"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("aggregated error %q missing complaint about %q", msg, want)
		}
	}
}

func TestCacheConfigDurationHelpers(t *testing.T) {
	c := config.CacheConfig{ListingTTLSeconds: 5, MetaTTLSeconds: 10}
	if c.ListingTTL().Seconds() != 5 {
		t.Fatalf("ListingTTL = %v, want 5s", c.ListingTTL())
	}
	if c.MetaTTL().Seconds() != 10 {
		t.Fatalf("MetaTTL = %v, want 10s", c.MetaTTL())
	}
}


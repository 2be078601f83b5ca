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

// Package fingerprint builds the canonical cache-key suffix described in
// spec §4.3: a stable string over path, mode, and selection parameters in a
// fixed order, independent of how a client happened to order its query
// parameters.
package fingerprint

import (
	"fmt"
	"sort"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// Mode names the extraction kind a fingerprint belongs to; it is part of
// the fingerprint so a matrix and a line-series request against the same
// path/selection never collide.
type Mode string

const (
	ModeChildren Mode = "children"
	ModeMeta     Mode = "meta"
	ModePreview  Mode = "preview"
	ModeMatrix   Mode = "matrix"
	ModeLine     Mode = "line"
	ModeHeatmap  Mode = "heatmap"
	ModeCSV      Mode = "csv"
)

// Builder accumulates canonical "key=value" fields in insertion order for
// the fixed fields, then sorts the variable (dimension-indexed) fields
// before joining, matching §4.3's "sorted by dimension" requirement.
type Builder struct {
	path   string
	mode   Mode
	fields []string
}

// New starts a fingerprint for the given path and mode.
func New(path string, mode Mode) *Builder {
	return &Builder{path: path, mode: mode}
}

// Field appends a scalar field in the canonical order the caller provides.
// Callers must add fields in the same order every time for a given mode so
// that identical requests always fingerprint identically.
func (b *Builder) Field(name string, value interface{}) *Builder {
	b.fields = append(b.fields, fmt.Sprintf("%s=%v", name, value))
	return b
}

// DisplayDims appends the display-dims pair exactly as supplied (§4.3: "as
// given", not re-sorted).
func (b *Builder) DisplayDims(d0, d1 int, present bool) *Builder {
	if !present {
		b.fields = append(b.fields, "display_dims=none")
		return b
	}
	b.fields = append(b.fields, fmt.Sprintf("display_dims=%d,%d", d0, d1))
	return b
}

// FixedIndices appends the fixed-indices map sorted by dimension number.
func (b *Builder) FixedIndices(m map[int]int) *Builder {
	dims := make([]int, 0, len(m))
	for d := range m {
		dims = append(dims, d)
	}
	sort.Ints(dims)
	parts := make([]string, 0, len(dims))
	for _, d := range dims {
		parts = append(parts, fmt.Sprintf("%d:%d", d, m[d]))
	}
	b.fields = append(b.fields, "fixed_indices="+strings.Join(parts, ","))
	return b
}

// String renders the canonical fingerprint string (not yet hashed).
func (b *Builder) String() string {
	return fmt.Sprintf("path=%s&mode=%s&%s", b.path, b.mode, strings.Join(b.fields, "&"))
}

// Digest renders the fingerprint and hashes it with the canonical digest
// algorithm, giving a short, filesystem/URL-safe cache key component.
func (b *Builder) Digest() string {
	return digest.FromString(b.String()).Encoded()
}

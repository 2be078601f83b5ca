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

// Package walker implements the hierarchy walker (C4): listing a group's
// children and reading a node's metadata, both fronted by the C3 caches so
// repeated browsing of the same container doesn't re-walk its symbol
// tables on every request.
package walker

import (
	"context"

	"github.com/scidata/h5viewer/internal/cache"
	"github.com/scidata/h5viewer/internal/fingerprint"
	"github.com/scidata/h5viewer/internal/hdf5"
	"github.com/scidata/h5viewer/internal/herrors"
)

// TypeInfo is the rich, JSON-friendly view of an hdf5.ElementType: class
// name, signedness, bit width, and byte order, plus the raw HDF5 datatype
// class for callers that need the underlying wire value.
type TypeInfo struct {
	Class     string `json:"class"`
	Signed    bool   `json:"signed"`
	Size      int    `json:"size"` // bit width
	ByteOrder string `json:"byte_order"`
	RawClass  int    `json:"raw_class"`
}

func newTypeInfo(t hdf5.ElementType) TypeInfo {
	order := "little"
	if t.BigEndian {
		order = "big"
	}
	return TypeInfo{
		Class:     t.Class.String(),
		Signed:    t.Signed,
		Size:      t.BitWidth,
		ByteOrder: order,
		RawClass:  t.RawClassID,
	}
}

// CompressionInfo names the dataset's primary compression filter and its
// level, when it has one worth surfacing.
type CompressionInfo struct {
	Name  string `json:"name"`
	Level int    `json:"level,omitempty"`
}

// FilterEntry is one ordered stage of a dataset's filter pipeline.
type FilterEntry struct {
	Name  string `json:"name"`
	ID    int    `json:"id"`
	Level int    `json:"level,omitempty"`
}

func newFilterEntries(filters []hdf5.FilterInfo) []FilterEntry {
	if len(filters) == 0 {
		return nil
	}
	out := make([]FilterEntry, 0, len(filters))
	for _, f := range filters {
		out = append(out, FilterEntry{Name: f.Name, ID: f.ID, Level: f.Level})
	}
	return out
}

// computeCompression reports the dataset's primary compression filter:
// deflate if present (the only filter in this reader with a meaningful
// level), otherwise the first filter in the pipeline, otherwise nil.
func computeCompression(filters []hdf5.FilterInfo) *CompressionInfo {
	for _, f := range filters {
		if f.Name == "deflate" {
			return &CompressionInfo{Name: f.Name, Level: f.Level}
		}
	}
	if len(filters) > 0 {
		return &CompressionInfo{Name: filters[0].Name, Level: filters[0].Level}
	}
	return nil
}

func elementCount(shape []uint64) int {
	count := 1
	for _, d := range shape {
		count *= int(d)
	}
	return count
}

// ChildEntry is one member of a listed group, shaped for the JSON
// "children" response (§6, §4.4).
type ChildEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind string `json:"kind"` // "group" or "dataset"

	// Dataset fields only; zero-valued for groups.
	Shape       []uint64         `json:"shape,omitempty"`
	DType       string           `json:"dtype,omitempty"`
	Type        *TypeInfo        `json:"type,omitempty"`
	Chunked     bool             `json:"chunked,omitempty"`
	ChunkDims   []uint64         `json:"chunk_dims,omitempty"`
	Compression *CompressionInfo `json:"compression,omitempty"`
}

// NodeMeta is the decoded shape/dtype/attributes of a node, shaped for the
// JSON "meta" response (§6, §4.4).
type NodeMeta struct {
	IsGroup bool   `json:"-"`
	Kind    string `json:"kind"` // "group" or "dataset"

	// Dataset fields only.
	Shape            []uint64         `json:"shape,omitempty"`
	NDim             int              `json:"ndim,omitempty"`
	Size             int              `json:"size,omitempty"`
	DType            string           `json:"dtype,omitempty"`
	NumericPlottable bool             `json:"numeric_plottable"`
	Type             *TypeInfo        `json:"type,omitempty"`
	Chunked          bool             `json:"chunked,omitempty"`
	ChunkDims        []uint64         `json:"chunk_dims,omitempty"`
	Compression      *CompressionInfo `json:"compression,omitempty"`
	Filters          []FilterEntry    `json:"filters,omitempty"`

	// Group fields only.
	ChildCount int `json:"child_count,omitempty"`

	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Walker reads hierarchy and metadata from an open container, caching
// results keyed by a fingerprint of (container source, path, mode).
type Walker struct {
	listing *cache.TTLCache
	meta    *cache.TTLCache
}

// New returns a Walker backed by the given listing and metadata caches
// (normally process-wide singletons shared across every request).
func New(listingCache, metaCache *cache.TTLCache) *Walker {
	return &Walker{listing: listingCache, meta: metaCache}
}

// Children lists the members of the group at path within container,
// identified for cache purposes by containerKey (the storage object key
// the container was opened from, qualified by its freshness token).
func (w *Walker) Children(ctx context.Context, container *hdf5.Container, containerKey, path string) ([]ChildEntry, error) {
	key := fingerprint.New(containerKey, fingerprint.ModeChildren).Field("path", path).Digest()
	v, err := w.listing.GetOrLoad(key, func() (interface{}, error) {
		kids, err := container.Children(path)
		if err != nil {
			return nil, err
		}
		out := make([]ChildEntry, 0, len(kids))
		for _, k := range kids {
			entry := ChildEntry{Name: k.Name, Path: k.Path, Kind: "group"}
			if k.Kind == hdf5.NodeDataset {
				entry.Kind = "dataset"
				entry.Shape = k.Shape
				entry.DType = k.Type.DTypeString()
				ti := newTypeInfo(k.Type)
				entry.Type = &ti
				entry.Chunked = k.Chunked
				entry.ChunkDims = k.ChunkDims
				entry.Compression = computeCompression(k.Filters)
			}
			out = append(out, entry)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	entries, ok := v.([]ChildEntry)
	if !ok {
		return nil, herrors.New(herrors.KindUnknown, "listing cache returned an unexpected type")
	}
	return entries, nil
}

// Meta reads the shape, dtype, layout, and attributes of the node at path.
func (w *Walker) Meta(ctx context.Context, container *hdf5.Container, containerKey, path string) (NodeMeta, error) {
	key := fingerprint.New(containerKey, fingerprint.ModeMeta).Field("path", path).Digest()
	v, err := w.meta.GetOrLoad(key, func() (interface{}, error) {
		n, err := container.Stat(path)
		if err != nil {
			return nil, err
		}
		m := NodeMeta{
			IsGroup:    n.Kind == hdf5.NodeGroup,
			Attributes: n.Attributes,
		}
		if m.IsGroup {
			m.Kind = "group"
			m.ChildCount = n.ChildCount
		} else {
			m.Kind = "dataset"
			m.Shape = n.Shape
			m.NDim = len(n.Shape)
			m.Size = elementCount(n.Shape)
			m.DType = n.Type.DTypeString()
			m.NumericPlottable = n.Type.NumericPlottable()
			ti := newTypeInfo(n.Type)
			m.Type = &ti
			m.Chunked = n.Chunked
			m.ChunkDims = n.ChunkDims
			m.Compression = computeCompression(n.Filters)
			m.Filters = newFilterEntries(n.Filters)
		}
		return m, nil
	})
	if err != nil {
		return NodeMeta{}, err
	}
	m, ok := v.(NodeMeta)
	if !ok {
		return NodeMeta{}, herrors.New(herrors.KindUnknown, "meta cache returned an unexpected type")
	}
	return m, nil
}

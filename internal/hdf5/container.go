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

package hdf5

import (
	"compress/zlib"
	"fmt"
	"io"
	"io/ioutil"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	digest "github.com/opencontainers/go-digest"

	"github.com/scidata/h5viewer/internal/herrors"
)

// ChunkCache caches decompressed dataset chunk bytes keyed by a
// content-addressed digest of (container source id, chunk address). It
// plays the role the teacher's BlobCache plays for stargz chunks, scoped
// here to one HDF5 chunk instead of one TOC entry's byte range.
type ChunkCache interface {
	Get(key string) ([]byte, bool)
	Add(key string, data []byte)
}

type memoryChunkCache struct {
	cache *lru.Cache
}

// NewMemoryChunkCache returns a process-local ChunkCache holding up to
// maxEntries decoded chunks, evicting least-recently-used first.
func NewMemoryChunkCache(maxEntries int) ChunkCache {
	c, err := lru.New(maxEntries)
	if err != nil {
		// Only returns an error for a non-positive size; fall back to a
		// single-entry cache rather than a nil one.
		c, _ = lru.New(1)
	}
	return &memoryChunkCache{cache: c}
}

func (m *memoryChunkCache) Get(key string) ([]byte, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (m *memoryChunkCache) Add(key string, data []byte) {
	m.cache.Add(key, data)
}

// NodeKind distinguishes the two HDF5 node shapes this reader exposes.
type NodeKind int

const (
	NodeGroup NodeKind = iota
	NodeDataset
)

// FilterInfo names one stage of a dataset's filter pipeline, with its
// compression level when the filter has one.
type FilterInfo struct {
	ID    int
	Name  string
	Level int
	// HasLevel reports whether Level carries a meaningful value; not every
	// filter (e.g. shuffle) has a notion of compression level.
	HasLevel bool
}

// Child is one named entry of a group.
type Child struct {
	Name       string
	Path       string
	Kind       NodeKind
	Shape      []uint64
	Type       ElementType
	Chunked    bool
	ChunkDims  []uint64
	Filters    []FilterInfo
}

// Node is the decoded shape, type, layout, and attributes of a path within
// a Container, returned by Stat.
type Node struct {
	Kind       NodeKind
	Shape      []uint64
	Type       ElementType
	Attributes map[string]interface{}
	Chunked    bool
	ChunkDims  []uint64
	Filters    []FilterInfo
	ChildCount int // groups only
}

// Span describes the requested range of one dataset dimension: elements
// [Offset, Offset+Limit) along that axis.
type Span struct {
	Offset uint64
	Limit  uint64
}

// Container is an opened HDF5 file: a superblock plus an object-header
// cache and a chunk cache shared across every read against it. It holds
// no write path and is safe for concurrent use by multiple readers.
type Container struct {
	ra       io.ReaderAt
	sourceID string
	sb       *superblock
	cache    ChunkCache

	mu      sync.Mutex
	ohCache map[uint64]*objectHeader
}

// OpenRoot parses the superblock of ra (size bytes long) and returns a
// Container ready to serve Children/Stat/ReadFloat64 calls. sourceID
// namespaces the chunk cache so handles to different containers never
// collide on cache keys even if their on-disk addresses overlap.
func OpenRoot(ra io.ReaderAt, size int64, sourceID string, cache ChunkCache) (*Container, error) {
	sb, err := parseSuperblock(ra, size)
	if err != nil {
		return nil, err
	}
	return &Container{
		ra:       ra,
		sourceID: sourceID,
		sb:       sb,
		cache:    cache,
		ohCache:  make(map[uint64]*objectHeader),
	}, nil
}

func (c *Container) readObjectHeaderCached(addr uint64) (*objectHeader, error) {
	c.mu.Lock()
	if oh, ok := c.ohCache[addr]; ok {
		c.mu.Unlock()
		return oh, nil
	}
	c.mu.Unlock()

	oh, err := readObjectHeader(c.ra, c.sb, addr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.ohCache[addr] = oh
	c.mu.Unlock()
	return oh, nil
}

func filterInfos(filters []filterSpec) []FilterInfo {
	if len(filters) == 0 {
		return nil
	}
	out := make([]FilterInfo, 0, len(filters))
	for _, f := range filters {
		level, ok := f.compressionLevel()
		out = append(out, FilterInfo{ID: int(f.id), Name: f.name, Level: level, HasLevel: ok})
	}
	return out
}

func joinAbsolute(parent, name string) string {
	parent = strings.TrimSuffix(parent, "/")
	if parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// resolve walks p from the root group, following symbol table entries one
// path segment at a time, and returns the decoded object header at p.
func (c *Container) resolve(p string) (*objectHeader, error) {
	addr := c.sb.rootObjectHeaderAddress
	oh, err := c.readObjectHeaderCached(addr)
	if err != nil {
		return nil, err
	}
	for _, seg := range splitPath(p) {
		if !oh.isGroup {
			return nil, herrors.Newf(herrors.KindNotFound, "path segment %q is not a group", seg)
		}
		entries, err := listGroup(c.ra, c.sb, oh.groupBtree, oh.groupHeap)
		if err != nil {
			return nil, err
		}
		found := false
		for _, e := range entries {
			if e.name == seg {
				addr = e.objectHeaderAddr
				found = true
				break
			}
		}
		if !found {
			return nil, herrors.Newf(herrors.KindNotFound, "path %q not found", p)
		}
		oh, err = c.readObjectHeaderCached(addr)
		if err != nil {
			return nil, err
		}
	}
	return oh, nil
}

// Children lists the direct members of the group at p.
func (c *Container) Children(p string) ([]Child, error) {
	oh, err := c.resolve(p)
	if err != nil {
		return nil, err
	}
	if !oh.isGroup {
		return nil, herrors.Newf(herrors.KindBadSelection, "%q is a dataset, not a group", p)
	}
	entries, err := listGroup(c.ra, c.sb, oh.groupBtree, oh.groupHeap)
	if err != nil {
		return nil, err
	}
	abs := p
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	out := make([]Child, 0, len(entries))
	for _, e := range entries {
		childOH, err := c.readObjectHeaderCached(e.objectHeaderAddr)
		if err != nil {
			return nil, err
		}
		child := Child{Name: e.name, Path: joinAbsolute(abs, e.name), Kind: NodeGroup}
		if !childOH.isGroup {
			child.Kind = NodeDataset
			child.Shape = childOH.space.dims
			child.Type = childOH.datatype
			child.Chunked = childOH.layout.class == 2
			if child.Chunked {
				child.ChunkDims = childOH.layout.chunkDims
			}
			child.Filters = filterInfos(childOH.filters)
		}
		out = append(out, child)
	}
	return out, nil
}

// Stat returns the kind, shape, type, layout, and attributes of the node
// at p. For groups, ChildCount is the number of direct members.
func (c *Container) Stat(p string) (Node, error) {
	oh, err := c.resolve(p)
	if err != nil {
		return Node{}, err
	}
	n := Node{Attributes: map[string]interface{}{}}
	if oh.isGroup {
		n.Kind = NodeGroup
		entries, err := listGroup(c.ra, c.sb, oh.groupBtree, oh.groupHeap)
		if err != nil {
			return Node{}, err
		}
		n.ChildCount = len(entries)
	} else {
		n.Kind = NodeDataset
		n.Shape = oh.space.dims
		n.Type = oh.datatype
		n.Chunked = oh.layout.class == 2
		if n.Chunked {
			n.ChunkDims = oh.layout.chunkDims
		}
		n.Filters = filterInfos(oh.filters)
	}
	for _, a := range oh.attributes {
		v, err := decodeAttributeValue(a)
		if err != nil {
			continue // best-effort: attributes this reader can't decode are omitted
		}
		n.Attributes[a.name] = v
	}
	return n, nil
}

func decodeAttributeValue(a attribute) (interface{}, error) {
	if len(a.space.dims) == 0 {
		return a.typ.DecodeElement(a.value)
	}
	if a.typ.NumericPlottable() {
		count := 1
		for _, d := range a.space.dims {
			count *= int(d)
		}
		return a.typ.DecodeBlock(a.value, count)
	}
	return nil, errUnsupported("non-scalar non-numeric attribute")
}

// ReadFloat64 reads the full contents of the dataset at p as a flattened,
// row-major []float64 alongside its shape. Only numeric-plottable element
// types are supported; callers must check Stat(p).Type.NumericPlottable
// first.
func (c *Container) ReadFloat64(p string) ([]float64, []uint64, error) {
	oh, err := c.resolve(p)
	if err != nil {
		return nil, nil, err
	}
	if oh.isGroup {
		return nil, nil, herrors.Newf(herrors.KindBadSelection, "%q is a group, not a dataset", p)
	}
	if !oh.datatype.NumericPlottable() {
		return nil, nil, errUnsupportedElementType(oh.datatype)
	}
	raw, err := c.readDatasetBytes(oh)
	if err != nil {
		return nil, nil, err
	}
	count := 1
	for _, d := range oh.space.dims {
		count *= int(d)
	}
	vals, err := oh.datatype.DecodeBlock(raw, count)
	if err != nil {
		return nil, nil, err
	}
	return vals, oh.space.dims, nil
}

func (c *Container) readDatasetBytes(oh *objectHeader) ([]byte, error) {
	elemSize := uint64(oh.datatype.Size)
	total := uint64(1)
	for _, d := range oh.space.dims {
		total *= d
	}
	switch oh.layout.class {
	case 0:
		return oh.layout.compact, nil
	case 1:
		buf := make([]byte, total*elemSize)
		if total > 0 {
			if _, err := c.ra.ReadAt(buf, int64(oh.layout.address)); err != nil {
				return nil, errCorrupt(err, "read contiguous dataset")
			}
		}
		return buf, nil
	case 2:
		return c.readChunked(oh, elemSize)
	default:
		return nil, errUnsupported("unknown data layout class")
	}
}

// readChunked walks the dataset's chunk B-tree and assembles a full,
// densely packed row-major buffer, decompressing each chunk through the
// dataset's filter pipeline and caching the decoded bytes.
func (c *Container) readChunked(oh *objectHeader, elemSize uint64) ([]byte, error) {
	rank := len(oh.space.dims)
	if len(oh.layout.chunkDims) != rank+1 {
		return nil, errCorrupt(nil, "chunk dimensionality does not match dataset rank")
	}
	dims := oh.space.dims
	chunkExtent := oh.layout.chunkDims[:rank]

	total := uint64(1)
	for _, d := range dims {
		total *= d
	}
	out := make([]byte, total*elemSize)

	err := walkChunks(c.ra, c.sb, oh.layout.btreeAddress, rank+1, func(entry chunkEntry) error {
		decoded, err := c.fetchChunk(entry, oh.filters)
		if err != nil {
			return err
		}
		start := entry.offsets[:rank]
		extent := make([]uint64, rank)
		for i := 0; i < rank; i++ {
			e := chunkExtent[i]
			if start[i]+e > dims[i] {
				if start[i] >= dims[i] {
					e = 0
				} else {
					e = dims[i] - start[i]
				}
			}
			extent[i] = e
		}
		copyRegion(out, decoded, dims, chunkExtent, start, zeros(rank), extent, elemSize)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadRegionFloat64 reads only the sub-block of the dataset at p described
// by spans (one entry per dataset dimension, in declared order) as a
// flattened, row-major []float64, alongside the region's own shape. Unlike
// ReadFloat64 it never decodes bytes outside the requested spans: for a
// contiguous layout it issues one ReadAt per selected row instead of one
// ReadAt for the whole dataset, and for a chunked layout it skips
// decompressing any chunk that doesn't overlap the requested spans. Memory
// use and latency are therefore bounded by the size of the region asked
// for, not by the size of the dataset it is drawn from.
func (c *Container) ReadRegionFloat64(p string, spans []Span) ([]float64, []uint64, error) {
	oh, err := c.resolve(p)
	if err != nil {
		return nil, nil, err
	}
	if oh.isGroup {
		return nil, nil, herrors.Newf(herrors.KindBadSelection, "%q is a group, not a dataset", p)
	}
	if !oh.datatype.NumericPlottable() {
		return nil, nil, errUnsupportedElementType(oh.datatype)
	}
	if len(spans) != len(oh.space.dims) {
		return nil, nil, herrors.Newf(herrors.KindBadSelection, "region has %d dims, dataset has %d", len(spans), len(oh.space.dims))
	}
	boxDims := make([]uint64, len(spans))
	starts := make([]uint64, len(spans))
	for i, s := range spans {
		boxDims[i] = s.Limit
		starts[i] = s.Offset
	}
	raw, err := c.readRegionBytes(oh, starts, boxDims)
	if err != nil {
		return nil, nil, err
	}
	count := 1
	for _, d := range boxDims {
		count *= int(d)
	}
	vals, err := oh.datatype.DecodeBlock(raw, count)
	if err != nil {
		return nil, nil, err
	}
	return vals, boxDims, nil
}

func (c *Container) readRegionBytes(oh *objectHeader, starts, boxDims []uint64) ([]byte, error) {
	elemSize := uint64(oh.datatype.Size)
	boxTotal := uint64(1)
	for _, d := range boxDims {
		boxTotal *= d
	}
	out := make([]byte, boxTotal*elemSize)
	switch oh.layout.class {
	case 0: // compact: already fully resident, just slice the wanted box
		extent := boxDims
		copyRegion(out, oh.layout.compact, boxDims, oh.space.dims, zeros(len(starts)), starts, extent, elemSize)
		return out, nil
	case 1:
		return c.readContiguousRegion(oh, starts, boxDims, out, elemSize)
	case 2:
		return c.readChunkedRegion(oh, starts, boxDims, out, elemSize)
	default:
		return nil, errUnsupported("unknown data layout class")
	}
}

// readContiguousRegion reads the requested box directly out of the
// dataset's contiguous on-disk block, one ReadAt per innermost row of the
// box rather than one ReadAt for the whole dataset.
func (c *Container) readContiguousRegion(oh *objectHeader, starts, boxDims []uint64, out []byte, elemSize uint64) ([]byte, error) {
	dims := oh.space.dims
	rank := len(dims)
	if rank == 0 {
		if _, err := c.ra.ReadAt(out, int64(oh.layout.address)); err != nil {
			return nil, errCorrupt(err, "read contiguous region")
		}
		return out, nil
	}
	coord := make([]uint64, rank)
	var rec func(axis int, dstOff uint64) error
	rec = func(axis int, dstOff uint64) error {
		if axis == rank-1 {
			n := boxDims[axis] * elemSize
			if n == 0 {
				return nil
			}
			coord[axis] = starts[axis]
			off := oh.layout.address + flatOffset(dims, coord)*elemSize
			if _, err := c.ra.ReadAt(out[dstOff:dstOff+n], int64(off)); err != nil {
				return errCorrupt(err, "read contiguous region")
			}
			return nil
		}
		dstStride := rowMajorStride(boxDims, axis) * elemSize
		for i := uint64(0); i < boxDims[axis]; i++ {
			coord[axis] = starts[axis] + i
			if err := rec(axis+1, dstOff+i*dstStride); err != nil {
				return err
			}
		}
		return nil
	}
	if err := rec(0, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// readChunkedRegion walks the dataset's chunk B-tree but only decompresses
// and copies chunks that intersect the requested box; chunks wholly
// outside it are skipped without ever being read from storage.
func (c *Container) readChunkedRegion(oh *objectHeader, starts, boxDims []uint64, out []byte, elemSize uint64) ([]byte, error) {
	rank := len(oh.space.dims)
	if len(oh.layout.chunkDims) != rank+1 {
		return nil, errCorrupt(nil, "chunk dimensionality does not match dataset rank")
	}
	dims := oh.space.dims
	chunkExtent := oh.layout.chunkDims[:rank]
	ends := make([]uint64, rank)
	for i := range starts {
		ends[i] = starts[i] + boxDims[i]
	}

	err := walkChunks(c.ra, c.sb, oh.layout.btreeAddress, rank+1, func(entry chunkEntry) error {
		chunkStart := entry.offsets[:rank]
		chunkEnd := make([]uint64, rank)
		overlapStart := make([]uint64, rank)
		overlapEnd := make([]uint64, rank)
		for i := 0; i < rank; i++ {
			e := chunkExtent[i]
			if chunkStart[i]+e > dims[i] {
				if chunkStart[i] >= dims[i] {
					e = 0
				} else {
					e = dims[i] - chunkStart[i]
				}
			}
			chunkEnd[i] = chunkStart[i] + e
			s := maxU64(chunkStart[i], starts[i])
			en := minU64(chunkEnd[i], ends[i])
			if s >= en {
				// No overlap on this axis: the chunk contributes nothing
				// to the requested box, so skip fetching/decoding it.
				overlapStart = nil
				break
			}
			overlapStart[i], overlapEnd[i] = s, en
		}
		if overlapStart == nil {
			return nil
		}
		decoded, err := c.fetchChunk(entry, oh.filters)
		if err != nil {
			return err
		}
		extent := make([]uint64, rank)
		srcStart := make([]uint64, rank)
		dstStart := make([]uint64, rank)
		for i := 0; i < rank; i++ {
			extent[i] = overlapEnd[i] - overlapStart[i]
			srcStart[i] = overlapStart[i] - chunkStart[i]
			dstStart[i] = overlapStart[i] - starts[i]
		}
		copyRegion(out, decoded, boxDims, chunkExtent, dstStart, srcStart, extent, elemSize)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func zeros(n int) []uint64 {
	return make([]uint64, n)
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func (c *Container) chunkCacheKey(addr uint64) string {
	return digest.FromString(fmt.Sprintf("%s:chunk:%d", c.sourceID, addr)).Encoded()
}

func (c *Container) fetchChunk(entry chunkEntry, filters []filterSpec) ([]byte, error) {
	key := c.chunkCacheKey(entry.addr)
	if c.cache != nil {
		if data, ok := c.cache.Get(key); ok {
			return data, nil
		}
	}
	raw := make([]byte, entry.size)
	if entry.size > 0 {
		if _, err := c.ra.ReadAt(raw, int64(entry.addr)); err != nil {
			return nil, errCorrupt(err, "read chunk data")
		}
	}
	decoded, err := applyFilters(raw, filters)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Add(key, decoded)
	}
	return decoded, nil
}

func applyFilters(raw []byte, filters []filterSpec) ([]byte, error) {
	data := raw
	// Filters are applied on write in listed order and must be reversed
	// on read.
	for i := len(filters) - 1; i >= 0; i-- {
		switch filters[i].id {
		case 1: // deflate
			zr, err := zlib.NewReader(newByteReader(data))
			if err != nil {
				return nil, errCorrupt(err, "open deflate chunk stream")
			}
			out, err := ioutil.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, errCorrupt(err, "inflate chunk data")
			}
			data = out
		case 2: // shuffle
			return nil, errUnsupported("shuffle filter is not supported")
		default:
			return nil, errUnsupported(fmt.Sprintf("filter %q is not supported", filters[i].name))
		}
	}
	return data, nil
}

func newByteReader(b []byte) io.Reader {
	return &byteSliceReader{b: b}
}

type byteSliceReader struct {
	b   []byte
	pos int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func rowMajorStride(dims []uint64, axis int) uint64 {
	s := uint64(1)
	for i := axis + 1; i < len(dims); i++ {
		s *= dims[i]
	}
	return s
}

// flatOffset returns the row-major flat element offset of coord within a
// buffer shaped dims.
func flatOffset(dims, coord []uint64) uint64 {
	off := uint64(0)
	for i, c := range coord {
		off += c * rowMajorStride(dims, i)
	}
	return off
}

// copyRegion copies the extent-shaped sub-block starting at srcStart in a
// srcDims-shaped buffer into the sub-block starting at dstStart in a
// dstDims-shaped buffer, both laid out row-major. It generalizes the
// original chunk-into-full-dataset copy to also serve box-into-box copies
// used by the bounded region reads, by letting both source and
// destination carry their own origin.
func copyRegion(dst, src []byte, dstDims, srcDims, dstStart, srcStart, extent []uint64, elemSize uint64) {
	rank := len(extent)
	if rank == 0 {
		copy(dst, src)
		return
	}
	dstBase := flatOffset(dstDims, dstStart) * elemSize
	srcBase := flatOffset(srcDims, srcStart) * elemSize

	var rec func(axis int, dstOff, srcOff uint64)
	rec = func(axis int, dstOff, srcOff uint64) {
		if axis == rank-1 {
			n := extent[axis] * elemSize
			if n == 0 {
				return
			}
			copy(dst[dstOff:dstOff+n], src[srcOff:srcOff+n])
			return
		}
		dstStride := rowMajorStride(dstDims, axis) * elemSize
		srcStride := rowMajorStride(srcDims, axis) * elemSize
		for i := uint64(0); i < extent[axis]; i++ {
			rec(axis+1, dstOff+i*dstStride, srcOff+i*srcStride)
		}
	}
	rec(0, dstBase, srcBase)
}

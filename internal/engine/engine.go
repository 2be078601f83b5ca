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

// Package engine wires the data-access engine's components (C1-C7) into
// the operations the HTTP layer calls directly: one per row of the §6
// surface table. It holds the three constructor-injected singletons named
// in §9 (the two caches and the reader pool) plus the storage adapter and
// lifecycle manager, and contains no package-level mutable state of its
// own.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/scidata/h5viewer/internal/cache"
	"github.com/scidata/h5viewer/internal/extract"
	"github.com/scidata/h5viewer/internal/fingerprint"
	"github.com/scidata/h5viewer/internal/hdf5"
	"github.com/scidata/h5viewer/internal/herrors"
	"github.com/scidata/h5viewer/internal/lifecycle"
	"github.com/scidata/h5viewer/internal/readerpool"
	"github.com/scidata/h5viewer/internal/selection"
	"github.com/scidata/h5viewer/internal/storage"
	"github.com/scidata/h5viewer/internal/walker"
)

// Engine is the process-wide entry point every HTTP handler calls
// through. One Engine is constructed at startup and shared by every
// request.
type Engine struct {
	adapter    storage.Adapter
	listing    *cache.TTLCache
	meta       *cache.TTLCache
	pool       *readerpool.Pool
	walker     *walker.Walker
	lifecycle  *lifecycle.Manager
	limits     selection.Limits
	queueWait  time.Duration
}

// New builds an Engine from its already-constructed singletons.
func New(adapter storage.Adapter, listingCache, metaCache *cache.TTLCache, pool *readerpool.Pool, lm *lifecycle.Manager, limits selection.Limits, queueWait time.Duration) *Engine {
	return &Engine{
		adapter:   adapter,
		listing:   listingCache,
		meta:      metaCache,
		pool:      pool,
		walker:    walker.New(listingCache, metaCache),
		lifecycle: lm,
		limits:    limits,
		queueWait: queueWait,
	}
}

// Listing is the response to GET /files.
type Listing struct {
	Folders []string         `json:"folders"`
	Files   []storage.Object `json:"files"`
}

// ListFiles lists objects at prefix (§4.1 list, fronted by the C3 listing
// cache keyed by (prefix, source-id)).
func (e *Engine) ListFiles(ctx context.Context, prefix, delimiter string) (Listing, error) {
	key := digest.FromString(e.adapter.SourceID() + "\x00" + prefix + "\x00" + delimiter).Encoded()
	v, err := e.listing.GetOrLoad(key, func() (interface{}, error) {
		l, err := e.adapter.List(ctx, prefix, delimiter)
		if err != nil {
			return nil, err
		}
		return Listing{Folders: l.Folders, Files: l.Files}, nil
	})
	if err != nil {
		return Listing{}, err
	}
	out, ok := v.(Listing)
	if !ok {
		return Listing{}, herrors.New(herrors.KindUnknown, "listing cache returned an unexpected type")
	}
	return out, nil
}

// withHandle acquires a reader pool handle for key, retrying exactly once
// on Stale per §7's propagation rule, then invokes fn and always releases
// the handle.
func (e *Engine) withHandle(ctx context.Context, key string, fn func(*hdf5.Container) error) error {
	h, err := e.pool.Acquire(ctx, key)
	if err != nil {
		return err
	}
	err = fn(h.Container())
	h.Release()
	if herrors.Classify(err) == herrors.KindStale {
		h2, err2 := e.pool.Acquire(ctx, key)
		if err2 != nil {
			return err2
		}
		err = fn(h2.Container())
		h2.Release()
	}
	return err
}

// Children lists the members of the group at path within the container
// stored at key (§4.4 children).
func (e *Engine) Children(ctx context.Context, key, path string) ([]walker.ChildEntry, error) {
	token, err := e.adapter.Freshness(ctx, key)
	if err != nil {
		return nil, err
	}
	var out []walker.ChildEntry
	err = e.withHandle(ctx, key, func(c *hdf5.Container) error {
		kids, err := e.walker.Children(ctx, c, key+"|"+token, path)
		if err != nil {
			return err
		}
		out = kids
		return nil
	})
	return out, err
}

// Meta reads the metadata of the node at path (§4.4 meta).
func (e *Engine) Meta(ctx context.Context, key, path string) (walker.NodeMeta, error) {
	token, err := e.adapter.Freshness(ctx, key)
	if err != nil {
		return walker.NodeMeta{}, err
	}
	var out walker.NodeMeta
	err = e.withHandle(ctx, key, func(c *hdf5.Container) error {
		m, err := e.walker.Meta(ctx, c, key+"|"+token, path)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// resolveMeta fetches meta, validating it describes a numeric-plottable
// dataset, since every extraction operation requires one.
func (e *Engine) resolveMeta(ctx context.Context, key, path string) (walker.NodeMeta, error) {
	m, err := e.Meta(ctx, key, path)
	if err != nil {
		return walker.NodeMeta{}, err
	}
	if m.IsGroup {
		return walker.NodeMeta{}, herrors.New(herrors.KindBadSelection, "path is a group, not a dataset")
	}
	return m, nil
}

// extractionFingerprint builds the cache key for an extraction result, per
// §4.3's per-mode field lists. key namespaces the fingerprint by container
// so identical paths in different containers never collide, and token
// namespaces it by the container's freshness: once the underlying object
// changes, its token changes, and every fingerprint built from it becomes a
// fresh cache key, so a cache hit can never outlive the data it was
// computed from.
func extractionFingerprint(key, token, path string, mode selection.Mode, req selection.Request) string {
	b := fingerprint.New(key+"|"+token+"|"+path, fingerprint.Mode(mode))
	if len(req.DisplayDims) == 2 {
		b = b.DisplayDims(req.DisplayDims[0], req.DisplayDims[1], true)
	} else {
		b = b.DisplayDims(0, 0, false)
	}
	b = b.FixedIndices(req.FixedIndices)
	switch mode {
	case selection.ModeMatrix:
		b = b.Field("row_offset", req.RowOffset).
			Field("row_limit", req.RowLimit).
			Field("col_offset", req.ColOffset).
			Field("col_limit", req.ColLimit)
	case selection.ModeLine:
		b = b.Field("line_dim", req.LineDim).
			Field("line_index", req.LineIndex).
			Field("line_offset", req.LineOffset).
			Field("line_limit", req.LineLimit).
			Field("quality", string(req.Quality)).
			Field("max_points", req.MaxPoints)
	case selection.ModeHeatmap:
		b = b.Field("max_size", req.MaxSize)
	}
	return b.Digest()
}

// Preview computes the auto-sized preview for path (§4.6 Preview).
func (e *Engine) Preview(ctx context.Context, key, path string) (extract.Preview, error) {
	m, err := e.resolveMeta(ctx, key, path)
	if err != nil {
		return extract.Preview{}, err
	}
	token, err := e.adapter.Freshness(ctx, key)
	if err != nil {
		return extract.Preview{}, err
	}
	fp := fingerprint.New(key+"|"+token+"|"+path, fingerprint.ModePreview).Digest()
	v, err := e.meta.GetOrLoad(fp, func() (interface{}, error) {
		var out extract.Preview
		err := e.withHandle(ctx, key, func(c *hdf5.Container) error {
			p, err := extract.BuildPreview(ctx, c, m, path, e.limits)
			if err != nil {
				return err
			}
			out = p
			return nil
		})
		return out, err
	})
	if err != nil {
		return extract.Preview{}, err
	}
	return v.(extract.Preview), nil
}

// ExtractMatrix, ExtractLine, and ExtractHeatmap compute the three data
// modes of GET .../data (§4.6), each fronted by the C3 metadata cache
// keyed by the mode's fingerprint.
func (e *Engine) ExtractMatrix(ctx context.Context, key, path string, req selection.Request) (extract.MatrixBlock, error) {
	m, err := e.resolveMeta(ctx, key, path)
	if err != nil {
		return extract.MatrixBlock{}, err
	}
	token, err := e.adapter.Freshness(ctx, key)
	if err != nil {
		return extract.MatrixBlock{}, err
	}
	fp := extractionFingerprint(key, token, path, selection.ModeMatrix, req)
	v, err := e.meta.GetOrLoad(fp, func() (interface{}, error) {
		var out extract.MatrixBlock
		err := e.withHandle(ctx, key, func(c *hdf5.Container) error {
			r, err := extract.Matrix(ctx, c, m, path, req, e.limits)
			if err != nil {
				return err
			}
			out = r
			return nil
		})
		return out, err
	})
	if err != nil {
		return extract.MatrixBlock{}, err
	}
	return v.(extract.MatrixBlock), nil
}

func (e *Engine) ExtractLine(ctx context.Context, key, path string, req selection.Request) (extract.LineSeries, error) {
	m, err := e.resolveMeta(ctx, key, path)
	if err != nil {
		return extract.LineSeries{}, err
	}
	token, err := e.adapter.Freshness(ctx, key)
	if err != nil {
		return extract.LineSeries{}, err
	}
	fp := extractionFingerprint(key, token, path, selection.ModeLine, req)
	v, err := e.meta.GetOrLoad(fp, func() (interface{}, error) {
		var out extract.LineSeries
		err := e.withHandle(ctx, key, func(c *hdf5.Container) error {
			r, err := extract.Line(ctx, c, m, path, req, e.limits)
			if err != nil {
				return err
			}
			out = r
			return nil
		})
		return out, err
	})
	if err != nil {
		return extract.LineSeries{}, err
	}
	return v.(extract.LineSeries), nil
}

func (e *Engine) ExtractHeatmap(ctx context.Context, key, path string, req selection.Request) (extract.HeatmapGrid, error) {
	m, err := e.resolveMeta(ctx, key, path)
	if err != nil {
		return extract.HeatmapGrid{}, err
	}
	token, err := e.adapter.Freshness(ctx, key)
	if err != nil {
		return extract.HeatmapGrid{}, err
	}
	fp := extractionFingerprint(key, token, path, selection.ModeHeatmap, req)
	v, err := e.meta.GetOrLoad(fp, func() (interface{}, error) {
		var out extract.HeatmapGrid
		err := e.withHandle(ctx, key, func(c *hdf5.Container) error {
			r, err := extract.Heatmap(ctx, c, m, path, req, e.limits)
			if err != nil {
				return err
			}
			out = r
			return nil
		})
		return out, err
	})
	if err != nil {
		return extract.HeatmapGrid{}, err
	}
	return v.(extract.HeatmapGrid), nil
}

// ExportCSV streams the selection named by mode/req to w as CSV,
// uncached (§4.6 CSV export is lazy and unbounded, unlike the other
// modes).
func (e *Engine) ExportCSV(ctx context.Context, w io.Writer, key, path string, mode selection.Mode, req selection.Request) error {
	m, err := e.resolveMeta(ctx, key, path)
	if err != nil {
		return err
	}
	return e.withHandle(ctx, key, func(c *hdf5.Container) error {
		return extract.WriteCSV(ctx, w, c, m, path, mode, req, e.limits)
	})
}

// Begin starts a lifecycle-managed request (§4.7), queuing for a
// concurrency slot up to the engine's configured wait and registering the
// given cancel key, if any.
func (e *Engine) Begin(ctx context.Context, cancelKey string) (*lifecycle.Request, error) {
	return e.lifecycle.Begin(ctx, cancelKey, e.queueWait)
}

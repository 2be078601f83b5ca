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

// Package selection implements the slice planner (C5): resolving
// display-dim/fixed-index requests into a concrete N-D selection and a
// downsample plan, per §4.5.
package selection

import (
	"github.com/scidata/h5viewer/internal/herrors"
)

// Mode names the three slice-extraction shapes (§4.6).
type Mode string

const (
	ModeMatrix  Mode = "matrix"
	ModeLine    Mode = "line"
	ModeHeatmap Mode = "heatmap"
)

// Quality controls line-series downsampling (§4.5).
type Quality string

const (
	QualityExact    Quality = "exact"
	QualityOverview Quality = "overview"
	QualityAuto     Quality = "auto"
)

// Limits bounds extraction size (§6 limits.*).
type Limits struct {
	MaxExtractElements int64
	ExactLinePoints    int
	HeatmapMaxSide     int
}

// Request is the caller-supplied, possibly-partial selection. A zero value
// for any optional field means "not supplied": nil DisplayDims/FixedIndices,
// empty Quality, non-positive *Limit/MaxPoints/MaxSize.
type Request struct {
	DisplayDims  []int
	FixedIndices map[int]int

	RowOffset, RowLimit int
	ColOffset, ColLimit int

	LineDim, LineIndex    int
	LineOffset, LineLimit int
	Quality               Quality
	MaxPoints             int

	MaxSize      int
	IncludeStats bool
}

// Plan is a Request fully resolved against a dataset's shape: every
// ambiguity settled, every range clamped, a concrete stride chosen.
type Plan struct {
	DisplayDims  []int
	FixedIndices map[int]int

	RowOffset, RowLimit, RowStride int
	ColOffset, ColLimit, ColStride int

	LineOffset, LineStep            int
	RequestedPoints, ReturnedPoints int
	QualityApplied                  Quality

	EffectiveMaxSize int
	MaxSizeClamped   bool
}

// ResolveDims applies steps 1-3 of §4.5: default display_dims, validate
// bounds and distinctness, and impute the middle index for every
// dimension left unassigned by both display_dims and fixed_indices.
func ResolveDims(shape []uint64, displayDims []int, fixedIndices map[int]int) ([]int, map[int]int, error) {
	n := len(shape)
	var dims []int
	if displayDims == nil {
		if n >= 2 {
			dims = []int{0, 1}
		}
	} else {
		dims = append([]int(nil), displayDims...)
	}
	if len(dims) > 2 {
		return nil, nil, herrors.New(herrors.KindBadSelection, "display_dims must name at most two dimensions")
	}

	seen := make(map[int]bool, len(dims))
	for _, d := range dims {
		if d < 0 || d >= n {
			return nil, nil, herrors.Newf(herrors.KindBadSelection, "display dimension %d out of range [0,%d)", d, n)
		}
		if seen[d] {
			return nil, nil, herrors.New(herrors.KindBadSelection, "display_dims must be distinct")
		}
		seen[d] = true
	}

	resolved := make(map[int]int, n)
	for d, idx := range fixedIndices {
		if d < 0 || d >= n {
			return nil, nil, herrors.Newf(herrors.KindBadSelection, "fixed dimension %d out of range [0,%d)", d, n)
		}
		if seen[d] {
			return nil, nil, herrors.Newf(herrors.KindBadSelection, "dimension %d is both fixed and a display dim", d)
		}
		if idx < 0 || uint64(idx) >= shape[d] {
			return nil, nil, herrors.Newf(herrors.KindOutOfRange, "fixed index %d out of range for dimension %d (size %d)", idx, d, shape[d])
		}
		resolved[d] = idx
	}
	for d := 0; d < n; d++ {
		if seen[d] {
			continue
		}
		if _, ok := resolved[d]; ok {
			continue
		}
		resolved[d] = int(shape[d] / 2)
	}
	if len(resolved)+len(dims) != n {
		return nil, nil, herrors.New(herrors.KindBadSelection, "fixed_indices and display_dims must together cover every dimension")
	}
	return dims, resolved, nil
}

func clampRange(offset, limit int, size uint64) (int, int, error) {
	if offset < 0 {
		return 0, 0, herrors.New(herrors.KindBadSelection, "range offset must be non-negative")
	}
	if uint64(offset) > size {
		offset = int(size)
	}
	end := offset + limit
	if limit < 0 || end < 0 || uint64(end) > size {
		end = int(size)
	}
	if end < offset {
		end = offset
	}
	return offset, end - offset, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		b = 1
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// strideForSpan returns the smallest integer stride s such that
// ceil(span/s) <= maxPoints (§4.5 step 5, line/heatmap modes).
func strideForSpan(span, maxPoints int) int {
	if maxPoints <= 0 {
		maxPoints = 1
	}
	s := ceilDiv(span, maxPoints)
	if s < 1 {
		s = 1
	}
	return s
}

// PlanMatrix resolves a matrix-mode request: no downsampling, a
// rectangular block read verbatim.
func PlanMatrix(shape []uint64, req Request, limits Limits) (Plan, error) {
	dims, fixed, err := ResolveDims(shape, req.DisplayDims, req.FixedIndices)
	if err != nil {
		return Plan{}, err
	}
	if len(dims) != 2 {
		return Plan{}, herrors.New(herrors.KindBadSelection, "matrix mode requires a two-dimensional display selection")
	}
	rowSize, colSize := shape[dims[0]], shape[dims[1]]
	rOff, rLim, err := clampRange(req.RowOffset, orDefault(req.RowLimit, int(rowSize)), rowSize)
	if err != nil {
		return Plan{}, err
	}
	cOff, cLim, err := clampRange(req.ColOffset, orDefault(req.ColLimit, int(colSize)), colSize)
	if err != nil {
		return Plan{}, err
	}
	if int64(rLim)*int64(cLim) > limits.MaxExtractElements {
		return Plan{}, herrors.New(herrors.KindRangeTooLarge, "requested matrix block exceeds the element ceiling")
	}
	return Plan{
		DisplayDims: dims, FixedIndices: fixed,
		RowOffset: rOff, RowLimit: rLim, RowStride: 1,
		ColOffset: cOff, ColLimit: cLim, ColStride: 1,
	}, nil
}

// PlanLine resolves a line-mode request against the dataset's shape,
// choosing exact or a decimating stride per §4.5 step 5.
func PlanLine(shape []uint64, req Request, limits Limits) (Plan, error) {
	n := len(shape)
	if req.LineDim < 0 || req.LineDim >= n {
		return Plan{}, herrors.Newf(herrors.KindBadSelection, "line_dim %d out of range [0,%d)", req.LineDim, n)
	}
	size := shape[req.LineDim]
	offset, span, err := clampRange(req.LineOffset, orDefault(req.LineLimit, int(size)), size)
	if err != nil {
		return Plan{}, err
	}

	quality := req.Quality
	if quality == "" || quality == QualityAuto {
		quality = QualityOverview
	}
	var stride int
	switch quality {
	case QualityExact:
		if span > limits.ExactLinePoints {
			return Plan{}, herrors.Newf(herrors.KindRangeTooLarge, "exact line request of %d points exceeds the %d point ceiling", span, limits.ExactLinePoints)
		}
		stride = 1
	case QualityOverview:
		maxPoints := req.MaxPoints
		if maxPoints <= 0 {
			maxPoints = limits.ExactLinePoints
		}
		stride = strideForSpan(span, maxPoints)
	default:
		return Plan{}, herrors.Newf(herrors.KindBadSelection, "unknown quality %q", quality)
	}
	returned := ceilDiv(span, stride)

	fixed := make(map[int]int, n-1)
	for d, idx := range req.FixedIndices {
		if d == req.LineDim {
			continue
		}
		if d < 0 || d >= n {
			return Plan{}, herrors.Newf(herrors.KindBadSelection, "fixed dimension %d out of range [0,%d)", d, n)
		}
		if idx < 0 || uint64(idx) >= shape[d] {
			return Plan{}, herrors.Newf(herrors.KindOutOfRange, "fixed index %d out of range for dimension %d (size %d)", idx, d, shape[d])
		}
		fixed[d] = idx
	}
	for d := 0; d < n; d++ {
		if d == req.LineDim {
			continue
		}
		if _, ok := fixed[d]; !ok {
			fixed[d] = int(shape[d] / 2)
		}
	}

	return Plan{
		DisplayDims:     []int{req.LineDim},
		FixedIndices:    fixed,
		LineOffset:      offset,
		LineStep:        stride,
		RequestedPoints: span,
		ReturnedPoints:  returned,
		QualityApplied:  quality,
	}, nil
}

// PlanHeatmap resolves a heatmap-mode request, choosing independent
// per-axis strides so the returned grid is ≤ the effective max size on
// each side (§4.5 step 5).
func PlanHeatmap(shape []uint64, req Request, limits Limits) (Plan, error) {
	dims, fixed, err := ResolveDims(shape, req.DisplayDims, req.FixedIndices)
	if err != nil {
		return Plan{}, err
	}
	if len(dims) != 2 {
		return Plan{}, herrors.New(herrors.KindBadSelection, "heatmap mode requires a two-dimensional display selection")
	}
	rowSize, colSize := shape[dims[0]], shape[dims[1]]
	if int64(rowSize)*int64(colSize) > limits.MaxExtractElements {
		return Plan{}, herrors.New(herrors.KindRangeTooLarge, "requested heatmap source region exceeds the element ceiling")
	}

	maxSize := req.MaxSize
	clamped := false
	if maxSize <= 0 {
		maxSize = 512
	}
	if maxSize > limits.HeatmapMaxSide {
		maxSize = limits.HeatmapMaxSide
		clamped = true
	}
	rStride := strideForSpan(int(rowSize), maxSize)
	cStride := strideForSpan(int(colSize), maxSize)
	return Plan{
		DisplayDims: dims, FixedIndices: fixed,
		RowOffset: 0, RowLimit: int(rowSize), RowStride: rStride,
		ColOffset: 0, ColLimit: int(colSize), ColStride: cStride,
		EffectiveMaxSize: maxSize,
		MaxSizeClamped:   clamped,
	}, nil
}

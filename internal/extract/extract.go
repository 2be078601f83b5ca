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

// Package extract implements the extraction engine (C6): previews, matrix
// blocks, line windows, heatmap reductions, and CSV streams, all executed
// against a selection.Plan resolved against a dataset's shape and read
// region-by-region from the reader pool's container rather than decoded in
// full.
package extract

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/scidata/h5viewer/internal/hdf5"
	"github.com/scidata/h5viewer/internal/herrors"
	"github.com/scidata/h5viewer/internal/selection"
	"github.com/scidata/h5viewer/internal/walker"
)

// TableView is the table half of a Preview payload.
type TableView struct {
	Kind string      `json:"kind"` // "1d" or "2d"
	Data []float64   `json:"data,omitempty"`
	Rows [][]float64 `json:"rows,omitempty"`
}

// PlotView is the plot half of a Preview payload. BuildPreview always sets
// it: a node that isn't numeric-plottable is rejected with an
// UnsupportedElementType error and yields no Preview at all.
type PlotView struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

// Preview is the response to GET .../preview.
type Preview struct {
	Shape        []uint64    `json:"shape"`
	NDim         int         `json:"ndim"`
	DType        string      `json:"dtype"`
	DisplayDims  []int       `json:"display_dims,omitempty"`
	FixedIndices map[int]int `json:"fixed_indices,omitempty"`
	Table        TableView   `json:"table"`
	Plot         *PlotView   `json:"plot,omitempty"`
}

// MatrixBlock is the response to GET .../data?mode=matrix.
type MatrixBlock struct {
	Data         [][]float64 `json:"data"`
	RowOffset    int         `json:"row_offset"`
	RowLimit     int         `json:"row_limit"`
	ColOffset    int         `json:"col_offset"`
	ColLimit     int         `json:"col_limit"`
	DisplayDims  []int       `json:"display_dims,omitempty"`
	FixedIndices map[int]int `json:"fixed_indices,omitempty"`
}

// DownsampleInfo reports the stride a line series was reduced by, so a
// client can tell an exact read from a decimated one without recomputing
// the planner's math itself.
type DownsampleInfo struct {
	Stride       int  `json:"stride"`
	SourcePoints int  `json:"source_points"`
	Downsampled  bool `json:"downsampled"`
}

// LineSeries is the response to GET .../data?mode=line.
type LineSeries struct {
	Data            []float64      `json:"data"`
	LineOffset      int            `json:"line_offset"`
	LineStep        int            `json:"line_step"`
	RequestedPoints int            `json:"requested_points"`
	ReturnedPoints  int            `json:"returned_points"`
	QualityApplied  string         `json:"quality_applied"`
	DownsampleInfo  DownsampleInfo `json:"downsample_info"`
}

// Stats is the optional min/max/mean/std block attached to a HeatmapGrid.
type Stats struct {
	Min, Max, Mean, Std float64
}

// HeatmapGrid is the response to GET .../data?mode=heatmap.
type HeatmapGrid struct {
	Data             [][]float64 `json:"data"`
	EffectiveMaxSize int         `json:"effective_max_size"`
	MaxSizeClamped   bool        `json:"max_size_clamped"`
	DisplayDims      []int       `json:"display_dims,omitempty"`
	FixedIndices     map[int]int `json:"fixed_indices,omitempty"`
	Stats            *Stats      `json:"stats,omitempty"`
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return herrors.New(herrors.KindCancelled, "request cancelled")
	default:
		return nil
	}
}

func checkNumeric(meta walker.NodeMeta) error {
	if meta.IsGroup {
		return herrors.New(herrors.KindBadSelection, "path is a group, not a dataset")
	}
	if !meta.NumericPlottable {
		return herrors.Newf(herrors.KindUnsupportedElementType, "dtype %q is not numeric-plottable", meta.DType)
	}
	return nil
}

// buildSpans derives the minimal per-dimension region needed to satisfy
// plan: the resolved display (or line) extent pre-stride, and a
// single-element span at every fixed dimension. Strides are applied after
// the read, against the returned box, so the box itself must still cover
// the whole pre-stride extent.
func buildSpans(shape []uint64, plan selection.Plan, isLine bool) []hdf5.Span {
	spans := make([]hdf5.Span, len(shape))
	for d := range shape {
		spans[d] = hdf5.Span{Offset: uint64(plan.FixedIndices[d]), Limit: 1}
	}
	if isLine {
		spans[plan.DisplayDims[0]] = hdf5.Span{Offset: uint64(plan.LineOffset), Limit: uint64(plan.RequestedPoints)}
		return spans
	}
	spans[plan.DisplayDims[0]] = hdf5.Span{Offset: uint64(plan.RowOffset), Limit: uint64(plan.RowLimit)}
	spans[plan.DisplayDims[1]] = hdf5.Span{Offset: uint64(plan.ColOffset), Limit: uint64(plan.ColLimit)}
	return spans
}

// zeroedPlan rewrites plan's offsets to be relative to a box buffer that
// already starts at the requested offsets, so the gather helpers below can
// walk it as if it were the full dataset.
func zeroedPlan(plan selection.Plan) selection.Plan {
	boxed := plan
	boxed.RowOffset, boxed.ColOffset, boxed.LineOffset = 0, 0, 0
	if plan.FixedIndices != nil {
		z := make(map[int]int, len(plan.FixedIndices))
		for d := range plan.FixedIndices {
			z[d] = 0
		}
		boxed.FixedIndices = z
	}
	return boxed
}

func readRegion(container *hdf5.Container, path string, shape []uint64, plan selection.Plan, isLine bool) ([]float64, []uint64, error) {
	return container.ReadRegionFloat64(path, buildSpans(shape, plan, isLine))
}

func strides(shape []uint64) []uint64 {
	s := make([]uint64, len(shape))
	acc := uint64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func flatIndex(strd []uint64, coord []int) uint64 {
	var off uint64
	for i, c := range coord {
		off += uint64(c) * strd[i]
	}
	return off
}

func baseCoord(shape []uint64, fixed map[int]int) []int {
	coord := make([]int, len(shape))
	for d, v := range fixed {
		coord[d] = v
	}
	return coord
}

func ceilDivInt(a, b int) int {
	if b <= 0 {
		b = 1
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func gather2D(data []float64, shape []uint64, plan selection.Plan) [][]float64 {
	strd := strides(shape)
	coord := baseCoord(shape, plan.FixedIndices)
	out := make([][]float64, 0, ceilDivInt(plan.RowLimit, plan.RowStride))
	for r := 0; r < plan.RowLimit; r += plan.RowStride {
		coord[plan.DisplayDims[0]] = plan.RowOffset + r
		row := make([]float64, 0, ceilDivInt(plan.ColLimit, plan.ColStride))
		for c := 0; c < plan.ColLimit; c += plan.ColStride {
			coord[plan.DisplayDims[1]] = plan.ColOffset + c
			row = append(row, data[flatIndex(strd, coord)])
		}
		out = append(out, row)
	}
	return out
}

func gather1D(data []float64, shape []uint64, dim int, fixed map[int]int, offset, limit, stride int) []float64 {
	strd := strides(shape)
	coord := baseCoord(shape, fixed)
	out := make([]float64, 0, ceilDivInt(limit, stride))
	for i := 0; i < limit; i += stride {
		coord[dim] = offset + i
		out = append(out, data[flatIndex(strd, coord)])
	}
	return out
}

func computeStats(grid [][]float64) *Stats {
	min, max := math.Inf(1), math.Inf(-1)
	var sum float64
	var count int
	for _, row := range grid {
		for _, v := range row {
			count++
			sum += v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	if count == 0 {
		return &Stats{}
	}
	mean := sum / float64(count)
	var variance float64
	for _, row := range grid {
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
	}
	return &Stats{Min: min, Max: max, Mean: mean, Std: math.Sqrt(variance / float64(count))}
}

// Matrix extracts a rectangular, non-downsampled sub-array (§4.6). Only the
// requested block is ever decoded, regardless of the dataset's full size.
func Matrix(ctx context.Context, container *hdf5.Container, meta walker.NodeMeta, path string, req selection.Request, limits selection.Limits) (MatrixBlock, error) {
	if err := checkCtx(ctx); err != nil {
		return MatrixBlock{}, err
	}
	if err := checkNumeric(meta); err != nil {
		return MatrixBlock{}, err
	}
	plan, err := selection.PlanMatrix(meta.Shape, req, limits)
	if err != nil {
		return MatrixBlock{}, err
	}
	if err := checkCtx(ctx); err != nil {
		return MatrixBlock{}, err
	}
	data, boxShape, err := readRegion(container, path, meta.Shape, plan, false)
	if err != nil {
		return MatrixBlock{}, err
	}
	grid := gather2D(data, boxShape, zeroedPlan(plan))
	return MatrixBlock{
		Data:      grid,
		RowOffset: plan.RowOffset, RowLimit: plan.RowLimit,
		ColOffset: plan.ColOffset, ColLimit: plan.ColLimit,
		DisplayDims: plan.DisplayDims, FixedIndices: plan.FixedIndices,
	}, nil
}

// Line extracts a 1-D window, applying the planner-chosen stride (§4.6).
func Line(ctx context.Context, container *hdf5.Container, meta walker.NodeMeta, path string, req selection.Request, limits selection.Limits) (LineSeries, error) {
	if err := checkCtx(ctx); err != nil {
		return LineSeries{}, err
	}
	if err := checkNumeric(meta); err != nil {
		return LineSeries{}, err
	}
	plan, err := selection.PlanLine(meta.Shape, req, limits)
	if err != nil {
		return LineSeries{}, err
	}
	if err := checkCtx(ctx); err != nil {
		return LineSeries{}, err
	}
	data, boxShape, err := readRegion(container, path, meta.Shape, plan, true)
	if err != nil {
		return LineSeries{}, err
	}
	boxed := zeroedPlan(plan)
	series := gather1D(data, boxShape, req.LineDim, boxed.FixedIndices, boxed.LineOffset, plan.RequestedPoints, plan.LineStep)
	return LineSeries{
		Data:            series,
		LineOffset:      plan.LineOffset,
		LineStep:        plan.LineStep,
		RequestedPoints: plan.RequestedPoints,
		ReturnedPoints:  plan.ReturnedPoints,
		QualityApplied:  string(plan.QualityApplied),
		DownsampleInfo: DownsampleInfo{
			Stride:       plan.LineStep,
			SourcePoints: plan.RequestedPoints,
			Downsampled:  plan.LineStep > 1,
		},
	}, nil
}

// Heatmap extracts a downsampled 2-D grid, optionally attaching summary
// statistics (§4.6).
func Heatmap(ctx context.Context, container *hdf5.Container, meta walker.NodeMeta, path string, req selection.Request, limits selection.Limits) (HeatmapGrid, error) {
	if err := checkCtx(ctx); err != nil {
		return HeatmapGrid{}, err
	}
	if err := checkNumeric(meta); err != nil {
		return HeatmapGrid{}, err
	}
	plan, err := selection.PlanHeatmap(meta.Shape, req, limits)
	if err != nil {
		return HeatmapGrid{}, err
	}
	if err := checkCtx(ctx); err != nil {
		return HeatmapGrid{}, err
	}
	data, boxShape, err := readRegion(container, path, meta.Shape, plan, false)
	if err != nil {
		return HeatmapGrid{}, err
	}
	grid := gather2D(data, boxShape, zeroedPlan(plan))
	out := HeatmapGrid{
		Data: grid, EffectiveMaxSize: plan.EffectiveMaxSize, MaxSizeClamped: plan.MaxSizeClamped,
		DisplayDims: plan.DisplayDims, FixedIndices: plan.FixedIndices,
	}
	if req.IncludeStats {
		out.Stats = computeStats(grid)
	}
	return out, nil
}

// BuildPreview auto-picks a mode based on rank (§4.6 Preview).
func BuildPreview(ctx context.Context, container *hdf5.Container, meta walker.NodeMeta, path string, limits selection.Limits) (Preview, error) {
	if err := checkCtx(ctx); err != nil {
		return Preview{}, err
	}
	if err := checkNumeric(meta); err != nil {
		return Preview{}, err
	}
	shape := meta.Shape
	out := Preview{Shape: shape, NDim: len(shape), DType: meta.DType}

	if len(shape) == 1 {
		plan, err := selection.PlanLine(shape, selection.Request{
			LineDim: 0, Quality: selection.QualityOverview, MaxPoints: 512,
		}, limits)
		if err != nil {
			return Preview{}, err
		}
		data, boxShape, err := readRegion(container, path, shape, plan, true)
		if err != nil {
			return Preview{}, err
		}
		boxed := zeroedPlan(plan)
		series := gather1D(data, boxShape, 0, boxed.FixedIndices, boxed.LineOffset, plan.RequestedPoints, plan.LineStep)
		out.FixedIndices = plan.FixedIndices
		out.Table = TableView{Kind: "1d", Data: series}
		out.Plot = &PlotView{Kind: "line", Data: series}
		return out, nil
	}

	plan, err := selection.PlanHeatmap(shape, selection.Request{MaxSize: 512}, limits)
	if err != nil {
		return Preview{}, err
	}
	data, boxShape, err := readRegion(container, path, shape, plan, false)
	if err != nil {
		return Preview{}, err
	}
	grid := gather2D(data, boxShape, zeroedPlan(plan))
	out.DisplayDims = plan.DisplayDims
	out.FixedIndices = plan.FixedIndices
	out.Table = TableView{Kind: "2d", Rows: grid}
	out.Plot = &PlotView{Kind: "heatmap", Data: grid}
	return out, nil
}

// WriteCSV streams the selection named by mode/req as CSV rows, checking
// ctx for cancellation between rows (§4.6 CSV export, §4.7 cancellation).
// Only the selected region is read from the container.
func WriteCSV(ctx context.Context, w io.Writer, container *hdf5.Container, meta walker.NodeMeta, path string, mode selection.Mode, req selection.Request, limits selection.Limits) error {
	if err := checkNumeric(meta); err != nil {
		return err
	}
	cw := csv.NewWriter(w)

	if mode == selection.ModeLine {
		plan, err := selection.PlanLine(meta.Shape, req, limits)
		if err != nil {
			return err
		}
		if err := checkCtx(ctx); err != nil {
			return err
		}
		data, boxShape, err := readRegion(container, path, meta.Shape, plan, true)
		if err != nil {
			return err
		}
		boxed := zeroedPlan(plan)
		if err := cw.Write([]string{"index", "value"}); err != nil {
			return err
		}
		strd := strides(boxShape)
		coord := baseCoord(boxShape, boxed.FixedIndices)
		row := 0
		for i := 0; i < plan.RequestedPoints; i += plan.LineStep {
			if err := checkCtx(ctx); err != nil {
				return err
			}
			coord[req.LineDim] = i
			v := data[flatIndex(strd, coord)]
			if err := cw.Write([]string{strconv.Itoa(row), strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
				return err
			}
			row++
		}
		cw.Flush()
		return cw.Error()
	}

	var plan selection.Plan
	var err error
	if mode == selection.ModeHeatmap {
		plan, err = selection.PlanHeatmap(meta.Shape, req, limits)
	} else {
		plan, err = selection.PlanMatrix(meta.Shape, req, limits)
	}
	if err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	data, boxShape, err := readRegion(container, path, meta.Shape, plan, false)
	if err != nil {
		return err
	}
	boxed := zeroedPlan(plan)
	header := []string{`row\col`}
	for c := 0; c < plan.ColLimit; c += plan.ColStride {
		header = append(header, strconv.Itoa(plan.ColOffset+c))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	strd := strides(boxShape)
	coord := baseCoord(boxShape, boxed.FixedIndices)
	for r := 0; r < plan.RowLimit; r += plan.RowStride {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		coord[plan.DisplayDims[0]] = r
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(plan.RowOffset+r))
		for c := 0; c < plan.ColLimit; c += plan.ColStride {
			coord[plan.DisplayDims[1]] = c
			row = append(row, strconv.FormatFloat(data[flatIndex(strd, coord)], 'g', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

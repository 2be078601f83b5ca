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

package extract

import (
	"context"
	"math"
	"testing"

	"github.com/scidata/h5viewer/internal/selection"
)

func TestStridesRowMajor(t *testing.T) {
	s := strides([]uint64{3, 4, 5})
	if s[0] != 20 || s[1] != 5 || s[2] != 1 {
		t.Fatalf("unexpected strides: %v", s)
	}
}

func TestFlatIndex(t *testing.T) {
	strd := strides([]uint64{3, 4})
	if got := flatIndex(strd, []int{2, 1}); got != 9 {
		t.Fatalf("flatIndex = %d, want 9", got)
	}
}

func TestBaseCoordAppliesFixedIndices(t *testing.T) {
	coord := baseCoord([]uint64{2, 3, 4}, map[int]int{1: 2})
	want := []int{0, 2, 0}
	for i := range want {
		if coord[i] != want[i] {
			t.Fatalf("coord = %v, want %v", coord, want)
		}
	}
}

func TestCeilDivInt(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{10, 3, 4},
		{9, 3, 3},
		{0, 3, 0},
		{5, 1, 5},
		{5, 0, 5},
	}
	for _, c := range cases {
		if got := ceilDivInt(c.a, c.b); got != c.want {
			t.Fatalf("ceilDivInt(%d,%d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

// data is a 3x4 row-major matrix: row i, col j -> i*4+j.
func matrix3x4() ([]float64, []uint64) {
	shape := []uint64{3, 4}
	data := make([]float64, 12)
	for i := range data {
		data[i] = float64(i)
	}
	return data, shape
}

func TestGather2DFullNoStride(t *testing.T) {
	data, shape := matrix3x4()
	plan := selection.Plan{
		DisplayDims: []int{0, 1},
		RowOffset:   0, RowLimit: 3, RowStride: 1,
		ColOffset: 0, ColLimit: 4, ColStride: 1,
	}
	grid := gather2D(data, shape, plan)
	if len(grid) != 3 || len(grid[0]) != 4 {
		t.Fatalf("unexpected grid dims: %dx%d", len(grid), len(grid[0]))
	}
	if grid[1][2] != 6 {
		t.Fatalf("grid[1][2] = %v, want 6", grid[1][2])
	}
}

func TestGather2DWithStrideAndOffset(t *testing.T) {
	data, shape := matrix3x4()
	plan := selection.Plan{
		DisplayDims: []int{0, 1},
		RowOffset:   1, RowLimit: 2, RowStride: 1,
		ColOffset: 0, ColLimit: 4, ColStride: 2,
	}
	grid := gather2D(data, shape, plan)
	if len(grid) != 2 || len(grid[0]) != 2 {
		t.Fatalf("unexpected grid dims: %dx%d", len(grid), len(grid[0]))
	}
	// row 1 (offset), cols 0 and 2 -> values 4 and 6
	if grid[0][0] != 4 || grid[0][1] != 6 {
		t.Fatalf("grid[0] = %v, want [4 6]", grid[0])
	}
}

func TestGather1D(t *testing.T) {
	shape := []uint64{6}
	data := []float64{0, 1, 2, 3, 4, 5}
	out := gather1D(data, shape, 0, nil, 1, 4, 2)
	want := []float64{1, 3}
	if len(out) != len(want) {
		t.Fatalf("gather1D = %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("gather1D[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestGather1DFixesOtherDims(t *testing.T) {
	// 2x3 matrix, walk along dim 1 with dim 0 fixed at row 1.
	shape := []uint64{2, 3}
	data := []float64{0, 1, 2, 3, 4, 5}
	out := gather1D(data, shape, 1, map[int]int{0: 1}, 0, 3, 1)
	want := []float64{3, 4, 5}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("gather1D[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestComputeStats(t *testing.T) {
	grid := [][]float64{{1, 2}, {3, 4}}
	s := computeStats(grid)
	if s.Min != 1 || s.Max != 4 {
		t.Fatalf("min/max = %v/%v, want 1/4", s.Min, s.Max)
	}
	if s.Mean != 2.5 {
		t.Fatalf("mean = %v, want 2.5", s.Mean)
	}
	wantStd := math.Sqrt(1.25)
	if math.Abs(s.Std-wantStd) > 1e-9 {
		t.Fatalf("std = %v, want %v", s.Std, wantStd)
	}
}

func TestComputeStatsEmptyGrid(t *testing.T) {
	s := computeStats(nil)
	if s.Min != 0 || s.Max != 0 || s.Mean != 0 || s.Std != 0 {
		t.Fatalf("empty grid stats should be zero value, got %+v", s)
	}
}

func TestCheckCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := checkCtx(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestCheckCtxLive(t *testing.T) {
	if err := checkCtx(context.Background()); err != nil {
		t.Fatalf("expected no error for live context, got %v", err)
	}
}

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

package fingerprint

import "testing"

func TestDigestStableUnderFieldOrder(t *testing.T) {
	a := New("/a/b", ModeMatrix).
		DisplayDims(0, 1, true).
		FixedIndices(map[int]int{2: 5, 3: 1}).
		Field("row_offset", 0).
		Field("row_limit", 10).
		Digest()

	b := New("/a/b", ModeMatrix).
		DisplayDims(0, 1, true).
		FixedIndices(map[int]int{3: 1, 2: 5}).
		Field("row_offset", 0).
		Field("row_limit", 10).
		Digest()

	if a != b {
		t.Fatalf("fixed_indices insertion order changed the digest: %s != %s", a, b)
	}
}

func TestDigestDiffersByMode(t *testing.T) {
	matrix := New("/a/b", ModeMatrix).DisplayDims(0, 1, true).FixedIndices(nil).Digest()
	line := New("/a/b", ModeLine).DisplayDims(0, 1, true).FixedIndices(nil).Digest()
	if matrix == line {
		t.Fatal("matrix and line fingerprints collided for the same path/dims")
	}
}

func TestDigestDiffersByPath(t *testing.T) {
	a := New("/a", ModeMeta).Digest()
	b := New("/b", ModeMeta).Digest()
	if a == b {
		t.Fatal("different paths produced the same fingerprint")
	}
}

func TestDisplayDimsAbsentVsPresent(t *testing.T) {
	absent := New("/a", ModeMeta).DisplayDims(0, 0, false).Digest()
	present := New("/a", ModeMeta).DisplayDims(0, 0, true).Digest()
	if absent == present {
		t.Fatal("absent display_dims collided with an explicit (0,0)")
	}
}

func TestFieldOrderMatters(t *testing.T) {
	a := New("/a", ModeMatrix).Field("x", 1).Field("y", 2).Digest()
	b := New("/a", ModeMatrix).Field("y", 2).Field("x", 1).Digest()
	if a == b {
		t.Fatal("fixed-order fields must not collide when the caller swaps insertion order")
	}
}

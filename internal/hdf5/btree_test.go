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
	"encoding/binary"
	"testing"
)

func TestChunkKeySize(t *testing.T) {
	// size(4) + filterMask(4) + (rank+1) offsets of 8 bytes each.
	if got := chunkKeySize(3); got != 4+4+3*8 {
		t.Fatalf("chunkKeySize(3) = %d, want %d", got, 4+4+3*8)
	}
}

func TestParseChunkKey(t *testing.T) {
	offsetsCount := 3
	buf := make([]byte, chunkKeySize(offsetsCount))
	binary.LittleEndian.PutUint32(buf[0:4], 4096)  // chunk byte size
	binary.LittleEndian.PutUint32(buf[4:8], 0x02)  // filter mask
	binary.LittleEndian.PutUint64(buf[8:16], 10)   // offset dim 0
	binary.LittleEndian.PutUint64(buf[16:24], 20)  // offset dim 1
	binary.LittleEndian.PutUint64(buf[24:32], 0)   // trailing element-size slot

	entry, err := parseChunkKey(buf, offsetsCount)
	if err != nil {
		t.Fatal(err)
	}
	if entry.size != 4096 {
		t.Fatalf("size = %d, want 4096", entry.size)
	}
	if entry.filterMask != 0x02 {
		t.Fatalf("filterMask = %#x, want 0x02", entry.filterMask)
	}
	if len(entry.offsets) != 3 || entry.offsets[0] != 10 || entry.offsets[1] != 20 || entry.offsets[2] != 0 {
		t.Fatalf("offsets = %v, want [10 20 0]", entry.offsets)
	}
}

func TestParseChunkKeyShortBufferErrors(t *testing.T) {
	_, err := parseChunkKey(make([]byte, 4), 3)
	if err == nil {
		t.Fatal("expected an error parsing a truncated chunk key")
	}
}

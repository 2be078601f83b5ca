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
	"bytes"
	"io"
)

// localHeap is the decoded data segment of an HDF5 local heap, used to
// resolve symbol-table link-name offsets into strings.
type localHeap struct {
	data []byte
}

func readLocalHeap(ra io.ReaderAt, sb *superblock, addr uint64) (*localHeap, error) {
	// Signature(4) Version(1) Reserved(3) DataSegmentSize(lengthSize)
	// FreeListHead(lengthSize) DataSegmentAddress(offsetSize)
	hdrSize := 4 + 1 + 3 + 2*sb.lengthSize + sb.offsetSize
	buf := make([]byte, hdrSize)
	if _, err := ra.ReadAt(buf, int64(addr)); err != nil {
		return nil, errCorrupt(err, "read local heap header")
	}
	c := newCursor(buf)
	sig, err := c.take(4)
	if err != nil {
		return nil, err
	}
	if string(sig) != string(heapSignature[:]) {
		return nil, errCorrupt(nil, "bad local heap signature")
	}
	if err := c.skip(1 + 3); err != nil {
		return nil, err
	}
	dataSize, err := c.uintN(sb.lengthSize)
	if err != nil {
		return nil, err
	}
	if _, err := c.uintN(sb.lengthSize); err != nil { // free list head
		return nil, err
	}
	dataAddr, err := c.uintN(sb.offsetSize)
	if err != nil {
		return nil, err
	}
	data := make([]byte, dataSize)
	if dataSize > 0 {
		if _, err := ra.ReadAt(data, int64(dataAddr)); err != nil {
			return nil, errCorrupt(err, "read local heap data segment")
		}
	}
	return &localHeap{data: data}, nil
}

func (h *localHeap) nameAt(offset uint64) (string, error) {
	if offset >= uint64(len(h.data)) {
		return "", errCorrupt(nil, "local heap offset out of range")
	}
	end := bytes.IndexByte(h.data[offset:], 0)
	if end < 0 {
		return "", errCorrupt(nil, "unterminated name in local heap")
	}
	return string(h.data[offset : offset+uint64(end)]), nil
}

// symbolTableEntry is one directory entry: a name (resolved via the local
// heap) and the address of the entry's object header.
type symbolTableEntry struct {
	name              string
	objectHeaderAddr  uint64
}

func symbolTableEntrySize(sb *superblock) int {
	return 2*sb.offsetSize + 4 + 4 + 16
}

func readSNOD(ra io.ReaderAt, sb *superblock, heap *localHeap, addr uint64) ([]symbolTableEntry, error) {
	prefix := make([]byte, 4+1+1+2)
	if _, err := ra.ReadAt(prefix, int64(addr)); err != nil {
		return nil, errCorrupt(err, "read SNOD header")
	}
	c := newCursor(prefix)
	sig, err := c.take(4)
	if err != nil {
		return nil, err
	}
	if string(sig) != string(snodSignature[:]) {
		return nil, errCorrupt(nil, "bad SNOD signature")
	}
	if err := c.skip(2); err != nil { // version + reserved
		return nil, err
	}
	count, err := c.u16()
	if err != nil {
		return nil, err
	}
	entrySize := symbolTableEntrySize(sb)
	body := make([]byte, int(count)*entrySize)
	if len(body) > 0 {
		if _, err := ra.ReadAt(body, int64(addr)+int64(len(prefix))); err != nil {
			return nil, errCorrupt(err, "read SNOD entries")
		}
	}
	bc := newCursor(body)
	out := make([]symbolTableEntry, 0, count)
	for i := 0; i < int(count); i++ {
		linkNameOffset, err := bc.uintN(sb.offsetSize)
		if err != nil {
			return nil, err
		}
		objHeaderAddr, err := bc.uintN(sb.offsetSize)
		if err != nil {
			return nil, err
		}
		if err := bc.skip(4 + 4 + 16); err != nil { // cache type, reserved, scratch pad
			return nil, err
		}
		name, err := heap.nameAt(linkNameOffset)
		if err != nil {
			return nil, err
		}
		out = append(out, symbolTableEntry{name: name, objectHeaderAddr: objHeaderAddr})
	}
	return out, nil
}

// listGroup returns every (name, object header address) pair stored under
// a group's symbol table (B-tree over SNOD blocks).
func listGroup(ra io.ReaderAt, sb *superblock, btreeAddr, heapAddr uint64) ([]symbolTableEntry, error) {
	heap, err := readLocalHeap(ra, sb, heapAddr)
	if err != nil {
		return nil, err
	}
	var out []symbolTableEntry
	err = walkLeaves(ra, sb, btreeAddr, sb.lengthSize, func(snodAddr uint64) error {
		entries, err := readSNOD(ra, sb, heap, snodAddr)
		if err != nil {
			return err
		}
		out = append(out, entries...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

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

import "io"

var (
	btreeSignature = [4]byte{'T', 'R', 'E', 'E'}
	snodSignature  = [4]byte{'S', 'N', 'O', 'D'}
	heapSignature  = [4]byte{'H', 'E', 'A', 'P'}
)

const (
	btreeNodeTypeGroup = 0
	btreeNodeTypeChunk = 1
)

// btreeNode is one parsed v1 B-tree node: for a group (node type 0) the
// keys are local-heap byte offsets and the leaves (when level==0) point at
// SNOD blocks; for chunked data (node type 1) the keys describe chunk
// geometry and the leaves point directly at raw chunk data.
type btreeNode struct {
	nodeType int
	level    int
	keys     [][]byte // len(keys) == len(children)+1
	children []uint64
}

// readBTreeNode parses the node at addr. keySize is the encoded width of
// each key record: for group nodes this is sb.lengthSize; for chunk nodes
// it is computed by the caller from the dataset's chunk rank (see
// chunkKeySize).
func readBTreeNode(ra io.ReaderAt, sb *superblock, addr uint64, keySize int) (*btreeNode, error) {
	header := make([]byte, 4+1+1+2+2*sb.offsetSize)
	if _, err := ra.ReadAt(header, int64(addr)); err != nil {
		return nil, errCorrupt(err, "read B-tree node header")
	}
	c := newCursor(header)
	sig, err := c.take(4)
	if err != nil {
		return nil, err
	}
	if string(sig) != string(btreeSignature[:]) {
		return nil, errCorrupt(nil, "bad B-tree signature")
	}
	nodeType, err := c.u8()
	if err != nil {
		return nil, err
	}
	level, err := c.u8()
	if err != nil {
		return nil, err
	}
	entriesUsed, err := c.u16()
	if err != nil {
		return nil, err
	}
	if err := c.skip(2 * sb.offsetSize); err != nil { // left/right sibling
		return nil, err
	}
	n := int(entriesUsed)
	bodySize := (n+1)*keySize + n*sb.offsetSize
	body := make([]byte, bodySize)
	if _, err := ra.ReadAt(body, int64(addr)+int64(len(header))); err != nil {
		return nil, errCorrupt(err, "read B-tree node body")
	}
	bc := newCursor(body)
	node := &btreeNode{nodeType: int(nodeType), level: int(level)}
	for i := 0; i < n; i++ {
		key, err := bc.take(keySize)
		if err != nil {
			return nil, err
		}
		node.keys = append(node.keys, append([]byte(nil), key...))
		child, err := bc.uintN(sb.offsetSize)
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, child)
	}
	lastKey, err := bc.take(keySize)
	if err != nil {
		return nil, err
	}
	node.keys = append(node.keys, append([]byte(nil), lastKey...))
	return node, nil
}

// walkLeaves visits every leaf child address of the subtree rooted at addr,
// in left-to-right order, recursing through internal levels.
func walkLeaves(ra io.ReaderAt, sb *superblock, addr uint64, keySize int, visit func(child uint64) error) error {
	node, err := readBTreeNode(ra, sb, addr, keySize)
	if err != nil {
		return err
	}
	for _, child := range node.children {
		if node.level == 0 {
			if err := visit(child); err != nil {
				return err
			}
		} else {
			if err := walkLeaves(ra, sb, child, keySize, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// chunkEntry is one leaf key/child pair from a chunked-dataset B-tree
// (node type 1): the on-disk size and filter mask the chunk was written
// with, its per-axis starting element offsets (length == dataset rank+1,
// the last entry always 0), and the address of its raw data.
type chunkEntry struct {
	size       uint64
	filterMask uint32
	offsets    []uint64
	addr       uint64
}

func chunkKeySize(offsetsCount int) int {
	return 4 + 4 + offsetsCount*8
}

func parseChunkKey(key []byte, offsetsCount int) (chunkEntry, error) {
	c := newCursor(key)
	size, err := c.u32()
	if err != nil {
		return chunkEntry{}, err
	}
	filterMask, err := c.u32()
	if err != nil {
		return chunkEntry{}, err
	}
	offsets := make([]uint64, offsetsCount)
	for i := range offsets {
		v, err := c.u64()
		if err != nil {
			return chunkEntry{}, err
		}
		offsets[i] = v
	}
	return chunkEntry{size: uint64(size), filterMask: filterMask, offsets: offsets}, nil
}

// walkChunks visits every leaf chunk entry of the chunk B-tree rooted at
// addr. offsetsCount is the dataset rank plus one, matching the layout
// message's chunk dimensionality.
func walkChunks(ra io.ReaderAt, sb *superblock, addr uint64, offsetsCount int, visit func(chunkEntry) error) error {
	keySize := chunkKeySize(offsetsCount)
	node, err := readBTreeNode(ra, sb, addr, keySize)
	if err != nil {
		return err
	}
	for i, child := range node.children {
		if node.level == 0 {
			entry, err := parseChunkKey(node.keys[i], offsetsCount)
			if err != nil {
				return err
			}
			entry.addr = child
			if err := visit(entry); err != nil {
				return err
			}
		} else {
			if err := walkChunks(ra, sb, child, offsetsCount, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

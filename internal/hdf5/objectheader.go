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
	"io"
)

const (
	msgNIL             = 0x0000
	msgDataspace       = 0x0001
	msgLinkInfo        = 0x0002
	msgDatatype        = 0x0003
	msgFillValueOld    = 0x0004
	msgFillValue       = 0x0005
	msgLayout          = 0x0008
	msgFilterPipeline  = 0x000B
	msgAttribute       = 0x000C
	msgContinuation    = 0x0010
	msgSymbolTable     = 0x0011
)

// dataspace holds the rank and per-dimension extents of a dataset or
// attribute (§3 Shape).
type dataspace struct {
	dims []uint64
}

// layout describes where a dataset's raw elements live.
type layout struct {
	class        int // 0 compact, 1 contiguous, 2 chunked
	address      uint64
	size         uint64
	chunkDims    []uint64 // chunked only; last entry is bytes-per-element
	btreeAddress uint64   // chunked only
	compact      []byte   // compact only
}

// filterSpec names one entry of a dataset's filter pipeline, including its
// client data values (e.g. the deflate compression level).
type filterSpec struct {
	id       uint16
	name     string
	cdValues []uint32
}

// compressionLevel reports the filter's compression level, for the filters
// that have one (currently just deflate, whose sole client value is the
// zlib level 0-9).
func (f filterSpec) compressionLevel() (int, bool) {
	if f.id == 1 && len(f.cdValues) > 0 {
		return int(f.cdValues[0]), true
	}
	return 0, false
}

// attribute is a decoded HDF5 attribute: name, type, shape, and its raw
// value bytes, kept whole. No size cap is applied, here or by callers:
// Container.Stat decodes every value it can, whatever its size.
type attribute struct {
	name  string
	typ   ElementType
	space dataspace
	value []byte
}

// objectHeader is the aggregated, decoded content of one HDF5 object
// header: at most one of {symbolTable (group), datatype+layout (dataset)}
// is populated, plus zero or more attributes.
type objectHeader struct {
	isGroup     bool
	groupBtree  uint64
	groupHeap   uint64
	datatype    ElementType
	space       dataspace
	layout      layout
	filters     []filterSpec
	attributes  []attribute
}

// readObjectHeader parses a v1 object header at addr, following
// continuation messages until all declared messages are consumed.
func readObjectHeader(ra io.ReaderAt, sb *superblock, addr uint64) (*objectHeader, error) {
	prefix := make([]byte, 16)
	if _, err := ra.ReadAt(prefix, int64(addr)); err != nil {
		return nil, errCorrupt(err, "read object header prefix")
	}
	c := newCursor(prefix)
	version, err := c.u8()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, errUnsupported("only v1 object headers are supported")
	}
	if err := c.skip(1); err != nil { // reserved
		return nil, err
	}
	totalMessages, err := c.u16()
	if err != nil {
		return nil, err
	}
	if err := c.skip(4); err != nil { // reference count
		return nil, err
	}
	headerSize, err := c.u32()
	if err != nil {
		return nil, err
	}
	if err := c.skip(4); err != nil { // alignment padding
		return nil, err
	}

	oh := &objectHeader{}
	remainingMessages := int(totalMessages)
	blockAddr := addr + 16
	blockSize := uint64(headerSize)
	for remainingMessages > 0 {
		block := make([]byte, blockSize)
		if blockSize > 0 {
			if _, err := ra.ReadAt(block, int64(blockAddr)); err != nil {
				return nil, errCorrupt(err, "read object header message block")
			}
		}
		bc := newCursor(block)
		for bc.remaining() >= 8 && remainingMessages > 0 {
			msgType, err := bc.u16()
			if err != nil {
				return nil, err
			}
			msgSize, err := bc.u16()
			if err != nil {
				return nil, err
			}
			if err := bc.skip(1 + 3); err != nil { // flags + reserved
				return nil, err
			}
			data, err := bc.take(int(msgSize))
			if err != nil {
				return nil, err
			}
			remainingMessages--
			switch int(msgType) {
			case msgContinuation:
				if len(data) < sb.offsetSize+sb.lengthSize {
					return nil, errCorrupt(nil, "short continuation message")
				}
				dc := newCursor(data)
				nextAddr, err := dc.uintN(sb.offsetSize)
				if err != nil {
					return nil, err
				}
				nextLen, err := dc.uintN(sb.lengthSize)
				if err != nil {
					return nil, err
				}
				blockAddr, blockSize = nextAddr, nextLen
				// Restart the outer loop against the new block.
				bc = newCursor(nil)
			case msgDataspace:
				sp, err := parseDataspace(data, sb)
				if err != nil {
					return nil, err
				}
				oh.space = sp
			case msgDatatype:
				dt, err := parseDatatype(data)
				if err != nil {
					return nil, err
				}
				oh.datatype = dt
			case msgLayout:
				ly, err := parseLayout(data, sb)
				if err != nil {
					return nil, err
				}
				oh.layout = ly
			case msgFilterPipeline:
				fs, err := parseFilterPipeline(data)
				if err != nil {
					return nil, err
				}
				oh.filters = fs
			case msgAttribute:
				at, err := parseAttribute(data)
				if err != nil {
					return nil, err
				}
				oh.attributes = append(oh.attributes, at)
			case msgSymbolTable:
				if len(data) < 2*sb.offsetSize {
					return nil, errCorrupt(nil, "short symbol table message")
				}
				dc := newCursor(data)
				btreeAddr, err := dc.uintN(sb.offsetSize)
				if err != nil {
					return nil, err
				}
				heapAddr, err := dc.uintN(sb.offsetSize)
				if err != nil {
					return nil, err
				}
				oh.isGroup = true
				oh.groupBtree = btreeAddr
				oh.groupHeap = heapAddr
			case msgLinkInfo:
				// New-style (dense/compact link storage) groups are not
				// supported by this reader.
				return nil, errUnsupported("new-style link storage groups are not supported")
			default:
				// NIL, fill value, old fill value, etc.: nothing to do.
			}
		}
		if blockSize == 0 {
			break
		}
	}
	return oh, nil
}

func parseDataspace(data []byte, sb *superblock) (dataspace, error) {
	c := newCursor(data)
	version, err := c.u8()
	if err != nil {
		return dataspace{}, err
	}
	if version != 1 {
		return dataspace{}, errUnsupported("only v1 dataspace messages are supported")
	}
	rank, err := c.u8()
	if err != nil {
		return dataspace{}, err
	}
	flags, err := c.u8()
	if err != nil {
		return dataspace{}, err
	}
	if err := c.skip(5); err != nil { // reserved
		return dataspace{}, err
	}
	dims := make([]uint64, rank)
	for i := range dims {
		v, err := c.uintN(sb.lengthSize)
		if err != nil {
			return dataspace{}, err
		}
		dims[i] = v
	}
	if flags&0x1 != 0 { // maximum dimensions present; skip, not needed
		if err := c.skip(int(rank) * sb.lengthSize); err != nil {
			return dataspace{}, err
		}
	}
	return dataspace{dims: dims}, nil
}

func parseLayout(data []byte, sb *superblock) (layout, error) {
	c := newCursor(data)
	version, err := c.u8()
	if err != nil {
		return layout{}, err
	}
	if version != 3 {
		return layout{}, errUnsupported("only v3 data layout messages are supported")
	}
	class, err := c.u8()
	if err != nil {
		return layout{}, err
	}
	ly := layout{class: int(class)}
	switch class {
	case 0: // compact
		size, err := c.u16()
		if err != nil {
			return layout{}, err
		}
		data, err := c.take(int(size))
		if err != nil {
			return layout{}, err
		}
		ly.compact = append([]byte(nil), data...)
	case 1: // contiguous
		addr, err := c.uintN(sb.offsetSize)
		if err != nil {
			return layout{}, err
		}
		size, err := c.uintN(sb.lengthSize)
		if err != nil {
			return layout{}, err
		}
		ly.address, ly.size = addr, size
	case 2: // chunked
		dimensionality, err := c.u8()
		if err != nil {
			return layout{}, err
		}
		btreeAddr, err := c.uintN(sb.offsetSize)
		if err != nil {
			return layout{}, err
		}
		ly.btreeAddress = btreeAddr
		dims := make([]uint64, dimensionality)
		for i := range dims {
			v, err := c.u32()
			if err != nil {
				return layout{}, err
			}
			dims[i] = uint64(v)
		}
		ly.chunkDims = dims
	default:
		return layout{}, errUnsupported("unknown data layout class")
	}
	return ly, nil
}

func parseFilterPipeline(data []byte) ([]filterSpec, error) {
	c := newCursor(data)
	version, err := c.u8()
	if err != nil {
		return nil, err
	}
	numFilters, err := c.u8()
	if err != nil {
		return nil, err
	}
	if version == 1 {
		if err := c.skip(6); err != nil {
			return nil, err
		}
	}
	var out []filterSpec
	for i := 0; i < int(numFilters); i++ {
		id, err := c.u16()
		if err != nil {
			return nil, err
		}
		var nameLen uint16
		if version == 1 || id >= 256 {
			nameLen, err = c.u16()
			if err != nil {
				return nil, err
			}
		}
		if err := c.skip(2); err != nil { // flags
			return nil, err
		}
		numClientValues, err := c.u16()
		if err != nil {
			return nil, err
		}
		name := filterName(id)
		if nameLen > 0 {
			raw, err := c.take(int(nameLen))
			if err != nil {
				return nil, err
			}
			n, _ := readNullTerminated(raw)
			if n != "" {
				name = n
			}
			if err := c.skip(padTo8(int(nameLen)) - int(nameLen)); err != nil {
				return nil, err
			}
		}
		cdValues := make([]uint32, numClientValues)
		for j := range cdValues {
			v, err := c.u32()
			if err != nil {
				return nil, err
			}
			cdValues[j] = v
		}
		if version == 1 && numClientValues%2 != 0 {
			if err := c.skip(4); err != nil { // v1 pads each entry to 8 bytes
				return nil, err
			}
		}
		out = append(out, filterSpec{id: id, name: name, cdValues: cdValues})
	}
	return out, nil
}

func filterName(id uint16) string {
	switch id {
	case 1:
		return "deflate"
	case 2:
		return "shuffle"
	case 3:
		return "fletcher32"
	case 4:
		return "szip"
	case 32001:
		return "blosc"
	default:
		return "unknown"
	}
}

func parseAttribute(data []byte) (attribute, error) {
	c := newCursor(data)
	if err := c.skip(2); err != nil { // version + reserved
		return attribute{}, err
	}
	nameSize, err := c.u16()
	if err != nil {
		return attribute{}, err
	}
	dtSize, err := c.u16()
	if err != nil {
		return attribute{}, err
	}
	dsSize, err := c.u16()
	if err != nil {
		return attribute{}, err
	}
	nameBuf, err := c.take(padTo8(int(nameSize)))
	if err != nil {
		return attribute{}, err
	}
	name, _ := readNullTerminated(nameBuf)
	dtBuf, err := c.take(padTo8(int(dtSize)))
	if err != nil {
		return attribute{}, err
	}
	typ, err := parseDatatype(dtBuf)
	if err != nil {
		return attribute{}, err
	}
	dsBuf, err := c.take(padTo8(int(dsSize)))
	if err != nil {
		return attribute{}, err
	}
	// Attribute dataspaces encode lengths with the same width as a
	// "length" everywhere else; attributes are small so 8-byte lengths
	// are assumed here (matches the superblock's common case).
	sb := &superblock{lengthSize: 8}
	space, err := parseDataspace(dsBuf, sb)
	if err != nil {
		return attribute{}, err
	}
	value := data[c.pos:]
	return attribute{name: name, typ: typ, space: space, value: append([]byte(nil), value...)}, nil
}

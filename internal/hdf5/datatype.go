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
	"fmt"
	"math"
)

// Class is the ElementType tag (§3, §9 "tagged variant ... one method per
// operation rather than a class hierarchy").
type Class int

const (
	ClassInteger Class = iota
	ClassFloat
	ClassBoolean
	ClassFixedString
	ClassVarString
	ClassCompound
	ClassOpaque
)

func (c Class) String() string {
	switch c {
	case ClassInteger:
		return "Integer"
	case ClassFloat:
		return "Float"
	case ClassBoolean:
		return "Boolean"
	case ClassFixedString:
		return "FixedString"
	case ClassVarString:
		return "VarString"
	case ClassCompound:
		return "Compound"
	default:
		return "Opaque"
	}
}

// CompoundField is one named member of a Compound ElementType.
type CompoundField struct {
	Name   string
	Offset int
	Type   ElementType
}

// ElementType is the decoded, classified HDF5 datatype of a Dataset or
// Attribute. It is a value type, freely copied (§3).
type ElementType struct {
	Class      Class
	Signed     bool
	BitWidth   int
	BigEndian  bool
	Size       int // on-disk byte size of one element
	StrLength  int // ClassFixedString only
	Fields     []CompoundField
	RawClassID int // the raw HDF5 datatype class, for the "raw type descriptor" field
}

// NumericPlottable reports whether this type may be used as matrix/line/
// heatmap data (§3: "iff integer | float | boolean").
func (t ElementType) NumericPlottable() bool {
	switch t.Class {
	case ClassInteger, ClassFloat, ClassBoolean:
		return true
	default:
		return false
	}
}

// DTypeString renders a numpy-like dtype string for JSON responses, e.g.
// "int32", "float64", "bool", "S12".
func (t ElementType) DTypeString() string {
	switch t.Class {
	case ClassInteger:
		sign := "u"
		if t.Signed {
			sign = ""
		}
		return fmt.Sprintf("%sint%d", sign, t.BitWidth)
	case ClassFloat:
		return fmt.Sprintf("float%d", t.BitWidth)
	case ClassBoolean:
		return "bool"
	case ClassFixedString:
		return fmt.Sprintf("S%d", t.StrLength)
	case ClassVarString:
		return "str"
	case ClassCompound:
		return "compound"
	default:
		return "opaque"
	}
}

// DecodeElement decodes exactly one element at the start of buf into a
// plain Go value (float64, int64, bool, or string) suitable for JSON
// encoding. Compound/opaque/var-length elements return an error; callers
// needing those fall back to metadata-only reporting.
func (t ElementType) DecodeElement(buf []byte) (interface{}, error) {
	if len(buf) < t.Size {
		return nil, errCorrupt(nil, "short buffer decoding element")
	}
	order := byteOrder(t.BigEndian)
	switch t.Class {
	case ClassBoolean:
		return buf[0] != 0, nil
	case ClassInteger:
		v := readIntBits(buf[:t.Size], order, t.BitWidth, t.Signed)
		return v, nil
	case ClassFloat:
		switch t.BitWidth {
		case 32:
			bits := order.Uint32(buf[:4])
			return float64(math.Float32frombits(bits)), nil
		case 64:
			bits := order.Uint64(buf[:8])
			return math.Float64frombits(bits), nil
		default:
			return nil, errUnsupported(fmt.Sprintf("unsupported float bit width %d", t.BitWidth))
		}
	case ClassFixedString:
		end := t.StrLength
		for end > 0 && buf[end-1] == 0 {
			end--
		}
		return string(buf[:end]), nil
	default:
		return nil, errUnsupported(fmt.Sprintf("cannot decode element of class %s", t.Class))
	}
}

// DecodeBlock decodes count contiguous elements of buf into float64s for
// numeric extraction (matrix/line/heatmap). Only numeric-plottable classes
// are supported; callers must check NumericPlottable first.
func (t ElementType) DecodeBlock(buf []byte, count int) ([]float64, error) {
	if !t.NumericPlottable() {
		return nil, errUnsupportedElementType(t)
	}
	if len(buf) < count*t.Size {
		return nil, errCorrupt(nil, "short buffer decoding block")
	}
	out := make([]float64, count)
	order := byteOrder(t.BigEndian)
	for i := 0; i < count; i++ {
		e := buf[i*t.Size : (i+1)*t.Size]
		switch t.Class {
		case ClassBoolean:
			if e[0] != 0 {
				out[i] = 1
			}
		case ClassInteger:
			out[i] = float64(readIntBits(e, order, t.BitWidth, t.Signed))
		case ClassFloat:
			switch t.BitWidth {
			case 32:
				out[i] = float64(math.Float32frombits(order.Uint32(e)))
			case 64:
				out[i] = math.Float64frombits(order.Uint64(e))
			}
		}
	}
	return out, nil
}

func errUnsupportedElementType(t ElementType) error {
	return errUnsupported(fmt.Sprintf("element class %s is not numeric-plottable", t.Class))
}

type bitOrder interface {
	Uint16([]byte) uint16
	Uint32([]byte) uint32
	Uint64([]byte) uint64
}

func byteOrder(big bool) bitOrder {
	if big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func readIntBits(buf []byte, order bitOrder, bitWidth int, signed bool) int64 {
	var u uint64
	switch bitWidth {
	case 8:
		u = uint64(buf[0])
	case 16:
		u = uint64(order.Uint16(buf))
	case 32:
		u = uint64(order.Uint32(buf))
	case 64:
		u = order.Uint64(buf)
	default:
		// Non-power-of-two precision (rare): assemble little-endian from
		// the raw bytes, up to 8 of them.
		n := len(buf)
		if n > 8 {
			n = 8
		}
		for i := 0; i < n; i++ {
			u |= uint64(buf[i]) << (8 * i)
		}
	}
	if !signed {
		return int64(u)
	}
	switch bitWidth {
	case 8:
		return int64(int8(u))
	case 16:
		return int64(int16(u))
	case 32:
		return int64(int32(u))
	default:
		return int64(u)
	}
}

// parseDatatype decodes one HDF5 datatype message body (possibly nested,
// for compound members) starting at buf[0]. It returns the decoded type;
// callers that need to know how many bytes were consumed (compound member
// parsing) use parseDatatypeN instead.
func parseDatatype(buf []byte) (ElementType, error) {
	t, _, err := parseDatatypeN(buf)
	return t, err
}

func parseDatatypeN(buf []byte) (ElementType, int, error) {
	if len(buf) < 8 {
		return ElementType{}, 0, errCorrupt(nil, "short datatype message")
	}
	classAndVersion := buf[0]
	class := int(classAndVersion & 0x0f)
	bitField := buf[1:4]
	size := binary.LittleEndian.Uint32(buf[4:8])
	pos := 8
	t := ElementType{Size: int(size), RawClassID: class}
	switch class {
	case 0: // Fixed-Point
		t.Class = ClassInteger
		t.BigEndian = bitField[0]&0x1 != 0
		t.Signed = bitField[0]&0x08 != 0
		if len(buf) < pos+4 {
			return t, 0, errCorrupt(nil, "short fixed-point properties")
		}
		precision := binary.LittleEndian.Uint16(buf[pos+2 : pos+4])
		t.BitWidth = int(precision)
		if t.BitWidth == 0 {
			t.BitWidth = int(size) * 8
		}
		pos += 4
	case 1: // Floating-Point
		t.Class = ClassFloat
		t.BigEndian = bitField[0]&0x1 != 0
		t.BitWidth = int(size) * 8
		pos += 12
	case 3: // String
		t.Class = ClassFixedString
		t.StrLength = int(size)
	case 8: // Enumerated: base type + member names/values; classify by base
		base, n, err := parseDatatypeN(buf[pos:])
		if err != nil {
			return ElementType{}, 0, err
		}
		pos += n
		nMembers := int(bitField[0]) | int(bitField[1])<<8
		// Names: nMembers null-terminated strings each padded to a
		// multiple of 8; values: nMembers * base.Size bytes.
		for i := 0; i < nMembers && pos < len(buf); i++ {
			end := pos
			for end < len(buf) && buf[end] != 0 {
				end++
			}
			consumed := end - pos + 1
			pos += padTo8(consumed)
		}
		pos += nMembers * base.Size
		if base.Class == ClassInteger && base.Size == 1 {
			t.Class = ClassBoolean
			t.BitWidth = 8
		} else {
			t.Class = ClassOpaque
		}
	case 6: // Compound
		nMembers := int(bitField[0]) | int(bitField[1])<<8
		for i := 0; i < nMembers; i++ {
			name, consumed := readNullTerminated(buf[pos:])
			pos += padTo8(consumed)
			if len(buf) < pos+4 {
				return ElementType{}, 0, errCorrupt(nil, "short compound member")
			}
			offset := binary.LittleEndian.Uint32(buf[pos : pos+4])
			pos += 4
			// Dimensionality info (v1/2 compound members carry 1 byte
			// dimensionality + 3 reserved + 4 permutation + 4 reserved +
			// 4*4 dim sizes); we only support scalar (non-array) members.
			pos += 1 + 3 + 4 + 4 + 4*4
			memberType, n, err := parseDatatypeN(buf[pos:])
			if err != nil {
				return ElementType{}, 0, err
			}
			pos += n
			t.Fields = append(t.Fields, CompoundField{Name: name, Offset: int(offset), Type: memberType})
		}
		t.Class = ClassCompound
	case 9: // Variable-Length
		vlType := bitField[0] & 0x0f
		// Base type follows; we don't decode the heap-indirect payload.
		_, n, err := parseDatatypeN(buf[pos:])
		if err != nil {
			return ElementType{}, 0, err
		}
		pos += n
		if vlType == 1 {
			t.Class = ClassVarString
		} else {
			t.Class = ClassOpaque
		}
	default: // Time(2), Bitfield(4), Opaque(5), Reference(7), Array(10)
		t.Class = ClassOpaque
	}
	return t, pos, nil
}

func readNullTerminated(buf []byte) (string, int) {
	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	consumed := end
	if end < len(buf) {
		consumed++ // include the NUL
	}
	return string(buf[:end]), consumed
}

func padTo8(n int) int {
	if r := n % 8; r != 0 {
		return n + (8 - r)
	}
	return n
}

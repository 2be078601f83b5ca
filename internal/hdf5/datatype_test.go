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
	"math"
	"testing"
)

func littleEndianFixedPoint(size int, signed bool) []byte {
	buf := make([]byte, 8)
	buf[0] = 0 // class 0, version in high nibble unused by parser
	bits := byte(0)
	if signed {
		bits |= 0x08
	}
	buf[1] = bits
	binary.LittleEndian.PutUint32(buf[4:8], uint32(size))
	buf = append(buf, 0, 0, 0, 0)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(size*8))
	return buf
}

func TestParseDatatypeFixedPointInt32(t *testing.T) {
	buf := littleEndianFixedPoint(4, true)
	typ, err := parseDatatype(buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ.Class != ClassInteger || typ.BitWidth != 32 || !typ.Signed {
		t.Fatalf("typ = %+v, want signed 32-bit integer", typ)
	}
	if !typ.NumericPlottable() {
		t.Fatal("integer type must be numeric-plottable")
	}
	if typ.DTypeString() != "int32" {
		t.Fatalf("DTypeString() = %q, want int32", typ.DTypeString())
	}
}

func TestParseDatatypeUnsignedInt(t *testing.T) {
	buf := littleEndianFixedPoint(2, false)
	typ, err := parseDatatype(buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ.Signed {
		t.Fatal("expected unsigned")
	}
	if typ.DTypeString() != "uint16" {
		t.Fatalf("DTypeString() = %q, want uint16", typ.DTypeString())
	}
}

func floatingPointMsg(size int) []byte {
	buf := make([]byte, 8+12)
	buf[0] = 1 // class 1: Floating-Point
	binary.LittleEndian.PutUint32(buf[4:8], uint32(size))
	return buf
}

func TestParseDatatypeFloat64(t *testing.T) {
	typ, err := parseDatatype(floatingPointMsg(8))
	if err != nil {
		t.Fatal(err)
	}
	if typ.Class != ClassFloat || typ.BitWidth != 64 {
		t.Fatalf("typ = %+v, want 64-bit float", typ)
	}
}

func TestDecodeElementFloat64RoundTrip(t *testing.T) {
	typ := ElementType{Class: ClassFloat, BitWidth: 64, Size: 8}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(3.25))
	v, err := typ.DecodeElement(buf)
	if err != nil {
		t.Fatal(err)
	}
	if v.(float64) != 3.25 {
		t.Fatalf("decoded %v, want 3.25", v)
	}
}

func TestDecodeBlockRejectsNonNumeric(t *testing.T) {
	typ := ElementType{Class: ClassCompound, Size: 4}
	_, err := typ.DecodeBlock(make([]byte, 16), 4)
	if err == nil {
		t.Fatal("expected error decoding a non-numeric block")
	}
}

func TestDecodeBlockIntegers(t *testing.T) {
	typ := ElementType{Class: ClassInteger, BitWidth: 32, Signed: true, Size: 4}
	buf := make([]byte, 16)
	for i, v := range []int32{-1, 0, 1, 42} {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	out, err := typ.DecodeBlock(buf, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{-1, 0, 1, 42}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestPadTo8(t *testing.T) {
	cases := map[int]int{0: 0, 1: 8, 7: 8, 8: 8, 9: 16}
	for in, want := range cases {
		if got := padTo8(in); got != want {
			t.Errorf("padTo8(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestReadNullTerminated(t *testing.T) {
	s, n := readNullTerminated([]byte("hello\x00world"))
	if s != "hello" || n != 6 {
		t.Fatalf("s=%q n=%d, want hello,6", s, n)
	}
}

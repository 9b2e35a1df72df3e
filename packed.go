// Copyright 2016 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package expgram

import (
	"encoding/binary"
	"fmt"
	"io"
)

// packedHeaderSize is sizeof(N uint64) + sizeof(bits uint32).
const packedHeaderSize = 8 + 4

// PackedIntArray is a read-only, memory-mapped array of N unsigned
// integers, each exactly Bits() wide. Get is O(1) and branch-predictable:
// it does at most a two-word load and shifts, never a variable-length loop.
type PackedIntArray struct {
	file    IndexFile
	n       uint64
	bits    uint32
	dataOff uint32
	dataSz  uint32
}

// OpenPackedIntArray reads the header of f and prepares Get for O(1)
// access. It does not copy the payload; reads come straight off the map.
func OpenPackedIntArray(f IndexFile) (*PackedIntArray, error) {
	sz, err := f.Size()
	if err != nil {
		return nil, err
	}
	if sz < packedHeaderSize {
		return nil, fmt.Errorf("%w: packed array header truncated", ErrCorruptedIndex)
	}

	r := newFileReader(f)
	n, err := r.u64()
	if err != nil {
		return nil, err
	}
	bits, err := r.u32()
	if err != nil {
		return nil, err
	}
	if bits > 64 {
		return nil, fmt.Errorf("%w: packed array width %d > 64", ErrCorruptedIndex, bits)
	}

	needBytes := (n*uint64(bits) + 7) / 8
	dataOff := packedHeaderSize
	if uint64(sz)-uint64(dataOff) < needBytes {
		return nil, fmt.Errorf("%w: packed array declares N=%d b=%d, needs %d bytes, file has %d",
			ErrCorruptedIndex, n, bits, needBytes, uint64(sz)-uint64(dataOff))
	}

	return &PackedIntArray{
		file:    f,
		n:       n,
		bits:    bits,
		dataOff: uint32(dataOff),
		dataSz:  uint32(needBytes),
	}, nil
}

// Len returns the number of elements.
func (a *PackedIntArray) Len() uint64 { return a.n }

// Bits returns the per-element bit width.
func (a *PackedIntArray) Bits() uint32 { return a.bits }

// SizeBytes returns the on-disk footprint, header included.
func (a *PackedIntArray) SizeBytes() uint64 { return uint64(packedHeaderSize) + uint64(a.dataSz) }

// Get returns the i-th packed integer. i must be < Len().
func (a *PackedIntArray) Get(i uint64) uint64 {
	if i >= a.n {
		internalInvariant("PackedIntArray.Get: index %d out of range (len %d)", i, a.n)
	}
	if a.bits == 0 {
		return 0
	}

	bitPos := i * uint64(a.bits)
	byteOff := a.dataOff + uint32(bitPos/8)
	bitOff := uint(bitPos % 8)

	// Two-load formula: the value may straddle a 64-bit boundary, so we
	// load the 64-bit little-endian word at byteOff and, unless the value
	// starts on a byte boundary, the following word too, then shift.
	lo := a.loadLE64(byteOff)
	var hi uint64
	if bitOff != 0 {
		hi = a.loadLE64(byteOff + 8)
	}

	combined := lo >> bitOff
	if bitOff != 0 {
		combined |= hi << (64 - bitOff)
	}
	if a.bits == 64 {
		return combined
	}
	return combined & ((uint64(1) << a.bits) - 1)
}

// loadLE64 reads up to 8 bytes starting at off as little-endian, treating
// any bytes past the declared payload as zero (the payload is sized
// precisely, so the final element's trailing load commonly runs short).
func (a *PackedIntArray) loadLE64(off uint32) uint64 {
	end := a.dataOff + a.dataSz
	if off >= end {
		return 0
	}
	n := end - off
	if n >= 8 {
		b, err := a.file.Read(off, 8)
		if err != nil {
			internalInvariant("PackedIntArray: mmap read failed: %v", err)
		}
		return binary.LittleEndian.Uint64(b)
	}
	var buf [8]byte
	b, err := a.file.Read(off, n)
	if err != nil {
		internalInvariant("PackedIntArray: mmap read failed: %v", err)
	}
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

// Iter calls yield for every element in order; it stops early if yield
// returns false.
func (a *PackedIntArray) Iter(yield func(i uint64, v uint64) bool) {
	for i := uint64(0); i < a.n; i++ {
		if !yield(i, a.Get(i)) {
			return
		}
	}
}

// PackedIntSink accumulates a stream of unsigned integers bit-packed at a
// fixed width, and writes the final (N, bits) header on WriteTo.
type PackedIntSink struct {
	bits uint32
	n    uint64
	buf  []byte
}

// NewPackedIntSink creates a sink that packs every pushed value into
// `bits` bits. Pushing a value that doesn't fit is an internal invariant
// violation: callers size `bits` from the true maximum value up front,
// exactly as the original builder does.
func NewPackedIntSink(bits uint32) *PackedIntSink {
	if bits > 64 {
		internalInvariant("NewPackedIntSink: width %d > 64", bits)
	}
	return &PackedIntSink{bits: bits}
}

// BitsForMaxValue rounds up to ceil(log2(maxValue+1)), the conventional
// width choice named in the spec.
func BitsForMaxValue(maxValue uint64) uint32 {
	bits := uint32(0)
	for (uint64(1) << bits) <= maxValue {
		bits++
	}
	return bits
}

// Push appends v, which must fit in s.bits bits.
func (s *PackedIntSink) Push(v uint64) {
	if s.bits < 64 && v >= (uint64(1)<<s.bits) {
		internalInvariant("PackedIntSink.Push: value %d does not fit in %d bits", v, s.bits)
	}

	pos := s.n * uint64(s.bits)
	end := (pos + uint64(s.bits) + 7) / 8
	for uint64(len(s.buf)) < end {
		s.buf = append(s.buf, 0)
	}

	remaining := s.bits
	written := uint32(0)
	for remaining > 0 {
		bitPos := pos + uint64(written)
		byteIdx := bitPos / 8
		bitIdx := uint(bitPos % 8)
		avail := 8 - bitIdx
		take := avail
		if uint(remaining) < take {
			take = uint(remaining)
		}
		mask := byte((uint64(1) << take) - 1)
		chunk := byte((v >> written) & uint64(mask))
		s.buf[byteIdx] |= chunk << bitIdx
		written += uint32(take)
		remaining -= uint32(take)
	}
	s.n++
}

// Len reports how many values have been pushed so far.
func (s *PackedIntSink) Len() uint64 { return s.n }

// WriteTo writes the header followed by the packed payload.
func (s *PackedIntSink) WriteTo(w io.Writer) (int64, error) {
	var hw headerWriter
	hw.putU64(s.n)
	hw.putU32(s.bits)

	n1, err := w.Write(hw.Bytes())
	if err != nil {
		return int64(n1), fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	n2, err := w.Write(s.buf)
	if err != nil {
		return int64(n1 + n2), fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return int64(n1 + n2), nil
}

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
	"math"
)

// FloatArray is a read-only, node-position-indexed array of per-node
// weights (logprob, backoff, or logbound): raw float32s in the
// probabilities model, or an 8-bit codebook index per node in the
// quantized variant (spec.md §4.5 "Quantized model"). Both
// representations are mmap-backed and addressed by the same global
// node position used by Shard, so QueryEngine never needs to know
// which one it's reading from.
type FloatArray interface {
	Get(pos uint64) float32
	Len() uint64
}

const rawFloatHeaderSize = 8 // N uint64

// rawFloatArray is the unquantized representation: one little-endian
// float32 per node position.
type rawFloatArray struct {
	file    IndexFile
	n       uint64
	dataOff uint32
}

// OpenFloatArray opens a plain (non-quantized) float32 array.
func OpenFloatArray(f IndexFile) (FloatArray, error) {
	sz, err := f.Size()
	if err != nil {
		return nil, err
	}
	if sz < rawFloatHeaderSize {
		return nil, fmt.Errorf("%w: float array header truncated", ErrCorruptedIndex)
	}
	r := newFileReader(f)
	n, err := r.u64()
	if err != nil {
		return nil, err
	}
	need := rawFloatHeaderSize + n*4
	if uint64(sz) < need {
		return nil, fmt.Errorf("%w: float array declares %d elements, file too small", ErrCorruptedIndex, n)
	}
	return &rawFloatArray{file: f, n: n, dataOff: rawFloatHeaderSize}, nil
}

func (a *rawFloatArray) Len() uint64 { return a.n }

func (a *rawFloatArray) Get(pos uint64) float32 {
	if pos >= a.n {
		internalInvariant("FloatArray.Get: index %d out of range (len %d)", pos, a.n)
	}
	b, err := a.file.Read(a.dataOff+uint32(pos)*4, 4)
	if err != nil {
		internalInvariant("FloatArray.Get: mmap read failed: %v", err)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// FloatSink accumulates float32 values and writes a rawFloatArray.
type FloatSink struct {
	values []float32
}

// NewFloatSink creates an empty float sink.
func NewFloatSink() *FloatSink { return &FloatSink{} }

// Push appends one value.
func (s *FloatSink) Push(v float32) { s.values = append(s.values, v) }

// Len reports how many values have been pushed.
func (s *FloatSink) Len() uint64 { return uint64(len(s.values)) }

// WriteTo writes the header then the payload.
func (s *FloatSink) WriteTo(w io.Writer) (int64, error) {
	var hw headerWriter
	hw.putU64(uint64(len(s.values)))
	for _, v := range s.values {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		hw.putBytes(b[:])
	}
	n, err := w.Write(hw.Bytes())
	if err != nil {
		return int64(n), fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return int64(n), nil
}

// quantizedFloatArray is the quantized representation: a per-order
// 256-entry float32 codebook, plus one byte per node position indexing
// into the codebook for that node's order.
type quantizedFloatArray struct {
	file         IndexFile
	n            uint64
	orderOffsets []uint64 // same offsets table as the owning Shard
	codebookOff  uint32   // order_max x 256 float32 table
	indicesOff   uint32   // n x uint8
}

const quantizedCodebookEntries = 256

// OpenQuantizedFloatArray opens a quantized array whose node range is
// governed by orderOffsets (the shard's own offsets table, so order
// boundaries line up with Shard.At's node numbering).
func OpenQuantizedFloatArray(f IndexFile, orderOffsets []uint64) (FloatArray, error) {
	sz, err := f.Size()
	if err != nil {
		return nil, err
	}
	if sz < rawFloatHeaderSize {
		return nil, fmt.Errorf("%w: quantized float array header truncated", ErrCorruptedIndex)
	}
	r := newFileReader(f)
	n, err := r.u64()
	if err != nil {
		return nil, err
	}
	orders := len(orderOffsets) - 1
	codebookOff := rawFloatHeaderSize
	codebookSz := orders * quantizedCodebookEntries * 4
	indicesOff := codebookOff + codebookSz
	need := uint64(indicesOff) + n
	if uint64(sz) < need {
		return nil, fmt.Errorf("%w: quantized float array truncated", ErrCorruptedIndex)
	}
	return &quantizedFloatArray{
		file:         f,
		n:            n,
		orderOffsets: orderOffsets,
		codebookOff:  uint32(codebookOff),
		indicesOff:   uint32(indicesOff),
	}, nil
}

func (a *quantizedFloatArray) Len() uint64 { return a.n }

// orderOf returns the 1-based order that node position p belongs to.
func (a *quantizedFloatArray) orderOf(p uint64) int {
	for k := 1; k < len(a.orderOffsets); k++ {
		if p < a.orderOffsets[k] {
			return k
		}
	}
	return len(a.orderOffsets) - 1
}

func (a *quantizedFloatArray) Get(pos uint64) float32 {
	if pos >= a.n {
		internalInvariant("quantizedFloatArray.Get: index %d out of range (len %d)", pos, a.n)
	}
	order := a.orderOf(pos)
	idxByte, err := a.file.Read(a.indicesOff+uint32(pos), 1)
	if err != nil {
		internalInvariant("quantizedFloatArray.Get: mmap read failed: %v", err)
	}
	codeOff := a.codebookOff + uint32((order-1)*quantizedCodebookEntries*4) + uint32(idxByte[0])*4
	b, err := a.file.Read(codeOff, 4)
	if err != nil {
		internalInvariant("quantizedFloatArray.Get: mmap read failed: %v", err)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

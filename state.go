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
	"math"
)

// stateLengthSize is sizeof(length) in a state buffer: a fixed 8-byte
// field regardless of platform, unlike the original's size_t (whose
// width is platform-dependent) — buffers built on one machine must
// decode identically on another.
const stateLengthSize = 8

// StateManager describes the layout of a caller-allocated decoder
// state buffer and provides accessors over it; it holds no state of
// its own beyond the n-gram order.
//
// Ported field-for-field from expgram's NGramState
// (original_source/expgram/NGramState.hpp): a buffer is
// [length uint64][context: order-1 word ids][backoff: order-1 float32],
// the ids and backoffs each a single contiguous block, NOT interleaved.
type StateManager struct {
	order Order
}

// NewStateManager returns a manager for buffers of the given order.
func NewStateManager(order Order) *StateManager {
	return &StateManager{order: order}
}

// Order returns the n-gram order this manager's buffers are sized for.
func (m *StateManager) Order() Order { return m.order }

// BufferSize returns the byte size every buffer this manager touches
// must have.
func (m *StateManager) BufferSize() int {
	slots := int(m.order) - 1
	return stateLengthSize + slots*4 + slots*4
}

// NewBuffer allocates a zeroed buffer of the right size.
func (m *StateManager) NewBuffer() []byte {
	return make([]byte, m.BufferSize())
}

func (m *StateManager) contextOffset() int { return stateLengthSize }
func (m *StateManager) backoffOffset() int { return stateLengthSize + (int(m.order)-1)*4 }

// Length returns the number of context words actually populated
// (0 <= length <= order-1).
func (m *StateManager) Length(buf []byte) int {
	return int(binary.LittleEndian.Uint64(buf[:stateLengthSize]))
}

// SetLength sets the populated context length.
func (m *StateManager) SetLength(buf []byte, n int) {
	binary.LittleEndian.PutUint64(buf[:stateLengthSize], uint64(n))
}

// ContextID returns the i-th context word id (0 is the oldest word,
// Length(buf)-1 the most recent).
func (m *StateManager) ContextID(buf []byte, i int) WordID {
	off := m.contextOffset() + i*4
	return WordID(binary.LittleEndian.Uint32(buf[off : off+4]))
}

// SetContextID sets the i-th context word id.
func (m *StateManager) SetContextID(buf []byte, i int, id WordID) {
	off := m.contextOffset() + i*4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(id))
}

// BackoffAt returns the i-th accumulated backoff weight.
func (m *StateManager) BackoffAt(buf []byte, i int) float32 {
	off := m.backoffOffset() + i*4
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
}

// SetBackoffAt sets the i-th accumulated backoff weight.
func (m *StateManager) SetBackoffAt(buf []byte, i int, v float32) {
	off := m.backoffOffset() + i*4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
}

// Fill zeroes the unused tail of buf (positions [Length(buf), order-1))
// in both the context and backoff blocks, so two buffers holding the
// same logical state compare equal regardless of stale trailing bytes
// from a previous, longer state.
func (m *StateManager) Fill(buf []byte) {
	n := m.Length(buf)
	for i := n; i < int(m.order)-1; i++ {
		m.SetContextID(buf, i, 0)
		m.SetBackoffAt(buf, i, 0)
	}
}

// Copy copies the full buffer (length, context, backoff) from src to dst.
func (m *StateManager) Copy(src, dst []byte) {
	copy(dst[:m.BufferSize()], src[:m.BufferSize()])
}

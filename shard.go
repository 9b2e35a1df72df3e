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
	"sync"

	"github.com/cespare/xxhash/v2"
)

// lowerBoundLinearThreshold is the crossover between a linear scan and a
// binary search in Shard.LowerBound. 128 is the original expgram
// NGramIndex::Shard::lower_bound threshold; short runs of packed ids are
// cheaper to scan than to bisect.
const lowerBoundLinearThreshold = 64 * 2

// shardCacheSize is the number of (parent, id) -> child entries held in a
// Shard's find cache; 1024*64 matches the original's array_power2 size.
const shardCacheSize = 1024 * 64

// shardCacheEntry is one slot of Shard's find cache. The triple does not
// fit in a single machine word, so — like the original, which protects its
// whole cache with one spinlock rather than per-entry atomics — the
// containing Shard guards all entries with a single try-lock: a reader
// that can't acquire it immediately just recomputes without caching,
// instead of blocking.
type shardCacheEntry struct {
	pos     uint64
	id      WordID
	posNext uint64
	valid   bool
}

func cacheHash(pos NodePos, id WordID) uint64 {
	var b [12]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(pos))
	binary.LittleEndian.PutUint32(b[8:12], uint32(id))
	return xxhash.Sum64(b[:])
}

// Shard is one hash-routed partition of the n-gram trie: a packed array of
// child ids plus a succinct bit vector marking child-group boundaries,
// addressed by a flat NodePos space where unigrams occupy [0, offsets[1])
// with node == id, and every higher order is appended after it.
//
// Ported from expgram's NGramIndex::Shard (original_source/expgram/NGramIndex.hpp).
type Shard struct {
	ids       *PackedIntArray
	positions *SuccinctBitVector
	offsets   []uint64 // offsets[0] == 0; offsets[k] is the cumulative node count through order k

	cacheMu sync.Mutex
	cache   []shardCacheEntry
}

// OpenShard wraps already-open ids/positions arrays and a parsed offsets
// table into a queryable Shard.
func OpenShard(ids *PackedIntArray, positions *SuccinctBitVector, offsets []uint64) *Shard {
	return &Shard{
		ids:       ids,
		positions: positions,
		offsets:   offsets,
		cache:     make([]shardCacheEntry, shardCacheSize),
	}
}

// Order returns the maximum n-gram order stored in this shard.
func (s *Shard) Order() Order { return Order(len(s.offsets) - 1) }

// Size returns the total number of trie nodes (offsets.back()).
func (s *Shard) Size() uint64 { return s.offsets[len(s.offsets)-1] }

// positionSize returns the number of nodes that have an entry in the
// positions bit vector — every node except the top order's leaves.
func (s *Shard) positionSize() uint64 { return s.offsets[len(s.offsets)-2] }

// OffsetForOrder returns offsets[order]: the cumulative node count through
// the given order (1-based), i.e. one past its last node position.
func (s *Shard) OffsetForOrder(order Order) uint64 {
	if int(order) >= len(s.offsets) {
		return s.Size()
	}
	return s.offsets[order]
}

// At returns the word id stored at pos: pos itself below the unigram
// boundary, or a lookup into the packed ids array above it.
func (s *Shard) At(pos NodePos) WordID {
	if uint64(pos) < s.offsets[1] {
		return WordID(pos)
	}
	return WordID(s.ids.Get(uint64(pos) - s.offsets[1]))
}

// Parent returns the parent node of pos, or Root if pos is a unigram.
func (s *Shard) Parent(pos NodePos) NodePos {
	if uint64(pos) < s.offsets[1] {
		return Root
	}
	sel := s.positions.Select(uint64(pos)+1-s.offsets[1], true)
	return NodePos(sel + (s.offsets[1] + 1) - uint64(pos) - 1)
}

// ChildrenFirst returns the first node position in pos's child range.
func (s *Shard) ChildrenFirst(pos NodePos) uint64 {
	if pos == Root {
		return 0
	}
	if pos == 0 {
		return s.offsets[1]
	}
	return s.ChildrenLast(pos - 1)
}

// ChildrenLast returns one past the last node position in pos's child
// range (i.e. [ChildrenFirst(pos), ChildrenLast(pos)) is the child span).
func (s *Shard) ChildrenLast(pos NodePos) uint64 {
	if pos == Root {
		return s.offsets[1]
	}
	if uint64(pos) >= s.positionSize() {
		return s.Size()
	}
	last := s.positions.Select(uint64(pos)+1, false)
	if last == NoPos {
		return s.Size()
	}
	return last + s.offsets[1] - uint64(pos)
}

// LowerBound returns the first node position in [first, last) whose id is
// >= id, using a linear scan below lowerBoundLinearThreshold elements and
// a binary search above it.
func (s *Shard) LowerBound(first, last uint64, id WordID) uint64 {
	if last <= s.offsets[1] {
		if uint64(id) < last {
			return uint64(id)
		}
		return last
	}

	offset := s.offsets[1]
	length := last - first
	if length <= lowerBoundLinearThreshold {
		for first != last && WordID(s.ids.Get(first-offset)) < id {
			first++
		}
		return first
	}

	for length > 0 {
		half := length >> 1
		middle := first + half
		if WordID(s.ids.Get(middle-offset)) < id {
			first = middle + 1
			length = length - half - 1
		} else {
			length = half
		}
	}
	return first
}

// findUncached performs the actual child search with no cache involved.
func (s *Shard) findUncached(pos NodePos, id WordID) NodePos {
	first := s.ChildrenFirst(pos)
	last := s.ChildrenLast(pos)
	child := s.LowerBound(first, last, id)
	if child != last && s.At(NodePos(child)) == id {
		return NodePos(child)
	}
	return Root // reused as "not found", mirroring the original's size_type(-1) overload
}

// Find returns the child of pos labeled id, or Root if there is none.
// pos == Root means "look up id as a unigram".
func (s *Shard) Find(pos NodePos, id WordID) NodePos {
	if pos == Root {
		if uint64(id) < s.offsets[1] {
			return NodePos(id)
		}
		return Root
	}

	h := cacheHash(pos, id)
	idx := h & uint64(len(s.cache)-1)

	if s.cacheMu.TryLock() {
		e := &s.cache[idx]
		if !e.valid || e.pos != uint64(pos) || e.id != id {
			e.pos = uint64(pos)
			e.id = id
			e.posNext = uint64(s.findUncached(pos, id))
			e.valid = true
		}
		result := NodePos(e.posNext)
		s.cacheMu.Unlock()
		return result
	}
	return s.findUncached(pos, id)
}

// Traverse walks ids down the trie from the root as far as possible,
// returning the number of ids consumed and the deepest node reached.
func (s *Shard) Traverse(ids []WordID) (consumed int, pos NodePos) {
	pos = Root
	for i, id := range ids {
		node := s.Find(pos, id)
		if node == Root {
			return i, pos
		}
		pos = node
	}
	return len(ids), pos
}

// writeOffsets/readOffsets persist offsets.bin exactly as spec.md §6 says:
// a little-endian uint64 array of length order+1, with no header — the
// order is already known from the repository's prop.list.

func writeOffsets(w io.Writer, offsets []uint64) (int64, error) {
	buf := make([]byte, 8*len(offsets))
	for i, o := range offsets {
		binary.LittleEndian.PutUint64(buf[i*8:], o)
	}
	n, err := w.Write(buf)
	if err != nil {
		return int64(n), fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return int64(n), nil
}

func readOffsets(f IndexFile, order Order) ([]uint64, error) {
	sz, err := f.Size()
	if err != nil {
		return nil, err
	}
	n := int(order) + 1
	need := uint32(n * 8)
	if sz < need {
		return nil, fmt.Errorf("%w: offsets.bin truncated (order %d needs %d bytes, have %d)",
			ErrCorruptedIndex, order, need, sz)
	}
	b, err := f.Read(0, need)
	if err != nil {
		return nil, err
	}
	offsets := make([]uint64, n)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return offsets, nil
}

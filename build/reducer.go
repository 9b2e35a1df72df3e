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

package build

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/postfix/expgram"
)

// bitVectorSampleRate matches expgram.defaultSampleRate; the constant is
// unexported in the core package, so the indexer names its own copy
// rather than reaching into package internals.
const bitVectorSampleRate = 512

// levelNode is one already-assigned trie node the next order's merge
// extends: its context key (recordKey of the ids that reach it) and the
// NodePos the previous pass gave it.
type levelNode struct {
	key string
	pos expgram.NodePos
}

// shardBuilder accumulates one shard's trie across the sequential order
// passes index_ngram_reducer runs (original_source's k-way merge of
// per-mapper streams, grouped by prefix). Unlike the original's
// istream-per-mapper priority-queue merge, records arrive over Channels
// already decoded, so the merge is an in-memory group-by keyed on the
// parent context — equivalent in effect, simpler given Go's in-process
// transport.
type shardBuilder struct {
	mu sync.Mutex

	vocabSize uint32

	// ids/counts/posBits are append-only, in final emission order —
	// unigram counts first (duplicated identically into every shard per
	// spec.md §6: a shard's count array is addressed by the same global
	// NodePos space every other shard uses), then order 2..Order.
	ids     []uint64
	counts  []uint64
	posBits []bool
	offsets []uint64 // offsets[0]=0, offsets[1]=vocabSize, growing per order

	prevLevel []levelNode

	// countModified[k] is the total number of distinct (context, word)
	// pairs introduced at order k — the Kneser-Ney "count of distinct
	// types following a context" statistic, computed via roaring
	// bitmaps rather than a second linear pass (spec.md §4.8 domain
	// stack wiring for github.com/RoaringBitmap/roaring). Training uses
	// of this number are out of this repository's scope; it is still
	// computed and surfaced through indexer metrics/logs as a genuine,
	// non-discarded value.
	countModified map[expgram.Order]uint64
}

func newShardBuilder(vocabSize uint32, unigramCounts []uint64) *shardBuilder {
	b := &shardBuilder{
		vocabSize:     vocabSize,
		counts:        append([]uint64(nil), unigramCounts...),
		offsets:       []uint64{0, uint64(vocabSize)},
		countModified: make(map[expgram.Order]uint64),
	}
	b.prevLevel = make([]levelNode, vocabSize)
	for i := range b.prevLevel {
		b.prevLevel[i] = levelNode{key: recordKey([]expgram.WordID{expgram.WordID(i)}), pos: expgram.NodePos(i)}
	}
	return b
}

// addOrder merges one order's records (already filtered to this shard)
// into the builder, extending every node of the previous level.
func (b *shardBuilder) addOrder(order expgram.Order, records []record) {
	type child struct {
		id    expgram.WordID
		count uint64
	}
	children := make(map[string][]child)
	distinct := make(map[string]*roaring.Bitmap)

	for _, r := range records {
		ctx := r.IDs[:len(r.IDs)-1]
		last := r.IDs[len(r.IDs)-1]
		key := recordKey(ctx)

		bm, ok := distinct[key]
		if !ok {
			bm = roaring.New()
			distinct[key] = bm
		}
		bm.Add(uint32(last))
		children[key] = append(children[key], child{id: last, count: r.Count})
	}

	next := make([]levelNode, 0, len(records))
	nextPos := expgram.NodePos(b.offsets[len(b.offsets)-1])
	var totalDistinct uint64

	for _, parent := range b.prevLevel {
		group := children[parent.key]
		if len(group) > 0 {
			sort.Slice(group, func(i, j int) bool { return group[i].id < group[j].id })
			merged := make(map[expgram.WordID]uint64, len(group))
			childOrder := make([]expgram.WordID, 0, len(group))
			for _, c := range group {
				if _, seen := merged[c.id]; !seen {
					childOrder = append(childOrder, c.id)
				}
				merged[c.id] += c.count
			}
			for _, id := range childOrder {
				b.ids = append(b.ids, uint64(id))
				b.counts = append(b.counts, merged[id])
				b.posBits = append(b.posBits, true)
				childCtx := append(append([]expgram.WordID(nil), idsFromKey(parent.key)...), id)
				next = append(next, levelNode{key: recordKey(childCtx), pos: nextPos})
				nextPos++
			}
			totalDistinct += uint64(distinct[parent.key].GetCardinality())
		}
		b.posBits = append(b.posBits, false)
	}

	b.offsets = append(b.offsets, uint64(nextPos))
	b.prevLevel = next
	b.countModified[order] = totalDistinct
}

// finish packs the accumulated ids, position bits and counts into sinks
// and returns the ShardSinks ready for expgram.WriteShard; the offsets
// table is copied exactly as addOrder built it.
func (b *shardBuilder) finish() expgram.ShardSinks {
	maxID := uint64(0)
	if b.vocabSize > 0 {
		maxID = uint64(b.vocabSize) - 1
	}
	idsSink := expgram.NewPackedIntSink(expgram.BitsForMaxValue(maxID))
	for _, id := range b.ids {
		idsSink.Push(id)
	}

	posSink := expgram.NewBitVectorSink(bitVectorSampleRate)
	for _, bit := range b.posBits {
		posSink.Push(bit)
	}

	maxCount := uint64(0)
	for _, c := range b.counts {
		if c > maxCount {
			maxCount = c
		}
	}
	countsSink := expgram.NewPackedIntSink(expgram.BitsForMaxValue(maxCount))
	for _, c := range b.counts {
		countsSink.Push(c)
	}

	return expgram.ShardSinks{
		IDs:       idsSink,
		Positions: posSink,
		Counts:    countsSink,
		Offsets:   append([]uint64(nil), b.offsets...),
	}
}

// idsFromKey inverts recordKey for the little-endian uint32 encoding it
// produces; used only to extend a parent's context by one more id.
func idsFromKey(key string) []expgram.WordID {
	ids := make([]expgram.WordID, len(key)/4)
	for i := range ids {
		b := key[i*4 : i*4+4]
		ids[i] = expgram.WordID(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	}
	return ids
}

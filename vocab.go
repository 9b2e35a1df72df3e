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
	"sort"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Canonical tokens whose ids are fixed by convention once present in the
// vocabulary (spec.md §3). Raw Google Web-1T tokens <S>, </S>, <UNK> are
// remapped to these by build.UnigramReader and build.NGramFileReader
// before the words ever reach the vocabulary.
const (
	BOSToken = "<s>"
	EOSToken = "</s>"
	UnkToken = "<unk>"
)

const vocabHeaderSize = 4 // V uint32

const vocabCacheSize = 1 << 14 // per-Vocabulary lookup cache entries

// vocabCache is the bounded, lock-free lookup-id cache described in
// spec.md §3: entries are (hash fingerprint, id) packed into one atomic
// word, so concurrent readers never observe a torn update. Unlike the
// shard positive cache (whose key is an exact integer pair), a string
// key only fits this single word as a hash fingerprint, so a hit is
// revalidated against the real string (fetched in O(1) via the id->string
// cursor) before being trusted — the spec's "never report stale data"
// rule, applied to a probabilistic key instead of an exact one.
type vocabCache struct {
	slots []atomic.Uint64
	mask  uint64
}

func newVocabCache(size int) *vocabCache {
	return &vocabCache{slots: make([]atomic.Uint64, size), mask: uint64(size - 1)}
}

func packCacheEntry(fp uint32, id WordID) uint64 {
	return uint64(fp)<<32 | uint64(uint32(id))
}

// Vocabulary is a read-only, memory-mapped bijection between byte
// strings and a dense id range [0, V). It is built once (see
// VocabularyWriter) and thereafter opened read-only.
type Vocabulary struct {
	file IndexFile

	size uint32

	// blobOff/offsets give the O(1) id->string cursor: string i is
	// blob[offsets[i]:offsets[i+1]].
	blobOff      uint32
	blobSz       uint32
	offsetsOff   uint32 // (size+1) x uint32 BE
	sortedIDsOff uint32 // size x uint32 BE, ids in lexicographic string order

	unkID WordID
	bosID WordID
	eosID WordID

	cache *vocabCache
}

// OpenVocabulary reads and memory-maps a vocabulary table written by
// VocabularyWriter.
func OpenVocabulary(f IndexFile) (*Vocabulary, error) {
	sz, err := f.Size()
	if err != nil {
		return nil, err
	}
	if sz < vocabHeaderSize {
		return nil, fmt.Errorf("%w: vocabulary header truncated", ErrCorruptedIndex)
	}

	r := newFileReader(f)
	v32, err := r.u32()
	if err != nil {
		return nil, err
	}
	size := v32

	offsetsOff := vocabHeaderSize
	offsetsLen := (int(size) + 1) * 4
	sortedIDsOff := offsetsOff + offsetsLen
	sortedIDsLen := int(size) * 4
	blobOff := sortedIDsOff + sortedIDsLen

	if uint64(sz) < uint64(blobOff) {
		return nil, fmt.Errorf("%w: vocabulary index truncated", ErrCorruptedIndex)
	}
	blobSz := uint32(sz) - uint32(blobOff)

	vocab := &Vocabulary{
		file:         f,
		size:         size,
		blobOff:      uint32(blobOff),
		blobSz:       blobSz,
		offsetsOff:   uint32(offsetsOff),
		sortedIDsOff: uint32(sortedIDsOff),
		cache:        newVocabCache(vocabCacheSize),
	}
	vocab.unkID, _ = vocab.lookupIDSlow(UnkToken)
	vocab.bosID, _ = vocab.lookupIDSlow(BOSToken)
	vocab.eosID, _ = vocab.lookupIDSlow(EOSToken)
	return vocab, nil
}

// Size returns V, the number of distinct strings.
func (v *Vocabulary) Size() uint32 { return v.size }

// UnkID, BOSID, EOSID return the fixed ids for <unk>, <s>, </s>.
func (v *Vocabulary) UnkID() WordID { return v.unkID }
func (v *Vocabulary) BOSID() WordID { return v.bosID }
func (v *Vocabulary) EOSID() WordID { return v.eosID }

func (v *Vocabulary) offsetAt(i uint32) uint32 {
	b, err := v.file.Read(v.offsetsOff+i*4, 4)
	if err != nil {
		internalInvariant("Vocabulary: mmap read failed: %v", err)
	}
	return binary.BigEndian.Uint32(b)
}

func (v *Vocabulary) sortedIDAt(i uint32) WordID {
	b, err := v.file.Read(v.sortedIDsOff+i*4, 4)
	if err != nil {
		internalInvariant("Vocabulary: mmap read failed: %v", err)
	}
	return WordID(binary.BigEndian.Uint32(b))
}

// LookupString returns the string for id, or ("", false) if id is out of
// range (callers conventionally fall back to <unk>'s string).
func (v *Vocabulary) LookupString(id WordID) (string, bool) {
	if uint32(id) >= v.size {
		return "", false
	}
	start := v.offsetAt(uint32(id))
	end := v.offsetAt(uint32(id) + 1)
	b, err := v.file.Read(v.blobOff+start, end-start)
	if err != nil {
		internalInvariant("Vocabulary: mmap read failed: %v", err)
	}
	return string(b), true
}

func (v *Vocabulary) stringAt(id WordID) (string, bool) { return v.LookupString(id) }

// lookupIDSlow binary-searches the sorted-ids permutation, comparing
// strings fetched through the O(1) id->string cursor.
func (v *Vocabulary) lookupIDSlow(s string) (WordID, bool) {
	n := int(v.size)
	idx := sort.Search(n, func(i int) bool {
		str, _ := v.stringAt(v.sortedIDAt(uint32(i)))
		return str >= s
	})
	if idx == n {
		return NoWord, false
	}
	id := v.sortedIDAt(uint32(idx))
	str, _ := v.stringAt(id)
	if str != s {
		return NoWord, false
	}
	return id, true
}

// LookupID returns the id for s, or <unk>'s id if s is not present —
// per spec.md §3, an unknown string never mints a new id at query time.
func (v *Vocabulary) LookupID(s string) WordID {
	h := xxhash.Sum64String(s)
	slotIdx := h & v.cache.mask
	slot := &v.cache.slots[slotIdx]

	if packed := slot.Load(); packed != 0 {
		fp := uint32(packed >> 32)
		id := WordID(uint32(packed))
		if fp == uint32(h) {
			if cached, ok := v.stringAt(id); ok && cached == s {
				return id
			}
		}
	}

	id, found := v.lookupIDSlow(s)
	if !found {
		id = v.unkID
	}

	// Advisory update: on a CAS race we simply skip the write, matching
	// the shard cache's "contention causes the writer to skip the
	// update" policy (spec.md §4.3).
	old := slot.Load()
	slot.CompareAndSwap(old, packCacheEntry(uint32(h), id))
	return id
}

// VocabularyWriter accepts strings in insertion order (the order the
// indexer's unigram bootstrap assigns ids in) and writes a sorted
// lookup table on WriteTo.
type VocabularyWriter struct {
	strings []string
	seen    map[string]WordID
}

// NewVocabularyWriter creates an empty, in-order vocabulary builder.
func NewVocabularyWriter() *VocabularyWriter {
	return &VocabularyWriter{seen: make(map[string]WordID)}
}

// Insert assigns s the next dense id if not already present, and
// returns its id either way. Ids are stable in insertion order.
func (w *VocabularyWriter) Insert(s string) WordID {
	if id, ok := w.seen[s]; ok {
		return id
	}
	id := WordID(len(w.strings))
	w.strings = append(w.strings, s)
	w.seen[s] = id
	return id
}

// Len returns the number of distinct strings inserted so far.
func (w *VocabularyWriter) Len() int { return len(w.strings) }

// Lookup returns the id already assigned to s, without inserting it.
// Used by the indexer once unigram bootstrap has closed the id space and
// every later pass only ever resolves strings it has already seen.
func (w *VocabularyWriter) Lookup(s string) (WordID, bool) {
	id, ok := w.seen[s]
	return id, ok
}

// WriteTo writes the header, offsets, sorted-id permutation, and string
// blob, in that order (see OpenVocabulary for the exact layout).
func (w *VocabularyWriter) WriteTo(out io.Writer) (int64, error) {
	n := len(w.strings)

	sorted := make([]WordID, n)
	for i := range sorted {
		sorted[i] = WordID(i)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return w.strings[sorted[i]] < w.strings[sorted[j]]
	})

	var hw headerWriter
	hw.putU32(uint32(n))

	offset := uint32(0)
	offsets := make([]uint32, n+1)
	for i, s := range w.strings {
		offsets[i] = offset
		offset += uint32(len(s))
	}
	offsets[n] = offset
	for _, o := range offsets {
		hw.putU32(o)
	}
	for _, id := range sorted {
		hw.putU32(uint32(id))
	}
	for _, s := range w.strings {
		hw.putBytes([]byte(s))
	}

	written, err := out.Write(hw.Bytes())
	if err != nil {
		return int64(written), fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return int64(written), nil
}

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
	"sync"
	"testing"
)

// buildTestShard constructs a small order-2 shard with 5 unigrams
// (node == word id, per Shard.At's convention) and the bigram children:
//
//	unigram 0: children [1, 3]   (bigram nodes at position 5, 6)
//	unigram 1: children []
//	unigram 2: children [0]      (bigram node at position 7)
//	unigram 3: children []
//	unigram 4: children []
//
// The positions bit vector encodes this as one unary run per unigram
// (one 1-bit per child, terminated by a 0), concatenated in unigram
// order: 1,1,0 | 0 | 1,0 | 0 | 0.
func buildTestShard(t *testing.T) *Shard {
	t.Helper()

	idsSink := NewPackedIntSink(BitsForMaxValue(4))
	for _, id := range []uint64{1, 3, 0} {
		idsSink.Push(id)
	}
	ids, err := OpenPackedIntArray(newMemIndexFile("shard-ids", idsSink))
	if err != nil {
		t.Fatalf("OpenPackedIntArray: %v", err)
	}

	posSink := NewBitVectorSink(4)
	for _, b := range []bool{true, true, false, false, true, false, false, false} {
		posSink.Push(b)
	}
	positions, err := OpenSuccinctBitVector(newMemIndexFile("shard-positions", posSink))
	if err != nil {
		t.Fatalf("OpenSuccinctBitVector: %v", err)
	}

	return OpenShard(ids, positions, []uint64{0, 5, 8})
}

func TestShardChildrenAndParent(t *testing.T) {
	s := buildTestShard(t)

	cases := []struct {
		pos         NodePos
		first, last uint64
	}{
		{0, 5, 7},
		{1, 7, 7},
		{2, 7, 8},
		{3, 8, 8},
		{4, 8, 8},
	}
	for _, c := range cases {
		if got := s.ChildrenFirst(c.pos); got != c.first {
			t.Errorf("ChildrenFirst(%d) = %d, want %d", c.pos, got, c.first)
		}
		if got := s.ChildrenLast(c.pos); got != c.last {
			t.Errorf("ChildrenLast(%d) = %d, want %d", c.pos, got, c.last)
		}
	}

	parents := map[NodePos]NodePos{5: 0, 6: 0, 7: 2}
	for child, want := range parents {
		if got := s.Parent(child); got != want {
			t.Errorf("Parent(%d) = %d, want %d", child, got, want)
		}
	}
	for unigram := NodePos(0); unigram < 5; unigram++ {
		if got := s.Parent(unigram); got != Root {
			t.Errorf("Parent(%d) = %d, want Root", unigram, got)
		}
	}
}

func TestShardFindAndTraverse(t *testing.T) {
	s := buildTestShard(t)

	for _, c := range []struct {
		pos  NodePos
		id   WordID
		want NodePos
	}{
		{Root, 0, 0},
		{Root, 4, 4},
		{0, 1, 5},
		{0, 3, 6},
		{0, 2, Root}, // 2 is not a child of 0
		{2, 0, 7},
		{1, 0, Root}, // unigram 1 has no children
	} {
		if got := s.Find(c.pos, c.id); got != c.want {
			t.Errorf("Find(%d, %d) = %d, want %d", c.pos, c.id, got, c.want)
		}
	}

	consumed, pos := s.Traverse([]WordID{0, 1})
	if consumed != 2 || pos != 5 {
		t.Errorf("Traverse([0,1]) = (%d, %d), want (2, 5)", consumed, pos)
	}

	consumed, pos = s.Traverse([]WordID{0, 2})
	if consumed != 1 || pos != 0 {
		t.Errorf("Traverse([0,2]) = (%d, %d), want (1, 0)", consumed, pos)
	}

	consumed, pos = s.Traverse([]WordID{2, 0})
	if consumed != 2 || pos != 7 {
		t.Errorf("Traverse([2,0]) = (%d, %d), want (2, 7)", consumed, pos)
	}
}

func TestShardFindCacheConsistentUnderConcurrency(t *testing.T) {
	s := buildTestShard(t)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if got := s.Find(0, 1); got != 5 {
					t.Errorf("concurrent Find(0, 1) = %d, want 5", got)
				}
				if got := s.Find(0, 2); got != Root {
					t.Errorf("concurrent Find(0, 2) = %d, want Root", got)
				}
			}
		}()
	}
	wg.Wait()
}

func TestShardLowerBound(t *testing.T) {
	s := buildTestShard(t)

	cases := []struct {
		first, last uint64
		id          WordID
		want        uint64
	}{
		{5, 7, 0, 5}, // 0 < every child id of unigram 0, insert at front
		{5, 7, 1, 5}, // exact match on first child
		{5, 7, 2, 6}, // between 1 and 3
		{5, 7, 3, 6}, // exact match on second child
		{5, 7, 4, 7}, // past the end
		{0, 5, 2, 2}, // below offsets[1]: id itself is the bound
		{0, 5, 9, 5},
	}
	for _, c := range cases {
		if got := s.LowerBound(c.first, c.last, c.id); got != c.want {
			t.Errorf("LowerBound(%d, %d, %d) = %d, want %d", c.first, c.last, c.id, got, c.want)
		}
	}
}

func TestOffsetsRoundTrip(t *testing.T) {
	offsets := []uint64{0, 5, 8}
	var buf []byte
	w := sliceWriter{&buf}
	if _, err := writeOffsets(w, offsets); err != nil {
		t.Fatalf("writeOffsets: %v", err)
	}
	got, err := readOffsets(newMemIndexFileBytes("offsets", buf), 2)
	if err != nil {
		t.Fatalf("readOffsets: %v", err)
	}
	if len(got) != len(offsets) {
		t.Fatalf("readOffsets returned %d entries, want %d", len(got), len(offsets))
	}
	for i, want := range offsets {
		if got[i] != want {
			t.Errorf("offsets[%d] = %d, want %d", i, got[i], want)
		}
	}
}

type sliceWriter struct{ buf *[]byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

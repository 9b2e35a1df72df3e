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
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeBackoffRepository builds the worked example from spec.md §8:
// vocabulary {<unk>,<s>,</s>,a,b,c} (ids 0..5), a single bigram "a b"
// (p=-0.5) at node position 6, a's own backoff (the weight used when
// receding from context "a") of -0.2, unigram "b" at p=-1.0, and
// unigram "c" at p=-1.3.
func writeBackoffRepository(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	vw := NewVocabularyWriter()
	vw.Insert(UnkToken) // 0
	vw.Insert(BOSToken) // 1
	vw.Insert(EOSToken) // 2
	vw.Insert("a")      // 3
	vw.Insert("b")      // 4
	vw.Insert("c")      // 5

	props := &Properties{Order: 2, ShardSize: 1, ModelKind: ModelProbabilities}
	if err := WritePrepare(dir, props, vw); err != nil {
		t.Fatalf("WritePrepare: %v", err)
	}

	idsSink := NewPackedIntSink(BitsForMaxValue(5))
	idsSink.Push(4) // "a"'s only child is "b"

	posSink := NewBitVectorSink(4)
	for _, b := range []bool{false, false, false, true, false, false, false} {
		posSink.Push(b)
	}

	sinks := ShardSinks{
		IDs:       idsSink,
		Positions: posSink,
		Counts:    NewPackedIntSink(1), // unused by the probabilities model; written to keep WriteShard happy
		Offsets:   []uint64{0, 6, 7},
	}
	if err := WriteShard(dir, 0, sinks); err != nil {
		t.Fatalf("WriteShard: %v", err)
	}

	// logprob/backoff/logbound, one file per shard, 7 nodes:
	// [unk, <s>, </s>, a, b, c, "a b"]
	logprob := []float32{-9, -9, -9, -2.0, -1.0, -1.3, -0.5}
	backoff := []float32{0, 0, 0, -0.2, 0, 0, 0}
	logbound := []float32{0, 0, 0, 0, 0, 0, 0}

	for name, values := range map[string][]float32{
		"logprob":  logprob,
		"backoff":  backoff,
		"logbound": logbound,
	} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatalf("MkdirAll %s: %v", name, err)
		}
		sink := NewFloatSink()
		for _, v := range values {
			sink.Push(v)
		}
		if err := atomicWriteFromWriterTo(filepath.Join(dir, name, "0.bin"), sink); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	if err := WriteDone(dir); err != nil {
		t.Fatalf("WriteDone: %v", err)
	}
	return dir
}

func TestQueryEngineBackoff(t *testing.T) {
	dir := writeBackoffRepository(t)
	idx, err := OpenIndex(dir)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	q := NewQueryEngine(idx)
	states := q.States()

	a := idx.Vocab().LookupID("a")
	c := idx.Vocab().LookupID("c")

	// logprob(state=[], a) is the plain unigram logprob of "a".
	empty := states.NewBuffer()
	_, lp := q.Logprob(empty, a)
	if !floatsClose(lp, -2.0) {
		t.Errorf("Logprob([], a) = %v, want -2.0", lp)
	}

	// logprob(state=[a], c): "a c" is absent, so this backs off through
	// a's backoff weight (-0.2) to the unigram "c" (-1.3).
	stateA := states.NewBuffer()
	states.SetLength(stateA, 1)
	states.SetContextID(stateA, 0, a)

	_, lp = q.Logprob(stateA, c)
	want := float32(-1.3) + float32(-0.2)
	if !floatsClose(lp, want) {
		t.Errorf("Logprob([a], c) = %v, want %v", lp, want)
	}
}

func TestQueryEngineCacheAgreesWithUncached(t *testing.T) {
	dir := writeBackoffRepository(t)
	idx, err := OpenIndex(dir)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	plain := NewQueryEngine(idx)
	cached := NewQueryEngine(idx)
	cached.EnableCache(64, nil)

	a := idx.Vocab().LookupID("a")
	c := idx.Vocab().LookupID("c")

	stateA := plain.States().NewBuffer()
	plain.States().SetLength(stateA, 1)
	plain.States().SetContextID(stateA, 0, a)

	for i := 0; i < 3; i++ {
		_, wantLP := plain.Logprob(stateA, c)
		_, gotLP := cached.Logprob(stateA, c)
		if !floatsClose(gotLP, wantLP) {
			t.Errorf("iteration %d: cached Logprob = %v, want %v", i, gotLP, wantLP)
		}
	}
}

func floatsClose(a, b float32) bool {
	return math.Abs(float64(a)-float64(b)) < 1e-5
}

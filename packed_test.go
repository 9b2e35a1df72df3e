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

import "testing"

func TestPackedIntArrayRoundTrip(t *testing.T) {
	for _, bits := range []uint32{1, 3, 7, 8, 17, 31, 32, 64} {
		bits := bits
		t.Run("", func(t *testing.T) {
			max := uint64(1)<<bits - 1
			if bits == 64 {
				max = ^uint64(0)
			}
			values := []uint64{0, 1, max}
			if max > 2 {
				values = append(values, max/2, max-1)
			}

			sink := NewPackedIntSink(bits)
			for _, v := range values {
				sink.Push(v)
			}

			f := newMemIndexFile("packed", sink)
			arr, err := OpenPackedIntArray(f)
			if err != nil {
				t.Fatalf("OpenPackedIntArray: %v", err)
			}
			if arr.Len() != uint64(len(values)) {
				t.Fatalf("Len() = %d, want %d", arr.Len(), len(values))
			}
			for i, want := range values {
				if got := arr.Get(uint64(i)); got != want {
					t.Errorf("bits=%d Get(%d) = %d, want %d", bits, i, got, want)
				}
			}
		})
	}
}

func TestPackedIntArrayZeroWidth(t *testing.T) {
	sink := NewPackedIntSink(0)
	for i := 0; i < 5; i++ {
		sink.Push(0)
	}
	f := newMemIndexFile("packed-zero", sink)
	arr, err := OpenPackedIntArray(f)
	if err != nil {
		t.Fatalf("OpenPackedIntArray: %v", err)
	}
	for i := uint64(0); i < arr.Len(); i++ {
		if got := arr.Get(i); got != 0 {
			t.Errorf("Get(%d) = %d, want 0", i, got)
		}
	}
}

func TestBitsForMaxValue(t *testing.T) {
	cases := []struct {
		max  uint64
		bits uint32
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{255, 8},
		{256, 9},
	}
	for _, c := range cases {
		if got := BitsForMaxValue(c.max); got != c.bits {
			t.Errorf("BitsForMaxValue(%d) = %d, want %d", c.max, got, c.bits)
		}
	}
}

func TestPackedIntArrayIter(t *testing.T) {
	values := []uint64{4, 9, 2, 15, 0, 7}
	sink := NewPackedIntSink(BitsForMaxValue(15))
	for _, v := range values {
		sink.Push(v)
	}
	arr, err := OpenPackedIntArray(newMemIndexFile("packed-iter", sink))
	if err != nil {
		t.Fatalf("OpenPackedIntArray: %v", err)
	}

	var got []uint64
	arr.Iter(func(i, v uint64) bool {
		got = append(got, v)
		return true
	})
	if len(got) != len(values) {
		t.Fatalf("Iter produced %d values, want %d", len(got), len(values))
	}
	for i, v := range values {
		if got[i] != v {
			t.Errorf("Iter[%d] = %d, want %d", i, got[i], v)
		}
	}

	got = nil
	arr.Iter(func(i, v uint64) bool {
		got = append(got, v)
		return i < 2
	})
	if len(got) != 3 {
		t.Fatalf("early-stop Iter produced %d values, want 3", len(got))
	}
}

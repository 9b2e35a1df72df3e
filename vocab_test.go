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

func buildVocab(t *testing.T, words []string) *Vocabulary {
	t.Helper()
	w := NewVocabularyWriter()
	ids := make(map[string]WordID, len(words))
	for _, s := range words {
		ids[s] = w.Insert(s)
	}
	v, err := OpenVocabulary(newMemIndexFile("vocab", w))
	if err != nil {
		t.Fatalf("OpenVocabulary: %v", err)
	}
	return v
}

func TestVocabularyLookupRoundTrip(t *testing.T) {
	words := []string{UnkToken, BOSToken, EOSToken, "a", "b", "c", "apple", "apply", "zebra"}
	v := buildVocab(t, words)

	if v.Size() != uint32(len(words)) {
		t.Fatalf("Size() = %d, want %d", v.Size(), len(words))
	}

	for i, want := range words {
		got := v.LookupID(want)
		if got != WordID(i) {
			t.Errorf("LookupID(%q) = %d, want %d", want, got, i)
		}
		str, ok := v.LookupString(WordID(i))
		if !ok || str != want {
			t.Errorf("LookupString(%d) = (%q, %v), want (%q, true)", i, str, ok, want)
		}
	}

	if got := v.LookupID("never-inserted"); got != v.UnkID() {
		t.Errorf("LookupID(unknown) = %d, want UnkID %d", got, v.UnkID())
	}
}

func TestVocabularyFixedIDs(t *testing.T) {
	words := []string{"hello", UnkToken, "world", BOSToken, EOSToken}
	v := buildVocab(t, words)

	if v.UnkID() != 1 {
		t.Errorf("UnkID() = %d, want 1", v.UnkID())
	}
	if v.BOSID() != 3 {
		t.Errorf("BOSID() = %d, want 3", v.BOSID())
	}
	if v.EOSID() != 4 {
		t.Errorf("EOSID() = %d, want 4", v.EOSID())
	}
}

func TestVocabularyCacheSurvivesCollisionTraffic(t *testing.T) {
	words := make([]string, 0, 64)
	for i := 0; i < 64; i++ {
		words = append(words, string(rune('a'+i%26))+string(rune('0'+i%10)))
	}
	v := buildVocab(t, words)

	// Look every word up twice: the first pass populates the cache, the
	// second must still return correct ids even if two words hashed into
	// the same slot and overwrote each other.
	for pass := 0; pass < 2; pass++ {
		for i, w := range words {
			if got := v.LookupID(w); got != WordID(i) {
				t.Errorf("pass %d: LookupID(%q) = %d, want %d", pass, w, got, i)
			}
		}
	}
}

func TestVocabularyWriterInsertIsIdempotent(t *testing.T) {
	w := NewVocabularyWriter()
	a := w.Insert("foo")
	b := w.Insert("bar")
	c := w.Insert("foo")
	if a != c {
		t.Errorf("Insert(\"foo\") twice gave different ids: %d vs %d", a, c)
	}
	if a == b {
		t.Errorf("distinct strings got the same id %d", a)
	}
	if w.Len() != 2 {
		t.Errorf("Len() = %d, want 2", w.Len())
	}
}

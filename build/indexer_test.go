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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/postfix/expgram"
)

func mustWriteFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

// writeCorpusFixture builds a tiny two-order Google Web-1T-format corpus:
// unigrams the/dog/cat, bigrams "the dog" and "the cat".
func writeCorpusFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeGzipLines(t, filepath.Join(dir, unigramDir, unigramFile), []string{
		"the\t10",
		"dog\t5",
		"cat\t3",
	})

	ngDir := filepath.Join(dir, ngramDir(2))
	writeGzipLines(t, filepath.Join(ngDir, "2gm-0000.gz"), []string{
		"the dog\t4",
		"the cat\t2",
	})
	mustWriteFile(t, filepath.Join(ngDir, "2gm.idx"), "2gm-0000\n")

	return dir
}

func TestRunLocalEndToEnd(t *testing.T) {
	corpus := writeCorpusFixture(t)
	out := t.TempDir()

	opts := Options{
		Input:     corpus,
		Output:    out,
		Order:     2,
		ShardSize: 1,
		Mappers:   2,
	}
	if err := RunLocal(context.Background(), opts, zap.NewNop(), nil); err != nil {
		t.Fatalf("RunLocal: %v", err)
	}

	if _, err := os.Stat(filepath.Join(out, "done")); err != nil {
		t.Fatalf("done sentinel missing after RunLocal: %v", err)
	}

	idx, err := expgram.OpenIndex(out)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	if idx.Order() != 2 {
		t.Errorf("Order() = %d, want 2", idx.Order())
	}
	if idx.NumShards() != 1 {
		t.Errorf("NumShards() = %d, want 1", idx.NumShards())
	}

	the := idx.Vocab().LookupID("the")
	dog := idx.Vocab().LookupID("dog")
	cat := idx.Vocab().LookupID("cat")

	consumed, shard, pos := idx.Traverse([]expgram.WordID{the})
	if consumed != 1 {
		t.Fatalf("Traverse(the) consumed = %d, want 1", consumed)
	}
	if got := idx.Count(shard, pos); got != 10 {
		t.Errorf("Count(the) = %d, want 10", got)
	}

	consumed, shard, pos = idx.Traverse([]expgram.WordID{the, dog})
	if consumed != 2 {
		t.Fatalf("Traverse(the,dog) consumed = %d, want 2", consumed)
	}
	if got := idx.Count(shard, pos); got != 4 {
		t.Errorf("Count(the dog) = %d, want 4", got)
	}

	consumed, shard, pos = idx.Traverse([]expgram.WordID{the, cat})
	if consumed != 2 {
		t.Fatalf("Traverse(the,cat) consumed = %d, want 2", consumed)
	}
	if got := idx.Count(shard, pos); got != 2 {
		t.Errorf("Count(the cat) = %d, want 2", got)
	}
}

func TestRunLocalStopsAtMissingOrder(t *testing.T) {
	corpus := writeCorpusFixture(t)
	out := t.TempDir()

	opts := Options{
		Input:     corpus,
		Output:    out,
		Order:     4, // no 3gms/4gms in the fixture
		ShardSize: 1,
		Mappers:   1,
	}
	if err := RunLocal(context.Background(), opts, zap.NewNop(), nil); err != nil {
		t.Fatalf("RunLocal: %v", err)
	}

	idx, err := expgram.OpenIndex(out)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	// RunLocal only found bigrams, so the repository's declared order
	// stays whatever WritePrepare recorded up front; the absence of
	// 3gms/4gms does not error, it just stops extending the trie.
	the := idx.Vocab().LookupID("the")
	dog := idx.Vocab().LookupID("dog")
	consumed, shard, pos := idx.Traverse([]expgram.WordID{the, dog})
	if consumed != 2 {
		t.Fatalf("Traverse(the,dog) consumed = %d, want 2", consumed)
	}
	if got := idx.Count(shard, pos); got != 4 {
		t.Errorf("Count(the dog) = %d, want 4", got)
	}
}

// TestOpenIndexWithoutDoneFails checks that a repository interrupted
// before RunLocal writes its "done" sentinel is reported as incomplete
// rather than silently opened (spec.md §6).
func TestOpenIndexWithoutDoneFails(t *testing.T) {
	corpus := writeCorpusFixture(t)
	out := t.TempDir()

	opts := Options{
		Input:     corpus,
		Output:    out,
		Order:     2,
		ShardSize: 1,
		Mappers:   1,
	}
	if err := RunLocal(context.Background(), opts, zap.NewNop(), nil); err != nil {
		t.Fatalf("RunLocal: %v", err)
	}
	if err := os.Remove(filepath.Join(out, "done")); err != nil {
		t.Fatalf("removing done sentinel: %v", err)
	}

	if _, err := expgram.OpenIndex(out); !errors.Is(err, expgram.ErrIncompleteIndex) {
		t.Fatalf("OpenIndex after removing done = %v, want ErrIncompleteIndex", err)
	}
}

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

package main

import (
	"fmt"

	"github.com/postfix/expgram"
)

// runTraverse resolves words against the repository's trie directly
// (bypassing QueryEngine's backoff), printing exactly how far the
// sequence matched and the node's raw counts/weights — useful for
// debugging a build rather than scoring a sentence.
func runTraverse(repoDir string, shards int, words []string) error {
	idx, err := expgram.OpenIndex(repoDir)
	if err != nil {
		return fmt.Errorf("ngram-query traverse: %w", err)
	}
	defer idx.Close()
	warmShards(idx, shards)

	vocab := idx.Vocab()
	ids := make([]expgram.WordID, len(words))
	for i, w := range words {
		ids[i] = vocab.LookupID(w)
	}

	consumed, shard, pos := idx.Traverse(ids)
	fmt.Printf("consumed=%d/%d shard=%d pos=%d\n", consumed, len(ids), shard, pos)
	if consumed == 0 {
		return nil
	}

	if idx.ModelKind() == expgram.ModelCounts {
		fmt.Printf("count=%d\n", idx.Count(shard, pos))
		return nil
	}
	fmt.Printf("logprob=%g backoff=%g logbound=%g\n",
		idx.LogProb(shard, pos), idx.Backoff(shard, pos), idx.LogBound(shard, pos))
	return nil
}

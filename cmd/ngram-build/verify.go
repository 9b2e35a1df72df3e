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

	"github.com/dustin/go-humanize"

	"github.com/postfix/expgram"
)

// verifyRepository opens dir and prints a one-line summary per shard,
// the ngram-build analogue of zoekt-sourcegraph-indexserver debug.go's
// "trigrams"/"meta" shard-inspection commands.
func verifyRepository(dir string) error {
	idx, err := expgram.OpenIndex(dir)
	if err != nil {
		return fmt.Errorf("ngram-build verify: %w", err)
	}
	defer idx.Close()

	fmt.Printf("order=%d shards=%d model=%s vocabulary=%s words\n",
		idx.Order(), idx.NumShards(), idx.ModelKind(), humanize.Comma(int64(idx.Vocab().Size())))

	for s := 0; s < idx.NumShards(); s++ {
		shard := idx.Shard(s)
		fmt.Printf("shard %d: order=%d %s nodes\n", s, shard.Order(), humanize.Comma(int64(shard.Size())))
	}
	return nil
}

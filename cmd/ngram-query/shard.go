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
	"golang.org/x/sync/errgroup"

	"github.com/postfix/expgram"
)

// warmShards touches every shard's mmapped node array with up to
// workers goroutines in flight, the in-process analogue of the
// original's "shard" flag ("# of shards (or # of threads)",
// original_source/progs/expgram.cpp) that sized the thread pool used
// to page a multi-shard model in before the first query. A single
// process here opens every shard unconditionally (OpenIndex), so the
// flag's only remaining job is to bound how many shards get touched
// concurrently rather than one at a time.
func warmShards(idx *expgram.Index, workers int) {
	if workers <= 0 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for s := 0; s < idx.NumShards(); s++ {
		s := s
		g.Go(func() error {
			shard := idx.Shard(s)
			if shard.Size() > 0 {
				shard.At(0)
			}
			return nil
		})
	}
	_ = g.Wait()
}

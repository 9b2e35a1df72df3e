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
	"io"

	"github.com/postfix/expgram"
)

// mapperBatchSize caps how many records a mapper buffers before flushing
// a TagCount message, the in-process analogue of the original's
// per-target mpi_device_sink buffer (set to 4 KiB there; bounded here by
// record count instead of bytes since the channel already owns framing).
const mapperBatchSize = 512

// distributeFiles splits files round-robin across numRanks targets, the
// exact assignment index_ngram_mapper_root uses ("const int rank = i %
// mpi_size"). shares[r] is rank r's list, in input order.
func distributeFiles(files []string, numRanks int) [][]string {
	shares := make([][]string, numRanks)
	for i, f := range files {
		rank := i % numRanks
		shares[rank] = append(shares[rank], f)
	}
	return shares
}

// runMapper reads every ngram occurrence in files at the given order,
// resolves each word against vocab, and streams the resulting records to
// ch in bounded batches. Words absent from the bootstrap vocabulary
// (malformed or out-of-band input) resolve to <unk>, mirroring the query
// path's out-of-vocabulary handling rather than minting new ids mid-build.
func runMapper(vocab *expgram.VocabularyWriter, files []string, order expgram.Order, ch Channel) error {
	unkID, _ := vocab.Lookup(expgram.UnkToken)

	var batch []record
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sendRecords(ch, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, path := range files {
		if err := mapOneFile(path, order, vocab, unkID, &batch, flush); err != nil {
			return err
		}
	}
	return flush()
}

func mapOneFile(path string, order expgram.Order, vocab *expgram.VocabularyWriter, unkID expgram.WordID, batch *[]record, flush func() error) error {
	r, err := OpenNGramFile(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		words, count, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if expgram.Order(len(words)) != order {
			continue
		}
		ids := make([]expgram.WordID, len(words))
		for i, w := range words {
			if id, ok := vocab.Lookup(w); ok {
				ids[i] = id
			} else {
				ids[i] = unkID
			}
		}
		*batch = append(*batch, record{IDs: ids, Count: count})
		if len(*batch) >= mapperBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

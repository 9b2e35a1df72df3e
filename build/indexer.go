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
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/postfix/expgram"
)

// Options configures RunLocal, the "inverse of Args" style zoekt's own
// build.Options uses (build/builder.go).
type Options struct {
	// Input is a Google Web-1T corpus root: "1gms/vocab_cs.gz" plus an
	// "Ngms/" directory per order >= 2.
	Input string

	// Output is the repository directory RunLocal writes (spec.md §6).
	Output string

	// Order is the maximum n-gram order to index.
	Order expgram.Order

	// ShardSize is the number of shards to partition order >= 2 nodes
	// across (spec.md §4.4's hash routing).
	ShardSize int

	// Mappers is the number of concurrent mapper goroutines per order;
	// 0 means GOMAXPROCS.
	Mappers int
}

// SetDefaults fills in zero-valued fields with sane defaults.
func (o *Options) SetDefaults() {
	if o.Order == 0 {
		o.Order = 3
	}
	if o.ShardSize == 0 {
		o.ShardSize = 1
	}
	if o.Mappers == 0 {
		o.Mappers = runtime.GOMAXPROCS(0)
	}
}

// Flags registers o's fields on fs, the inverse of Args would be, and
// returns a closure that must be called after fs.Parse to copy the
// order flag back into o (flag.FlagSet has no IntVar for named int
// types).
func (o *Options) Flags(fs *flag.FlagSet) func() {
	x := *o
	x.SetDefaults()
	order := fs.Int("order", int(x.Order), "maximum n-gram order")
	fs.StringVar(&o.Input, "input", x.Input, "Google Web-1T corpus root")
	fs.StringVar(&o.Output, "output", x.Output, "repository directory to write")
	fs.IntVar(&o.ShardSize, "shard", x.ShardSize, "number of shards")
	fs.IntVar(&o.Mappers, "mappers", x.Mappers, "concurrent mapper goroutines per order")
	return func() { o.Order = expgram.Order(*order) }
}

// RunLocal builds a complete counts-model repository at opts.Output from
// opts.Input, the in-process analogue of
// original_source/progs/expgram_counts_index_mpi.cpp's root rank
// bootstrapping unigrams then driving mapper/reducer ranks one order at
// a time (§9.1: reproduced "in spirit, not MPI").
func RunLocal(ctx context.Context, opts Options, logger *zap.Logger, metrics *Metrics) error {
	opts.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	vw := expgram.NewVocabularyWriter()
	vw.Insert(expgram.UnkToken)
	vw.Insert(expgram.BOSToken)
	vw.Insert(expgram.EOSToken)

	unigramCounts, err := bootstrapUnigrams(opts.Input, vw)
	if err != nil {
		return fmt.Errorf("expgram/build: unigram bootstrap: %w", err)
	}
	logger.Info("unigram bootstrap complete", zap.Int("vocabulary_size", vw.Len()))

	props := &expgram.Properties{Order: opts.Order, ShardSize: opts.ShardSize, ModelKind: expgram.ModelCounts}
	if err := expgram.WritePrepare(opts.Output, props, vw); err != nil {
		return fmt.Errorf("expgram/build: write-prepare: %w", err)
	}

	// shardLog records one TSV line per order merged, the same rotating-
	// file convention zoekt's Builder.shardLogger uses for its per-shard
	// audit trail (build/builder.go), repurposed here to track per-order
	// record and count_modified totals instead of per-document shard
	// assignment.
	shardLog := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Output, "ngram-build-shard-log.tsv"),
		MaxSize:    100, // Megabyte
		MaxBackups: 5,
	}
	defer shardLog.Close()

	builders := make([]*shardBuilder, opts.ShardSize)
	for s := range builders {
		builders[s] = newShardBuilder(uint32(vw.Len()), unigramCounts)
	}

	for order := expgram.Order(2); order <= opts.Order; order++ {
		files, err := ListOrderFiles(opts.Input, order)
		if err != nil {
			return fmt.Errorf("expgram/build: listing order %d files: %w", order, err)
		}
		if len(files) == 0 {
			logger.Info("no input files at this order, stopping", zap.Int("order", int(order)))
			break
		}

		perShard, err := mapReduceOrder(ctx, vw, files, order, opts, metrics)
		if err != nil {
			return fmt.Errorf("expgram/build: order %d: %w", order, err)
		}
		for s, recs := range perShard {
			builders[s].addOrder(order, recs)
		}
		var totalModified uint64
		for _, b := range builders {
			totalModified += b.countModified[order]
		}
		metrics.CountModified.Add(float64(totalModified))
		metrics.OrdersIndexed.Inc()
		logger.Info("order merged",
			zap.Int("order", int(order)),
			zap.Int("files", len(files)),
			zap.Uint64("count_modified", totalModified))
		fmt.Fprintf(shardLog, "%d\t%d\t%d\n", order, len(files), totalModified)
	}

	// Orders with no input files still get an empty level, so every
	// shard's offsets table has Order+1 entries as OpenIndex expects.
	for _, b := range builders {
		for k := expgram.Order(len(b.offsets)); k <= opts.Order; k++ {
			b.addOrder(k, nil)
		}
	}

	g, _ := errgroup.WithContext(ctx)
	for s := range builders {
		s := s
		g.Go(func() error {
			sinks := builders[s].finish()
			if err := expgram.WriteShard(opts.Output, s, sinks); err != nil {
				return fmt.Errorf("shard %d: %w", s, err)
			}
			metrics.ShardsWritten.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Written last, after every shard and the vocab/props files from
	// WritePrepare are already on disk: its presence is what tells a
	// later OpenIndex this build actually finished (spec.md §6).
	if err := expgram.WriteDone(opts.Output); err != nil {
		return fmt.Errorf("expgram/build: writing done sentinel: %w", err)
	}
	return nil
}

// bootstrapUnigrams reads 1gms/vocab_cs.gz and inserts every word into
// vw in file order (descending frequency, the id assignment order the
// original's index_unigram uses), returning the per-id counts.
func bootstrapUnigrams(corpusRoot string, vw *expgram.VocabularyWriter) ([]uint64, error) {
	r, err := OpenUnigrams(corpusRoot)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	counts := make([]uint64, vw.Len())
	for {
		word, count, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		id := vw.Insert(word)
		if int(id) < len(counts) {
			counts[id] += count
		} else {
			counts = append(counts, count)
		}
	}
	return counts, nil
}

// mapReduceOrder runs opts.Mappers mapper goroutines over files at the
// given order, fans their output through per-mapper Channels, and groups
// the merged records by shard.
func mapReduceOrder(ctx context.Context, vw *expgram.VocabularyWriter, files []string, order expgram.Order, opts Options, metrics *Metrics) ([][]record, error) {
	shares := distributeFiles(files, opts.Mappers)

	mapperSides := make([]Channel, opts.Mappers)
	reducerSides := make([]Channel, opts.Mappers)
	for i := 0; i < opts.Mappers; i++ {
		a, b := NewChannelPair(8)
		mapperSides[i] = a
		reducerSides[i] = b
	}

	perShard := make([][]record, opts.ShardSize)
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < opts.Mappers; i++ {
		i := i
		g.Go(func() error {
			defer mapperSides[i].Close()
			return runMapper(vw, shares[i], order, mapperSides[i])
		})
	}
	for i := 0; i < opts.Mappers; i++ {
		i := i
		g.Go(func() error {
			for {
				recs, err := recvRecords(reducerSides[i])
				if err == errChannelClosed {
					return nil
				}
				if err != nil {
					return err
				}
				metrics.RecordsMapped.Add(float64(len(recs)))
				mu.Lock()
				for _, r := range recs {
					shard := expgram.ShardForContext(r.IDs, opts.ShardSize)
					perShard[shard] = append(perShard[shard], r)
				}
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return perShard, nil
}

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
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ModelKind names what a shard's parallel arrays hold, the third field
// of prop.list.
type ModelKind string

const (
	ModelCounts                 ModelKind = "counts"
	ModelProbabilities          ModelKind = "probabilities"
	ModelProbabilitiesQuantized ModelKind = "probabilities-quantized"
)

const propsFileName = "prop.list"

// doneFileName names the zero-length sentinel WriteDone writes last,
// after every other repository file is in place (spec.md §6): its
// absence marks a build that was interrupted partway through.
const doneFileName = "done"

// Properties is the parsed form of a repository's prop.list manifest
// (spec.md §6): a flat key/value text file, one "key value" pair per
// line. No ecosystem library in the retrieval pack reads this shape —
// zoekt's index metadata is JSON (read.go's json.Unmarshal), but
// spec.md is explicit that this manifest is a plain text key/value
// file, so it's parsed by hand with bufio.Scanner rather than forcing
// JSON onto a format the spec defines differently.
type Properties struct {
	Order     Order
	ShardSize int
	ModelKind ModelKind
}

func readProperties(path string) (*Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	defer f.Close()

	props := &Properties{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("%w: malformed prop.list line %q", ErrCorruptedIndex, line)
		}
		value = strings.TrimSpace(value)
		switch key {
		case "order":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: prop.list order: %v", ErrCorruptedIndex, err)
			}
			props.Order = Order(n)
		case "shard-size":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: prop.list shard-size: %v", ErrCorruptedIndex, err)
			}
			props.ShardSize = n
		case "model-kind":
			props.ModelKind = ModelKind(value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if props.Order == 0 || props.ShardSize == 0 || props.ModelKind == "" {
		return nil, fmt.Errorf("%w: prop.list missing required key", ErrIncompleteIndex)
	}
	return props, nil
}

func writeProperties(path string, props *Properties) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "order %d\n", props.Order)
	fmt.Fprintf(&sb, "shard-size %d\n", props.ShardSize)
	fmt.Fprintf(&sb, "model-kind %s\n", props.ModelKind)
	return atomicWriteFile(path, strings.NewReader(sb.String()))
}

// Index holds S shards plus the shared vocabulary, and routes n-gram
// contexts to the shard that owns them.
//
// Ported from expgram's NGramIndex (original_source/expgram/NGramIndex.hpp),
// generalized to Go's explicit-ownership style: the original's Shard kept
// a back-pointer to the vocabulary; here the vocabulary is passed
// explicitly by the Index that owns both (per Design Note "Cyclic
// ownership" in spec.md §9).
type Index struct {
	dir       string
	order     Order
	modelKind ModelKind

	vocab  *Vocabulary
	shards []*Shard

	// Exactly one of counts or {logprob,backoff,logbound} is populated,
	// selected by modelKind (spec.md §6's count/ vs logprob+backoff+
	// logbound/ directory split). Indexed by shard.
	counts   []*PackedIntArray
	logprob  []FloatArray
	backoff  []FloatArray
	logbound []FloatArray

	openFiles []IndexFile
}

// OpenIndex attaches every shard and the vocabulary of the repository
// rooted at dir (spec.md §6's on-disk layout).
func OpenIndex(dir string) (*Index, error) {
	if _, err := os.Stat(filepath.Join(dir, doneFileName)); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIncompleteIndex
		}
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	props, err := readProperties(filepath.Join(dir, propsFileName))
	if err != nil {
		return nil, err
	}

	idx := &Index{dir: dir, order: props.Order, modelKind: props.ModelKind}
	ok := false
	defer func() {
		if !ok {
			idx.Close()
		}
	}()

	vocabFile, err := idx.openTracked(filepath.Join(dir, "index", "vocab", "vocab.bin"))
	if err != nil {
		return nil, err
	}
	vocab, err := OpenVocabulary(vocabFile)
	if err != nil {
		return nil, err
	}
	idx.vocab = vocab

	idx.shards = make([]*Shard, props.ShardSize)
	for s := 0; s < props.ShardSize; s++ {
		shard, err := idx.openShard(s)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", s, err)
		}
		idx.shards[s] = shard
	}

	if err := idx.openModelArrays(props.ShardSize); err != nil {
		return nil, err
	}

	ok = true
	return idx, nil
}

// openModelArrays loads the count array, or the logprob/backoff/
// logbound arrays, depending on modelKind (spec.md §6).
func (idx *Index) openModelArrays(numShards int) error {
	switch idx.modelKind {
	case ModelCounts:
		idx.counts = make([]*PackedIntArray, numShards)
		for s := 0; s < numShards; s++ {
			f, err := idx.openTracked(filepath.Join(idx.dir, "count", strconv.Itoa(s)+".bin"))
			if err != nil {
				return err
			}
			arr, err := OpenPackedIntArray(f)
			if err != nil {
				return err
			}
			idx.counts[s] = arr
		}
	case ModelProbabilities, ModelProbabilitiesQuantized:
		idx.logprob = make([]FloatArray, numShards)
		idx.backoff = make([]FloatArray, numShards)
		idx.logbound = make([]FloatArray, numShards)
		quantized := idx.modelKind == ModelProbabilitiesQuantized
		for s := 0; s < numShards; s++ {
			var err error
			idx.logprob[s], err = idx.openWeightArray("logprob", s, quantized)
			if err != nil {
				return err
			}
			idx.backoff[s], err = idx.openWeightArray("backoff", s, quantized)
			if err != nil {
				return err
			}
			idx.logbound[s], err = idx.openWeightArray("logbound", s, quantized)
			if err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unrecognized model-kind %q", ErrVersionMismatch, idx.modelKind)
	}
	return nil
}

func (idx *Index) openWeightArray(kind string, shard int, quantized bool) (FloatArray, error) {
	f, err := idx.openTracked(filepath.Join(idx.dir, kind, strconv.Itoa(shard)+".bin"))
	if err != nil {
		return nil, err
	}
	if quantized {
		return OpenQuantizedFloatArray(f, idx.shards[shard].offsets)
	}
	return OpenFloatArray(f)
}

// LogProb, Backoff, LogBound return the weight stored at node pos of
// the given shard. Valid only when ModelKind is a probabilities model.
func (idx *Index) LogProb(shard int, pos NodePos) float32 { return idx.logprob[shard].Get(uint64(pos)) }
func (idx *Index) Backoff(shard int, pos NodePos) float32 { return idx.backoff[shard].Get(uint64(pos)) }
func (idx *Index) LogBound(shard int, pos NodePos) float32 {
	return idx.logbound[shard].Get(uint64(pos))
}

// Count returns the raw count stored at node pos. Valid only when
// ModelKind is ModelCounts.
func (idx *Index) Count(shard int, pos NodePos) uint64 {
	return idx.counts[shard].Get(uint64(pos))
}

func (idx *Index) openTracked(path string) (IndexFile, error) {
	f, err := OpenIndexFilePath(path)
	if err != nil {
		return nil, err
	}
	idx.openFiles = append(idx.openFiles, f)
	return f, nil
}

func (idx *Index) shardDir(s int) string {
	return filepath.Join(idx.dir, "index", strconv.Itoa(s))
}

func (idx *Index) openShard(s int) (*Shard, error) {
	dir := idx.shardDir(s)

	idsFile, err := idx.openTracked(filepath.Join(dir, "ids.bin"))
	if err != nil {
		return nil, err
	}
	ids, err := OpenPackedIntArray(idsFile)
	if err != nil {
		return nil, err
	}

	posFile, err := idx.openTracked(filepath.Join(dir, "positions.bin"))
	if err != nil {
		return nil, err
	}
	positions, err := OpenSuccinctBitVector(posFile)
	if err != nil {
		return nil, err
	}

	offFile, err := idx.openTracked(filepath.Join(dir, "offsets.bin"))
	if err != nil {
		return nil, err
	}
	offsets, err := readOffsets(offFile, idx.order)
	if err != nil {
		return nil, err
	}

	return OpenShard(ids, positions, offsets), nil
}

// Close unmaps every open shard and vocabulary file.
func (idx *Index) Close() {
	for _, f := range idx.openFiles {
		f.Close()
	}
	idx.openFiles = nil
}

// Vocab returns the repository's shared vocabulary.
func (idx *Index) Vocab() *Vocabulary { return idx.vocab }

// Order returns the maximum n-gram order of this repository.
func (idx *Index) Order() Order { return idx.order }

// ModelKind reports whether shards hold raw counts or (quantized)
// probabilities.
func (idx *Index) ModelKind() ModelKind { return idx.modelKind }

// NumShards returns S.
func (idx *Index) NumShards() int { return len(idx.shards) }

// Shard returns the s-th shard.
func (idx *Index) Shard(s int) *Shard { return idx.shards[s] }

// combineHash folds id into seed the way the original's
// utils::hashmurmur functor chains two hash calls; xxhash replaces the
// original's murmur implementation with a maintained Go library.
func combineHash(id WordID, seed uint64) uint64 {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(id))
	binary.LittleEndian.PutUint64(b[4:12], seed)
	return xxhash.Sum64(b[:])
}

// ShardOf returns the shard that owns an n-gram starting with ids,
// H(ids[0], H(ids[1], 0)) mod S. Unigrams and empty contexts always
// route to shard 0.
func (idx *Index) ShardOf(ids []WordID) int {
	return ShardForContext(ids, len(idx.shards))
}

// ShardForContext computes the same routing as (*Index).ShardOf without
// requiring an open Index — the indexer needs this to decide which
// shard's builder an ngram belongs to before any shard file exists.
func ShardForContext(ids []WordID, numShards int) int {
	if len(ids) < 2 {
		return 0
	}
	h := combineHash(ids[1], 0)
	h = combineHash(ids[0], h)
	return int(h % uint64(numShards))
}

// Traverse routes ids to their owning shard and walks the trie as far
// as possible, returning how many ids were consumed, which shard was
// used, and the deepest node reached.
func (idx *Index) Traverse(ids []WordID) (consumed int, shard int, pos NodePos) {
	s := idx.ShardOf(ids)
	consumed, pos = idx.shards[s].Traverse(ids)
	return consumed, s, pos
}

// WritePrepare writes the repository manifest and vocabulary table for
// a freshly built index, the root-process half of the original's
// write_prepare/write_shard split (original_source/expgram/NGramIndex.hpp).
func WritePrepare(dir string, props *Properties, vocab *VocabularyWriter) error {
	if err := os.MkdirAll(filepath.Join(dir, "index", "vocab"), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "count"), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := writeProperties(filepath.Join(dir, propsFileName), props); err != nil {
		return err
	}
	return atomicWriteFromWriterTo(filepath.Join(dir, "index", "vocab", "vocab.bin"), vocab)
}

// ShardSinks bundles the array builders a reducer fills in for one
// shard before calling WriteShard: the trie arrays plus the raw count
// sink the indexer emits (spec.md §4.7's "push count onto the packed
// counts sink"). Probability/backoff/logbound estimation from these
// counts is training, out of this repository's scope (spec.md's
// Non-goals).
type ShardSinks struct {
	IDs       *PackedIntSink
	Positions *BitVectorSink
	Counts    *PackedIntSink
	Offsets   []uint64
}

// WriteShard atomically writes one shard's trie files into its
// index/ subdirectory and its count array into the top-level count/
// directory — the per-shard half of write_shard, run in parallel by
// the indexer (spec.md §4.4: "each shard, in parallel, writes its own
// arrays").
func WriteShard(dir string, shard int, sinks ShardSinks) error {
	shardDir := filepath.Join(dir, "index", strconv.Itoa(shard))
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := atomicWriteFromWriterTo(filepath.Join(shardDir, "ids.bin"), sinks.IDs); err != nil {
		return err
	}
	if err := atomicWriteFromWriterTo(filepath.Join(shardDir, "positions.bin"), sinks.Positions); err != nil {
		return err
	}
	if err := atomicWriteFile(filepath.Join(shardDir, "offsets.bin"), offsetsReader(sinks.Offsets)); err != nil {
		return err
	}
	countPath := filepath.Join(dir, "count", strconv.Itoa(shard)+".bin")
	return atomicWriteFromWriterTo(countPath, sinks.Counts)
}

// WriteDone writes the zero-length "done" sentinel, the last file a
// build must write (spec.md §6): its presence is what lets OpenIndex
// tell a finished repository from one interrupted mid-build.
func WriteDone(dir string) error {
	f, err := os.Create(filepath.Join(dir, doneFileName))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return f.Close()
}

func offsetsReader(offsets []uint64) io.Reader {
	buf := make([]byte, 8*len(offsets))
	for i, o := range offsets {
		binary.LittleEndian.PutUint64(buf[i*8:], o)
	}
	return bytes.NewReader(buf)
}

// atomicWriteFromWriterTo writes w to a temp file in the destination
// directory and renames it into place, so a reader never observes a
// partially written artifact.
func atomicWriteFromWriterTo(path string, w io.WriterTo) error {
	return atomicWrite(path, func(f *os.File) error {
		_, err := w.WriteTo(f)
		return err
	})
}

// atomicWriteFile is atomicWriteFromWriterTo's counterpart for a plain
// io.Reader source.
func atomicWriteFile(path string, r io.Reader) error {
	return atomicWrite(path, func(f *os.File) error {
		_, err := io.Copy(f, r)
		return err
	})
}

// atomicWrite mirrors zoekt's merge.go build-then-rename write path
// (builderWriteAll): write into a sibling temp file, fsync, then rename
// over the final path so a crash never leaves a half-written artifact
// visible to readers.
func atomicWrite(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return nil
}

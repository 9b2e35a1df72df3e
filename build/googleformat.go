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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/postfix/expgram"
)

// Google Web-1T layout (original_source/progs/expgram_counts_index_mpi.cpp,
// index_unigram/index_ngram_mapper_root): a corpus root directory holds
// "1gms/vocab_cs.gz" (one "word<TAB>count" line per distinct word, most
// frequent first) and, for every order >= 2, an "Ngms/" directory with an
// "Ngm.idx" index file naming the (possibly un-suffixed) member files,
// each holding "w1 w2 ... wN<TAB>count" lines.
const (
	unigramDir  = "1gms"
	unigramFile = "vocab_cs.gz"
)

func ngramDir(order expgram.Order) string   { return fmt.Sprintf("%dgms", order) }
func ngramIndex(order expgram.Order) string { return fmt.Sprintf("%dgm.idx", order) }

// canonicalizeToken remaps the Web-1T corpus's literal sentence markers
// to the vocabulary's canonical spellings (spec.md line 178), so a word
// read off disk as "<S>" lands on the same id as expgram.BOSToken
// instead of fragmenting into a distinct vocabulary entry.
func canonicalizeToken(w string) string {
	switch w {
	case "<S>":
		return expgram.BOSToken
	case "</S>":
		return expgram.EOSToken
	case "<UNK>":
		return expgram.UnkToken
	default:
		return w
	}
}

// UnigramReader streams the "word<TAB>count" rows of 1gms/vocab_cs.gz in
// file order (descending frequency), the order the original assigns
// dense unigram ids in.
type UnigramReader struct {
	f  *os.File
	gz *gzip.Reader
	sc *bufio.Scanner
}

// OpenUnigrams opens corpusRoot's unigram vocabulary file.
func OpenUnigrams(corpusRoot string) (*UnigramReader, error) {
	path := filepath.Join(corpusRoot, unigramDir, unigramFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &UnigramReader{f: f, gz: gz, sc: bufio.NewScanner(gz)}, nil
}

// Next returns the next (word, count) pair, or io.EOF once exhausted.
func (r *UnigramReader) Next() (string, uint64, error) {
	for r.sc.Scan() {
		line := r.sc.Text()
		word, countStr, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		count, err := strconv.ParseUint(countStr, 10, 64)
		if err != nil {
			return "", 0, fmt.Errorf("expgram/build: malformed unigram count %q: %w", line, err)
		}
		return canonicalizeToken(word), count, nil
	}
	if err := r.sc.Err(); err != nil {
		return "", 0, err
	}
	return "", 0, io.EOF
}

// Close releases the underlying file and gzip reader.
func (r *UnigramReader) Close() error {
	r.gz.Close()
	return r.f.Close()
}

// ListOrderFiles reads "{order}gms/{order}gm.idx" and returns the
// paths of its member ngram files joined onto corpusRoot, or (nil, nil) if that order
// has no directory — the signal the mapper-root loop uses to stop
// ("for (order = 2; ; ++order) ... if (count_file_size == 0) break").
func ListOrderFiles(corpusRoot string, order expgram.Order) ([]string, error) {
	dir := filepath.Join(corpusRoot, ngramDir(order))
	idx := filepath.Join(dir, ngramIndex(order))
	if _, err := os.Stat(idx); os.IsNotExist(err) {
		return nil, nil
	}
	f, err := os.Open(idx)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var files []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if !strings.HasSuffix(name, ".gz") {
			name += ".gz"
		}
		files = append(files, filepath.Join(dir, name))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// NGramFileReader streams "w1 w2 ... wN<TAB>count" rows from a single
// member ngram file.
type NGramFileReader struct {
	f  *os.File
	gz *gzip.Reader
	sc *bufio.Scanner
}

// OpenNGramFile opens one member file named by an Ngm.idx listing.
func OpenNGramFile(path string) (*NGramFileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &NGramFileReader{f: f, gz: gz, sc: bufio.NewScanner(gz)}, nil
}

// Next returns the next (words, count) row, or io.EOF once exhausted.
func (r *NGramFileReader) Next() ([]string, uint64, error) {
	for r.sc.Scan() {
		line := r.sc.Text()
		body, countStr, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		count, err := strconv.ParseUint(countStr, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("expgram/build: malformed ngram count %q: %w", line, err)
		}
		words := strings.Fields(body)
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = canonicalizeToken(w)
		}
		return words, count, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, 0, err
	}
	return nil, 0, io.EOF
}

// Close releases the underlying file and gzip reader.
func (r *NGramFileReader) Close() error {
	r.gz.Close()
	return r.f.Close()
}

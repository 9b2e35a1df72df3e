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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/postfix/expgram"
)

type lookupConfig struct {
	repoDir string
	input   string
	output  string
	order   expgram.Order
	shard   int
	verbose bool
	debug   bool
}

// runLookup reproduces expgram.cpp's main loop: each stdin line is a
// sentence, scored word-by-word (implicitly bracketed by <s>/</s>), with
// one "logprob oov" line emitted per sentence. -order is accepted for
// parity with the original's CLI surface but unused: this repository's
// QueryEngine always queries at the order baked into the repository.
func runLookup(cfg lookupConfig) error {
	idx, err := expgram.OpenIndex(cfg.repoDir)
	if err != nil {
		return fmt.Errorf("ngram-query lookup: %w", err)
	}
	defer idx.Close()
	warmShards(idx, cfg.shard)

	in, closeIn, err := openInput(cfg.input)
	if err != nil {
		return err
	}
	defer closeIn()

	out, closeOut, err := openOutput(cfg.output)
	if err != nil {
		return err
	}
	defer closeOut()

	engine := expgram.NewQueryEngine(idx)
	vocab := idx.Vocab()
	bosState, _ := engine.Logprob(engine.States().NewBuffer(), vocab.BOSID())

	scanner := bufio.NewScanner(in)
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	start := time.Now()
	var numWords, numSentences int

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		state := bosState
		var logprob float64
		var oov int

		for _, w := range fields {
			id := vocab.LookupID(w)
			newState, lp := engine.Logprob(state, id)
			if cfg.verbose {
				fmt.Fprintf(writer, "%s=%d %f\n", w, id, lp)
			}
			if id == vocab.UnkID() {
				oov++
			}
			state = newState
			logprob += float64(lp)
		}

		_, lp := engine.Logprob(state, vocab.EOSID())
		if cfg.verbose {
			fmt.Fprintf(writer, "%s=%d %f\n", expgram.EOSToken, vocab.EOSID(), lp)
		}
		logprob += float64(lp)

		fmt.Fprintf(writer, "%g %d\n", logprob, oov)

		numSentences++
		numWords += len(fields)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ngram-query lookup: reading input: %w", err)
	}

	if cfg.debug {
		elapsed := time.Since(start)
		fmt.Fprintf(os.Stderr, "queries: %s\nelapsed: %s\n",
			humanize.Comma(int64(numWords+numSentences)), elapsed)
	}
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" || path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" || path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

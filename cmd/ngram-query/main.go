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

// Command ngram-query answers backoff logprob queries against an expgram
// repository, reproducing original_source/progs/expgram.cpp's stdin/stdout
// sentence-scoring driver as the "lookup" subcommand, plus a "traverse"
// subcommand for inspecting raw trie nodes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/postfix/expgram"
)

func main() {
	_, _ = maxprocs.Set()

	root := &ffcli.Command{
		Name:        "ngram-query",
		ShortUsage:  "ngram-query <subcommand> [flags]",
		ShortHelp:   "query an expgram repository",
		Subcommands: []*ffcli.Command{lookupCmd(), traverseCmd()},
	}

	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func lookupCmd() *ffcli.Command {
	fs := flag.NewFlagSet("ngram-query lookup", flag.ExitOnError)
	ngram := fs.String("ngram", "", "expgram repository directory")
	input := fs.String("input", "-", "input file, or - for stdin")
	output := fs.String("output", "-", "output file, or - for stdout")
	order := fs.Int("order", 0, "accepted for compatibility; queries always use the repository's own order")
	shard := fs.Int("shard", 1, "number of shards to warm concurrently on open")
	verbose := fs.Int("verbose", 0, "verbose level; >0 prints a per-word breakdown")
	debug := fs.Int("debug", 0, "debug level; >0 prints throughput to stderr")

	return &ffcli.Command{
		Name:       "lookup",
		ShortUsage: "ngram-query lookup -ngram DIR [flags]",
		ShortHelp:  "score stdin sentences against a repository, one logprob/oov line per sentence",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if *ngram == "" {
				return fmt.Errorf("ngram-query lookup: -ngram is required")
			}
			return runLookup(lookupConfig{
				repoDir: *ngram,
				input:   *input,
				output:  *output,
				order:   expgram.Order(*order),
				shard:   *shard,
				verbose: *verbose > 0,
				debug:   *debug > 0,
			})
		},
	}
}

func traverseCmd() *ffcli.Command {
	fs := flag.NewFlagSet("ngram-query traverse", flag.ExitOnError)
	ngram := fs.String("ngram", "", "expgram repository directory")
	shard := fs.Int("shard", 1, "number of shards to warm concurrently on open")

	return &ffcli.Command{
		Name:       "traverse",
		ShortUsage: "ngram-query traverse -ngram DIR <word> [word...]",
		ShortHelp:  "print the shard/node/count/logprob/backoff a word sequence resolves to",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if *ngram == "" {
				return fmt.Errorf("ngram-query traverse: -ngram is required")
			}
			if len(args) == 0 {
				return fmt.Errorf("ngram-query traverse: missing word sequence")
			}
			return runTraverse(*ngram, *shard, args)
		},
	}
}

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

// Command ngram-build indexes a Google Web-1T corpus into an expgram
// repository, the in-process analogue of
// original_source/progs/expgram_counts_index_mpi.cpp.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/postfix/expgram/build"
)

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func runCmd() *ffcli.Command {
	fs := flag.NewFlagSet("ngram-build run", flag.ExitOnError)
	opts := build.Options{}
	applyOrder := opts.Flags(fs)
	debug := fs.Bool("debug", false, "turn on verbose development logging")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics on this address while indexing")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "ngram-build run -input DIR -output DIR [flags]",
		ShortHelp:  "build an expgram repository from a Google Web-1T corpus",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			applyOrder()
			if opts.Input == "" || opts.Output == "" {
				return fmt.Errorf("ngram-build run: -input and -output are required")
			}

			logger := newLogger(*debug)
			defer logger.Sync() //nolint:errcheck

			reg := prometheus.NewRegistry()
			metrics := build.NewMetrics(reg)

			if *metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: *metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server stopped", zap.Error(err))
					}
				}()
				defer srv.Close()
			}

			start := time.Now()
			if err := build.RunLocal(ctx, opts, logger, metrics); err != nil {
				return err
			}
			logger.Info("build complete",
				zap.String("output", opts.Output),
				zap.String("elapsed", humanize.RelTime(start, time.Now(), "", "")))
			return nil
		},
	}
}

func verifyCmd() *ffcli.Command {
	fs := flag.NewFlagSet("ngram-build verify", flag.ExitOnError)

	return &ffcli.Command{
		Name:       "verify",
		ShortUsage: "ngram-build verify <dir>",
		ShortHelp:  "open a repository and report its shard sizes",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("ngram-build verify: missing repository directory")
			}
			return verifyRepository(args[0])
		},
	}
}

func main() {
	// Tune GOMAXPROCS to match the container's CPU quota before sizing
	// the mapper pool, the same startup step zoekt-index takes.
	_, _ = maxprocs.Set()

	root := &ffcli.Command{
		Name:        "ngram-build",
		ShortUsage:  "ngram-build <subcommand> [flags]",
		ShortHelp:   "build and verify expgram repositories",
		Subcommands: []*ffcli.Command{runCmd(), verifyCmd()},
	}

	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

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

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes indexer throughput counters, mirroring eval.go's
// per-package prometheus counter style (query.QueryMetrics does the same
// for the read path).
type Metrics struct {
	RecordsMapped prometheus.Counter
	ShardsWritten prometheus.Counter
	CountModified prometheus.Counter
	OrdersIndexed prometheus.Counter
}

// NewMetrics registers the indexer's counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsMapped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expgram_build_records_mapped_total",
			Help: "Total ngram occurrences resolved and shipped by mapper goroutines.",
		}),
		ShardsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expgram_build_shards_written_total",
			Help: "Total shards successfully written to disk.",
		}),
		CountModified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expgram_build_count_modified_total",
			Help: "Total distinct (context, word) pairs observed across all orders and shards.",
		}),
		OrdersIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expgram_build_orders_indexed_total",
			Help: "Total n-gram orders successfully merged across all shards.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RecordsMapped, m.ShardsWritten, m.CountModified, m.OrdersIndexed)
	}
	return m
}

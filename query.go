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
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// QueryEngine answers logprob(state, word_id) -> (state', logprob) with
// Katz/Kneser-Ney-style backoff (spec.md §4.5): it walks from the
// longest available context down to the unigram level until it finds a
// node that has word_id as a child, accumulating the backoff weight of
// every context it had to abandon along the way.
//
// Unlike the original (which caches a per-position backoff inside the
// state buffer and reuses it incrementally), this implementation always
// recomputes the backoff chain by re-traversing from the root. Order is
// small (almost always <= 8), so the O(order^2) traversal cost is
// negligible next to the simplicity of never having to prove an
// incremental cache stays consistent with the state buffer's contents.
// The state buffer's backoff slots are still populated with real,
// independently meaningful values (see contextBackoffAt) so external
// callers and StateManager.Fill/Copy see a fully specified buffer.
type QueryEngine struct {
	index  *Index
	states *StateManager

	// MinimizeThreshold gates state-length minimization (spec.md §4.5):
	// after a match, the engine drops words from the left of the new
	// context while the logbound at the current context's node is
	// <= MinimizeThreshold. logbound's training-time semantics
	// are out of scope (spec.md §9's Open Question), so the default,
	// very negative threshold effectively disables this beyond the
	// buffer's natural order-1 capacity; callers with a trained model's
	// logbound convention in mind can tighten it.
	MinimizeThreshold float32

	cache *queryCache
}

// NewQueryEngine creates an engine over idx with its cache disabled.
// Call EnableCache to layer an advisory cache on top.
func NewQueryEngine(idx *Index) *QueryEngine {
	return &QueryEngine{
		index:             idx,
		states:            NewStateManager(idx.Order()),
		MinimizeThreshold: negInf32,
	}
}

const negInf32 = float32(-1e38)

// States returns the StateManager this engine's buffers are shaped for.
func (q *QueryEngine) States() *StateManager { return q.states }

// EnableCache layers a bounded, advisory (state, word_id) -> (state',
// logprob) cache over the engine, sized to size entries (spec.md §4.5).
func (q *QueryEngine) EnableCache(size int, metrics *QueryMetrics) {
	q.cache = newQueryCache(size, metrics)
}

// Logprob implements the engine's sole contract: given the caller's
// current state and the next word, return the new state and its
// backed-off log probability. Unknown ids are mapped to <unk> before
// lookup.
func (q *QueryEngine) Logprob(state []byte, wordID WordID) ([]byte, float32) {
	if uint32(wordID) >= q.index.Vocab().Size() {
		wordID = q.index.Vocab().UnkID()
	}

	if q.cache != nil {
		if newState, lp, ok := q.cache.get(state, wordID); ok {
			return newState, lp
		}
	}

	newState, lp := q.logprobUncached(state, wordID)

	if q.cache != nil {
		q.cache.put(state, wordID, newState, lp)
	}
	return newState, lp
}

func (q *QueryEngine) logprobUncached(state []byte, wordID WordID) ([]byte, float32) {
	length := q.states.Length(state)
	ctx := make([]WordID, length, length+1)
	for i := 0; i < length; i++ {
		ctx[i] = q.states.ContextID(state, i)
	}
	full := append(ctx, wordID)

	var accumulated float32
	for start := 0; start <= len(full)-1; start++ {
		suffix := full[start:]
		consumed, shard, pos := q.index.Traverse(suffix)
		if consumed == len(suffix) {
			lp := q.index.LogProb(shard, pos) + accumulated
			return q.buildState(suffix), lp
		}

		// suffix didn't fully match; accumulate the backoff of its
		// context (suffix without the trailing word_id) if that
		// context itself resolves to a node, then shrink from the left.
		ctxOnly := suffix[:len(suffix)-1]
		if len(ctxOnly) > 0 {
			cconsumed, cshard, cpos := q.index.Traverse(ctxOnly)
			if cconsumed == len(ctxOnly) {
				accumulated += q.index.Backoff(cshard, cpos)
			}
		}
	}

	// Every other order failed; fall back to <unk>'s unigram logprob,
	// the engine's base case (the vocabulary's <unk> unigram always
	// exists once the repository is built).
	unk := q.index.Vocab().UnkID()
	_, shard, pos := q.index.Traverse([]WordID{unk})
	return q.buildState([]WordID{unk}), q.index.LogProb(shard, pos) + accumulated
}

// buildState trims ctx to the manager's order-1 capacity, applies
// logbound-driven minimization, and encodes the result into a fresh
// state buffer with a fully populated backoff block.
func (q *QueryEngine) buildState(ctx []WordID) []byte {
	capacity := int(q.states.Order()) - 1
	if len(ctx) > capacity {
		ctx = ctx[len(ctx)-capacity:]
	}

	for len(ctx) > 0 {
		_, shard, pos := q.index.Traverse(ctx)
		if q.index.LogBound(shard, pos) > q.MinimizeThreshold {
			break
		}
		ctx = ctx[1:]
	}

	buf := q.states.NewBuffer()
	q.states.SetLength(buf, len(ctx))
	for i, id := range ctx {
		q.states.SetContextID(buf, i, id)
		q.states.SetBackoffAt(buf, i, q.contextBackoffAt(ctx, i))
	}
	q.states.Fill(buf)
	return buf
}

// contextBackoffAt returns the backoff weight of the node reached by
// using ctx[i:] as a standalone context — the real, independently
// meaningful value for the state buffer's i-th backoff slot.
func (q *QueryEngine) contextBackoffAt(ctx []WordID, i int) float32 {
	consumed, shard, pos := q.index.Traverse(ctx[i:])
	if consumed != len(ctx)-i {
		return 0
	}
	return q.index.Backoff(shard, pos)
}

// QueryMetrics holds the prometheus counters the advisory cache reports
// through, mirroring how zoekt's eval.go exposes query-path counters.
type QueryMetrics struct {
	Hits   prometheus.Counter
	Misses prometheus.Counter
}

// NewQueryMetrics registers and returns a fresh set of counters under
// reg.
func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	m := &QueryMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expgram_query_cache_hits_total",
			Help: "Number of QueryEngine.Logprob calls served from the advisory cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expgram_query_cache_misses_total",
			Help: "Number of QueryEngine.Logprob calls that recomputed via traversal.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses)
	}
	return m
}

type queryCacheEntry struct {
	valid    bool
	key      uint64
	state    []byte
	word     WordID
	newState []byte
	logprob  float32
}

// queryCache is the bounded, power-of-two, overwrite-on-collision cache
// described in spec.md §4.5. A single mutex guards the whole table,
// the same shape zoekt's index/lrucache.go uses, simplified further
// since this cache never evicts — a collision just replaces the slot.
type queryCache struct {
	mu      sync.Mutex
	entries []queryCacheEntry
	mask    uint64
	metrics *QueryMetrics
}

func newQueryCache(size int, metrics *QueryMetrics) *queryCache {
	return &queryCache{entries: make([]queryCacheEntry, size), mask: uint64(size - 1), metrics: metrics}
}

func queryCacheKey(state []byte, word WordID) uint64 {
	h := xxhash.New()
	h.Write(state)
	var b [4]byte
	b[0] = byte(word)
	b[1] = byte(word >> 8)
	b[2] = byte(word >> 16)
	b[3] = byte(word >> 24)
	h.Write(b[:])
	return h.Sum64()
}

func (c *queryCache) get(state []byte, word WordID) ([]byte, float32, bool) {
	key := queryCacheKey(state, word)
	idx := key & c.mask

	c.mu.Lock()
	e := c.entries[idx]
	c.mu.Unlock()

	if e.valid && e.key == key && e.word == word && bytesEqual(e.state, state) {
		if c.metrics != nil {
			c.metrics.Hits.Inc()
		}
		return e.newState, e.logprob, true
	}
	if c.metrics != nil {
		c.metrics.Misses.Inc()
	}
	return nil, 0, false
}

func (c *queryCache) put(state []byte, word WordID, newState []byte, logprob float32) {
	key := queryCacheKey(state, word)
	idx := key & c.mask

	stateCopy := make([]byte, len(state))
	copy(stateCopy, state)

	c.mu.Lock()
	c.entries[idx] = queryCacheEntry{
		valid:    true,
		key:      key,
		state:    stateCopy,
		word:     word,
		newState: newState,
		logprob:  logprob,
	}
	c.mu.Unlock()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

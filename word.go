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

// WordID is a dense 32-bit handle into a Vocabulary. Id 0 is reserved for
// <unk>; <s> and </s> are fixed during vocabulary construction.
type WordID uint32

// NoWord is the "not present" sentinel at API boundaries (id_type(-1) in
// the original), never a valid vocabulary id.
const NoWord = WordID(0xffffffff)

// UnkID is the reserved <unk> word id.
const UnkID = WordID(0)

// NodePos is a global trie node position: unigrams occupy [0, offsets[1])
// with node == id; higher orders occupy [offsets[1], offsets[order]).
type NodePos uint64

// Root is the sentinel "above the unigram level" position (size_type(-1) in
// the original), i.e. the parent of every unigram node.
const Root = NodePos(0xffffffffffffffff)

// Order is an n-gram order: 1 for unigrams, 2 for bigrams, and so on.
type Order int

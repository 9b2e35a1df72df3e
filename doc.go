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

// Package expgram implements a sharded, memory-mapped n-gram language-model
// store: probability lookup with backoff over word contexts, prefix
// traversal of n-gram contexts, and (in the build subpackage) a distributed
// indexer that turns Google Web-1T-style count files into the on-disk
// index this package serves reads from.
package expgram // import "github.com/postfix/expgram"

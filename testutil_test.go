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
	"bytes"
	"fmt"
	"io"
)

// memIndexFile is an in-memory IndexFile for tests, avoiding a real mmap
// and temp file per case.
type memIndexFile struct {
	name string
	data []byte
}

func newMemIndexFile(name string, w io.WriterTo) *memIndexFile {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		panic(err)
	}
	return &memIndexFile{name: name, data: buf.Bytes()}
}

func newMemIndexFileBytes(name string, b []byte) *memIndexFile {
	return &memIndexFile{name: name, data: b}
}

func (f *memIndexFile) Read(off, sz uint32) ([]byte, error) {
	if off+sz > uint32(len(f.data)) {
		return nil, fmt.Errorf("%w: out of bounds read in %s", ErrCorruptedIndex, f.name)
	}
	return f.data[off : off+sz], nil
}

func (f *memIndexFile) Size() (uint32, error) { return uint32(len(f.data)), nil }
func (f *memIndexFile) Close()                {}
func (f *memIndexFile) Name() string          { return f.name }

var _ IndexFile = (*memIndexFile)(nil)

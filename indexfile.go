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
	"fmt"
	"log"
	"os"
	"runtime"

	mmap "github.com/edsrzf/mmap-go"
)

// maxFileSize bounds files readable through a 32-bit offset/size pair.
const maxFileSize = 1 << 32

// IndexFile is a file suitable for concurrent read access by many reader
// threads. Implementations are expected to be backed by a memory map so
// that Read is O(1) modulo page faults.
type IndexFile interface {
	Read(off, sz uint32) ([]byte, error)
	Size() (uint32, error)
	Close()
	Name() string
}

type mmapedIndexFile struct {
	name string
	size uint32
	data mmap.MMap
}

func (f *mmapedIndexFile) Read(off, sz uint32) ([]byte, error) {
	if off > off+sz || off+sz > uint32(len(f.data)) {
		return nil, fmt.Errorf("%w: out of bounds %d (len %d, file %s)", ErrCorruptedIndex, off+sz, len(f.data), f.name)
	}
	return f.data[off : off+sz], nil
}

func (f *mmapedIndexFile) Name() string { return f.name }

func (f *mmapedIndexFile) Size() (uint32, error) { return f.size, nil }

func (f *mmapedIndexFile) Close() {
	if err := f.data.Unmap(); err != nil {
		log.Printf("expgram: WARN failed to unmap %s: %v", f.name, err)
	}
}

func mmapBufferSize(size uint32) int {
	bsize := int(size)
	if runtime.GOOS != "windows" {
		pagesize := os.Getpagesize() - 1
		bsize = (bsize + pagesize) &^ pagesize
	}
	return bsize
}

// OpenIndexFile memory-maps f read-only and takes ownership of it: f is
// closed before OpenIndexFile returns, successfully or not.
func OpenIndexFile(f *os.File) (IndexFile, error) {
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	sz := fi.Size()
	if sz >= maxFileSize {
		return nil, fmt.Errorf("%w: file %s too large (%d bytes)", ErrCorruptedIndex, f.Name(), sz)
	}

	r := &mmapedIndexFile{name: f.Name(), size: uint32(sz)}
	r.data, err = mmap.MapRegion(f, mmapBufferSize(r.size), mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrIOFailure, f.Name(), err)
	}
	return r, nil
}

// OpenIndexFilePath opens and memory-maps the file at path.
func OpenIndexFilePath(path string) (IndexFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return OpenIndexFile(f)
}

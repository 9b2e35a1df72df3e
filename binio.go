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
	"encoding/binary"
	"fmt"
)

// fileReader is a stateful cursor over an IndexFile, mirroring zoekt's
// internal reader type. Every on-disk artifact in this package (packed
// int arrays, succinct bit vectors, the vocabulary table) is a small,
// self-contained file: a fixed header read with this type, followed by a
// payload read directly off the memory map.
type fileReader struct {
	r   IndexFile
	off uint32
}

func newFileReader(r IndexFile) *fileReader { return &fileReader{r: r} }

func (r *fileReader) seek(off uint32) { r.off = off }

func (r *fileReader) u32() (uint32, error) {
	b, err := r.r.Read(r.off, 4)
	r.off += 4
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *fileReader) u64() (uint64, error) {
	b, err := r.r.Read(r.off, 8)
	r.off += 8
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *fileReader) blob(sz uint32) ([]byte, error) {
	b, err := r.r.Read(r.off, sz)
	r.off += sz
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return b, nil
}

// headerWriter accumulates a fixed header followed by a payload, the
// mirror image of fileReader, used by every Sink/Writer type below.
type headerWriter struct {
	buf []byte
}

func (w *headerWriter) putU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *headerWriter) putU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *headerWriter) putBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *headerWriter) Bytes() []byte { return w.buf }

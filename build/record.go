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

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/postfix/expgram"
)

// record is one (ngram, count) occurrence a mapper has resolved against
// the vocabulary, the unit of work shipped to a reducer over a TagCount
// message.
type record struct {
	IDs   []expgram.WordID
	Count uint64
}

// encodeRecords packs a batch as [n uint32][len uint32, ids uint32*, count
// uint64]*, little-endian throughout. This is new wire shape (the
// original ships raw escaped word tokens over its mpi_device streams);
// shipping already-resolved ids keeps the reducer from having to touch
// the vocabulary at all.
func encodeRecords(recs []record) []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(recs)))
	buf.Write(hdr[:])
	for _, r := range recs {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(r.IDs)))
		buf.Write(n[:])
		for _, id := range r.IDs {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(id))
			buf.Write(b[:])
		}
		var c [8]byte
		binary.LittleEndian.PutUint64(c[:], r.Count)
		buf.Write(c[:])
	}
	return buf.Bytes()
}

func decodeRecords(data []byte) ([]record, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("expgram/build: truncated record batch")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	recs := make([]record, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("expgram/build: truncated record %d", i)
		}
		idLen := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		need := int(idLen)*4 + 8
		if len(data) < need {
			return nil, fmt.Errorf("expgram/build: truncated record %d body", i)
		}
		ids := make([]expgram.WordID, idLen)
		for j := range ids {
			ids[j] = expgram.WordID(binary.LittleEndian.Uint32(data[j*4:]))
		}
		data = data[idLen*4:]
		count := binary.LittleEndian.Uint64(data[:8])
		data = data[8:]
		recs = append(recs, record{IDs: ids, Count: count})
	}
	return recs, nil
}

// sendRecords zlib-frames an encoded batch and sends it as TagCount,
// mirroring the original's count_tag payload.
func sendRecords(ch Channel, recs []record) error {
	if len(recs) == 0 {
		return nil
	}
	framed, err := zlibFrame(encodeRecords(recs))
	if err != nil {
		return err
	}
	return ch.Send(Message{Tag: TagCount, Payload: framed})
}

func recvRecords(ch Channel) ([]record, error) {
	msg, err := ch.Recv()
	if err != nil {
		return nil, err
	}
	if msg.Tag != TagCount {
		return nil, fmt.Errorf("expgram/build: expected %s, got %s", TagCount, msg.Tag)
	}
	raw, err := zlibUnframe(msg.Payload)
	if err != nil {
		return nil, err
	}
	return decodeRecords(raw)
}

// recordKey encodes a context (all but the last id of an ngram) into a
// comparable map key, used by the reducer to group children by parent.
func recordKey(ids []expgram.WordID) string {
	b := make([]byte, len(ids)*4)
	for i, id := range ids {
		binary.LittleEndian.PutUint32(b[i*4:], uint32(id))
	}
	return string(b)
}

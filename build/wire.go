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

// Package build implements the distributed n-gram indexer (spec.md §4.7):
// a root rank bootstraps the vocabulary and unigram counts, mapper ranks
// stream ngram occurrences from Google Web-1T input files, and reducer
// ranks merge those streams into the packed trie arrays expgram.WriteShard
// consumes.
//
// original_source/progs/expgram_counts_index_mpi.cpp spawns mapper and
// reducer processes over MPI and ships data between them with rank-
// addressed sends tagged count_tag/file_tag/size_tag. spec.md treats that
// process-launching and message-transport layer as an external
// collaborator, so this package models it as the Channel interface below
// and, by default, satisfies it with goroutines talking over Go channels
// (RunLocal) rather than an actual MPI runtime.
package build

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Tag identifies the kind of payload carried by a Channel message, the
// Go analogue of the original's count_tag/file_tag/size_tag enum.
type Tag int

const (
	// TagCount carries a batch of encoded ngram records from a mapper
	// to a reducer.
	TagCount Tag = iota
	// TagFiles carries a round-robin slice of input file paths from
	// the root mapper to another mapper rank.
	TagFiles
	// TagSize carries a single count (the bootstrap unigram size, or a
	// per-order file count) broadcast from the root rank.
	TagSize
)

func (t Tag) String() string {
	switch t {
	case TagCount:
		return "COUNT"
	case TagFiles:
		return "FILES"
	case TagSize:
		return "SIZE"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

// Message is one frame exchanged over a Channel.
type Message struct {
	Tag     Tag
	Payload []byte
}

// Channel is a generic rank-addressed bidirectional byte channel (spec.md
// §6): the indexer only needs Send/Recv/Close, never caring whether the
// other end is a goroutine, a pipe, or a real network socket.
type Channel interface {
	Send(msg Message) error
	Recv() (Message, error)
	Close() error
}

// errChannelClosed is returned by Recv once the peer has closed its end
// and every buffered message has been drained.
var errChannelClosed = fmt.Errorf("expgram/build: channel closed")

// chanChannel is the in-process Channel implementation RunLocal uses:
// one direction of a rank pair, backed by a buffered Go channel.
type chanChannel struct {
	send   chan<- Message
	recv   <-chan Message
	closed chan struct{}
}

// NewChannelPair returns two Channels wired to each other, standing in
// for one MPI intercomm pair. Closing either side's Send half lets the
// other side's Recv drain remaining messages before returning
// errChannelClosed.
func NewChannelPair(buffer int) (a, b Channel) {
	ab := make(chan Message, buffer)
	ba := make(chan Message, buffer)
	return &chanChannel{send: ab, recv: ba, closed: make(chan struct{})},
		&chanChannel{send: ba, recv: ab, closed: make(chan struct{})}
}

func (c *chanChannel) Send(msg Message) error {
	select {
	case <-c.closed:
		return fmt.Errorf("expgram/build: send on closed channel")
	default:
	}
	c.send <- msg
	return nil
}

func (c *chanChannel) Recv() (Message, error) {
	msg, ok := <-c.recv
	if !ok {
		return Message{}, errChannelClosed
	}
	return msg, nil
}

func (c *chanChannel) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
		close(c.send)
	}
	return nil
}

// zlibFrame compresses payload the way the original pushes a
// boost::iostreams::zlib_compressor in front of the mpi_device sink
// (index_ngram_mapper_root): every COUNT/FILES payload on the wire is
// zlib-framed so the in-process transport costs the same bytes a real
// network one would.
func zlibFrame(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zlibUnframe(frame []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// sendFiles zlib-frames a newline-joined file list and sends it as a
// single TagFiles message, the in-process analogue of the original's
// per-rank zlib_compressor stream of file paths.
func sendFiles(ch Channel, files []string) error {
	var buf bytes.Buffer
	for _, f := range files {
		buf.WriteString(f)
		buf.WriteByte('\n')
	}
	framed, err := zlibFrame(buf.Bytes())
	if err != nil {
		return err
	}
	return ch.Send(Message{Tag: TagFiles, Payload: framed})
}

func recvFiles(ch Channel) ([]string, error) {
	msg, err := ch.Recv()
	if err != nil {
		return nil, err
	}
	if msg.Tag != TagFiles {
		return nil, fmt.Errorf("expgram/build: expected %s, got %s", TagFiles, msg.Tag)
	}
	raw, err := zlibUnframe(msg.Payload)
	if err != nil {
		return nil, err
	}
	var files []string
	start := 0
	for i, b := range raw {
		if b == '\n' {
			if i > start {
				files = append(files, string(raw[start:i]))
			}
			start = i + 1
		}
	}
	return files, nil
}

// sendSize ships a single int (the bootstrap unigram size, or an
// order's file count) as a TagSize message, mirroring size_tag.
func sendSize(ch Channel, n int) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return ch.Send(Message{Tag: TagSize, Payload: b[:]})
}

func recvSize(ch Channel) (int, error) {
	msg, err := ch.Recv()
	if err != nil {
		return 0, err
	}
	if msg.Tag != TagSize {
		return 0, fmt.Errorf("expgram/build: expected %s, got %s", TagSize, msg.Tag)
	}
	if len(msg.Payload) != 8 {
		return 0, fmt.Errorf("expgram/build: malformed %s payload", TagSize)
	}
	return int(binary.LittleEndian.Uint64(msg.Payload)), nil
}

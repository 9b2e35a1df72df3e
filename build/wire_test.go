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
	"testing"

	"github.com/postfix/expgram"
)

func TestChannelPairSendRecv(t *testing.T) {
	a, b := NewChannelPair(4)

	want := Message{Tag: TagSize, Payload: []byte{1, 2, 3}}
	if err := a.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Tag != want.Tag || string(got.Payload) != string(want.Payload) {
		t.Errorf("Recv() = %+v, want %+v", got, want)
	}

	a.Close()
	if _, err := b.Recv(); err != errChannelClosed {
		t.Errorf("Recv() after close = %v, want errChannelClosed", err)
	}
}

func TestSendRecvFiles(t *testing.T) {
	a, b := NewChannelPair(1)
	files := []string{"a.gz", "b.gz", "c.gz"}
	if err := sendFiles(a, files); err != nil {
		t.Fatalf("sendFiles: %v", err)
	}
	got, err := recvFiles(b)
	if err != nil {
		t.Fatalf("recvFiles: %v", err)
	}
	if len(got) != len(files) {
		t.Fatalf("recvFiles() = %v, want %v", got, files)
	}
	for i := range files {
		if got[i] != files[i] {
			t.Errorf("file[%d] = %q, want %q", i, got[i], files[i])
		}
	}
}

func TestSendRecvSize(t *testing.T) {
	a, b := NewChannelPair(1)
	if err := sendSize(a, 42); err != nil {
		t.Fatalf("sendSize: %v", err)
	}
	got, err := recvSize(b)
	if err != nil {
		t.Fatalf("recvSize: %v", err)
	}
	if got != 42 {
		t.Errorf("recvSize() = %d, want 42", got)
	}
}

func TestSendRecvRecords(t *testing.T) {
	a, b := NewChannelPair(1)
	recs := []record{
		{IDs: []expgram.WordID{3, 4}, Count: 7},
		{IDs: []expgram.WordID{3, 5}, Count: 2},
	}
	if err := sendRecords(a, recs); err != nil {
		t.Fatalf("sendRecords: %v", err)
	}
	got, err := recvRecords(b)
	if err != nil {
		t.Fatalf("recvRecords: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("recvRecords() returned %d records, want %d", len(got), len(recs))
	}
	for i, r := range recs {
		if got[i].Count != r.Count {
			t.Errorf("record[%d].Count = %d, want %d", i, got[i].Count, r.Count)
		}
		for j, id := range r.IDs {
			if got[i].IDs[j] != id {
				t.Errorf("record[%d].IDs[%d] = %d, want %d", i, j, got[i].IDs[j], id)
			}
		}
	}
}

func TestRecordKeyRoundTrip(t *testing.T) {
	ids := []expgram.WordID{7, 9, 11}
	key := recordKey(ids)
	got := idsFromKey(key)
	if len(got) != len(ids) {
		t.Fatalf("idsFromKey() = %v, want %v", got, ids)
	}
	for i, id := range ids {
		if got[i] != id {
			t.Errorf("idsFromKey()[%d] = %d, want %d", i, got[i], id)
		}
	}
}

func TestDistributeFiles(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e"}
	shares := distributeFiles(files, 2)
	if len(shares) != 2 {
		t.Fatalf("distributeFiles() returned %d shares, want 2", len(shares))
	}
	want := [][]string{{"a", "c", "e"}, {"b", "d"}}
	for i := range want {
		if len(shares[i]) != len(want[i]) {
			t.Fatalf("share[%d] = %v, want %v", i, shares[i], want[i])
		}
		for j := range want[i] {
			if shares[i][j] != want[i][j] {
				t.Errorf("share[%d][%d] = %q, want %q", i, j, shares[i][j], want[i][j])
			}
		}
	}
}

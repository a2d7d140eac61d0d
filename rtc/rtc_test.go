//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package rtc

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestLatchConsumeOnce(t *testing.T) {
	l := NewLatch(NewMemRTC(64))

	pending, err := l.ConsumeIfSet()
	if err != nil {
		t.Fatalf("ConsumeIfSet: %v", err)
	}
	if pending {
		t.Errorf("latch pending on fresh memory")
	}

	if err := l.Request(true); err != nil {
		t.Fatalf("Request: %v", err)
	}
	pending, err = l.ConsumeIfSet()
	if err != nil {
		t.Fatalf("ConsumeIfSet: %v", err)
	}
	if !pending {
		t.Errorf("armed latch not pending")
	}

	// Consumed exactly once: the next boot sees nothing.
	pending, err = l.ConsumeIfSet()
	if err != nil {
		t.Fatalf("ConsumeIfSet: %v", err)
	}
	if pending {
		t.Errorf("latch pending after consume")
	}
}

func TestLatchDisarm(t *testing.T) {
	l := NewLatch(NewMemRTC(64))
	if err := l.Request(true); err != nil {
		t.Fatalf("Request(true): %v", err)
	}
	if err := l.Request(false); err != nil {
		t.Fatalf("Request(false): %v", err)
	}
	pending, err := l.ConsumeIfSet()
	if err != nil {
		t.Fatalf("ConsumeIfSet: %v", err)
	}
	if pending {
		t.Errorf("disarmed latch still pending")
	}
}

func TestLatchIgnoresGarbage(t *testing.T) {
	mem := NewMemRTC(64)
	// Random residue in the latch word must not trigger a reset.
	if err := mem.WriteWord(LatchOffset, 0xdeadbeef); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	pending, err := NewLatch(mem).ConsumeIfSet()
	if err != nil {
		t.Fatalf("ConsumeIfSet: %v", err)
	}
	if pending {
		t.Errorf("garbage word read as a pending reset")
	}
}

func TestMemRTCRange(t *testing.T) {
	m := NewMemRTC(4)
	if _, err := m.ReadWord(4); err == nil {
		t.Errorf("expected error for out of range read")
	}
	if err := m.WriteWord(-1, 0); err == nil {
		t.Errorf("expected error for out of range write")
	}
}

func TestFileRTCPersistence(t *testing.T) {
	td, err := ioutil.TempDir("", "rtc_test_")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	defer os.RemoveAll(td)
	fname := filepath.Join(td, "rtc.bin")

	l := NewLatch(NewFileRTC(fname, 64))
	if err := l.Request(true); err != nil {
		t.Fatalf("Request: %v", err)
	}

	// A fresh instance over the same file sees the pending reset.
	l2 := NewLatch(NewFileRTC(fname, 64))
	pending, err := l2.ConsumeIfSet()
	if err != nil {
		t.Fatalf("ConsumeIfSet: %v", err)
	}
	if !pending {
		t.Errorf("latch state did not survive reopen")
	}
	if pending, _ := l2.ConsumeIfSet(); pending {
		t.Errorf("latch pending after consume")
	}
}

func TestFileRTCMissingFileReadsZero(t *testing.T) {
	td, err := ioutil.TempDir("", "rtc_test_")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	defer os.RemoveAll(td)

	f := NewFileRTC(filepath.Join(td, "nope.bin"), 8)
	v, err := f.ReadWord(3)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if v != 0 {
		t.Errorf("missing file word: got 0x%x, want 0", v)
	}
}

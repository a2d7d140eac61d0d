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

// Package rtc models the small reset-surviving memory region the boot
// loader keeps its warm-boot flags in, and the factory reset latch stored
// there.
package rtc

import (
	"encoding/binary"
	"io/ioutil"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Memory is word-addressed storage that survives warm resets but not power
// loss. Offsets are in words.
type Memory interface {
	ReadWord(offset int) (uint32, error)
	WriteWord(offset int, v uint32) error
}

const (
	// reservedWords is the boot loader's own RTC area; the factory reset
	// latch lives immediately after it to avoid overlap.
	reservedWords = 32

	// LatchOffset is the word holding the factory reset request.
	LatchOffset = reservedWords

	// latchMagic marks a pending factory reset; anything else means none.
	latchMagic = 0x1ac3f5e7
)

// Latch is the factory reset request flag: set at runtime, consumed exactly
// once by the boot dispatcher on the next boot.
type Latch struct {
	mem Memory
}

func NewLatch(mem Memory) *Latch {
	return &Latch{mem: mem}
}

// Request arms (or disarms) the factory reset. Takes effect on the next
// boot, not immediately.
func (l *Latch) Request(enable bool) error {
	v := uint32(0)
	if enable {
		v = latchMagic
	}
	glog.V(1).Infof("factory reset latch <- 0x%08x", v)
	return errors.Trace(l.mem.WriteWord(LatchOffset, v))
}

// ConsumeIfSet reads the latch and clears it, reporting whether a reset was
// pending. Called exactly once per boot.
func (l *Latch) ConsumeIfSet() (bool, error) {
	v, err := l.mem.ReadWord(LatchOffset)
	if err != nil {
		return false, errors.Annotatef(err, "failed to read factory reset latch")
	}
	if v != latchMagic {
		return false, nil
	}
	if err := l.mem.WriteWord(LatchOffset, 0); err != nil {
		return false, errors.Annotatef(err, "failed to clear factory reset latch")
	}
	return true, nil
}

// MemRTC is an in-memory Memory for tests.
type MemRTC struct {
	words []uint32
}

func NewMemRTC(numWords int) *MemRTC {
	return &MemRTC{words: make([]uint32, numWords)}
}

func (m *MemRTC) ReadWord(offset int) (uint32, error) {
	if offset < 0 || offset >= len(m.words) {
		return 0, errors.Errorf("rtc word %d out of range (%d words)", offset, len(m.words))
	}
	return m.words[offset], nil
}

func (m *MemRTC) WriteWord(offset int, v uint32) error {
	if offset < 0 || offset >= len(m.words) {
		return errors.Errorf("rtc word %d out of range (%d words)", offset, len(m.words))
	}
	m.words[offset] = v
	return nil
}

// FileRTC keeps the words in a sidecar file so the simulator CLI can carry
// latch state across invocations. A missing file reads as all zeroes.
type FileRTC struct {
	fname string
	size  int
}

func NewFileRTC(fname string, numWords int) *FileRTC {
	return &FileRTC{fname: fname, size: numWords}
}

func (f *FileRTC) load() ([]uint32, error) {
	words := make([]uint32, f.size)
	data, err := ioutil.ReadFile(f.fname)
	if os.IsNotExist(err) {
		return words, nil
	} else if err != nil {
		return nil, errors.Annotatef(err, "failed to read rtc file %s", f.fname)
	}
	for i := 0; i < len(words) && (i+1)*4 <= len(data); i++ {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words, nil
}

func (f *FileRTC) ReadWord(offset int) (uint32, error) {
	if offset < 0 || offset >= f.size {
		return 0, errors.Errorf("rtc word %d out of range (%d words)", offset, f.size)
	}
	words, err := f.load()
	if err != nil {
		return 0, errors.Trace(err)
	}
	return words[offset], nil
}

func (f *FileRTC) WriteWord(offset int, v uint32) error {
	if offset < 0 || offset >= f.size {
		return errors.Errorf("rtc word %d out of range (%d words)", offset, f.size)
	}
	words, err := f.load()
	if err != nil {
		return errors.Trace(err)
	}
	words[offset] = v
	data := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	if err := ioutil.WriteFile(f.fname, data, 0644); err != nil {
		return errors.Annotatef(err, "failed to write rtc file %s", f.fname)
	}
	return nil
}

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
package flash

import (
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// MemDevice is an in-memory Device with NOR semantics: erase sets a sector
// to 0xff, writes can only clear bits. Out-of-range accesses and injected
// faults surface as the usual primitive errors, which makes it suitable for
// exercising the failure paths of the boot loader core on a host.
type MemDevice struct {
	mem []byte

	// Fault injection: when non-nil, the matching operation fails.
	FailRead  func(addr uint32, n int) bool
	FailWrite func(addr uint32, n int) bool
	FailErase func(sector int) bool

	// EraseCounts tracks how many times each sector was erased.
	EraseCounts map[int]int
}

// NewMemDevice creates a device of the given size with all cells erased.
func NewMemDevice(size int) *MemDevice {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xff
	}
	return &MemDevice{mem: mem, EraseCounts: make(map[int]int)}
}

func (d *MemDevice) Size() int {
	return len(d.mem)
}

func (d *MemDevice) Read(addr uint32, buf []byte) error {
	if d.FailRead != nil && d.FailRead(addr, len(buf)) {
		return errors.Annotatef(ErrRead, "%d @ 0x%x", len(buf), addr)
	}
	if int(addr)+len(buf) > len(d.mem) {
		return errors.Annotatef(ErrRead, "%d @ 0x%x: out of range", len(buf), addr)
	}
	copy(buf, d.mem[addr:int(addr)+len(buf)])
	return nil
}

func (d *MemDevice) Write(addr uint32, data []byte) error {
	if d.FailWrite != nil && d.FailWrite(addr, len(data)) {
		return errors.Annotatef(ErrWrite, "%d @ 0x%x", len(data), addr)
	}
	if int(addr)+len(data) > len(d.mem) {
		return errors.Annotatef(ErrWrite, "%d @ 0x%x: out of range", len(data), addr)
	}
	glog.V(2).Infof("write %d @ 0x%x", len(data), addr)
	for i, b := range data {
		// Programming can only turn 1 bits into 0.
		d.mem[int(addr)+i] &= b
	}
	return nil
}

func (d *MemDevice) EraseSector(sector int) error {
	if d.FailErase != nil && d.FailErase(sector) {
		return errors.Annotatef(ErrErase, "sector %d", sector)
	}
	begin := sector * SectorSize
	if sector < 0 || begin+SectorSize > len(d.mem) {
		return errors.Annotatef(ErrErase, "sector %d: out of range", sector)
	}
	glog.V(2).Infof("erase sector %d", sector)
	for i := begin; i < begin+SectorSize; i++ {
		d.mem[i] = 0xff
	}
	d.EraseCounts[sector]++
	return nil
}

// Bytes returns the raw contents, for test assertions.
func (d *MemDevice) Bytes() []byte {
	return d.mem
}

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
package bootcfg

import (
	"testing"

	"github.com/juju/errors"

	"github.com/rboot-os/rboot/flash"
)

const testFlashSize = 0x100000

func newTestStore(t *testing.T) (*Store, *flash.MemDevice) {
	t.Helper()
	dev := flash.NewMemDevice(testFlashSize)
	s := NewStore(dev)
	if err := s.WriteDefault(testFlashSize); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	return s, dev
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig(testFlashSize)
	if c.SlotCount != 2 {
		t.Errorf("slot count: got %d, want 2", c.SlotCount)
	}
	if c.CurrentSlot != 0 {
		t.Errorf("current slot: got %d, want 0", c.CurrentSlot)
	}
	if want := uint32(flash.SectorSize * (ConfigSector + 1)); c.Slots[0] != want {
		t.Errorf("slot 0: got 0x%x, want 0x%x", c.Slots[0], want)
	}
	if want := uint32(testFlashSize/2 + flash.SectorSize*(ConfigSector+1)); c.Slots[1] != want {
		t.Errorf("slot 1: got 0x%x, want 0x%x", c.Slots[1], want)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	cfg := &Config{SlotCount: 3, CurrentSlot: 2}
	cfg.Slots[0] = 0x2000
	cfg.Slots[1] = 0x80000
	cfg.Slots[2] = 0xc0000
	if err := s.Write(cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *cfg {
		t.Errorf("round trip: got %+v, want %+v", got, cfg)
	}
}

func TestSelectSlot(t *testing.T) {
	s, _ := newTestStore(t)

	for _, slot := range []uint8{1, 0, 1} {
		if err := s.SelectSlot(slot); err != nil {
			t.Fatalf("SelectSlot(%d): %v", slot, err)
		}
		got, err := s.CurrentSlot()
		if err != nil {
			t.Fatalf("CurrentSlot: %v", err)
		}
		if got != slot {
			t.Errorf("current slot: got %d, want %d", got, slot)
		}
	}
}

func TestSelectSlotOutOfRange(t *testing.T) {
	s, _ := newTestStore(t)
	before, err := s.CurrentSlot()
	if err != nil {
		t.Fatalf("CurrentSlot: %v", err)
	}

	for _, slot := range []uint8{2, 3, 255} {
		err := s.SelectSlot(slot)
		if errors.Cause(err) != ErrSlotOutOfRange {
			t.Errorf("SelectSlot(%d): got %v, want ErrSlotOutOfRange", slot, err)
		}
	}

	// A failed select must not change the boot target.
	after, err := s.CurrentSlot()
	if err != nil {
		t.Fatalf("CurrentSlot: %v", err)
	}
	if after != before {
		t.Errorf("current slot changed: %d -> %d", before, after)
	}
}

func TestSelectSlotRewritesWholeSector(t *testing.T) {
	s, dev := newTestStore(t)
	if err := s.SelectSlot(1); err != nil {
		t.Fatalf("SelectSlot: %v", err)
	}
	// Config sector erased once by WriteDefault, once by SelectSlot.
	if got := dev.EraseCounts[ConfigSector]; got != 2 {
		t.Errorf("config sector erases: got %d, want 2", got)
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	s, dev := newTestStore(t)

	// Flip bits in the stored record; the checksum must catch it. Only
	// 1->0 transitions are possible without an erase, which is exactly
	// what partial power-loss damage looks like.
	if err := dev.Write(ConfigSector*flash.SectorSize+3, []byte{0x00}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := s.Load()
	if errors.Cause(err) != ErrCorrupt {
		t.Errorf("Load of damaged record: got %v, want ErrCorrupt", err)
	}

	// An erased sector (interrupted rewrite) is also corrupt.
	if err := dev.EraseSector(ConfigSector); err != nil {
		t.Fatalf("erase: %v", err)
	}
	_, err = s.Load()
	if errors.Cause(err) != ErrCorrupt {
		t.Errorf("Load of erased record: got %v, want ErrCorrupt", err)
	}
}

func TestSlotAddress(t *testing.T) {
	c := DefaultConfig(testFlashSize)
	if _, err := c.SlotAddress(1); err != nil {
		t.Errorf("SlotAddress(1): %v", err)
	}
	if _, err := c.SlotAddress(2); errors.Cause(err) != ErrSlotOutOfRange {
		t.Errorf("SlotAddress(2): got %v, want ErrSlotOutOfRange", err)
	}
}

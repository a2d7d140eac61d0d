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

// Package bootcfg owns the persisted boot configuration record: which image
// slots exist and which one boots next. The record occupies a single flash
// sector and is always rewritten whole, erase first.
package bootcfg

import (
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/rboot-os/rboot/flash"
)

const (
	// MaxSlots is the number of slot address entries in the record.
	MaxSlots = 4

	// ConfigSector is the default sector holding the record, right after
	// the boot loader itself.
	ConfigSector = 1

	configMagic   = 0xe1
	configVersion = 0x01
	chksumInit    = 0xef

	// record layout: magic, version, currentSlot, slotCount, 4 reserved
	// bytes, MaxSlots addresses, checksum.
	recordSize = 8 + 4*MaxSlots + 1
)

var (
	// ErrSlotOutOfRange is returned when a slot index is not backed by the
	// freshly loaded record.
	ErrSlotOutOfRange = errors.New("slot out of range")

	// ErrCorrupt is returned by Load when the record fails the magic,
	// version or checksum test. Callers are expected to rewrite defaults.
	ErrCorrupt = errors.New("boot config corrupt")
)

// Config is the in-memory form of the record.
type Config struct {
	SlotCount   uint8
	CurrentSlot uint8
	Slots       [MaxSlots]uint32
}

// SlotAddress resolves a slot index to its flash address.
func (c *Config) SlotAddress(slot uint8) (uint32, error) {
	if slot >= c.SlotCount {
		return 0, errors.Annotatef(ErrSlotOutOfRange, "slot %d, have %d", slot, c.SlotCount)
	}
	return c.Slots[slot], nil
}

func (c *Config) marshal() []byte {
	buf := make([]byte, recordSize)
	buf[0] = configMagic
	buf[1] = configVersion
	buf[2] = c.CurrentSlot
	buf[3] = c.SlotCount
	for i, addr := range c.Slots {
		binary.LittleEndian.PutUint32(buf[8+4*i:], addr)
	}
	buf[recordSize-1] = chksum(buf[:recordSize-1])
	return buf
}

func (c *Config) unmarshal(buf []byte) error {
	if len(buf) < recordSize {
		return errors.Errorf("short boot config record: %d bytes", len(buf))
	}
	if buf[0] != configMagic || buf[1] != configVersion {
		return errors.Annotatef(ErrCorrupt, "bad magic/version 0x%02x/0x%02x", buf[0], buf[1])
	}
	if got, want := buf[recordSize-1], chksum(buf[:recordSize-1]); got != want {
		return errors.Annotatef(ErrCorrupt, "checksum 0x%02x, want 0x%02x", got, want)
	}
	c.CurrentSlot = buf[2]
	c.SlotCount = buf[3]
	for i := range c.Slots {
		c.Slots[i] = binary.LittleEndian.Uint32(buf[8+4*i:])
	}
	return nil
}

func chksum(data []byte) byte {
	cs := byte(chksumInit)
	for _, b := range data {
		cs ^= b
	}
	return cs
}

// Store reads and rewrites the record on a flash device.
type Store struct {
	dev    flash.Device
	sector int
}

// NewStore binds a store to the default config sector.
func NewStore(dev flash.Device) *Store {
	return NewStoreAt(dev, ConfigSector)
}

// NewStoreAt binds a store to a specific config sector.
func NewStoreAt(dev flash.Device, sector int) *Store {
	return &Store{dev: dev, sector: sector}
}

func (s *Store) addr() uint32 {
	return uint32(s.sector) * flash.SectorSize
}

// Load reads the record. Beyond the magic/version/checksum test no
// validation is done here; callers validate CurrentSlot < SlotCount before
// trusting it.
func (s *Store) Load() (*Config, error) {
	buf := make([]byte, recordSize)
	if err := s.dev.Read(s.addr(), buf); err != nil {
		return nil, errors.Annotatef(err, "failed to read boot config")
	}
	var c Config
	if err := c.unmarshal(buf); err != nil {
		return nil, errors.Trace(err)
	}
	return &c, nil
}

// CurrentSlot is a convenience wrapper around Load.
func (s *Store) CurrentSlot() (uint8, error) {
	c, err := s.Load()
	if err != nil {
		return 0, errors.Trace(err)
	}
	return c.CurrentSlot, nil
}

// Write erases the config sector and rewrites the full record. The
// erase-then-write pair is not atomic with respect to power loss; a cut
// between the two leaves the sector all-ones until the next write.
func (s *Store) Write(c *Config) error {
	if err := s.dev.EraseSector(s.sector); err != nil {
		return errors.Annotatef(err, "failed to erase boot config sector")
	}
	if err := s.dev.Write(s.addr(), c.marshal()); err != nil {
		return errors.Annotatef(err, "failed to write boot config")
	}
	glog.V(1).Infof("boot config: slot %d of %d", c.CurrentSlot, c.SlotCount)
	return nil
}

// SelectSlot makes the given slot the boot target. The slot is validated
// against the freshly reloaded record, never against stale caller state.
func (s *Store) SelectSlot(slot uint8) error {
	c, err := s.Load()
	if err != nil {
		return errors.Trace(err)
	}
	if slot >= c.SlotCount {
		return errors.Annotatef(ErrSlotOutOfRange, "slot %d, have %d", slot, c.SlotCount)
	}
	c.CurrentSlot = slot
	return errors.Trace(s.Write(c))
}

// DefaultConfig computes the standard two-slot layout for the given flash
// size: slot 0 right after the config sector, slot 1 mirrored in the upper
// half.
func DefaultConfig(flashSize int) *Config {
	c := &Config{
		SlotCount:   2,
		CurrentSlot: 0,
	}
	c.Slots[0] = flash.SectorSize * (ConfigSector + 1)
	c.Slots[1] = uint32(flashSize/2) + flash.SectorSize*(ConfigSector+1)
	return c
}

// WriteDefault writes the computed default layout, used on first boot, on
// factory reset and when the record is found corrupted.
func (s *Store) WriteDefault(flashSize int) error {
	glog.Infof("writing default boot config for %d bytes of flash", flashSize)
	return errors.Trace(s.Write(DefaultConfig(flashSize)))
}

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
package main

import (
	"io/ioutil"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/rboot-os/rboot/bootcfg"
	"github.com/rboot-os/rboot/cli/ourutil"
	"github.com/rboot-os/rboot/flash"
)

// layoutFile is the YAML form of a custom slot layout, e.g.:
//
//	current: 0
//	slots:
//	  - 0x2000
//	  - 0x82000
type layoutFile struct {
	Current uint8    `yaml:"current"`
	Slots   []uint32 `yaml:"slots"`
}

// parseLayout turns a YAML layout into a config record, rejecting slot
// addresses that are not sector aligned or do not fit in the image. An
// unaligned slot would make the updater's first-sector erase reach data
// that shares the sector.
func parseLayout(data []byte, flashSize int) (*bootcfg.Config, error) {
	var lf layoutFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, errors.Annotatef(err, "failed to parse layout")
	}
	if len(lf.Slots) == 0 || len(lf.Slots) > bootcfg.MaxSlots {
		return nil, errors.Errorf("layout must name between 1 and %d slots", bootcfg.MaxSlots)
	}
	if int(lf.Current) >= len(lf.Slots) {
		return nil, errors.Errorf("current slot %d out of range", lf.Current)
	}
	for i, a := range lf.Slots {
		if a%flash.SectorSize != 0 {
			return nil, errors.Errorf("slot %d address 0x%x is not sector aligned (%d)",
				i, a, flash.SectorSize)
		}
		if a >= uint32(flashSize) {
			return nil, errors.Errorf("slot %d address 0x%x is outside the image (size %d)",
				i, a, flashSize)
		}
	}
	cfg := &bootcfg.Config{SlotCount: uint8(len(lf.Slots)), CurrentSlot: lf.Current}
	copy(cfg.Slots[:], lf.Slots)
	return cfg, nil
}

// sizeNibble is the inverse of the boot-time size probe: the flags2 high
// nibble encoding the given capacity.
func sizeNibble(size int) byte {
	switch size {
	case 0x40000:
		return 1
	case 0x80000:
		return 0
	case 0x100000:
		return 2
	case 0x200000:
		return 3
	case 0x400000:
		return 4
	case 0x800000:
		return 8
	case 0x1000000:
		return 9
	}
	return 0
}

func provision() error {
	dev, err := flash.CreateFileDevice(*imageFile, *flashSize)
	if err != nil {
		return errors.Trace(err)
	}

	// Stamp a minimal image header at address 0 so the boot-time flash
	// size probe has something to parse.
	hdr := []byte{flash.ImageMagicByte, 0x00, 0x02, sizeNibble(*flashSize) << 4}
	if err := dev.Write(0, hdr); err != nil {
		return errors.Annotatef(err, "failed to write image header")
	}

	cfg := bootcfg.DefaultConfig(*flashSize)
	if *layout != "" {
		data, err := ioutil.ReadFile(*layout)
		if err != nil {
			return errors.Annotatef(err, "failed to read layout %s", *layout)
		}
		if cfg, err = parseLayout(data, *flashSize); err != nil {
			return errors.Annotatef(err, "%s", *layout)
		}
	}

	store := bootcfg.NewStore(dev)
	if err := store.Write(cfg); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Provisioned %s: %d bytes, %d slots, slot %d current",
		*imageFile, *flashSize, cfg.SlotCount, cfg.CurrentSlot)
	return nil
}
